// Package config renders and validates the TOML files read by relayctl and
// chatctl.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/relaychat/internal/client"
	"github.com/danmuck/relaychat/internal/server"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// RelayFile is the on-disk shape of a relayctl config. Durations are Go
// duration strings.
type RelayFile struct {
	Addr            string   `toml:"addr"`
	Capacity        int      `toml:"capacity"`
	MaxLineLength   int      `toml:"max_line_length"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	AdminToken      string   `toml:"admin_token"`
	CORSOrigins     []string `toml:"cors_origins"`
	WebSocket       bool     `toml:"websocket_enabled"`
	WebSocketPath   string   `toml:"websocket_path"`
	SendRate        float64  `toml:"send_rate"`
	SendBurst       int      `toml:"send_burst"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	TLSFields
}

// ChatFile is the on-disk shape of a chatctl config.
type ChatFile struct {
	Addr               string `toml:"addr"`
	Name               string `toml:"name"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	InsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
	TLSFields
}

// TLSFields are the transport security keys shared by both files.
type TLSFields struct {
	SecurityMode string `toml:"security_mode"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	TLSMutual    bool   `toml:"tls_mutual"`
	TLSCertFile  string `toml:"tls_cert_file"`
	TLSKeyFile   string `toml:"tls_key_file"`
	TLSCAFile    string `toml:"tls_ca_file"`
}

func DefaultRelayFile() RelayFile {
	def := server.DefaultServiceConfig()
	return RelayFile{
		Addr:          def.ListenAddr,
		Capacity:      def.Capacity,
		MaxLineLength: def.Limits.MaxLineLength,
		CORSOrigins:   []string{},
		WebSocketPath: def.WebSocketPath,
		ReadTimeout:   def.Transport.ReadTimeout.String(),
		WriteTimeout:  def.Transport.WriteTimeout.String(),
		TLSFields:     TLSFields{SecurityMode: string(def.Transport.SecurityMode)},
	}
}

func DefaultChatFile() ChatFile {
	def := client.DefaultConfig()
	return ChatFile{
		Addr:               def.Address,
		Name:               def.Name,
		MaxConnectAttempts: def.MaxConnectAttempts,
		TLSFields:          TLSFields{SecurityMode: string(def.Transport.SecurityMode)},
	}
}

func LoadRelayFile(path string) (RelayFile, error) {
	cfg := DefaultRelayFile()
	if err := loadToml(path, &cfg); err != nil {
		return RelayFile{}, err
	}
	if err := ValidateRelayFile(cfg); err != nil {
		return RelayFile{}, err
	}
	return cfg, nil
}

func LoadChatFile(path string) (ChatFile, error) {
	cfg := DefaultChatFile()
	if err := loadToml(path, &cfg); err != nil {
		return ChatFile{}, err
	}
	if err := ValidateChatFile(cfg); err != nil {
		return ChatFile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayFile(cfg RelayFile) error {
	if err := validateHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("relay config addr: %w", err)
	}
	if cfg.Capacity <= 0 {
		return fmt.Errorf("relay config capacity must be positive")
	}
	if cfg.MaxLineLength <= 0 {
		return fmt.Errorf("relay config max_line_length must be positive")
	}
	if addr := strings.TrimSpace(cfg.AdminListenAddr); addr != "" {
		if err := validateHostPort(addr); err != nil {
			return fmt.Errorf("relay config admin_listen_addr: %w", err)
		}
	}
	if cfg.WebSocket && strings.TrimSpace(cfg.AdminListenAddr) == "" {
		return fmt.Errorf("relay config websocket_enabled requires admin_listen_addr")
	}
	if p := strings.TrimSpace(cfg.WebSocketPath); p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("relay config websocket_path must start with /")
	}
	if cfg.SendRate < 0 || cfg.SendBurst < 0 {
		return fmt.Errorf("relay config send_rate and send_burst must not be negative")
	}
	if _, err := ParseDuration(cfg.ReadTimeout); err != nil {
		return fmt.Errorf("relay config read_timeout: %w", err)
	}
	if _, err := ParseDuration(cfg.WriteTimeout); err != nil {
		return fmt.Errorf("relay config write_timeout: %w", err)
	}
	if err := cfg.TLSFields.Transport(transport.DefaultConfig(), false).ValidateServerTransport(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	return nil
}

func ValidateChatFile(cfg ChatFile) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return fmt.Errorf("chat config missing addr")
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return fmt.Errorf("chat config addr: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("chat config addr scheme must be ws or wss, got %q", u.Scheme)
		}
	} else if err := validateHostPort(addr); err != nil {
		return fmt.Errorf("chat config addr: %w", err)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("chat config missing name")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("chat config max_connect_attempts must not be negative")
	}
	if err := cfg.TLSFields.Transport(transport.DefaultConfig(), cfg.InsecureSkipVerify).ValidateClientTransport(); err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	return nil
}

// Transport overlays the TLS keys onto base.
func (f TLSFields) Transport(base transport.Config, insecureSkipVerify bool) transport.Config {
	if mode := strings.TrimSpace(f.SecurityMode); mode != "" {
		base.SecurityMode = transport.SecurityMode(mode)
	}
	base.TLS.Enabled = f.TLSEnabled
	base.TLS.Mutual = f.TLSMutual
	base.TLS.CertFile = strings.TrimSpace(f.TLSCertFile)
	base.TLS.KeyFile = strings.TrimSpace(f.TLSKeyFile)
	base.TLS.CAFile = strings.TrimSpace(f.TLSCAFile)
	base.TLS.InsecureSkipVerify = insecureSkipVerify
	return base
}

// ParseDuration accepts an empty string as zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func validateHostPort(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}
