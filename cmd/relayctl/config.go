package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/server"
	"github.com/danmuck/relaychat/internal/transport"
)

// loadServiceConfig overlays the keys present in path onto the service
// defaults. A missing file is only an error when required is set.
func loadServiceConfig(path string, required bool) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw config.RelayFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return server.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("max_line_length") {
		cfg.Limits.MaxLineLength = raw.MaxLineLength
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("websocket_enabled") {
		cfg.WebSocketEnabled = raw.WebSocket
	}
	if meta.IsDefined("websocket_path") {
		cfg.WebSocketPath = strings.TrimSpace(raw.WebSocketPath)
	}
	if meta.IsDefined("send_rate") {
		cfg.SendRate = raw.SendRate
	}
	if meta.IsDefined("send_burst") {
		cfg.SendBurst = raw.SendBurst
	}
	if meta.IsDefined("read_timeout") {
		d, err := config.ParseDuration(raw.ReadTimeout)
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Transport.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := config.ParseDuration(raw.WriteTimeout)
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Transport.WriteTimeout = d
	}

	if meta.IsDefined("security_mode") {
		cfg.Transport.SecurityMode = transport.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Transport.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Transport.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Transport.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Transport.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}

	if err := config.ValidateRelayFile(relayFileOf(cfg)); err != nil {
		return server.ServiceConfig{}, err
	}
	return cfg, nil
}

// relayFileOf maps a resolved config back to its file form for validation.
func relayFileOf(cfg server.ServiceConfig) config.RelayFile {
	return config.RelayFile{
		Addr:            cfg.ListenAddr,
		Capacity:        cfg.Capacity,
		MaxLineLength:   cfg.Limits.MaxLineLength,
		AdminListenAddr: cfg.AdminListenAddr,
		AdminToken:      cfg.AdminToken,
		CORSOrigins:     cfg.CORSOrigins,
		WebSocket:       cfg.WebSocketEnabled,
		WebSocketPath:   cfg.WebSocketPath,
		SendRate:        cfg.SendRate,
		SendBurst:       cfg.SendBurst,
		ReadTimeout:     cfg.Transport.ReadTimeout.String(),
		WriteTimeout:    cfg.Transport.WriteTimeout.String(),
		TLSFields: config.TLSFields{
			SecurityMode: string(cfg.Transport.SecurityMode),
			TLSEnabled:   cfg.Transport.TLS.Enabled,
			TLSMutual:    cfg.Transport.TLS.Mutual,
			TLSCertFile:  cfg.Transport.TLS.CertFile,
			TLSKeyFile:   cfg.Transport.TLS.KeyFile,
			TLSCAFile:    cfg.Transport.TLS.CAFile,
		},
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
