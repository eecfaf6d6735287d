package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relaychat/internal/client"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/transport"
)

func loadClientConfig(path string, required bool) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw config.ChatFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return client.Config{}, fmt.Errorf("load chat config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Address = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("name") {
		cfg.Name = raw.Name
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
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
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Transport.TLS.InsecureSkipVerify = raw.InsecureSkipVerify
	}
	return cfg, nil
}

// validateClientConfig runs after flags are applied.
func validateClientConfig(cfg client.Config) error {
	return config.ValidateChatFile(config.ChatFile{
		Addr:               cfg.Address,
		Name:               cfg.Name,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		InsecureSkipVerify: cfg.Transport.TLS.InsecureSkipVerify,
		TLSFields: config.TLSFields{
			SecurityMode: string(cfg.Transport.SecurityMode),
			TLSEnabled:   cfg.Transport.TLS.Enabled,
			TLSMutual:    cfg.Transport.TLS.Mutual,
			TLSCertFile:  cfg.Transport.TLS.CertFile,
			TLSKeyFile:   cfg.Transport.TLS.KeyFile,
			TLSCAFile:    cfg.Transport.TLS.CAFile,
		},
	})
}
