package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindRelay = "relay"
	KindChat  = "chat"
)

// DefaultPath is where each binary looks for its config when no -config
// flag is given.
func DefaultPath(kind string) (string, error) {
	switch normalizeKind(kind) {
	case KindRelay:
		return "cmd/relayctl/config.toml", nil
	case KindChat:
		return "cmd/chatctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Template renders the default config for kind as TOML.
func Template(kind string) (string, error) {
	var (
		header string
		value  any
	)
	switch normalizeKind(kind) {
	case KindRelay:
		header = "# relayctl config\n# admin_listen_addr enables /health, /ready, /stats, /metrics and the websocket gateway.\n"
		value = DefaultRelayFile()
	case KindChat:
		header = "# chatctl config\n# addr may be host:port or a ws:// / wss:// gateway URL.\n"
		value = DefaultChatFile()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	body, err := toml.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return header + string(body), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads the file at path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch normalizeKind(kind) {
	case KindRelay:
		_, err := LoadRelayFile(path)
		return err
	case KindChat:
		_, err := LoadChatFile(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
