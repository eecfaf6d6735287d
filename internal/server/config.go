package server

import (
	"strings"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/danmuck/relaychat/internal/transport"
)

const (
	DefaultListenAddr    = "localhost:3000"
	DefaultWebSocketPath = "/ws"
	// DefaultName is what a connection is called before its first send.
	DefaultName = "Anonymous"
)

// ServiceConfig is the relay listener and admin surface configuration.
type ServiceConfig struct {
	ListenAddr string
	// Capacity is the relay history window per subscriber.
	Capacity int
	Limits   protocol.Limits

	AdminListenAddr  string
	AdminToken       string
	CORSOrigins      []string
	WebSocketEnabled bool
	WebSocketPath    string

	// SendRate limits accepted send frames per second per connection; zero
	// disables the limit.
	SendRate  float64
	SendBurst int

	Transport transport.Config
	Clock     protocol.Clock
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:    DefaultListenAddr,
		Capacity:      relay.DefaultCapacity,
		Limits:        protocol.DefaultLimits(),
		WebSocketPath: DefaultWebSocketPath,
		Transport:     transport.DefaultConfig(),
	}
}

func (c ServiceConfig) WithDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	c.Limits = c.Limits.WithDefaults()
	if strings.TrimSpace(c.WebSocketPath) == "" {
		c.WebSocketPath = def.WebSocketPath
	}
	if !strings.HasPrefix(c.WebSocketPath, "/") {
		c.WebSocketPath = "/" + c.WebSocketPath
	}
	if c.SendRate < 0 {
		c.SendRate = 0
	}
	if c.SendRate > 0 && c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	c.Transport = c.Transport.WithDefaults()
	return c
}
