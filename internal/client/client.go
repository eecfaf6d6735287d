// Package client dials a relay and speaks the chat line protocol on behalf
// of one user.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddress = "localhost:3000"
	DefaultName    = "Anonymous"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrConnectionLost  = errors.New("client: connection lost")
	ErrSessionClosed   = errors.New("client: session closed")
)

// Config selects the relay to dial and the name sends are authored as.
// Address is host:port for TCP/TLS or a ws:// or wss:// URL for the
// websocket gateway.
type Config struct {
	Address            string
	Name               string
	MaxConnectAttempts int
	Transport          transport.Config
	Limits             protocol.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:            DefaultAddress,
		Name:               DefaultName,
		MaxConnectAttempts: 5,
		Transport:          transport.DefaultConfig(),
		Limits:             protocol.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = DefaultName
	}
	if c.MaxConnectAttempts < 0 {
		c.MaxConnectAttempts = 0
	}
	c.Transport = c.Transport.WithDefaults()
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Dial connects to the relay, retrying with backoff until an attempt
// succeeds, MaxConnectAttempts is spent or ctx ends. Zero attempts means
// retry forever.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	if err := cfg.Transport.ValidateClientTransport(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		conn, err := dial(ctx, cfg)
		if err == nil {
			log.Debug().Str("addr", cfg.Address).Int("attempt", attempt).Msg("client.Dial connected")
			return newSession(conn, cfg), nil
		}
		log.Warn().Err(err).Str("addr", cfg.Address).Int("attempt", attempt).Msg("client.Dial attempt failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("client: dial %s after %d attempts: %w", cfg.Address, attempt, err)
		}
		if err := transport.SleepBackoff(ctx, cfg.Transport.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	if isWebSocketAddress(cfg.Address) {
		return dialWebSocket(ctx, cfg)
	}

	dialer := net.Dialer{Timeout: cfg.Transport.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if !cfg.Transport.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.Transport.ClientTLSConfig(cfg.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	hsCtx, cancel := context.WithTimeout(ctx, cfg.Transport.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func dialWebSocket(ctx context.Context, cfg Config) (net.Conn, error) {
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, err
	}
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if u.Scheme == "wss" {
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
		tlsCfg, err := cfg.Transport.ClientTLSConfig(host)
		if err != nil {
			return nil, err
		}
		httpTransport.TLSClientConfig = tlsCfg
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Transport.ConnectTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: httpTransport},
	})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(int64(cfg.Limits.MaxLineLength) + 2)
	return websocket.NetConn(context.Background(), ws, websocket.MessageText), nil
}

func isWebSocketAddress(addr string) bool {
	lower := strings.ToLower(addr)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}

// Session is one live connection to the relay. Send and Leave may be called
// from any goroutine; Receive is meant for a single reader.
type Session struct {
	conn         net.Conn
	name         string
	writeTimeout time.Duration
	reader       *protocol.FrameReader[protocol.ServerFrame]

	mu     sync.Mutex
	writer *protocol.FrameWriter[protocol.ClientFrame]
	closed bool
}

func newSession(conn net.Conn, cfg Config) *Session {
	return &Session{
		conn:         conn,
		name:         cfg.Name,
		writeTimeout: cfg.Transport.WriteTimeout,
		reader:       protocol.NewServerFrameReader(conn, cfg.Limits),
		writer:       protocol.NewFrameWriter[protocol.ClientFrame](conn, protocol.NewClientCodec(cfg.Limits)),
	}
}

// Name is the author attached to every Send.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) Send(text string) error {
	return s.write(protocol.Send(protocol.SentMessage{Author: s.name, Text: text}))
}

// Leave tells the relay this user is done and closes the connection.
func (s *Session) Leave() error {
	err := s.write(protocol.Leave())
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Receive blocks for the next relayed message. Once the stream ends or
// carries something undecodable it returns an error matching
// ErrConnectionLost.
func (s *Session) Receive() (protocol.ReceivedMessage, error) {
	frame, err := s.reader.Next()
	if err != nil {
		return protocol.ReceivedMessage{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	switch f := frame.(type) {
	case protocol.ReceiveFrame:
		return f.Message, nil
	default:
		return protocol.ReceivedMessage{}, fmt.Errorf("%w: unexpected %s frame", ErrConnectionLost, frame.Verb())
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) write(frame protocol.ClientFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}
