package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	TransportTCP       = "tcp"
	TransportTLS       = "tls"
	TransportWebSocket = "websocket"
)

// Service accepts chat connections and runs one Session per connection
// against a shared Relay.
type Service struct {
	cfg   ServiceConfig
	relay *relay.Relay

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	activeClients atomic.Int64
	ready         atomic.Bool
	sessions      sync.WaitGroup
}

// NewService builds a relay service with DefaultServiceConfig.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg = cfg.WithDefaults()
	return &Service{
		cfg:   cfg,
		relay: relay.New(relay.Config{Capacity: cfg.Capacity, Clock: cfg.Clock}),
		conns: make(map[net.Conn]struct{}),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Relay() *relay.Relay {
	return s.relay
}

func (s *Service) ActiveClients() int64 {
	return s.activeClients.Load()
}

// Ready reports whether the chat listener is accepting connections.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM or
// a fatal listener error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Transport.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.Transport.TLS.Enabled).Msg("relay.Service.Run listening")

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, strings.TrimSpace(s.cfg.AdminListenAddr))
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

func (s *Service) listen() (net.Listener, error) {
	if !s.cfg.Transport.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Transport.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve accepts connections from ln until ctx ends. On return every tracked
// connection has been closed, the relay is closed and sessions have exited.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Transport.ValidateServerTransport(); err != nil {
		return err
	}
	defer ln.Close()
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		s.ready.Store(false)
		_ = ln.Close()
		s.closeAllConns()
	}()

	s.ready.Store(true)
	defer s.shutdown()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		name := TransportTCP
		if _, ok := conn.(*tls.Conn); ok {
			name = TransportTLS
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.ServeConn(ctx, conn, name)
		}()
	}
}

func (s *Service) shutdown() {
	s.closeAllConns()
	s.sessions.Wait()
	s.relay.Close()
}

// ServeConn runs one chat session on an already accepted connection and
// blocks until it ends.
func (s *Service) ServeConn(ctx context.Context, conn net.Conn, transportName string) {
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	remote := remoteAddr(conn)
	if tc, ok := conn.(*tls.Conn); ok {
		peer, err := s.handshake(ctx, tc)
		if err != nil {
			log.Warn().Str("remote", remote).Err(err).Msg("relay.Service tls handshake failed")
			return
		}
		if peer != "" {
			log.Debug().Str("remote", remote).Str("peer", peer).Msg("relay.Service tls peer")
		}
	}

	id := s.relay.NextID()
	tag := uuid.NewString()
	logger := sessionLogger(id, tag, remote)
	active := s.activeClients.Add(1)
	observability.RecordConnectionOpened(transportName)
	logger.Info().Int64("active_clients", active).Str("transport", transportName).
		Msgf("connection from %s assigned %s", remote, id)

	session := newSession(id, conn, s.relay, sessionConfig{
		Limits:       s.cfg.Limits,
		ReadTimeout:  s.cfg.Transport.ReadTimeout,
		WriteTimeout: s.cfg.Transport.WriteTimeout,
		SendRate:     s.cfg.SendRate,
		SendBurst:    s.cfg.SendBurst,
	}, logger)
	reason, err := session.Run(ctx)

	remaining := s.activeClients.Add(-1)
	observability.RecordConnectionClosed()
	event := logger.Info()
	if err != nil && reason != EndShutdown {
		event = logger.Warn().Err(err)
	}
	event.Str("reason", string(reason)).Str("name", session.Name()).Int64("active_clients", remaining).
		Msgf("%s left", session.Name())
}

func (s *Service) handshake(ctx context.Context, conn *tls.Conn) (string, error) {
	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.Transport.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		return "", err
	}
	_ = conn.SetDeadline(time.Time{})
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		if s.cfg.Transport.RequiresPeerCert() {
			return "", transport.ErrMTLSRequired
		}
		return "", nil
	}
	return transport.PeerIdentity(state.PeerCertificates[0]), nil
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
