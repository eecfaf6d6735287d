package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/danmuck/relaychat/internal/relay/broadcast"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type SessionState int

const (
	SessionActive SessionState = iota
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EndReason says why a session left the active state.
type EndReason string

const (
	EndLeave     EndReason = "leave"
	EndEOF       EndReason = "eof"
	EndDecode    EndReason = "decode_error"
	EndTransport EndReason = "transport_error"
	EndShutdown  EndReason = "shutdown"
)

type sessionConfig struct {
	Limits       protocol.Limits
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendRate     float64
	SendBurst    int
}

type inbound struct {
	frame protocol.ClientFrame
	err   error
}

// Session pairs one connection's decoded inbound frames with its relay
// subscription. It is driven by a single goroutine in Run; reads and relay
// receives are pumped by helper goroutines.
type Session struct {
	id      relay.ClientID
	conn    net.Conn
	relay   *relay.Relay
	cfg     sessionConfig
	writer  *protocol.FrameWriter[protocol.ServerFrame]
	limiter *rate.Limiter
	logger  zerolog.Logger

	name  string
	state SessionState
}

func newSession(id relay.ClientID, conn net.Conn, r *relay.Relay, cfg sessionConfig, logger zerolog.Logger) *Session {
	s := &Session{
		id:     id,
		conn:   conn,
		relay:  r,
		cfg:    cfg,
		writer: protocol.NewFrameWriter[protocol.ServerFrame](conn, protocol.NewServerCodec(cfg.Limits)),
		logger: logger,
		name:   DefaultName,
		state:  SessionActive,
	}
	if cfg.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}
	return s
}

func (s *Session) ID() relay.ClientID {
	return s.id
}

// Name is the author of the most recent send, or DefaultName.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) State() SessionState {
	return s.state
}

// Run serves the connection until it leaves, fails or ctx ends. The
// connection is closed on return.
func (s *Session) Run(ctx context.Context) (EndReason, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.conn.Close()

	sub := s.relay.Subscribe()
	defer sub.Close()

	frames := make(chan inbound)
	go s.readLoop(ctx, frames)

	relayed := make(chan relay.Envelope)
	relayDone := make(chan struct{})
	go s.relayLoop(ctx, sub, relayed, relayDone)

	for {
		select {
		case <-ctx.Done():
			return s.terminate(EndShutdown, nil)
		case <-relayDone:
			return s.terminate(EndShutdown, nil)
		case in := <-frames:
			if in.err != nil {
				return s.terminate(classifyReadErr(in.err))
			}
			switch f := in.frame.(type) {
			case protocol.SendFrame:
				s.handleSend(f.Message)
			case protocol.LeaveFrame:
				observability.RecordFrame("in", protocol.VerbLeave)
				return s.terminate(EndLeave, nil)
			default:
				return s.terminate(EndDecode, &protocol.FrameError{Verb: f.Verb(), Reason: "unhandled client frame"})
			}
		case env := <-relayed:
			if env.Sender == s.id {
				continue
			}
			if err := s.deliver(env.Message); err != nil {
				return s.terminate(EndTransport, err)
			}
		}
	}
}

func (s *Session) terminate(reason EndReason, err error) (EndReason, error) {
	s.state = SessionTerminated
	return reason, err
}

func (s *Session) handleSend(msg protocol.SentMessage) {
	observability.RecordFrame("in", protocol.VerbSend)
	s.name = msg.Author
	if s.limiter != nil && !s.limiter.Allow() {
		observability.RecordRateLimited()
		s.logger.Warn().Str("name", s.name).Msg("relay.session send dropped by rate limit")
		return
	}
	if _, err := s.relay.Publish(s.id, s.relay.Stamp(msg)); err != nil {
		observability.RecordPublishFailure()
		s.logger.Error().Err(err).Msg("relay.session publish failed")
	}
}

func (s *Session) deliver(msg protocol.ReceivedMessage) error {
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := s.writer.Write(protocol.Receive(msg)); err != nil {
		return err
	}
	observability.RecordFrame("out", protocol.VerbReceive)
	return nil
}

// readLoop stops after the first error or leave frame, so nothing is read
// from a connection that has left.
func (s *Session) readLoop(ctx context.Context, out chan<- inbound) {
	reader := protocol.NewClientFrameReader(s.conn, s.cfg.Limits)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		frame, err := reader.Next()
		select {
		case out <- inbound{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
		if _, ok := frame.(protocol.LeaveFrame); ok {
			return
		}
	}
}

func (s *Session) relayLoop(ctx context.Context, sub *relay.Subscription, out chan<- relay.Envelope, done chan<- struct{}) {
	defer close(done)
	for {
		env, err := sub.Recv(ctx)
		if err != nil {
			var lagged *broadcast.LaggedError
			if errors.As(err, &lagged) {
				observability.RecordLag(lagged.Skipped)
				s.logger.Debug().Uint64("skipped", lagged.Skipped).Msg("relay.session subscriber lagged")
				continue
			}
			return
		}
		select {
		case out <- env:
		case <-ctx.Done():
			return
		}
	}
}

func classifyReadErr(err error) (EndReason, error) {
	switch {
	case errors.Is(err, io.EOF):
		return EndEOF, nil
	case errors.Is(err, protocol.ErrLineTooLong):
		observability.RecordDecodeError("line_too_long")
		return EndDecode, err
	case errors.Is(err, protocol.ErrMalformedLine):
		observability.RecordDecodeError("malformed_line")
		return EndDecode, err
	case errors.Is(err, protocol.ErrInvalidFrame):
		observability.RecordDecodeError("invalid_frame")
		return EndDecode, err
	default:
		return EndTransport, err
	}
}

func sessionLogger(id relay.ClientID, tag, remote string) zerolog.Logger {
	return log.Logger.With().
		Str("client_id", id.String()).
		Str("session", tag).
		Str("remote", remote).
		Logger()
}
