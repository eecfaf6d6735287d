// Package relay fans accepted chat messages out to every connected session.
package relay

import (
	"strconv"
	"sync/atomic"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/relay/broadcast"
)

const DefaultCapacity = 256

// ClientID identifies one accepted connection. IDs are never reused.
type ClientID uint64

func (id ClientID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// Envelope is one published message tagged with the connection that sent it.
type Envelope struct {
	Sender  ClientID
	Message protocol.ReceivedMessage
}

// Subscription is an independent read cursor into the relay.
type Subscription = broadcast.Receiver[Envelope]

type Config struct {
	// Capacity bounds how far a subscriber may fall behind before it lags.
	Capacity int
	// Clock stamps accepted messages; nil means time.Now.
	Clock protocol.Clock
}

func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

func (c Config) WithDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}

type Stats struct {
	Published   uint64 `json:"published"`
	NextID      uint64 `json:"next_id"`
	Subscribers int    `json:"subscribers"`
	Capacity    int    `json:"capacity"`
}

type Relay struct {
	cfg Config
	ids atomic.Uint64
	ch  *broadcast.Channel[Envelope]
}

func New(cfg Config) *Relay {
	cfg = cfg.WithDefaults()
	return &Relay{
		cfg: cfg,
		ch:  broadcast.New[Envelope](cfg.Capacity),
	}
}

// NextID hands out the next connection identity.
func (r *Relay) NextID() ClientID {
	return ClientID(r.ids.Add(1) - 1)
}

// Stamp turns a submitted message into the form the relay distributes.
func (r *Relay) Stamp(msg protocol.SentMessage) protocol.ReceivedMessage {
	return msg.Stamp(r.cfg.Clock)
}

// Publish hands msg to every subscriber without waiting on any of them.
// It returns the number of subscribers that will see it.
func (r *Relay) Publish(sender ClientID, msg protocol.ReceivedMessage) (int, error) {
	return r.ch.Send(Envelope{Sender: sender, Message: msg})
}

// Subscribe returns a cursor that starts at the next published message.
func (r *Relay) Subscribe() *Subscription {
	return r.ch.Subscribe()
}

func (r *Relay) Stats() Stats {
	return Stats{
		Published:   r.ch.Sent(),
		NextID:      r.ids.Load(),
		Subscribers: r.ch.Receivers(),
		Capacity:    r.ch.Capacity(),
	}
}

// Close ends every subscription once it has drained.
func (r *Relay) Close() {
	r.ch.Close()
}
