package protocol

import "time"

const (
	VerbSend    = "send"
	VerbLeave   = "leave"
	VerbReceive = "receive"
)

// SentMessage is what a client submits to the relay.
type SentMessage struct {
	Author string
	Text   string
}

// ReceivedMessage is a SentMessage after the relay accepted it.
// Timestamp is an RFC 3339 UTC instant, or empty when formatting failed.
type ReceivedMessage struct {
	Author    string
	Text      string
	Timestamp string
}

// Clock supplies the current time when a message is stamped.
type Clock func() time.Time

// Stamp converts m into a ReceivedMessage using now.
// A nil clock falls back to time.Now.
func (m SentMessage) Stamp(now Clock) ReceivedMessage {
	if now == nil {
		now = time.Now
	}
	return ReceivedMessage{
		Author:    m.Author,
		Text:      m.Text,
		Timestamp: FormatTimestamp(now()),
	}
}

// FormatTimestamp renders t as RFC 3339 in UTC. Instants that RFC 3339 cannot
// represent (years outside 0..9999) yield an empty string.
func FormatTimestamp(t time.Time) string {
	raw, err := t.UTC().MarshalText()
	if err != nil {
		return ""
	}
	return string(raw)
}

// ClientFrame is everything a client may transmit: SendFrame or LeaveFrame.
type ClientFrame interface {
	Verb() string
	args() []string
	clientFrame()
}

// ServerFrame is everything a server may transmit: ReceiveFrame.
type ServerFrame interface {
	Verb() string
	args() []string
	serverFrame()
}

type SendFrame struct {
	Message SentMessage
}

func (SendFrame) Verb() string { return VerbSend }
func (f SendFrame) args() []string {
	return []string{f.Message.Author, f.Message.Text}
}
func (SendFrame) clientFrame() {}

type LeaveFrame struct{}

func (LeaveFrame) Verb() string   { return VerbLeave }
func (LeaveFrame) args() []string { return nil }
func (LeaveFrame) clientFrame()   {}

type ReceiveFrame struct {
	Message ReceivedMessage
}

func (ReceiveFrame) Verb() string { return VerbReceive }
func (f ReceiveFrame) args() []string {
	return []string{f.Message.Author, f.Message.Text, f.Message.Timestamp}
}
func (ReceiveFrame) serverFrame() {}

func Send(msg SentMessage) ClientFrame {
	return SendFrame{Message: msg}
}

func Leave() ClientFrame {
	return LeaveFrame{}
}

func Receive(msg ReceivedMessage) ServerFrame {
	return ReceiveFrame{Message: msg}
}
