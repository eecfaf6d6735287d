package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestClientFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	frames := []ClientFrame{
		Send(SentMessage{Author: "The Thing", Text: "It's Clobbering Time"}),
		Send(SentMessage{Author: "", Text: ""}),
		Send(SentMessage{Author: "a b  c", Text: "line one\nline two\r\n"}),
		Send(SentMessage{Author: "Ünïcødé 名前", Text: "emoji 🚀 and tabs\t\t"}),
		Send(SentMessage{Author: "A", Text: ""}),
		Leave(),
	}
	codec := NewClientCodec(DefaultLimits())
	for _, in := range frames {
		var buf bytes.Buffer
		if err := codec.Encode(in, &buf); err != nil {
			t.Fatalf("encode %#v: %v", in, err)
		}
		if n := bytes.Count(buf.Bytes(), []byte{'\n'}); n != 1 {
			t.Fatalf("encoded frame has %d newlines: %q", n, buf.String())
		}
		out, ok, err := codec.Decode(&buf)
		if err != nil {
			t.Fatalf("decode %q: %v", buf.String(), err)
		}
		if !ok {
			t.Fatalf("expected frame for %#v", in)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got=%#v want=%#v", out, in)
		}
		if buf.Len() != 0 {
			t.Fatalf("decode left %d bytes", buf.Len())
		}
	}
}

func TestServerFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	frames := []ServerFrame{
		Receive(ReceivedMessage{Author: "Reed Richards", Text: "I'm really smart", Timestamp: "2000-01-01T00:00:00Z"}),
		Receive(ReceivedMessage{}),
		Receive(ReceivedMessage{Author: "x", Text: "multi\nline", Timestamp: ""}),
	}
	codec := NewServerCodec(DefaultLimits())
	var buf bytes.Buffer
	for _, in := range frames {
		if err := codec.Encode(in, &buf); err != nil {
			t.Fatalf("encode %#v: %v", in, err)
		}
	}
	for _, want := range frames {
		got, ok, err := codec.Decode(&buf)
		if err != nil || !ok {
			t.Fatalf("decode: ok=%v err=%v", ok, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got=%#v want=%#v", got, want)
		}
	}
}

func TestDecodeSendExample(t *testing.T) {
	testlog.Start(t)

	buf := bytes.NewBufferString("send VGhlIFRoaW5n SXQncyBDbG9iYmVyaW5nIFRpbWU=\n")
	frame, ok, err := NewClientCodec(DefaultLimits()).Decode(buf)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	want := Send(SentMessage{Author: "The Thing", Text: "It's Clobbering Time"})
	if frame != want {
		t.Fatalf("unexpected frame: %#v", frame)
	}
}

func TestEncodeReceiveExample(t *testing.T) {
	testlog.Start(t)

	sent := SentMessage{Author: "Reed Richards", Text: "I'm really smart"}
	msg := sent.Stamp(fixedClock(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	if msg.Timestamp != "2000-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", msg.Timestamp)
	}

	var buf bytes.Buffer
	if err := NewServerCodec(DefaultLimits()).Encode(Receive(msg), &buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "receive UmVlZCBSaWNoYXJkcw== SSdtIHJlYWxseSBzbWFydA== MjAwMC0wMS0wMVQwMDowMDowMFo=\n"
	if buf.String() != want {
		t.Fatalf("unexpected line:\n got=%q\nwant=%q", buf.String(), want)
	}
}

func TestEncodeLeave(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := NewClientCodec(DefaultLimits()).Encode(Leave(), &buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != "leave\n" {
		t.Fatalf("unexpected line: %q", buf.String())
	}
}

func TestSendArityEnforced(t *testing.T) {
	testlog.Start(t)

	for n := 0; n <= 6; n++ {
		if n == 2 {
			continue
		}
		line := "send" + strings.Repeat(" QQ==", n)
		_, err := ParseClientLine(line)
		if !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("arity %d: expected ErrInvalidFrame, got %v", n, err)
		}
	}
	if _, err := ParseClientLine("leave QQ=="); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("leave with argument: expected ErrInvalidFrame, got %v", err)
	}
	if _, err := ParseServerLine("receive QQ== Yg=="); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("receive with 2 arguments: expected ErrInvalidFrame, got %v", err)
	}
}

func TestUnknownVerbRejected(t *testing.T) {
	testlog.Start(t)

	for _, line := range []string{"receive QQ== Yg== Yw==", "SEND QQ== Yg==", "shout QQ==", "", "   "} {
		if _, err := ParseClientLine(line); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("client line %q: expected ErrInvalidFrame, got %v", line, err)
		}
	}
	for _, line := range []string{"send QQ== Yg==", "leave", "recv QQ== Yg== Yw=="} {
		if _, err := ParseServerLine(line); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("server line %q: expected ErrInvalidFrame, got %v", line, err)
		}
	}

	var fe *FrameError
	_, err := ParseClientLine("shout QQ==")
	if !errors.As(err, &fe) || fe.Verb != "shout" {
		t.Fatalf("expected FrameError for verb shout, got %v", err)
	}
}

func TestInvalidArgumentEncodingRejected(t *testing.T) {
	testlog.Start(t)

	cases := map[string]string{
		"bad alphabet":       "send Q!== Yg==",
		"missing padding":    "send QQ Yg==",
		"non-zero tail bits": "send QR== Yg==",
		"invalid utf-8":      "send /w== Yg==",
	}
	for name, line := range cases {
		if _, err := ParseClientLine(line); !errors.Is(err, ErrInvalidFrame) {
			t.Fatalf("%s: expected ErrInvalidFrame, got %v", name, err)
		}
	}
}

func TestDecodeIsResumable(t *testing.T) {
	testlog.Start(t)

	wire := "send QQ== Yg==\nleave\n"
	codec := NewClientCodec(DefaultLimits())
	var buf bytes.Buffer
	var got []ClientFrame
	for i := 0; i < len(wire); i++ {
		buf.WriteByte(wire[i])
		frame, ok, err := codec.Decode(&buf)
		if err != nil {
			t.Fatalf("decode after byte %d: %v", i, err)
		}
		if ok {
			got = append(got, frame)
		}
	}
	want := []ClientFrame{Send(SentMessage{Author: "A", Text: "b"}), Leave()}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d mismatch: got=%#v want=%#v", i, got[i], want[i])
		}
	}
}

func TestDecodeStripsCarriageReturn(t *testing.T) {
	testlog.Start(t)

	buf := bytes.NewBufferString("send QQ== Yg==\r\n")
	frame, ok, err := NewClientCodec(DefaultLimits()).Decode(buf)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if frame != Send(SentMessage{Author: "A", Text: "b"}) {
		t.Fatalf("unexpected frame: %#v", frame)
	}
}

func TestEncodeNilFrameFails(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := NewClientCodec(DefaultLimits()).Encode(nil, &buf); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	if err := NewServerCodec(DefaultLimits()).Encode(nil, &buf); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestVerbRulesCoverEveryFrameVariant(t *testing.T) {
	testlog.Start(t)

	clientVariants := []ClientFrame{SendFrame{}, LeaveFrame{}}
	if len(clientVariants) != len(clientVerbs) {
		t.Fatalf("client verb rules=%d variants=%d", len(clientVerbs), len(clientVariants))
	}
	for _, f := range clientVariants {
		rule, ok := clientVerbs[f.Verb()]
		if !ok {
			t.Fatalf("missing client verb rule for %q", f.Verb())
		}
		if rule.arity != len(f.args()) {
			t.Fatalf("verb %q arity=%d args=%d", f.Verb(), rule.arity, len(f.args()))
		}
	}

	serverVariants := []ServerFrame{ReceiveFrame{}}
	if len(serverVariants) != len(serverVerbs) {
		t.Fatalf("server verb rules=%d variants=%d", len(serverVerbs), len(serverVariants))
	}
	for _, f := range serverVariants {
		rule, ok := serverVerbs[f.Verb()]
		if !ok {
			t.Fatalf("missing server verb rule for %q", f.Verb())
		}
		if rule.arity != len(f.args()) {
			t.Fatalf("verb %q arity=%d args=%d", f.Verb(), rule.arity, len(f.args()))
		}
	}
}

func TestStampUsesInjectedClock(t *testing.T) {
	testlog.Start(t)

	local := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, local)
	msg := SentMessage{Author: "Sue", Text: "invisible"}.Stamp(fixedClock(at))
	if msg.Timestamp != "2024-03-09T12:05:06Z" {
		t.Fatalf("unexpected timestamp: %q", msg.Timestamp)
	}
	if msg.Author != "Sue" || msg.Text != "invisible" {
		t.Fatalf("stamp altered payload: %#v", msg)
	}
	parsed, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil || !parsed.Equal(at) {
		t.Fatalf("timestamp does not round trip: %v %v", parsed, err)
	}
}

func TestStampFallsBackToEmptyTimestamp(t *testing.T) {
	testlog.Start(t)

	msg := SentMessage{Author: "Doom"}.Stamp(fixedClock(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)))
	if msg.Timestamp != "" {
		t.Fatalf("expected empty timestamp, got %q", msg.Timestamp)
	}
}
