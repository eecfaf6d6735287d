package protocol

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

var argEncoding = base64.StdEncoding.Strict()

// Decoder turns buffered bytes into frames. ok=false means no complete frame
// is buffered yet; callers append more input and call again.
type Decoder[F any] interface {
	Decode(src *bytes.Buffer) (F, bool, error)
	DecodeEOF(src *bytes.Buffer) (F, bool, error)
}

// Encoder appends one encoded frame to dst.
type Encoder[F any] interface {
	Encode(frame F, dst *bytes.Buffer) error
}

type verbRule[F any] struct {
	arity int
	build func(args []string) F
}

var clientVerbs = map[string]verbRule[ClientFrame]{
	VerbSend: {arity: 2, build: func(a []string) ClientFrame {
		return Send(SentMessage{Author: a[0], Text: a[1]})
	}},
	VerbLeave: {arity: 0, build: func([]string) ClientFrame {
		return Leave()
	}},
}

var serverVerbs = map[string]verbRule[ServerFrame]{
	VerbReceive: {arity: 3, build: func(a []string) ServerFrame {
		return Receive(ReceivedMessage{Author: a[0], Text: a[1], Timestamp: a[2]})
	}},
}

// ClientCodec decodes and encodes client-to-server frames.
type ClientCodec struct {
	lines *LineCodec
}

func NewClientCodec(limits Limits) *ClientCodec {
	return &ClientCodec{lines: NewLineCodec(limits)}
}

func (c *ClientCodec) Decode(src *bytes.Buffer) (ClientFrame, bool, error) {
	line, ok, err := c.lines.Decode(src)
	if err != nil || !ok {
		return nil, false, err
	}
	return parse(line, clientVerbs)
}

func (c *ClientCodec) DecodeEOF(src *bytes.Buffer) (ClientFrame, bool, error) {
	line, ok, err := c.lines.DecodeEOF(src)
	if err != nil || !ok {
		return nil, false, err
	}
	return parse(line, clientVerbs)
}

func (c *ClientCodec) Encode(frame ClientFrame, dst *bytes.Buffer) error {
	if frame == nil {
		return invalidFrame("", "nil client frame")
	}
	if _, ok := clientVerbs[frame.Verb()]; !ok {
		return invalidFrame(frame.Verb(), "no client verb rule")
	}
	appendLine(dst, frame.Verb(), frame.args())
	return nil
}

// ServerCodec decodes and encodes server-to-client frames.
type ServerCodec struct {
	lines *LineCodec
}

func NewServerCodec(limits Limits) *ServerCodec {
	return &ServerCodec{lines: NewLineCodec(limits)}
}

func (c *ServerCodec) Decode(src *bytes.Buffer) (ServerFrame, bool, error) {
	line, ok, err := c.lines.Decode(src)
	if err != nil || !ok {
		return nil, false, err
	}
	return parse(line, serverVerbs)
}

func (c *ServerCodec) DecodeEOF(src *bytes.Buffer) (ServerFrame, bool, error) {
	line, ok, err := c.lines.DecodeEOF(src)
	if err != nil || !ok {
		return nil, false, err
	}
	return parse(line, serverVerbs)
}

func (c *ServerCodec) Encode(frame ServerFrame, dst *bytes.Buffer) error {
	if frame == nil {
		return invalidFrame("", "nil server frame")
	}
	if _, ok := serverVerbs[frame.Verb()]; !ok {
		return invalidFrame(frame.Verb(), "no server verb rule")
	}
	appendLine(dst, frame.Verb(), frame.args())
	return nil
}

// ParseClientLine decodes one line without its trailing newline.
func ParseClientLine(line string) (ClientFrame, error) {
	f, _, err := parse(line, clientVerbs)
	return f, err
}

// ParseServerLine decodes one line without its trailing newline.
func ParseServerLine(line string) (ServerFrame, error) {
	f, _, err := parse(line, serverVerbs)
	return f, err
}

func parse[F any](line string, rules map[string]verbRule[F]) (F, bool, error) {
	var zero F
	verb, args, err := splitLine(line)
	if err != nil {
		return zero, false, err
	}
	rule, ok := rules[verb]
	if !ok {
		return zero, false, invalidFrame(verb, "unknown verb")
	}
	if len(args) != rule.arity {
		return zero, false, invalidFrame(verb, "want %d arguments, got %d", rule.arity, len(args))
	}
	return rule.build(args), true, nil
}

// splitLine separates the verb from its arguments. Only leading whitespace is
// trimmed: a trailing space still delimits an empty final argument.
func splitLine(line string) (string, []string, error) {
	line = strings.TrimLeft(line, " \t")
	line = strings.TrimRight(line, "\t\r")
	verb, rest, hasArgs := strings.Cut(line, " ")
	if verb == "" {
		return "", nil, invalidFrame("", "empty verb")
	}
	if !hasArgs {
		return verb, nil, nil
	}
	raw := strings.Split(rest, " ")
	args := make([]string, len(raw))
	for i, tok := range raw {
		v, err := decodeArg(tok)
		if err != nil {
			return "", nil, invalidFrame(verb, "argument %d: %v", i+1, err)
		}
		args[i] = v
	}
	return verb, args, nil
}

func decodeArg(tok string) (string, error) {
	if strings.ContainsAny(tok, "\r\n") {
		return "", fmt.Errorf("illegal line break in base64")
	}
	raw, err := argEncoding.DecodeString(tok)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("decoded bytes are not utf-8")
	}
	return string(raw), nil
}

func appendLine(dst *bytes.Buffer, verb string, args []string) {
	size := len(verb) + 1
	for _, a := range args {
		size += 1 + argEncoding.EncodedLen(len(a))
	}
	dst.Grow(size)
	dst.WriteString(verb)
	for _, a := range args {
		dst.WriteByte(' ')
		enc := make([]byte, argEncoding.EncodedLen(len(a)))
		argEncoding.Encode(enc, []byte(a))
		dst.Write(enc)
	}
	dst.WriteByte('\n')
}
