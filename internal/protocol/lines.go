package protocol

import (
	"bytes"
	"unicode/utf8"
)

// DefaultMaxLineLength bounds one encoded frame, newline excluded.
const DefaultMaxLineLength = 640 * 1024

// Limits constrains codec memory use.
type Limits struct {
	MaxLineLength int
}

func DefaultLimits() Limits {
	return Limits{MaxLineLength: DefaultMaxLineLength}
}

// WithDefaults fills zero or negative limits from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	if l.MaxLineLength <= 0 {
		l.MaxLineLength = DefaultMaxLineLength
	}
	return l
}

// LineCodec splits a growing buffer into newline-terminated UTF-8 lines.
// It remembers how far it already scanned so repeated calls on a partial
// line do not rescan old bytes.
type LineCodec struct {
	maxLength int
	next      int
}

func NewLineCodec(limits Limits) *LineCodec {
	return &LineCodec{maxLength: limits.WithDefaults().MaxLineLength}
}

func (c *LineCodec) MaxLength() int {
	return c.maxLength
}

// Decode consumes one complete line from src. It reports ok=false when src
// does not hold a full line yet. The limit applies while buffering: once
// more than MaxLength bytes are pending without a newline it fails with
// ErrLineTooLong.
func (c *LineCodec) Decode(src *bytes.Buffer) (string, bool, error) {
	buf := src.Bytes()
	if c.next > len(buf) {
		c.next = 0
	}
	readTo := min(len(buf), c.maxLength+1)
	if i := bytes.IndexByte(buf[c.next:readTo], '\n'); i >= 0 {
		end := c.next + i
		c.next = 0
		line, err := takeLine(buf[:end])
		src.Next(end + 1)
		return line, err == nil, err
	}
	if len(buf) > c.maxLength {
		c.next = 0
		src.Reset()
		return "", false, ErrLineTooLong
	}
	c.next = readTo
	return "", false, nil
}

// DecodeEOF is Decode for a stream that has ended; an unterminated trailing
// line is returned as the final line.
func (c *LineCodec) DecodeEOF(src *bytes.Buffer) (string, bool, error) {
	line, ok, err := c.Decode(src)
	if err != nil || ok {
		return line, ok, err
	}
	if src.Len() == 0 {
		return "", false, nil
	}
	c.next = 0
	line, err = takeLine(src.Bytes())
	src.Reset()
	return line, err == nil, err
}

func takeLine(raw []byte) (string, error) {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if !utf8.Valid(raw) {
		return "", ErrMalformedLine
	}
	return string(raw), nil
}
