package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFrame  = errors.New("protocol: invalid frame")
	ErrLineTooLong   = errors.New("protocol: line exceeds maximum length")
	ErrMalformedLine = errors.New("protocol: malformed line")
)

// FrameError describes why a decoded line was rejected.
// It matches ErrInvalidFrame with errors.Is.
type FrameError struct {
	Verb   string
	Reason string
}

func (e *FrameError) Error() string {
	if e.Verb == "" {
		return fmt.Sprintf("protocol: invalid frame: %s", e.Reason)
	}
	return fmt.Sprintf("protocol: invalid %q frame: %s", e.Verb, e.Reason)
}

func (e *FrameError) Unwrap() error {
	return ErrInvalidFrame
}

func invalidFrame(verb string, format string, args ...any) error {
	return &FrameError{Verb: verb, Reason: fmt.Sprintf(format, args...)}
}
