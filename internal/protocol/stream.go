package protocol

import (
	"bytes"
	"errors"
	"io"
)

const readChunkSize = 4096

// FrameReader pulls frames from a byte stream, buffering partial lines
// across reads. It returns io.EOF once the stream ended cleanly.
type FrameReader[F any] struct {
	r     io.Reader
	dec   Decoder[F]
	buf   bytes.Buffer
	chunk []byte
	eof   bool
}

func NewFrameReader[F any](r io.Reader, dec Decoder[F]) *FrameReader[F] {
	return &FrameReader[F]{
		r:     r,
		dec:   dec,
		chunk: make([]byte, readChunkSize),
	}
}

// NewClientFrameReader reads what clients send; servers use it.
func NewClientFrameReader(r io.Reader, limits Limits) *FrameReader[ClientFrame] {
	return NewFrameReader[ClientFrame](r, NewClientCodec(limits))
}

// NewServerFrameReader reads what servers send; clients use it.
func NewServerFrameReader(r io.Reader, limits Limits) *FrameReader[ServerFrame] {
	return NewFrameReader[ServerFrame](r, NewServerCodec(limits))
}

func (fr *FrameReader[F]) Next() (F, error) {
	var zero F
	for {
		frame, ok, err := fr.dec.Decode(&fr.buf)
		if err != nil {
			return zero, err
		}
		if ok {
			return frame, nil
		}
		if fr.eof {
			frame, ok, err = fr.dec.DecodeEOF(&fr.buf)
			if err != nil {
				return zero, err
			}
			if ok {
				return frame, nil
			}
			return zero, io.EOF
		}

		n, err := fr.r.Read(fr.chunk)
		fr.buf.Write(fr.chunk[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				fr.eof = true
				continue
			}
			return zero, err
		}
	}
}

// FrameWriter encodes frames onto a byte stream, one Write per frame.
// It is not safe for concurrent use.
type FrameWriter[F any] struct {
	w   io.Writer
	enc Encoder[F]
	buf bytes.Buffer
}

func NewFrameWriter[F any](w io.Writer, enc Encoder[F]) *FrameWriter[F] {
	return &FrameWriter[F]{w: w, enc: enc}
}

func NewClientFrameWriter(w io.Writer) *FrameWriter[ClientFrame] {
	return NewFrameWriter[ClientFrame](w, NewClientCodec(DefaultLimits()))
}

func NewServerFrameWriter(w io.Writer) *FrameWriter[ServerFrame] {
	return NewFrameWriter[ServerFrame](w, NewServerCodec(DefaultLimits()))
}

func (fw *FrameWriter[F]) Write(frame F) error {
	fw.buf.Reset()
	if err := fw.enc.Encode(frame, &fw.buf); err != nil {
		return err
	}
	_, err := fw.w.Write(fw.buf.Bytes())
	return err
}
