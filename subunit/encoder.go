package subunit

import (
	"fmt"
	"io"
	"sync"
)

// Format selects a wire encoding.
type Format int

const (
	FormatAuto   Format = iota // decoders only: detect from the first marker
	FormatText                 // line-oriented text protocol
	FormatBinary               // length-prefixed binary frames
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses the names produced by Format.String.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "auto", "":
		return FormatAuto, nil
	case "text", "v1":
		return FormatText, nil
	case "binary", "v3":
		return FormatBinary, nil
	}
	return FormatAuto, fmt.Errorf("unknown format %q", s)
}

// Flusher is implemented by sinks that buffer writes, like *bufio.Writer.
type Flusher interface {
	Flush() error
}

// Encoder writes events to a sink. Every call to Encode writes one
// complete event and flushes the sink before returning, so a reader of the
// sink always sees a parseable prefix even if the writing process dies
// right after. Encoders are safe for concurrent use.
type Encoder struct {
	w       io.Writer
	format  Format
	withCRC bool
	onEvent func(Event)

	mu sync.Mutex
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithFormat selects the wire encoding. FormatAuto means text.
func WithFormat(f Format) EncoderOption {
	return func(e *Encoder) {
		e.format = f
	}
}

// WithChecksum controls whether binary frames carry a CRC32. Default true.
func WithChecksum(on bool) EncoderOption {
	return func(e *Encoder) {
		e.withCRC = on
	}
}

// WithEncodeHook registers fn to be called after each event reaches the sink.
func WithEncodeHook(fn func(Event)) EncoderOption {
	return func(e *Encoder) {
		e.onEvent = fn
	}
}

// NewEncoder creates an encoder writing to w. Text is the default format.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		w:       w,
		format:  FormatText,
		withCRC: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.format == FormatAuto {
		e.format = FormatText
	}
	return e
}

// Format returns the wire encoding this encoder writes.
func (e *Encoder) Format() Format {
	return e.format
}

// Encode writes ev as one atomic unit and flushes the sink.
func (e *Encoder) Encode(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	ev = ev.Normalized()

	var buf []byte
	var err error
	if e.format == FormatBinary {
		buf, err = marshalFrame(ev, e.withCRC)
		if err != nil {
			return invalidEvent(ev, "%v", err)
		}
	} else {
		buf, err = marshalText(ev)
		if err != nil {
			return err
		}
	}

	if err := e.write(buf); err != nil {
		return err
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
	return nil
}

// Passthrough copies a non-protocol line to a text sink, adding a
// newline when missing. Binary encoders drop the line.
func (e *Encoder) Passthrough(line []byte) error {
	if e.format == FormatBinary {
		return nil
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line[:len(line):len(line)], '\n')
	}
	return e.write(line)
}

func (e *Encoder) write(buf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(buf); err != nil {
		return sinkError("write", err)
	}
	if f, ok := e.w.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return sinkError("write", err)
		}
	}
	return nil
}
