package subunit

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/ansel1/subunit/parser"
)

// TokenType identifies what a Token carries.
type TokenType string

const (
	TokenEvent TokenType = "event" // A decoded test-result event
	TokenLine  TokenType = "line"  // A line of non-protocol text
)

// Token is one item produced by a Decoder.
type Token struct {
	Type      TokenType
	Event     Event  // Populated for TokenEvent
	Unmatched bool   // TokenEvent: terminal event with no prior start in this stream
	Line      []byte // Populated for TokenLine, without the line ending
}

// NonProtocolPolicy decides what happens to text lines that are not part
// of the protocol.
type NonProtocolPolicy int

const (
	PassThrough NonProtocolPolicy = iota // surface as TokenLine
	Drop                                 // discard silently
)

// Decoder reads events from a byte stream. It detects the wire encoding
// from the first recognizable marker and stays on it.
//
// A Decoder is a single-pass producer: each call to Next may block until
// enough input arrives to complete one line or frame. It must not be used
// from several goroutines at once, except for Close.
type Decoder struct {
	src      io.Reader
	r        *bufio.Reader
	detected Format
	policy   NonProtocolPolicy
	resync   bool
	strict   bool

	offset    int64
	open      map[string]Event
	err       error // sticky error, io.EOF once the stream is done
	resyncing bool
	closed    atomic.Bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithNonProtocol sets the policy for non-protocol text lines.
func WithNonProtocol(p NonProtocolPolicy) DecoderOption {
	return func(d *Decoder) {
		d.policy = p
	}
}

// WithResync makes binary protocol errors recoverable: after reporting the
// error, the decoder scans forward to the next frame signature.
func WithResync(on bool) DecoderOption {
	return func(d *Decoder) {
		d.resync = on
	}
}

// WithStrictPairing turns terminal events without a matching start, or
// with a timestamp before their start, into protocol errors.
func WithStrictPairing(on bool) DecoderOption {
	return func(d *Decoder) {
		d.strict = on
	}
}

// WithExpectedFormat skips detection and decodes f only.
func WithExpectedFormat(f Format) DecoderOption {
	return func(d *Decoder) {
		d.detected = f
	}
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		src:  r,
		r:    bufio.NewReader(r),
		open: make(map[string]Event),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Format returns the detected wire encoding, FormatAuto until detected.
func (d *Decoder) Format() Format {
	return d.detected
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 {
	return d.offset
}

// Open returns the ids of tests started but not yet finished, in no
// particular order.
func (d *Decoder) Open() []string {
	ids := make([]string, 0, len(d.open))
	for id := range d.open {
		ids = append(ids, id)
	}
	return ids
}

// Close closes the underlying reader if it is an io.Closer. Pending and
// later calls to Next fail with ErrClosedSink.
func (d *Decoder) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Err returns the error that ended the stream: io.EOF after a clean end,
// nil while Next can still make progress.
func (d *Decoder) Err() error {
	if d.err == nil && d.closed.Load() {
		return &ClosedSinkError{Op: "read"}
	}
	return d.err
}

// Next returns the next token. It returns io.EOF when the stream ended
// cleanly. Errors are sticky, except protocol errors in binary streams
// when resync is enabled.
func (d *Decoder) Next() (Token, error) {
	if d.closed.Load() {
		err := &ClosedSinkError{Op: "read"}
		if d.err == nil {
			d.err = err
		}
		return Token{}, err
	}
	if d.err != nil {
		return Token{}, d.err
	}
	for {
		tok, ok, err := d.step()
		if err != nil {
			return Token{}, d.fail(err)
		}
		if ok {
			return tok, nil
		}
	}
}

// All returns the remaining tokens as a lazy sequence. The sequence stops
// at end of stream or at the first unrecoverable error, which is yielded.
func (d *Decoder) All() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		for {
			tok, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(tok, err) {
				return
			}
			if err != nil && d.err != nil {
				return
			}
		}
	}
}

func (d *Decoder) fail(err error) error {
	if d.closed.Load() && !errors.Is(err, ErrClosedSink) {
		err = &ClosedSinkError{Op: "read"}
	}
	if d.resync && d.detected == FormatBinary && errors.Is(err, ErrProtocol) {
		d.resyncing = true
		return err
	}
	d.err = err
	return err
}

func (d *Decoder) step() (Token, bool, error) {
	switch d.detected {
	case FormatText:
		return d.nextLine()
	case FormatBinary:
		return d.nextFrame()
	}

	b, err := d.r.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Token{}, false, io.EOF
		}
		return Token{}, false, sinkError("read", err)
	}
	if b[0] == Signature {
		d.detected = FormatBinary
		return d.nextFrame()
	}
	return d.nextLine()
}

// readLine returns the next line including its terminator, or io.EOF.
// A final line without a terminator is returned as a line.
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadBytes('\n')
	d.offset += int64(len(line))
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return line, nil
			}
			return nil, io.EOF
		}
		return nil, sinkError("read", err)
	}
	return line, nil
}

func (d *Decoder) nextLine() (Token, bool, error) {
	start := d.offset
	line, err := d.readLine()
	if err != nil {
		return Token{}, false, err
	}
	if line[0] == Signature && d.detected == FormatText {
		return Token{}, false, &ProtocolError{Offset: start, Reason: "binary frame in a text stream"}
	}

	dir, perr := parser.ParseLine(line)
	if perr != nil {
		return d.nonProtocol(line)
	}
	d.detected = FormatText
	if dir.Keyword.Ignored() {
		return Token{}, false, nil
	}
	kind, _ := kindFromKeyword(dir.Keyword)
	ev := Event{Kind: kind, TestID: dir.Arg}
	if dir.Opens {
		msg, err := d.readBody(ev)
		if err != nil {
			return Token{}, false, err
		}
		ev.Message = msg
	}
	return d.emit(ev, start)
}

// readBody collects a bracketed body up to the closing "]" line.
func (d *Decoder) readBody(ev Event) (string, error) {
	var body strings.Builder
	for {
		line, err := d.readLine()
		if errors.Is(err, io.EOF) {
			return "", &TruncatedStreamError{
				Kind:    ev.Kind,
				TestID:  ev.TestID,
				Partial: body.String(),
				Offset:  d.offset,
			}
		}
		if err != nil {
			return "", err
		}
		if parser.IsBodyEnd(line) {
			return body.String(), nil
		}
		body.Write(parser.UnquoteBodyLine(line))
	}
}

func (d *Decoder) nonProtocol(line []byte) (Token, bool, error) {
	if d.policy == Drop {
		return Token{}, false, nil
	}
	return Token{Type: TokenLine, Line: parser.TrimEOL(line)}, true, nil
}

// emit applies start/terminal pairing and wraps ev in a token.
func (d *Decoder) emit(ev Event, offset int64) (Token, bool, error) {
	tok := Token{Type: TokenEvent, Event: ev}
	switch {
	case ev.Kind == KindStart:
		d.open[ev.TestID] = ev
	case ev.Kind.Terminal():
		start, ok := d.open[ev.TestID]
		if !ok {
			if d.strict {
				return Token{}, false, &ProtocolError{Offset: offset, Reason: fmt.Sprintf("%s for %q without a start", ev.Kind, ev.TestID)}
			}
			tok.Unmatched = true
			break
		}
		delete(d.open, ev.TestID)
		if err := ev.ValidateClose(start); err != nil && d.strict {
			return Token{}, false, &ProtocolError{Offset: offset, Reason: err.Error()}
		}
	}
	return tok, true, nil
}

func (d *Decoder) nextFrame() (Token, bool, error) {
	if d.resyncing {
		if err := d.skipToSignature(); err != nil {
			return Token{}, false, err
		}
		d.resyncing = false
	}

	start := d.offset
	b, err := d.r.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Token{}, false, io.EOF
		}
		return Token{}, false, sinkError("read", err)
	}
	if b[0] != Signature {
		return Token{}, false, &ProtocolError{Offset: start, Reason: fmt.Sprintf("expected frame signature, found %#x", b[0])}
	}

	header := make([]byte, headerLen, headerLen+4)
	if err := d.readFull(header); err != nil {
		return Token{}, false, d.truncated(err, nil, nil)
	}
	hi, code := header[1], header[2]
	if v := hi >> 4; v != FrameVersion {
		return Token{}, false, &UnsupportedVersionError{Version: v}
	}

	first, err := d.r.ReadByte()
	if err != nil {
		return Token{}, false, d.truncated(err, header, nil)
	}
	d.offset++
	lenBytes := make([]byte, int(first>>6)+1)
	lenBytes[0] = first
	if err := d.readFull(lenBytes[1:]); err != nil {
		return Token{}, false, d.truncated(err, header, nil)
	}
	length, _, _ := readNumber(lenBytes)

	prefix := headerLen + len(lenBytes)
	minLen := prefix + 1
	if hi&flagCRC != 0 {
		minLen += crcLen
	}
	if length < minLen {
		return Token{}, false, &ProtocolError{Offset: start, Reason: fmt.Sprintf("frame length %d shorter than minimum %d", length, minLen)}
	}

	var rest bytes.Buffer
	n, err := io.CopyN(&rest, d.r, int64(length-prefix))
	d.offset += n
	if err != nil {
		return Token{}, false, d.truncated(err, header, rest.Bytes())
	}

	frame := append(append(header, lenBytes...), rest.Bytes()...)
	body := frame[prefix:]
	if hi&flagCRC != 0 {
		body = frame[prefix : len(frame)-crcLen]
		want := binary.BigEndian.Uint32(frame[len(frame)-crcLen:])
		if got := crc32.ChecksumIEEE(frame[:len(frame)-crcLen]); got != want {
			return Token{}, false, &ProtocolError{Offset: start, Reason: fmt.Sprintf("crc mismatch: frame says %#08x, computed %#08x", want, got)}
		}
	}

	ev, err := unmarshalBody(hi, code, body)
	if err != nil {
		return Token{}, false, &ProtocolError{Offset: start, Reason: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		return Token{}, false, &ProtocolError{Offset: start, Reason: err.Error()}
	}
	return d.emit(ev, start)
}

func (d *Decoder) readFull(buf []byte) error {
	n, err := io.ReadFull(d.r, buf)
	d.offset += int64(n)
	return err
}

// truncated converts a short read inside a frame into a
// TruncatedStreamError, recovering what it can of the partial event.
func (d *Decoder) truncated(err error, header, body []byte) error {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return sinkError("read", err)
	}
	terr := &TruncatedStreamError{Offset: d.offset}
	if len(header) == headerLen {
		terr.Kind, _ = kindFromCode(header[2])
		r := &bodyReader{b: body}
		if header[1]&flagTimestamp != 0 {
			r.bytes(4)
			r.number()
		}
		if id := r.string(); r.err == nil {
			terr.TestID = id
		}
		if header[1]&flagMessage != 0 {
			if n, size, err := readNumber(r.b); r.err == nil && err == nil {
				partial := r.b[size:]
				terr.Partial = string(partial[:min(n, len(partial))])
			}
		}
	}
	return terr
}

// skipToSignature discards input up to the next frame signature.
func (d *Decoder) skipToSignature() error {
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return sinkError("read", err)
		}
		if b[0] == Signature {
			return nil
		}
		if _, err := d.r.Discard(1); err != nil {
			return sinkError("read", err)
		}
		d.offset++
	}
}
