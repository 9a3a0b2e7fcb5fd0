package subunit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

const (
	// Signature is the first byte of every binary frame. It never starts
	// a valid UTF-8 text line, which lets decoders tell the encodings apart.
	Signature byte = 0xb3

	// FrameVersion is the binary frame layout written by this package.
	FrameVersion byte = 3

	// MaxNumber is the largest value a NUMBER field can hold.
	MaxNumber = 1<<30 - 1

	flagCRC         byte = 0x01
	flagTimestamp   byte = 0x02
	flagMessage     byte = 0x04
	flagAttachments byte = 0x08

	headerLen = 3 // signature + two flag bytes
	crcLen    = 4
)

var errNumberTooBig = errors.New("number too big")

// frameKinds maps kinds to the kind code in the low flags byte.
var frameKinds = map[Kind]byte{
	KindStart:    1,
	KindSuccess:  2,
	KindFail:     3,
	KindError:    4,
	KindSkip:     5,
	KindProgress: 6,
}

func kindFromCode(code byte) (Kind, bool) {
	for k, c := range frameKinds {
		if c == code {
			return k, true
		}
	}
	return 0, false
}

// appendNumber appends num using the variable length NUMBER encoding:
// the top two bits of the first byte hold the count of extra bytes.
func appendNumber(b []byte, num int) ([]byte, error) {
	switch {
	case num < 0:
		return b, fmt.Errorf("%w: negative (%d)", errNumberTooBig, num)
	case num < 1<<6:
		return append(b, byte(num)), nil
	case num < 1<<14:
		return binary.BigEndian.AppendUint16(b, uint16(num)|0x4000), nil
	case num < 1<<22:
		b = append(b, byte(num>>16)|0x80)
		return binary.BigEndian.AppendUint16(b, uint16(num)), nil
	case num <= MaxNumber:
		return binary.BigEndian.AppendUint32(b, uint32(num)|0xc0000000), nil
	}
	return b, fmt.Errorf("%w (%d)", errNumberTooBig, num)
}

// numberSize returns how many bytes the NUMBER encoding of num takes.
func numberSize(num int) int {
	switch {
	case num < 1<<6:
		return 1
	case num < 1<<14:
		return 2
	case num < 1<<22:
		return 3
	}
	return 4
}

// readNumber decodes a NUMBER from the front of b, returning the value and
// the bytes consumed.
func readNumber(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, errShortBody
	}
	size := int(b[0]>>6) + 1
	if len(b) < size {
		return 0, 0, errShortBody
	}
	num := int(b[0] & 0x3f)
	for _, c := range b[1:size] {
		num = num<<8 | int(c)
	}
	return num, size, nil
}

func appendString(b []byte, s []byte) ([]byte, error) {
	b, err := appendNumber(b, len(s))
	if err != nil {
		return b, err
	}
	return append(b, s...), nil
}

// frameLength computes the full frame length for a body of n bytes,
// accounting for the variable width of the length field itself.
func frameLength(n int, withCRC bool) (int, error) {
	base := headerLen + n
	if withCRC {
		base += crcLen
	}
	for size := 1; size <= 4; size++ {
		if total := base + size; numberSize(total) == size && total <= MaxNumber {
			return total, nil
		}
	}
	return 0, fmt.Errorf("%w: frame of %d bytes", errNumberTooBig, base)
}

// marshalFrame renders e as one binary frame.
func marshalFrame(e Event, withCRC bool) ([]byte, error) {
	hi := FrameVersion << 4
	if withCRC {
		hi |= flagCRC
	}

	var body []byte
	var err error
	if !e.Timestamp.IsZero() {
		sec := e.Timestamp.Unix()
		if sec < 0 || sec > math.MaxUint32 {
			return nil, fmt.Errorf("timestamp %s outside the frame range 1970-01-01 to 2106-02-07",
				e.Timestamp.UTC().Format(time.RFC3339))
		}
		hi |= flagTimestamp
		body = binary.BigEndian.AppendUint32(body, uint32(sec))
		if body, err = appendNumber(body, e.Timestamp.Nanosecond()); err != nil {
			return nil, err
		}
	}
	if body, err = appendString(body, []byte(e.TestID)); err != nil {
		return nil, err
	}
	if e.Message != "" {
		hi |= flagMessage
		if body, err = appendString(body, []byte(e.Message)); err != nil {
			return nil, err
		}
	}
	if len(e.Attachments) > 0 {
		hi |= flagAttachments
		if body, err = appendNumber(body, len(e.Attachments)); err != nil {
			return nil, err
		}
		for _, a := range e.Attachments {
			if body, err = appendAttachment(body, a); err != nil {
				return nil, err
			}
		}
	}

	length, err := frameLength(len(body), withCRC)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, length)
	frame = append(frame, Signature, hi, frameKinds[e.Kind])
	frame, _ = appendNumber(frame, length)
	frame = append(frame, body...)
	if withCRC {
		frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
	}
	return frame, nil
}

func appendAttachment(b []byte, a Attachment) ([]byte, error) {
	b, err := appendString(b, []byte(a.Name))
	if err != nil {
		return b, err
	}
	if a.HasMIME {
		b = append(b, 1)
		if b, err = appendString(b, []byte(a.MIMEType)); err != nil {
			return b, err
		}
	} else {
		b = append(b, 0)
	}
	return appendString(b, a.Data)
}

var errShortBody = errors.New("field runs past end of frame")

// bodyReader walks the fields of a frame body.
type bodyReader struct {
	b   []byte
	err error
}

func (r *bodyReader) number() int {
	if r.err != nil {
		return 0
	}
	n, size, err := readNumber(r.b)
	if err != nil {
		r.err = err
		return 0
	}
	r.b = r.b[size:]
	return n
}

func (r *bodyReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.b) {
		r.err = errShortBody
		return nil
	}
	if n == 0 {
		return nil
	}
	out := bytes.Clone(r.b[:n])
	r.b = r.b[n:]
	return out
}

func (r *bodyReader) string() string {
	return string(r.bytes(r.number()))
}

// unmarshalBody decodes the body of a frame given its flags.
func unmarshalBody(hi, code byte, body []byte) (Event, error) {
	kind, ok := kindFromCode(code)
	if !ok {
		return Event{}, fmt.Errorf("unknown kind code %#x", code)
	}
	e := Event{Kind: kind}
	r := &bodyReader{b: body}

	if hi&flagTimestamp != 0 {
		raw := r.bytes(4)
		nanos := r.number()
		if r.err == nil {
			e.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(raw)), int64(nanos)).UTC()
		}
	}
	e.TestID = r.string()
	if hi&flagMessage != 0 {
		e.Message = r.string()
	}
	if hi&flagAttachments != 0 {
		count := r.number()
		for i := 0; i < count && r.err == nil; i++ {
			a := Attachment{Name: r.string()}
			if mime := r.bytes(1); r.err == nil {
				switch mime[0] {
				case 0:
				case 1:
					a.HasMIME = true
					a.MIMEType = r.string()
				default:
					r.err = fmt.Errorf("invalid has-mime byte %#x", mime[0])
				}
			}
			a.Data = r.bytes(r.number())
			e.Attachments = append(e.Attachments, a)
		}
	}
	if r.err != nil {
		return Event{}, r.err
	}
	if len(r.b) != 0 {
		return Event{}, fmt.Errorf("%d unexpected bytes after last field", len(r.b))
	}
	return e, nil
}
