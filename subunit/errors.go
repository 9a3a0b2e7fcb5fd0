package subunit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Sentinel errors for the stream error taxonomy. Typed errors below match
// them with errors.Is.
var (
	ErrInvalidEvent       = errors.New("invalid event")
	ErrSinkWrite          = errors.New("sink write failed")
	ErrSinkRead           = errors.New("sink read failed")
	ErrProtocol           = errors.New("protocol error")
	ErrTruncatedStream    = errors.New("truncated stream")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrClosedSink         = errors.New("sink closed")
)

// InvalidEventError reports an event that breaks the event invariants.
type InvalidEventError struct {
	Kind   Kind
	TestID string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid %s event %q: %s", e.Kind, e.TestID, e.Reason)
}

func (e *InvalidEventError) Is(target error) bool { return target == ErrInvalidEvent }

func invalidEvent(ev Event, format string, args ...any) error {
	return &InvalidEventError{Kind: ev.Kind, TestID: ev.TestID, Reason: fmt.Sprintf(format, args...)}
}

// SinkError wraps an I/O failure on the underlying reader or writer.
type SinkError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool {
	switch target {
	case ErrSinkWrite:
		return e.Op == "write"
	case ErrSinkRead:
		return e.Op == "read"
	}
	return false
}

// ClosedSinkError reports an operation on a sink that has been closed.
type ClosedSinkError struct {
	Op string
}

func (e *ClosedSinkError) Error() string {
	return fmt.Sprintf("sink %s: sink closed", e.Op)
}

func (e *ClosedSinkError) Is(target error) bool { return target == ErrClosedSink }

// sinkError classifies an I/O error from op, mapping closed-file errors
// to ClosedSinkError.
func sinkError(op string, err error) error {
	if isClosed(err) {
		return &ClosedSinkError{Op: op}
	}
	return &SinkError{Op: op, Err: err}
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// ProtocolError reports malformed wire bytes.
type ProtocolError struct {
	Offset int64 // byte offset in the stream where the problem was found
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at byte %d: %s", e.Offset, e.Reason)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TruncatedStreamError reports input that ended in the middle of an
// event. Whatever was decoded so far is kept.
type TruncatedStreamError struct {
	Kind    Kind   // kind of the unfinished event, zero when unknown
	TestID  string // partial test id, empty when unknown
	Partial string // message collected before the stream ended
	Offset  int64
}

func (e *TruncatedStreamError) Error() string {
	if e.TestID == "" {
		return fmt.Sprintf("truncated stream at byte %d", e.Offset)
	}
	return fmt.Sprintf("truncated stream at byte %d: unfinished %s report for %q", e.Offset, e.Kind, e.TestID)
}

func (e *TruncatedStreamError) Is(target error) bool { return target == ErrTruncatedStream }

// UnsupportedVersionError reports a binary frame whose version this
// package does not understand.
type UnsupportedVersionError struct {
	Version byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported binary frame version %d (want %d)", e.Version, FrameVersion)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// Classify returns the classification name of err, for display to
// operators. Unknown errors classify as "Error".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosedSink):
		return "ClosedSinkError"
	case errors.Is(err, ErrInvalidEvent):
		return "InvalidEvent"
	case errors.Is(err, ErrTruncatedStream):
		return "TruncatedStreamError"
	case errors.Is(err, ErrUnsupportedVersion):
		return "UnsupportedVersionError"
	case errors.Is(err, ErrProtocol):
		return "ProtocolError"
	case errors.Is(err, ErrSinkWrite):
		return "SinkWriteError"
	case errors.Is(err, ErrSinkRead):
		return "SinkReadError"
	}
	return "Error"
}
