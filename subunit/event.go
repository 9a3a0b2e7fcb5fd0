package subunit

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what a test-result event reports.
type Kind uint8

const (
	KindStart    Kind = iota + 1 // A test has started
	KindSuccess                  // A test passed
	KindFail                     // A test failed an assertion
	KindError                    // A test errored
	KindSkip                     // A test was skipped
	KindProgress                 // A progress mark, not tied to a test outcome
)

var kindNames = map[Kind]string{
	KindStart:    "start",
	KindSuccess:  "success",
	KindFail:     "fail",
	KindError:    "error",
	KindSkip:     "skip",
	KindProgress: "progress",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Terminal reports whether k closes a previously started test.
func (k Kind) Terminal() bool {
	switch k {
	case KindSuccess, KindFail, KindError, KindSkip:
		return true
	}
	return false
}

// ParseKind returns the kind named by s, as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Attachment is a named blob carried by an event. Only the binary
// encoding can transport attachments.
type Attachment struct {
	Name     string
	MIMEType string
	HasMIME  bool // distinguishes an empty MIME type from an absent one
	Data     []byte
}

// Event is a single test-result event. Events are values and are never
// modified once built.
type Event struct {
	Kind        Kind
	TestID      string
	Message     string
	Attachments []Attachment
	Timestamp   time.Time // zero when absent
}

// NewStart returns an event reporting that test id has started.
func NewStart(id string) Event {
	return Event{Kind: KindStart, TestID: id}
}

// NewSuccess returns an event reporting that test id passed.
func NewSuccess(id string) Event {
	return Event{Kind: KindSuccess, TestID: id}
}

// NewFail returns an event reporting that test id failed with message.
func NewFail(id, message string) Event {
	return Event{Kind: KindFail, TestID: id, Message: message}
}

// NewError returns an event reporting that test id errored with message.
func NewError(id, message string) Event {
	return Event{Kind: KindError, TestID: id, Message: message}
}

// NewSkip returns an event reporting that test id was skipped for reason.
func NewSkip(id, reason string) Event {
	return Event{Kind: KindSkip, TestID: id, Message: reason}
}

// NewProgress returns a progress mark. The mark's value, e.g. "+3" or
// "push", is carried as the test id.
func NewProgress(mark string) Event {
	return Event{Kind: KindProgress, TestID: mark}
}

// Validate checks the invariants that hold for any single event.
func (e Event) Validate() error {
	switch {
	case !e.Kind.Valid():
		return invalidEvent(e, "unknown kind %d", uint8(e.Kind))
	case e.TestID == "":
		return invalidEvent(e, "empty test id")
	case e.Kind == KindStart && e.Message != "":
		return invalidEvent(e, "start event carries a message")
	case e.Kind == KindProgress && e.Message != "":
		return invalidEvent(e, "progress event carries a message")
	}
	return nil
}

// ValidateClose checks that e is a valid terminal event for start.
func (e Event) ValidateClose(start Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch {
	case !e.Kind.Terminal():
		return invalidEvent(e, "%s is not a terminal kind", e.Kind)
	case start.Kind != KindStart:
		return invalidEvent(e, "closing a %s event", start.Kind)
	case start.TestID != e.TestID:
		return invalidEvent(e, "closes test %q", start.TestID)
	case !e.Timestamp.IsZero() && !start.Timestamp.IsZero() && e.Timestamp.Before(start.Timestamp):
		return invalidEvent(e, "timestamp %s precedes start at %s",
			e.Timestamp.Format(time.RFC3339Nano), start.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// Normalized returns a copy of e whose non-empty message ends in a newline.
func (e Event) Normalized() Event {
	e.Message = normalizeMessage(e.Message)
	return e
}

func normalizeMessage(msg string) string {
	if msg != "" && !strings.HasSuffix(msg, "\n") {
		return msg + "\n"
	}
	return msg
}
