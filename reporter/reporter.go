// Package reporter is the child-side producer of a subunit stream: a test
// process reports each test's start and outcome, and every report is
// flushed before the call returns so a monitoring parent sees it even if
// the child crashes afterwards.
package reporter

import (
	"io"

	"github.com/ansel1/subunit/subunit"
)

// Reporter reports test progress over a sink. Reporters hold no global
// state; several may write to different sinks at once.
type Reporter struct {
	enc *subunit.Encoder
}

// New creates a reporter writing to w, text encoded unless opts say otherwise.
func New(w io.Writer, opts ...subunit.EncoderOption) *Reporter {
	return &Reporter{enc: subunit.NewEncoder(w, opts...)}
}

// ReportStart reports that the test name has started.
func (r *Reporter) ReportStart(name string) error {
	return r.enc.Encode(subunit.NewStart(name))
}

// ReportPass reports that the test name passed.
func (r *Reporter) ReportPass(name string) error {
	return r.enc.Encode(subunit.NewSuccess(name))
}

// ReportFail reports that the test name failed, with message.
func (r *Reporter) ReportFail(name, message string) error {
	return r.enc.Encode(subunit.NewFail(name, message))
}

// ReportError reports that the test name errored, with message.
func (r *Reporter) ReportError(name, message string) error {
	return r.enc.Encode(subunit.NewError(name, message))
}

// ReportSkip reports that the test name was skipped, with an optional reason.
func (r *Reporter) ReportSkip(name, reason string) error {
	return r.enc.Encode(subunit.NewSkip(name, reason))
}
