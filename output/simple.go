package output

import (
	"fmt"
	"io"
	"time"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/output/format"
	"github.com/ansel1/subunit/results"
)

// SimpleOutput writes plain text output for the stats command and for
// terminals without a TUI. Non-protocol lines are echoed as they arrive,
// stream errors go to the error writer, and a summary is written when
// the merge completes.
type SimpleOutput struct {
	writer        io.Writer
	errWriter     io.Writer
	collector     *results.Collector
	passthrough   bool
	yaml          bool
	width         int
	slowThreshold time.Duration
	useColors     *bool

	failed bool
}

// Option configures a SimpleOutput.
type Option func(*SimpleOutput)

// WithErrorWriter sends stream error lines to w instead of the main writer.
func WithErrorWriter(w io.Writer) Option {
	return func(s *SimpleOutput) {
		s.errWriter = w
	}
}

// WithCollector records results into c, so callers can inspect them
// after ProcessEvents returns.
func WithCollector(c *results.Collector) Option {
	return func(s *SimpleOutput) {
		s.collector = c
	}
}

// WithPassthrough controls whether non-protocol lines are echoed. Default true.
func WithPassthrough(on bool) Option {
	return func(s *SimpleOutput) {
		s.passthrough = on
	}
}

// WithYAML writes the summary as a YAML report.
func WithYAML(on bool) Option {
	return func(s *SimpleOutput) {
		s.yaml = on
	}
}

// WithWidth sets the width of separator lines.
func WithWidth(width int) Option {
	return func(s *SimpleOutput) {
		s.width = width
	}
}

// WithSlowThreshold lists tests slower than d in the summary. Zero disables it.
func WithSlowThreshold(d time.Duration) Option {
	return func(s *SimpleOutput) {
		s.slowThreshold = d
	}
}

// WithColors overrides terminal detection for the summary.
func WithColors(on bool) Option {
	return func(s *SimpleOutput) {
		s.useColors = &on
	}
}

// NewSimpleOutput creates a simple output writer
func NewSimpleOutput(w io.Writer, opts ...Option) *SimpleOutput {
	s := &SimpleOutput{
		writer:        w,
		passthrough:   true,
		width:         80,
		slowThreshold: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errWriter == nil {
		s.errWriter = w
	}
	if s.collector == nil {
		s.collector = results.NewCollector()
	}
	return s
}

// ProcessEvents consumes events from channel and writes to output
func (s *SimpleOutput) ProcessEvents(events <-chan engine.Event) error {
	for evt := range events {
		switch evt.Type {
		case engine.EventRawLine:
			if s.passthrough {
				if _, err := fmt.Fprintf(s.writer, "%s\n", evt.RawLine); err != nil {
					return err
				}
			}

		case engine.EventError:
			if _, err := fmt.Fprintln(s.errWriter, evt.Error); err != nil {
				return err
			}
		}

		s.collector.Push(evt)

		if evt.Type == engine.EventComplete {
			return s.writeSummary()
		}
	}
	// the stream ended without completing, e.g. on cancellation
	s.collector.Finish(nil)
	return s.writeSummary()
}

// writeSummary writes the summary of the last run
func (s *SimpleOutput) writeSummary() error {
	run := s.collector.LastRun()
	if run == nil {
		run = results.NewRun(0)
		run.EndTime = run.StartTime
	}
	s.failed = run.Failed()
	summary := format.ComputeSummary(run, s.slowThreshold)

	if s.yaml {
		return format.WriteYAML(s.writer, summary)
	}

	formatter := format.NewSummaryFormatter(s.width)
	if s.useColors != nil {
		formatter.SetColors(*s.useColors)
	}
	if _, err := fmt.Fprintln(s.writer); err != nil {
		return err
	}
	if _, err := fmt.Fprint(s.writer, formatter.Format(summary)); err != nil {
		return err
	}

	verdict := "PASSED"
	if s.failed {
		verdict = "FAILED"
	}
	c := summary.Counts
	_, err := fmt.Fprintf(s.writer, "%s: %d passed, %d failed, %d errored, %d skipped, %d total\n",
		verdict, c.Passed, c.Failed, c.Errored, c.Skipped, c.Total())
	return err
}

// HasFailures returns true if any test failed or errored, or any stream broke
func (s *SimpleOutput) HasFailures() bool {
	return s.failed
}
