package format

import (
	"fmt"
	"io"

	"github.com/ansel1/subunit/results"
	"gopkg.in/yaml.v3"
)

// Report is the machine-readable form of a run.
type Report struct {
	Streams  []StreamReport `yaml:"streams"`
	Totals   CountsReport   `yaml:"totals"`
	Duration string         `yaml:"duration"`
	Stopped  string         `yaml:"stopped,omitempty"`
}

// StreamReport describes one input stream.
type StreamReport struct {
	ID     string       `yaml:"id"`
	Status string       `yaml:"status"`
	Counts CountsReport `yaml:"counts"`
	Errors []string     `yaml:"errors,omitempty"`
	Tests  []TestReport `yaml:"tests,omitempty"`
}

// TestReport describes one test that did not pass.
type TestReport struct {
	ID        string `yaml:"id"`
	Status    string `yaml:"status"`
	Message   string `yaml:"message,omitempty"`
	Unmatched bool   `yaml:"unmatched,omitempty"`
}

// CountsReport mirrors results.Counts.
type CountsReport struct {
	Passed     int `yaml:"passed"`
	Failed     int `yaml:"failed"`
	Errored    int `yaml:"errored"`
	Skipped    int `yaml:"skipped"`
	Unfinished int `yaml:"unfinished,omitempty"`
	Unmatched  int `yaml:"unmatched,omitempty"`
}

func countsReport(c results.Counts) CountsReport {
	return CountsReport{
		Passed:     c.Passed,
		Failed:     c.Failed,
		Errored:    c.Errored,
		Skipped:    c.Skipped,
		Unfinished: c.Running,
		Unmatched:  c.Unmatched,
	}
}

// NewReport builds a report from a summary. Passing tests are counted but
// not listed.
func NewReport(summary *Summary) Report {
	r := Report{
		Totals:   countsReport(summary.Counts),
		Duration: summary.TotalTime.String(),
	}
	if summary.Stopped != nil {
		r.Stopped = summary.Stopped.Error()
	}

	byStream := map[string][]TestReport{}
	for _, list := range [][]*results.TestResult{summary.Failures, summary.Skipped} {
		for _, tr := range list {
			byStream[tr.Stream] = append(byStream[tr.Stream], TestReport{
				ID:        tr.Name,
				Status:    string(tr.Status),
				Message:   tr.Message,
				Unmatched: tr.Unmatched,
			})
		}
	}

	for _, s := range summary.Streams {
		r.Streams = append(r.Streams, StreamReport{
			ID:     s.ID,
			Status: string(s.Status),
			Counts: countsReport(s.Counts),
			Errors: s.Errors,
			Tests:  byStream[s.ID],
		})
	}
	return r
}

// WriteYAML writes the report of summary to w.
func WriteYAML(w io.Writer, summary *Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewReport(summary)); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}
