package results

import (
	"time"

	"github.com/ansel1/subunit/subunit"
)

// Status is the state of a test or a stream.
type Status string

const (
	StatusRunning     Status = "running"
	StatusPassed      Status = "pass"
	StatusFailed      Status = "fail"
	StatusErrored     Status = "error"
	StatusSkipped     Status = "skip"
	StatusInterrupted Status = "interrupted" // stream ended with an error, or a test never finished
)

// statusOf maps a terminal event kind to the test status it produces.
func statusOf(k subunit.Kind) Status {
	switch k {
	case subunit.KindSuccess:
		return StatusPassed
	case subunit.KindFail:
		return StatusFailed
	case subunit.KindError:
		return StatusErrored
	case subunit.KindSkip:
		return StatusSkipped
	}
	return StatusRunning
}

// Counts tallies test outcomes.
type Counts struct {
	Passed    int
	Failed    int
	Errored   int
	Skipped   int
	Running   int
	Unmatched int // outcomes reported without a start
}

// Total returns the number of tests counted.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Errored + c.Skipped + c.Running
}

// Add returns the sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Passed:    c.Passed + o.Passed,
		Failed:    c.Failed + o.Failed,
		Errored:   c.Errored + o.Errored,
		Skipped:   c.Skipped + o.Skipped,
		Running:   c.Running + o.Running,
		Unmatched: c.Unmatched + o.Unmatched,
	}
}

func (c *Counts) track(from, to Status) {
	if p := c.slot(from); p != nil {
		*p--
	}
	if p := c.slot(to); p != nil {
		*p++
	}
}

func (c *Counts) slot(s Status) *int {
	switch s {
	case StatusPassed:
		return &c.Passed
	case StatusFailed:
		return &c.Failed
	case StatusErrored:
		return &c.Errored
	case StatusSkipped:
		return &c.Skipped
	case StatusRunning, StatusInterrupted:
		return &c.Running
	}
	return nil
}

// Run represents one merge of input streams, from the first event to
// EventComplete.
type Run struct {
	ID          int                      // Sequential run ID (1, 2, 3...)
	Streams     map[string]*StreamResult // Stream ID -> StreamResult
	StreamOrder []string                 // Order in which streams first produced output
	TestResults map[string]*TestResult   // "stream/testid" -> TestResult
	StartTime   time.Time
	EndTime     time.Time
	RawOutput   []string // Non-protocol lines
	Progress    []string // Progress marks, in arrival order
	Err         error    // What stopped a fail-fast merge
}

// Counts sums the outcomes of every stream.
func (r *Run) Counts() Counts {
	var c Counts
	for _, s := range r.Streams {
		c = c.Add(s.Counts)
	}
	return c
}

// Failed reports whether any test failed or errored, or any stream broke.
func (r *Run) Failed() bool {
	c := r.Counts()
	if c.Failed > 0 || c.Errored > 0 || r.Err != nil {
		return true
	}
	for _, s := range r.Streams {
		if len(s.Errors) > 0 {
			return true
		}
	}
	return false
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// StreamResult is the state of one input stream.
type StreamResult struct {
	ID        string
	Status    Status // running until the run finishes
	StartTime time.Time
	Elapsed   time.Duration
	Counts    Counts
	Errors    []string // stream errors, as reported by the engine
	TestOrder []string // Chronological order of test starts
}

// TestResult represents the result of a single test.
type TestResult struct {
	Stream    string
	Name      string
	Status    Status
	Message   string
	Unmatched bool
	Started   time.Time // from the start event's timestamp, zero when absent
	Finished  time.Time // from the outcome's timestamp, zero when absent
}

// Elapsed returns the test duration when both timestamps are known.
func (t *TestResult) Elapsed() time.Duration {
	if t.Started.IsZero() || t.Finished.IsZero() {
		return 0
	}
	return t.Finished.Sub(t.Started)
}

// State holds all runs and provides access to the current run.
type State struct {
	Runs       []*Run // All runs in chronological order
	CurrentRun *Run   // Currently active run (nil if no active run)
}

// NewRun creates a new run.
func NewRun(id int) *Run {
	return &Run{
		ID:          id,
		Streams:     make(map[string]*StreamResult),
		StreamOrder: make([]string, 0),
		TestResults: make(map[string]*TestResult),
		StartTime:   time.Now(),
	}
}

// NewState creates a new state.
func NewState() *State {
	return &State{
		Runs: make([]*Run, 0),
	}
}

func testKey(stream, id string) string {
	return stream + "/" + id
}
