package results

// EventType identifies the type of event emitted by the Collector.
type EventType string

const (
	EventRunStarted    EventType = "run_started"    // A new run has started
	EventRunFinished   EventType = "run_finished"   // A run has finished
	EventStreamUpdated EventType = "stream_updated" // A stream's state changed
	EventTestUpdated   EventType = "test_updated"   // A test's state changed
	EventStreamError   EventType = "stream_error"   // A stream failed to decode
	EventRawOutput     EventType = "raw_output"     // Raw non-protocol output
	EventProgress      EventType = "progress"       // A progress mark
)

// Event represents a high-level event emitted by the Collector.
type Event struct {
	Type     EventType
	RunID    int    // Which run this event belongs to
	Stream   string // For stream, test and raw output events
	TestName string // For EventTestUpdated and EventStreamError
	RawLine  []byte // For EventRawOutput
	Output   string // For EventStreamError and EventProgress

	// Test is a copy of the test result as of this update. Later events
	// may have changed the live state by the time a subscriber reads it.
	Test TestResult
}

// NewRunStartedEvent creates a new RunStarted event.
func NewRunStartedEvent(runID int) Event {
	return Event{
		Type:  EventRunStarted,
		RunID: runID,
	}
}

// NewRunFinishedEvent creates a new RunFinished event.
func NewRunFinishedEvent(runID int) Event {
	return Event{
		Type:  EventRunFinished,
		RunID: runID,
	}
}

// NewStreamUpdatedEvent creates a new StreamUpdated event.
func NewStreamUpdatedEvent(runID int, stream string) Event {
	return Event{
		Type:   EventStreamUpdated,
		RunID:  runID,
		Stream: stream,
	}
}

// NewTestUpdatedEvent creates a new TestUpdated event carrying a
// snapshot of tr.
func NewTestUpdatedEvent(runID int, tr *TestResult) Event {
	return Event{
		Type:     EventTestUpdated,
		RunID:    runID,
		Stream:   tr.Stream,
		TestName: tr.Name,
		Test:     *tr,
	}
}

func NewStreamErrorEvent(runID int, stream, testName, output string) Event {
	return Event{
		Type:     EventStreamError,
		RunID:    runID,
		Stream:   stream,
		TestName: testName,
		Output:   output,
	}
}

// NewRawOutputEvent creates a new RawOutput event.
func NewRawOutputEvent(runID int, stream string, line []byte) Event {
	return Event{
		Type:    EventRawOutput,
		RunID:   runID,
		Stream:  stream,
		RawLine: line,
	}
}

func NewProgressEvent(runID int, stream, mark string) Event {
	return Event{
		Type:   EventProgress,
		RunID:  runID,
		Stream: stream,
		Output: mark,
	}
}
