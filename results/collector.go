package results

import (
	"errors"
	"sync"
	"time"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/subunit"
)

// Collector processes engine events, updates the state model, and emits high-level events.
//
// The Collector is the single consumer of engine.Event and the single source of truth
// for run state. A run starts with the first event received while no run is current,
// and finishes on engine.EventComplete.
type Collector struct {
	state       *State
	mu          sync.RWMutex
	subscribers []chan Event
	subMu       sync.Mutex
}

// NewCollector creates a new result collector.
func NewCollector() *Collector {
	return &Collector{
		state:       NewState(),
		subscribers: make([]chan Event, 0),
	}
}

// Subscribe returns a channel that will receive result events.
// The caller should read from this channel until it is closed.
func (c *Collector) Subscribe() <-chan Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Event, 100)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// emit sends an event to all subscribers.
func (c *Collector) emit(evt Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		sub <- evt
	}
}

// Close closes all subscriber channels. Callers that feed the collector
// with Push call it once the last event is in.
func (c *Collector) Close() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		close(sub)
	}
	c.subscribers = nil
}

// ProcessEvents consumes engine events and updates state until the
// channel closes. Subscribers are closed on return.
// This method should be called as a goroutine.
func (c *Collector) ProcessEvents(events <-chan engine.Event) {
	defer c.Close()
	for evt := range events {
		c.Push(evt)
	}
	c.Finish(nil)
}

// Push applies a single engine event.
func (c *Collector) Push(evt engine.Event) {
	if evt.Type == engine.EventComplete {
		c.Finish(evt.Error)
		return
	}
	for _, e := range c.handle(evt) {
		c.emit(e)
	}
}

// handle updates the state and returns the events to emit after the lock
// is released.
func (c *Collector) handle(evt engine.Event) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventsToEmit := make([]Event, 0, 3)

	if c.state.CurrentRun == nil {
		eventsToEmit = append(eventsToEmit, c.startNewRun())
	}
	run := c.state.CurrentRun

	if evt.Type == engine.EventRawLine {
		run.RawOutput = append(run.RawOutput, string(evt.RawLine))
		return append(eventsToEmit, NewRawOutputEvent(run.ID, evt.Stream, evt.RawLine))
	}

	stream, ok := run.Streams[evt.Stream]
	if !ok {
		stream = &StreamResult{
			ID:        evt.Stream,
			Status:    StatusRunning,
			StartTime: time.Now(),
			TestOrder: make([]string, 0),
		}
		run.Streams[evt.Stream] = stream
		run.StreamOrder = append(run.StreamOrder, evt.Stream)
	}

	switch evt.Type {
	case engine.EventError:
		msg := evt.Test.Message
		if evt.Error != nil {
			msg = evt.Error.Error()
		}
		stream.Errors = append(stream.Errors, msg)
		var serr *engine.StreamError
		if !errors.As(evt.Error, &serr) || !serr.Resumed {
			stream.Status = StatusInterrupted
			stream.Elapsed = time.Since(stream.StartTime)
		}
		eventsToEmit = append(eventsToEmit, NewStreamErrorEvent(run.ID, evt.Stream, evt.Test.TestID, msg))
		if tr := run.TestResults[testKey(evt.Stream, evt.Test.TestID)]; tr != nil && tr.Status == StatusRunning {
			tr.Message = evt.Test.Message
			c.setStatus(stream, tr, StatusInterrupted)
			eventsToEmit = append(eventsToEmit, NewTestUpdatedEvent(run.ID, tr))
		}
		return append(eventsToEmit, NewStreamUpdatedEvent(run.ID, evt.Stream))

	case engine.EventTest:
		ev := evt.Test
		if ev.Kind == subunit.KindProgress {
			run.Progress = append(run.Progress, ev.TestID)
			return append(eventsToEmit, NewProgressEvent(run.ID, evt.Stream, ev.TestID))
		}

		key := testKey(evt.Stream, ev.TestID)
		tr, exists := run.TestResults[key]
		if !exists || ev.Kind == subunit.KindStart {
			if !exists {
				stream.TestOrder = append(stream.TestOrder, ev.TestID)
			}
			prev := Status("")
			if exists {
				prev = tr.Status
			}
			tr = &TestResult{Stream: evt.Stream, Name: ev.TestID}
			run.TestResults[key] = tr
			stream.Counts.track(prev, "")
			c.setStatus(stream, tr, StatusRunning)
			tr.Started = ev.Timestamp
		}

		if ev.Kind.Terminal() {
			tr.Message = ev.Message
			tr.Finished = ev.Timestamp
			if evt.Unmatched {
				tr.Unmatched = true
				stream.Counts.Unmatched++
			}
			c.setStatus(stream, tr, statusOf(ev.Kind))
		}
		eventsToEmit = append(eventsToEmit, NewTestUpdatedEvent(run.ID, tr))
		return append(eventsToEmit, NewStreamUpdatedEvent(run.ID, evt.Stream))
	}

	return eventsToEmit
}

func (c *Collector) setStatus(stream *StreamResult, tr *TestResult, s Status) {
	stream.Counts.track(tr.Status, s)
	tr.Status = s
}

// startNewRun creates a new run and returns RunStarted event.
// The caller should emit the event after releasing the lock.
func (c *Collector) startNewRun() Event {
	runID := len(c.state.Runs) + 1
	run := NewRun(runID)
	c.state.Runs = append(c.state.Runs, run)
	c.state.CurrentRun = run
	return NewRunStartedEvent(runID)
}

// Finish finishes the current run if any, recording err as what stopped
// it. Tests still running are marked interrupted.
func (c *Collector) Finish(err error) {
	c.mu.Lock()
	var eventToEmit *Event
	if run := c.state.CurrentRun; run != nil {
		run.EndTime = time.Now()
		run.Err = err

		for _, tr := range run.TestResults {
			if tr.Status == StatusRunning {
				c.setStatus(run.Streams[tr.Stream], tr, StatusInterrupted)
			}
		}
		for _, s := range run.Streams {
			if s.Status != StatusRunning {
				continue
			}
			s.Elapsed = run.EndTime.Sub(s.StartTime)
			switch {
			case len(s.Errors) > 0 || s.Counts.Running > 0:
				s.Status = StatusInterrupted
			case s.Counts.Failed > 0 || s.Counts.Errored > 0:
				s.Status = StatusFailed
			default:
				s.Status = StatusPassed
			}
		}

		c.state.CurrentRun = nil
		evt := NewRunFinishedEvent(run.ID)
		eventToEmit = &evt
	}
	c.mu.Unlock()

	// Emit after releasing the lock
	if eventToEmit != nil {
		c.emit(*eventToEmit)
	}
}

// State returns the collector's state. The caller must not use it while
// events are still being processed; use WithState for that.
func (c *Collector) State() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// WithRun executes fn with the specified run while holding RLock.
// This ensures thread-safe access to the run and all nested structures
// (maps, slices, etc.) for the entire duration of the callback.
// The callback is not executed if the run does not exist.
func (c *Collector) WithRun(runID int, fn func(*Run)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if runID < 1 || runID > len(c.state.Runs) {
		return
	}
	fn(c.state.Runs[runID-1])
}

// WithState executes fn with the state while holding RLock.
// This ensures thread-safe access to the state and all nested structures
// (maps, slices, etc.) for the entire duration of the callback.
func (c *Collector) WithState(fn func(*State)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fn(c.state)
}

// WithCurrentRun executes fn with the current run while holding RLock.
// The callback is not executed if there is no current run.
func (c *Collector) WithCurrentRun(fn func(*Run)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.CurrentRun != nil {
		fn(c.state.CurrentRun)
	}
}

// LastRun returns the most recent run, finished or not, or nil.
func (c *Collector) LastRun() *Run {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.state.Runs) == 0 {
		return nil
	}
	return c.state.Runs[len(c.state.Runs)-1]
}
