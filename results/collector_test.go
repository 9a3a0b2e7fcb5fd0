package results

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvt(stream string, ev subunit.Event) engine.Event {
	return engine.Event{Type: engine.EventTest, Stream: stream, Test: ev}
}

func TestCollector_CountsOutcomes(t *testing.T) {
	collector := NewCollector()

	for _, evt := range []engine.Event{
		testEvt("s1", subunit.NewStart("a")),
		testEvt("s1", subunit.NewSuccess("a")),
		testEvt("s1", subunit.NewStart("b")),
		testEvt("s1", subunit.NewFail("b", "boom\n")),
		testEvt("s2", subunit.NewStart("c")),
		testEvt("s2", subunit.NewSkip("c", "")),
		testEvt("s2", subunit.NewStart("d")),
		testEvt("s2", subunit.NewError("d", "panic\n")),
		{Type: engine.EventComplete},
	} {
		collector.Push(evt)
	}

	state := collector.State()
	require.Len(t, state.Runs, 1)
	assert.Nil(t, state.CurrentRun)
	run := state.Runs[0]

	assert.Equal(t, []string{"s1", "s2"}, run.StreamOrder)
	assert.Equal(t, Counts{Passed: 1, Failed: 1}, run.Streams["s1"].Counts)
	assert.Equal(t, Counts{Skipped: 1, Errored: 1}, run.Streams["s2"].Counts)
	assert.Equal(t, 4, run.Counts().Total())
	assert.Equal(t, StatusFailed, run.Streams["s1"].Status)
	assert.Equal(t, StatusFailed, run.Streams["s2"].Status)
	assert.True(t, run.Failed())

	b := run.TestResults["s1/b"]
	require.NotNil(t, b)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "boom\n", b.Message)
	assert.Equal(t, []string{"a", "b"}, run.Streams["s1"].TestOrder)
}

func TestCollector_SameTestIDInDifferentStreams(t *testing.T) {
	collector := NewCollector()
	collector.Push(testEvt("s1", subunit.NewStart("a")))
	collector.Push(testEvt("s2", subunit.NewStart("a")))
	collector.Push(testEvt("s1", subunit.NewSuccess("a")))
	collector.Push(engine.Event{Type: engine.EventComplete})

	run := collector.LastRun()
	assert.Equal(t, StatusPassed, run.TestResults["s1/a"].Status)
	assert.Equal(t, StatusInterrupted, run.TestResults["s2/a"].Status)
	assert.Equal(t, StatusPassed, run.Streams["s1"].Status)
	assert.Equal(t, StatusInterrupted, run.Streams["s2"].Status)
	assert.Equal(t, 1, run.Streams["s2"].Counts.Running)
}

func TestCollector_Unmatched(t *testing.T) {
	collector := NewCollector()
	collector.Push(engine.Event{Type: engine.EventTest, Stream: "s", Test: subunit.NewSuccess("orphan"), Unmatched: true})
	collector.Push(engine.Event{Type: engine.EventComplete})

	run := collector.LastRun()
	tr := run.TestResults["s/orphan"]
	require.NotNil(t, tr)
	assert.True(t, tr.Unmatched)
	assert.Equal(t, StatusPassed, tr.Status)
	assert.Equal(t, Counts{Passed: 1, Unmatched: 1}, run.Streams["s"].Counts)
}

func TestCollector_Restart(t *testing.T) {
	collector := NewCollector()
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(testEvt("s", subunit.NewFail("a", "")))
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(testEvt("s", subunit.NewSuccess("a")))

	collector.WithCurrentRun(func(run *Run) {
		assert.Equal(t, Counts{Passed: 1}, run.Streams["s"].Counts)
		assert.Equal(t, []string{"a"}, run.Streams["s"].TestOrder)
	})
}

func TestCollector_TestUpdatedCarriesSnapshot(t *testing.T) {
	collector := NewCollector()
	sub := collector.Subscribe()
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(testEvt("s", subunit.NewFail("a", "boom")))
	collector.Close()

	var statuses []Status
	for evt := range sub {
		if evt.Type == EventTestUpdated {
			assert.Equal(t, "a", evt.Test.Name)
			statuses = append(statuses, evt.Test.Status)
		}
	}
	assert.Equal(t, []Status{StatusRunning, StatusFailed}, statuses)
}

func TestCollector_StreamError(t *testing.T) {
	collector := NewCollector()
	sub := collector.Subscribe()

	serr := &engine.StreamError{Stream: "s", TestID: "a", Partial: "half", Err: &subunit.TruncatedStreamError{TestID: "a"}}
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(engine.Event{
		Type:   engine.EventError,
		Stream: "s",
		Test:   subunit.NewError("a", "[stream s] TruncatedStreamError: x\nhalf"),
		Error:  serr,
	})
	collector.Push(engine.Event{Type: engine.EventComplete})

	run := collector.LastRun()
	s := run.Streams["s"]
	assert.Equal(t, StatusInterrupted, s.Status)
	require.Len(t, s.Errors, 1)
	assert.True(t, strings.HasPrefix(s.Errors[0], "TruncatedStreamError: stream s test a"))
	assert.Equal(t, StatusInterrupted, run.TestResults["s/a"].Status)
	assert.True(t, run.Failed())

	var types []EventType
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	assert.Contains(t, types, EventStreamError)
	assert.Equal(t, EventRunFinished, types[len(types)-1])
}

func TestCollector_ResumedErrorKeepsStreamRunning(t *testing.T) {
	collector := NewCollector()
	collector.Push(engine.Event{
		Type:   engine.EventError,
		Stream: "s",
		Test:   subunit.NewError("stream:s", "bad crc"),
		Error:  &engine.StreamError{Stream: "s", Resumed: true, Err: &subunit.ProtocolError{Reason: "bad crc"}},
	})
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(testEvt("s", subunit.NewSuccess("a")))
	collector.Push(engine.Event{Type: engine.EventComplete})

	s := collector.LastRun().Streams["s"]
	assert.Equal(t, StatusInterrupted, s.Status, "a stream with errors is never reported as passed")
	assert.Equal(t, 1, s.Counts.Passed)
}

func TestCollector_FailFastError(t *testing.T) {
	collector := NewCollector()
	collector.Push(testEvt("s", subunit.NewStart("a")))
	collector.Push(engine.Event{Type: engine.EventComplete, Error: errors.New("stopped")})

	run := collector.LastRun()
	assert.EqualError(t, run.Err, "stopped")
	assert.True(t, run.Failed())
}

func TestCollector_RawOutputAndProgress(t *testing.T) {
	collector := NewCollector()
	sub := collector.Subscribe()

	collector.Push(engine.Event{Type: engine.EventRawLine, Stream: "s", RawLine: []byte("hello")})
	collector.Push(testEvt("s", subunit.NewProgress("+3")))

	collector.WithCurrentRun(func(run *Run) {
		assert.Equal(t, []string{"hello"}, run.RawOutput)
		assert.Equal(t, []string{"+3"}, run.Progress)
	})

	assert.Equal(t, EventRunStarted, (<-sub).Type)
	raw := <-sub
	assert.Equal(t, EventRawOutput, raw.Type)
	assert.Equal(t, "hello", string(raw.RawLine))
	assert.Equal(t, EventProgress, (<-sub).Type)
}

func TestCollector_ProcessEvents(t *testing.T) {
	input := "test: a\nsuccess: a\ntest: b\nfailure: b [\nx\n]\n"
	events := engine.NewEngine().Stream(context.Background(), engine.Input{ID: "s", Reader: strings.NewReader(input)})

	collector := NewCollector()
	sub := collector.Subscribe()
	go collector.ProcessEvents(events)

	var finished bool
	timeout := time.After(5 * time.Second)
	for !finished {
		select {
		case evt, ok := <-sub:
			if !ok {
				finished = true
				break
			}
			if evt.Type == EventRunFinished {
				assert.Equal(t, 1, evt.RunID)
			}
		case <-timeout:
			t.Fatal("collector did not close subscribers")
		}
	}

	var counts Counts
	collector.WithRun(1, func(run *Run) {
		counts = run.Counts()
	})
	assert.Equal(t, Counts{Passed: 1, Failed: 1}, counts)

	called := false
	collector.WithRun(2, func(*Run) { called = true })
	assert.False(t, called)
}

func TestTestResult_Elapsed(t *testing.T) {
	now := time.Now()
	tr := &TestResult{Started: now, Finished: now.Add(time.Second)}
	assert.Equal(t, time.Second, tr.Elapsed())
	assert.Zero(t, (&TestResult{Finished: now}).Elapsed())
}
