package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/results"
	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *memSink) Send(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func testEvt(stream string, ev subunit.Event) engine.Event {
	return engine.Event{Type: engine.EventTest, Stream: stream, Test: ev}
}

func follow(t *testing.T, sink Sink, events ...engine.Event) error {
	t.Helper()
	collector := results.NewCollector()
	sub := collector.Subscribe()

	done := make(chan error, 1)
	go func() {
		done <- Follow(context.Background(), sink, collector, sub, nil)
	}()

	ch := make(chan engine.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	collector.ProcessEvents(ch)
	return <-done
}

func TestFollow_RecordsFinishedTests(t *testing.T) {
	sink := &memSink{}
	err := follow(t, sink,
		testEvt("s1", subunit.NewStart("a")),
		testEvt("s1", subunit.NewSuccess("a")),
		testEvt("s2", subunit.NewStart("b")),
		testEvt("s2", subunit.NewFail("b", "boom")),
		engine.Event{Type: engine.EventTest, Stream: "s2", Test: subunit.NewSkip("c", ""), Unmatched: true},
		engine.Event{Type: engine.EventComplete},
	)
	require.NoError(t, err)

	require.Len(t, sink.records, 3)
	assert.Equal(t, "s1", sink.records[0].Stream)
	assert.Equal(t, "a", sink.records[0].TestID)
	assert.Equal(t, "pass", sink.records[0].Status)
	assert.Equal(t, 1, sink.records[0].RunID)
	assert.Equal(t, "fail", sink.records[1].Status)
	assert.Equal(t, "boom", sink.records[1].Message)
	assert.True(t, sink.records[2].Unmatched)
	assert.False(t, sink.records[0].RecordedAt.IsZero())
}

func TestFollow_RecordsInterruptedOnce(t *testing.T) {
	sink := &memSink{}
	serr := &engine.StreamError{Stream: "s", TestID: "a", Err: &subunit.TruncatedStreamError{TestID: "a"}}
	err := follow(t, sink,
		testEvt("s", subunit.NewStart("a")),
		engine.Event{Type: engine.EventError, Stream: "s", Test: subunit.NewError("a", "cut"), Error: serr},
		testEvt("s", subunit.NewStart("b")),
		engine.Event{Type: engine.EventComplete},
	)
	require.NoError(t, err)

	require.Len(t, sink.records, 2)
	assert.Equal(t, "a", sink.records[0].TestID)
	assert.Equal(t, "interrupted", sink.records[0].Status)
	assert.Equal(t, "b", sink.records[1].TestID)
	assert.Equal(t, "interrupted", sink.records[1].Status)
}

func TestFollow_LaggingFollowerRecordsEachOutcomeOnce(t *testing.T) {
	collector := results.NewCollector()
	sub := collector.Subscribe()
	for _, evt := range []engine.Event{
		testEvt("s", subunit.NewStart("a")),
		testEvt("s", subunit.NewSuccess("a")),
		testEvt("s", subunit.NewStart("b")),
		testEvt("s", subunit.NewSkip("b", "")),
		testEvt("s", subunit.NewStart("c")),
		{Type: engine.EventComplete},
	} {
		collector.Push(evt)
	}
	collector.Close()

	sink := &memSink{}
	require.NoError(t, Follow(context.Background(), sink, collector, sub, nil))

	var got []string
	for _, r := range sink.records {
		got = append(got, r.TestID+" "+r.Status)
	}
	assert.Equal(t, []string{"a pass", "b skip", "c interrupted"}, got)
}

func TestFollow_SendErrorKeepsDraining(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}

	var events []engine.Event
	for range 150 {
		events = append(events, testEvt("s", subunit.NewStart("a")), testEvt("s", subunit.NewSuccess("a")))
	}
	events = append(events, engine.Event{Type: engine.EventComplete})

	err := follow(t, sink, events...)
	assert.EqualError(t, err, "disk full")
}
