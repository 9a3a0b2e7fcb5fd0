package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)
	return ch
}

func testEvent(id string, ts time.Time) Event {
	ev := subunit.NewStart(id)
	ev.Timestamp = ts
	return Event{Type: EventTest, Test: ev}
}

func TestReplay_InstantAtRateZero(t *testing.T) {
	base := time.Now()
	in := feed(
		testEvent("a", base),
		testEvent("b", base.Add(time.Hour)),
		Event{Type: EventComplete},
	)

	start := time.Now()
	collected := collect(Replay(context.Background(), in, 0))
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, collected, 3)
	assert.Equal(t, "a", collected[0].Test.TestID)
	assert.Equal(t, "b", collected[1].Test.TestID)
	assert.Equal(t, EventComplete, collected[2].Type)
}

func TestReplay_ScalesDelays(t *testing.T) {
	base := time.Now()
	in := feed(
		testEvent("a", base),
		Event{Type: EventRawLine, RawLine: []byte("no timestamp")},
		testEvent("b", base.Add(200*time.Millisecond)),
	)

	start := time.Now()
	collected := collect(Replay(context.Background(), in, 0.5))
	elapsed := time.Since(start)

	require.Len(t, collected, 3)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestReplay_StopsOnCancel(t *testing.T) {
	base := time.Now()
	in := feed(
		testEvent("a", base),
		testEvent("b", base.Add(time.Hour)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	out := Replay(ctx, in, 1)

	first := <-out
	assert.Equal(t, "a", first.Test.TestID)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "no event may follow a cancelled pause")
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not stop after cancel")
	}
}
