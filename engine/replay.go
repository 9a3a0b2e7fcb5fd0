package engine

import (
	"context"
	"time"
)

// Replay re-emits events with the pauses between them that their
// timestamps show, scaled by rate: 1 replays in real time, 0.5 twice as
// fast, and 0 (or less) without delay. Events without a timestamp are
// emitted right away. The returned channel closes when events does or
// ctx is done.
func Replay(ctx context.Context, events <-chan Event, rate float64) <-chan Event {
	out := make(chan Event, 100)

	go func() {
		defer close(out)
		// keep the producer from blocking if we stop early
		defer func() {
			go func() {
				for range events {
				}
			}()
		}()

		var lastEventTime time.Time
		for evt := range events {
			ts := evt.Test.Timestamp
			if rate > 0 && !lastEventTime.IsZero() && !ts.IsZero() {
				if actualDelay := ts.Sub(lastEventTime); actualDelay > 0 {
					if !sleep(ctx, time.Duration(float64(actualDelay)*rate)) {
						return
					}
				}
			}
			if !ts.IsZero() {
				lastEventTime = ts
			}

			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
