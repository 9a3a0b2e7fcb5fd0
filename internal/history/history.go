package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ansel1/subunit/results"
)

// Record is one finished test outcome.
type Record struct {
	RecordedAt time.Time `json:"recorded_at"`
	RunID      int       `json:"run_id"`
	Stream     string    `json:"stream"`
	TestID     string    `json:"test_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Unmatched  bool      `json:"unmatched,omitempty"`
}

// Sink is a destination for finished test outcomes.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, r Record) error
}

// Follow reads a collector subscription until it closes and sends a
// record to sink each time a test reaches a final status. Tests left
// interrupted when a run finishes are recorded then.
//
// The subscription is always drained. The first send error is returned
// once it closes, and later records are still attempted.
func Follow(ctx context.Context, sink Sink, collector *results.Collector, events <-chan results.Event, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var firstErr error
	send := func(r Record) {
		if err := sink.Send(ctx, r); err != nil {
			log.Warn("history record failed", "stream", r.Stream, "test", r.TestID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// interrupted tracks tests already recorded as interrupted so the
	// run-finished sweep does not record them again.
	interrupted := make(map[string]bool)
	for evt := range events {
		switch evt.Type {
		case results.EventTestUpdated:
			tr := evt.Test
			key := tr.Stream + "/" + tr.Name
			if tr.Status == results.StatusRunning {
				delete(interrupted, key)
				continue
			}
			if tr.Status == results.StatusInterrupted {
				interrupted[key] = true
			}
			send(newRecord(evt.RunID, &tr))

		case results.EventRunFinished:
			var recs []Record
			collector.WithRun(evt.RunID, func(run *results.Run) {
				for _, stream := range run.StreamOrder {
					for _, id := range run.Streams[stream].TestOrder {
						key := stream + "/" + id
						tr := run.TestResults[key]
						if tr.Status == results.StatusInterrupted && !interrupted[key] {
							recs = append(recs, newRecord(run.ID, tr))
						}
					}
				}
			})
			clear(interrupted)
			for _, r := range recs {
				send(r)
			}
		}
	}
	return firstErr
}

func newRecord(runID int, tr *results.TestResult) Record {
	return Record{
		RecordedAt: time.Now().UTC(),
		RunID:      runID,
		Stream:     tr.Stream,
		TestID:     tr.Name,
		Status:     string(tr.Status),
		Message:    tr.Message,
		Unmatched:  tr.Unmatched,
	}
}
