package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ansel1/subunit/internal/metrics"
	"github.com/ansel1/subunit/subunit"
	"golang.org/x/sync/errgroup"
)

// EventType identifies the type of event emitted by the engine
type EventType string

const (
	EventRawLine  EventType = "raw"      // Non-protocol line from an input
	EventTest     EventType = "test"     // Decoded test-result event
	EventError    EventType = "error"    // An input failed; Test describes the failure
	EventComplete EventType = "complete" // All inputs finished
)

// Event represents a single event emitted by the engine
type Event struct {
	Type      EventType
	Stream    string        // ID of the originating input, empty for EventComplete
	Test      subunit.Event // Populated for EventTest and EventError
	Unmatched bool          // EventTest: terminal event without a start in its stream
	RawLine   []byte        // Populated for EventRawLine
	Error     error         // EventError: a *StreamError. EventComplete: what stopped a fail-fast merge
}

// Input is one byte stream to decode.
type Input struct {
	ID     string
	Reader io.Reader
}

// Order selects how events of different inputs are interleaved. Events of
// one input always keep their order.
type Order int

const (
	OrderArrival   Order = iota // as soon as each input produces them
	OrderTimestamp              // merged by event timestamp
)

// String implements fmt.Stringer.
func (o Order) String() string {
	switch o {
	case OrderArrival:
		return "arrival"
	case OrderTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder parses the names produced by Order.String.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "arrival":
		return OrderArrival, nil
	case "timestamp":
		return OrderTimestamp, nil
	}
	return OrderArrival, fmt.Errorf("unknown order %q", s)
}

// StreamError is the error carried by EventError events.
type StreamError struct {
	Stream  string
	TestID  string // the test the failure is attributed to
	Partial string // message decoded before the failure
	Resumed bool   // the decoder resynchronized and the input went on
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: stream %s test %s: %v", subunit.Classify(e.Err), e.Stream, e.TestID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Engine decodes any number of inputs concurrently and merges their
// events into one channel. It keeps no state between calls to Stream.
type Engine struct {
	filter    Filter
	failFast  bool
	order     Order
	decOpts   []subunit.DecoderOption
	lostTests bool
	logger    *slog.Logger

	// Output writer for pass-through of non-protocol lines
	rawWriter io.Writer
	rawMu     sync.Mutex
}

// Option configures the engine
type Option func(*Engine)

// WithFilter drops test events the filter rejects. Stream errors are
// never filtered.
func WithFilter(f Filter) Option {
	return func(e *Engine) {
		e.filter = f
	}
}

// WithFailFast makes the first failing input stop all others and end the
// merged stream. By default a failing input only ends itself.
func WithFailFast(on bool) Option {
	return func(e *Engine) {
		e.failFast = on
	}
}

// WithOrder selects how inputs are interleaved.
func WithOrder(o Order) Option {
	return func(e *Engine) {
		e.order = o
	}
}

// WithDecoderOptions configures the decoder of every input.
func WithDecoderOptions(opts ...subunit.DecoderOption) Option {
	return func(e *Engine) {
		e.decOpts = append(e.decOpts, opts...)
	}
}

// WithLostTests controls whether tests still running when their input
// ends are reported as errors. Default true.
func WithLostTests(on bool) Option {
	return func(e *Engine) {
		e.lostTests = on
	}
}

// WithLogger sets the logger for stream lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRawOutput configures engine to write all non-protocol lines to w
func WithRawOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.rawWriter = w
	}
}

// NewEngine creates a new event processing engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		lostTests: true,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream decodes inputs concurrently and emits their events via channel.
// The last event is always EventComplete unless ctx is cancelled, and the
// channel is closed after it. Callers must drain the channel.
func (e *Engine) Stream(ctx context.Context, inputs ...Input) <-chan Event {
	events := make(chan Event, 100) // buffered channel for better throughput

	go func() {
		defer close(events)

		err := e.run(ctx, inputs, events)
		select {
		case events <- Event{Type: EventComplete, Error: err}:
		case <-ctx.Done():
		}
	}()

	return events
}

func (e *Engine) run(ctx context.Context, inputs []Input, out chan<- Event) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.order == OrderTimestamp {
		streams := make([]chan Event, len(inputs))
		for i, in := range inputs {
			ch := make(chan Event, 16)
			streams[i] = ch
			g.Go(func() error {
				defer close(ch)
				return e.session(gctx, in, func(ev Event) bool { return send(gctx, ch, ev) })
			})
		}
		g.Go(func() error {
			e.merge(ctx, streams, out)
			return nil
		})
		return g.Wait()
	}

	for _, in := range inputs {
		g.Go(func() error {
			return e.session(gctx, in, func(ev Event) bool { return send(gctx, out, ev) })
		})
	}
	return g.Wait()
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// session decodes one input until it ends. It returns an error only when
// the input failed and fail-fast is on.
func (e *Engine) session(ctx context.Context, in Input, emit func(Event) bool) error {
	log := e.logger.With("stream", in.ID)
	dec := subunit.NewDecoder(in.Reader, e.decOpts...)

	// closing the decoder unblocks a pending read once we're cancelled
	stop := context.AfterFunc(ctx, func() { _ = dec.Close() })
	defer stop()

	metrics.StreamOpened()
	defer metrics.StreamClosed()
	log.Debug("stream opened")

	var lastStart string
	for {
		tok, err := dec.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			log.Debug("stream closed", "format", dec.Format(), "bytes", dec.Offset())
			if e.lostTests {
				e.reportLost(in.ID, dec.Open(), emit)
			}
			return nil
		case ctx.Err() != nil:
			log.Debug("stream cancelled", "bytes", dec.Offset())
			return nil
		default:
			evt := streamErrorEvent(in.ID, err, lastStart)
			serr := evt.Error.(*StreamError)
			serr.Resumed = dec.Err() == nil
			metrics.IncStreamError(subunit.Classify(err))
			log.Warn("stream error", "class", subunit.Classify(err), "test", serr.TestID, "err", err)
			if !emit(evt) {
				return nil
			}
			if serr.Resumed {
				continue
			}
			if e.failFast {
				return serr
			}
			return nil
		}

		switch tok.Type {
		case subunit.TokenLine:
			e.tee(log, tok.Line)
			if !emit(Event{Type: EventRawLine, Stream: in.ID, RawLine: tok.Line}) {
				return nil
			}
		case subunit.TokenEvent:
			ev := tok.Event
			switch {
			case ev.Kind == subunit.KindStart:
				lastStart = ev.TestID
			case ev.Kind.Terminal() && ev.TestID == lastStart:
				lastStart = ""
			}
			metrics.IncEvent(in.ID, ev.Kind.String())
			if e.filter != nil && !e.filter(ev) {
				metrics.IncFiltered()
				continue
			}
			if !emit(Event{Type: EventTest, Stream: in.ID, Test: ev, Unmatched: tok.Unmatched}) {
				return nil
			}
		}
	}
}

// reportLost reports tests that were still running when their input ended.
func (e *Engine) reportLost(stream string, open []string, emit func(Event) bool) {
	slices.Sort(open)
	for _, id := range open {
		ev := subunit.NewError(id, fmt.Sprintf("lost connection during test '%s'", id))
		metrics.IncEvent(stream, ev.Kind.String())
		if e.filter != nil && !e.filter(ev) {
			metrics.IncFiltered()
			continue
		}
		if !emit(Event{Type: EventTest, Stream: stream, Test: ev}) {
			return
		}
	}
}

// streamErrorEvent describes a decode failure as an error event for the
// test it interrupted: the partially decoded test if any, else the last
// test started in the stream, else the stream itself.
func streamErrorEvent(stream string, err error, lastStart string) Event {
	serr := &StreamError{Stream: stream, Err: err}
	var terr *subunit.TruncatedStreamError
	if errors.As(err, &terr) {
		serr.TestID = terr.TestID
		serr.Partial = terr.Partial
	}
	if serr.TestID == "" {
		serr.TestID = lastStart
	}
	if serr.TestID == "" {
		serr.TestID = "stream:" + stream
	}

	msg := fmt.Sprintf("[stream %s] %s: %v\n%s", stream, subunit.Classify(err), err, serr.Partial)
	return Event{
		Type:   EventError,
		Stream: stream,
		Test:   subunit.NewError(serr.TestID, msg),
		Error:  serr,
	}
}

func (e *Engine) tee(log *slog.Logger, line []byte) {
	if e.rawWriter == nil {
		return
	}
	e.rawMu.Lock()
	defer e.rawMu.Unlock()
	if _, err := fmt.Fprintf(e.rawWriter, "%s\n", line); err != nil {
		log.Warn("raw output write failed", "err", err)
	}
}

// merge interleaves per-input channels by event timestamp. Only the head
// of each input is compared, so an input's own order is never changed.
// Events without a timestamp sort with the last timestamp seen in their
// input.
func (e *Engine) merge(ctx context.Context, streams []chan Event, out chan<- Event) {
	type head struct {
		ev  Event
		key time.Time
		ok  bool
	}
	heads := make([]head, len(streams))
	last := make([]time.Time, len(streams))

	pull := func(i int) {
		ev, ok := <-streams[i]
		if !ok {
			heads[i] = head{}
			return
		}
		if ts := ev.Test.Timestamp; ev.Type == EventTest && !ts.IsZero() {
			last[i] = ts
		}
		heads[i] = head{ev: ev, key: last[i], ok: true}
	}

	for i := range streams {
		pull(i)
	}
	for {
		best := -1
		for i, h := range heads {
			if h.ok && (best < 0 || h.key.Before(heads[best].key)) {
				best = i
			}
		}
		if best < 0 {
			return
		}
		ev := heads[best].ev
		if !send(ctx, out, ev) {
			return
		}
		if e.failFast && ev.Type == EventError && !ev.Error.(*StreamError).Resumed {
			return
		}
		pull(best)
	}
}

// Stats summarizes a Run.
type Stats struct {
	Streams int
	Events  int // test events written
	Lines   int // non-protocol lines passed through
	Errors  int // stream errors
	Counts  map[subunit.Kind]int

	StreamErrors []*StreamError // in the order they were written
}

// Run merges inputs and re-encodes the result to enc. Stream errors are
// written as error events and counted. An event the sink's encoding cannot
// represent is skipped and counted as a stream error of its input. Run
// itself fails only when the sink fails or fail-fast stopped the merge.
func (e *Engine) Run(ctx context.Context, enc *subunit.Encoder, inputs ...Input) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := Stats{Streams: len(inputs), Counts: make(map[subunit.Kind]int)}
	format := enc.Format().String()
	var sinkErr, streamErr error

	// write runs fn unless the sink already failed. Only sink failures
	// stop the run.
	write := func(fn func() error) error {
		if sinkErr != nil {
			return sinkErr
		}
		err := fn()
		if err != nil && !errors.Is(err, subunit.ErrInvalidEvent) {
			sinkErr = err
			cancel()
		}
		return err
	}

	for evt := range e.Stream(ctx, inputs...) {
		switch evt.Type {
		case EventRawLine:
			if write(func() error { return enc.Passthrough(evt.RawLine) }) == nil {
				stats.Lines++
			}
		case EventTest:
			err := write(func() error { return enc.Encode(evt.Test) })
			switch {
			case err == nil:
				metrics.IncEncoded(format)
				stats.Events++
				stats.Counts[evt.Test.Kind]++
			case errors.Is(err, subunit.ErrInvalidEvent):
				e.logger.Warn("event not representable in output", "stream", evt.Stream, "format", format, "error", err)
				stats.Errors++
				stats.StreamErrors = append(stats.StreamErrors, &StreamError{Stream: evt.Stream, TestID: evt.Test.TestID, Err: err})
			}
		case EventError:
			stats.Errors++
			var serr *StreamError
			if errors.As(evt.Error, &serr) {
				stats.StreamErrors = append(stats.StreamErrors, serr)
			}
			if write(func() error { return enc.Encode(evt.Test) }) == nil {
				metrics.IncEncoded(format)
			}
		case EventComplete:
			streamErr = evt.Error
		}
	}

	if sinkErr != nil {
		return stats, sinkErr
	}
	if streamErr == nil && ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, streamErr
}
