package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ColorTextHandler wraps slog.TextHandler to prefix each line with its
// level in an ANSI color. The prefix is written outside the text record so
// the escape codes reach the terminal unquoted.
type ColorTextHandler struct {
	*slog.TextHandler
	out      *prefixWriter
	showTime bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	out := &prefixWriter{w: w}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(out, opts),
		out:         out,
		showTime:    showTime,
	}
}

// prefixWriter prepends the current prefix to every write. slog handlers
// write each record with a single Write call.
type prefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	line := make([]byte, 0, len(p.prefix)+len(b))
	line = append(append(line, p.prefix...), b...)
	if _, err := p.w.Write(line); err != nil {
		return 0, err
	}
	return len(b), nil
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.showTime {
		r.Time = time.Time{} // slog omits a zero time
	}
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.out.prefix = levelColor(r.Level) + r.Level.String() + "\033[0m  "
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler, keeping the color prefix.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{
		TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler),
		out:         h.out,
		showTime:    h.showTime,
	}
}

// WithGroup implements slog.Handler, keeping the color prefix.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{
		TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler),
		out:         h.out,
		showTime:    h.showTime,
	}
}
