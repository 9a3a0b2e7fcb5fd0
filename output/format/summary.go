package format

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ansel1/subunit/results"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// formatDuration formats a duration as HH:MM:SS.mmm.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}

// Symbol constants for test results
const (
	SymbolPass  = "✓"
	SymbolFail  = "✗"
	SymbolError = "!"
	SymbolSkip  = "∅"
)

// Indentation constants
const (
	IndentLevel1 = "  "   // 2 spaces
	IndentLevel2 = "    " // 4 spaces
)

// Message lines shown per test in the failure and skip sections.
const (
	maxFailureLines = 10
	maxSkipLines    = 3
)

// ExpandTabs replaces tab characters with spaces, so that redrawn lines
// fully overwrite what was on screen before.
func ExpandTabs(s string, tabWidth int) string {
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteRune(r)
			col = 0
		case '\t':
			spaces := tabWidth - (col % tabWidth)
			b.WriteString(strings.Repeat(" ", spaces))
			col += spaces
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}

// ensureReset appends a terminal reset sequence if the string contains
// escape sequences and doesn't end with one.
func ensureReset(s string) string {
	const reset = "\x1b[0m"
	if !strings.Contains(s, "\x1b[") || strings.HasSuffix(s, reset) {
		return s
	}
	return s + reset
}

// StreamError is one stream failure listed in a summary.
type StreamError struct {
	Stream  string
	Message string
}

// Summary represents computed summary statistics from a run.
type Summary struct {
	Streams         []*results.StreamResult
	Counts          results.Counts
	TotalTime       time.Duration
	StreamCount     int
	Failures        []*results.TestResult // failed, errored and interrupted tests
	Skipped         []*results.TestResult
	SlowTests       []*results.TestResult
	StreamErrors    []StreamError
	SlowestStream   *results.StreamResult
	MostTestsStream *results.StreamResult
	SlowThreshold   time.Duration
	Stopped         error // what stopped a fail-fast run
}

// ComputeSummary calculates summary statistics from a Run. Tests are
// listed in stream order, then in the order they started.
func ComputeSummary(run *results.Run, slowThreshold time.Duration) *Summary {
	endTime := run.EndTime
	if endTime.IsZero() {
		endTime = time.Now()
	}

	summary := &Summary{
		StreamCount:   len(run.StreamOrder),
		TotalTime:     endTime.Sub(run.StartTime),
		Counts:        run.Counts(),
		SlowThreshold: slowThreshold,
		Stopped:       run.Err,
	}

	for _, id := range run.StreamOrder {
		stream, ok := run.Streams[id]
		if !ok {
			continue
		}
		summary.Streams = append(summary.Streams, stream)
		for _, msg := range stream.Errors {
			summary.StreamErrors = append(summary.StreamErrors, StreamError{Stream: id, Message: msg})
		}

		for _, name := range stream.TestOrder {
			tr := run.TestResults[id+"/"+name]
			if tr == nil {
				continue
			}
			switch tr.Status {
			case results.StatusFailed, results.StatusErrored, results.StatusInterrupted:
				summary.Failures = append(summary.Failures, tr)
			case results.StatusSkipped:
				summary.Skipped = append(summary.Skipped, tr)
			}
			if slowThreshold > 0 && tr.Elapsed() >= slowThreshold {
				summary.SlowTests = append(summary.SlowTests, tr)
			}
		}
	}

	slices.SortStableFunc(summary.SlowTests, func(a, b *results.TestResult) int {
		return int(b.Elapsed() - a.Elapsed())
	})

	for _, s := range summary.Streams {
		if summary.SlowestStream == nil || s.Elapsed > summary.SlowestStream.Elapsed {
			summary.SlowestStream = s
		}
		if summary.MostTestsStream == nil || s.Counts.Total() > summary.MostTestsStream.Counts.Total() {
			summary.MostTestsStream = s
		}
	}

	return summary
}

// SummaryFormatter formats a Summary for display.
type SummaryFormatter struct {
	width        int
	useColors    bool
	passStyle    lipgloss.Style
	failStyle    lipgloss.Style
	skipStyle    lipgloss.Style
	neutralStyle lipgloss.Style
	headerStyle  lipgloss.Style
}

// NewSummaryFormatter creates a new summary formatter for the given
// terminal width, 80 if unknown. Colors are enabled if stdout is a TTY.
func NewSummaryFormatter(width int) *SummaryFormatter {
	if width <= 0 {
		width = 80
	}
	return &SummaryFormatter{
		width:        width,
		useColors:    isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		passStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		failStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
		skipStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		neutralStyle: lipgloss.NewStyle(),
		headerStyle:  lipgloss.NewStyle().Bold(true),
	}
}

// SetColors overrides TTY detection.
func (sf *SummaryFormatter) SetColors(on bool) {
	sf.useColors = on
}

func (sf *SummaryFormatter) render(style lipgloss.Style, s string) string {
	if !sf.useColors {
		return s
	}
	return style.Render(s)
}

// Format renders a complete summary as a formatted string.
func (sf *SummaryFormatter) Format(summary *Summary) string {
	var b strings.Builder

	if len(summary.StreamErrors) > 0 {
		b.WriteString(sf.formatStreamErrors(summary.StreamErrors))
		b.WriteString("\n")
	}
	if len(summary.Failures) > 0 {
		b.WriteString(sf.formatTests("FAILURES", summary.Failures, maxFailureLines))
		b.WriteString("\n")
	}
	if len(summary.Skipped) > 0 {
		b.WriteString(sf.formatTests("SKIPPED", summary.Skipped, maxSkipLines))
		b.WriteString("\n")
	}
	if len(summary.SlowTests) > 0 {
		b.WriteString(sf.formatSlowTests(summary))
		b.WriteString("\n")
	}
	if len(summary.Streams) > 0 {
		b.WriteString(sf.formatStreamSection(summary.Streams))
		b.WriteString("\n")
	}
	b.WriteString(sf.formatOverallResults(summary))
	b.WriteString("\n")

	return b.String()
}

func (sf *SummaryFormatter) streamSymbol(s *results.StreamResult) string {
	switch {
	case s.Status == results.StatusInterrupted:
		return sf.render(sf.failStyle, SymbolError)
	case s.Counts.Failed > 0 || s.Counts.Errored > 0:
		return sf.render(sf.failStyle, SymbolFail)
	case s.Counts.Total() == 0:
		return sf.render(sf.skipStyle, SymbolSkip)
	}
	return sf.render(sf.passStyle, SymbolPass)
}

// count renders one counter column, colored only when non-zero.
func (sf *SummaryFormatter) count(style lipgloss.Style, symbol string, width, n int) string {
	s := fmt.Sprintf("%s %*d", symbol, width, n)
	if n == 0 {
		return sf.render(sf.neutralStyle, s)
	}
	return sf.render(style, s)
}

// formatStreamSection formats one aligned line per stream.
func (sf *SummaryFormatter) formatStreamSection(streams []*results.StreamResult) string {
	var b strings.Builder
	b.WriteString(sf.renderSectionHeader("STREAMS"))

	var nameLen, passLen, failLen, errLen, skipLen int
	digits := func(n int) int { return len(fmt.Sprint(n)) }
	label := func(s *results.StreamResult) string {
		name := ExpandTabs(s.ID, 8)
		if s.Status == results.StatusInterrupted {
			name += " [interrupted]"
		}
		return name
	}
	for _, s := range streams {
		nameLen = max(nameLen, len(label(s)))
		passLen = max(passLen, digits(s.Counts.Passed))
		failLen = max(failLen, digits(s.Counts.Failed))
		errLen = max(errLen, digits(s.Counts.Errored))
		skipLen = max(skipLen, digits(s.Counts.Skipped))
	}

	for _, s := range streams {
		fmt.Fprintf(&b, "%s %-*s  %s  %s  %s  %s  %s\n",
			sf.streamSymbol(s),
			nameLen, label(s),
			sf.count(sf.passStyle, SymbolPass, passLen, s.Counts.Passed),
			sf.count(sf.failStyle, SymbolFail, failLen, s.Counts.Failed),
			sf.count(sf.failStyle, SymbolError, errLen, s.Counts.Errored),
			sf.count(sf.skipStyle, SymbolSkip, skipLen, s.Counts.Skipped),
			formatDuration(s.Elapsed))
	}

	b.WriteString(sf.horizontalLine())
	return b.String()
}

// formatOverallResults formats the overall statistics section.
func (sf *SummaryFormatter) formatOverallResults(summary *Summary) string {
	var b strings.Builder
	b.WriteString(sf.renderSectionHeader("OVERALL RESULTS"))

	c := summary.Counts
	total := c.Total()
	percent := func(n int) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total) * 100
	}

	fmt.Fprintf(&b, "Total tests:    %d\n", total)
	fmt.Fprintf(&b, "Passed:         %d %s (%.1f%%)\n", c.Passed, sf.render(sf.passStyle, SymbolPass), percent(c.Passed))
	fmt.Fprintf(&b, "Failed:         %d %s (%.1f%%)\n", c.Failed, sf.render(sf.failStyle, SymbolFail), percent(c.Failed))
	fmt.Fprintf(&b, "Errored:        %d %s (%.1f%%)\n", c.Errored, sf.render(sf.failStyle, SymbolError), percent(c.Errored))
	fmt.Fprintf(&b, "Skipped:        %d %s (%.1f%%)\n", c.Skipped, sf.render(sf.skipStyle, SymbolSkip), percent(c.Skipped))
	if c.Running > 0 {
		fmt.Fprintf(&b, "Unfinished:     %d\n", c.Running)
	}
	if c.Unmatched > 0 {
		fmt.Fprintf(&b, "Unmatched:      %d\n", c.Unmatched)
	}
	fmt.Fprintf(&b, "Total time:     %s\n", formatDuration(summary.TotalTime))
	fmt.Fprintf(&b, "Streams:        %d\n", summary.StreamCount)
	if summary.Stopped != nil {
		fmt.Fprintf(&b, "Stopped:        %v\n", summary.Stopped)
	}

	b.WriteString(sf.horizontalLine())
	return b.String()
}

// formatTests lists tests grouped by stream, each with the first
// maxLines lines of its message.
func (sf *SummaryFormatter) formatTests(header string, tests []*results.TestResult, maxLines int) string {
	var b strings.Builder
	b.WriteString(sf.renderSectionHeader(header))

	stream := ""
	for i, tr := range tests {
		if i == 0 || tr.Stream != stream {
			if i > 0 {
				b.WriteString("\n")
			}
			stream = tr.Stream
			b.WriteString(stream + "\n")
		}

		name := tr.Name
		switch tr.Status {
		case results.StatusErrored:
			name += " [error]"
		case results.StatusInterrupted:
			name += " [interrupted]"
		}
		if tr.Unmatched {
			name += " [unmatched]"
		}
		b.WriteString(IndentLevel1 + name + "\n")

		lines := strings.Split(strings.TrimRight(tr.Message, "\n"), "\n")
		if tr.Message == "" {
			lines = nil
		}
		if len(lines) > maxLines {
			lines = lines[:maxLines]
		}
		for _, line := range lines {
			b.WriteString(IndentLevel2 + ensureReset(ExpandTabs(line, 8)) + "\n")
		}
	}

	b.WriteString(sf.horizontalLine())
	return b.String()
}

// formatStreamErrors lists stream decoding failures.
func (sf *SummaryFormatter) formatStreamErrors(errs []StreamError) string {
	var b strings.Builder
	b.WriteString(sf.renderSectionHeader("STREAM ERRORS"))
	for _, e := range errs {
		b.WriteString(sf.render(sf.failStyle, e.Message) + "\n")
	}
	b.WriteString(sf.horizontalLine())
	return b.String()
}

// formatSlowTests formats the slow tests section.
func (sf *SummaryFormatter) formatSlowTests(summary *Summary) string {
	var b strings.Builder
	b.WriteString(sf.renderSectionHeader(fmt.Sprintf("SLOW TESTS (>%s)", summary.SlowThreshold)))

	maxNameLen := 0
	for _, test := range summary.SlowTests {
		maxNameLen = max(maxNameLen, len(test.Name))
	}
	for _, test := range summary.SlowTests {
		fmt.Fprintf(&b, "%-*s  %s\n", maxNameLen, test.Name, formatDuration(test.Elapsed()))
		fmt.Fprintf(&b, "  %s\n", test.Stream)
	}

	b.WriteString(sf.horizontalLine())
	return b.String()
}

// horizontalLine returns a horizontal separator line.
func (sf *SummaryFormatter) horizontalLine() string {
	return strings.Repeat("-", sf.width)
}

func (sf *SummaryFormatter) renderSectionHeader(header string) string {
	return sf.render(sf.headerStyle, header) + "\n" + strings.Repeat("-", len(header)) + "\n"
}
