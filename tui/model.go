package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ansel1/subunit/output/format"
	"github.com/ansel1/subunit/results"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ResultsEventMsg wraps results events for bubbletea
type ResultsEventMsg results.Event

// EOFMsg signals that the merge has completed and the collector closed
// its subscription.
type EOFMsg struct{}

// maxRawLines caps how many non-protocol lines stay on screen.
const maxRawLines = 10

// TestState tracks the state of a single test.
type TestState struct {
	Name      string
	Stream    string
	Status    results.Status
	StartTime time.Time     // when the model first saw the test
	Elapsed   time.Duration // final elapsed time, set when the test finishes
	Message   string
}

// NewTestState creates a new test state
func NewTestState(name, stream string) *TestState {
	return &TestState{
		Name:      name,
		Stream:    stream,
		Status:    results.StatusRunning,
		StartTime: time.Now(),
	}
}

// GetElapsedTime returns the elapsed time for display
func (ts *TestState) GetElapsedTime() time.Duration {
	if ts.Status == results.StatusRunning {
		return time.Since(ts.StartTime)
	}
	return ts.Elapsed
}

// StreamState tracks the state of one input stream and its tests.
type StreamState struct {
	ID        string
	Status    results.Status
	StartTime time.Time
	Elapsed   time.Duration
	Counts    results.Counts
	LastError string
	Tests     map[string]*TestState
	TestOrder []string
}

// NewStreamState creates a new stream state
func NewStreamState(id string) *StreamState {
	return &StreamState{
		ID:        id,
		Status:    results.StatusRunning,
		StartTime: time.Now(),
		Tests:     make(map[string]*TestState),
		TestOrder: make([]string, 0),
	}
}

// GetElapsedTime returns the elapsed time for display
func (ss *StreamState) GetElapsedTime() time.Duration {
	if ss.Status == results.StatusRunning {
		return time.Since(ss.StartTime)
	}
	return ss.Elapsed
}

// Model is the live view of a merge.
//
// It consumes results.Event from a results.Collector subscription and reads
// the referenced streams and tests back from the collector under its lock.
type Model struct {
	collector *results.Collector

	Streams     map[string]*StreamState
	StreamOrder []string

	RawOutput []string // most recent non-protocol lines
	Progress  string   // most recent progress mark

	TerminalWidth  int
	TerminalHeight int

	passStyle    lipgloss.Style
	failStyle    lipgloss.Style
	skipStyle    lipgloss.Style
	neutralStyle lipgloss.Style

	// Replay state
	ReplayMode bool
	ReplayRate float64

	Finished         bool
	StartTime        time.Time
	TotalElapsedTime time.Duration
	spinner          spinner.Model
	currentRunID     int
}

// NewModel creates a new TUI model
func NewModel(replayMode bool, replayRate float64, collector *results.Collector) *Model {
	s := spinner.New()
	s.Spinner = spinner.Jump

	return &Model{
		collector:      collector,
		Streams:        make(map[string]*StreamState),
		StreamOrder:    make([]string, 0),
		TerminalWidth:  80,
		TerminalHeight: 24,
		passStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		failStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // red
		skipStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		neutralStyle:   lipgloss.NewStyle(),
		spinner:        s,
		ReplayMode:     replayMode,
		ReplayRate:     replayRate,
		StartTime:      time.Now(),
		currentRunID:   1,
	}
}

// Init initializes the model and returns the initial command
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ResultsEventMsg:
		m.handleResultsEvent(results.Event(msg))

	case tea.WindowSizeMsg:
		m.TerminalWidth = msg.Width
		m.TerminalHeight = msg.Height

	case EOFMsg:
		m.finish()
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.finish()
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) finish() {
	m.Finished = true
	m.TotalElapsedTime = time.Since(m.StartTime)
}

// handleResultsEvent processes a results event and updates the model state.
func (m *Model) handleResultsEvent(evt results.Event) {
	switch evt.Type {
	case results.EventRawOutput:
		m.RawOutput = append(m.RawOutput, string(evt.RawLine))
		if len(m.RawOutput) > maxRawLines {
			m.RawOutput = m.RawOutput[len(m.RawOutput)-maxRawLines:]
		}

	case results.EventProgress:
		m.Progress = evt.Output

	case results.EventRunStarted:
		m.currentRunID = evt.RunID

	case results.EventRunFinished:
		// stream statuses are settled when the run finishes, without
		// per-stream updates
		m.collector.WithRun(evt.RunID, func(run *results.Run) {
			for _, id := range run.StreamOrder {
				m.syncStream(run, id)
			}
			for _, tr := range run.TestResults {
				m.syncTest(tr)
			}
		})

	case results.EventStreamUpdated:
		m.collector.WithRun(evt.RunID, func(run *results.Run) {
			m.syncStream(run, evt.Stream)
		})

	case results.EventStreamError:
		m.stream(evt.Stream).LastError = evt.Output

	case results.EventTestUpdated:
		m.collector.WithRun(evt.RunID, func(run *results.Run) {
			if tr, ok := run.TestResults[evt.Stream+"/"+evt.TestName]; ok {
				m.syncTest(tr)
			}
		})
	}
}

func (m *Model) stream(id string) *StreamState {
	ss, ok := m.Streams[id]
	if !ok {
		ss = NewStreamState(id)
		m.Streams[id] = ss
		m.StreamOrder = append(m.StreamOrder, id)
	}
	return ss
}

func (m *Model) syncStream(run *results.Run, id string) {
	sr, ok := run.Streams[id]
	if !ok {
		return
	}
	ss := m.stream(id)
	ss.Status = sr.Status
	ss.Elapsed = sr.Elapsed
	ss.Counts = sr.Counts
}

func (m *Model) syncTest(tr *results.TestResult) {
	ss := m.stream(tr.Stream)
	ts, ok := ss.Tests[tr.Name]
	if !ok {
		ts = NewTestState(tr.Name, tr.Stream)
		ss.Tests[tr.Name] = ts
		ss.TestOrder = append(ss.TestOrder, tr.Name)
	}
	if tr.Status == results.StatusRunning && ts.Status != results.StatusRunning {
		// restarted
		ts.StartTime = time.Now()
	}
	if tr.Status != results.StatusRunning && ts.Status == results.StatusRunning {
		ts.Elapsed = tr.Elapsed()
		if ts.Elapsed == 0 {
			ts.Elapsed = time.Since(ts.StartTime)
		}
	}
	ts.Status = tr.Status
	ts.Message = tr.Message
}

// Counts sums the counts of every stream shown.
func (m *Model) Counts() results.Counts {
	var c results.Counts
	for _, ss := range m.Streams {
		c = c.Add(ss.Counts)
	}
	return c
}

// HasFailures returns true if any test failed or errored, or any stream broke
func (m *Model) HasFailures() bool {
	c := m.Counts()
	if c.Failed > 0 || c.Errored > 0 {
		return true
	}
	for _, ss := range m.Streams {
		if ss.LastError != "" {
			return true
		}
	}
	return false
}

// View renders the TUI
func (m *Model) View() string {
	return strings.TrimRight(format.ExpandTabs(m.render(), 8), "\n")
}

// String renders the TUI
func (m *Model) String() string {
	return m.View()
}

// formatElapsedTime formats elapsed time as X.Xs below a minute, X.Xm above.
func formatElapsedTime(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 0.05 {
		return "0.0s"
	}
	if seconds >= 60 {
		return fmt.Sprintf("%.1fm", seconds/60)
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// displayElapsed scales a running wall time to the recorded time when
// replaying at a rate other than 1.
func (m *Model) displayElapsed(running bool, current, final time.Duration) time.Duration {
	if m.ReplayMode && m.ReplayRate != 1.0 && m.ReplayRate != 0 {
		if running {
			return time.Duration(float64(current) / m.ReplayRate)
		}
		return final
	}
	return current
}

type renderItem struct {
	stream    string
	test      string
	priority  int
	startTime time.Time
}

// render renders raw output, one header per stream with its running
// tests, and a summary line. Test lines are elided to fit the terminal.
func (m *Model) render() string {
	var b strings.Builder

	for _, line := range m.RawOutput {
		b.WriteString("  ")
		b.WriteString(ensureReset(truncateLine(line, m.TerminalWidth-2)))
		b.WriteString("\n")
	}
	if len(m.RawOutput) > 0 {
		b.WriteString("\n")
	}

	widths := columnWidths{}
	for _, ss := range m.Streams {
		widths.fit(ss.Counts, formatElapsedTime(m.displayElapsed(ss.Status == results.StatusRunning, ss.GetElapsedTime(), ss.Elapsed)))
	}

	fixedLines := len(m.RawOutput)
	if len(m.RawOutput) > 0 {
		fixedLines++
	}
	fixedLines++ // summary line
	if len(m.StreamOrder) > 0 {
		fixedLines++ // separator
	}
	fixedLines += len(m.StreamOrder)
	for _, ss := range m.Streams {
		if ss.LastError != "" {
			fixedLines++
		}
	}
	available := max(m.TerminalHeight-fixedLines, 0)

	// running tests first, then failures, newest first within each group
	var items []renderItem
	for _, id := range m.StreamOrder {
		ss := m.Streams[id]
		if ss.Status != results.StatusRunning {
			continue
		}
		for _, name := range ss.TestOrder {
			ts := ss.Tests[name]
			priority := 3
			switch ts.Status {
			case results.StatusRunning:
				priority = 1
			case results.StatusFailed, results.StatusErrored, results.StatusInterrupted:
				priority = 2
			}
			items = append(items, renderItem{stream: id, test: name, priority: priority, startTime: ts.StartTime})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority < items[j].priority
		}
		return items[i].startTime.After(items[j].startTime)
	})
	shown := make(map[string]bool)
	for _, item := range items {
		if available == 0 {
			break
		}
		shown[item.stream+"/"+item.test] = true
		available--
	}

	for _, id := range m.StreamOrder {
		ss := m.Streams[id]
		m.renderStreamHeader(&b, ss, widths)
		if ss.LastError != "" {
			b.WriteString(ensureReset(truncateLine("    "+m.failStyle.Render(ss.LastError), m.TerminalWidth)))
			b.WriteString("\n")
		}
		if ss.Status != results.StatusRunning {
			continue
		}
		for _, name := range ss.TestOrder {
			if shown[id+"/"+name] {
				m.renderTest(&b, ss.Tests[name])
			}
		}
	}

	if len(m.StreamOrder) > 0 {
		b.WriteString(strings.Repeat("-", m.TerminalWidth))
		b.WriteString("\n")
	}

	m.renderSummaryLine(&b, widths.elapsed)
	return b.String()
}

type columnWidths struct {
	passed, failed, errored, skipped, elapsed int
}

func (w *columnWidths) fit(c results.Counts, elapsed string) {
	w.passed = max(w.passed, len(fmt.Sprint(c.Passed)))
	w.failed = max(w.failed, len(fmt.Sprint(c.Failed)))
	w.errored = max(w.errored, len(fmt.Sprint(c.Errored)))
	w.skipped = max(w.skipped, len(fmt.Sprint(c.Skipped)))
	w.elapsed = max(w.elapsed, len(elapsed))
}

func (m *Model) column(symbol string, width, n int, style lipgloss.Style) string {
	s := fmt.Sprintf("%s %*d", symbol, width, n)
	if n > 0 {
		return style.Render(s)
	}
	return m.neutralStyle.Render(s)
}

// renderStreamHeader renders the stream summary line
func (m *Model) renderStreamHeader(b *strings.Builder, ss *StreamState, w columnWidths) {
	running := ss.Status == results.StatusRunning
	elapsed := formatElapsedTime(m.displayElapsed(running, ss.GetElapsedTime(), ss.Elapsed))

	right := strings.Join([]string{
		m.column(format.SymbolPass, w.passed, ss.Counts.Passed, m.passStyle),
		m.column(format.SymbolFail, w.failed, ss.Counts.Failed, m.failStyle),
		m.column(format.SymbolError, w.errored, ss.Counts.Errored, m.failStyle),
		m.column(format.SymbolSkip, w.skipped, ss.Counts.Skipped, m.skipStyle),
		fmt.Sprintf("%*s", w.elapsed, elapsed),
	}, "  ")

	left := ss.ID
	if !running {
		left += " " + string(ss.Status)
	}

	prefix := "  "
	if running {
		prefix = m.getSpinnerPrefix(ss.Counts.Failed+ss.Counts.Errored > 0)
	}
	m.renderAlignedLine(b, left, right, prefix)
}

// renderTest renders a single test line
func (m *Model) renderTest(b *strings.Builder, ts *TestState) {
	running := ts.Status == results.StatusRunning
	elapsed := formatElapsedTime(m.displayElapsed(running, ts.GetElapsedTime(), ts.Elapsed))

	prefix := "    "
	left := ts.Name
	switch ts.Status {
	case results.StatusRunning:
		prefix = "  " + m.getSpinnerPrefix(false)
	case results.StatusPassed:
		left = m.passStyle.Render(format.SymbolPass) + " " + left
	case results.StatusFailed, results.StatusInterrupted:
		left = m.failStyle.Render(format.SymbolFail) + " " + left
	case results.StatusErrored:
		left = m.failStyle.Render(format.SymbolError) + " " + left
	case results.StatusSkipped:
		left = m.skipStyle.Render(format.SymbolSkip) + " " + left
	}
	m.renderAlignedLine(b, left, elapsed, prefix)
}

// getSpinnerPrefix returns the spinner string with appropriate color
func (m *Model) getSpinnerPrefix(failed bool) string {
	spinnerView := m.spinner.View()
	if failed {
		return m.failStyle.Render(spinnerView) + " "
	}
	return m.passStyle.Render(spinnerView) + " "
}

// renderAlignedLine renders a line with left-aligned and right-aligned content
func (m *Model) renderAlignedLine(b *strings.Builder, left, right, prefix string) {
	fullLeft := prefix + left

	if right == "" {
		b.WriteString(fullLeft)
		b.WriteString("\n")
		return
	}

	rightWidth := lipgloss.Width(right)
	available := max(m.TerminalWidth-rightWidth-2, 0)

	if lipgloss.Width(fullLeft) >= available {
		fullLeft = truncateLine(fullLeft, available)
	}
	padding := max(available-lipgloss.Width(fullLeft), 0)
	b.WriteString(fullLeft)
	b.WriteString("\033[0m")
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString("  ")
	b.WriteString(right)
	b.WriteString("\n")
}

// renderSummaryLine renders the final summary line
func (m *Model) renderSummaryLine(b *strings.Builder, wElapsed int) {
	c := m.Counts()

	elapsed := m.TotalElapsedTime
	if !m.Finished {
		elapsed = time.Since(m.StartTime)
	}
	if m.ReplayMode && m.ReplayRate != 1.0 && m.ReplayRate != 0 {
		elapsed = time.Duration(float64(elapsed) / m.ReplayRate)
	}
	elapsedStr := fmt.Sprintf("%*s", wElapsed, formatElapsedTime(elapsed))

	status := "RUNNING"
	if m.Finished {
		status = "PASSED"
		if m.HasFailures() {
			status = "FAILED"
		}
	}
	left := fmt.Sprintf("%s: %d passed, %d failed, %d errored, %d skipped, %d running, %d total",
		status, c.Passed, c.Failed, c.Errored, c.Skipped, c.Running, c.Total())
	if m.Progress != "" && !m.Finished {
		left += " [progress " + m.Progress + "]"
	}

	prefix := "  "
	if !m.Finished {
		prefix = m.getSpinnerPrefix(c.Failed+c.Errored > 0)
	}
	m.renderAlignedLine(b, left, elapsedStr, prefix)
}

// DisplaySummary computes the summary of the displayed run from the
// collector and writes it to w. It is called after the program exits,
// either on completion or on interrupt.
func (m *Model) DisplaySummary(w io.Writer, slowThreshold time.Duration) {
	if m.collector == nil {
		return
	}

	var summary *format.Summary
	m.collector.WithRun(m.currentRunID, func(run *results.Run) {
		summary = format.ComputeSummary(run, slowThreshold)
	})
	if summary == nil {
		return
	}

	formatter := format.NewSummaryFormatter(m.TerminalWidth)
	fmt.Fprintln(w)
	fmt.Fprintln(w, formatter.Format(summary))
}
