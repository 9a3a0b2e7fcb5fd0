package output

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/results"
	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func stream(input string) <-chan engine.Event {
	return engine.NewEngine().Stream(context.Background(), engine.Input{ID: "s1", Reader: strings.NewReader(input)})
}

func TestSimpleOutput_ProcessEvents_BasicTest(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithColors(false))
	require.NoError(t, simple.ProcessEvents(stream("building\ntest: TestFoo\nsuccess: TestFoo\n")))

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "building\n"))
	assert.Contains(t, output, "OVERALL RESULTS")
	assert.Contains(t, output, "PASSED: 1 passed, 0 failed, 0 errored, 0 skipped, 1 total\n")
	assert.False(t, simple.HasFailures())
}

func TestSimpleOutput_ProcessEvents_Failure(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithColors(false))
	require.NoError(t, simple.ProcessEvents(stream("test: TestFoo\nfailure: TestFoo [\nboom\n]\n")))

	output := buf.String()
	assert.Contains(t, output, "FAILURES\n")
	assert.Contains(t, output, "  TestFoo\n    boom\n")
	assert.Contains(t, output, "FAILED: 0 passed, 1 failed, 0 errored, 0 skipped, 1 total\n")
	assert.True(t, simple.HasFailures())
}

func TestSimpleOutput_StreamErrorLine(t *testing.T) {
	var out, errs bytes.Buffer
	simple := NewSimpleOutput(&out, WithErrorWriter(&errs), WithColors(false))
	require.NoError(t, simple.ProcessEvents(stream("test: a\nerror: a [\npartial")))

	line := errs.String()
	assert.True(t, strings.HasPrefix(line, "TruncatedStreamError: stream s1 test a: "), line)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.True(t, simple.HasFailures())
	assert.Contains(t, out.String(), "STREAM ERRORS")
}

func TestSimpleOutput_NoPassthrough(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithPassthrough(false), WithColors(false))
	require.NoError(t, simple.ProcessEvents(stream("noise\ntest: a\nsuccess: a\n")))
	assert.NotContains(t, buf.String(), "noise")
}

func TestSimpleOutput_YAML(t *testing.T) {
	var buf bytes.Buffer
	collector := results.NewCollector()
	simple := NewSimpleOutput(&buf, WithYAML(true), WithPassthrough(false), WithCollector(collector))
	require.NoError(t, simple.ProcessEvents(stream("test: a\nskip: a\n")))

	var report map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &report))
	assert.Contains(t, report, "streams")
	assert.Contains(t, report, "totals")

	run := collector.LastRun()
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Counts().Skipped)
}

func TestSimpleOutput_UnclosedChannel(t *testing.T) {
	events := make(chan engine.Event, 2)
	events <- engine.Event{Type: engine.EventTest, Stream: "s", Test: subunit.NewStart("a")}
	close(events)

	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithColors(false))
	require.NoError(t, simple.ProcessEvents(events))
	assert.Contains(t, buf.String(), "Unfinished:     1\n")
	assert.False(t, simple.HasFailures())
}

func TestSimpleOutput_Empty(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithColors(false))
	require.NoError(t, simple.ProcessEvents(stream("")))
	assert.Contains(t, buf.String(), "PASSED: 0 passed")
}
