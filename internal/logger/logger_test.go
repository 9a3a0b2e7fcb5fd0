package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(&buf, Config{Level: "warn"})
	require.NoError(t, err)
	defer closer.Close()

	log.Info("hidden")
	log.Warn("stream failed", "stream", "s1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "stream failed")
	assert.Contains(t, out, "stream=s1")
	assert.NotContains(t, out, "time=")
}

func TestNew_ColorHandler(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(&buf, Config{Level: "debug", Color: true})
	require.NoError(t, err)
	defer closer.Close()

	log.With("stream", "a").Error("boom")
	log.Debug("detail")
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\033[31mERROR\033[0m  "), out)
	assert.Contains(t, out, "msg=boom")
	assert.NotContains(t, out, `\x1b`)
	assert.Contains(t, out, "stream=a")
	assert.Contains(t, out, "\n\033[36mDEBUG\033[0m  ")
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subunit.log")
	var console bytes.Buffer
	log, closer, err := New(&console, Config{File: path})
	require.NoError(t, err)

	log.Info("decoded", "events", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "events=3")
	assert.Contains(t, string(data), "time=")
	assert.Contains(t, console.String(), "events=3")
}

func TestNew_NoSinks(t *testing.T) {
	log, closer, err := New(nil, Config{})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	log.Error("goes nowhere")
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, Config{Level: "chatty"})
	assert.Error(t, err)
}
