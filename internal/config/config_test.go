package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "text", c.Format)
	assert.True(t, c.Passthrough)
	assert.Equal(t, "arrival", c.Order)
	assert.Equal(t, "error", c.Log.Level)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
	assert.Empty(t, c.History.DSN)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subunit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
format: binary
fail_fast: true
order: timestamp
log:
  level: debug
  file: /tmp/subunit.log
history:
  dsn: "sqlite://:memory:"
`), 0o644))

	t.Setenv("SUBUNIT_LOG_LEVEL", "error")
	t.Setenv("SUBUNIT_RESYNC", "true")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("format", "text", "")
	fs.String("metrics-addr", "", "")
	fs.Bool("no-success", false, "")
	require.NoError(t, fs.Parse([]string{"--metrics-addr", ":9100"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	c, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, "binary", c.Format, "unset flag does not override the file")
	assert.True(t, c.FailFast)
	assert.Equal(t, "timestamp", c.Order)
	assert.Equal(t, "error", c.Log.Level, "env overrides the file")
	assert.True(t, c.Resync)
	assert.Equal(t, "/tmp/subunit.log", c.Log.File)
	assert.Equal(t, ":9100", c.Metrics.Addr)
	assert.Equal(t, "sqlite://:memory:", c.History.DSN)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("format: xml\n"), 0o644))

	_, err := Load(New(), path)
	assert.EqualError(t, err, `invalid format "xml": want text or binary`)
}

func TestValidate_Order(t *testing.T) {
	c := &Config{Format: "text", Order: "random"}
	assert.Error(t, c.Validate())
	c.Order = "timestamp"
	assert.NoError(t, c.Validate())
}
