package reporter

import (
	"bytes"
	"testing"

	"github.com/ansel1/subunit/subunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	require.NoError(t, r.ReportStart("case1"))
	assert.Equal(t, "test: case1\n", buf.String())

	buf.Reset()
	require.NoError(t, r.ReportFail("case1", "boom"))
	assert.Equal(t, "failure: case1 [\nboom\n]\n", buf.String())

	buf.Reset()
	require.NoError(t, r.ReportPass("case2"))
	assert.Equal(t, "success: case2\n", buf.String())

	buf.Reset()
	require.NoError(t, r.ReportError("case3", "panic: nil map\n"))
	assert.Equal(t, "error: case3 [\npanic: nil map\n]\n", buf.String())

	buf.Reset()
	require.NoError(t, r.ReportSkip("case4", ""))
	assert.Equal(t, "skip: case4\n", buf.String())
}

func TestReporter_EmptyNameIsInvalid(t *testing.T) {
	var buf bytes.Buffer
	err := New(&buf).ReportStart("")
	assert.ErrorIs(t, err, subunit.ErrInvalidEvent)
}

func TestReporter_BinaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, subunit.WithFormat(subunit.FormatBinary))
	require.NoError(t, r.ReportStart("case1"))
	require.NoError(t, r.ReportFail("case1", "boom"))

	d := subunit.NewDecoder(&buf)
	var got []subunit.Event
	for tok, err := range d.All() {
		require.NoError(t, err)
		got = append(got, tok.Event)
	}
	assert.Equal(t, []subunit.Event{
		subunit.NewStart("case1"),
		subunit.NewFail("case1", "boom\n"),
	}, got)
}
