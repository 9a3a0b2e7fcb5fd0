package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ansel1/subunit/internal/history"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sink.Close()) })

	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC)
	want := []history.Record{
		{RecordedAt: at, RunID: 1, Stream: "s1", TestID: "a", Status: "pass"},
		{RecordedAt: at.Add(time.Second), RunID: 1, Stream: "s2", TestID: "b", Status: "fail", Message: "boom\n"},
		{RecordedAt: at.Add(2 * time.Second), RunID: 1, Stream: "s1", TestID: "c", Status: "skip", Unmatched: true},
	}
	for _, r := range want {
		require.NoError(t, sink.Send(ctx, r))
	}

	got, err := sink.Records(ctx, "")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}

	s1, err := sink.Records(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, "c", s1[1].TestID)
}

func TestSQLiteSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	sink, err := New(path)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), history.Record{RecordedAt: time.Now(), RunID: 1, Stream: "s", TestID: "a", Status: "error"}))
	require.NoError(t, sink.Close())

	// schema creation is idempotent and data persists
	sink, err = New("sqlite://" + path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	got, err := sink.Records(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Status)
}

func TestNew_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.EqualError(t, err, "empty SQLite DSN")
}
