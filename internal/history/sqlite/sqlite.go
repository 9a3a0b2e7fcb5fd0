package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ansel1/subunit/internal/history"
)

// Sink writes test outcomes to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// each connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// recorded_at holds unix nanoseconds
	stmt := `CREATE TABLE IF NOT EXISTS test_results(
		recorded_at INTEGER NOT NULL,
		run_id INTEGER NOT NULL,
		stream TEXT NOT NULL,
		test_id TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		unmatched INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, r history.Record) error {
	var msg sql.NullString
	if r.Message != "" {
		msg = sql.NullString{String: r.Message, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_results(recorded_at, run_id, stream, test_id, status, message, unmatched)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		r.RecordedAt.UTC().UnixNano(), r.RunID, r.Stream, r.TestID, r.Status, msg, r.Unmatched)
	return err
}

// Records returns every stored outcome of the given stream, or of all
// streams when stream is empty, oldest first.
func (s *Sink) Records(ctx context.Context, stream string) ([]history.Record, error) {
	query := `SELECT recorded_at, run_id, stream, test_id, status, message, unmatched FROM test_results`
	var args []any
	if stream != "" {
		query += ` WHERE stream = ?`
		args = append(args, stream)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Record
	for rows.Next() {
		var (
			r     history.Record
			nanos int64
			msg   sql.NullString
		)
		if err := rows.Scan(&nanos, &r.RunID, &r.Stream, &r.TestID, &r.Status, &msg, &r.Unmatched); err != nil {
			return nil, err
		}
		r.RecordedAt = time.Unix(0, nanos).UTC()
		r.Message = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
