// Package store keeps a queryable SQLite history of alerts alongside the text
// alert log.
//
// The database runs in WAL mode with a single connection, so the sink's
// synchronous writes and the CLI's or API's reads never contend for the lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

const writeTimeout = 5 * time.Second

// tsLayout is fixed width so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const ddl = `
CREATE TABLE IF NOT EXISTS alerts (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    ts       TEXT    NOT NULL,
    severity INTEGER NOT NULL,
    source   TEXT    NOT NULL,
    message  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (ts);
CREATE INDEX IF NOT EXISTS idx_alerts_source ON alerts (source, id);
`

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a throwaway database for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		ddl,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: init %q: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Write inserts one record. The Seq of the record is not stored; the sink
// renumbers records on every start.
func (s *Store) Write(rec model.AlertRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.Insert(ctx, rec)
}

// Insert is Write with a caller-supplied context.
func (s *Store) Insert(ctx context.Context, rec model.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, severity, source, message) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(tsLayout),
		int(rec.Severity),
		rec.Source,
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// Query filters the history. Zero values disable a filter. When Limit is set,
// the most recent Limit matches are returned.
type Query struct {
	MinSeverity model.Severity
	Source      string
	Since       time.Time
	Limit       int
}

func (q Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.MinSeverity.Valid() {
		conds = append(conds, "severity >= ?")
		args = append(args, int(q.MinSeverity))
	}
	if q.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, q.Source)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UTC().Format(tsLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching records oldest first. Seq is the row id.
func (s *Store) Query(ctx context.Context, q Query) ([]model.AlertRecord, error) {
	where, args := q.where()
	stmt := `SELECT id, ts, severity, source, message FROM alerts` + where + ` ORDER BY id`
	if q.Limit > 0 {
		stmt = `SELECT * FROM (SELECT id, ts, severity, source, message FROM alerts` + where +
			` ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []model.AlertRecord
	for rows.Next() {
		var (
			rec   model.AlertRecord
			id    int64
			tsStr string
			sev   int
		)
		if err := rows.Scan(&id, &tsStr, &sev, &rec.Source, &rec.Message); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.Seq = uint64(id)
		rec.Severity = model.Severity(sev)
		rec.Timestamp, err = time.Parse(tsLayout, tsStr)
		if err != nil {
			rec.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

// Count returns the number of records matching q, ignoring q.Limit.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	where, args := q.where()
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
