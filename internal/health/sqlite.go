package health

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register driver
)

// sqliteTime is fixed-width so text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteLog stores health records in a local SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS health_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	detail       TEXT    NOT NULL DEFAULT '',
	recorded_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_log_source_recorded ON health_log(source, recorded_at);
`

// NewSQLiteLog opens the database at dsn, configures WAL mode and creates
// the health_log table.
func NewSQLiteLog(ctx context.Context, dsn string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteLog{db: db}, nil
}

// Append inserts rec.
func (s *SQLiteLog) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_log (source, status, record_count, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Source, string(rec.Outcome), rec.Count, rec.Detail, rec.At.UTC().Format(sqliteTime),
	)
	return eris.Wrapf(err, "sqlite: insert health record for %s", rec.Source)
}

// LastSuccess returns the newest success time for source.
func (s *SQLiteLog) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT recorded_at FROM health_log WHERE source = ? AND status = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		source, string(OutcomeSuccess),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", source)
	}
	at, err := time.Parse(sqliteTime, raw)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse recorded_at %q", raw)
	}
	return &at, nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (s *SQLiteLog) History(ctx context.Context, source string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, record_count, detail, recorded_at FROM health_log
		 WHERE source = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		source, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query history for %s", source)
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		var (
			rec    = Record{Source: source}
			status string
			raw    string
		)
		if err := rows.Scan(&status, &rec.Count, &rec.Detail, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan health record")
		}
		rec.Outcome = Outcome(status)
		if rec.At, err = time.Parse(sqliteTime, raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse recorded_at %q", raw)
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

// Close closes the database.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}
