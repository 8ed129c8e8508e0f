package health

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/db"
)

// PostgresLog stores health records in permit_health.health_log. The table
// is created by db.Migrate.
type PostgresLog struct {
	pool db.Pool
}

// NewPostgresLog creates a PostgresLog backed by pool.
func NewPostgresLog(pool db.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Append inserts rec.
func (p *PostgresLog) Append(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO permit_health.health_log (source, status, record_count, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Source, string(rec.Outcome), rec.Count, rec.Detail, rec.At,
	)
	return eris.Wrapf(err, "postgres: insert health record for %s", rec.Source)
}

// LastSuccess returns the newest success time for source.
func (p *PostgresLog) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT recorded_at FROM permit_health.health_log
		 WHERE source = $1 AND status = 'success'
		 ORDER BY recorded_at DESC LIMIT 1`,
		source,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: last success for %s", source)
	}
	return &t, nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (p *PostgresLog) History(ctx context.Context, source string, limit int) ([]Record, error) {
	query := `SELECT status, record_count, detail, recorded_at FROM permit_health.health_log
		 WHERE source = $1 ORDER BY recorded_at DESC, id DESC`
	args := []any{source}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query history for %s", source)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{Source: source}
		var status string
		if err := rows.Scan(&status, &rec.Count, &rec.Detail, &rec.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan health record")
		}
		rec.Outcome = Outcome(status)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate history")
}

// Close is a no-op; the pool is owned by the caller.
func (p *PostgresLog) Close() error { return nil }
