// Package warehouse mirrors fetched permit records into Postgres.
package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/db"
	"github.com/sells-group/permit-cli/internal/dedup"
	"github.com/sells-group/permit-cli/internal/model"
)

// Table is the mirror target.
const Table = "permit_data.permits"

var columns = []string{
	"source", "permit_number", "address", "permit_type", "value",
	"issued_date", "status", "snapshot_date", "tier", "updated_at",
}

// permits merges on (source, permit_number); a re-run of an older snapshot
// never overwrites a row mirrored from a newer one.
var permits = db.MustUpsert(db.UpsertConfig{
	Table:        Table,
	Columns:      columns,
	ConflictKeys: []string{"source", "permit_number"},
	NewerThan:    "snapshot_date",
})

// Mirror upserts records keyed by (source, permit_number).
type Mirror struct {
	pool db.Pool
	now  func() time.Time
}

// New creates a Mirror over pool.
func New(pool db.Pool) *Mirror {
	return &Mirror{pool: pool, now: time.Now}
}

// Mirror writes records for source. Rows from a snapshot date at or after
// the stored one overwrite it; older ones are left alone.
func (m *Mirror) Mirror(ctx context.Context, source string, date time.Time, tier model.Outcome, records []model.Record) error {
	records, dropped := dedup.New().Filter(records)
	if len(records) == 0 {
		return nil
	}

	snapshot := model.TruncateDay(date)
	updated := m.now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			source, r.Identifier, r.Address, r.Category, r.EstimatedValue,
			model.TruncateDay(r.IssuedAt), r.Status, snapshot, string(tier), updated,
		})
	}

	n, err := permits.Exec(ctx, m.pool, rows)
	if err != nil {
		return eris.Wrapf(err, "warehouse: mirror %s", source)
	}

	zap.L().Debug("warehouse: mirrored records",
		zap.String("source", source),
		zap.Int64("rows", n),
		zap.Int("duplicates", dropped),
	)
	return nil
}
