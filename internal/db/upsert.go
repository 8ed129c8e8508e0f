package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed merge into one table.
type UpsertConfig struct {
	Table        string   // schema-qualified target, e.g. "permit_data.permits"
	Columns      []string // column order of every row
	ConflictKeys []string // unique constraint the merge is keyed on
	// NewerThan names a column that guards updates: an existing row is only
	// replaced when the incoming value is not older. Empty means always.
	NewerThan string
}

// Upsert is a validated merge statement. Rows are COPYed into a temp table
// that is dropped on commit and merged with INSERT ... ON CONFLICT.
type Upsert struct {
	table   string
	columns []string
	temp    string
	create  string
	merge   string
}

// NewUpsert validates cfg and prepares the merge SQL.
func NewUpsert(cfg UpsertConfig) (*Upsert, error) {
	if cfg.Table == "" {
		return nil, eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return nil, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return nil, eris.New("db: upsert: no conflict keys specified")
	}
	for _, k := range append(slices.Clone(cfg.ConflictKeys), cfg.NewerThan) {
		if k != "" && !slices.Contains(cfg.Columns, k) {
			return nil, eris.Errorf("db: upsert: %s is not one of the columns", k)
		}
	}

	var set []string
	for _, c := range cfg.Columns {
		if slices.Contains(cfg.ConflictKeys, c) {
			continue
		}
		id := pgx.Identifier{c}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}
	if len(set) == 0 {
		return nil, eris.New("db: upsert: every column is a conflict key")
	}

	target := sanitizeTable(cfg.Table)
	temp := "_merge_" + strings.ReplaceAll(cfg.Table, ".", "_")
	cols := quoteAndJoin(cfg.Columns)

	merge := fmt.Sprintf("INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, cols, cols, pgx.Identifier{temp}.Sanitize(), quoteAndJoin(cfg.ConflictKeys), strings.Join(set, ", "))
	if cfg.NewerThan != "" {
		id := pgx.Identifier{cfg.NewerThan}.Sanitize()
		merge += fmt.Sprintf(" WHERE t.%s <= EXCLUDED.%s", id, id)
	}

	return &Upsert{
		table:   cfg.Table,
		columns: slices.Clone(cfg.Columns),
		temp:    temp,
		create: fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pgx.Identifier{temp}.Sanitize(), target),
		merge: merge,
	}, nil
}

// MustUpsert is NewUpsert for static configurations; it panics on error.
func MustUpsert(cfg UpsertConfig) *Upsert {
	u, err := NewUpsert(cfg)
	if err != nil {
		panic(err)
	}
	return u
}

// SQL returns the merge statement.
func (u *Upsert) SQL() string { return u.merge }

// Exec merges rows in one transaction and returns the number of rows
// inserted or updated. Rows must not repeat a conflict key.
func (u *Upsert) Exec(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, r := range rows {
		if len(r) != len(u.columns) {
			return 0, eris.Errorf("db: upsert %s: row %d has %d values, want %d", u.table, i, len(r), len(u.columns))
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", u.table)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, u.create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create temp table", u.table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{u.temp}, u.columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy rows", u.table)
	}
	tag, err := tx.Exec(ctx, u.merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", u.table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", u.table)
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
