// Package sink persists per-source, per-day record snapshots and finds the
// newest snapshot for fallback and downstream consumers.
//
// Layout: {source}/{YYYY-MM-DD}/{YYYY-MM-DD}_{source}.{csv|xlsx} plus a tier
// sidecar {YYYY-MM-DD}_{source}.meta.json in the same directory.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-cli/internal/model"
)

// Meta is the tier sidecar written next to every snapshot.
type Meta struct {
	Source    string        `json:"source"`
	Date      string        `json:"date"`
	Tier      model.Outcome `json:"tier"`
	Records   int           `json:"records"`
	LiveError string        `json:"live_error,omitempty"`
	WrittenAt time.Time     `json:"written_at"`
}

// Ref locates one snapshot file.
type Ref struct {
	Source string
	Date   time.Time
	Key    string
	Format string
}

// Snapshot is a persisted record set with its tier. Meta is nil when the
// sidecar is missing; such snapshots are treated as live data.
type Snapshot struct {
	Ref
	Tier    model.Outcome
	Records []model.Record
	Meta    *Meta
}

// Options configures a Sink.
type Options struct {
	Format string // csv (default) or xlsx
	Now    func() time.Time
}

// Sink writes snapshots into a BlobStore.
type Sink struct {
	store  BlobStore
	format string
	now    func() time.Time
}

// New creates a Sink over store.
func New(store BlobStore, opts Options) (*Sink, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return nil, eris.Errorf("sink: unknown format %q", opts.Format)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sink{store: store, format: format, now: opts.Now}, nil
}

// Format returns the snapshot file format.
func (s *Sink) Format() string { return s.format }

// Key returns the snapshot key for source on date.
func Key(source string, date time.Time, format string) string {
	d := date.Format(model.DateLayout)
	return path.Join(source, d, d+"_"+source+"."+format)
}

// MetaKey returns the sidecar key for source on date.
func MetaKey(source string, date time.Time) string {
	d := date.Format(model.DateLayout)
	return path.Join(source, d, d+"_"+source+".meta.json")
}

// Write persists records for source on date, overwriting any snapshot for
// the same day. The tier sidecar is written first so a data file never
// exists without its tier; if the data write then fails, the sidecar still
// marks the day with the tier of the failed write. It returns the data key.
func (s *Sink) Write(ctx context.Context, source string, date time.Time, records []model.Record, tier model.Outcome, liveErr string) (string, error) {
	data, err := Encode(s.format, records)
	if err != nil {
		return "", err
	}
	key := Key(source, date, s.format)

	meta, err := json.MarshalIndent(Meta{
		Source:    source,
		Date:      date.Format(model.DateLayout),
		Tier:      tier,
		Records:   len(records),
		LiveError: liveErr,
		WrittenAt: s.now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "sink: marshal meta")
	}
	if err := s.store.Put(ctx, MetaKey(source, date), meta, "application/json"); err != nil {
		return "", eris.Wrapf(err, "sink: write meta for %s", key)
	}

	if err := s.store.Put(ctx, key, data, contentType(s.format)); err != nil {
		return "", eris.Wrapf(err, "sink: write snapshot %s", key)
	}
	return key, nil
}

func contentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Snapshots lists the snapshots for source, newest date first. When a day
// holds both formats the configured one is listed.
func (s *Sink) Snapshots(ctx context.Context, source string) ([]Ref, error) {
	keys, err := s.store.List(ctx, source+"/")
	if err != nil {
		return nil, eris.Wrapf(err, "sink: list snapshots for %s", source)
	}

	byDate := make(map[string]Ref)
	for _, key := range keys {
		ref, ok := parseKey(source, key)
		if !ok {
			continue
		}
		d := ref.Date.Format(model.DateLayout)
		if prev, seen := byDate[d]; seen && prev.Format == s.format {
			continue
		}
		byDate[d] = ref
	}

	refs := make([]Ref, 0, len(byDate))
	for _, ref := range byDate {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Date.After(refs[j].Date) })
	return refs, nil
}

// parseKey recognizes {source}/{date}/{date}_{source}.{csv|xlsx}.
func parseKey(source, key string) (Ref, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != source {
		return Ref{}, false
	}
	date, err := time.Parse(model.DateLayout, parts[1])
	if err != nil {
		return Ref{}, false
	}
	for _, format := range []string{FormatCSV, FormatXLSX} {
		if parts[2] == parts[1]+"_"+source+"."+format {
			return Ref{Source: source, Date: date, Key: key, Format: format}, true
		}
	}
	return Ref{}, false
}

// Read loads the snapshot at ref together with its sidecar.
func (s *Sink) Read(ctx context.Context, ref Ref) (*Snapshot, error) {
	data, err := s.store.Get(ctx, ref.Key)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: read snapshot %s", ref.Key)
	}
	records, err := Decode(ref.Format, data)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: decode snapshot %s", ref.Key)
	}

	snap := &Snapshot{Ref: ref, Tier: model.OutcomeSuccess, Records: records}
	raw, err := s.store.Get(ctx, MetaKey(ref.Source, ref.Date))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, eris.Wrapf(err, "sink: read meta for %s", ref.Key)
	default:
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, eris.Wrapf(err, "sink: decode meta for %s", ref.Key)
		}
		snap.Meta = &meta
		if meta.Tier != "" {
			snap.Tier = meta.Tier
		}
	}
	return snap, nil
}

// Latest returns the newest snapshot for source regardless of tier. It
// returns an error wrapping ErrNotFound when the source has none.
func (s *Sink) Latest(ctx context.Context, source string) (*Snapshot, error) {
	refs, err := s.Snapshots(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sink: no snapshots for %s", source)
	}
	return s.Read(ctx, refs[0])
}
