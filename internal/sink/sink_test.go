package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/permit-cli/internal/model"
)

var writtenAt = time.Date(2025, 6, 15, 5, 30, 0, 0, time.UTC)

func newTestSink(t *testing.T, format string) (*Sink, *LocalStore) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	s, err := New(store, Options{Format: format, Now: func() time.Time { return writtenAt }})
	require.NoError(t, err)
	return s, store
}

func day(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC) }

func TestKeys(t *testing.T) {
	assert.Equal(t, "phoenix/2025-06-15/2025-06-15_phoenix.csv", Key("phoenix", day(15), FormatCSV))
	assert.Equal(t, "phoenix/2025-06-15/2025-06-15_phoenix.meta.json", MetaKey("phoenix", day(15)))
}

func TestWrite_LayoutAndSidecar(t *testing.T) {
	s, store := newTestSink(t, "")
	ctx := context.Background()

	key, err := s.Write(ctx, "phoenix", day(15), sampleRecords(), model.OutcomeFallbackHistorical, "timeout after 4 attempts")
	require.NoError(t, err)
	assert.Equal(t, "phoenix/2025-06-15/2025-06-15_phoenix.csv", key)

	_, err = os.Stat(filepath.Join(store.Root(), "phoenix", "2025-06-15", "2025-06-15_phoenix.csv"))
	require.NoError(t, err)

	raw, err := store.Get(ctx, MetaKey("phoenix", day(15)))
	require.NoError(t, err)
	var meta Meta
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, Meta{
		Source:    "phoenix",
		Date:      "2025-06-15",
		Tier:      model.OutcomeFallbackHistorical,
		Records:   2,
		LiveError: "timeout after 4 attempts",
		WrittenAt: writtenAt,
	}, meta)
}

func TestLatest_NewestDate(t *testing.T) {
	s, _ := newTestSink(t, FormatCSV)
	ctx := context.Background()

	_, err := s.Write(ctx, "phoenix", day(13), sampleRecords()[:1], model.OutcomeSuccess, "")
	require.NoError(t, err)
	_, err = s.Write(ctx, "phoenix", day(14), sampleRecords(), model.OutcomeFallbackSynthetic, "parse")
	require.NoError(t, err)
	_, err = s.Write(ctx, "tucson", day(15), sampleRecords(), model.OutcomeSuccess, "")
	require.NoError(t, err)

	snap, err := s.Latest(ctx, "phoenix")
	require.NoError(t, err)
	assert.Equal(t, day(14), snap.Date)
	assert.Equal(t, model.OutcomeFallbackSynthetic, snap.Tier)
	assert.Len(t, snap.Records, 2)
	require.NotNil(t, snap.Meta)

	refs, err := s.Snapshots(ctx, "phoenix")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, day(14), refs[0].Date)
	assert.Equal(t, day(13), refs[1].Date)
}

func TestLatest_None(t *testing.T) {
	s, _ := newTestSink(t, FormatCSV)
	_, err := s.Latest(context.Background(), "phoenix")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRead_MissingSidecarIsSuccess(t *testing.T) {
	s, store := newTestSink(t, FormatCSV)
	ctx := context.Background()

	data, err := Encode(FormatCSV, sampleRecords())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, Key("mesa", day(10), FormatCSV), data, "text/csv"))

	snap, err := s.Latest(ctx, "mesa")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, snap.Tier)
	assert.Nil(t, snap.Meta)
	assert.Equal(t, sampleRecords(), snap.Records)
}

func TestSnapshots_IgnoresForeignFiles(t *testing.T) {
	s, store := newTestSink(t, FormatXLSX)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "mesa/notes.txt", []byte("x"), ""))
	require.NoError(t, store.Put(ctx, "mesa/2025-06-10/readme.csv", []byte("x"), ""))
	require.NoError(t, store.Put(ctx, "mesa/June/June_mesa.csv", []byte("x"), ""))
	_, err := s.Write(ctx, "mesa", day(11), sampleRecords(), model.OutcomeSuccess, "")
	require.NoError(t, err)

	refs, err := s.Snapshots(ctx, "mesa")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, FormatXLSX, refs[0].Format)

	snap, err := s.Read(ctx, refs[0])
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), snap.Records)
}

func TestWrite_OverwritesSameDay(t *testing.T) {
	s, _ := newTestSink(t, FormatCSV)
	ctx := context.Background()

	_, err := s.Write(ctx, "mesa", day(11), sampleRecords(), model.OutcomeSuccess, "")
	require.NoError(t, err)
	_, err = s.Write(ctx, "mesa", day(11), sampleRecords()[:1], model.OutcomeSuccess, "")
	require.NoError(t, err)

	snap, err := s.Latest(ctx, "mesa")
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(nil, Options{Format: "parquet"})
	require.Error(t, err)
}

type failMetaStore struct {
	BlobStore
}

func (f failMetaStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if filepath.Ext(key) == ".json" {
		return errors.New("bucket quota exceeded")
	}
	return f.BlobStore.Put(ctx, key, data, contentType)
}

func TestWrite_SidecarFailureLeavesNoData(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	s, err := New(failMetaStore{BlobStore: store}, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Write(ctx, "lakeside", day(15), sampleRecords(), model.OutcomeFallbackSynthetic, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket quota exceeded")

	refs, err := s.Snapshots(ctx, "lakeside")
	require.NoError(t, err)
	assert.Empty(t, refs)
}
