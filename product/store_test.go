package product

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/distfile"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/testutil"
)

func newTestStore() (*Store, *testutil.FakeKV) {
	kv := testutil.NewFakeKV()
	return NewStore(kv, nil), kv
}

func TestRecordObservationFirstWriterClaims(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	prevRun, claimed, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Zero(t, prevRun)

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.RunTime)
	assert.Equal(t, []string{"cat-A"}, rec.AppleCatalogs)
}

func TestRecordObservationSameRunIsAdditive(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, claimed, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	require.True(t, claimed)

	// Second catalog in the same run joins the set instead of claiming
	prevRun, claimed, err := store.RecordObservation(ctx, "071-00001", 100, "cat-B")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(100), prevRun)

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat-A", "cat-B"}, rec.AppleCatalogs)
}

func TestRecordObservationIdempotent(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)

	before, err := kv.Get(ctx, "071-00001")
	require.NoError(t, err)

	// Repeating the same observation writes nothing
	prevRun, claimed, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(100), prevRun)

	after, err := kv.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestRecordObservationNewRunReclaims(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	_, _, err = store.RecordObservation(ctx, "071-00001", 100, "cat-B")
	require.NoError(t, err)

	// A later run resets the per-run set to the claiming catalog
	prevRun, claimed, err := store.RecordObservation(ctx, "071-00001", 200, "cat-B")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, int64(100), prevRun)

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, int64(200), rec.RunTime)
	assert.Equal(t, []string{"cat-B"}, rec.AppleCatalogs)
}

func TestRecordObservationSurvivesInterleavedWriter(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)

	// Another worker slips a write in between our read and our write once;
	// the CAS loop must retry and preserve both attributions.
	interfered := false
	kv.BeforeWrite = func(key string) {
		if interfered {
			return
		}
		interfered = true
		other := NewStore(kv, nil)
		_, _, err := other.RecordObservation(ctx, "071-00001", 100, "cat-C")
		require.NoError(t, err)
	}

	_, claimed, err := store.RecordObservation(ctx, "071-00001", 100, "cat-B")
	require.NoError(t, err)
	assert.False(t, claimed)

	kv.BeforeWrite = nil
	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat-A", "cat-B", "cat-C"}, rec.AppleCatalogs)
}

func sampleMetadata() Metadata {
	return Metadata{
		Title:       "Security Update 2023-001",
		Version:     "1.0",
		Size:        4096,
		Description: "Recommended for all users.",
		PostDate:    "2023-02-01 10:30:00",
		PkgRefs: map[string]distfile.PkgRef{
			"com.example.pkg": {Name: "SecUpd.pkg", RestartAction: "RequireRestart", Version: "1.0"},
		},
		Entry: &catalog.Product{
			ServerMetadataURL: "https://swdist.example.com/071-00001.smd",
			Packages: []catalog.Package{
				{URL: "https://swdist.example.com/071-00001.pkg", Size: 4096},
			},
			PostDate: time.Date(2023, 2, 1, 10, 30, 0, 0, time.UTC),
		},
	}
}

func TestReconcileMetadataPopulatesRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, "Security Update 2023-001", rec.Title)
	assert.Equal(t, "1.0", rec.Version)
	assert.Equal(t, int64(4096), rec.Size)
	assert.Equal(t, "2023-02-01 10:30:00", rec.PostDate)
	assert.Equal(t, "RequireRestart", rec.PkgRefs["com.example.pkg"].RestartAction)

	entry, err := rec.Entry()
	require.NoError(t, err)
	assert.Equal(t, "https://swdist.example.com/071-00001.smd", entry.ServerMetadataURL)
}

func TestReconcileMetadataAvoidsRedundantWrites(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	before, err := kv.Get(ctx, "071-00001")
	require.NoError(t, err)

	// Same metadata again, including a freshly built (but equal) catalog
	// entry: no revision change means no write happened.
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	after, err := kv.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestReconcileMetadataAccumulatesOriginalCatalogs(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	_, _, err = store.RecordObservation(ctx, "071-00001", 100, "cat-B")
	require.NoError(t, err)
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	// A later run sees the product only in cat-B; the lifetime set keeps
	// cat-A anyway.
	_, _, err = store.RecordObservation(ctx, "071-00001", 200, "cat-B")
	require.NoError(t, err)
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat-B"}, rec.AppleCatalogs)
	assert.Equal(t, []string{"cat-A", "cat-B"}, rec.OriginalAppleCatalogs)
	assert.True(t, isSubset(rec.AppleCatalogs, rec.OriginalAppleCatalogs))
}

func TestReconcileMetadataSkipsZeroFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", sampleMetadata()))

	// Empty fields must not clear previously reconciled values
	require.NoError(t, store.ReconcileMetadata(ctx, "071-00001", Metadata{Version: "1.1"}))

	rec, err := store.Get(ctx, "071-00001")
	require.NoError(t, err)
	assert.Equal(t, "1.1", rec.Version)
	assert.Equal(t, "Security Update 2023-001", rec.Title)
	assert.Equal(t, int64(4096), rec.Size)
}

func TestGetMissingRecord(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrProductNotFound))
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "071-00001"))
	require.NoError(t, store.Delete(ctx, "071-00001"))

	_, err = store.Get(ctx, "071-00001")
	assert.True(t, errors.Is(err, errors.ErrProductNotFound))
}

func TestAllSkipsUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	store, kv := newTestStore()

	_, _, err := store.RecordObservation(ctx, "071-00001", 100, "cat-A")
	require.NoError(t, err)
	_, err = kv.Put(ctx, "071-junk", []byte("not json"))
	require.NoError(t, err)

	records, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "071-00001", records[0].ProductKey)
}

func TestCompressRoundTrip(t *testing.T) {
	entry := sampleMetadata().Entry

	compressed, err := Compress(entry)
	require.NoError(t, err)
	assert.NotContains(t, compressed, "{", "compressed form must not be raw JSON")

	var decoded catalog.Product
	require.NoError(t, Decompress(compressed, &decoded))
	assert.Equal(t, *entry, decoded)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	var v catalog.Product
	err := Decompress("!!! not base64 !!!", &v)
	assert.True(t, errors.IsInvalid(err))

	err = Decompress("", &v)
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound))
}
