package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/branch"
	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/prefs"
	"github.com/jacobfgrant/anejo/product"
	"github.com/jacobfgrant/anejo/testutil"
)

// fakeSyncer records sync triggers
type fakeSyncer struct {
	downloadPackages bool
	fastScan         bool
	calls            int
}

func (f *fakeSyncer) SyncRepo(_ context.Context, downloadPackages, fastScan bool) (int64, []string, error) {
	f.calls++
	f.downloadPackages = downloadPackages
	f.fastScan = fastScan
	return 1234, []string{"https://swscan.example.com/index.sucatalog"}, nil
}

type fixture struct {
	server   *Server
	branches *branch.Store
	products *product.Store
	prefs    *prefs.Store
	objects  *testutil.FakeObjectStore
	syncer   *fakeSyncer
}

func newFixture() *fixture {
	objects := testutil.NewFakeObjectStore()
	branches := branch.NewStore(testutil.NewFakeKV(), nil)
	products := product.NewStore(testutil.NewFakeKV(), nil)
	preferences := prefs.NewStore(objects, []string{"https://swscan.example.com/index.sucatalog"}, nil)
	syncer := &fakeSyncer{}

	return &fixture{
		server:   NewServer(":0", branches, products, preferences, objects, syncer, nil),
		branches: branches,
		products: products,
		prefs:    preferences,
		objects:  objects,
		syncer:   syncer,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCatalogLifecycle(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/catalogs/stable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/catalogs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"stable"}, body["catalogs"])

	rec = f.do(t, http.MethodPost, "/catalogs/stable/071-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/catalogs/stable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, []any{"071-00001"}, body["product_keys"])

	rec = f.do(t, http.MethodDelete, "/catalogs/stable/071-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/catalogs/stable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/catalogs/stable", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.branches.Create(ctx, "testing"))
	require.NoError(t, f.branches.Add(ctx, "testing", "071-00001"))
	require.NoError(t, f.branches.Create(ctx, "stable"))

	rec := f.do(t, http.MethodPost, "/catalogs/stable/copy/testing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"071-00001"}, body["copied_product_keys"])

	// Idempotent: nothing new the second time
	rec = f.do(t, http.MethodPost, "/catalogs/stable/copy/testing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, []any{}, body["copied_product_keys"])
}

func TestCatalogCopyMissingSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.branches.Create(ctx, "stable"))

	rec := f.do(t, http.MethodPost, "/catalogs/stable/copy/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddProductToMissingCatalog(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/catalogs/nope/071-00001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedProduct(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	_, _, err := f.products.RecordObservation(ctx, "071-00001", 100,
		"https://swscan.example.com/index.sucatalog")
	require.NoError(t, err)
	require.NoError(t, f.products.ReconcileMetadata(ctx, "071-00001", product.Metadata{
		Title:    "Security Update",
		Version:  "1.0",
		Size:     4096,
		PostDate: "2023-02-01 10:30:00",
		Entry: &catalog.Product{
			ServerMetadataURL: "https://swdist.example.com/a.smd",
			Packages:          []catalog.Package{{URL: "https://swcdn.example.com/a.pkg", Size: 4096}},
			PostDate:          time.Date(2023, 2, 1, 10, 30, 0, 0, time.UTC),
		},
	}))
}

func TestListProductsProjection(t *testing.T) {
	f := newFixture()
	seedProduct(t, f)

	rec := f.do(t, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Products []productSummary `json:"products"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Products, 1)
	assert.Equal(t, "071-00001", body.Products[0].ProductKey)
	assert.Equal(t, "Security Update", body.Products[0].Title)
	assert.Equal(t, "2023-02-01", body.Products[0].PostDate, "listing shows the date only")
}

func TestGetProductDecompressesEntry(t *testing.T) {
	f := newFixture()
	seedProduct(t, f)

	rec := f.do(t, http.MethodGet, "/products/071-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	entry, ok := body["CatalogEntry"].(map[string]any)
	require.True(t, ok, "catalog entry must be served decompressed")
	assert.Equal(t, "https://swdist.example.com/a.smd", entry["ServerMetadataURL"])
}

func TestGetMissingProduct(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/products/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurgeProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedProduct(t, f)

	// Mirrored content and marker that the purge must remove
	require.NoError(t, f.objects.PutBytes(ctx, "html/a.smd", []byte("meta")))
	require.NoError(t, f.objects.PutBytes(ctx, "html/a.pkg", []byte("pkg")))
	require.NoError(t, f.objects.PutBytes(ctx, "metadata/DownloadStatus/071-00001", nil))

	rec := f.do(t, http.MethodDelete, "/products/071-00001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["deleted_objects"], 3)

	assert.Empty(t, f.objects.Paths())

	rec = f.do(t, http.MethodGet, "/products/071-00001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrefsLifecycle(t *testing.T) {
	f := newFixture()

	// Default visible before any write
	rec := f.do(t, http.MethodGet, "/prefs/LocalCatalogURLBase", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "", body["value"])

	rec = f.do(t, http.MethodPost, "/prefs/LocalCatalogURLBase",
		`{"value": "https://updates.example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/prefs/LocalCatalogURLBase", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "https://updates.example.org", body["value"])

	rec = f.do(t, http.MethodGet, "/prefs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Contains(t, body, "AppleCatalogURLs")

	rec = f.do(t, http.MethodDelete, "/prefs/LocalCatalogURLBase", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/prefs/LocalCatalogURLBase", "")
	body = decodeBody(t, rec)
	assert.Equal(t, "", body["value"])
}

func TestGetUnknownPref(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/prefs/NoSuchPref", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetPrefRequiresValue(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/prefs/Thing", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/prefs/Thing", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/sync", `{"download_packages": true, "fast_scan": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1234), body["run_time"])
	assert.Equal(t, 1, f.syncer.calls)
	assert.True(t, f.syncer.downloadPackages)
	assert.True(t, f.syncer.fastScan)
}

func TestTriggerSyncEmptyBody(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.syncer.downloadPackages)
	assert.True(t, f.syncer.fastScan, "fast_scan defaults on when unspecified")
}

func TestTriggerSyncExplicitFullScan(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/sync", `{"fast_scan": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.syncer.fastScan)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/catalogs", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "trace-me", rec.Header().Get("X-Request-ID"))

	// Absent header gets a generated ID
	rec = f.do(t, http.MethodGet, "/catalogs", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
