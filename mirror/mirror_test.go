package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/testutil"
)

func TestReplicateStoresAtMirroredPath(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("package bytes"))
	}))
	defer server.Close()

	objects := testutil.NewFakeObjectStore()
	repl := NewReplicator(objects, nil)

	path, copied, err := repl.Replicate(ctx, server.URL+"/content/downloads/Update.pkg", false)
	require.NoError(t, err)
	assert.True(t, copied)
	assert.Equal(t, "html/content/downloads/Update.pkg", path)

	data, err := objects.GetBytes(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "package bytes", string(data))
}

func TestReplicateOnlyIfMissingSkipsExisting(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	objects := testutil.NewFakeObjectStore()
	require.NoError(t, objects.PutBytes(ctx, "html/content/downloads/Update.pkg", []byte("cached")))

	repl := NewReplicator(objects, nil)
	_, copied, err := repl.Replicate(ctx, server.URL+"/content/downloads/Update.pkg", true)
	require.NoError(t, err)
	assert.False(t, copied)
	assert.Zero(t, hits.Load(), "existing objects must not be re-fetched")

	data, err := objects.GetBytes(ctx, "html/content/downloads/Update.pkg")
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestReplicateOverwritesWhenForced(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	objects := testutil.NewFakeObjectStore()
	require.NoError(t, objects.PutBytes(ctx, "html/content/downloads/Update.pkg", []byte("cached")))

	repl := NewReplicator(objects, nil)
	_, copied, err := repl.Replicate(ctx, server.URL+"/content/downloads/Update.pkg", false)
	require.NoError(t, err)
	assert.True(t, copied)

	data, err := objects.GetBytes(ctx, "html/content/downloads/Update.pkg")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestFetchReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("catalog content"))
	}))
	defer server.Close()

	repl := NewReplicator(testutil.NewFakeObjectStore(), nil)
	data, err := repl.Fetch(context.Background(), server.URL+"/index.sucatalog")
	require.NoError(t, err)
	assert.Equal(t, "catalog content", string(data))
}

func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	repl := NewReplicator(testutil.NewFakeObjectStore(), nil)
	_, err := repl.Fetch(context.Background(), server.URL+"/index.sucatalog")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, errors.Is(err, errors.ErrFetchFailed))
}

func TestNotFoundIsInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	repl := NewReplicator(testutil.NewFakeObjectStore(), nil)
	_, _, err := repl.Replicate(context.Background(), server.URL+"/gone.pkg", false)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, errors.Is(err, errors.ErrFetchFailed))
}

func TestConnectionErrorIsTransient(t *testing.T) {
	// Grab a port that nothing listens on
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	repl := NewReplicator(testutil.NewFakeObjectStore(), nil)
	_, err := repl.Fetch(context.Background(), url+"/index.sucatalog")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
