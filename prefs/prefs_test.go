package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/testutil"
)

var testCatalogURLs = []string{"https://swscan.example.com/content/catalogs/index-10.14.sucatalog"}

func newTestStore() (*Store, *testutil.FakeObjectStore) {
	objects := testutil.NewFakeObjectStore()
	return NewStore(objects, testCatalogURLs, nil), objects
}

func TestDefaultsWithoutPreferenceFile(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	urls, err := store.CatalogURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCatalogURLs, urls)

	locs, err := store.PreferredLocalizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"English", "en"}, locs)

	base, err := store.URLBase(ctx)
	require.NoError(t, err)
	assert.Empty(t, base)
}

func TestExplicitDefaultsSeedValues(t *testing.T) {
	ctx := context.Background()
	store := NewStoreWithDefaults(testutil.NewFakeObjectStore(), Defaults{
		CatalogURLs:   testCatalogURLs,
		Localizations: []string{"French", "fr"},
		URLBase:       "https://updates.example.org",
	}, nil)

	locs, err := store.PreferredLocalizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"French", "fr"}, locs)

	base, err := store.URLBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://updates.example.org", base)
}

func TestSetOverridesDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Set(ctx, KeyURLBase, "https://updates.example.org"))

	base, err := store.URLBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://updates.example.org", base)

	// Other defaults are untouched
	urls, err := store.CatalogURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCatalogURLs, urls)
}

func TestSetListPreferenceRoundTrips(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Set(ctx, KeyPreferredLocalizations, []string{"German", "de"}))

	locs, err := store.PreferredLocalizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"German", "de"}, locs)
}

func TestDeleteRevertsToDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Set(ctx, KeyURLBase, "https://updates.example.org"))
	require.NoError(t, store.Delete(ctx, KeyURLBase))

	base, err := store.URLBase(ctx)
	require.NoError(t, err)
	assert.Empty(t, base)

	// Deleting an unset preference is fine
	require.NoError(t, store.Delete(ctx, KeyURLBase))
}

func TestGetUnknownPreference(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Get(context.Background(), "NoSuchPref")
	assert.True(t, errors.Is(err, errors.ErrPrefNotFound))
}

func TestCustomPreferenceSurvivesOthers(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	require.NoError(t, store.Set(ctx, "CustomSetting", "hello"))
	require.NoError(t, store.Set(ctx, KeyURLBase, "https://updates.example.org"))

	value, err := store.Get(ctx, "CustomSetting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "CustomSetting")
	assert.Contains(t, all, KeyCatalogURLs)
}

func TestPreferenceFileIsPlist(t *testing.T) {
	ctx := context.Background()
	store, objects := newTestStore()

	require.NoError(t, store.Set(ctx, KeyURLBase, "https://updates.example.org"))

	data, err := objects.GetBytes(ctx, Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<plist")
	assert.Contains(t, string(data), "LocalCatalogURLBase")
}

func TestCorruptPreferenceFile(t *testing.T) {
	ctx := context.Background()
	store, objects := newTestStore()

	require.NoError(t, objects.PutBytes(ctx, Path, []byte("<plist><dict>")))

	_, err := store.All(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
