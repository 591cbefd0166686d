// Package prefs manages the repository preference file: a property list kept
// in the object store alongside the mirrored content, holding the settings
// that drive sync behavior (which upstream catalogs to pull, which
// localizations to prefer, and the URL base served to clients).
//
// Reads merge stored values over built-in defaults, so a missing file or a
// missing key still yields a usable value. Writes persist only the explicitly
// set keys.
package prefs

import (
	"bytes"
	"context"
	"log/slog"

	"howett.net/plist"

	"github.com/jacobfgrant/anejo/errors"
)

// Path is where the preference plist lives in the object store
const Path = "metadata/Preferences.plist"

// Well-known preference names
const (
	KeyCatalogURLs            = "AppleCatalogURLs"
	KeyPreferredLocalizations = "PreferredLocalizations"
	KeyURLBase                = "LocalCatalogURLBase"
)

// DefaultLocalizations is the distribution-language preference order used
// when no explicit preference is set.
var DefaultLocalizations = []string{"English", "en"}

// ObjectStore is the storage surface the preference store needs.
// natsclient.ObjectStore satisfies it.
type ObjectStore interface {
	GetBytes(ctx context.Context, path string) ([]byte, error)
	PutBytes(ctx context.Context, path string, data []byte) error
}

// Defaults seeds the built-in preference values a fresh repository starts
// with. Zero-value fields fall back to package defaults.
type Defaults struct {
	CatalogURLs   []string
	Localizations []string
	URLBase       string
}

// Store reads and writes repository preferences
type Store struct {
	objects  ObjectStore
	defaults map[string]any
	logger   *slog.Logger
}

// NewStore creates a preference store. catalogURLs becomes the default for
// AppleCatalogURLs when the preference file does not set one.
func NewStore(objects ObjectStore, catalogURLs []string, logger *slog.Logger) *Store {
	return NewStoreWithDefaults(objects, Defaults{CatalogURLs: catalogURLs}, logger)
}

// NewStoreWithDefaults creates a preference store with explicit defaults
func NewStoreWithDefaults(objects ObjectStore, defaults Defaults, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	localizations := defaults.Localizations
	if len(localizations) == 0 {
		localizations = DefaultLocalizations
	}
	return &Store{
		objects: objects,
		defaults: map[string]any{
			KeyCatalogURLs:            defaults.CatalogURLs,
			KeyPreferredLocalizations: localizations,
			KeyURLBase:                defaults.URLBase,
		},
		logger: logger.With("component", "prefs.Store"),
	}
}

// All returns every preference, with defaults filling in unset keys
func (s *Store) All(ctx context.Context) (map[string]any, error) {
	stored, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(stored)+len(s.defaults))
	for name, value := range s.defaults {
		merged[name] = value
	}
	for name, value := range stored {
		merged[name] = value
	}
	return merged, nil
}

// Get returns one preference value, falling back to its default. Returns
// errors.ErrPrefNotFound for names that are neither stored nor defaulted.
func (s *Store) Get(ctx context.Context, name string) (any, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := all[name]
	if !ok {
		return nil, errors.ErrPrefNotFound
	}
	return value, nil
}

// Set stores one preference value
func (s *Store) Set(ctx context.Context, name string, value any) error {
	stored, err := s.read(ctx)
	if err != nil {
		return err
	}
	stored[name] = value
	return s.write(ctx, stored)
}

// Delete removes a stored preference, reverting reads of it to the default.
// Deleting an unset preference is a no-op.
func (s *Store) Delete(ctx context.Context, name string) error {
	stored, err := s.read(ctx)
	if err != nil {
		return err
	}
	if _, ok := stored[name]; !ok {
		return nil
	}
	delete(stored, name)
	return s.write(ctx, stored)
}

// CatalogURLs returns the upstream catalogs to sync
func (s *Store) CatalogURLs(ctx context.Context) ([]string, error) {
	value, err := s.Get(ctx, KeyCatalogURLs)
	if err != nil {
		return nil, err
	}
	return toStringSlice(value), nil
}

// PreferredLocalizations returns the distribution-language preference order
func (s *Store) PreferredLocalizations(ctx context.Context) ([]string, error) {
	value, err := s.Get(ctx, KeyPreferredLocalizations)
	if err != nil {
		return nil, err
	}
	return toStringSlice(value), nil
}

// URLBase returns the URL base rewritten into served catalogs. Empty means
// catalogs keep their upstream URLs.
func (s *Store) URLBase(ctx context.Context) (string, error) {
	value, err := s.Get(ctx, KeyURLBase)
	if err != nil {
		return "", err
	}
	str, _ := value.(string)
	return str, nil
}

func (s *Store) read(ctx context.Context) (map[string]any, error) {
	data, err := s.objects.GetBytes(ctx, Path)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return map[string]any{}, nil
		}
		return nil, errors.Wrap(err, "Prefs", "read", "read preference file")
	}

	stored := map[string]any{}
	if _, err := plist.Unmarshal(data, &stored); err != nil {
		return nil, errors.WrapInvalid(err, "Prefs", "read", "parse preference file")
	}
	return stored, nil
}

func (s *Store) write(ctx context.Context, stored map[string]any) error {
	var buf bytes.Buffer
	encoder := plist.NewEncoderForFormat(&buf, plist.XMLFormat)
	encoder.Indent("\t")
	if err := encoder.Encode(stored); err != nil {
		return errors.Wrap(err, "Prefs", "write", "encode preference file")
	}

	if err := s.objects.PutBytes(ctx, Path, buf.Bytes()); err != nil {
		return errors.Wrap(err, "Prefs", "write", "store preference file")
	}
	return nil
}

// toStringSlice coerces a decoded plist array into []string. Non-string
// members are dropped.
func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
