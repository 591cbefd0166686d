package product

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/distfile"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/natsclient"
)

// KV is the key-value surface the store needs. natsclient.KVStore satisfies
// it; tests substitute an in-memory implementation.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
}

// Store persists product records
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore creates a product store over the given bucket
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger.With("component", "product.Store"),
	}
}

// RecordObservation notes that productKey appeared in catalogID during the
// sync run identified by runTime. The first worker to write for a given run
// claims the record exclusively, resetting AppleCatalogs to just catalogID;
// workers that arrive after the claim add their catalog to the existing set.
//
// Returns the run time the record held before this write and whether this
// call made the exclusive claim. Callers use claimed to decide which worker
// proceeds with the expensive metadata fetch for this run.
func (s *Store) RecordObservation(ctx context.Context, productKey string, runTime int64, catalogID string) (prevRun int64, claimed bool, err error) {
	err = s.kv.UpdateWithRetry(ctx, productKey, func(current []byte) ([]byte, error) {
		rec := &Record{ProductKey: productKey}
		if current != nil {
			decoded, err := DecodeRecord(current)
			if err != nil {
				return nil, err
			}
			rec = decoded
		}

		prevRun = rec.RunTime
		claimed = false

		if rec.RunTime == runTime {
			// Claimed by another worker in this run; record the extra source
			catalogs, changed := addToSet(rec.AppleCatalogs, catalogID)
			if !changed {
				return nil, nil
			}
			rec.AppleCatalogs = catalogs
		} else {
			claimed = true
			rec.RunTime = runTime
			rec.AppleCatalogs = []string{catalogID}
		}

		return rec.encode()
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "Product", "RecordObservation", "record observation of "+productKey)
	}

	s.logger.Debug("recorded product observation",
		"product_key", productKey,
		"catalog", catalogID,
		"run_time", runTime,
		"claimed", claimed,
	)
	return prevRun, claimed, nil
}

// Metadata carries the fields extracted from a product's distribution file
// and upstream catalog entry. Zero-valued fields are left alone on the
// stored record rather than clearing it.
type Metadata struct {
	Title       string
	Version     string
	Size        int64
	Description string
	PostDate    string
	PkgRefs     map[string]distfile.PkgRef
	Entry       *catalog.Product
}

// ReconcileMetadata merges meta into the stored record, writing only when a
// field actually changed. The catalog entry is compared decompressed, so a
// recompression of identical content never causes a spurious write. The
// record's current AppleCatalogs are folded into OriginalAppleCatalogs here,
// keeping the lifetime attribution set a superset of the current run's.
func (s *Store) ReconcileMetadata(ctx context.Context, productKey string, meta Metadata) error {
	err := s.kv.UpdateWithRetry(ctx, productKey, func(current []byte) ([]byte, error) {
		rec := &Record{ProductKey: productKey}
		if current != nil {
			decoded, err := DecodeRecord(current)
			if err != nil {
				return nil, err
			}
			rec = decoded
		}

		changed := false

		if meta.Title != "" && meta.Title != rec.Title {
			rec.Title = meta.Title
			changed = true
		}
		if meta.Version != "" && meta.Version != rec.Version {
			rec.Version = meta.Version
			changed = true
		}
		if meta.Size != 0 && meta.Size != rec.Size {
			rec.Size = meta.Size
			changed = true
		}
		if meta.Description != "" && meta.Description != rec.Description {
			rec.Description = meta.Description
			changed = true
		}
		if meta.PostDate != "" && meta.PostDate != rec.PostDate {
			rec.PostDate = meta.PostDate
			changed = true
		}
		if len(meta.PkgRefs) > 0 && !reflect.DeepEqual(meta.PkgRefs, rec.PkgRefs) {
			rec.PkgRefs = meta.PkgRefs
			changed = true
		}

		if meta.Entry != nil {
			stored, err := rec.Entry()
			if err != nil || !reflect.DeepEqual(stored, meta.Entry) {
				compressed, err := Compress(meta.Entry)
				if err != nil {
					return nil, err
				}
				rec.CatalogEntry = compressed
				changed = true
			}
		}

		if !isSubset(rec.AppleCatalogs, rec.OriginalAppleCatalogs) {
			rec.OriginalAppleCatalogs, _ = addToSet(rec.OriginalAppleCatalogs, rec.AppleCatalogs...)
			changed = true
		}

		if !changed {
			return nil, nil
		}
		return rec.encode()
	})
	if err != nil {
		return errors.Wrap(err, "Product", "ReconcileMetadata", "reconcile metadata for "+productKey)
	}
	return nil
}

// Get retrieves one product record. Returns errors.ErrProductNotFound when
// no record exists for the key.
func (s *Store) Get(ctx context.Context, productKey string) (*Record, error) {
	entry, err := s.kv.Get(ctx, productKey)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return nil, errors.ErrProductNotFound
		}
		return nil, errors.Wrap(err, "Product", "Get", "read record "+productKey)
	}
	return DecodeRecord(entry.Value)
}

// Delete removes a product record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, productKey string) error {
	if err := s.kv.Delete(ctx, productKey); err != nil && !errors.Is(err, errors.ErrKeyNotFound) {
		return errors.Wrap(err, "Product", "Delete", "delete record "+productKey)
	}
	return nil
}

// Keys lists every product key in the store
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Product", "Keys", "list product keys")
	}
	return keys, nil
}

// All reads every product record. Records that fail to decode are skipped
// with a warning rather than failing the whole listing.
func (s *Store) All(ctx context.Context) ([]*Record, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, errors.ErrProductNotFound) {
				continue
			}
			if errors.IsInvalid(err) {
				s.logger.Warn("skipping undecodable product record", "product_key", key, "error", err)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
