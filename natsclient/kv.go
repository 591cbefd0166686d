package natsclient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/pkg/retry"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operation behavior
type KVOptions struct {
	Retry   retry.Config  // CAS retry policy
	Timeout time.Duration // Per-operation timeout
}

// DefaultKVOptions returns defaults tuned for the reconciler's contention
// profile: many concurrent product-sync invocations racing on one record.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Retry:   retry.Contended(),
		Timeout: 5 * time.Second,
	}
}

// KVStore provides KV operations with revision-based CAS support over a
// JetStream KV bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore creates a KV store backed by the given bucket
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision for CAS operations. Returns
// errors.ErrKeyNotFound if the key does not exist.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, classifyKVError(err, "Get", key)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put creates or updates a key without a revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, classifyKVError(err, "Put", key)
	}
	return rev, nil
}

// Create only creates if the key doesn't exist. Returns errors.ErrKeyExists
// if another writer created it first.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, errors.ErrKeyExists
		}
		return 0, classifyKVError(err, "Create", key)
	}
	return rev, nil
}

// Update performs a CAS update with an explicit revision. Returns
// errors.ErrRevisionMismatch when a concurrent writer got there first.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, errors.ErrRevisionMismatch
		}
		return 0, classifyKVError(err, "Update", key)
	}
	return rev, nil
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return errors.ErrKeyNotFound
		}
		return classifyKVError(err, "Delete", key)
	}
	return nil
}

// Keys lists every key in the bucket. The underlying watcher handles
// pagination; an empty bucket yields an empty slice, not an error.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "no keys found") {
			return nil, nil
		}
		return nil, classifyKVError(err, "Keys", "")
	}
	return keys, nil
}

// UpdateWithRetry performs a read-modify-CAS loop with backoff on revision
// conflicts. If the key doesn't exist, updateFn receives nil and the write
// is a Create. updateFn may return retry.NonRetryable errors to abort.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	err := retry.Do(ctx, kv.options.Retry, func() error {
		var currentValue []byte
		var revision uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			currentValue = entry.Value
			revision = entry.Revision
		case errors.Is(err, errors.ErrKeyNotFound):
			// First writer for this key
		default:
			return err
		}

		newValue, err := updateFn(currentValue)
		if err != nil {
			return retry.NonRetryable(err)
		}
		if newValue == nil {
			// Update function decided no write is needed
			return nil
		}

		if revision == 0 {
			_, err = kv.Create(ctx, key, newValue)
		} else {
			_, err = kv.Update(ctx, key, newValue, revision)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, errors.ErrKeyExists) || errors.Is(err, errors.ErrRevisionMismatch) {
			kv.logger.Debug("KV CAS conflict, retrying", "key", key)
			return err // retried
		}
		return retry.NonRetryable(err)
	})

	if err != nil && (errors.Is(err, errors.ErrKeyExists) || errors.Is(err, errors.ErrRevisionMismatch)) {
		return errors.ErrMaxRetriesExceeded
	}
	return err
}

// classifyKVError maps raw JetStream errors onto the error taxonomy.
// Capacity exhaustion must stay distinguishable so pipeline stages can
// requeue instead of dropping work.
func classifyKVError(err error, op, key string) error {
	if IsKVCapacityError(err) {
		return errors.WrapTransient(errors.ErrCapacityExceeded, "KVStore", op, "write "+key)
	}
	return errors.Wrap(err, "KVStore", op, "access "+key)
}

// IsKVNotFoundError checks if an error indicates the key was not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// IsKVConflictError checks if an error indicates a conflict (key exists or
// wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrRevisionMismatch) || errors.Is(err, errors.ErrKeyExists) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "wrong last sequence") ||
		strings.Contains(errMsg, "10071") ||
		strings.Contains(errMsg, "key exists") ||
		strings.Contains(errMsg, "10058")
}

// IsKVCapacityError checks if an error indicates the backing stream is out
// of resources (the at-least-once contract requires these to be requeued)
func IsKVCapacityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrCapacityExceeded) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "insufficient storage resources") ||
		strings.Contains(errMsg, "resource limits exceeded") ||
		strings.Contains(errMsg, "maximum bytes exceeded") ||
		strings.Contains(errMsg, "10047")
}
