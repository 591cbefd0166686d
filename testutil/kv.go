// Package testutil provides in-memory fakes for the NATS-backed storage and
// queue surfaces, so store and pipeline logic can be tested without a server.
// All fakes are safe for concurrent use.
package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/natsclient"
)

// FakeKV is an in-memory key-value store with the same revision-checked
// write semantics as natsclient.KVStore. The BeforeWrite hook fires inside
// UpdateWithRetry between the read and the write, letting tests interleave a
// conflicting writer to exercise CAS retry paths.
type FakeKV struct {
	mu       sync.Mutex
	entries  map[string]fakeKVEntry
	revision uint64

	BeforeWrite func(key string)
}

type fakeKVEntry struct {
	value    []byte
	revision uint64
}

// NewFakeKV creates an empty fake KV bucket
func NewFakeKV() *FakeKV {
	return &FakeKV{entries: make(map[string]fakeKVEntry)}
}

// Get retrieves a value with its revision
func (f *FakeKV) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return &natsclient.KVEntry{
		Key:      key,
		Value:    slices.Clone(entry.value),
		Revision: entry.revision,
	}, nil
}

// Put writes a value without a revision check
func (f *FakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(key, value), nil
}

// Create writes a value only if the key is absent
func (f *FakeKV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[key]; ok {
		return 0, errors.ErrKeyExists
	}
	return f.write(key, value), nil
}

// Update writes a value only if the stored revision matches
func (f *FakeKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok || entry.revision != revision {
		return 0, errors.ErrRevisionMismatch
	}
	return f.write(key, value), nil
}

// Delete removes a key. Deleting an absent key returns errors.ErrKeyNotFound
// to match the real store.
func (f *FakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.entries[key]; !ok {
		return errors.ErrKeyNotFound
	}
	delete(f.entries, key)
	return nil
}

// Keys lists every key in the bucket, sorted
func (f *FakeKV) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.entries))
	for key := range f.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// UpdateWithRetry mirrors natsclient.KVStore's read-modify-CAS loop. updateFn
// returning a nil slice means no write is needed.
func (f *FakeKV) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var currentValue []byte
		var revision uint64

		entry, err := f.Get(ctx, key)
		switch {
		case err == nil:
			currentValue = entry.Value
			revision = entry.Revision
		case errors.Is(err, errors.ErrKeyNotFound):
		default:
			return err
		}

		newValue, err := updateFn(currentValue)
		if err != nil {
			return err
		}
		if newValue == nil {
			return nil
		}

		if hook := f.BeforeWrite; hook != nil {
			hook(key)
		}

		if revision == 0 {
			_, err = f.Create(ctx, key, newValue)
		} else {
			_, err = f.Update(ctx, key, newValue, revision)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrKeyExists) && !errors.Is(err, errors.ErrRevisionMismatch) {
			return err
		}
	}
	return errors.ErrMaxRetriesExceeded
}

// Len reports how many keys the bucket holds
func (f *FakeKV) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *FakeKV) write(key string, value []byte) uint64 {
	f.revision++
	f.entries[key] = fakeKVEntry{value: slices.Clone(value), revision: f.revision}
	return f.revision
}
