package testutil

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/jacobfgrant/anejo/errors"
)

// FakeObjectStore is an in-memory object store with the same method set as
// natsclient.ObjectStore.
type FakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewFakeObjectStore creates an empty fake object store
func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{objects: make(map[string][]byte)}
}

// Exists checks whether an object exists at the given path
func (f *FakeObjectStore) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

// Put stores the reader's contents at the given path
func (f *FakeObjectStore) Put(ctx context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return f.PutBytes(ctx, path, data)
}

// PutBytes stores a byte slice at the given path
func (f *FakeObjectStore) PutBytes(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = slices.Clone(data)
	return nil
}

// GetBytes reads the object at the given path
func (f *FakeObjectStore) GetBytes(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[path]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return slices.Clone(data), nil
}

// Delete removes the object at the given path. Absent objects are a no-op.
func (f *FakeObjectStore) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	return nil
}

// DeleteAll removes every listed path, returning the paths actually deleted
func (f *FakeObjectStore) DeleteAll(_ context.Context, paths []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	deleted := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := f.objects[path]; !ok {
			continue
		}
		delete(f.objects, path)
		deleted = append(deleted, path)
	}
	return deleted, nil
}

// ListPrefix returns the sorted names of all objects under prefix
func (f *FakeObjectStore) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Paths returns the sorted names of every stored object
func (f *FakeObjectStore) Paths() []string {
	names, _ := f.ListPrefix(context.Background(), "")
	return names
}
