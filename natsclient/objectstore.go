package natsclient

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jacobfgrant/anejo/errors"
)

// ObjectStore wraps a JetStream object store bucket with the operations the
// mirror needs: existence checks for dedup, path-keyed uploads and reads,
// and prefix listing for download-status markers.
type ObjectStore struct {
	bucket jetstream.ObjectStore
	logger *slog.Logger
}

// NewObjectStore creates an object store wrapper backed by the given bucket
func (c *Client) NewObjectStore(bucket jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{
		bucket: bucket,
		logger: c.logger,
	}
}

// Exists checks whether an object exists at the given path
func (os *ObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.bucket.GetInfo(ctx, path)
	if err == nil {
		return true, nil
	}
	if isObjectNotFound(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "ObjectStore", "Exists", "stat "+path)
}

// Put streams an object into the store at the given path, overwriting any
// existing object.
func (os *ObjectStore) Put(ctx context.Context, path string, r io.Reader) error {
	_, err := os.bucket.Put(ctx, jetstream.ObjectMeta{Name: path}, r)
	if err != nil {
		if isObjectCapacityError(err) {
			return errors.WrapTransient(errors.ErrCapacityExceeded, "ObjectStore", "Put", "store "+path)
		}
		return errors.Wrap(err, "ObjectStore", "Put", "store "+path)
	}
	return nil
}

// PutBytes stores a byte slice at the given path
func (os *ObjectStore) PutBytes(ctx context.Context, path string, data []byte) error {
	return os.Put(ctx, path, bytes.NewReader(data))
}

// GetBytes reads the object at the given path. Returns errors.ErrKeyNotFound
// if the object does not exist.
func (os *ObjectStore) GetBytes(ctx context.Context, path string) ([]byte, error) {
	data, err := os.bucket.GetBytes(ctx, path)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "ObjectStore", "GetBytes", "read "+path)
	}
	return data, nil
}

// Delete removes the object at the given path. Deleting an absent object is
// a no-op.
func (os *ObjectStore) Delete(ctx context.Context, path string) error {
	err := os.bucket.Delete(ctx, path)
	if err != nil && !isObjectNotFound(err) {
		return errors.Wrap(err, "ObjectStore", "Delete", "delete "+path)
	}
	return nil
}

// DeleteAll removes every listed path, continuing past missing objects.
// Returns the paths actually deleted.
func (os *ObjectStore) DeleteAll(ctx context.Context, paths []string) ([]string, error) {
	deleted := make([]string, 0, len(paths))
	for _, path := range paths {
		exists, err := os.Exists(ctx, path)
		if err != nil {
			return deleted, err
		}
		if !exists {
			continue
		}
		if err := os.Delete(ctx, path); err != nil {
			return deleted, err
		}
		deleted = append(deleted, path)
	}
	return deleted, nil
}

// ListPrefix returns the names of all objects whose path begins with prefix.
// An empty bucket yields an empty slice.
func (os *ObjectStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	infos, err := os.bucket.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "ObjectStore", "ListPrefix", "list objects")
	}

	var names []string
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		if strings.HasPrefix(info.Name, prefix) {
			names = append(names, info.Name)
		}
	}
	return names, nil
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrObjectNotFound) ||
		strings.Contains(err.Error(), "object not found")
}

func isObjectCapacityError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "insufficient storage resources") ||
		strings.Contains(errMsg, "resource limits exceeded") ||
		strings.Contains(errMsg, "maximum bytes exceeded")
}
