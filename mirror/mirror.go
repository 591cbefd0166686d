// Package mirror copies upstream content into the local object store,
// preserving the upstream URL path as the storage path so served URLs map
// one-to-one onto mirrored objects.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/errors"
)

// ObjectStore is the storage surface the replicator needs.
// natsclient.ObjectStore satisfies it.
type ObjectStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Put(ctx context.Context, path string, r io.Reader) error
	PutBytes(ctx context.Context, path string, data []byte) error
}

// Replicator fetches upstream URLs and stores them locally
type Replicator struct {
	objects ObjectStore
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Replicator
type Option func(*Replicator)

// WithHTTPClient overrides the HTTP client used for upstream fetches
func WithHTTPClient(client *http.Client) Option {
	return func(r *Replicator) { r.client = client }
}

// NewReplicator creates a replicator writing into objects
func NewReplicator(objects ObjectStore, logger *slog.Logger, opts ...Option) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Replicator{
		objects: objects,
		// Package downloads can be multi-gigabyte; the timeout bounds the
		// whole response body read.
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: logger.With("component", "mirror.Replicator"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replicate copies the content at rawURL into the object store at its
// mirrored path, streaming the body. With onlyIfMissing set, an object
// already at the path is left alone and copied reports false.
func (r *Replicator) Replicate(ctx context.Context, rawURL string, onlyIfMissing bool) (path string, copied bool, err error) {
	path = catalog.PathForURL(rawURL, catalog.RepoRoot, "")

	if onlyIfMissing {
		exists, err := r.objects.Exists(ctx, path)
		if err != nil {
			return path, false, err
		}
		if exists {
			r.logger.Debug("object already mirrored, skipping", "path", path)
			return path, false, nil
		}
	}

	body, err := r.get(ctx, rawURL)
	if err != nil {
		return path, false, err
	}
	defer body.Close()

	if err := r.objects.Put(ctx, path, body); err != nil {
		return path, false, err
	}

	r.logger.Info("mirrored upstream object", "url", rawURL, "path", path)
	return path, true, nil
}

// Fetch retrieves the content at rawURL into memory, for content that must
// be parsed as well as stored.
func (r *Replicator) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := r.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: read %s: %w", errors.ErrFetchFailed, rawURL, err),
			"Mirror", "Fetch", "read response body")
	}
	return data, nil
}

// get issues the upstream request, classifying failures: connection errors
// and server errors are transient, client errors are not.
func (r *Replicator) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Mirror", "get", "build request for "+rawURL)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: get %s: %w", errors.ErrFetchFailed, rawURL, err),
			"Mirror", "get", "fetch upstream")
	}

	switch {
	case resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: get %s: status %d", errors.ErrFetchFailed, rawURL, resp.StatusCode),
			"Mirror", "get", "fetch upstream")
	default:
		resp.Body.Close()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: get %s: status %d", errors.ErrFetchFailed, rawURL, resp.StatusCode),
			"Mirror", "get", "fetch upstream")
	}
}
