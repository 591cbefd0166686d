// Package pipeline orchestrates the queue-driven catalog sync: a trigger
// stamps one run time and fans out per-catalog messages; the catalog stage
// mirrors each catalog and fans out per-product messages; the product stage
// enriches product records exactly once per run; the write stage produces
// the filtered local catalog and every branch catalog.
//
// Handlers are stateless and idempotent. Delivery is at-least-once, so every
// effect is either naturally repeatable (overwriting the same object) or
// guarded by the product record's run claim.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jacobfgrant/anejo/branch"
	"github.com/jacobfgrant/anejo/config"
	"github.com/jacobfgrant/anejo/metric"
	"github.com/jacobfgrant/anejo/mirror"
	"github.com/jacobfgrant/anejo/prefs"
	"github.com/jacobfgrant/anejo/product"
)

// markerPrefix is where per-product download-status markers live in the
// object store. A zero-length object at markerPrefix+key means the product's
// content is mirrored and it may appear in local catalogs.
const markerPrefix = "metadata/DownloadStatus/"

// MarkerPath returns the download-status marker path for a product key
func MarkerPath(productKey string) string {
	return markerPrefix + productKey
}

// Publisher publishes pipeline messages. natsclient.Client satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, payload any) error
}

// ObjectStore is the storage surface the pipeline needs.
// natsclient.ObjectStore satisfies it.
type ObjectStore interface {
	PutBytes(ctx context.Context, path string, data []byte) error
	GetBytes(ctx context.Context, path string) ([]byte, error)
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Pipeline wires the sync stages to their dependencies
type Pipeline struct {
	publisher  Publisher
	objects    ObjectStore
	replicator *mirror.Replicator
	products   *product.Store
	branches   *branch.Store
	assembler  *branch.Assembler
	prefs      *prefs.Store
	settings   config.Settings
	logger     *slog.Logger
	metrics    *pipelineMetrics

	// now stamps run times; replaced in tests
	now func() time.Time
}

// New creates the pipeline. A nil registry disables metrics.
func New(
	publisher Publisher,
	objects ObjectStore,
	replicator *mirror.Replicator,
	products *product.Store,
	branches *branch.Store,
	preferences *prefs.Store,
	settings config.Settings,
	registry *metric.Registry,
	logger *slog.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newPipelineMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		publisher:  publisher,
		objects:    objects,
		replicator: replicator,
		products:   products,
		branches:   branches,
		assembler:  branch.NewAssembler(products, logger),
		prefs:      preferences,
		settings:   settings,
		logger:     logger.With("component", "pipeline"),
		metrics:    metrics,
		now:        time.Now,
	}, nil
}

// SyncRepo triggers a sync run: one run time stamped once, one catalog-sync
// message per configured upstream catalog. Returns the run time and the
// catalog URLs it fanned out to.
func (p *Pipeline) SyncRepo(ctx context.Context, downloadPackages, fastScan bool) (int64, []string, error) {
	urls, err := p.prefs.CatalogURLs(ctx)
	if err != nil {
		return 0, nil, err
	}

	runTime := p.now().Unix()
	for _, url := range urls {
		msg := CatalogSyncMessage{
			CatalogURL:       url,
			RunTime:          runTime,
			DownloadPackages: downloadPackages,
			FastScan:         fastScan,
		}
		if err := p.publisher.PublishJSON(ctx, SubjectCatalogSync, msg); err != nil {
			return 0, nil, err
		}
	}

	p.metrics.recordRunTriggered()
	p.logger.Info("sync run triggered",
		"run_time", runTime,
		"catalogs", len(urls),
		"download_packages", downloadPackages,
		"fast_scan", fastScan,
	)
	return runTime, urls, nil
}

// productSubject picks the product stage queue for a catalog message
func productSubject(downloadPackages bool) string {
	if downloadPackages {
		return SubjectProductDownload
	}
	return SubjectProductSync
}
