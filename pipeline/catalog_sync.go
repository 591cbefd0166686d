package pipeline

import (
	"context"
	"time"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/natsclient"
	"github.com/jacobfgrant/anejo/product"
)

// HandleCatalogSync processes one catalog-sync delivery: fetch the upstream
// catalog, archive the previously mirrored copy, store the fresh copy at the
// upstream path, fan out one product-sync message per product entry, and
// schedule the local catalog write.
func (p *Pipeline) HandleCatalogSync(ctx context.Context, data []byte) natsclient.Result {
	defer p.metrics.recordStage("catalog_sync", p.now())

	var msg CatalogSyncMessage
	if err := decode(data, &msg); err != nil {
		p.logger.Error("discarding undecodable catalog sync message", "error", err)
		p.metrics.recordCatalogSync("discarded")
		return natsclient.Drop()
	}

	logger := p.logger.With("catalog", msg.CatalogURL, "run_time", msg.RunTime)

	raw, err := p.replicator.Fetch(ctx, msg.CatalogURL)
	if err != nil {
		logger.Error("failed to fetch upstream catalog", "error", err)
		p.metrics.recordCatalogSync("error")
		return natsclient.ResultFromError(err)
	}

	cat, err := catalog.Parse(raw)
	if err != nil {
		// Retrying will fetch the same malformed document
		logger.Error("discarding unparseable catalog", "error", err)
		p.metrics.recordCatalogSync("discarded")
		return natsclient.Drop()
	}

	upstreamPath := catalog.PathForURL(msg.CatalogURL, catalog.RepoRoot, catalog.UpstreamSuffix)

	if err := p.archivePriorCatalog(ctx, upstreamPath); err != nil {
		logger.Error("failed to archive prior catalog", "error", err)
		p.metrics.recordCatalogSync("error")
		return natsclient.ResultFromError(err)
	}

	if err := p.objects.PutBytes(ctx, upstreamPath, raw); err != nil {
		logger.Error("failed to mirror catalog", "path", upstreamPath, "error", err)
		p.metrics.recordCatalogSync("error")
		return natsclient.ResultFromError(err)
	}

	subject := productSubject(msg.DownloadPackages)
	for key, entry := range cat.Products {
		compressed, err := product.Compress(entry)
		if err != nil {
			logger.Error("failed to compress product entry", "product_key", key, "error", err)
			p.metrics.recordCatalogSync("error")
			return natsclient.ResultFromError(err)
		}

		productMsg := ProductSyncMessage{
			CatalogURL:       msg.CatalogURL,
			RunTime:          msg.RunTime,
			DownloadPackages: msg.DownloadPackages,
			FastScan:         msg.FastScan,
			ProductKey:       key,
			ProductInfo:      compressed,
		}
		if err := p.publisher.PublishJSON(ctx, subject, productMsg); err != nil {
			// Redelivery republishes every product; product sync dedups by
			// run claim, so the fan-out stays effectively once.
			logger.Error("failed to publish product sync message", "product_key", key, "error", err)
			p.metrics.recordCatalogSync("error")
			return natsclient.ResultFromError(err)
		}
	}

	writeMsg := WriteCatalogMessage{
		CatalogURL: msg.CatalogURL,
		NotBefore:  p.now().Add(p.settings.WriteCatalogDelay).Unix(),
	}
	if err := p.publisher.PublishJSON(ctx, SubjectWriteCatalog, writeMsg); err != nil {
		logger.Error("failed to schedule catalog write", "error", err)
		p.metrics.recordCatalogSync("error")
		return natsclient.ResultFromError(err)
	}

	p.metrics.recordCatalogSync("ok")
	p.metrics.recordFanOut(len(cat.Products))
	logger.Info("catalog synced", "path", upstreamPath, "products", len(cat.Products))
	return natsclient.Ack()
}

// archivePriorCatalog preserves the previously mirrored catalog under the
// archive path derived from its own IndexDate. No prior copy is fine; a
// prior copy that no longer parses is archived under the current time rather
// than lost.
func (p *Pipeline) archivePriorCatalog(ctx context.Context, upstreamPath string) error {
	prior, err := p.objects.GetBytes(ctx, upstreamPath)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return nil
		}
		return err
	}

	indexDate := p.now().UTC()
	if priorCat, err := catalog.Parse(prior); err == nil && !priorCat.IndexDate.IsZero() {
		indexDate = priorCat.IndexDate
	}

	archivePath := catalog.ArchivePath(upstreamPath, indexDate)
	if err := p.objects.PutBytes(ctx, archivePath, prior); err != nil {
		return err
	}

	p.logger.Info("archived prior catalog",
		"path", upstreamPath,
		"archive_path", archivePath,
		"index_date", indexDate.Format(time.RFC3339),
	)
	return nil
}
