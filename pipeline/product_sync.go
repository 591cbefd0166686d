package pipeline

import (
	"context"
	"log/slog"
	"slices"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/distfile"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/natsclient"
	"github.com/jacobfgrant/anejo/product"
)

// HandleProductSync processes one product-sync delivery. The observation
// write claims the (product, run) pair; only the claiming delivery proceeds
// to mirror content and reconcile metadata, so redeliveries and concurrent
// workers for the same run ack without repeating the expensive work.
func (p *Pipeline) HandleProductSync(ctx context.Context, data []byte) natsclient.Result {
	defer p.metrics.recordStage("product_sync", p.now())

	var msg ProductSyncMessage
	if err := decode(data, &msg); err != nil {
		p.logger.Error("discarding undecodable product sync message", "error", err)
		p.metrics.recordProductSync("discarded")
		return natsclient.Drop()
	}

	logger := p.logger.With(
		"product_key", msg.ProductKey,
		"catalog", msg.CatalogURL,
		"run_time", msg.RunTime,
	)

	var entry catalog.Product
	if err := product.Decompress(msg.ProductInfo, &entry); err != nil {
		logger.Error("discarding product message with corrupt entry", "error", err)
		p.metrics.recordProductSync("discarded")
		return natsclient.Drop()
	}

	prevRun, claimed, err := p.products.RecordObservation(ctx, msg.ProductKey, msg.RunTime, msg.CatalogURL)
	if err != nil {
		logger.Error("failed to record product observation", "error", err)
		p.metrics.recordProductSync("error")
		return natsclient.ResultFromError(err)
	}
	if !claimed {
		logger.Debug("product already claimed for this run, skipping", "prev_run", prevRun)
		p.metrics.recordProductSync("duplicate")
		return natsclient.Ack()
	}

	if err := p.mirrorProductContent(ctx, msg, entry); err != nil {
		logger.Error("failed to mirror product content", "error", err)
		p.metrics.recordProductSync("error")
		return natsclient.ResultFromError(err)
	}

	meta, err := p.extractMetadata(ctx, logger, entry)
	if err != nil {
		if errors.Is(err, errors.ErrNoUsableDist) {
			// No distribution in any acceptable language; nothing more this
			// run can do with the product.
			logger.Warn("no usable distribution file, abandoning product")
			p.metrics.recordProductSync("no_dist")
			return natsclient.Drop()
		}
		p.metrics.recordProductSync("error")
		return natsclient.ResultFromError(err)
	}

	if err := p.products.ReconcileMetadata(ctx, msg.ProductKey, meta); err != nil {
		logger.Error("failed to reconcile product metadata", "error", err)
		p.metrics.recordProductSync("error")
		return natsclient.ResultFromError(err)
	}

	// The zero-length marker admits the product into written local catalogs
	if err := p.objects.PutBytes(ctx, markerPrefix+msg.ProductKey, nil); err != nil {
		logger.Error("failed to write download status marker", "error", err)
		p.metrics.recordProductSync("error")
		return natsclient.ResultFromError(err)
	}

	p.metrics.recordProductSync("enriched")
	logger.Info("product synced", "title", meta.Title, "version", meta.Version)
	return natsclient.Ack()
}

// mirrorProductContent replicates the product's content on download runs:
// server metadata, packages, and every localization's distribution file, so
// each URL a rewritten catalog can point at resolves against the mirror.
// Metadata-only runs replicate nothing here. Fast scans skip content that is
// already mirrored.
func (p *Pipeline) mirrorProductContent(ctx context.Context, msg ProductSyncMessage, entry catalog.Product) error {
	if !msg.DownloadPackages {
		return nil
	}
	onlyIfMissing := msg.FastScan

	if entry.ServerMetadataURL != "" {
		if _, _, err := p.replicator.Replicate(ctx, entry.ServerMetadataURL, onlyIfMissing); err != nil {
			return err
		}
	}

	for _, pkg := range entry.Packages {
		if pkg.URL != "" {
			if _, _, err := p.replicator.Replicate(ctx, pkg.URL, onlyIfMissing); err != nil {
				return err
			}
		}
		if pkg.MetadataURL != "" {
			if _, _, err := p.replicator.Replicate(ctx, pkg.MetadataURL, onlyIfMissing); err != nil {
				return err
			}
		}
	}

	for _, distURL := range entry.Distributions {
		if distURL == "" {
			continue
		}
		if _, _, err := p.replicator.Replicate(ctx, distURL, onlyIfMissing); err != nil {
			return err
		}
	}
	return nil
}

// extractMetadata mirrors the preferred-language distribution file and
// parses it into the metadata candidate for reconciliation.
func (p *Pipeline) extractMetadata(ctx context.Context, logger *slog.Logger, entry catalog.Product) (product.Metadata, error) {
	distURL, err := p.pickDistribution(ctx, entry)
	if err != nil {
		return product.Metadata{}, err
	}

	raw, err := p.replicator.Fetch(ctx, distURL)
	if err != nil {
		return product.Metadata{}, err
	}
	if err := p.objects.PutBytes(ctx, catalog.PathForURL(distURL, catalog.RepoRoot, ""), raw); err != nil {
		return product.Metadata{}, err
	}

	dist, err := distfile.Parse(raw)
	if err != nil {
		return product.Metadata{}, err
	}
	if dist.Title == "" && dist.Version == "" {
		logger.Warn("distribution file yielded no metadata", "dist_url", distURL)
	}

	meta := product.Metadata{
		Title:       dist.Title,
		Version:     dist.Version,
		Size:        entry.TotalPackageSize(),
		Description: dist.Description,
		PkgRefs:     dist.PkgRefs,
		Entry:       &entry,
	}
	if !entry.PostDate.IsZero() {
		meta.PostDate = entry.PostDate.UTC().Format("2006-01-02 15:04:05")
	}
	return meta, nil
}

// pickDistribution chooses the distribution URL in the most preferred
// available language: the configured preference order, then English, then
// en. Returns errors.ErrNoUsableDist when no acceptable language exists.
func (p *Pipeline) pickDistribution(ctx context.Context, entry catalog.Product) (string, error) {
	preferred, err := p.prefs.PreferredLocalizations(ctx)
	if err != nil {
		return "", err
	}

	order := slices.Clone(preferred)
	for _, fallback := range []string{"English", "en"} {
		if !slices.Contains(order, fallback) {
			order = append(order, fallback)
		}
	}

	for _, lang := range order {
		if distURL, ok := entry.Distributions[lang]; ok && distURL != "" {
			return distURL, nil
		}
	}
	return "", errors.ErrNoUsableDist
}
