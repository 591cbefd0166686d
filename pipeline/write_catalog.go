package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/natsclient"
)

// HandleWriteCatalog processes one write-local-catalog delivery: rewrite the
// mirrored upstream catalog to the local URL base, drop products whose
// content is not mirrored yet, write the local catalog, then assemble and
// write every branch catalog from it.
func (p *Pipeline) HandleWriteCatalog(ctx context.Context, data []byte) natsclient.Result {
	defer p.metrics.recordStage("write_catalog", p.now())

	var msg WriteCatalogMessage
	if err := decode(data, &msg); err != nil {
		p.logger.Error("discarding undecodable write catalog message", "error", err)
		return natsclient.Drop()
	}

	// The write is deliberately delayed so the product stage has time to
	// mirror content; redeliver until the hold-off passes.
	if wait := time.Unix(msg.NotBefore, 0).Sub(p.now()); wait > 0 {
		return natsclient.Retry(wait)
	}

	logger := p.logger.With("catalog", msg.CatalogURL)

	upstreamPath := catalog.PathForURL(msg.CatalogURL, catalog.RepoRoot, catalog.UpstreamSuffix)
	raw, err := p.objects.GetBytes(ctx, upstreamPath)
	if err != nil {
		// Absent means the catalog stage has not mirrored it yet
		logger.Error("mirrored catalog unavailable", "path", upstreamPath, "error", err)
		return natsclient.ResultFromError(err)
	}

	cat, err := catalog.Parse(raw)
	if err != nil {
		logger.Error("discarding unparseable mirrored catalog", "error", err)
		return natsclient.Drop()
	}

	urlBase, err := p.prefs.URLBase(ctx)
	if err != nil {
		return natsclient.ResultFromError(err)
	}
	rewritten := catalog.RewriteCatalogURLs(cat, urlBase)

	mirrored, err := p.mirroredProducts(ctx)
	if err != nil {
		return natsclient.ResultFromError(err)
	}

	localCat := *rewritten
	localCat.Products = make(map[string]catalog.Product, len(rewritten.Products))
	excluded := 0
	for key, entry := range rewritten.Products {
		if !mirrored[key] {
			logger.Info("excluding product without download status", "product_key", key)
			excluded++
			continue
		}
		localCat.Products[key] = entry
	}
	p.metrics.recordExcluded(excluded)

	localPath := catalog.LocalPathForUpstream(upstreamPath)
	if err := p.writeCatalog(ctx, &localCat, localPath); err != nil {
		logger.Error("failed to write local catalog", "path", localPath, "error", err)
		return natsclient.ResultFromError(err)
	}
	p.metrics.recordCatalogWritten("local")
	logger.Info("local catalog written",
		"path", localPath,
		"products", len(localCat.Products),
		"excluded", excluded,
	)

	if err := p.writeBranchCatalogs(ctx, &localCat, localPath, urlBase); err != nil {
		logger.Error("failed to write branch catalogs", "error", err)
		return natsclient.ResultFromError(err)
	}

	return natsclient.Ack()
}

// mirroredProducts returns the set of product keys with download-status
// markers.
func (p *Pipeline) mirroredProducts(ctx context.Context) (map[string]bool, error) {
	names, err := p.objects.ListPrefix(ctx, markerPrefix)
	if err != nil {
		return nil, err
	}

	mirrored := make(map[string]bool, len(names))
	for _, name := range names {
		mirrored[strings.TrimPrefix(name, markerPrefix)] = true
	}
	return mirrored, nil
}

// writeBranchCatalogs assembles and writes one catalog per branch, derived
// from the just-written local catalog.
func (p *Pipeline) writeBranchCatalogs(ctx context.Context, localCat *catalog.Catalog, localPath, urlBase string) error {
	names, err := p.branches.List(ctx)
	if err != nil {
		return err
	}

	catalogName := catalog.BaseName(localPath)
	for _, name := range names {
		b, err := p.branches.Get(ctx, name)
		if err != nil {
			return err
		}

		branchCat, err := p.assembler.Assemble(ctx, localCat, b, catalogName, urlBase)
		if err != nil {
			return err
		}

		branchPath := catalog.BranchCatalogPath(localPath, name)
		if err := p.writeCatalog(ctx, branchCat, branchPath); err != nil {
			return err
		}

		p.metrics.recordCatalogWritten("branch")
		p.logger.Info("branch catalog written",
			"branch", name,
			"path", branchPath,
			"products", len(branchCat.Products),
		)
	}
	return nil
}

// writeCatalog stamps the catalog's name from its storage path and stores
// the encoded plist.
func (p *Pipeline) writeCatalog(ctx context.Context, cat *catalog.Catalog, path string) error {
	stamped := *cat
	stamped.CatalogName = catalog.BaseName(path)

	encoded, err := catalog.Encode(&stamped)
	if err != nil {
		return err
	}
	return p.objects.PutBytes(ctx, path, encoded)
}
