package branch

import (
	"context"
	"log/slog"
	"slices"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/product"
)

// RecordGetter reads product records. *product.Store satisfies it.
type RecordGetter interface {
	Get(ctx context.Context, productKey string) (*product.Record, error)
}

// Assembler builds branch catalogs from the full local catalog plus stored
// product records.
type Assembler struct {
	products RecordGetter
	logger   *slog.Logger
}

// NewAssembler creates a branch catalog assembler
func NewAssembler(products RecordGetter, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		products: products,
		logger:   logger.With("component", "branch.Assembler"),
	}
}

// Assemble builds the catalog for one branch. Products still present in the
// full local catalog are carried over as-is. Products missing from it (ones
// the vendor has deprecated upstream) are restored from their stored record
// when that record attributes the product to this catalog, with URLs
// rewritten to urlBase. Branch members with no usable source are skipped.
//
// full must already be URL-rewritten; catalogName is the base file name of
// the local catalog being branched.
func (a *Assembler) Assemble(ctx context.Context, full *catalog.Catalog, b *Branch, catalogName, urlBase string) (*catalog.Catalog, error) {
	out := *full
	out.Products = make(map[string]catalog.Product, len(b.Products))

	for _, key := range b.Products {
		if entry, ok := full.Products[key]; ok {
			out.Products[key] = entry
			continue
		}

		entry, ok, err := a.deprecatedEntry(ctx, key, catalogName, urlBase)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.logger.Warn("branch product has no catalog entry, skipping",
				"branch", b.Name,
				"product_key", key,
				"catalog", catalogName,
			)
			continue
		}
		out.Products[key] = entry
	}

	return &out, nil
}

// deprecatedEntry recovers a product's catalog entry from its stored record.
// The entry is only usable for catalogs the product was ever listed in.
func (a *Assembler) deprecatedEntry(ctx context.Context, key, catalogName, urlBase string) (catalog.Product, bool, error) {
	rec, err := a.products.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.ErrProductNotFound) {
			return catalog.Product{}, false, nil
		}
		return catalog.Product{}, false, err
	}

	listed := slices.ContainsFunc(rec.OriginalAppleCatalogs, func(u string) bool {
		return catalog.BaseName(u) == catalogName
	})
	if !listed {
		return catalog.Product{}, false, nil
	}

	entry, err := rec.Entry()
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) || errors.IsInvalid(err) {
			a.logger.Warn("product record has no stored catalog entry",
				"product_key", key, "error", err)
			return catalog.Product{}, false, nil
		}
		return catalog.Product{}, false, err
	}

	return catalog.RewriteProductURLs(*entry, urlBase), true, nil
}
