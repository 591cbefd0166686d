package http

import (
	"net/http"
	"strings"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/pipeline"
	"github.com/jacobfgrant/anejo/product"
)

// productSummary is the listing projection of a product record
type productSummary struct {
	ProductKey string `json:"product_key"`
	Title      string `json:"title,omitempty"`
	Version    string `json:"version,omitempty"`
	PostDate   string `json:"PostDate,omitempty"`
}

// productDetail is a full record with the catalog entry decompressed
type productDetail struct {
	*product.Record
	CatalogEntry *catalog.Product `json:"CatalogEntry,omitempty"`
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	records, err := s.products.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	summaries := make([]productSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, productSummary{
			ProductKey: rec.ProductKey,
			Title:      rec.Title,
			Version:    rec.Version,
			PostDate:   dateOnly(rec.PostDate),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"products": summaries})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("product")

	rec, err := s.products.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, errors.ErrProductNotFound) {
			s.writeError(w, http.StatusNotFound, "product not found: "+key)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to read product")
		return
	}

	detail := productDetail{Record: rec}
	if entry, err := rec.Entry(); err == nil {
		detail.CatalogEntry = entry
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) purgeProduct(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("product")
	ctx := r.Context()

	rec, err := s.products.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errors.ErrProductNotFound) {
			s.writeError(w, http.StatusNotFound, "product not found: "+key)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to read product")
		return
	}

	deleted, err := s.objects.DeleteAll(ctx, purgePaths(rec))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete mirrored objects")
		return
	}
	if err := s.products.Delete(ctx, key); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete product record")
		return
	}

	s.logger.Info("purged product", "product_key", key, "objects", len(deleted))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"product_key":     key,
		"deleted_objects": deleted,
	})
}

// purgePaths maps everything the product's cached catalog entry references
// onto mirrored object paths, plus the download-status marker.
func purgePaths(rec *product.Record) []string {
	paths := []string{pipeline.MarkerPath(rec.ProductKey)}

	entry, err := rec.Entry()
	if err != nil {
		return paths
	}

	if entry.ServerMetadataURL != "" {
		paths = append(paths, catalog.PathForURL(entry.ServerMetadataURL, catalog.RepoRoot, ""))
	}
	for _, pkg := range entry.Packages {
		if pkg.URL != "" {
			paths = append(paths, catalog.PathForURL(pkg.URL, catalog.RepoRoot, ""))
		}
		if pkg.MetadataURL != "" {
			paths = append(paths, catalog.PathForURL(pkg.MetadataURL, catalog.RepoRoot, ""))
		}
	}
	for _, distURL := range entry.Distributions {
		paths = append(paths, catalog.PathForURL(distURL, catalog.RepoRoot, ""))
	}
	return paths
}

// dateOnly trims a stored "2006-01-02 15:04:05" timestamp to its date part
func dateOnly(postDate string) string {
	date, _, _ := strings.Cut(postDate, " ")
	return date
}
