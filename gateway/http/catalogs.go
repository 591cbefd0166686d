package http

import (
	"net/http"

	"github.com/jacobfgrant/anejo/errors"
)

func (s *Server) listCatalogs(w http.ResponseWriter, r *http.Request) {
	names, err := s.branches.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list catalog branches")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"catalogs": names})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")

	b, err := s.branches.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, errors.ErrBranchNotFound) {
			s.writeError(w, http.StatusNotFound, "catalog branch not found: "+name)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to read catalog branch")
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) createCatalog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")

	if err := s.branches.Create(r.Context(), name); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create catalog branch")
		return
	}

	b, err := s.branches.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read catalog branch")
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteCatalog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")

	if err := s.branches.Delete(r.Context(), name); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete catalog branch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) copyCatalog(w http.ResponseWriter, r *http.Request) {
	dst := r.PathValue("catalog")
	src := r.PathValue("source")

	added, err := s.branches.Copy(r.Context(), dst, src)
	if err != nil {
		if errors.Is(err, errors.ErrBranchNotFound) {
			s.writeError(w, http.StatusNotFound, "catalog branch not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to copy catalog branch")
		return
	}
	if added == nil {
		added = []string{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"catalog_branch":      dst,
		"copied_from":         src,
		"copied_product_keys": added,
	})
}

func (s *Server) addCatalogProduct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")
	productKey := r.PathValue("product")

	if err := s.branches.Add(r.Context(), name, productKey); err != nil {
		if errors.Is(err, errors.ErrBranchNotFound) {
			s.writeError(w, http.StatusNotFound, "catalog branch not found: "+name)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to add product to catalog branch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"catalog_branch": name,
		"added":          productKey,
	})
}

func (s *Server) removeCatalogProduct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("catalog")
	productKey := r.PathValue("product")

	if err := s.branches.Remove(r.Context(), name, productKey); err != nil {
		if errors.Is(err, errors.ErrBranchNotFound) {
			s.writeError(w, http.StatusNotFound, "catalog branch not found: "+name)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to remove product from catalog branch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"catalog_branch": name,
		"removed":        productKey,
	})
}
