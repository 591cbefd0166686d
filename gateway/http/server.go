// Package http serves the management API: branch catalog CRUD, product
// record inspection and purging, preference editing, and sync triggering.
// Responses are JSON; mutations are idempotent to match the stores beneath
// them.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jacobfgrant/anejo/branch"
	"github.com/jacobfgrant/anejo/prefs"
	"github.com/jacobfgrant/anejo/product"
)

// ObjectStore is the storage surface product purging needs.
// natsclient.ObjectStore satisfies it.
type ObjectStore interface {
	DeleteAll(ctx context.Context, paths []string) ([]string, error)
}

// Syncer triggers sync runs. *pipeline.Pipeline satisfies it.
type Syncer interface {
	SyncRepo(ctx context.Context, downloadPackages, fastScan bool) (int64, []string, error)
}

// Server is the management API HTTP server
type Server struct {
	addr     string
	branches *branch.Store
	products *product.Store
	prefs    *prefs.Store
	objects  ObjectStore
	syncer   Syncer
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates the management API server
func NewServer(
	addr string,
	branches *branch.Store,
	products *product.Store,
	preferences *prefs.Store,
	objects ObjectStore,
	syncer Syncer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		branches: branches,
		products: products,
		prefs:    preferences,
		objects:  objects,
		syncer:   syncer,
		logger:   logger.With("component", "gateway.http"),
	}
}

// Handler builds the routed handler, wrapped with request-ID and logging
// middleware. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /catalogs", s.listCatalogs)
	mux.HandleFunc("GET /catalogs/{catalog}", s.getCatalog)
	mux.HandleFunc("POST /catalogs/{catalog}", s.createCatalog)
	mux.HandleFunc("DELETE /catalogs/{catalog}", s.deleteCatalog)
	mux.HandleFunc("POST /catalogs/{catalog}/copy/{source}", s.copyCatalog)
	mux.HandleFunc("POST /catalogs/{catalog}/{product}", s.addCatalogProduct)
	mux.HandleFunc("DELETE /catalogs/{catalog}/{product}", s.removeCatalogProduct)

	mux.HandleFunc("GET /products", s.listProducts)
	mux.HandleFunc("GET /products/{product}", s.getProduct)
	mux.HandleFunc("DELETE /products/{product}", s.purgeProduct)

	mux.HandleFunc("GET /prefs", s.listPrefs)
	mux.HandleFunc("GET /prefs/{pref}", s.getPref)
	mux.HandleFunc("POST /prefs/{pref}", s.setPref)
	mux.HandleFunc("DELETE /prefs/{pref}", s.deletePref)

	mux.HandleFunc("POST /sync", s.triggerSync)

	return s.withRequestID(s.withLogging(mux))
}

// Start runs the API server. It blocks until the server stops; a clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("management API listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the API server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

// writeJSON writes a JSON response body with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response body", "error", err)
	}
}

// writeError writes a JSON error body
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
