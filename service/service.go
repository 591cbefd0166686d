// Package service assembles the mirror from its parts and runs it: one NATS
// connection, provisioned buckets and work-queue streams, the four pipeline
// consumers, the management API, and the metrics endpoint.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jacobfgrant/anejo/branch"
	"github.com/jacobfgrant/anejo/config"
	gatewayhttp "github.com/jacobfgrant/anejo/gateway/http"
	"github.com/jacobfgrant/anejo/metric"
	"github.com/jacobfgrant/anejo/mirror"
	"github.com/jacobfgrant/anejo/natsclient"
	"github.com/jacobfgrant/anejo/pipeline"
	"github.com/jacobfgrant/anejo/prefs"
	"github.com/jacobfgrant/anejo/product"
)

// Durable consumer names, one per pipeline stage. Stable names let restarted
// instances resume the same consumer instead of orphaning it.
const (
	durableCatalogSync     = "anejo-catalog-sync"
	durableProductSync     = "anejo-product-sync"
	durableProductDownload = "anejo-product-download"
	durableWriteCatalog    = "anejo-write-catalog"
)

// Service owns every long-lived component of the mirror
type Service struct {
	settings config.Settings
	logger   *slog.Logger

	client   *natsclient.Client
	pipeline *pipeline.Pipeline
	api      *gatewayhttp.Server
	metrics  *metric.Server
}

// New validates the settings and prepares a service. Nothing connects until
// Run.
func New(settings config.Settings, logger *slog.Logger) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings: settings,
		logger:   logger.With("component", "service"),
	}, nil
}

// buckets holds the provisioned JetStream storage the components build on
type buckets struct {
	repo     *natsclient.ObjectStore
	products *natsclient.KVStore
	branches *natsclient.KVStore
}

// Run connects, provisions storage and streams, starts the consumers and
// HTTP surfaces, then blocks until ctx is canceled. Shutdown is graceful:
// servers drain, then the NATS connection closes.
func (s *Service) Run(ctx context.Context) error {
	client, err := natsclient.NewClient(
		s.settings.NATSURL,
		natsclient.WithName(s.settings.NATSName),
		natsclient.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	s.client = client
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			s.logger.Warn("failed to close NATS connection", "error", err)
		}
	}()

	storage, err := s.provision(ctx)
	if err != nil {
		return fmt.Errorf("provision storage: %w", err)
	}

	if err := s.build(storage); err != nil {
		return fmt.Errorf("build components: %w", err)
	}

	if err := s.consume(ctx); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}

	return s.serve(ctx)
}

// provision creates (or binds to) the KV buckets, the repo object store, and
// the four work-queue streams.
func (s *Service) provision(ctx context.Context) (*buckets, error) {
	repoBucket, err := s.client.EnsureObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      s.settings.RepoBucket,
		Description: "mirrored software update repository",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	productsBucket, err := s.client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.settings.ProductsBucket,
		Description: "product records keyed by product key",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	branchesBucket, err := s.client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.settings.BranchesBucket,
		Description: "catalog branches keyed by branch name",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	streams := []struct {
		name    string
		subject string
	}{
		{s.settings.CatalogStream, pipeline.SubjectCatalogSync},
		{s.settings.ProductStream, pipeline.SubjectProductSync},
		{s.settings.ProductDownloadStream, pipeline.SubjectProductDownload},
		{s.settings.WriteCatalogStream, pipeline.SubjectWriteCatalog},
	}
	for _, stream := range streams {
		if _, err := s.client.EnsureWorkQueue(ctx, stream.name, stream.subject); err != nil {
			return nil, err
		}
	}

	s.logger.Info("storage provisioned",
		"repo_bucket", s.settings.RepoBucket,
		"products_bucket", s.settings.ProductsBucket,
		"branches_bucket", s.settings.BranchesBucket,
	)

	return &buckets{
		repo:     s.client.NewObjectStore(repoBucket),
		products: s.client.NewKVStore(productsBucket),
		branches: s.client.NewKVStore(branchesBucket),
	}, nil
}

// build constructs the stores, the pipeline, and both HTTP servers over the
// provisioned storage.
func (s *Service) build(storage *buckets) error {
	registry := metric.NewRegistry()

	products := product.NewStore(storage.products, s.logger)
	branches := branch.NewStore(storage.branches, s.logger)
	preferences := prefs.NewStoreWithDefaults(storage.repo, prefs.Defaults{
		CatalogURLs:   s.settings.CatalogURLs,
		Localizations: s.settings.Localizations,
		URLBase:       s.settings.URLBase,
	}, s.logger)
	replicator := mirror.NewReplicator(storage.repo, s.logger)

	pipe, err := pipeline.New(
		s.client,
		storage.repo,
		replicator,
		products,
		branches,
		preferences,
		s.settings,
		registry,
		s.logger,
	)
	if err != nil {
		return err
	}

	s.pipeline = pipe
	s.api = gatewayhttp.NewServer(
		s.settings.HTTPAddr, branches, products, preferences, storage.repo, pipe, s.logger)
	s.metrics = metric.NewServer(s.settings.MetricsAddr, registry)
	return nil
}

// consume attaches the pipeline handlers to their work-queue streams. The
// two product streams share a handler; a separate download stream keeps bulk
// package replication from starving metadata-only syncs.
func (s *Service) consume(ctx context.Context) error {
	consumers := []struct {
		stream  string
		durable string
		handler natsclient.MsgHandler
	}{
		{s.settings.CatalogStream, durableCatalogSync, s.pipeline.HandleCatalogSync},
		{s.settings.ProductStream, durableProductSync, s.pipeline.HandleProductSync},
		{s.settings.ProductDownloadStream, durableProductDownload, s.pipeline.HandleProductSync},
		{s.settings.WriteCatalogStream, durableWriteCatalog, s.pipeline.HandleWriteCatalog},
	}
	for _, c := range consumers {
		if err := s.client.ConsumeQueue(ctx, c.stream, c.durable, c.handler); err != nil {
			return err
		}
		s.logger.Info("consumer started", "stream", c.stream, "durable", c.durable)
	}
	return nil
}

// serve runs the management API and metrics servers until ctx is canceled,
// then shuts both down gracefully. A server failing on its own also stops
// the service.
func (s *Service) serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.api.Start() }()
	go func() { errCh <- s.metrics.Start() }()

	s.logger.Info("anejo running",
		"http_addr", s.settings.HTTPAddr,
		"metrics_addr", s.settings.MetricsAddr,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
	defer cancel()

	if err := s.api.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("stop management API: %w", err)
	}
	if err := s.metrics.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("stop metrics server: %w", err)
	}
	return runErr
}
