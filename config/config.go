// Package config loads the immutable service configuration from the
// environment. Components receive a Settings value at construction and never
// read the environment themselves.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jacobfgrant/anejo/errors"
)

// Settings holds every externally sourced configuration value
type Settings struct {
	// NATS connection
	NATSURL  string
	NATSName string

	// Storage buckets
	RepoBucket     string // object store holding the mirrored repo
	ProductsBucket string // KV bucket of product records
	BranchesBucket string // KV bucket of branch catalogs

	// Work-queue streams
	CatalogStream         string
	ProductStream         string
	ProductDownloadStream string
	WriteCatalogStream    string

	// Pipeline behavior
	CatalogURLs       []string      // default upstream catalogs (prefs may override)
	Localizations     []string      // default distribution-language order (prefs may override)
	URLBase           string        // default local catalog URL base (prefs may override)
	WriteCatalogDelay time.Duration // delay before the write-local-catalog stage

	// Listen addresses
	HTTPAddr    string
	MetricsAddr string

	// ShutdownTimeout bounds graceful shutdown of servers and consumers
	ShutdownTimeout time.Duration
}

// DefaultCatalogURLs is the upstream catalog list used when neither the
// environment nor the preference store provides one.
var DefaultCatalogURLs = []string{
	"https://swscan.apple.com/content/catalogs/others/index-10.14-10.13-10.12-10.11-10.10-10.9-mountainlion-lion-snowleopard-leopard.merged-1.sucatalog",
}

// FromEnv loads Settings from environment variables, applying defaults for
// anything unset.
func FromEnv() Settings {
	return Settings{
		NATSURL:  getString("ANEJO_NATS_URL", "nats://127.0.0.1:4222"),
		NATSName: getString("ANEJO_NATS_NAME", "anejo"),

		RepoBucket:     getString("ANEJO_REPO_BUCKET", "anejo-repo"),
		ProductsBucket: getString("ANEJO_PRODUCTS_BUCKET", "anejo-products"),
		BranchesBucket: getString("ANEJO_BRANCHES_BUCKET", "anejo-branches"),

		CatalogStream:         getString("ANEJO_CATALOG_STREAM", "ANEJO_CATALOG_SYNC"),
		ProductStream:         getString("ANEJO_PRODUCT_STREAM", "ANEJO_PRODUCT_SYNC"),
		ProductDownloadStream: getString("ANEJO_PRODUCT_DOWNLOAD_STREAM", "ANEJO_PRODUCT_DOWNLOAD"),
		WriteCatalogStream:    getString("ANEJO_WRITE_CATALOG_STREAM", "ANEJO_WRITE_CATALOG"),

		CatalogURLs:       getStringSlice("ANEJO_CATALOG_URLS", DefaultCatalogURLs),
		Localizations:     getStringSlice("ANEJO_PREFERRED_LOCALIZATIONS", nil),
		URLBase:           getString("ANEJO_URL_BASE", ""),
		WriteCatalogDelay: getDuration("ANEJO_WRITE_CATALOG_DELAY", 300*time.Second),

		HTTPAddr:    getString("ANEJO_HTTP_ADDR", ":8080"),
		MetricsAddr: getString("ANEJO_METRICS_ADDR", ":9090"),

		ShutdownTimeout: getDuration("ANEJO_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate checks that the settings are usable
func (s Settings) Validate() error {
	if s.NATSURL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Settings", "Validate", "NATS URL")
	}
	if s.RepoBucket == "" || s.ProductsBucket == "" || s.BranchesBucket == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Settings", "Validate", "bucket names")
	}
	if s.CatalogStream == "" || s.ProductStream == "" ||
		s.ProductDownloadStream == "" || s.WriteCatalogStream == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Settings", "Validate", "stream names")
	}
	if s.WriteCatalogDelay < 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate", "write catalog delay")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate", "shutdown timeout")
	}
	return nil
}

// getString returns the named environment variable or a default
func getString(name, defaultVal string) string {
	if val, ok := os.LookupEnv(name); ok && val != "" {
		return val
	}
	return defaultVal
}

// getStringSlice parses a comma-separated environment variable
func getStringSlice(name string, defaultVal []string) []string {
	val, ok := os.LookupEnv(name)
	if !ok || val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}

// getDuration parses an environment variable as seconds (plain integer) or
// a Go duration string
func getDuration(name string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(name)
	if !ok || val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}
