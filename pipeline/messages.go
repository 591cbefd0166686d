package pipeline

import "encoding/json"

// Queue subjects, one per pipeline stage. Each belongs to exactly one
// work-queue stream.
const (
	SubjectCatalogSync     = "anejo.sync.catalog"
	SubjectProductSync     = "anejo.sync.product"
	SubjectProductDownload = "anejo.sync.product_download"
	SubjectWriteCatalog    = "anejo.sync.write_catalog"
)

// CatalogSyncMessage asks the catalog stage to sync one upstream catalog as
// part of the run identified by RunTime.
type CatalogSyncMessage struct {
	CatalogURL       string `json:"catalog_url"`
	RunTime          int64  `json:"run_time"`
	DownloadPackages bool   `json:"download_packages,omitempty"`
	FastScan         bool   `json:"fast_scan,omitempty"`
}

// ProductSyncMessage asks the product stage to sync one product observed in
// CatalogURL. ProductInfo carries the compressed catalog entry so the stage
// never re-fetches the catalog.
type ProductSyncMessage struct {
	CatalogURL       string `json:"catalog_url"`
	RunTime          int64  `json:"run_time"`
	DownloadPackages bool   `json:"download_packages,omitempty"`
	FastScan         bool   `json:"fast_scan,omitempty"`
	ProductKey       string `json:"product_key"`
	ProductInfo      string `json:"product_info"`
}

// WriteCatalogMessage asks the write stage to produce the local catalog for
// CatalogURL. NotBefore (Unix seconds) keeps the write from racing the
// product stage; the consumer redelivers with a delay until it passes.
type WriteCatalogMessage struct {
	CatalogURL string `json:"catalog_url"`
	NotBefore  int64  `json:"not_before,omitempty"`
}

// decode unmarshals a queue message body. Message bodies are written by this
// package, so a body that does not decode is corrupt, not transient.
func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
