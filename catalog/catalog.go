// Package catalog models the vendor software-update catalog document and the
// deterministic mapping between upstream URLs and mirrored storage paths.
//
// Catalogs are property lists. They are parsed into typed structs covering
// exactly the fields the sync pipeline reads and writes; a catalog is never
// mutated in place, only filtered or rewritten into derived copies.
package catalog

import (
	"fmt"
	"time"

	"howett.net/plist"

	"github.com/jacobfgrant/anejo/errors"
)

// Catalog is one upstream software-update catalog document
type Catalog struct {
	CatalogVersion int                `plist:"CatalogVersion,omitempty" json:"CatalogVersion,omitempty"`
	ApplePostURL   string             `plist:"ApplePostURL,omitempty" json:"ApplePostURL,omitempty"`
	IndexDate      time.Time          `plist:"IndexDate" json:"IndexDate"`
	CatalogName    string             `plist:"_CatalogName,omitempty" json:"_CatalogName,omitempty"`
	Products       map[string]Product `plist:"Products,omitempty" json:"Products,omitempty"`
}

// Product is one catalog entry: the per-product structure the pipeline
// replicates and caches.
type Product struct {
	ServerMetadataURL string            `plist:"ServerMetadataURL,omitempty" json:"ServerMetadataURL,omitempty"`
	Packages          []Package         `plist:"Packages,omitempty" json:"Packages,omitempty"`
	Distributions     map[string]string `plist:"Distributions,omitempty" json:"Distributions,omitempty"`
	PostDate          time.Time         `plist:"PostDate,omitempty" json:"PostDate,omitempty"`
}

// Package is one package reference inside a product entry
type Package struct {
	URL         string `plist:"URL,omitempty" json:"URL,omitempty"`
	MetadataURL string `plist:"MetadataURL,omitempty" json:"MetadataURL,omitempty"`
	Size        int64  `plist:"Size,omitempty" json:"Size,omitempty"`
	Digest      string `plist:"Digest,omitempty" json:"Digest,omitempty"`
}

// Parse decodes a property-list catalog document. A document that does not
// parse will never parse differently on retry, so the error is invalid, not
// transient.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if _, err := plist.Unmarshal(data, &c); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"Catalog", "Parse", "decode plist")
	}
	return &c, nil
}

// Encode serializes a catalog back to XML plist form
func Encode(c *Catalog) ([]byte, error) {
	data, err := plist.MarshalIndent(c, plist.XMLFormat, "\t")
	if err != nil {
		return nil, errors.Wrap(err, "Catalog", "Encode", "encode plist")
	}
	return data, nil
}

// TotalPackageSize sums the package sizes of a product entry
func (p Product) TotalPackageSize() int64 {
	var size int64
	for _, pkg := range p.Packages {
		size += pkg.Size
	}
	return size
}

// Clone returns a deep copy of the product entry, so derived catalogs can be
// rewritten without mutating the source document.
func (p Product) Clone() Product {
	out := p
	out.Packages = make([]Package, len(p.Packages))
	copy(out.Packages, p.Packages)
	out.Distributions = make(map[string]string, len(p.Distributions))
	for lang, url := range p.Distributions {
		out.Distributions[lang] = url
	}
	return out
}
