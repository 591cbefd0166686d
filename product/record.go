// Package product maintains the per-product records that accumulate across
// catalog sync runs: which upstream catalogs list a product, when it was last
// seen, and the metadata extracted from its distribution file.
//
// Records from concurrent sync workers are reconciled with revision-checked
// writes, so two workers observing the same product never lose each other's
// catalog attributions.
package product

import (
	"encoding/json"
	"slices"

	"github.com/jacobfgrant/anejo/catalog"
	"github.com/jacobfgrant/anejo/distfile"
	"github.com/jacobfgrant/anejo/errors"
)

// Record is the persisted state for one product key. AppleCatalogs holds the
// catalogs the product appeared in during the most recent sync run (RunTime);
// OriginalAppleCatalogs accumulates every catalog that has ever listed it and
// is never pruned, so deprecated products stay attributable.
type Record struct {
	ProductKey            string                     `json:"product_key"`
	RunTime               int64                      `json:"run_time,omitempty"`
	AppleCatalogs         []string                   `json:"AppleCatalogs,omitempty"`
	OriginalAppleCatalogs []string                   `json:"OriginalAppleCatalogs,omitempty"`
	Title                 string                     `json:"title,omitempty"`
	Version               string                     `json:"version,omitempty"`
	Size                  int64                      `json:"size,omitempty"`
	Description           string                     `json:"description,omitempty"`
	PostDate              string                     `json:"PostDate,omitempty"`
	PkgRefs               map[string]distfile.PkgRef `json:"pkg_refs,omitempty"`
	CatalogEntry          string                     `json:"CatalogEntry,omitempty"`
}

// DecodeRecord unmarshals a stored record
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.WrapInvalid(err, "Product", "DecodeRecord", "unmarshal record")
	}
	return &rec, nil
}

func (r *Record) encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "Product", "encode", "marshal record")
	}
	return data, nil
}

// Entry decompresses the stored catalog entry. Returns errors.ErrKeyNotFound
// when the record has no entry yet.
func (r *Record) Entry() (*catalog.Product, error) {
	var entry catalog.Product
	if err := Decompress(r.CatalogEntry, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ObservedIn reports whether the record attributes the product to catalogID
// in its most recent run.
func (r *Record) ObservedIn(catalogID string) bool {
	return slices.Contains(r.AppleCatalogs, catalogID)
}

// addToSet inserts items into a sorted set slice, reporting whether anything
// was actually added.
func addToSet(set []string, items ...string) ([]string, bool) {
	changed := false
	for _, item := range items {
		if !slices.Contains(set, item) {
			set = append(set, item)
			changed = true
		}
	}
	if changed {
		slices.Sort(set)
	}
	return set, changed
}

// isSubset reports whether every element of sub is present in set
func isSubset(sub, set []string) bool {
	for _, item := range sub {
		if !slices.Contains(set, item) {
			return false
		}
	}
	return true
}
