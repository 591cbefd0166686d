package catalog

import (
	"net/url"
	gopath "path"
	"strings"
	"time"
)

// RepoRoot is the directory inside the object store under which upstream
// content is mirrored.
const RepoRoot = "html"

// UpstreamSuffix marks the pristine upstream copy of a catalog, as opposed
// to the filtered local catalog written at the same path without it.
const UpstreamSuffix = ".apple"

// PathForURL derives the deterministic mirrored storage path for a source
// URL: scheme and host are dropped, the URL path is kept and joined under
// rootDir, and suffix (if any) is appended.
func PathForURL(rawURL, rootDir, suffix string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		// Not a URL; treat the whole string as a relative path
		return gopath.Join(rootDir, strings.TrimPrefix(rawURL, "/")) + suffix
	}
	return gopath.Join(rootDir, strings.TrimPrefix(parsed.Path, "/")) + suffix
}

// RewriteURL rewrites an upstream URL to point at the mirror base: the
// upstream scheme and host are replaced, the path is kept. URLs already under
// the base are returned unchanged, making rewrites idempotent. The base is a
// URL prefix, so it is joined textually rather than path-cleaned.
func RewriteURL(rawURL, base string) string {
	if base == "" || strings.HasPrefix(rawURL, base) {
		return rawURL
	}

	urlPath := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		urlPath = parsed.Path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(urlPath, "/")
}

// RewriteProductURLs rewrites every embedded URL of a product entry to the
// mirror base, returning the rewritten copy. Package digests are dropped;
// they do not match the mirrored bytes once URLs change.
func RewriteProductURLs(p Product, base string) Product {
	out := p.Clone()

	if out.ServerMetadataURL != "" {
		out.ServerMetadataURL = RewriteURL(out.ServerMetadataURL, base)
	}
	for i := range out.Packages {
		if out.Packages[i].URL != "" {
			out.Packages[i].URL = RewriteURL(out.Packages[i].URL, base)
		}
		if out.Packages[i].MetadataURL != "" {
			out.Packages[i].MetadataURL = RewriteURL(out.Packages[i].MetadataURL, base)
		}
		out.Packages[i].Digest = ""
	}
	for lang, distURL := range out.Distributions {
		out.Distributions[lang] = RewriteURL(distURL, base)
	}
	return out
}

// RewriteCatalogURLs rewrites every product entry of a catalog to the mirror
// base, returning a new catalog. With an empty base the catalog is returned
// as-is.
func RewriteCatalogURLs(c *Catalog, base string) *Catalog {
	if base == "" {
		return c
	}

	out := *c
	out.Products = make(map[string]Product, len(c.Products))
	for key, product := range c.Products {
		out.Products[key] = RewriteProductURLs(product, base)
	}
	return &out
}

// LocalPathForUpstream maps the mirrored upstream catalog path to the local
// (filtered) catalog path by stripping the upstream suffix.
func LocalPathForUpstream(upstreamPath string) string {
	return strings.TrimSuffix(upstreamPath, UpstreamSuffix)
}

// ArchivePath derives the dated archive path for a mirrored catalog, used to
// preserve the prior copy before it is overwritten.
func ArchivePath(catalogPath string, indexDate time.Time) string {
	dir := gopath.Dir(catalogPath)
	name := strings.TrimSuffix(gopath.Base(catalogPath), UpstreamSuffix)
	name += indexDate.Format(".2006-01-02-150405")
	return gopath.Join(dir, "archive", name)
}

// BranchCatalogPath derives the storage path of a branch catalog from the
// local catalog path and the branch name.
func BranchCatalogPath(localPath, branch string) string {
	return strings.TrimSuffix(localPath, ".sucatalog") + "_" + branch + ".sucatalog"
}

// BaseName returns the last path element of a catalog path or URL
func BaseName(path string) string {
	return gopath.Base(path)
}
