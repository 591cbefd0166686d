// Package anejo is a software update catalog mirror built on NATS JetStream.
//
// Anejo replicates vendor software-update catalogs and the product content
// they reference into a JetStream object store, enriches per-product records
// with metadata parsed from distribution files, and serves rewritten local
// catalogs plus curated catalog branches.
//
// # Architecture
//
// A sync run flows through four work-queue stages:
//
//   - catalog sync: fetch an upstream catalog, archive the previous copy,
//     mirror the new one, and fan out one message per product entry
//   - product sync: claim the product record for this run, mirror its
//     metadata (and optionally its packages), and parse its distribution
//     file into record metadata
//   - product download: the same handler on a separate stream, so bulk
//     package replication cannot starve metadata-only syncs
//   - write catalog: after a settle delay, write the full local catalog
//     (filtered to mirrored products, URLs rewritten) and one catalog per
//     branch
//
// Every stage is idempotent under at-least-once delivery: object writes
// overwrite deterministic paths and record writes go through revision-checked
// compare-and-swap with a per-run claim.
//
// State lives entirely in JetStream: the mirrored repository and preference
// file in an object store bucket, product records and catalog branches in KV
// buckets, and the stage queues in work-queue streams.
//
// A management HTTP API (gateway/http) drives branch curation, product
// inspection and purging, preference editing, and sync triggering. Metrics
// are served separately via Prometheus.
package anejo
