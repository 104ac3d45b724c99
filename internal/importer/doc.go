// Package importer runs the file import pipeline: a bounded worker pool
// takes queued items through hash, dedup lookup, probe, persist, and tag
// resolution, while a batch tracker detects completion order-independently
// and finalizes each batch exactly once.
//
// Content is deduplicated by SHA-256 hash: re-importing bytes that already
// have a record resolves to that record, never a second row. Cancelling one
// batch never affects other batches sharing the pool.
package importer
