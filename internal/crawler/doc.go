// Package crawler implements the resumable traversal of the nomenclature
// taxonomy: the section catalog, the depth-first engine, pause handling, the
// per-section output sink, and the orchestrator that owns the persisted
// CrawlState.
//
// All state changes go through a single lock and are saved before the lock is
// released, so the stored blob is always a point the crawl can resume from.
package crawler
