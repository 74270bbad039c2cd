// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the crawl orchestrator uses to report status. It batches events on
// a background goroutine and fans them out to pluggable sinks such as logs,
// Prometheus gauges, Pub/Sub, or live HTTP subscribers.
package progress
