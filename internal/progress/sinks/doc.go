// Package sinks implements concrete progress consumers: structured logging,
// Prometheus gauges, Pub/Sub notifications, and in-process broadcast to live
// subscribers. Each sink satisfies the progress.Sink interface and is safe for
// repeated Consume/Close cycles.
package sinks
