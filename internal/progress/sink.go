package progress

import "context"

// Sink receives delivered batches of crawl status events. Batches are in
// emission order with progress ticks already throttled and merged, so a sink
// that only needs the latest counters can read the last event of a batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what the orchestrator reports to. Hub implements it.
type Emitter interface {
	Emit(evt Event)
}
