package crawler

import (
	"context"
	"sync"
)

// stateHolder owns the in-memory CrawlState. Every read-modify-write happens
// under mu and is persisted before mu is released. epoch advances whenever the
// state is invalidated so in-flight runs can detect they were superseded.
type stateHolder struct {
	mu    sync.Mutex
	state *CrawlState
	epoch uint64
	store StateStore
}

func newStateHolder(store StateStore, initial *CrawlState) *stateHolder {
	initial.Normalize()
	return &stateHolder{state: initial, store: store}
}

// do runs fn under the lock when epoch is still current and saves the state
// if fn reports a change. It returns false when the epoch has moved on.
func (h *stateHolder) do(ctx context.Context, epoch uint64, fn func(s *CrawlState) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if epoch != h.epoch {
		return false
	}
	if fn(h.state) {
		h.saveLocked(ctx)
	}
	return true
}

// mutate runs fn under the lock regardless of epoch and saves on change.
// fn may call invalidateLocked.
func (h *stateHolder) mutate(ctx context.Context, fn func(s *CrawlState) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn(h.state) {
		h.saveLocked(ctx)
	}
}

// replace swaps in a new state, advances the epoch, removes the stored blob
// when clearStore is set, and persists the replacement.
func (h *stateHolder) replace(ctx context.Context, fn func(old *CrawlState) *CrawlState, clearStore bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := fn(h.state)
	next.Normalize()
	h.state = next
	h.epoch++
	if clearStore {
		h.store.Clear(context.WithoutCancel(ctx))
	}
	h.saveLocked(ctx)
}

// replaceAt is replace without the blob removal, applied only while epoch is
// current. It returns false when the epoch has moved on.
func (h *stateHolder) replaceAt(ctx context.Context, epoch uint64, fn func(old *CrawlState) *CrawlState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if epoch != h.epoch {
		return false
	}
	next := fn(h.state)
	next.Normalize()
	h.state = next
	h.epoch++
	h.saveLocked(ctx)
	return true
}

// invalidateLocked advances the epoch. Callers must hold mu.
func (h *stateHolder) invalidateLocked() {
	h.epoch++
}

func (h *stateHolder) read(fn func(s *CrawlState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.state)
}

func (h *stateHolder) currentEpoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch
}

func (h *stateHolder) snapshot() *CrawlState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}

// saveLocked persists with a context detached from cancellation so that an
// interrupt still leaves the latest state on disk.
func (h *stateHolder) saveLocked(ctx context.Context) {
	h.store.Save(context.WithoutCancel(ctx), h.state)
}
