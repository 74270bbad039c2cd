package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls how the Hub throttles, buffers, and batches status events.
type Config struct {
	// BufferSize is the capacity of the intake channel (default 4096).
	BufferSize int
	// MaxBatchEvents flushes once this many events are pending (default 1000).
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first pending event waits (default 500ms).
	MaxBatchWait time.Duration
	// ProgressInterval is the minimum spacing between StageProgress events,
	// measured on event timestamps. Any other stage always passes and restarts
	// the interval. Zero disables throttling.
	ProgressInterval time.Duration
	// SinkTimeout bounds each sink call (default 10s).
	SinkTimeout time.Duration
	// BaseContext is the parent of sink calls (default context.Background()).
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans crawl status events out to sinks. Emit never blocks the crawl:
// progress ticks are throttled on intake, consecutive ticks of one run are
// merged inside a batch, and a full buffer drops events.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	gate      progressGate
	dropped   atomic.Int64
	throttled atomic.Int64
	dropLog   rate.Sometimes
	closed    atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub applies defaults and starts the delivery goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		gate:    progressGate{interval: cfg.ProgressInterval},
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt unless it is invalid, throttled, or the buffer is full.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if !h.gate.admit(evt) {
		h.throttled.Add(1)
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Close stops intake, delivers what is pending, closes the sinks, and waits
// for the delivery goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	stopDeadline := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
	}
	for {
		select {
		case evt := <-h.events:
			pending = coalesce(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.flush(pending)
				stopDeadline()
			} else if deadline == nil {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			pending = h.flush(pending)
		case <-h.stopCh:
			stopDeadline()
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = coalesce(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.flush(pending)
			}
		default:
			h.flush(pending)
			h.closeSinks()
			h.logger.Debug("progress hub closed",
				zap.Int64("throttled", h.throttled.Load()),
				zap.Int64("dropped", h.dropped.Load()),
			)
			return
		}
	}
}

// coalesce appends evt, replacing the previous event when both are progress
// ticks of the same run. Only the newest counters matter for a tick.
func coalesce(pending []Event, evt Event) []Event {
	if n := len(pending); n > 0 && evt.Stage == StageProgress {
		last := &pending[n-1]
		if last.Stage == StageProgress && last.RunID == evt.RunID {
			*last = evt
			return pending
		}
	}
	return append(pending, evt)
}

// flush hands a copy of pending to every sink and returns pending emptied.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return pending[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// progressGate spaces StageProgress events at least interval apart. Every
// other stage passes and moves the reference point, so a tick right after a
// milestone is suppressed.
type progressGate struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (g *progressGate) admit(evt Event) bool {
	if g.interval <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if evt.Stage != StageProgress {
		g.last = evt.TS
		return true
	}
	if !g.last.IsZero() && evt.TS.Sub(g.last) < g.interval {
		return false
	}
	g.last = evt.TS
	return true
}
