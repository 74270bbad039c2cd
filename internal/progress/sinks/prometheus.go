package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. Gauges mirror the
// latest status snapshot per country; counters track run lifecycle.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	sectionsDone  *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	processed     *prometheus.GaugeVec
	completed     *prometheus.GaugeVec
	totalSections *prometheus.GaugeVec
	downloaded    *prometheus.GaugeVec
	paused        *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
// Collectors already registered by an earlier sink are reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{tracker: newRunTracker()}
	var err error
	if s.runsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_runs_started_total",
		Help: "Total crawl runs that have started.",
	})); err != nil {
		return nil, err
	}
	if s.runsFinished, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_runs_finished_total",
		Help: "Total crawl runs finished partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.runsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_runs_running",
		Help: "Current number of running crawl runs.",
	})); err != nil {
		return nil, err
	}
	if s.sectionsDone, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_section_done_events_total",
		Help: "Section completions partitioned by country.",
	}, []string{"country"})); err != nil {
		return nil, err
	}
	gauges := []struct {
		dst  **prometheus.GaugeVec
		name string
		help string
	}{
		{&s.queueDepth, "crawler_queue_depth", "Nodes pending in the traversal queue."},
		{&s.processed, "crawler_section_records", "Records accumulated for the current section."},
		{&s.completed, "crawler_sections_completed", "Sections closed in the current run."},
		{&s.totalSections, "crawler_sections_total", "Sections selected for the current run."},
		{&s.downloaded, "crawler_records_downloaded", "Records emitted by closed sections."},
		{&s.paused, "crawler_paused", "1 while the crawl is paused."},
	}
	for _, g := range gauges {
		vec, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, []string{"country"}))
		if err != nil {
			return nil, err
		}
		*g.dst = vec
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register progress collector: %w", err)
	}
	return collector, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	country := evt.Country
	if country == "" {
		country = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone, progress.StageRunStop:
		result := "completed"
		if evt.Stage == progress.StageRunStop {
			result = "stopped"
		}
		s.runsFinished.WithLabelValues(result).Inc()
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageSectionDone:
		s.sectionsDone.WithLabelValues(country).Inc()
	}
	s.queueDepth.WithLabelValues(country).Set(float64(evt.Remaining))
	s.processed.WithLabelValues(country).Set(float64(evt.Processed))
	s.completed.WithLabelValues(country).Set(float64(evt.CompletedSections))
	s.totalSections.WithLabelValues(country).Set(float64(evt.TotalSections))
	s.downloaded.WithLabelValues(country).Set(float64(evt.Downloaded))
	pausedValue := 0.0
	if evt.Paused {
		pausedValue = 1
	}
	s.paused.WithLabelValues(country).Set(pausedValue)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
