package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// Outcome describes how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted   Outcome = "completed"
	OutcomePaused      Outcome = "paused"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeSuperseded  Outcome = "superseded"
)

// CompletionSummary is reported once every selected section is closed, just
// before the state is reset.
type CompletionSummary struct {
	Country              string `json:"country"`
	SectionsProcessed    int    `json:"sectionsProcessed"`
	TotalDownloadedCount int    `json:"totalDownloadedCount"`
}

// RunResult is returned by Run.
type RunResult struct {
	RunID       string             `json:"runId"`
	Outcome     Outcome            `json:"outcome"`
	PauseReason string             `json:"pauseReason,omitempty"`
	Summary     *CompletionSummary `json:"summary,omitempty"`
}

// Orchestrator owns the CrawlState and drives sections through the engine.
// Commands may arrive from any goroutine; at most one run is active.
type Orchestrator struct {
	cfg     Config
	state   *stateHolder
	catalog *SectionCatalog
	engine  *TraversalEngine
	pauser  *PauseController
	emitter progress.Emitter
	ids     IDGenerator
	clock   Clock
	sleeper Sleeper
	logger  *zap.Logger

	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup

	sessionID    [16]byte
}

// NewOrchestrator loads the persisted state and wires the components.
func NewOrchestrator(
	ctx context.Context,
	cfg Config,
	store StateStore,
	fetcher NodeFetcher,
	sink *ResultSink,
	emitter progress.Emitter,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	if store == nil || fetcher == nil || sink == nil || ids == nil || clock == nil {
		return nil, errors.New("orchestrator requires store, fetcher, sink, ids, and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	pauser := NewPauseController(logger.Named("pause"))
	o := &Orchestrator{
		cfg:     cfg,
		state:   newStateHolder(store, store.Load(ctx)),
		catalog: NewSectionCatalog(fetcher, ids, logger.Named("catalog")),
		engine:  NewTraversalEngine(fetcher, sink, pauser, cfg.PolitenessDelay, logger.Named("engine")),
		pauser:  pauser,
		emitter: emitter,
		ids:     ids,
		clock:   clock,
		sleeper: timerSleeper{},
		logger:  logger,
	}
	o.sessionID = o.newRunID()
	return o, nil
}

// Status returns the current status payload.
func (o *Orchestrator) Status() Status {
	running := o.isRunning()
	var st Status
	o.state.read(func(s *CrawlState) {
		st = buildStatus(s, running)
	})
	return st
}

// Snapshot returns a deep copy of the in-memory state.
func (o *Orchestrator) Snapshot() *CrawlState {
	return o.state.snapshot()
}

// Countries lists the selectable scopes and the active one.
func (o *Orchestrator) Countries() CountryList {
	var info CountryInfo
	o.state.read(func(s *CrawlState) {
		info = countryInfo(s)
	})
	countries := append([]Country{}, o.cfg.Countries...)
	found := false
	for _, c := range countries {
		if c.Value == info.Code {
			found = true
			break
		}
	}
	if !found {
		countries = append(countries, Country{Value: info.Code, Label: info.Label})
	}
	return CountryList{Countries: countries, Selected: info.Code, Label: info.Label}
}

// Sections loads the catalog if needed and lists sections in run order. A
// catalog failure pauses the crawl and is returned.
func (o *Orchestrator) Sections(ctx context.Context) ([]SectionSummary, error) {
	epoch := o.state.currentEpoch()
	if _, err := o.catalog.ensureLoaded(ctx, o.state, epoch, false); err != nil {
		if errors.Is(err, errSuperseded) || ctx.Err() != nil {
			return nil, err
		}
		reason := o.pause(ctx, epoch, err)
		return nil, errors.New(reason)
	}
	var out []SectionSummary
	o.state.read(func(s *CrawlState) {
		out = sectionSummaries(s)
	})
	return out, nil
}

// SetCountry validates and applies a scope change.
func (o *Orchestrator) SetCountry(ctx context.Context, code, label string) (CountryChange, error) {
	if strings.TrimSpace(code) == "" {
		return CountryChange{}, ErrCountryRequired
	}
	changed := o.UpdateCountry(ctx, code, label)
	var info CountryInfo
	o.state.read(func(s *CrawlState) {
		info = countryInfo(s)
	})
	return CountryChange{Changed: changed, Country: info}, nil
}

// UpdateCountry switches the active scope. A different code invalidates all
// scope-bound state; a new label alone is just persisted. It reports whether
// the code changed.
func (o *Orchestrator) UpdateCountry(ctx context.Context, code, label string) bool {
	normalized := NormalizeCountryCode(code)
	var changed, relabeled bool
	o.state.mutate(ctx, func(s *CrawlState) bool {
		next := firstNonEmpty(strings.TrimSpace(label), o.cfg.countryLabel(normalized))
		if next == "" && normalized == s.CountryCode {
			next = s.CountryLabel
		}
		if next == "" {
			next = normalized
		}
		if normalized != s.CountryCode {
			s.CountryCode = normalized
			s.CountryLabel = next
			s.InvalidateScope()
			o.state.invalidateLocked()
			changed = true
			return true
		}
		if next != s.CountryLabel {
			s.CountryLabel = next
			relabeled = true
			return true
		}
		return false
	})
	if changed {
		o.logger.Info("country scope changed", zap.String("country", normalized))
	}
	if changed || relabeled {
		o.notify(progress.StageStateChanged, "country")
	}
	return changed
}

// Prepare applies the start command to the state without running it.
func (o *Orchestrator) Prepare(ctx context.Context, opts StartOptions) error {
	if o.isRunning() {
		return ErrAlreadyRunning
	}
	o.state.replace(ctx, func(old *CrawlState) *CrawlState {
		next := old.Clone()
		if opts.Restart {
			next = NewCrawlState(old.CountryCode, old.CountryLabel)
		}
		switch opts.SectionKey {
		case "":
		case AllSectionsKey:
			next.DesiredSectionKeys = []string{}
		default:
			next.DesiredSectionKeys = []string{opts.SectionKey}
		}
		next.RecomputeSectionOrder()
		next.ResetProgress()
		return next
	}, false)
	o.notify(progress.StageStateChanged, "start")
	return nil
}

// Start prepares the state and launches a run in the background. ctx bounds
// the run, not just the call.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) error {
	if err := o.Prepare(ctx, opts); err != nil {
		return err
	}
	return o.launch(ctx)
}

// Unpause clears a pause so the next run continues where it stopped.
func (o *Orchestrator) Unpause(ctx context.Context) {
	var unpaused bool
	o.state.mutate(ctx, func(s *CrawlState) bool {
		if !s.Paused {
			return false
		}
		s.Paused = false
		s.PauseReason = ""
		unpaused = true
		return true
	})
	if unpaused {
		o.notify(progress.StageStateChanged, "resume")
	}
}

// Resume unpauses and launches a run in the background.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if o.isRunning() {
		return ErrAlreadyRunning
	}
	o.Unpause(ctx)
	return o.launch(ctx)
}

// Clear resets to fresh defaults, keeping the active country, removes the
// stored blob, and persists the fresh state. An active run is abandoned at
// its next step.
func (o *Orchestrator) Clear(ctx context.Context) {
	o.state.replace(ctx, func(old *CrawlState) *CrawlState {
		return NewCrawlState(old.CountryCode, old.CountryLabel)
	}, true)
	o.logger.Info("crawl state cleared")
	o.notify(progress.StageStateChanged, "clear")
}

// Wait blocks until background runs return.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) launch(ctx context.Context) error {
	if !o.claim() {
		return ErrAlreadyRunning
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release()
		res, err := o.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn("background run ended with error", zap.Error(err))
			return
		}
		o.logger.Info("background run ended", zap.String("outcome", string(res.Outcome)))
	}()
	return nil
}

// Run executes the crawl synchronously until completion, pause, cancellation,
// or invalidation. A cancelled ctx returns its error with state saved.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	if !o.claim() {
		return RunResult{}, ErrAlreadyRunning
	}
	defer o.release()
	return o.run(ctx)
}

func (o *Orchestrator) claim() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	metrics.IncActiveRuns()
	return true
}

func (o *Orchestrator) release() {
	o.runMu.Lock()
	o.running = false
	o.runMu.Unlock()
	metrics.DecActiveRuns()
}

func (o *Orchestrator) isRunning() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.running
}

type selectionKind int

const (
	selectSection selectionKind = iota
	selectPaused
	selectDone
	selectSuperseded
)

type selection struct {
	kind    selectionKind
	section Section
	country string
	reason  string
}

func (o *Orchestrator) run(ctx context.Context) (result RunResult, err error) {
	rep := &runReporter{o: o, runID: o.newRunID()}
	result.RunID = uuid.UUID(rep.runID).String()
	logger := o.logger.With(zap.String("run_id", result.RunID))
	epoch := o.state.currentEpoch()

	defer func() {
		stage := progress.StageRunStop
		if result.Outcome == OutcomeCompleted {
			stage = progress.StageRunDone
		}
		if stage == progress.StageRunStop {
			rep.report(stage, string(result.Outcome))
		}
		logger.Info("crawl run finished", zap.String("outcome", string(result.Outcome)))
	}()

	rep.report(progress.StageRunStart, "")
	logger.Info("crawl run started")

	var (
		refresh bool
		paused  bool
	)
	if !o.state.do(ctx, epoch, func(s *CrawlState) bool {
		refresh = s.Sections == nil
		paused = s.Paused
		result.PauseReason = s.PauseReason
		return false
	}) {
		result.Outcome = OutcomeSuperseded
		return result, nil
	}
	if paused {
		result.Outcome = OutcomePaused
		return result, nil
	}
	result.PauseReason = ""
	if _, loadErr := o.catalog.ensureLoaded(ctx, o.state, epoch, refresh); loadErr != nil {
		switch {
		case errors.Is(loadErr, errSuperseded):
			result.Outcome = OutcomeSuperseded
			return result, nil
		case ctx.Err() != nil:
			result.Outcome = OutcomeInterrupted
			return result, ctx.Err()
		}
		result.Outcome = OutcomePaused
		result.PauseReason = o.pause(ctx, epoch, loadErr)
		return result, nil
	}
	if !o.state.do(ctx, epoch, func(s *CrawlState) bool {
		s.RecomputeSectionOrder()
		return true
	}) {
		result.Outcome = OutcomeSuperseded
		return result, nil
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Outcome = OutcomeInterrupted
			return result, ctxErr
		}
		sel := o.selectNext(ctx, epoch)
		switch sel.kind {
		case selectSuperseded:
			result.Outcome = OutcomeSuperseded
			return result, nil
		case selectPaused:
			result.Outcome = OutcomePaused
			result.PauseReason = sel.reason
			return result, nil
		case selectDone:
			summary, ok := o.complete(ctx, epoch, rep)
			if !ok {
				result.Outcome = OutcomeSuperseded
				return result, nil
			}
			result.Outcome = OutcomeCompleted
			result.Summary = &summary
			return result, nil
		}

		logger.Info("processing section",
			zap.String("section", sel.section.Key),
			zap.String("label", sel.section.Label),
		)
		outcome, sectionErr := o.engine.runSection(ctx, o.state, epoch, sel.section, sel.country, rep)
		switch outcome {
		case sectionSuperseded:
			result.Outcome = OutcomeSuperseded
			return result, nil
		case sectionInterrupted:
			result.Outcome = OutcomeInterrupted
			return result, sectionErr
		case sectionPaused:
			continue
		}
		wait := o.cfg.SectionDelay.Next()
		metrics.ObservePolitenessDelay("section", wait)
		if sleepErr := o.sleeper.Sleep(ctx, wait); sleepErr != nil {
			result.Outcome = OutcomeInterrupted
			return result, sleepErr
		}
	}
}

// selectNext resumes the current section or enters the next pending one,
// seeding its stack from the roots. Keys without metadata are skipped forward.
func (o *Orchestrator) selectNext(ctx context.Context, epoch uint64) selection {
	sel := selection{kind: selectDone}
	if !o.state.do(ctx, epoch, func(s *CrawlState) bool {
		sel.country = s.CountryCode
		if s.Paused {
			sel.kind = selectPaused
			sel.reason = s.PauseReason
			return false
		}
		if s.CurrentSectionKey != "" {
			if sec, ok := s.Sections[s.CurrentSectionKey]; ok {
				sel.kind = selectSection
				sel.section = sec
				return false
			}
		}
		changed := false
		for {
			key, ok := s.NextPendingSection()
			if !ok {
				if s.CurrentSectionKey != "" {
					s.CurrentSectionKey = ""
					s.Queue = []Node{}
					s.PartialResults = []Record{}
					changed = true
				}
				return changed
			}
			sec, ok := s.Sections[key]
			if !ok {
				s.MarkCompleted(key)
				changed = true
				continue
			}
			s.CurrentSectionKey = key
			s.Queue = cloneNodes(sec.Roots)
			s.PartialResults = []Record{}
			sel.kind = selectSection
			sel.section = sec
			return true
		}
	}) {
		return selection{kind: selectSuperseded}
	}
	return sel
}

// complete reports the summary and then resets to fresh defaults for the
// same country. It returns false when a command superseded the run first.
func (o *Orchestrator) complete(ctx context.Context, epoch uint64, rep *runReporter) (CompletionSummary, bool) {
	var summary CompletionSummary
	if !o.state.do(ctx, epoch, func(s *CrawlState) bool {
		summary = CompletionSummary{
			Country:              s.CountryCode,
			SectionsProcessed:    len(s.CompletedSections),
			TotalDownloadedCount: s.TotalDownloadedCount,
		}
		return false
	}) {
		return summary, false
	}
	rep.report(progress.StageRunDone,
		fmt.Sprintf("%d sections, %d records", summary.SectionsProcessed, summary.TotalDownloadedCount))
	if !o.state.replaceAt(ctx, epoch, func(old *CrawlState) *CrawlState {
		return NewCrawlState(old.CountryCode, old.CountryLabel)
	}) {
		o.logger.Info("completion reset skipped; state changed meanwhile")
		return summary, false
	}
	o.logger.Info("all sections complete",
		zap.String("country", summary.Country),
		zap.Int("sections", summary.SectionsProcessed),
		zap.Int("records", summary.TotalDownloadedCount),
	)
	return summary, true
}

// pause records err as the pause cause and notifies.
func (o *Orchestrator) pause(ctx context.Context, epoch uint64, err error) string {
	var reason string
	if !o.state.do(ctx, epoch, func(s *CrawlState) bool {
		reason = o.pauser.apply(s, err, nil)
		return true
	}) {
		return o.pauser.Classify(err)
	}
	o.notify(progress.StagePaused, "")
	return reason
}

func (o *Orchestrator) notify(stage progress.Stage, note string) {
	o.emit(o.sessionID, stage, note)
}

func (o *Orchestrator) emit(runID [16]byte, stage progress.Stage, note string) {
	if o.emitter == nil {
		return
	}
	running := o.isRunning()
	var evt progress.Event
	o.state.read(func(s *CrawlState) {
		evt = progress.Event{
			RunID:             runID,
			TS:                o.clock.Now().UTC(),
			Stage:             stage,
			Country:           s.CountryCode,
			SectionKey:        s.CurrentSectionKey,
			Processed:         len(s.PartialResults),
			Remaining:         len(s.Queue),
			CompletedSections: len(s.CompletedSections),
			TotalSections:     len(s.SectionOrder),
			Downloaded:        s.TotalDownloadedCount,
			Running:           running,
			Paused:            s.Paused,
			PauseReason:       s.PauseReason,
			Note:              note,
		}
		if sec, ok := s.Sections[s.CurrentSectionKey]; ok {
			evt.SectionLabel = sec.Label
		}
	})
	o.emitter.Emit(evt)
}

func (o *Orchestrator) newRunID() [16]byte {
	if id, err := o.ids.NewID(); err == nil {
		if parsed, err := uuid.Parse(id); err == nil {
			return progress.UUIDToBytes(parsed)
		}
	}
	return progress.UUIDToBytes(uuid.New())
}

// runReporter tags events with the run ID. Progress throttling belongs to
// the emitter.
type runReporter struct {
	o     *Orchestrator
	runID [16]byte
}

func (r *runReporter) report(stage progress.Stage, note string) {
	r.o.emit(r.runID, stage, note)
}
