package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

type sectionOutcome int

const (
	sectionCompleted sectionOutcome = iota
	sectionPaused
	sectionSuperseded
	sectionInterrupted
)

// reporter receives engine milestones and progress ticks.
type reporter interface {
	report(stage progress.Stage, note string)
}

// TraversalEngine drains one section's stack depth-first.
type TraversalEngine struct {
	fetcher NodeFetcher
	sink    *ResultSink
	pauser  *PauseController
	delay   DelayRange
	sleeper Sleeper
	logger  *zap.Logger
}

// NewTraversalEngine wires the engine to its collaborators.
func NewTraversalEngine(
	fetcher NodeFetcher,
	sink *ResultSink,
	pauser *PauseController,
	delay DelayRange,
	logger *zap.Logger,
) *TraversalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &TraversalEngine{
		fetcher: fetcher,
		sink:    sink,
		pauser:  pauser,
		delay:   delay,
		sleeper: timerSleeper{},
		logger:  logger,
	}
}

type stepKind int

const (
	stepEmpty stepKind = iota
	stepPaused
	stepLeaf
	stepExpand
)

// runSection processes the current section until its stack is empty, a pause
// is recorded, ctx ends, or the state epoch moves on.
func (e *TraversalEngine) runSection(
	ctx context.Context,
	h *stateHolder,
	epoch uint64,
	section Section,
	country string,
	rep reporter,
) (sectionOutcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sectionInterrupted, err
		}
		var (
			kind stepKind
			node Node
		)
		if !h.do(ctx, epoch, func(s *CrawlState) bool {
			if s.Paused {
				kind = stepPaused
				return false
			}
			n, ok := s.peekNode()
			if !ok {
				kind = stepEmpty
				return false
			}
			node = n
			if n.HasChildren {
				// Stays on the stack until its children replace it.
				kind = stepExpand
				return false
			}
			s.popNode()
			kind = stepLeaf
			if n.Code != "" {
				s.PartialResults = append(s.PartialResults, BuildRecord(n))
			}
			return true
		}) {
			return sectionSuperseded, nil
		}

		switch kind {
		case stepPaused:
			return sectionPaused, nil
		case stepEmpty:
			return e.closeSection(ctx, h, epoch, section, country, rep)
		case stepLeaf:
			rep.report(progress.StageProgress, "")
			continue
		}

		children, err := e.fetcher.FetchNodes(ctx, country, node.ID)
		if err != nil {
			return e.handleFetchError(ctx, h, epoch, node, err, rep)
		}
		expanded := true
		if !h.do(ctx, epoch, func(s *CrawlState) bool {
			expanded = s.expandTop(node, children)
			return expanded
		}) {
			return sectionSuperseded, nil
		}
		if !expanded {
			e.logger.Warn("expanded node no longer on top of stack",
				zap.String("node", node.ID))
			continue
		}
		rep.report(progress.StageProgress, "")

		wait := e.delay.Next()
		metrics.ObservePolitenessDelay("request", wait)
		if err := e.sleeper.Sleep(ctx, wait); err != nil {
			return sectionInterrupted, err
		}
	}
}

func (e *TraversalEngine) handleFetchError(
	ctx context.Context,
	h *stateHolder,
	epoch uint64,
	node Node,
	fetchErr error,
	rep reporter,
) (sectionOutcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sectionInterrupted, ctxErr
	}
	if !h.do(ctx, epoch, func(s *CrawlState) bool {
		e.pauser.apply(s, fetchErr, &node)
		return true
	}) {
		return sectionSuperseded, nil
	}
	rep.report(progress.StagePaused, "")
	return sectionPaused, nil
}

// closeSection emits the accumulated records and marks the section complete.
// An output failure pauses with the records kept so resume retries the write.
func (e *TraversalEngine) closeSection(
	ctx context.Context,
	h *stateHolder,
	epoch uint64,
	section Section,
	country string,
	rep reporter,
) (sectionOutcome, error) {
	var records []Record
	if !h.do(ctx, epoch, func(s *CrawlState) bool {
		records = append([]Record(nil), s.PartialResults...)
		return false
	}) {
		return sectionSuperseded, nil
	}

	uri := ""
	if len(records) > 0 {
		var err error
		uri, err = e.sink.Emit(ctx, country, section, records)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sectionInterrupted, ctxErr
			}
			emitErr := fmt.Errorf("write output for section %s: %w", section.Label, err)
			if !h.do(ctx, epoch, func(s *CrawlState) bool {
				e.pauser.apply(s, emitErr, nil)
				return true
			}) {
				return sectionSuperseded, nil
			}
			rep.report(progress.StagePaused, "")
			return sectionPaused, nil
		}
	}

	if !h.do(ctx, epoch, func(s *CrawlState) bool {
		s.TotalDownloadedCount += len(records)
		s.MarkCompleted(section.Key)
		s.CurrentSectionKey = ""
		s.Queue = []Node{}
		s.PartialResults = []Record{}
		return true
	}) {
		return sectionSuperseded, nil
	}
	metrics.ObserveSectionCompleted(len(records))
	e.logger.Info("section complete",
		zap.String("section", section.Key),
		zap.String("label", section.Label),
		zap.Int("records", len(records)),
	)
	rep.report(progress.StageSectionDone, uri)
	return sectionCompleted, nil
}
