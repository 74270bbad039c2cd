package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the JSON body published for milestone events.
type Notification struct {
	RunID             string    `json:"run_id"`
	Stage             string    `json:"stage"`
	TS                time.Time `json:"ts"`
	Country           string    `json:"country"`
	SectionKey        string    `json:"section_key,omitempty"`
	SectionLabel      string    `json:"section_label,omitempty"`
	CompletedSections int       `json:"completed_sections"`
	TotalSections     int       `json:"total_sections"`
	Downloaded        int       `json:"downloaded"`
	Paused            bool      `json:"paused"`
	PauseReason       string    `json:"pause_reason,omitempty"`
	Note              string    `json:"note,omitempty"`
}

// PublisherSink forwards section completions, pauses, and run completions to
// a Publisher. Throttled progress ticks are not published.
type PublisherSink struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPublisherSink wires a Publisher to the sink interface.
func NewPublisherSink(publisher Publisher, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, logger: logger}
}

// Consume publishes milestone events one message at a time and returns the
// first failure after attempting the whole batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return nil
	}
	var firstErr error
	for _, evt := range batch {
		if !publishable(evt.Stage) {
			continue
		}
		id, err := s.publisher.Publish(ctx, string(evt.Stage), toNotification(evt))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s event: %w", evt.Stage, err)
			}
			continue
		}
		s.logger.Debug("progress notification published",
			zap.String("stage", string(evt.Stage)),
			zap.String("message_id", id),
		)
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func publishable(stage progress.Stage) bool {
	switch stage {
	case progress.StageSectionDone, progress.StagePaused, progress.StageRunDone:
		return true
	default:
		return false
	}
}

func toNotification(evt progress.Event) Notification {
	return Notification{
		RunID:             evt.RunUUID().String(),
		Stage:             string(evt.Stage),
		TS:                evt.TS.UTC(),
		Country:           evt.Country,
		SectionKey:        evt.SectionKey,
		SectionLabel:      evt.SectionLabel,
		CompletedSections: evt.CompletedSections,
		TotalSections:     evt.TotalSections,
		Downloaded:        evt.Downloaded,
		Paused:            evt.Paused,
		PauseReason:       evt.PauseReason,
		Note:              evt.Note,
	}
}
