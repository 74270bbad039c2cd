// Package progress defines the status events emitted by the crawl orchestrator.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageProgress     Stage = "PROGRESS"
	StageSectionDone  Stage = "SECTION_DONE"
	StagePaused       Stage = "PAUSED"
	StageRunDone      Stage = "RUN_DONE"
	StageRunStop      Stage = "RUN_STOP"
	StageStateChanged Stage = "STATE_CHANGED"
)

// Event is one status snapshot of the crawl.
type Event struct {
	// RunID identifies the run (or the command session) using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Country is the active taxonomy scope code.
	Country string
	// SectionKey and SectionLabel identify the section in progress, if any.
	SectionKey   string
	SectionLabel string
	// Processed is the number of records accumulated for the current section.
	Processed int
	// Remaining is the current traversal queue depth.
	Remaining int
	// CompletedSections and TotalSections describe run-level progress.
	CompletedSections int
	TotalSections     int
	// Downloaded is the running total of records emitted in earlier sections.
	Downloaded int
	Running    bool
	Paused     bool
	// PauseReason is set while the crawl is paused.
	PauseReason string
	// Note lets emitters attach low-volume context (e.g. an output URI).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageProgress, StageRunDone, StageRunStop, StageStateChanged:
	case StageSectionDone:
		if e.SectionKey == "" {
			return errors.New("section done requires section key")
		}
	case StagePaused:
		if !e.Paused {
			return errors.New("paused event requires paused flag")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Processed < 0 || e.Remaining < 0 || e.Downloaded < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
