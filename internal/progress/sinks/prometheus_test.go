package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and gauges follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Country: "FR", TotalSections: 3},
		{
			RunID:         runID,
			TS:            time.Now().Add(time.Second),
			Stage:         progress.StageProgress,
			Country:       "FR",
			SectionKey:    "I",
			Processed:     4,
			Remaining:     7,
			TotalSections: 3,
		},
		{
			RunID:             runID,
			TS:                time.Now().Add(2 * time.Second),
			Stage:             progress.StageSectionDone,
			Country:           "FR",
			SectionKey:        "I",
			CompletedSections: 1,
			TotalSections:     3,
			Downloaded:        4,
		},
		{
			RunID:             runID,
			TS:                time.Now().Add(3 * time.Second),
			Stage:             progress.StageRunStop,
			Country:           "FR",
			CompletedSections: 1,
			TotalSections:     3,
			Downloaded:        4,
			Paused:            true,
			Remaining:         2,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("stopped")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sectionsDone.WithLabelValues("FR")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.queueDepth.WithLabelValues("FR")))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.downloaded.WithLabelValues("FR")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.paused.WithLabelValues("FR")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.totalSections.WithLabelValues("FR")))
}

func TestPrometheusSinkReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	second, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, second.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Country: "DE"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(first.runsStarted))
}
