package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

func TestBroadcastSinkDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcastSink()
	first, cancelFirst := b.Subscribe(4)
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()
	require.Equal(t, 2, b.Subscribers())

	evt := progress.Event{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageProgress}
	require.NoError(t, b.Consume(context.Background(), []progress.Event{evt}))

	require.Equal(t, evt, <-first)
	require.Equal(t, evt, <-second)

	cancelFirst()
	cancelFirst()
	_, open := <-first
	require.False(t, open)
	require.Equal(t, 1, b.Subscribers())
}

func TestBroadcastSinkDropsForSlowSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcastSink()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	evt := progress.Event{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageProgress}
	require.NoError(t, b.Consume(context.Background(), []progress.Event{evt, evt, evt}))
	require.Len(t, ch, 1)
}

func TestBroadcastSinkCloseDisconnects(t *testing.T) {
	t.Parallel()

	b := NewBroadcastSink()
	ch, cancel := b.Subscribe(1)
	require.NoError(t, b.Close(context.Background()))
	_, open := <-ch
	require.False(t, open)
	cancel()

	late, _ := b.Subscribe(1)
	_, open = <-late
	require.False(t, open)
}
