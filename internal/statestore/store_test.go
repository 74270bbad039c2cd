package statestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/storage/memory"
)

func newStore(t *testing.T) (*Store, *memory.StateBlob, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	blob := memory.NewStateBlob()
	store, err := New(blob, "de", "Germany", zap.New(core))
	require.NoError(t, err)
	return store, blob, logs
}

func TestNewRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "FR", "France", nil)
	require.Error(t, err)
}

func TestLoadMissingBlobReturnsDefaults(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	state := store.Load(context.Background())

	assert.Equal(t, crawler.StateSchemaVersion, state.SchemaVersion)
	assert.Equal(t, "DE", state.CountryCode)
	assert.Equal(t, "Germany", state.CountryLabel)
	assert.Nil(t, state.Sections)
	assert.Empty(t, state.Queue)
	assert.NotNil(t, state.CompletedSections)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, blob, _ := newStore(t)

	state := crawler.NewCrawlState("FR", "France")
	state.CurrentSectionKey = "I"
	state.Queue = []crawler.Node{{ID: "10", Code: "0101", Path: []string{"Animals"}, SectionKey: "I"}}
	state.PartialResults = []crawler.Record{{HSCode: "010121", Description: "Horses"}}
	state.TotalDownloadedCount = 7
	state.Paused = true
	state.PauseReason = "Rate limited"

	store.Save(ctx, state)
	require.Equal(t, 1, blob.Writes())

	loaded := store.Load(ctx)
	assert.Equal(t, state, loaded)
}

func TestLoadDiscardsMismatchedVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		blob string
	}{
		{name: "old version", blob: `{"schemaVersion":1,"countryCode":"IT","totalDownloadedCount":5}`},
		{name: "missing version", blob: `{"countryCode":"IT","totalDownloadedCount":5}`},
		{name: "garbage", blob: `{not json`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store, blob, _ := newStore(t)
			blob.Seed([]byte(tc.blob))

			state := store.Load(context.Background())
			assert.Equal(t, "DE", state.CountryCode)
			assert.Zero(t, state.TotalDownloadedCount)
		})
	}
}

func TestLoadReadFailureStartsFresh(t *testing.T) {
	t.Parallel()

	store, blob, logs := newStore(t)
	blob.ReadErr = errors.New("disk unplugged")

	state := store.Load(context.Background())
	assert.Equal(t, "DE", state.CountryCode)
	assert.Equal(t, 1, logs.FilterMessage("state read failed; starting fresh").Len())
}

func TestSaveFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	store, blob, logs := newStore(t)
	blob.FailWrites()

	require.NotPanics(t, func() {
		store.Save(context.Background(), crawler.NewCrawlState("FR", "France"))
	})
	entries := logs.FilterMessage("state save failed").All()
	require.Len(t, entries, 1)
	msg, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "state save: injected failure")
}

func TestClearRemovesBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, blob, _ := newStore(t)
	store.Save(ctx, crawler.NewCrawlState("FR", "France"))

	store.Clear(ctx)

	_, err := blob.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, "DE", store.Load(ctx).CountryCode)
}
