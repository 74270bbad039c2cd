package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/app"
	"github.com/JakeFAU/nomenclature-crawler/internal/clock/system"
	"github.com/JakeFAU/nomenclature-crawler/internal/config"
	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/storage/memory"
)

const testOutput = "fr__section_i__live_animals__2026-10-19.json"

func nomenclatureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("parent") {
		case "":
			_, _ = w.Write([]byte(`[{"id": 1, "code": "01", "hasChildren": true, "description": "Live animals",
				"section": {"code": "I", "description": "Section I", "longDescription": "Live animals"}}]`))
		case "1":
			_, _ = w.Write([]byte(`[{"id": 11, "code": "010121", "hasChildren": false, "description": "Pure-bred horses"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.Endpoint = endpoint
	cfg.Crawler.DelayMinMs, cfg.Crawler.DelayMaxMs = 0, 0
	cfg.Crawler.SectionDelayMinMs, cfg.Crawler.SectionDelayMaxMs = 0, 0
	cfg.Crawler.ProgressThrottle = 0
	cfg.State.Backend = config.StateMemory
	cfg.Output.Backend = config.OutputMemory
	cfg.Progress.MaxBatchWaitMs = 10
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildRunsCrawlThroughAPI(t *testing.T) {
	ctx := context.Background()
	upstream := nomenclatureServer(t)
	blobs := memory.NewBlobStore()
	state := memory.NewStateBlob()

	a, err := app.Build(ctx, testConfig(t, upstream.URL), zap.NewNop(),
		app.WithBlobStore(blobs),
		app.WithStateBackend(state),
		app.WithClock(system.NewFixed(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/start", "application/json", bytes.NewBufferString(`{"sectionKey": "__all__"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	a.Orchestrator().Wait()

	data, ok := blobs.Get(testOutput)
	require.True(t, ok, "paths: %v", blobs.Paths())
	var records []crawler.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, crawler.Record{
		HSCode:      "010121",
		Description: "Live animals, Pure-bred horses",
		Section:     "Section I",
		SectionName: "Live animals",
		Chapter:     "01",
		Heading:     "0101",
		Subheading:  "21",
	}, records[0])
	assert.Positive(t, state.Writes())

	resp, err = http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		OK     bool           `json:"ok"`
		Status crawler.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.False(t, body.Status.Running)
	assert.False(t, body.Status.Paused)
	assert.Equal(t, "FR", body.Status.Country.Code)

	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx), "close is idempotent")

	ready := httptest.NewRecorder()
	a.Handler().ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
}

func TestBuildWithDiskBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.State.Backend = config.StateSQLite
	cfg.State.Path = filepath.Join(dir, "state.db")
	cfg.Output.Backend = config.OutputLocal
	cfg.Output.Dir = filepath.Join(dir, "out")
	require.NoError(t, cfg.Validate())

	a, err := app.Build(ctx, cfg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"countryCode": "de", "label": "Germany"}`)
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/country", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, a.Close(ctx))

	reopened, err := app.Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close(ctx) }()
	assert.Equal(t, crawler.CountryInfo{Code: "DE", Label: "Germany"}, reopened.Orchestrator().Status().Country)
	assert.DirExists(t, cfg.Output.Dir)
}

func TestBuildFailsOnUnusableOutputDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Output.Backend = config.OutputLocal
	cfg.Output.Dir = blocker

	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Server.Port = freePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
