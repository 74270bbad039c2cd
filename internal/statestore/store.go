// Package statestore persists the crawl state as one versioned JSON blob on
// top of a storage.StateBackend.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

// Store implements crawler.StateStore. Read and write failures are logged
// and swallowed.
type Store struct {
	backend      storage.StateBackend
	countryCode  string
	countryLabel string
	logger       *zap.Logger
}

var _ crawler.StateStore = (*Store)(nil)

// New wraps backend. countryCode and countryLabel seed fresh states.
func New(backend storage.StateBackend, countryCode, countryLabel string, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("state backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Store{
		backend:      backend,
		countryCode:  crawler.NormalizeCountryCode(countryCode),
		countryLabel: countryLabel,
		logger:       logger,
	}, nil
}

func (s *Store) fresh() *crawler.CrawlState {
	return crawler.NewCrawlState(s.countryCode, s.countryLabel)
}

// Load returns the persisted state, or fresh defaults when the blob is
// missing, unreadable, or written under another schema version.
func (s *Store) Load(ctx context.Context) *crawler.CrawlState {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return s.fresh()
	}
	if err != nil {
		s.logger.Warn("state read failed; starting fresh",
			zap.Error(&crawler.StorageError{Op: "load", Err: err}))
		return s.fresh()
	}
	var state crawler.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("state blob unparsable; starting fresh", zap.Error(err))
		return s.fresh()
	}
	if state.SchemaVersion != crawler.StateSchemaVersion {
		s.logger.Info("state schema mismatch; starting fresh",
			zap.Int("found", state.SchemaVersion),
			zap.Int("want", crawler.StateSchemaVersion))
		return s.fresh()
	}
	state.Normalize()
	return &state
}

// Save writes state. A failure is logged and counted, never returned.
func (s *Store) Save(ctx context.Context, state *crawler.CrawlState) {
	if state == nil {
		return
	}
	if err := s.save(ctx, state); err != nil {
		metrics.ObserveStateSaveFailure()
		s.logger.Warn("state save failed", zap.Error(err))
	}
}

func (s *Store) save(ctx context.Context, state *crawler.CrawlState) error {
	cp := state.Clone()
	cp.SchemaVersion = crawler.StateSchemaVersion
	cp.Normalize()
	data, err := json.Marshal(cp)
	if err != nil {
		return &crawler.StorageError{Op: "encode", Err: err}
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return &crawler.StorageError{Op: "save", Err: err}
	}
	return nil
}

// Clear removes the blob.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx); err != nil {
		s.logger.Warn("state clear failed", zap.Error(&crawler.StorageError{Op: "clear", Err: err}))
	}
}
