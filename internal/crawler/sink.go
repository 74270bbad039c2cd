package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
)

// ResultSink writes one pretty-printed JSON file per completed section.
type ResultSink struct {
	blobs  BlobStore
	prefix string
	clock  Clock
	logger *zap.Logger
}

// NewResultSink returns a sink that stores files under prefix in blobs.
func NewResultSink(blobs BlobStore, prefix string, clock Clock, logger *zap.Logger) *ResultSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultSink{
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		logger: logger,
	}
}

// Filename builds <country>__<label>__<name>__<YYYY-MM-DD>.json, lower-cased.
func (s *ResultSink) Filename(countryCode string, section Section) string {
	country := countryCode
	if country == "" {
		country = DefaultCountryCode
	}
	label := section.Label
	if label == "" {
		label = "section"
	}
	name := section.Name
	if name == "" {
		name = "data"
	}
	date := s.clock.Now().UTC().Format("2006-01-02")
	filename := fmt.Sprintf("%s__%s__%s__%s.json",
		sanitizeFilenameComponent(country),
		sanitizeFilenameComponent(label),
		sanitizeFilenameComponent(name),
		date,
	)
	return strings.ToLower(filename)
}

// Emit serializes records and hands them to the blob store, returning the
// stored URI.
func (s *ResultSink) Emit(ctx context.Context, countryCode string, section Section, records []Record) (string, error) {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	name := s.Filename(countryCode, section)
	target := name
	if s.prefix != "" {
		target = path.Join(s.prefix, name)
	}
	uri, err := s.blobs.PutObject(ctx, target, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	s.logger.Info("section output written",
		zap.String("section", section.Key),
		zap.Int("records", len(records)),
		zap.String("uri", uri),
	)
	return uri, nil
}
