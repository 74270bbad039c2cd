package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SectionCatalog loads and caches the top-level sections for the active
// country.
type SectionCatalog struct {
	fetcher NodeFetcher
	ids     IDGenerator
	logger  *zap.Logger
}

// NewSectionCatalog wires the catalog to its fetcher.
func NewSectionCatalog(fetcher NodeFetcher, ids IDGenerator, logger *zap.Logger) *SectionCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionCatalog{fetcher: fetcher, ids: ids, logger: logger}
}

// ensureLoaded returns the cached sections, fetching the catalog when absent
// or when forceRefresh is set. A fetch failure leaves the state untouched.
func (c *SectionCatalog) ensureLoaded(ctx context.Context, h *stateHolder, epoch uint64, forceRefresh bool) (map[string]Section, error) {
	var (
		cached  map[string]Section
		country string
	)
	if !h.do(ctx, epoch, func(s *CrawlState) bool {
		country = s.CountryCode
		if !forceRefresh && len(s.Sections) > 0 {
			cached = cloneSections(s.Sections)
		}
		return false
	}) {
		return nil, errSuperseded
	}
	if cached != nil {
		return cached, nil
	}

	items, err := c.fetcher.FetchNodes(ctx, country, "")
	if err != nil {
		return nil, fmt.Errorf("load sections for %s: %w", country, err)
	}
	sections, order := c.partition(items)
	c.logger.Info("section catalog loaded",
		zap.String("country", country),
		zap.Int("sections", len(order)),
		zap.Int("items", len(items)),
	)
	if !h.do(ctx, epoch, func(s *CrawlState) bool {
		s.Sections = sections
		s.AllSectionKeys = order
		s.RecomputeSectionOrder()
		return true
	}) {
		return nil, errSuperseded
	}
	return cloneSections(sections), nil
}

// partition groups catalog items by derived section key. Keys are ordered by
// first appearance; roots keep their response order.
func (c *SectionCatalog) partition(items []RawNode) (map[string]Section, []string) {
	sections := make(map[string]Section)
	order := make([]string, 0)
	for _, item := range items {
		meta := DeriveSectionMeta(item, c.randomToken)
		sec, ok := sections[meta.Key]
		if !ok {
			sec = Section{Key: meta.Key, Label: meta.Label, Name: meta.Name, Roots: []Node{}}
			order = append(order, meta.Key)
		}
		sec.Roots = append(sec.Roots, RootNode(item, meta))
		sections[meta.Key] = sec
	}
	return sections, order
}

func (c *SectionCatalog) randomToken() string {
	if c.ids != nil {
		if id, err := c.ids.NewID(); err == nil {
			if compact := strings.ReplaceAll(id, "-", ""); len(compact) >= 12 {
				return "section-" + compact[len(compact)-12:]
			}
		}
	}
	return "section-" + strings.ToLower(rand.Text()[:12])
}
