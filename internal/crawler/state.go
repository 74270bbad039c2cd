package crawler

import (
	"sort"
	"strings"
)

// CrawlState is the single unit of durability. Queue and PartialResults belong
// to CurrentSectionKey and are empty whenever it is empty. Sections is nil
// until the catalog has been loaded for the current country.
type CrawlState struct {
	SchemaVersion        int                `json:"schemaVersion"`
	DesiredSectionKeys   []string           `json:"desiredSectionKeys"`
	Sections             map[string]Section `json:"sections"`
	AllSectionKeys       []string           `json:"allSectionKeys"`
	SectionOrder         []string           `json:"sectionOrder"`
	CompletedSections    []string           `json:"completedSections"`
	CurrentSectionKey    string             `json:"currentSectionKey"`
	Queue                []Node             `json:"queue"`
	PartialResults       []Record           `json:"partialResults"`
	Paused               bool               `json:"paused"`
	PauseReason          string             `json:"pauseReason"`
	LastError            *LastError         `json:"lastError"`
	TotalDownloadedCount int                `json:"totalDownloadedCount"`
	CountryCode          string             `json:"countryCode"`
	CountryLabel         string             `json:"countryLabel"`
}

// NewCrawlState returns fresh defaults for the given country.
func NewCrawlState(countryCode, countryLabel string) *CrawlState {
	s := &CrawlState{
		SchemaVersion: StateSchemaVersion,
		CountryCode:   NormalizeCountryCode(countryCode),
		CountryLabel:  countryLabel,
	}
	s.Normalize()
	return s
}

// NormalizeCountryCode trims and upper-cases a code, defaulting to FR.
func NormalizeCountryCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return DefaultCountryCode
	}
	return c
}

// Normalize replaces nil slices with empty ones so the persisted blob always
// carries arrays, and fills in a missing country.
func (s *CrawlState) Normalize() {
	if s.DesiredSectionKeys == nil {
		s.DesiredSectionKeys = []string{}
	}
	if s.AllSectionKeys == nil {
		s.AllSectionKeys = []string{}
	}
	if s.SectionOrder == nil {
		s.SectionOrder = []string{}
	}
	if s.CompletedSections == nil {
		s.CompletedSections = []string{}
	}
	if s.Queue == nil {
		s.Queue = []Node{}
	}
	if s.PartialResults == nil {
		s.PartialResults = []Record{}
	}
	if s.CountryCode == "" {
		s.CountryCode = DefaultCountryCode
	}
}

// RecomputeSectionOrder derives SectionOrder from AllSectionKeys, filtered to
// DesiredSectionKeys when that set is non-empty and to keys present in Sections.
func (s *CrawlState) RecomputeSectionOrder() {
	if s.Sections == nil {
		s.SectionOrder = []string{}
		return
	}
	base := s.AllSectionKeys
	if len(base) == 0 {
		base = make([]string, 0, len(s.Sections))
		for key := range s.Sections {
			base = append(base, key)
		}
		sort.Strings(base)
	}
	desired := make(map[string]struct{}, len(s.DesiredSectionKeys))
	for _, key := range s.DesiredSectionKeys {
		desired[key] = struct{}{}
	}
	order := make([]string, 0, len(base))
	for _, key := range base {
		if _, ok := s.Sections[key]; !ok {
			continue
		}
		if len(desired) > 0 {
			if _, ok := desired[key]; !ok {
				continue
			}
		}
		order = append(order, key)
	}
	s.SectionOrder = order
}

// ResetProgress clears every traversal progress field.
func (s *CrawlState) ResetProgress() {
	s.CompletedSections = []string{}
	s.CurrentSectionKey = ""
	s.Queue = []Node{}
	s.PartialResults = []Record{}
	s.Paused = false
	s.PauseReason = ""
	s.LastError = nil
	s.TotalDownloadedCount = 0
}

// InvalidateScope drops everything tied to the current country's node ids.
// DesiredSectionKeys survives.
func (s *CrawlState) InvalidateScope() {
	s.Sections = nil
	s.AllSectionKeys = []string{}
	s.SectionOrder = []string{}
	s.ResetProgress()
}

// IsCompleted reports whether key has been closed.
func (s *CrawlState) IsCompleted(key string) bool {
	for _, k := range s.CompletedSections {
		if k == key {
			return true
		}
	}
	return false
}

// MarkCompleted appends key to CompletedSections unless already present.
func (s *CrawlState) MarkCompleted(key string) {
	if s.IsCompleted(key) {
		return
	}
	s.CompletedSections = append(s.CompletedSections, key)
}

// NextPendingSection returns the first key in SectionOrder not yet completed.
func (s *CrawlState) NextPendingSection() (string, bool) {
	for _, key := range s.SectionOrder {
		if !s.IsCompleted(key) {
			return key, true
		}
	}
	return "", false
}

func (s *CrawlState) pushNode(n Node) {
	s.Queue = append(s.Queue, n)
}

func (s *CrawlState) peekNode() (Node, bool) {
	if len(s.Queue) == 0 {
		return Node{}, false
	}
	return s.Queue[len(s.Queue)-1], true
}

// expandTop replaces the top of the stack with children so the first child
// is popped next. It reports false when parent is no longer on top.
func (s *CrawlState) expandTop(parent Node, children []RawNode) bool {
	top, ok := s.peekNode()
	if !ok || top.ID != parent.ID {
		return false
	}
	s.Queue = s.Queue[:len(s.Queue)-1]
	for i := len(children) - 1; i >= 0; i-- {
		s.pushNode(ChildNode(parent, children[i]))
	}
	return true
}

func (s *CrawlState) popNode() (Node, bool) {
	if len(s.Queue) == 0 {
		return Node{}, false
	}
	last := len(s.Queue) - 1
	n := s.Queue[last]
	s.Queue = s.Queue[:last]
	return n, true
}

// Clone returns a deep copy.
func (s *CrawlState) Clone() *CrawlState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.DesiredSectionKeys = append([]string{}, s.DesiredSectionKeys...)
	cp.AllSectionKeys = append([]string{}, s.AllSectionKeys...)
	cp.SectionOrder = append([]string{}, s.SectionOrder...)
	cp.CompletedSections = append([]string{}, s.CompletedSections...)
	cp.Queue = cloneNodes(s.Queue)
	cp.PartialResults = append([]Record{}, s.PartialResults...)
	if s.Sections != nil {
		cp.Sections = cloneSections(s.Sections)
	}
	if s.LastError != nil {
		le := *s.LastError
		if le.Node != nil {
			snap := *le.Node
			le.Node = &snap
		}
		cp.LastError = &le
	}
	return &cp
}

func cloneSections(in map[string]Section) map[string]Section {
	out := make(map[string]Section, len(in))
	for key, sec := range in {
		sec.Roots = cloneNodes(sec.Roots)
		out[key] = sec
	}
	return out
}
