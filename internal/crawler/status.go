package crawler

// CurrentSection describes the section being traversed.
type CurrentSection struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Name      string `json:"name"`
	Processed int    `json:"processed"`
	Remaining int    `json:"remaining"`
}

// CountryInfo is the active scope.
type CountryInfo struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Status is the payload returned by getStatus and pushed on every change.
type Status struct {
	Running              bool            `json:"running"`
	Paused               bool            `json:"paused"`
	PauseReason          *string         `json:"pauseReason"`
	CurrentSection       *CurrentSection `json:"currentSection"`
	CompletedSections    []string        `json:"completedSections"`
	TotalSections        int             `json:"totalSections"`
	DesiredSectionKeys   []string        `json:"desiredSectionKeys"`
	TotalDownloadedCount int             `json:"totalDownloadedCount"`
	HasState             bool            `json:"hasState"`
	LastError            *LastError      `json:"lastError"`
	Country              CountryInfo     `json:"country"`
}

// SectionSummary is one entry of the getSections response.
type SectionSummary struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// CountryList is the getCountries response.
type CountryList struct {
	Countries []Country `json:"countries"`
	Selected  string    `json:"selected"`
	Label     string    `json:"label"`
}

// CountryChange is the setCountry response.
type CountryChange struct {
	Changed bool        `json:"changed"`
	Country CountryInfo `json:"country"`
}

// StartOptions parameterizes the start command. SectionKey selects one
// section, AllSectionsKey selects all, and empty keeps the current selection.
type StartOptions struct {
	SectionKey string `json:"sectionKey"`
	Restart    bool   `json:"restart"`
}

func buildStatus(s *CrawlState, running bool) Status {
	st := Status{
		Running:              running,
		Paused:               s.Paused,
		CompletedSections:    make([]string, 0, len(s.CompletedSections)),
		TotalSections:        len(s.SectionOrder),
		DesiredSectionKeys:   append([]string{}, s.DesiredSectionKeys...),
		TotalDownloadedCount: s.TotalDownloadedCount,
		HasState:             s.Sections != nil,
		Country:              countryInfo(s),
	}
	if s.PauseReason != "" {
		reason := s.PauseReason
		st.PauseReason = &reason
	}
	if s.LastError != nil {
		le := *s.LastError
		if le.Node != nil {
			snap := *le.Node
			le.Node = &snap
		}
		st.LastError = &le
	}
	if s.CurrentSectionKey != "" {
		cur := &CurrentSection{
			Key:       s.CurrentSectionKey,
			Label:     s.CurrentSectionKey,
			Processed: len(s.PartialResults),
			Remaining: len(s.Queue),
		}
		if sec, ok := s.Sections[s.CurrentSectionKey]; ok {
			cur.Label = sec.Label
			cur.Name = sec.Name
		}
		st.CurrentSection = cur
	}
	for _, key := range s.CompletedSections {
		label := key
		if sec, ok := s.Sections[key]; ok && sec.Label != "" {
			label = sec.Label
		}
		st.CompletedSections = append(st.CompletedSections, label)
	}
	return st
}

func countryInfo(s *CrawlState) CountryInfo {
	code := s.CountryCode
	if code == "" {
		code = DefaultCountryCode
	}
	label := s.CountryLabel
	if label == "" {
		label = code
	}
	return CountryInfo{Code: code, Label: label}
}

func sectionSummaries(s *CrawlState) []SectionSummary {
	out := make([]SectionSummary, 0, len(s.SectionOrder))
	if s.Sections == nil {
		return out
	}
	for _, key := range s.SectionOrder {
		sec, ok := s.Sections[key]
		if !ok {
			continue
		}
		out = append(out, SectionSummary{Key: sec.Key, Label: sec.Label, Name: sec.Name})
	}
	return out
}
