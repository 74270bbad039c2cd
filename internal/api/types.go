package api

import "github.com/JakeFAU/nomenclature-crawler/internal/crawler"

type countryRequest struct {
	CountryCode string `json:"countryCode"`
	Label       string `json:"label"`
}

type startRequest struct {
	SectionKey string `json:"sectionKey"`
	Restart    bool   `json:"restart"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type messageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	OK     bool           `json:"ok"`
	Status crawler.Status `json:"status"`
}

type countriesResponse struct {
	OK        bool              `json:"ok"`
	Countries []crawler.Country `json:"countries"`
	Selected  string            `json:"selected"`
	Label     string            `json:"label"`
}

type sectionsResponse struct {
	OK       bool                     `json:"ok"`
	Sections []crawler.SectionSummary `json:"sections"`
}

type countryResponse struct {
	OK      bool                `json:"ok"`
	Changed bool                `json:"changed"`
	Country crawler.CountryInfo `json:"country"`
}

type eventPayload struct {
	Stage  string         `json:"stage"`
	RunID  string         `json:"runId"`
	TS     string         `json:"ts"`
	Note   string         `json:"note,omitempty"`
	Status crawler.Status `json:"status"`
}
