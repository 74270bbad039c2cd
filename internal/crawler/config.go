package crawler

import (
	"errors"
	"time"
)

// Config captures the engine knobs that influence a crawl run.
type Config struct {
	// DefaultCountry seeds fresh state when nothing has been persisted.
	DefaultCountry      string
	DefaultCountryLabel string
	// Countries is the selectable scope catalog, in display order.
	Countries []Country
	// PolitenessDelay follows every successful child fetch.
	PolitenessDelay DelayRange
	// SectionDelay follows every completed section.
	SectionDelay DelayRange
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		DefaultCountry:      DefaultCountryCode,
		DefaultCountryLabel: "France",
		Countries:           []Country{{Value: DefaultCountryCode, Label: "France"}},
		PolitenessDelay:     DelayRange{Min: 2000 * time.Millisecond, Max: 5000 * time.Millisecond},
		SectionDelay:        DelayRange{Min: 500 * time.Millisecond, Max: 1250 * time.Millisecond},
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.PolitenessDelay.Min < 0 || c.PolitenessDelay.Max < c.PolitenessDelay.Min {
		return errors.New("politeness delay range is invalid")
	}
	if c.SectionDelay.Min < 0 || c.SectionDelay.Max < c.SectionDelay.Min {
		return errors.New("section delay range is invalid")
	}
	return nil
}

// countryLabel looks code up in the catalog.
func (c Config) countryLabel(code string) string {
	for _, country := range c.Countries {
		if country.Value == code {
			return country.Label
		}
	}
	return ""
}
