package domain

import (
	"context"
	"strings"
)

// HazardCategory is one of the advisory categories published by PAGASA.
type HazardCategory string

const (
	HazardRainfall     HazardCategory = "Rainfall"
	HazardThunderstorm HazardCategory = "Thunderstorm"
	HazardFlood        HazardCategory = "Flood"
	HazardTropical     HazardCategory = "Tropical"
)

// HazardCategories lists every category in the order the advisory page offers them.
var HazardCategories = []HazardCategory{
	HazardRainfall,
	HazardThunderstorm,
	HazardFlood,
	HazardTropical,
}

// AdvisoryBundle maps a hazard category to its advisory text. A missing key
// or blank text means no active advisory for that category.
type AdvisoryBundle map[HazardCategory]string

// Active returns the categories with advisory text, in HazardCategories order.
func (b AdvisoryBundle) Active() []HazardCategory {
	var active []HazardCategory
	for _, c := range HazardCategories {
		if strings.TrimSpace(b[c]) != "" {
			active = append(active, c)
		}
	}
	return active
}

// Any reports whether at least one category has an advisory.
func (b AdvisoryBundle) Any() bool {
	return len(b.Active()) > 0
}

// AdvisorySource fetches hazard advisories for a free-text region name.
type AdvisorySource interface {
	// AdvisoriesFor returns one optional text per category. A category that
	// could not be extracted is absent; only a failure of the whole lookup
	// is reported as a *SourceError.
	AdvisoriesFor(ctx context.Context, region string) (AdvisoryBundle, error)
}

// PrecipitationReading is a current-conditions snapshot for a coordinate.
type PrecipitationReading struct {
	Condition string
	PrecipMM  float64 // accumulated in the provider's current reporting window
}

// PrecipitationSource fetches current precipitation for a coordinate.
type PrecipitationSource interface {
	// PrecipitationAt returns a *SourceError for transport failures and for
	// payloads missing the precipitation value; it never reports those as zero.
	PrecipitationAt(ctx context.Context, lat, lon float64) (PrecipitationReading, error)
}
