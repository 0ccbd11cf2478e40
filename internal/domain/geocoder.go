package domain

import "context"

// UnknownField fills geocoding fields the provider left out.
const UnknownField = "Unknown"

// RegionInfo describes the administrative area around a coordinate.
type RegionInfo struct {
	Name     string
	Region   string // state/province equivalent, used as the advisory query
	Country  string
	Timezone string
	Lat      float64
	Lon      float64
}

// Geocoder resolves coordinates to an administrative region.
type Geocoder interface {
	// Locate returns ErrNotFound when the provider has no location record
	// and a *SourceError on transport or payload failure.
	Locate(ctx context.Context, lat, lon float64) (RegionInfo, error)
}

// AdvisoryQuery is the free-text region name sent to the advisory source:
// the province-level region, or the place name when the region is unknown.
func (r RegionInfo) AdvisoryQuery() string {
	if r.Region != "" && r.Region != UnknownField {
		return r.Region
	}
	if r.Name != "" && r.Name != UnknownField {
		return r.Name
	}
	return ""
}
