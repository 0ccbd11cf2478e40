// Package domain models weather-activated geofences.
//
// # Fences
//
// A fence is a user-drawn GeoJSON geometry stored as a document with a
// properties object. Only two geometry types are evaluated:
//
//	{"type": "Point",   "coordinates": [lon, lat]}
//	{"type": "Polygon", "coordinates": [[[lon, lat], [lon, lat], ...]]}
//
// Anything else (LineString, MultiPolygon, empty coordinate arrays, vertices
// with fewer than two numbers) is rejected with ErrMalformedGeometry and the
// fence is skipped for that pass.
//
// The point used to query weather sources is the geometry itself for a Point
// and the first vertex of the outer ring for a Polygon. For large polygons
// this can sit far from the area's center; it is kept so activation results
// stay comparable with existing fence data.
//
// # Hazard Sources
//
// Advisories come from the PAGASA hazard notification page
// (https://www.panahon.gov.ph/), which lists alerts per category and accepts
// a free-text province/region search:
//
//	Rainfall, Thunderstorm, Flood, Tropical
//
// Precipitation comes from the weatherapi.com current conditions endpoint,
// which reports millimeters accumulated in its current reporting window.
//
// # Activation Policy
//
// PAGASA hourly rainfall warning thresholds:
//
//	Yellow: 7.5 mm to 15 mm in one hour
//	Orange: 15 mm to 30 mm in one hour
//	Red:    more than 30 mm in one hour
//
// A fence is active when any advisory category has text, or when the
// precipitation reading is known and strictly above the yellow threshold.
// An unknown reading never counts as zero; with no advisory either, the
// fence is deactivated.
package domain
