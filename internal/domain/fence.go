package domain

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// GeoJSON geometry types a fence may carry.
const (
	GeometryPoint   = "Point"
	GeometryPolygon = "Polygon"
)

// Fence is a stored geographic area or point with an activation flag.
type Fence struct {
	ID       string
	Name     string
	Geometry json.RawMessage // GeoJSON geometry object exactly as stored
	Active   bool
}

// RepresentativePoint decodes the fence geometry and returns the point used
// to query weather sources on behalf of the whole fence.
func (f Fence) RepresentativePoint() (orb.Point, error) {
	g, err := DecodeGeometry(f.Geometry)
	if err != nil {
		return orb.Point{}, err
	}
	return RepresentativePoint(g)
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// DecodeGeometry parses a GeoJSON geometry object into an orb.Point or an
// orb.Polygon. A point, and the first vertex of a polygon's outer ring, must
// hold at least [lon, lat]. Any other polygon vertex that is too short is
// dropped, since only that first vertex is ever evaluated. Any other geometry
// type fails with ErrMalformedGeometry.
func DecodeGeometry(data []byte) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, malformed("missing geometry")
	}

	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("decode geometry: %v", err)
	}

	switch raw.Type {
	case GeometryPoint:
		var coords []float64
		if err := json.Unmarshal(raw.Coordinates, &coords); err != nil {
			return nil, malformed("decode point coordinates: %v", err)
		}
		return toPoint(coords)

	case GeometryPolygon:
		var rings [][][]float64
		if err := json.Unmarshal(raw.Coordinates, &rings); err != nil {
			return nil, malformed("decode polygon coordinates: %v", err)
		}
		if len(rings) == 0 {
			return nil, malformed("polygon has no rings")
		}
		if len(rings[0]) > 0 {
			if _, err := toPoint(rings[0][0]); err != nil {
				return nil, fmt.Errorf("outer ring first vertex: %w", err)
			}
		}
		poly := make(orb.Polygon, 0, len(rings))
		for _, ring := range rings {
			r := make(orb.Ring, 0, len(ring))
			for _, c := range ring {
				if p, err := toPoint(c); err == nil {
					r = append(r, p)
				}
			}
			poly = append(poly, r)
		}
		return poly, nil

	default:
		return nil, malformed("unsupported geometry type %q", raw.Type)
	}
}

// RepresentativePoint returns the point itself, or the first vertex of a
// polygon's outer ring. The first vertex is an approximation: a centroid or
// bounding-box center would sit closer to the middle of a large fence.
func RepresentativePoint(g orb.Geometry) (orb.Point, error) {
	switch g := g.(type) {
	case orb.Point:
		return g, nil
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Point{}, malformed("polygon has no vertices")
		}
		return g[0][0], nil
	default:
		return orb.Point{}, malformed("unsupported geometry %T", g)
	}
}

func toPoint(coords []float64) (orb.Point, error) {
	if len(coords) < 2 {
		return orb.Point{}, malformed("coordinate has %d values, want [lon, lat]", len(coords))
	}
	return orb.Point{coords[0], coords[1]}, nil
}
