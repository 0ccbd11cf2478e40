package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// FenceActivationChanged is published when an evaluation flips a fence's stored flag.
type FenceActivationChanged struct {
	FenceID     string           `json:"fence_id"`
	FenceName   string           `json:"fence_name,omitempty"`
	IsActive    bool             `json:"is_active"`
	Reason      string           `json:"reason"`
	Hazards     []HazardCategory `json:"hazards,omitempty"`
	Region      string           `json:"region"`
	Lat         float64          `json:"lat"`
	Lon         float64          `json:"lon"`
	PrecipMM    *float64         `json:"precip_mm"` // nil when the reading was unavailable
	Degraded    bool             `json:"degraded,omitempty"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// TrackingPoint is one GeoJSON feature pushed by the tracking client.
type TrackingPoint struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]any
	ReceivedAt time.Time
}

// AlertEvent records a user entering an active fence.
type AlertEvent struct {
	ID         string
	UserID     string
	FenceName  string
	Email      string    // optional receiver override
	OccurredAt time.Time // client-reported
	Notified   bool
	NotifiedAt time.Time // server clock when the email was queued; zero unless Notified
}
