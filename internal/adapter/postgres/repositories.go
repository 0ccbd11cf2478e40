package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
)

// TrackingRepository appends tracking points.
type TrackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// SaveTracking stores a tracking point and returns its id.
func (r *TrackingRepository) SaveTracking(ctx context.Context, p domain.TrackingPoint) (string, error) {
	if p.Geometry == nil {
		return "", errors.New("tracking point has no geometry")
	}
	geometry, err := geojson.NewGeometry(p.Geometry).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal tracking geometry: %w", err)
	}
	properties := p.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("marshal tracking properties: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}
	center := p.Geometry.Bound().Center()

	rec := trackingPointRecord{
		ID:           p.ID,
		GeometryType: p.Geometry.GeoJSONType(),
		Geometry:     jsonDocument(geometry),
		Properties:   jsonDocument(props),
		Longitude:    center.Lon(),
		Latitude:     center.Lat(),
		ReceivedAt:   p.ReceivedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("insert tracking point: %w", err)
	}
	return rec.ID, nil
}

// AlertEventRepository appends alert events.
type AlertEventRepository struct {
	db *gorm.DB
}

func NewAlertEventRepository(db *gorm.DB) *AlertEventRepository {
	return &AlertEventRepository{db: db}
}

// SaveAlertEvent stores an event and returns its id.
func (r *AlertEventRepository) SaveAlertEvent(ctx context.Context, e domain.AlertEvent) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	rec := alertEventRecord{
		ID:         e.ID,
		UserID:     e.UserID,
		FenceName:  e.FenceName,
		Email:      e.Email,
		OccurredAt: e.OccurredAt,
		Notified:   e.Notified,
	}
	if e.Notified && !e.NotifiedAt.IsZero() {
		at := e.NotifiedAt.UTC()
		rec.NotifiedAt = &at
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("insert alert event: %w", err)
	}
	return rec.ID, nil
}

// LastNotified returns when userID was last emailed about fenceName, by the
// server's notified_at, or domain.ErrNotFound if never.
func (r *AlertEventRepository) LastNotified(ctx context.Context, userID, fenceName string) (time.Time, error) {
	var rec alertEventRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND fence_name = ? AND notified_at IS NOT NULL", userID, fenceName).
		Order("notified_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, fmt.Errorf("alert for %s/%s: %w", userID, fenceName, domain.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last alert: %w", err)
	}
	return rec.NotifiedAt.UTC(), nil
}
