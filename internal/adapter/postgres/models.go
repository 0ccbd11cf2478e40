package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// jsonDocument stores raw JSON in a jsonb column.
type jsonDocument json.RawMessage

func (d jsonDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("invalid json document")
	}
	return string(d), nil
}

func (d *jsonDocument) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = jsonDocument(v)
	default:
		return fmt.Errorf("scan json document from %T", src)
	}
	return nil
}

// fenceRecord is a GeoJSON Feature drawn by a user; properties.is_active is
// the activation flag.
type fenceRecord struct {
	ID         string       `gorm:"primaryKey;type:text"`
	Type       string       `gorm:"type:text;not null;default:'Feature'"`
	Geometry   jsonDocument `gorm:"type:jsonb;not null"`
	Properties jsonDocument `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time    `gorm:"not null;index"`
}

func (fenceRecord) TableName() string {
	return "fences"
}

// trackingPointRecord is one saved tracking Feature.
type trackingPointRecord struct {
	ID           string       `gorm:"primaryKey;type:text"`
	GeometryType string       `gorm:"type:text;not null"`
	Geometry     jsonDocument `gorm:"type:jsonb;not null"`
	Properties   jsonDocument `gorm:"type:jsonb;not null;default:'{}'"`
	Longitude    float64      `gorm:"not null"`
	Latitude     float64      `gorm:"not null"`
	ReceivedAt   time.Time    `gorm:"not null;index"`
}

func (trackingPointRecord) TableName() string {
	return "tracking_points"
}

// alertEventRecord is one user-entered-fence event.
type alertEventRecord struct {
	ID         string     `gorm:"primaryKey;type:text"`
	UserID     string     `gorm:"type:text;not null;index:idx_alert_user_fence,priority:1"`
	FenceName  string     `gorm:"type:text;not null;index:idx_alert_user_fence,priority:2"`
	Email      string     `gorm:"type:text"`
	OccurredAt time.Time  `gorm:"not null;index"`
	Notified   bool       `gorm:"not null"`
	NotifiedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null"`
}

func (alertEventRecord) TableName() string {
	return "alert_events"
}
