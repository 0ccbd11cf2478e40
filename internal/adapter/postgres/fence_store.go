package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FenceStore reads fences and writes their activation flag.
type FenceStore struct {
	pool *pgxpool.Pool
}

// NewFenceStore creates a store over the shared pool.
func NewFenceStore(pool *pgxpool.Pool) *FenceStore {
	return &FenceStore{pool: pool}
}

// ListFences reads every fence in insertion order. Geometry is returned
// undecoded so a malformed document still comes back for the caller to skip.
func (s *FenceStore) ListFences(ctx context.Context) ([]domain.Fence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, geometry, coalesce(properties, '{}'::jsonb)
		 FROM fences
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list fences: %w", err)
	}

	fences, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Fence, error) {
		var (
			id         string
			geometry   []byte
			properties []byte
		)
		if err := row.Scan(&id, &geometry, &properties); err != nil {
			return domain.Fence{}, err
		}
		props := parseProperties(properties)
		return domain.Fence{
			ID:       id,
			Name:     props.Name,
			Geometry: json.RawMessage(geometry),
			Active:   props.IsActive,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan fences: %w", err)
	}
	return fences, nil
}

// SetActive writes properties.is_active, leaving every other property untouched.
func (s *FenceStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fences
		 SET properties = jsonb_set(coalesce(properties, '{}'::jsonb), '{is_active}', to_jsonb($2::boolean))
		 WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("set fence %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fence %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Insert stores a new fence and returns its id.
func (s *FenceStore) Insert(ctx context.Context, geometry json.RawMessage, properties map[string]any) (string, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	if _, ok := properties["is_active"]; !ok {
		properties["is_active"] = false
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("marshal fence properties: %w", err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO fences (id, type, geometry, properties, created_at)
		 VALUES ($1, 'Feature', $2::jsonb, $3::jsonb, now())`,
		id, string(geometry), string(props))
	if err != nil {
		return "", fmt.Errorf("insert fence: %w", err)
	}
	return id, nil
}

type fenceProperties struct {
	Name     string
	IsActive bool
}

// parseProperties reads the fields the evaluator needs. A missing or
// non-boolean is_active reads as inactive.
func parseProperties(raw []byte) fenceProperties {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fenceProperties{}
	}
	var props fenceProperties
	_ = json.Unmarshal(doc["is_active"], &props.IsActive)
	_ = json.Unmarshal(doc["name"], &props.Name)
	return props
}
