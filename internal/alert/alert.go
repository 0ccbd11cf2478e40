// Package alert records user fence-entry events and emails the user, at most
// once per cooldown window for each user and fence.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidEvent reports an alert event missing a required field.
var ErrInvalidEvent = errors.New("invalid alert event")

const subject = "Geofence Alert"

// Email is one alert message, serialisable so it can be queued.
type Email struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	UserID     string   `json:"user_id"`
	FenceName  string   `json:"fence_name"`
}

// Sender delivers an email synchronously.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Dispatcher hands an email off for asynchronous delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, email Email) error
}

// EventRepository persists alert events.
type EventRepository interface {
	SaveAlertEvent(ctx context.Context, event domain.AlertEvent) (string, error)
}

// Result is returned for every recorded event.
type Result struct {
	ID       string
	Notified bool
}

// Service records alert events and dispatches emails.
type Service struct {
	events     EventRepository
	cooldown   *Cooldown
	dispatcher Dispatcher
	recipients []string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewService creates a Service. recipients receive every alert whose event
// carries no email of its own.
func NewService(events EventRepository, cooldown *Cooldown, dispatcher Dispatcher, recipients []string,
	clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		events:     events,
		cooldown:   cooldown,
		dispatcher: dispatcher,
		recipients: recipients,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Record stores the event and, unless the user was notified for the same
// fence within the cooldown, queues an email. The cooldown runs on the
// server clock, never the client-reported OccurredAt. A dispatch failure is
// logged and reported as Notified=false; only a storage failure is an error.
func (s *Service) Record(ctx context.Context, event domain.AlertEvent) (Result, error) {
	event.UserID = strings.TrimSpace(event.UserID)
	event.FenceName = strings.TrimSpace(event.FenceName)
	if event.UserID == "" {
		return Result{}, fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if event.FenceName == "" {
		return Result{}, fmt.Errorf("%w: fenceName is required", ErrInvalidEvent)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now().UTC()
	}

	logger := s.logger.With("user_id", event.UserID, "fence_name", event.FenceName)
	if s.notify(ctx, logger, event) {
		event.Notified = true
		event.NotifiedAt = s.clock.Now().UTC()
	}

	id, err := s.events.SaveAlertEvent(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("save alert event: %w", err)
	}
	return Result{ID: id, Notified: event.Notified}, nil
}

func (s *Service) notify(ctx context.Context, logger *slog.Logger, event domain.AlertEvent) bool {
	recipients := s.recipients
	if event.Email != "" {
		recipients = []string{event.Email}
	}
	if len(recipients) == 0 {
		logger.Warn("no alert recipients configured, skipping email")
		return false
	}

	allowed, err := s.cooldown.Allow(ctx, event.UserID, event.FenceName)
	if err != nil {
		logger.Warn("notification history unavailable, sending anyway", "error", err)
	}
	if !allowed {
		s.metrics.AlertEmails.WithLabelValues("suppressed").Inc()
		logger.Info("alert email suppressed by cooldown")
		return false
	}

	email := Email{
		Recipients: recipients,
		Subject:    subject,
		Body:       fmt.Sprintf("You're inside %s", event.FenceName),
		UserID:     event.UserID,
		FenceName:  event.FenceName,
	}
	if err := s.dispatcher.Dispatch(ctx, email); err != nil {
		s.cooldown.Forget(event.UserID, event.FenceName)
		s.metrics.AlertEmails.WithLabelValues("failed").Inc()
		logger.Error("failed to dispatch alert email", "error", err)
		return false
	}
	s.metrics.AlertEmails.WithLabelValues("queued").Inc()
	return true
}
