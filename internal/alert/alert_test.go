package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRepo struct {
	mu     sync.Mutex
	events []domain.AlertEvent
	err    error
}

func (m *mockRepo) SaveAlertEvent(_ context.Context, e domain.AlertEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.events = append(m.events, e)
	return "evt-1", nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	emails []Email
	err    error
}

func (m *mockDispatcher) Dispatch(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emails = append(m.emails, e)
	return nil
}

type serviceHarness struct {
	repo       *mockRepo
	dispatcher *mockDispatcher
	clock      *clockwork.FakeClock
	metrics    *observability.Metrics
	svc        *Service
}

func newServiceHarness(recipients ...string) *serviceHarness {
	h := &serviceHarness{
		repo:       &mockRepo{},
		dispatcher: &mockDispatcher{},
		clock:      clockwork.NewFakeClockAt(time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)),
		metrics:    observability.NewMetricsForTesting(),
	}
	cooldown := NewCooldown(5*time.Minute, h.clock, nil)
	h.svc = NewService(h.repo, cooldown, h.dispatcher, recipients, h.clock, discardLogger(), h.metrics)
	return h
}

func TestService_RecordNotifies(t *testing.T) {
	h := newServiceHarness("ops@example.com")

	res, err := h.svc.Record(context.Background(), domain.AlertEvent{UserID: "u-1", FenceName: "Legazpi port"})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", res.ID)
	assert.True(t, res.Notified)
	require.Len(t, h.dispatcher.emails, 1)
	assert.Equal(t, Email{
		Recipients: []string{"ops@example.com"},
		Subject:    "Geofence Alert",
		Body:       "You're inside Legazpi port",
		UserID:     "u-1",
		FenceName:  "Legazpi port",
	}, h.dispatcher.emails[0])

	require.Len(t, h.repo.events, 1)
	assert.True(t, h.repo.events[0].Notified)
	assert.Equal(t, h.clock.Now().UTC(), h.repo.events[0].OccurredAt)
	assert.Equal(t, h.clock.Now().UTC(), h.repo.events[0].NotifiedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertEmails.WithLabelValues("queued")))
}

func TestService_EventEmailOverridesRecipients(t *testing.T) {
	h := newServiceHarness("ops@example.com")

	_, err := h.svc.Record(context.Background(), domain.AlertEvent{UserID: "u-1", FenceName: "Daraga", Email: "rider@example.com"})
	require.NoError(t, err)

	require.Len(t, h.dispatcher.emails, 1)
	assert.Equal(t, []string{"rider@example.com"}, h.dispatcher.emails[0].Recipients)
}

func TestService_CooldownSuppressesRepeats(t *testing.T) {
	h := newServiceHarness("ops@example.com")
	ctx := context.Background()
	event := domain.AlertEvent{UserID: "u-1", FenceName: "Legazpi port"}

	first, err := h.svc.Record(ctx, event)
	require.NoError(t, err)
	h.clock.Advance(4 * time.Minute)
	second, err := h.svc.Record(ctx, event)
	require.NoError(t, err)
	other, err := h.svc.Record(ctx, domain.AlertEvent{UserID: "u-2", FenceName: "Legazpi port"})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	third, err := h.svc.Record(ctx, event)
	require.NoError(t, err)

	assert.True(t, first.Notified)
	assert.False(t, second.Notified)
	assert.True(t, other.Notified, "cooldown is per user")
	assert.True(t, third.Notified, "window elapsed")
	assert.Len(t, h.dispatcher.emails, 3)
	assert.Len(t, h.repo.events, 4, "suppressed events are still recorded")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertEmails.WithLabelValues("suppressed")))
}

func TestService_DispatchFailureReleasesCooldown(t *testing.T) {
	h := newServiceHarness("ops@example.com")
	h.dispatcher.err = ErrQueueFull
	event := domain.AlertEvent{UserID: "u-1", FenceName: "Legazpi port"}

	res, err := h.svc.Record(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.False(t, h.repo.events[0].Notified)
	assert.True(t, h.repo.events[0].NotifiedAt.IsZero())

	h.dispatcher.err = nil
	res, err = h.svc.Record(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, res.Notified, "a failed dispatch does not start the cooldown")
}

func TestService_NoRecipients(t *testing.T) {
	h := newServiceHarness()

	res, err := h.svc.Record(context.Background(), domain.AlertEvent{UserID: "u-1", FenceName: "Legazpi port"})
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Empty(t, h.dispatcher.emails)
}

func TestService_Validation(t *testing.T) {
	h := newServiceHarness("ops@example.com")

	for name, event := range map[string]domain.AlertEvent{
		"missing user":  {FenceName: "Legazpi port"},
		"missing fence": {UserID: "u-1", FenceName: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Record(context.Background(), event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
	assert.Empty(t, h.repo.events)
}

func TestService_SaveFailure(t *testing.T) {
	h := newServiceHarness("ops@example.com")
	h.repo.err = errors.New("connection reset")

	_, err := h.svc.Record(context.Background(), domain.AlertEvent{UserID: "u-1", FenceName: "Legazpi port"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save alert event")
}

// historyRepo stores events and answers LastNotified from them, like the
// alert_events table does.
type historyRepo struct {
	mockRepo
}

func (r *historyRepo) LastNotified(_ context.Context, userID, fenceName string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last time.Time
	for _, e := range r.events {
		if e.UserID == userID && e.FenceName == fenceName && !e.NotifiedAt.IsZero() && e.NotifiedAt.After(last) {
			last = e.NotifiedAt
		}
	}
	if last.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return last, nil
}

func TestService_CooldownSurvivesRestartDespiteClientClockSkew(t *testing.T) {
	tests := []struct {
		name         string
		clientOffset time.Duration
		restartAfter time.Duration
		wantNotified bool
	}{
		{"client clock behind, restart inside window", -time.Hour, time.Minute, false},
		{"client clock ahead, restart after window", 24 * time.Hour, time.Hour, true},
		{"client clock ahead, restart inside window", 24 * time.Hour, 4 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := &historyRepo{}
			dispatcher := &mockDispatcher{}
			clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC))
			newService := func() *Service {
				return NewService(repo, NewCooldown(5*time.Minute, clock, repo), dispatcher,
					[]string{"ops@example.com"}, clock, discardLogger(), observability.NewMetricsForTesting())
			}

			first, err := newService().Record(ctx, domain.AlertEvent{
				UserID: "u-1", FenceName: "Legazpi port", OccurredAt: clock.Now().Add(tt.clientOffset),
			})
			require.NoError(t, err)
			require.True(t, first.Notified)

			clock.Advance(tt.restartAfter)
			second, err := newService().Record(ctx, domain.AlertEvent{
				UserID: "u-1", FenceName: "Legazpi port", OccurredAt: clock.Now().Add(tt.clientOffset),
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantNotified, second.Notified)
			wantEmails := 1
			if tt.wantNotified {
				wantEmails = 2
			}
			assert.Len(t, dispatcher.emails, wantEmails)
		})
	}
}
