package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/jonboulle/clockwork"
)

// pruneThreshold bounds the in-memory map before expired entries are swept.
const pruneThreshold = 1024

// NotificationLog looks up the last notification sent for a user and fence.
// It returns domain.ErrNotFound when there is none.
type NotificationLog interface {
	LastNotified(ctx context.Context, userID, fenceName string) (time.Time, error)
}

// Cooldown suppresses repeat notifications for the same user and fence
// within a window. Keys seen for the first time since start are checked
// against the persisted log, so the window survives restarts.
type Cooldown struct {
	window  time.Duration
	clock   clockwork.Clock
	history NotificationLog // optional

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown creates a Cooldown. history may be nil.
func NewCooldown(window time.Duration, clock clockwork.Clock, history NotificationLog) *Cooldown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cooldown{
		window:  window,
		clock:   clock,
		history: history,
		last:    make(map[string]time.Time),
	}
}

func key(userID, fenceName string) string {
	return userID + "|" + fenceName
}

// Allow reports whether a notification may be sent now and, if so, reserves
// the slot. When the history lookup fails Allow still reserves and returns
// true alongside the error.
func (c *Cooldown) Allow(ctx context.Context, userID, fenceName string) (bool, error) {
	k := key(userID, fenceName)
	now := c.clock.Now()

	c.mu.Lock()
	last, seen := c.last[k]
	c.mu.Unlock()

	var lookupErr error
	if !seen && c.history != nil {
		t, err := c.history.LastNotified(ctx, userID, fenceName)
		switch {
		case err == nil:
			last, seen = t, true
		case !errors.Is(err, domain.ErrNotFound):
			lookupErr = err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Allow may have reserved the slot during the lookup.
	if mem, ok := c.last[k]; ok && (!seen || mem.After(last)) {
		last, seen = mem, true
	}
	if seen && now.Sub(last) < c.window {
		return false, lookupErr
	}
	c.last[k] = now
	if len(c.last) > pruneThreshold {
		c.prune(now)
	}
	return true, lookupErr
}

// Forget releases a slot reserved by Allow, for when the notification could
// not be sent.
func (c *Cooldown) Forget(userID, fenceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key(userID, fenceName))
}

func (c *Cooldown) prune(now time.Time) {
	for k, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, k)
		}
	}
}
