package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	last  map[string]time.Time
	err   error
	calls atomic.Int32
}

func (s *stubHistory) LastNotified(_ context.Context, userID, fenceName string) (time.Time, error) {
	s.calls.Add(1)
	if s.err != nil {
		return time.Time{}, s.err
	}
	t, ok := s.last[key(userID, fenceName)]
	if !ok {
		return time.Time{}, fmt.Errorf("last notification: %w", domain.ErrNotFound)
	}
	return t, nil
}

func TestCooldown_Window(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCooldown(5*time.Minute, clock, nil)
	ctx := context.Background()

	ok, err := c.Allow(ctx, "u-1", "f")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(5*time.Minute - time.Second)
	ok, _ = c.Allow(ctx, "u-1", "f")
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = c.Allow(ctx, "u-1", "f")
	assert.True(t, ok, "window is exclusive at its end")
}

func TestCooldown_KeysAreIndependent(t *testing.T) {
	c := NewCooldown(time.Hour, clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	for _, k := range [][2]string{{"u-1", "a"}, {"u-1", "b"}, {"u-2", "a"}} {
		ok, _ := c.Allow(ctx, k[0], k[1])
		assert.True(t, ok, "%v", k)
	}
}

func TestCooldown_UsesHistoryAfterRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	history := &stubHistory{last: map[string]time.Time{
		key("u-1", "f"): clock.Now().Add(-2 * time.Minute),
	}}
	c := NewCooldown(5*time.Minute, clock, history)
	ctx := context.Background()

	ok, err := c.Allow(ctx, "u-1", "f")
	require.NoError(t, err)
	assert.False(t, ok, "recent persisted notification suppresses")

	ok, err = c.Allow(ctx, "u-2", "f")
	require.NoError(t, err)
	assert.True(t, ok, "no history for this user")

	clock.Advance(3 * time.Minute)
	ok, _ = c.Allow(ctx, "u-1", "f")
	assert.True(t, ok)

	calls := history.calls.Load()
	ok, _ = c.Allow(ctx, "u-1", "f")
	assert.False(t, ok)
	assert.Equal(t, calls, history.calls.Load(), "known keys are answered from memory")
}

func TestCooldown_HistoryErrorFailsOpen(t *testing.T) {
	c := NewCooldown(5*time.Minute, clockwork.NewFakeClock(), &stubHistory{err: errors.New("db down")})

	ok, err := c.Allow(context.Background(), "u-1", "f")
	assert.Error(t, err)
	assert.True(t, ok)

	ok, err = c.Allow(context.Background(), "u-1", "f")
	assert.NoError(t, err)
	assert.False(t, ok, "the reservation from the first call holds")
}

func TestCooldown_Forget(t *testing.T) {
	c := NewCooldown(time.Hour, clockwork.NewFakeClock(), nil)
	ctx := context.Background()

	ok, _ := c.Allow(ctx, "u-1", "f")
	require.True(t, ok)
	c.Forget("u-1", "f")
	ok, _ = c.Allow(ctx, "u-1", "f")
	assert.True(t, ok)
}

func TestCooldown_ConcurrentAllowGrantsOnce(t *testing.T) {
	c := NewCooldown(time.Hour, clockwork.NewFakeClock(), nil)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.Allow(context.Background(), "u-1", "f"); ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestCooldown_PrunesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCooldown(time.Minute, clock, nil)
	ctx := context.Background()

	for i := range pruneThreshold {
		_, _ = c.Allow(ctx, fmt.Sprintf("u-%d", i), "f")
	}
	clock.Advance(time.Minute)
	_, _ = c.Allow(ctx, "fresh", "f")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.last, 1)
}
