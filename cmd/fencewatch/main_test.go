package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitDone_ReturnsWhenClosed(t *testing.T) {
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	assert.True(t, awaitDone(done, time.Second))
}

func TestAwaitDone_WaitsPastShutdownTimeout(t *testing.T) {
	// A pass outliving the HTTP shutdown budget is still waited for.
	done := make(chan struct{})
	go func() {
		time.Sleep(80 * time.Millisecond)
		close(done)
	}()

	shutdown, drain := 20*time.Millisecond, time.Second
	assert.False(t, awaitDone(done, shutdown))
	assert.True(t, awaitDone(done, drain))
}

func TestAwaitDone_TimesOut(t *testing.T) {
	start := time.Now()
	assert.False(t, awaitDone(make(chan struct{}), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
