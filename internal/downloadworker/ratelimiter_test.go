package downloadworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterUnlimitedByDefault(t *testing.T) {
	rl := newRateLimiter()
	defer rl.Stop()

	done := make(chan struct{})
	go func() {
		rl.Wait(10 << 20) // 10MB, would block for a long time under any real limit
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no limit set")
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := newRateLimiter()
	defer rl.Stop()

	rl.SetLimit(1024) // 1KB/s; the bucket starts empty, so even a small
	// request must wait for at least one 100ms refill tick.

	start := time.Now()
	rl.Wait(100)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestRateLimiterSetLimitZeroDisables(t *testing.T) {
	rl := newRateLimiter()
	defer rl.Stop()

	rl.SetLimit(1)
	rl.SetLimit(0)

	done := make(chan struct{})
	go func() {
		rl.Wait(1 << 30)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after limit disabled")
	}
}
