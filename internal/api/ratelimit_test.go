package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterStore_Allow(t *testing.T) {
	s := NewLimiterStore(0.001, 3, time.Minute)
	defer s.Stop()

	for i := range 3 {
		assert.True(t, s.Allow(1), "event %d should be within the burst", i)
	}
	assert.False(t, s.Allow(1), "expected burst to be exhausted")
	assert.True(t, s.Allow(2), "expected a separate bucket per key")
}

func TestLimiterStore_ZeroBurst(t *testing.T) {
	s := NewLimiterStore(0.001, 0, time.Minute)
	defer s.Stop()

	assert.True(t, s.Allow(1))
	assert.False(t, s.Allow(1))
}

func TestLimiterStore_evict(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	s.Allow(1)
	s.Allow(2)

	s.mu.Lock()
	s.clients[1].lastSeen = time.Now().Add(-2 * limiterIdleTTL)
	s.mu.Unlock()

	s.evict(time.Now().Add(-limiterIdleTTL))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.clients, 1)
	assert.Contains(t, s.clients, 2)
}

func TestLimiterStore_StopTwice(t *testing.T) {
	s := NewLimiterStore(1, 1, 10*time.Millisecond)
	s.Stop()
	assert.NotPanics(t, s.Stop)
}
