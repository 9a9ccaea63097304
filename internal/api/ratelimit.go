package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// LimiterStore keeps one token bucket per key and drops buckets that have
// been idle for limiterIdleTTL.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[int]*clientEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore returns a store allowing perSecond events per key with
// the given burst.
func NewLimiterStore(perSecond float64, burst int, cleanupInterval time.Duration) *LimiterStore {
	if burst <= 0 {
		burst = 1
	}

	s := &LimiterStore{
		limit:           rate.Limit(perSecond),
		burst:           burst,
		clients:         make(map[int]*clientEntry),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evict(time.Now().Add(-limiterIdleTTL))
		case <-s.stopCh:
			return
		}
	}
}

func (s *LimiterStore) evict(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.clients {
		if v.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *LimiterStore) getLimiter(key int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow reports whether key may perform one more event now.
func (s *LimiterStore) Allow(key int) bool {
	return s.getLimiter(key).Allow()
}
