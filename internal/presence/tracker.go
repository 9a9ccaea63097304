// Package presence keeps track of which users currently hold at least one
// live push connection.
package presence

import "sync"

// Tracker counts active connections per user. A user is online while the
// count is above zero, so several tabs or devices can come and go without
// flipping the user offline early.
type Tracker struct {
	mu     sync.RWMutex
	counts map[int]int
}

func NewTracker() *Tracker {
	return &Tracker{counts: make(map[int]int)}
}

// Connect records a new connection for userId and returns the new count.
func (t *Tracker) Connect(userId int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[userId]++
	return t.counts[userId]
}

// Disconnect removes one connection for userId and returns the remaining
// count. The entry is dropped once it reaches zero.
func (t *Tracker) Disconnect(userId int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counts[userId]
	if !ok {
		return 0
	}

	n--
	if n <= 0 {
		delete(t.counts, userId)
		return 0
	}

	t.counts[userId] = n
	return n
}

func (t *Tracker) IsOnline(userId int) bool {
	return t.Connections(userId) > 0
}

func (t *Tracker) Connections(userId int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[userId]
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.counts)
}
