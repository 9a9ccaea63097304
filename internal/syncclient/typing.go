package syncclient

import (
	"sort"
	"time"
)

const (
	DefaultTypingDebounce = 2 * time.Second
	DefaultTypingIdle     = 2 * time.Second
	// TypingCeiling bounds how long a typing=true signal is shown without
	// being refreshed.
	TypingCeiling = 3 * DefaultTypingDebounce
)

// Timer is the part of *time.Timer the typing sender needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TypingSender turns keystrokes into typing signals. While the user keeps
// typing it emits typing=true at most once per debounce window, and emits
// typing=false after the idle period without keystrokes.
//
// It is not safe for concurrent use; scheduled callbacks run through after
// and must be serialized with the other calls by the caller.
type TypingSender struct {
	debounce time.Duration
	idle     time.Duration
	now      func() time.Time
	after    AfterFunc
	emit     func(conversationId string, typing bool)

	conversationId string
	typing         bool
	lastSent       time.Time
	timer          Timer
	seq            uint64
}

func NewTypingSender(emit func(conversationId string, typing bool), after AfterFunc, now func() time.Time) *TypingSender {
	if after == nil {
		after = realAfterFunc
	}
	if now == nil {
		now = time.Now
	}

	return &TypingSender{
		debounce: DefaultTypingDebounce,
		idle:     DefaultTypingIdle,
		now:      now,
		after:    after,
		emit:     emit,
	}
}

// Keystroke records typing activity in conversationId.
func (t *TypingSender) Keystroke(conversationId string) {
	if conversationId == "" {
		return
	}
	if conversationId != t.conversationId {
		t.Stop()
		t.conversationId = conversationId
	}

	now := t.now()
	if !t.typing || now.Sub(t.lastSent) >= t.debounce {
		t.typing = true
		t.lastSent = now
		t.emit(conversationId, true)
	}

	t.arm()
}

func (t *TypingSender) arm() {
	if t.timer != nil {
		t.timer.Stop()
	}

	t.seq++
	seq := t.seq
	t.timer = t.after(t.idle, func() {
		// a later keystroke or Stop superseded this timer
		if seq != t.seq {
			return
		}
		t.timer = nil
		if t.typing {
			t.typing = false
			t.emit(t.conversationId, false)
		}
	})
}

// Stop ends typing in the current conversation, emitting typing=false if a
// true signal is outstanding.
func (t *TypingSender) Stop() {
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.typing {
		t.typing = false
		t.emit(t.conversationId, false)
	}
	t.conversationId = ""
}

func (t *TypingSender) Typing() bool {
	return t.typing
}

type typingKey struct {
	conversationId string
	userId         int
}

// TypingIndicator tracks who is typing where. Entries are keyed by
// conversation and user so signals never leak across conversations.
type TypingIndicator struct {
	ceiling time.Duration
	until   map[typingKey]time.Time
}

func NewTypingIndicator(ceiling time.Duration) *TypingIndicator {
	if ceiling <= 0 {
		ceiling = TypingCeiling
	}
	return &TypingIndicator{
		ceiling: ceiling,
		until:   make(map[typingKey]time.Time),
	}
}

// Set applies a typing signal received at now.
func (t *TypingIndicator) Set(conversationId string, userId int, typing bool, now time.Time) {
	key := typingKey{conversationId, userId}
	if !typing {
		delete(t.until, key)
		return
	}
	t.until[key] = now.Add(t.ceiling)
}

func (t *TypingIndicator) Clear(conversationId string, userId int) {
	delete(t.until, typingKey{conversationId, userId})
}

func (t *TypingIndicator) ClearConversation(conversationId string) {
	for k := range t.until {
		if k.conversationId == conversationId {
			delete(t.until, k)
		}
	}
}

// Users returns the users typing in conversationId at now, ascending.
// Expired entries are dropped.
func (t *TypingIndicator) Users(conversationId string, now time.Time) []int {
	var users []int
	for k, until := range t.until {
		if !now.Before(until) {
			delete(t.until, k)
			continue
		}
		if k.conversationId == conversationId {
			users = append(users, k.userId)
		}
	}
	sort.Ints(users)
	return users
}
