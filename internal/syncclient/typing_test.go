package syncclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingCall struct {
	conversationId string
	typing         bool
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeScheduler fires timers when the clock passes their deadline.
type fakeScheduler struct {
	clock  *fakeClock
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: s.clock.Now().Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.clock.Advance(d)
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !s.clock.Now().Before(t.at) {
			t.fired = true
			t.f()
		}
	}
}

func newTestTypingSender() (*TypingSender, *fakeScheduler, *[]typingCall) {
	clock := &fakeClock{now: t0}
	sched := &fakeScheduler{clock: clock}
	calls := &[]typingCall{}
	sender := NewTypingSender(func(conv string, typing bool) {
		*calls = append(*calls, typingCall{conv, typing})
	}, sched.AfterFunc, clock.Now)
	return sender, sched, calls
}

func TestTypingSender_Debounce(t *testing.T) {
	sender, sched, calls := newTestTypingSender()

	sender.Keystroke("c1")
	sched.Advance(500 * time.Millisecond)
	sender.Keystroke("c1")
	sched.Advance(500 * time.Millisecond)
	sender.Keystroke("c1")

	assert.Equal(t, []typingCall{{"c1", true}}, *calls, "expected one true per debounce window")
	assert.True(t, sender.Typing())

	// still typing after the window: refresh the signal
	sched.Advance(time.Second)
	sender.Keystroke("c1")
	assert.Equal(t, []typingCall{{"c1", true}, {"c1", true}}, *calls)
}

func TestTypingSender_Idle(t *testing.T) {
	sender, sched, calls := newTestTypingSender()

	sender.Keystroke("c1")
	sched.Advance(DefaultTypingIdle - time.Millisecond)
	assert.Len(t, *calls, 1)

	sched.Advance(time.Millisecond)
	assert.Equal(t, []typingCall{{"c1", true}, {"c1", false}}, *calls)
	assert.False(t, sender.Typing())

	// a keystroke re-arms the idle timer
	sender.Keystroke("c1")
	sched.Advance(time.Second)
	sender.Keystroke("c1")
	sched.Advance(time.Second + time.Millisecond)
	assert.Len(t, *calls, 3, "idle timer should have been re-armed")
	sched.Advance(time.Second)
	assert.Equal(t, typingCall{"c1", false}, (*calls)[len(*calls)-1])
}

func TestTypingSender_SwitchConversation(t *testing.T) {
	sender, sched, calls := newTestTypingSender()

	sender.Keystroke("c1")
	sender.Keystroke("c2")
	require.Equal(t, []typingCall{{"c1", true}, {"c1", false}, {"c2", true}}, *calls)

	// the timer armed for c1 must not fire into c2
	sched.Advance(DefaultTypingIdle)
	assert.Equal(t, []typingCall{{"c1", true}, {"c1", false}, {"c2", true}, {"c2", false}}, *calls)
}

func TestTypingSender_Stop(t *testing.T) {
	sender, sched, calls := newTestTypingSender()

	sender.Stop()
	assert.Empty(t, *calls, "nothing to stop")

	sender.Keystroke("c1")
	sender.Stop()
	sched.Advance(time.Minute)
	assert.Equal(t, []typingCall{{"c1", true}, {"c1", false}}, *calls)
}

func TestTypingIndicator(t *testing.T) {
	ind := NewTypingIndicator(0)

	ind.Set("c1", bob, true, t0)
	ind.Set("c2", carol, true, t0)

	assert.Equal(t, []int{bob}, ind.Users("c1", t0.Add(time.Second)))
	assert.NotContains(t, ind.Users("c2", t0.Add(time.Second)), bob)
	assert.Equal(t, []int{bob}, ind.Users("c1", t0))
	assert.Equal(t, []int{carol}, ind.Users("c2", t0))

	ind.Set("c1", bob, false, t0.Add(time.Second))
	assert.Empty(t, ind.Users("c1", t0.Add(time.Second)))

	// refreshed signals extend the ceiling
	ind.Set("c2", carol, true, t0.Add(5*time.Second))
	assert.Equal(t, []int{carol}, ind.Users("c2", t0.Add(TypingCeiling+time.Second)))
	assert.Empty(t, ind.Users("c2", t0.Add(5*time.Second+TypingCeiling)))

	ind.Set("c3", bob, true, t0)
	ind.Set("c3", carol, true, t0)
	ind.ClearConversation("c3")
	assert.Empty(t, ind.Users("c3", t0))
}
