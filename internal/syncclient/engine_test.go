package syncclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = 1
	bob   = 2
	carol = 3
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, self int) (*Engine, *fakeClock) {
	clock := &fakeClock{now: t0}
	n := 0
	e, err := NewEngine(self,
		WithClock(clock.Now),
		WithIdGenerator(func() (string, error) {
			n++
			return fmt.Sprintf("id%d", n), nil
		}),
	)
	require.NoError(t, err)
	return e, clock
}

func msg(id int64, conv string, from, to int, content string, at time.Time) types.Message {
	return types.Message{
		Id:             id,
		ConversationId: conv,
		SenderId:       from,
		ReceiverId:     to,
		Content:        content,
		Status:         types.StatusSent,
		CreatedAt:      at,
	}
}

func created(m types.Message) types.MessageCreated {
	return types.MessageCreated{ConversationId: m.ConversationId, Message: m}
}

// openSynced opens conv and applies msgs as the fetched snapshot.
func openSynced(t *testing.T, e *Engine, conv string, msgs ...types.Message) {
	effects := e.Open(conv)
	require.Len(t, effects, 1)
	fetch, ok := effects[0].(FetchMessages)
	require.True(t, ok)
	e.ApplyMessages(fetch.Ticket, msgs, nil)
	_, state := e.Current()
	require.Equal(t, StateSynced, state)
}

func ids(items []Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Message.Id)
	}
	return out
}

func TestEngine_OpenStates(t *testing.T) {
	e, _ := newTestEngine(t, alice)

	id, state := e.Current()
	assert.Empty(t, id)
	assert.Equal(t, StateCold, state)

	effects := e.Open("c1")
	require.Len(t, effects, 1)
	fetch := effects[0].(FetchMessages)
	assert.Equal(t, "c1", fetch.Ticket.ConversationId)

	_, state = e.Current()
	assert.Equal(t, StateLoading, state)

	fetchErr := errors.New("timeout")
	assert.Nil(t, e.ApplyMessages(fetch.Ticket, nil, fetchErr))
	_, state = e.Current()
	assert.Equal(t, StateError, state)
	assert.Equal(t, fetchErr, e.CurrentErr())

	// retry re-enters loading
	retry := e.Open("c1")[0].(FetchMessages)
	_, state = e.Current()
	assert.Equal(t, StateLoading, state)

	effects = e.ApplyMessages(retry.Ticket, nil, nil)
	_, state = e.Current()
	assert.Equal(t, StateSynced, state)
	assert.Equal(t, []Effect{MarkRead{ConversationId: "c1"}}, effects)
}

func TestEngine_StaleFetchIgnored(t *testing.T) {
	e, _ := newTestEngine(t, alice)

	first := e.Open("c1")[0].(FetchMessages)
	second := e.Open("c2")[0].(FetchMessages)
	assert.Greater(t, second.Ticket.Generation, first.Ticket.Generation)

	late := []types.Message{msg(1, "c1", bob, alice, "old view", t0)}
	assert.Nil(t, e.ApplyMessages(first.Ticket, late, nil))

	id, state := e.Current()
	assert.Equal(t, "c2", id)
	assert.Equal(t, StateLoading, state)
	assert.Empty(t, e.Items())

	// a late failure does not flip the new view either
	e.ApplyMessages(first.Ticket, nil, errors.New("boom"))
	_, state = e.Current()
	assert.Equal(t, StateLoading, state)

	e.Close()
	assert.Nil(t, e.ApplyMessages(second.Ticket, nil, nil))
	_, state = e.Current()
	assert.Equal(t, StateCold, state)
}

func TestEngine_RenderOrder(t *testing.T) {
	e, _ := newTestEngine(t, alice)

	openSynced(t, e, "c1",
		msg(3, "c1", bob, alice, "c", t0.Add(2*time.Second)),
		msg(2, "c1", alice, bob, "b2", t0.Add(time.Second)),
		msg(1, "c1", bob, alice, "a", t0),
		msg(4, "c1", bob, alice, "b4", t0.Add(time.Second)),
	)

	e.HandleEvent(created(msg(5, "c1", bob, alice, "first", t0.Add(-time.Second))))

	assert.Equal(t, []int64{5, 1, 2, 4, 3}, ids(e.Items()))
}

func TestEngine_DuplicateEventRendersOnce(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	openSynced(t, e, "c1")

	ev := created(msg(7, "c1", bob, alice, "hi", t0))
	e.HandleEvent(ev)
	e.HandleEvent(ev)

	items := e.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].Message.Id)
}

func TestEngine_ReadIsMonotonic(t *testing.T) {
	e, _ := newTestEngine(t, alice)

	read := msg(1, "c1", alice, bob, "hi", t0)
	read.Read = true
	read.Status = types.StatusRead
	openSynced(t, e, "c1", read)

	// a stale copy does not flip it back
	e.HandleEvent(created(msg(1, "c1", alice, bob, "hi", t0)))

	items := e.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Message.Read)
	assert.Equal(t, types.StatusRead, items[0].Message.Status)
}

func TestEngine_OptimisticSend(t *testing.T) {
	tcases := []struct {
		name      string
		echoFirst bool
	}{
		{name: "echo before response", echoFirst: true},
		{name: "response before echo", echoFirst: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e, clock := newTestEngine(t, alice)
			openSynced(t, e, "c1")

			local, effects, err := e.Send("hello", nil)
			require.NoError(t, err)
			assert.True(t, IsLocalId(local.ClientId))
			assert.Equal(t, []Effect{SendMessage{ClientId: local.ClientId, ConversationId: "c1", Content: "hello"}}, effects)

			items := e.Items()
			require.Len(t, items, 1)
			assert.True(t, items[0].Pending)
			assert.True(t, items[0].Local())

			clock.Advance(300 * time.Millisecond)
			stored := msg(11, "c1", alice, bob, "hello", clock.Now().Add(-100*time.Millisecond))

			if tc.echoFirst {
				e.HandleEvent(created(stored))
				e.SendSucceeded(local.ClientId, stored)
			} else {
				e.SendSucceeded(local.ClientId, stored)
				e.HandleEvent(created(stored))
			}

			items = e.Items()
			require.Len(t, items, 1, "expected exactly one message after reconciliation")
			assert.False(t, items[0].Pending)
			assert.False(t, items[0].Local())
			assert.Equal(t, int64(11), items[0].Message.Id)
		})
	}
}

func TestEngine_EchoMatching(t *testing.T) {
	e, clock := newTestEngine(t, alice)
	openSynced(t, e, "c1")

	first, _, err := e.Send("same", nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, _, err := e.Send("same", nil)
	require.NoError(t, err)
	_, _, err = e.Send("other", nil)
	require.NoError(t, err)

	// outside the window: no match, kept as a separate message
	e.HandleEvent(created(msg(20, "c1", alice, bob, "same", t0.Add(-2*MatchWindow))))
	assert.Len(t, e.Items(), 4)

	// the oldest matching local is replaced
	e.HandleEvent(created(msg(21, "c1", alice, bob, "same", t0)))
	items := e.Items()
	require.Len(t, items, 4)
	var locals []string
	for _, it := range items {
		if it.Local() {
			locals = append(locals, it.ClientId)
		}
	}
	assert.NotContains(t, locals, first.ClientId)
	assert.Contains(t, locals, second.ClientId)
}

func TestEngine_SendFailure(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	openSynced(t, e, "c1")

	local, _, err := e.Send("hello", nil)
	require.NoError(t, err)

	_, err = e.Retry(local.ClientId)
	assert.ErrorIs(t, err, ErrNotFailed)

	sendErr := errors.New("connection reset")
	e.SendFailed(local.ClientId, sendErr)

	items := e.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Failed)
	assert.False(t, items[0].Pending)
	assert.Equal(t, sendErr, items[0].Err)

	effects, err := e.Retry(local.ClientId)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, local.ClientId, effects[0].(SendMessage).ClientId)
	assert.True(t, e.Items()[0].Pending)

	e.SendFailed(local.ClientId, sendErr)
	require.NoError(t, e.Discard(local.ClientId))
	assert.Empty(t, e.Items())
	assert.ErrorIs(t, e.Discard(local.ClientId), ErrUnknownLocal)
}

func TestEngine_SendValidation(t *testing.T) {
	e, _ := newTestEngine(t, alice)

	_, _, err := e.Send("hello", nil)
	assert.ErrorIs(t, err, ErrNoOpenConversation)

	openSynced(t, e, "c1")
	_, _, err = e.Send("   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = e.Send("", []types.Attachment{{Id: "a1", Name: "cv.pdf"}})
	assert.NoError(t, err)
}

func TestEngine_ConversationListTouch(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	e.ApplyConversations([]types.ConversationSummary{
		{Id: "c1", UnreadCount: 0, CreatedAt: t0},
		{Id: "c2", UnreadCount: 2, CreatedAt: t0},
		{Id: "c3", CreatedAt: t0},
	})
	assert.Equal(t, 2, e.Unread())

	effects := e.HandleEvent(created(msg(9, "c3", bob, alice, "ping", t0.Add(time.Minute))))
	assert.Empty(t, effects)

	convs := e.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, []string{"c3", "c1", "c2"}, []string{convs[0].Id, convs[1].Id, convs[2].Id})
	assert.Equal(t, "ping", convs[0].LatestMessage.Content)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, 3, e.Unread())

	// unknown conversation triggers a list refresh
	effects = e.HandleEvent(created(msg(10, "c9", bob, alice, "new", t0.Add(time.Minute))))
	assert.Equal(t, []Effect{FetchConversations{}}, effects)
}

func TestEngine_UnreadFlow(t *testing.T) {
	e, _ := newTestEngine(t, bob)
	e.ApplyConversations([]types.ConversationSummary{{Id: "c1", CreatedAt: t0}, {Id: "c2", CreatedAt: t0}})

	hello := msg(1, "c1", alice, bob, "Hello", t0)
	e.HandleEvent(created(hello))
	e.HandleEvent(created(hello))
	assert.Equal(t, 1, e.Unread(), "a redelivered event counts once")

	// opening the conversation zeroes it and marks it read
	fetch := e.Open("c1")[0].(FetchMessages)
	effects := e.ApplyMessages(fetch.Ticket, []types.Message{hello}, nil)
	assert.Equal(t, []Effect{MarkRead{ConversationId: "c1"}}, effects)
	assert.Equal(t, 0, e.Unread())
	assert.True(t, e.Items()[0].Message.Read)

	// our own read receipt for the open view changes nothing
	assert.Nil(t, e.HandleEvent(types.MessagesRead{ConversationId: "c1", ReaderId: bob, Count: 1}))
	assert.Equal(t, 0, e.Unread())

	// a message arriving into the open view is read at once
	effects = e.HandleEvent(created(msg(2, "c1", alice, bob, "still there?", t0.Add(time.Second))))
	assert.Equal(t, []Effect{MarkRead{ConversationId: "c1"}}, effects)
	assert.Equal(t, 0, e.Unread())
}

func TestEngine_UnreadUnderflow(t *testing.T) {
	e, _ := newTestEngine(t, bob)
	e.ApplyConversations([]types.ConversationSummary{{Id: "c2", UnreadCount: 1, CreatedAt: t0}})

	// read on another device, counting more than we tracked
	effects := e.HandleEvent(types.MessagesRead{ConversationId: "c2", ReaderId: bob, Count: 3})
	assert.Equal(t, 0, e.Unread())
	assert.ElementsMatch(t, []Effect{FetchUnreadCount{}, FetchConversations{}}, effects)
}

func TestEngine_ReadElsewhereZeroes(t *testing.T) {
	e, _ := newTestEngine(t, bob)
	e.ApplyConversations([]types.ConversationSummary{
		{Id: "c1", UnreadCount: 4, CreatedAt: t0},
		{Id: "c2", UnreadCount: 1, CreatedAt: t0},
	})

	effects := e.HandleEvent(types.MessagesRead{ConversationId: "c1", ReaderId: bob, Count: 2})
	assert.Nil(t, effects)
	assert.Equal(t, 0, e.UnreadFor("c1"))
	assert.Equal(t, 1, e.Unread())
	assert.Equal(t, 0, e.Conversations()[0].UnreadCount)
}

func TestEngine_ApplyUnreadCount(t *testing.T) {
	e, _ := newTestEngine(t, bob)
	e.ApplyConversations([]types.ConversationSummary{{Id: "c1", UnreadCount: 2, CreatedAt: t0}})

	assert.Nil(t, e.ApplyUnreadCount(5))
	assert.Equal(t, 5, e.Unread())

	assert.Equal(t, []Effect{FetchConversations{}}, e.ApplyUnreadCount(1))
	assert.Equal(t, 2, e.Unread())
}

func TestEngine_UnreadFetchOrder(t *testing.T) {
	list := []types.ConversationSummary{{Id: "c1", UnreadCount: 2, CreatedAt: t0}}

	countFirst, _ := newTestEngine(t, bob)
	countFirst.ApplyUnreadCount(3)
	countFirst.ApplyConversations(list)

	listFirst, _ := newTestEngine(t, bob)
	listFirst.ApplyConversations(list)
	listFirst.ApplyUnreadCount(3)

	assert.Equal(t, 3, countFirst.Unread())
	assert.Equal(t, 3, listFirst.Unread())
}

func TestEngine_ReadReceiptFromPeer(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	e.ApplyConversations([]types.ConversationSummary{{Id: "c1", CreatedAt: t0}})
	sent := msg(1, "c1", alice, bob, "Hello", t0)
	openSynced(t, e, "c1", sent)
	e.HandleEvent(created(sent))

	e.HandleEvent(types.MessagesRead{ConversationId: "c1", ReaderId: bob, Count: 1, ReadAt: t0})

	items := e.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Message.Read)
	assert.Equal(t, types.StatusRead, items[0].Message.Status)
	assert.True(t, e.Conversations()[0].LatestMessage.Read)
}

func TestEngine_TypingIsolation(t *testing.T) {
	e, clock := newTestEngine(t, alice)

	e.HandleEvent(types.Typing{ConversationId: "a", UserId: bob, Typing: true})
	e.HandleEvent(types.Typing{ConversationId: "b", UserId: carol, Typing: true})
	e.HandleEvent(types.Typing{ConversationId: "b", UserId: alice, Typing: true})

	openSynced(t, e, "c")
	assert.Empty(t, e.Typing(), "signals from other conversations must not show")
	assert.Equal(t, []int{bob}, e.TypingIn("a"))
	assert.Equal(t, []int{carol}, e.TypingIn("b"), "own signals are ignored")

	// a message from the typist ends the indicator
	e.HandleEvent(created(msg(1, "a", bob, alice, "done", t0)))
	assert.Empty(t, e.TypingIn("a"))

	clock.Advance(TypingCeiling)
	assert.Empty(t, e.TypingIn("b"), "expected indicator to expire at the ceiling")
}

func TestEngine_CloseClearsTyping(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	openSynced(t, e, "c1")

	e.HandleEvent(types.Typing{ConversationId: "c1", UserId: bob, Typing: true})
	assert.Equal(t, []int{bob}, e.Typing())

	e.Close()
	assert.Empty(t, e.TypingIn("c1"))
}

func TestEngine_Refresh(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	assert.ElementsMatch(t, []Effect{FetchUnreadCount{}, FetchConversations{}}, e.Refresh())

	openSynced(t, e, "c1", msg(1, "c1", bob, alice, "one", t0))
	effects := e.Refresh()
	require.Len(t, effects, 3)
	fetch, ok := effects[2].(FetchMessages)
	require.True(t, ok)

	// refetch merges; the view stays synced and keeps what it had
	_, state := e.Current()
	assert.Equal(t, StateSynced, state)
	e.ApplyMessages(fetch.Ticket, []types.Message{msg(2, "c1", bob, alice, "two", t0.Add(time.Second))}, nil)
	assert.Equal(t, []int64{1, 2}, ids(e.Items()))
}

func TestEngine_RedeliveredEchoKeepsOtherSends(t *testing.T) {
	sendErr := errors.New("connection reset")

	tcases := []struct {
		name      string
		redeliver func(t *testing.T, e *Engine, m types.Message)
	}{
		{
			name: "event delivered again",
			redeliver: func(t *testing.T, e *Engine, m types.Message) {
				e.HandleEvent(created(m))
			},
		},
		{
			name: "history refetched",
			redeliver: func(t *testing.T, e *Engine, m types.Message) {
				effects := e.Refresh()
				require.Len(t, effects, 3)
				fetch := effects[2].(FetchMessages)
				e.ApplyMessages(fetch.Ticket, []types.Message{m}, nil)
			},
		},
		{
			name: "event delivered while another view is open",
			redeliver: func(t *testing.T, e *Engine, m types.Message) {
				e.Open("c2")
				e.HandleEvent(created(m))
				openSynced(t, e, "c1", m)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e, clock := newTestEngine(t, alice)
			openSynced(t, e, "c1")

			first, _, err := e.Send("ok", nil)
			require.NoError(t, err)
			m1 := msg(11, "c1", alice, bob, "ok", t0)
			e.SendSucceeded(first.ClientId, m1)
			e.HandleEvent(created(m1))

			clock.Advance(5 * time.Second)
			second, _, err := e.Send("ok", nil)
			require.NoError(t, err)

			tc.redeliver(t, e, m1)
			e.SendFailed(second.ClientId, sendErr)

			items := e.Items()
			require.Len(t, items, 2)
			assert.Equal(t, int64(11), items[0].Message.Id)
			assert.Equal(t, second.ClientId, items[1].ClientId)
			assert.True(t, items[1].Failed, "expected the second send to stay visible as failed")
		})
	}
}

func TestEngine_RefreshCatchesUp(t *testing.T) {
	e, _ := newTestEngine(t, alice)
	openSynced(t, e, "c1", msg(1, "c1", bob, alice, "before", t0))

	effects := e.Refresh()
	require.Len(t, effects, 3)
	fetch := effects[2].(FetchMessages)
	assert.Equal(t, types.Page{After: 1, Limit: RefreshPageSize}, fetch.Page)

	page := func(from, n int) []types.Message {
		out := make([]types.Message, 0, n)
		for i := from; i < from+n; i++ {
			out = append(out, msg(int64(i), "c1", bob, alice, fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second)))
		}
		return out
	}

	// a full page asks for the next one
	effects = e.ApplyMessages(fetch.Ticket, page(2, RefreshPageSize), nil)
	require.Len(t, effects, 1)
	next := effects[0].(FetchMessages)
	assert.Equal(t, fetch.Ticket, next.Ticket)
	assert.Equal(t, types.Page{After: int64(RefreshPageSize + 1), Limit: RefreshPageSize}, next.Page)

	// a short page ends the catch up
	effects = e.ApplyMessages(next.Ticket, page(RefreshPageSize+2, 10), nil)
	assert.Equal(t, []Effect{MarkRead{ConversationId: "c1"}}, effects)

	items := e.Items()
	require.Len(t, items, RefreshPageSize+11)
	for i, it := range items {
		assert.Equal(t, int64(i+1), it.Message.Id)
	}

	// a view that never loaded refetches the newest page
	e.Open("c2")
	effects = e.Refresh()
	require.Len(t, effects, 3)
	assert.Equal(t, types.Page{}, effects[2].(FetchMessages).Page)
}

func TestEngine_OptimisticLatestMessage(t *testing.T) {
	earlier := msg(5, "c1", bob, alice, "earlier", t0)
	other := msg(6, "c2", bob, alice, "other", t0.Add(time.Minute))

	setup := func(t *testing.T) (*Engine, *LocalMessage) {
		e, clock := newTestEngine(t, alice)
		e.ApplyConversations([]types.ConversationSummary{
			{Id: "c2", CreatedAt: t0, LatestMessage: &other},
			{Id: "c1", CreatedAt: t0, LatestMessage: &earlier},
		})
		openSynced(t, e, "c1", earlier)

		clock.Advance(2 * time.Minute)
		local, _, err := e.Send("hi", nil)
		require.NoError(t, err)

		convs := e.Conversations()
		require.Equal(t, "c1", convs[0].Id)
		require.Equal(t, int64(0), convs[0].LatestMessage.Id)
		return e, local
	}

	t.Run("discard restores the previous latest message", func(t *testing.T) {
		e, local := setup(t)
		e.SendFailed(local.ClientId, errors.New("offline"))
		require.NoError(t, e.Discard(local.ClientId))

		convs := e.Conversations()
		assert.Equal(t, []string{"c2", "c1"}, convIds(convs))
		assert.Equal(t, int64(5), convs[1].LatestMessage.Id)
	})

	// server timestamps behind the local clock
	confirmed := msg(7, "c1", alice, bob, "hi", t0.Add(2*time.Minute-2*time.Second))

	t.Run("send result replaces the snapshot", func(t *testing.T) {
		e, local := setup(t)
		e.SendSucceeded(local.ClientId, confirmed)
		assert.Equal(t, int64(7), e.Conversations()[0].LatestMessage.Id)
	})

	t.Run("echo replaces the snapshot", func(t *testing.T) {
		e, _ := setup(t)
		e.HandleEvent(created(confirmed))
		assert.Equal(t, int64(7), e.Conversations()[0].LatestMessage.Id)
		assert.Len(t, e.Items(), 2)
	})
}
