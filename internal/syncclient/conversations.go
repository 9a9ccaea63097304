package syncclient

import (
	"slices"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

// ConversationList keeps the user's conversations most recently active
// first.
type ConversationList struct {
	items []types.ConversationSummary
}

// Replace swaps in a freshly fetched list, which the server returns
// already ordered.
func (l *ConversationList) Replace(items []types.ConversationSummary) {
	l.items = append(l.items[:0:0], items...)
}

func (l *ConversationList) index(conversationId string) int {
	for i := range l.items {
		if l.items[i].Id == conversationId {
			return i
		}
	}
	return -1
}

func (l *ConversationList) Get(conversationId string) (types.ConversationSummary, bool) {
	if i := l.index(conversationId); i >= 0 {
		return l.items[i], true
	}
	return types.ConversationSummary{}, false
}

// Touch records msg as the latest message of its conversation and moves
// the conversation to the front. It reports false when the conversation is
// not in the list. A confirmed message always replaces an optimistic
// snapshot (id 0), whose timestamp comes from the local clock.
func (l *ConversationList) Touch(msg types.Message) bool {
	i := l.index(msg.ConversationId)
	if i < 0 {
		return false
	}

	c := l.items[i]
	if latest := c.LatestMessage; latest != nil {
		if msg.Id != 0 && latest.Id == msg.Id {
			return true
		}
		placeholder := latest.Id == 0 && msg.Id != 0
		if !placeholder && msg.CreatedAt.Before(latest.CreatedAt) {
			return true
		}
	}

	latest := msg
	c.LatestMessage = &latest
	copy(l.items[1:i+1], l.items[:i])
	l.items[0] = c
	return true
}

// Untouch puts prev back as the latest message when the conversation still
// shows the optimistic snapshot taken at placedAt, and restores the
// conversation's place in the activity order.
func (l *ConversationList) Untouch(conversationId string, placedAt time.Time, prev *types.Message) {
	i := l.index(conversationId)
	if i < 0 {
		return
	}

	latest := l.items[i].LatestMessage
	if latest == nil || latest.Id != 0 || !latest.CreatedAt.Equal(placedAt) {
		return
	}
	l.items[i].LatestMessage = prev

	slices.SortStableFunc(l.items, func(a, b types.ConversationSummary) int {
		return b.ActivityAt().Compare(a.ActivityAt())
	})
}

func (l *ConversationList) SetUnread(conversationId string, n int) {
	if i := l.index(conversationId); i >= 0 {
		l.items[i].UnreadCount = n
	}
}

// MarkLatestRead flips the latest snapshot to read when it was addressed to
// readerId.
func (l *ConversationList) MarkLatestRead(conversationId string, readerId int) {
	i := l.index(conversationId)
	if i < 0 {
		return
	}

	latest := l.items[i].LatestMessage
	if latest == nil || latest.ReceiverId != readerId || latest.Read {
		return
	}

	read := *latest
	read.Read = true
	read.Status = types.StatusRead
	l.items[i].LatestMessage = &read
}

func (l *ConversationList) Items() []types.ConversationSummary {
	return append([]types.ConversationSummary(nil), l.items...)
}
