package syncclient

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSeenSize = 4096

// UnreadCounter holds the badge value: the sum of per-conversation counts
// plus the part of the server total no tracked conversation accounts for.
// No value it holds is ever negative.
type UnreadCounter struct {
	perConversation map[string]int
	remainder       int
	serverTotal     int
	seen            *lru.Cache[int64, struct{}]
}

func NewUnreadCounter(seenSize int) (*UnreadCounter, error) {
	if seenSize <= 0 {
		seenSize = DefaultSeenSize
	}

	seen, err := lru.New[int64, struct{}](seenSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	return &UnreadCounter{
		perConversation: make(map[string]int),
		seen:            seen,
	}, nil
}

func (u *UnreadCounter) Total() int {
	total := u.remainder
	for _, n := range u.perConversation {
		total += n
	}
	return total
}

func (u *UnreadCounter) Get(conversationId string) int {
	return u.perConversation[conversationId]
}

func (u *UnreadCounter) tracked() int {
	sum := 0
	for _, n := range u.perConversation {
		sum += n
	}
	return sum
}

// Set stores the count fetched for one conversation.
func (u *UnreadCounter) Set(conversationId string, n int) {
	if n <= 0 {
		delete(u.perConversation, conversationId)
		return
	}
	u.perConversation[conversationId] = n
}

// SetTotal reconciles with the server total. It reports true when the
// tracked counts exceed the total, which means they are stale.
func (u *UnreadCounter) SetTotal(total int) bool {
	u.serverTotal = total
	remainder := total - u.tracked()
	if remainder < 0 {
		u.remainder = 0
		return true
	}
	u.remainder = remainder
	return false
}

// Rebase recomputes the remainder against the last server total after the
// per-conversation counts were refetched.
func (u *UnreadCounter) Rebase() {
	u.remainder = max(0, u.serverTotal-u.tracked())
}

// Increment counts messageId once in its conversation. Repeated ids are
// ignored and reported as false.
func (u *UnreadCounter) Increment(conversationId string, messageId int64) bool {
	if seen, _ := u.seen.ContainsOrAdd(messageId, struct{}{}); seen {
		return false
	}
	u.perConversation[conversationId]++
	return true
}

// Decrement lowers the conversation's count by n. A decrement below zero
// clamps to zero and reports true.
func (u *UnreadCounter) Decrement(conversationId string, n int) bool {
	cur := u.perConversation[conversationId]
	if n <= cur {
		u.Set(conversationId, cur-n)
		return false
	}
	delete(u.perConversation, conversationId)
	return true
}

// Reset zeroes the conversation's count and returns the old value.
func (u *UnreadCounter) Reset(conversationId string) int {
	n := u.perConversation[conversationId]
	delete(u.perConversation, conversationId)
	return n
}

// Seen marks messageId as already accounted for, for messages the user saw
// in an open view.
func (u *UnreadCounter) Seen(messageId int64) {
	u.seen.Add(messageId, struct{}{})
}
