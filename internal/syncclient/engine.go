// Package syncclient keeps a client's view of conversations consistent
// across three unordered inputs: REST snapshots, pushed events and the
// user's own optimistic sends.
//
// Engine holds the state and never does I/O. Every input returns the
// Effects the caller should run; results come back through the Apply
// methods. Session drives an Engine from a single goroutine.
package syncclient

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/teris-io/shortid"
)

// MatchWindow is how far apart the local and server timestamps of the
// same message may be for an echo to reconcile a pending send.
const MatchWindow = 30 * time.Second

// RefreshPageSize is the page size used to catch up on messages missed
// while disconnected.
const RefreshPageSize = 100

var (
	ErrNoOpenConversation = errors.New("no open conversation")
	ErrEmptyMessage       = errors.New("message has no content or attachments")
	ErrUnknownLocal       = errors.New("unknown local message")
	ErrNotFailed          = errors.New("local message has not failed")
)

type Engine struct {
	self  int
	now   func() time.Time
	newId func() (string, error)

	generation    uint64
	view          *view
	pending       []*LocalMessage
	reconciled    *lru.Cache[int64, struct{}]
	conversations ConversationList
	unread        *UnreadCounter
	typing        *TypingIndicator
}

type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIdGenerator replaces the generator of local message ids.
func WithIdGenerator(gen func() (string, error)) EngineOption {
	return func(e *Engine) { e.newId = gen }
}

func NewEngine(self int, opts ...EngineOption) (*Engine, error) {
	unread, err := NewUnreadCounter(DefaultSeenSize)
	if err != nil {
		return nil, err
	}
	reconciled, err := lru.New[int64, struct{}](DefaultSeenSize)
	if err != nil {
		return nil, fmt.Errorf("create reconciled cache: %w", err)
	}

	e := &Engine{
		self:       self,
		now:        time.Now,
		newId:      shortid.Generate,
		reconciled: reconciled,
		unread:     unread,
		typing:     NewTypingIndicator(TypingCeiling),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Open makes conversationId the current view. Any fetch issued for an
// earlier view is ignored when it completes.
func (e *Engine) Open(conversationId string) []Effect {
	if e.view != nil {
		e.typing.ClearConversation(e.view.conversationId)
	}

	e.generation++
	e.view = newView(conversationId)

	return []Effect{FetchMessages{
		Ticket: Ticket{Generation: e.generation, ConversationId: conversationId},
	}}
}

// Close leaves the current view.
func (e *Engine) Close() {
	if e.view == nil {
		return
	}
	e.typing.ClearConversation(e.view.conversationId)
	e.generation++
	e.view = nil
}

// Refresh re-fetches everything REST owns. It runs after a reconnect,
// since events emitted while disconnected are lost. A synced view pages
// forward from its newest message until it has caught up.
func (e *Engine) Refresh() []Effect {
	effects := backstop()
	if e.view == nil {
		return effects
	}

	e.generation++
	e.view.catchingUp = false
	if e.view.state == StateError {
		e.view.state = StateLoading
		e.view.err = nil
	}

	fetch := FetchMessages{
		Ticket: Ticket{Generation: e.generation, ConversationId: e.view.conversationId},
	}
	if last, ok := e.view.newest(); ok && e.view.state == StateSynced {
		e.view.catchingUp = true
		fetch.Page = types.Page{After: last.Id, Limit: RefreshPageSize}
	}
	return append(effects, fetch)
}

// Current returns the open conversation and its state.
func (e *Engine) Current() (string, ViewState) {
	if e.view == nil {
		return "", StateCold
	}
	return e.view.conversationId, e.view.state
}

func (e *Engine) CurrentErr() error {
	if e.view == nil {
		return nil
	}
	return e.view.err
}

func (e *Engine) isCurrent(t Ticket) bool {
	return e.view != nil && t.Generation == e.generation && t.ConversationId == e.view.conversationId
}

// ApplyMessages merges a message fetch. Results for a view that is no
// longer current are dropped.
func (e *Engine) ApplyMessages(t Ticket, msgs []types.Message, err error) []Effect {
	if !e.isCurrent(t) {
		return nil
	}

	if err != nil {
		e.view.catchingUp = false
		if e.view.state != StateSynced {
			e.view.state = StateError
			e.view.err = err
		}
		return nil
	}

	for _, m := range msgs {
		if e.view.merge(m) {
			e.reconcileEcho(m)
		}
		e.unread.Seen(m.Id)
	}

	e.view.state = StateSynced
	e.view.err = nil

	// pages come back oldest first
	if e.view.catchingUp && len(msgs) >= RefreshPageSize {
		return []Effect{FetchMessages{
			Ticket: t,
			Page:   types.Page{After: msgs[len(msgs)-1].Id, Limit: RefreshPageSize},
		}}
	}
	e.view.catchingUp = false

	return e.markViewRead()
}

// markViewRead zeroes the open conversation's count and asks the server
// to mark it read.
func (e *Engine) markViewRead() []Effect {
	conversationId := e.view.conversationId
	e.unread.Reset(conversationId)
	e.conversations.SetUnread(conversationId, 0)
	e.conversations.MarkLatestRead(conversationId, e.self)
	e.view.markReadBy(e.self)

	return []Effect{MarkRead{ConversationId: conversationId}}
}

func (e *Engine) synced(conversationId string) bool {
	return e.view != nil && e.view.conversationId == conversationId && e.view.state == StateSynced
}

// ApplyConversations replaces the conversation list with a fetched page.
func (e *Engine) ApplyConversations(list []types.ConversationSummary) {
	e.conversations.Replace(list)
	for _, c := range list {
		if e.synced(c.Id) {
			e.conversations.SetUnread(c.Id, 0)
			continue
		}
		e.unread.Set(c.Id, c.UnreadCount)
	}
	e.unread.Rebase()
}

// ApplyUnreadCount reconciles the badge with the server total.
func (e *Engine) ApplyUnreadCount(total int) []Effect {
	if e.unread.SetTotal(total) {
		return []Effect{FetchConversations{}}
	}
	return nil
}

// HandleEvent merges a pushed event.
func (e *Engine) HandleEvent(ev types.Event) []Effect {
	switch ev := ev.(type) {
	case types.MessageCreated:
		return e.messageCreated(ev)
	case types.MessagesRead:
		return e.messagesRead(ev)
	case types.Typing:
		if ev.UserId != e.self {
			e.typing.Set(ev.ConversationId, ev.UserId, ev.Typing, e.now())
		}
		return nil
	default:
		panic(fmt.Sprintf("syncclient: unhandled event %T", ev))
	}
}

func (e *Engine) messageCreated(ev types.MessageCreated) []Effect {
	msg := ev.Message
	if msg.ConversationId == "" {
		msg.ConversationId = ev.ConversationId
	}

	var effects []Effect
	e.typing.Clear(msg.ConversationId, msg.SenderId)

	if !e.conversations.Touch(msg) {
		effects = append(effects, FetchConversations{})
	}

	inView := e.view != nil && e.view.conversationId == msg.ConversationId
	fresh := true
	if inView {
		fresh = e.view.merge(msg)
	}
	if fresh {
		e.reconcileEcho(msg)
	}

	if msg.ReceiverId == e.self && msg.SenderId != e.self {
		if inView && e.view.state == StateSynced {
			e.unread.Seen(msg.Id)
			effects = append(effects, MarkRead{ConversationId: msg.ConversationId})
		} else if e.unread.Increment(msg.ConversationId, msg.Id) {
			e.conversations.SetUnread(msg.ConversationId, e.UnreadFor(msg.ConversationId))
		}
	}

	return effects
}

func (e *Engine) messagesRead(ev types.MessagesRead) []Effect {
	if ev.ReaderId != e.self {
		// the other participant read what we sent
		if e.view != nil && e.view.conversationId == ev.ConversationId {
			e.view.markReadBy(ev.ReaderId)
		}
		e.conversations.MarkLatestRead(ev.ConversationId, ev.ReaderId)
		return nil
	}

	e.conversations.MarkLatestRead(ev.ConversationId, e.self)
	if e.view != nil && e.view.conversationId == ev.ConversationId {
		e.view.markReadBy(e.self)
	}
	if e.synced(ev.ConversationId) {
		return nil
	}

	// the server marks everything addressed to us read; a count above ours
	// means our tracked numbers drifted
	underflow := e.unread.Decrement(ev.ConversationId, ev.Count)
	e.unread.Reset(ev.ConversationId)
	e.conversations.SetUnread(ev.ConversationId, 0)
	if underflow {
		return backstop()
	}
	return nil
}

// reconcileEcho replaces the oldest local message msg confirms. A server
// message reconciles at most one local message, however often it arrives.
func (e *Engine) reconcileEcho(msg types.Message) bool {
	if msg.SenderId != e.self || e.reconciled.Contains(msg.Id) {
		return false
	}

	for i, l := range e.pending {
		if l.ConversationId != msg.ConversationId || l.SenderId != msg.SenderId || l.Content != msg.Content {
			continue
		}
		if d := msg.CreatedAt.Sub(l.CreatedAt).Abs(); d > MatchWindow {
			continue
		}
		e.pending = slices.Delete(e.pending, i, i+1)
		e.reconciled.Add(msg.Id, struct{}{})
		return true
	}
	return false
}

// Send adds an optimistic message to the open conversation.
func (e *Engine) Send(content string, attachments []types.Attachment) (*LocalMessage, []Effect, error) {
	if e.view == nil {
		return nil, nil, ErrNoOpenConversation
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, nil, ErrEmptyMessage
	}

	id, err := e.newId()
	if err != nil {
		return nil, nil, fmt.Errorf("generate local id: %w", err)
	}

	l := &LocalMessage{
		ClientId:       LocalIdPrefix + id,
		ConversationId: e.view.conversationId,
		SenderId:       e.self,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      e.now().UTC(),
		Pending:        true,
	}
	if c, ok := e.conversations.Get(l.ConversationId); ok {
		l.prevLatest = c.LatestMessage
	}
	l.touchedAt = l.CreatedAt
	e.pending = append(e.pending, l)
	e.conversations.Touch(localItem(l).Message)

	return l, []Effect{sendEffect(l)}, nil
}

func sendEffect(l *LocalMessage) SendMessage {
	return SendMessage{
		ClientId:       l.ClientId,
		ConversationId: l.ConversationId,
		Content:        l.Content,
		Attachments:    l.Attachments,
	}
}

func (e *Engine) local(clientId string) (int, *LocalMessage) {
	if !IsLocalId(clientId) {
		return -1, nil
	}
	for i, l := range e.pending {
		if l.ClientId == clientId {
			return i, l
		}
	}
	return -1, nil
}

// SendSucceeded reconciles the local message with the stored one. The
// echo may have done so already.
func (e *Engine) SendSucceeded(clientId string, msg types.Message) {
	if i, _ := e.local(clientId); i >= 0 {
		e.pending = slices.Delete(e.pending, i, i+1)
		e.reconciled.Add(msg.Id, struct{}{})
	}

	e.conversations.Touch(msg)
	if e.view != nil && e.view.conversationId == msg.ConversationId {
		e.view.merge(msg)
	}
}

// SendFailed keeps the local message, marked failed, for Retry or Discard.
func (e *Engine) SendFailed(clientId string, err error) {
	if _, l := e.local(clientId); l != nil {
		l.Pending = false
		l.Failed = true
		l.Err = err
	}
}

// Retry sends a failed message again.
func (e *Engine) Retry(clientId string) ([]Effect, error) {
	_, l := e.local(clientId)
	if l == nil {
		return nil, ErrUnknownLocal
	}
	if !l.Failed {
		return nil, ErrNotFailed
	}

	l.Failed = false
	l.Pending = true
	l.Err = nil
	l.CreatedAt = e.now().UTC()

	return []Effect{sendEffect(l)}, nil
}

// Discard drops a failed message. The conversation list gets back the
// latest message it showed before the send.
func (e *Engine) Discard(clientId string) error {
	i, l := e.local(clientId)
	if l == nil {
		return ErrUnknownLocal
	}
	if !l.Failed {
		return ErrNotFailed
	}
	e.pending = slices.Delete(e.pending, i, i+1)
	e.conversations.Untouch(l.ConversationId, l.touchedAt, l.prevLatest)
	return nil
}

// Items returns the open conversation in render order.
func (e *Engine) Items() []Item {
	if e.view == nil {
		return nil
	}
	return e.view.items(e.pending)
}

func (e *Engine) Conversations() []types.ConversationSummary {
	return e.conversations.Items()
}

func (e *Engine) Unread() int {
	return e.unread.Total()
}

func (e *Engine) UnreadFor(conversationId string) int {
	return e.unread.Get(conversationId)
}

// Typing returns who is typing in the open conversation.
func (e *Engine) Typing() []int {
	if e.view == nil {
		return nil
	}
	return e.TypingIn(e.view.conversationId)
}

// TypingIn returns who is typing in conversationId.
func (e *Engine) TypingIn(conversationId string) []int {
	return e.typing.Users(conversationId, e.now())
}
