package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

const (
	DefaultPollInterval = 60 * time.Second
	inboxSize           = 64
)

var ErrSessionClosed = errors.New("session closed")

// API is the REST surface a Session reads and writes through. *Client
// implements it.
type API interface {
	ListConversations(ctx context.Context, page types.Page) ([]types.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationId string, page types.Page) ([]types.Message, error)
	SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error)
	MarkRead(ctx context.Context, conversationId string) (int, error)
	UnreadCount(ctx context.Context) (int, error)
}

// TypingRelay forwards typing signals to the server. *Socket implements it.
type TypingRelay interface {
	SendTyping(conversationId string, typing bool) error
}

type SessionOptions struct {
	PollInterval     time.Duration
	ConversationPage types.Page
	// AfterFunc schedules typing timers; nil means time.AfterFunc.
	AfterFunc AfterFunc
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	ConversationId string
	State          ViewState
	Err            error
	Items          []Item
	Conversations  []types.ConversationSummary
	Unread         int
	Typing         []int
}

// Session drives an Engine. One goroutine, started by Run, owns the engine
// and applies every input in turn: pushed events, REST results, user
// actions and timers. REST calls run in their own goroutines and post
// their results back.
type Session struct {
	log    *slog.Logger
	engine *Engine
	api    API
	relay  TypingRelay
	typing *TypingSender
	poll   time.Duration
	page   types.Page

	inbox   chan func()
	updates chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func NewSession(logger *slog.Logger, engine *Engine, api API, relay TypingRelay, opts SessionOptions) *Session {
	s := &Session{
		log:     logger,
		engine:  engine,
		api:     api,
		relay:   relay,
		poll:    opts.PollInterval,
		page:    opts.ConversationPage,
		inbox:   make(chan func(), inboxSize),
		updates: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}

	after := opts.AfterFunc
	if after == nil {
		after = realAfterFunc
	}
	// timer callbacks re-enter through the loop
	s.typing = NewTypingSender(s.sendTyping, func(d time.Duration, f func()) Timer {
		return after(d, func() { s.post(f) })
	}, engine.now)

	return s
}

// Run processes inputs until ctx is done or the session hits a fatal
// error, which it returns.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		s.cancel()
		close(s.stopped)
		s.wg.Wait()
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.execute(backstop())

	for {
		select {
		case <-s.ctx.Done():
			s.typing.Stop()
			return s.Err()
		case f := <-s.inbox:
			f()
		case <-ticker.C:
			s.execute(backstop())
		}
	}
}

// Err returns the fatal error that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}

// Updates signals after any change to the state a Snapshot shows.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) post(f func()) {
	select {
	case s.inbox <- f:
	case <-s.stopped:
	}
}

// call runs f on the loop and waits for its result.
func (s *Session) call(f func() error) error {
	res := make(chan error, 1)
	select {
	case s.inbox <- func() { res <- f() }:
	case <-s.stopped:
		return ErrSessionClosed
	}

	select {
	case err := <-res:
		return err
	case <-s.stopped:
		return ErrSessionClosed
	}
}

func (s *Session) sendTyping(conversationId string, typing bool) {
	if s.relay == nil {
		return
	}
	if err := s.relay.SendTyping(conversationId, typing); err != nil {
		s.log.Debug("send typing", "conversation_id", conversationId, "error", err)
	}
}

// check stops the session on errors it cannot recover from.
func (s *Session) check(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrUnauthorized) {
		s.fail(err)
	}
	return false
}

func (s *Session) execute(effects []Effect) {
	for _, eff := range effects {
		s.run(eff)
	}
	s.notify()
}

func (s *Session) spawn(f func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f(s.ctx)
	}()
}

func (s *Session) run(eff Effect) {
	switch eff := eff.(type) {
	case FetchMessages:
		s.spawn(func(ctx context.Context) {
			msgs, err := s.api.ListMessages(ctx, eff.Ticket.ConversationId, eff.Page)
			s.post(func() {
				if !s.check(err) {
					s.log.Warn("fetch messages", "conversation_id", eff.Ticket.ConversationId, "error", err)
				}
				s.execute(s.engine.ApplyMessages(eff.Ticket, msgs, err))
			})
		})
	case SendMessage:
		s.spawn(func(ctx context.Context) {
			msg, err := s.api.SendMessage(ctx, types.SendMessageRequest{
				ConversationId: eff.ConversationId,
				Content:        eff.Content,
				Attachments:    eff.Attachments,
			})
			s.post(func() {
				if !s.check(err) {
					s.engine.SendFailed(eff.ClientId, err)
				} else {
					s.engine.SendSucceeded(eff.ClientId, msg)
				}
				s.notify()
			})
		})
	case MarkRead:
		s.spawn(func(ctx context.Context) {
			_, err := s.api.MarkRead(ctx, eff.ConversationId)
			s.post(func() {
				if !s.check(err) {
					s.log.Warn("mark read", "conversation_id", eff.ConversationId, "error", err)
				}
			})
		})
	case FetchConversations:
		s.spawn(func(ctx context.Context) {
			list, err := s.api.ListConversations(ctx, s.page)
			s.post(func() {
				if !s.check(err) {
					s.log.Warn("fetch conversations", "error", err)
					return
				}
				s.engine.ApplyConversations(list)
				s.notify()
			})
		})
	case FetchUnreadCount:
		s.spawn(func(ctx context.Context) {
			n, err := s.api.UnreadCount(ctx)
			s.post(func() {
				if !s.check(err) {
					s.log.Warn("fetch unread count", "error", err)
					return
				}
				s.execute(s.engine.ApplyUnreadCount(n))
			})
		})
	}
}

// Open switches the view to conversationId.
func (s *Session) Open(conversationId string) {
	s.post(func() {
		s.typing.Stop()
		s.execute(s.engine.Open(conversationId))
	})
}

// Close leaves the open conversation.
func (s *Session) Close() {
	s.post(func() {
		s.typing.Stop()
		s.engine.Close()
		s.notify()
	})
}

// Send posts content to the open conversation optimistically.
func (s *Session) Send(content string, attachments []types.Attachment) (string, error) {
	var clientId string
	err := s.call(func() error {
		l, effects, err := s.engine.Send(content, attachments)
		if err != nil {
			return err
		}
		clientId = l.ClientId
		s.typing.Stop()
		s.execute(effects)
		return nil
	})
	return clientId, err
}

func (s *Session) Retry(clientId string) error {
	return s.call(func() error {
		effects, err := s.engine.Retry(clientId)
		if err != nil {
			return err
		}
		s.execute(effects)
		return nil
	})
}

func (s *Session) Discard(clientId string) error {
	return s.call(func() error {
		if err := s.engine.Discard(clientId); err != nil {
			return err
		}
		s.notify()
		return nil
	})
}

// Keystroke reports typing activity in the open conversation.
func (s *Session) Keystroke() {
	s.post(func() {
		if id, _ := s.engine.Current(); id != "" {
			s.typing.Keystroke(id)
		}
	})
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() error {
		snap.ConversationId, snap.State = s.engine.Current()
		snap.Err = s.engine.CurrentErr()
		snap.Items = s.engine.Items()
		snap.Conversations = s.engine.Conversations()
		snap.Unread = s.engine.Unread()
		snap.Typing = s.engine.Typing()
		return nil
	})
	return snap, err
}

// OnConnect re-fetches REST state after the socket (re)joins.
func (s *Session) OnConnect() {
	s.post(func() {
		s.execute(s.engine.Refresh())
	})
}

func (s *Session) OnEvent(ev types.Event) {
	s.post(func() {
		s.execute(s.engine.HandleEvent(ev))
	})
}
