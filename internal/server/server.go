package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/presence"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/stats"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

const broadcastQueueSize = 1024

var errNotParticipant = errors.New("not a participant")

// ConversationLookup resolves conversations for the typing relay.
type ConversationLookup interface {
	GetConversation(ctx context.Context, conversationId string) (types.Conversation, error)
}

// ChatServer is the hub that owns every user room. A user room is the set
// of connections joined for one user id. Only the Run goroutine touches
// userMap and queues events onto client send channels.
type ChatServer struct {
	log            *slog.Logger
	presence       *presence.Tracker
	conversations  ConversationLookup
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	userMap        map[int]map[*Client]struct{}
	joinChan       chan *ClientMessage
	deRegisterChan chan *Client
	broadcastChan  chan *userEvent
	stop           chan stopReq
	done           chan struct{}
}

type userEvent struct {
	userId int
	msg    *ServerMessage
}

type stopReq struct {
	done chan struct{}
}

func NewChatServer(logger *slog.Logger, tracker *presence.Tracker, conversations ConversationLookup, su stats.StatsProvider) (*ChatServer, error) {
	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.OnlineUsers)
	su.RegisterMetric(stats.EventsDropped)

	return &ChatServer{
		log:            logger,
		presence:       tracker,
		conversations:  conversations,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		deRegisterChan: make(chan *Client, 256),
		broadcastChan:  make(chan *userEvent, broadcastQueueSize),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case msg := <-cs.joinChan:
			cs.handleJoin(msg)
		case c := <-cs.deRegisterChan:
			cs.handleDisconnect(c)
		case ev := <-cs.broadcastChan:
			cs.handleBroadcast(ev)
		case req := <-cs.stop:
			cs.log.Info("shutting down chat server", "clients", len(cs.getClients()), "online_users", cs.presence.Len())
			for _, c := range cs.getClients() {
				c.stopClient()
			}
			close(req.done)
			return
		}
	}
}

// Shutdown stops the hub and every client write pump.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient tracks a freshly upgraded connection. It joins no room
// until the client sends a join message.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.addClient(c)
	cs.log.Debug("connection registered", "user_id", c.user.Id)
}

// EmitToUser queues event for every connection in the user's room. It
// never blocks: if the hub queue is full the event is dropped.
func (cs *ChatServer) EmitToUser(userId int, event types.Event) {
	env, err := types.EncodeEvent(event)
	if err != nil {
		cs.log.Error("encode event", "type", event.Type(), "error", err)
		return
	}

	select {
	case cs.broadcastChan <- &userEvent{userId: userId, msg: EventMessage(env)}:
	default:
		cs.stats.Incr(stats.EventsDropped)
		cs.log.Warn("broadcast queue full, dropping event", "user_id", userId, "type", event.Type())
	}
}

// Publish implements the store's event sink.
func (cs *ChatServer) Publish(userId int, event types.Event) {
	cs.EmitToUser(userId, event)
}

func (cs *ChatServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	if c.gone {
		// the join was queued before the connection dropped
		cs.log.Debug("join from closed connection ignored", "user_id", c.user.Id)
		return
	}
	if msg.Join.UserId != c.user.Id {
		cs.log.Warn("join for another user rejected", "user_id", c.user.Id, "requested", msg.Join.UserId)
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if !c.joined {
		conns, ok := cs.userMap[c.user.Id]
		if !ok {
			conns = make(map[*Client]struct{})
			cs.userMap[c.user.Id] = conns
		}
		conns[c] = struct{}{}
		c.joined = true

		if cs.presence.Connect(c.user.Id) == 1 {
			cs.stats.Incr(stats.OnlineUsers)
		}
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"user_id":     c.user.Id,
		"connections": len(cs.userMap[c.user.Id]),
	}))
}

func (cs *ChatServer) handleDisconnect(c *Client) {
	if c.joined {
		if conns, ok := cs.userMap[c.user.Id]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(cs.userMap, c.user.Id)
			}
		}
		c.joined = false

		if cs.presence.Disconnect(c.user.Id) == 0 {
			cs.stats.Decr(stats.OnlineUsers)
		}
	}

	c.gone = true
	cs.removeClient(c)
	cs.log.Debug("connection removed", "user_id", c.user.Id)
}

func (cs *ChatServer) handleBroadcast(ev *userEvent) {
	for c := range cs.userMap[ev.userId] {
		if !c.queueMessage(ev.msg) {
			cs.log.Warn("client send queue full", "user_id", ev.userId)
		}
	}
}

// relayTyping forwards a typing signal from sender to the other
// participant of the conversation.
func (cs *ChatServer) relayTyping(ctx context.Context, sender int, sig *TypingSignal) error {
	conv, err := cs.conversations.GetConversation(ctx, sig.ConversationId)
	if err != nil {
		return err
	}

	if !conv.HasParticipant(sender) {
		return errNotParticipant
	}

	cs.EmitToUser(conv.Other(sender), types.Typing{
		ConversationId: sig.ConversationId,
		UserId:         sender,
		Typing:         sig.Typing,
	})

	return nil
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		cs.clients[c] = struct{}{}
		cs.stats.Incr(stats.ActiveConnections)
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.ActiveConnections)
	}
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}
