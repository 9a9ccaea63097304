// Package store owns conversations and messages. Every message mutation
// goes through Store, which persists it and then publishes the matching
// event to the participants through an EventSink.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/database"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// EventSink receives events addressed to a single user.
type EventSink interface {
	Publish(userId int, event types.Event)
}

// OnlineChecker reports whether a user has at least one live connection.
type OnlineChecker interface {
	IsOnline(userId int) bool
}

// Directory resolves user ids for the auth collaborator.
type Directory interface {
	GetAccountById(ctx context.Context, id int) (database.User, error)
}

type nopSink struct{}

func (nopSink) Publish(int, types.Event) {}

type nopOnline struct{}

func (nopOnline) IsOnline(int) bool { return false }

type Store struct {
	log    *slog.Logger
	repo   database.ChatRepository
	dir    Directory
	sink   EventSink
	online OnlineChecker
	locks  *keyedMutex
	now    func() time.Time
}

// NewStore returns a Store backed by repo, which also serves as the user
// directory.
func NewStore(logger *slog.Logger, repo database.ChatRepository, online OnlineChecker) *Store {
	if online == nil {
		online = nopOnline{}
	}

	return &Store{
		log:    logger,
		repo:   repo,
		dir:    repo,
		sink:   nopSink{},
		online: online,
		locks:  newKeyedMutex(),
		now:    Now,
	}
}

// SetEventSink sets where committed events are published.
func (s *Store) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	s.sink = sink
}

// Now returns the current UTC time rounded to the millisecond.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// GetOrCreateConversation returns the conversation between a and b in the
// given context, creating it on first use. The same arguments in either
// order always yield the same conversation.
func (s *Store) GetOrCreateConversation(ctx context.Context, a, b int, contextRef string) (types.Conversation, error) {
	if a == b || a <= 0 || b <= 0 {
		return types.Conversation{}, ErrInvalidParticipant
	}

	for _, id := range []int{a, b} {
		if _, err := s.dir.GetAccountById(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.Conversation{}, fmt.Errorf("%w: user %d", ErrInvalidParticipant, id)
			}
			return types.Conversation{}, fmt.Errorf("lookup user %d: %w", id, err)
		}
	}

	lo, hi := types.SortPair(a, b)
	contextRef = strings.TrimSpace(contextRef)
	id := types.DeriveConversationID(lo, hi, contextRef)

	conv, err := s.repo.CreateConversation(ctx, database.CreateConversationParams{
		Id:           id,
		ParticipantA: lo,
		ParticipantB: hi,
		ContextRef:   contextRef,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	return s.toConversation(conv), nil
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, conversationId string) (types.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationId)
	if err != nil {
		return types.Conversation{}, err
	}
	return s.toConversation(conv), nil
}

// AppendMessage stores a new message from senderId in the conversation
// and publishes it to both participants.
func (s *Store) AppendMessage(ctx context.Context, conversationId string, senderId int, content string, attachments []types.Attachment) (types.Message, error) {
	unlock := s.locks.Lock(conversationId)
	defer unlock()

	conv, err := s.getConversation(ctx, conversationId)
	if err != nil {
		return types.Message{}, err
	}

	if conv.ParticipantA != senderId && conv.ParticipantB != senderId {
		return types.Message{}, ErrNotAParticipant
	}

	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return types.Message{}, ErrEmptyMessage
	}

	receiverId := conv.ParticipantA
	if receiverId == senderId {
		receiverId = conv.ParticipantB
	}

	createdAt := s.now()
	// keep (created_at, id) ordering consistent with insertion order
	if conv.LatestMessage != nil && createdAt.Before(conv.LatestMessage.CreatedAt) {
		createdAt = conv.LatestMessage.CreatedAt
	}

	rawAttachments, err := marshalAttachments(attachments)
	if err != nil {
		return types.Message{}, err
	}

	dbMsg, err := s.repo.CreateMessage(ctx, database.Message{
		ConversationId: conversationId,
		SenderId:       senderId,
		ReceiverId:     receiverId,
		Content:        content,
		Attachments:    rawAttachments,
		Delivered:      s.online.IsOnline(receiverId),
		CreatedAt:      createdAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrConversationNotFound
		}
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	msg := s.toMessage(dbMsg)
	event := types.MessageCreated{ConversationId: conversationId, Message: msg}
	s.sink.Publish(receiverId, event)
	s.sink.Publish(senderId, event)

	return msg, nil
}

// MarkRead marks every unread message addressed to readerId in the
// conversation as read and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, conversationId string, readerId int) (int, error) {
	unlock := s.locks.Lock(conversationId)
	defer unlock()

	conv, err := s.getConversation(ctx, conversationId)
	if err != nil {
		return 0, err
	}

	if conv.ParticipantA != readerId && conv.ParticipantB != readerId {
		return 0, ErrNotAParticipant
	}

	readAt := s.now()
	n, err := s.repo.MarkRead(ctx, conversationId, readerId, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	if n > 0 {
		event := types.MessagesRead{
			ConversationId: conversationId,
			ReaderId:       readerId,
			Count:          n,
			ReadAt:         readAt,
		}
		s.sink.Publish(readerId, event)
		if other := otherParticipant(conv, readerId); other != readerId {
			s.sink.Publish(other, event)
		}
	}

	return n, nil
}

// ListConversations returns the user's conversations, most recently
// active first.
func (s *Store) ListConversations(ctx context.Context, userId int, page types.Page) ([]types.ConversationSummary, error) {
	params := database.ListConversationsParams{
		UserId: userId,
		Limit:  clampLimit(page.Limit),
	}
	if page.Before > 0 {
		params.Before = time.UnixMilli(page.Before).UTC()
	}

	rows, err := s.repo.ListConversations(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]types.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		conv := s.toConversation(row.Conversation)
		summaries = append(summaries, types.ConversationSummary{
			Id:         conv.Id,
			ContextRef: conv.ContextRef,
			OtherUser: types.User{
				Id:        row.Peer.Id,
				Username:  row.Peer.Username,
				AvatarURL: row.Peer.AvatarURL,
				Role:      types.Role(row.Peer.Role),
				IsOnline:  s.online.IsOnline(row.Peer.Id),
			},
			LatestMessage: conv.LatestMessage,
			UnreadCount:   conv.UnreadFor(userId),
			CreatedAt:     conv.CreatedAt,
			UpdatedAt:     conv.UpdatedAt,
		})
	}

	return summaries, nil
}

// ListMessages returns a page of the conversation's messages in ascending
// (created_at, id) order.
func (s *Store) ListMessages(ctx context.Context, conversationId string, requesterId int, page types.Page) ([]types.Message, error) {
	conv, err := s.getConversation(ctx, conversationId)
	if err != nil {
		return nil, err
	}

	if conv.ParticipantA != requesterId && conv.ParticipantB != requesterId {
		return nil, ErrNotAParticipant
	}

	rows, err := s.repo.GetMessages(ctx, database.ListMessagesParams{
		ConversationId: conversationId,
		Before:         page.Before,
		After:          page.After,
		Limit:          clampLimit(page.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, s.toMessage(row))
	}
	types.SortMessages(msgs)

	return msgs, nil
}

// UnreadCount returns the number of unread messages addressed to userId
// across all conversations.
func (s *Store) UnreadCount(ctx context.Context, userId int) (int, error) {
	n, err := s.repo.UnreadCount(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

func (s *Store) getConversation(ctx context.Context, conversationId string) (database.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Conversation{}, ErrConversationNotFound
		}
		return database.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func otherParticipant(c database.Conversation, userId int) int {
	if c.ParticipantA == userId {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}
