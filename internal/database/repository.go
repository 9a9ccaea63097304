package database

import (
	"context"
	"time"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	ListConversations(ctx context.Context, params ListConversationsParams) ([]ConversationWithPeer, error)
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	MarkRead(ctx context.Context, conversationId string, readerId int, readAt time.Time) (int, error)
	GetMessages(ctx context.Context, params ListMessagesParams) ([]Message, error)
	UnreadCount(ctx context.Context, userId int) (int, error)
}
