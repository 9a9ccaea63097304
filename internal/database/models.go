package database

import (
	"encoding/json"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	AvatarURL    string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id            string
	ParticipantA  int
	ParticipantB  int
	ContextRef    string
	UnreadA       int
	UnreadB       int
	LatestMessage *Message
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConversationWithPeer is a conversation row joined with the account of
// the participant other than the one the listing was made for.
type ConversationWithPeer struct {
	Conversation
	Peer User
}

type Message struct {
	Id             int64
	ConversationId string
	SenderId       int
	ReceiverId     int
	Content        string
	Attachments    json.RawMessage
	Read           bool
	Delivered      bool
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Role         string
}

type CreateConversationParams struct {
	Id           string
	ParticipantA int
	ParticipantB int
	ContextRef   string
	CreatedAt    time.Time
}

type ListConversationsParams struct {
	UserId int
	// Before restricts the listing to conversations whose last activity is
	// strictly older. The zero value disables the filter.
	Before time.Time
	Limit  int
}

type ListMessagesParams struct {
	ConversationId string
	Before         int64
	After          int64
	Limit          int
}
