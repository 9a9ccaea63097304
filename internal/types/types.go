package types

import (
	"sort"
	"time"
)

type Role string

const (
	RoleParticipant Role = "participant"
	RoleOperator    Role = "operator"
)

type User struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      Role   `json:"role,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

type Attachment struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// MessageStatus is the optional richer view of the read flag.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

type Message struct {
	Id             int64         `json:"id"`
	ConversationId string        `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	ReceiverId     int           `json:"receiver_id"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Read           bool          `json:"read"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MessageLess orders messages by (CreatedAt, Id) ascending.
func MessageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Id < b.Id
}

// SortMessages sorts msgs in place by (CreatedAt, Id) ascending.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageLess(msgs[i], msgs[j])
	})
}

type Conversation struct {
	Id            string    `json:"id"`
	ParticipantA  int       `json:"participant_a"`
	ParticipantB  int       `json:"participant_b"`
	ContextRef    string    `json:"context_ref,omitempty"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	UnreadA       int       `json:"-"`
	UnreadB       int       `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasParticipant reports whether userId is one of the two participants.
func (c Conversation) HasParticipant(userId int) bool {
	return c.ParticipantA == userId || c.ParticipantB == userId
}

// Other returns the participant that is not userId.
func (c Conversation) Other(userId int) int {
	if c.ParticipantA == userId {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadFor returns the unread counter kept for userId.
func (c Conversation) UnreadFor(userId int) int {
	switch userId {
	case c.ParticipantA:
		return c.UnreadA
	case c.ParticipantB:
		return c.UnreadB
	}
	return 0
}

type ConversationSummary struct {
	Id            string    `json:"id"`
	ContextRef    string    `json:"context_ref,omitempty"`
	OtherUser     User      `json:"other_user"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActivityAt is the timestamp conversation lists are sorted by.
func (s ConversationSummary) ActivityAt() time.Time {
	if s.LatestMessage != nil {
		return s.LatestMessage.CreatedAt
	}
	return s.CreatedAt
}

// Page selects a window of a listing. Before and After are exclusive
// cursors: message ids for message listings, unix milliseconds of the
// activity timestamp for conversation listings.
type Page struct {
	Before int64
	After  int64
	Limit  int
}

// SendMessageRequest addresses a message either by ConversationId or by
// ReceiverId plus ConversationContext.
type SendMessageRequest struct {
	ConversationId      string       `json:"conversation_id,omitempty"`
	ReceiverId          int          `json:"receiver_id,omitempty"`
	ConversationContext string       `json:"conversation_context,omitempty"`
	Content             string       `json:"content"`
	Attachments         []Attachment `json:"attachments,omitempty"`
}

type MarkReadRequest struct {
	ConversationId string `json:"conversation_id"`
}

type CreateConversationRequest struct {
	ParticipantId       int    `json:"participant_id"`
	ConversationContext string `json:"conversation_context,omitempty"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type PresenceResponse struct {
	UserId      int  `json:"user_id"`
	Online      bool `json:"online"`
	Connections int  `json:"connections"`
}
