package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	EventMessageCreated EventType = "message-created"
	EventMessagesRead   EventType = "messages-read"
	EventTyping         EventType = "typing"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is a server-pushed event. The set of implementations is closed:
// MessageCreated, MessagesRead and Typing.
type Event interface {
	Type() EventType
	isEvent()
}

type MessageCreated struct {
	ConversationId string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

type MessagesRead struct {
	ConversationId string    `json:"conversation_id"`
	ReaderId       int       `json:"reader_id"`
	Count          int       `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

type Typing struct {
	ConversationId string `json:"conversation_id"`
	UserId         int    `json:"user_id"`
	Typing         bool   `json:"typing"`
}

func (MessageCreated) Type() EventType { return EventMessageCreated }
func (MessagesRead) Type() EventType   { return EventMessagesRead }
func (Typing) Type() EventType         { return EventTyping }

func (MessageCreated) isEvent() {}
func (MessagesRead) isEvent()   {}
func (Typing) isEvent()         {}

// Envelope is the wire form of an Event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func EncodeEvent(e Event) (*Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}

	return &Envelope{Type: e.Type(), Payload: payload}, nil
}

func DecodeEvent(env *Envelope) (Event, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}

	switch env.Type {
	case EventMessageCreated:
		var e MessageCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventMessagesRead:
		var e MessagesRead
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTyping:
		var e Typing
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
