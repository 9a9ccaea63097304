package server

import (
	"net/http"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join   *Join         `json:"join,omitempty"`
	Typing *TypingSignal `json:"typing,omitempty"`
	UserId int           `json:"-"`
	client *Client       `json:"-"`
}

// Join associates the connection with the user's room.
type Join struct {
	UserId int `json:"user_id"`
}

type TypingSignal struct {
	ConversationId string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response       `json:"response,omitempty"`
	Event    *types.Envelope `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func EventMessage(env *types.Envelope) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: env,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, text string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrForbidden(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "forbidden")
}

func ErrConversationNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "conversation not found")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid message format")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
