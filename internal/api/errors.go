package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/store"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewConflictError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    lower(http.StatusText(http.StatusConflict)),
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    lower(http.StatusText(http.StatusTooManyRequests)),
	}
}

// storeError maps an error returned by the conversation store to the
// response sent to the client.
func storeError(err error) *ApiError {
	switch {
	case errors.Is(err, store.ErrEmptyMessage), errors.Is(err, store.ErrInvalidParticipant):
		return &ApiError{StatusCode: http.StatusBadRequest, Message: errMessage(err), Err: err}
	case errors.Is(err, store.ErrNotAParticipant):
		return &ApiError{StatusCode: http.StatusForbidden, Message: errMessage(err), Err: err}
	case errors.Is(err, store.ErrConversationNotFound):
		return &ApiError{StatusCode: http.StatusNotFound, Message: errMessage(err), Err: err}
	default:
		return NewInternalServerError(err)
	}
}

// errMessage returns the message of the store sentinel wrapped in err.
func errMessage(err error) string {
	for _, sentinel := range []error{
		store.ErrEmptyMessage,
		store.ErrInvalidParticipant,
		store.ErrNotAParticipant,
		store.ErrConversationNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
