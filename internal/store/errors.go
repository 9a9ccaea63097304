package store

import "errors"

var (
	ErrEmptyMessage         = errors.New("message has no content and no attachments")
	ErrNotAParticipant      = errors.New("user is not a participant of the conversation")
	ErrInvalidParticipant   = errors.New("invalid conversation participant")
	ErrConversationNotFound = errors.New("conversation not found")
)
