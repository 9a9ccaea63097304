package store

import (
	"encoding/json"
	"fmt"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/database"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

func marshalAttachments(attachments []types.Attachment) (json.RawMessage, error) {
	if len(attachments) == 0 {
		return json.RawMessage("[]"), nil
	}

	raw, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return raw, nil
}

func decodeAttachments(raw json.RawMessage) ([]types.Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var attachments []types.Attachment
	if err := json.Unmarshal(raw, &attachments); err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return nil, nil
	}
	return attachments, nil
}

func messageStatus(m database.Message) types.MessageStatus {
	switch {
	case m.Read:
		return types.StatusRead
	case m.Delivered:
		return types.StatusDelivered
	default:
		return types.StatusSent
	}
}

// toMessage converts a stored row. Malformed attachments are dropped and
// reported; the rest of the message is still returned.
func toMessage(m database.Message) (types.Message, error) {
	attachments, err := decodeAttachments(m.Attachments)
	if err != nil {
		err = fmt.Errorf("decode attachments of message %d: %w", m.Id, err)
	}

	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		ReceiverId:     m.ReceiverId,
		Content:        m.Content,
		Attachments:    attachments,
		Read:           m.Read,
		Status:         messageStatus(m),
		CreatedAt:      m.CreatedAt.UTC(),
	}, err
}

func (s *Store) toMessage(m database.Message) types.Message {
	msg, err := toMessage(m)
	if err != nil {
		s.log.Warn("malformed attachments", "message_id", m.Id, "error", err)
	}
	return msg
}

func (s *Store) toConversation(c database.Conversation) types.Conversation {
	conv := types.Conversation{
		Id:           c.Id,
		ParticipantA: c.ParticipantA,
		ParticipantB: c.ParticipantB,
		ContextRef:   c.ContextRef,
		UnreadA:      c.UnreadA,
		UnreadB:      c.UnreadB,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}

	if c.LatestMessage != nil {
		latest := s.toMessage(*c.LatestMessage)
		conv.LatestMessage = &latest
	}

	return conv
}
