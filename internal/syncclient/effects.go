package syncclient

import "github.com/ahanafabid01/Next-Youth-sub000/internal/types"

// Effect is work the Engine asks its driver to perform. The driver reports
// the outcome back through the matching Apply method.
type Effect interface {
	isEffect()
}

// Ticket identifies the view a message fetch was issued for.
type Ticket struct {
	Generation     uint64
	ConversationId string
}

type FetchMessages struct {
	Ticket Ticket
	Page   types.Page
}

type SendMessage struct {
	ClientId       string
	ConversationId string
	Content        string
	Attachments    []types.Attachment
}

type MarkRead struct {
	ConversationId string
}

type FetchConversations struct{}

type FetchUnreadCount struct{}

func (FetchMessages) isEffect()      {}
func (SendMessage) isEffect()        {}
func (MarkRead) isEffect()           {}
func (FetchConversations) isEffect() {}
func (FetchUnreadCount) isEffect()   {}

// backstop re-reads the conversation list and unread total from REST.
func backstop() []Effect {
	return []Effect{FetchUnreadCount{}, FetchConversations{}}
}
