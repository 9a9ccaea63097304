package syncclient

import (
	"sort"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
)

// LocalIdPrefix marks ids invented by the client for messages the server
// has not confirmed yet. Server ids are integers, so the two never collide.
const LocalIdPrefix = "local:"

type ViewState int

const (
	StateCold ViewState = iota
	StateLoading
	StateSynced
	StateError
)

func (s ViewState) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	}
	return "unknown"
}

// IsLocalId reports whether id belongs to the client-local namespace.
func IsLocalId(id string) bool {
	return strings.HasPrefix(id, LocalIdPrefix)
}

// LocalMessage is an optimistic message waiting for, or rejected by, the
// server.
type LocalMessage struct {
	ClientId       string
	ConversationId string
	SenderId       int
	Content        string
	Attachments    []types.Attachment
	CreatedAt      time.Time
	Pending        bool
	Failed         bool
	Err            error

	// the list snapshot Send replaced, restored on Discard
	prevLatest *types.Message
	touchedAt  time.Time
}

// Item is one rendered entry of a conversation view. Exactly one of
// Message.Id and ClientId is set.
type Item struct {
	Message  types.Message
	ClientId string
	Pending  bool
	Failed   bool
	Err      error
}

func (i Item) Local() bool {
	return i.ClientId != ""
}

func localItem(l *LocalMessage) Item {
	return Item{
		Message: types.Message{
			ConversationId: l.ConversationId,
			SenderId:       l.SenderId,
			Content:        l.Content,
			Attachments:    l.Attachments,
			CreatedAt:      l.CreatedAt,
		},
		ClientId: l.ClientId,
		Pending:  l.Pending,
		Failed:   l.Failed,
		Err:      l.Err,
	}
}

// itemLess orders by (created_at, id). Local items have no id yet and sort
// after confirmed messages with the same timestamp.
func itemLess(a, b Item) bool {
	if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
		return a.Message.CreatedAt.Before(b.Message.CreatedAt)
	}
	if a.Local() != b.Local() {
		return !a.Local()
	}
	if a.Local() {
		return false
	}
	return a.Message.Id < b.Message.Id
}

// view is the state of the one open conversation.
type view struct {
	conversationId string
	state          ViewState
	err            error
	confirmed      map[int64]types.Message
	// catchingUp is set while a refresh pages forward from the newest
	// confirmed message
	catchingUp bool
}

func newView(conversationId string) *view {
	return &view{
		conversationId: conversationId,
		state:          StateLoading,
		confirmed:      make(map[int64]types.Message),
	}
}

// merge adds msg to the confirmed set and reports whether it was new. A
// message seen before only ever moves from unread to read.
func (v *view) merge(msg types.Message) bool {
	existing, ok := v.confirmed[msg.Id]
	if !ok {
		v.confirmed[msg.Id] = msg
		return true
	}

	if msg.Read && !existing.Read {
		existing.Read = true
		existing.Status = types.StatusRead
		v.confirmed[msg.Id] = existing
	} else if existing.Status == types.StatusSent && msg.Status == types.StatusDelivered {
		existing.Status = types.StatusDelivered
		v.confirmed[msg.Id] = existing
	}
	return false
}

// newest returns the last confirmed message in (created_at, id) order.
func (v *view) newest() (types.Message, bool) {
	var last types.Message
	found := false
	for _, m := range v.confirmed {
		if !found || types.MessageLess(last, m) {
			last = m
			found = true
		}
	}
	return last, found
}

// markReadBy flips every message addressed to readerId to read.
func (v *view) markReadBy(readerId int) int {
	n := 0
	for id, m := range v.confirmed {
		if m.ReceiverId == readerId && !m.Read {
			m.Read = true
			m.Status = types.StatusRead
			v.confirmed[id] = m
			n++
		}
	}
	return n
}

func (v *view) items(pending []*LocalMessage) []Item {
	items := make([]Item, 0, len(v.confirmed)+len(pending))
	for _, m := range v.confirmed {
		items = append(items, Item{Message: m})
	}
	for _, l := range pending {
		if l.ConversationId == v.conversationId {
			items = append(items, localItem(l))
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return itemLess(items[i], items[j])
	})
	return items
}
