package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var conversationNamespace = uuid.MustParse("5b0f8e8e-6f1c-4b7e-9a53-2f3c3b0f61a1")

// SortPair returns a and b in ascending order.
func SortPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// DeriveConversationID returns the id of the conversation between a and b
// in the given context. The result does not depend on argument order.
func DeriveConversationID(a, b int, contextRef string) string {
	lo, hi := SortPair(a, b)

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(lo))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(hi))
	sb.WriteByte(':')
	sb.WriteString(strings.TrimSpace(contextRef))

	return uuid.NewSHA1(conversationNamespace, []byte(sb.String())).String()
}
