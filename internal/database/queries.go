package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	messageColumns = "m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.attachments, m.read, m.delivered, m.created_at"

	conversationColumns = "c.id, c.participant_a, c.participant_b, c.context_ref, c.unread_a, c.unread_b, c.created_at, c.updated_at"

	defaultMessageLimit = 50
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	role := params.Role
	if role == "" {
		role = "participant"
	}

	now := time.Now().UTC()
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, role, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, email, avatar_url, role, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		role,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.AvatarURL,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, avatar_url, role, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarURL,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, avatar_url, role, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+", "+messageColumns+" FROM conversations c "+
			"LEFT JOIN messages m ON m.id = c.last_message_id "+
			"WHERE c.id = $1",
		id,
	)

	var c Conversation
	if err := scanConversation(row, &c); err != nil {
		return Conversation{}, err
	}

	return c, nil
}

// CreateConversation inserts the conversation unless a row with the same id
// already exists, and returns the stored row either way.
func (db *PgChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO conversations (id, participant_a, participant_b, context_ref, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) ON CONFLICT (id) DO NOTHING",
		params.Id,
		params.ParticipantA,
		params.ParticipantB,
		params.ContextRef,
		params.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	return db.GetConversation(ctx, params.Id)
}

func (db *PgChatRepository) ListConversations(ctx context.Context, params ListConversationsParams) ([]ConversationWithPeer, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	var before sql.NullTime
	if !params.Before.IsZero() {
		before = sql.NullTime{Time: params.Before, Valid: true}
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+", "+messageColumns+", a.id, a.username, a.avatar_url, a.role "+
			"FROM conversations c "+
			"LEFT JOIN messages m ON m.id = c.last_message_id "+
			"JOIN accounts a ON a.id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END "+
			"WHERE (c.participant_a = $1 OR c.participant_b = $1) "+
			"AND ($2::timestamptz IS NULL OR COALESCE(c.last_message_at, c.created_at) < $2::timestamptz) "+
			"ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC LIMIT $3",
		params.UserId,
		before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]ConversationWithPeer, 0, limit)
	for rows.Next() {
		var cp ConversationWithPeer
		peer := []any{&cp.Peer.Id, &cp.Peer.Username, &cp.Peer.AvatarURL, &cp.Peer.Role}
		if err := scanConversation(rows, &cp.Conversation, peer...); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}

		convs = append(convs, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return convs, nil
}

// CreateMessage inserts msg and, in the same transaction, points the
// conversation's latest message at it and increments the receiver's unread
// counter.
func (db *PgChatRepository) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	attachments := msg.Attachments
	if len(attachments) == 0 {
		attachments = json.RawMessage("[]")
	}

	err = tx.QueryRowContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, receiver_id, content, attachments, delivered, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		msg.ConversationId,
		msg.SenderId,
		msg.ReceiverId,
		msg.Content,
		[]byte(attachments),
		msg.Delivered,
		msg.CreatedAt,
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = $2, last_message_at = $3, updated_at = $3, "+
			"unread_a = unread_a + CASE WHEN participant_a = $4 THEN 1 ELSE 0 END, "+
			"unread_b = unread_b + CASE WHEN participant_b = $4 THEN 1 ELSE 0 END "+
			"WHERE id = $1",
		msg.ConversationId,
		msg.Id,
		msg.CreatedAt,
		msg.ReceiverId,
	)
	if err != nil {
		return Message{}, fmt.Errorf("update conversation: %w", err)
	}

	var n int64
	if n, err = res.RowsAffected(); err == nil && n == 0 {
		err = sql.ErrNoRows
	}
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.Attachments = attachments
	return msg, nil
}

// MarkRead flags every unread message addressed to readerId as read and
// zeroes the reader's counter. It returns the number of messages flipped.
func (db *PgChatRepository) MarkRead(ctx context.Context, conversationId string, readerId int, readAt time.Time) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx,
		"UPDATE messages SET read = TRUE, read_at = $3 "+
			"WHERE conversation_id = $1 AND receiver_id = $2 AND read = FALSE",
		conversationId,
		readerId,
		readAt,
	)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}

	var n int64
	n, err = res.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET "+
			"unread_a = CASE WHEN participant_a = $2 THEN 0 ELSE unread_a END, "+
			"unread_b = CASE WHEN participant_b = $2 THEN 0 ELSE unread_b END "+
			"WHERE id = $1",
		conversationId,
		readerId,
	)
	if err != nil {
		return 0, fmt.Errorf("reset unread counter: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return int(n), nil
}

// GetMessages returns a page of messages in ascending (created_at, id)
// order. With After set the page starts right after that message, otherwise
// it ends right before Before (or at the newest message).
func (db *PgChatRepository) GetMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	order := "DESC"
	if params.After > 0 {
		order = "ASC"
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"WHERE m.conversation_id = $1 "+
			"AND ($2::bigint = 0 OR (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)) "+
			"AND ($3::bigint = 0 OR (m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = $3)) "+
			"ORDER BY m.created_at "+order+", m.id "+order+" LIMIT $4",
		params.ConversationId,
		params.Before,
		params.After,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if order == "DESC" {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

func (db *PgChatRepository) UnreadCount(ctx context.Context, userId int) (int, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(CASE WHEN participant_a = $1 THEN unread_a ELSE unread_b END), 0) "+
			"FROM conversations WHERE participant_a = $1 OR participant_b = $1",
		userId,
	)

	var count int
	err := row.Scan(&count)
	return count, err
}

func scanMessage(row rowScanner, msg *Message) error {
	var attachments []byte
	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.ReceiverId,
		&msg.Content,
		&attachments,
		&msg.Read,
		&msg.Delivered,
		&msg.CreatedAt,
	)
	if err != nil {
		return err
	}

	msg.Attachments = json.RawMessage(attachments)
	return nil
}

// scanConversation scans conversationColumns followed by messageColumns of
// the LEFT JOINed latest message, then any extra destinations.
func scanConversation(row rowScanner, c *Conversation, extra ...any) error {
	var (
		msgId          sql.NullInt64
		conversationId sql.NullString
		senderId       sql.NullInt64
		receiverId     sql.NullInt64
		content        sql.NullString
		attachments    []byte
		read           sql.NullBool
		delivered      sql.NullBool
		createdAt      sql.NullTime
	)

	dest := []any{
		&c.Id,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.ContextRef,
		&c.UnreadA,
		&c.UnreadB,
		&c.CreatedAt,
		&c.UpdatedAt,
		&msgId,
		&conversationId,
		&senderId,
		&receiverId,
		&content,
		&attachments,
		&read,
		&delivered,
		&createdAt,
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	if msgId.Valid {
		c.LatestMessage = &Message{
			Id:             msgId.Int64,
			ConversationId: conversationId.String,
			SenderId:       int(senderId.Int64),
			ReceiverId:     int(receiverId.Int64),
			Content:        content.String,
			Attachments:    json.RawMessage(attachments),
			Read:           read.Bool,
			Delivered:      delivered.Bool,
			CreatedAt:      createdAt.Time,
		}
	}

	return nil
}
