package store

import (
	"time"

	"github.com/matheus3301/glide/internal/model"
)

// UpsertConversation stores the latest snapshot of c for owner.
func (db *DB) UpsertConversation(owner string, c model.Conversation) error {
	_, err := db.Exec(`
		INSERT INTO conversations (owner, id, partner_id, partner_name, partner_avatar,
			last_message_id, last_sender_id, last_content, last_kind, last_at,
			unread_count, activity_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, id) DO UPDATE SET
			partner_name = excluded.partner_name,
			partner_avatar = excluded.partner_avatar,
			last_message_id = excluded.last_message_id,
			last_sender_id = excluded.last_sender_id,
			last_content = excluded.last_content,
			last_kind = excluded.last_kind,
			last_at = excluded.last_at,
			unread_count = excluded.unread_count,
			activity_at = excluded.activity_at,
			updated_at = excluded.updated_at`,
		owner, c.ID, c.Partner.ID, c.Partner.Name, c.Partner.Avatar,
		c.LastMessage.ID, c.LastMessage.SenderID, c.LastMessage.Content, c.LastMessage.Kind.String(), millis(c.LastMessage.CreatedAt),
		c.UnreadCount, millis(c.LastActivityAt), time.Now().UnixMilli())
	return err
}

// DeleteConversation removes a conversation and its cached messages.
func (db *DB) DeleteConversation(owner, id string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM conversations WHERE owner = ? AND id = ?`, owner, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE owner = ? AND conversation_id = ?`, owner, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListConversations returns owner's cached conversations, most recent first.
func (db *DB) ListConversations(owner string, limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, partner_id, partner_name, partner_avatar,
			last_message_id, last_sender_id, last_content, last_kind, last_at,
			unread_count, activity_at
		FROM conversations
		WHERE owner = ?
		ORDER BY activity_at DESC, id ASC
		LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		var (
			c              model.Conversation
			kind           string
			lastAt, active int64
		)
		if err := rows.Scan(&c.ID, &c.Partner.ID, &c.Partner.Name, &c.Partner.Avatar,
			&c.LastMessage.ID, &c.LastMessage.SenderID, &c.LastMessage.Content, &kind, &lastAt,
			&c.UnreadCount, &active); err != nil {
			return nil, err
		}
		c.LastMessage.Kind = model.ParseKind(kind)
		c.LastMessage.CreatedAt = fromMillis(lastAt)
		c.LastActivityAt = fromMillis(active)
		out = append(out, c)
	}
	return out, rows.Err()
}
