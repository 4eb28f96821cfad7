package store

import (
	"github.com/matheus3301/glide/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on owner + id).
// A pending row replaced by its acknowledged copy is removed.
func (db *DB) UpsertMessage(owner string, m model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if m.ClientID != "" && m.ClientID != m.ID {
		if _, err := tx.Exec(`DELETE FROM messages WHERE owner = ? AND id = ?`, owner, m.ClientID); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`
		INSERT INTO messages (owner, id, client_id, conversation_id, sender_id, receiver_id, content, kind, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, id) DO UPDATE SET
			client_id = excluded.client_id,
			content = excluded.content,
			state = excluded.state`,
		owner, m.ID, m.ClientID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content, m.Kind.String(), m.State.String(), millis(m.CreatedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceMessages swaps the cached sequence of one conversation.
func (db *DB) ReplaceMessages(owner, conversationID string, msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages WHERE owner = ? AND conversation_id = ?`, owner, conversationID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO messages (owner, id, client_id, conversation_id, sender_id, receiver_id, content, kind, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, m := range msgs {
		if _, err := stmt.Exec(owner, m.ID, m.ClientID, conversationID, m.SenderID, m.ReceiverID, m.Content, m.Kind.String(), m.State.String(), millis(m.CreatedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns the cached sequence of a conversation in order.
func (db *DB) ListMessages(owner, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT id, client_id, conversation_id, sender_id, receiver_id, content, kind, state, created_at
		FROM (
			SELECT * FROM messages
			WHERE owner = ? AND conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, owner, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m           model.Message
			kind, state string
			created     int64
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &state, &created); err != nil {
			return nil, err
		}
		m.Kind = model.ParseKind(kind)
		if m.State, err = model.ParseDeliveryState(state); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
