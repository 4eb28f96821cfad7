package store

import (
	"time"

	"github.com/matheus3301/glide/internal/model"
)

// Outbox statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
	// OutboxDiscarded marks an unsettled send the user deleted.
	OutboxDiscarded = "discarded"
)

// OutboxEntry is one journaled send.
type OutboxEntry struct {
	ClientID       string
	ConversationID string
	Content        string
	Kind           model.Kind
	Status         string
	Reason         string
	MessageID      string
	CreatedAt      time.Time
}

// JournalSend records a new pending send.
func (db *DB) JournalSend(owner string, m model.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (owner, client_id, conversation_id, content, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(owner, client_id) DO NOTHING`,
		owner, m.ClientID, m.ConversationID, m.Content, m.Kind.String(), millis(m.CreatedAt), now)
	return err
}

// MarkOutboxSent records the server id a send was acknowledged with.
func (db *DB) MarkOutboxSent(owner, clientID, messageID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', message_id = ?, updated_at = ? WHERE owner = ? AND client_id = ?`,
		messageID, time.Now().UnixMilli(), owner, clientID)
	return err
}

// MarkOutboxFailed records why a send failed.
func (db *DB) MarkOutboxFailed(owner, clientID, reason string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', reason = ?, updated_at = ? WHERE owner = ? AND client_id = ?`,
		reason, time.Now().UnixMilli(), owner, clientID)
	return err
}

// DiscardOutbox drops an unsettled send from the journal. Sent entries are
// left as they are.
func (db *DB) DiscardOutbox(owner, clientID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'discarded', updated_at = ? WHERE owner = ? AND client_id = ? AND status IN ('pending', 'failed')`,
		time.Now().UnixMilli(), owner, clientID)
	return err
}

// OutboxByStatus returns owner's journal entries in one status, oldest first.
func (db *DB) OutboxByStatus(owner, status string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT client_id, conversation_id, content, kind, status, reason, message_id, created_at
		FROM outbox WHERE owner = ? AND status = ? ORDER BY created_at ASC`, owner, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ClientID, &e.ConversationID, &e.Content, &kind, &e.Status, &e.Reason, &e.MessageID, &created); err != nil {
			return nil, err
		}
		e.Kind = model.ParseKind(kind)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
