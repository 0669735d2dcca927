package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IsProcessed reports whether the (account, externalID) pair is already in
// the dedup registry.
func (r *Postgres) IsProcessed(ctx context.Context, accountID, externalID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM processed_messages WHERE account_id = $1 AND external_id = $2);`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, accountID, externalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed message: %w", err)
	}
	return exists, nil
}

// InsertInboundMessage stores an inbound message and records its external id
// in the dedup registry within the same transaction.
func (r *Postgres) InsertInboundMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Direction = DirectionIn
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertMessage(ctx, tx, &msg); err != nil {
			return err
		}
		if msg.ExternalID != nil && *msg.ExternalID != "" {
			const q = `
INSERT INTO processed_messages (account_id, external_id)
VALUES ($1, $2)
ON CONFLICT (account_id, external_id) DO NOTHING;`
			if _, err := tx.Exec(ctx, q, msg.AccountID, *msg.ExternalID); err != nil {
				return fmt.Errorf("record processed message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// InsertOutboundMessage stores one sent reply fragment.
func (r *Postgres) InsertOutboundMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Direction = DirectionOut
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		return insertMessage(ctx, tx, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *Message) error {
	const q = `
INSERT INTO messages (id, account_id, conversation_id, external_id, direction, kind, content, media_url, transcription, caption, from_automation)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at;`
	err := tx.QueryRow(ctx, q,
		msg.ID,
		msg.AccountID,
		msg.ConversationID,
		msg.ExternalID,
		msg.Direction,
		msg.Kind,
		msg.Content,
		msg.MediaURL,
		msg.Transcription,
		msg.Caption,
		msg.FromAutomation,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages in the conversation,
// oldest first so they can feed the model context directly.
func (r *Postgres) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, account_id, conversation_id, external_id, direction, kind, content, media_url, transcription, caption, from_automation, created_at
FROM (
    SELECT id, account_id, conversation_id, external_id, direction, kind, content, media_url, transcription, caption, from_automation, created_at
    FROM messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC
    LIMIT $2
) latest
ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.AccountID, &msg.ConversationID, &msg.ExternalID, &msg.Direction, &msg.Kind, &msg.Content, &msg.MediaURL, &msg.Transcription, &msg.Caption, &msg.FromAutomation, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// LastInboundMessage returns the most recent inbound message, or nil, nil
// when the conversation has none.
func (r *Postgres) LastInboundMessage(ctx context.Context, conversationID string) (*Message, error) {
	const q = `
SELECT id, account_id, conversation_id, external_id, direction, kind, content, media_url, transcription, caption, from_automation, created_at
FROM messages
WHERE conversation_id = $1 AND direction = 'in'
ORDER BY created_at DESC
LIMIT 1;`
	var msg Message
	err := r.pool.QueryRow(ctx, q, conversationID).Scan(&msg.ID, &msg.AccountID, &msg.ConversationID, &msg.ExternalID, &msg.Direction, &msg.Kind, &msg.Content, &msg.MediaURL, &msg.Transcription, &msg.Caption, &msg.FromAutomation, &msg.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last inbound message: %w", err)
	}
	return &msg, nil
}
