package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, account_id, contact_id, connection_id, agent_id, agent_enabled, unread, last_message, status, archived, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.AccountID, &c.ContactID, &c.ConnectionID, &c.AgentID, &c.AgentEnabled, &c.Unread, &c.LastMessage, &c.Status, &c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by id. Returns nil, nil when absent.
func (r *Postgres) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1;`
	conv, err := scanConversation(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetOpenConversation fetches the non-archived conversation for the triple.
// Returns nil, nil when absent.
func (r *Postgres) GetOpenConversation(ctx context.Context, accountID, contactID, connectionID string) (*Conversation, error) {
	q := `
SELECT ` + conversationColumns + `
FROM conversations
WHERE account_id = $1 AND contact_id = $2 AND connection_id = $3 AND NOT archived;`
	conv, err := scanConversation(r.pool.QueryRow(ctx, q, accountID, contactID, connectionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation inserts a conversation. A concurrent creation for the
// same (account, contact, connection) reconciles to the existing open row.
func (r *Postgres) CreateConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = StatusActive
	}
	q := `
INSERT INTO conversations (id, account_id, contact_id, connection_id, agent_id, agent_enabled, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (account_id, contact_id, connection_id) WHERE NOT archived DO NOTHING
RETURNING ` + conversationColumns + `;`
	inserted, err := scanConversation(r.pool.QueryRow(ctx, q,
		conv.ID,
		conv.AccountID,
		conv.ContactID,
		conv.ConnectionID,
		conv.AgentID,
		conv.AgentEnabled,
		conv.Status,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetOpenConversation(ctx, conv.AccountID, conv.ContactID, conv.ConnectionID)
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return inserted, nil
}

// UpdateConversationOnMessage refreshes the last-message snapshot, status and
// unread counter. A closed conversation keeps its status.
func (r *Postgres) UpdateConversationOnMessage(ctx context.Context, id, snapshot, status string, unreadDelta int) error {
	const q = `
UPDATE conversations
SET last_message = $2,
    status = CASE WHEN status = 'closed' THEN status ELSE $3 END,
    unread = GREATEST(unread + $4, 0),
    updated_at = NOW()
WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, snapshot, status, unreadDelta)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}
