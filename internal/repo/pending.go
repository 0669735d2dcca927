package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SchedulePending upserts the debounce timer row for a conversation. A new
// inbound message pushes the fire time forward and always resets the claim,
// so a burst of messages coalesces into one reply cycle.
func (r *Postgres) SchedulePending(ctx context.Context, conversationID string, fireAt time.Time) error {
	const q = `
INSERT INTO pending_responses (conversation_id, fire_at, claimed)
VALUES ($1, $2, FALSE)
ON CONFLICT (conversation_id) DO UPDATE SET
    fire_at = EXCLUDED.fire_at,
    claimed = FALSE,
    updated_at = NOW();`
	if _, err := r.pool.Exec(ctx, q, conversationID, fireAt); err != nil {
		return fmt.Errorf("schedule pending response: %w", err)
	}
	return nil
}

// ClaimPending performs the atomic claim. Exactly one of any number of
// concurrent callers gets the row back; the rest get nil, nil.
func (r *Postgres) ClaimPending(ctx context.Context, conversationID string) (*PendingResponse, error) {
	const q = `
UPDATE pending_responses
SET claimed = TRUE, updated_at = NOW()
WHERE conversation_id = $1 AND NOT claimed
RETURNING conversation_id, fire_at, claimed, updated_at;`
	var pr PendingResponse
	err := r.pool.QueryRow(ctx, q, conversationID).Scan(&pr.ConversationID, &pr.FireAt, &pr.Claimed, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim pending response: %w", err)
	}
	return &pr, nil
}

// ReleasePending reverts a claim without deleting the row. Used when the
// fire time turned out to still be in the future after claiming.
func (r *Postgres) ReleasePending(ctx context.Context, conversationID string) error {
	const q = `UPDATE pending_responses SET claimed = FALSE, updated_at = NOW() WHERE conversation_id = $1;`
	if _, err := r.pool.Exec(ctx, q, conversationID); err != nil {
		return fmt.Errorf("release pending response: %w", err)
	}
	return nil
}

// DeletePending removes the timer row, but only while this cycle still owns
// it. A refresh arriving mid-cycle resets the claim, and that row must
// survive the in-flight cleanup so its own cycle can fire.
func (r *Postgres) DeletePending(ctx context.Context, conversationID string) error {
	const q = `DELETE FROM pending_responses WHERE conversation_id = $1 AND claimed;`
	if _, err := r.pool.Exec(ctx, q, conversationID); err != nil {
		return fmt.Errorf("delete pending response: %w", err)
	}
	return nil
}

// ListDuePending returns unclaimed rows whose fire time has passed.
func (r *Postgres) ListDuePending(ctx context.Context, now time.Time, limit int) ([]PendingResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT conversation_id, fire_at, claimed, updated_at
FROM pending_responses
WHERE fire_at <= $1 AND NOT claimed
ORDER BY fire_at ASC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due pending responses: %w", err)
	}
	defer rows.Close()

	var due []PendingResponse
	for rows.Next() {
		var pr PendingResponse
		if err := rows.Scan(&pr.ConversationID, &pr.FireAt, &pr.Claimed, &pr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending response: %w", err)
		}
		due = append(due, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending responses: %w", err)
	}
	return due, nil
}
