package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const contactColumns = `id, account_id, address, name, email, avatar_url, tags, channel, is_group, created_at, updated_at`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.AccountID, &c.Address, &c.Name, &c.Email, &c.AvatarURL, &c.Tags, &c.Channel, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContact fetches a contact by id. Returns nil, nil when absent.
func (r *Postgres) GetContact(ctx context.Context, id string) (*Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1;`
	contact, err := scanContact(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return contact, nil
}

// GetContactByAddress looks up a contact by external address within an account.
// Returns nil, nil when no row matches.
func (r *Postgres) GetContactByAddress(ctx context.Context, accountID, address string) (*Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE account_id = $1 AND address = $2;`
	contact, err := scanContact(r.pool.QueryRow(ctx, q, accountID, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return contact, nil
}

// CreateContact inserts a contact. Concurrent creation for the same address
// reconciles to the single existing row via the unique constraint.
func (r *Postgres) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.Tags == nil {
		contact.Tags = []string{}
	}
	q := `
INSERT INTO contacts (id, account_id, address, name, avatar_url, tags, channel, is_group)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (account_id, address) DO NOTHING
RETURNING ` + contactColumns + `;`
	inserted, err := scanContact(r.pool.QueryRow(ctx, q,
		contact.ID,
		contact.AccountID,
		contact.Address,
		contact.Name,
		contact.AvatarURL,
		contact.Tags,
		contact.Channel,
		contact.IsGroup,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the insert race, refetch the winner.
			return r.GetContactByAddress(ctx, contact.AccountID, contact.Address)
		}
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return inserted, nil
}

// UpdateContactProfile applies enrichment results; nil fields keep existing values.
func (r *Postgres) UpdateContactProfile(ctx context.Context, id string, name, avatarURL *string) error {
	const q = `
UPDATE contacts
SET name = COALESCE($2, name),
    avatar_url = COALESCE($3, avatar_url),
    updated_at = NOW()
WHERE id = $1;`
	if _, err := r.pool.Exec(ctx, q, id, name, avatarURL); err != nil {
		return fmt.Errorf("update contact profile: %w", err)
	}
	return nil
}
