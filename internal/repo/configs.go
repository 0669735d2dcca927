package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agentConfigColumns = `id, account_id, name, principal, prompt, model, temperature, max_tokens, api_key,
always_24h, weekdays, start_time, end_time, timezone, out_of_hours_msg,
debounce_seconds, fragment_enabled, fragment_max_len, fragment_delay_ms, typing_simulation, context_window,
faqs, created_at, updated_at`

func scanAgentConfig(row pgx.Row) (*AgentConfig, error) {
	var (
		cfg      AgentConfig
		faqsJSON []byte
	)
	err := row.Scan(&cfg.ID, &cfg.AccountID, &cfg.Name, &cfg.Principal, &cfg.Prompt, &cfg.Model, &cfg.Temperature, &cfg.MaxTokens, &cfg.APIKey,
		&cfg.Always24h, &cfg.Weekdays, &cfg.StartTime, &cfg.EndTime, &cfg.Timezone, &cfg.OutOfHoursMessage,
		&cfg.DebounceSeconds, &cfg.FragmentEnabled, &cfg.FragmentMaxLen, &cfg.FragmentDelayMS, &cfg.TypingSimulation, &cfg.ContextWindow,
		&faqsJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(faqsJSON) > 0 {
		_ = json.Unmarshal(faqsJSON, &cfg.FAQs)
	}
	return &cfg, nil
}

// GetAgentConfig fetches an agent configuration by id. Returns nil, nil when absent.
func (r *Postgres) GetAgentConfig(ctx context.Context, id string) (*AgentConfig, error) {
	q := `SELECT ` + agentConfigColumns + ` FROM agent_configs WHERE id = $1;`
	cfg, err := scanAgentConfig(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent config: %w", err)
	}
	return cfg, nil
}

// GetPrincipalAgent fetches the account's designated principal agent, bound
// to new conversations by default. Returns nil, nil when none is set.
func (r *Postgres) GetPrincipalAgent(ctx context.Context, accountID string) (*AgentConfig, error) {
	q := `SELECT ` + agentConfigColumns + ` FROM agent_configs WHERE account_id = $1 AND principal;`
	cfg, err := scanAgentConfig(r.pool.QueryRow(ctx, q, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get principal agent: %w", err)
	}
	return cfg, nil
}

// GetConnection fetches a channel connection by id. Returns nil, nil when absent.
func (r *Postgres) GetConnection(ctx context.Context, id string) (*Connection, error) {
	const q = `
SELECT id, account_id, provider, base_url, token, instance_id, verify_token, status, created_at, updated_at
FROM connections WHERE id = $1;`
	var c Connection
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.AccountID, &c.Provider, &c.BaseURL, &c.Token, &c.InstanceID, &c.VerifyToken, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &c, nil
}

// UpdateConnectionStatus records liveness transitions reported by the provider.
func (r *Postgres) UpdateConnectionStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE connections SET status = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", id)
	}
	return nil
}

// InsertUsageEvent appends an audit/activity record.
func (r *Postgres) InsertUsageEvent(ctx context.Context, event UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	detail, err := toJSON(event.Detail)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO usage_events (id, account_id, conversation_id, kind, provider, model, input_tokens, output_tokens, cost_usd, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err = r.pool.Exec(ctx, q,
		event.ID,
		event.AccountID,
		event.ConversationID,
		event.Kind,
		event.Provider,
		event.Model,
		event.InputTokens,
		event.OutputTokens,
		event.CostUSD,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}
