// Package engine drives the inbound-to-outbound pipeline: dedup,
// conversation resolution, debounced reply scheduling, AI orchestration
// and fragmented outbound dispatch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zapflow/internal/cache"
	"zapflow/internal/channel"
	"zapflow/internal/metrics"
	"zapflow/internal/repo"
)

const (
	dedupTTL   = 48 * time.Hour
	profileTTL = 24 * time.Hour
	// debounceSlack keeps the in-process timer from firing a hair before
	// the stored fire time and releasing its own claim.
	debounceSlack = 500 * time.Millisecond
)

// Config holds engine-level settings.
type Config struct {
	// Gateway inference provider, tried before any per-account key.
	AIGatewayBaseURL string
	AIGatewayAPIKey  string
	AIDefaultModel   string
	AITimeout        time.Duration
}

// Engine coordinates the pipeline. All cross-invocation coordination goes
// through the store; the engine itself holds no mutable shared state.
type Engine struct {
	store   repo.Store
	cache   *cache.Redis
	senders map[string]channel.Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	now func() time.Time
}

// New builds an engine. senders maps connection provider kinds to their
// adapters; cache may be nil (dedup then relies on the database alone).
func New(store repo.Store, cacheClient *cache.Redis, senders map[string]channel.Sender, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		store:   store,
		cache:   cacheClient,
		senders: senders,
		logger:  logger.With("component", "engine"),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ProcessInbound resolves the connection and runs ingestion. Used by
// channels that know only their connection id (the native socket).
func (e *Engine) ProcessInbound(ctx context.Context, connectionID string, inbound channel.Inbound) {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		e.logger.Error("failed loading connection", "connection_id", connectionID, "error", err)
		e.countError("ingest")
		return
	}
	if conn == nil {
		e.logger.Warn("inbound for unknown connection", "connection_id", connectionID)
		return
	}
	if err := e.Ingest(ctx, conn, inbound); err != nil {
		e.logger.Error("failed ingesting message", "connection_id", connectionID, "error", err)
		e.countError("ingest")
	}
}

// Ingest runs the inbound path for one normalized message: dedup, contact
// and conversation resolution, persistence, and reply scheduling.
func (e *Engine) Ingest(ctx context.Context, conn *repo.Connection, inbound channel.Inbound) error {
	if inbound.Sender == "" {
		return nil
	}

	dup, marked, err := e.isDuplicate(ctx, conn.AccountID, inbound.ExternalID)
	// The fast-path mark is optimistic. Until the message commits alongside
	// the database registry, any failure must lift it again or a provider
	// redelivery of a never-persisted message would be dropped.
	rollback := func() {
		if marked {
			e.unmarkDedup(ctx, conn.AccountID, inbound.ExternalID)
		}
	}
	if err != nil {
		rollback()
		return err
	}
	if dup {
		e.logger.Debug("duplicate message dropped", "external_id", inbound.ExternalID)
		return nil
	}

	_, conv, err := e.resolve(ctx, conn, inbound)
	if err != nil {
		rollback()
		return err
	}

	var externalID *string
	if inbound.ExternalID != "" {
		externalID = &inbound.ExternalID
	}
	msg := repo.Message{
		AccountID:      conn.AccountID,
		ConversationID: conv.ID,
		ExternalID:     externalID,
		Kind:           inbound.Kind,
		Content:        inbound.Text,
	}
	if inbound.MediaURL != "" {
		msg.MediaURL = &inbound.MediaURL
	}
	if inbound.Transcription != "" {
		msg.Transcription = &inbound.Transcription
	}
	if inbound.Caption != "" {
		msg.Caption = &inbound.Caption
	}
	if _, err := e.store.InsertInboundMessage(ctx, msg); err != nil {
		rollback()
		return err
	}

	if err := e.store.UpdateConversationOnMessage(ctx, conv.ID, inbound.Snapshot(), repo.StatusActive, 1); err != nil {
		e.logger.Warn("failed updating conversation snapshot", "conversation_id", conv.ID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.InboundMessages.WithLabelValues(conn.Provider, inbound.Kind).Inc()
	}

	if !conv.AgentEnabled || conv.AgentID == nil {
		return nil
	}
	return e.scheduleReply(ctx, conv)
}

// RecordConnectionStatus persists a liveness transition reported by a
// provider and mirrors it into the activity audit.
func (e *Engine) RecordConnectionStatus(ctx context.Context, conn *repo.Connection, status string) error {
	if err := e.store.UpdateConnectionStatus(ctx, conn.ID, status); err != nil {
		return err
	}
	event := repo.UsageEvent{
		AccountID: conn.AccountID,
		Kind:      repo.UsageKindActivity,
		Provider:  conn.Provider,
		Detail:    map[string]any{"connection_id": conn.ID, "status": status},
	}
	if err := e.store.InsertUsageEvent(ctx, event); err != nil {
		e.logger.Warn("failed recording connection activity", "connection_id", conn.ID, "error", err)
	}
	return nil
}

// isDuplicate consults the redis fast path and then the database registry.
// Messages without an external id are never deduplicated. marked reports
// whether this call freshly set the redis key, so the caller can lift it
// again if persistence fails.
func (e *Engine) isDuplicate(ctx context.Context, accountID, externalID string) (dup bool, marked bool, err error) {
	if externalID == "" {
		return false, false, nil
	}
	if e.cache != nil {
		fresh, err := e.cache.SetNX(ctx, dedupKey(accountID, externalID), dedupTTL)
		if err != nil {
			// Redis outage degrades to database-only dedup.
			e.logger.Warn("dedup fast path unavailable", "error", err)
		} else if !fresh {
			return true, false, nil
		} else {
			marked = true
		}
	}
	processed, err := e.store.IsProcessed(ctx, accountID, externalID)
	if err != nil {
		return false, marked, err
	}
	return processed, marked, nil
}

func (e *Engine) unmarkDedup(ctx context.Context, accountID, externalID string) {
	if e.cache == nil || externalID == "" {
		return
	}
	if err := e.cache.Del(ctx, dedupKey(accountID, externalID)); err != nil {
		e.logger.Warn("failed lifting dedup mark", "external_id", externalID, "error", err)
	}
}

func dedupKey(accountID, externalID string) string {
	return fmt.Sprintf("dedup:%s:%s", accountID, externalID)
}

// resolve finds or creates the contact and the open conversation for the
// sender. Safe under concurrent invocation for the same address: the store
// reconciles insert races to the single existing row.
func (e *Engine) resolve(ctx context.Context, conn *repo.Connection, inbound channel.Inbound) (*repo.Contact, *repo.Conversation, error) {
	address := inbound.Sender
	if inbound.IsGroup {
		address = inbound.GroupID
	}

	contact, err := e.store.GetContactByAddress(ctx, conn.AccountID, address)
	if err != nil {
		return nil, nil, err
	}
	if contact == nil {
		newContact := repo.Contact{
			AccountID: conn.AccountID,
			Address:   address,
			Channel:   conn.Provider,
			IsGroup:   inbound.IsGroup,
		}
		if inbound.SenderName != "" && !inbound.IsGroup {
			name := inbound.SenderName
			newContact.Name = &name
		}
		contact, err = e.store.CreateContact(ctx, newContact)
		if err != nil {
			return nil, nil, err
		}
		// Profile photo and missing-name enrichment is best effort;
		// failures leave the fields null.
		e.enrichContact(ctx, conn, contact)
	}

	conv, err := e.store.GetOpenConversation(ctx, conn.AccountID, contact.ID, conn.ID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		newConv := repo.Conversation{
			AccountID:    conn.AccountID,
			ContactID:    contact.ID,
			ConnectionID: conn.ID,
		}
		// Groups default to automation disabled.
		if !inbound.IsGroup {
			agent, err := e.store.GetPrincipalAgent(ctx, conn.AccountID)
			if err != nil {
				e.logger.Warn("failed loading principal agent", "account_id", conn.AccountID, "error", err)
			} else if agent != nil {
				newConv.AgentID = &agent.ID
				newConv.AgentEnabled = true
			}
		}
		conv, err = e.store.CreateConversation(ctx, newConv)
		if err != nil {
			return nil, nil, err
		}
	}
	return contact, conv, nil
}

func (e *Engine) enrichContact(ctx context.Context, conn *repo.Connection, contact *repo.Contact) {
	sender := e.senders[conn.Provider]
	fetcher, ok := sender.(channel.ProfileFetcher)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("profile:%s:%s", conn.AccountID, contact.Address)
	var profile channel.Profile
	if e.cache != nil {
		if hit, err := e.cache.GetJSON(ctx, cacheKey, &profile); err == nil && hit {
			e.applyProfile(ctx, contact, &profile)
			return
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	fetched, err := fetcher.FetchProfile(fetchCtx, endpointFor(conn), contact.Address)
	if err != nil {
		e.logger.Debug("profile enrichment failed", "address", contact.Address, "error", err)
		return
	}
	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, cacheKey, fetched, profileTTL); err != nil {
			e.logger.Debug("profile cache write failed", "error", err)
		}
	}
	e.applyProfile(ctx, contact, fetched)
}

func (e *Engine) applyProfile(ctx context.Context, contact *repo.Contact, profile *channel.Profile) {
	var name, avatar *string
	if profile.Name != "" && contact.Name == nil {
		name = &profile.Name
	}
	if profile.AvatarURL != "" {
		avatar = &profile.AvatarURL
	}
	if name == nil && avatar == nil {
		return
	}
	if err := e.store.UpdateContactProfile(ctx, contact.ID, name, avatar); err != nil {
		e.logger.Debug("failed applying profile", "contact_id", contact.ID, "error", err)
		return
	}
	if name != nil {
		contact.Name = name
	}
	if avatar != nil {
		contact.AvatarURL = avatar
	}
}

// scheduleReply upserts the debounce timer and arms an in-process trigger.
// The periodic sweeper covers the case where this process dies first.
func (e *Engine) scheduleReply(ctx context.Context, conv *repo.Conversation) error {
	agent, err := e.store.GetAgentConfig(ctx, *conv.AgentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return nil
	}

	debounce := time.Duration(agent.DebounceSeconds) * time.Second
	fireAt := e.now().Add(debounce)
	if err := e.store.SchedulePending(ctx, conv.ID, fireAt); err != nil {
		return err
	}

	conversationID := conv.ID
	go func() {
		timer := time.NewTimer(debounce + debounceSlack)
		defer timer.Stop()
		<-timer.C
		// Detached context: the webhook request that armed the timer has
		// long been acknowledged.
		procCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := e.ProcessDue(procCtx, conversationID); err != nil {
			e.logger.Error("post-debounce processing failed", "conversation_id", conversationID, "error", err)
			e.countError("process_due")
		}
	}()
	return nil
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func endpointFor(conn *repo.Connection) channel.Endpoint {
	return channel.Endpoint{
		BaseURL:    conn.BaseURL,
		Token:      conn.Token,
		InstanceID: conn.InstanceID,
	}
}
