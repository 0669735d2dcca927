package engine

import (
	"context"
	"fmt"
	"time"

	"zapflow/internal/channel"
	"zapflow/internal/repo"
)

const (
	typingMsPerChar = 15 * time.Millisecond
	typingMin       = time.Second
	typingMax       = 3 * time.Second
)

// Dispatch fragments the reply, paces delivery and sends each fragment
// through the connection's adapter. One fragment failing is logged to the
// activity audit and does not abort the rest; only successfully sent
// fragments are persisted. There is no cross-fragment transaction: a
// partially delivered reply is an accepted terminal state.
func (e *Engine) Dispatch(ctx context.Context, conv *repo.Conversation, outcome Outcome) error {
	// Automation may have been switched off between claim and dispatch;
	// re-check right before sending anything.
	fresh, err := e.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	if fresh == nil || fresh.Archived || !fresh.AgentEnabled {
		e.logger.Info("dispatch skipped, automation no longer active", "conversation_id", conv.ID)
		return nil
	}
	conv = fresh

	conn, err := e.store.GetConnection(ctx, conv.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	sender, ok := e.senders[conn.Provider]
	if !ok {
		return fmt.Errorf("no send adapter for provider %q", conn.Provider)
	}

	contact, err := e.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return nil
	}

	agent := &repo.AgentConfig{}
	if conv.AgentID != nil {
		if loaded, err := e.store.GetAgentConfig(ctx, *conv.AgentID); err == nil && loaded != nil {
			agent = loaded
		}
	}

	fragments := []string{outcome.Text}
	if agent.FragmentEnabled && agent.FragmentMaxLen > 0 {
		fragments = Fragment(outcome.Text, agent.FragmentMaxLen)
	}

	ep := endpointFor(conn)
	target := contact.Address
	delay := time.Duration(agent.FragmentDelayMS) * time.Millisecond

	for i, fragment := range fragments {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if agent.TypingSimulation && isGatewayProvider(conn.Provider) {
			e.simulateTyping(ctx, sender, ep, target, fragment)
		}

		result, err := sender.Send(ctx, ep, target, fragment, channel.KindText, "")
		if err != nil {
			e.logger.Error("fragment send failed", "conversation_id", conv.ID, "fragment", i, "error", err)
			e.recordSendFailure(ctx, conv, conn, err)
			if e.metrics != nil {
				e.metrics.OutboundFragments.WithLabelValues(conn.Provider, "error").Inc()
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.OutboundFragments.WithLabelValues(conn.Provider, "ok").Inc()
		}

		out := repo.Message{
			AccountID:      conv.AccountID,
			ConversationID: conv.ID,
			Kind:           channel.KindText,
			Content:        fragment,
			FromAutomation: true,
		}
		if result != nil && result.ProviderMessageID != "" {
			id := result.ProviderMessageID
			out.ExternalID = &id
		}
		if _, err := e.store.InsertOutboundMessage(ctx, out); err != nil {
			e.logger.Error("failed persisting outbound fragment", "conversation_id", conv.ID, "error", err)
			e.countError("dispatch")
			continue
		}
		if err := e.store.UpdateConversationOnMessage(ctx, conv.ID, fragment, repo.StatusAwaitingCustomer, 0); err != nil {
			e.logger.Warn("failed updating conversation after send", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

// simulateTyping emits a composing signal and waits proportionally to the
// fragment length, clamped between one and three seconds.
func (e *Engine) simulateTyping(ctx context.Context, sender channel.Sender, ep channel.Endpoint, target, fragment string) {
	if err := sender.Presence(ctx, ep, target, true); err != nil {
		e.logger.Debug("presence signal failed", "error", err)
		return
	}
	wait := time.Duration(len([]rune(fragment))) * typingMsPerChar
	if wait < typingMin {
		wait = typingMin
	}
	if wait > typingMax {
		wait = typingMax
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	if err := sender.Presence(ctx, ep, target, false); err != nil {
		e.logger.Debug("presence reset failed", "error", err)
	}
}

// isGatewayProvider reports whether the channel has a typing presence worth
// simulating (the WhatsApp-compatible gateways).
func isGatewayProvider(provider string) bool {
	return provider == repo.ProviderEvo || provider == repo.ProviderWA
}

func (e *Engine) recordSendFailure(ctx context.Context, conv *repo.Conversation, conn *repo.Connection, sendErr error) {
	event := repo.UsageEvent{
		AccountID:      conv.AccountID,
		ConversationID: &conv.ID,
		Kind:           repo.UsageKindSendFailure,
		Provider:       conn.Provider,
		Detail:         map[string]any{"error": sendErr.Error()},
	}
	if err := e.store.InsertUsageEvent(ctx, event); err != nil {
		e.logger.Warn("failed recording send failure", "conversation_id", conv.ID, "error", err)
	}
}
