package engine

import (
	"context"
	"time"
)

// ProcessDue runs one claim→respond→dispatch cycle for a conversation's
// pending response. Multiple callers (post-debounce trigger, the sweeper, a
// redundant external invocation) may race here; the store-level claim
// guarantees at most one cycle per scheduled row. The claimed row is
// deleted at the end whatever the outcome, so no lock can stay stuck; a row
// refreshed mid-cycle by a new inbound message sheds the claim and is left
// for its own later cycle.
func (e *Engine) ProcessDue(ctx context.Context, conversationID string) error {
	pending, err := e.store.ClaimPending(ctx, conversationID)
	if err != nil {
		e.countClaim("error")
		return err
	}
	if pending == nil {
		// Someone else owns this cycle, or nothing is scheduled.
		e.countClaim("lost")
		return nil
	}
	e.countClaim("won")

	// A refresh may have pushed the fire time past us between scheduling
	// and claiming. Hand the row back untouched for the later cycle.
	if pending.FireAt.After(e.now()) {
		if err := e.store.ReleasePending(ctx, conversationID); err != nil {
			return err
		}
		return nil
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.store.DeletePending(cleanupCtx, conversationID); err != nil {
			e.logger.Error("failed deleting pending response", "conversation_id", conversationID, "error", err)
			e.countError("pending_cleanup")
		}
	}()

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	// Data-integrity failures discard the row without retry or crash.
	if conv == nil || conv.Archived || !conv.AgentEnabled {
		return nil
	}

	lastInbound, err := e.store.LastInboundMessage(ctx, conversationID)
	if err != nil {
		return err
	}
	if lastInbound == nil {
		return nil
	}

	outcome, err := e.Respond(ctx, conv)
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case OutcomeAIReply, OutcomeSystemReply:
		return e.Dispatch(ctx, conv, outcome)
	default:
		return nil
	}
}

func (e *Engine) countClaim(result string) {
	if e.metrics != nil {
		e.metrics.PendingClaims.WithLabelValues(result).Inc()
	}
}
