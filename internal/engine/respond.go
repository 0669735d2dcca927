package engine

import (
	"context"
	"fmt"

	"zapflow/internal/llm"
	"zapflow/internal/repo"
)

// Outcome kinds.
const (
	OutcomeAIReply     = "ai-reply"
	OutcomeSystemReply = "system-reply"
	OutcomeNoAgent     = "no-agent"
	OutcomeSilent      = "silent"
)

// Outcome is the result of one orchestration cycle.
type Outcome struct {
	Kind     string
	Text     string
	Actions  []Action
	Usage    llm.Usage
	Provider string
}

// Respond builds the conversation context, renders the agent prompt and
// calls the inference fallback chain. It reads and records only; the single
// side effect is the usage audit event.
func (e *Engine) Respond(ctx context.Context, conv *repo.Conversation) (Outcome, error) {
	if conv.AgentID == nil {
		return Outcome{Kind: OutcomeNoAgent}, nil
	}
	agent, err := e.store.GetAgentConfig(ctx, *conv.AgentID)
	if err != nil {
		return Outcome{}, err
	}
	if agent == nil {
		return Outcome{Kind: OutcomeNoAgent}, nil
	}

	contact, err := e.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return Outcome{}, err
	}
	if contact == nil {
		return Outcome{Kind: OutcomeSilent}, nil
	}

	if !WithinHours(agent, e.now()) {
		if agent.OutOfHoursMessage != nil && *agent.OutOfHoursMessage != "" {
			return Outcome{Kind: OutcomeSystemReply, Text: *agent.OutOfHoursMessage}, nil
		}
		return Outcome{Kind: OutcomeSilent}, nil
	}

	systemPrompt := RenderPrompt(agent.Prompt)
	systemPrompt = SubstitutePlaceholders(systemPrompt, contact)
	systemPrompt = AppendFAQ(systemPrompt, agent.FAQs)
	actions := ExtractActions(systemPrompt)

	history, err := e.store.ListRecentMessages(ctx, conv.ID, agent.ContextWindow)
	if err != nil {
		return Outcome{}, err
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, msg := range history {
		role := "user"
		if msg.Direction == repo.DirectionOut {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: contextText(msg)})
	}

	model := agent.Model
	if model == "" {
		model = e.cfg.AIDefaultModel
	}

	resp, provider, err := e.providersFor(agent).Chat(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	})
	if err != nil {
		return Outcome{}, err
	}
	if resp == nil {
		return Outcome{Kind: OutcomeSilent}, nil
	}

	cost := llm.Cost(model, resp.Usage)
	e.recordUsage(ctx, conv, provider, model, resp.Usage, cost)

	return Outcome{
		Kind:     OutcomeAIReply,
		Text:     resp.Content,
		Actions:  actions,
		Usage:    resp.Usage,
		Provider: provider,
	}, nil
}

// providersFor builds the ordered fallback chain for one agent: the
// multi-tenant gateway first, then the account's direct key if configured.
func (e *Engine) providersFor(agent *repo.AgentConfig) *llm.Fallback {
	providers := []llm.Provider{
		llm.NewOpenAIClient("gateway", e.cfg.AIGatewayAPIKey, e.cfg.AIGatewayBaseURL, e.cfg.AITimeout),
	}
	if agent.APIKey != nil && *agent.APIKey != "" {
		providers = append(providers, llm.NewOpenAIClient("account", *agent.APIKey, "", e.cfg.AITimeout))
	}
	return llm.NewFallback(e.logger, e.metrics, providers...)
}

func (e *Engine) recordUsage(ctx context.Context, conv *repo.Conversation, provider, model string, usage llm.Usage, cost float64) {
	event := repo.UsageEvent{
		AccountID:      conv.AccountID,
		ConversationID: &conv.ID,
		Kind:           repo.UsageKindAI,
		Provider:       provider,
		Model:          model,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CostUSD:        cost,
	}
	if err := e.store.InsertUsageEvent(ctx, event); err != nil {
		e.logger.Warn("failed recording usage event", "conversation_id", conv.ID, "error", err)
		e.countError("usage_audit")
	}
}

// contextText substitutes transcription or caption text for non-text
// messages so the model sees something meaningful.
func contextText(msg repo.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.Transcription != nil && *msg.Transcription != "" {
		return *msg.Transcription
	}
	if msg.Caption != nil && *msg.Caption != "" {
		return *msg.Caption
	}
	return fmt.Sprintf("[%s]", msg.Kind)
}
