package repo

import (
	"encoding/json"
	"time"
)

// Message direction values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Conversation lifecycle statuses.
const (
	StatusActive           = "active"
	StatusAwaitingCustomer = "awaiting-customer"
	StatusClosed           = "closed"
)

// Connection provider kinds.
const (
	ProviderEvo  = "evo"
	ProviderMeta = "meta"
	ProviderDM   = "dm"
	ProviderWA   = "wa"
)

// Contact is an identity within an account, keyed by external address.
type Contact struct {
	ID        string
	AccountID string
	Address   string
	Name      *string
	Email     *string
	AvatarURL *string
	Tags      []string
	Channel   string
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is one open thread between a contact and an account,
// bound to exactly one inbound connection.
type Conversation struct {
	ID           string
	AccountID    string
	ContactID    string
	ConnectionID string
	AgentID      *string
	AgentEnabled bool
	Unread       int
	LastMessage  *string
	Status       string
	Archived     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is an immutable append-only conversation record.
type Message struct {
	ID             string
	AccountID      string
	ConversationID string
	ExternalID     *string
	Direction      string
	Kind           string
	Content        string
	MediaURL       *string
	Transcription  *string
	Caption        *string
	FromAutomation bool
	CreatedAt      time.Time
}

// PendingResponse is the per-conversation debounce timer row.
type PendingResponse struct {
	ConversationID string
	FireAt         time.Time
	Claimed        bool
	UpdatedAt      time.Time
}

// FAQ is one question/answer pair appended to the rendered prompt.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AgentConfig is the per-account automated-reply configuration.
type AgentConfig struct {
	ID        string
	AccountID string
	Name      string
	Principal bool

	// Prompt is a structured rich-text document rendered to plain text
	// before each inference call.
	Prompt      json.RawMessage
	Model       string
	Temperature float64
	MaxTokens   int
	APIKey      *string

	Always24h         bool
	Weekdays          []int
	StartTime         string
	EndTime           string
	Timezone          string
	OutOfHoursMessage *string

	DebounceSeconds  int
	FragmentEnabled  bool
	FragmentMaxLen   int
	FragmentDelayMS  int
	TypingSimulation bool
	ContextWindow    int

	FAQs []FAQ

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Connection is a configured channel endpoint.
type Connection struct {
	ID          string
	AccountID   string
	Provider    string
	BaseURL     string
	Token       string
	InstanceID  string
	VerifyToken string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsageEvent is an audit/activity record: AI token usage, send failures
// and other operational events surfaced to the administrative log.
type UsageEvent struct {
	ID             string
	AccountID      string
	ConversationID *string
	Kind           string
	Provider       string
	Model          string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	Detail         map[string]any
	CreatedAt      time.Time
}

// Usage event kinds.
const (
	UsageKindAI          = "ai_usage"
	UsageKindSendFailure = "send_failure"
	UsageKindActivity    = "activity"
)
