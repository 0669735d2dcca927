package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Contacts
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetContactByAddress(ctx context.Context, accountID, address string) (*Contact, error)
	CreateContact(ctx context.Context, contact Contact) (*Contact, error)
	UpdateContactProfile(ctx context.Context, id string, name, avatarURL *string) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetOpenConversation(ctx context.Context, accountID, contactID, connectionID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	UpdateConversationOnMessage(ctx context.Context, id, snapshot, status string, unreadDelta int) error

	// Messages
	IsProcessed(ctx context.Context, accountID, externalID string) (bool, error)
	InsertInboundMessage(ctx context.Context, msg Message) (*Message, error)
	InsertOutboundMessage(ctx context.Context, msg Message) (*Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	LastInboundMessage(ctx context.Context, conversationID string) (*Message, error)

	// Pending responses
	SchedulePending(ctx context.Context, conversationID string, fireAt time.Time) error
	ClaimPending(ctx context.Context, conversationID string) (*PendingResponse, error)
	ReleasePending(ctx context.Context, conversationID string) error
	DeletePending(ctx context.Context, conversationID string) error
	ListDuePending(ctx context.Context, now time.Time, limit int) ([]PendingResponse, error)

	// Agent configs
	GetAgentConfig(ctx context.Context, id string) (*AgentConfig, error)
	GetPrincipalAgent(ctx context.Context, accountID string) (*AgentConfig, error)

	// Connections
	GetConnection(ctx context.Context, id string) (*Connection, error)
	UpdateConnectionStatus(ctx context.Context, id, status string) error

	// Usage / activity audit
	InsertUsageEvent(ctx context.Context, event UsageEvent) error
}
