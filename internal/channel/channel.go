// Package channel defines the canonical inbound message model and the
// uniform send contract implemented by every messaging-provider adapter.
package channel

import (
	"context"
	"errors"
	"time"
)

// Message kinds shared across providers.
const (
	KindText     = "text"
	KindImage    = "image"
	KindAudio    = "audio"
	KindVideo    = "video"
	KindDocument = "document"
	KindSticker  = "sticker"
)

// Inbound is the canonical record every webhook payload normalizes into.
type Inbound struct {
	ExternalID    string
	Sender        string
	SenderName    string
	IsGroup       bool
	GroupID       string
	Timestamp     time.Time
	Kind          string
	Text          string
	MediaURL      string
	Transcription string
	Caption       string
}

// Snapshot returns the text used for the conversation's last-message preview
// and for model context when the message carries no plain text.
func (m *Inbound) Snapshot() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Transcription != "":
		return m.Transcription
	case m.Caption != "":
		return m.Caption
	default:
		return "[" + m.Kind + "]"
	}
}

// Endpoint carries the connection settings an adapter needs for one call.
type Endpoint struct {
	BaseURL    string
	Token      string
	InstanceID string
}

// SendResult reports a provider send attempt.
type SendResult struct {
	ProviderMessageID string
	RawResponse       []byte
}

// Profile is the result of best-effort contact enrichment.
type Profile struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Sender is the uniform per-provider send adapter.
type Sender interface {
	// Send delivers one message or media reference to the target address.
	Send(ctx context.Context, ep Endpoint, target, text, kind, mediaURL string) (*SendResult, error)
	// Presence emits a composing/paused typing signal where the provider
	// supports one; adapters without presence return nil.
	Presence(ctx context.Context, ep Endpoint, target string, composing bool) error
}

// ProfileFetcher is implemented by adapters that can enrich a contact.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, ep Endpoint, address string) (*Profile, error)
}

// ErrTerminal marks provider failures that must not be retried (4xx).
var ErrTerminal = errors.New("terminal provider error")

// IsTerminal reports whether err is a non-retryable provider failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
