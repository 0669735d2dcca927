// Package evo adapts the Evolution-style WhatsApp HTTP gateway: webhook
// normalization plus the media/text send endpoints and typing presence.
package evo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zapflow/internal/channel"
	"zapflow/internal/metrics"
)

// Client sends messages through a gateway instance.
type Client struct {
	http *channel.HTTPClient
}

var (
	_ channel.Sender         = (*Client)(nil)
	_ channel.ProfileFetcher = (*Client)(nil)
)

// New creates a gateway client.
func New(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{http: channel.NewHTTPClient("evo", timeout, logger, m)}
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// Send routes by message kind to the gateway's text or media endpoints,
// addressing either an individual or a group JID.
func (c *Client) Send(ctx context.Context, ep channel.Endpoint, target, text, kind, mediaURL string) (*channel.SendResult, error) {
	var (
		endpoint string
		payload  map[string]any
	)
	switch kind {
	case channel.KindAudio:
		endpoint = "/message/sendWhatsAppAudio/" + ep.InstanceID
		payload = map[string]any{"number": target, "audio": mediaURL}
	case channel.KindImage, channel.KindVideo, channel.KindDocument, channel.KindSticker:
		endpoint = "/message/sendMedia/" + ep.InstanceID
		payload = map[string]any{
			"number":    target,
			"mediatype": kind,
			"media":     mediaURL,
			"caption":   text,
		}
	default:
		endpoint = "/message/sendText/" + ep.InstanceID
		payload = map[string]any{"number": target, "text": text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	raw, err := c.http.PostJSON(ctx, ep.BaseURL+endpoint, endpoint, body, c.headers(ep))
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	_ = json.Unmarshal(raw, &resp)
	return &channel.SendResult{ProviderMessageID: resp.Key.ID, RawResponse: raw}, nil
}

// Presence emits a composing/paused chat presence signal.
func (c *Client) Presence(ctx context.Context, ep channel.Endpoint, target string, composing bool) error {
	state := "composing"
	if !composing {
		state = "paused"
	}
	payload, err := json.Marshal(map[string]any{
		"number":   target,
		"presence": state,
	})
	if err != nil {
		return fmt.Errorf("marshal presence payload: %w", err)
	}
	endpoint := "/chat/sendPresence/" + ep.InstanceID
	_, err = c.http.PostJSON(ctx, ep.BaseURL+endpoint, endpoint, payload, c.headers(ep))
	return err
}

type profileResponse struct {
	Name       string `json:"name"`
	PictureURL string `json:"picture"`
}

// FetchProfile retrieves the contact's display name and avatar, used for
// best-effort enrichment on first contact.
func (c *Client) FetchProfile(ctx context.Context, ep channel.Endpoint, address string) (*channel.Profile, error) {
	payload, err := json.Marshal(map[string]any{"number": address})
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}
	endpoint := "/chat/fetchProfile/" + ep.InstanceID
	raw, err := c.http.PostJSON(ctx, ep.BaseURL+endpoint, endpoint, payload, c.headers(ep))
	if err != nil {
		return nil, err
	}
	var resp profileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &channel.Profile{Name: resp.Name, AvatarURL: resp.PictureURL}, nil
}

func (c *Client) headers(ep channel.Endpoint) map[string]string {
	return map[string]string{"apikey": ep.Token}
}
