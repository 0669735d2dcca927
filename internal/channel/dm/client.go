// Package dm adapts the direct-messaging API: webhook normalization and the
// message send payloads (text body, or media referenced by reusable URL).
package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zapflow/internal/channel"
	"zapflow/internal/metrics"
)

// Client sends messages through the direct-messaging API for one page/app id.
type Client struct {
	http *channel.HTTPClient
}

var _ channel.Sender = (*Client)(nil)

// New creates a direct-messaging client.
func New(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{http: channel.NewHTTPClient("dm", timeout, logger, m)}
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send delivers a message. Media is referenced by URL with the reusable
// attachment flag; text is a plain message body.
func (c *Client) Send(ctx context.Context, ep channel.Endpoint, target, text, kind, mediaURL string) (*channel.SendResult, error) {
	message := map[string]any{}
	switch kind {
	case channel.KindText, "":
		message["text"] = text
	default:
		message["attachment"] = map[string]any{
			"type": attachmentType(kind),
			"payload": map[string]any{
				"url":         mediaURL,
				"is_reusable": true,
			},
		}
	}

	payload, err := json.Marshal(map[string]any{
		"recipient": map[string]any{"id": target},
		"message":   message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	endpoint := "/messages"
	url := fmt.Sprintf("%s/%s/messages?access_token=%s", ep.BaseURL, ep.InstanceID, ep.Token)
	raw, err := c.http.PostJSON(ctx, url, endpoint, payload, nil)
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	_ = json.Unmarshal(raw, &resp)
	return &channel.SendResult{ProviderMessageID: resp.MessageID, RawResponse: raw}, nil
}

// Presence is a no-op: the direct-messaging API has no typing signal worth
// pacing against.
func (c *Client) Presence(ctx context.Context, ep channel.Endpoint, target string, composing bool) error {
	return nil
}

func attachmentType(kind string) string {
	switch kind {
	case channel.KindImage, channel.KindSticker:
		return "image"
	case channel.KindAudio:
		return "audio"
	case channel.KindVideo:
		return "video"
	default:
		return "file"
	}
}
