// Package meta adapts the Business Graph API: webhook normalization,
// media upload with MIME re-mapping and the message send envelopes.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"zapflow/internal/channel"
	"zapflow/internal/metrics"
)

// Client sends messages through the Graph API on behalf of one phone-number id.
type Client struct {
	http *channel.HTTPClient
}

var _ channel.Sender = (*Client)(nil)

// New creates a Graph API client.
func New(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{http: channel.NewHTTPClient("meta", timeout, logger, m)}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers a message. Media kinds are uploaded first and referenced by
// the returned media handle; text uses the simple text-body envelope.
func (c *Client) Send(ctx context.Context, ep channel.Endpoint, target, text, kind, mediaURL string) (*channel.SendResult, error) {
	envelope := map[string]any{
		"messaging_product": "whatsapp",
		"to":                target,
	}

	switch kind {
	case channel.KindText, "":
		envelope["type"] = "text"
		envelope["text"] = map[string]any{"body": text}
	default:
		mediaID, err := c.uploadMedia(ctx, ep, kind, mediaURL)
		if err != nil {
			return nil, err
		}
		body := map[string]any{"id": mediaID}
		if text != "" && kind != channel.KindAudio && kind != channel.KindSticker {
			body["caption"] = text
		}
		envelope["type"] = kind
		envelope[kind] = body
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	endpoint := "/messages"
	url := fmt.Sprintf("%s/%s/messages", ep.BaseURL, ep.InstanceID)
	raw, err := c.http.PostJSON(ctx, url, endpoint, payload, c.headers(ep))
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	_ = json.Unmarshal(raw, &resp)
	result := &channel.SendResult{RawResponse: raw}
	if len(resp.Messages) > 0 {
		result.ProviderMessageID = resp.Messages[0].ID
	}
	return result, nil
}

// Presence is a no-op: the Graph API exposes no typing indicator.
func (c *Client) Presence(ctx context.Context, ep channel.Endpoint, target string, composing bool) error {
	return nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

// uploadMedia downloads the media reference, re-maps unsupported MIME types
// to supported ones and uploads it, returning the media handle.
func (c *Client) uploadMedia(ctx context.Context, ep channel.Endpoint, kind, mediaURL string) (string, error) {
	data, mimeType, err := c.fetchMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	mimeType = remapMIME(kind, mimeType)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("write upload field: %w", err)
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("write upload field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName(kind, mimeType, mediaURL))
	if err != nil {
		return "", fmt.Errorf("create upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write upload part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close upload writer: %w", err)
	}

	endpoint := "/media"
	url := fmt.Sprintf("%s/%s/media", ep.BaseURL, ep.InstanceID)
	body := buf.Bytes()
	contentType := writer.FormDataContentType()

	raw, err := c.http.Do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+ep.Token)
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp uploadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("media upload returned no id")
	}
	return resp.ID, nil
}

func (c *Client) fetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	res, err := c.http.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, "", fmt.Errorf("download media: status=%d", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	mimeType := res.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// remapMIME substitutes MIME types the Graph API rejects with supported
// equivalents: audio always goes out as Ogg/Opus, images other than
// JPEG/PNG become JPEG.
func remapMIME(kind, mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch kind {
	case channel.KindAudio:
		return "audio/ogg; codecs=opus"
	case channel.KindImage:
		switch base {
		case "image/jpeg", "image/png":
			return base
		default:
			return "image/jpeg"
		}
	}
	if base == "" {
		return "application/octet-stream"
	}
	return base
}

func fileName(kind, mimeType, mediaURL string) string {
	if name := path.Base(mediaURL); name != "" && name != "." && name != "/" && strings.Contains(name, ".") {
		return name
	}
	ext := map[string]string{
		channel.KindImage:    ".jpg",
		channel.KindAudio:    ".ogg",
		channel.KindVideo:    ".mp4",
		channel.KindDocument: ".pdf",
		channel.KindSticker:  ".webp",
	}[kind]
	if ext == "" {
		ext = ".bin"
	}
	return "media" + ext
}

func (c *Client) headers(ep channel.Endpoint) map[string]string {
	return map[string]string{"Authorization": "Bearer " + ep.Token}
}
