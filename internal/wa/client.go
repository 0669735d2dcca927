// Package wa is the native WhatsApp channel: a whatsmeow-backed connection
// whose inbound events feed the same pipeline as the HTTP gateways and whose
// sends go over the socket instead of a provider REST API.
package wa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"zapflow/internal/channel"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	// ConnectionID is the connections row this socket is bound to.
	ConnectionID string
}

// InboundProcessor receives normalized messages from the socket.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, connectionID string, inbound channel.Inbound)
}

// StatusSink receives connection liveness transitions.
type StatusSink interface {
	UpdateConnectionStatus(ctx context.Context, id, status string) error
}

// Client wraps the WhatsMeow client and associated dependencies.
type Client struct {
	client       *whatsmeow.Client
	logger       *slog.Logger
	connectionID string
	processor    InboundProcessor
	status       StatusSink
	httpClient   *http.Client
}

var _ channel.Sender = (*Client)(nil)

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:       client,
		logger:       logger.With("component", "wa"),
		connectionID: cfg.ConnectionID,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetProcessor registers the inbound pipeline callback.
func (c *Client) SetProcessor(processor InboundProcessor) {
	c.processor = processor
}

// SetStatusSink registers the connection liveness sink.
func (c *Client) SetStatusSink(sink StatusSink) {
	c.status = sink
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
					c.updateStatus(ctx, "qr")
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
		c.updateStatus(context.Background(), "connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
		c.updateStatus(context.Background(), "disconnected")
	}
}

func (c *Client) updateStatus(ctx context.Context, status string) {
	if c.status == nil || c.connectionID == "" {
		return
	}
	if err := c.status.UpdateConnectionStatus(ctx, c.connectionID, status); err != nil {
		c.logger.Warn("failed updating connection status", "status", status, "error", err)
	}
}

// handleMessage normalizes a socket event into the canonical inbound record
// and hands it to the pipeline. Self-authored messages are dropped.
func (c *Client) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	inbound, ok := normalize(evt)
	if !ok {
		return
	}

	if c.processor != nil {
		go c.processor.ProcessInbound(context.Background(), c.connectionID, inbound)
	}
}

func normalize(evt *events.Message) (channel.Inbound, bool) {
	msg := evt.Message
	inbound := channel.Inbound{
		ExternalID: string(evt.Info.ID),
		Sender:     evt.Info.Sender.ToNonAD().String(),
		SenderName: evt.Info.PushName,
		Timestamp:  evt.Info.Timestamp,
	}
	if evt.Info.IsGroup {
		inbound.IsGroup = true
		inbound.GroupID = evt.Info.Chat.String()
	}

	switch {
	case msg.GetConversation() != "":
		inbound.Kind = channel.KindText
		inbound.Text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil && msg.GetExtendedTextMessage().GetText() != "":
		inbound.Kind = channel.KindText
		inbound.Text = msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		inbound.Kind = channel.KindImage
		inbound.Caption = msg.GetImageMessage().GetCaption()
		inbound.MediaURL = msg.GetImageMessage().GetURL()
	case msg.AudioMessage != nil:
		inbound.Kind = channel.KindAudio
		inbound.MediaURL = msg.GetAudioMessage().GetURL()
	case msg.VideoMessage != nil:
		inbound.Kind = channel.KindVideo
		inbound.Caption = msg.GetVideoMessage().GetCaption()
		inbound.MediaURL = msg.GetVideoMessage().GetURL()
	case msg.DocumentMessage != nil:
		inbound.Kind = channel.KindDocument
		inbound.Caption = msg.GetDocumentMessage().GetCaption()
		inbound.MediaURL = msg.GetDocumentMessage().GetURL()
	case msg.StickerMessage != nil:
		inbound.Kind = channel.KindSticker
		inbound.MediaURL = msg.GetStickerMessage().GetURL()
	default:
		return channel.Inbound{}, false
	}
	return inbound, true
}

// Send delivers a message over the socket. The Endpoint is unused: the
// socket is already bound to one device.
func (c *Client) Send(ctx context.Context, _ channel.Endpoint, target, text, kind, mediaURL string) (*channel.SendResult, error) {
	jid, err := types.ParseJID(target)
	if err != nil {
		return nil, fmt.Errorf("%w: parse jid %q: %v", channel.ErrTerminal, target, err)
	}

	var message *waProto.Message
	switch kind {
	case channel.KindText, "":
		message = &waProto.Message{Conversation: proto.String(text)}
	case channel.KindImage:
		message, err = c.buildImageMessage(ctx, mediaURL, text)
	default:
		// Remaining media kinds fall back to a text message carrying the
		// media link; the socket path is used almost exclusively for text
		// reply fragments.
		body := text
		if body == "" {
			body = mediaURL
		}
		message = &waProto.Message{Conversation: proto.String(body)}
	}
	if err != nil {
		return nil, err
	}

	resp, err := c.client.SendMessage(ctx, jid, message)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &channel.SendResult{ProviderMessageID: string(resp.ID)}, nil
}

// Presence emits a composing/paused chat presence signal.
func (c *Client) Presence(ctx context.Context, _ channel.Endpoint, target string, composing bool) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", target, err)
	}
	state := types.ChatPresenceComposing
	if !composing {
		state = types.ChatPresencePaused
	}
	if err := c.client.SendChatPresence(jid, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("send chat presence: %w", err)
	}
	return nil
}

func (c *Client) buildImageMessage(ctx context.Context, mediaURL, caption string) (*waProto.Message, error) {
	data, mimeType, err := c.fetchMedia(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	uploadResp, err := c.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	imageMsg := &waProto.ImageMessage{
		URL:           proto.String(uploadResp.URL),
		DirectPath:    proto.String(uploadResp.DirectPath),
		MediaKey:      uploadResp.MediaKey,
		FileEncSHA256: uploadResp.FileEncSHA256,
		FileSHA256:    uploadResp.FileSHA256,
		FileLength:    proto.Uint64(uploadResp.FileLength),
		Mimetype:      proto.String(mimeType),
	}
	if caption != "" {
		imageMsg.Caption = proto.String(caption)
	}
	return &waProto.Message{ImageMessage: imageMsg}, nil
}

func (c *Client) fetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	res, err := c.httpClient.Do(req)
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

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
