package evo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zapflow/internal/channel"
)

// Event is the outcome of parsing one gateway webhook delivery. At most one
// field is set; all nil means the event carries nothing actionable.
type Event struct {
	Inbound *channel.Inbound
	// Status is a connection liveness transition ("connected",
	// "disconnected", "qr") derived from connection.update and
	// qrcode.updated events.
	Status string
}

type webhookPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type messageData struct {
	Key struct {
		RemoteJID   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id"`
		Participant string `json:"participant"`
	} `json:"key"`
	PushName         string      `json:"pushName"`
	MessageTimestamp int64       `json:"messageTimestamp"`
	Message          messageBody `json:"message"`
}

type messageBody struct {
	Conversation        string     `json:"conversation"`
	ExtendedTextMessage *textBody  `json:"extendedTextMessage"`
	ImageMessage        *mediaBody `json:"imageMessage"`
	AudioMessage        *mediaBody `json:"audioMessage"`
	VideoMessage        *mediaBody `json:"videoMessage"`
	DocumentMessage     *mediaBody `json:"documentMessage"`
	StickerMessage      *mediaBody `json:"stickerMessage"`
}

type textBody struct {
	Text string `json:"text"`
}

type mediaBody struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

type connectionData struct {
	State string `json:"state"`
}

// ParseWebhook maps a raw gateway payload into an Event. Malformed or
// empty-content payloads yield an empty Event, never an error the caller
// must surface: webhook acknowledgment stays successful regardless.
func ParseWebhook(raw []byte) (Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Event{}, fmt.Errorf("decode gateway webhook: %w", err)
	}

	switch payload.Event {
	case "messages.upsert":
		return parseMessageUpsert(payload.Data)
	case "connection.update":
		var data connectionData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return Event{}, nil
		}
		switch strings.ToLower(data.State) {
		case "open":
			return Event{Status: "connected"}, nil
		case "close", "closed":
			return Event{Status: "disconnected"}, nil
		case "connecting":
			return Event{Status: "connecting"}, nil
		}
		return Event{}, nil
	case "qrcode.updated":
		return Event{Status: "qr"}, nil
	default:
		// Presence and other non-message events carry nothing actionable.
		return Event{}, nil
	}
}

func parseMessageUpsert(data json.RawMessage) (Event, error) {
	var msg messageData
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("decode message upsert: %w", err)
	}

	// Self-authored echoes are dropped explicitly; the gateway omits a
	// usable external id for them anyway.
	if msg.Key.FromMe {
		return Event{}, nil
	}
	if msg.Key.RemoteJID == "" {
		return Event{}, nil
	}

	inbound := &channel.Inbound{
		ExternalID: msg.Key.ID,
		SenderName: msg.PushName,
		Timestamp:  time.Unix(msg.MessageTimestamp, 0),
	}
	if msg.MessageTimestamp == 0 {
		inbound.Timestamp = time.Now()
	}

	if strings.HasSuffix(msg.Key.RemoteJID, "@g.us") {
		inbound.IsGroup = true
		inbound.GroupID = msg.Key.RemoteJID
		inbound.Sender = msg.Key.Participant
	} else {
		inbound.Sender = msg.Key.RemoteJID
	}
	if inbound.Sender == "" {
		return Event{}, nil
	}

	body := msg.Message
	switch {
	case body.Conversation != "":
		inbound.Kind = channel.KindText
		inbound.Text = body.Conversation
	case body.ExtendedTextMessage != nil && body.ExtendedTextMessage.Text != "":
		inbound.Kind = channel.KindText
		inbound.Text = body.ExtendedTextMessage.Text
	case body.ImageMessage != nil:
		inbound.Kind = channel.KindImage
		inbound.MediaURL = body.ImageMessage.URL
		inbound.Caption = body.ImageMessage.Caption
	case body.AudioMessage != nil:
		inbound.Kind = channel.KindAudio
		inbound.MediaURL = body.AudioMessage.URL
	case body.VideoMessage != nil:
		inbound.Kind = channel.KindVideo
		inbound.MediaURL = body.VideoMessage.URL
		inbound.Caption = body.VideoMessage.Caption
	case body.DocumentMessage != nil:
		inbound.Kind = channel.KindDocument
		inbound.MediaURL = body.DocumentMessage.URL
		inbound.Caption = body.DocumentMessage.Caption
	case body.StickerMessage != nil:
		inbound.Kind = channel.KindSticker
		inbound.MediaURL = body.StickerMessage.URL
	default:
		// Reactions, protocol messages and other unsupported bodies.
		return Event{}, nil
	}

	return Event{Inbound: inbound}, nil
}
