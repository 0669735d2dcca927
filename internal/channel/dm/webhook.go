package dm

import (
	"encoding/json"
	"fmt"
	"time"

	"zapflow/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEntry `json:"messaging"`
	} `json:"entry"`
}

type messagingEntry struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// ParseWebhook maps a direct-messaging event delivery into canonical inbound
// messages. Echoes of our own sends and non-message entries yield nothing.
func ParseWebhook(raw []byte) ([]channel.Inbound, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode dm webhook: %w", err)
	}

	var out []channel.Inbound
	for _, entry := range payload.Entry {
		for _, item := range entry.Messaging {
			if item.Message == nil || item.Message.IsEcho || item.Sender.ID == "" {
				continue
			}

			inbound := channel.Inbound{
				ExternalID: item.Message.MID,
				Sender:     item.Sender.ID,
				Timestamp:  time.UnixMilli(item.Timestamp),
			}
			if item.Timestamp == 0 {
				inbound.Timestamp = time.Now()
			}

			switch {
			case item.Message.Text != "":
				inbound.Kind = channel.KindText
				inbound.Text = item.Message.Text
			case len(item.Message.Attachments) > 0:
				att := item.Message.Attachments[0]
				inbound.Kind = mapAttachmentType(att.Type)
				inbound.MediaURL = att.Payload.URL
			default:
				continue
			}
			out = append(out, inbound)
		}
	}
	return out, nil
}

func mapAttachmentType(t string) string {
	switch t {
	case "image":
		return channel.KindImage
	case "audio":
		return channel.KindAudio
	case "video":
		return channel.KindVideo
	case "file":
		return channel.KindDocument
	default:
		return channel.KindDocument
	}
}
