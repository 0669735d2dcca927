package meta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zapflow/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WAID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []graphMessage  `json:"messages"`
	Statuses json.RawMessage `json:"statuses"`
}

type graphMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *graphMedia `json:"image"`
	Audio    *graphMedia `json:"audio"`
	Video    *graphMedia `json:"video"`
	Document *graphMedia `json:"document"`
	Sticker  *graphMedia `json:"sticker"`
	Referral *struct {
		SourceURL string `json:"source_url"`
		Headline  string `json:"headline"`
		Body      string `json:"body"`
	} `json:"referral"`
}

type graphMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// ParseWebhook maps a Graph API event delivery into canonical inbound
// messages. Delivery-status entries yield nothing; ad-referral metadata is
// folded into the message text.
func ParseWebhook(raw []byte) ([]channel.Inbound, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode graph webhook: %w", err)
	}

	var out []channel.Inbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			// Sender display names arrive alongside the messages; keyed by
			// wa_id so enrichment needs no extra profile call.
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				if contact.Profile.Name != "" {
					names[contact.WAID] = contact.Profile.Name
				}
			}
			for _, msg := range change.Value.Messages {
				inbound, ok := mapMessage(msg)
				if ok {
					inbound.SenderName = names[msg.From]
					out = append(out, inbound)
				}
			}
		}
	}
	return out, nil
}

func mapMessage(msg graphMessage) (channel.Inbound, bool) {
	if msg.From == "" {
		return channel.Inbound{}, false
	}

	inbound := channel.Inbound{
		ExternalID: msg.ID,
		Sender:     msg.From,
		Timestamp:  parseUnixString(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return channel.Inbound{}, false
		}
		inbound.Kind = channel.KindText
		inbound.Text = msg.Text.Body
	case "image":
		inbound.Kind = channel.KindImage
		inbound.MediaURL = mediaRef(msg.Image)
		inbound.Caption = mediaCaption(msg.Image)
	case "audio":
		inbound.Kind = channel.KindAudio
		inbound.MediaURL = mediaRef(msg.Audio)
	case "video":
		inbound.Kind = channel.KindVideo
		inbound.MediaURL = mediaRef(msg.Video)
		inbound.Caption = mediaCaption(msg.Video)
	case "document":
		inbound.Kind = channel.KindDocument
		inbound.MediaURL = mediaRef(msg.Document)
		inbound.Caption = mediaCaption(msg.Document)
	case "sticker":
		inbound.Kind = channel.KindSticker
		inbound.MediaURL = mediaRef(msg.Sticker)
	default:
		return channel.Inbound{}, false
	}

	if msg.Referral != nil {
		var parts []string
		if msg.Referral.Headline != "" {
			parts = append(parts, msg.Referral.Headline)
		}
		if msg.Referral.SourceURL != "" {
			parts = append(parts, msg.Referral.SourceURL)
		}
		if len(parts) > 0 {
			prefix := "[ad: " + strings.Join(parts, " - ") + "]"
			if inbound.Text != "" {
				inbound.Text = prefix + "\n" + inbound.Text
			} else {
				inbound.Text = prefix
			}
		}
	}

	return inbound, true
}

func mediaRef(m *graphMedia) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func mediaCaption(m *graphMedia) string {
	if m == nil {
		return ""
	}
	return m.Caption
}

func parseUnixString(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs == 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// VerifyChallenge implements the Graph webhook handshake: when the mode is
// subscribe and the token matches, the challenge is echoed back.
func VerifyChallenge(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" || token != expected {
		return "", false
	}
	return challenge, true
}
