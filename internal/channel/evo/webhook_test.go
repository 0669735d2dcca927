package evo

import (
	"testing"

	"zapflow/internal/channel"
)

func TestParseWebhookTextMessage(t *testing.T) {
	payload := `{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "3EB0C431C26A1916E07E"},
			"pushName": "Marina",
			"messageTimestamp": 1767225600,
			"message": {"conversation": "quero saber o preço"}
		}
	}`

	event, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	inbound := event.Inbound
	if inbound == nil {
		t.Fatal("expected an inbound message")
	}
	if inbound.ExternalID != "3EB0C431C26A1916E07E" {
		t.Errorf("external id: got %q", inbound.ExternalID)
	}
	if inbound.Sender != "5511999990000@s.whatsapp.net" {
		t.Errorf("sender: got %q", inbound.Sender)
	}
	if inbound.SenderName != "Marina" {
		t.Errorf("sender name: got %q", inbound.SenderName)
	}
	if inbound.Kind != channel.KindText || inbound.Text != "quero saber o preço" {
		t.Errorf("content: got kind=%q text=%q", inbound.Kind, inbound.Text)
	}
	if inbound.IsGroup {
		t.Error("direct chat flagged as group")
	}
}

func TestParseWebhookGroupMessage(t *testing.T) {
	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {
				"remoteJid": "120363041234567890@g.us",
				"fromMe": false,
				"id": "ABC123",
				"participant": "5511888880000@s.whatsapp.net"
			},
			"message": {"conversation": "oi pessoal"}
		}
	}`

	event, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	inbound := event.Inbound
	if inbound == nil {
		t.Fatal("expected an inbound message")
	}
	if !inbound.IsGroup {
		t.Fatal("group chat not flagged")
	}
	if inbound.GroupID != "120363041234567890@g.us" {
		t.Errorf("group id: got %q", inbound.GroupID)
	}
	if inbound.Sender != "5511888880000@s.whatsapp.net" {
		t.Errorf("participant sender: got %q", inbound.Sender)
	}
}

func TestParseWebhookSkipsOwnMessages(t *testing.T) {
	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": true, "id": "X"},
			"message": {"conversation": "our own reply"}
		}
	}`

	event, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if event.Inbound != nil {
		t.Fatal("self-authored message must be dropped")
	}
}

func TestParseWebhookMediaKinds(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantKind string
		wantURL  string
	}{
		{"image", `{"imageMessage": {"url": "https://cdn/img.enc", "caption": "olha isso"}}`, channel.KindImage, "https://cdn/img.enc"},
		{"audio", `{"audioMessage": {"url": "https://cdn/voice.enc"}}`, channel.KindAudio, "https://cdn/voice.enc"},
		{"video", `{"videoMessage": {"url": "https://cdn/v.enc"}}`, channel.KindVideo, "https://cdn/v.enc"},
		{"document", `{"documentMessage": {"url": "https://cdn/d.enc", "caption": "contrato"}}`, channel.KindDocument, "https://cdn/d.enc"},
		{"sticker", `{"stickerMessage": {"url": "https://cdn/s.enc"}}`, channel.KindSticker, "https://cdn/s.enc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{
				"event": "messages.upsert",
				"data": {
					"key": {"remoteJid": "551199@s.whatsapp.net", "id": "M1"},
					"message": ` + tc.body + `
				}
			}`
			event, err := ParseWebhook([]byte(payload))
			if err != nil {
				t.Fatal(err)
			}
			if event.Inbound == nil {
				t.Fatal("expected an inbound message")
			}
			if event.Inbound.Kind != tc.wantKind {
				t.Errorf("kind: got %q, want %q", event.Inbound.Kind, tc.wantKind)
			}
			if event.Inbound.MediaURL != tc.wantURL {
				t.Errorf("media url: got %q", event.Inbound.MediaURL)
			}
		})
	}
}

func TestParseWebhookConnectionUpdate(t *testing.T) {
	cases := []struct {
		state string
		want  string
	}{
		{"open", "connected"},
		{"close", "disconnected"},
		{"connecting", "connecting"},
	}
	for _, tc := range cases {
		payload := `{"event": "connection.update", "data": {"state": "` + tc.state + `"}}`
		event, err := ParseWebhook([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}
		if event.Status != tc.want {
			t.Errorf("state %q: got status %q, want %q", tc.state, event.Status, tc.want)
		}
	}
}

func TestParseWebhookIgnoresUnknownEvents(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"event": "presence.update", "data": {}}`))
	if err != nil {
		t.Fatal(err)
	}
	if event.Inbound != nil || event.Status != "" {
		t.Fatalf("expected empty event, got %+v", event)
	}
}

func TestParseWebhookMalformedJSON(t *testing.T) {
	if _, err := ParseWebhook([]byte(`{nope`)); err == nil {
		t.Fatal("expected a decode error")
	}
}
