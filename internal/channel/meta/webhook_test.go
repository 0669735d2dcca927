package meta

import (
	"strings"
	"testing"

	"zapflow/internal/channel"
)

func TestParseWebhookTextMessage(t *testing.T) {
	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"profile": {"name": "Marina"}, "wa_id": "5511999990000"}],
					"messages": [{
						"from": "5511999990000",
						"id": "wamid.HBgM",
						"timestamp": "1767225600",
						"type": "text",
						"text": {"body": "hello there"}
					}]
				}
			}]
		}]
	}`

	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 1 {
		t.Fatalf("expected 1 message, got %d", len(inbounds))
	}
	got := inbounds[0]
	if got.ExternalID != "wamid.HBgM" || got.Sender != "5511999990000" {
		t.Errorf("identity: got %+v", got)
	}
	if got.SenderName != "Marina" {
		t.Errorf("sender name: got %q", got.SenderName)
	}
	if got.Kind != channel.KindText || got.Text != "hello there" {
		t.Errorf("content: got kind=%q text=%q", got.Kind, got.Text)
	}
}

func TestParseWebhookMediaCarriesID(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [{
						"from": "5511999990000",
						"id": "wamid.IMG",
						"type": "image",
						"image": {"id": "media-123", "caption": "look"}
					}]
				}
			}]
		}]
	}`

	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 1 {
		t.Fatalf("expected 1 message, got %d", len(inbounds))
	}
	got := inbounds[0]
	if got.Kind != channel.KindImage || got.MediaURL != "media-123" || got.Caption != "look" {
		t.Errorf("got %+v", got)
	}
}

func TestParseWebhookSkipsStatusDeliveries(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {"statuses": [{"id": "wamid.X", "status": "delivered"}]}
			}]
		}]
	}`

	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 0 {
		t.Fatalf("status delivery must yield nothing, got %v", inbounds)
	}
}

func TestParseWebhookFoldsReferral(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [{
						"from": "5511999990000",
						"id": "wamid.AD",
						"type": "text",
						"text": {"body": "saw your ad"},
						"referral": {"source_url": "https://fb.me/ad1", "headline": "Summer Sale"}
					}]
				}
			}]
		}]
	}`

	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 1 {
		t.Fatalf("expected 1 message, got %d", len(inbounds))
	}
	text := inbounds[0].Text
	if !strings.HasPrefix(text, "[ad: Summer Sale - https://fb.me/ad1]") {
		t.Errorf("referral prefix missing: %q", text)
	}
	if !strings.Contains(text, "saw your ad") {
		t.Errorf("original body missing: %q", text)
	}
}

func TestVerifyChallenge(t *testing.T) {
	cases := []struct {
		name   string
		mode   string
		token  string
		expect string
		wantOK bool
	}{
		{"valid handshake", "subscribe", "s3cret", "s3cret", true},
		{"wrong token", "subscribe", "guess", "s3cret", false},
		{"wrong mode", "unsubscribe", "s3cret", "s3cret", false},
		{"no expected token configured", "subscribe", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			challenge, ok := VerifyChallenge(tc.mode, tc.token, "12345", tc.expect)
			if ok != tc.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tc.wantOK)
			}
			if ok && challenge != "12345" {
				t.Fatalf("challenge not echoed: %q", challenge)
			}
		})
	}
}
