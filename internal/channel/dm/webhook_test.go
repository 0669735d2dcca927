package dm

import (
	"testing"

	"zapflow/internal/channel"
)

func TestParseWebhookTextMessage(t *testing.T) {
	payload := `{
		"object": "instagram",
		"entry": [{
			"messaging": [{
				"sender": {"id": "17841400000000000"},
				"timestamp": 1767225600000,
				"message": {"mid": "mid.123", "text": "is this available?"}
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
	if got.ExternalID != "mid.123" || got.Sender != "17841400000000000" {
		t.Errorf("identity: got %+v", got)
	}
	if got.Kind != channel.KindText || got.Text != "is this available?" {
		t.Errorf("content: got kind=%q text=%q", got.Kind, got.Text)
	}
	if got.Timestamp.UnixMilli() != 1767225600000 {
		t.Errorf("timestamp: got %v", got.Timestamp)
	}
}

func TestParseWebhookSkipsEchoes(t *testing.T) {
	payload := `{
		"entry": [{
			"messaging": [{
				"sender": {"id": "page-1"},
				"message": {"mid": "mid.echo", "text": "our reply", "is_echo": true}
			}]
		}]
	}`

	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 0 {
		t.Fatalf("echo must be dropped, got %v", inbounds)
	}
}

func TestParseWebhookAttachments(t *testing.T) {
	cases := []struct {
		attType  string
		wantKind string
	}{
		{"image", channel.KindImage},
		{"audio", channel.KindAudio},
		{"video", channel.KindVideo},
		{"file", channel.KindDocument},
	}
	for _, tc := range cases {
		t.Run(tc.attType, func(t *testing.T) {
			payload := `{
				"entry": [{
					"messaging": [{
						"sender": {"id": "user-1"},
						"message": {
							"mid": "mid.att",
							"attachments": [{"type": "` + tc.attType + `", "payload": {"url": "https://cdn/x"}}]
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
			if inbounds[0].Kind != tc.wantKind || inbounds[0].MediaURL != "https://cdn/x" {
				t.Errorf("got %+v", inbounds[0])
			}
		})
	}
}

func TestParseWebhookSkipsEmptyMessage(t *testing.T) {
	payload := `{
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-1"},
				"message": {"mid": "mid.empty"}
			}]
		}]
	}`
	inbounds, err := ParseWebhook([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 0 {
		t.Fatalf("contentless message must be skipped, got %v", inbounds)
	}
}
