package engine

import (
	"encoding/json"
	"strings"
	"testing"

	"zapflow/internal/repo"
)

func TestRenderPromptStructuredDocument(t *testing.T) {
	doc := json.RawMessage(`[
		{"type":"heading","children":[{"text":"Sales Assistant"}]},
		{"type":"paragraph","children":[{"text":"Greet "},{"text":"warmly","bold":true},{"text":" and be "},{"text":"brief","italic":true},{"text":"."}]},
		{"type":"bulleted-list","children":[
			{"type":"list-item","children":[{"text":"Ask for the budget"}]},
			{"type":"list-item","children":[{"text":"Offer a demo"}]}
		]}
	]`)

	got := RenderPrompt(doc)
	for _, want := range []string{
		"*Sales Assistant*",
		"Greet *warmly* and be _brief_.",
		"- Ask for the budget",
		"- Offer a demo",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, got)
		}
	}
}

func TestRenderPromptPlainString(t *testing.T) {
	got := RenderPrompt(json.RawMessage(`"You are a helpful assistant."`))
	if got != "You are a helpful assistant." {
		t.Fatalf("got %q", got)
	}
}

func TestRenderPromptRawTextFallback(t *testing.T) {
	got := RenderPrompt(json.RawMessage("just plain text, not json"))
	if got != "just plain text, not json" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	name := "Marina"
	email := "marina@example.com"
	contact := &repo.Contact{
		Name:    &name,
		Email:   &email,
		Address: "5511999990000",
		Tags:    []string{"vip", "returning"},
	}
	got := SubstitutePlaceholders("Hi [Name] ([Phone], [Email]) tagged [Tags]", contact)
	want := "Hi Marina (5511999990000, marina@example.com) tagged vip, returning"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSubstitutePlaceholdersDefaultsName(t *testing.T) {
	contact := &repo.Contact{Address: "5511999990000"}
	got := SubstitutePlaceholders("Hello [Name]", contact)
	if got != "Hello customer" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendFAQ(t *testing.T) {
	faqs := []repo.FAQ{
		{Question: "Do you ship abroad?", Answer: "Yes, worldwide."},
		{Question: "", Answer: "skipped"},
	}
	got := AppendFAQ("Base prompt.", faqs)
	if !strings.Contains(got, "Q: Do you ship abroad?\nA: Yes, worldwide.") {
		t.Fatalf("FAQ block missing:\n%s", got)
	}
	if strings.Contains(got, "skipped") {
		t.Fatal("incomplete FAQ pair should be skipped")
	}
	if AppendFAQ("Base prompt.", nil) != "Base prompt." {
		t.Fatal("empty FAQ list should leave the prompt untouched")
	}
}
