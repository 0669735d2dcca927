package engine

import (
	"encoding/json"
	"strings"

	"zapflow/internal/repo"
)

// fallbackName labels the contact in the rendered prompt when no display
// name is known.
const fallbackName = "customer"

// promptNode is one block of the structured rich-text prompt document.
type promptNode struct {
	Type     string       `json:"type"`
	Children []promptNode `json:"children"`
	Text     string       `json:"text"`
	Bold     bool         `json:"bold"`
	Italic   bool         `json:"italic"`
}

// RenderPrompt flattens the structured rich-text document into plain text
// with WhatsApp-style markers: headings and bold as *text*, italic as
// _text_, list items as dashes. A document that is not valid JSON is used
// verbatim.
func RenderPrompt(doc json.RawMessage) string {
	if len(doc) == 0 {
		return ""
	}

	var nodes []promptNode
	if err := json.Unmarshal(doc, &nodes); err != nil {
		// Plain-string prompts are stored as a JSON string or raw text.
		var plain string
		if err := json.Unmarshal(doc, &plain); err == nil {
			return strings.TrimSpace(plain)
		}
		return strings.TrimSpace(string(doc))
	}

	var b strings.Builder
	for _, node := range nodes {
		renderBlock(&b, node)
	}
	return strings.TrimSpace(b.String())
}

func renderBlock(b *strings.Builder, node promptNode) {
	switch node.Type {
	case "heading", "heading-one", "heading-two":
		text := renderInline(node.Children)
		if text != "" {
			b.WriteString("*" + text + "*\n\n")
		}
	case "bulleted-list", "numbered-list":
		for _, item := range node.Children {
			text := renderInline(item.Children)
			if text != "" {
				b.WriteString("- " + text + "\n")
			}
		}
		b.WriteString("\n")
	default: // paragraph and unknown blocks
		b.WriteString(renderInline(node.Children) + "\n")
	}
}

func renderInline(children []promptNode) string {
	var b strings.Builder
	for _, child := range children {
		text := child.Text
		if len(child.Children) > 0 {
			text = renderInline(child.Children)
		}
		if text == "" {
			continue
		}
		if child.Bold {
			text = "*" + text + "*"
		}
		if child.Italic {
			text = "_" + text + "_"
		}
		b.WriteString(text)
	}
	return b.String()
}

// SubstitutePlaceholders replaces the contact tokens in the rendered prompt.
func SubstitutePlaceholders(prompt string, contact *repo.Contact) string {
	name := fallbackName
	if contact.Name != nil && *contact.Name != "" {
		name = *contact.Name
	}
	email := ""
	if contact.Email != nil {
		email = *contact.Email
	}

	replacer := strings.NewReplacer(
		"[Name]", name,
		"[Phone]", contact.Address,
		"[Email]", email,
		"[Tags]", strings.Join(contact.Tags, ", "),
	)
	return replacer.Replace(prompt)
}

// AppendFAQ adds the configured question/answer pairs as Q/A blocks.
func AppendFAQ(prompt string, faqs []repo.FAQ) string {
	if len(faqs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n")
	for _, faq := range faqs {
		if faq.Question == "" || faq.Answer == "" {
			continue
		}
		b.WriteString("\nQ: " + faq.Question + "\nA: " + faq.Answer)
	}
	return b.String()
}
