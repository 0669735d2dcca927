package engine

import (
	"sort"
	"strings"
)

// Action is a structured instruction embedded in an agent's prompt text.
// Extraction is informational: actions are surfaced to the caller but never
// executed here.
type Action struct {
	Kind  string
	Field string
	Value string
}

// actionKinds is the fixed set of recognized tags.
var actionKinds = []string{
	"stage", "tag", "transfer", "notify", "finish", "name",
	"deal", "schedule", "field", "fetch", "followup", "verify-customer",
}

var kindsByLength = func() []string {
	kinds := append([]string(nil), actionKinds...)
	sort.Slice(kinds, func(i, j int) bool { return len(kinds[i]) > len(kinds[j]) })
	return kinds
}()

// ExtractActions scans the rendered prompt in a single tokenizing pass.
// The quoted form @kind:field:"value" is matched before the unquoted form
// so a quoted value is never parsed twice. Values still containing template
// braces are unfilled placeholders and are dropped entirely.
func ExtractActions(text string) []Action {
	var actions []Action
	i := 0
	for i < len(text) {
		if text[i] != '@' {
			i++
			continue
		}
		kind := matchKind(text[i+1:])
		if kind == "" {
			i++
			continue
		}
		body := text[i+1+len(kind)+1:]
		action, consumed, ok := parseActionBody(kind, body)
		i += 1 + len(kind) + 1 + consumed
		if ok {
			actions = append(actions, action)
		}
	}
	return actions
}

// matchKind returns the recognized kind at the start of rest, longest first,
// requiring the trailing colon that separates kind from value.
func matchKind(rest string) string {
	for _, kind := range kindsByLength {
		if strings.HasPrefix(rest, kind+":") {
			return kind
		}
	}
	return ""
}

func parseActionBody(kind, body string) (Action, int, bool) {
	// Quoted with field: field:"value".
	if ci := strings.IndexByte(body, ':'); ci > 0 && ci+1 < len(body) && body[ci+1] == '"' && isFieldToken(body[:ci]) {
		field := body[:ci]
		if end := strings.IndexByte(body[ci+2:], '"'); end >= 0 {
			quoted := body[ci+2 : ci+2+end]
			consumed := ci + 2 + end + 1
			value := field + ":" + quoted
			if hasUnresolvedBraces(value) {
				return Action{}, consumed, false
			}
			return Action{Kind: kind, Field: field, Value: value}, consumed, true
		}
	}

	// Bare quoted: "value".
	if strings.HasPrefix(body, `"`) {
		if end := strings.IndexByte(body[1:], '"'); end >= 0 {
			quoted := body[1 : 1+end]
			consumed := end + 2
			if quoted == "" || hasUnresolvedBraces(quoted) {
				return Action{}, consumed, false
			}
			return Action{Kind: kind, Value: quoted}, consumed, true
		}
	}

	// Unquoted: consume value characters up to whitespace or prose.
	end := 0
	for end < len(body) && isValueChar(body[end]) {
		end++
	}
	value := strings.TrimRight(body[:end], ":.,")
	if value == "" || hasUnresolvedBraces(body[:end]) {
		return Action{}, end, false
	}
	action := Action{Kind: kind, Value: value}
	if ci := strings.IndexByte(value, ':'); ci > 0 {
		action.Field = value[:ci]
	}
	return action, end, true
}

func isFieldToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isValueChar(c byte) bool {
	return isTokenChar(c) || c == ':' || c == '.' || c == ',' || c == '{' || c == '}' || c >= 0x80
}

func hasUnresolvedBraces(value string) bool {
	return strings.Contains(value, "{{") || strings.Contains(value, "}}")
}
