// Package llm provides inference-provider clients and the ordered fallback
// used to produce automated replies.
package llm

import "context"

// Provider is the interface every inference backend implements.
type Provider interface {
	// Name returns the provider identifier used in logs and metrics.
	Name() string
	// Available reports whether the provider has the credentials it needs.
	Available() bool
	// Chat sends the assembled message list and returns a response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Message is one dialogue turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the result of an inference call.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}
