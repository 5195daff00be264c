// Package providers contains reasoning service client implementations
package providers

import (
	"context"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // Text content
}

// ChatRequest represents a request to the reasoning service
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`      // System prompt
	JSONOutput  bool      `json:"json_output,omitempty"` // Ask for a single JSON object
}

// ChatResponse represents a response from the reasoning service
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Provider defines the interface for reasoning services
type Provider interface {
	// Chat sends a chat request and returns the response
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// TestConnection validates the API key and connectivity
	TestConnection(ctx context.Context) error

	// Name returns the provider name
	Name() string
}
