package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
)

const (
	// DefaultChatURL is the xAI OpenAI-compatible chat completions endpoint.
	DefaultChatURL = "https://api.x.ai/v1/chat/completions"
)

// OpenAIClient implements the Provider interface for OpenAI-compatible
// chat completion APIs
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible API client
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultChatURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai-compatible"
}

// openaiRequest is the request body for the chat completions API
type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is the response from the chat completions API
type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends a chat request to the API
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	openaiReq := openaiRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONOutput {
		openaiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, pipeerrors.ClassifyTransport("chat_completion", c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, pipeerrors.ClassifyTransport("chat_completion", c.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, pipeerrors.WrapAPIError("chat_completion", c.Name(),
				fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message), resp.StatusCode)
		}
		return nil, pipeerrors.WrapAPIError("chat_completion", c.Name(),
			fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody)), resp.StatusCode)
	}

	var openaiResp openaiResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, pipeerrors.WrapMalformedError("chat_completion", c.Name(), err)
	}
	if len(openaiResp.Choices) == 0 {
		return nil, pipeerrors.WrapMalformedError("chat_completion", c.Name(), fmt.Errorf("no response choices returned"))
	}

	return &ChatResponse{
		Content:      openaiResp.Choices[0].Message.Content,
		Model:        openaiResp.Model,
		StopReason:   openaiResp.Choices[0].FinishReason,
		InputTokens:  openaiResp.Usage.PromptTokens,
		OutputTokens: openaiResp.Usage.CompletionTokens,
	}, nil
}

// TestConnection validates the API key by making a minimal request
func (c *OpenAIClient) TestConnection(ctx context.Context) error {
	_, err := c.Chat(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: "Hi"}},
		MaxTokens: 10,
	})
	return err
}
