// Package speech synthesises controller phraseology for high-priority alerts.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
)

const source = "elevenlabs"

// Config configures the text-to-speech client.
type Config struct {
	BaseURL      string
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
}

// Client calls an ElevenLabs-style text-to-speech API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a text-to-speech client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "JBFqnCBsd6RMkjVDRZzb"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize returns the encoded audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	const op = "text_to_speech"

	body, err := json.Marshal(ttsRequest{Text: text, ModelID: c.config.ModelID})
	if err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, op, source, err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.config.BaseURL, url.PathEscape(c.config.VoiceID), url.QueryEscape(c.config.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, op, source, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeerrors.ClassifyTransport(op, source, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, pipeerrors.ClassifyTransport(op, source, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(audio))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, pipeerrors.WrapAPIError(op, source, fmt.Errorf("status %d: %s", resp.StatusCode, msg), resp.StatusCode)
	}
	if len(audio) == 0 {
		return nil, pipeerrors.WrapMalformedError(op, source, fmt.Errorf("empty audio response"))
	}
	return audio, nil
}
