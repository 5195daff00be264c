// Package analysis sends enriched batches to the reasoning service and turns
// its structured reply into findings.
package analysis

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/airguardian/airguardian/internal/analysis/providers"
	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/enrich"
	"github.com/airguardian/airguardian/internal/metrics"
	"github.com/airguardian/airguardian/internal/models"
)

// Config configures the invoker.
type Config struct {
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Invoker calls the reasoning service once per analysis cycle.
type Invoker struct {
	provider providers.Provider
	config   Config
	clock    clockwork.Clock
}

// NewInvoker creates an invoker.
func NewInvoker(provider providers.Provider, cfg Config, clock clockwork.Clock) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Invoker{provider: provider, config: cfg, clock: clock}
}

// Analyze returns the findings for the batch. A failed or timed-out call
// returns no findings together with the error, which callers only log.
func (inv *Invoker) Analyze(ctx context.Context, batch []enrich.Context) ([]models.Finding, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	userPrompt, err := buildUserPrompt(batch, inv.clock.Now())
	if err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, "build_prompt", "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, inv.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := inv.provider.Chat(ctx, providers.ChatRequest{
		System:      systemPrompt,
		Messages:    []providers.Message{{Role: "user", Content: userPrompt}},
		Model:       inv.config.Model,
		MaxTokens:   inv.config.MaxTokens,
		Temperature: inv.config.Temperature,
		JSONOutput:  true,
	})
	elapsed := time.Since(start)
	if err != nil {
		log.Warn().
			Err(err).
			Str("provider", inv.provider.Name()).
			Bool("retryable", pipeerrors.IsRetryableError(err)).
			Dur("elapsed", elapsed).
			Int("aircraft", len(batch)).
			Msg("Reasoning service call failed; no findings this cycle")
		return nil, err
	}

	aircraft := make([]models.Aircraft, len(batch))
	for i := range batch {
		aircraft[i] = batch[i].Aircraft
	}

	findings, dropped, err := parseFindings(resp.Content, aircraft)
	if err != nil {
		log.Warn().Err(err).Int("response_bytes", len(resp.Content)).Msg("Reasoning service returned no usable JSON")
		return nil, pipeerrors.WrapMalformedError("parse_findings", inv.provider.Name(), err)
	}

	for reason, n := range dropped {
		for range n {
			metrics.RecordFindingDropped(reason)
		}
	}
	metrics.RecordFindingsParsed(len(findings))

	log.Debug().
		Int("aircraft", len(batch)).
		Int("findings", len(findings)).
		Interface("dropped", dropped).
		Dur("elapsed", elapsed).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Msg("Analysis completed")
	return findings, nil
}
