package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airguardian/airguardian/internal/analysis/providers"
	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/enrich"
	"github.com/airguardian/airguardian/internal/models"
)

type stubProvider struct {
	content string
	err     error
	block   bool
	lastReq providers.ChatRequest
}

func (s *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.lastReq = req
	if s.block {
		<-ctx.Done()
		return nil, pipeerrors.ClassifyTransport("chat_completion", "stub", ctx.Err())
	}
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content}, nil
}

func (s *stubProvider) TestConnection(context.Context) error { return nil }
func (s *stubProvider) Name() string                         { return "stub" }

func testBatch() []enrich.Context {
	return []enrich.Context{
		{Aircraft: models.Aircraft{ID: "a1b2c3", Callsign: "DAL123", Registration: "N123DL"}},
		{Aircraft: models.Aircraft{ID: "abc999", Registration: "N999AB"}},
	}
}

func TestAnalyzeParsesFindings(t *testing.T) {
	p := &stubProvider{content: "```json\n" + `{"tasks": [
		{"aircraft_icao24": "A1B2C3", "aircraft_callsign": "Delta 123", "priority": "high",
		 "category": "Low Altitude", "summary": "Low altitude near KATL",
		 "description": "Delta 123 at 400 ft AGL.", "pilot_message": "Delta 123, low altitude alert"},
		{"aircraft_icao24": "UNKNOWN", "aircraft_callsign": "N999AB", "priority": "LOW",
		 "category": "weather", "summary": "", "description": "Light icing reported nearby. Monitor."}
	]}` + "\n```"}
	inv := NewInvoker(p, Config{Model: "m", Timeout: time.Second}, nil)

	findings, err := inv.Analyze(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, findings, 2)

	first := findings[0]
	assert.Equal(t, "a1b2c3", first.EntityID)
	assert.Equal(t, models.SeverityHigh, first.Severity)
	assert.Equal(t, models.CategoryLowAltitude, first.Category)
	assert.Equal(t, "Delta 123, low altitude alert", first.Phraseology)

	second := findings[1]
	assert.Equal(t, "abc999", second.EntityID, "identity repaired from registration")
	assert.Equal(t, models.CategoryWeatherHazard, second.Category)
	assert.Equal(t, "Light icing reported nearby", second.Summary)

	assert.True(t, p.lastReq.JSONOutput)
	assert.Contains(t, p.lastReq.Messages[0].Content, "a1b2c3")
	assert.NotEmpty(t, p.lastReq.System)
}

func TestAnalyzeDropsBadItemsIndividually(t *testing.T) {
	p := &stubProvider{content: `Here you go: {"tasks": [
		{"aircraft_icao24": "a1b2c3", "priority": "SEVERE", "category": "Other", "summary": "x"},
		{"aircraft_icao24": "ffffff", "priority": "HIGH", "category": "Other", "summary": "ghost"},
		{"aircraft_icao24": "a1b2c3", "priority": "MEDIUM", "category": "Speed Warning", "summary": "Slow"},
		{"aircraft_icao24": "a1b2c3", "priority": "MEDIUM", "summary": "", "description": ""},
		"not an object",
		{"aircraft_icao24": "abc999", "aircraft_callsign": "UNKNOWN", "priority": "LOW", "category": "Mystery", "summary": "Odd"}
	]} hope it helps`}
	inv := NewInvoker(p, Config{}, nil)

	findings, err := inv.Analyze(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, models.CategorySpeed, findings[0].Category)
	assert.Equal(t, models.CategoryOther, findings[1].Category, "unknown category maps to other")
	assert.Equal(t, "N999AB", findings[1].Callsign, "unknown callsign replaced with entity label")
}

func TestAnalyzeFailedCallYieldsNoFindings(t *testing.T) {
	p := &stubProvider{err: errors.New("upstream exploded")}
	inv := NewInvoker(p, Config{}, nil)

	findings, err := inv.Analyze(context.Background(), testBatch())
	assert.Error(t, err)
	assert.Empty(t, findings)
}

func TestAnalyzeTimeout(t *testing.T) {
	p := &stubProvider{block: true}
	inv := NewInvoker(p, Config{Timeout: 20 * time.Millisecond}, nil)

	findings, err := inv.Analyze(context.Background(), testBatch())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrTimeout)
	assert.Empty(t, findings)
}

func TestAnalyzeUnparseableResponse(t *testing.T) {
	p := &stubProvider{content: "I could not analyze this data."}
	inv := NewInvoker(p, Config{}, nil)

	findings, err := inv.Analyze(context.Background(), testBatch())
	assert.True(t, pipeerrors.IsMalformed(err))
	assert.Empty(t, findings)
}

func TestAnalyzeEmptyBatchSkipsCall(t *testing.T) {
	p := &stubProvider{content: `{"tasks": []}`}
	inv := NewInvoker(p, Config{}, nil)

	findings, err := inv.Analyze(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, findings)
	assert.Empty(t, p.lastReq.Messages)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{name: "brace in string", in: `x {"a":"}{"} y`, want: `{"a":"}{"}`},
		{name: "escaped quote", in: `{"a":"say \"hi\" }"}`, want: `{"a":"say \"hi\" }"}`},
		{name: "none", in: "nothing here", wantErr: true},
		{name: "truncated", in: `{"tasks": [`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "First sentence", summarize("First sentence. Second one."))
	long := strings.Repeat("x", 200)
	assert.Len(t, []rune(summarize(long)), 80)
}
