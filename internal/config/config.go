// Package config loads airguardian configuration from the environment.
//
// Values are read from environment variables, optionally seeded from
// $AIRGUARDIAN_DATA_DIR/.env and ./.env. Every setting has a default; only
// the reasoning service credential is required, and only while analysis is
// enabled.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/utils"
)

// Config holds all application configuration
type Config struct {
	DataDir string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Server settings
	HTTPHost       string
	HTTPPort       int
	MetricsPort    int
	AllowedOrigins []string

	// Surveillance area
	CenterLat float64
	CenterLon float64
	RadiusNM  float64

	// Aircraft feed
	FeedURL         string
	PollInterval    time.Duration
	FeedMinInterval time.Duration
	FeedTimeout     time.Duration

	// State cache and history
	StateTTL             time.Duration
	HistoryWindow        time.Duration
	HistorySweepInterval time.Duration
	HistoryMaxSamples    int

	// Analysis
	AnalysisEnabled        bool
	AnalysisInterval       time.Duration
	AnalysisTimeout        time.Duration
	MaxAircraftPerAnalysis int
	LLMAPIKey              string
	LLMBaseURL             string
	LLMModel               string

	// Alert lifecycle
	AlertSweepInterval time.Duration
	TaskExpiry         time.Duration
	ResolvedRetention  time.Duration
	AlertsDBPath       string

	// Environmental reports
	WeatherURL            string
	WeatherTimeout        time.Duration
	ReportRadiusNM        float64
	ReportBandFt          float64
	ReportMaxAge          time.Duration
	ReportRefreshInterval time.Duration

	// Reference data
	TerrainURL     string
	TerrainTimeout time.Duration
	TerrainCellDeg float64
	FacilitiesPath string

	// Speech synthesis
	TTSAPIKey       string
	TTSBaseURL      string
	TTSVoiceID      string
	TTSModelID      string
	TTSOutputFormat string
	MaxHighAudio    int
	AudioDir        string
}

// Default returns the configuration used when no environment overrides exist.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:   dataDir,
		LogLevel:  "info",
		LogFormat: "auto",

		HTTPHost:    "0.0.0.0",
		HTTPPort:    8000,
		MetricsPort: 9091,

		CenterLat: 33.6410564,
		CenterLon: -84.4421781,
		RadiusNM:  40,

		FeedURL:         "https://api.airplanes.live/v2",
		PollInterval:    2 * time.Second,
		FeedMinInterval: time.Second,
		FeedTimeout:     10 * time.Second,

		StateTTL:             30 * time.Second,
		HistoryWindow:        15 * time.Minute,
		HistorySweepInterval: time.Minute,
		HistoryMaxSamples:    900,

		AnalysisEnabled:        true,
		AnalysisInterval:       20 * time.Second,
		AnalysisTimeout:        60 * time.Second,
		MaxAircraftPerAnalysis: 10,
		LLMBaseURL:             "https://api.x.ai/v1/chat/completions",
		LLMModel:               "grok-4-fast-non-reasoning",

		AlertSweepInterval: time.Minute,
		TaskExpiry:         10 * time.Minute,
		ResolvedRetention:  time.Hour,
		AlertsDBPath:       filepath.Join(dataDir, "alerts.db"),

		WeatherURL:            "https://aviationweather.gov/api/data",
		WeatherTimeout:        10 * time.Second,
		ReportRadiusNM:        50,
		ReportBandFt:          5000,
		ReportMaxAge:          90 * time.Minute,
		ReportRefreshInterval: 5 * time.Minute,

		TerrainURL:     "https://epqs.nationalmap.gov/v1/json",
		TerrainTimeout: 5 * time.Second,
		TerrainCellDeg: 0.01,

		TTSBaseURL:      "https://api.elevenlabs.io",
		TTSVoiceID:      "JBFqnCBsd6RMkjVDRZzb",
		TTSModelID:      "eleven_multilingual_v2",
		TTSOutputFormat: "mp3_44100_128",
		MaxHighAudio:    3,
		AudioDir:        filepath.Join(dataDir, "audio"),
	}
}

// Load reads configuration from .env files and the environment, then validates it.
func Load() (*Config, error) {
	dataDir := "./data"
	if dir := utils.GetenvTrim("AIRGUARDIAN_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	// Also try the current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default(dataDir)
	if err := cfg.applyEnv(); err != nil {
		return nil, pipeerrors.NewConfigError("load_config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envReader collects parse errors so every bad value is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string, dst *string) {
	if v := utils.GetenvTrim(key); v != "" {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v := utils.GetenvTrim(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (r *envReader) number(key string, dst *float64) {
	v := utils.GetenvTrim(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

func (r *envReader) duration(key string, unit time.Duration, dst *time.Duration) {
	v := utils.GetenvTrim(key)
	if v == "" {
		return
	}
	d, err := utils.ParseDuration(v, unit)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}

func (r *envReader) flag(key string, dst *bool) {
	if v := utils.GetenvTrim(key); v != "" {
		*dst = utils.ParseBool(v)
	}
}

func (c *Config) applyEnv() error {
	r := &envReader{}

	r.str("LOG_LEVEL", &c.LogLevel)
	r.str("LOG_FORMAT", &c.LogFormat)
	r.str("LOG_FILE", &c.LogFile)

	r.str("HTTP_HOST", &c.HTTPHost)
	r.integer("HTTP_PORT", &c.HTTPPort)
	r.integer("METRICS_PORT", &c.MetricsPort)
	if v := utils.GetenvTrim("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	r.number("CENTER_LAT", &c.CenterLat)
	r.number("CENTER_LON", &c.CenterLon)
	r.number("RADIUS_NM", &c.RadiusNM)

	r.str("FEED_URL", &c.FeedURL)
	r.duration("POLL_INTERVAL", time.Second, &c.PollInterval)
	r.duration("FEED_MIN_INTERVAL", time.Second, &c.FeedMinInterval)
	r.duration("FEED_TIMEOUT", time.Second, &c.FeedTimeout)

	r.duration("STATE_TTL", time.Second, &c.StateTTL)
	r.duration("HISTORY_WINDOW", time.Second, &c.HistoryWindow)
	r.duration("HISTORY_SWEEP_INTERVAL", time.Second, &c.HistorySweepInterval)
	r.integer("HISTORY_MAX_SAMPLES", &c.HistoryMaxSamples)

	r.flag("ANALYSIS_ENABLED", &c.AnalysisEnabled)
	r.duration("ANALYSIS_INTERVAL", time.Second, &c.AnalysisInterval)
	r.duration("ANALYSIS_TIMEOUT", time.Second, &c.AnalysisTimeout)
	r.integer("MAX_AIRCRAFT_PER_ANALYSIS", &c.MaxAircraftPerAnalysis)
	r.str("XAI_API_KEY", &c.LLMAPIKey)
	r.str("LLM_API_KEY", &c.LLMAPIKey)
	r.str("XAI_API_URL", &c.LLMBaseURL)
	r.str("LLM_BASE_URL", &c.LLMBaseURL)
	r.str("LLM_MODEL", &c.LLMModel)

	r.duration("ALERT_SWEEP_INTERVAL", time.Second, &c.AlertSweepInterval)
	r.duration("TASK_EXPIRY_MINUTES", time.Minute, &c.TaskExpiry)
	r.duration("RESOLVED_TASK_RETENTION_HOURS", time.Hour, &c.ResolvedRetention)
	r.str("ALERTS_DB_PATH", &c.AlertsDBPath)

	r.str("WEATHER_API_URL", &c.WeatherURL)
	r.duration("WEATHER_TIMEOUT", time.Second, &c.WeatherTimeout)
	r.number("REPORT_RADIUS_NM", &c.ReportRadiusNM)
	r.number("REPORT_BAND_FT", &c.ReportBandFt)
	r.duration("REPORT_MAX_AGE", time.Minute, &c.ReportMaxAge)
	r.duration("REPORT_REFRESH_INTERVAL", time.Second, &c.ReportRefreshInterval)

	r.str("TERRAIN_API_URL", &c.TerrainURL)
	r.duration("TERRAIN_TIMEOUT", time.Second, &c.TerrainTimeout)
	r.number("TERRAIN_CELL_DEG", &c.TerrainCellDeg)
	r.str("FACILITIES_CSV", &c.FacilitiesPath)

	r.str("ELEVENLABS_API_KEY", &c.TTSAPIKey)
	r.str("TTS_API_KEY", &c.TTSAPIKey)
	r.str("TTS_BASE_URL", &c.TTSBaseURL)
	r.str("TTS_VOICE_ID", &c.TTSVoiceID)
	r.str("TTS_MODEL_ID", &c.TTSModelID)
	r.str("TTS_OUTPUT_FORMAT", &c.TTSOutputFormat)
	r.integer("TTS_MAX_HIGH_AUDIO", &c.MaxHighAudio)
	r.str("AUDIO_DIR", &c.AudioDir)

	return errors.Join(r.errs...)
}

// Validate checks the configuration for values that would make the
// pipeline misbehave. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	positive := map[string]time.Duration{
		"POLL_INTERVAL":           c.PollInterval,
		"FEED_MIN_INTERVAL":       c.FeedMinInterval,
		"FEED_TIMEOUT":            c.FeedTimeout,
		"STATE_TTL":               c.StateTTL,
		"HISTORY_WINDOW":          c.HistoryWindow,
		"HISTORY_SWEEP_INTERVAL":  c.HistorySweepInterval,
		"ANALYSIS_INTERVAL":       c.AnalysisInterval,
		"ANALYSIS_TIMEOUT":        c.AnalysisTimeout,
		"ALERT_SWEEP_INTERVAL":    c.AlertSweepInterval,
		"TASK_EXPIRY_MINUTES":     c.TaskExpiry,
		"RESOLVED_RETENTION":      c.ResolvedRetention,
		"REPORT_MAX_AGE":          c.ReportMaxAge,
		"REPORT_REFRESH_INTERVAL": c.ReportRefreshInterval,
		"TERRAIN_TIMEOUT":         c.TerrainTimeout,
		"WEATHER_TIMEOUT":         c.WeatherTimeout,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			add("%s must be greater than zero", key)
		}
	}

	// The feed floor is a hard limit upstream; keep a 20% margin
	if c.FeedMinInterval > 0 && c.PollInterval < c.FeedMinInterval*12/10 {
		add("POLL_INTERVAL %s must be at least 1.2x FEED_MIN_INTERVAL %s", c.PollInterval, c.FeedMinInterval)
	}

	if c.RadiusNM <= 0 || c.RadiusNM > 250 {
		add("RADIUS_NM %.1f must be in (0, 250]", c.RadiusNM)
	}
	if c.CenterLat < -90 || c.CenterLat > 90 {
		add("CENTER_LAT %.6f out of range", c.CenterLat)
	}
	if c.CenterLon < -180 || c.CenterLon > 180 {
		add("CENTER_LON %.6f out of range", c.CenterLon)
	}
	if c.HistoryMaxSamples <= 0 {
		add("HISTORY_MAX_SAMPLES must be greater than zero")
	}
	if c.MaxAircraftPerAnalysis <= 0 {
		add("MAX_AIRCRAFT_PER_ANALYSIS must be greater than zero")
	}
	if c.ReportRadiusNM <= 0 || c.ReportBandFt <= 0 {
		add("REPORT_RADIUS_NM and REPORT_BAND_FT must be greater than zero")
	}
	if c.TerrainCellDeg <= 0 || c.TerrainCellDeg > 1 {
		add("TERRAIN_CELL_DEG %.4f must be in (0, 1]", c.TerrainCellDeg)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		add("HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		add("METRICS_PORT %d out of range", c.MetricsPort)
	}

	urls := map[string]string{
		"FEED_URL":        c.FeedURL,
		"WEATHER_API_URL": c.WeatherURL,
		"TERRAIN_API_URL": c.TerrainURL,
		"LLM_BASE_URL":    c.LLMBaseURL,
		"TTS_BASE_URL":    c.TTSBaseURL,
	}
	for _, key := range slices.Sorted(maps.Keys(urls)) {
		if err := validateURL(urls[key]); err != nil {
			add("%s: %v", key, err)
		}
	}

	if c.AnalysisEnabled && c.LLMAPIKey == "" {
		add("LLM_API_KEY is required unless ANALYSIS_ENABLED=false")
	}

	if len(errs) > 0 {
		return pipeerrors.NewConfigError("validate_config", errors.Join(errs...))
	}

	if c.TTSAPIKey == "" {
		log.Warn().Msg("TTS_API_KEY not set; audio preparation disabled")
	}
	return nil
}

// AudioEnabled reports whether speech synthesis is configured.
func (c *Config) AudioEnabled() bool {
	return c.TTSAPIKey != ""
}

// Masked returns a copy safe for printing, with credentials hidden.
func (c *Config) Masked() Config {
	m := *c
	m.LLMAPIKey = utils.MaskSecret(c.LLMAPIKey)
	m.TTSAPIKey = utils.MaskSecret(c.TTSAPIKey)
	return m
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
