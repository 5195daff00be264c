package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/airguardian/airguardian/internal/alerts"
	"github.com/airguardian/airguardian/internal/analysis"
	"github.com/airguardian/airguardian/internal/analysis/providers"
	"github.com/airguardian/airguardian/internal/api"
	"github.com/airguardian/airguardian/internal/config"
	"github.com/airguardian/airguardian/internal/enrich"
	"github.com/airguardian/airguardian/internal/feed"
	"github.com/airguardian/airguardian/internal/history"
	"github.com/airguardian/airguardian/internal/logging"
	"github.com/airguardian/airguardian/internal/metrics"
	"github.com/airguardian/airguardian/internal/monitoring"
	"github.com/airguardian/airguardian/internal/reference"
	"github.com/airguardian/airguardian/internal/speech"
	"github.com/airguardian/airguardian/internal/statecache"
	"github.com/airguardian/airguardian/internal/weather"
	"github.com/airguardian/airguardian/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// Baseline logger for early startup messages
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "airguardian"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "airguardian",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	log.Info().
		Str("version", Version).
		Float64("lat", cfg.CenterLat).
		Float64("lon", cfg.CenterLon).
		Float64("radiusNM", cfg.RadiusNM).
		Msg("Starting AirGuardian")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	// Reference data
	facilities, err := reference.LoadFacilities(cfg.FacilitiesPath)
	if err != nil {
		return err
	}
	performance, err := reference.DefaultPerformanceTable()
	if err != nil {
		return fmt.Errorf("load performance table: %w", err)
	}
	terrain := reference.NewTerrainClient(reference.TerrainConfig{
		BaseURL:  cfg.TerrainURL,
		Timeout:  cfg.TerrainTimeout,
		CellSize: cfg.TerrainCellDeg,
	})

	wx := weather.NewClient(weather.Config{
		BaseURL:   cfg.WeatherURL,
		Timeout:   cfg.WeatherTimeout,
		CenterLat: cfg.CenterLat,
		CenterLon: cfg.CenterLon,
		RadiusNM:  cfg.ReportRadiusNM,
		MaxAge:    cfg.ReportMaxAge,
	})
	reports := weather.NewReportSet(wx, clock)

	cache := statecache.New(cfg.StateTTL, clock)
	tracker := history.New(cfg.HistoryWindow, cfg.HistoryMaxSamples, clock)

	engine := enrich.NewEngine(enrich.Config{
		ReportRadiusNM: cfg.ReportRadiusNM,
		ReportBandFt:   cfg.ReportBandFt,
		ReportMaxAge:   cfg.ReportMaxAge,
	}, enrich.Sources{
		Terrain:     terrain,
		Facilities:  facilities,
		Performance: performance,
		Reports:     reports,
		History:     tracker,
		Stations:    wx,
	}, clock)

	// Alert lifecycle
	alerts.SetMetricHooks(
		metrics.RecordAlertCreated,
		metrics.RecordAlertUpdated,
		metrics.RecordAlertResolved,
		metrics.RecordAlertExpired,
		metrics.RecordAlertPurged,
		metrics.RecordAlertRestored,
	)
	store, err := alerts.NewSQLiteStore(cfg.AlertsDBPath)
	if err != nil {
		return fmt.Errorf("open alert store: %w", err)
	}
	defer store.Close()

	manager := alerts.NewManager(alerts.Config{
		UnresolvedExpiry:  cfg.TaskExpiry,
		ResolvedRetention: cfg.ResolvedRetention,
	}, store, clock)
	if err := manager.Load(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to load persisted alerts, starting empty")
	}

	hub := websocket.NewHub(func() websocket.InitialState {
		return websocket.InitialState{Alerts: manager.List(true), Planes: cache.Get()}
	}, cfg.AllowedOrigins)
	manager.OnChange(func() {
		hub.BroadcastAlerts(manager.List(true))
	})

	deps := monitoring.Deps{
		Fetcher: feed.NewClient(feed.Config{
			BaseURL:     cfg.FeedURL,
			CenterLat:   cfg.CenterLat,
			CenterLon:   cfg.CenterLon,
			RadiusNM:    cfg.RadiusNM,
			Timeout:     cfg.FeedTimeout,
			MinInterval: cfg.FeedMinInterval,
		}, clock),
		Cache:    cache,
		History:  tracker,
		Enricher: engine,
		Alerts:   manager,
		Reports:  reports,
		Hub:      hub,
	}

	if cfg.AnalysisEnabled {
		provider := providers.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL, cfg.AnalysisTimeout)
		deps.Analyzer = analysis.NewInvoker(provider, analysis.Config{
			Model:   cfg.LLMModel,
			Timeout: cfg.AnalysisTimeout,
		}, clock)
	} else {
		log.Warn().Msg("Analysis disabled; no alerts will be created")
	}

	var tts *speech.Client
	if cfg.AudioEnabled() {
		tts = speech.NewClient(speech.Config{
			BaseURL:      cfg.TTSBaseURL,
			APIKey:       cfg.TTSAPIKey,
			VoiceID:      cfg.TTSVoiceID,
			ModelID:      cfg.TTSModelID,
			OutputFormat: cfg.TTSOutputFormat,
		})
		preparer, err := speech.NewPreparer(tts, manager, cfg.AudioDir, cfg.MaxHighAudio)
		if err != nil {
			log.Error().Err(err).Msg("Audio preparation unavailable")
		} else {
			deps.Audio = preparer
		}
	}

	monitor := monitoring.New(monitoring.Config{
		Intervals: monitoring.Intervals{
			Poll:          cfg.PollInterval,
			Analysis:      cfg.AnalysisInterval,
			AlertSweep:    cfg.AlertSweepInterval,
			HistorySweep:  cfg.HistorySweepInterval,
			ReportRefresh: cfg.ReportRefreshInterval,
		},
		MaxAircraft: cfg.MaxAircraftPerAnalysis,
	}, deps, clock)

	apiDeps := api.Deps{
		Planes:    cache,
		Alerts:    manager,
		Reports:   reports,
		Stations:  wx,
		WebSocket: hub.HandleWebSocket,
	}
	if tts != nil {
		apiDeps.Speech = tts
	}
	router := api.NewRouter(api.Config{
		AudioDir:          cfg.AudioDir,
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerSecond: 20,
		Burst:             40,
	}, apiDeps)

	// ReadHeaderTimeout rather than ReadTimeout so websocket connections are not cut
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort)),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsSrv := newMetricsServer(net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.MetricsPort)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error { return serve(gctx, srv, "api") })
	g.Go(func() error { return serve(gctx, metricsSrv, "metrics") })

	err = g.Wait()
	log.Info().Msg("Shutting down")

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ferr := manager.Stop(flushCtx); ferr != nil {
		err = errors.Join(err, ferr)
	}

	log.Info().Msg("Server stopped")
	return err
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("server", name).Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("server", name).Msg("Server shutdown error")
	}
	return <-errCh
}
