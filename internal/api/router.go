// Package api serves the HTTP surface: aircraft, alerts, audio, weather,
// speech and the websocket endpoint.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/weather"
)

// PlaneSource returns the live aircraft snapshot.
type PlaneSource interface {
	Get() []models.Aircraft
	Lookup(id string) (models.Aircraft, bool)
	// Age is the time since the last snapshot; ok is false before the first.
	Age() (time.Duration, bool)
	TTL() time.Duration
}

// AlertService is the read/resolve surface of the alert manager.
type AlertService interface {
	List(unresolvedOnly bool) []models.Alert
	Resolve(id int64) bool
}

// ReportSource returns the current environmental reports.
type ReportSource interface {
	Reports() []weather.Report
	RefreshedAt(kind weather.Kind) (time.Time, bool)
}

// StationSource fetches terminal observations and forecasts.
type StationSource interface {
	METAR(ctx context.Context, station string) (weather.METAR, error)
	TAF(ctx context.Context, station string) (weather.TAF, error)
}

// Synthesizer turns text into MPEG audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config configures the router.
type Config struct {
	AudioDir       string
	AllowedOrigins []string
	// RequestsPerSecond of zero disables per-client rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// Deps are the components behind the routes. Planes and Alerts are
// required; routes backed by a nil optional dependency answer 503.
type Deps struct {
	Planes    PlaneSource
	Alerts    AlertService
	Reports   ReportSource
	Stations  StationSource
	Speech    Synthesizer
	WebSocket http.HandlerFunc
}

// Router handles HTTP routing
type Router struct {
	mux     *http.ServeMux
	config  Config
	deps    Deps
	limiter *RateLimiter
	started time.Time
}

// NewRouter creates a router with every route registered.
func NewRouter(cfg Config, deps Deps) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		deps:    deps,
		started: time.Now(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond * 2)
		}
		r.limiter = NewRateLimiter(cfg.RequestsPerSecond, burst, 0)
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /api/planes", r.limited(r.handlePlanes))
	r.mux.Handle("GET /api/planes/{hex}", r.limited(r.handlePlane))
	r.mux.Handle("GET /api/tasks", r.limited(r.handleTasks))
	r.mux.Handle("POST /api/tasks/resolve", r.limited(r.handleResolve))
	r.mux.Handle("GET /api/tasks/audio/{filename}", r.limited(r.handleAudio))
	r.mux.Handle("GET /api/reports", r.limited(r.handleReports))
	r.mux.Handle("GET /api/weather/metar/{station}", r.limited(r.handleMETAR))
	r.mux.Handle("GET /api/weather/taf/{station}", r.limited(r.handleTAF))
	r.mux.Handle("GET /api/weather/sigmets", r.limited(r.handleSIGMETs))
	r.mux.Handle("POST /api/tts/speak", r.limited(r.handleSpeak))
	if r.deps.WebSocket != nil {
		r.mux.HandleFunc("GET /ws", r.deps.WebSocket)
	}
}

func (r *Router) limited(h http.HandlerFunc) http.Handler {
	if r.limiter == nil {
		return h
	}
	return r.limiter.Middleware(h)
}

// Handler returns the fully wrapped handler.
func (r *Router) Handler() http.Handler {
	return ErrorHandler(r.cors(r.mux))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Handler().ServeHTTP(w, req)
}

func (r *Router) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" && r.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) originAllowed(origin string) bool {
	return slices.Contains(r.config.AllowedOrigins, "*") || slices.Contains(r.config.AllowedOrigins, origin)
}
