// Package enrich joins entity snapshots with reference data, history and
// environmental reports to build the context handed to analysis.
package enrich

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/reference"
	"github.com/airguardian/airguardian/internal/weather"
)

// ElevationSource returns ground elevation in feet.
type ElevationSource interface {
	Elevation(ctx context.Context, lat, lon float64) (float64, error)
}

// FacilityFinder returns the closest facility to a point.
type FacilityFinder interface {
	Nearest(lat, lon float64) (reference.Facility, float64, bool)
}

// EnvelopeSource resolves a type designator to a performance envelope.
type EnvelopeSource interface {
	Lookup(typeCode string) (reference.Envelope, bool)
}

// ReportSource returns the current environmental reports.
type ReportSource interface {
	Reports() []weather.Report
}

// HistorySource returns an entity's retained samples, oldest first.
type HistorySource interface {
	Recent(id string) []models.Sample
}

// StationSource returns the latest surface observation at a station.
type StationSource interface {
	METAR(ctx context.Context, station string) (weather.METAR, error)
}

// Sources groups the collaborators of the engine. Any of them may be nil,
// in which case the corresponding fields stay unknown.
type Sources struct {
	Terrain     ElevationSource
	Facilities  FacilityFinder
	Performance EnvelopeSource
	Reports     ReportSource
	History     HistorySource
	Stations    StationSource
}

// Config holds the report window and batch fan-out.
type Config struct {
	ReportRadiusNM float64
	ReportBandFt   float64
	ReportMaxAge   time.Duration
	Concurrency    int
}

// Engine builds enriched contexts. It holds no state of its own.
type Engine struct {
	config  Config
	sources Sources
	clock   clockwork.Clock
}

// NewEngine creates an engine.
func NewEngine(cfg Config, sources Sources, clock clockwork.Clock) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{config: cfg, sources: sources, clock: clock}
}

// Enrich builds the context for one entity. A failed sub-lookup leaves its
// fields unknown; enrichment itself never fails.
func (e *Engine) Enrich(ctx context.Context, a models.Aircraft) Context {
	return e.enrich(ctx, a, e.currentReports())
}

// EnrichBatch enriches entities concurrently and returns contexts in input order.
func (e *Engine) EnrichBatch(ctx context.Context, batch []models.Aircraft) []Context {
	out := make([]Context, len(batch))
	reports := e.currentReports()

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i := range batch {
		g.Go(func() error {
			out[i] = e.enrich(ctx, batch[i], reports)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) currentReports() []weather.Report {
	if e.sources.Reports == nil {
		return nil
	}
	return e.sources.Reports.Reports()
}

func (e *Engine) enrich(ctx context.Context, a models.Aircraft, reports []weather.Report) Context {
	now := e.clock.Now()
	c := Context{Aircraft: a, AGLBand: AGLUnknown}

	if code, ok := emergencySquawks[a.Squawk]; ok {
		c.EmergencySquawk = code
	}

	if e.sources.History != nil {
		c.History = e.sources.History.Recent(a.ID)
		c.Trend = deriveTrend(c.History)
	}

	if env, ok := e.lookupEnvelope(a.Type); ok {
		c.Envelope = &env
		if !a.OnGround && a.GroundSpeedKt != nil {
			c.SpeedAssessment = assessSpeed(*a.GroundSpeedKt, env)
		}
	}

	if !a.HasPosition() {
		return c
	}
	lat, lon := *a.Lat, *a.Lon

	e.enrichTerrain(ctx, &c, lat, lon)
	e.enrichFacility(&c, lat, lon)
	e.enrichStation(ctx, &c)
	c.Reports = e.matchReports(reports, a, lat, lon, now)

	if night, err := isNight(lat, lon, now); err == nil {
		c.Night = &night
	}
	return c
}

func (e *Engine) lookupEnvelope(typeCode string) (reference.Envelope, bool) {
	if e.sources.Performance == nil || typeCode == "" {
		return reference.Envelope{}, false
	}
	return e.sources.Performance.Lookup(typeCode)
}

func (e *Engine) enrichTerrain(ctx context.Context, c *Context, lat, lon float64) {
	if c.Aircraft.OnGround {
		c.AGLBand = AGLGround
		return
	}
	if e.sources.Terrain == nil {
		return
	}
	elev, err := e.sources.Terrain.Elevation(ctx, lat, lon)
	if err != nil {
		log.Debug().Err(err).Str("entity", c.Aircraft.ID).Msg("Terrain unavailable; AGL unknown")
		return
	}
	c.GroundElevationFt = &elev
	if c.Aircraft.AltitudeFt == nil {
		return
	}
	agl := *c.Aircraft.AltitudeFt - elev
	c.AltitudeAGLFt = &agl
	c.AGLBand = aglBand(agl)
}

func (e *Engine) enrichFacility(c *Context, lat, lon float64) {
	if e.sources.Facilities == nil {
		return
	}
	fac, dist, ok := e.sources.Facilities.Nearest(lat, lon)
	if !ok {
		return
	}
	c.NearestFacility = &FacilityContext{
		Ident:        fac.Ident,
		Name:         fac.Name,
		Type:         fac.Type,
		DistanceNM:   dist,
		Proximity:    proximity(dist),
		ElevationFt:  fac.ElevationFt,
		Municipality: fac.Municipality,
	}
	c.InExpectedCorridor = c.NearestFacility.Proximity == ProximityNear
}

// enrichStation attaches the nearest facility's current observation.
func (e *Engine) enrichStation(ctx context.Context, c *Context) {
	if e.sources.Stations == nil || c.NearestFacility == nil {
		return
	}
	metar, err := e.sources.Stations.METAR(ctx, c.NearestFacility.Ident)
	if err != nil {
		log.Debug().Err(err).Str("station", c.NearestFacility.Ident).Msg("Station weather unavailable")
		return
	}
	c.StationWeather = &metar
}

// matchReports keeps reports within the horizontal, vertical and age
// windows. When either side has no altitude the vertical test is skipped.
// Advisories are current from their validity start until their validity end.
func (e *Engine) matchReports(reports []weather.Report, a models.Aircraft, lat, lon float64, now time.Time) []ReportContext {
	var out []ReportContext
	for _, r := range reports {
		if r.NotYetValid(now) {
			continue
		}
		age := now.Sub(r.ObservedAt)
		if age < 0 {
			age = 0
		}
		if r.ValidUntil != nil {
			if now.After(*r.ValidUntil) {
				continue
			}
		} else if age > e.config.ReportMaxAge {
			continue
		}

		dist := r.DistanceNM(lat, lon)
		if dist > e.config.ReportRadiusNM {
			continue
		}

		rc := ReportContext{Report: r, DistanceNM: dist, AgeMinutes: age.Minutes()}
		if a.AltitudeFt != nil {
			if sep, ok := r.VerticalSeparation(*a.AltitudeFt); ok {
				if sep > e.config.ReportBandFt {
					continue
				}
				rc.VerticalSeparationFt = &sep
			}
		}
		out = append(out, rc)
	}
	return out
}
