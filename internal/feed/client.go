// Package feed fetches aircraft snapshots from the airplanes.live point API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/models"
)

const source = "airplanes.live"

// Config configures the feed client.
type Config struct {
	BaseURL     string
	CenterLat   float64
	CenterLon   float64
	RadiusNM    float64
	Timeout     time.Duration
	MinInterval time.Duration // upstream request floor
}

// Client fetches snapshots. Calls are spaced at least MinInterval apart.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	clock      clockwork.Clock
}

// NewClient creates a feed client.
func NewClient(cfg Config, clock clockwork.Clock) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		clock:      clock,
	}
}

type pointResponse struct {
	Aircraft []aircraftJSON `json:"ac"`
	Message  string         `json:"msg"`
	Now      float64        `json:"now"`
	Total    int            `json:"total"`
}

type aircraftJSON struct {
	Hex      string       `json:"hex"`
	Flight   string       `json:"flight"`
	Reg      string       `json:"r"`
	Type     string       `json:"t"`
	Lat      *float64     `json:"lat"`
	Lon      *float64     `json:"lon"`
	AltBaro  altitudeJSON `json:"alt_baro"`
	GS       *float64     `json:"gs"`
	BaroRate *float64     `json:"baro_rate"`
	Track    *float64     `json:"track"`
	Squawk   string       `json:"squawk"`
}

// altitudeJSON is a number of feet or the string "ground".
type altitudeJSON struct {
	Feet     *float64
	OnGround bool
}

func (a *altitudeJSON) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		if strings.EqualFold(strings.TrimSpace(unq), "ground") {
			zero := 0.0
			a.Feet, a.OnGround = &zero, true
			return nil
		}
		s = unq
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		// Unknown altitude encodings are treated as absent.
		return nil
	}
	a.Feet = &v
	return nil
}

// Fetch returns the entities currently within the configured radius.
func (c *Client) Fetch(ctx context.Context) ([]models.Aircraft, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeRateLimited, "fetch_aircraft", source, err)
	}

	endpoint := fmt.Sprintf("%s/point/%s/%s/%s", c.config.BaseURL,
		strconv.FormatFloat(c.config.CenterLat, 'f', -1, 64),
		strconv.FormatFloat(c.config.CenterLon, 'f', -1, 64),
		strconv.FormatFloat(c.config.RadiusNM, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, "fetch_aircraft", source, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeerrors.ClassifyTransport("fetch_aircraft", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, pipeerrors.WrapAPIError("fetch_aircraft", source,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), resp.StatusCode)
	}

	var payload pointResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&payload); err != nil {
		return nil, pipeerrors.WrapMalformedError("fetch_aircraft", source, err)
	}

	seenAt := c.clock.Now()
	out := make([]models.Aircraft, 0, len(payload.Aircraft))
	dropped := 0
	for _, raw := range payload.Aircraft {
		a, ok := raw.toModel(seenAt)
		if !ok {
			dropped++
			continue
		}
		out = append(out, a)
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("Dropped feed records without an identity")
	}
	return out, nil
}

func (r aircraftJSON) toModel(seenAt time.Time) (models.Aircraft, bool) {
	id := strings.ToLower(strings.TrimSpace(r.Hex))
	if id == "" {
		return models.Aircraft{}, false
	}
	return models.Aircraft{
		ID:              id,
		Callsign:        strings.TrimSpace(r.Flight),
		Registration:    strings.TrimSpace(r.Reg),
		Type:            strings.ToUpper(strings.TrimSpace(r.Type)),
		Lat:             r.Lat,
		Lon:             r.Lon,
		AltitudeFt:      r.AltBaro.Feet,
		OnGround:        r.AltBaro.OnGround,
		GroundSpeedKt:   r.GS,
		VerticalRateFpm: r.BaroRate,
		HeadingDeg:      r.Track,
		Squawk:          strings.TrimSpace(r.Squawk),
		SeenAt:          seenAt,
	}, true
}
