package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/geo"
)

const source = "aviationweather.gov"

// Config configures the report client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CenterLat float64
	CenterLon float64
	RadiusNM  float64
	MaxAge    time.Duration // PIREP look-back
	CacheTTL  time.Duration // reuse of decoded responses between refreshes
}

// Client talks to the aviationweather.gov data API. Identical requests in
// flight at the same time share one upstream call.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *cache.Cache
	group      singleflight.Group
}

// NewClient creates a report client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 90 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// PIREPs returns pilot reports inside the configured area.
func (c *Client) PIREPs(ctx context.Context) ([]Report, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("bbox", c.bbox())
	q.Set("age", strconv.FormatFloat(math.Ceil(c.config.MaxAge.Hours()*10)/10, 'f', -1, 64))

	var raw []pirepJSON
	if err := c.get(ctx, "fetch_pireps", "/pirep", q, &raw); err != nil {
		return nil, err
	}

	out := make([]Report, 0, len(raw))
	for _, p := range raw {
		if r, ok := p.toReport(); ok {
			out = append(out, r)
		}
	}
	if skipped := len(raw) - len(out); skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("Dropped PIREPs without position or time")
	}
	return out, nil
}

// SIGMETs returns the current domestic SIGMETs and AIRMETs.
func (c *Client) SIGMETs(ctx context.Context) ([]Report, error) {
	q := url.Values{}
	q.Set("format", "json")

	var raw []airSigmetJSON
	if err := c.get(ctx, "fetch_sigmets", "/airsigmet", q, &raw); err != nil {
		return nil, err
	}

	out := make([]Report, 0, len(raw))
	for _, s := range raw {
		if r, ok := s.toReport(); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// bbox returns "minLat,minLon,maxLat,maxLon" around the centre point.
func (c *Client) bbox() string {
	dLat := c.config.RadiusNM / geo.NMPerDegreeLat
	cosLat := math.Cos(c.config.CenterLat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := dLat / cosLat
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f",
		c.config.CenterLat-dLat, c.config.CenterLon-dLon,
		c.config.CenterLat+dLat, c.config.CenterLon+dLon)
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	endpoint := c.config.BaseURL + path + "?" + q.Encode()
	if cached, ok := c.cache.Get(endpoint); ok {
		if body, ok := cached.([]byte); ok {
			return decode(op, body, out)
		}
	}

	v, err, _ := c.group.Do(endpoint, func() (interface{}, error) {
		return c.fetch(ctx, op, endpoint)
	})
	if err != nil {
		return err
	}
	body := v.([]byte)
	if err := decode(op, body, out); err != nil {
		return err
	}
	c.cache.Set(endpoint, body, cache.DefaultExpiration)
	return nil
}

func (c *Client) fetch(ctx context.Context, op, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, op, source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "airguardian")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeerrors.ClassifyTransport(op, source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, pipeerrors.ClassifyTransport(op, source, err)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		body = []byte("[]")
	case resp.StatusCode != http.StatusOK:
		return nil, pipeerrors.WrapAPIError(op, source,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)), resp.StatusCode)
	}
	return body, nil
}

func decode(op string, body []byte, out interface{}) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("[]")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pipeerrors.WrapMalformedError(op, source, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
