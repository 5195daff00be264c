// Package reference holds the read-only lookup data used during enrichment:
// terrain elevation, the facility index and the aircraft performance table.
package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"github.com/airguardian/airguardian/internal/metrics"
)

const (
	terrainSource = "usgs-epqs"

	// EPQS reports this value for points outside its coverage.
	terrainNoData = -1000000
)

// TerrainConfig configures the elevation client.
type TerrainConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CellSize float64 // degrees
}

// TerrainClient looks up ground elevation in feet. Results are cached by
// grid cell for the life of the process; failures are never cached.
type TerrainClient struct {
	baseURL    string
	timeout    time.Duration
	cellSize   float64
	httpClient *http.Client
	cache      *cache.Cache
	group      singleflight.Group
}

type epqsResponse struct {
	Value json.RawMessage `json:"value"`
}

// NewTerrainClient creates a terrain client.
func NewTerrainClient(cfg TerrainConfig) *TerrainClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = 0.01
	}
	return &TerrainClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		cellSize:   cfg.CellSize,
		httpClient: &http.Client{},
		cache:      cache.New(cache.NoExpiration, 0),
	}
}

// Elevation returns the ground elevation under the cell containing (lat, lon).
func (c *TerrainClient) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	key := geo.CellKey(lat, lon, c.cellSize)
	if v, ok := c.cache.Get(key); ok {
		if elev, ok := v.(float64); ok {
			metrics.RecordTerrainLookup("hit")
			return elev, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		cellLat := geo.RoundToCell(lat, c.cellSize)
		cellLon := geo.RoundToCell(lon, c.cellSize)
		elev, err := c.fetch(ctx, cellLat, cellLon)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, elev, cache.NoExpiration)
		metrics.SetTerrainCells(c.CachedCells())
		return elev, nil
	})
	if err != nil {
		metrics.RecordTerrainLookup("error")
		log.Debug().Err(err).Str("cell", key).Msg("Terrain lookup failed")
		return 0, err
	}
	metrics.RecordTerrainLookup("miss")
	return v.(float64), nil
}

// CachedCells returns the number of cells held in the cache.
func (c *TerrainClient) CachedCells() int {
	return c.cache.ItemCount()
}

func (c *TerrainClient) fetch(ctx context.Context, lat, lon float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("x", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("y", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("units", "Feet")
	q.Set("wkid", "4326")
	q.Set("includeDate", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, pipeerrors.NewPipelineError(pipeerrors.ErrorTypeInternal, "terrain_lookup", terrainSource, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, pipeerrors.ClassifyTransport("terrain_lookup", terrainSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, pipeerrors.WrapAPIError("terrain_lookup", terrainSource,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), resp.StatusCode)
	}

	var payload epqsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return 0, pipeerrors.WrapMalformedError("terrain_lookup", terrainSource, err)
	}
	elev, err := parseElevation(payload.Value)
	if err != nil {
		return 0, pipeerrors.WrapMalformedError("terrain_lookup", terrainSource, err)
	}
	return elev, nil
}

// parseElevation accepts the value as a JSON number or numeric string.
func parseElevation(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing elevation value")
	}

	var elev float64
	if err := json.Unmarshal(raw, &elev); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("unexpected elevation value %s", string(raw))
		}
		elev, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("unexpected elevation value %q", s)
		}
	}
	if elev <= terrainNoData {
		return 0, fmt.Errorf("no elevation data at point")
	}
	return elev, nil
}
