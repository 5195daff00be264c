package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/airguardian/airguardian/internal/geo"
)

// Facility is one airport from the reference dataset.
type Facility struct {
	Ident        string   `json:"ident"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	ElevationFt  *float64 `json:"elevation_ft,omitempty"`
	Country      string   `json:"country,omitempty"`
	Municipality string   `json:"municipality,omitempty"`
	IATA         string   `json:"iata,omitempty"`
}

var keptFacilityTypes = map[string]bool{
	"large_airport":  true,
	"medium_airport": true,
	"small_airport":  true,
}

// FacilityIndex answers nearest-facility queries. Facilities are kept
// sorted by latitude so a query only scans the band that can still beat
// the best distance found so far.
type FacilityIndex struct {
	items []Facility
}

// NewFacilityIndex builds an index over the given facilities.
func NewFacilityIndex(items []Facility) *FacilityIndex {
	sorted := make([]Facility, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lat < sorted[j].Lat })
	return &FacilityIndex{items: sorted}
}

// LoadFacilities reads an OurAirports-style CSV file. An empty path yields
// an empty index.
func LoadFacilities(path string) (*FacilityIndex, error) {
	if strings.TrimSpace(path) == "" {
		log.Warn().Msg("No facility dataset configured; nearest-facility enrichment disabled")
		return NewFacilityIndex(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open facility dataset: %w", err)
	}
	defer f.Close()

	items, err := ParseFacilities(f)
	if err != nil {
		return nil, fmt.Errorf("parse facility dataset %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("facilities", len(items)).Msg("Loaded facility index")
	return NewFacilityIndex(items), nil
}

// ParseFacilities decodes the CSV. Columns are located by header name;
// rows with unusable coordinates or unsupported types are skipped.
func ParseFacilities(r io.Reader) ([]Facility, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"ident", "type", "latitude_deg", "longitude_deg"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Facility
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		kind := field(rec, "type")
		if !keptFacilityTypes[kind] {
			continue
		}
		lat, errLat := strconv.ParseFloat(field(rec, "latitude_deg"), 64)
		lon, errLon := strconv.ParseFloat(field(rec, "longitude_deg"), 64)
		if errLat != nil || errLon != nil {
			skipped++
			continue
		}

		fac := Facility{
			Ident:        field(rec, "ident"),
			Type:         kind,
			Name:         field(rec, "name"),
			Lat:          lat,
			Lon:          lon,
			Country:      field(rec, "iso_country"),
			Municipality: field(rec, "municipality"),
			IATA:         field(rec, "iata_code"),
		}
		if elev, err := strconv.ParseFloat(field(rec, "elevation_ft"), 64); err == nil {
			fac.ElevationFt = &elev
		}
		out = append(out, fac)
	}

	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("Skipped facility rows with invalid coordinates")
	}
	return out, nil
}

// Len returns the number of indexed facilities.
func (idx *FacilityIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.items)
}

// Nearest returns the closest facility by great-circle distance and the
// distance in nautical miles. ok is false when the index is empty.
func (idx *FacilityIndex) Nearest(lat, lon float64) (fac Facility, distNM float64, ok bool) {
	if idx.Len() == 0 {
		return Facility{}, 0, false
	}

	start := sort.Search(len(idx.items), func(i int) bool { return idx.items[i].Lat >= lat })
	best := math.Inf(1)
	bestIdx := -1

	// The great-circle distance is never shorter than the meridian
	// distance between the two latitudes.
	bound := func(i int) float64 {
		return geo.EarthRadiusNM * math.Abs(idx.items[i].Lat-lat) * math.Pi / 180
	}
	visit := func(i int) {
		d := geo.DistanceNM(lat, lon, idx.items[i].Lat, idx.items[i].Lon)
		if d < best {
			best = d
			bestIdx = i
		}
	}

	for i := start; i < len(idx.items); i++ {
		if bound(i) >= best {
			break
		}
		visit(i)
	}
	for i := start - 1; i >= 0; i-- {
		if bound(i) >= best {
			break
		}
		visit(i)
	}

	return idx.items[bestIdx], best, true
}
