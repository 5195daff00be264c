package reference

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed performance.yaml
var defaultPerformanceYAML []byte

// Envelope is the nominal performance of one aircraft type. Speeds are knots.
type Envelope struct {
	Type              string  `json:"type"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	StallSpeedClean   float64 `json:"stall_speed_clean"`
	StallSpeedLanding float64 `json:"stall_speed_landing"`
	TypicalCruise     float64 `json:"typical_cruise"`
	CruiseMin         float64 `json:"cruise_min"`
	CruiseMax         float64 `json:"cruise_max"`
	MaxSpeed          float64 `json:"max_speed"`
}

type envelopeYAML struct {
	Name              string    `yaml:"name"`
	Category          string    `yaml:"category"`
	StallSpeedClean   float64   `yaml:"stall_speed_clean"`
	StallSpeedLanding float64   `yaml:"stall_speed_landing"`
	TypicalCruise     float64   `yaml:"typical_cruise"`
	CruiseRange       []float64 `yaml:"cruise_range"`
	MaxSpeed          float64   `yaml:"max_speed"`
}

// PerformanceTable maps ICAO type designators to envelopes.
type PerformanceTable struct {
	entries map[string]Envelope
}

// DefaultPerformanceTable parses the embedded table.
func DefaultPerformanceTable() (*PerformanceTable, error) {
	return ParsePerformanceTable(defaultPerformanceYAML)
}

// ParsePerformanceTable decodes a YAML document keyed by type designator.
func ParsePerformanceTable(data []byte) (*PerformanceTable, error) {
	var raw map[string]envelopeYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode performance table: %w", err)
	}

	entries := make(map[string]Envelope, len(raw))
	for code, e := range raw {
		key := normalizeType(code)
		if key == "" {
			continue
		}
		if len(e.CruiseRange) != 2 || e.CruiseRange[0] > e.CruiseRange[1] {
			return nil, fmt.Errorf("type %s: cruise_range must be [min, max]", key)
		}
		if e.StallSpeedClean <= 0 {
			return nil, fmt.Errorf("type %s: stall_speed_clean must be positive", key)
		}
		entries[key] = Envelope{
			Type:              key,
			Name:              e.Name,
			Category:          e.Category,
			StallSpeedClean:   e.StallSpeedClean,
			StallSpeedLanding: e.StallSpeedLanding,
			TypicalCruise:     e.TypicalCruise,
			CruiseMin:         e.CruiseRange[0],
			CruiseMax:         e.CruiseRange[1],
			MaxSpeed:          e.MaxSpeed,
		}
	}
	return &PerformanceTable{entries: entries}, nil
}

// Lookup returns the envelope for a type designator.
func (t *PerformanceTable) Lookup(typeCode string) (Envelope, bool) {
	if t == nil {
		return Envelope{}, false
	}
	e, ok := t.entries[normalizeType(typeCode)]
	return e, ok
}

// Types returns the known designators in sorted order.
func (t *PerformanceTable) Types() []string {
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeType(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
