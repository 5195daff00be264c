// Package models holds the record types shared by the ingestion, enrichment
// and alerting components.
package models

import (
	"strings"
	"time"
)

// Aircraft is one tracked entity as observed in a single poll cycle.
// Optional numeric fields are nil when the feed did not report them.
type Aircraft struct {
	ID              string    `json:"hex"`
	Callsign        string    `json:"flight,omitempty"`
	Registration    string    `json:"registration,omitempty"`
	Type            string    `json:"type,omitempty"`
	Lat             *float64  `json:"lat,omitempty"`
	Lon             *float64  `json:"lon,omitempty"`
	AltitudeFt      *float64  `json:"alt_baro,omitempty"` // barometric, feet MSL
	OnGround        bool      `json:"on_ground,omitempty"`
	GroundSpeedKt   *float64  `json:"gs,omitempty"`
	VerticalRateFpm *float64  `json:"baro_rate,omitempty"`
	HeadingDeg      *float64  `json:"track,omitempty"`
	Squawk          string    `json:"squawk,omitempty"`
	SeenAt          time.Time `json:"seen_at"`
}

// HasPosition reports whether both coordinates are known.
func (a Aircraft) HasPosition() bool {
	return a.Lat != nil && a.Lon != nil
}

// Label returns the best human-readable name for the entity.
func (a Aircraft) Label() string {
	if a.Callsign != "" {
		return a.Callsign
	}
	if a.Registration != "" {
		return a.Registration
	}
	return a.ID
}

// Sample is one point of an entity's trailing history.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltitudeFt *float64  `json:"altitude_ft,omitempty"`
	SpeedKt    *float64  `json:"speed_kt,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
}

// SampleFromAircraft converts a snapshot record into a history sample.
// It returns false when the record has no position.
func SampleFromAircraft(a Aircraft, at time.Time) (Sample, bool) {
	if !a.HasPosition() {
		return Sample{}, false
	}
	return Sample{
		Timestamp:  at,
		Lat:        *a.Lat,
		Lon:        *a.Lon,
		AltitudeFt: a.AltitudeFt,
		SpeedKt:    a.GroundSpeedKt,
		HeadingDeg: a.HeadingDeg,
	}, true
}

// Severity is the urgency of a finding or alert.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Rank orders severities for display: HIGH first, unranked last.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// ParseSeverity normalizes a severity string. Unrecognized values return false.
func ParseSeverity(value string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "HIGH", "CRITICAL":
		return SeverityHigh, true
	case "MEDIUM", "MODERATE":
		return SeverityMedium, true
	case "LOW", "ADVISORY":
		return SeverityLow, true
	default:
		return "", false
	}
}

// Category groups findings by the kind of hazard.
type Category string

const (
	CategoryLowAltitude   Category = "low-altitude"
	CategoryAltitude      Category = "altitude"
	CategorySpeed         Category = "speed"
	CategoryDescentRate   Category = "descent-rate"
	CategoryWeatherHazard Category = "weather-hazard"
	CategoryPattern       Category = "pattern"
	CategoryAirspace      Category = "airspace"
	CategoryOther         Category = "other"
)

var categoryAliases = map[string]Category{
	"low altitude":     CategoryLowAltitude,
	"low-altitude":     CategoryLowAltitude,
	"low alt":          CategoryLowAltitude,
	"altitude warning": CategoryAltitude,
	"altitude":         CategoryAltitude,
	"speed warning":    CategorySpeed,
	"speed":            CategorySpeed,
	"descent rate":     CategoryDescentRate,
	"descent-rate":     CategoryDescentRate,
	"weather hazard":   CategoryWeatherHazard,
	"weather-hazard":   CategoryWeatherHazard,
	"weather":          CategoryWeatherHazard,
	"unusual pattern":  CategoryPattern,
	"pattern":          CategoryPattern,
	"airspace concern": CategoryAirspace,
	"airspace":         CategoryAirspace,
	"other":            CategoryOther,
}

// ParseCategory maps free-form category text onto the enumeration.
// Unknown text maps to CategoryOther.
func ParseCategory(value string) Category {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, "_", " ")
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	if c, ok := categoryAliases[strings.ReplaceAll(key, " ", "-")]; ok {
		return c
	}
	return CategoryOther
}

// Finding is one analysis-produced observation about one entity.
type Finding struct {
	EntityID    string   `json:"aircraft_icao24"`
	Callsign    string   `json:"aircraft_callsign,omitempty"`
	Category    Category `json:"category"`
	Severity    Severity `json:"priority"`
	Summary     string   `json:"summary"`
	Rationale   string   `json:"description"`
	Phraseology string   `json:"pilot_message"`
}

// Fingerprint returns the deduplication key of the finding.
func (f Finding) Fingerprint() Fingerprint {
	return Fingerprint{EntityID: f.EntityID, Category: f.Category, Severity: f.Severity}
}

// Fingerprint identifies an issue independently of alert ids.
type Fingerprint struct {
	EntityID string
	Category Category
	Severity Severity
}

func (f Fingerprint) String() string {
	return f.EntityID + "_" + string(f.Category) + "_" + string(f.Severity)
}

// Alert is the persisted, deduplicated, resolvable unit presented to operators.
type Alert struct {
	ID          int64      `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	EntityID    string     `json:"aircraft_icao24"`
	Callsign    string     `json:"aircraft_callsign,omitempty"`
	Category    Category   `json:"category"`
	Severity    Severity   `json:"priority"`
	Summary     string     `json:"summary"`
	Rationale   string     `json:"description"`
	Phraseology string     `json:"pilot_message"`
	AudioRef    string     `json:"audio_file,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeenAt  time.Time  `json:"last_seen"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	TimesSeen   int        `json:"times_seen"`
}

// Key returns the structured fingerprint of the alert.
func (a *Alert) Key() Fingerprint {
	return Fingerprint{EntityID: a.EntityID, Category: a.Category, Severity: a.Severity}
}
