package enrich

import (
	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/reference"
	"github.com/airguardian/airguardian/internal/weather"
)

// AGL bands.
const (
	AGLWarning = "warning"
	AGLCaution = "caution"
	AGLNormal  = "normal"
	AGLGround  = "ground"
	AGLUnknown = "unknown"
)

// Facility proximity bands.
const (
	ProximityNear     = "near"
	ProximityVicinity = "vicinity"
	ProximityFar      = "far"
)

// Speed assessments.
const (
	SpeedNearStall   = "near-stall"
	SpeedBelowCruise = "below-cruise"
	SpeedAboveCruise = "above-cruise"
	SpeedNormal      = "normal"
)

// Context is the enriched, non-persisted view of one entity handed to
// analysis. Pointer fields are nil when the value is unknown.
type Context struct {
	Aircraft models.Aircraft `json:"aircraft"`

	GroundElevationFt *float64 `json:"ground_elevation_ft,omitempty"`
	AltitudeAGLFt     *float64 `json:"altitude_agl_ft,omitempty"`
	AGLBand           string   `json:"agl_band"`

	NearestFacility    *FacilityContext `json:"nearest_facility,omitempty"`
	InExpectedCorridor bool             `json:"in_expected_corridor"`

	Envelope        *reference.Envelope `json:"performance,omitempty"`
	SpeedAssessment string              `json:"speed_assessment,omitempty"`

	Reports        []ReportContext `json:"weather_reports,omitempty"`
	StationWeather *weather.METAR  `json:"station_weather,omitempty"`

	History []models.Sample `json:"history,omitempty"`
	Trend   *Trend          `json:"trend,omitempty"`

	EmergencySquawk string `json:"emergency_squawk,omitempty"`
	Night           *bool  `json:"night,omitempty"`
}

// FacilityContext is the nearest facility and its distance.
type FacilityContext struct {
	Ident        string   `json:"ident"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	DistanceNM   float64  `json:"distance_nm"`
	Proximity    string   `json:"proximity"`
	ElevationFt  *float64 `json:"elevation_ft,omitempty"`
	Municipality string   `json:"municipality,omitempty"`
}

// ReportContext annotates a matching environmental report.
type ReportContext struct {
	weather.Report
	DistanceNM           float64  `json:"distance_nm"`
	VerticalSeparationFt *float64 `json:"vertical_separation_ft,omitempty"`
	AgeMinutes           float64  `json:"age_minutes"`
}

// Trend summarises the retained history window.
type Trend struct {
	WindowSeconds    float64  `json:"window_seconds"`
	Samples          int      `json:"samples"`
	AltitudeChangeFt *float64 `json:"altitude_change_ft,omitempty"`
	ClimbRateFpm     *float64 `json:"climb_rate_fpm,omitempty"`
	HeadingChangeDeg *float64 `json:"heading_change_deg,omitempty"`
	SpeedChangeKt    *float64 `json:"speed_change_kt,omitempty"`
}
