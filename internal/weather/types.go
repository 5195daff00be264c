// Package weather fetches pilot reports and SIGMETs and keeps the most
// recent successfully refreshed set in memory.
package weather

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/airguardian/airguardian/internal/geo"
)

// Kind distinguishes report sources.
type Kind string

const (
	KindPIREP  Kind = "pirep"
	KindSIGMET Kind = "sigmet"
)

// Report is one environmental report normalised from either source.
// PIREPs carry a single altitude; SIGMETs carry a band and a polygon. The
// polygon centroid is reported as the position.
type Report struct {
	ID             string      `json:"id"`
	Kind           Kind        `json:"kind"`
	Category       string      `json:"category"`
	Severity       string      `json:"severity,omitempty"`
	Lat            float64     `json:"lat"`
	Lon            float64     `json:"lon"`
	AltitudeFt     *float64    `json:"altitude_ft,omitempty"`
	AltitudeLowFt  *float64    `json:"altitude_low_ft,omitempty"`
	AltitudeHighFt *float64    `json:"altitude_high_ft,omitempty"`
	ObservedAt     time.Time   `json:"observed_at"`
	ValidUntil     *time.Time  `json:"valid_until,omitempty"`
	Polygon        []geo.Point `json:"polygon,omitempty"`
	AircraftType   string      `json:"aircraft_type,omitempty"`
	Raw            string      `json:"raw,omitempty"`
}

// DistanceNM returns the horizontal distance from a point to the report.
// Area advisories measure to their polygon, so a point inside is at 0.
func (r Report) DistanceNM(lat, lon float64) float64 {
	if len(r.Polygon) >= 3 {
		return geo.DistanceToPolygonNM(r.Polygon, geo.Point{Lat: lat, Lon: lon})
	}
	return geo.DistanceNM(lat, lon, r.Lat, r.Lon)
}

// NotYetValid reports whether an advisory's validity starts after now.
// Observations such as PIREPs are never early.
func (r Report) NotYetValid(now time.Time) bool {
	return r.Kind == KindSIGMET && r.ObservedAt.After(now)
}

// VerticalSeparation returns the distance in feet between altitudeFt and the
// report's altitude or band. ok is false when the report has no altitude.
func (r Report) VerticalSeparation(altitudeFt float64) (float64, bool) {
	switch {
	case r.AltitudeFt != nil:
		d := altitudeFt - *r.AltitudeFt
		if d < 0 {
			d = -d
		}
		return d, true
	case r.AltitudeLowFt != nil || r.AltitudeHighFt != nil:
		low, high := 0.0, 60000.0
		if r.AltitudeLowFt != nil {
			low = *r.AltitudeLowFt
		}
		if r.AltitudeHighFt != nil {
			high = *r.AltitudeHighFt
		}
		switch {
		case altitudeFt < low:
			return low - altitudeFt, true
		case altitudeFt > high:
			return altitudeFt - high, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// flexNumber decodes a JSON number or a numeric string. Anything else,
// including null, leaves it unset.
type flexNumber struct {
	Value float64
	Set   bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	// Visibility is reported as "10+" beyond the measured range
	s = strings.TrimSuffix(s, "+")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value, f.Set = v, true
	return nil
}

func (f flexNumber) ptr() *float64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// rawID renders a JSON scalar id without quotes.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(unq)
	}
	return s
}

type pirepJSON struct {
	PirepID   json.RawMessage `json:"pirepId"`
	ObsTime   flexNumber      `json:"obsTime"`
	IcaoID    string          `json:"icaoId"`
	AcType    string          `json:"acType"`
	Lat       flexNumber      `json:"lat"`
	Lon       flexNumber      `json:"lon"`
	FltLvl    flexNumber      `json:"fltLvl"`
	TbInt1    string          `json:"tbInt1"`
	IcgInt1   string          `json:"icgInt1"`
	WxString  string          `json:"wxString"`
	PirepType string          `json:"pirepType"`
	RawOb     string          `json:"rawOb"`
}

type airSigmetJSON struct {
	AirSigmetID   json.RawMessage `json:"airSigmetId"`
	AirSigmetType string          `json:"airSigmetType"`
	Hazard        string          `json:"hazard"`
	Severity      flexNumber      `json:"severity"`
	ValidTimeFrom flexNumber      `json:"validTimeFrom"`
	ValidTimeTo   flexNumber      `json:"validTimeTo"`
	AltitudeLow1  flexNumber      `json:"altitudeLow1"`
	AltitudeHi1   flexNumber      `json:"altitudeHi1"`
	Coords        []struct {
		Lat flexNumber `json:"lat"`
		Lon flexNumber `json:"lon"`
	} `json:"coords"`
	RawAirSigmet string `json:"rawAirSigmet"`
}

// toReport converts a PIREP. Reports without a position or time are skipped.
func (p pirepJSON) toReport() (Report, bool) {
	if !p.Lat.Set || !p.Lon.Set || !p.ObsTime.Set {
		return Report{}, false
	}

	r := Report{
		ID:           "pirep-" + rawID(p.PirepID),
		Kind:         KindPIREP,
		Lat:          p.Lat.Value,
		Lon:          p.Lon.Value,
		ObservedAt:   time.Unix(int64(p.ObsTime.Value), 0).UTC(),
		AircraftType: strings.TrimSpace(p.AcType),
		Raw:          strings.TrimSpace(p.RawOb),
	}
	if rawID(p.PirepID) == "" {
		r.ID = "pirep-" + strconv.FormatInt(int64(p.ObsTime.Value), 10) + "-" + p.IcaoID
	}
	if p.FltLvl.Set {
		alt := p.FltLvl.Value * 100
		r.AltitudeFt = &alt
	}

	tb := strings.TrimSpace(p.TbInt1)
	icg := strings.TrimSpace(p.IcgInt1)
	switch {
	case tb != "" && tb != "NEG":
		r.Category, r.Severity = "turbulence", tb
	case icg != "" && icg != "NEG":
		r.Category, r.Severity = "icing", icg
	case strings.TrimSpace(p.WxString) != "":
		r.Category = "weather"
	default:
		r.Category = "report"
	}
	if strings.EqualFold(strings.TrimSpace(p.PirepType), "Urgent PIREP") && r.Severity == "" {
		r.Severity = "URGENT"
	}
	return r, true
}

// toReport converts an AIRMET/SIGMET polygon advisory.
func (s airSigmetJSON) toReport() (Report, bool) {
	points := make([]geo.Point, 0, len(s.Coords))
	for _, c := range s.Coords {
		if c.Lat.Set && c.Lon.Set {
			points = append(points, geo.Point{Lat: c.Lat.Value, Lon: c.Lon.Value})
		}
	}
	centre, ok := geo.Centroid(points)
	if !ok || !s.ValidTimeFrom.Set {
		return Report{}, false
	}

	r := Report{
		ID:             "sigmet-" + rawID(s.AirSigmetID),
		Kind:           KindSIGMET,
		Category:       strings.ToLower(strings.TrimSpace(s.Hazard)),
		Lat:            centre.Lat,
		Lon:            centre.Lon,
		AltitudeLowFt:  s.AltitudeLow1.ptr(),
		AltitudeHighFt: s.AltitudeHi1.ptr(),
		ObservedAt:     time.Unix(int64(s.ValidTimeFrom.Value), 0).UTC(),
		Polygon:        points,
		Raw:            strings.TrimSpace(s.RawAirSigmet),
	}
	if rawID(s.AirSigmetID) == "" {
		r.ID = "sigmet-" + strconv.FormatInt(int64(s.ValidTimeFrom.Value), 10) + "-" + r.Category
	}
	if s.Severity.Set {
		r.Severity = strconv.Itoa(int(s.Severity.Value))
	}
	if s.ValidTimeTo.Set {
		until := time.Unix(int64(s.ValidTimeTo.Value), 0).UTC()
		r.ValidUntil = &until
	}
	if r.Category == "" {
		r.Category = strings.ToLower(strings.TrimSpace(s.AirSigmetType))
	}
	return r, true
}
