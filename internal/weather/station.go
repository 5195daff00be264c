package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
)

// stationPattern matches ICAO and FAA location identifiers.
var stationPattern = regexp.MustCompile(`^[A-Z0-9]{3,4}$`)

// NormalizeStation upper-cases a station identifier and reports whether it
// is well formed.
func NormalizeStation(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	return id, stationPattern.MatchString(id)
}

// METAR is a decoded surface observation.
type METAR struct {
	Station        string    `json:"station"`
	Name           string    `json:"name,omitempty"`
	ObservedAt     time.Time `json:"observation_time"`
	TemperatureC   *float64  `json:"temperature,omitempty"`
	DewpointC      *float64  `json:"dewpoint,omitempty"`
	WindDirDeg     *float64  `json:"wind_direction,omitempty"`
	WindVariable   bool      `json:"wind_variable,omitempty"`
	WindSpeedKt    *float64  `json:"wind_speed,omitempty"`
	WindGustKt     *float64  `json:"wind_gust,omitempty"`
	VisibilitySM   *float64  `json:"visibility,omitempty"`
	CeilingFt      *float64  `json:"ceiling,omitempty"`
	FlightCategory string    `json:"flight_category,omitempty"`
	Conditions     string    `json:"conditions,omitempty"`
	Raw            string    `json:"raw_text"`
}

// TAFPeriod is one forecast group of a TAF.
type TAFPeriod struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Change       string    `json:"change,omitempty"`
	WindDirDeg   *float64  `json:"wind_direction,omitempty"`
	WindSpeedKt  *float64  `json:"wind_speed,omitempty"`
	WindGustKt   *float64  `json:"wind_gust,omitempty"`
	VisibilitySM *float64  `json:"visibility,omitempty"`
	CeilingFt    *float64  `json:"ceiling,omitempty"`
	Conditions   string    `json:"conditions,omitempty"`
}

// TAF is a decoded terminal aerodrome forecast.
type TAF struct {
	Station   string      `json:"station"`
	IssuedAt  time.Time   `json:"issue_time"`
	ValidFrom time.Time   `json:"valid_from"`
	ValidTo   time.Time   `json:"valid_to"`
	Raw       string      `json:"raw_text"`
	Forecast  []TAFPeriod `json:"forecast"`
}

type cloudJSON struct {
	Cover string     `json:"cover"`
	Base  flexNumber `json:"base"`
}

// ceiling returns the lowest broken or overcast layer, or a vertical visibility.
func ceiling(clouds []cloudJSON, reported flexNumber) *float64 {
	var low *float64
	for _, c := range clouds {
		switch strings.ToUpper(strings.TrimSpace(c.Cover)) {
		case "BKN", "OVC", "OVX", "VV":
			if c.Base.Set && (low == nil || c.Base.Value < *low) {
				v := c.Base.Value
				low = &v
			}
		}
	}
	if low == nil {
		return reported.ptr()
	}
	return low
}

// windDir decodes a direction in degrees or "VRB".
func windDir(raw json.RawMessage) (*float64, bool) {
	if strings.Contains(strings.ToUpper(string(raw)), "VRB") {
		return nil, true
	}
	var n flexNumber
	_ = n.UnmarshalJSON(raw)
	return n.ptr(), false
}

type metarJSON struct {
	IcaoID   string          `json:"icaoId"`
	Name     string          `json:"name"`
	ObsTime  flexNumber      `json:"obsTime"`
	Temp     flexNumber      `json:"temp"`
	Dewp     flexNumber      `json:"dewp"`
	Wdir     json.RawMessage `json:"wdir"`
	Wspd     flexNumber      `json:"wspd"`
	Wgst     flexNumber      `json:"wgst"`
	Visib    flexNumber      `json:"visib"`
	Cig      flexNumber      `json:"cig"`
	FltCat   string          `json:"fltCat"`
	WxString string          `json:"wxString"`
	RawOb    string          `json:"rawOb"`
	Clouds   []cloudJSON     `json:"clouds"`
}

func (m metarJSON) toMETAR() METAR {
	out := METAR{
		Station:        strings.TrimSpace(m.IcaoID),
		Name:           strings.TrimSpace(m.Name),
		TemperatureC:   m.Temp.ptr(),
		DewpointC:      m.Dewp.ptr(),
		WindSpeedKt:    m.Wspd.ptr(),
		WindGustKt:     m.Wgst.ptr(),
		VisibilitySM:   m.Visib.ptr(),
		CeilingFt:      ceiling(m.Clouds, m.Cig),
		FlightCategory: strings.ToUpper(strings.TrimSpace(m.FltCat)),
		Conditions:     strings.TrimSpace(m.WxString),
		Raw:            strings.TrimSpace(m.RawOb),
	}
	out.WindDirDeg, out.WindVariable = windDir(m.Wdir)
	if m.ObsTime.Set {
		out.ObservedAt = time.Unix(int64(m.ObsTime.Value), 0).UTC()
	}
	return out
}

type tafJSON struct {
	IcaoID        string     `json:"icaoId"`
	IssueTime     string     `json:"issueTime"`
	ValidTimeFrom flexNumber `json:"validTimeFrom"`
	ValidTimeTo   flexNumber `json:"validTimeTo"`
	RawTAF        string     `json:"rawTAF"`
	Fcsts         []struct {
		TimeFrom   flexNumber      `json:"timeFrom"`
		TimeTo     flexNumber      `json:"timeTo"`
		FcstChange string          `json:"fcstChange"`
		Wdir       json.RawMessage `json:"wdir"`
		Wspd       flexNumber      `json:"wspd"`
		Wgst       flexNumber      `json:"wgst"`
		Visib      flexNumber      `json:"visib"`
		WxString   string          `json:"wxString"`
		Clouds     []cloudJSON     `json:"clouds"`
	} `json:"fcsts"`
}

func unixTime(n flexNumber) time.Time {
	if !n.Set {
		return time.Time{}
	}
	return time.Unix(int64(n.Value), 0).UTC()
}

func (t tafJSON) toTAF() TAF {
	out := TAF{
		Station:   strings.TrimSpace(t.IcaoID),
		ValidFrom: unixTime(t.ValidTimeFrom),
		ValidTo:   unixTime(t.ValidTimeTo),
		Raw:       strings.TrimSpace(t.RawTAF),
		Forecast:  make([]TAFPeriod, 0, len(t.Fcsts)),
	}
	if issued, err := time.Parse(time.RFC3339, strings.TrimSpace(t.IssueTime)); err == nil {
		out.IssuedAt = issued.UTC()
	}
	for _, f := range t.Fcsts {
		p := TAFPeriod{
			From:         unixTime(f.TimeFrom),
			To:           unixTime(f.TimeTo),
			Change:       strings.TrimSpace(f.FcstChange),
			WindSpeedKt:  f.Wspd.ptr(),
			WindGustKt:   f.Wgst.ptr(),
			VisibilitySM: f.Visib.ptr(),
			CeilingFt:    ceiling(f.Clouds, flexNumber{}),
			Conditions:   strings.TrimSpace(f.WxString),
		}
		p.WindDirDeg, _ = windDir(f.Wdir)
		out.Forecast = append(out.Forecast, p)
	}
	return out
}

// METAR returns the most recent observation for a station within the last
// two hours. A station with no observation yields a not-found error.
func (c *Client) METAR(ctx context.Context, station string) (METAR, error) {
	id, ok := NormalizeStation(station)
	if !ok {
		return METAR{}, pipeerrors.NewNotFoundError("fetch_metar", source, fmt.Errorf("invalid station %q", station))
	}
	q := url.Values{}
	q.Set("ids", id)
	q.Set("format", "json")
	q.Set("hours", "2")

	var raw []metarJSON
	if err := c.get(ctx, "fetch_metar", "/metar", q, &raw); err != nil {
		return METAR{}, err
	}
	if len(raw) == 0 {
		return METAR{}, pipeerrors.NewNotFoundError("fetch_metar", source, fmt.Errorf("no METAR for %s", id))
	}

	// Newest first from the API, but do not rely on it
	latest := raw[0]
	for _, m := range raw[1:] {
		if m.ObsTime.Set && m.ObsTime.Value > latest.ObsTime.Value {
			latest = m
		}
	}
	return latest.toMETAR(), nil
}

// TAF returns the current forecast for a station.
func (c *Client) TAF(ctx context.Context, station string) (TAF, error) {
	id, ok := NormalizeStation(station)
	if !ok {
		return TAF{}, pipeerrors.NewNotFoundError("fetch_taf", source, fmt.Errorf("invalid station %q", station))
	}
	q := url.Values{}
	q.Set("ids", id)
	q.Set("format", "json")

	var raw []tafJSON
	if err := c.get(ctx, "fetch_taf", "/taf", q, &raw); err != nil {
		return TAF{}, err
	}
	if len(raw) == 0 {
		return TAF{}, pipeerrors.NewNotFoundError("fetch_taf", source, fmt.Errorf("no TAF for %s", id))
	}
	return raw[0].toTAF(), nil
}
