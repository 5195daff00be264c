package analysis

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/airguardian/airguardian/internal/enrich"
	"github.com/airguardian/airguardian/internal/models"
)

const systemPrompt = `You are an aviation safety assistant supporting US air traffic controllers.
You receive enriched surveillance data for aircraft near a terminal area. Every altitude is
feet MSL unless labelled AGL; speeds are knots; vertical rates are feet per minute.

Each aircraft record may include:
- altitude_agl_ft and agl_band (warning < 500 ft AGL, caution < 1000 ft AGL)
- nearest_facility with proximity; in_expected_corridor is true within 5 nm of an airport,
  where low altitude on approach or departure is normal and should not be flagged on its own
- performance envelope for the declared type with a speed_assessment
- trend over the recent history window (altitude change, climb rate, heading change)
- history: a few recent samples about a minute apart, oldest first
- weather_reports within range, with distance and vertical separation; distance is 0
  when the aircraft is inside a SIGMET area
- station_weather: the latest METAR at the nearest facility (visibility in statute miles,
  ceiling in feet AGL, flight_category, wind, conditions)
- emergency_squawk when the transponder reports 7500, 7600 or 7700
- night when the aircraft is outside civil twilight

Missing fields mean the value is unknown. Never infer a hazard from absent data.

Raise a task only for a genuine safety-of-flight or regulatory concern:
- priority: HIGH (immediate action), MEDIUM (monitor), LOW (advisory)
- category: one of Weather Hazard, Low Altitude, Unusual Pattern, Speed Warning,
  Altitude Warning, Airspace Concern, Descent Rate, Other

Respond with a single JSON object {"tasks": [...]} where each task has:
- "aircraft_icao24": the hex id exactly as given
- "aircraft_callsign": the callsign or registration, never "UNKNOWN"
- "priority", "category"
- "summary": five to ten words
- "description": the concern, the supporting data and the recommended controller action
- "pilot_message": a short radio transmission using standard phraseology

If nothing warrants attention return {"tasks": []}. Return JSON only.`

// History sent per aircraft: one sample per interval, newest first, capped.
// The trend already summarises the full window.
const (
	promptHistoryInterval = time.Minute
	promptHistoryMax      = 6
)

// buildUserPrompt serialises the batch with trimmed history.
func buildUserPrompt(batch []enrich.Context, now time.Time) (string, error) {
	trimmed := make([]enrich.Context, len(batch))
	for i, c := range batch {
		c.History = historyTail(c.History, promptHistoryInterval, promptHistoryMax)
		c.Reports = withoutPolygons(c.Reports)
		trimmed[i] = c
	}

	payload, err := json.MarshalIndent(trimmed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal enriched batch: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Observation time: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Aircraft in batch: %d\n\n", len(batch))
	b.WriteString("AIRCRAFT DATA:\n")
	b.Write(payload)
	b.WriteString("\n")
	return b.String(), nil
}

// historyTail keeps at most limit samples at least interval apart, always
// including the newest. The result is oldest first.
func historyTail(samples []models.Sample, interval time.Duration, limit int) []models.Sample {
	if len(samples) == 0 || limit <= 0 {
		return nil
	}
	picked := make([]models.Sample, 0, limit)
	last := samples[len(samples)-1]
	picked = append(picked, last)
	for i := len(samples) - 2; i >= 0 && len(picked) < limit; i-- {
		if last.Timestamp.Sub(samples[i].Timestamp) >= interval {
			last = samples[i]
			picked = append(picked, last)
		}
	}
	slices.Reverse(picked)
	return picked
}

// withoutPolygons drops advisory outlines, which matter for matching only.
func withoutPolygons(reports []enrich.ReportContext) []enrich.ReportContext {
	if len(reports) == 0 {
		return reports
	}
	out := make([]enrich.ReportContext, len(reports))
	for i, r := range reports {
		r.Polygon = nil
		out[i] = r
	}
	return out
}
