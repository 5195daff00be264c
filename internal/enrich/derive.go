package enrich

import (
	"fmt"
	"time"

	"github.com/sj14/astral/pkg/astral"

	"github.com/airguardian/airguardian/internal/geo"
	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/reference"
)

func aglBand(agl float64) string {
	switch {
	case agl < 500:
		return AGLWarning
	case agl < 1000:
		return AGLCaution
	default:
		return AGLNormal
	}
}

func proximity(distNM float64) string {
	switch {
	case distNM < 5:
		return ProximityNear
	case distNM < 10:
		return ProximityVicinity
	default:
		return ProximityFar
	}
}

// assessSpeed compares ground speed with the envelope.
func assessSpeed(gs float64, env reference.Envelope) string {
	switch {
	case gs < env.StallSpeedClean+20:
		return SpeedNearStall
	case gs < env.CruiseMin:
		return SpeedBelowCruise
	case gs > env.CruiseMax:
		return SpeedAboveCruise
	default:
		return SpeedNormal
	}
}

var emergencySquawks = map[string]string{
	"7500": "hijack",
	"7600": "radio-failure",
	"7700": "general-emergency",
}

// IsEmergencySquawk reports whether the transponder code declares an emergency.
func IsEmergencySquawk(code string) bool {
	_, ok := emergencySquawks[code]
	return ok
}

// deriveTrend summarises samples ordered oldest first. It needs at least two
// samples spanning a positive duration.
func deriveTrend(samples []models.Sample) *Trend {
	if len(samples) < 2 {
		return nil
	}
	first, last := samples[0], samples[len(samples)-1]
	span := last.Timestamp.Sub(first.Timestamp)
	if span <= 0 {
		return nil
	}

	t := &Trend{WindowSeconds: span.Seconds(), Samples: len(samples)}

	var firstAlt, lastAlt *models.Sample
	var firstSpd, lastSpd *float64
	var heading float64
	var prevHdg *float64
	hasTurn := false
	for i := range samples {
		s := &samples[i]
		if s.AltitudeFt != nil {
			if firstAlt == nil {
				firstAlt = s
			}
			lastAlt = s
		}
		if s.SpeedKt != nil {
			if firstSpd == nil {
				firstSpd = s.SpeedKt
			}
			lastSpd = s.SpeedKt
		}
		if s.HeadingDeg != nil {
			if prevHdg != nil {
				heading += geo.HeadingDelta(*prevHdg, *s.HeadingDeg)
				hasTurn = true
			}
			prevHdg = s.HeadingDeg
		}
	}

	if firstAlt != nil && lastAlt != firstAlt {
		change := *lastAlt.AltitudeFt - *firstAlt.AltitudeFt
		t.AltitudeChangeFt = &change
		if mins := lastAlt.Timestamp.Sub(firstAlt.Timestamp).Minutes(); mins > 0 {
			rate := change / mins
			t.ClimbRateFpm = &rate
		}
	}
	if firstSpd != nil && lastSpd != nil {
		change := *lastSpd - *firstSpd
		t.SpeedChangeKt = &change
	}
	if hasTurn {
		t.HeadingChangeDeg = &heading
	}
	return t
}

// isNight reports whether t falls outside civil twilight at the position.
// The decision is taken from the latest dawn or dusk at or before t, so it
// does not depend on which calendar day an event is attributed to.
func isNight(lat, lon float64, t time.Time) (bool, error) {
	observer := astral.Observer{Latitude: lat, Longitude: lon}
	utc := t.UTC()

	var latest time.Time
	latestIsDawn := false
	found := false
	for _, offset := range []int{-2, -1, 0, 1} {
		day := utc.AddDate(0, 0, offset)
		dawn, err := astral.Dawn(observer, day, astral.DepressionCivil)
		if err != nil {
			return false, err
		}
		dusk, err := astral.Dusk(observer, day, astral.DepressionCivil)
		if err != nil {
			return false, err
		}
		for _, ev := range []struct {
			at     time.Time
			isDawn bool
		}{{dawn, true}, {dusk, false}} {
			if ev.at.After(utc) {
				continue
			}
			if !found || ev.at.After(latest) {
				latest, latestIsDawn, found = ev.at, ev.isDawn, true
			}
		}
	}
	if !found {
		return false, fmt.Errorf("no twilight event before %s", utc.Format(time.RFC3339))
	}
	return !latestIsDawn, nil
}
