package weather

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
)

const baseURL = "https://awc.test/api/data"

const pirepBody = `[
  {"pirepId": 1001, "obsTime": 1778000000, "icaoId": "KATL", "acType": "B738",
   "lat": 33.7, "lon": -84.5, "fltLvl": "080", "tbInt1": "MOD", "icgInt1": "",
   "pirepType": "PIREP", "rawOb": "ATL UA /OV ATL/TM 1200/FL080/TP B738/TB MOD"},
  {"pirepId": 1002, "obsTime": 1778000100, "acType": "C172",
   "lat": 33.9, "lon": -84.2, "fltLvl": 45, "tbInt1": "NEG", "icgInt1": "LGT"},
  {"pirepId": 1003, "obsTime": 1778000200, "lat": null, "lon": -84.2}
]`

const sigmetBody = `[
  {"airSigmetId": "77", "airSigmetType": "SIGMET", "hazard": "CONVECTIVE", "severity": 2,
   "validTimeFrom": 1778000000, "validTimeTo": 1778007200,
   "altitudeLow1": null, "altitudeHi1": 35000,
   "coords": [{"lat": 33, "lon": -85}, {"lat": 34, "lon": -85}, {"lat": 34, "lon": -84}, {"lat": 33, "lon": -84}]}
]`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient(Config{
		BaseURL:   baseURL,
		CenterLat: 33.64,
		CenterLon: -84.44,
		RadiusNM:  50,
		MaxAge:    90 * time.Minute,
	})
}

func TestPIREPsParsing(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/pirep", func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("age") != "1.5" || req.URL.Query().Get("bbox") == "" {
			return httpmock.NewStringResponse(400, req.URL.RawQuery), nil
		}
		return httpmock.NewStringResponse(200, pirepBody), nil
	})

	reports, err := c.PIREPs(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	first := reports[0]
	assert.Equal(t, "pirep-1001", first.ID)
	assert.Equal(t, "turbulence", first.Category)
	assert.Equal(t, "MOD", first.Severity)
	require.NotNil(t, first.AltitudeFt)
	assert.Equal(t, 8000.0, *first.AltitudeFt)

	second := reports[1]
	assert.Equal(t, "icing", second.Category)
	assert.Equal(t, 4500.0, *second.AltitudeFt)
}

func TestSIGMETCentroidAndBand(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/airsigmet", httpmock.NewStringResponder(200, sigmetBody))

	reports, err := c.SIGMETs(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "sigmet-77", r.ID)
	assert.Equal(t, "convective", r.Category)
	assert.InDelta(t, 33.5, r.Lat, 1e-9)
	assert.InDelta(t, -84.5, r.Lon, 1e-9)
	assert.Nil(t, r.AltitudeLowFt)
	require.NotNil(t, r.ValidUntil)
	require.Len(t, r.Polygon, 4)
	assert.Zero(t, r.DistanceNM(33.2, -84.9))
	assert.InDelta(t, 30, r.DistanceNM(32.5, -84.5), 1)
	assert.False(t, r.NotYetValid(r.ObservedAt))
	assert.True(t, r.NotYetValid(r.ObservedAt.Add(-time.Minute)))

	sep, ok := r.VerticalSeparation(10000)
	assert.True(t, ok)
	assert.Equal(t, 0.0, sep)
	sep, _ = r.VerticalSeparation(40000)
	assert.Equal(t, 5000.0, sep)
}

func TestClientErrorsAreClassified(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/airsigmet", httpmock.NewStringResponder(200, "<html>"))
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/pirep", httpmock.NewStringResponder(502, "bad gateway"))

	_, err := c.SIGMETs(context.Background())
	assert.True(t, pipeerrors.IsMalformed(err))

	_, err = c.PIREPs(context.Background())
	require.Error(t, err)
	assert.True(t, pipeerrors.IsRetryableError(err))
}

func TestClientReusesRecentResponses(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/airsigmet", httpmock.NewStringResponder(200, sigmetBody))

	_, err := c.SIGMETs(context.Background())
	require.NoError(t, err)
	_, err = c.SIGMETs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

type stubFetcher struct {
	pireps  []Report
	sigmets []Report
	pErr    error
	sErr    error
}

func (s *stubFetcher) PIREPs(context.Context) ([]Report, error)  { return s.pireps, s.pErr }
func (s *stubFetcher) SIGMETs(context.Context) ([]Report, error) { return s.sigmets, s.sErr }

func TestReportSetKeepsPreviousOnFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	f := &stubFetcher{
		pireps:  []Report{{ID: "p1", Kind: KindPIREP, ObservedAt: clock.Now().Add(-time.Minute)}},
		sigmets: []Report{{ID: "s1", Kind: KindSIGMET, ObservedAt: clock.Now()}},
	}
	set := NewReportSet(f, clock)

	require.NoError(t, set.Refresh(context.Background()))
	require.Equal(t, 2, set.Len())
	assert.Equal(t, "s1", set.Reports()[0].ID, "newest first")

	clock.Advance(5 * time.Minute)
	f.pErr = errors.New("upstream down")
	f.pireps = nil
	f.sigmets = nil

	err := set.Refresh(context.Background())
	require.Error(t, err)

	reports := set.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "p1", reports[0].ID, "failed source keeps its previous reports")

	at, ok := set.RefreshedAt(KindSIGMET)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), at)
	at, _ = set.RefreshedAt(KindPIREP)
	assert.Equal(t, clock.Now().Add(-5*time.Minute), at)
}

const metarBody = `[
  {"icaoId": "KATL", "name": "Atlanta/Hartsfield Intl, GA, US", "obsTime": 1778000400,
   "temp": 18.3, "dewp": 16.1, "wdir": 270, "wspd": 12, "wgst": 22, "visib": "10+",
   "fltCat": "MVFR", "wxString": "-RA", "rawOb": "KATL 051220Z 27012G22KT 10SM -RA BKN025 OVC040 18/16 A2992",
   "clouds": [{"cover": "FEW", "base": 1200}, {"cover": "BKN", "base": 2500}, {"cover": "OVC", "base": 4000}]},
  {"icaoId": "KATL", "obsTime": 1777996800, "wdir": "VRB", "wspd": 3, "visib": 2, "rawOb": "older"}
]`

const tafBody = `[
  {"icaoId": "KATL", "issueTime": "2026-05-05T11:20:00.000Z", "validTimeFrom": 1777982400, "validTimeTo": 1778090400,
   "rawTAF": "TAF KATL 051120Z 0512/0612 27010KT P6SM BKN030",
   "fcsts": [
     {"timeFrom": 1777982400, "timeTo": 1778004000, "wdir": 270, "wspd": 10, "visib": "6+",
      "clouds": [{"cover": "BKN", "base": 3000}]},
     {"timeFrom": 1778004000, "timeTo": 1778090400, "fcstChange": "FM", "wdir": "VRB", "wspd": 5, "wxString": "TSRA",
      "clouds": [{"cover": "SCT", "base": 2000}]}
   ]}
]`

func TestMETARDecoding(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/metar", func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("ids") != "KATL" {
			return httpmock.NewStringResponse(200, "[]"), nil
		}
		return httpmock.NewStringResponse(200, metarBody), nil
	})

	m, err := c.METAR(context.Background(), " katl ")
	require.NoError(t, err)
	assert.Equal(t, "KATL", m.Station)
	assert.Equal(t, "MVFR", m.FlightCategory)
	assert.Equal(t, "-RA", m.Conditions)
	assert.Equal(t, time.Unix(1778000400, 0).UTC(), m.ObservedAt)
	require.NotNil(t, m.VisibilitySM)
	assert.Equal(t, 10.0, *m.VisibilitySM)
	require.NotNil(t, m.CeilingFt)
	assert.Equal(t, 2500.0, *m.CeilingFt)
	require.NotNil(t, m.WindDirDeg)
	assert.Equal(t, 270.0, *m.WindDirDeg)
	assert.Equal(t, 22.0, *m.WindGustKt)
	assert.False(t, m.WindVariable)

	_, err = c.METAR(context.Background(), "KPDK")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrNotFound)

	_, err = c.METAR(context.Background(), "not a station")
	assert.ErrorIs(t, err, pipeerrors.ErrNotFound)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestTAFDecoding(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/taf", httpmock.NewStringResponder(200, tafBody))

	taf, err := c.TAF(context.Background(), "KATL")
	require.NoError(t, err)
	assert.Equal(t, "KATL", taf.Station)
	assert.Equal(t, time.Date(2026, 5, 5, 11, 20, 0, 0, time.UTC), taf.IssuedAt)
	assert.Equal(t, time.Unix(1778090400, 0).UTC(), taf.ValidTo)
	require.Len(t, taf.Forecast, 2)

	first := taf.Forecast[0]
	assert.Equal(t, 6.0, *first.VisibilitySM)
	assert.Equal(t, 3000.0, *first.CeilingFt)

	second := taf.Forecast[1]
	assert.Equal(t, "FM", second.Change)
	assert.Nil(t, second.WindDirDeg)
	assert.Nil(t, second.CeilingFt)
	assert.Equal(t, "TSRA", second.Conditions)
}

func TestNormalizeStation(t *testing.T) {
	for in, want := range map[string]bool{"katl": true, "ATL": true, "GA12": true, "K": false, "KATLX": false, "K-TL": false} {
		_, ok := NormalizeStation(in)
		assert.Equal(t, want, ok, in)
	}
}
