package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/models"
	"github.com/airguardian/airguardian/internal/weather"
)

// audioFilePattern matches the names the audio preparer writes.
var audioFilePattern = regexp.MustCompile(`^task_[0-9]+\.mp3$`)

const (
	maxResolveBody = 4 << 10
	maxSpeakBody   = 8 << 10
	maxSpeakRunes  = 1000
)

type resolveRequest struct {
	TaskID *int64 `json:"task_id"`
}

type resolveResponse struct {
	Status string `json:"status"`
	TaskID int64  `json:"task_id"`
}

type healthResponse struct {
	Status             string                     `json:"status"`
	PlanesAgeSeconds   *float64                   `json:"planes_age_seconds,omitempty"`
	PlanesStale        bool                       `json:"planes_stale,omitempty"`
	ReportsRefreshedAt map[weather.Kind]time.Time `json:"reports_refreshed_at,omitempty"`
}

// handleHealth always reports healthy; staleness is informational.
func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "healthy"}

	if age, ok := r.deps.Planes.Age(); ok {
		secs := age.Seconds()
		resp.PlanesAgeSeconds = &secs
		resp.PlanesStale = age >= r.deps.Planes.TTL()
	}

	if r.deps.Reports != nil {
		for _, kind := range []weather.Kind{weather.KindPIREP, weather.KindSIGMET} {
			if at, ok := r.deps.Reports.RefreshedAt(kind); ok {
				if resp.ReportsRefreshedAt == nil {
					resp.ReportsRefreshedAt = make(map[weather.Kind]time.Time, 2)
				}
				resp.ReportsRefreshedAt[kind] = at.UTC()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handlePlanes(w http.ResponseWriter, _ *http.Request) {
	planes := r.deps.Planes.Get()
	if planes == nil {
		planes = []models.Aircraft{}
	}
	writeJSON(w, http.StatusOK, planes)
}

func (r *Router) handlePlane(w http.ResponseWriter, req *http.Request) {
	hex := strings.ToLower(strings.TrimSpace(req.PathValue("hex")))
	plane, ok := r.deps.Planes.Lookup(hex)
	if !ok {
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", "Aircraft not in the current snapshot")
		return
	}
	writeJSON(w, http.StatusOK, plane)
}

func (r *Router) handleTasks(w http.ResponseWriter, req *http.Request) {
	all, _ := strconv.ParseBool(req.URL.Query().Get("all"))
	tasks := r.deps.Alerts.List(!all)
	if tasks == nil {
		tasks = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxResolveBody))
	if err != nil {
		writeErrorResponse(w, req, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
		return
	}

	var in resolveRequest
	if err := json.Unmarshal(body, &in); err != nil || in.TaskID == nil {
		writeErrorResponse(w, req, http.StatusBadRequest, "invalid_request", "Body must be {\"task_id\": <integer>}")
		return
	}

	// Resolving an unknown or already resolved alert is not an error
	changed := r.deps.Alerts.Resolve(*in.TaskID)
	log.Debug().Int64("task_id", *in.TaskID).Bool("changed", changed).Msg("Resolve requested")

	writeJSON(w, http.StatusOK, resolveResponse{Status: "success", TaskID: *in.TaskID})
}

func (r *Router) handleAudio(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("filename")
	if !audioFilePattern.MatchString(name) || r.config.AudioDir == "" {
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", "Audio file not found")
		return
	}

	path := filepath.Join(r.config.AudioDir, name)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Error().Err(err).Str("file", name).Msg("Failed to open audio file")
		}
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", "Audio file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", "Audio file not found")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, req, name, info.ModTime(), f)
}

func (r *Router) handleReports(w http.ResponseWriter, _ *http.Request) {
	reports := []weather.Report{}
	if r.deps.Reports != nil {
		if got := r.deps.Reports.Reports(); got != nil {
			reports = got
		}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (r *Router) handleMETAR(w http.ResponseWriter, req *http.Request) {
	station, ok := r.stationParam(w, req)
	if !ok {
		return
	}
	metar, err := r.deps.Stations.METAR(req.Context(), station)
	if err != nil {
		writeUpstreamError(w, req, err, "No METAR available for "+station)
		return
	}
	writeJSON(w, http.StatusOK, metar)
}

func (r *Router) handleTAF(w http.ResponseWriter, req *http.Request) {
	station, ok := r.stationParam(w, req)
	if !ok {
		return
	}
	taf, err := r.deps.Stations.TAF(req.Context(), station)
	if err != nil {
		writeUpstreamError(w, req, err, "No TAF available for "+station)
		return
	}
	writeJSON(w, http.StatusOK, taf)
}

func (r *Router) stationParam(w http.ResponseWriter, req *http.Request) (string, bool) {
	if r.deps.Stations == nil {
		writeErrorResponse(w, req, http.StatusServiceUnavailable, "unavailable", "Station weather is not configured")
		return "", false
	}
	station, ok := weather.NormalizeStation(req.PathValue("station"))
	if !ok {
		writeErrorResponse(w, req, http.StatusBadRequest, "invalid_station", "Station must be a 3 or 4 character identifier")
		return "", false
	}
	return station, true
}

// handleSIGMETs serves the advisories held by the report set, optionally
// filtered by hazard.
func (r *Router) handleSIGMETs(w http.ResponseWriter, req *http.Request) {
	hazard := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("hazard")))
	out := []weather.Report{}
	if r.deps.Reports != nil {
		for _, rep := range r.deps.Reports.Reports() {
			if rep.Kind != weather.KindSIGMET {
				continue
			}
			if hazard != "" && !strings.HasPrefix(rep.Category, hazard) {
				continue
			}
			out = append(out, rep)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type speakRequest struct {
	Text string `json:"text"`
}

func (r *Router) handleSpeak(w http.ResponseWriter, req *http.Request) {
	if r.deps.Speech == nil {
		writeErrorResponse(w, req, http.StatusServiceUnavailable, "unavailable", "Speech synthesis is not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxSpeakBody))
	if err != nil {
		writeErrorResponse(w, req, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
		return
	}

	var in speakRequest
	if err := json.Unmarshal(body, &in); err != nil || strings.TrimSpace(in.Text) == "" {
		writeErrorResponse(w, req, http.StatusBadRequest, "invalid_request", "Body must be {\"text\": <non-empty string>}")
		return
	}
	if utf8.RuneCountInString(in.Text) > maxSpeakRunes {
		writeErrorResponse(w, req, http.StatusBadRequest, "text_too_long", "Text exceeds "+strconv.Itoa(maxSpeakRunes)+" characters")
		return
	}

	audio, err := r.deps.Speech.Synthesize(req.Context(), strings.TrimSpace(in.Text))
	if err != nil {
		writeUpstreamError(w, req, err, "Speech synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// writeUpstreamError maps a collaborator failure to a response status.
func writeUpstreamError(w http.ResponseWriter, req *http.Request, err error, notFound string) {
	switch pipeerrors.TypeOf(err) {
	case pipeerrors.ErrorTypeNotFound:
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", notFound)
	case pipeerrors.ErrorTypeTimeout:
		writeErrorResponse(w, req, http.StatusGatewayTimeout, "upstream_timeout", "Upstream request timed out")
	default:
		log.Warn().Err(err).Str("path", req.URL.Path).Msg("Upstream request failed")
		writeErrorResponse(w, req, http.StatusBadGateway, "upstream_error", "Upstream request failed")
	}
}
