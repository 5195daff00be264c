package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/airguardian/airguardian/internal/models"
)

// Reasons a finding is dropped during parsing.
const (
	DropMalformed       = "malformed"
	DropInvalidPriority = "invalid_priority"
	DropUnknownEntity   = "unknown_entity"
	DropEmpty           = "empty"
)

type taskJSON struct {
	AircraftICAO24   string `json:"aircraft_icao24"`
	AircraftCallsign string `json:"aircraft_callsign"`
	Priority         string `json:"priority"`
	Category         string `json:"category"`
	Summary          string `json:"summary"`
	Description      string `json:"description"`
	PilotMessage     string `json:"pilot_message"`
}

type responseJSON struct {
	Tasks []json.RawMessage `json:"tasks"`
}

// extractJSONObject returns the first complete JSON object in text, tolerating
// markdown fences and surrounding prose.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", errors.New("no JSON object found in response")
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("no complete JSON object found in response")
}

// entityIndex resolves the identities the model may use for an entity.
type entityIndex struct {
	byID    map[string]models.Aircraft
	byLabel map[string]models.Aircraft
}

func newEntityIndex(batch []models.Aircraft) entityIndex {
	idx := entityIndex{
		byID:    make(map[string]models.Aircraft, len(batch)),
		byLabel: make(map[string]models.Aircraft, len(batch)*2),
	}
	for _, a := range batch {
		idx.byID[strings.ToLower(a.ID)] = a
		if a.Callsign != "" {
			idx.byLabel[normalizeLabel(a.Callsign)] = a
		}
		if a.Registration != "" {
			idx.byLabel[normalizeLabel(a.Registration)] = a
		}
	}
	return idx
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

func isUnknown(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "unknown") || strings.EqualFold(s, "n/a")
}

func (idx entityIndex) resolve(id, callsign string) (models.Aircraft, bool) {
	if !isUnknown(id) {
		if a, ok := idx.byID[strings.ToLower(strings.TrimSpace(id))]; ok {
			return a, true
		}
		// Models sometimes put the callsign in the id field.
		if a, ok := idx.byLabel[normalizeLabel(id)]; ok {
			return a, true
		}
	}
	if !isUnknown(callsign) {
		if a, ok := idx.byLabel[normalizeLabel(callsign)]; ok {
			return a, true
		}
	}
	return models.Aircraft{}, false
}

// parseFindings converts a raw model response into findings. Items that
// cannot be used are dropped individually and counted by reason.
func parseFindings(text string, batch []models.Aircraft) ([]models.Finding, map[string]int, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, nil, err
	}
	var resp responseJSON
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, nil, fmt.Errorf("invalid response JSON: %w", err)
	}

	idx := newEntityIndex(batch)
	dropped := make(map[string]int)
	findings := make([]models.Finding, 0, len(resp.Tasks))

	for i, item := range resp.Tasks {
		var task taskJSON
		if err := json.Unmarshal(item, &task); err != nil {
			dropped[DropMalformed]++
			log.Debug().Err(err).Int("index", i).Msg("Dropping unparseable task")
			continue
		}

		severity, ok := models.ParseSeverity(task.Priority)
		if !ok {
			dropped[DropInvalidPriority]++
			log.Debug().Str("priority", task.Priority).Int("index", i).Msg("Dropping task with invalid priority")
			continue
		}

		entity, ok := idx.resolve(task.AircraftICAO24, task.AircraftCallsign)
		if !ok {
			dropped[DropUnknownEntity]++
			log.Debug().
				Str("aircraft_icao24", task.AircraftICAO24).
				Str("aircraft_callsign", task.AircraftCallsign).
				Msg("Dropping task that matches no aircraft in the batch")
			continue
		}

		summary := strings.TrimSpace(task.Summary)
		description := strings.TrimSpace(task.Description)
		if summary == "" && description == "" {
			dropped[DropEmpty]++
			continue
		}
		if summary == "" {
			summary = summarize(description)
		}

		callsign := strings.TrimSpace(task.AircraftCallsign)
		if isUnknown(callsign) {
			callsign = entity.Label()
		}

		findings = append(findings, models.Finding{
			EntityID:    entity.ID,
			Callsign:    callsign,
			Category:    models.ParseCategory(task.Category),
			Severity:    severity,
			Summary:     summary,
			Rationale:   description,
			Phraseology: strings.TrimSpace(task.PilotMessage),
		})
	}
	return findings, dropped, nil
}

// summarize shortens a description to its first sentence, capped at 80 characters.
func summarize(description string) string {
	s := description
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:77]) + "..."
	}
	return strings.TrimSpace(s)
}
