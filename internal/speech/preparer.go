package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/airguardian/airguardian/internal/metrics"
	"github.com/airguardian/airguardian/internal/models"
)

// DefaultMaxHighWithAudio caps how many unresolved HIGH alerts carry audio.
const DefaultMaxHighWithAudio = 3

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AlertBook is the part of the alert manager the preparer needs.
type AlertBook interface {
	List(unresolvedOnly bool) []models.Alert
	SetAudio(id int64, ref string) bool
}

// audioFile matches the names written by the preparer, including partial writes.
var audioFile = regexp.MustCompile(`^task_[0-9]+\.mp3(\.tmp)?$`)

// Preparer attaches synthesised phraseology to newly created HIGH alerts.
// Prepare and Cleanup are serialised so a clip is never removed between
// being written and being recorded on its alert.
type Preparer struct {
	mu      sync.Mutex
	synth   Synthesizer
	alerts  AlertBook
	dir     string
	maxHigh int
}

// NewPreparer creates a preparer writing into dir.
func NewPreparer(synth Synthesizer, alerts AlertBook, dir string, maxHigh int) (*Preparer, error) {
	if maxHigh <= 0 {
		maxHigh = DefaultMaxHighWithAudio
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &Preparer{synth: synth, alerts: alerts, dir: dir, maxHigh: maxHigh}, nil
}

// FileName returns the audio file name for an alert id.
func FileName(id int64) string {
	return fmt.Sprintf("task_%d.mp3", id)
}

// Prepare synthesises audio for the created alerts, oldest first, while fewer
// than the cap of unresolved HIGH alerts have audio. It returns the number
// of clips written.
func (p *Preparer) Prepare(ctx context.Context, created []models.Alert) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]models.Alert, 0, len(created))
	for _, a := range created {
		if a.Severity == models.SeverityHigh && !a.Resolved && a.Phraseology != "" && a.AudioRef == "" {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	withAudio := 0
	for _, a := range p.alerts.List(true) {
		if a.Severity == models.SeverityHigh && a.AudioRef != "" {
			withAudio++
		}
	}

	written := 0
	for _, a := range candidates {
		if withAudio >= p.maxHigh {
			log.Debug().
				Int64("id", a.ID).
				Int("withAudio", withAudio).
				Msg("Skipping audio, HIGH alert audio cap reached")
			break
		}
		if ctx.Err() != nil {
			break
		}

		audio, err := p.synth.Synthesize(ctx, a.Phraseology)
		if err != nil {
			metrics.RecordAudioPrepared(false)
			log.Warn().Err(err).Int64("id", a.ID).Msg("Speech synthesis failed")
			continue
		}

		name := FileName(a.ID)
		if err := writeFileAtomic(filepath.Join(p.dir, name), audio); err != nil {
			metrics.RecordAudioPrepared(false)
			log.Error().Err(err).Int64("id", a.ID).Msg("Failed to write audio file")
			continue
		}
		if !p.alerts.SetAudio(a.ID, name) {
			// Alert vanished while synthesising
			_ = os.Remove(filepath.Join(p.dir, name))
			continue
		}

		metrics.RecordAudioPrepared(true)
		withAudio++
		written++
		log.Info().Int64("id", a.ID).Str("file", name).Int("bytes", len(audio)).Msg("Audio prepared")
	}
	return written
}

// Cleanup removes clips whose alert is no longer held, such as alerts purged
// by the retention sweep. It returns the number of files removed.
func (p *Preparer) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", p.dir).Msg("Failed to list audio directory")
		return 0
	}

	referenced := make(map[string]struct{})
	for _, a := range p.alerts.List(false) {
		if a.AudioRef != "" {
			referenced[a.AudioRef] = struct{}{}
		}
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !audioFile.MatchString(name) {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, name)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", name).Msg("Failed to remove orphaned audio file")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Orphaned audio files removed")
	}
	return removed
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
