package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
	"github.com/airguardian/airguardian/internal/models"
)

func TestSynthesize(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost,
		"https://tts.test/v1/text-to-speech/voice1?output_format=mp3_44100_128",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("xi-api-key"))
			var body ttsRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "Delta 123, check altitude", body.Text)
			assert.Equal(t, "eleven_multilingual_v2", body.ModelID)
			return httpmock.NewBytesResponse(http.StatusOK, []byte("ID3audio")), nil
		})

	c := NewClient(Config{BaseURL: "https://tts.test/", APIKey: "secret", VoiceID: "voice1"})
	audio, err := c.Synthesize(context.Background(), "Delta 123, check altitude")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
}

func TestSynthesizeErrors(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	c := NewClient(Config{BaseURL: "https://tts.test", APIKey: "bad", VoiceID: "v"})

	httpmock.RegisterResponder(http.MethodPost, `=~^https://tts\.test/v1/text-to-speech/v`,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"detail":"invalid api key"}`))
	_, err := c.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, pipeerrors.IsRetryableError(err))

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodPost, `=~^https://tts\.test/v1/text-to-speech/v`,
		httpmock.NewBytesResponder(http.StatusOK, nil))
	_, err = c.Synthesize(context.Background(), "hello")
	assert.True(t, pipeerrors.IsMalformed(err))
}

type fakeSynth struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return nil, errors.New("synthesis failed")
	}
	return []byte("mp3:" + text), nil
}

type fakeBook struct {
	alerts map[int64]*models.Alert
}

func (b *fakeBook) List(unresolvedOnly bool) []models.Alert {
	var out []models.Alert
	for _, a := range b.alerts {
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func (b *fakeBook) SetAudio(id int64, ref string) bool {
	a, ok := b.alerts[id]
	if ok {
		a.AudioRef = ref
	}
	return ok
}

func highAlert(id int64, created time.Time, phrase string) *models.Alert {
	return &models.Alert{ID: id, Severity: models.SeverityHigh, Phraseology: phrase, CreatedAt: created}
}

func TestPrepareRespectsCapOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book := &fakeBook{alerts: map[int64]*models.Alert{
		1: {ID: 1, Severity: models.SeverityHigh, AudioRef: "task_1.mp3", CreatedAt: base},
		2: highAlert(2, base.Add(3*time.Second), "second"),
		3: highAlert(3, base.Add(1*time.Second), "first"),
		4: highAlert(4, base.Add(2*time.Second), "middle"),
		5: {ID: 5, Severity: models.SeverityMedium, Phraseology: "medium", CreatedAt: base},
		6: highAlert(6, base, ""),
	}}
	synth := &fakeSynth{}
	dir := t.TempDir()
	p, err := NewPreparer(synth, book, dir, 3)
	require.NoError(t, err)

	created := []models.Alert{*book.alerts[2], *book.alerts[3], *book.alerts[4], *book.alerts[5], *book.alerts[6]}
	written := p.Prepare(context.Background(), created)

	assert.Equal(t, 2, written)
	assert.Equal(t, []string{"first", "middle"}, synth.calls)
	assert.Equal(t, "task_3.mp3", book.alerts[3].AudioRef)
	assert.Equal(t, "task_4.mp3", book.alerts[4].AudioRef)
	assert.Empty(t, book.alerts[2].AudioRef)

	data, err := os.ReadFile(filepath.Join(dir, "task_3.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "mp3:first", string(data))
}

func TestPrepareFailureLeavesAlertWithoutAudio(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book := &fakeBook{alerts: map[int64]*models.Alert{
		1: highAlert(1, base, "broken"),
		2: highAlert(2, base.Add(time.Second), "works"),
	}}
	synth := &fakeSynth{fail: map[string]bool{"broken": true}}
	p, err := NewPreparer(synth, book, t.TempDir(), 0)
	require.NoError(t, err)

	written := p.Prepare(context.Background(), []models.Alert{*book.alerts[1], *book.alerts[2]})
	assert.Equal(t, 1, written)
	assert.Empty(t, book.alerts[1].AudioRef)
	assert.Equal(t, "task_2.mp3", book.alerts[2].AudioRef)
}

func TestPrepareRemovesFileForVanishedAlert(t *testing.T) {
	book := &fakeBook{alerts: map[int64]*models.Alert{}}
	dir := t.TempDir()
	p, err := NewPreparer(&fakeSynth{}, book, dir, 3)
	require.NoError(t, err)

	gone := highAlert(9, time.Now(), "gone")
	assert.Equal(t, 0, p.Prepare(context.Background(), []models.Alert{*gone}))
	_, err = os.Stat(filepath.Join(dir, "task_9.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupRemovesOrphanedClips(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	book := &fakeBook{alerts: map[int64]*models.Alert{
		1: {ID: 1, Severity: models.SeverityHigh, AudioRef: "task_1.mp3", CreatedAt: base},
		2: {ID: 2, Severity: models.SeverityHigh, AudioRef: "task_2.mp3", CreatedAt: base, Resolved: true},
	}}
	dir := t.TempDir()
	p, err := NewPreparer(&fakeSynth{}, book, dir, 3)
	require.NoError(t, err)

	for _, name := range []string{"task_1.mp3", "task_2.mp3", "task_3.mp3", "task_4.mp3.tmp", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	assert.Equal(t, 2, p.Cleanup())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"task_1.mp3", "task_2.mp3", "notes.txt"}, names)

	// Once the alert is purged its clip goes too
	delete(book.alerts, 2)
	assert.Equal(t, 1, p.Cleanup())
	_, err = os.Stat(filepath.Join(dir, "task_2.mp3"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, p.Cleanup())
}
