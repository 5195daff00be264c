package weather

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Fetcher is the upstream used by ReportSet.
type Fetcher interface {
	PIREPs(ctx context.Context) ([]Report, error)
	SIGMETs(ctx context.Context) ([]Report, error)
}

// ReportSet holds the latest reports per source. A refresh replaces a
// source's reports only when that source was fetched successfully.
type ReportSet struct {
	mu          sync.RWMutex
	fetcher     Fetcher
	clock       clockwork.Clock
	reports     map[Kind][]Report
	refreshedAt map[Kind]time.Time
}

// NewReportSet creates an empty set backed by fetcher.
func NewReportSet(fetcher Fetcher, clock clockwork.Clock) *ReportSet {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReportSet{
		fetcher:     fetcher,
		clock:       clock,
		reports:     make(map[Kind][]Report),
		refreshedAt: make(map[Kind]time.Time),
	}
}

// Refresh fetches both sources. Errors from either are joined and returned;
// the previous reports for a failed source are kept.
func (s *ReportSet) Refresh(ctx context.Context) error {
	pireps, pErr := s.fetcher.PIREPs(ctx)
	sigmets, sErr := s.fetcher.SIGMETs(ctx)

	now := s.clock.Now()
	s.mu.Lock()
	if pErr == nil {
		s.reports[KindPIREP] = pireps
		s.refreshedAt[KindPIREP] = now
	}
	if sErr == nil {
		s.reports[KindSIGMET] = sigmets
		s.refreshedAt[KindSIGMET] = now
	}
	total := len(s.reports[KindPIREP]) + len(s.reports[KindSIGMET])
	s.mu.Unlock()

	if pErr != nil {
		log.Warn().Err(pErr).Msg("PIREP refresh failed; keeping previous reports")
	}
	if sErr != nil {
		log.Warn().Err(sErr).Msg("SIGMET refresh failed; keeping previous reports")
	}
	log.Debug().Int("pireps", len(pireps)).Int("sigmets", len(sigmets)).Int("total", total).Msg("Environmental reports refreshed")

	return errors.Join(pErr, sErr)
}

// Reports returns a copy of all current reports, newest first.
func (s *ReportSet) Reports() []Report {
	s.mu.RLock()
	out := make([]Report, 0, len(s.reports[KindPIREP])+len(s.reports[KindSIGMET]))
	out = append(out, s.reports[KindPIREP]...)
	out = append(out, s.reports[KindSIGMET]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out
}

// Len returns the number of held reports.
func (s *ReportSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports[KindPIREP]) + len(s.reports[KindSIGMET])
}

// RefreshedAt returns when a source was last replaced.
func (s *ReportSet) RefreshedAt(kind Kind) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refreshedAt[kind]
	return t, ok
}
