package internal

import (
	"sync"
	"time"

	specs "github.com/chrisconley/rhizome/specs"
)

// HarvestSession holds one run's counters. It is shared by the harvester and
// the extractor so progress and the final summary agree.
type HarvestSession struct {
	runID     string
	startedAt time.Time

	mu           sync.Mutex
	pages        int
	fetched      int
	classified   int
	accepted     int
	limitReached bool
}

func NewHarvestSession(runID string, startedAt time.Time) *HarvestSession {
	return &HarvestSession{runID: runID, startedAt: startedAt}
}

func (s *HarvestSession) RunID() string {
	return s.runID
}

func (s *HarvestSession) StartedAt() time.Time {
	return s.startedAt
}

func (s *HarvestSession) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

func (s *HarvestSession) Fetched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched
}

func (s *HarvestSession) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *HarvestSession) LimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitReached
}

// pageStored counts a page that is now durable.
func (s *HarvestSession) pageStored(records int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages++
	s.fetched += records
}

func (s *HarvestSession) markLimitReached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitReached = true
}

// restore seeds the counters from a finished harvest's manifest when the
// pages were fetched by an earlier process.
func (s *HarvestSession) restore(m specs.CheckpointManifestSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = m.Pages
	s.fetched = m.Records
	s.limitReached = m.LimitReached
}

func (s *HarvestSession) recordClassified(include bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classified++
	if include {
		s.accepted++
	}
}

// harvestProgress reports fetch totals after page seq was stored.
func (s *HarvestSession) harvestProgress(seq int) specs.ProgressSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return specs.ProgressSpec{
		RunID:           s.runID,
		Page:            seq,
		Fetched:         s.fetched,
		AcceptanceRatio: Ratio(0, s.fetched).String(),
	}
}

// classifyProgress reports acceptance totals after page seq was classified.
func (s *HarvestSession) classifyProgress(seq int) specs.ProgressSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return specs.ProgressSpec{
		RunID:           s.runID,
		Page:            seq,
		Fetched:         s.classified,
		Accepted:        s.accepted,
		AcceptanceRatio: Ratio(s.accepted, s.classified).String(),
	}
}

func (s *HarvestSession) Manifest(finishedAt time.Time) specs.CheckpointManifestSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return specs.CheckpointManifestSpec{
		RunID:        s.runID,
		Pages:        s.pages,
		Records:      s.fetched,
		Complete:     true,
		LimitReached: s.limitReached,
		StartedAt:    s.startedAt,
		FinishedAt:   finishedAt,
	}
}

// Summary builds the run summary. The acceptance ratio is accepted over
// fetched.
func (s *HarvestSession) Summary(stats *MatchStatistics, discrepancies []Discrepancy, finishedAt time.Time) specs.RunSummarySpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []specs.DiscrepancySpec
	for _, d := range discrepancies {
		out = append(out, d.ToSpec())
	}
	summary := specs.RunSummarySpec{
		RunID:           s.runID,
		Pages:           s.pages,
		Fetched:         s.fetched,
		Accepted:        s.accepted,
		AcceptanceRatio: Ratio(s.accepted, s.fetched).String(),
		Discrepancies:   out,
		StartedAt:       s.startedAt,
		FinishedAt:      finishedAt,
	}
	if stats != nil {
		summary.Statistics = stats.ToSpec()
	}
	return summary
}
