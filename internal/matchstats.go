package internal

import (
	"fmt"
	"maps"
	"sync"

	specs "github.com/chrisconley/rhizome/specs"
)

// NoMatch is the statistics key for votes cast without a matched value.
const NoMatch = "(no match)"

// MatchStatistics accumulates per-group match counts for one run.
//
// Updates are serialized per instance, so classification may run from several
// goroutines. Counts only ever grow; a new run starts from NewMatchStatistics.
type MatchStatistics struct {
	mu     sync.Mutex
	order  []RuleGroupKey
	groups map[RuleGroupKey]*groupTally
}

type groupTally struct {
	accepted int
	rejected int
	matches  map[string]map[string]int
}

func NewMatchStatistics(config RuleConfig) *MatchStatistics {
	s := &MatchStatistics{groups: make(map[RuleGroupKey]*groupTally)}
	for _, g := range config.groups {
		s.tally(g.key)
	}
	return s
}

// NewMatchStatisticsFromSpec rebuilds statistics from a snapshot.
func NewMatchStatisticsFromSpec(spec specs.MatchStatisticsSpec) (*MatchStatistics, error) {
	s := &MatchStatistics{groups: make(map[RuleGroupKey]*groupTally)}
	for i, g := range spec.Groups {
		key, err := ParseRuleGroupKey(g.Key)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		if g.Accepted < 0 || g.Rejected < 0 {
			return nil, fmt.Errorf("group %s: counts must not be negative", g.Key)
		}
		t := s.tally(key)
		t.accepted = g.Accepted
		t.rejected = g.Rejected
		for filter, values := range g.Matches {
			t.matches[filter] = maps.Clone(values)
		}
	}
	return s, nil
}

// tally must be called with mu held, or before s is shared.
func (s *MatchStatistics) tally(key RuleGroupKey) *groupTally {
	t, ok := s.groups[key]
	if !ok {
		t = &groupTally{matches: make(map[string]map[string]int)}
		s.groups[key] = t
		s.order = append(s.order, key)
	}
	return t
}

// credit records that a group took part in one record's final decision.
func (s *MatchStatistics) credit(key RuleGroupKey, filter string, value string, include bool) {
	if value == "" {
		value = NoMatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tally(key)
	if include {
		t.accepted++
	} else {
		t.rejected++
	}
	if t.matches[filter] == nil {
		t.matches[filter] = make(map[string]int)
	}
	t.matches[filter][value]++
}

// Accepted returns the number of accepted records credited to the group.
func (s *MatchStatistics) Accepted(key RuleGroupKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.groups[key]; ok {
		return t.accepted
	}
	return 0
}

// Rejected returns the number of rejected records credited to the group.
func (s *MatchStatistics) Rejected(key RuleGroupKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.groups[key]; ok {
		return t.rejected
	}
	return 0
}

// Matches returns a copy of matched value -> count for one filter.
func (s *MatchStatistics) Matches(key RuleGroupKey, filter string) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.groups[key]
	if !ok {
		return map[string]int{}
	}
	out := maps.Clone(t.matches[filter])
	if out == nil {
		out = map[string]int{}
	}
	return out
}

func (s *MatchStatistics) Count(key RuleGroupKey, filter string, value string) int {
	return s.Matches(key, filter)[value]
}

func (s *MatchStatistics) ToSpec() specs.MatchStatisticsSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make([]specs.GroupStatisticsSpec, 0, len(s.order))
	for _, key := range s.order {
		t := s.groups[key]
		matches := make(map[string]map[string]int, len(t.matches))
		for filter, values := range t.matches {
			matches[filter] = maps.Clone(values)
		}
		groups = append(groups, specs.GroupStatisticsSpec{
			Key:      key.ToString(),
			Accepted: t.accepted,
			Rejected: t.rejected,
			Matches:  matches,
		})
	}
	return specs.MatchStatisticsSpec{Groups: groups}
}
