package specs

import "time"

// Classify decides whether one normalized record belongs in the output set.
//
// Process:
//  1. For every active rule-group whose scope token the record carries (or
//     that does not require one), every filter casts one vote.
//  2. No votes at all means the record is excluded.
//  3. Otherwise the record is included only if every vote is an include vote.
//  4. The rule-groups whose votes agree with the decision are credited with
//     the match in the run's statistics.
//
// This is the spec-level interface using only primitive types.
// See internal.Classify for the reference implementation.
type Classify func(record RecordSpec, config RuleConfigSpec) (DecisionSpec, error)

// Validate compares accumulated match statistics against each active group's
// expectation once the full harvest has been classified.
type Validate func(stats MatchStatisticsSpec, config RuleConfigSpec) ([]DiscrepancySpec, error)

// DecisionSpec is the outcome of classifying one record.
type DecisionSpec struct {
	Include bool `json:"include"`

	// Rule-groups credited with this decision, as "scope:member" keys.
	AttributedTo []string `json:"attributedTo,omitempty"`

	// Number of votes cast across all applicable groups.
	Votes int `json:"votes"`
}

// MatchStatisticsSpec is a snapshot of the run's match statistics.
type MatchStatisticsSpec struct {
	Groups []GroupStatisticsSpec `json:"groups"`
}

// GroupStatisticsSpec holds one rule-group's accumulated statistics.
type GroupStatisticsSpec struct {
	// "scope:member" key of the group.
	Key string `json:"key"`

	// Records accepted with this group credited.
	Accepted int `json:"accepted"`

	// Records rejected with this group credited.
	Rejected int `json:"rejected"`

	// filter field -> matched value -> count.
	//
	// Votes cast without a match are counted under "(no match)".
	Matches map[string]map[string]int `json:"matches,omitempty"`
}

// DiscrepancySpec is one validator finding.
type DiscrepancySpec struct {
	// "scope:member" key of the group.
	Group string `json:"group"`

	// "count", "filter", or "value".
	Kind string `json:"kind"`

	// Filter field for "filter" and "value" findings.
	Filter string `json:"filter,omitempty"`

	// Candidate value for "value" findings.
	Value string `json:"value,omitempty"`

	Message string `json:"message"`
}

// RunSummarySpec describes one completed pipeline run.
type RunSummarySpec struct {
	RunID           string              `json:"runID"`
	Pages           int                 `json:"pages"`
	Fetched         int                 `json:"fetched"`
	Accepted        int                 `json:"accepted"`
	AcceptanceRatio string              `json:"acceptanceRatio"`
	Statistics      MatchStatisticsSpec `json:"statistics"`
	Discrepancies   []DiscrepancySpec   `json:"discrepancies,omitempty"`
	StartedAt       time.Time           `json:"startedAt"`
	FinishedAt      time.Time           `json:"finishedAt"`
}
