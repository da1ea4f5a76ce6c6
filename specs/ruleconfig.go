package specs

// RuleConfigSpec defines which harvested records belong in the output set.
//
// A rule configuration is a flat list of rule-groups, each addressed by a
// (scope, member) pair. Every active group that applies to a record votes on
// it through its filters; the record is kept only when at least one vote was
// cast and every vote agrees on inclusion.
type RuleConfigSpec struct {
	// Rule-groups in evaluation order.
	//
	// Order has no effect on the inclusion decision, but it fixes the order in
	// which match statistics are attributed and reported, so it must be stable
	// between runs for reproducible statistics.
	Groups []RuleGroupSpec `json:"groups" yaml:"groups"`
}

// RuleGroupSpec defines one named rule-group.
//
// The (Scope, Member) pair doubles as the set-membership token the remote
// archive attaches to each record: a group with Scope "partner" and Member
// "HHCT" applies to records tagged "partner:HHCT".
type RuleGroupSpec struct {
	// Outer scope of the group.
	//
	// One of "partner", "collection", or "none" (an empty string also means
	// "none"). Any other value is rejected when the configuration is loaded.
	Scope string `json:"scope" yaml:"scope"`

	// Short code of the contributing organization or sub-collection.
	//
	// Examples: "HHCT", "DMA", "MAFP". Required for every scope; for the "none"
	// scope it is only a label used in statistics and reports.
	Member string `json:"member" yaml:"member"`

	// Whether the record must carry the "scope:member" set token before any of
	// this group's filters are evaluated.
	//
	// Defaults to true for "partner" and "collection" groups and false for
	// "none" groups. Setting it to true on a "none" group is a configuration
	// error, because there is no token to match.
	ScopeMatchRequired *bool `json:"scopeMatchRequired,omitempty" yaml:"scope_match_required,omitempty"`

	// Filters evaluated for every record this group applies to.
	//
	// A group with no filters casts no votes at all; on its own it can never
	// cause a record to be accepted.
	Filters []FilterSpec `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Expected volume of accepted records attributed to this group.
	//
	// Nil means unbounded: only per-filter coverage is validated.
	Results *ExpectationSpec `json:"results,omitempty" yaml:"results,omitempty"`

	// Administratively disables the group.
	//
	// Ignored groups cast no votes and are skipped by validation.
	Ignore bool `json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// FilterSpec defines a single include or exclude test on one record field.
type FilterSpec struct {
	// Record field to inspect.
	//
	// The sentinel "keywords" searches the record's title and description
	// values instead of a single field. Examples: "type", "subject", "keywords".
	Field string `json:"field" yaml:"field"`

	// Filter polarity: "include" or "exclude".
	//
	// An include filter votes for inclusion when it matches; an exclude filter
	// votes against inclusion when it matches.
	Type string `json:"type" yaml:"type"`

	// Candidate values, tried in order; the first one that matches wins.
	//
	// At least one value is required.
	Values []string `json:"values" yaml:"values"`

	// Compare without case folding. Defaults to false.
	CaseSensitive bool `json:"caseSensitive,omitempty" yaml:"case_sensitive,omitempty"`

	// Require a candidate to equal a field value instead of appearing as a
	// substring of one. Defaults to false.
	ExactMatch bool `json:"exactMatch,omitempty" yaml:"exact_match,omitempty"`
}

// ExpectationSpec defines how many accepted records a group should produce.
//
// Either ExpectedNumber is set (an exact count) or Min and/or Max are set (an
// inclusive range). Setting both forms is a configuration error. An
// ExpectationSpec with nothing set is treated as unbounded.
type ExpectationSpec struct {
	// Exact number of accepted records expected.
	ExpectedNumber *int `json:"expectedNumber,omitempty" yaml:"expected_number,omitempty"`

	// Inclusive lower bound. Nil means no lower bound.
	Min *int `json:"min,omitempty" yaml:"min,omitempty"`

	// Inclusive upper bound. Nil means no upper bound.
	Max *int `json:"max,omitempty" yaml:"max,omitempty"`
}
