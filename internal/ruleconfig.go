package internal

import (
	"errors"
	"fmt"
	"strings"

	specs "github.com/chrisconley/rhizome/specs"
)

var (
	// ErrInvalidConfig is wrapped by every load-time configuration error.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidScope reports an outer scope other than none, partner or collection.
	ErrInvalidScope = fmt.Errorf("%w: invalid scope", ErrInvalidConfig)
)

// KeywordsField is the filter field that searches title and description.
const KeywordsField = "keywords"

type RuleConfig struct {
	groups []RuleGroup
}

func NewRuleConfig(spec specs.RuleConfigSpec) (RuleConfig, error) {
	groups := make([]RuleGroup, 0, len(spec.Groups))
	seen := make(map[RuleGroupKey]bool, len(spec.Groups))
	for i, g := range spec.Groups {
		group, err := NewRuleGroup(g)
		if err != nil {
			return RuleConfig{}, fmt.Errorf("group %d: %w", i, err)
		}
		if seen[group.Key()] {
			return RuleConfig{}, fmt.Errorf("group %d: %w: duplicate group %s", i, ErrInvalidConfig, group.Key().ToString())
		}
		seen[group.Key()] = true
		groups = append(groups, group)
	}

	return RuleConfig{groups: groups}, nil
}

// Groups returns every group, active or not, in configuration order.
func (c RuleConfig) Groups() []RuleGroup {
	out := make([]RuleGroup, len(c.groups))
	copy(out, c.groups)
	return out
}

func (c RuleConfig) Group(key RuleGroupKey) (RuleGroup, bool) {
	for _, g := range c.groups {
		if g.key == key {
			return g, true
		}
	}
	return RuleGroup{}, false
}

// WithActive returns a copy of the configuration with one group toggled.
func (c RuleConfig) WithActive(key RuleGroupKey, active bool) (RuleConfig, error) {
	groups := c.Groups()
	for i := range groups {
		if groups[i].key == key {
			groups[i].active = active
			return RuleConfig{groups: groups}, nil
		}
	}
	return RuleConfig{}, fmt.Errorf("%w: unknown group %s", ErrInvalidConfig, key.ToString())
}

// Isolate returns a copy in which only the given group is active.
func (c RuleConfig) Isolate(key RuleGroupKey) (RuleConfig, error) {
	if _, ok := c.Group(key); !ok {
		return RuleConfig{}, fmt.Errorf("%w: unknown group %s", ErrInvalidConfig, key.ToString())
	}
	groups := c.Groups()
	for i := range groups {
		groups[i].active = groups[i].key == key
	}
	return RuleConfig{groups: groups}, nil
}

type Scope int

const (
	ScopeNone Scope = iota
	ScopePartner
	ScopeCollection
)

func NewScope(value string) (Scope, error) {
	switch value {
	case "", "none":
		return ScopeNone, nil
	case "partner":
		return ScopePartner, nil
	case "collection":
		return ScopeCollection, nil
	default:
		return ScopeNone, fmt.Errorf("%w: %q", ErrInvalidScope, value)
	}
}

func (s Scope) ToString() string {
	switch s {
	case ScopePartner:
		return "partner"
	case ScopeCollection:
		return "collection"
	default:
		return "none"
	}
}

// RuleGroupKey addresses a rule-group by (scope, member).
type RuleGroupKey struct {
	scope  Scope
	member string
}

func NewRuleGroupKey(scope string, member string) (RuleGroupKey, error) {
	s, err := NewScope(scope)
	if err != nil {
		return RuleGroupKey{}, err
	}
	if strings.TrimSpace(member) == "" {
		return RuleGroupKey{}, fmt.Errorf("%w: member is required", ErrInvalidConfig)
	}
	return RuleGroupKey{scope: s, member: member}, nil
}

// ParseRuleGroupKey parses the "scope:member" form.
func ParseRuleGroupKey(value string) (RuleGroupKey, error) {
	scope, member, ok := strings.Cut(value, ":")
	if !ok {
		return RuleGroupKey{}, fmt.Errorf("%w: group key %q is not scope:member", ErrInvalidConfig, value)
	}
	return NewRuleGroupKey(scope, member)
}

func (k RuleGroupKey) Scope() Scope {
	return k.scope
}

func (k RuleGroupKey) Member() string {
	return k.member
}

// ToString returns the "scope:member" form, which is also the set-membership
// token the archive attaches to records.
func (k RuleGroupKey) ToString() string {
	return k.scope.ToString() + ":" + k.member
}

type RuleGroup struct {
	key                RuleGroupKey
	scopeMatchRequired bool
	filters            []Filter
	expectation        Expectation
	active             bool
}

func NewRuleGroup(spec specs.RuleGroupSpec) (RuleGroup, error) {
	key, err := NewRuleGroupKey(spec.Scope, spec.Member)
	if err != nil {
		return RuleGroup{}, fmt.Errorf("invalid key: %w", err)
	}

	scopeMatchRequired := key.scope != ScopeNone
	if spec.ScopeMatchRequired != nil {
		scopeMatchRequired = *spec.ScopeMatchRequired
	}
	if scopeMatchRequired && key.scope == ScopeNone {
		return RuleGroup{}, fmt.Errorf("%w: %s requires a scope match but has no scope", ErrInvalidConfig, key.ToString())
	}

	// Match statistics are keyed by field, so a field may carry one filter per group.
	filters := make([]Filter, 0, len(spec.Filters))
	fields := make(map[string]bool, len(spec.Filters))
	for i, f := range spec.Filters {
		filter, err := NewFilter(f)
		if err != nil {
			return RuleGroup{}, fmt.Errorf("%s filter %d: %w", key.ToString(), i, err)
		}
		if fields[filter.Field()] {
			return RuleGroup{}, fmt.Errorf("%s filter %d: %w: field %q already has a filter", key.ToString(), i, ErrInvalidConfig, filter.Field())
		}
		fields[filter.Field()] = true
		filters = append(filters, filter)
	}

	expectation, err := NewExpectation(spec.Results)
	if err != nil {
		return RuleGroup{}, fmt.Errorf("%s results: %w", key.ToString(), err)
	}

	return RuleGroup{
		key:                key,
		scopeMatchRequired: scopeMatchRequired,
		filters:            filters,
		expectation:        expectation,
		active:             !spec.Ignore,
	}, nil
}

func (g RuleGroup) Key() RuleGroupKey {
	return g.key
}

func (g RuleGroup) ScopeMatchRequired() bool {
	return g.scopeMatchRequired
}

func (g RuleGroup) Filters() []Filter {
	return g.filters
}

func (g RuleGroup) Expectation() Expectation {
	return g.expectation
}

func (g RuleGroup) Active() bool {
	return g.active
}

// AppliesTo reports whether the group's filters should vote on the record.
func (g RuleGroup) AppliesTo(record Record) bool {
	if !g.active {
		return false
	}
	if !g.scopeMatchRequired {
		return true
	}
	return record.HasSetToken(g.key.ToString())
}

type FilterMode int

const (
	FilterInclude FilterMode = iota
	FilterExclude
)

func NewFilterMode(value string) (FilterMode, error) {
	switch strings.ToLower(value) {
	case "include":
		return FilterInclude, nil
	case "exclude":
		return FilterExclude, nil
	default:
		return FilterInclude, fmt.Errorf("%w: filter type %q is neither include nor exclude", ErrInvalidConfig, value)
	}
}

func (m FilterMode) ToString() string {
	if m == FilterExclude {
		return "exclude"
	}
	return "include"
}

type Filter struct {
	field   string
	mode    FilterMode
	values  []string
	matcher Matcher
}

func NewFilter(spec specs.FilterSpec) (Filter, error) {
	if strings.TrimSpace(spec.Field) == "" {
		return Filter{}, fmt.Errorf("%w: filter field is required", ErrInvalidConfig)
	}

	mode, err := NewFilterMode(spec.Type)
	if err != nil {
		return Filter{}, err
	}

	if len(spec.Values) == 0 {
		return Filter{}, fmt.Errorf("%w: filter %q has no values", ErrInvalidConfig, spec.Field)
	}
	values := make([]string, 0, len(spec.Values))
	for _, v := range spec.Values {
		if v == "" {
			return Filter{}, fmt.Errorf("%w: filter %q has an empty value", ErrInvalidConfig, spec.Field)
		}
		values = append(values, v)
	}

	matcher := NewMatcher(spec.ExactMatch, spec.CaseSensitive)
	if spec.Field == KeywordsField {
		// keyword search always folds case and looks for substrings
		matcher = NewMatcher(false, false)
	}

	return Filter{
		field:   spec.Field,
		mode:    mode,
		values:  values,
		matcher: matcher,
	}, nil
}

func (f Filter) Field() string {
	return f.field
}

func (f Filter) Mode() FilterMode {
	return f.mode
}

func (f Filter) Values() []string {
	return f.values
}

// Match returns the first configured value found in the record.
func (f Filter) Match(record Record) (string, bool) {
	if f.field == KeywordsField {
		haystack := []string{
			strings.Join(record.Values("title"), ""),
			strings.Join(record.Values("description"), ""),
		}
		return f.matcher.FirstMatch(f.values, haystack)
	}
	return f.matcher.FirstMatch(f.values, record.Values(f.field))
}

// Expectation is the declared volume of accepted records for a group.
type Expectation interface {
	// Check returns false and a message when accepted is out of bounds.
	Check(group RuleGroupKey, accepted int) (bool, string)
	ToString() string
}

func NewExpectation(spec *specs.ExpectationSpec) (Expectation, error) {
	if spec == nil {
		return Unbounded{}, nil
	}
	if spec.ExpectedNumber != nil {
		if spec.Min != nil || spec.Max != nil {
			return nil, fmt.Errorf("%w: expected_number cannot be combined with min or max", ErrInvalidConfig)
		}
		if *spec.ExpectedNumber < 0 {
			return nil, fmt.Errorf("%w: expected_number must not be negative", ErrInvalidConfig)
		}
		return ExactCount{n: *spec.ExpectedNumber}, nil
	}
	if spec.Min == nil && spec.Max == nil {
		return Unbounded{}, nil
	}
	r := Range{}
	if spec.Min != nil {
		if *spec.Min < 0 {
			return nil, fmt.Errorf("%w: min must not be negative", ErrInvalidConfig)
		}
		r.min, r.hasMin = *spec.Min, true
	}
	if spec.Max != nil {
		r.max, r.hasMax = *spec.Max, true
	}
	if r.hasMin && r.hasMax && r.min > r.max {
		return nil, fmt.Errorf("%w: min %d is greater than max %d", ErrInvalidConfig, r.min, r.max)
	}
	return r, nil
}

type ExactCount struct {
	n int
}

func (e ExactCount) Check(group RuleGroupKey, accepted int) (bool, string) {
	if accepted == e.n {
		return true, ""
	}
	return false, fmt.Sprintf("%d results were expected from %s, %d extracted", e.n, group.ToString(), accepted)
}

func (e ExactCount) ToString() string {
	return fmt.Sprintf("exactly %d", e.n)
}

// Range is inclusive on both ends; a missing bound is open.
type Range struct {
	min, max       int
	hasMin, hasMax bool
}

func (r Range) Check(group RuleGroupKey, accepted int) (bool, string) {
	if r.hasMin && accepted < r.min {
		return false, fmt.Sprintf("at least %d results were expected from %s, %d extracted", r.min, group.ToString(), accepted)
	}
	if r.hasMax && accepted > r.max {
		return false, fmt.Sprintf("no more than %d results were expected from %s, %d extracted", r.max, group.ToString(), accepted)
	}
	return true, ""
}

func (r Range) ToString() string {
	switch {
	case r.hasMin && r.hasMax:
		return fmt.Sprintf("between %d and %d", r.min, r.max)
	case r.hasMin:
		return fmt.Sprintf("at least %d", r.min)
	default:
		return fmt.Sprintf("at most %d", r.max)
	}
}

type Unbounded struct{}

func (Unbounded) Check(RuleGroupKey, int) (bool, string) {
	return true, ""
}

func (Unbounded) ToString() string {
	return "unbounded"
}
