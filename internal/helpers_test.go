package internal

import (
	"testing"

	specs "github.com/chrisconley/rhizome/specs"
	"github.com/stretchr/testify/require"
)

// Test helpers

type groupOption func(*specs.RuleGroupSpec)

func withFilter(field string, filterType string, values ...string) groupOption {
	return func(g *specs.RuleGroupSpec) {
		g.Filters = append(g.Filters, specs.FilterSpec{Field: field, Type: filterType, Values: values})
	}
}

func withFilterSpec(f specs.FilterSpec) groupOption {
	return func(g *specs.RuleGroupSpec) { g.Filters = append(g.Filters, f) }
}

func withExpected(n int) groupOption {
	return func(g *specs.RuleGroupSpec) { g.Results = &specs.ExpectationSpec{ExpectedNumber: &n} }
}

func withRange(min int, max int) groupOption {
	return func(g *specs.RuleGroupSpec) { g.Results = &specs.ExpectationSpec{Min: &min, Max: &max} }
}

func ignored() groupOption {
	return func(g *specs.RuleGroupSpec) { g.Ignore = true }
}

// newTestGroupSpec creates a RuleGroupSpec with the given options.
// Without options the group has no filters, no expectation and is active.
func newTestGroupSpec(scope string, member string, opts ...groupOption) specs.RuleGroupSpec {
	g := specs.RuleGroupSpec{Scope: scope, Member: member}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

func newTestRuleConfig(t *testing.T, groups ...specs.RuleGroupSpec) RuleConfig {
	t.Helper()
	config, err := NewRuleConfig(specs.RuleConfigSpec{Groups: groups})
	require.NoError(t, err)
	return config
}

type recordOption func(specs.RecordSpec)

func withSets(sets ...string) recordOption {
	return func(r specs.RecordSpec) { r["setSpec"] = append(r["setSpec"], sets...) }
}

func withValues(field string, values ...string) recordOption {
	return func(r specs.RecordSpec) { r[field] = append(r[field], values...) }
}

// newTestRecordSpec creates a record with a header identifier and the given
// fields.
func newTestRecordSpec(id string, opts ...recordOption) specs.RecordSpec {
	r := specs.RecordSpec{"header_identifier": {"info:ark:/67531/" + id}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newTestRecord(id string, opts ...recordOption) Record {
	return NewRecord(newTestRecordSpec(id, opts...))
}

func mustKey(t *testing.T, key string) RuleGroupKey {
	t.Helper()
	k, err := ParseRuleGroupKey(key)
	require.NoError(t, err)
	return k
}

func boolPtr(b bool) *bool {
	return &b
}
