package internal

import (
	"fmt"

	specs "github.com/chrisconley/rhizome/specs"
)

// Classify implements specs.Classify.
// Converts specs to domain objects, classifies, and converts back to specs.
func Classify(recordSpec specs.RecordSpec, configSpec specs.RuleConfigSpec) (specs.DecisionSpec, error) {
	config, err := NewRuleConfig(configSpec)
	if err != nil {
		return specs.DecisionSpec{}, fmt.Errorf("invalid config: %w", err)
	}

	decision := classify(NewRecord(recordSpec), config, NewMatchStatistics(config))
	return decision.ToSpec(), nil
}

// IncludeVote is one filter's opinion about one record. It only lives for the
// duration of that record's evaluation.
type IncludeVote struct {
	Group          RuleGroupKey
	Filter         string
	Match          string
	Matched        bool
	FilterIncludes bool
	Value          bool
}

type Decision struct {
	Include      bool
	Votes        []IncludeVote
	AttributedTo []RuleGroupKey
}

func (d Decision) ToSpec() specs.DecisionSpec {
	attributed := make([]string, len(d.AttributedTo))
	for i, key := range d.AttributedTo {
		attributed[i] = key.ToString()
	}
	return specs.DecisionSpec{
		Include:      d.Include,
		AttributedTo: attributed,
		Votes:        len(d.Votes),
	}
}

// classify decides whether a record is accepted and credits the groups whose
// votes agree with the decision in stats.
//
// Every applicable filter casts one vote:
//   - include filter: match -> true, no match -> false
//   - exclude filter: match -> false, no match -> true
//
// No votes means the record is excluded. Otherwise a single false vote from
// any group vetoes inclusion.
func classify(record Record, config RuleConfig, stats *MatchStatistics) Decision {
	votes := castVotes(record, config)
	if len(votes) == 0 {
		return Decision{Include: false}
	}

	include := true
	for _, v := range votes {
		if !v.Value {
			include = false
			break
		}
	}

	// one credit per group, taken from its first agreeing vote
	credited := make(map[RuleGroupKey]bool)
	var attributed []RuleGroupKey
	for _, v := range votes {
		if v.Value != include || credited[v.Group] {
			continue
		}
		credited[v.Group] = true
		attributed = append(attributed, v.Group)
		if stats != nil {
			stats.credit(v.Group, v.Filter, v.Match, include)
		}
	}

	return Decision{
		Include:      include,
		Votes:        votes,
		AttributedTo: attributed,
	}
}

func castVotes(record Record, config RuleConfig) []IncludeVote {
	var votes []IncludeVote
	for _, group := range config.groups {
		if !group.AppliesTo(record) {
			continue
		}
		for _, filter := range group.filters {
			match, matched := filter.Match(record)
			includes := filter.Mode() == FilterInclude
			value := !includes
			if matched {
				value = includes
			}
			votes = append(votes, IncludeVote{
				Group:          group.key,
				Filter:         filter.Field(),
				Match:          match,
				Matched:        matched,
				FilterIncludes: includes,
				Value:          value,
			})
		}
	}
	return votes
}
