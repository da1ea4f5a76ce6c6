package internal

import (
	"errors"
	"fmt"
	"strings"

	specs "github.com/chrisconley/rhizome/specs"
	"go.uber.org/zap"
)

// ErrValidationFailed is wrapped by ValidationError.
var ErrValidationFailed = errors.New("result validation failed")

// Validate implements specs.Validate.
func Validate(statsSpec specs.MatchStatisticsSpec, configSpec specs.RuleConfigSpec) ([]specs.DiscrepancySpec, error) {
	config, err := NewRuleConfig(configSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	stats, err := NewMatchStatisticsFromSpec(statsSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid statistics: %w", err)
	}

	discrepancies := validate(config, stats)
	out := make([]specs.DiscrepancySpec, len(discrepancies))
	for i, d := range discrepancies {
		out[i] = d.ToSpec()
	}
	return out, nil
}

type DiscrepancyKind string

const (
	// accepted count outside the group's expectation
	DiscrepancyCount DiscrepancyKind = "count"
	// a filter matched nothing at all
	DiscrepancyFilter DiscrepancyKind = "filter"
	// one configured filter value matched nothing
	DiscrepancyValue DiscrepancyKind = "value"
)

type Discrepancy struct {
	Group   RuleGroupKey
	Kind    DiscrepancyKind
	Filter  string
	Value   string
	Message string
}

func (d Discrepancy) ToSpec() specs.DiscrepancySpec {
	return specs.DiscrepancySpec{
		Group:   d.Group.ToString(),
		Kind:    string(d.Kind),
		Filter:  d.Filter,
		Value:   d.Value,
		Message: d.Message,
	}
}

// ValidationError carries every discrepancy found in test mode.
type ValidationError struct {
	Discrepancies []Discrepancy
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Discrepancies))
	for i, d := range e.Discrepancies {
		msgs[i] = d.Message
	}
	return fmt.Sprintf("%s: %d discrepancies: %s", ErrValidationFailed, len(e.Discrepancies), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// validate checks every active group's accepted count and filter coverage.
func validate(config RuleConfig, stats *MatchStatistics) []Discrepancy {
	var out []Discrepancy
	for _, group := range config.groups {
		if !group.active {
			continue
		}
		key := group.key

		if ok, msg := group.expectation.Check(key, stats.Accepted(key)); !ok {
			out = append(out, Discrepancy{Group: key, Kind: DiscrepancyCount, Message: msg})
		}

		for _, filter := range group.filters {
			matches := stats.Matches(key, filter.Field())
			if len(matches) == 0 {
				out = append(out, Discrepancy{
					Group:   key,
					Kind:    DiscrepancyFilter,
					Filter:  filter.Field(),
					Message: fmt.Sprintf("the %s filter of %s got no matches", filter.Field(), key.ToString()),
				})
			}
			for _, value := range filter.Values() {
				if matches[value] > 0 {
					continue
				}
				out = append(out, Discrepancy{
					Group:   key,
					Kind:    DiscrepancyValue,
					Filter:  filter.Field(),
					Value:   value,
					Message: fmt.Sprintf("the %s filter of %s value %q got no matches", filter.Field(), key.ToString(), value),
				})
			}
		}
	}
	return out
}

// Report surfaces discrepancies: warnings normally, an error in test mode.
func Report(discrepancies []Discrepancy, testMode bool, logger *zap.Logger) error {
	if len(discrepancies) == 0 {
		return nil
	}
	if testMode {
		return &ValidationError{Discrepancies: discrepancies}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, d := range discrepancies {
		logger.Warn("validation discrepancy",
			zap.String("group", d.Group.ToString()),
			zap.String("kind", string(d.Kind)),
			zap.String("filter", d.Filter),
			zap.String("value", d.Value),
			zap.String("message", d.Message))
	}
	return nil
}
