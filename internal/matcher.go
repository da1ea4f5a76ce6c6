package internal

import "strings"

// Matcher is the single place that interprets exact/substring and case
// sensitivity for filters.
type Matcher struct {
	exactMatch    bool
	caseSensitive bool
}

func NewMatcher(exactMatch bool, caseSensitive bool) Matcher {
	return Matcher{exactMatch: exactMatch, caseSensitive: caseSensitive}
}

// FirstMatch returns the first candidate, in candidate order, that matches any
// of values. The returned candidate keeps its configured spelling.
func (m Matcher) FirstMatch(candidates []string, values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}

	folded := values
	if !m.caseSensitive {
		folded = make([]string, len(values))
		for i, v := range values {
			folded[i] = strings.ToLower(v)
		}
	}

	for _, candidate := range candidates {
		needle := candidate
		if !m.caseSensitive {
			needle = strings.ToLower(candidate)
		}
		for _, v := range folded {
			if m.exactMatch && v == needle {
				return candidate, true
			}
			if !m.exactMatch && strings.Contains(v, needle) {
				return candidate, true
			}
		}
	}
	return "", false
}
