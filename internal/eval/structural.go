package eval

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"mongoagent/internal/domain"
)

// datePlaceholders are expected-value tokens standing in for concrete,
// comparison-exempt timestamps. When the expected leaf is one of these and
// the actual leaf parses as a timestamp, the pair matches: exact instants
// are never compared, only that some timestamp was substituted.
var datePlaceholders = map[string]bool{
	"today_start":      true,
	"today_end":        true,
	"yesterday_start":  true,
	"yesterday_end":    true,
	"week_start":       true,
	"last_week_start":  true,
	"last_week_end":    true,
	"month_start":      true,
	"last_month_start": true,
	"last_month_end":   true,
}

// timestampPattern accepts ISO-8601 date-time prefixes ("2025-10-09T00:00:00"
// with or without fractional seconds or a zone suffix).
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// StructuralScorer compares an expected canonical query against the actual
// one, field by field, and returns the ratio of matched leaf fields to total
// expected leaf fields. Keys present only on the actual side are ignored:
// coverage is expected-driven, not a symmetric diff.
type StructuralScorer struct{}

// NewStructuralScorer returns a ready-to-use structural scorer.
func NewStructuralScorer() *StructuralScorer { return &StructuralScorer{} }

// Name implements domain.Scorer.
func (s *StructuralScorer) Name() string { return "structural" }

// Score implements domain.Scorer. The expectation must carry a query
// structure; anything else is a fixture-authoring defect and errors loudly.
func (s *StructuralScorer) Score(expected domain.Expectation, actual *domain.QueryResult) (float64, error) {
	if expected.Query == nil {
		return 0, fmt.Errorf("eval: structural scorer needs a query expectation")
	}
	if len(expected.Conversation) > 0 {
		return 0, fmt.Errorf("eval: expectation sets both query and conversation")
	}
	if actual == nil {
		return 0, nil
	}
	return ScoreQuery(expected.Query, canonicalMap(&actual.CanonicalQuery)), nil
}

// canonicalMap reduces a CanonicalQuery to the generic mapping shape the
// comparison walks, mirroring the fixture side.
func canonicalMap(q *domain.CanonicalQuery) map[string]any {
	out := map[string]any{}
	if q.Collection != "" {
		out["collection"] = q.Collection
	}
	if q.Filter != nil {
		out["filter"] = q.Filter
	}
	return out
}

// ScoreQuery scores an actual query mapping against an expected one.
// Identical structures short-circuit to 1.0; an empty side scores 0.0.
func ScoreQuery(expected, actual map[string]any) float64 {
	if reflect.DeepEqual(expected, actual) {
		return 1.0
	}
	if len(expected) == 0 || len(actual) == 0 {
		return 0.0
	}
	matched, total := compare(expected, actual)
	if total == 0 {
		return 0.0
	}
	return float64(matched) / float64(total)
}

// compare recursively walks (expected, actual) and accumulates
// (matched leaf fields, total expected leaf fields).
func compare(expected, actual any) (matched, total int) {
	if expected == nil {
		if actual != nil {
			return 1, 1
		}
		return 0, 1
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return 0, CountFields(exp)
		}
		for key, expVal := range exp {
			if actVal, present := act[key]; present {
				m, t := compare(expVal, actVal)
				matched += m
				total += t
			} else {
				// A missing key forfeits the full weight of its subtree.
				total += CountFields(expVal)
			}
		}
		return matched, total

	case []any:
		act, ok := actual.([]any)
		if !ok {
			return 0, CountFields(exp)
		}
		for i, expItem := range exp {
			var actItem any
			if i < len(act) {
				actItem = act[i]
			}
			m, t := compare(expItem, actItem)
			matched += m
			total += t
		}
		return matched, total

	default:
		return compareLeaf(expected, actual), 1
	}
}

// compareLeaf scores a single leaf pair as 0 or 1.
func compareLeaf(expected, actual any) int {
	if reflect.DeepEqual(expected, actual) {
		return 1
	}
	if expNum, ok := asFloat(expected); ok {
		if actNum, ok := asFloat(actual); ok && expNum == actNum {
			return 1
		}
	}
	expStr, expIsStr := expected.(string)
	actStr, actIsStr := actual.(string)
	if expIsStr && actIsStr {
		if datePlaceholders[expStr] && timestampPattern.MatchString(actStr) {
			return 1
		}
		if strings.EqualFold(expStr, actStr) {
			return 1
		}
	}
	return 0
}

// asFloat normalizes the numeric types produced by JSON and YAML decoding so
// that 5 and 5.0 compare equal across fixture formats.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CountFields returns the total number of leaf fields in a nested structure.
// It is used to weight missing-key penalties: a missing subtree costs as many
// points as it would have been worth fully matched.
func CountFields(node any) int {
	switch n := node.(type) {
	case map[string]any:
		sum := 0
		for _, v := range n {
			sum += CountFields(v)
		}
		return sum
	case []any:
		sum := 0
		for _, item := range n {
			sum += CountFields(item)
		}
		return sum
	default:
		return 1
	}
}

var _ domain.Scorer = (*StructuralScorer)(nil)
