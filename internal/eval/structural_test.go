package eval

import (
	"math"
	"testing"

	"mongoagent/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func queryExpectation(filter map[string]any) domain.Expectation {
	return domain.Expectation{Query: map[string]any{
		"collection": "events",
		"filter":     filter,
	}}
}

func queryResult(collection string, filter map[string]any) *domain.QueryResult {
	return &domain.QueryResult{
		CanonicalQuery: domain.CanonicalQuery{Collection: collection, Filter: filter},
	}
}

func TestStructuralScorer_WhenExpectedEqualsActual_ShouldScoreOne(t *testing.T) {
	filter := map[string]any{
		"type": "enterEvents",
		"date": map[string]any{
			"$gte": map[string]any{"$date": "2025-10-09T00:00:00.000Z"},
			"$lt":  map[string]any{"$date": "2025-10-10T00:00:00.000Z"},
		},
	}
	score, err := NewStructuralScorer().Score(queryExpectation(filter), queryResult("events", filter))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 1.0) {
		t.Errorf("expected 1.0, got %v", score)
	}
}

func TestStructuralScorer_WhenNoQueryDetected_ShouldScoreZero(t *testing.T) {
	score, err := NewStructuralScorer().Score(
		queryExpectation(map[string]any{"type": "enterEvents"}),
		&domain.QueryResult{},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 0.0) {
		t.Errorf("expected 0.0 for empty actual, got %v", score)
	}
}

func TestStructuralScorer_WhenExpectationHasNoQuery_ShouldError(t *testing.T) {
	_, err := NewStructuralScorer().Score(domain.Expectation{}, queryResult("events", nil))
	if err == nil {
		t.Fatal("expected error for expectation without a query")
	}
}

func TestStructuralScorer_WhenExpectationSetsBothShapes_ShouldError(t *testing.T) {
	exp := domain.Expectation{
		Query:        map[string]any{"collection": "events"},
		Conversation: []domain.ConversationTurn{{Role: "user"}},
	}
	_, err := NewStructuralScorer().Score(exp, queryResult("events", nil))
	if err == nil {
		t.Fatal("expected error for ambiguous expectation")
	}
}

func TestScoreQuery_WhenHalfTheFieldsMatch_ShouldScoreHalf(t *testing.T) {
	expected := map[string]any{"type": "enterEvents", "entryType": "qrCode"}
	actual := map[string]any{"type": "enterEvents"}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 0.5) {
		t.Errorf("expected exactly 0.5, got %v", got)
	}
}

func TestScoreQuery_WhenStringsDifferOnlyInCase_ShouldScoreOne(t *testing.T) {
	expected := map[string]any{"guestName": "John Doe"}
	actual := map[string]any{"guestName": "JOHN DOE"}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 1.0) {
		t.Errorf("expected 1.0, got %v", got)
	}
}

func TestScoreQuery_WhenPlaceholderMeetsTimestamp_ShouldScoreOne(t *testing.T) {
	expected := map[string]any{"date": map[string]any{"$gte": "today_start"}}
	actual := map[string]any{"date": map[string]any{"$gte": "2025-10-09T00:00:00.000Z"}}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 1.0) {
		t.Errorf("expected 1.0, got %v", got)
	}
}

func TestScoreQuery_WhenPlaceholderMeetsGarbage_ShouldScoreZero(t *testing.T) {
	expected := map[string]any{"date": map[string]any{"$gte": "today_start"}}
	actual := map[string]any{"date": map[string]any{"$gte": "not-a-date"}}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 0.0) {
		t.Errorf("expected 0.0, got %v", got)
	}
}

func TestScoreQuery_WhenActualHasExtraKeys_ShouldIgnoreThem(t *testing.T) {
	expected := map[string]any{"type": "enterEvents"}
	actual := map[string]any{"type": "enterEvents", "entryType": "qrCode", "left": false}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 1.0) {
		t.Errorf("extra actual keys must not penalize, got %v", got)
	}
}

func TestScoreQuery_WhenNestedSubtreeMissing_ShouldChargeFullWeight(t *testing.T) {
	expected := map[string]any{
		"type": "enterEvents",
		"date": map[string]any{
			"$gte": map[string]any{"$date": "today_start"},
			"$lt":  map[string]any{"$date": "today_end"},
		},
	}
	actual := map[string]any{"type": "enterEvents"}
	// One leaf matched out of three (type + two date bounds).
	if got := ScoreQuery(expected, actual); !almostEqual(got, 1.0/3.0) {
		t.Errorf("expected 1/3, got %v", got)
	}
}

func TestScoreQuery_WhenListsComparedByPosition_ShouldPenalizeMissingItems(t *testing.T) {
	expected := map[string]any{"$or": []any{
		map[string]any{"type": "enterEvents"},
		map[string]any{"type": "leaveEvents"},
	}}
	actual := map[string]any{"$or": []any{
		map[string]any{"type": "enterEvents"},
	}}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 0.5) {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestScoreQuery_WhenNumericTypesDiffer_ShouldStillMatch(t *testing.T) {
	// YAML fixtures decode integers as int; JSON traces decode them as float64.
	expected := map[string]any{"duration": 5}
	actual := map[string]any{"duration": float64(5)}
	if got := ScoreQuery(expected, actual); !almostEqual(got, 1.0) {
		t.Errorf("expected 1.0 across numeric types, got %v", got)
	}
}

func TestScoreQuery_WhenExpectedSideEmpty_ShouldScoreZero(t *testing.T) {
	if got := ScoreQuery(map[string]any{}, map[string]any{"a": 1}); !almostEqual(got, 0.0) {
		t.Errorf("expected 0.0, got %v", got)
	}
}

func TestCountFields_ShouldBeAdditiveOverConcatenation(t *testing.T) {
	left := map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}}
	right := map[string]any{"e": []any{"x", "y"}}

	combined := map[string]any{}
	for k, v := range left {
		combined[k] = v
	}
	for k, v := range right {
		combined[k] = v
	}

	if got, want := CountFields(combined), CountFields(left)+CountFields(right); got != want {
		t.Errorf("CountFields not additive: combined=%d parts=%d", got, want)
	}
}

func TestCountFields_WhenLeaf_ShouldCountOne(t *testing.T) {
	if got := CountFields("enterEvents"); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestCountFields_WhenEmptyMapping_ShouldCountZero(t *testing.T) {
	if got := CountFields(map[string]any{}); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
