package eval

import (
	"testing"

	"mongoagent/internal/domain"
)

// qrCheckInTrace is a realistic trace: a schema lookup, then the find call,
// then a final answer.
func qrCheckInTrace() domain.Trace {
	return domain.Trace{
		{
			Iteration: 1,
			ToolCalls: []domain.ToolCallRecord{{
				Name:      "collection-schema",
				Arguments: map[string]any{"database": "buzzin-api-staging", "collection": "events"},
				Success:   true,
				Result:    "schema text",
			}},
		},
		{
			Iteration: 2,
			ToolCalls: []domain.ToolCallRecord{{
				Name: "find",
				Arguments: map[string]any{
					"database":   "buzzin-api-staging",
					"collection": "events",
					"filter": map[string]any{
						"type":      "enterEvents",
						"entryType": "qrCode",
						"date": map[string]any{
							"$gte": map[string]any{"$date": "2025-05-26T00:00:00.000Z"},
							"$lt":  map[string]any{"$date": "2025-05-27T00:00:00.000Z"},
						},
					},
				},
				Success: true,
				Result:  "[]",
			}},
		},
		{
			Iteration:   3,
			FinalAnswer: "I found 4 visitors who checked in with a QR code today.",
		},
	}
}

func conversationExpectation(turns ...domain.ConversationTurn) domain.Expectation {
	return domain.Expectation{Conversation: turns}
}

func resultWithTrace(trace domain.Trace) *domain.QueryResult {
	return &domain.QueryResult{Iterations: trace}
}

func TestConversationScorer_WhenAllTurnsSatisfied_ShouldScoreOne(t *testing.T) {
	exp := conversationExpectation(
		domain.ConversationTurn{Role: "user", Content: "Show all visitors who checked in using QR code today."},
		domain.ConversationTurn{
			Role:     "tool_call",
			Tool:     "collection-schema",
			Optional: true,
		},
		domain.ConversationTurn{
			Role: "tool_call",
			Tool: "find",
			Arguments: map[string]any{"filter": map[string]any{
				"type":      "enterEvents",
				"entryType": "qrCode",
				"date": map[string]any{
					"$gte": map[string]any{"$date": "2025-05-26T00:00:00.000Z"},
					"$lt":  map[string]any{"$date": "2025-05-27T00:00:00.000Z"},
				},
			}},
			RequiredFields: []string{"type", "entryType", "date"},
		},
		domain.ConversationTurn{
			Role:                  "assistant",
			ContentMustInclude:    []string{"visitor", "QR code", "check", "today"},
			ContentMustNotInclude: []string{"error", "failed"},
		},
	)

	score, err := NewConversationScorer().Score(exp, resultWithTrace(qrCheckInTrace()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 1.0) {
		t.Errorf("expected 1.0, got %v", score)
	}
}

func TestConversationScorer_WhenToolNeverCalled_ShouldScoreTurnZero(t *testing.T) {
	exp := conversationExpectation(domain.ConversationTurn{
		Role:           "tool_call",
		Tool:           "aggregate",
		RequiredFields: []string{"pipeline"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(qrCheckInTrace()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 0.0) {
		t.Errorf("expected 0.0, got %v", score)
	}
}

func TestConversationScorer_WhenOptionalToolMissing_ShouldScoreTurnOne(t *testing.T) {
	exp := conversationExpectation(domain.ConversationTurn{
		Role:     "tool_call",
		Tool:     "list-databases",
		Optional: true,
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(qrCheckInTrace()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 1.0) {
		t.Errorf("optional turns always score 1.0, got %v", score)
	}
}

func TestConversationScorer_WhenRequiredFieldMissing_ShouldScoreFraction(t *testing.T) {
	trace := domain.Trace{
		{
			Iteration: 1,
			ToolCalls: []domain.ToolCallRecord{{
				Name: "find",
				Arguments: map[string]any{
					"collection": "events",
					"filter":     map[string]any{"type": "enterEvents"},
				},
				Success: true,
			}},
		},
		{Iteration: 2, FinalAnswer: "done"},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role:           "tool_call",
		Tool:           "find",
		RequiredFields: []string{"type", "entryType"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 0.5) {
		t.Errorf("expected 0.5, got %v", score)
	}
}

func TestConversationScorer_WhenForbiddenFieldPresent_ShouldLoseItsPoint(t *testing.T) {
	// A query over all entry methods must not narrow the filter by entryType.
	trace := domain.Trace{
		{
			Iteration: 1,
			ToolCalls: []domain.ToolCallRecord{{
				Name: "find",
				Arguments: map[string]any{
					"filter": map[string]any{
						"type":      "enterEvents",
						"entryType": "qrCode",
					},
				},
				Success: true,
			}},
		},
		{Iteration: 2, FinalAnswer: "done"},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role:           "tool_call",
		Tool:           "find",
		RequiredFields: []string{"type"},
		MustNotHave:    []string{"entryType"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// type present (1 of 2), entryType wrongly present (0 of 2).
	if !almostEqual(score, 0.5) {
		t.Errorf("expected 0.5, got %v", score)
	}
}

func TestConversationScorer_WhenForbiddenFieldAbsent_ShouldScoreFull(t *testing.T) {
	trace := domain.Trace{
		{
			Iteration: 1,
			ToolCalls: []domain.ToolCallRecord{{
				Name: "find",
				Arguments: map[string]any{
					"filter": map[string]any{"type": "enterEvents"},
				},
				Success: true,
			}},
		},
		{Iteration: 2, FinalAnswer: "done"},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role:           "tool_call",
		Tool:           "find",
		RequiredFields: []string{"type"},
		MustNotHave:    []string{"entryType"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 1.0) {
		t.Errorf("expected 1.0, got %v", score)
	}
}

func TestConversationScorer_WhenPinnedValueWrapperKindMatches_ShouldAwardPoint(t *testing.T) {
	trace := domain.Trace{
		{
			Iteration: 1,
			ToolCalls: []domain.ToolCallRecord{{
				Name: "find",
				Arguments: map[string]any{
					"filter": map[string]any{
						"companyId": map[string]any{"$oid": "000000000000000000000000"},
					},
				},
				Success: true,
			}},
		},
		{Iteration: 2, FinalAnswer: "done"},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role: "tool_call",
		Tool: "find",
		Arguments: map[string]any{"filter": map[string]any{
			"companyId": map[string]any{"$oid": "6159af2a99e90e0013e5f071"},
		}},
		RequiredFields: []string{"companyId"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Any {"$oid": …} matches any other: identifiers are compared structurally.
	if !almostEqual(score, 1.0) {
		t.Errorf("expected 1.0, got %v", score)
	}
}

func TestConversationScorer_WhenNoFinalAnswerAnywhere_ShouldScoreAssistantZero(t *testing.T) {
	trace := domain.Trace{
		{Iteration: 1, ToolCalls: []domain.ToolCallRecord{{Name: "find", Success: true}}},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role:               "assistant",
		ContentMustInclude: []string{"visitor"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 0.0) {
		t.Errorf("expected 0.0, got %v", score)
	}
}

func TestConversationScorer_WhenForbiddenPhrasePresent_ShouldHalveAssistantScore(t *testing.T) {
	trace := domain.Trace{
		{Iteration: 1, FinalAnswer: "The query failed with an error."},
	}
	exp := conversationExpectation(domain.ConversationTurn{
		Role:                  "assistant",
		ContentMustInclude:    []string{"query"},
		ContentMustNotInclude: []string{"error"},
	})
	score, err := NewConversationScorer().Score(exp, resultWithTrace(trace))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Inclusion 1.0, exclusion 0.0, averaged.
	if !almostEqual(score, 0.5) {
		t.Errorf("expected 0.5, got %v", score)
	}
}

func TestConversationScorer_WhenNoIterationsAtAll_ShouldScoreZero(t *testing.T) {
	exp := conversationExpectation(domain.ConversationTurn{
		Role: "tool_call", Tool: "find", Optional: true,
	})
	score, err := NewConversationScorer().Score(exp, &domain.QueryResult{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(score, 0.0) {
		t.Errorf("an empty trace scores 0.0 even with optional turns, got %v", score)
	}
}

func TestConversationScorer_WhenExpectationMalformed_ShouldError(t *testing.T) {
	cases := []struct {
		name string
		exp  domain.Expectation
	}{
		{"no conversation", domain.Expectation{}},
		{"both shapes", domain.Expectation{
			Query:        map[string]any{"collection": "events"},
			Conversation: []domain.ConversationTurn{{Role: "user"}},
		}},
		{"unknown role", conversationExpectation(domain.ConversationTurn{Role: "moderator"})},
		{"tool_call without tool", conversationExpectation(domain.ConversationTurn{Role: "tool_call"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConversationScorer().Score(tc.exp, resultWithTrace(qrCheckInTrace())); err == nil {
				t.Error("expected a loud failure for a malformed fixture")
			}
		})
	}
}
