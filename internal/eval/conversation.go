package eval

import (
	"fmt"
	"reflect"
	"strings"

	"mongoagent/internal/domain"
)

// ConversationScorer scores a trace against an expected conversation: each
// expected tool-call turn is checked for presence and field coverage, each
// expected assistant turn for phrase inclusion/exclusion on the final answer.
// The overall score is the arithmetic mean of the per-turn scores.
type ConversationScorer struct{}

// NewConversationScorer returns a ready-to-use conversation scorer.
func NewConversationScorer() *ConversationScorer { return &ConversationScorer{} }

// Name implements domain.Scorer.
func (s *ConversationScorer) Name() string { return "conversation" }

// Score implements domain.Scorer. The expectation must carry a conversation
// turn list; a turn with an unknown role is a fixture-authoring defect.
func (s *ConversationScorer) Score(expected domain.Expectation, actual *domain.QueryResult) (float64, error) {
	if len(expected.Conversation) == 0 {
		return 0, fmt.Errorf("eval: conversation scorer needs a conversation expectation")
	}
	if expected.Query != nil {
		return 0, fmt.Errorf("eval: expectation sets both query and conversation")
	}

	var scores []float64
	for i, turn := range expected.Conversation {
		switch turn.Role {
		case "tool_call":
			if turn.Tool == "" {
				return 0, fmt.Errorf("eval: conversation turn %d: tool_call turn without a tool name", i)
			}
			scores = append(scores, s.scoreToolCall(turn, actualIterations(actual)))
		case "assistant":
			scores = append(scores, s.scoreAssistant(turn, actualIterations(actual)))
		case "user":
			// Descriptive context only; never scored.
		default:
			return 0, fmt.Errorf("eval: conversation turn %d: unknown role %q", i, turn.Role)
		}
	}

	if len(scores) == 0 || actual == nil || len(actual.Iterations) == 0 {
		return 0.0, nil
	}
	sum := 0.0
	for _, sc := range scores {
		sum += sc
	}
	return sum / float64(len(scores)), nil
}

func actualIterations(actual *domain.QueryResult) domain.Trace {
	if actual == nil {
		return nil
	}
	return actual.Iterations
}

// scoreToolCall searches the whole trace, in order, for a call with the
// turn's tool name. The first match is scored: one point per required field
// present in the actual filter (and, when the expected filter pins a value
// for it, structurally matching), plus one point per must_not_have field
// correctly absent from it. A turn marked optional always scores 1.0; a tool
// never called scores 0.0.
func (s *ConversationScorer) scoreToolCall(turn domain.ConversationTurn, iterations domain.Trace) float64 {
	if turn.Optional {
		return 1.0
	}

	expectedFilter, _ := turn.Arguments["filter"].(map[string]any)

	for _, iteration := range iterations {
		for _, call := range iteration.ToolCalls {
			if call.Name != turn.Tool {
				continue
			}
			actualFilter, _ := call.Arguments["filter"].(map[string]any)

			checks := len(turn.RequiredFields) + len(turn.MustNotHave)
			if checks == 0 {
				return 1.0
			}
			points := 0
			for _, field := range turn.RequiredFields {
				actVal, present := actualFilter[field]
				if !present {
					continue
				}
				if expVal, pinned := expectedFilter[field]; pinned {
					if valuesMatch(expVal, actVal) {
						points++
					}
				} else {
					points++
				}
			}
			for _, field := range turn.MustNotHave {
				if _, present := actualFilter[field]; !present {
					points++
				}
			}
			return float64(points) / float64(checks)
		}
	}
	return 0.0
}

// valuesMatch compares filter values with the flexibility the wire formats
// demand: date and ObjectId wrappers match structurally (any {"$date": …}
// matches any other), and nested mappings match when every expected key is
// present on the actual side.
func valuesMatch(expected, actual any) bool {
	if reflect.DeepEqual(expected, actual) {
		return true
	}

	expMap, expIsMap := expected.(map[string]any)
	actMap, actIsMap := actual.(map[string]any)

	if expIsMap {
		if _, isDate := expMap["$date"]; isDate {
			if !actIsMap {
				return false
			}
			_, ok := actMap["$date"]
			return ok
		}
		if _, isOID := expMap["$oid"]; isOID {
			if !actIsMap {
				return false
			}
			_, ok := actMap["$oid"]
			return ok
		}
		if actIsMap {
			for key := range expMap {
				if _, ok := actMap[key]; !ok {
					return false
				}
			}
			return true
		}
	}
	return false
}

// scoreAssistant locates the last iteration with a final answer and averages
// an inclusion score (fraction of required phrases present) with an exclusion
// score (fraction of forbidden phrases correctly absent). No final answer
// anywhere scores 0.0.
func (s *ConversationScorer) scoreAssistant(turn domain.ConversationTurn, iterations domain.Trace) float64 {
	var finalAnswer string
	for i := len(iterations) - 1; i >= 0; i-- {
		if iterations[i].FinalAnswer != "" {
			finalAnswer = iterations[i].FinalAnswer
			break
		}
	}
	if finalAnswer == "" {
		return 0.0
	}
	lower := strings.ToLower(finalAnswer)

	includeScore := 1.0
	if len(turn.ContentMustInclude) > 0 {
		hits := 0
		for _, phrase := range turn.ContentMustInclude {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				hits++
			}
		}
		includeScore = float64(hits) / float64(len(turn.ContentMustInclude))
	}

	excludeScore := 1.0
	if len(turn.ContentMustNotInclude) > 0 {
		absent := 0
		for _, phrase := range turn.ContentMustNotInclude {
			if !strings.Contains(lower, strings.ToLower(phrase)) {
				absent++
			}
		}
		excludeScore = float64(absent) / float64(len(turn.ContentMustNotInclude))
	}

	return (includeScore + excludeScore) / 2
}

var _ domain.Scorer = (*ConversationScorer)(nil)
