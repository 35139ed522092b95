package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"mongoagent/internal/domain"
)

func TestAgent_Query_ShouldExtractCanonicalQueryFromTrace(t *testing.T) {
	provider := &mockProvider{script: []*domain.Completion{
		{ToolCalls: []domain.ToolCall{findCall("call_1", `{"type": "enterEvents"}`)}},
		{Content: "There were 2 check-ins."},
	}}
	session := &mockSession{descriptors: standardCatalog()}
	a := NewAgent(NewController(provider, session), "buzzin-api-staging", "")

	got, err := a.Query(context.Background(), Input{
		Text:     "How many check-ins were there today?",
		AsOfDate: time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Collection != "events" {
		t.Errorf("collection: got %q", got.Collection)
	}
	if got.Filter["type"] != "enterEvents" {
		t.Errorf("filter: got %v", got.Filter)
	}
	if got.FinalAnswer != "There were 2 check-ins." {
		t.Errorf("final answer: got %q", got.FinalAnswer)
	}
	if len(got.Iterations) != 2 {
		t.Errorf("expected the full trace, got %d iterations", len(got.Iterations))
	}
}

func TestAgent_Query_ShouldSeedSystemPromptWithDatabaseAndDate(t *testing.T) {
	provider := &mockProvider{script: []*domain.Completion{{Content: "ok"}}}
	session := &mockSession{descriptors: standardCatalog()}
	a := NewAgent(NewController(provider, session), "buzzin-api-staging", "Field: type")

	_, err := a.Query(context.Background(), Input{
		Text:     "anything",
		AsOfDate: time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	system := provider.captured[0][0]
	if system.Role != "system" {
		t.Fatalf("first message must be the system prompt, got role %q", system.Role)
	}
	for _, want := range []string{"buzzin-api-staging", "2025-10-09", "Field: type"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestAgent_Query_WhenTextEmpty_ShouldError(t *testing.T) {
	provider := &mockProvider{}
	session := &mockSession{descriptors: standardCatalog()}
	a := NewAgent(NewController(provider, session), "db", "")

	if _, err := a.Query(context.Background(), Input{}); err == nil {
		t.Fatal("expected error for empty query text")
	}
}

func TestAgent_Query_WhenLoopExhausted_ShouldReturnResultWithoutAnswer(t *testing.T) {
	turn := &domain.Completion{ToolCalls: []domain.ToolCall{findCall("call_x", `{"left": true}`)}}
	provider := &mockProvider{script: []*domain.Completion{turn, turn}}
	session := &mockSession{descriptors: standardCatalog()}
	a := NewAgent(NewController(provider, session, WithMaxIterations(2)), "db", "")

	got, err := a.Query(context.Background(), Input{Text: "who left?"})
	if err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if got.FinalAnswer != "" {
		t.Errorf("expected no answer, got %q", got.FinalAnswer)
	}
	// The first query call is still extractable.
	if got.Collection != "events" {
		t.Errorf("expected extraction from the exhausted trace, got %+v", got.CanonicalQuery)
	}
}
