package agent

import (
	"context"
	"fmt"
	"time"

	"mongoagent/internal/domain"
	"mongoagent/internal/extract"
)

// Input is one natural-language question plus the date its relative
// expressions ("today", "last week") resolve against. A zero AsOfDate means
// the wall clock.
type Input struct {
	Text     string
	AsOfDate time.Time
}

// Agent answers natural-language questions by running the bounded tool loop
// and distilling the trace into a canonical query. It binds a controller, the
// database context for the system prompt, and an extractor.
type Agent struct {
	controller    *Controller
	extractor     *extract.Extractor
	database      string
	schemaContext string
}

// NewAgent returns an Agent over the given controller. The database name
// anchors the system prompt; schemaContext may be empty when no schema report
// is available.
func NewAgent(controller *Controller, database, schemaContext string) *Agent {
	if controller == nil {
		panic("agent: controller must not be nil")
	}
	return &Agent{
		controller:    controller,
		extractor:     extract.NewExtractor(),
		database:      database,
		schemaContext: schemaContext,
	}
}

// Query runs one question through the loop and returns the canonical query
// together with the full trace. An exhausted loop is not an error; the result
// simply has no final answer.
func (a *Agent) Query(ctx context.Context, in Input) (*domain.QueryResult, error) {
	if in.Text == "" {
		return nil, fmt.Errorf("agent: query text must not be empty")
	}
	asOf := in.AsOfDate
	if asOf.IsZero() {
		asOf = time.Now()
	}

	prompt := SystemPrompt(a.database, a.schemaContext, asOf.Format("2006-01-02"))
	trace, err := a.controller.Run(ctx, prompt, in.Text)
	if err != nil {
		return nil, err
	}

	return &domain.QueryResult{
		CanonicalQuery: a.extractor.Extract(trace),
		Iterations:     trace,
	}, nil
}
