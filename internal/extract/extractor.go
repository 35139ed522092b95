package extract

import (
	"fmt"

	"mongoagent/internal/domain"
)

// Role classifies what a named tool call means for query extraction. The set
// is closed; new tool names are bound to an existing role via RegisterTool.
type Role int

const (
	// RoleDirectFilter marks a tool whose arguments carry the query directly
	// as {database, collection, filter}.
	RoleDirectFilter Role = iota

	// RoleAggregate marks a tool whose arguments carry
	// {database, collection, pipeline}; the filter is the value of the first
	// matching stage in the pipeline.
	RoleAggregate
)

// matchStageKey identifies the aggregation stage that filters documents.
const matchStageKey = "$match"

// Extractor scans a completed trace for the first recognized query tool call
// and reduces it to a canonical {collection, filter} pair. It holds only the
// tool-name→role binding and is safe to reuse across traces.
type Extractor struct {
	roles map[string]Role
}

// NewExtractor returns an extractor with the standard MongoDB tool bindings:
// "find" as a direct filter query and "aggregate" as a pipeline query.
func NewExtractor() *Extractor {
	return &Extractor{roles: map[string]Role{
		"find":      RoleDirectFilter,
		"aggregate": RoleAggregate,
	}}
}

// RegisterTool binds an additional tool name to a query role. Rebinding an
// already-registered name is rejected so fixtures keep meaning one thing.
func (e *Extractor) RegisterTool(name string, role Role) error {
	if name == "" {
		return fmt.Errorf("extract: tool name must not be empty")
	}
	if _, exists := e.roles[name]; exists {
		return fmt.Errorf("extract: tool %q is already registered", name)
	}
	if role != RoleDirectFilter && role != RoleAggregate {
		return fmt.Errorf("extract: unknown role %d", role)
	}
	e.roles[name] = role
	return nil
}

// Extract reduces a trace to its canonical query. Iterations are scanned in
// order, tool calls within an iteration in order; the first recognized query
// call wins and scanning stops. A trace with no qualifying call yields an
// empty collection and nil filter, a valid "no query detected" outcome, not
// an error. The final answer always comes from the last iteration and may be
// empty when the loop was exhausted.
func (e *Extractor) Extract(trace domain.Trace) domain.CanonicalQuery {
	var out domain.CanonicalQuery
	if len(trace) == 0 {
		return out
	}
	out.FinalAnswer = trace[len(trace)-1].FinalAnswer

	for _, iteration := range trace {
		for _, call := range iteration.ToolCalls {
			role, recognized := e.roles[call.Name]
			if !recognized {
				continue
			}
			switch role {
			case RoleDirectFilter:
				out.Collection, _ = call.Arguments["collection"].(string)
				if filter, ok := call.Arguments["filter"].(map[string]any); ok {
					out.Filter = filter
				} else {
					out.Filter = map[string]any{}
				}
			case RoleAggregate:
				out.Collection, _ = call.Arguments["collection"].(string)
				out.Filter = matchStageFilter(call.Arguments["pipeline"])
			}
			return out
		}
	}
	return out
}

// matchStageFilter walks an aggregation pipeline and returns the value of the
// first matching stage, or nil when no stage filters documents.
func matchStageFilter(pipeline any) map[string]any {
	stages, ok := pipeline.([]any)
	if !ok {
		return nil
	}
	for _, stage := range stages {
		stageMap, ok := stage.(map[string]any)
		if !ok {
			continue
		}
		if match, present := stageMap[matchStageKey]; present {
			if filter, ok := match.(map[string]any); ok {
				return filter
			}
			return nil
		}
	}
	return nil
}
