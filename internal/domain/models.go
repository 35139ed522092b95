package domain

import (
	"encoding/json"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Model         string      `json:"model"`         // Chat model used for tool-calling completions (e.g. "gpt-4.1")
	MCPServerURL  string      `json:"mcpServerUrl"`  // Streamable-HTTP MCP endpoint (e.g. "http://localhost:3000/mcp")
	Database      string      `json:"database"`      // MongoDB database name passed to every query tool call
	Collection    string      `json:"collection"`    // Default collection for schema dumps
	MaxIterations int         `json:"maxIterations"` // Agent loop iteration ceiling (0 means the default of 5)
	TokenEncoding string      `json:"tokenEncoding"` // tiktoken encoding for message-log accounting (e.g. "cl100k_base")
	Retry         RetryConfig `json:"retry"`         // Retry behaviour for completion-service calls
	ReportDB      string      `json:"reportDb"`      // database/sql URL for evaluation reports (file: or libsql://)
	SchemaPath    string      `json:"schemaPath"`    // Optional path to a pre-built schema report injected into the system prompt
	LogFormat     string      `json:"logFormat"`     // "json" | "text"
	LogLevel      string      `json:"logLevel"`
}

// RetryConfig controls retry behaviour for completion-service calls.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

// =============================================================================
// Tool Catalog & Conversation
// =============================================================================

// ToolDescriptor describes one tool offered by the tool session: its name,
// a human-readable description, and a JSON Schema for its input. Descriptors
// are supplied once per session and never mutated.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolDefinition is the function-calling wire shape handed to the completion
// service. The catalog adapter produces one per ToolDescriptor.
type ToolDefinition struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the name, description, and parameter schema of a tool
// in the completion service's function-calling format.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatMessage is one turn in the conversation sent to the completion service.
// Regular turns use Role + Content; assistant turns that request tools carry
// ToolCalls; tool-result turns carry ToolCallID linking back to the request.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Completion is the provider-agnostic result of one completion call: either
// a text answer, or one or more requested tool calls (order preserved).
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// =============================================================================
// Trace
// =============================================================================

// ToolCallRecord captures one executed tool invocation. Records are created
// once per invocation and never mutated afterwards.
type ToolCallRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Result    string         `json:"result"`
}

// IterationRecord is the record of one loop turn. Exactly one is produced per
// turn. FinalAnswer is set only on the terminal iteration; an iteration
// either carries tool calls or a final answer, never both. The empty string
// means "no answer" (an exhausted loop ends with tool calls and no answer).
type IterationRecord struct {
	Iteration   int              `json:"iteration"` // 1-based
	ToolCalls   []ToolCallRecord `json:"tool_calls"`
	FinalAnswer string           `json:"final_answer,omitempty"`
}

// Trace is the ordered record of one query's full iteration history. A trace
// belongs to exactly one loop execution and is never shared across queries.
type Trace []IterationRecord

// FinalAnswer returns the answer of the last iteration, or ("", false) when
// the loop was exhausted without ever producing one.
func (t Trace) FinalAnswer() (string, bool) {
	if len(t) == 0 {
		return "", false
	}
	last := t[len(t)-1]
	if last.FinalAnswer == "" {
		return "", false
	}
	return last.FinalAnswer, true
}

// =============================================================================
// Canonical Query & Results
// =============================================================================

// CanonicalQuery is the reduced {collection, filter} pair distilled from a
// trace for scoring. It is regenerated fresh on each extraction; a nil Filter
// with an empty Collection means no query tool call was detected.
type CanonicalQuery struct {
	Collection  string         `json:"collection,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	FinalAnswer string         `json:"final_answer,omitempty"`
}

// QueryResult bundles the canonical query with the trace that produced it.
// This is what the loop hands to evaluators and to callers.
type QueryResult struct {
	CanonicalQuery
	Iterations Trace `json:"iterations"`
}

// =============================================================================
// Evaluation Fixtures
// =============================================================================

// Expectation is the expected side of a fixture case: either a canonical
// query structure or a conversation-turn list. Exactly one must be set; a
// fixture with neither (or both) is a test-authoring defect and is rejected
// at load time, never silently scored.
type Expectation struct {
	Query        map[string]any     `yaml:"query,omitempty" json:"query,omitempty"`
	Conversation []ConversationTurn `yaml:"conversation,omitempty" json:"conversation,omitempty"`
}

// ConversationTurn is one expected turn in a conversation expectation.
// Role "tool_call" turns check that a matching tool invocation exists in the
// trace; role "assistant" turns check phrase inclusion/exclusion on the final
// answer; role "user" turns are descriptive only.
type ConversationTurn struct {
	Role                  string         `yaml:"role" json:"role"`
	Content               string         `yaml:"content,omitempty" json:"content,omitempty"`
	Tool                  string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Arguments             map[string]any `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Optional              bool           `yaml:"optional,omitempty" json:"optional,omitempty"`
	RequiredFields        []string       `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
	MustNotHave           []string       `yaml:"must_not_have,omitempty" json:"must_not_have,omitempty"`
	ContentMustInclude    []string       `yaml:"content_must_include,omitempty" json:"content_must_include,omitempty"`
	ContentMustNotInclude []string       `yaml:"content_must_not_include,omitempty" json:"content_must_not_include,omitempty"`
}
