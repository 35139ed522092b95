package domain

import "context"

// CompletionProvider is the model-agnostic boundary to the completion
// service. Given the full message history and a tool catalog, it returns
// either a text answer or a set of requested tool calls. Implementations may
// be OpenAI, a retry wrapper, or mocks; the loop makes no assumption about
// model identity beyond this contract.
type CompletionProvider interface {
	Complete(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (*Completion, error)
}

// ToolSession is the boundary to the tool-invocation protocol. Every error
// returned by CallTool is recoverable from the loop's point of view; only
// transport-level failures from ListTools are fatal to a query.
type ToolSession interface {
	// ListTools returns the session's tool catalog.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool executes the named tool and returns its textual result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Tokenizer counts tokens for message-log accounting.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)

	// CountMessages returns the token size of a message log, including
	// tool-call argument blobs on assistant messages.
	CountMessages(messages []ChatMessage) (int, error)
}

// Scorer scores an actual query result against an expected fixture and
// returns a fraction in [0, 1]. Implementations are interchangeable
// strategies (structural, conversation, keyword); callers select one, and
// neither the loop nor the extractor ever branches on scorer identity.
type Scorer interface {
	// Name identifies the strategy in reports (e.g. "structural").
	Name() string

	// Score compares expected against actual. It returns an error only for
	// malformed expectations (a test-authoring defect); a wrong or missing
	// actual result scores 0, it does not error.
	Score(expected Expectation, actual *QueryResult) (float64, error)
}
