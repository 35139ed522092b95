package agent

import (
	"context"
	"fmt"
	"log/slog"

	"mongoagent/internal/domain"
)

// DefaultMaxIterations bounds the loop when no ceiling is configured.
const DefaultMaxIterations = 5

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets a structured logger for the Controller. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxIterations overrides the iteration ceiling. Values below 1 are
// ignored.
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.maxIterations = n
		}
	}
}

// WithTokenizer enables token accounting of the message log after each
// completion call. If t is nil it is ignored.
func WithTokenizer(t domain.Tokenizer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tokenizer = t
		}
	}
}

// Controller drives the bounded tool-calling loop for one query at a time.
// Each turn sends the full message history to the completion provider; tool
// calls are executed sequentially in the order the model requested them, and
// the history only ever grows. A Controller holds no per-query state and may
// be reused across queries.
type Controller struct {
	provider      domain.CompletionProvider
	session       domain.ToolSession
	logger        *slog.Logger
	tokenizer     domain.Tokenizer
	maxIterations int
}

// NewController returns a Controller over the given provider and tool
// session. Both must not be nil.
func NewController(provider domain.CompletionProvider, session domain.ToolSession, opts ...Option) *Controller {
	if provider == nil {
		panic("agent: provider must not be nil")
	}
	if session == nil {
		panic("agent: session must not be nil")
	}
	c := &Controller{
		provider:      provider,
		session:       session,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the Controller's logger, falling back to the default slog
// logger.
func (c *Controller) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Run executes the loop for one query. The system prompt and the user's
// question seed the history; the loop ends when the model answers in text or
// the iteration ceiling is hit. An exhausted loop is a defined outcome: the
// trace simply ends without a final answer. Only catalog retrieval and
// completion failures are fatal; tool faults are fed back to the model.
// Cancellation aborts the query and drops the iteration in progress, so the
// returned trace holds complete iterations only.
func (c *Controller) Run(ctx context.Context, systemPrompt, userQuery string) (domain.Trace, error) {
	descriptors, err := c.session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: list tools: %w", err)
	}
	tools := BuildToolDefinitions(descriptors)
	invoker := NewInvoker(c.session, descriptors)

	messages := []domain.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userQuery},
	}

	var trace domain.Trace
	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		completion, err := c.provider.Complete(ctx, messages, tools)
		if err != nil {
			return trace, fmt.Errorf("agent: completion (iteration %d): %w", iteration, err)
		}
		c.accountTokens(messages)

		if len(completion.ToolCalls) == 0 {
			c.log().Info("final answer produced", "iteration", iteration)
			trace = append(trace, domain.IterationRecord{
				Iteration:   iteration,
				FinalAnswer: completion.Content,
			})
			return trace, nil
		}

		messages = append(messages, domain.ChatMessage{
			Role:      "assistant",
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		records := make([]domain.ToolCallRecord, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			record, feedback, err := invoker.Execute(ctx, call)
			if err != nil {
				// The iteration in progress is dropped, not appended.
				return trace, fmt.Errorf("agent: cancelled during tool execution (iteration %d): %w", iteration, err)
			}
			if !record.Success {
				c.log().Warn("tool call failed", "tool", call.Name, "error", record.Error)
			}
			records = append(records, record)
			messages = append(messages, domain.ChatMessage{
				Role:       "tool",
				Content:    feedback,
				ToolCallID: call.ID,
			})
		}

		trace = append(trace, domain.IterationRecord{
			Iteration: iteration,
			ToolCalls: records,
		})
	}

	c.log().Warn("iteration ceiling reached without a final answer",
		"max_iterations", c.maxIterations)
	return trace, nil
}

// accountTokens logs the token size of the outgoing message log. Counting is
// advisory; a tokenizer failure never affects the loop.
func (c *Controller) accountTokens(messages []domain.ChatMessage) {
	if c.tokenizer == nil {
		return
	}
	total, err := c.tokenizer.CountMessages(messages)
	if err != nil {
		return
	}
	c.log().Debug("message log size", "messages", len(messages), "tokens", total)
}
