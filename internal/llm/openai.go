package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mongoagent/internal/domain"
)

// OpenAIProvider calls the OpenAI Chat Completions API with function calling
// enabled.
type OpenAIProvider struct {
	apiKey      string
	model       string
	client      *http.Client
	baseURL     string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewOpenAIProvider returns an OpenAI-backed CompletionProvider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:      apiKey,
		model:       model,
		client:      &http.Client{},
		baseURL:     "https://api.openai.com/v1/chat/completions",
		marshalFunc: json.Marshal,
	}
}

type openAIRequest struct {
	Model      string                  `json:"model"`
	Messages   []openAIMessage         `json:"messages"`
	Tools      []domain.ToolDefinition `json:"tools,omitempty"`
	ToolChoice string                  `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements domain.CompletionProvider. The assistant turn comes back
// either as text content, as one or more tool calls, or both; tool call
// arguments stay raw JSON for the invoker to decode.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []domain.ChatMessage, tools []domain.ToolDefinition) (*domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := openAIRequest{
		Model:    p.model,
		Messages: toWireMessages(messages),
		Tools:    tools,
	}
	if len(tools) > 0 {
		body.ToolChoice = "auto"
	}
	raw, err := p.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("openai marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai api: %s", resp.Status)
	}
	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	msg := out.Choices[0].Message
	completion := &domain.Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return completion, nil
}

// toWireMessages maps the message log onto the chat-completions wire shape.
// Assistant turns that requested tools carry their tool_calls back so the API
// can pair them with the tool results that follow.
func toWireMessages(messages []domain.ChatMessage) []openAIMessage {
	wire := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		wm := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc openAIToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire = append(wire, wm)
	}
	return wire
}

var _ domain.CompletionProvider = (*OpenAIProvider)(nil)
