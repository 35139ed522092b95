package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mongoagent/internal/domain"
)

// Invoker executes model-requested tool calls against a tool session. Every
// fault (malformed arguments, schema violation, unknown tool, session error)
// is recoverable: it becomes a failed record whose feedback text goes back to
// the model, and the loop continues.
type Invoker struct {
	session domain.ToolSession
	schemas map[string]*jsonschema.Schema
}

// NewInvoker compiles the input schema of each descriptor and returns an
// invoker bound to the session. Descriptors without a schema (or with one
// that does not compile) skip validation for that tool rather than failing
// the whole session.
func NewInvoker(session domain.ToolSession, descriptors []domain.ToolDescriptor) *Invoker {
	if session == nil {
		panic("agent: session must not be nil")
	}
	schemas := make(map[string]*jsonschema.Schema, len(descriptors))
	for _, d := range descriptors {
		if len(d.InputSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		url := d.Name + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(d.InputSchema)); err != nil {
			continue
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			continue
		}
		schemas[d.Name] = schema
	}
	return &Invoker{session: session, schemas: schemas}
}

// Execute runs one tool call and returns its record plus the feedback text
// for the tool-result message. Failed calls yield "Error: <text>" feedback so
// the model can correct itself on the next turn. A non-nil error is returned
// only when ctx was cancelled; the call then produced no usable record and
// must not enter the trace.
func (inv *Invoker) Execute(ctx context.Context, call domain.ToolCall) (domain.ToolCallRecord, string, error) {
	record := domain.ToolCallRecord{Name: call.Name}

	if err := ctx.Err(); err != nil {
		return record, "", err
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return failed(record, fmt.Sprintf("invalid arguments for tool %q: %v", call.Name, err))
	}
	record.Arguments = args

	if schema, ok := inv.schemas[call.Name]; ok {
		if err := schema.Validate(toValidatable(args)); err != nil {
			return failed(record, fmt.Sprintf("arguments for tool %q rejected: %v", call.Name, err))
		}
	}

	result, err := inv.session.CallTool(ctx, call.Name, args)
	if err != nil {
		// A session error caused by cancellation is not a tool fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return record, "", ctxErr
		}
		return failed(record, err.Error())
	}

	record.Success = true
	record.Result = result
	return record, result, nil
}

func failed(record domain.ToolCallRecord, message string) (domain.ToolCallRecord, string, error) {
	feedback := "Error: " + message
	record.Success = false
	record.Error = message
	record.Result = feedback
	return record, feedback, nil
}

// decodeArguments parses the raw JSON argument blob. An absent blob means an
// argument-free call, not a fault.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toValidatable round-trips the arguments through encoding/json so numeric
// types match what the schema validator expects.
func toValidatable(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}
