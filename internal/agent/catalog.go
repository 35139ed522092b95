package agent

import (
	"encoding/json"

	"mongoagent/internal/domain"
)

// defaultInputSchema is used for tools that advertise no input schema. The
// completion service rejects function definitions without a parameters object.
const defaultInputSchema = `{"type": "object", "properties": {}}`

// BuildToolDefinitions maps the session's tool catalog onto the completion
// service's function-calling shape. Order is preserved; names and descriptions
// pass through untouched.
func BuildToolDefinitions(descriptors []domain.ToolDescriptor) []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		params := d.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(defaultInputSchema)
		}
		defs = append(defs, domain.ToolDefinition{
			Type: "function",
			Function: domain.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}
