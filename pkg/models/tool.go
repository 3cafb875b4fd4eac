package models

import "encoding/json"

// ToolDefinition describes a tool the LLM may call. Immutable once
// registered; looked up by name in the tool registry.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	// Capability gates the tool behind a skill capability. Empty means
	// the tool is offered to every skill.
	Capability string `json:"capability,omitempty"`

	// PlanTool marks plan-mode tools, offered only while a plan is
	// being worked on.
	PlanTool bool `json:"plan_tool,omitempty"`

	// RequiresConfirmation routes the call through the confirmation
	// broker before execution.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}
