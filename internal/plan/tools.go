package plan

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/relaybot/relay/pkg/models"
)

// Plan tool names. These are the only tools the interceptor handles
// itself; everything else is external.
const (
	ToolGet        = "plan_get"
	ToolSetContent = "plan_set_content"
	ToolFinalize   = "plan_finalize"
)

// SetContentArgs are the arguments of plan_set_content.
type SetContentArgs struct {
	Markdown string `json:"markdown" jsonschema:"required,description=Full canonical plan document in markdown"`
	Title    string `json:"title,omitempty" jsonschema:"description=Short plan title"`
}

// FinalizeArgs are the arguments of plan_finalize.
type FinalizeArgs struct {
	Summary string `json:"summary,omitempty" jsonschema:"description=One-line summary shown with the approval request"`
}

var (
	toolsOnce sync.Once
	toolDefs  []models.ToolDefinition
)

// ToolDefinitions returns the plan tool definitions with generated
// argument schemas.
func ToolDefinitions() []models.ToolDefinition {
	toolsOnce.Do(func() {
		toolDefs = []models.ToolDefinition{
			{
				Name:        ToolGet,
				Description: "Return the canonical markdown of the active plan.",
				InputSchema: reflectSchema(struct{}{}),
				PlanTool:    true,
			},
			{
				Name:        ToolSetContent,
				Description: "Replace the active plan's canonical markdown (and optionally its title).",
				InputSchema: reflectSchema(SetContentArgs{}),
				PlanTool:    true,
			},
			{
				Name:        ToolFinalize,
				Description: "Mark the plan as complete and ask the user to approve it.",
				InputSchema: reflectSchema(FinalizeArgs{}),
				PlanTool:    true,
			},
		}
	})
	return toolDefs
}

func reflectSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
