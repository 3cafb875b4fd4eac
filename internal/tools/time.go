package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/pkg/models"
)

// TimeArgs are the arguments of current_time.
type TimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as America/New_York. Defaults to UTC."`
	Format   string `json:"format,omitempty" jsonschema:"enum=12,enum=24,description=Clock format. Defaults to 24."`
}

// TimeTool reports the current date and time in a requested timezone.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates the current_time tool.
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

func (t *TimeTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a specific timezone.",
		InputSchema: reflectSchema(TimeArgs{}),
	}
}

func (t *TimeTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var args TimeArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}

	loc := time.UTC
	if tz := strings.TrimSpace(args.Timezone); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return &agent.ToolResult{
				Content: fmt.Sprintf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", tz),
			}, nil
		}
		loc = parsed
	}

	now := t.now().In(loc)
	layout := "Monday, January 2 2006 15:04 MST"
	if args.Format == "12" {
		layout = "Monday, January 2 2006 3:04 PM MST"
	}
	return &agent.ToolResult{Content: now.Format(layout)}, nil
}
