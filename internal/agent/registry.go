package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaybot/relay/pkg/models"
)

// Tool input limits enforced before execution.
const (
	maxToolNameLength = 64
	maxToolInputBytes = 1 << 20
)

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ToolResult is what a tool returns on success.
type ToolResult struct {
	Content     string
	Attachments []models.Attachment
}

// Tool is an executable capability exposed to the LLM.
type Tool interface {
	Definition() models.ToolDefinition
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the executable tools and validates call input against
// each tool's JSON schema before execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, compiling its input schema. Names must be
// lowercase snake_case and unique.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if def.Name == "" || len(def.Name) > maxToolNameLength {
		return fmt.Errorf("agent: invalid tool name %q", def.Name)
	}
	if !toolNamePattern.MatchString(def.Name) {
		return fmt.Errorf("agent: tool name %q must be lowercase snake_case", def.Name)
	}

	schemaSource := string(def.InputSchema)
	if schemaSource == "" {
		schemaSource = `{"type":"object"}`
	}
	schema, err := jsonschema.CompileString(def.Name+".schema.json", schemaSource)
	if err != nil {
		return fmt.Errorf("agent: compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("agent: tool %s already registered", def.Name)
	}
	r.tools[def.Name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// Definitions returns all tool definitions sorted by name.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, entry := range r.tools {
		defs = append(defs, entry.tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ValidateInput checks a tool call's input against the tool's schema.
func (r *Registry) ValidateInput(name string, input json.RawMessage) error {
	if len(input) > maxToolInputBytes {
		return fmt.Errorf("agent: input for %s exceeds %d bytes", name, maxToolInputBytes)
	}
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent: unknown tool %s", name)
	}

	payload := input
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("agent: input for %s is not valid JSON: %w", name, err)
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return fmt.Errorf("agent: input for %s failed validation: %w", name, err)
	}
	return nil
}
