package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/pkg/models"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	registry := skills.NewRegistry(nil)
	err := registry.Replace(context.Background(), []*models.Skill{
		{Name: "coding", Description: "Writes code", PromptTemplate: "You write careful code.", Available: true, Capabilities: []string{"shell"}},
		{Name: "weather", Description: "Forecasts", Available: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewBuilder(registry)
}

func testTools() []models.ToolDefinition {
	return []models.ToolDefinition{
		{Name: "search", Description: "web search"},
		{Name: "run_shell", Description: "run a command", Capability: "shell"},
		{Name: "plan_get", Description: "read plan", PlanTool: true},
		{Name: "plan_set_content", Description: "write plan", PlanTool: true},
	}
}

func TestBuildIncludesSkillSections(t *testing.T) {
	builder := newBuilder(t)
	active, _ := builder.registry.Get("coding")

	out := builder.Build(Input{
		BasePrompt:  "You are a helpful assistant.",
		ActiveSkill: active,
		MemoryPack:  "User prefers Go.",
		Tools:       testTools(),
	})

	for _, want := range []string{
		"You are a helpful assistant.",
		"- coding: Writes code",
		"- weather: Forecasts",
		"## Active skill: coding",
		"You write careful code.",
		"## Memory",
		"User prefers Go.",
	} {
		if !strings.Contains(out.SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(out.SystemPrompt, "Plan mode") {
		t.Error("plan block present without plan mode")
	}
}

func TestBuildToolFiltering(t *testing.T) {
	builder := newBuilder(t)
	coding, _ := builder.registry.Get("coding")
	weather, _ := builder.registry.Get("weather")

	withShell := builder.Build(Input{ActiveSkill: coding, Tools: testTools()})
	if !hasTool(withShell.Tools, "run_shell") {
		t.Error("shell tool missing for skill granting shell capability")
	}
	if hasTool(withShell.Tools, "plan_get") {
		t.Error("plan tool offered outside plan mode")
	}

	noShell := builder.Build(Input{ActiveSkill: weather, Tools: testTools()})
	if hasTool(noShell.Tools, "run_shell") {
		t.Error("shell tool offered without the capability")
	}
	if !hasTool(noShell.Tools, "search") {
		t.Error("ungated tool filtered out")
	}
}

func TestBuildPlanMode(t *testing.T) {
	builder := newBuilder(t)

	out := builder.Build(Input{PlanActive: true, Tools: testTools()})
	if !strings.Contains(out.SystemPrompt, "plan_get") || !strings.Contains(out.SystemPrompt, "plan_set_content") {
		t.Error("plan block must name the plan tools")
	}
	if !hasTool(out.Tools, "plan_get") || !hasTool(out.Tools, "plan_set_content") {
		t.Error("plan tools missing in plan mode")
	}
}

func TestBuildIdempotent(t *testing.T) {
	builder := newBuilder(t)
	active, _ := builder.registry.Get("coding")
	input := Input{BasePrompt: "base", ActiveSkill: active, PlanActive: true, Tools: testTools()}

	first := builder.Build(input)
	second := builder.Build(input)
	if first.SystemPrompt != second.SystemPrompt {
		t.Error("Build is not idempotent for the same input")
	}
	if len(first.Tools) != len(second.Tools) {
		t.Error("tool set differs across identical builds")
	}
}

func hasTool(tools []models.ToolDefinition, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
