// Package prompt assembles the per-turn system prompt and tool set.
package prompt

import (
	"fmt"
	"strings"

	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/pkg/models"
)

// planModeBlock instructs the model how plan content is read and written.
const planModeBlock = `## Plan mode

You are working on a plan document with the user. The canonical plan
content lives outside this conversation: retrieve it with the plan_get
tool and update it with plan_set_content. Do not execute other tools
while drafting the plan. When the plan is complete and the user should
review it, call plan_finalize.`

// Input carries everything the builder needs for one turn. Building is
// pure: the same input always yields the same prompt and tool set.
type Input struct {
	BasePrompt  string
	ActiveSkill *models.Skill
	MemoryPack  string
	PlanActive  bool
	Tools       []models.ToolDefinition
}

// Output is the assembled context for one LLM conversation.
type Output struct {
	SystemPrompt string
	Tools        []models.ToolDefinition
}

// Builder assembles system prompts from the skill registry and turn state.
type Builder struct {
	registry *skills.Registry
}

// NewBuilder creates a context builder over the skill registry.
func NewBuilder(registry *skills.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build assembles the system prompt: skill summaries, the active skill's
// full prompt, the memory pack, and the plan-mode block when a plan is
// being worked on. Tools are filtered by the active skill's capabilities;
// plan tools appear only in plan mode.
func (b *Builder) Build(input Input) Output {
	var sections []string

	if base := strings.TrimSpace(input.BasePrompt); base != "" {
		sections = append(sections, base)
	}

	if summary := b.skillSummaries(); summary != "" {
		sections = append(sections, summary)
	}

	if input.ActiveSkill != nil && strings.TrimSpace(input.ActiveSkill.PromptTemplate) != "" {
		sections = append(sections, fmt.Sprintf("## Active skill: %s\n\n%s",
			input.ActiveSkill.Name, strings.TrimSpace(input.ActiveSkill.PromptTemplate)))
	}

	if pack := strings.TrimSpace(input.MemoryPack); pack != "" {
		sections = append(sections, "## Memory\n\n"+pack)
	}

	if input.PlanActive {
		sections = append(sections, planModeBlock)
	}

	return Output{
		SystemPrompt: strings.Join(sections, "\n\n"),
		Tools:        filterTools(input.Tools, input.ActiveSkill, input.PlanActive),
	}
}

func (b *Builder) skillSummaries() string {
	available := b.registry.Available()
	if len(available) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Skills\n")
	for _, skill := range available {
		fmt.Fprintf(&sb, "- %s: %s\n", skill.Name, skill.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func filterTools(tools []models.ToolDefinition, active *models.Skill, planActive bool) []models.ToolDefinition {
	granted := map[string]bool{}
	if active != nil {
		for _, c := range active.Capabilities {
			granted[c] = true
		}
	}

	var out []models.ToolDefinition
	for _, tool := range tools {
		if tool.PlanTool {
			if planActive {
				out = append(out, tool)
			}
			continue
		}
		if tool.Capability != "" && !granted[tool.Capability] {
			continue
		}
		out = append(out, tool)
	}
	return out
}
