package plan

import (
	"context"
	"encoding/json"

	"github.com/relaybot/relay/pkg/models"
)

// policyDeniedText is the result recorded for plan tools called outside
// plan mode. Nothing is mutated.
const policyDeniedText = "PolicyDenied: plan mode is not active"

// InterceptResult describes what the tool loop should do with an LLM's
// tool-call list after interception.
type InterceptResult struct {
	// Synthetic outcomes for calls the interceptor consumed, in the
	// original call order relative to each other.
	Synthetic []models.ToolOutcome

	// Passthrough holds calls that should be executed for real.
	Passthrough []models.ToolCall

	// Finalized is set when plan_finalize was called; the loop must end
	// the turn with a plan-approval response.
	Finalized bool

	// FinalizedPlan is the plan awaiting approval when Finalized is set.
	FinalizedPlan *models.Plan
}

// Interceptor sits between the LLM response and tool execution, handling
// plan tools itself and consuming external calls as plan steps while plan
// mode is active.
type Interceptor struct {
	registry *Registry
}

// NewInterceptor creates a plan-mode interceptor over the registry.
func NewInterceptor(registry *Registry) *Interceptor {
	return &Interceptor{registry: registry}
}

// Intercept classifies each tool call. Outside plan mode, plan tools fail
// with a policy denial and everything else passes through. While a plan is
// being drafted, plan tools run against the registry and external calls
// become synthetic "[Planned]" results without executing. Once the plan is
// approved and EXECUTING, external calls pass through for real execution.
func (i *Interceptor) Intercept(ctx context.Context, sessionID string, calls []models.ToolCall) InterceptResult {
	active, planMode := i.registry.Active(sessionID)
	var result InterceptResult

	for _, call := range calls {
		if !planMode {
			if isPlanTool(call.Name) {
				result.Synthetic = append(result.Synthetic, models.ToolOutcome{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Content:    policyDeniedText,
					IsError:    true,
				})
				continue
			}
			result.Passthrough = append(result.Passthrough, call)
			continue
		}

		switch call.Name {
		case ToolGet:
			result.Synthetic = append(result.Synthetic, models.ToolOutcome{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    active.Markdown,
			})

		case ToolSetContent:
			var args SetContentArgs
			if err := json.Unmarshal(call.Input, &args); err != nil || args.Markdown == "" {
				result.Synthetic = append(result.Synthetic, models.ToolOutcome{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Content:    "plan_set_content requires a markdown argument",
					IsError:    true,
				})
				continue
			}
			updated, err := i.registry.SetContent(ctx, sessionID, args.Markdown, args.Title)
			if err != nil {
				result.Synthetic = append(result.Synthetic, models.ToolOutcome{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Content:    err.Error(),
					IsError:    true,
				})
				continue
			}
			active = updated
			result.Synthetic = append(result.Synthetic, models.ToolOutcome{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    "[Planned] plan content updated",
			})

		case ToolFinalize:
			result.Synthetic = append(result.Synthetic, models.ToolOutcome{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    "[Planned] plan finalized, awaiting approval",
			})
			result.Finalized = true
			result.FinalizedPlan = active

		default:
			if active.Status == models.PlanExecuting {
				result.Passthrough = append(result.Passthrough, call)
				continue
			}
			// While drafting, external tools are consumed as plan steps,
			// never executed.
			result.Synthetic = append(result.Synthetic, models.ToolOutcome{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    "[Planned] " + call.Name,
			})
		}
	}
	return result
}

func isPlanTool(name string) bool {
	switch name {
	case ToolGet, ToolSetContent, ToolFinalize:
		return true
	}
	return false
}
