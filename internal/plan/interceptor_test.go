package plan

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaybot/relay/pkg/models"
)

func call(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestInterceptOutsidePlanMode(t *testing.T) {
	registry := NewRegistry(nil)
	interceptor := NewInterceptor(registry)

	result := interceptor.Intercept(context.Background(), "s1", []models.ToolCall{
		call("1", ToolSetContent, `{"markdown":"x"}`),
		call("2", "search", `{"q":"go"}`),
	})

	if len(result.Synthetic) != 1 {
		t.Fatalf("Synthetic = %d outcomes, want 1", len(result.Synthetic))
	}
	denied := result.Synthetic[0]
	if !denied.IsError || !strings.Contains(denied.Content, "PolicyDenied") {
		t.Errorf("plan tool outside plan mode: %+v", denied)
	}
	if len(result.Passthrough) != 1 || result.Passthrough[0].Name != "search" {
		t.Errorf("Passthrough = %v, want the search call", result.Passthrough)
	}
	if _, ok := registry.Active("s1"); ok {
		t.Error("denied plan tool mutated state")
	}
}

func TestInterceptPlanModeConsumesExternalCalls(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Start(context.Background(), "s1")
	interceptor := NewInterceptor(registry)

	result := interceptor.Intercept(context.Background(), "s1", []models.ToolCall{
		call("1", ToolSetContent, `{"markdown":"## Plan","title":"t"}`),
		call("2", "search", `{"q":"go"}`),
		call("3", ToolGet, `{}`),
	})

	if len(result.Passthrough) != 0 {
		t.Errorf("Passthrough = %v, want none in plan mode", result.Passthrough)
	}
	if len(result.Synthetic) != 3 {
		t.Fatalf("Synthetic = %d outcomes, want 3", len(result.Synthetic))
	}
	if !strings.HasPrefix(result.Synthetic[1].Content, "[Planned]") {
		t.Errorf("external call outcome = %q, want [Planned] marker", result.Synthetic[1].Content)
	}
	// plan_get sees the markdown written by the earlier plan_set_content.
	if result.Synthetic[2].Content != "## Plan" {
		t.Errorf("plan_get returned %q, want ## Plan", result.Synthetic[2].Content)
	}
}

func TestInterceptExecutingPlanPassesExternalCalls(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()
	registry.Start(ctx, "s1")
	registry.SetContent(ctx, "s1", "## Plan", "t")
	if _, err := registry.Approve(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	interceptor := NewInterceptor(registry)

	result := interceptor.Intercept(ctx, "s1", []models.ToolCall{
		call("1", "search", `{"q":"go"}`),
		call("2", ToolGet, `{}`),
	})

	if len(result.Passthrough) != 1 || result.Passthrough[0].Name != "search" {
		t.Errorf("Passthrough = %v, want the search call", result.Passthrough)
	}
	if len(result.Synthetic) != 1 || result.Synthetic[0].Content != "## Plan" {
		t.Errorf("plan_get while executing: %+v", result.Synthetic)
	}
}

func TestInterceptFinalize(t *testing.T) {
	registry := NewRegistry(nil)
	ctx := context.Background()
	registry.Start(ctx, "s1")
	registry.SetContent(ctx, "s1", "## Plan", "t")
	interceptor := NewInterceptor(registry)

	result := interceptor.Intercept(ctx, "s1", []models.ToolCall{
		call("1", ToolFinalize, `{}`),
	})
	if !result.Finalized {
		t.Fatal("Finalized = false")
	}
	if result.FinalizedPlan == nil || result.FinalizedPlan.Markdown != "## Plan" {
		t.Errorf("FinalizedPlan = %+v", result.FinalizedPlan)
	}
}

func TestInterceptBadSetContentArgs(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Start(context.Background(), "s1")
	interceptor := NewInterceptor(registry)

	result := interceptor.Intercept(context.Background(), "s1", []models.ToolCall{
		call("1", ToolSetContent, `{"title":"no markdown"}`),
	})
	if len(result.Synthetic) != 1 || !result.Synthetic[0].IsError {
		t.Errorf("expected error outcome, got %+v", result.Synthetic)
	}
	active, _ := registry.Active("s1")
	if active.Status != models.PlanCollecting {
		t.Errorf("bad args changed plan status to %s", active.Status)
	}
}

func TestToolDefinitions(t *testing.T) {
	defs := ToolDefinitions()
	if len(defs) != 3 {
		t.Fatalf("got %d tool definitions, want 3", len(defs))
	}
	for _, def := range defs {
		if !def.PlanTool {
			t.Errorf("%s not marked as a plan tool", def.Name)
		}
		var schema map[string]any
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			t.Errorf("%s schema is not valid JSON: %v", def.Name, err)
		}
	}
}
