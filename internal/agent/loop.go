package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybot/relay/internal/infra"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/plan"
	"github.com/relaybot/relay/pkg/models"
)

// maxIterationsFallback is the assistant message appended when the loop
// runs out of iterations without a final answer.
const maxIterationsFallback = "I reached the tool iteration limit before finishing. Here is where things stand; ask me to continue if you want me to keep going."

// Interceptor decides what happens to the LLM's tool calls before any of
// them execute. The plan-mode interceptor implements it.
type Interceptor interface {
	Intercept(ctx context.Context, sessionID string, calls []models.ToolCall) plan.InterceptResult
}

// LLMGate admits LLM calls per provider. The infra rate gate implements it.
type LLMGate interface {
	TryConsumeLLM(providerID string) infra.Decision
}

// LoopConfig tunes the tool loop.
type LoopConfig struct {
	MaxIterations  int
	LLMTimeout     time.Duration
	MaxInputTokens int
	MaxTokens      int
}

// DefaultLoopConfig returns the loop defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:  8,
		LLMTimeout:     120 * time.Second,
		MaxInputTokens: 200000,
		MaxTokens:      4096,
	}
}

// LoopInput is one turn's worth of work for the tool loop.
type LoopInput struct {
	Session      *models.Session
	History      *History
	SystemPrompt string
	Tools        []models.ToolDefinition
	Tier         string
	ChatID       string
}

// LoopResult is what the loop hands back to the turn scheduler.
type LoopResult struct {
	FinalText     string
	ToolOutcomes  []models.ToolOutcome
	ModelUsed     string
	Iterations    int
	Usage         Usage
	PlanFinalized bool
	FinalizedPlan *models.Plan
	Err           error
}

// Loop drives the iterate-until-answer conversation with the LLM:
// completion, interception, tool execution, history writing, repeat.
type Loop struct {
	selector    ModelSelector
	executor    *Executor
	interceptor Interceptor
	gate        LLMGate
	config      LoopConfig
	log         *observability.Logger
	metrics     *observability.Metrics
}

// NewLoop creates a tool loop. interceptor, gate, and metrics may be nil.
func NewLoop(selector ModelSelector, executor *Executor, interceptor Interceptor, gate LLMGate, config LoopConfig, log *observability.Logger, metrics *observability.Metrics) *Loop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultLoopConfig().MaxIterations
	}
	if config.LLMTimeout <= 0 {
		config.LLMTimeout = DefaultLoopConfig().LLMTimeout
	}
	if config.MaxInputTokens <= 0 {
		config.MaxInputTokens = DefaultLoopConfig().MaxInputTokens
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultLoopConfig().MaxTokens
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Loop{
		selector:    selector,
		executor:    executor,
		interceptor: interceptor,
		gate:        gate,
		config:      config,
		log:         log,
		metrics:     metrics,
	}
}

// Run executes the tool loop for one turn. The returned result always has
// either FinalText, PlanFinalized, or Err set.
func (l *Loop) Run(ctx context.Context, in LoopInput) *LoopResult {
	result := &LoopResult{}

	client, model, err := l.selector.Select(in.Tier)
	if err != nil {
		result.Err = WrapError(KindFatal, "model selection failed", err)
		return result
	}
	result.ModelUsed = model

	// Switching models mid-session invalidates provider-specific tool
	// encodings in the stored history.
	if in.Session.LastModel != "" && in.Session.LastModel != model {
		if flat, changed := Flatten(in.History.Messages()); changed {
			if err := in.History.ReplaceAll(ctx, flat); err != nil {
				result.Err = WrapError(KindFatal, "history flattening failed", err)
				return result
			}
			l.log.Info(ctx, "history flattened for model switch", "from", in.Session.LastModel, "to", model)
		}
	}

	emptyRetried := false
	overflowRetried := false

	for iteration := 1; iteration <= l.config.MaxIterations; iteration++ {
		result.Iterations = iteration

		if l.gate != nil {
			if decision := l.gate.TryConsumeLLM(client.Name()); !decision.Allowed {
				result.Err = NewError(KindRateLimited,
					fmt.Sprintf("LLM budget for %s exhausted, retry after %s", client.Name(), decision.RetryAfter))
				return result
			}
		}

		resp, err := l.complete(ctx, client, model, in)
		if err != nil {
			kind := ClassifyLLMError(err)
			if kind == KindContextOverflow && !overflowRetried {
				overflowRetried = true
				if l.emergencyTruncate(ctx, in.History) {
					continue
				}
			}
			result.Err = WrapError(kind, "LLM call failed", err)
			return result
		}
		result.Usage.Add(resp.Usage)
		l.metrics.ObserveLLMCall(client.Name(), "ok", resp.Usage.InputTokens, resp.Usage.OutputTokens)

		if resp.Empty() {
			if !emptyRetried {
				emptyRetried = true
				continue
			}
			result.Err = NewError(KindLLMEmpty, "LLM returned empty response")
			return result
		}

		if len(resp.ToolCalls) == 0 {
			if err := in.History.AppendFinalAssistantAnswer(ctx, resp.Content); err != nil {
				result.Err = WrapError(KindFatal, "history write failed", err)
				return result
			}
			result.FinalText = resp.Content
			return result
		}

		if err := in.History.AppendAssistantToolCalls(ctx, resp.Content, resp.ToolCalls); err != nil {
			result.Err = WrapError(KindFatal, "history write failed", err)
			return result
		}

		outcomes, finalized, finalizedPlan := l.dispatch(ctx, in, resp.ToolCalls)
		for _, outcome := range outcomes {
			if err := in.History.AppendToolResult(ctx, outcome); err != nil {
				result.Err = WrapError(KindFatal, "history write failed", err)
				return result
			}
		}
		result.ToolOutcomes = append(result.ToolOutcomes, outcomes...)

		if finalized {
			result.PlanFinalized = true
			result.FinalizedPlan = finalizedPlan
			return result
		}
	}

	if err := in.History.AppendFinalAssistantAnswer(ctx, maxIterationsFallback); err != nil {
		result.Err = WrapError(KindFatal, "history write failed", err)
		return result
	}
	result.FinalText = maxIterationsFallback
	return result
}

func (l *Loop) complete(ctx context.Context, client Client, model string, in LoopInput) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.LLMTimeout)
	defer cancel()

	resp, err := client.Complete(callCtx, &Request{
		Model:           model,
		System:          in.SystemPrompt,
		Messages:        in.History.Messages(),
		Tools:           in.Tools,
		MaxTokens:       l.config.MaxTokens,
		ReasoningEffort: reasoningEffort(in.Tier),
	})
	if err != nil {
		l.metrics.ObserveLLMCall(client.Name(), "error", 0, 0)
		return nil, err
	}
	return resp, nil
}

// dispatch runs interception and execution for one batch of tool calls,
// merging synthetic and executed outcomes back into LLM call order.
func (l *Loop) dispatch(ctx context.Context, in LoopInput, calls []models.ToolCall) ([]models.ToolOutcome, bool, *models.Plan) {
	var intercepted plan.InterceptResult
	if l.interceptor != nil {
		intercepted = l.interceptor.Intercept(ctx, in.Session.ID, calls)
	} else {
		intercepted.Passthrough = calls
	}

	byID := make(map[string]models.ToolOutcome, len(calls))
	for _, outcome := range intercepted.Synthetic {
		byID[outcome.ToolCallID] = outcome
	}
	if len(intercepted.Passthrough) > 0 {
		executed := l.executor.ExecuteAll(ctx, in.ChatID, intercepted.Passthrough)
		for _, outcome := range executed {
			byID[outcome.ToolCallID] = outcome
		}
	}

	outcomes := make([]models.ToolOutcome, 0, len(calls))
	for _, call := range calls {
		if outcome, ok := byID[call.ID]; ok {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, intercepted.Finalized, intercepted.FinalizedPlan
}

func (l *Loop) emergencyTruncate(ctx context.Context, history *History) bool {
	budget := MaxMessageChars(l.config.MaxInputTokens)
	truncated, n := TruncateOversized(history.Messages(), budget)
	if n == 0 {
		return false
	}
	if err := history.ReplaceAll(ctx, truncated); err != nil {
		l.log.Error(ctx, "emergency truncation failed", "error", err)
		return false
	}
	l.log.Warn(ctx, "history truncated after context overflow", "messages", n, "budget_chars", budget)
	return true
}

// reasoningEffort maps routing tiers to a provider reasoning hint.
func reasoningEffort(tier string) string {
	switch tier {
	case "deep":
		return "high"
	case "smart", "coding":
		return "medium"
	default:
		return ""
	}
}
