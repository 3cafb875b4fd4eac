package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

// DeniedMarker is the canonical content recorded when the user denies a
// tool execution. The LLM sees it verbatim in the tool result.
const DeniedMarker = "user denied"

// Confirmer asks the user to approve a tool execution. Implemented by the
// approval broker; nil means no confirmation channel is available.
type Confirmer interface {
	Confirm(ctx context.Context, chatID, toolName, description string) (bool, error)
}

// ExecutorConfig tunes parallel tool execution.
type ExecutorConfig struct {
	MaxParallel  int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// FailClosed denies confirmation-required tools when no confirmer is
	// wired, instead of auto-approving them.
	FailClosed bool
}

// DefaultExecutorConfig returns the executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxParallel:  4,
		Timeout:      60 * time.Second,
		MaxRetries:   0,
		RetryBackoff: time.Second,
	}
}

// Executor runs tool calls in parallel with bounded concurrency, per-call
// timeouts, retries with exponential backoff and panic recovery. Results
// always come back in the original call order.
type Executor struct {
	registry  *Registry
	confirmer Confirmer
	config    ExecutorConfig
	log       *observability.Logger
	metrics   *observability.Metrics
	sem       chan struct{}
}

// NewExecutor creates a tool executor. confirmer and metrics may be nil.
func NewExecutor(registry *Registry, confirmer Confirmer, config ExecutorConfig, log *observability.Logger, metrics *observability.Metrics) *Executor {
	if config.MaxParallel <= 0 {
		config.MaxParallel = DefaultExecutorConfig().MaxParallel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultExecutorConfig().Timeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultExecutorConfig().RetryBackoff
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Executor{
		registry:  registry,
		confirmer: confirmer,
		config:    config,
		log:       log,
		metrics:   metrics,
		sem:       make(chan struct{}, config.MaxParallel),
	}
}

// ExecuteAll runs every call and returns one outcome per call, in call
// order. Individual failures become error outcomes, never a panic or a
// missing slot.
func (e *Executor) ExecuteAll(ctx context.Context, chatID string, calls []models.ToolCall) []models.ToolOutcome {
	outcomes := make([]models.ToolOutcome, len(calls))
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(i int, call models.ToolCall) {
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				outcomes[i] = errorOutcome(call, fmt.Sprintf("cancelled: %v", ctx.Err()))
				done <- i
				return
			}
			outcomes[i] = e.executeOne(ctx, chatID, call)
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}
	return outcomes
}

func (e *Executor) executeOne(ctx context.Context, chatID string, call models.ToolCall) models.ToolOutcome {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		e.metrics.ObserveToolExec(call.Name, "unknown")
		return errorOutcome(call, fmt.Sprintf("unknown tool %s", call.Name))
	}
	if err := e.registry.ValidateInput(call.Name, call.Input); err != nil {
		e.metrics.ObserveToolExec(call.Name, "invalid_input")
		return errorOutcome(call, err.Error())
	}

	def := tool.Definition()
	if def.RequiresConfirmation {
		approved, err := e.confirm(ctx, chatID, def)
		if err != nil {
			e.log.Warn(ctx, "tool confirmation failed", "tool", call.Name, "error", err)
		}
		if !approved {
			e.metrics.ObserveToolExec(call.Name, "denied")
			return models.ToolOutcome{
				ToolCallID:         call.ID,
				ToolName:           call.Name,
				Content:            DeniedMarker + ": " + call.Name + " was not executed",
				IsError:            true,
				ConfirmationDenied: true,
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return errorOutcome(call, fmt.Sprintf("cancelled: %v", ctx.Err()))
			case <-time.After(backoff):
			}
		}

		result, err := e.runWithRecovery(ctx, tool, call)
		if err == nil {
			e.metrics.ObserveToolExec(call.Name, "ok")
			return models.ToolOutcome{
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				Content:     result.Content,
				Attachments: result.Attachments,
			}
		}
		lastErr = err
		e.log.Warn(ctx, "tool execution failed", "tool", call.Name, "attempt", attempt+1, "error", err)
	}

	e.metrics.ObserveToolExec(call.Name, "error")
	return errorOutcome(call, lastErr.Error())
}

func (e *Executor) confirm(ctx context.Context, chatID string, def models.ToolDefinition) (bool, error) {
	if e.confirmer == nil {
		return !e.config.FailClosed, nil
	}
	approved, err := e.confirmer.Confirm(ctx, chatID, def.Name, def.Description)
	if err != nil {
		return false, err
	}
	return approved, nil
}

func (e *Executor) runWithRecovery(ctx context.Context, tool Tool, call models.ToolCall) (result *ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(ctx, "tool panicked", "tool", call.Name, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	result, err = tool.Execute(execCtx, call.Input)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &ToolResult{}
	}
	return result, nil
}

func errorOutcome(call models.ToolCall, message string) models.ToolOutcome {
	return models.ToolOutcome{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    message,
		IsError:    true,
	}
}
