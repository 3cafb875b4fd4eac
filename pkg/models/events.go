package models

import "time"

// EventType categorizes domain events published on the event bus.
type EventType string

const (
	EventTurnStarted   EventType = "turn.started"
	EventPlanReady     EventType = "plan.ready"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"
)

// TurnStarted is published when the scheduler begins processing a turn.
type TurnStarted struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PlanReadyEvent is published when a plan transitions to the ready status.
type PlanReadyEvent struct {
	PlanID    string    `json:"plan_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnCompleted is published after the outgoing response was routed.
type TurnCompleted struct {
	SessionID string        `json:"session_id"`
	ModelUsed string        `json:"model_used,omitempty"`
	ToolCalls int           `json:"tool_calls"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// TurnFailed is published when a turn ends with an unrecoverable error.
type TurnFailed struct {
	SessionID string    `json:"session_id"`
	ErrorKind string    `json:"error_kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
