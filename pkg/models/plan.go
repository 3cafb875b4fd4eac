package models

import "time"

// PlanStatus is the lifecycle state of a plan document.
type PlanStatus string

const (
	// PlanCollecting means the plan exists but has no content yet.
	PlanCollecting PlanStatus = "collecting"
	// PlanReady means the plan has canonical content awaiting approval.
	PlanReady PlanStatus = "ready"
	// PlanExecuting means the plan was approved and is being executed.
	PlanExecuting PlanStatus = "executing"
	// PlanDone is terminal: execution finished.
	PlanDone PlanStatus = "done"
	// PlanCancelled is terminal: the user left plan mode.
	PlanCancelled PlanStatus = "cancelled"
	// PlanSuperseded is terminal: a revision replaced this plan.
	PlanSuperseded PlanStatus = "superseded"
)

// Terminal reports whether the status permits no further transitions.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanDone, PlanCancelled, PlanSuperseded:
		return true
	}
	return false
}

// Plan is a canonical markdown plan document owned by one session.
// At most one non-terminal plan exists per session; plans in a terminal
// status are never mutated.
type Plan struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	Status        PlanStatus `json:"status"`
	Title         string     `json:"title,omitempty"`
	Markdown      string     `json:"markdown,omitempty"`
	ModelTier     string     `json:"model_tier,omitempty"`
	PredecessorID string     `json:"predecessor_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
