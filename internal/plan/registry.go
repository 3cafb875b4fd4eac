// Package plan owns plan documents and the plan-mode state machine.
package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/pkg/models"
)

var (
	// ErrNoActivePlan is returned when a session has no plan in progress.
	ErrNoActivePlan = errors.New("plan: no active plan")

	// ErrPlanExists is returned when starting a plan over an active one.
	ErrPlanExists = errors.New("plan: session already has an active plan")
)

// Persister mirrors plan writes to durable storage. Optional; the sqlite
// session store implements it.
type Persister interface {
	SavePlan(ctx context.Context, plan *models.Plan) error
}

// Registry owns all plans. At most one non-terminal plan exists per
// session; terminal plans are never mutated.
type Registry struct {
	mu        sync.Mutex
	plans     map[string]*models.Plan
	active    map[string]string // session id -> plan id
	persister Persister
	now       func() time.Time
}

// NewRegistry creates a plan registry. persister may be nil.
func NewRegistry(persister Persister) *Registry {
	return &Registry{
		plans:     map[string]*models.Plan{},
		active:    map[string]string{},
		persister: persister,
		now:       time.Now,
	}
}

// Start begins plan mode for a session: creates a plan in COLLECTING and
// records it as the session's active plan.
func (r *Registry) Start(ctx context.Context, sessionID string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[sessionID]; ok {
		return nil, ErrPlanExists
	}
	now := r.now()
	plan := &models.Plan{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    models.PlanCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.plans[plan.ID] = plan
	r.active[sessionID] = plan.ID
	r.persist(ctx, plan)
	return clonePlan(plan), nil
}

// Active returns the session's active plan, if any.
func (r *Registry) Active(sessionID string) (*models.Plan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, ok := r.activeLocked(sessionID)
	if !ok {
		return nil, false
	}
	return clonePlan(plan), true
}

// SetContent stores canonical markdown on the active plan. COLLECTING and
// READY plans move to (or stay in) READY. An EXECUTING plan is superseded:
// it transitions to SUPERSEDED and a READY successor is created, both under
// one lock acquisition.
func (r *Registry) SetContent(ctx context.Context, sessionID, markdown, title string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, ok := r.activeLocked(sessionID)
	if !ok {
		return nil, ErrNoActivePlan
	}
	now := r.now()

	switch plan.Status {
	case models.PlanCollecting, models.PlanReady:
		plan.Markdown = markdown
		if title != "" {
			plan.Title = title
		}
		plan.Status = models.PlanReady
		plan.UpdatedAt = now
		r.persist(ctx, plan)
		return clonePlan(plan), nil

	case models.PlanExecuting:
		plan.Status = models.PlanSuperseded
		plan.UpdatedAt = now
		successor := &models.Plan{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			Status:        models.PlanReady,
			Title:         plan.Title,
			Markdown:      markdown,
			ModelTier:     plan.ModelTier,
			PredecessorID: plan.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if title != "" {
			successor.Title = title
		}
		r.plans[successor.ID] = successor
		r.active[sessionID] = successor.ID
		r.persist(ctx, plan)
		r.persist(ctx, successor)
		return clonePlan(successor), nil

	default:
		return nil, fmt.Errorf("plan: cannot set content in status %s", plan.Status)
	}
}

// Approve moves a READY plan to EXECUTING.
func (r *Registry) Approve(ctx context.Context, sessionID string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, ok := r.activeLocked(sessionID)
	if !ok {
		return nil, ErrNoActivePlan
	}
	if plan.Status != models.PlanReady {
		return nil, fmt.Errorf("plan: cannot approve in status %s", plan.Status)
	}
	plan.Status = models.PlanExecuting
	plan.UpdatedAt = r.now()
	r.persist(ctx, plan)
	return clonePlan(plan), nil
}

// Cancel moves the active plan to CANCELLED and clears it.
func (r *Registry) Cancel(ctx context.Context, sessionID string) error {
	return r.finish(ctx, sessionID, models.PlanCancelled)
}

// Complete moves the active plan to DONE and clears it.
func (r *Registry) Complete(ctx context.Context, sessionID string) error {
	return r.finish(ctx, sessionID, models.PlanDone)
}

func (r *Registry) finish(ctx context.Context, sessionID string, status models.PlanStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan, ok := r.activeLocked(sessionID)
	if !ok {
		return ErrNoActivePlan
	}
	plan.Status = status
	plan.UpdatedAt = r.now()
	delete(r.active, sessionID)
	r.persist(ctx, plan)
	return nil
}

// activeLocked resolves the active plan, dropping stale terminal entries.
func (r *Registry) activeLocked(sessionID string) (*models.Plan, bool) {
	id, ok := r.active[sessionID]
	if !ok {
		return nil, false
	}
	plan, ok := r.plans[id]
	if !ok || plan.Status.Terminal() {
		delete(r.active, sessionID)
		return nil, false
	}
	return plan, true
}

func (r *Registry) persist(ctx context.Context, plan *models.Plan) {
	if r.persister == nil {
		return
	}
	// Persistence is best-effort; the in-memory registry is the source
	// of truth for the running process.
	_ = r.persister.SavePlan(ctx, clonePlan(plan))
}

func clonePlan(plan *models.Plan) *models.Plan {
	clone := *plan
	return &clone
}
