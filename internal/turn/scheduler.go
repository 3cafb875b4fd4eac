package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/internal/infra"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/plan"
	"github.com/relaybot/relay/internal/prompt"
	"github.com/relaybot/relay/internal/respond"
	"github.com/relaybot/relay/internal/routing"
	"github.com/relaybot/relay/internal/sanitize"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/pkg/models"
)

// feedbackText is sent when a non-auto turn would otherwise end silently.
const feedbackText = "I was unable to produce a response."

const rateLimitedText = "You're sending messages faster than I can handle. Please wait a moment and try again."

// Plan-mode user commands, matched after sanitization.
const (
	cmdPlanOn  = "plan on"
	cmdPlanOff = "plan off"
	cmdReset   = "reset"
	cmdApprove = "approve"
)

// SchedulerConfig tunes the turn pipeline.
type SchedulerConfig struct {
	Timeout    time.Duration
	BasePrompt string
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Timeout: 300 * time.Second}
}

// Scheduler runs every inbound message through the fixed stage order:
// gate, sanitize, route, build context, tool loop, prepare, route
// response, persist. Turns on the same session run one at a time, in
// arrival order.
type Scheduler struct {
	gate      *infra.RateGate
	store     sessions.Store
	locker    *sessions.Locker
	router    *routing.Router
	skills    *skills.Registry
	builder   *prompt.Builder
	plans     *plan.Registry
	loop      *agent.Loop
	compactor *agent.Compactor
	tools     *agent.Registry
	responder *respond.Router
	bus       *infra.Bus
	config    SchedulerConfig
	log       *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// SchedulerDeps collects the pipeline's collaborators.
type SchedulerDeps struct {
	Gate      *infra.RateGate
	Store     sessions.Store
	Locker    *sessions.Locker
	Router    *routing.Router
	Skills    *skills.Registry
	Builder   *prompt.Builder
	Plans     *plan.Registry
	Loop      *agent.Loop
	Compactor *agent.Compactor
	Tools     *agent.Registry
	Responder *respond.Router
	Bus       *infra.Bus
	Log       *observability.Logger
	Metrics   *observability.Metrics
}

// NewScheduler creates a turn scheduler.
func NewScheduler(deps SchedulerDeps, config SchedulerConfig) *Scheduler {
	if config.Timeout <= 0 {
		config.Timeout = DefaultSchedulerConfig().Timeout
	}
	log := deps.Log
	if log == nil {
		log = observability.NopLogger()
	}
	return &Scheduler{
		gate:      deps.Gate,
		store:     deps.Store,
		locker:    deps.Locker,
		router:    deps.Router,
		skills:    deps.Skills,
		builder:   deps.Builder,
		plans:     deps.Plans,
		loop:      deps.Loop,
		compactor: deps.Compactor,
		tools:     deps.Tools,
		responder: deps.Responder,
		bus:       deps.Bus,
		config:    config,
		log:       log,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// HandleIncoming processes one inbound message end to end and returns the
// completed turn context.
func (s *Scheduler) HandleIncoming(ctx context.Context, incoming *models.Message, opts Options) (*Context, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, observability.ChannelKey, string(incoming.Channel))

	// Stage 1: admission. A denied turn never takes the session lock.
	if decision := s.gate.TryConsumeUser(); !decision.Allowed {
		return s.rejectRateLimited(ctx, incoming, "user", decision)
	}
	if decision := s.gate.TryConsumeChannel(string(incoming.Channel)); !decision.Allowed {
		return s.rejectRateLimited(ctx, incoming, "channel", decision)
	}

	session, err := s.store.GetOrCreate(ctx, incoming.Channel, incoming.ChatID)
	if err != nil {
		return nil, fmt.Errorf("turn: resolve session: %w", err)
	}

	// Turns on one session are FIFO: a second inbound queues here.
	release, err := s.locker.Acquire(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("turn: acquire session lock: %w", err)
	}
	defer release()

	turnCtx := NewContext(session, incoming, opts)
	ctx = context.WithValue(ctx, observability.TurnIDKey, turnCtx.TurnID)
	ctx = context.WithValue(ctx, observability.SessionIDKey, session.ID)

	s.bus.Publish(models.EventTurnStarted, models.TurnStarted{
		SessionID: session.ID,
		Timestamp: s.now(),
	})

	s.run(ctx, turnCtx)
	s.finish(ctx, turnCtx)
	return turnCtx, nil
}

func (s *Scheduler) run(ctx context.Context, turnCtx *Context) {
	session := turnCtx.Session
	incoming := turnCtx.Incoming

	// Stage 2: sanitize.
	incoming.Content = sanitize.Text(incoming.Content)

	stored, err := s.store.History(ctx, session.ID, 0)
	if err != nil {
		s.failTurn(turnCtx, agent.WrapError(agent.KindFatal, "load history", err))
		return
	}
	history := agent.NewHistory(s.store, session, stored)

	if s.handleCommand(ctx, turnCtx, history) {
		return
	}

	if err := history.AppendUserMessage(ctx, incoming); err != nil {
		s.failTurn(turnCtx, agent.WrapError(agent.KindFatal, "record user message", err))
		return
	}

	// Stage 3: aggregate and route.
	aggregation := routing.Aggregate(history.Messages())
	routingResult := s.router.Match(ctx, aggregation.Query, recentMessages(history.Messages(), 3))
	turnCtx.Set(AttrRoutingResult, routingResult)
	turnCtx.Set(AttrModelTier, routingResult.ModelTier)

	var activeSkill *models.Skill
	if !routingResult.NoMatch {
		if skill, ok := s.skills.Get(routingResult.Skill); ok {
			activeSkill = skill
			turnCtx.Set(AttrActiveSkill, skill.Name)
		}
	}

	// Stage 4: build the LLM context. The drafting prompt block and the
	// plan tools are offered only while a plan is active; once approved
	// and executing, the model works the plan with ordinary tools.
	activePlan, planActive := s.plans.Active(session.ID)
	planExecutingID := ""
	if planActive && activePlan.Status == models.PlanExecuting {
		planExecutingID = activePlan.ID
	}
	tools := s.tools.Definitions()
	if planActive {
		tools = append(tools, plan.ToolDefinitions()...)
	}
	built := s.builder.Build(prompt.Input{
		BasePrompt:  s.config.BasePrompt,
		ActiveSkill: activeSkill,
		PlanActive:  planActive && planExecutingID == "",
		Tools:       tools,
	})

	// Stage 5: compaction, then the tool loop.
	if s.compactor != nil {
		if _, err := s.compactor.MaybeCompact(ctx, history); err != nil {
			s.log.Warn(ctx, "compaction failed", "error", err)
		}
	}

	loopResult := s.loop.Run(ctx, agent.LoopInput{
		Session:      session,
		History:      history,
		SystemPrompt: built.SystemPrompt,
		Tools:        built.Tools,
		Tier:         routingResult.ModelTier,
		ChatID:       incoming.ChatID,
	})

	turnCtx.Set(AttrLLMModel, loopResult.ModelUsed)
	turnCtx.Set(AttrCurrentIteration, loopResult.Iterations)
	if len(loopResult.ToolOutcomes) > 0 {
		turnCtx.Set(AttrLLMToolCalls, loopResult.ToolOutcomes)
	}

	if loopResult.Err != nil {
		turnCtx.Set(AttrLLMError, loopResult.Err)
	} else if loopResult.PlanFinalized {
		turnCtx.Set(AttrPlanApprovalNeeded, true)
		turnCtx.Set(AttrOutgoingResponse, planApprovalResponse(loopResult.FinalizedPlan))
		if loopResult.FinalizedPlan != nil {
			s.bus.Publish(models.EventPlanReady, models.PlanReadyEvent{
				PlanID:    loopResult.FinalizedPlan.ID,
				SessionID: session.ID,
				Timestamp: s.now(),
			})
		}
	} else {
		turnCtx.Set(AttrLLMResponse, loopResult.FinalText)
	}

	// An executing plan that survives its execution turn is done. A plan
	// superseded mid-turn keeps its successor active instead.
	if planExecutingID != "" && loopResult.Err == nil && !loopResult.PlanFinalized {
		if current, ok := s.plans.Active(session.ID); ok && current.ID == planExecutingID {
			if err := s.plans.Complete(ctx, session.ID); err != nil {
				s.log.Warn(ctx, "plan completion failed", "error", err)
			}
		}
	}

	// Stage 6: persist the model choice for flattening on later switches.
	if loopResult.ModelUsed != "" && session.LastModel != loopResult.ModelUsed {
		session.LastModel = loopResult.ModelUsed
		if err := s.store.Update(ctx, session); err != nil {
			s.log.Warn(ctx, "session update failed", "error", err)
		}
	}

	// Stage 7: prepare the single outgoing response.
	resp := respond.Prepare(respond.PrepareInput{
		Existing:       turnCtx.Response(),
		TurnError:      loopResult.Err,
		LLMText:        loopResult.FinalText,
		VoiceRequested: voiceRequested(incoming),
		ToolOutcomes:   loopResult.ToolOutcomes,
	})
	turnCtx.Set(AttrOutgoingResponse, resp)
}

// finish applies the feedback guarantee, routes the response, and emits
// the closing event and metrics.
func (s *Scheduler) finish(ctx context.Context, turnCtx *Context) {
	resp := turnCtx.Response()
	if resp.IsEmpty() {
		if turnCtx.Options.AutoMode {
			s.observeOutcome(turnCtx)
			return
		}
		resp = &models.OutgoingResponse{Text: feedbackText}
		turnCtx.Set(AttrOutgoingResponse, resp)
	}

	s.responder.Route(ctx, turnCtx.Incoming.Channel, turnCtx.Incoming.ChatID, resp)
	s.observeOutcome(turnCtx)
}

func (s *Scheduler) observeOutcome(turnCtx *Context) {
	duration := s.now().Sub(turnCtx.StartedAt)

	if err := turnCtx.Err(); err != nil {
		s.metrics.ObserveTurn("failed", duration.Seconds())
		s.bus.Publish(models.EventTurnFailed, models.TurnFailed{
			SessionID: turnCtx.Session.ID,
			ErrorKind: string(agent.KindOf(err)),
			Message:   err.Error(),
			Timestamp: s.now(),
		})
		return
	}

	toolCalls := 0
	if v, ok := turnCtx.Get(AttrLLMToolCalls); ok {
		if outcomes, ok := v.([]models.ToolOutcome); ok {
			toolCalls = len(outcomes)
		}
	}
	s.metrics.ObserveTurn("completed", duration.Seconds())
	s.bus.Publish(models.EventTurnCompleted, models.TurnCompleted{
		SessionID: turnCtx.Session.ID,
		ModelUsed: turnCtx.GetString(AttrLLMModel),
		ToolCalls: toolCalls,
		Duration:  duration,
		Timestamp: s.now(),
	})
}

// handleCommand intercepts plan-mode user commands. Command turns skip
// routing and the tool loop entirely.
func (s *Scheduler) handleCommand(ctx context.Context, turnCtx *Context, history *agent.History) bool {
	command := strings.ToLower(strings.TrimSpace(turnCtx.Incoming.Content))
	session := turnCtx.Session

	var reply string
	switch command {
	case cmdPlanOn:
		if _, err := s.plans.Start(ctx, session.ID); err != nil {
			reply = "A plan is already in progress. Say \"plan off\" to discard it first."
		} else {
			reply = "Plan mode is on. Tell me what we're planning and I'll draft it with you."
		}
	case cmdPlanOff, cmdReset:
		if err := s.plans.Cancel(ctx, session.ID); err != nil {
			reply = "There is no active plan to turn off."
		} else {
			reply = "Plan mode is off. The draft plan was discarded."
		}
	case cmdApprove:
		approved, err := s.plans.Approve(ctx, session.ID)
		if err != nil {
			reply = "There is no plan ready for approval."
		} else {
			reply = fmt.Sprintf("Plan %q approved. I'll start executing it.", planTitle(approved))
		}
	default:
		return false
	}

	if err := history.AppendUserMessage(ctx, turnCtx.Incoming); err != nil {
		s.log.Warn(ctx, "command history write failed", "error", err)
	}
	if err := history.AppendFinalAssistantAnswer(ctx, reply); err != nil {
		s.log.Warn(ctx, "command history write failed", "error", err)
	}
	turnCtx.Set(AttrOutgoingResponse, &models.OutgoingResponse{Text: reply})
	return true
}

func (s *Scheduler) rejectRateLimited(ctx context.Context, incoming *models.Message, scope string, decision infra.Decision) (*Context, error) {
	s.metrics.ObserveRateLimited(scope)
	s.log.Info(ctx, "turn rate limited", "scope", scope, "retry_after", decision.RetryAfter)

	turnCtx := NewContext(&models.Session{Channel: incoming.Channel, ChatID: incoming.ChatID}, incoming, Options{})
	resp := &models.OutgoingResponse{Text: rateLimitedText}
	turnCtx.Set(AttrOutgoingResponse, resp)
	s.responder.Route(ctx, incoming.Channel, incoming.ChatID, resp)
	return turnCtx, nil
}

func (s *Scheduler) failTurn(turnCtx *Context, err error) {
	turnCtx.Set(AttrLLMError, err)
	turnCtx.Set(AttrOutgoingResponse, respond.Prepare(respond.PrepareInput{TurnError: err}))
}

func planApprovalResponse(finalized *models.Plan) *models.OutgoingResponse {
	if finalized == nil {
		return &models.OutgoingResponse{Text: "The plan is ready for your review. Reply \"approve\" to execute it."}
	}
	return &models.OutgoingResponse{
		Text: fmt.Sprintf("Here's the plan %q:\n\n%s\n\nReply \"approve\" to execute it, or keep editing.",
			planTitle(finalized), finalized.Markdown),
	}
}

func planTitle(p *models.Plan) string {
	if p == nil || p.Title == "" {
		return "untitled"
	}
	return p.Title
}

func recentMessages(msgs []*models.Message, n int) []*models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func voiceRequested(incoming *models.Message) bool {
	if incoming.Metadata == nil {
		return false
	}
	v, _ := incoming.Metadata["voice"].(bool)
	return v
}
