package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/internal/embeddings"
	"github.com/relaybot/relay/internal/infra"
	"github.com/relaybot/relay/internal/plan"
	"github.com/relaybot/relay/internal/prompt"
	"github.com/relaybot/relay/internal/respond"
	"github.com/relaybot/relay/internal/routing"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/pkg/models"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (fixedEmbedder) Name() string      { return "fixed" }
func (fixedEmbedder) Dimension() int    { return 3 }
func (fixedEmbedder) MaxBatchSize() int { return 16 }

type turnClient struct {
	mu        sync.Mutex
	responses []*agent.Response
	err       error
	calls     int
}

func (c *turnClient) Name() string { return "turn-test" }

func (c *turnClient) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls
	c.calls++
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &agent.Response{Content: "default"}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) Channel() models.ChannelType { return models.ChannelWebSocket }

func (s *recordingSink) SendText(ctx context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) SendVoice(ctx context.Context, chatID, text string) error { return nil }

func (s *recordingSink) SendAttachments(ctx context.Context, chatID string, attachments []models.Attachment) error {
	return nil
}

func (s *recordingSink) lastText(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		t.Fatal("nothing was sent")
	}
	return s.texts[len(s.texts)-1]
}

type lookupTool struct {
	mu    sync.Mutex
	calls int
}

func (l *lookupTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{Name: "lookup", Description: "look things up"}
}

func (l *lookupTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return &agent.ToolResult{Content: "lookup result"}, nil
}

func (l *lookupTool) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type planStatusLog struct {
	mu       sync.Mutex
	statuses []models.PlanStatus
}

func (p *planStatusLog) SavePlan(ctx context.Context, pl *models.Plan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, pl.Status)
	return nil
}

func (p *planStatusLog) last(t *testing.T) models.PlanStatus {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		t.Fatal("no plan was persisted")
	}
	return p.statuses[len(p.statuses)-1]
}

type harness struct {
	scheduler *Scheduler
	sink      *recordingSink
	client    *turnClient
	plans     *plan.Registry
	planLog   *planStatusLog
	tool      *lookupTool
	store     sessions.Store
	bus       *infra.Bus
	gate      *infra.RateGate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	var emb embeddings.Provider = fixedEmbedder{}
	skillReg := skills.NewRegistry(nil)
	if err := skillReg.Replace(ctx, []*models.Skill{{
		Name:        "general-chat",
		Description: "general conversation",
		Available:   true,
	}}); err != nil {
		t.Fatal(err)
	}
	index := routing.NewIndex(emb)
	if err := index.IndexSkills(ctx, skillReg.Available()); err != nil {
		t.Fatal(err)
	}
	router := routing.NewRouter(index, emb, skillReg, nil, routing.DefaultConfig(), nil, nil)

	client := &turnClient{}
	selector := agent.NewStaticSelector(
		map[string]agent.Client{"test": client},
		map[string]string{"balanced": "test/model-a", "fast": "test/model-a"},
	)

	gate := infra.NewRateGate(infra.DefaultGateConfig())
	planLog := &planStatusLog{}
	plans := plan.NewRegistry(planLog)
	toolReg := agent.NewRegistry()
	tool := &lookupTool{}
	if err := toolReg.Register(tool); err != nil {
		t.Fatal(err)
	}
	executor := agent.NewExecutor(toolReg, nil, agent.ExecutorConfig{}, nil, nil)
	loop := agent.NewLoop(selector, executor, plan.NewInterceptor(plans), gate, agent.LoopConfig{MaxIterations: 3}, nil, nil)

	sink := &recordingSink{}
	responder := respond.NewRouter(nil)
	responder.Register(sink)

	store := sessions.NewMemoryStore()
	bus := infra.NewBus()

	scheduler := NewScheduler(SchedulerDeps{
		Gate:      gate,
		Store:     store,
		Locker:    sessions.NewLocker(),
		Router:    router,
		Skills:    skillReg,
		Builder:   prompt.NewBuilder(skillReg),
		Plans:     plans,
		Loop:      loop,
		Tools:     toolReg,
		Responder: responder,
		Bus:       bus,
	}, SchedulerConfig{Timeout: 10 * time.Second})

	return &harness{
		scheduler: scheduler,
		sink:      sink,
		client:    client,
		plans:     plans,
		planLog:   planLog,
		tool:      tool,
		store:     store,
		bus:       bus,
		gate:      gate,
	}
}

func inbound(text string) *models.Message {
	return &models.Message{
		Channel: models.ChannelWebSocket,
		ChatID:  "chat-1",
		Role:    models.RoleUser,
		Content: text,
	}
}

func TestTurnHappyPath(t *testing.T) {
	h := newHarness(t)
	h.client.responses = []*agent.Response{{Content: "hello from the model"}}

	var completed []models.TurnCompleted
	h.bus.Subscribe(models.EventTurnCompleted, func(event infra.BusEvent) {
		if payload, ok := event.Payload.(models.TurnCompleted); ok {
			completed = append(completed, payload)
		}
	})

	turnCtx, err := h.scheduler.HandleIncoming(context.Background(), inbound("hi there"), Options{})
	if err != nil {
		t.Fatal(err)
	}

	if got := h.sink.lastText(t); got != "hello from the model" {
		t.Errorf("sent %q", got)
	}
	if turnCtx.GetString(AttrLLMResponse) != "hello from the model" {
		t.Errorf("LLM_RESPONSE = %q", turnCtx.GetString(AttrLLMResponse))
	}
	if len(completed) != 1 {
		t.Fatalf("got %d completion events", len(completed))
	}

	// History holds the user message and the answer.
	session, err := h.store.GetByKey(context.Background(), models.SessionKey(models.ChannelWebSocket, "chat-1"))
	if err != nil {
		t.Fatal(err)
	}
	history, err := h.store.History(context.Background(), session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("history roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestTurnSanitizesInput(t *testing.T) {
	h := newHarness(t)

	msg := inbound("hi​there")
	if _, err := h.scheduler.HandleIncoming(context.Background(), msg, Options{}); err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hithere" {
		t.Errorf("content after sanitize = %q", msg.Content)
	}
}

func TestTurnLLMErrorProducesErrorResponse(t *testing.T) {
	h := newHarness(t)
	h.client.err = errors.New("429 too many requests")

	var failed []models.TurnFailed
	h.bus.Subscribe(models.EventTurnFailed, func(event infra.BusEvent) {
		if payload, ok := event.Payload.(models.TurnFailed); ok {
			failed = append(failed, payload)
		}
	})

	turnCtx, err := h.scheduler.HandleIncoming(context.Background(), inbound("hi"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if turnCtx.Err() == nil {
		t.Fatal("turn error not recorded")
	}
	if !strings.Contains(h.sink.lastText(t), "too many requests") {
		t.Errorf("sent %q, want rate-limit wording", h.sink.lastText(t))
	}
	if len(failed) != 1 || failed[0].ErrorKind != string(agent.KindRateLimited) {
		t.Errorf("failure events: %+v", failed)
	}
}

func TestTurnRateLimited(t *testing.T) {
	h := newHarness(t)
	h.gate.Configure(infra.ScopeUser, infra.BucketConfig{Capacity: 1, RefillPeriod: time.Hour})

	if _, err := h.scheduler.HandleIncoming(context.Background(), inbound("one"), Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.scheduler.HandleIncoming(context.Background(), inbound("two"), Options{}); err != nil {
		t.Fatal(err)
	}

	if got := h.sink.lastText(t); got != rateLimitedText {
		t.Errorf("second turn sent %q, want rate-limit notice", got)
	}
}

func TestTurnPlanLifecycleCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("plan on"), Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.sink.lastText(t), "Plan mode is on") {
		t.Errorf("plan on reply: %q", h.sink.lastText(t))
	}

	session, err := h.store.GetByKey(ctx, models.SessionKey(models.ChannelWebSocket, "chat-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, active := h.plans.Active(session.ID); !active {
		t.Fatal("plan mode did not start")
	}

	// Draft and finalize through the loop.
	h.client.responses = []*agent.Response{{ToolCalls: []models.ToolCall{
		{ID: "c1", Name: plan.ToolSetContent, Input: json.RawMessage(`{"markdown":"## Steps","title":"deploy"}`)},
		{ID: "c2", Name: plan.ToolFinalize, Input: json.RawMessage(`{}`)},
	}}}
	turnCtx, err := h.scheduler.HandleIncoming(ctx, inbound("plan the deploy"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !turnCtx.GetBool(AttrPlanApprovalNeeded) {
		t.Fatal("PLAN_APPROVAL_NEEDED not set")
	}
	if !strings.Contains(h.sink.lastText(t), "## Steps") {
		t.Errorf("approval prompt missing plan body: %q", h.sink.lastText(t))
	}

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("approve"), Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.sink.lastText(t), "approved") {
		t.Errorf("approve reply: %q", h.sink.lastText(t))
	}
	active, ok := h.plans.Active(session.ID)
	if !ok || active.Status != models.PlanExecuting {
		t.Errorf("plan after approve: %+v", active)
	}

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("plan off"), Options{}); err != nil {
		t.Fatal(err)
	}
	if _, stillActive := h.plans.Active(session.ID); stillActive {
		t.Error("plan off left an active plan")
	}
}

func TestTurnApprovedPlanExecutesAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("plan on"), Options{}); err != nil {
		t.Fatal(err)
	}

	// Drafting turn, then one execution turn with a real tool call.
	h.client.responses = []*agent.Response{
		{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: plan.ToolSetContent, Input: json.RawMessage(`{"markdown":"## Steps","title":"deploy"}`)},
			{ID: "c2", Name: plan.ToolFinalize, Input: json.RawMessage(`{}`)},
		}},
		{ToolCalls: []models.ToolCall{{ID: "e1", Name: "lookup", Input: json.RawMessage(`{}`)}}},
		{Content: "done executing"},
	}

	var ready []models.PlanReadyEvent
	h.bus.Subscribe(models.EventPlanReady, func(event infra.BusEvent) {
		if payload, ok := event.Payload.(models.PlanReadyEvent); ok {
			ready = append(ready, payload)
		}
	})

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("plan the deploy"), Options{}); err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].PlanID == "" {
		t.Fatalf("plan ready events: %+v", ready)
	}
	if h.tool.callCount() != 0 {
		t.Fatal("tool ran while the plan was being drafted")
	}

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("approve"), Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.scheduler.HandleIncoming(ctx, inbound("go ahead"), Options{}); err != nil {
		t.Fatal(err)
	}

	if h.tool.callCount() != 1 {
		t.Errorf("lookup ran %d times during execution, want 1", h.tool.callCount())
	}
	if got := h.sink.lastText(t); got != "done executing" {
		t.Errorf("execution turn sent %q", got)
	}

	session, err := h.store.GetByKey(ctx, models.SessionKey(models.ChannelWebSocket, "chat-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, active := h.plans.Active(session.ID); active {
		t.Error("plan still active after the execution turn")
	}
	if last := h.planLog.last(t); last != models.PlanDone {
		t.Errorf("final persisted status = %s, want %s", last, models.PlanDone)
	}
}

func TestTurnResetCancelsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.scheduler.HandleIncoming(ctx, inbound("plan on"), Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.scheduler.HandleIncoming(ctx, inbound("reset"), Options{}); err != nil {
		t.Fatal(err)
	}

	session, err := h.store.GetByKey(ctx, models.SessionKey(models.ChannelWebSocket, "chat-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, active := h.plans.Active(session.ID); active {
		t.Error("reset left an active plan")
	}
	if !strings.Contains(h.sink.lastText(t), "Plan mode is off") {
		t.Errorf("reset reply: %q", h.sink.lastText(t))
	}
}

func TestTurnLLMBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.gate.Configure(infra.ScopeLLM, infra.BucketConfig{Capacity: 1, RefillPeriod: time.Hour})

	if _, err := h.scheduler.HandleIncoming(context.Background(), inbound("one"), Options{}); err != nil {
		t.Fatal(err)
	}
	turnCtx, err := h.scheduler.HandleIncoming(context.Background(), inbound("two"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if agent.KindOf(turnCtx.Err()) != agent.KindRateLimited {
		t.Errorf("second turn error = %v, want rate-limited kind", turnCtx.Err())
	}
}

func TestTurnApproveWithoutPlan(t *testing.T) {
	h := newHarness(t)
	if _, err := h.scheduler.HandleIncoming(context.Background(), inbound("approve"), Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.sink.lastText(t), "no plan") {
		t.Errorf("reply: %q", h.sink.lastText(t))
	}
}

func TestContextAttributes(t *testing.T) {
	turnCtx := NewContext(&models.Session{ID: "s1"}, inbound("x"), Options{AutoMode: true})

	turnCtx.Set(AttrModelTier, "fast")
	if turnCtx.GetString(AttrModelTier) != "fast" {
		t.Error("GetString failed")
	}
	if turnCtx.GetString(AttrLLMModel) != "" {
		t.Error("unset attribute not empty")
	}
	turnCtx.Set(AttrPlanApprovalNeeded, true)
	if !turnCtx.GetBool(AttrPlanApprovalNeeded) {
		t.Error("GetBool failed")
	}
	if !turnCtx.Options.AutoMode {
		t.Error("options lost")
	}
}
