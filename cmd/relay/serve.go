package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/internal/agent/providers"
	"github.com/relaybot/relay/internal/approval"
	"github.com/relaybot/relay/internal/channels"
	"github.com/relaybot/relay/internal/channels/telegram"
	wschannel "github.com/relaybot/relay/internal/channels/websocket"
	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/embeddings"
	openaiemb "github.com/relaybot/relay/internal/embeddings/openai"
	"github.com/relaybot/relay/internal/infra"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/plan"
	"github.com/relaybot/relay/internal/prompt"
	"github.com/relaybot/relay/internal/respond"
	"github.com/relaybot/relay/internal/routing"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/internal/tools"
	"github.com/relaybot/relay/internal/turn"
	"github.com/relaybot/relay/pkg/models"
)

func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)

	// Session store.
	var store sessions.Store
	var planPersister plan.Persister
	switch cfg.Sessions.Store {
	case "sqlite":
		sqlStore, err := sessions.NewSQLiteStore(cfg.Sessions.SQLitePath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore
		planPersister = sqlStore
	default:
		store = sessions.NewMemoryStore()
	}

	// Embeddings, skills, routing.
	emb, err := buildEmbeddings(cfg)
	if err != nil {
		return err
	}
	skillReg := skills.NewRegistry(log)
	index := routing.NewIndex(emb)
	skillReg.OnReload(func(ctx context.Context, loaded []*models.Skill) {
		if err := index.IndexSkills(ctx, loaded); err != nil {
			log.Warn(ctx, "skill reindex failed", "error", err)
		}
	})
	if err := skillReg.LoadDir(ctx, cfg.Skills.Dir); err != nil {
		log.Warn(ctx, "skill load failed", "dir", cfg.Skills.Dir, "error", err)
	}
	if cfg.Skills.Watch {
		if watcher, err := skills.NewWatcher(cfg.Skills.Dir, skillReg, log); err == nil {
			go watcher.Run(ctx)
		} else {
			log.Warn(ctx, "skill watcher unavailable", "error", err)
		}
	}

	// LLM providers and tiers.
	clients, err := buildClients(cfg)
	if err != nil {
		return err
	}
	selector := agent.NewStaticSelector(clients, cfg.LLM.ModelTiers)

	var classifier routing.ClassifierLLM
	if cfg.Routing.ClassifierEnabled {
		classifier = &tierClassifier{selector: selector}
	}
	router := routing.NewRouter(index, emb, skillReg, classifier, routing.Config{
		TopK:              cfg.Routing.TopK,
		MinScore:          float32(cfg.Routing.MinScore),
		SkipThreshold:     float32(cfg.Routing.SkipThreshold),
		ClassifierEnabled: cfg.Routing.ClassifierEnabled,
		Timeout:           cfg.Routing.Timeout,
		CacheTTL:          cfg.Routing.CacheTTL,
		CacheMaxSize:      cfg.Routing.CacheMaxSize,
	}, log, metrics)

	// Approval broker and channel adapters. The broker needs a presenter
	// and the adapters need the broker, so the presenter fans out to the
	// adapters registered after construction.
	presenter := &multiPresenter{}
	var broker *approval.Broker
	var confirmer agent.Confirmer
	var wsResolver wschannel.ConfirmationResolver
	var tgResolver telegram.ConfirmationResolver
	if cfg.Approval.Enabled {
		broker = approval.NewBroker(presenter, cfg.Approval.Timeout, log)
		confirmer = broker
		wsResolver = broker
		tgResolver = broker
	}

	responder := respond.NewRouter(log)
	channelReg := channels.NewRegistry()

	wsServer := wschannel.NewServer(wsResolver, log)
	if cfg.Channels.WebSocket.Enabled {
		channelReg.Register(wsServer)
		responder.Register(wsServer)
		presenter.add(wsServer)
	}
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.NewAdapter(telegram.Config{Token: cfg.Channels.Telegram.BotToken}, tgResolver, log)
		if err != nil {
			return err
		}
		channelReg.Register(tg)
		responder.Register(tg)
		presenter.add(tg)
	}

	// Agent pipeline.
	gate := infra.NewRateGate(infra.GateConfig{
		User:    infra.BucketConfig{Capacity: cfg.RateLimit.User.Capacity, RefillPeriod: cfg.RateLimit.User.RefillPeriod},
		Channel: infra.BucketConfig{Capacity: cfg.RateLimit.Channel.Capacity, RefillPeriod: cfg.RateLimit.Channel.RefillPeriod},
		LLM:     infra.BucketConfig{Capacity: cfg.RateLimit.LLM.Capacity, RefillPeriod: cfg.RateLimit.LLM.RefillPeriod},
	})
	plans := plan.NewRegistry(planPersister)
	toolReg := agent.NewRegistry()
	if err := tools.RegisterBuiltins(toolReg, tools.ShellConfig{
		Enabled: cfg.Tools.Shell.Enabled,
		Timeout: cfg.Tools.Shell.Timeout,
		WorkDir: cfg.Tools.Shell.WorkDir,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	executor := agent.NewExecutor(toolReg, confirmer, agent.ExecutorConfig{
		MaxParallel:  cfg.Agent.ToolMaxParallel,
		Timeout:      cfg.Agent.ToolTimeout,
		MaxRetries:   cfg.Agent.ToolMaxRetries,
		FailClosed:   cfg.Approval.FailClosed,
		RetryBackoff: time.Second,
	}, log, metrics)
	loop := agent.NewLoop(selector, executor, plan.NewInterceptor(plans), gate, agent.LoopConfig{
		MaxIterations:  cfg.Agent.MaxIterations,
		LLMTimeout:     cfg.Agent.LLMTimeout,
		MaxInputTokens: cfg.Agent.MaxInputTokens,
	}, log, metrics)

	var compactor *agent.Compactor
	if client, model, err := selector.Select("fast"); err == nil {
		summarizer := agent.NewLLMSummarizer(client, model)
		compactor = agent.NewCompactor(summarizer, cfg.Agent.CompactionMaxTokens, cfg.Agent.CompactionKeepLast, log)
	}

	bus := infra.NewBus()
	scheduler := turn.NewScheduler(turn.SchedulerDeps{
		Gate:      gate,
		Store:     store,
		Locker:    sessions.NewLocker(),
		Router:    router,
		Skills:    skillReg,
		Builder:   prompt.NewBuilder(skillReg),
		Plans:     plans,
		Loop:      loop,
		Compactor: compactor,
		Tools:     toolReg,
		Responder: responder,
		Bus:       bus,
		Log:       log,
		Metrics:   metrics,
	}, turn.SchedulerConfig{
		Timeout:    cfg.Turn.Timeout,
		BasePrompt: cfg.Turn.BasePrompt,
	})

	// Maintenance: confirmation sweeper and routing cache cleanup.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 1m", func() {
		if broker != nil {
			broker.Sweep()
		}
		router.CleanupCache()
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	// HTTP surfaces.
	var servers []*http.Server
	if cfg.Channels.WebSocket.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/ws", wsServer)
		servers = append(servers, &http.Server{Addr: cfg.Channels.WebSocket.Addr, Handler: mux})
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: mux})
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "http server failed", "addr", srv.Addr, "error", err)
			}
		}(srv)
	}

	if err := channelReg.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	// Inbound pump: every message becomes a turn. Per-session ordering is
	// enforced by the scheduler's session locks.
	go func() {
		for msg := range channelReg.AggregateMessages(ctx) {
			go func(msg *models.Message) {
				if _, err := scheduler.HandleIncoming(ctx, msg, turn.Options{}); err != nil {
					log.Error(ctx, "turn failed", "chat_id", msg.ChatID, "error", err)
				}
			}(msg)
		}
	}()

	log.Info(ctx, "relay started",
		"store", cfg.Sessions.Store,
		"telegram", cfg.Channels.Telegram.Enabled,
		"websocket", cfg.Channels.WebSocket.Enabled)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := channelReg.StopAll(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "channel shutdown incomplete", "error", err)
	}
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildEmbeddings(cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "openai", "":
		return openaiemb.New(openaiemb.Config{
			APIKey:  cfg.Embeddings.APIKey,
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

func buildClients(cfg *config.Config) (map[string]agent.Client, error) {
	clients := make(map[string]agent.Client, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			client, err := providers.NewAnthropic(providers.AnthropicConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			clients[name] = client
		case "openai":
			client, err := providers.NewOpenAI(providers.OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			clients[name] = client
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", name)
		}
	}
	if len(clients) == 0 {
		return nil, errors.New("no LLM providers configured")
	}
	return clients, nil
}

// tierClassifier adapts the fast model tier to the router's classifier port.
type tierClassifier struct {
	selector agent.ModelSelector
}

func (c *tierClassifier) Complete(ctx context.Context, system, user string) (string, error) {
	client, model, err := c.selector.Select("fast")
	if err != nil {
		return "", err
	}
	resp, err := client.Complete(ctx, &agent.Request{
		Model:     model,
		System:    system,
		Messages:  []*models.Message{{Role: models.RoleUser, Content: user}},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// multiPresenter fans a confirmation prompt out to the channel adapters.
// Each adapter rejects chat ids that are not its own, so the first success
// wins.
type multiPresenter struct {
	presenters []approval.Presenter
}

func (m *multiPresenter) add(p approval.Presenter) {
	m.presenters = append(m.presenters, p)
}

func (m *multiPresenter) PresentConfirmation(ctx context.Context, chatID string, prompt approval.ConfirmationPrompt) error {
	var lastErr error
	for _, p := range m.presenters {
		if err := p.PresentConfirmation(ctx, chatID, prompt); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no confirmation presenter available")
	}
	return lastErr
}
