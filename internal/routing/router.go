package routing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/embeddings"
	"github.com/relaybot/relay/internal/infra"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/skills"
	"github.com/relaybot/relay/pkg/models"
)

// Result is the router's verdict for one query.
type Result struct {
	Skill             string
	Confidence        float64
	ModelTier         string
	Reason            string
	LLMClassifierUsed bool
	Cached            bool
	NoMatch           bool
	Candidates        []Candidate
}

// Config tunes the hybrid router.
type Config struct {
	TopK              int
	MinScore          float32
	SkipThreshold     float32
	ClassifierEnabled bool
	Timeout           time.Duration
	CacheTTL          time.Duration
	CacheMaxSize      int
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		TopK:              5,
		MinScore:          0.30,
		SkipThreshold:     0.95,
		ClassifierEnabled: true,
		Timeout:           10 * time.Second,
		CacheTTL:          60 * time.Minute,
		CacheMaxSize:      1000,
	}
}

// Router matches queries to skills in two stages: semantic search over the
// embedding index, then an optional LLM classifier over the candidates.
type Router struct {
	index    *Index
	provider embeddings.Provider
	registry *skills.Registry
	llm      ClassifierLLM
	config   Config
	cache    *infra.TTLCache[string, Result]
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRouter creates a hybrid router. llm may be nil, which disables the
// classifier stage.
func NewRouter(index *Index, provider embeddings.Provider, registry *skills.Registry,
	llm ClassifierLLM, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		index:    index,
		provider: provider,
		registry: registry,
		llm:      llm,
		config:   cfg,
		cache: infra.NewTTLCache[string, Result](infra.CacheConfig{
			DefaultTTL: cfg.CacheTTL,
			MaxSize:    cfg.CacheMaxSize,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// CleanupCache drops expired routing cache entries.
func (r *Router) CleanupCache() int {
	return r.cache.Cleanup()
}

// Match routes a query. The whole match is bounded by the configured
// timeout; on expiry it returns a no-match result on the fast tier.
func (r *Router) Match(ctx context.Context, query string, recent []*models.Message) Result {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- r.match(ctx, query, recent) }()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		r.logger.Warn(ctx, "routing timed out", "query_len", len(query))
		return noMatch("timeout", TierFast)
	}
}

func (r *Router) match(ctx context.Context, query string, recent []*models.Message) Result {
	queryVec, err := r.provider.Embed(ctx, query)
	if err != nil {
		r.logger.Warn(ctx, "query embedding failed", "error", err)
		return r.classifyWithoutCandidates(ctx, query, recent, "embedding failed")
	}

	candidates := r.index.FindSimilar(queryVec, r.config.TopK, r.config.MinScore)

	key := cacheKey(query, candidates)
	if cached, ok := r.cache.Get(key); ok {
		cached.Cached = true
		r.metrics.ObserveRoutingCache("hit")
		return cached
	}
	r.metrics.ObserveRoutingCache("miss")

	result := r.decide(ctx, query, recent, candidates)
	r.cache.Set(key, result)
	return result
}

func (r *Router) decide(ctx context.Context, query string, recent []*models.Message, candidates []Candidate) Result {
	if len(candidates) == 0 {
		return r.classifyWithoutCandidates(ctx, query, recent, "no candidates")
	}
	top := candidates[0]

	if top.Score >= r.config.SkipThreshold {
		return Result{
			Skill:      top.Name,
			Confidence: float64(top.Score),
			ModelTier:  TierBalanced,
			Reason:     "high semantic confidence",
			Candidates: candidates,
		}
	}

	if !r.config.ClassifierEnabled || r.llm == nil {
		return Result{
			Skill:      top.Name,
			Confidence: float64(top.Score),
			ModelTier:  TierBalanced,
			Reason:     "semantic match",
			Candidates: candidates,
		}
	}

	reply, err := r.llm.Complete(ctx, classifierSystemPrompt, buildClassifierPrompt(query, candidates, recent))
	if err != nil {
		r.logger.Warn(ctx, "classifier call failed", "error", err)
		return semanticFallback(top, candidates)
	}
	parsed, err := parseClassification(reply)
	if err != nil || !candidateNamed(candidates, parsed.Skill) {
		return semanticFallback(top, candidates)
	}

	return Result{
		Skill:             parsed.Skill,
		Confidence:        parsed.Confidence,
		ModelTier:         NormalizeTier(parsed.ModelTier),
		Reason:            parsed.Reason,
		LLMClassifierUsed: true,
		Candidates:        candidates,
	}
}

// classifyWithoutCandidates runs the classifier over the full skill list
// with zero scores, purely to derive a model tier.
func (r *Router) classifyWithoutCandidates(ctx context.Context, query string, recent []*models.Message, reason string) Result {
	if !r.config.ClassifierEnabled || r.llm == nil {
		return noMatch(reason, TierBalanced)
	}

	var full []Candidate
	for _, skill := range r.registry.Available() {
		full = append(full, Candidate{Name: skill.Name, Description: skill.Description})
	}
	if len(full) == 0 {
		return noMatch(reason, TierBalanced)
	}

	reply, err := r.llm.Complete(ctx, classifierSystemPrompt, buildClassifierPrompt(query, full, recent))
	if err != nil {
		return noMatch(reason, TierBalanced)
	}
	parsed, err := parseClassification(reply)
	if err != nil {
		return noMatch(reason, TierBalanced)
	}

	out := noMatch(reason, NormalizeTier(parsed.ModelTier))
	out.LLMClassifierUsed = true
	return out
}

func semanticFallback(top Candidate, candidates []Candidate) Result {
	return Result{
		Skill:      top.Name,
		Confidence: float64(top.Score),
		ModelTier:  TierBalanced,
		Reason:     "semantic fallback",
		Candidates: candidates,
	}
}

func noMatch(reason, tier string) Result {
	return Result{NoMatch: true, ModelTier: tier, Reason: reason}
}

func candidateNamed(candidates []Candidate, name string) bool {
	for _, c := range candidates {
		if c.Name == name {
			return true
		}
	}
	return false
}

// cacheKey fingerprints a query together with the candidate name set, so a
// reindex that changes the candidates also changes the key.
func cacheKey(query string, candidates []Candidate) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	sort.Strings(names)
	return query + "|" + strings.Join(names, ",")
}
