package infra

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when a bucket has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Scope identifies a rate-limit bucket family.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
	ScopeLLM     Scope = "llm"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// BucketConfig configures one bucket scope.
type BucketConfig struct {
	// Capacity is the maximum token count (burst size).
	Capacity int
	// RefillPeriod is the time to refill the bucket from empty to full.
	RefillPeriod time.Duration
}

func (c BucketConfig) ratePerSecond() float64 {
	if c.Capacity <= 0 || c.RefillPeriod <= 0 {
		return 0
	}
	return float64(c.Capacity) / c.RefillPeriod.Seconds()
}

// tokenBucket is a single token bucket. Refill is computed lazily from the
// elapsed time on every check, so no background goroutine is needed.
type tokenBucket struct {
	mu       sync.Mutex
	config   BucketConfig
	tokens   float64
	lastTime time.Time
}

func newTokenBucket(config BucketConfig, now time.Time) *tokenBucket {
	if config.Capacity <= 0 {
		config.Capacity = 1
	}
	if config.RefillPeriod <= 0 {
		config.RefillPeriod = time.Second
	}
	return &tokenBucket{
		config:   config,
		tokens:   float64(config.Capacity), // start full
		lastTime: now,
	}
}

// tryConsume takes one token if available. When denied it reports how long
// until one token becomes available.
func (tb *tokenBucket) tryConsume(now time.Time) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= 1 {
		tb.tokens--
		return Decision{Allowed: true}
	}
	rate := tb.config.ratePerSecond()
	if rate <= 0 {
		return Decision{Allowed: false, RetryAfter: tb.config.RefillPeriod}
	}
	needed := 1 - tb.tokens
	wait := time.Duration(needed / rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: wait}
}

// refill adds tokens based on elapsed time. Must be called with mu held.
// tokens never exceeds capacity.
func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.lastTime = now
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.config.ratePerSecond()
	if limit := float64(tb.config.Capacity); tb.tokens > limit {
		tb.tokens = limit
	}
}

func (tb *tokenBucket) available(now time.Time) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(now)
	return int(tb.tokens)
}

// RateGate is the admission-control gate over user, channel, and provider
// buckets. Buckets are built lazily per (scope, key) and rebuilt atomically
// when the configured capacity or period changes between calls. Checks never
// block; a denied turn is short-circuited with a user-visible error.
type RateGate struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	configs map[Scope]BucketConfig
	clock   func() time.Time
}

// GateConfig holds the per-scope bucket configurations.
type GateConfig struct {
	User    BucketConfig
	Channel BucketConfig
	LLM     BucketConfig
}

// DefaultGateConfig returns permissive defaults suitable for a single user.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		User:    BucketConfig{Capacity: 30, RefillPeriod: time.Minute},
		Channel: BucketConfig{Capacity: 60, RefillPeriod: time.Minute},
		LLM:     BucketConfig{Capacity: 120, RefillPeriod: time.Minute},
	}
}

// NewRateGate creates a gate with the given per-scope configuration.
func NewRateGate(config GateConfig) *RateGate {
	return &RateGate{
		buckets: make(map[string]*tokenBucket),
		configs: map[Scope]BucketConfig{
			ScopeUser:    config.User,
			ScopeChannel: config.Channel,
			ScopeLLM:     config.LLM,
		},
		clock: time.Now,
	}
}

// SetClock overrides the time source. Primarily for testing.
func (g *RateGate) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

// Configure replaces the configuration for a scope. Existing buckets in the
// scope are rebuilt on their next check.
func (g *RateGate) Configure(scope Scope, config BucketConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configs[scope] = config
}

// TryConsume takes one token from the (scope, key) bucket.
func (g *RateGate) TryConsume(scope Scope, key string) Decision {
	g.mu.Lock()
	now := g.clock()
	id := string(scope) + ":" + key
	want := g.configs[scope]
	bucket, ok := g.buckets[id]
	if !ok || bucket.config != want {
		// Lazy construction, and atomic rebuild on configuration change.
		bucket = newTokenBucket(want, now)
		g.buckets[id] = bucket
	}
	g.mu.Unlock()

	return bucket.tryConsume(now)
}

// TryConsumeUser checks the global user bucket.
func (g *RateGate) TryConsumeUser() Decision {
	return g.TryConsume(ScopeUser, "global")
}

// TryConsumeChannel checks the bucket for a channel type.
func (g *RateGate) TryConsumeChannel(channelType string) Decision {
	return g.TryConsume(ScopeChannel, channelType)
}

// TryConsumeLLM checks the bucket for an LLM provider.
func (g *RateGate) TryConsumeLLM(providerID string) Decision {
	return g.TryConsume(ScopeLLM, providerID)
}

// Available returns the token count for a (scope, key) bucket, or the full
// configured capacity if the bucket was never used.
func (g *RateGate) Available(scope Scope, key string) int {
	g.mu.Lock()
	bucket, ok := g.buckets[string(scope)+":"+key]
	config := g.configs[scope]
	now := g.clock()
	g.mu.Unlock()

	if !ok {
		return config.Capacity
	}
	return bucket.available(now)
}
