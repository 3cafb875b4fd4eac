// Package turn schedules inbound messages through the fixed turn pipeline.
package turn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/pkg/models"
)

// AttributeKey names a slot on the turn context. Stages communicate only
// through these attributes.
type AttributeKey string

const (
	AttrLLMResponse        AttributeKey = "LLM_RESPONSE"
	AttrLLMError           AttributeKey = "LLM_ERROR"
	AttrLLMToolCalls       AttributeKey = "LLM_TOOLCALLS"
	AttrRoutingResult      AttributeKey = "ROUTING_RESULT"
	AttrActiveSkill        AttributeKey = "ACTIVE_SKILL"
	AttrModelTier          AttributeKey = "MODEL_TIER"
	AttrOutgoingResponse   AttributeKey = "OUTGOING_RESPONSE"
	AttrPlanApprovalNeeded AttributeKey = "PLAN_APPROVAL_NEEDED"
	AttrLLMModel           AttributeKey = "LLM_MODEL"
	AttrCurrentIteration   AttributeKey = "CURRENT_ITERATION"
)

// Options adjusts how a single turn is processed.
type Options struct {
	// AutoMode marks machine-driven turns; they skip the feedback
	// guarantee so silence stays silent.
	AutoMode bool
}

// Context is the per-turn record threaded through the pipeline stages.
type Context struct {
	TurnID    string
	Session   *models.Session
	Incoming  *models.Message
	Options   Options
	StartedAt time.Time

	mu    sync.RWMutex
	attrs map[AttributeKey]any
}

// NewContext creates a turn context for one inbound message.
func NewContext(session *models.Session, incoming *models.Message, opts Options) *Context {
	return &Context{
		TurnID:    uuid.NewString(),
		Session:   session,
		Incoming:  incoming,
		Options:   opts,
		StartedAt: time.Now(),
		attrs:     make(map[AttributeKey]any),
	}
}

// Set stores an attribute.
func (c *Context) Set(key AttributeKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}

// Get returns an attribute and whether it was set.
func (c *Context) Get(key AttributeKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// GetString returns a string attribute, or "" when unset or mistyped.
func (c *Context) GetString(key AttributeKey) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool returns a bool attribute, defaulting to false.
func (c *Context) GetBool(key AttributeKey) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Response returns the outgoing response attribute, if set.
func (c *Context) Response() *models.OutgoingResponse {
	v, ok := c.Get(AttrOutgoingResponse)
	if !ok {
		return nil
	}
	resp, _ := v.(*models.OutgoingResponse)
	return resp
}

// Err returns the turn error attribute, if set.
func (c *Context) Err() error {
	v, ok := c.Get(AttrLLMError)
	if !ok {
		return nil
	}
	err, _ := v.(error)
	return err
}
