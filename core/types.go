// Package core provides the tool contract and a registry that applies rate,
// timeout and budget policies to tool calls.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tool execution status constants.
const (
	ToolComplete = "complete"
	ToolFailed   = "failed"
	ToolCanceled = "canceled"
)

// ErrUnknownTool is returned for a name with no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a callable exposed to an agent.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns a JSON schema for the tool arguments.
	InputSchema() []byte
	Execute(tc *ToolContext) *ToolExecResult
}

// ToolContext carries context for tool execution.
type ToolContext struct {
	Ctx     context.Context
	Request *Message
}

// ToolExecResult is the result of a tool execution.
type ToolExecResult struct {
	Status   string         `json:"status"`
	Output   interface{}    `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message represents a message in the agent framework.
type Message struct {
	Role    string              `json:"role,omitempty"`
	Content string              `json:"content,omitempty"`
	ToolReq *ToolRequestPayload `json:"tool_req,omitempty"`
}

// ToolRequestPayload holds tool invocation data.
type ToolRequestPayload struct {
	Name     string          `json:"name,omitempty"`
	Input    any             `json:"input,omitempty"`
	InputRaw json.RawMessage `json:"input_raw,omitempty"`
}

// Decode unmarshals the request arguments into v. An empty request leaves v
// unchanged.
func (m *Message) Decode(v interface{}) error {
	if m == nil || m.ToolReq == nil {
		return fmt.Errorf("no tool request")
	}

	if len(m.ToolReq.InputRaw) > 0 {
		return json.Unmarshal(m.ToolReq.InputRaw, v)
	}

	if m.ToolReq.Input != nil {
		data, err := json.Marshal(m.ToolReq.Input)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, v)
	}

	return nil
}

// ToolPolicy defines rate limiting and budget policies for tools.
type ToolPolicy struct {
	DefaultTimeout  time.Duration `json:"default_timeout"`
	RateLimitPerSec float64       `json:"rate_limit_per_sec"`
	Burst           int           `json:"burst"`
	// LimitKey groups tools sharing one limiter and budget.
	LimitKey     string  `json:"limit_key"`
	BudgetPerDay float64 `json:"budget_per_day"`
	CostPerCall  float64 `json:"cost_per_call"`
}

// ToolDefinition describes a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	RiskClass   string          `json:"risk_class,omitempty"`
}

// Observer is called after every tool call.
type Observer func(name, status string, elapsed time.Duration)

type registeredTool struct {
	tool      Tool
	policy    ToolPolicy
	riskClass string
}

type budget struct {
	day   string
	spent float64
}

// ToolRegistry is a registry for tools with policies.
type ToolRegistry struct {
	mu       sync.Mutex
	tools    map[string]registeredTool
	limiters map[string]*rate.Limiter
	budgets  map[string]*budget
	observer Observer
	now      func() time.Time
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithObserver sets a callback invoked after every call.
func WithObserver(fn Observer) RegistryOption {
	return func(r *ToolRegistry) {
		r.observer = fn
	}
}

// WithClock replaces time.Now for budget days.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *ToolRegistry) {
		r.now = now
	}
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:    make(map[string]registeredTool),
		limiters: make(map[string]*rate.Limiter),
		budgets:  make(map[string]*budget),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers a tool with a policy and risk class. A later
// registration under the same name replaces the earlier one.
func (r *ToolRegistry) Register(tool Tool, policy ToolPolicy, riskClass string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[tool.Name()] = registeredTool{
		tool:      tool,
		policy:    policy,
		riskClass: riskClass,
	}

	key := policy.LimitKey
	if key == "" {
		key = tool.Name()
	}
	if _, ok := r.limiters[key]; !ok && policy.RateLimitPerSec > 0 {
		burst := policy.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiters[key] = rate.NewLimiter(rate.Limit(policy.RateLimitPerSec), burst)
	}
}

// Get returns a registered tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Definitions lists registered tools sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for name, rt := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: rt.tool.Description(),
			Parameters:  json.RawMessage(rt.tool.InputSchema()),
			RiskClass:   rt.riskClass,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name under its policy.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) *ToolExecResult {
	start := r.now()
	res := r.execute(ctx, name, input)
	if r.observer != nil {
		r.observer(name, res.Status, r.now().Sub(start))
	}
	return res
}

func (r *ToolRegistry) execute(ctx context.Context, name string, input json.RawMessage) *ToolExecResult {
	r.mu.Lock()
	rt, ok := r.tools[name]
	r.mu.Unlock()
	if !ok {
		return Failed(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	key := rt.policy.LimitKey
	if key == "" {
		key = name
	}

	if rt.policy.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.policy.DefaultTimeout)
		defer cancel()
	}

	refund, err := r.spend(key, rt.policy)
	if err != nil {
		return Failed(err)
	}

	r.mu.Lock()
	limiter := r.limiters[key]
	r.mu.Unlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			// The tool never ran, so the call is not charged.
			refund()
			return &ToolExecResult{Status: ToolCanceled, Error: fmt.Sprintf("rate limiter: %v", err)}
		}
	}

	res := rt.tool.Execute(&ToolContext{
		Ctx: ctx,
		Request: &Message{
			Role:    "tool",
			ToolReq: &ToolRequestPayload{Name: name, InputRaw: input},
		},
	})
	if res == nil {
		return Failed(fmt.Errorf("tool %s returned no result", name))
	}
	if res.Status == ToolFailed && ctx.Err() != nil {
		res.Status = ToolCanceled
	}
	return res
}

// spend charges one call against the key's daily budget. The returned func
// takes the charge back.
func (r *ToolRegistry) spend(key string, policy ToolPolicy) (func(), error) {
	if policy.BudgetPerDay <= 0 {
		return func() {}, nil
	}
	cost := policy.CostPerCall
	if cost <= 0 {
		cost = 1
	}

	day := r.now().UTC().Format("2006-01-02")

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.budgets[key]
	if !ok || b.day != day {
		b = &budget{day: day}
		r.budgets[key] = b
	}
	if b.spent+cost > policy.BudgetPerDay {
		return nil, fmt.Errorf("daily budget for %s exhausted (%.0f of %.0f)", key, b.spent, policy.BudgetPerDay)
	}
	b.spent += cost
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A rollover since the charge already reset the day.
		if r.budgets[key] == b {
			b.spent -= cost
		}
	}, nil
}

// Complete wraps output in a successful result.
func Complete(output interface{}) *ToolExecResult {
	return &ToolExecResult{Status: ToolComplete, Output: output}
}

// Failed wraps err in a failed result.
func Failed(err error) *ToolExecResult {
	return &ToolExecResult{Status: ToolFailed, Error: err.Error()}
}
