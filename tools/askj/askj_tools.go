// Package askj provides agent tools for researching hosted ASKJIMMY agents:
// public listings, performance detail, recent trades and the caller's own
// agent profiles.
package askj

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/perp-agents/core"
	api "github.com/phenomenon0/perp-agents/pkg/askj"
)

const RiskClassReadOnly = "read-only"

// ListAgentsTool lists public agents.
type ListAgentsTool struct {
	client *api.Client
}

type ListAgentsInput struct {
	Owner          string `json:"owner"`
	IsBacktestOnly *bool  `json:"is_backtest_only"`
	Limit          int    `json:"limit"` // Max results (default 20)
}

type ListAgentsOutput struct {
	Agents []AgentSummary `json:"agents"`
	Count  int            `json:"count"`
}

type AgentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Timeframe   string `json:"timeframe"`
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	Vault       string `json:"vault,omitempty"`
	Performance any    `json:"performance,omitempty"`
}

func NewListAgentsTool(client *api.Client) *ListAgentsTool {
	return &ListAgentsTool{client: client}
}

func (t *ListAgentsTool) Name() string {
	return "askj_list_agents"
}

func (t *ListAgentsTool) Description() string {
	return "List public ASKJIMMY trading agents with their status and performance metrics."
}

func (t *ListAgentsTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"owner": {"type": "string", "description": "Filter by owner public key"},
			"is_backtest_only": {"type": "boolean", "description": "Filter by backtest-only agents"},
			"limit": {"type": "integer", "description": "Maximum number of results (default 20)", "maximum": 100}
		}
	}`)
}

func (t *ListAgentsTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input ListAgentsInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, 30*time.Second)
	defer cancel()

	agents, err := t.client.ListAgents(ctx, &api.ListFilter{
		Owner:          input.Owner,
		IsBacktestOnly: input.IsBacktestOnly,
	})
	if err != nil {
		return errorResult(fmt.Errorf("list agents failed: %w", err))
	}

	summaries := make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		s := AgentSummary{
			ID:        a.ID,
			Name:      a.Profile.AgentName,
			Symbol:    a.Profile.Symbol,
			Timeframe: a.Profile.Timeframe,
			Status:    a.Status.Status,
			Owner:     a.Owner,
		}
		if a.Vault != nil {
			s.Vault = a.Vault.Address
		}
		// Vault performance wins over simulated when both exist.
		switch {
		case len(a.PerformanceVault) > 0:
			s.Performance = a.PerformanceVault
		case len(a.PerformanceSimulate) > 0:
			s.Performance = a.PerformanceSimulate
		}
		summaries = append(summaries, s)

		if len(summaries) >= input.Limit {
			break
		}
	}

	return core.Complete(ListAgentsOutput{Agents: summaries, Count: len(summaries)})
}

// AgentPerformanceTool fetches an agent's trading records and memories.
type AgentPerformanceTool struct {
	client *api.Client
}

type AgentPerformanceInput struct {
	AgentID string `json:"agent_id"`
	LastK   int    `json:"last_k"`
}

func NewAgentPerformanceTool(client *api.Client) *AgentPerformanceTool {
	return &AgentPerformanceTool{client: client}
}

func (t *AgentPerformanceTool) Name() string {
	return "askj_agent_performance"
}

func (t *AgentPerformanceTool) Description() string {
	return "Fetch an ASKJIMMY agent's simulated and vault trading records with its stored reasoning."
}

func (t *AgentPerformanceTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "Agent id"},
			"last_k": {"type": "integer", "description": "Only return the last k records"}
		},
		"required": ["agent_id"]
	}`)
}

func (t *AgentPerformanceTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input AgentPerformanceInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}
	if input.AgentID == "" {
		return errorResult(fmt.Errorf("agent_id is required"))
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, 30*time.Second)
	defer cancel()

	perf, err := t.client.Performance(ctx, input.AgentID, input.LastK)
	if err != nil {
		return errorResult(fmt.Errorf("agent performance failed: %w", err))
	}
	return core.Complete(perf)
}

// LastTradesTool fetches an agent's most recent trades.
type LastTradesTool struct {
	client *api.Client
}

type LastTradesInput struct {
	AgentID     string `json:"agent_id"`
	K           *int   `json:"k"`
	Since       *int64 `json:"time"`
	IsSimulated *bool  `json:"is_simulated"`
}

func NewLastTradesTool(client *api.Client) *LastTradesTool {
	return &LastTradesTool{client: client}
}

func (t *LastTradesTool) Name() string {
	return "askj_last_trades"
}

func (t *LastTradesTool) Description() string {
	return "Fetch the most recent trades and reasoning of an ASKJIMMY agent."
}

func (t *LastTradesTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "Agent id"},
			"k": {"type": "integer", "description": "Number of trades to return"},
			"time": {"type": "integer", "description": "Only trades after this unix timestamp"},
			"is_simulated": {"type": "boolean", "description": "Simulated trades when true, vault trades when false"}
		},
		"required": ["agent_id"]
	}`)
}

func (t *LastTradesTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input LastTradesInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}
	if input.AgentID == "" {
		return errorResult(fmt.Errorf("agent_id is required"))
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, 30*time.Second)
	defer cancel()

	trades, err := t.client.LastTrades(ctx, input.AgentID, &api.LastTradesFilter{
		IsSimulated: input.IsSimulated,
		Since:       input.Since,
		LastK:       input.K,
	})
	if err != nil {
		return errorResult(fmt.Errorf("last trades failed: %w", err))
	}
	return core.Complete(trades)
}

// AgentProfileTool fetches the profile of an agent the configured key owns.
type AgentProfileTool struct {
	client *api.Client
}

type AgentProfileInput struct {
	AgentID string `json:"agent_id"`
}

func NewAgentProfileTool(client *api.Client) *AgentProfileTool {
	return &AgentProfileTool{client: client}
}

func (t *AgentProfileTool) Name() string {
	return "askj_agent_profile"
}

func (t *AgentProfileTool) Description() string {
	return "Fetch the profile, status and vault of an ASKJIMMY agent owned by this agent's key."
}

func (t *AgentProfileTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string", "description": "Agent id"}
		},
		"required": ["agent_id"]
	}`)
}

func (t *AgentProfileTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input AgentProfileInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}
	if input.AgentID == "" {
		return errorResult(fmt.Errorf("agent_id is required"))
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, 30*time.Second)
	defer cancel()

	detail, err := t.client.Profile(ctx, input.AgentID)
	if err != nil {
		return errorResult(fmt.Errorf("agent profile failed: %w", err))
	}
	// API keys stay out of model context.
	detail.Secret = nil
	return core.Complete(detail)
}

func errorResult(err error) *core.ToolExecResult {
	return &core.ToolExecResult{
		Status: core.ToolFailed,
		Error:  err.Error(),
	}
}

// RegisterTools registers all ASKJIMMY tools with the registry.
func RegisterTools(registry *core.ToolRegistry, client *api.Client) {
	policy := core.ToolPolicy{
		DefaultTimeout:  30 * time.Second,
		RateLimitPerSec: 5.0,
		Burst:           10,
		LimitKey:        "askj",
	}

	registry.Register(NewListAgentsTool(client), policy, RiskClassReadOnly)
	registry.Register(NewAgentPerformanceTool(client), policy, RiskClassReadOnly)
	registry.Register(NewLastTradesTool(client), policy, RiskClassReadOnly)
	registry.Register(NewAgentProfileTool(client), policy, RiskClassReadOnly)
}
