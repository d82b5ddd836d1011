// Package drift provides agent tools for trading Drift perpetuals through an
// execution engine: single orders, TWAP, VWAP and trailing-stop runs,
// position queries and deposit/withdraw instruction data.
package drift

import (
	"time"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/pkg/execution"
	"github.com/phenomenon0/perp-agents/pkg/solana"
)

// Risk classes for tool registration.
const (
	RiskClassReadOnly = "read-only" // No account changes
	RiskClassTrading  = "trading"   // Places or cancels orders
	RiskClassHighRisk = "high-risk" // Starts background runs that keep trading
)

// toolTimeout bounds a single tool call. Strategy runs outlive it.
const toolTimeout = 60 * time.Second

func errorResult(err error) *core.ToolExecResult {
	return &core.ToolExecResult{
		Status: core.ToolFailed,
		Error:  err.Error(),
	}
}

var readPolicy = core.ToolPolicy{
	DefaultTimeout:  toolTimeout,
	RateLimitPerSec: 5.0,
	Burst:           10,
	LimitKey:        "drift-read",
}

// RegisterReadOnlyTools registers tools that only read exchange state.
func RegisterReadOnlyTools(registry *core.ToolRegistry, engine *execution.Engine) {
	policy := readPolicy

	registry.Register(NewDriftInfoTool(engine), policy, RiskClassReadOnly)
	registry.Register(NewGetOpenPositionsTool(engine), policy, RiskClassReadOnly)
	registry.Register(NewDepositTool(), policy, RiskClassReadOnly)
	registry.Register(NewWithdrawTool(), policy, RiskClassReadOnly)
}

// RegisterTradingTools registers tools that submit orders or start runs.
// WARNING: these tools move funds.
func RegisterTradingTools(registry *core.ToolRegistry, engine *execution.Engine) {
	// Strict rate limiting for trading
	tradingPolicy := core.ToolPolicy{
		DefaultTimeout:  toolTimeout,
		RateLimitPerSec: 1.0,
		Burst:           2,
		LimitKey:        "drift-trading",
		BudgetPerDay:    200,
		CostPerCall:     1,
	}

	registry.Register(NewPlacePerpOrdersTool(engine), tradingPolicy, RiskClassTrading)
	registry.Register(NewClosePositionTool(engine), tradingPolicy, RiskClassTrading)
	registry.Register(NewStopStrategyTool(engine), tradingPolicy, RiskClassTrading)
	registry.Register(NewCancelOrdersTool(engine), tradingPolicy, RiskClassTrading)

	strategyPolicy := tradingPolicy
	strategyPolicy.CostPerCall = 5

	registry.Register(NewTWAPTool(engine), strategyPolicy, RiskClassHighRisk)
	registry.Register(NewVWAPTool(engine), strategyPolicy, RiskClassHighRisk)
	registry.Register(NewTrailingStopTool(engine), strategyPolicy, RiskClassHighRisk)
}

// RegisterVaultTool registers drift_vault_info under the read-only limits.
// vault is the default address and may be zero.
func RegisterVaultTool(registry *core.ToolRegistry, accounts AccountReader, vault solana.PublicKey) {
	registry.Register(NewVaultInfoTool(accounts, vault), readPolicy, RiskClassReadOnly)
}

// RegisterAll registers every exchange tool.
func RegisterAll(registry *core.ToolRegistry, engine *execution.Engine) {
	RegisterReadOnlyTools(registry, engine)
	RegisterTradingTools(registry, engine)
}
