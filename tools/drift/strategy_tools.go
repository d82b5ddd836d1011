package drift

import (
	"context"
	"fmt"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/pkg/execution"
)

// StrategyOutput reports a started or already running strategy.
type StrategyOutput struct {
	Message string                  `json:"message"`
	Run     *execution.RunSnapshot  `json:"run,omitempty"`
	Runs    []execution.RunSnapshot `json:"runs,omitempty"`
}

func startedOutput(kind string, res *execution.StartResult) StrategyOutput {
	run := res.Run
	if res.Existing {
		return StrategyOutput{
			Message: fmt.Sprintf("A %s run is already active (id %s, %d/%d done). No new run was started.",
				kind, run.ID, run.Progress, run.Total),
			Run: &run,
		}
	}
	return StrategyOutput{
		Message: fmt.Sprintf("Started %s run %s on %s.", kind, run.ID, run.Market),
		Run:     &run,
	}
}

// TWAPTool splits orders into equal slices executed over time.
type TWAPTool struct {
	engine *execution.Engine
}

type TWAPInput struct {
	Orders []execution.TWAPRequest `json:"twap_orders"`
}

func NewTWAPTool(engine *execution.Engine) *TWAPTool {
	return &TWAPTool{engine: engine}
}

func (t *TWAPTool) Name() string {
	return "drift_twap_orders"
}

func (t *TWAPTool) Description() string {
	return "Execute TWAP orders on Drift perps: each order is split into equal slices placed at a fixed interval in the background. Returns the run id immediately, or the active run's progress if one is already running."
}

func (t *TWAPTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"twap_orders": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"market_index": {"type": "integer", "description": "The market index for the perp trade"},
						"total_amount": {"type": "integer", "description": "Total base units to trade, signed: positive buys, negative sells"},
						"total_duration_secs": {"type": "integer", "description": "Duration over which to execute the TWAP"},
						"interval_secs": {"type": "integer", "description": "Seconds between slices"},
						"order_type": {"type": "string", "enum": ["market", "limit"], "description": "Slice order type (default market)"}
					},
					"required": ["market_index", "total_amount", "total_duration_secs", "interval_secs"]
				}
			}
		},
		"required": ["twap_orders"]
	}`)
}

func (t *TWAPTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input TWAPInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	res, err := t.engine.StartTWAP(tc.Ctx, input.Orders)
	if err != nil {
		return errorResult(fmt.Errorf("start twap: %w", err))
	}
	return core.Complete(startedOutput("TWAP", res))
}

// VWAPTool starts, stops or reports VWAP runs.
type VWAPTool struct {
	engine *execution.Engine
}

func NewVWAPTool(engine *execution.Engine) *VWAPTool {
	return &VWAPTool{engine: engine}
}

func (t *VWAPTool) Name() string {
	return "drift_vwap_orders"
}

func (t *VWAPTool) Description() string {
	return "Execute VWAP orders on Drift perps with an optional warm-up and run duration. Called with no arguments it returns the state of existing VWAP runs; stop_signal stops them."
}

func (t *VWAPTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"market_index": {"type": "integer", "description": "The market index for the perp trade"},
			"size_per_order": {"type": "integer", "description": "Base units per order, signed: positive buys, negative sells"},
			"timeframe": {"type": "integer", "description": "Seconds between VWAP recalculations (default 10)"},
			"history_warm_up": {"type": "integer", "description": "Number of intervals to observe before trading (default 5)"},
			"stop_signal": {"type": "boolean", "description": "Stop all running VWAP strategies"},
			"duration_secs": {"type": "integer", "description": "How long to run in seconds. Runs until stopped when omitted"}
		}
	}`)
}

func (t *VWAPTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input execution.VWAPRequest
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	switch {
	case input.IsStop():
		stopped := t.engine.StopVWAP()
		return core.Complete(StrategyOutput{
			Message: fmt.Sprintf("Stop requested for %d VWAP runs.", len(stopped)),
			Runs:    stopped,
		})
	case input.IsQuery():
		runs := t.engine.QueryVWAP()
		msg := fmt.Sprintf("%d VWAP runs tracked.", len(runs))
		if len(runs) == 0 {
			msg = "No VWAP runs."
		}
		return core.Complete(StrategyOutput{Message: msg, Runs: runs})
	}

	res, err := t.engine.StartVWAP(tc.Ctx, input)
	if err != nil {
		return errorResult(fmt.Errorf("start vwap: %w", err))
	}
	return core.Complete(startedOutput("VWAP", res))
}

// TrailingStopTool opens a position guarded by a trailing stop.
type TrailingStopTool struct {
	engine *execution.Engine
}

func NewTrailingStopTool(engine *execution.Engine) *TrailingStopTool {
	return &TrailingStopTool{engine: engine}
}

func (t *TrailingStopTool) Name() string {
	return "drift_trailing_stop_orders"
}

func (t *TrailingStopTool) Description() string {
	return "Open a perp position on Drift and close it with a market order once price retraces by the trailing percentage from its best level. Returns the active run if one is already running."
}

func (t *TrailingStopTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"market_index": {"type": "integer", "description": "The market index for the perp trade"},
			"position_type": {"type": "string", "enum": ["long", "short"], "description": "Position side"},
			"total_amount": {"type": "integer", "description": "Position size in base units"},
			"trailing_stop_percentage": {"type": "number", "description": "Retracement in percent that triggers the close (default 5)"},
			"entry_price": {"type": "number", "description": "Reference entry price in USD. The oracle price is used when omitted"}
		},
		"required": ["market_index", "position_type", "total_amount"]
	}`)
}

func (t *TrailingStopTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input execution.TrailingStopRequest
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	res, err := t.engine.StartTrailingStop(tc.Ctx, input)
	if err != nil {
		return errorResult(fmt.Errorf("start trailing stop: %w", err))
	}
	return core.Complete(startedOutput("trailing stop", res))
}

// StopStrategyTool stops a background run by id, or lists runs.
type StopStrategyTool struct {
	engine *execution.Engine
}

type StopStrategyInput struct {
	RunID string `json:"run_id"`
	// CancelOpenOrders also cancels every resting order on the sub-account
	// once the run is stopped.
	CancelOpenOrders bool `json:"cancel_open_orders"`
}

func NewStopStrategyTool(engine *execution.Engine) *StopStrategyTool {
	return &StopStrategyTool{engine: engine}
}

func (t *StopStrategyTool) Name() string {
	return "drift_stop_strategy"
}

func (t *StopStrategyTool) Description() string {
	return "Stop a running TWAP, VWAP or trailing-stop run by id. Without run_id, list every run."
}

func (t *StopStrategyTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"run_id": {"type": "string", "description": "Id of the run to stop"},
			"cancel_open_orders": {"type": "boolean", "description": "Also cancel every resting order, such as unfilled VWAP or TWAP limit orders (default false)"}
		}
	}`)
}

func (t *StopStrategyTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input StopStrategyInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	if input.RunID == "" {
		runs := t.engine.Runs()
		return core.Complete(StrategyOutput{
			Message: fmt.Sprintf("%d runs tracked.", len(runs)),
			Runs:    runs,
		})
	}

	run, err := t.engine.StopRun(input.RunID)
	if err != nil {
		return errorResult(err)
	}
	msg := fmt.Sprintf("Stop requested for %s run %s (status %s).", run.Kind, run.ID, run.Status)

	if input.CancelOpenOrders {
		tx, err := cancelOpenOrders(tc.Ctx, t.engine, t.Name())
		if err != nil {
			return errorResult(fmt.Errorf("%s Cancel open orders failed: %w", msg, err))
		}
		msg += fmt.Sprintf(" Open orders cancelled (tx %s).", tx)
	}
	return core.Complete(StrategyOutput{
		Message: msg,
		Run:     &run,
	})
}

func cancelOpenOrders(ctx context.Context, engine *execution.Engine, source string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	var tx string
	err := engine.Do(ctx, source, func(x *execution.Executor) error {
		id, err := x.CancelAllOrders(ctx)
		tx = id
		return err
	})
	return tx, err
}

// CancelOrdersTool cancels every resting order on the sub-account.
type CancelOrdersTool struct {
	engine *execution.Engine
}

type CancelOrdersOutput struct {
	TxID    string `json:"tx_id"`
	Message string `json:"message"`
}

func NewCancelOrdersTool(engine *execution.Engine) *CancelOrdersTool {
	return &CancelOrdersTool{engine: engine}
}

func (t *CancelOrdersTool) Name() string {
	return "drift_cancel_all_orders"
}

func (t *CancelOrdersTool) Description() string {
	return "Cancel every open order on the Drift sub-account. Background runs keep going; stop them with drift_stop_strategy."
}

func (t *CancelOrdersTool) InputSchema() []byte {
	return []byte(`{"type": "object", "properties": {}}`)
}

func (t *CancelOrdersTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	tx, err := cancelOpenOrders(tc.Ctx, t.engine, t.Name())
	if err != nil {
		return errorResult(err)
	}
	return core.Complete(CancelOrdersOutput{
		TxID:    tx,
		Message: fmt.Sprintf("Open orders cancelled. Transaction: %s", tx),
	})
}
