package drift

import (
	"context"
	"fmt"
	"strings"

	"github.com/phenomenon0/perp-agents/core"
	api "github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/execution"

	"github.com/shopspring/decimal"
)

// === Read-Only Tools ===

// DriftInfoTool reports a market's name and live oracle price.
type DriftInfoTool struct {
	engine *execution.Engine
}

type DriftInfoInput struct {
	MarketIndex *uint16 `json:"market_index"`
	Symbol      string  `json:"symbol"` // e.g. "SOL" or "BTC-PERP"
}

type DriftInfoOutput struct {
	MarketIndex uint16          `json:"market_index"`
	MarketType  api.MarketType  `json:"market_type"`
	Name        string          `json:"name"`
	OraclePrice decimal.Decimal `json:"oracle_price"`
	Raw         int64           `json:"oracle_price_raw"`
}

func NewDriftInfoTool(engine *execution.Engine) *DriftInfoTool {
	return &DriftInfoTool{engine: engine}
}

func (t *DriftInfoTool) Name() string {
	return "drift_info"
}

func (t *DriftInfoTool) Description() string {
	return "Fetch Drift perp market information by market index or symbol: market name and current oracle price."
}

func (t *DriftInfoTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"market_index": {"type": "integer", "description": "The index of the perp market"},
			"symbol": {"type": "string", "description": "Market symbol such as SOL or BTC-PERP, used when market_index is omitted"}
		}
	}`)
}

func (t *DriftInfoTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input DriftInfoInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	var market api.MarketID
	switch {
	case input.MarketIndex != nil:
		market = api.Perp(*input.MarketIndex)
	case input.Symbol != "":
		m, ok := api.LookupMarket(input.Symbol, api.MarketTypePerp)
		if !ok {
			return errorResult(fmt.Errorf("unknown market symbol %q", input.Symbol))
		}
		market = m
	default:
		return errorResult(fmt.Errorf("market_index or symbol is required"))
	}

	name, ok := api.MarketName(market)
	if !ok {
		return errorResult(fmt.Errorf("unknown perp market index %d", market.Index))
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, toolTimeout)
	defer cancel()

	var price int64
	err := t.engine.Do(ctx, t.Name(), func(x *execution.Executor) error {
		p, err := x.OraclePrice(ctx, market)
		price = p
		return err
	})
	if err != nil {
		return errorResult(err)
	}

	return core.Complete(DriftInfoOutput{
		MarketIndex: market.Index,
		MarketType:  market.Kind,
		Name:        name,
		OraclePrice: api.PriceToDecimal(price),
		Raw:         price,
	})
}

// GetOpenPositionsTool lists open perp positions, spot balances and orders.
type GetOpenPositionsTool struct {
	engine *execution.Engine
}

type GetOpenPositionsInput struct {
	MarketIndex  *uint16 `json:"market_index"`
	PositionType string  `json:"position_type"` // perp, spot, open_orders or both
}

func NewGetOpenPositionsTool(engine *execution.Engine) *GetOpenPositionsTool {
	return &GetOpenPositionsTool{engine: engine}
}

func (t *GetOpenPositionsTool) Name() string {
	return "get_open_positions"
}

func (t *GetOpenPositionsTool) Description() string {
	return "Retrieve open perp positions, spot balances and open orders on Drift. Use only when the user asks for position or order information, not for trade commands."
}

func (t *GetOpenPositionsTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"market_index": {"type": "integer", "description": "Filter by market index (optional)"},
			"position_type": {"type": "string", "enum": ["perp", "spot", "open_orders", "both"], "description": "Type of positions to retrieve (default: both)"}
		}
	}`)
}

func (t *GetOpenPositionsTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input GetOpenPositionsInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, toolTimeout)
	defer cancel()

	var text string
	var positions *execution.Positions
	err := t.engine.Do(ctx, t.Name(), func(x *execution.Executor) error {
		p, err := x.OpenPositions(ctx, execution.PositionFilter{
			MarketIndex: input.MarketIndex,
			Kind:        execution.PositionKind(input.PositionType),
		})
		if err != nil {
			return err
		}
		positions = p

		prices := make(map[uint16]int64, len(p.Perp))
		for _, pos := range p.Perp {
			// PnL is reported against zero when the oracle is unavailable.
			if price, err := x.OraclePrice(ctx, api.Perp(pos.MarketIndex)); err == nil {
				prices[pos.MarketIndex] = price
			}
		}
		text = FormatPositions(p, prices)
		return nil
	})
	if err != nil {
		return errorResult(err)
	}

	return &core.ToolExecResult{
		Status: core.ToolComplete,
		Output: text,
		Metadata: map[string]any{
			"perp_positions": len(positions.Perp),
			"spot_positions": len(positions.Spot),
			"open_orders":    len(positions.Orders),
		},
	}
}

// FormatPositions renders positions as the text shown to the agent. prices
// holds native oracle prices by perp market index.
func FormatPositions(p *execution.Positions, prices map[uint16]int64) string {
	perp := "**Perp Positions:**\n" + formatPerp(p.Perp, prices)
	spot := "**Spot Positions:**\n" + formatSpot(p.Spot)
	orders := "**Open Orders:**\n" + formatOrders(p.Orders)

	switch p.Kind {
	case execution.PositionPerp:
		return perp
	case execution.PositionSpot:
		return spot
	case execution.PositionOpenOrders:
		return orders
	default:
		return strings.Join([]string{perp, spot, orders}, "\n\n")
	}
}

func formatPerp(positions []api.PerpPosition, prices map[uint16]int64) string {
	if len(positions) == 0 {
		return "No open perpetual positions."
	}
	lines := make([]string, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, fmt.Sprintf(
			"- Market: %s\n  Base Amount: %s\n  Quote Amount: $%s\n  Unrealized PnL: $%s\n  Entry: $%s\n  Open Orders: %d\n",
			api.Perp(p.MarketIndex),
			api.BaseToDecimal(p.BaseAssetAmount),
			api.QuoteToDecimal(p.QuoteAssetAmount),
			api.QuoteToDecimal(p.UnrealizedPnL(prices[p.MarketIndex])),
			api.QuoteToDecimal(p.QuoteEntryAmount),
			p.OpenOrders,
		))
	}
	return strings.Join(lines, "\n")
}

func formatSpot(positions []api.SpotPosition) string {
	if len(positions) == 0 {
		return "No open spot positions."
	}
	lines := make([]string, 0, len(positions))
	for _, s := range positions {
		lines = append(lines, fmt.Sprintf(
			"- Market: %s\n  Balance: %s\n  Cumulative Deposits: %s\n  Open Orders: %d\n",
			api.Spot(s.MarketIndex),
			api.BaseToDecimal(int64(s.ScaledBalance)),
			api.QuoteToDecimal(s.CumulativeDeposits),
			s.OpenOrders,
		))
	}
	return strings.Join(lines, "\n")
}

func formatOrders(orders []api.Order) string {
	if len(orders) == 0 {
		return "No open orders."
	}
	lines := make([]string, 0, len(orders))
	for _, o := range orders {
		lines = append(lines, fmt.Sprintf(
			"- Market Type: %s\n  Market: %s\n  Order ID: %d\n  Type: %s\n  Status: %s\n  Price: %s\n  Base Amount: %s\n  Direction: %s\n",
			o.MarketType,
			api.MarketID{Index: o.MarketIndex, Kind: o.MarketType},
			o.OrderID,
			o.OrderType,
			o.Status,
			api.PriceToDecimal(int64(o.Price)),
			api.BaseToDecimal(int64(o.BaseAssetAmount)),
			o.Direction,
		))
	}
	return strings.Join(lines, "\n")
}

// === Trading Tools ===

// PlacePerpOrdersTool submits a perp order.
type PlacePerpOrdersTool struct {
	engine *execution.Engine
}

type PlacePerpOrdersInput struct {
	Orders []execution.OrderRequest `json:"orders"`
}

type PlacePerpOrdersOutput struct {
	TxID    string          `json:"tx_id"`
	Market  string          `json:"market"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price,omitempty"`
	Summary string          `json:"summary"`
}

func NewPlacePerpOrdersTool(engine *execution.Engine) *PlacePerpOrdersTool {
	return &PlacePerpOrdersTool{engine: engine}
}

func (t *PlacePerpOrdersTool) Name() string {
	return "drift_place_perp_orders"
}

func (t *PlacePerpOrdersTool) Description() string {
	return "Place a perp order on Drift. Every order in the list is validated but only the first one is submitted."
}

func (t *PlacePerpOrdersTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"orders": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"market_index": {"type": "integer", "description": "The market index for the perp trade"},
						"amount": {"type": "number", "description": "Order size in base asset units, signed: positive for long, negative for short"},
						"price": {"type": "number", "description": "Limit price in USD. Omit or 0 for a market order"},
						"post_only": {"type": "boolean", "description": "Whether the limit order should be post-only"}
					},
					"required": ["market_index", "amount"]
				}
			}
		},
		"required": ["orders"]
	}`)
}

func (t *PlacePerpOrdersTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input PlacePerpOrdersInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, toolTimeout)
	defer cancel()

	var res *execution.PlaceResult
	err := t.engine.Do(ctx, t.Name(), func(x *execution.Executor) error {
		r, err := x.PlaceFirst(ctx, input.Orders)
		res = r
		return err
	})
	if err != nil {
		return errorResult(fmt.Errorf("place order failed: %w", err))
	}

	amount := api.BaseToDecimal(int64(res.Order.BaseAssetAmount))
	if res.Order.Direction == api.DirectionShort {
		amount = amount.Neg()
	}
	out := PlacePerpOrdersOutput{
		TxID:   res.TxID,
		Market: res.Order.Market().String(),
		Amount: amount,
		Summary: fmt.Sprintf("Submitted %d of %d orders: %s %s %s. Transaction: %s",
			res.Submitted, res.Requested, res.Order.OrderType, res.Order.Direction, res.Order.Market(), res.TxID),
	}
	if res.Order.OrderType == api.OrderTypeLimit {
		out.Price = api.PriceToDecimal(int64(res.Order.Price))
	}

	return core.Complete(out)
}

// ClosePositionTool reduces or closes a perp position.
type ClosePositionTool struct {
	engine *execution.Engine
}

type ClosePositionInput struct {
	MarketIndex  uint16          `json:"market_index"`
	PositionType api.Direction   `json:"position_type"`
	Percentage   decimal.Decimal `json:"percentage"` // 0.5 closes half
}

func NewClosePositionTool(engine *execution.Engine) *ClosePositionTool {
	return &ClosePositionTool{engine: engine}
}

func (t *ClosePositionTool) Name() string {
	return "close_perp_position"
}

func (t *ClosePositionTool) Description() string {
	return "Close an open perp position on Drift when the user explicitly asks to close, exit, reduce or sell it. Optionally close only a fraction and restrict to the long or short side."
}

func (t *ClosePositionTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"market_index": {"type": "integer", "description": "The market index of the position"},
			"position_type": {"type": "string", "enum": ["long", "short"], "description": "The position side to close"},
			"percentage": {"type": "number", "minimum": 0.01, "maximum": 1.0, "description": "Fraction of the position to close (1.0 = 100%, default 1.0)"}
		},
		"required": ["market_index"]
	}`)
}

func (t *ClosePositionTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input ClosePositionInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, toolTimeout)
	defer cancel()

	var res *execution.CloseOutcome
	err := t.engine.Do(ctx, t.Name(), func(x *execution.Executor) error {
		r, err := x.ClosePosition(ctx, execution.CloseRequest{
			MarketIndex: input.MarketIndex,
			Side:        input.PositionType,
			Percentage:  input.Percentage,
		})
		res = r
		return err
	})
	if err != nil {
		return errorResult(fmt.Errorf("close position failed: %w", err))
	}

	return core.Complete(res)
}
