package execution

import (
	"context"
	"fmt"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionKind selects which part of the account OpenPositions returns.
type PositionKind string

const (
	PositionPerp       PositionKind = "perp"
	PositionSpot       PositionKind = "spot"
	PositionOpenOrders PositionKind = "open_orders"
	PositionBoth       PositionKind = "both"
)

// PositionFilter narrows an open-positions query.
type PositionFilter struct {
	// MarketIndex restricts results to one market when set.
	MarketIndex *uint16
	Kind        PositionKind
}

// Positions is a filtered account snapshot.
type Positions struct {
	Kind   PositionKind         `json:"kind"`
	Perp   []drift.PerpPosition `json:"perp_positions"`
	Spot   []drift.SpotPosition `json:"spot_positions"`
	Orders []drift.Order        `json:"open_orders"`
}

func (k PositionKind) includes(other PositionKind) bool {
	return k == PositionBoth || k == other
}

// OpenPositions reads live account state and returns open perp positions,
// non-empty spot balances and open orders.
func (e *Executor) OpenPositions(ctx context.Context, filter PositionFilter) (*Positions, error) {
	kind := filter.Kind
	if kind == "" {
		kind = PositionBoth
	}
	switch kind {
	case PositionPerp, PositionSpot, PositionOpenOrders, PositionBoth:
	default:
		return nil, fmt.Errorf("%w: unsupported position type %q", ErrInvalidInput, filter.Kind)
	}

	account, err := e.UserAccount(ctx)
	if err != nil {
		return nil, err
	}

	match := func(index uint16) bool {
		return filter.MarketIndex == nil || *filter.MarketIndex == index
	}

	out := &Positions{Kind: kind}
	if kind.includes(PositionPerp) {
		for _, p := range account.PerpPositions {
			if p.IsOpen() && match(p.MarketIndex) {
				out.Perp = append(out.Perp, p)
			}
		}
	}
	if kind.includes(PositionSpot) {
		for _, s := range account.SpotPositions {
			if !s.IsAvailable() && match(s.MarketIndex) {
				out.Spot = append(out.Spot, s)
			}
		}
	}
	if kind.includes(PositionOpenOrders) {
		for _, o := range account.Orders {
			if o.Status == drift.OrderStatusOpen && match(o.MarketIndex) {
				out.Orders = append(out.Orders, o)
			}
		}
	}
	return out, nil
}

// CloseRequest asks to reduce a perp position by a fraction.
type CloseRequest struct {
	MarketIndex uint16
	// Side restricts the match to long or short; empty matches either.
	Side drift.Direction
	// Percentage is a fraction in (0, 1]; zero means 1.
	Percentage decimal.Decimal
}

// CloseOutcome reports a close attempt. Closed is false for the
// informative no-op cases, which are not errors.
type CloseOutcome struct {
	Closed   bool                `json:"closed"`
	Message  string              `json:"message"`
	TxID     string              `json:"tx_id,omitempty"`
	Amount   int64               `json:"amount,omitempty"`
	Position *drift.PerpPosition `json:"position,omitempty"`
}

// ClosePosition submits a reduce-only market order offsetting a fraction of
// the single perp position matching req.
func (e *Executor) ClosePosition(ctx context.Context, req CloseRequest) (*CloseOutcome, error) {
	pct := req.Percentage
	if pct.IsZero() {
		pct = decimal.NewFromInt(1)
	}
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: percentage must be in (0, 1], got %s", ErrInvalidInput, req.Percentage)
	}
	if req.Side != "" && req.Side != drift.DirectionLong && req.Side != drift.DirectionShort {
		return nil, fmt.Errorf("%w: position type must be long or short, got %q", ErrInvalidInput, req.Side)
	}

	account, err := e.UserAccount(ctx)
	if err != nil {
		return nil, err
	}

	var matches []drift.PerpPosition
	for _, p := range account.PerpPositions {
		if p.MarketIndex != req.MarketIndex || p.BaseAssetAmount == 0 {
			continue
		}
		if req.Side == drift.DirectionLong && !p.IsLong() {
			continue
		}
		if req.Side == drift.DirectionShort && p.IsLong() {
			continue
		}
		matches = append(matches, p)
	}

	label := "position"
	if req.Side != "" {
		label = string(req.Side) + " position"
	}

	switch len(matches) {
	case 0:
		return &CloseOutcome{
			Message: fmt.Sprintf("No open %s found for market index %d", label, req.MarketIndex),
		}, nil
	case 1:
	default:
		return &CloseOutcome{
			Message: fmt.Sprintf("Multiple %ss found for market index %d. Please specify which to close.", label, req.MarketIndex),
		}, nil
	}

	pos := matches[0]
	size := pos.BaseAssetAmount
	if size < 0 {
		size = -size
	}
	closeAmount := decimal.NewFromInt(size).Mul(pct).Round(0).IntPart()
	if closeAmount == 0 {
		return &CloseOutcome{Message: "Close amount is too small.", Position: &pos}, nil
	}

	signed := -closeAmount
	if !pos.IsLong() {
		signed = closeAmount
	}
	order := drift.MarketOrder(drift.Perp(req.MarketIndex), signed)
	order.ReduceOnly = true

	tx, err := e.Submit(ctx, order)
	if err != nil {
		return nil, err
	}

	e.opts.log.Info("position closed",
		zap.Uint16("market_index", req.MarketIndex),
		zap.Int64("amount", signed),
		zap.String("percentage", pct.String()),
	)

	return &CloseOutcome{
		Closed: true,
		Message: fmt.Sprintf("Closed %s of %s (%s%%) on %s. Transaction: %s",
			drift.BaseToDecimal(closeAmount).String(),
			drift.BaseToDecimal(pos.BaseAssetAmount).String(),
			pct.Mul(decimal.NewFromInt(100)).String(),
			drift.Perp(req.MarketIndex),
			tx,
		),
		TxID:     tx,
		Amount:   signed,
		Position: &pos,
	}, nil
}
