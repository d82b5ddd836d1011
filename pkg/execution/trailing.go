package execution

import (
	"context"
	"fmt"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTrailingPercentage is used when a request leaves the percentage unset.
var DefaultTrailingPercentage = decimal.NewFromInt(5)

var hundred = decimal.NewFromInt(100)

// TrailingStopRequest opens a position and closes it once price retraces by
// Percentage (in percent) from its best level.
type TrailingStopRequest struct {
	MarketIndex  uint16          `json:"market_index"`
	PositionType drift.Direction `json:"position_type"`
	TotalAmount  int64           `json:"total_amount"`
	Percentage   decimal.Decimal `json:"trailing_stop_percentage"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
}

// TrailState tracks the best price seen and the derived stop.
type TrailState struct {
	Side    drift.Direction
	Pct     decimal.Decimal
	Extreme decimal.Decimal
	Stop    decimal.Decimal
}

// NewTrailState seeds the stop from entry. pct is a fraction.
func NewTrailState(side drift.Direction, entry, pct decimal.Decimal) TrailState {
	s := TrailState{Side: side, Pct: pct, Extreme: entry}
	s.Stop = s.stopFor(entry)
	return s
}

func (s TrailState) stopFor(extreme decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if s.Side == drift.DirectionShort {
		return extreme.Mul(one.Add(s.Pct))
	}
	return extreme.Mul(one.Sub(s.Pct))
}

// Observe folds in one price and reports whether the stop is hit. A hit is
// checked against the stop before the price can move it.
func (s *TrailState) Observe(price decimal.Decimal) bool {
	if s.Side == drift.DirectionShort {
		if price.GreaterThanOrEqual(s.Stop) {
			return true
		}
		if price.LessThan(s.Extreme) {
			s.Extreme = price
			s.Stop = s.stopFor(price)
		}
		return false
	}

	if price.LessThanOrEqual(s.Stop) {
		return true
	}
	if price.GreaterThan(s.Extreme) {
		s.Extreme = price
		s.Stop = s.stopFor(price)
	}
	return false
}

type trailingPlan struct {
	market drift.MarketID
	side   drift.Direction
	base   int64
	pct    decimal.Decimal
	entry  decimal.Decimal
}

func planTrailing(r TrailingStopRequest) (trailingPlan, error) {
	if r.PositionType != drift.DirectionLong && r.PositionType != drift.DirectionShort {
		return trailingPlan{}, fmt.Errorf("%w: position_type must be long or short, got %q", ErrInvalidInput, r.PositionType)
	}
	if r.TotalAmount == 0 {
		return trailingPlan{}, fmt.Errorf("%w: total_amount", ErrZeroAmount)
	}
	base, err := drift.BaseFromUnits(r.TotalAmount)
	if err != nil {
		return trailingPlan{}, fmt.Errorf("%w: total_amount: %w", ErrInvalidInput, err)
	}
	if base < 0 {
		base = -base
	}

	pct := r.Percentage
	if pct.IsZero() {
		pct = DefaultTrailingPercentage
	}
	if !pct.IsPositive() || pct.GreaterThanOrEqual(hundred) {
		return trailingPlan{}, fmt.Errorf("%w: trailing_stop_percentage must be in (0, 100), got %s", ErrInvalidInput, r.Percentage)
	}
	if r.EntryPrice.IsNegative() {
		return trailingPlan{}, fmt.Errorf("%w: entry_price must not be negative", ErrInvalidInput)
	}

	return trailingPlan{
		market: drift.Perp(r.MarketIndex),
		side:   r.PositionType,
		base:   base,
		pct:    pct.Div(hundred),
		entry:  r.EntryPrice,
	}, nil
}

// signed returns the base amount for opening (or, with closing set, closing)
// the position.
func (p trailingPlan) signed(closing bool) int64 {
	side := p.side
	if closing {
		side = side.Opposite()
	}
	if side == drift.DirectionShort {
		return -p.base
	}
	return p.base
}

// StartTrailingStop starts a trailing-stop run. If one is live its state is
// returned instead.
func (e *Engine) StartTrailingStop(ctx context.Context, req TrailingStopRequest) (*StartResult, error) {
	if err := e.stopped(); err != nil {
		return nil, err
	}
	plan, err := planTrailing(req)
	if err != nil {
		return nil, err
	}

	run, runCtx := e.newRun(KindTrailingStop, plan.market, req)
	return e.launch(run, runCtx, e.trackers.Trailing.insertIfIdle, func(ctx context.Context, run *Run, x *Executor) (Status, error) {
		return e.runTrailing(ctx, run, x, plan)
	})
}

func (e *Engine) runTrailing(ctx context.Context, run *Run, x *Executor, plan trailingPlan) (Status, error) {
	entry := plan.entry
	if !entry.IsPositive() {
		oracle, err := x.OraclePrice(ctx, plan.market)
		if err != nil {
			return StatusFailed, fmt.Errorf("entry price: %w", err)
		}
		entry = drift.PriceToDecimal(oracle)
	}

	tx, err := x.Submit(ctx, drift.MarketOrder(plan.market, plan.signed(false)))
	if err != nil {
		return StatusFailed, fmt.Errorf("open position: %w", err)
	}

	state := NewTrailState(plan.side, entry, plan.pct)
	run.update(e.opts.now(), func(r *Run) {
		r.lastTx = tx
		r.extreme = state.Extreme
		r.stopPrice = state.Stop
	})
	e.opts.metrics.UpdateStopPrice(plan.market.String(), state.Stop)
	e.progress(run)

	for {
		if ctx.Err() != nil {
			return stoppedStatus(ctx)
		}

		oracle, err := x.OraclePrice(ctx, plan.market)
		if err != nil {
			if ctx.Err() != nil {
				return stoppedStatus(ctx)
			}
			x.opts.log.Warn("trailing stop price read failed", zap.Error(err))
			run.update(e.opts.now(), func(r *Run) { r.lastErr = err.Error() })
		} else {
			price := drift.PriceToDecimal(oracle)
			if state.Observe(price) {
				status, done := e.closeTrailing(ctx, run, x, plan, state, price)
				if done {
					return status, nil
				}
			} else {
				run.update(e.opts.now(), func(r *Run) {
					r.progress++
					r.extreme = state.Extreme
					r.stopPrice = state.Stop
				})
				e.opts.metrics.UpdateStopPrice(plan.market.String(), state.Stop)
				e.progress(run)
			}
		}

		if err := e.opts.sleep(ctx, e.opts.pollInterval); err != nil {
			return stoppedStatus(ctx)
		}
	}
}

// closeTrailing submits the offsetting order. A failed close leaves the run
// live so the next poll retries it.
func (e *Engine) closeTrailing(ctx context.Context, run *Run, x *Executor, plan trailingPlan, state TrailState, price decimal.Decimal) (Status, bool) {
	x.opts.log.Info("trailing stop hit",
		zap.String("price", price.String()),
		zap.String("stop", state.Stop.String()),
	)

	order := drift.MarketOrder(plan.market, plan.signed(true))
	tx, err := x.Submit(ctx, order)
	if err != nil {
		x.opts.log.Error("trailing stop close failed", zap.Error(err))
		run.update(e.opts.now(), func(r *Run) {
			r.failed++
			r.lastErr = err.Error()
		})
		return StatusRunning, false
	}

	run.update(e.opts.now(), func(r *Run) {
		r.lastTx = tx
		r.extreme = state.Extreme
		r.stopPrice = state.Stop
	})
	return StatusTriggered, true
}
