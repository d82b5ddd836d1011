package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// twapLimitMarkup is applied to the oracle price for limit-kind slices.
var twapLimitMarkup = decimal.RequireFromString("1.005")

// TWAPRequest is one time-sliced order. TotalAmount is signed whole base
// units: positive buys, negative sells.
type TWAPRequest struct {
	MarketIndex  uint16          `json:"market_index"`
	TotalAmount  int64           `json:"total_amount"`
	DurationSecs uint64          `json:"total_duration_secs"`
	IntervalSecs uint64          `json:"interval_secs"`
	OrderType    drift.OrderType `json:"order_type"`
}

// TWAPPlan is a validated TWAPRequest.
type TWAPPlan struct {
	Market    drift.MarketID  `json:"market"`
	Slices    int             `json:"slices"`
	SliceSize int64           `json:"slice_size"`
	SliceBase int64           `json:"slice_base"`
	Interval  time.Duration   `json:"interval"`
	OrderType drift.OrderType `json:"order_type"`
}

// PlanTWAP splits a request into slices of TotalAmount / (Duration / Interval),
// truncated toward zero.
func PlanTWAP(req TWAPRequest) (TWAPPlan, error) {
	if req.IntervalSecs == 0 {
		return TWAPPlan{}, fmt.Errorf("%w: interval_secs must be positive", ErrInvalidInput)
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = drift.OrderTypeMarket
	}
	if orderType != drift.OrderTypeMarket && orderType != drift.OrderTypeLimit {
		return TWAPPlan{}, fmt.Errorf("%w: order_type must be market or limit, got %q", ErrInvalidInput, req.OrderType)
	}

	slices := req.DurationSecs / req.IntervalSecs
	if slices == 0 {
		return TWAPPlan{}, fmt.Errorf("%w: duration %ds is shorter than interval %ds", ErrInvalidInput, req.DurationSecs, req.IntervalSecs)
	}
	sliceSize := req.TotalAmount / int64(slices)
	if sliceSize == 0 {
		return TWAPPlan{}, fmt.Errorf("%w: total %d over %d slices", ErrZeroAmount, req.TotalAmount, slices)
	}
	sliceBase, err := drift.BaseFromUnits(sliceSize)
	if err != nil {
		return TWAPPlan{}, fmt.Errorf("%w: slice size: %w", ErrInvalidInput, err)
	}

	return TWAPPlan{
		Market:    drift.Perp(req.MarketIndex),
		Slices:    int(slices),
		SliceSize: sliceSize,
		SliceBase: sliceBase,
		Interval:  time.Duration(req.IntervalSecs) * time.Second,
		OrderType: orderType,
	}, nil
}

// StartTWAP validates the requests and starts one background run executing
// them in order. If a TWAP run is live its state is returned instead.
func (e *Engine) StartTWAP(ctx context.Context, reqs []TWAPRequest) (*StartResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no twap orders", ErrInvalidInput)
	}
	if err := e.stopped(); err != nil {
		return nil, err
	}

	plans := make([]TWAPPlan, len(reqs))
	total := 0
	for i, r := range reqs {
		p, err := PlanTWAP(r)
		if err != nil {
			return nil, fmt.Errorf("twap order %d: %w", i, err)
		}
		plans[i] = p
		total += p.Slices
	}

	run, runCtx := e.newRun(KindTWAP, plans[0].Market, reqs)
	run.total = total

	return e.launch(run, runCtx, e.trackers.TWAP.insertIfIdle, func(ctx context.Context, run *Run, x *Executor) (Status, error) {
		return e.runTWAP(ctx, run, x, plans)
	})
}

func (e *Engine) runTWAP(ctx context.Context, run *Run, x *Executor, plans []TWAPPlan) (Status, error) {
	remaining := run.total
	for _, plan := range plans {
		for i := 0; i < plan.Slices; i++ {
			if ctx.Err() != nil {
				return stoppedStatus(ctx)
			}

			tx, err := e.twapSlice(ctx, x, plan)
			remaining--

			e.opts.metrics.RecordSlice(string(KindTWAP), outcome(err))
			run.update(e.opts.now(), func(r *Run) {
				if err != nil {
					r.failed++
					r.lastErr = err.Error()
					return
				}
				r.progress++
				r.lastTx = tx
			})
			if err != nil {
				x.opts.log.Warn("twap slice skipped",
					zap.Stringer("market", plan.Market),
					zap.Int("slice", i+1),
					zap.Int("slices", plan.Slices),
					zap.Error(err),
				)
			}
			e.progress(run)

			if remaining == 0 {
				break
			}
			if err := e.opts.sleep(ctx, plan.Interval); err != nil {
				return stoppedStatus(ctx)
			}
		}
	}
	return StatusCompleted, nil
}

func (e *Engine) twapSlice(ctx context.Context, x *Executor, plan TWAPPlan) (string, error) {
	if plan.OrderType == drift.OrderTypeMarket {
		return x.Submit(ctx, drift.MarketOrder(plan.Market, plan.SliceBase))
	}

	oracle, err := x.OraclePrice(ctx, plan.Market)
	if err != nil {
		return "", err
	}
	price := decimal.NewFromInt(oracle).Mul(twapLimitMarkup).Truncate(0).IntPart()
	return x.Submit(ctx, drift.LimitOrder(plan.Market, plan.SliceBase, uint64(price), false))
}
