package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultVWAPTimeframe = 10 * time.Second
	DefaultVWAPWarmUp    = 5
)

// VWAPRequest configures a VWAP run. Optional fields are pointers so that a
// request carrying none of them can be told apart as a query.
type VWAPRequest struct {
	MarketIndex   uint16 `json:"market_index"`
	SizePerOrder  int64  `json:"size_per_order"`
	TimeframeSecs int64  `json:"timeframe"`
	HistoryWarmUp *int   `json:"history_warm_up,omitempty"`
	StopSignal    *bool  `json:"stop_signal,omitempty"`
	DurationSecs  *int64 `json:"duration_secs,omitempty"`
}

// IsQuery reports whether the request only asks for tracker state.
func (r VWAPRequest) IsQuery() bool {
	return r.HistoryWarmUp == nil &&
		r.StopSignal == nil &&
		r.DurationSecs == nil &&
		r.SizePerOrder == 0 &&
		r.TimeframeSecs == 0
}

// IsStop reports whether the request asks live VWAP runs to stop.
func (r VWAPRequest) IsStop() bool {
	return r.StopSignal != nil && *r.StopSignal
}

type vwapPlan struct {
	market    drift.MarketID
	size      int64
	base      int64
	timeframe time.Duration
	warmUp    int
	deadline  time.Time
}

func (e *Engine) planVWAP(r VWAPRequest) (vwapPlan, error) {
	if r.SizePerOrder == 0 {
		return vwapPlan{}, fmt.Errorf("%w: size_per_order", ErrZeroAmount)
	}
	base, err := drift.BaseFromUnits(r.SizePerOrder)
	if err != nil {
		return vwapPlan{}, fmt.Errorf("%w: size_per_order: %w", ErrInvalidInput, err)
	}
	if r.TimeframeSecs < 0 {
		return vwapPlan{}, fmt.Errorf("%w: timeframe must not be negative", ErrInvalidInput)
	}

	p := vwapPlan{
		market:    drift.Perp(r.MarketIndex),
		size:      r.SizePerOrder,
		base:      base,
		timeframe: time.Duration(r.TimeframeSecs) * time.Second,
		warmUp:    DefaultVWAPWarmUp,
	}
	if p.timeframe == 0 {
		p.timeframe = DefaultVWAPTimeframe
	}
	if r.HistoryWarmUp != nil {
		if *r.HistoryWarmUp < 0 {
			return vwapPlan{}, fmt.Errorf("%w: history_warm_up must not be negative", ErrInvalidInput)
		}
		p.warmUp = *r.HistoryWarmUp
	}
	if r.DurationSecs != nil && *r.DurationSecs > 0 {
		p.deadline = e.opts.now().Add(time.Duration(*r.DurationSecs) * time.Second)
	}
	return p, nil
}

// CalculateVWAP returns Σ(price·volume)/Σvolume over samples, or fallback
// when there is no volume.
func CalculateVWAP(samples []TradeSample, fallback decimal.Decimal) decimal.Decimal {
	notional := decimal.Zero
	volume := decimal.Zero
	for _, s := range samples {
		notional = notional.Add(s.Price.Mul(s.Volume))
		volume = volume.Add(s.Volume)
	}
	if volume.IsZero() {
		return fallback
	}
	return notional.DivRound(volume, 12)
}

// QueryVWAP returns the state of every VWAP run without side effects.
func (e *Engine) QueryVWAP() []RunSnapshot {
	runs := e.trackers.VWAP.Runs()
	out := make([]RunSnapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Snapshot())
	}
	return out
}

// StopVWAP cancels every live VWAP run. Runs observe it at their next tick.
func (e *Engine) StopVWAP() []RunSnapshot {
	var out []RunSnapshot
	for _, r := range e.trackers.VWAP.Live() {
		r.Stop()
		out = append(out, r.Snapshot())
	}
	e.opts.log.Info("vwap stop requested", zap.Int("runs", len(out)))
	return out
}

// StartVWAP starts a VWAP run. Several VWAP runs may be live at once.
func (e *Engine) StartVWAP(ctx context.Context, req VWAPRequest) (*StartResult, error) {
	if err := e.stopped(); err != nil {
		return nil, err
	}
	plan, err := e.planVWAP(req)
	if err != nil {
		return nil, err
	}

	run, runCtx := e.newRun(KindVWAP, plan.market, req)
	return e.launch(run, runCtx, e.trackers.VWAP.insert, func(ctx context.Context, run *Run, x *Executor) (Status, error) {
		return e.runVWAP(ctx, run, x, plan)
	})
}

func (e *Engine) runVWAP(ctx context.Context, run *Run, x *Executor, plan vwapPlan) (Status, error) {
	volume := decimal.NewFromInt(plan.size).Abs()

	for tick := 0; ; tick++ {
		if ctx.Err() != nil {
			return stoppedStatus(ctx)
		}
		if !plan.deadline.IsZero() && e.opts.now().After(plan.deadline) {
			return StatusCompleted, nil
		}

		oracle, err := x.OraclePrice(ctx, plan.market)
		if err != nil {
			if ctx.Err() != nil {
				return stoppedStatus(ctx)
			}
			x.opts.log.Warn("vwap tick skipped", zap.Int("tick", tick), zap.Error(err))
			e.opts.metrics.RecordSlice(string(KindVWAP), outcome(err))
			run.update(e.opts.now(), func(r *Run) {
				r.failed++
				r.lastErr = err.Error()
			})
		} else {
			price := drift.PriceToDecimal(oracle)
			if tick < plan.warmUp {
				e.recordSample(run, price, volume)
			} else {
				e.vwapTrade(ctx, run, x, plan, price, volume)
			}
		}
		e.progress(run)

		if err := e.opts.sleep(ctx, plan.timeframe); err != nil {
			return stoppedStatus(ctx)
		}
	}
}

func (e *Engine) recordSample(run *Run, price, volume decimal.Decimal) {
	now := e.opts.now()
	run.update(now, func(r *Run) {
		r.samples = append(r.samples, TradeSample{Timestamp: now, Price: price, Volume: volume})
	})
}

func (e *Engine) vwapTrade(ctx context.Context, run *Run, x *Executor, plan vwapPlan, price, volume decimal.Decimal) {
	vwap := CalculateVWAP(run.Samples(), price)
	e.opts.metrics.UpdateVWAP(plan.market.String(), vwap)

	var (
		tx  string
		err error
	)
	limit := drift.ToPrice(vwap)
	if limit == 0 {
		err = fmt.Errorf("%w: vwap %s below price precision", ErrInvalidInput, vwap)
	} else {
		order := drift.LimitOrder(plan.market, plan.base, limit, false)
		tx, err = x.Submit(ctx, order)
	}
	e.opts.metrics.RecordSlice(string(KindVWAP), outcome(err))

	now := e.opts.now()
	run.update(now, func(r *Run) {
		r.vwap = vwap
		r.historyReady = true
		r.samples = append(r.samples, TradeSample{Timestamp: now, Price: price, Volume: volume})
		if err != nil {
			r.failed++
			r.lastErr = err.Error()
			return
		}
		r.progress++
		r.lastTx = tx
	})
	if err != nil {
		x.opts.log.Warn("vwap order failed", zap.String("vwap", vwap.String()), zap.Error(err))
	}
}
