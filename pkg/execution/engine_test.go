package execution

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(ex *fakeExchange, clock *fakeClock, opts ...Option) *Engine {
	all := append(clock.options(), sequentialIDs())
	return NewEngine(ex.dial, NewTrackers(), append(all, opts...)...)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPlanTWAP(t *testing.T) {
	plan, err := PlanTWAP(TWAPRequest{MarketIndex: 1, TotalAmount: 10, DurationSecs: 20, IntervalSecs: 5})
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Slices)
	assert.Equal(t, int64(2), plan.SliceSize)
	assert.Equal(t, 5*time.Second, plan.Interval)
	assert.Equal(t, drift.OrderTypeMarket, plan.OrderType)

	plan, err = PlanTWAP(TWAPRequest{TotalAmount: -9, DurationSecs: 60, IntervalSecs: 20, OrderType: drift.OrderTypeLimit})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), plan.SliceSize)
	assert.Equal(t, int64(-3_000_000_000), plan.SliceBase)

	_, err = PlanTWAP(TWAPRequest{TotalAmount: 10, DurationSecs: 3, IntervalSecs: 5})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PlanTWAP(TWAPRequest{TotalAmount: 10, DurationSecs: 3, IntervalSecs: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PlanTWAP(TWAPRequest{TotalAmount: 3, DurationSecs: 20, IntervalSecs: 5})
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = PlanTWAP(TWAPRequest{TotalAmount: 3, DurationSecs: 20, IntervalSecs: 5, OrderType: "stop"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlanTWAPAmountOverflow(t *testing.T) {
	for _, total := range []int64{10_000_000_000, -10_000_000_000, math.MinInt64} {
		_, err := PlanTWAP(TWAPRequest{TotalAmount: total, DurationSecs: 1, IntervalSecs: 1})
		assert.ErrorIs(t, err, ErrInvalidInput, "total %d", total)
		assert.ErrorIs(t, err, drift.ErrAmountOutOfRange, "total %d", total)
	}

	plan, err := PlanTWAP(TWAPRequest{TotalAmount: drift.MaxBaseUnits, DurationSecs: 1, IntervalSecs: 1})
	require.NoError(t, err)
	assert.Positive(t, plan.SliceBase)
}

func TestTWAPRun(t *testing.T) {
	clock := newFakeClock()
	m := metrics.NewExecutionMetrics()
	pub := &recordingPublisher{}
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, clock, WithMetrics(m), WithPublisher(pub))

	res, err := e.StartTWAP(context.Background(), []TWAPRequest{
		{MarketIndex: 0, TotalAmount: 8, DurationSecs: 20, IntervalSecs: 5},
	})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, "run-1", res.Run.ID)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.Progress)
	assert.Equal(t, 4, snap.Total)
	assert.Zero(t, snap.Failed)
	assert.NotNil(t, snap.FinishedAt)

	placed := ex.orders()
	require.Len(t, placed, 4)
	for _, o := range placed {
		assert.Equal(t, drift.OrderTypeMarket, o.OrderType)
		assert.Equal(t, drift.DirectionLong, o.Direction)
		assert.Equal(t, uint64(2*drift.BasePrecision), o.BaseAssetAmount)
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.Sleeps())

	dials, closes := ex.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, closes)

	types := pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunFinished, types[len(types)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("twap", "completed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SlicesTotal.WithLabelValues("twap", "success")))
}

func TestTWAPLimitSlicesAndSkips(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{
		prices: []int64{200_000_000},
		placeErr: func(call int) error {
			if call == 2 {
				return &drift.APIError{StatusCode: 400, Message: "rejected"}
			}
			return nil
		},
	}
	e := newTestEngine(ex, clock)

	res, err := e.StartTWAP(context.Background(), []TWAPRequest{
		{MarketIndex: 1, TotalAmount: -3, DurationSecs: 30, IntervalSecs: 10, OrderType: drift.OrderTypeLimit},
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Progress)
	assert.Equal(t, 1, snap.Failed)
	assert.Contains(t, snap.LastError, "rejected")

	placed := ex.orders()
	require.Len(t, placed, 2)
	for _, o := range placed {
		assert.Equal(t, drift.OrderTypeLimit, o.OrderType)
		assert.Equal(t, drift.DirectionShort, o.Direction)
		assert.Equal(t, uint64(201_000_000), o.Price)
		assert.Equal(t, uint64(drift.BasePrecision), o.BaseAssetAmount)
	}
}

func TestTWAPMultipleOrdersRunSequentially(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, clock)

	res, err := e.StartTWAP(context.Background(), []TWAPRequest{
		{MarketIndex: 0, TotalAmount: 2, DurationSecs: 10, IntervalSecs: 5},
		{MarketIndex: 1, TotalAmount: 1, DurationSecs: 5, IntervalSecs: 5},
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Progress)

	placed := ex.orders()
	require.Len(t, placed, 3)
	assert.Equal(t, []uint16{0, 0, 1}, []uint16{placed[0].MarketIndex, placed[1].MarketIndex, placed[2].MarketIndex})
	assert.Len(t, clock.Sleeps(), 2)
}

func TestTWAPSingleFlight(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, newFakeClock(), WithSleep(blockingSleep))
	req := []TWAPRequest{{MarketIndex: 0, TotalAmount: 2, DurationSecs: 10, IntervalSecs: 5}}

	first, err := e.StartTWAP(context.Background(), req)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(ex.orders()) == 1 }, 5*time.Second, time.Millisecond)

	second, err := e.StartTWAP(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, 1, e.Trackers().TWAP.Len())

	_, err = e.StopRun(first.Run.ID)
	require.NoError(t, err)
	snap := waitRun(t, e, first.Run.ID)
	assert.Equal(t, StatusStopped, snap.Status)
	assert.Equal(t, 1, snap.Progress)

	third, err := e.StartTWAP(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Existing)
	assert.Equal(t, 2, e.Trackers().TWAP.Len())

	require.NoError(t, e.Shutdown(context.Background()))
	dials, closes := ex.counts()
	assert.Equal(t, dials, closes)
}

func TestStopRunUnknown(t *testing.T) {
	e := newTestEngine(&fakeExchange{}, newFakeClock())

	_, err := e.StopRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = e.Run("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestShutdownStopsRunsAndRejectsNew(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, newFakeClock(), WithSleep(blockingSleep))

	res, err := e.StartTrailingStop(context.Background(), TrailingStopRequest{
		MarketIndex: 0, PositionType: drift.DirectionLong, TotalAmount: 1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	snap, err := e.Run(res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, snap.Status)

	dials, closes := ex.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, closes)

	_, err = e.StartTWAP(context.Background(), []TWAPRequest{{TotalAmount: 1, DurationSecs: 1, IntervalSecs: 1}})
	assert.ErrorIs(t, err, ErrEngineStopped)
	_, err = e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: 1})
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestShutdownWaitsForConcurrentStarts(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, newFakeClock(), WithSleep(blockingSleep))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: 1}); err != nil {
				assert.ErrorIs(t, err, ErrEngineStopped)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	accepted := e.Runs()
	wg.Wait()

	// Nothing is admitted once Shutdown has returned.
	assert.Len(t, e.Runs(), len(accepted))
	for _, snap := range accepted {
		assert.NotEqual(t, StatusRunning, snap.Status, "run %s outlived shutdown", snap.ID)
	}
	dials, closes := ex.counts()
	assert.Equal(t, dials, closes)
}

func TestDialFailureFailsRun(t *testing.T) {
	dial := func(ctx context.Context) (Exchange, error) {
		return nil, errors.New("gateway unreachable")
	}
	e := NewEngine(dial, nil, newFakeClock().options()...)

	res, err := e.StartTWAP(context.Background(), []TWAPRequest{{TotalAmount: 1, DurationSecs: 1, IntervalSecs: 1}})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.LastError, "gateway unreachable")
}

func TestEngineDoClosesExchange(t *testing.T) {
	ex := &fakeExchange{prices: []int64{42_000_000}}
	e := newTestEngine(ex, newFakeClock())

	var price int64
	err := e.Do(context.Background(), "drift_info", func(x *Executor) error {
		p, err := x.OraclePrice(context.Background(), drift.Perp(0))
		price = p
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42_000_000), price)

	dials, closes := ex.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, closes)
}

func TestCalculateVWAP(t *testing.T) {
	assert.True(t, CalculateVWAP(nil, d("101.5")).Equal(d("101.5")))

	samples := []TradeSample{
		{Price: d("100"), Volume: d("1")},
		{Price: d("200"), Volume: d("3")},
	}
	assert.True(t, CalculateVWAP(samples, d("1")).Equal(d("175")))

	zeroVolume := []TradeSample{{Price: d("100"), Volume: decimal.Zero}}
	assert.True(t, CalculateVWAP(zeroVolume, d("90")).Equal(d("90")))
}

func TestVWAPRequestModes(t *testing.T) {
	assert.True(t, VWAPRequest{MarketIndex: 3}.IsQuery())
	assert.False(t, VWAPRequest{SizePerOrder: 1}.IsQuery())
	assert.False(t, VWAPRequest{TimeframeSecs: 5}.IsQuery())

	stop := true
	req := VWAPRequest{StopSignal: &stop}
	assert.False(t, req.IsQuery())
	assert.True(t, req.IsStop())

	noStop := false
	assert.False(t, VWAPRequest{StopSignal: &noStop}.IsStop())
}

func TestVWAPRun(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{prices: []int64{100_000_000, 110_000_000, 120_000_000, 130_000_000}}
	e := newTestEngine(ex, clock)

	warmUp := 2
	duration := int64(45)
	res, err := e.StartVWAP(context.Background(), VWAPRequest{
		MarketIndex:   0,
		SizePerOrder:  1,
		TimeframeSecs: 10,
		HistoryWarmUp: &warmUp,
		DurationSecs:  &duration,
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Progress)
	assert.Equal(t, 5, snap.Trades)
	assert.True(t, snap.HistoryReady)
	require.NotNil(t, snap.VWAP)
	assert.True(t, snap.VWAP.Equal(d("115")), "vwap %s", snap.VWAP)

	placed := ex.orders()
	require.Len(t, placed, 3)
	assert.Equal(t, uint64(105_000_000), placed[0].Price)
	assert.Equal(t, uint64(110_000_000), placed[1].Price)
	assert.Equal(t, uint64(115_000_000), placed[2].Price)
	for _, o := range placed {
		assert.Equal(t, drift.OrderTypeLimit, o.OrderType)
		assert.Equal(t, uint64(drift.BasePrecision), o.BaseAssetAmount)
	}
	assert.Len(t, clock.Sleeps(), 5)

	r, ok := e.Trackers().Find(res.Run.ID)
	require.True(t, ok)
	samples := r.Samples()
	require.Len(t, samples, 5)
	assert.True(t, samples[0].Price.Equal(d("100")))
	assert.True(t, samples[0].Volume.Equal(d("1")))
}

func TestVWAPNoWarmUpUsesCurrentPrice(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{prices: []int64{150_000_000}}
	e := newTestEngine(ex, clock)

	warmUp := 0
	duration := int64(5)
	res, err := e.StartVWAP(context.Background(), VWAPRequest{
		SizePerOrder: -2, TimeframeSecs: 10, HistoryWarmUp: &warmUp, DurationSecs: &duration,
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusCompleted, snap.Status)

	placed := ex.orders()
	require.Len(t, placed, 1)
	assert.Equal(t, uint64(150_000_000), placed[0].Price)
	assert.Equal(t, drift.DirectionShort, placed[0].Direction)
}

func TestVWAPQueryHasNoSideEffects(t *testing.T) {
	ex := &fakeExchange{}
	e := newTestEngine(ex, newFakeClock())

	assert.Empty(t, e.QueryVWAP())
	assert.Zero(t, e.Trackers().VWAP.Len())

	dials, _ := ex.counts()
	assert.Zero(t, dials)
}

func TestVWAPStop(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, newFakeClock(), WithSleep(blockingSleep))

	a, err := e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: 1})
	require.NoError(t, err)
	b, err := e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: 2})
	require.NoError(t, err)
	assert.NotEqual(t, a.Run.ID, b.Run.ID)

	stopped := e.StopVWAP()
	assert.Len(t, stopped, 2)

	assert.Equal(t, StatusStopped, waitRun(t, e, a.Run.ID).Status)
	assert.Equal(t, StatusStopped, waitRun(t, e, b.Run.ID).Status)
	assert.Empty(t, ex.orders())

	runs := e.QueryVWAP()
	require.Len(t, runs, 2)
	assert.Equal(t, StatusStopped, runs[0].Status)
}

func TestVWAPValidation(t *testing.T) {
	e := newTestEngine(&fakeExchange{}, newFakeClock())

	_, err := e.StartVWAP(context.Background(), VWAPRequest{TimeframeSecs: 10})
	assert.ErrorIs(t, err, ErrZeroAmount)

	warmUp := -1
	_, err = e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: 1, HistoryWarmUp: &warmUp})
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, size := range []int64{10_000_000_000, math.MinInt64} {
		_, err = e.StartVWAP(context.Background(), VWAPRequest{SizePerOrder: size})
		assert.ErrorIs(t, err, ErrInvalidInput, "size %d", size)
	}
	assert.Empty(t, e.Runs())
}

func TestTrailStateLong(t *testing.T) {
	s := NewTrailState(drift.DirectionLong, d("100"), d("0.1"))
	assert.True(t, s.Stop.Equal(d("90")))

	assert.False(t, s.Observe(d("105")))
	assert.True(t, s.Stop.Equal(d("94.5")))

	assert.False(t, s.Observe(d("110")))
	assert.False(t, s.Observe(d("104")))
	assert.True(t, s.Extreme.Equal(d("110")))
	assert.True(t, s.Stop.Equal(d("99")))

	assert.True(t, s.Observe(d("99")))
}

func TestTrailStateShort(t *testing.T) {
	s := NewTrailState(drift.DirectionShort, d("100"), d("0.05"))
	assert.True(t, s.Stop.Equal(d("105")))

	assert.False(t, s.Observe(d("96")))
	assert.False(t, s.Observe(d("98")))
	assert.True(t, s.Extreme.Equal(d("96")))
	assert.True(t, s.Stop.Equal(d("100.8")))

	assert.True(t, s.Observe(d("100.8")))
}

func TestTrailingStopLongTriggers(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{prices: []int64{105_000_000, 110_000_000, 104_000_000, 99_000_000}}
	e := newTestEngine(ex, clock)

	res, err := e.StartTrailingStop(context.Background(), TrailingStopRequest{
		MarketIndex:  0,
		PositionType: drift.DirectionLong,
		TotalAmount:  1,
		Percentage:   d("10"),
		EntryPrice:   d("100"),
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusTriggered, snap.Status)
	require.NotNil(t, snap.StopPrice)
	assert.True(t, snap.StopPrice.Equal(d("99")), "stop %s", snap.StopPrice)
	assert.True(t, snap.Extreme.Equal(d("110")))

	placed := ex.orders()
	require.Len(t, placed, 2)
	assert.Equal(t, drift.DirectionLong, placed[0].Direction)
	assert.Equal(t, drift.DirectionShort, placed[1].Direction)
	assert.Equal(t, uint64(drift.BasePrecision), placed[1].BaseAssetAmount)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestTrailingStopShortUsesOracleEntry(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000, 96_000_000, 95_000_000, 99_750_000}}
	e := newTestEngine(ex, newFakeClock(), WithPollInterval(time.Second))

	res, err := e.StartTrailingStop(context.Background(), TrailingStopRequest{
		MarketIndex: 2, PositionType: drift.DirectionShort, TotalAmount: 3,
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusTriggered, snap.Status)
	assert.True(t, snap.StopPrice.Equal(d("99.75")), "stop %s", snap.StopPrice)

	placed := ex.orders()
	require.Len(t, placed, 2)
	assert.Equal(t, drift.DirectionShort, placed[0].Direction)
	assert.Equal(t, uint64(3*drift.BasePrecision), placed[0].BaseAssetAmount)
	assert.Equal(t, drift.DirectionLong, placed[1].Direction)
}

func TestTrailingStopOpenFailure(t *testing.T) {
	ex := &fakeExchange{
		prices:   []int64{100_000_000},
		placeErr: func(int) error { return &drift.APIError{StatusCode: 400, Message: "margin"} },
	}
	e := newTestEngine(ex, newFakeClock())

	res, err := e.StartTrailingStop(context.Background(), TrailingStopRequest{
		PositionType: drift.DirectionLong, TotalAmount: 1,
	})
	require.NoError(t, err)

	snap := waitRun(t, e, res.Run.ID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.LastError, "open position")

	dials, closes := ex.counts()
	assert.Equal(t, dials, closes)
}

func TestTrailingStopValidation(t *testing.T) {
	e := newTestEngine(&fakeExchange{}, newFakeClock())

	_, err := e.StartTrailingStop(context.Background(), TrailingStopRequest{PositionType: "flat", TotalAmount: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.StartTrailingStop(context.Background(), TrailingStopRequest{PositionType: drift.DirectionLong})
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = e.StartTrailingStop(context.Background(), TrailingStopRequest{
		PositionType: drift.DirectionLong, TotalAmount: 1, Percentage: d("150"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, total := range []int64{10_000_000_000, -10_000_000_000, math.MinInt64} {
		_, err = e.StartTrailingStop(context.Background(), TrailingStopRequest{
			PositionType: drift.DirectionShort, TotalAmount: total,
		})
		assert.ErrorIs(t, err, ErrInvalidInput, "total %d", total)
	}
	assert.Empty(t, e.Runs())
}

func TestTrailingPlanSigned(t *testing.T) {
	long, err := planTrailing(TrailingStopRequest{PositionType: drift.DirectionLong, TotalAmount: -2})
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000_000), long.signed(false))
	assert.Equal(t, int64(-2_000_000_000), long.signed(true))

	short, err := planTrailing(TrailingStopRequest{PositionType: drift.DirectionShort, TotalAmount: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(-3_000_000_000), short.signed(false))
	assert.Equal(t, int64(3_000_000_000), short.signed(true))
}

func TestTrailingStopSingleFlight(t *testing.T) {
	ex := &fakeExchange{prices: []int64{100_000_000}}
	e := newTestEngine(ex, newFakeClock(), WithSleep(blockingSleep))
	req := TrailingStopRequest{PositionType: drift.DirectionLong, TotalAmount: 1}

	first, err := e.StartTrailingStop(context.Background(), req)
	require.NoError(t, err)
	second, err := e.StartTrailingStop(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Len(t, e.Runs(), 1)

	require.NoError(t, e.Shutdown(context.Background()))
}
