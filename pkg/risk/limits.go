// Package risk enforces per-order and per-day trading limits in front of
// order submission.
package risk

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
)

// ErrLimitExceeded wraps every rejection from CheckOrder.
var ErrLimitExceeded = errors.New("risk limit exceeded")

// Limits configures the guard. Zero values disable the matching check.
type Limits struct {
	// MaxOrderSize caps one order in whole base units.
	MaxOrderSize     decimal.Decimal `json:"max_order_size"`
	// MaxOrderNotional caps one priced order in quote units. Market orders
	// carry no price and skip it.
	MaxOrderNotional decimal.Decimal `json:"max_order_notional"`
	MaxDailyOrders   int             `json:"max_daily_orders"`

	// AllowedMarkets restricts trading to these perp indexes when non-empty.
	AllowedMarkets []uint16 `json:"allowed_markets,omitempty"`
	BlockedMarkets []uint16 `json:"blocked_markets,omitempty"`
}

// Enabled reports whether any check is active.
func (l Limits) Enabled() bool {
	return l.MaxOrderSize.IsPositive() ||
		l.MaxOrderNotional.IsPositive() ||
		l.MaxDailyOrders > 0 ||
		len(l.AllowedMarkets) > 0 ||
		len(l.BlockedMarkets) > 0
}

// Guard checks orders against Limits and counts accepted orders per UTC day.
// Reduce-only orders are never rejected so exits always go through.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	day         string
	dailyOrders int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock overrides the clock used for the daily reset.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard creates a guard enforcing limits.
func NewGuard(limits Limits, opts ...GuardOption) *Guard {
	g := &Guard{limits: limits, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckOrder returns an error wrapping ErrLimitExceeded if order breaks a limit.
func (g *Guard) CheckOrder(order drift.OrderParams) error {
	if order.ReduceOnly {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyIfNeeded()

	if err := g.checkMarketAllowed(order.Market()); err != nil {
		return err
	}

	size := drift.BaseToDecimal(int64(order.BaseAssetAmount))
	if max := g.limits.MaxOrderSize; max.IsPositive() && size.GreaterThan(max) {
		return fmt.Errorf("%w: order size %s exceeds max %s", ErrLimitExceeded, size, max)
	}

	if max := g.limits.MaxOrderNotional; max.IsPositive() && order.Price > 0 {
		notional := size.Mul(drift.PriceToDecimal(int64(order.Price)))
		if notional.GreaterThan(max) {
			return fmt.Errorf("%w: order notional $%s exceeds max $%s", ErrLimitExceeded, notional, max)
		}
	}

	if max := g.limits.MaxDailyOrders; max > 0 && g.dailyOrders >= max {
		return fmt.Errorf("%w: daily order limit reached: %d", ErrLimitExceeded, max)
	}
	return nil
}

// RecordOrder counts a submitted order against the daily limit.
func (g *Guard) RecordOrder(order drift.OrderParams) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyIfNeeded()
	g.dailyOrders++
}

// Status is a snapshot of the guard.
type Status struct {
	Limits      Limits `json:"limits"`
	Day         string `json:"day"`
	DailyOrders int    `json:"daily_orders"`
}

// Status returns the current guard state.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyIfNeeded()
	return Status{Limits: g.limits, Day: g.day, DailyOrders: g.dailyOrders}
}

func (g *Guard) resetDailyIfNeeded() {
	day := g.now().UTC().Format(time.DateOnly)
	if day != g.day {
		g.day = day
		g.dailyOrders = 0
	}
}

func (g *Guard) checkMarketAllowed(market drift.MarketID) error {
	if market.Kind != drift.MarketTypePerp {
		return nil
	}
	if slices.Contains(g.limits.BlockedMarkets, market.Index) {
		return fmt.Errorf("%w: market %s is blocked", ErrLimitExceeded, market)
	}
	if len(g.limits.AllowedMarkets) > 0 && !slices.Contains(g.limits.AllowedMarkets, market.Index) {
		return fmt.Errorf("%w: market %s is not in allowed list", ErrLimitExceeded, market)
	}
	return nil
}
