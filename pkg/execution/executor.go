package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Executor reads oracle prices and submits orders on one exchange handle,
// retrying transient failures.
type Executor struct {
	exchange Exchange
	source   string
	runID    string
	opts     options
}

// NewExecutor creates an executor over ex.
func NewExecutor(ex Exchange, opts ...Option) *Executor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newExecutor(ex, "order", o)
}

func newExecutor(ex Exchange, source string, o options) *Executor {
	o.log = o.log.With(zap.String("source", source))
	return &Executor{exchange: ex, source: source, opts: o}
}

// OraclePrice returns the native oracle price for market.
func (e *Executor) OraclePrice(ctx context.Context, market drift.MarketID) (int64, error) {
	start := time.Now()

	var price int64
	retries, err := e.opts.policy.Do(ctx, e.opts.sleep, func(ctx context.Context) error {
		p, err := e.exchange.OraclePrice(ctx, market)
		if err != nil {
			e.opts.log.Debug("oracle read failed", zap.Stringer("market", market), zap.Error(err))
			return err
		}
		price = p
		return nil
	})

	e.opts.metrics.RecordCall("oracle", outcome(err), retries, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("oracle price %s: %w", market, err)
	}
	return price, nil
}

// Submit places one order and returns the transaction id. An expired
// blockhash fails immediately with ErrStaleState.
func (e *Executor) Submit(ctx context.Context, order drift.OrderParams) (string, error) {
	if err := order.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if g := e.opts.guard; g != nil {
		if err := g.CheckOrder(order); err != nil {
			e.opts.log.Warn("order blocked", zap.Stringer("market", order.Market()), zap.Error(err))
			e.opts.metrics.RecordOrder(e.source, string(order.Direction), string(order.OrderType), "blocked",
				drift.BaseToDecimal(int64(order.BaseAssetAmount)).InexactFloat64())
			return "", fmt.Errorf("submit order: %w", err)
		}
	}

	start := time.Now()

	var tx string
	retries, err := e.opts.policy.Do(ctx, e.opts.sleep, func(ctx context.Context) error {
		id, err := e.exchange.PlaceOrders(ctx, []drift.OrderParams{order})
		if err != nil {
			if errors.Is(err, drift.ErrBlockhashNotFound) {
				return Permanent(fmt.Errorf("%w: %w", ErrStaleState, err))
			}
			var apiErr *drift.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return Permanent(err)
			}
			e.opts.log.Debug("order submit failed", zap.Stringer("market", order.Market()), zap.Error(err))
			return err
		}
		tx = id
		return nil
	})

	status := outcome(err)
	e.opts.metrics.RecordCall("submit", status, retries, time.Since(start).Seconds())
	e.opts.metrics.RecordOrder(e.source, string(order.Direction), string(order.OrderType), status,
		drift.BaseToDecimal(int64(order.BaseAssetAmount)).InexactFloat64())

	if err != nil {
		e.opts.log.Warn("order submission failed",
			zap.Stringer("market", order.Market()),
			zap.String("direction", string(order.Direction)),
			zap.Uint64("amount", order.BaseAssetAmount),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		return "", fmt.Errorf("submit order: %w", err)
	}

	if g := e.opts.guard; g != nil {
		g.RecordOrder(order)
	}

	e.opts.log.Info("order submitted",
		zap.Stringer("market", order.Market()),
		zap.String("direction", string(order.Direction)),
		zap.String("type", string(order.OrderType)),
		zap.Uint64("amount", order.BaseAssetAmount),
		zap.Uint64("price", order.Price),
		zap.String("tx", tx),
	)
	e.opts.publish(EventOrder, OrderEvent{
		Source: e.source,
		RunID:  e.runID,
		Order:  order,
		TxID:   tx,
		Time:   e.opts.now(),
	})
	return tx, nil
}

// CancelAllOrders cancels every open order on the sub-account and returns
// the transaction id.
func (e *Executor) CancelAllOrders(ctx context.Context) (string, error) {
	start := time.Now()

	var tx string
	retries, err := e.opts.policy.Do(ctx, e.opts.sleep, func(ctx context.Context) error {
		id, err := e.exchange.CancelAllOrders(ctx)
		if err != nil {
			if errors.Is(err, drift.ErrBlockhashNotFound) {
				return Permanent(fmt.Errorf("%w: %w", ErrStaleState, err))
			}
			var apiErr *drift.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return Permanent(err)
			}
			return err
		}
		tx = id
		return nil
	})

	e.opts.metrics.RecordCall("cancel_all", outcome(err), retries, time.Since(start).Seconds())
	if err != nil {
		e.opts.log.Warn("cancel orders failed", zap.Int("retries", retries), zap.Error(err))
		return "", fmt.Errorf("cancel orders: %w", err)
	}
	e.opts.log.Info("open orders cancelled", zap.String("tx", tx))
	return tx, nil
}

// UserAccount fetches a fresh account snapshot.
func (e *Executor) UserAccount(ctx context.Context) (*drift.UserAccount, error) {
	start := time.Now()

	var account *drift.UserAccount
	retries, err := e.opts.policy.Do(ctx, e.opts.sleep, func(ctx context.Context) error {
		a, err := e.exchange.UserAccount(ctx)
		if err != nil {
			return err
		}
		account = a
		return nil
	})

	e.opts.metrics.RecordCall("user_account", outcome(err), retries, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("user account: %w", err)
	}
	return account, nil
}

// OrderEvent is published for every submitted order.
type OrderEvent struct {
	Source string            `json:"source"`
	RunID  string            `json:"run_id,omitempty"`
	Order  drift.OrderParams `json:"order"`
	TxID   string            `json:"tx_id"`
	Time   time.Time         `json:"time"`
}

func (e OrderEvent) EventRunID() string {
	return e.RunID
}

// RunError is published when a run ends with an error.
type RunError struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

func (e RunError) EventRunID() string {
	return e.RunID
}

// OrderRequest is a user-level perp order: a signed amount in whole base
// units and an optional limit price in quote units.
type OrderRequest struct {
	MarketIndex uint16          `json:"market_index"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	PostOnly    bool            `json:"post_only"`
}

// Params converts the request to native units. A positive price makes a
// limit order; zero makes a market order.
func (r OrderRequest) Params() (drift.OrderParams, error) {
	base, err := drift.ToBaseChecked(r.Amount)
	if err != nil {
		return drift.OrderParams{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if base == 0 {
		return drift.OrderParams{}, fmt.Errorf("%w: amount %s on market %d", ErrZeroAmount, r.Amount, r.MarketIndex)
	}
	if r.Price.IsNegative() {
		return drift.OrderParams{}, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	market := drift.Perp(r.MarketIndex)
	if r.Price.IsPositive() {
		price, err := drift.ToPriceChecked(r.Price)
		if err != nil {
			return drift.OrderParams{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if price == 0 {
			return drift.OrderParams{}, fmt.Errorf("%w: price %s below precision", ErrInvalidInput, r.Price)
		}
		return drift.LimitOrder(market, base, price, r.PostOnly), nil
	}
	return drift.MarketOrder(market, base), nil
}

// PlaceResult describes a single-shot submission.
type PlaceResult struct {
	TxID      string            `json:"tx_id"`
	Order     drift.OrderParams `json:"order"`
	Submitted int               `json:"submitted"`
	Requested int               `json:"requested"`
}

// PlaceFirst validates every request and submits only the first one.
func (e *Executor) PlaceFirst(ctx context.Context, reqs []OrderRequest) (*PlaceResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no orders", ErrInvalidInput)
	}

	params := make([]drift.OrderParams, len(reqs))
	for i, r := range reqs {
		p, err := r.Params()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		params[i] = p
	}

	if len(params) > 1 {
		e.opts.log.Warn("only the first order is submitted", zap.Int("requested", len(params)))
	}

	tx, err := e.Submit(ctx, params[0])
	if err != nil {
		return nil, err
	}

	return &PlaceResult{
		TxID:      tx,
		Order:     params[0],
		Submitted: 1,
		Requested: len(params),
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrStaleState):
		return "stale"
	case errors.Is(err, ErrMaxRetriesExceeded):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "rejected"
	}
}
