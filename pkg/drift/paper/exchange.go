// Package paper provides an in-memory Drift exchange for dry runs.
// Market orders fill instantly at the oracle price; marketable limit orders
// fill at the oracle price and the rest rest on the book until cancelled.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/google/uuid"
)

// ErrNoPrice is returned when no oracle price has been set for a market.
var ErrNoPrice = errors.New("no oracle price")

// Fill records an executed paper order.
type Fill struct {
	TxID  string            `json:"tx_id"`
	Order drift.OrderParams `json:"order"`
	Price int64             `json:"price"`
	Time  time.Time         `json:"time"`
}

// Exchange is the paper trading exchange.
type Exchange struct {
	mu        sync.RWMutex
	prices    map[drift.MarketID]int64
	positions map[uint16]*drift.PerpPosition
	orders    []drift.Order
	fills     []Fill
	orderSeq  uint32

	// Callbacks
	onFill func(Fill)
}

// NewExchange creates an empty paper exchange.
func NewExchange() *Exchange {
	return &Exchange{
		prices:    make(map[drift.MarketID]int64),
		positions: make(map[uint16]*drift.PerpPosition),
	}
}

// OnFill sets a callback for fill events.
func (e *Exchange) OnFill(fn func(Fill)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = fn
}

// SetOraclePrice sets the native oracle price for a market and fills any
// resting limit orders it crosses.
func (e *Exchange) SetOraclePrice(market drift.MarketID, price int64) {
	e.mu.Lock()
	e.prices[market] = price
	fills := e.matchResting(market, price)
	cb := e.onFill
	e.mu.Unlock()

	if cb != nil {
		for _, f := range fills {
			cb(f)
		}
	}
}

// SetPosition overwrites a perp position slot.
func (e *Exchange) SetPosition(pos drift.PerpPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := pos
	e.positions[pos.MarketIndex] = &p
}

// OraclePrice returns the last price set for a market.
func (e *Exchange) OraclePrice(ctx context.Context, market drift.MarketID) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, ok := e.prices[market]
	if !ok {
		return 0, fmt.Errorf("%w for %s", ErrNoPrice, market)
	}
	return price, nil
}

// UserAccount returns a snapshot of positions and orders.
func (e *Exchange) UserAccount(ctx context.Context) (*drift.UserAccount, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	account := &drift.UserAccount{
		PerpPositions: make([]drift.PerpPosition, 0, len(e.positions)),
		Orders:        append([]drift.Order(nil), e.orders...),
	}
	for _, p := range e.positions {
		account.PerpPositions = append(account.PerpPositions, *p)
	}
	sort.Slice(account.PerpPositions, func(i, j int) bool {
		return account.PerpPositions[i].MarketIndex < account.PerpPositions[j].MarketIndex
	})
	return account, nil
}

// PlaceOrders executes orders against the current oracle prices.
func (e *Exchange) PlaceOrders(ctx context.Context, orders []drift.OrderParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i, o := range orders {
		if err := o.Validate(); err != nil {
			return "", fmt.Errorf("order %d: %w", i, err)
		}
		if o.MarketType != drift.MarketTypePerp {
			return "", fmt.Errorf("order %d: only perp markets are supported", i)
		}
	}

	e.mu.Lock()
	txID := "paper-" + uuid.New().String()
	var fills []Fill
	for _, o := range orders {
		price, ok := e.prices[o.Market()]
		if !ok {
			e.mu.Unlock()
			return "", fmt.Errorf("%w for %s", ErrNoPrice, o.Market())
		}

		if o.OrderType == drift.OrderTypeMarket || crosses(o.Direction, o.Price, price) {
			fills = append(fills, e.fill(txID, o, price))
			continue
		}
		e.rest(o)
	}
	cb := e.onFill
	e.mu.Unlock()

	if cb != nil {
		for _, f := range fills {
			cb(f)
		}
	}
	return txID, nil
}

// CancelAllOrders removes every resting order.
func (e *Exchange) CancelAllOrders(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.orders {
		if e.orders[i].Status == drift.OrderStatusOpen {
			e.orders[i].Status = drift.OrderStatusCanceled
			if p := e.positions[e.orders[i].MarketIndex]; p != nil && p.OpenOrders > 0 {
				p.OpenOrders--
			}
		}
	}
	return "paper-" + uuid.New().String(), nil
}

// Fills returns a copy of the fill history.
func (e *Exchange) Fills() []Fill {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Fill(nil), e.fills...)
}

// Close is a no-op; the exchange outlives the clients that use it.
func (e *Exchange) Close() error {
	return nil
}

func crosses(dir drift.Direction, limit uint64, oracle int64) bool {
	if dir == drift.DirectionLong {
		return int64(limit) >= oracle
	}
	return int64(limit) <= oracle
}

func (e *Exchange) position(index uint16) *drift.PerpPosition {
	p, ok := e.positions[index]
	if !ok {
		p = &drift.PerpPosition{MarketIndex: index}
		e.positions[index] = p
	}
	return p
}

// fill must be called with mu held.
func (e *Exchange) fill(txID string, o drift.OrderParams, price int64) Fill {
	base := int64(o.BaseAssetAmount)
	if o.Direction == drift.DirectionShort {
		base = -base
	}
	quote := drift.BaseToQuote(base, price)

	p := e.position(o.MarketIndex)
	p.BaseAssetAmount += base
	p.QuoteAssetAmount -= quote
	p.QuoteEntryAmount -= quote
	if p.BaseAssetAmount == 0 {
		p.QuoteEntryAmount = 0
	}

	f := Fill{TxID: txID, Order: o, Price: price, Time: time.Now()}
	e.fills = append(e.fills, f)
	return f
}

// rest must be called with mu held.
func (e *Exchange) rest(o drift.OrderParams) {
	e.orderSeq++
	e.orders = append(e.orders, drift.Order{
		OrderID:         e.orderSeq,
		MarketIndex:     o.MarketIndex,
		MarketType:      o.MarketType,
		OrderType:       o.OrderType,
		Status:          drift.OrderStatusOpen,
		Direction:       o.Direction,
		Price:           o.Price,
		BaseAssetAmount: o.BaseAssetAmount,
		ReduceOnly:      o.ReduceOnly,
		PostOnly:        o.PostOnly,
	})
	e.position(o.MarketIndex).OpenOrders++
}

// matchResting must be called with mu held.
func (e *Exchange) matchResting(market drift.MarketID, price int64) []Fill {
	var fills []Fill
	for i := range e.orders {
		o := &e.orders[i]
		if o.Status != drift.OrderStatusOpen || o.MarketIndex != market.Index || o.MarketType != market.Kind {
			continue
		}
		if !crosses(o.Direction, o.Price, price) {
			continue
		}

		params := drift.OrderParams{
			OrderType:       o.OrderType,
			MarketType:      o.MarketType,
			MarketIndex:     o.MarketIndex,
			Direction:       o.Direction,
			BaseAssetAmount: o.BaseAssetAmount,
			Price:           o.Price,
		}
		fills = append(fills, e.fill(fmt.Sprintf("paper-order-%d", o.OrderID), params, price))
		o.Status = drift.OrderStatusFilled
		o.BaseAssetAmountFilled = o.BaseAssetAmount
		if p := e.positions[o.MarketIndex]; p != nil && p.OpenOrders > 0 {
			p.OpenOrders--
		}
	}
	return fills
}
