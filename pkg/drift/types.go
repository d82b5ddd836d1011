// Package drift provides exchange types, precision helpers and a REST client
// for a Drift gateway. The gateway signs and relays transactions; this package
// treats the on-chain program as an opaque remote service.
package drift

import (
	"errors"
	"fmt"
)

const (
	// DefaultGatewayURL is the local gateway base URL
	DefaultGatewayURL = "http://127.0.0.1:8080"

	// BasePrecision is the native scale of base asset amounts (1e9).
	BasePrecision = 1_000_000_000

	// PricePrecision is the native scale of prices (1e6).
	PricePrecision = 1_000_000

	// QuotePrecision is the native scale of quote (USDC) amounts (1e6).
	QuotePrecision = 1_000_000
)

// ErrBlockhashNotFound is returned when the gateway reports an expired
// recent blockhash. Retrying the same request will not help.
var ErrBlockhashNotFound = errors.New("blockhash not found")

// MarketType distinguishes perpetual and spot markets.
type MarketType string

const (
	MarketTypePerp MarketType = "perp"
	MarketTypeSpot MarketType = "spot"
)

// MarketID identifies a market by index and kind.
type MarketID struct {
	Index uint16     `json:"market_index"`
	Kind  MarketType `json:"market_type"`
}

// Perp returns the perp market id for index.
func Perp(index uint16) MarketID {
	return MarketID{Index: index, Kind: MarketTypePerp}
}

// Spot returns the spot market id for index.
func Spot(index uint16) MarketID {
	return MarketID{Index: index, Kind: MarketTypeSpot}
}

func (m MarketID) String() string {
	if name, ok := MarketName(m); ok {
		return name
	}
	return fmt.Sprintf("%s-%d", m.Kind, m.Index)
}

// OrderType represents the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Direction represents the side of an order.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// OrderStatus represents the lifecycle state of an on-chain order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderParams is a native-unit order request.
type OrderParams struct {
	OrderType       OrderType  `json:"orderType"`
	MarketType      MarketType `json:"marketType"`
	MarketIndex     uint16     `json:"marketIndex"`
	Direction       Direction  `json:"direction"`
	BaseAssetAmount uint64     `json:"amount"`
	Price           uint64     `json:"price,omitempty"`
	PostOnly        bool       `json:"postOnly,omitempty"`
	ReduceOnly      bool       `json:"reduceOnly,omitempty"`
}

// Market returns the order's market id.
func (o OrderParams) Market() MarketID {
	return MarketID{Index: o.MarketIndex, Kind: o.MarketType}
}

// Validate checks the order is well formed.
func (o OrderParams) Validate() error {
	if o.BaseAssetAmount == 0 {
		return fmt.Errorf("order amount must be non-zero")
	}
	switch o.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.Price == 0 {
			return fmt.Errorf("limit order requires a price")
		}
	default:
		return fmt.Errorf("unknown order type %q", o.OrderType)
	}
	if o.Direction != DirectionLong && o.Direction != DirectionShort {
		return fmt.Errorf("unknown direction %q", o.Direction)
	}
	return nil
}

// MarketOrder builds a perp market order. The sign of base selects the
// direction: positive is long, negative is short.
func MarketOrder(market MarketID, base int64) OrderParams {
	dir, amount := splitSigned(base)
	return OrderParams{
		OrderType:       OrderTypeMarket,
		MarketType:      market.Kind,
		MarketIndex:     market.Index,
		Direction:       dir,
		BaseAssetAmount: amount,
	}
}

// LimitOrder builds a limit order at a native price.
func LimitOrder(market MarketID, base int64, price uint64, postOnly bool) OrderParams {
	o := MarketOrder(market, base)
	o.OrderType = OrderTypeLimit
	o.Price = price
	o.PostOnly = postOnly
	return o
}

func splitSigned(base int64) (Direction, uint64) {
	if base < 0 {
		return DirectionShort, uint64(-base)
	}
	return DirectionLong, uint64(base)
}

// PerpPosition is a perp position slot on a user account.
type PerpPosition struct {
	MarketIndex      uint16 `json:"marketIndex"`
	BaseAssetAmount  int64  `json:"baseAssetAmount"`
	QuoteAssetAmount int64  `json:"quoteAssetAmount"`
	QuoteEntryAmount int64  `json:"quoteEntryAmount"`
	OpenOrders       uint8  `json:"openOrders"`
	LPShares         uint64 `json:"lpShares"`
}

// IsOpen reports whether the slot holds a position, open orders or LP shares.
func (p PerpPosition) IsOpen() bool {
	return p.BaseAssetAmount != 0 || p.OpenOrders != 0 || p.LPShares != 0
}

// IsLong reports whether the position is net long.
func (p PerpPosition) IsLong() bool {
	return p.BaseAssetAmount > 0
}

// UnrealizedPnL returns the quote-precision PnL at a native oracle price.
func (p PerpPosition) UnrealizedPnL(oraclePrice int64) int64 {
	value := BaseToQuote(p.BaseAssetAmount, oraclePrice)
	return value + p.QuoteAssetAmount
}

// BalanceType marks a spot balance as a deposit or a borrow.
type BalanceType string

const (
	BalanceDeposit BalanceType = "deposit"
	BalanceBorrow  BalanceType = "borrow"
)

// SpotPosition is a spot balance slot on a user account.
type SpotPosition struct {
	MarketIndex        uint16      `json:"marketIndex"`
	ScaledBalance      uint64      `json:"scaledBalance"`
	BalanceType        BalanceType `json:"balanceType"`
	CumulativeDeposits int64       `json:"cumulativeDeposits"`
	OpenOrders         uint8       `json:"openOrders"`
}

// IsAvailable reports whether the slot is empty.
func (s SpotPosition) IsAvailable() bool {
	return s.ScaledBalance == 0 && s.OpenOrders == 0
}

// Order is an order resting on a user account.
type Order struct {
	OrderID               uint32      `json:"orderId"`
	MarketIndex           uint16      `json:"marketIndex"`
	MarketType            MarketType  `json:"marketType"`
	OrderType             OrderType   `json:"orderType"`
	Status                OrderStatus `json:"status"`
	Direction             Direction   `json:"direction"`
	Price                 uint64      `json:"price"`
	BaseAssetAmount       uint64      `json:"baseAssetAmount"`
	BaseAssetAmountFilled uint64      `json:"baseAssetAmountFilled"`
	ReduceOnly            bool        `json:"reduceOnly"`
	PostOnly              bool        `json:"postOnly"`
}

// UserAccount is a snapshot of a sub-account's positions and orders.
type UserAccount struct {
	Authority     string         `json:"authority"`
	SubAccountID  uint16         `json:"subAccountId"`
	PerpPositions []PerpPosition `json:"perpPositions"`
	SpotPositions []SpotPosition `json:"spotPositions"`
	Orders        []Order        `json:"orders"`
}

// OracleResponse is the gateway's oracle price payload.
type OracleResponse struct {
	MarketIndex uint16     `json:"marketIndex"`
	MarketType  MarketType `json:"marketType"`
	Price       int64      `json:"price"`
	Slot        uint64     `json:"slot,omitempty"`
}

// PlaceOrdersRequest is the gateway's order submission payload.
type PlaceOrdersRequest struct {
	SubAccountID uint16        `json:"subAccountId"`
	Orders       []OrderParams `json:"orders"`
}

// TxResponse carries the signature of a submitted transaction.
type TxResponse struct {
	Tx string `json:"tx"`
}

// APIError is a non-success gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
