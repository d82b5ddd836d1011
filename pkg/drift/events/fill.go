package events

import (
	"encoding/json"
	"fmt"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
)

// Event types carried by the gateway feed.
const (
	TypeFill        = "fill"
	TypeOrderCreate = "orderCreate"
	TypeOrderCancel = "orderCancel"
	TypeOrderExpire = "orderExpire"
	TypeFunding     = "fundingPayment"
)

// Fill is a gateway fill event. Amounts and prices are already in
// human units.
type Fill struct {
	Side        string           `json:"side"`
	Amount      decimal.Decimal  `json:"amount"`
	Price       decimal.Decimal  `json:"price"`
	OraclePrice decimal.Decimal  `json:"oraclePrice"`
	Fee         decimal.Decimal  `json:"fee"`
	OrderID     uint64           `json:"orderId"`
	MarketIndex uint16           `json:"marketIndex"`
	MarketType  drift.MarketType `json:"marketType"`
	Timestamp   int64            `json:"ts"`
	Signature   string           `json:"signature"`
}

// Market returns the fill's market id.
func (f Fill) Market() drift.MarketID {
	return drift.MarketID{Index: f.MarketIndex, Kind: f.MarketType}
}

// Fill decodes the event as a fill.
func (e Event) Fill() (*Fill, error) {
	if e.Type != TypeFill {
		return nil, fmt.Errorf("event %s is not a fill", e.Type)
	}
	var f Fill
	if err := json.Unmarshal(e.Data, &f); err != nil {
		return nil, fmt.Errorf("decode fill: %w", err)
	}
	return &f, nil
}
