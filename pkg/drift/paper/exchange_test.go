package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/phenomenon0/perp-agents/pkg/drift"
)

func TestMarketOrderFillsAtOracle(t *testing.T) {
	ex := NewExchange()
	ex.SetOraclePrice(drift.Perp(0), 150_000_000)

	var filled []Fill
	ex.OnFill(func(f Fill) { filled = append(filled, f) })

	tx, err := ex.PlaceOrders(context.Background(), []drift.OrderParams{
		drift.MarketOrder(drift.Perp(0), 2_000_000_000),
	})
	if err != nil {
		t.Fatalf("PlaceOrders failed: %v", err)
	}
	if tx == "" {
		t.Error("Expected tx id")
	}
	if len(filled) != 1 || filled[0].Price != 150_000_000 {
		t.Errorf("Wrong fills: %+v", filled)
	}

	account, _ := ex.UserAccount(context.Background())
	if len(account.PerpPositions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(account.PerpPositions))
	}
	p := account.PerpPositions[0]
	if p.BaseAssetAmount != 2_000_000_000 {
		t.Errorf("Wrong base: got %d", p.BaseAssetAmount)
	}
	if p.QuoteAssetAmount != -300_000_000 {
		t.Errorf("Wrong quote: got %d", p.QuoteAssetAmount)
	}

	// Price up 10 -> PnL of 20 USDC on 2 units
	if pnl := p.UnrealizedPnL(160_000_000); pnl != 20_000_000 {
		t.Errorf("Wrong PnL: got %d", pnl)
	}
}

func TestClosingFlattensPosition(t *testing.T) {
	ex := NewExchange()
	ex.SetOraclePrice(drift.Perp(1), 60_000_000_000)

	ctx := context.Background()
	ex.PlaceOrders(ctx, []drift.OrderParams{drift.MarketOrder(drift.Perp(1), -1_000_000_000)})
	ex.PlaceOrders(ctx, []drift.OrderParams{drift.MarketOrder(drift.Perp(1), 1_000_000_000)})

	account, _ := ex.UserAccount(ctx)
	if account.PerpPositions[0].IsOpen() {
		t.Errorf("Position should be flat: %+v", account.PerpPositions[0])
	}
	if len(ex.Fills()) != 2 {
		t.Errorf("Expected 2 fills, got %d", len(ex.Fills()))
	}
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	ex := NewExchange()
	market := drift.Perp(0)
	ex.SetOraclePrice(market, 150_000_000)

	ctx := context.Background()
	_, err := ex.PlaceOrders(ctx, []drift.OrderParams{
		drift.LimitOrder(market, 1_000_000_000, 140_000_000, true),
	})
	if err != nil {
		t.Fatalf("PlaceOrders failed: %v", err)
	}

	account, _ := ex.UserAccount(ctx)
	if len(account.Orders) != 1 || account.Orders[0].Status != drift.OrderStatusOpen {
		t.Fatalf("Expected resting order: %+v", account.Orders)
	}
	if account.PerpPositions[0].OpenOrders != 1 {
		t.Errorf("Wrong open order count: %d", account.PerpPositions[0].OpenOrders)
	}

	ex.SetOraclePrice(market, 139_000_000)

	account, _ = ex.UserAccount(ctx)
	if account.Orders[0].Status != drift.OrderStatusFilled {
		t.Errorf("Order should fill once crossed: %s", account.Orders[0].Status)
	}
	if account.PerpPositions[0].BaseAssetAmount != 1_000_000_000 {
		t.Errorf("Wrong base after fill: %d", account.PerpPositions[0].BaseAssetAmount)
	}
}

func TestCancelAllOrders(t *testing.T) {
	ex := NewExchange()
	ex.SetOraclePrice(drift.Perp(0), 150_000_000)

	ctx := context.Background()
	ex.PlaceOrders(ctx, []drift.OrderParams{drift.LimitOrder(drift.Perp(0), -1_000_000_000, 200_000_000, false)})
	if _, err := ex.CancelAllOrders(ctx); err != nil {
		t.Fatalf("CancelAllOrders failed: %v", err)
	}

	account, _ := ex.UserAccount(ctx)
	if account.Orders[0].Status != drift.OrderStatusCanceled {
		t.Errorf("Wrong status: %s", account.Orders[0].Status)
	}
	if account.PerpPositions[0].IsOpen() {
		t.Error("No open orders should remain")
	}
}

func TestPlaceOrdersErrors(t *testing.T) {
	ex := NewExchange()
	ctx := context.Background()

	_, err := ex.PlaceOrders(ctx, []drift.OrderParams{drift.MarketOrder(drift.Perp(3), 1)})
	if !errors.Is(err, ErrNoPrice) {
		t.Errorf("Expected ErrNoPrice, got %v", err)
	}

	if _, err := ex.OraclePrice(ctx, drift.Perp(3)); !errors.Is(err, ErrNoPrice) {
		t.Errorf("Expected ErrNoPrice, got %v", err)
	}

	if _, err := ex.PlaceOrders(ctx, []drift.OrderParams{drift.MarketOrder(drift.Spot(1), 1)}); err == nil {
		t.Error("Expected error for spot order")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := ex.PlaceOrders(cancelled, []drift.OrderParams{drift.MarketOrder(drift.Perp(0), 1)}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
