package main

import (
	"context"

	"github.com/phenomenon0/perp-agents/internal/config"
	"github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/drift/paper"
	"github.com/phenomenon0/perp-agents/pkg/execution"

	"go.uber.org/zap"
)

// newDialer returns a gateway dialer, or in paper mode one that fills orders
// on a shared in-memory book priced from the gateway oracle.
func newDialer(cfg *config.Config, log *zap.Logger) execution.Dialer {
	wallet := cfg.Wallet()
	dialGateway := func() (*drift.Client, error) {
		return drift.NewClient(wallet,
			drift.WithBaseURL(cfg.GatewayURL),
			drift.WithSubAccount(cfg.SubAccountID),
		)
	}

	if !cfg.PaperMode {
		log.Info("trading live", zap.Stringer("sub_account", wallet.DefaultSubAccount()))
		return func(ctx context.Context) (execution.Exchange, error) {
			return dialGateway()
		}
	}

	book := paper.NewExchange()
	book.OnFill(func(f paper.Fill) {
		log.Info("paper fill",
			zap.String("tx", f.TxID),
			zap.Stringer("market", f.Order.Market()),
			zap.String("direction", string(f.Order.Direction)),
			zap.Uint64("amount", f.Order.BaseAssetAmount),
			zap.Int64("price", f.Price),
		)
	})
	log.Warn("paper mode: orders are simulated")

	return func(ctx context.Context) (execution.Exchange, error) {
		prices, err := dialGateway()
		if err != nil {
			return nil, err
		}
		return &paperExchange{Exchange: book, prices: prices}, nil
	}
}

// paperExchange reads oracle prices from the gateway and trades on the
// paper book.
type paperExchange struct {
	*paper.Exchange
	prices *drift.Client
}

func (p *paperExchange) OraclePrice(ctx context.Context, market drift.MarketID) (int64, error) {
	price, err := p.prices.OraclePrice(ctx, market)
	if err != nil {
		return 0, err
	}
	p.SetOraclePrice(market, price)
	return price, nil
}

func (p *paperExchange) Close() error {
	return p.prices.Close()
}
