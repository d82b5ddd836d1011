package main

import (
	"context"

	"github.com/phenomenon0/perp-agents/internal/config"
	"github.com/phenomenon0/perp-agents/pkg/drift/events"
	"github.com/phenomenon0/perp-agents/pkg/metrics"
	"github.com/phenomenon0/perp-agents/pkg/streaming"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// runGatewayEvents relays the gateway order and fill feed to websocket
// clients. Paper fills are logged by the paper book instead.
func runGatewayEvents(lc fx.Lifecycle, cfg *config.Config, hub *streaming.Hub,
	m *metrics.ExecutionMetrics, log *zap.Logger) {
	if cfg.GatewayWSURL == "" || cfg.PaperMode {
		return
	}
	log = log.Named("gateway")

	stream := events.NewStream(events.DefaultConfig(cfg.GatewayWSURL, cfg.SubAccountID), events.Handlers{
		OnEvent: func(e events.Event) { relayEvent(hub, m, log, e) },
		OnStateChange: func(_, state events.State) {
			m.SetGatewayConnected(state == events.StateConnected)
		},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := stream.Run(ctx); err != nil {
					log.Error("gateway feed stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func relayEvent(hub *streaming.Hub, m *metrics.ExecutionMetrics, log *zap.Logger, e events.Event) {
	m.RecordGatewayEvent(e.Type)

	if e.Type != events.TypeFill {
		hub.Publish(string(streaming.EventTypeGateway), e)
		return
	}

	fill, err := e.Fill()
	if err != nil {
		log.Warn("undecodable fill", zap.Error(err))
		hub.Publish(string(streaming.EventTypeGateway), e)
		return
	}
	log.Info("fill",
		zap.Stringer("market", fill.Market()),
		zap.String("side", fill.Side),
		zap.Stringer("amount", fill.Amount),
		zap.Stringer("price", fill.Price),
		zap.Uint64("order_id", fill.OrderID),
	)
	hub.Publish(string(streaming.EventTypeGateway), map[string]any{
		"type":           e.Type,
		"sub_account_id": e.SubAccountID,
		"fill":           fill,
	})
}
