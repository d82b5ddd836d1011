// agentd serves the perp trading tools over HTTP and runs TWAP, VWAP and
// trailing-stop strategies in the background.
package main

import (
	"context"
	"log"
	"time"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/internal/config"
	"github.com/phenomenon0/perp-agents/pkg/askj"
	"github.com/phenomenon0/perp-agents/pkg/execution"
	"github.com/phenomenon0/perp-agents/pkg/logger"
	"github.com/phenomenon0/perp-agents/pkg/metrics"
	"github.com/phenomenon0/perp-agents/pkg/risk"
	"github.com/phenomenon0/perp-agents/pkg/solana"
	"github.com/phenomenon0/perp-agents/pkg/streaming"
	askjtools "github.com/phenomenon0/perp-agents/tools/askj"
	drifttools "github.com/phenomenon0/perp-agents/tools/drift"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module(),
		fx.Provide(
			newLogger,
			metrics.NewExecutionMetrics,
			newHub,
			newGuard,
			execution.NewTrackers,
			newDialer,
			newEngine,
			newAskjClient,
			newAccountReader,
			newRegistry,
			newMux,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(runHTTP, runGatewayEvents),
	)

	if err := app.Err(); err != nil {
		log.Fatalf("Failed to initialize agentd: %v", err)
	}
	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.LogLevel, "agentd")
}

func newHub(lc fx.Lifecycle, log *zap.Logger) *streaming.Hub {
	hub := streaming.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return hub
}

func newGuard(cfg *config.Config, log *zap.Logger) *risk.Guard {
	if cfg.Risk.Enabled() {
		log.Info("risk limits enabled",
			zap.Stringer("max_order_size", cfg.Risk.MaxOrderSize),
			zap.Stringer("max_order_notional", cfg.Risk.MaxOrderNotional),
			zap.Int("max_daily_orders", cfg.Risk.MaxDailyOrders),
		)
	}
	return risk.NewGuard(cfg.Risk)
}

func newEngine(lc fx.Lifecycle, cfg *config.Config, dial execution.Dialer, trackers *execution.Trackers,
	guard *risk.Guard, m *metrics.ExecutionMetrics, hub *streaming.Hub, log *zap.Logger) *execution.Engine {
	engine := execution.NewEngine(dial, trackers,
		execution.WithRetryPolicy(execution.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		execution.WithPollInterval(cfg.TrailingPollInterval),
		execution.WithLogger(logger.Named(log, "execution")),
		execution.WithGuard(guard),
		execution.WithMetrics(m),
		execution.WithPublisher(hub),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("stopping strategy runs", zap.Int("tracked", len(engine.Runs())))
			return engine.Shutdown(ctx)
		},
	})
	return engine
}

func newAskjClient(cfg *config.Config, m *metrics.ExecutionMetrics) *askj.Client {
	opts := []askj.ClientOption{
		askj.WithBaseURL(cfg.AskjURL),
		askj.WithMetrics(m),
	}
	if cfg.AskjKey != nil {
		opts = append(opts, askj.WithKey(cfg.AskjKey))
	}
	return askj.NewClient(opts...)
}

func newAccountReader(cfg *config.Config) drifttools.AccountReader {
	return solana.NewRPCClient(cfg.SolanaRPCURL)
}

func newRegistry(cfg *config.Config, engine *execution.Engine, client *askj.Client, accounts drifttools.AccountReader,
	m *metrics.ExecutionMetrics) *core.ToolRegistry {
	registry := core.NewToolRegistry(core.WithObserver(func(name, status string, elapsed time.Duration) {
		m.RecordTool(name, status, elapsed.Seconds())
	}))

	drifttools.RegisterAll(registry, engine)
	drifttools.RegisterVaultTool(registry, accounts, cfg.Vault)
	askjtools.RegisterTools(registry, client)
	return registry
}
