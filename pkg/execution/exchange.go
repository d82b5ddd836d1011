// Package execution implements retried oracle reads and order submission,
// single-shot orders, position close, and the TWAP, VWAP and trailing-stop
// strategies that run in the background against a Drift exchange.
package execution

import (
	"context"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Exchange is the remote exchange surface the executor consumes.
// *drift.Client and *paper.Exchange both satisfy it.
type Exchange interface {
	OraclePrice(ctx context.Context, market drift.MarketID) (int64, error)
	UserAccount(ctx context.Context) (*drift.UserAccount, error)
	PlaceOrders(ctx context.Context, orders []drift.OrderParams) (string, error)
	CancelAllOrders(ctx context.Context) (string, error)
	Close() error
}

// Dialer opens a new exchange handle. Each strategy run dials its own.
type Dialer func(ctx context.Context) (Exchange, error)

// Publisher receives run and order events.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Event type names passed to Publisher.
const (
	EventRunStarted  = "run_started"
	EventRunProgress = "run_progress"
	EventRunFinished = "run_finished"
	EventOrder       = "order"
	EventError       = "error"
)

type options struct {
	policy       RetryPolicy
	sleep        SleepFunc
	now          func() time.Time
	newID        func() string
	pollInterval time.Duration
	log          *zap.Logger
	metrics      *metrics.ExecutionMetrics
	events       Publisher
	guard        OrderGuard
}

func defaultOptions() options {
	return options{
		policy:       DefaultRetryPolicy(),
		sleep:        SleepContext,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		pollInterval: 3 * time.Second,
		log:          zap.NewNop(),
	}
}

// Option configures an Executor or Engine.
type Option func(*options)

// WithRetryPolicy sets the backoff policy for remote calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithSleep replaces the wait used for backoff and strategy intervals.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithPollInterval sets the trailing-stop price poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.ExecutionMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// OrderGuard vets orders before they are submitted.
type OrderGuard interface {
	CheckOrder(order drift.OrderParams) error
	RecordOrder(order drift.OrderParams)
}

// WithGuard checks every order against g before submission.
func WithGuard(g OrderGuard) Option {
	return func(o *options) {
		o.guard = g
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.events = p
	}
}

func (o *options) publish(eventType string, data interface{}) {
	if o.events != nil {
		o.events.Publish(eventType, data)
	}
}
