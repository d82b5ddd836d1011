package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/stretchr/testify/require"
)

// fakeExchange replays a price sequence (the last price repeats) and records
// every order. Errors are injected per call number, starting at 1.
type fakeExchange struct {
	mu sync.Mutex

	prices    []int64
	oracleErr func(call int) error
	placeErr  func(call int) error
	cancelErr func(call int) error
	account   *drift.UserAccount

	oracleCalls int
	placeCalls  int
	cancelCalls int
	placed      []drift.OrderParams
	dials       int
	closes      int
}

func (f *fakeExchange) OraclePrice(ctx context.Context, market drift.MarketID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.oracleCalls++
	if f.oracleErr != nil {
		if err := f.oracleErr(f.oracleCalls); err != nil {
			return 0, err
		}
	}
	if len(f.prices) == 0 {
		return 0, fmt.Errorf("no price for %s", market)
	}
	p := f.prices[0]
	if len(f.prices) > 1 {
		f.prices = f.prices[1:]
	}
	return p, nil
}

func (f *fakeExchange) UserAccount(ctx context.Context) (*drift.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return &drift.UserAccount{}, nil
	}
	return f.account, nil
}

func (f *fakeExchange) PlaceOrders(ctx context.Context, orders []drift.OrderParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placeCalls++
	if f.placeErr != nil {
		if err := f.placeErr(f.placeCalls); err != nil {
			return "", err
		}
	}
	f.placed = append(f.placed, orders...)
	return fmt.Sprintf("tx-%d", len(f.placed)), nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelCalls++
	if f.cancelErr != nil {
		if err := f.cancelErr(f.cancelCalls); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("cancel-%d", f.cancelCalls), nil
}

func (f *fakeExchange) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeExchange) dial(ctx context.Context) (Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return f, nil
}

func (f *fakeExchange) orders() []drift.OrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]drift.OrderParams(nil), f.placed...)
}

func (f *fakeExchange) counts() (dials, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.closes
}

// fakeClock advances its time by every requested sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) options() []Option {
	return []Option{WithSleep(c.Sleep), WithClock(c.Now)}
}

// blockingSleep waits until the context ends.
func blockingSleep(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordedEvent struct {
	eventType string
	data      interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType, data})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.eventType
	}
	return out
}

func waitRun(t *testing.T, e *Engine, id string) RunSnapshot {
	t.Helper()
	r, ok := e.Trackers().Find(id)
	require.True(t, ok, "run %s not tracked", id)

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}
	return r.Snapshot()
}

func sequentialIDs() Option {
	var mu sync.Mutex
	n := 0
	return WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	})
}
