package execution

import (
	"context"
	"sync"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"github.com/shopspring/decimal"
)

// Kind names a strategy.
type Kind string

const (
	KindTWAP         Kind = "twap"
	KindVWAP         Kind = "vwap"
	KindTrailingStop Kind = "trailing_stop"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusTriggered Status = "triggered"
	StatusFailed    Status = "failed"
)

// TradeSample is one VWAP history point.
type TradeSample struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
}

// Run is the mutable state of one strategy execution. It is written only by
// the goroutine executing the run and read through Snapshot.
type Run struct {
	mu sync.Mutex

	id     string
	kind   Kind
	market drift.MarketID
	params interface{}

	status   Status
	progress int
	failed   int
	total    int

	stopPrice    decimal.Decimal
	extreme      decimal.Decimal
	vwap         decimal.Decimal
	samples      []TradeSample
	historyReady bool

	lastTx  string
	lastErr string

	startedAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newRun(id string, kind Kind, market drift.MarketID, params interface{}, now time.Time) *Run {
	return &Run{
		id:        id,
		kind:      kind,
		market:    market,
		params:    params,
		status:    StatusRunning,
		startedAt: now,
		updatedAt: now,
		cancel:    func() {},
		done:      make(chan struct{}),
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Kind returns the strategy kind.
func (r *Run) Kind() Kind { return r.kind }

// Done is closed when the run's goroutine exits.
func (r *Run) Done() <-chan struct{} { return r.done }

// Live reports whether the run is still executing.
func (r *Run) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusRunning
}

// Stop requests cooperative cancellation.
func (r *Run) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	cancel()
}

func (r *Run) update(now time.Time, fn func(r *Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
	r.updatedAt = now
}

func (r *Run) finish(status Status, err error, now time.Time) {
	r.mu.Lock()
	r.status = status
	if err != nil {
		r.lastErr = err.Error()
	}
	r.updatedAt = now
	r.finishedAt = now
	r.mu.Unlock()
}

// Samples returns a copy of the VWAP history.
func (r *Run) Samples() []TradeSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TradeSample(nil), r.samples...)
}

// RunSnapshot is a point-in-time copy of a run.
type RunSnapshot struct {
	ID           string           `json:"id"`
	Kind         Kind             `json:"kind"`
	Market       string           `json:"market"`
	MarketIndex  uint16           `json:"market_index"`
	Status       Status           `json:"status"`
	Progress     int              `json:"progress"`
	Failed       int              `json:"failed"`
	Total        int              `json:"total,omitempty"`
	StopPrice    *decimal.Decimal `json:"stop_price,omitempty"`
	Extreme      *decimal.Decimal `json:"extreme_price,omitempty"`
	VWAP         *decimal.Decimal `json:"vwap,omitempty"`
	Trades       int              `json:"trades"`
	HistoryReady bool             `json:"history_ready"`
	LastTx       string           `json:"last_tx,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Params       interface{}      `json:"params,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// EventRunID ties the snapshot to its run on the event stream.
func (s RunSnapshot) EventRunID() string {
	return s.ID
}

// Snapshot copies the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RunSnapshot{
		ID:           r.id,
		Kind:         r.kind,
		Market:       r.market.String(),
		MarketIndex:  r.market.Index,
		Status:       r.status,
		Progress:     r.progress,
		Failed:       r.failed,
		Total:        r.total,
		Trades:       len(r.samples),
		HistoryReady: r.historyReady,
		LastTx:       r.lastTx,
		LastError:    r.lastErr,
		Params:       r.params,
		StartedAt:    r.startedAt,
		UpdatedAt:    r.updatedAt,
	}
	switch r.kind {
	case KindTrailingStop:
		stop, extreme := r.stopPrice, r.extreme
		s.StopPrice = &stop
		s.Extreme = &extreme
	case KindVWAP:
		vwap := r.vwap
		s.VWAP = &vwap
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		s.FinishedAt = &finished
	}
	return s
}

// Tracker is a table of runs of one strategy kind. Runs are retained after
// they finish for the life of the process. The lock is held only for a
// single map access.
type Tracker struct {
	mu    sync.Mutex
	kind  Kind
	runs  map[string]*Run
	order []string
}

// NewTracker creates an empty tracker.
func NewTracker(kind Kind) *Tracker {
	return &Tracker{
		kind: kind,
		runs: make(map[string]*Run),
	}
}

// Kind returns the strategy kind tracked.
func (t *Tracker) Kind() Kind { return t.kind }

// Get returns a run by id.
func (t *Tracker) Get(id string) (*Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[id]
	return r, ok
}

// Runs returns every run in start order.
func (t *Tracker) Runs() []*Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Run, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.runs[id])
	}
	return out
}

// Live returns the runs still executing.
func (t *Tracker) Live() []*Run {
	var live []*Run
	for _, r := range t.Runs() {
		if r.Live() {
			live = append(live, r)
		}
	}
	return live
}

// Len returns the number of tracked runs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

// insert always accepts r. Its signature matches insertIfIdle.
func (t *Tracker) insert(r *Run) (*Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[r.id] = r
	t.order = append(t.order, r.id)
	return r, true
}

// insertIfIdle inserts r unless a live run exists, in which case the live
// run is returned and r is not inserted.
func (t *Tracker) insertIfIdle(r *Run) (*Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if existing := t.runs[id]; existing.Live() {
			return existing, false
		}
	}
	t.runs[r.id] = r
	t.order = append(t.order, r.id)
	return r, true
}

// Trackers holds one tracker per strategy kind.
type Trackers struct {
	TWAP     *Tracker
	VWAP     *Tracker
	Trailing *Tracker
}

// NewTrackers creates empty trackers for every strategy kind.
func NewTrackers() *Trackers {
	return &Trackers{
		TWAP:     NewTracker(KindTWAP),
		VWAP:     NewTracker(KindVWAP),
		Trailing: NewTracker(KindTrailingStop),
	}
}

func (ts *Trackers) all() []*Tracker {
	return []*Tracker{ts.TWAP, ts.VWAP, ts.Trailing}
}

// Find looks up a run in any tracker.
func (ts *Trackers) Find(id string) (*Run, bool) {
	for _, t := range ts.all() {
		if r, ok := t.Get(id); ok {
			return r, true
		}
	}
	return nil, false
}

// Snapshots returns snapshots of every run across trackers.
func (ts *Trackers) Snapshots() []RunSnapshot {
	var out []RunSnapshot
	for _, t := range ts.all() {
		for _, r := range t.Runs() {
			out = append(out, r.Snapshot())
		}
	}
	return out
}
