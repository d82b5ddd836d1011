package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/phenomenon0/perp-agents/pkg/drift"

	"go.uber.org/zap"
)

// Engine starts strategy runs in the background and serves one-off executor
// calls. Each run dials and owns its own exchange handle.
type Engine struct {
	dial     Dialer
	trackers *Trackers
	opts     options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders launches against Shutdown: once closed is set no run is
	// added to wg.
	mu     sync.Mutex
	closed bool
}

// NewEngine creates an engine. Trackers are owned by the caller so they can
// be shared with whatever reports on runs.
func NewEngine(dial Dialer, trackers *Trackers, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if trackers == nil {
		trackers = NewTrackers()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		dial:     dial,
		trackers: trackers,
		opts:     o,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Trackers returns the run trackers.
func (e *Engine) Trackers() *Trackers {
	return e.trackers
}

// Do dials an exchange, runs fn with an executor over it and closes it.
func (e *Engine) Do(ctx context.Context, source string, fn func(x *Executor) error) error {
	ex, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial exchange: %w", err)
	}
	defer e.closeExchange(ex, source)

	return fn(newExecutor(ex, source, e.opts))
}

// StartResult is returned by strategy entry points.
type StartResult struct {
	Run RunSnapshot `json:"run"`
	// Existing is true when a live run blocked a new one from starting.
	Existing bool `json:"existing"`
}

// Runs returns snapshots of every tracked run.
func (e *Engine) Runs() []RunSnapshot {
	return e.trackers.Snapshots()
}

// Run returns one run snapshot.
func (e *Engine) Run(id string) (RunSnapshot, error) {
	r, ok := e.trackers.Find(id)
	if !ok {
		return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r.Snapshot(), nil
}

// StopRun requests cancellation of a run. Stopping a finished run is a no-op.
func (e *Engine) StopRun(id string) (RunSnapshot, error) {
	r, ok := e.trackers.Find(id)
	if !ok {
		return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if r.Live() {
		e.opts.log.Info("stopping run", zap.String("run_id", id), zap.String("kind", string(r.Kind())))
		r.Stop()
	}
	return r.Snapshot(), nil
}

// Shutdown cancels every run and waits for them to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type runFunc func(ctx context.Context, run *Run, x *Executor) (Status, error)

func (e *Engine) newRun(kind Kind, market drift.MarketID, params interface{}) (*Run, context.Context) {
	r := newRun(e.opts.newID(), kind, market, params, e.opts.now())
	ctx, cancel := context.WithCancel(e.ctx)
	r.cancel = cancel
	return r, ctx
}

// launch tracks run with insert and spawns fn for it. insert reports false
// with the live run when run must not start.
func (e *Engine) launch(run *Run, runCtx context.Context, insert func(*Run) (*Run, bool), fn runFunc) (*StartResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		run.cancel()
		return nil, ErrEngineStopped
	}
	existing, ok := insert(run)
	if !ok {
		e.mu.Unlock()
		run.cancel()
		return &StartResult{Run: existing.Snapshot(), Existing: true}, nil
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.spawn(runCtx, run, fn)
	return &StartResult{Run: run.Snapshot()}, nil
}

func (e *Engine) stopped() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineStopped
	}
	return nil
}

// spawn executes fn in a goroutine that owns a freshly dialed exchange. The
// caller has already added the run to wg.
func (e *Engine) spawn(ctx context.Context, run *Run, fn runFunc) {
	log := e.opts.log.With(
		zap.String("run_id", run.id),
		zap.String("kind", string(run.kind)),
		zap.Stringer("market", run.market),
	)

	e.opts.metrics.RunStarted(string(run.kind))
	e.opts.publish(EventRunStarted, run.Snapshot())
	log.Info("run started")

	go func() {
		defer e.wg.Done()
		defer close(run.done)
		defer run.cancel()

		status, err := e.execute(ctx, run, fn)
		if err != nil && status == StatusRunning {
			status = StatusFailed
		}
		run.finish(status, err, e.opts.now())

		e.opts.metrics.RunFinished(string(run.kind), string(status))
		e.opts.publish(EventRunFinished, run.Snapshot())
		if err != nil {
			log.Error("run finished with error", zap.String("status", string(status)), zap.Error(err))
			e.opts.publish(EventError, RunError{RunID: run.id, Error: err.Error()})
			return
		}
		log.Info("run finished", zap.String("status", string(status)))
	}()
}

func (e *Engine) execute(ctx context.Context, run *Run, fn runFunc) (Status, error) {
	ex, err := e.dial(ctx)
	if err != nil {
		return StatusFailed, fmt.Errorf("dial exchange: %w", err)
	}
	defer e.closeExchange(ex, run.id)

	x := newExecutor(ex, string(run.kind), e.opts)
	x.runID = run.id
	x.opts.log = x.opts.log.With(zap.String("run_id", run.id))
	return fn(ctx, run, x)
}

func (e *Engine) closeExchange(ex Exchange, owner string) {
	if err := ex.Close(); err != nil {
		e.opts.log.Warn("close exchange failed", zap.String("owner", owner), zap.Error(err))
	}
}

// stoppedStatus maps a context error at a loop boundary to a run status.
func stoppedStatus(ctx context.Context) (Status, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return StatusStopped, nil
	}
	return StatusStopped, ctx.Err()
}

func (e *Engine) progress(run *Run) {
	e.opts.publish(EventRunProgress, run.Snapshot())
}
