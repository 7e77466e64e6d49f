// Package dispatcher runs one worker per credential shard and aggregates the
// run's counters.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/metrics"
	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/worker"
)

// Dispatcher fans shards out to workers and exposes pollable counters.
type Dispatcher struct {
	deps    worker.Deps
	cfg     worker.Config
	logger  *zap.Logger
	mu      sync.RWMutex
	workers []*worker.Worker
}

// New creates a Dispatcher. deps.Tally is created when nil so Snapshot is
// always safe to call.
func New(deps worker.Deps, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tally == nil {
		deps.Tally = &harvest.Tally{}
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger}
}

// Run starts one worker per shard and blocks until every shard is exhausted
// or ctx ends. Shards never share work; a slow credential only delays the end
// of the run.
func (d *Dispatcher) Run(ctx context.Context, shards []harvest.Shard) (harvest.Counters, error) {
	if d.deps.Store == nil || d.deps.Classifier == nil {
		return harvest.Counters{}, fmt.Errorf("%w: dispatcher requires a state store and classifier", harvest.ErrConfiguration)
	}
	if len(shards) == 0 {
		return harvest.Counters{}, fmt.Errorf("%w: no shards to run", harvest.ErrConfiguration)
	}
	for i, shard := range shards {
		if shard.Fetcher == nil {
			return harvest.Counters{}, fmt.Errorf("%w: shard %d has no fetcher", harvest.ErrConfiguration, i)
		}
	}

	workers := make([]*worker.Worker, 0, len(shards))
	total := 0
	for _, shard := range shards {
		workers = append(workers, worker.New(shard, d.deps, d.cfg, d.logger))
		total += len(shard.IDs)
	}
	d.mu.Lock()
	d.workers = workers
	d.mu.Unlock()

	start := d.deps.Clock.Now()
	d.emit(progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("shards=%d identifiers=%d", len(shards), total)})
	d.logger.Info("harvest run started", zap.Int("shards", len(shards)), zap.Int("identifiers", total))

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			_ = wk.Run(ctx)
		}(w)
	}
	wg.Wait()

	counters := d.Snapshot()
	elapsed := d.deps.Clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if err := ctx.Err(); err != nil {
		d.emit(progress.Event{Stage: progress.StageRunError, Dur: elapsed, Note: err.Error()})
		d.logger.Warn("harvest run interrupted", zap.Error(err), zap.Any("counters", counters))
		return counters, fmt.Errorf("harvest run interrupted: %w", err)
	}
	d.emit(progress.Event{Stage: progress.StageRunDone, Dur: elapsed})
	d.logger.Info("harvest run finished", zap.Duration("elapsed", elapsed), zap.Any("counters", counters))
	return counters, nil
}

// Snapshot returns the current aggregate counters without touching the store.
func (d *Dispatcher) Snapshot() harvest.Counters {
	return d.deps.Tally.Snapshot()
}

// Workers returns per-credential progress for the current run.
func (d *Dispatcher) Workers() []harvest.WorkerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]harvest.WorkerStatus, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Status())
	}
	return out
}

// Interrupted reports whether err came from an external cancellation.
func Interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (d *Dispatcher) emit(evt progress.Event) {
	evt.RunID = d.deps.RunID
	evt.TS = d.deps.Clock.Now().UTC()
	d.deps.Emitter.Emit(evt)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
