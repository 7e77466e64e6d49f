// Package worker implements the per-credential harvest loop.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/metrics"
	"github.com/JakeFAU/activity-harvester/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// RetryTransient leaves timeouts, 429s and 5xx responses unclassified so
	// the next run fetches them again.
	RetryTransient bool
}

// Deps bundles the collaborators every worker of a run shares.
type Deps struct {
	Store      harvest.StateStore
	Classifier harvest.Classifier
	// Records receives listings; nil discards them.
	Records harvest.RecordSink
	Emitter progress.Emitter
	Clock   harvest.Clock
	Tally   *harvest.Tally
	RunID   [16]byte
}

// Worker walks one shard in enumeration order using one credential.
type Worker struct {
	shard    harvest.Shard
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	position atomic.Int64
	done     atomic.Bool
}

// New constructs a Worker for shard.
func New(shard harvest.Shard, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Tally == nil {
		deps.Tally = &harvest.Tally{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	owner := ""
	if shard.Fetcher != nil {
		owner = shard.Fetcher.Owner()
	}
	return &Worker{
		shard:  shard,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("credential", owner)),
	}
}

// Run processes every identifier of the shard. It returns ctx.Err() when
// interrupted; the identifier in flight at that moment is left unclassified.
func (w *Worker) Run(ctx context.Context) error {
	defer w.done.Store(true)
	w.logger.Info("worker started", zap.Int("shard_size", len(w.shard.IDs)))
	for i, id := range w.shard.IDs {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker interrupted", zap.Int64("position", int64(i)))
			return err
		}
		w.process(ctx, id)
		w.position.Store(int64(i + 1))
	}
	w.logger.Info("worker finished",
		zap.Int("shard_size", len(w.shard.IDs)),
		zap.Int64("calls", w.shard.Fetcher.Calls()),
	)
	return ctx.Err()
}

// Status reports the worker's progress through its shard.
func (w *Worker) Status() harvest.WorkerStatus {
	return harvest.WorkerStatus{
		Owner:     w.shard.Fetcher.Owner(),
		ShardSize: len(w.shard.IDs),
		Position:  w.position.Load(),
		Calls:     w.shard.Fetcher.Calls(),
		Done:      w.done.Load(),
	}
}

func (w *Worker) process(ctx context.Context, id int64) {
	owner := w.shard.Fetcher.Owner()
	if w.deps.Store.AlreadyClassified(id) {
		w.deps.Tally.Skipped()
		metrics.ObserveSkipped(owner)
		w.emit(progress.Event{Stage: progress.StageSkipped, Identifier: id})
		return
	}

	outcome := w.shard.Fetcher.Fetch(ctx, id)
	if ctx.Err() != nil {
		return
	}
	if w.cfg.RetryTransient && outcome.Transient() {
		w.deps.Tally.Deferred()
		metrics.ObserveDeferred(owner)
		w.logger.Debug("transient failure deferred",
			zap.Int64("identifier", id),
			zap.Stringer("outcome", outcome.Kind),
			zap.Int("status", outcome.StatusCode),
		)
		w.emit(progress.Event{
			Stage:      progress.StageDeferred,
			Identifier: id,
			Dur:        outcome.Duration,
			Note:       outcome.Kind.String(),
		})
		return
	}

	class := w.deps.Classifier.Classify(outcome)
	if len(class.Listings) > 0 && w.deps.Records != nil {
		if err := w.deps.Records.AppendListings(ctx, id, class.Listings); err != nil {
			w.fail(id, outcome.Duration, "append listings failed", err)
			return
		}
	}

	err := w.deps.Store.Record(ctx, id, class)
	switch {
	case errors.Is(err, harvest.ErrAlreadyClassified):
		w.deps.Tally.Skipped()
		metrics.ObserveSkipped(owner)
		w.emit(progress.Event{Stage: progress.StageSkipped, Identifier: id, Note: err.Error()})
		return
	case err != nil:
		w.fail(id, outcome.Duration, "record classification failed", err)
		return
	}

	w.deps.Tally.Classified(class.Kind)
	w.logger.Debug("identifier classified",
		zap.Int64("identifier", id),
		zap.Stringer("classification", class),
		zap.Duration("duration", outcome.Duration),
	)
	w.emit(progress.Event{
		Stage:          progress.StageClassified,
		Identifier:     id,
		Classification: class.Kind.String(),
		Reason:         class.Reason,
		LastSeen:       class.LastSeen,
		Listings:       len(class.Listings),
		Dur:            outcome.Duration,
	})
}

func (w *Worker) fail(id int64, dur time.Duration, msg string, err error) {
	w.deps.Tally.Failed()
	metrics.ObserveFailed(w.shard.Fetcher.Owner())
	w.logger.Error(msg, zap.Int64("identifier", id), zap.Error(err))
	w.emit(progress.Event{
		Stage:      progress.StageFailed,
		Identifier: id,
		Dur:        dur,
		Note:       err.Error(),
	})
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.deps.RunID
	evt.TS = w.deps.Clock.Now().UTC()
	evt.Credential = w.shard.Fetcher.Owner()
	w.deps.Emitter.Emit(evt)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
