package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/credential"
	"github.com/JakeFAU/activity-harvester/internal/dispatcher"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
	uuidgen "github.com/JakeFAU/activity-harvester/internal/id/uuid"
	"github.com/JakeFAU/activity-harvester/internal/progress"
	"github.com/JakeFAU/activity-harvester/internal/state"
	"github.com/JakeFAU/activity-harvester/internal/storage/csvfile"
	"github.com/JakeFAU/activity-harvester/internal/worker"
)

// Variant selects what a run harvests.
type Variant string

// Supported variants.
const (
	// VariantActivity classifies identifiers by last-action recency.
	VariantActivity Variant = "activity"
	// VariantBazaar records seller listings and classifies by listing presence.
	VariantBazaar Variant = "bazaar"
)

// Result summarizes one finished (or interrupted) run.
type Result struct {
	RunID    uuid.UUID
	Counters harvest.Counters
	Sets     harvest.SetSizes
	Archived []string
	Elapsed  time.Duration
}

type run struct {
	disp  *dispatcher.Dispatcher
	store *state.Store
}

// Harvest executes one run of variant over ids. When ids is nil the
// identifiers come from harvest.ids_file or the harvest.start..end range.
// An interrupted run returns its partial Result together with an error for
// which dispatcher.Interrupted reports true.
func (a *App) Harvest(ctx context.Context, variant Variant, ids []int64) (Result, error) {
	if ids == nil {
		var err error
		if ids, err = a.identifiers(); err != nil {
			return Result{}, err
		}
	}
	if err := harvest.ValidateIDs(ids); err != nil {
		return Result{}, err
	}

	classifier, template, err := a.classifierFor(variant)
	if err != nil {
		return Result{}, err
	}
	fetchers, err := credential.Pool(a.cfg.Credentials, a.getter, template, a.logger.Named("credential"))
	if err != nil {
		return Result{}, err
	}
	shards, err := credential.Partition(ids, fetchers)
	if err != nil {
		return Result{}, err
	}

	target, err := a.openState(ctx, variant)
	if err != nil {
		return Result{}, err
	}
	st := state.New(target.backend, state.Options{RefreshActive: a.cfg.Harvest.RefreshActive}, a.logger.Named("state"))
	if err := st.Load(ctx); err != nil {
		_ = st.Close()
		target.close(a.logger)
		return Result{}, fmt.Errorf("load state: %w", err)
	}

	runID, err := uuidgen.New().NewRunID()
	if err != nil {
		_ = st.Close()
		target.close(a.logger)
		return Result{}, err
	}
	disp := dispatcher.New(worker.Deps{
		Store:      st,
		Classifier: classifier,
		Records:    target.records,
		Emitter:    a.hub,
		Clock:      a.clock,
		RunID:      progress.UUIDToBytes(runID),
	}, worker.Config{RetryTransient: a.cfg.Harvest.RetryTransient}, a.logger.Named("dispatcher").With(zap.String("run_id", runID.String())))

	a.mu.Lock()
	a.current = &run{disp: disp, store: st}
	a.mu.Unlock()

	observeCtx, stopObserver := context.WithCancel(ctx)
	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		a.observe(observeCtx, a.cfg.DisplayInterval())
	}()

	a.logger.Info("harvest starting",
		zap.String("run_id", runID.String()),
		zap.String("variant", string(variant)),
		zap.Int("identifiers", len(ids)),
		zap.Int("credentials", len(shards)),
		zap.String("backend", target.backend.Name()),
	)
	start := a.clock.Now()
	counters, runErr := disp.Run(ctx, shards)
	stopObserver()
	<-observerDone

	res := Result{
		RunID:    runID,
		Counters: counters,
		Sets:     st.Sizes(),
		Elapsed:  a.clock.Now().Sub(start),
	}
	a.logProgress("harvest summary", res.Counters, res.Sets)

	if err := st.Close(); err != nil {
		a.logger.Error("close state backend failed", zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("close state: %w", err))
	}
	target.close(a.logger)

	if a.archiver != nil && len(target.files) > 0 {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		uris, err := a.archiver.Archive(archiveCtx, runID, target.files)
		cancel()
		if err != nil {
			a.logger.Error("archive state files failed", zap.Error(err))
		}
		res.Archived = uris
	}
	return res, runErr
}

// Snapshot returns the counters of the current run, or zeros before the
// first run.
func (a *App) Snapshot() harvest.Counters {
	if r := a.active(); r != nil {
		return r.disp.Snapshot()
	}
	return harvest.Counters{}
}

// Workers returns per-credential status of the current run.
func (a *App) Workers() []harvest.WorkerStatus {
	if r := a.active(); r != nil {
		return r.disp.Workers()
	}
	return []harvest.WorkerStatus{}
}

// Sizes returns the classification set sizes of the current run's store.
func (a *App) Sizes() harvest.SetSizes {
	if r := a.active(); r != nil {
		return r.store.Sizes()
	}
	return harvest.SetSizes{}
}

func (a *App) active() *run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *App) identifiers() ([]int64, error) {
	if a.cfg.Harvest.IDsFile != "" {
		ids, err := csvfile.ReadIDs(a.cfg.Harvest.IDsFile)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: %s has no identifiers", harvest.ErrConfiguration, a.cfg.Harvest.IDsFile)
		}
		return ids, nil
	}
	return harvest.IDRange(a.cfg.Harvest.Start, a.cfg.Harvest.End)
}

func (a *App) classifierFor(variant Variant) (harvest.Classifier, string, error) {
	switch variant {
	case VariantActivity, "":
		return harvest.NewActivityClassifier(a.cfg.ActivityWindow(), a.cfg.API.TimestampPath, a.clock),
			a.cfg.API.ProfileURLTemplate, nil
	case VariantBazaar:
		return harvest.NewListingClassifier(a.cfg.API.ListingsField, a.clock),
			a.cfg.API.BazaarURLTemplate, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown variant %q", harvest.ErrConfiguration, variant)
	}
}

// prefixFor keeps the bazaar sets apart from the activity sets in the same
// directory, database or schema.
func (a *App) prefixFor(variant Variant) string {
	if variant == VariantBazaar {
		return a.cfg.State.BazaarPrefix
	}
	return ""
}
