package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/config"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/state"
	"github.com/JakeFAU/activity-harvester/internal/storage/csvfile"
	"github.com/JakeFAU/activity-harvester/internal/storage/memory"
	"github.com/JakeFAU/activity-harvester/internal/storage/postgres"
	"github.com/JakeFAU/activity-harvester/internal/storage/sqlite"
)

// stateTarget is everything one run writes to.
type stateTarget struct {
	backend state.Backend
	// records is nil for the activity variant.
	records harvest.RecordSink
	// files are archived after the run; empty for database backends.
	files   []string
	closers []func() error
}

func (t stateTarget) close(logger *zap.Logger) {
	for _, c := range t.closers {
		if err := c(); err != nil {
			logger.Warn("close listing sink failed", zap.Error(err))
		}
	}
}

// openState builds the backend selected by state.backend. The state.Store
// owns and closes the backend; closers covers listing sinks only.
func (a *App) openState(ctx context.Context, variant Variant) (stateTarget, error) {
	prefix := a.prefixFor(variant)
	bazaar := variant == VariantBazaar
	logger := a.logger.Named("storage")

	switch a.cfg.State.Backend {
	case config.BackendCSV:
		b, err := csvfile.New(csvfile.Options{Dir: a.cfg.State.Dir, Prefix: prefix, Fsync: a.cfg.State.Fsync}, logger)
		if err != nil {
			return stateTarget{}, err
		}
		t := stateTarget{backend: b, files: b.Paths()}
		if bazaar {
			w := csvfile.NewListingWriter(a.listingsPath(), a.cfg.State.Fsync)
			t.records = w
			t.files = append(t.files, w.Path())
			t.closers = append(t.closers, w.Close)
		}
		return t, nil

	case config.BackendSQLite:
		b, err := sqlite.Open(ctx, a.cfg.State.SQLitePath, prefix)
		if err != nil {
			return stateTarget{}, err
		}
		t := stateTarget{backend: b}
		if bazaar {
			t.records = b
		}
		return t, nil

	case config.BackendPostgres:
		p, err := a.postgresPool(ctx)
		if err != nil {
			return stateTarget{}, err
		}
		b, err := postgres.NewStateBackend(p, prefix, false)
		if err != nil {
			return stateTarget{}, err
		}
		if err := b.EnsureSchema(ctx); err != nil {
			return stateTarget{}, err
		}
		t := stateTarget{backend: b}
		if bazaar {
			ls, err := postgres.NewListingStore(p, prefix+"listings")
			if err != nil {
				return stateTarget{}, err
			}
			if err := ls.EnsureSchema(ctx); err != nil {
				return stateTarget{}, err
			}
			t.records = ls
		}
		return t, nil

	case config.BackendMemory:
		t := stateTarget{backend: memory.NewStateBackend()}
		if bazaar {
			t.records = memory.NewListingStore()
		}
		return t, nil

	default:
		return stateTarget{}, fmt.Errorf("%w: unknown state.backend %q", harvest.ErrConfiguration, a.cfg.State.Backend)
	}
}

func (a *App) listingsPath() string {
	if a.cfg.State.ListingsFile != "" {
		return a.cfg.State.ListingsFile
	}
	return filepath.Join(a.cfg.State.Dir, a.cfg.State.BazaarPrefix+"listings.csv")
}
