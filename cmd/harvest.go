package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/app"
	"github.com/JakeFAU/activity-harvester/internal/dispatcher"
)

// newHarvestCmd builds a subcommand running one variant. Flags are named
// after their configuration keys so viper can bind them directly.
func newHarvestCmd(variant app.Variant, use, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, variant)
		},
	}
	f := cmd.Flags()
	f.Int64("harvest.start", 0, "first identifier (inclusive)")
	f.Int64("harvest.end", 0, "last identifier (inclusive)")
	f.String("harvest.ids_file", "", "CSV whose first column lists identifiers; overrides the range")
	f.Bool("harvest.retry_transient", false, "leave timeouts, 429s and 5xx unclassified for the next run")
	f.Bool("harvest.refresh_active", false, "re-fetch active identifiers to refresh last seen")
	f.String("state.backend", "", "state backend: csv, sqlite, postgres or memory")
	f.String("state.dir", "", "directory for the csv backend")
	f.Bool("server.enabled", true, "serve the status API while harvesting")
	f.Int("server.port", 8080, "status API port")
	return cmd
}

func runHarvest(cmd *cobra.Command, variant app.Variant) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// PersistentPostRun is skipped when RunE fails; Close is idempotent.
	defer appInstance.Close()
	logger := appInstance.Logger()

	serveCtx, stopServer := context.WithCancel(cmd.Context())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := appInstance.Serve(serveCtx); err != nil {
			logger.Error("status api failed", zap.Error(err))
		}
	}()
	defer func() {
		stopServer()
		<-serveDone
	}()

	res, err := appInstance.Harvest(cmd.Context(), variant, nil)
	printSummary(cmd, variant, res)
	switch {
	case err == nil:
		return nil
	case dispatcher.Interrupted(err) && !errors.Is(err, context.DeadlineExceeded):
		logger.Warn("harvest interrupted; rerun to resume", zap.String("run_id", res.RunID.String()))
		return fmt.Errorf("harvest interrupted: %w", err)
	default:
		return fmt.Errorf("run %s harvest: %w", variant, err)
	}
}

func printSummary(cmd *cobra.Command, variant app.Variant, res app.Result) {
	c := res.Counters
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s run %s finished in %s\n", variant, res.RunID, res.Elapsed.Round(time.Second))
	fmt.Fprintf(out, "  processed=%d active=%d blacklisted=%d inactive=%d\n", c.Processed, c.Active, c.Blacklisted, c.Inactive)
	fmt.Fprintf(out, "  skipped=%d failed=%d deferred=%d\n", c.Skipped, c.Failed, c.Deferred)
	fmt.Fprintf(out, "  sets: active=%d blacklisted=%d recently_inactive=%d\n",
		res.Sets.Active, res.Sets.Blacklisted, res.Sets.RecentlyInactive)
	for _, uri := range res.Archived {
		fmt.Fprintf(out, "  archived %s\n", uri)
	}
}
