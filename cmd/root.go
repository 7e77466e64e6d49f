// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/app"
	"github.com/JakeFAU/activity-harvester/internal/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Harvest(ctx context.Context, variant app.Variant, ids []int64) (app.Result, error)
	Serve(ctx context.Context) error
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Credential-sharded, resumable identifier harvester.",
		Long: `harvester walks a large identifier space against a rate-limited JSON API,
one worker per credential, and records every identifier as active,
blacklisted or recently inactive. Every classification is persisted as it
happens, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,

		// Config is loaded with the subcommand's flags layered on top, then the
		// application is built and injected into the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFlags(cfgFile, settingFlags(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newHarvestCmd(app.VariantActivity, "harvest",
		"Classify identifiers by last activity",
		"Fetches each identifier's profile and records it as active, blacklisted or recently inactive."))
	cmd.AddCommand(newHarvestCmd(app.VariantBazaar, "bazaar",
		"Harvest seller listings",
		"Fetches each identifier's bazaar, appends its listings and records whether it sells anything."))

	return cmd
}

// settingFlags returns the command's flags minus --config, so only
// configuration keys reach viper.
func settingFlags(cmd *cobra.Command) *pflag.FlagSet {
	fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" && f.Name != "help" {
			fs.AddFlag(f)
		}
	})
	return fs
}

// Execute is the main entry point.
func Execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
