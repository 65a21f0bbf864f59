// Package cmd defines the listing-scraper CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/app"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/config"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// appFactory builds the application for a loaded config. Tests swap it to
// inject an in-memory engine.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// cli carries state shared by the root command and its subcommands.
type cli struct {
	cfgFile string
	factory appFactory
	app     *app.App
	logger  *zap.Logger
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing-scraper",
		Short: "Scrapes vehicle listings into a make/model/listing directory tree.",
		Long: `listing-scraper drives a pool of browser sessions over a search results
page (or an explicit list of listing URLs), extracts one record per listing,
and commits listing.json plus images under <output_dir>/<make>/<model>/<id>/.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			c.logger = logger

			a, err := c.factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.app = a
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			c.shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON, or TOML)")
	cmd.AddCommand(newScrapeCmd(c))
	return cmd
}

// shutdown closes the app and flushes the logger. It runs after every
// command, including ones whose RunE failed.
func (c *cli) shutdown() {
	if c.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		c.app.Close(ctx)
		cancel()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func run(ctx context.Context, args []string, factory appFactory) error {
	c := &cli{factory: factory}
	root := newRootCmd(c)
	root.SetArgs(args)
	defer c.shutdown()
	return root.ExecuteContext(ctx)
}

// Execute runs the CLI with os.Args.
func Execute(ctx context.Context) error {
	return run(ctx, os.Args[1:], defaultFactory)
}
