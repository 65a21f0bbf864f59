package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/api"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/app"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/export"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

type scrapeOptions struct {
	urls        []string
	exportJSON  string
	exportCSV   string
	metricsAddr string
}

func newScrapeCmd(c *cli) *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape [search-url]",
		Short: "Scrape one search results page or a list of listing URLs",
		Long: `Scrape discovers listing links on a search results page and scrapes each
one concurrently. Pass --url (repeatable) instead of a search URL to scrape
listing pages directly. The command exits non-zero when the batch aborts;
individual listing failures are logged and reported in the summary.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one search URL, got %d", len(args))
			}
			if len(args) == 1 && len(opts.urls) > 0 {
				return errors.New("pass either a search URL or --url, not both")
			}
			if len(args) == 0 && len(opts.urls) == 0 {
				return errors.New("a search URL or at least one --url is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var searchURL string
			if len(args) == 1 {
				searchURL = args[0]
			}
			return runScrape(cmd.Context(), c.app, searchURL, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.urls, "url", nil, "listing URL to scrape (repeatable)")
	flags.StringVar(&opts.exportJSON, "export-json", "", "write committed records to this JSON file")
	flags.StringVar(&opts.exportCSV, "export-csv", "", "write committed records to this CSV file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and status on this address (overrides server.addr)")
	return cmd
}

func runScrape(ctx context.Context, a *app.App, searchURL string, opts scrapeOptions) error {
	logger := a.Logger

	addr := opts.metricsAddr
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	if addr != "" {
		stopServer, err := startOpsServer(a, addr)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	var (
		batch listing.Batch
		err   error
	)
	if searchURL != "" {
		batch, err = a.Scraper.ScrapeSearchPage(ctx, searchURL)
	} else {
		batch, err = a.Scraper.ScrapeURLs(ctx, opts.urls)
	}

	for _, out := range batch.Outcomes {
		if out.Err != nil {
			logger.Warn("listing failed", zap.String("url", out.URL), zap.Error(out.Err))
		}
	}
	logger.Info("batch summary",
		zap.Int("listings", len(batch.Outcomes)),
		zap.Int("succeeded", batch.Successes()),
		zap.Int("failed", batch.Failures()),
		zap.Int("retries", batch.Retries),
		zap.Int("hook_failures", batch.HookFailures),
		zap.Duration("duration", batch.Finished.Sub(batch.Started)),
	)

	// Partial batches are still exported.
	records := batch.Records()
	var exportErr error
	if opts.exportJSON != "" {
		if werr := export.WriteFile(opts.exportJSON, records, export.WriteJSON); werr != nil {
			exportErr = errors.Join(exportErr, fmt.Errorf("export json: %w", werr))
		} else {
			logger.Info("exported records", zap.String("format", "json"), zap.String("path", opts.exportJSON), zap.Int("count", len(records)))
		}
	}
	if opts.exportCSV != "" {
		if werr := export.WriteFile(opts.exportCSV, records, export.WriteCSV); werr != nil {
			exportErr = errors.Join(exportErr, fmt.Errorf("export csv: %w", werr))
		} else {
			logger.Info("exported records", zap.String("format", "csv"), zap.String("path", opts.exportCSV), zap.Int("count", len(records)))
		}
	}

	if err != nil {
		return errors.Join(fmt.Errorf("scrape: %w", err), exportErr)
	}
	return exportErr
}

func startOpsServer(a *app.App, addr string) (func(), error) {
	logger := a.Logger.Named("api")
	apiServer, err := api.NewServer(api.Config{
		Status:   a.Status,
		Ready:    a.Ready,
		Registry: a.Registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ops server: %w", err)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}, nil
}
