package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/app"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation/memory"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/config"
)

const (
	listingURL = "https://cars.example/vehicledetail/1/"
	searchURL  = "https://cars.example/shopping/results/"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "data")
	path := filepath.Join(dir, "config.yaml")
	body := "scraper:\n" +
		"  output_dir: " + out + "\n" +
		"  min_delay: 0s\n" +
		"  max_delay: 0s\n" +
		"  retry_base_delay: 1ms\n" +
		"  retry_max_delay: 1ms\n" +
		"identity:\n" +
		"  backend: memory\n" +
		"logging:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func memoryFactory(engine *memory.Engine) appFactory {
	return func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithEngine(engine))
	}
}

func TestScrape_URLsWithExport(t *testing.T) {
	t.Parallel()

	cfgPath, dir := writeConfig(t)
	engine := memory.New()
	engine.SetPage(listingURL, `<html><body><h1 class="listing-title">2024 Toyota Camry LE</h1><span data-testid="price">$25,999</span></body></html>`)

	jsonPath := filepath.Join(dir, "export", "listings.json")
	csvPath := filepath.Join(dir, "export", "listings.csv")
	err := run(context.Background(), []string{
		"scrape", "--config", cfgPath,
		"--url", listingURL,
		"--export-json", jsonPath,
		"--export-csv", csvPath,
	}, memoryFactory(engine))
	require.NoError(t, err)

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Toyota", records[0]["make"])

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "listing_id", rows[0][0])
}

func TestScrape_SearchPage(t *testing.T) {
	t.Parallel()

	cfgPath, dir := writeConfig(t)
	engine := memory.New()
	engine.SetPage(searchURL, `<html><body><h1>Results</h1><a href="/vehicledetail/1/">Camry</a></body></html>`)
	engine.SetPage(listingURL, `<html><body><h1 class="listing-title">2024 Toyota Camry LE</h1></body></html>`)

	jsonPath := filepath.Join(dir, "listings.json")
	err := run(context.Background(), []string{"scrape", "--config", cfgPath, "--export-json", jsonPath, searchURL}, memoryFactory(engine))
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Visits(listingURL))
	assert.FileExists(t, jsonPath)
}

func TestScrape_FatalBatchReturnsError(t *testing.T) {
	t.Parallel()

	cfgPath, _ := writeConfig(t)
	engine := memory.New()
	engine.FailOpen(assert.AnError)

	err := run(context.Background(), []string{"scrape", "--config", cfgPath, "--url", listingURL}, memoryFactory(engine))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scrape:")
}

func TestScrape_ArgumentValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{name: "no target", args: []string{"scrape"}, errMsg: "is required"},
		{name: "both targets", args: []string{"scrape", "--url", listingURL, searchURL}, errMsg: "not both"},
		{name: "two search urls", args: []string{"scrape", searchURL, searchURL}, errMsg: "at most one"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			called := false
			factory := func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
				called = true
				return nil, assert.AnError
			}
			err := run(context.Background(), tc.args, factory)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
			assert.False(t, called)
		})
	}
}

func TestScrape_MissingConfigFile(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), []string{"scrape", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--url", listingURL}, memoryFactory(memory.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
