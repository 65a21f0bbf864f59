package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageBatchStart, Listings: 3},
		{BatchID: id, TS: now, Stage: progress.StageListingRetry, URL: "u2", Kind: "timeout", Attempt: 1},
		{BatchID: id, TS: now, Stage: progress.StageListingDone, URL: "u1", Images: 4, MissingImages: 1, Dur: time.Second},
		{BatchID: id, TS: now, Stage: progress.StageListingDone, URL: "u2", Images: 2, Dur: 2 * time.Second},
		{BatchID: id, TS: now, Stage: progress.StageListingFailed, URL: "u3", Kind: "missing_field"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageBatchDone, Dur: 30 * time.Second},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.listings.WithLabelValues("success", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.listings.WithLabelValues("failure", "missing_field")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("timeout")))
	require.InDelta(t, 6.0, testutil.ToFloat64(sink.images.WithLabelValues("saved")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.images.WithLabelValues("missing")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.listingDuration, "scraper_listing_duration_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "collectors cannot be registered twice")
}
