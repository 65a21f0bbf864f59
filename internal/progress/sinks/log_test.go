package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: time.Now(), Stage: progress.StageListingStart, URL: "u1"},
		{BatchID: id, TS: time.Now(), Stage: progress.StageListingDone, URL: "u1", ListingID: "id-1", Images: 3},
		{BatchID: id, TS: time.Now(), Stage: progress.StageListingFailed, URL: "u2", Kind: "invalid", Attempt: 1},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "id-1", entries[1].ContextMap()["listing_id"])
	assert.Equal(t, int64(3), entries[1].ContextMap()["images"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "invalid", entries[2].ContextMap()["kind"])
}
