package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

// LogSink writes one structured line per event. Listing starts are logged at
// debug, failures at warn, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.ListingID != "" {
			fields = append(fields, zap.String("listing_id", evt.ListingID))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", evt.Kind))
		}
		if evt.Listings > 0 {
			fields = append(fields, zap.Int("listings", evt.Listings))
		}
		if evt.Stage == progress.StageListingDone {
			fields = append(fields, zap.Int("images", evt.Images), zap.Int("missing_images", evt.MissingImages))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageListingStart:
		return zapcore.DebugLevel
	case progress.StageListingFailed, progress.StageListingRetry, progress.StageBatchError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
