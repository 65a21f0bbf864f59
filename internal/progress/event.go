package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageBatchStart    Stage = "BATCH_START"
	StageBatchDone     Stage = "BATCH_DONE"
	StageBatchError    Stage = "BATCH_ERROR"
	StageListingStart  Stage = "LISTING_START"
	StageListingRetry  Stage = "LISTING_RETRY"
	StageListingDone   Stage = "LISTING_DONE"
	StageListingFailed Stage = "LISTING_FAILED"
)

// Event captures one scraper milestone.
type Event struct {
	// BatchID groups the events of one scrape run.
	BatchID uuid.UUID
	// TS is the UTC time recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL is the listing URL for listing stages and the search URL for
	// BATCH_START when scraping a search page.
	URL       string
	ListingID string
	// Attempt is 1-based.
	Attempt int
	// Kind is the failure kind on LISTING_RETRY and LISTING_FAILED.
	Kind string
	// Listings is the number of URLs in the batch on BATCH_START.
	Listings int
	// Images counts images on disk after a commit; MissingImages those that
	// could not be saved.
	Images        int
	MissingImages int
	// Dur is the listing wall time on LISTING_DONE/FAILED, the backoff delay
	// on LISTING_RETRY, and the batch wall time on BATCH_DONE/ERROR.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == uuid.Nil {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone, StageBatchError:
	case StageListingStart, StageListingRetry, StageListingDone, StageListingFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsBatch reports whether the stage describes the whole batch.
func (s Stage) IsBatch() bool {
	return s == StageBatchStart || s == StageBatchDone || s == StageBatchError
}
