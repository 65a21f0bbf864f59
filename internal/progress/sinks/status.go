package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

// BatchState is the lifecycle of the most recent batch.
type BatchState string

// Batch states.
const (
	BatchRunning BatchState = "running"
	BatchDone    BatchState = "done"
	BatchError   BatchState = "error"
)

// BatchStatus summarizes one batch for the ops API.
type BatchStatus struct {
	BatchID   string     `json:"batch_id"`
	State     BatchState `json:"state"`
	SearchURL string     `json:"search_url,omitempty"`
	Started   time.Time  `json:"started_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Listings  int        `json:"listings"`
	InFlight  int        `json:"in_flight"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Retries   int        `json:"retries"`
	Failures  []Failure  `json:"recent_failures,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Failure is one failed listing.
type Failure struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
	Note string `json:"note,omitempty"`
}

const maxRecentFailures = 20

// StatusSink keeps a running summary of the latest batch in memory.
type StatusSink struct {
	mu     sync.RWMutex
	latest *BatchStatus
}

// NewStatusSink returns an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume folds events into the latest batch summary. A BATCH_START replaces
// the previous batch; events for other batches are ignored.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == progress.StageBatchStart {
			s.latest = &BatchStatus{
				BatchID:   evt.BatchID.String(),
				State:     BatchRunning,
				SearchURL: evt.URL,
				Started:   evt.TS,
				Listings:  evt.Listings,
			}
			continue
		}
		st := s.latest
		if st == nil || st.BatchID != evt.BatchID.String() {
			continue
		}
		switch evt.Stage {
		case progress.StageListingStart:
			st.InFlight++
		case progress.StageListingRetry:
			st.Retries++
		case progress.StageListingDone:
			st.InFlight--
			st.Succeeded++
		case progress.StageListingFailed:
			st.InFlight--
			st.Failed++
			st.Failures = append(st.Failures, Failure{URL: evt.URL, Kind: evt.Kind, Note: evt.Note})
			if len(st.Failures) > maxRecentFailures {
				st.Failures = st.Failures[len(st.Failures)-maxRecentFailures:]
			}
		case progress.StageBatchDone, progress.StageBatchError:
			st.State = BatchDone
			if evt.Stage == progress.StageBatchError {
				st.State = BatchError
				st.LastError = evt.Note
			}
			st.InFlight = 0
			ts := evt.TS
			st.Finished = &ts
		}
	}
	return nil
}

// Latest returns a copy of the most recent batch summary.
func (s *StatusSink) Latest() (BatchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return BatchStatus{}, false
	}
	out := *s.latest
	out.Failures = append([]Failure(nil), s.latest.Failures...)
	if s.latest.Finished != nil {
		ts := *s.latest.Finished
		out.Finished = &ts
	}
	return out, true
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
