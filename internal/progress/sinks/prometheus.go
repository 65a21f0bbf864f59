package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

// PrometheusSink exports batch and listing counters.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	listings        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	listingDuration *prometheus.HistogramVec
	images          *prometheus.CounterVec

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_batches_started_total",
			Help: "Scrape batches started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_batches_completed_total",
			Help: "Scrape batches completed partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_batches_running",
			Help: "Scrape batches currently running.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_listings_total",
			Help: "Listings finished partitioned by result and failure kind.",
		}, []string{"result", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_listing_retries_total",
			Help: "Listing attempts retried partitioned by failure kind.",
		}, []string{"kind"}),
		listingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_listing_duration_seconds",
			Help:    "Wall time per listing including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"result"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_images_total",
			Help: "Images of committed listings partitioned by saved or missing.",
		}, []string{"state"}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.listings,
		s.retries,
		s.listingDuration,
		s.images,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.track(evt.BatchID, true) {
				s.batchesRunning.Inc()
			}
		case progress.StageBatchDone, progress.StageBatchError:
			result := "success"
			if evt.Stage == progress.StageBatchError {
				result = "error"
			}
			s.batchesCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.batchRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.BatchID, false) {
				s.batchesRunning.Dec()
			}
		case progress.StageListingRetry:
			s.retries.WithLabelValues(kindLabel(evt.Kind)).Inc()
		case progress.StageListingDone:
			s.listings.WithLabelValues("success", "").Inc()
			s.observeListing(evt, "success")
			s.images.WithLabelValues("saved").Add(float64(evt.Images))
			if evt.MissingImages > 0 {
				s.images.WithLabelValues("missing").Add(float64(evt.MissingImages))
			}
		case progress.StageListingFailed:
			s.listings.WithLabelValues("failure", kindLabel(evt.Kind)).Inc()
			s.observeListing(evt, "failure")
		}
	}
	return nil
}

func (s *PrometheusSink) observeListing(evt progress.Event, result string) {
	if evt.Dur > 0 {
		s.listingDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// track records a batch as running (start) or finished and reports whether the
// running set changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		s.running[id] = struct{}{}
		return !ok
	}
	delete(s.running, id)
	return ok
}

func kindLabel(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
