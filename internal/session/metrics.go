package session

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	inUse  prometheus.Gauge
	opened prometheus.Counter
	closed prometheus.Counter
	wait   prometheus.Histogram
	pacing prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_sessions_in_use",
			Help: "Browser sessions currently checked out of the pool.",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_sessions_opened_total",
			Help: "Browser sessions opened.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_sessions_closed_total",
			Help: "Browser sessions closed.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_session_wait_seconds",
			Help:    "Time spent waiting for a free page slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),
		pacing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_pacing_delay_seconds",
			Help:    "Delays inserted before navigations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.inUse, m.opened, m.closed, m.wait, m.pacing} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register session collector: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) observeWait(d time.Duration) {
	m.wait.Observe(d.Seconds())
}

func (m *metrics) observePacing(d time.Duration) {
	m.pacing.Observe(d.Seconds())
}
