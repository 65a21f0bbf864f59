// Package session pools automation sessions, caps how many pages are open at
// once, and paces navigations with randomized human-like delays.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/policy/ratelimit"
)

// Config bounds concurrency and pacing.
type Config struct {
	MaxConcurrentPages int
	MinDelay           time.Duration
	MaxDelay           time.Duration
	HostQPS            float64
	HostBurst          int
}

// Validate checks the pool invariants.
func (c Config) Validate() error {
	if c.MaxConcurrentPages <= 0 {
		return errors.New("max concurrent pages must be > 0")
	}
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return errors.New("delays must be >= 0")
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("min delay %s exceeds max delay %s", c.MinDelay, c.MaxDelay)
	}
	return nil
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	InUse    int
	MaxInUse int
	Idle     int
	Opened   int
	Closed   int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRegisterer exports pool metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.reg = reg
	}
}

// Manager implements the browser session pool.
type Manager struct {
	engine automation.Engine
	cfg    Config
	slots  chan struct{}
	hosts  *ratelimit.Limiter
	logger *zap.Logger
	reg    prometheus.Registerer
	met    *metrics
	pause  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	idle   []automation.Session
	closed bool
	stats  Stats
}

// New builds a Manager over engine.
func New(engine automation.Engine, cfg Config, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("automation engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		engine: engine,
		cfg:    cfg,
		slots:  make(chan struct{}, cfg.MaxConcurrentPages),
		logger: zap.NewNop(),
		pause:  sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	met, err := newMetrics(m.reg)
	if err != nil {
		return nil, err
	}
	m.met = met
	m.hosts = ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HostQPS,
		DefaultBurst: cfg.HostBurst,
		Observe: func(_ string, waited time.Duration) {
			m.met.observePacing(waited)
		},
	})
	return m, nil
}

// Acquire blocks until a page slot is free and returns a paced session.
// Failing to open a session is fatal and reported as KindAutomationUnavailable.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	start := time.Now()
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}
	m.met.observeWait(time.Since(start))

	raw, err := m.takeIdle(ctx)
	if err != nil {
		<-m.slots
		return nil, err
	}

	m.mu.Lock()
	m.stats.InUse++
	if m.stats.InUse > m.stats.MaxInUse {
		m.stats.MaxInUse = m.stats.InUse
	}
	m.mu.Unlock()
	m.met.inUse.Inc()
	return &Session{Session: raw, mgr: m}, nil
}

func (m *Manager) takeIdle(ctx context.Context) (automation.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &listing.ExtractionError{Kind: listing.KindAutomationUnavailable, Reason: "session pool closed"}
	}
	if n := len(m.idle); n > 0 {
		raw := m.idle[n-1]
		m.idle = m.idle[:n-1]
		m.mu.Unlock()
		return raw, nil
	}
	m.mu.Unlock()

	raw, err := m.engine.OpenSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("open session: %w", ctx.Err())
		}
		m.logger.Error("open session failed", zap.Error(err))
		return nil, &listing.ExtractionError{Kind: listing.KindAutomationUnavailable, Reason: "open session", Err: err}
	}
	m.mu.Lock()
	m.stats.Opened++
	m.mu.Unlock()
	m.met.opened.Inc()
	return raw, nil
}

// Release returns s to the idle pool.
func (m *Manager) Release(s *Session) {
	m.giveBack(s, false)
}

// Discard closes s so the next Acquire gets a fresh page.
func (m *Manager) Discard(s *Session) {
	m.giveBack(s, true)
}

func (m *Manager) giveBack(s *Session, discard bool) {
	if s == nil || !s.markDone() {
		return
	}
	m.mu.Lock()
	m.stats.InUse--
	keep := !discard && !m.closed
	if keep {
		m.idle = append(m.idle, s.Session)
	}
	m.mu.Unlock()
	m.met.inUse.Dec()
	if !keep {
		m.closeRaw(s.Session)
	}
	<-m.slots
}

func (m *Manager) closeRaw(raw automation.Session) {
	if err := raw.Close(); err != nil {
		m.logger.Warn("close session failed", zap.Error(err))
	}
	m.mu.Lock()
	m.stats.Closed++
	m.mu.Unlock()
	m.met.closed.Inc()
}

// Close tears down idle sessions and the engine. Sessions still in use are
// closed when they are released.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	idle := m.idle
	m.idle = nil
	m.mu.Unlock()

	for _, raw := range idle {
		m.closeRaw(raw)
	}
	if err := m.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the pool counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.Idle = len(m.idle)
	return out
}

// pace waits a uniform random delay in [MinDelay, MaxDelay] and then for the
// target host's token bucket.
func (m *Manager) pace(ctx context.Context, url string) error {
	d := randomBetween(m.cfg.MinDelay, m.cfg.MaxDelay)
	if d > 0 {
		m.met.observePacing(d)
		if err := m.pause(ctx, d); err != nil {
			return fmt.Errorf("pace: %w", err)
		}
	}
	if err := m.hosts.Wait(ctx, url); err != nil {
		return fmt.Errorf("pace: %w", err)
	}
	return nil
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Session is a pooled automation session whose navigations are paced.
type Session struct {
	automation.Session
	mgr  *Manager
	mu   sync.Mutex
	done bool
}

// Navigate paces and then navigates.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := s.mgr.pace(ctx, url); err != nil {
		return err
	}
	if err := s.Session.Navigate(ctx, url, timeout); err != nil {
		return fmt.Errorf("session navigate: %w", err)
	}
	return nil
}

func (s *Session) markDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}
