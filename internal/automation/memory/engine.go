// Package memory provides an in-process automation engine that serves fixed
// HTML per URL. Responses can be scripted per navigation to inject timeouts,
// navigation failures, and latency.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
)

// Page is one scripted navigation response.
type Page struct {
	HTML  string
	Err   error
	Delay time.Duration
}

// Stats reports session and navigation counters.
type Stats struct {
	Open        int
	MaxOpen     int
	Opened      int
	Closed      int
	Inflight    int
	MaxInflight int
}

// Engine implements automation.Engine in memory.
type Engine struct {
	mu      sync.Mutex
	pages   map[string][]Page
	visits  map[string]int
	openErr error
	closed  bool
	stats   Stats
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{
		pages:  make(map[string][]Page),
		visits: make(map[string]int),
	}
}

// SetPage serves html for every navigation to url.
func (e *Engine) SetPage(url, html string) {
	e.Script(url, Page{HTML: html})
}

// Script queues responses for url. Navigation n receives pages[n]; once the
// script is exhausted the last page repeats.
func (e *Engine) Script(url string, pages ...Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[url] = append([]Page(nil), pages...)
}

// FailOpen makes OpenSession return err.
func (e *Engine) FailOpen(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// Visits reports how many navigations targeted url.
func (e *Engine) Visits(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visits[url]
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// OpenSession implements automation.Engine.
func (e *Engine) OpenSession(ctx context.Context) (automation.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("open session: %w", automation.ErrUnavailable)
	}
	if e.openErr != nil {
		return nil, fmt.Errorf("open session: %w: %w", automation.ErrUnavailable, e.openErr)
	}
	e.stats.Open++
	e.stats.Opened++
	if e.stats.Open > e.stats.MaxOpen {
		e.stats.MaxOpen = e.stats.Open
	}
	return &session{engine: e}, nil
}

// Close implements automation.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) next(url string) (Page, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	script, ok := e.pages[url]
	n := e.visits[url]
	e.visits[url] = n + 1
	if !ok || len(script) == 0 {
		return Page{}, false
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], true
}

func (e *Engine) track(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Inflight += delta
	if e.stats.Inflight > e.stats.MaxInflight {
		e.stats.MaxInflight = e.stats.Inflight
	}
}

func (e *Engine) sessionClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Open--
	e.stats.Closed++
}

type session struct {
	automation.Snapshot
	engine *Engine
	once   sync.Once
	closed bool
}

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.closed {
		return automation.ErrClosed
	}
	s.Reset()
	s.engine.track(1)
	defer s.engine.track(-1)

	page, ok := s.engine.next(url)
	if !ok {
		return fmt.Errorf("navigate %s: %w: no page scripted", url, automation.ErrNavigation)
	}
	if page.Delay > 0 {
		if err := wait(ctx, page.Delay, timeout); err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
	}
	if page.Err != nil {
		return fmt.Errorf("navigate %s: %w", url, page.Err)
	}
	doc, err := automation.ParseDocument(page.HTML)
	if err != nil {
		return fmt.Errorf("navigate %s: %w: %w", url, automation.ErrNavigation, err)
	}
	s.Store(doc, url)
	return nil
}

func (s *session) WaitForSelector(ctx context.Context, selector string, _ time.Duration) error {
	if s.closed {
		return automation.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	if !s.Current().Has(selector) {
		return fmt.Errorf("wait for %q: %w", selector, automation.ErrTimeout)
	}
	return nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.closed = true
		s.engine.sessionClosed()
	})
	return nil
}

func wait(ctx context.Context, delay, timeout time.Duration) error {
	if timeout > 0 && delay > timeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return automation.ErrTimeout
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
