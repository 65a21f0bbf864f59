// Package static implements the automation capability over plain HTTP. It
// does not execute JavaScript, so it only suits server-rendered pages.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	collyfetcher "github.com/JakeFAU/vehicle-listing-scraper/internal/fetcher/colly"
)

// Fetcher is the subset of the colly fetcher the engine needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) (collyfetcher.Response, error)
}

// Engine implements automation.Engine with one HTTP fetch per navigation.
type Engine struct {
	fetcher Fetcher
	headers http.Header
}

// New wraps fetcher. userAgent falls back to a random desktop agent.
func New(fetcher Fetcher, userAgent string) *Engine {
	headers := automation.BrowserHeaders()
	headers.Set("User-Agent", automation.UserAgentOrRandom(userAgent))
	return &Engine{fetcher: fetcher, headers: headers}
}

// OpenSession implements automation.Engine.
func (e *Engine) OpenSession(ctx context.Context) (automation.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if e.fetcher == nil {
		return nil, fmt.Errorf("open session: %w: no fetcher", automation.ErrUnavailable)
	}
	return &session{engine: e}, nil
}

// Close implements automation.Engine.
func (e *Engine) Close() error {
	return nil
}

type session struct {
	automation.Snapshot
	engine *Engine
	mu     sync.Mutex
	closed bool
}

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.isClosed() {
		return automation.ErrClosed
	}
	s.Reset()
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := s.engine.fetcher.Fetch(fetchCtx, url, s.engine.headers.Clone())
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, classify(ctx, err))
	}
	doc, err := automation.ParseDocument(string(resp.Body))
	if err != nil {
		return fmt.Errorf("navigate %s: %w: %w", url, automation.ErrNavigation, err)
	}
	final := resp.URL
	if final == "" {
		final = url
	}
	s.Store(doc, final)
	return nil
}

// WaitForSelector checks the already fetched document; a static page never
// changes after load, so an absent selector is reported as a timeout.
func (s *session) WaitForSelector(ctx context.Context, selector string, _ time.Duration) error {
	if s.isClosed() {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", automation.ErrTimeout, err)
	}
	var statusErr *collyfetcher.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %w", automation.StatusErr(statusErr.StatusCode), err)
	}
	return fmt.Errorf("%w: %w", automation.ErrNavigation, err)
}
