// Package headless drives Chrome through chromedp. One browser process is
// shared by the engine and every session is a separate tab.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
)

// Config controls browser launch and per-tab emulation.
type Config struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	SlowMo         time.Duration
	StartupTimeout time.Duration
	ExecPath       string
}

const (
	defaultStartupTimeout = 30 * time.Second
	setupTimeout          = 15 * time.Second
)

// Engine implements automation.Engine with headless Chrome.
type Engine struct {
	cfg           Config
	userAgent     string
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	closeOnce     sync.Once
}

// New launches Chrome and waits for the first target. Launch failures wrap
// automation.ErrUnavailable.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	ua := automation.UserAgentOrRandom(cfg.UserAgent)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg, ua)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	e := &Engine{
		cfg:           cfg,
		userAgent:     ua,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}

	warm := make(chan error, 1)
	go func() {
		warm <- chromedp.Run(browserCtx)
	}()
	timer := time.NewTimer(cfg.StartupTimeout)
	defer timer.Stop()
	select {
	case err := <-warm:
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("start chrome: %w: %w", automation.ErrUnavailable, err)
		}
	case <-timer.C:
		_ = e.Close()
		return nil, fmt.Errorf("start chrome: %w: no target after %s", automation.ErrUnavailable, cfg.StartupTimeout)
	}
	logger.Info("chrome started", zap.Bool("headless", cfg.Headless), zap.String("user_agent", ua))
	return e, nil
}

func allocatorOptions(cfg Config, ua string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.UserAgent(ua),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// OpenSession opens a new tab with stealth settings applied.
func (e *Engine) OpenSession(ctx context.Context) (automation.Session, error) {
	if e.browser.Err() != nil {
		return nil, fmt.Errorf("open tab: %w", automation.ErrUnavailable)
	}
	tabCtx, tabCancel := chromedp.NewContext(e.browser)
	s := &session{
		cfg:    e.cfg,
		tab:    tabCtx,
		cancel: tabCancel,
		meta:   &documentMeta{},
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	// The first Run on a tab context creates the target, so it must not carry a
	// deadline of its own or the tab would close when the deadline fires.
	setup := make(chan error, 1)
	go func() {
		setup <- chromedp.Run(tabCtx, e.setupAction())
	}()
	timer := time.NewTimer(setupTimeout)
	defer timer.Stop()
	select {
	case err := <-setup:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("open tab: %w: %w", automation.ErrUnavailable, err)
		}
	case <-timer.C:
		tabCancel()
		return nil, fmt.Errorf("open tab: %w: setup exceeded %s", automation.ErrUnavailable, setupTimeout)
	case <-ctx.Done():
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", ctx.Err())
	}
	return s, nil
}

func (e *Engine) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(e.userAgent).WithAcceptLanguage("en-US,en").Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(automation.BrowserHeaders())).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		if e.cfg.ViewportWidth > 0 && e.cfg.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(e.cfg.ViewportWidth), int64(e.cfg.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(automation.StealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install init script: %w", err)
		}
		return nil
	})
}

// Close shuts down the browser and the allocator.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.browserCancel()
		e.allocCancel()
	})
	return nil
}

type session struct {
	automation.Snapshot
	cfg    Config
	tab    context.Context
	cancel context.CancelFunc
	meta   *documentMeta
	once   sync.Once
}

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.tab.Err() != nil {
		return automation.ErrClosed
	}
	s.Reset()
	s.meta.reset()
	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := s.run(ctx, timeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status := s.meta.status(); status >= http.StatusBadRequest {
		return fmt.Errorf("navigate %s: %w: status %d", url, automation.StatusErr(status), status)
	}
	return s.store(html, finalURL)
}

func (s *session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if s.tab.Err() != nil {
		return automation.ErrClosed
	}
	var html, finalURL string
	err := s.run(ctx, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return s.store(html, finalURL)
}

// run executes actions under a per-call deadline, cancelling early when the
// caller's context ends, and maps failures onto the automation sentinels.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if s.cfg.SlowMo > 0 {
		actions = append([]chromedp.Action{chromedp.Sleep(s.cfg.SlowMo)}, actions...)
	}
	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", automation.ErrTimeout, timeout)
	case s.tab.Err() != nil:
		return fmt.Errorf("%w: tab gone: %w", automation.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", automation.ErrNavigation, err)
	}
}

func (s *session) store(html, url string) error {
	doc, err := automation.ParseDocument(html)
	if err != nil {
		return fmt.Errorf("%w: %w", automation.ErrNavigation, err)
	}
	s.Store(doc, url)
	return nil
}

func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		err = chromedp.Cancel(s.tab)
		s.cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// documentMeta records the status of the main document response.
type documentMeta struct {
	mu   sync.Mutex
	code int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	// The main document responds first; later documents belong to iframes.
	m.mu.Lock()
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func (m *documentMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
