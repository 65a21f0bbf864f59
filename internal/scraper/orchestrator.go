// Package scraper drives a batch of listing URLs through discovery, extraction,
// identity resolution, and persistence on a fixed pool of workers.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/retry"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/session"
)

// SessionPool hands out paced automation sessions.
type SessionPool interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(s *session.Session)
	Discard(s *session.Session)
}

// Extractor reads listing and search pages.
type Extractor interface {
	Extract(ctx context.Context, s automation.Session, url string) (*listing.Record, error)
	DiscoverLinks(ctx context.Context, s automation.Session, searchURL string, limit int) ([]string, error)
}

// RetryPolicy decides what happens after a failed attempt.
type RetryPolicy interface {
	Decide(attempt int, kind listing.ErrorKind) retry.Decision
}

// Config sizes the worker pool.
type Config struct {
	MaxConcurrentPages int
	MaxListingsPerPage int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.events = e
		}
	}
}

// WithClock overrides the wall clock used for timings.
func WithClock(c listing.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHooks appends post-commit hooks, run in order.
func WithHooks(hooks ...Hook) Option {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// Orchestrator implements the scraper batch loop.
type Orchestrator struct {
	cfg       Config
	pool      SessionPool
	extractor Extractor
	policy    RetryPolicy
	resolver  listing.IdentityResolver
	committer listing.Committer
	hooks     []Hook
	events    progress.Emitter
	clock     listing.Clock
	logger    *zap.Logger
	pause     func(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New wires an Orchestrator.
func New(
	cfg Config,
	pool SessionPool,
	extractor Extractor,
	policy RetryPolicy,
	resolver listing.IdentityResolver,
	committer listing.Committer,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg.MaxConcurrentPages <= 0 {
		return nil, errors.New("max concurrent pages must be > 0")
	}
	if pool == nil || extractor == nil || policy == nil || resolver == nil || committer == nil {
		return nil, errors.New("session pool, extractor, retry policy, identity resolver and committer are required")
	}
	o := &Orchestrator{
		cfg:       cfg,
		pool:      pool,
		extractor: extractor,
		policy:    policy,
		resolver:  resolver,
		committer: committer,
		events:    progress.Discard,
		clock:     wallClock{},
		logger:    zap.NewNop(),
		pause:     sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run carries the mutable state of one batch.
type run struct {
	id           uuid.UUID
	searchURL    string
	started      time.Time
	retries      atomic.Int64
	hookFailures atomic.Int64
}

func (o *Orchestrator) newRun(searchURL string) *run {
	return &run{id: uuid.New(), searchURL: searchURL, started: o.clock.Now()}
}

// ScrapeSearchPage discovers listing links on searchURL and scrapes them.
// Discovery is retried under the same policy as listings.
func (o *Orchestrator) ScrapeSearchPage(ctx context.Context, searchURL string) (listing.Batch, error) {
	r := o.newRun(searchURL)
	var links []string
	s, _, err := o.attempt(ctx, r, searchURL, func(ctx context.Context, s *session.Session) error {
		var derr error
		links, derr = o.extractor.DiscoverLinks(ctx, s, searchURL, o.cfg.MaxListingsPerPage)
		return derr
	})
	if err != nil {
		o.emit(r, progress.Event{Stage: progress.StageBatchStart, URL: searchURL})
		return o.finish(r, nil, nil, fmt.Errorf("discover listings: %w", err))
	}
	o.pool.Release(s)
	return o.scrape(ctx, r, links)
}

// ScrapeURLs scrapes pre-resolved listing URLs. Callers de-duplicate urls;
// two tasks committing the same listing concurrently are not coordinated.
func (o *Orchestrator) ScrapeURLs(ctx context.Context, urls []string) (listing.Batch, error) {
	return o.scrape(ctx, o.newRun(""), urls)
}

func (o *Orchestrator) scrape(ctx context.Context, r *run, urls []string) (listing.Batch, error) {
	o.emit(r, progress.Event{Stage: progress.StageBatchStart, URL: r.searchURL, Listings: len(urls)})
	o.logger.Info("batch started",
		zap.String("batch_id", r.id.String()),
		zap.String("search_url", r.searchURL),
		zap.Int("listings", len(urls)),
	)

	outcomes := make([]listing.Outcome, len(urls))
	done := make([]bool, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for i := range urls {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	workers := min(o.cfg.MaxConcurrentPages, len(urls))
	for range workers {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := o.scrapeOne(gctx, r, urls[i])
				if err != nil {
					return err
				}
				mu.Lock()
				outcomes[i] = out
				done[i] = true
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return o.finish(r, outcomes, done, err)
}

// finish assembles the batch. On a fatal error only completed outcomes are
// kept, still in discovery order.
func (o *Orchestrator) finish(r *run, outcomes []listing.Outcome, done []bool, err error) (listing.Batch, error) {
	b := listing.Batch{
		SearchURL:    r.searchURL,
		Retries:      int(r.retries.Load()),
		HookFailures: int(r.hookFailures.Load()),
		Started:      r.started,
		Finished:     o.clock.Now(),
	}
	if err == nil {
		b.Outcomes = outcomes
	} else {
		for i, out := range outcomes {
			if done[i] {
				b.Outcomes = append(b.Outcomes, out)
			}
		}
	}
	dur := b.Finished.Sub(b.Started)
	if err != nil {
		if !errors.Is(err, listing.ErrAborted) {
			err = fmt.Errorf("%w: %w", listing.ErrAborted, err)
		}
		o.emit(r, progress.Event{Stage: progress.StageBatchError, URL: r.searchURL, Dur: dur, Note: err.Error()})
		o.logger.Error("batch aborted",
			zap.String("batch_id", r.id.String()),
			zap.Int("completed", len(b.Outcomes)),
			zap.Error(err),
		)
		return b, err
	}
	o.emit(r, progress.Event{Stage: progress.StageBatchDone, URL: r.searchURL, Listings: len(b.Outcomes), Dur: dur})
	o.logger.Info("batch finished",
		zap.String("batch_id", r.id.String()),
		zap.Int("succeeded", b.Successes()),
		zap.Int("failed", b.Failures()),
		zap.Int("retries", b.Retries),
		zap.Duration("duration", dur),
	)
	return b, nil
}

// scrapeOne returns the outcome for url. A non-nil error is batch-fatal.
func (o *Orchestrator) scrapeOne(ctx context.Context, r *run, url string) (listing.Outcome, error) {
	start := o.clock.Now()
	o.emit(r, progress.Event{Stage: progress.StageListingStart, URL: url, Attempt: 1})

	var rec *listing.Record
	s, attempts, err := o.attempt(ctx, r, url, func(ctx context.Context, s *session.Session) error {
		var xerr error
		rec, xerr = o.extractor.Extract(ctx, s, url)
		return xerr
	})
	out := listing.Outcome{URL: url, Attempts: attempts}
	if err != nil {
		return o.fail(r, out, start, err)
	}
	defer o.pool.Release(s)

	id, created, err := o.resolver.Resolve(ctx, url, rec.VINValue())
	if err != nil {
		return o.fail(r, out, start, err)
	}
	rec.AssignIdentity(id)
	res, err := o.committer.Commit(ctx, rec)
	out.Commit = res
	if err != nil {
		return o.fail(r, out, start, err)
	}
	out.Record = rec

	for _, h := range o.hooks {
		if herr := h.AfterCommit(ctx, rec, res); herr != nil {
			r.hookFailures.Add(1)
			o.logger.Warn("post-commit hook failed",
				zap.String("hook", h.Name()),
				zap.String("listing_id", id),
				zap.Error(herr),
			)
		}
	}

	o.emit(r, progress.Event{
		Stage:         progress.StageListingDone,
		URL:           url,
		ListingID:     id,
		Attempt:       attempts,
		Images:        res.Downloaded + res.Skipped,
		MissingImages: res.MissingImages,
		Dur:           o.clock.Now().Sub(start),
	})
	o.logger.Debug("listing committed",
		zap.String("url", url),
		zap.String("listing_id", id),
		zap.Bool("new_listing", created),
		zap.Int("attempt", attempts),
	)
	return out, nil
}

func (o *Orchestrator) fail(r *run, out listing.Outcome, start time.Time, err error) (listing.Outcome, error) {
	if listing.IsFatal(err) {
		return out, err
	}
	out.Err = err
	o.emit(r, progress.Event{
		Stage:   progress.StageListingFailed,
		URL:     out.URL,
		Attempt: out.Attempts,
		Kind:    errorKind(err),
		Dur:     o.clock.Now().Sub(start),
		Note:    err.Error(),
	})
	o.logger.Warn("listing failed",
		zap.String("url", out.URL),
		zap.Int("attempt", out.Attempts),
		zap.String("kind", errorKind(err)),
		zap.Error(err),
	)
	return out, nil
}

// attempt runs fn on a pooled session until it succeeds or the policy stops
// it. On success the caller owns the returned session and must release it.
// attempts counts every try, including the successful one.
func (o *Orchestrator) attempt(
	ctx context.Context,
	r *run,
	url string,
	fn func(ctx context.Context, s *session.Session) error,
) (*session.Session, int, error) {
	for attempt := 0; ; attempt++ {
		s, err := o.pool.Acquire(ctx)
		if err != nil {
			return nil, attempt + 1, err
		}
		err = fn(ctx, s)
		if err == nil {
			return s, attempt + 1, nil
		}

		var ee *listing.ExtractionError
		if !errors.As(err, &ee) {
			o.pool.Discard(s)
			return nil, attempt + 1, err
		}
		decision := o.policy.Decide(attempt, ee.Kind)
		switch decision.Action {
		case retry.ActionRetry:
			o.pool.Discard(s)
			r.retries.Add(1)
			o.emit(r, progress.Event{
				Stage:   progress.StageListingRetry,
				URL:     url,
				Attempt: attempt + 1,
				Kind:    string(ee.Kind),
				Dur:     decision.Delay,
			})
			o.logger.Info("retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.String("kind", string(ee.Kind)),
				zap.Duration("delay", decision.Delay),
			)
			if perr := o.pause(ctx, decision.Delay); perr != nil {
				return nil, attempt + 1, fmt.Errorf("retry %s: %w", url, perr)
			}
		case retry.ActionGiveUp:
			if ee.Retryable() {
				o.pool.Discard(s)
			} else {
				o.pool.Release(s)
			}
			return nil, attempt + 1, err
		default:
			o.pool.Discard(s)
			return nil, attempt + 1, err
		}
	}
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.BatchID = r.id
	evt.TS = o.clock.Now().UTC()
	o.events.Emit(evt)
}

func errorKind(err error) string {
	var ee *listing.ExtractionError
	if errors.As(err, &ee) {
		return string(ee.Kind)
	}
	var pe *listing.PersistenceError
	if errors.As(err, &pe) {
		return "persist_" + string(pe.Kind)
	}
	return "unknown"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
