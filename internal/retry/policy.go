// Package retry decides whether a failed listing attempt is retried.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// Action is what the caller should do after a failure.
type Action int

// Possible actions.
const (
	ActionRetry Action = iota + 1
	ActionGiveUp
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision pairs an action with the wait before the next attempt.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Config tunes the policy.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

const (
	defaultBaseDelay = 250 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
	jitterFraction   = 0.1
)

// Policy implements capped exponential backoff with up to 10% jitter.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func(limit time.Duration) time.Duration
}

// New builds a Policy. Zero delays fall back to 250ms base and 5s cap.
func New(cfg Config) *Policy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Policy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		jitter:     randomJitter,
	}
}

// MaxRetries reports the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Decide classifies the failure of attempt (0-based) for one URL.
func (p *Policy) Decide(attempt int, kind listing.ErrorKind) Decision {
	switch kind {
	case listing.KindAutomationUnavailable:
		return Decision{Action: ActionAbort}
	case listing.KindTimeout, listing.KindNavigationFailed:
		if attempt < p.maxRetries {
			return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
		}
		return Decision{Action: ActionGiveUp}
	default:
		return Decision{Action: ActionGiveUp}
	}
}

// Backoff returns base*2^attempt capped at the max delay, plus jitter.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	d := time.Duration(delay)
	return d + p.jitter(time.Duration(float64(d)*jitterFraction))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
