// Package automation defines the narrow browser capability surface the
// scraper drives. Engines navigate and wait; reads are served from a DOM
// snapshot captured after the last navigation or wait, so they never block.
package automation

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Sentinel errors engines wrap so callers can classify failures with errors.Is.
var (
	ErrTimeout     = errors.New("automation: timed out")
	ErrNavigation  = errors.New("automation: navigation failed")
	ErrUnavailable = errors.New("automation: engine unavailable")
	ErrClosed      = errors.New("automation: session closed")
	ErrPageGone    = errors.New("automation: page gone")
)

// StatusErr maps an HTTP error status onto a sentinel. Client errors other
// than 408 and 429 mean the page itself is gone or refused and will not come
// back on retry.
func StatusErr(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrNavigation
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return ErrPageGone
	default:
		return ErrNavigation
	}
}

// Element is a read-only view of one DOM node.
type Element interface {
	Text() string
	Attribute(name string) (string, bool)
	Next() (Element, bool)
}

// Reader serves synchronous reads against the current page snapshot.
type Reader interface {
	ReadText(selector string) (string, bool)
	ReadAttribute(selector, attr string) (string, bool)
	ListElements(selector string) []Element
	BodyText() string
	URL() string
}

// Session is one page in a browser context.
type Session interface {
	Reader
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

// Engine opens sessions. Implementations must be safe for concurrent use.
type Engine interface {
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}
