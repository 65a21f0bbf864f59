// Package extractor turns a rendered listing page into a validated record.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// Config controls timeouts and limits.
type Config struct {
	NavigationTimeout time.Duration
	ReadyTimeout      time.Duration
	MaxImages         int
	Selectors         Selectors
}

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultReadyTimeout      = 10 * time.Second
	defaultMaxImages         = 20
)

var detailFields = []string{
	"Exterior color",
	"Interior color",
	"Transmission",
	"Drivetrain",
	"Fuel type",
	"Engine",
}

// Extractor reads listing pages through an automation session.
type Extractor struct {
	cfg    Config
	sel    Selectors
	clock  listing.Clock
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, clock listing.Clock, logger *zap.Logger) *Extractor {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:    cfg,
		sel:    cfg.Selectors.withDefaults(),
		clock:  clock,
		logger: logger,
	}
}

// Extract navigates to url and returns a validated record. Per-listing
// failures are *listing.ExtractionError; a cancelled ctx is returned as is.
func (e *Extractor) Extract(ctx context.Context, s automation.Session, url string) (*listing.Record, error) {
	if err := s.Navigate(ctx, url, e.cfg.NavigationTimeout); err != nil {
		return nil, classify(ctx, url, err)
	}
	if err := s.WaitForSelector(ctx, e.sel.ReadyMarker, e.cfg.ReadyTimeout); err != nil {
		return nil, classify(ctx, url, err)
	}

	now := e.clock.Now()
	rec, err := e.read(s, url, now)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(now); err != nil {
		return nil, err
	}
	e.logger.Debug("listing extracted",
		zap.String("url", url),
		zap.String("make", rec.Make),
		zap.String("model", rec.Model),
		zap.Int("images", len(rec.Images)),
	)
	return rec, nil
}

func (e *Extractor) read(s automation.Reader, url string, now time.Time) (*listing.Record, error) {
	body := s.BodyText()
	rec := &listing.Record{
		URL:       url,
		Images:    []listing.ImageRef{},
		ScrapedAt: listing.NewTimestamp(now),
	}

	title := listing.ParseTitle(readFirst(s, e.sel.Title))
	rec.Make = firstNonEmpty(readFirst(s, e.sel.Make), title.Value.Make)
	rec.Model = firstNonEmpty(readFirst(s, e.sel.Model), title.Value.Model)
	rec.Year = title.Value.Year
	if raw := readFirst(s, e.sel.Year); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return nil, invalid(url, "year", "unparseable year "+raw)
		}
		rec.Year = year
	}

	price := listing.ParsePrice(readFirst(s, e.sel.Price))
	if price.Status == listing.StatusInvalid {
		return nil, invalid(url, "price", price.Reason)
	}
	rec.Price = price.Ptr()

	mileage := listing.ParseMileage(readFirst(s, e.sel.Mileage))
	if mileage.Status == listing.StatusMissing {
		mileage = listing.ParseMileage(body)
	}
	if mileage.Status == listing.StatusInvalid {
		return nil, invalid(url, "mileage", mileage.Reason)
	}
	rec.Mileage = mileage.Ptr()

	if cond := listing.ParseCondition(readFirst(s, e.sel.Condition)); cond.OK() {
		rec.Condition = cond.Value
	} else {
		rec.Condition = listing.InferCondition(body, rec.Year, now)
	}

	vin := listing.NormalizeVIN(readFirst(s, e.sel.VIN))
	if vin.Status == listing.StatusMissing {
		vin = listing.FindVIN(body)
	}
	if vin.Status == listing.StatusInvalid {
		return nil, invalid(url, "vin", vin.Reason)
	}
	rec.VIN = vin.Ptr()

	rec.Description = listing.ParseText(readFirst(s, e.sel.Description)).Ptr()
	rec.Location = listing.ParseText(readFirst(s, e.sel.Location)).Ptr()
	rec.DealerName = listing.ParseText(readFirst(s, e.sel.Dealer)).Ptr()

	details := e.readDetails(s)
	rec.ExteriorColor = listing.ParseText(details["exterior color"]).Ptr()
	rec.InteriorColor = listing.ParseText(details["interior color"]).Ptr()
	rec.Transmission = listing.ParseText(details["transmission"]).Ptr()
	rec.Drivetrain = listing.ParseText(details["drivetrain"]).Ptr()
	rec.FuelType = listing.ParseText(details["fuel type"]).Ptr()
	rec.Engine = listing.ParseText(details["engine"]).Ptr()

	city, highway := listing.ParseMPG(body)
	rec.MPGCity = city.Ptr()
	rec.MPGHighway = highway.Ptr()

	for _, img := range e.collectImages(s, url) {
		rec.AddImage(img)
	}
	return rec, nil
}

// readDetails pairs each known label element with its next sibling's text.
func (e *Extractor) readDetails(s automation.Reader) map[string]string {
	out := make(map[string]string, len(detailFields))
	for _, el := range s.ListElements(e.sel.DetailLabels) {
		label := strings.ToLower(el.Text())
		for _, field := range detailFields {
			key := strings.ToLower(field)
			if _, done := out[key]; done || !strings.Contains(label, key) {
				continue
			}
			if next, ok := el.Next(); ok {
				if v := next.Text(); v != "" {
					out[key] = v
				}
			}
		}
	}
	return out
}

func (e *Extractor) collectImages(s automation.Reader, pageURL string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, selector := range e.sel.Images {
		for _, el := range s.ListElements(selector) {
			if len(out) >= e.cfg.MaxImages {
				return out
			}
			src, _ := el.Attribute("src")
			if strings.TrimSpace(src) == "" || strings.HasPrefix(src, "data:") {
				src, _ = el.Attribute("data-src")
			}
			abs, ok := absoluteHTTP(pageURL, src)
			if !ok {
				continue
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
	}
	return out
}

func readFirst(s automation.Reader, selectors []string) string {
	for _, sel := range selectors {
		if text, ok := s.ReadText(sel); ok && text != "" {
			return text
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func invalid(url, field, reason string) error {
	return &listing.ExtractionError{Kind: listing.KindInvalid, URL: url, Field: field, Reason: reason}
}

// classify maps automation failures onto extraction kinds. A cancelled
// parent context is returned unchanged so the caller can abort the batch.
func classify(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("extract %s: %w", url, ctxErr)
	}
	kind := listing.KindNavigationFailed
	switch {
	case errors.Is(err, automation.ErrUnavailable), errors.Is(err, automation.ErrClosed):
		kind = listing.KindAutomationUnavailable
	case errors.Is(err, automation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = listing.KindTimeout
	case errors.Is(err, automation.ErrPageGone):
		kind = listing.KindPageGone
	}
	return &listing.ExtractionError{Kind: kind, URL: url, Err: err}
}
