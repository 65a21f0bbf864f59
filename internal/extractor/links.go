package extractor

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/automation"
)

// DiscoverLinks opens a search results page and returns absolute listing URLs
// in page order, deduplicated and capped at limit (0 means no cap).
func (e *Extractor) DiscoverLinks(ctx context.Context, s automation.Session, searchURL string, limit int) ([]string, error) {
	if err := s.Navigate(ctx, searchURL, e.cfg.NavigationTimeout); err != nil {
		return nil, classify(ctx, searchURL, err)
	}
	links := e.listingLinks(s, searchURL, limit)
	e.logger.Info("listing links discovered",
		zap.String("search_url", searchURL),
		zap.Int("count", len(links)),
	)
	return links, nil
}

func (e *Extractor) listingLinks(s automation.Reader, base string, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, selector := range e.sel.ListingLinks {
		for _, el := range s.ListElements(selector) {
			href, ok := el.Attribute("href")
			if !ok {
				continue
			}
			abs, ok := absoluteHTTP(base, href)
			if !ok {
				continue
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// absoluteHTTP resolves ref against base and keeps only http(s) URLs. The
// fragment is dropped so anchors on one page dedupe together.
func absoluteHTTP(base, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if !r.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return "", false
		}
		r = b.ResolveReference(r)
	}
	if r.Scheme != "http" && r.Scheme != "https" {
		return "", false
	}
	r.Fragment = ""
	return r.String(), true
}
