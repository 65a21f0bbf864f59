package listing

import (
	"fmt"
	"strings"
	"time"
)

// MinYear is the oldest model year accepted.
const MinYear = 1900

// MaxYear is the newest model year accepted relative to now.
func MaxYear(now time.Time) int {
	return now.Year() + 2
}

// Validate checks required fields and value ranges. Failures are returned as
// *ExtractionError with KindMissingField or KindInvalid.
func (r *Record) Validate(now time.Time) error {
	switch {
	case strings.TrimSpace(r.URL) == "":
		return r.missing("url")
	case strings.TrimSpace(r.Make) == "":
		return r.missing("make")
	case strings.TrimSpace(r.Model) == "":
		return r.missing("model")
	case r.Year == 0:
		return r.missing("year")
	}
	if r.Year < MinYear || r.Year > MaxYear(now) {
		return r.invalid("year", fmt.Sprintf("year %d outside %d..%d", r.Year, MinYear, MaxYear(now)))
	}
	if r.VIN != nil && !vinRe.MatchString(*r.VIN) {
		return r.invalid("vin", "malformed vin "+*r.VIN)
	}
	if r.Price != nil && r.Price.IsNegative() {
		return r.invalid("price", "negative price "+r.Price.String())
	}
	for _, f := range []struct {
		name string
		v    *int
	}{{"mileage", r.Mileage}, {"mpg_city", r.MPGCity}, {"mpg_highway", r.MPGHighway}} {
		if f.v != nil && *f.v < 0 {
			return r.invalid(f.name, fmt.Sprintf("negative %s %d", f.name, *f.v))
		}
	}
	switch r.Condition {
	case ConditionNew, ConditionUsed, ConditionCertified:
	default:
		return r.invalid("condition", fmt.Sprintf("unknown condition %q", r.Condition))
	}
	for i, img := range r.Images {
		if img.Position != i || img.IsPrimary != (i == 0) {
			return r.invalid("images", fmt.Sprintf("image %d out of order", i))
		}
	}
	return nil
}

func (r *Record) missing(field string) error {
	return &ExtractionError{Kind: KindMissingField, URL: r.URL, Field: field}
}

func (r *Record) invalid(field, reason string) error {
	return &ExtractionError{Kind: KindInvalid, URL: r.URL, Field: field, Reason: reason}
}

// Slug lowercases s and collapses every run of non-ASCII-alphanumeric characters
// into one underscore. An empty result becomes "unknown".
func Slug(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
