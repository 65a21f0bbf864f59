package listing

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status tags the outcome of coercing one raw field.
type Status uint8

// Coercion outcomes.
const (
	StatusMissing Status = iota
	StatusOK
	StatusInvalid
)

// Parsed is the result of coercing raw page text into a typed value.
type Parsed[T any] struct {
	Value  T
	Status Status
	Reason string
}

// Ok wraps a successfully coerced value.
func Ok[T any](v T) Parsed[T] {
	return Parsed[T]{Value: v, Status: StatusOK}
}

// Missing marks an absent field.
func Missing[T any]() Parsed[T] {
	return Parsed[T]{Status: StatusMissing}
}

// Invalid marks a field that was present but could not be coerced.
func Invalid[T any](reason string) Parsed[T] {
	return Parsed[T]{Status: StatusInvalid, Reason: reason}
}

// OK reports whether the value was coerced.
func (p Parsed[T]) OK() bool {
	return p.Status == StatusOK
}

// Ptr returns a pointer to the value when present, nil otherwise.
func (p Parsed[T]) Ptr() *T {
	if p.Status != StatusOK {
		return nil
	}
	v := p.Value
	return &v
}

var (
	priceRe   = regexp.MustCompile(`(-)?\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	mileageRe = regexp.MustCompile(`(?i)(-)?(\d[\d,]*)\s*(?:miles?|mi\b)`)
	numberRe  = regexp.MustCompile(`^\s*(-)?(\d[\d,]*)\s*$`)
	mpgRe     = regexp.MustCompile(`(?i)(\d+)\s*city\s*/\s*(\d+)\s*(?:hwy|highway)`)
	titleRe   = regexp.MustCompile(`^\s*(\d{4})\s+(\S+)\s+(.+?)\s*$`)
	vinTextRe = regexp.MustCompile(`(?i)VIN[:\s]+([A-HJ-NPR-Z0-9]{17})\b`)
	vinRe     = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// CleanText collapses whitespace runs and trims the result.
func CleanText(raw string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
}

// ParseText cleans free text; blank input is Missing.
func ParseText(raw string) Parsed[string] {
	text := CleanText(raw)
	if text == "" {
		return Missing[string]()
	}
	return Ok(text)
}

// ParsePrice strips currency symbols and thousands separators. Text such as
// "Not Priced" or "Call for price" yields Missing.
func ParsePrice(raw string) Parsed[decimal.Decimal] {
	text := CleanText(raw)
	if text == "" {
		return Missing[decimal.Decimal]()
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "not priced") || strings.Contains(lower, "call for") {
		return Missing[decimal.Decimal]()
	}
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return Missing[decimal.Decimal]()
	}
	if m[1] != "" {
		return Invalid[decimal.Decimal]("negative price " + text)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return Invalid[decimal.Decimal]("unparseable price " + text)
	}
	return Ok(d.Round(2))
}

// ParseMileage reads "12,345 miles", "12,345 mi" or a bare number.
func ParseMileage(raw string) Parsed[int] {
	text := CleanText(raw)
	if text == "" {
		return Missing[int]()
	}
	m := mileageRe.FindStringSubmatch(text)
	if m == nil {
		m = numberRe.FindStringSubmatch(text)
	}
	if m == nil {
		return Missing[int]()
	}
	if m[1] != "" {
		return Invalid[int]("negative mileage " + text)
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return Invalid[int]("unparseable mileage " + text)
	}
	return Ok(n)
}

// ParseMPG finds "N city / M hwy" in free text.
func ParseMPG(raw string) (city, highway Parsed[int]) {
	m := mpgRe.FindStringSubmatch(raw)
	if m == nil {
		return Missing[int](), Missing[int]()
	}
	return atoiParsed(m[1]), atoiParsed(m[2])
}

func atoiParsed(s string) Parsed[int] {
	n, err := strconv.Atoi(s)
	if err != nil {
		return Invalid[int]("unparseable integer " + s)
	}
	return Ok(n)
}

// Title holds the pieces of a "YYYY Make Model Trim" heading.
type Title struct {
	Year  int
	Make  string
	Model string
}

// ParseTitle splits a listing heading. Everything after the make is the model.
func ParseTitle(raw string) Parsed[Title] {
	text := CleanText(raw)
	if text == "" {
		return Missing[Title]()
	}
	m := titleRe.FindStringSubmatch(text)
	if m == nil {
		return Invalid[Title]("title does not start with year make model: " + text)
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return Invalid[Title]("unparseable year " + m[1])
	}
	return Ok(Title{Year: year, Make: m[2], Model: m[3]})
}

// NormalizeVIN uppercases and checks the 17 character VIN alphabet (no I, O, Q).
func NormalizeVIN(raw string) Parsed[string] {
	text := strings.ToUpper(strings.TrimSpace(raw))
	if text == "" {
		return Missing[string]()
	}
	if !vinRe.MatchString(text) {
		return Invalid[string]("malformed vin " + text)
	}
	return Ok(text)
}

// FindVIN scans free text for a "VIN: XXXXXXXXXXXXXXXXX" marker.
func FindVIN(body string) Parsed[string] {
	m := vinTextRe.FindStringSubmatch(body)
	if m == nil {
		return Missing[string]()
	}
	return NormalizeVIN(m[1])
}

// ParseCondition maps stock-type labels onto a Condition.
func ParseCondition(raw string) Parsed[Condition] {
	lower := strings.ToLower(CleanText(raw))
	switch {
	case lower == "":
		return Missing[Condition]()
	case strings.Contains(lower, "certified"):
		return Ok(ConditionCertified)
	case strings.Contains(lower, "used"), strings.Contains(lower, "pre-owned"):
		return Ok(ConditionUsed)
	case strings.Contains(lower, "new"):
		return Ok(ConditionNew)
	default:
		return Invalid[Condition]("unknown condition " + raw)
	}
}

// InferCondition falls back to page-wide text when no stock-type label exists.
func InferCondition(body string, year int, now time.Time) Condition {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "certified") && strings.Contains(lower, "pre-owned"):
		return ConditionCertified
	case year >= now.Year() && strings.Contains(lower, "new"):
		return ConditionNew
	default:
		return ConditionUsed
	}
}
