package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Condition is the sale condition advertised for a vehicle.
type Condition string

// Supported conditions.
const (
	ConditionNew       Condition = "new"
	ConditionUsed      Condition = "used"
	ConditionCertified Condition = "certified"
)

// TimestampLayout is the on-disk format for scraped_at: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time so it always serializes as TimestampLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// String formats the timestamp using TimestampLayout.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(`"`+TimestampLayout+`"`, string(data))
	if err != nil {
		return fmt.Errorf("parse scraped_at: %w", err)
	}
	t.Time = parsed
	return nil
}

// ImageRef points at one listing photo. Position is 0-based and contiguous;
// the image at position 0 is the only primary image. LocalPath stays nil until
// the file is on disk.
type ImageRef struct {
	ImageID   string  `json:"image_id"`
	URL       string  `json:"url"`
	LocalPath *string `json:"local_path"`
	IsPrimary bool    `json:"is_primary"`
	Position  int     `json:"position"`
}

// Record is a validated vehicle listing.
type Record struct {
	ListingID     string           `json:"listing_id"`
	URL           string           `json:"url"`
	Make          string           `json:"make"`
	Model         string           `json:"model"`
	Year          int              `json:"year"`
	Condition     Condition        `json:"condition"`
	Price         *decimal.Decimal `json:"price"`
	Mileage       *int             `json:"mileage"`
	VIN           *string          `json:"vin"`
	Description   *string          `json:"description"`
	Location      *string          `json:"location"`
	DealerName    *string          `json:"dealer_name"`
	ExteriorColor *string          `json:"exterior_color"`
	InteriorColor *string          `json:"interior_color"`
	Transmission  *string          `json:"transmission"`
	Drivetrain    *string          `json:"drivetrain"`
	FuelType      *string          `json:"fuel_type"`
	MPGCity       *int             `json:"mpg_city"`
	MPGHighway    *int             `json:"mpg_highway"`
	Engine        *string          `json:"engine"`
	Images        []ImageRef       `json:"images"`
	ScrapedAt     Timestamp        `json:"scraped_at"`

	ImagesIncomplete bool `json:"images_incomplete"`
}

// MarshalJSON writes every field; absent values are null and a listing
// without photos has an empty images array.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	out := plain(r)
	if out.Images == nil {
		out.Images = []ImageRef{}
	}
	return json.Marshal(out)
}

// AddImage appends an image at the next position. The first image becomes primary.
func (r *Record) AddImage(url string) {
	pos := len(r.Images)
	r.Images = append(r.Images, ImageRef{
		URL:       url,
		IsPrimary: pos == 0,
		Position:  pos,
	})
}

// AssignIdentity stamps the listing id and derives stable image ids from it.
func (r *Record) AssignIdentity(listingID string) {
	r.ListingID = listingID
	ns, err := uuid.Parse(listingID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceURL, []byte(listingID))
	}
	for i := range r.Images {
		r.Images[i].ImageID = uuid.NewSHA1(ns, []byte(r.Images[i].URL)).String()
	}
}

// VINValue returns the VIN or an empty string.
func (r *Record) VINValue() string {
	return StringValue(r.VIN)
}

// StringValue dereferences an optional text field, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Clone returns a deep copy so hooks and callers cannot mutate shared state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Images = make([]ImageRef, len(r.Images))
	for i, img := range r.Images {
		img.LocalPath = clonePtr(img.LocalPath)
		out.Images[i] = img
	}
	if r.Price != nil {
		p := r.Price.Copy()
		out.Price = &p
	}
	out.Mileage = clonePtr(r.Mileage)
	out.VIN = clonePtr(r.VIN)
	out.MPGCity = clonePtr(r.MPGCity)
	out.MPGHighway = clonePtr(r.MPGHighway)
	for _, p := range []**string{
		&out.Description, &out.Location, &out.DealerName, &out.ExteriorColor,
		&out.InteriorColor, &out.Transmission, &out.Drivetrain, &out.FuelType, &out.Engine,
	} {
		*p = clonePtr(*p)
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
