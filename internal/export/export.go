// Package export writes committed listings as flat JSON or CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// Columns is the CSV header, one row per listing.
var Columns = []string{
	"listing_id",
	"url",
	"make",
	"model",
	"year",
	"condition",
	"price",
	"mileage",
	"vin",
	"location",
	"dealer_name",
	"exterior_color",
	"interior_color",
	"transmission",
	"drivetrain",
	"fuel_type",
	"mpg_city",
	"mpg_highway",
	"engine",
	"image_count",
	"scraped_at",
}

// WriteJSON writes records as an indented JSON array. A nil slice is written
// as [].
func WriteJSON(w io.Writer, records []*listing.Record) error {
	if records == nil {
		records = []*listing.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode listings: %w", err)
	}
	return nil
}

// WriteCSV writes a header row and one row per record. Missing optional
// values are empty cells.
func WriteCSV(w io.Writer, records []*listing.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.ListingID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(rec *listing.Record) []string {
	price := ""
	if rec.Price != nil {
		price = rec.Price.String()
	}
	return []string{
		rec.ListingID,
		rec.URL,
		rec.Make,
		rec.Model,
		strconv.Itoa(rec.Year),
		string(rec.Condition),
		price,
		optInt(rec.Mileage),
		rec.VINValue(),
		listing.StringValue(rec.Location),
		listing.StringValue(rec.DealerName),
		listing.StringValue(rec.ExteriorColor),
		listing.StringValue(rec.InteriorColor),
		listing.StringValue(rec.Transmission),
		listing.StringValue(rec.Drivetrain),
		listing.StringValue(rec.FuelType),
		optInt(rec.MPGCity),
		optInt(rec.MPGHighway),
		listing.StringValue(rec.Engine),
		strconv.Itoa(len(rec.Images)),
		rec.ScrapedAt.String(),
	}
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// WriteFile creates path (and its parent directory) and writes records with
// write.
func WriteFile(path string, records []*listing.Record, write func(io.Writer, []*listing.Record) error) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // operator-supplied output path
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f, records)
}
