package scraper

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// Hook runs after a listing has been committed. Errors are logged and
// counted by the orchestrator and never change the outcome.
type Hook interface {
	Name() string
	AfterCommit(ctx context.Context, rec *listing.Record, res listing.CommitResult) error
}

// MirrorHook copies a committed listing directory to a blob store under
// <make>/<model>/<listing_id>/.
type MirrorHook struct {
	store listing.BlobStore
}

// NewMirrorHook returns a hook that uploads to store.
func NewMirrorHook(store listing.BlobStore) *MirrorHook {
	return &MirrorHook{store: store}
}

// Name implements Hook.
func (h *MirrorHook) Name() string { return "mirror" }

// AfterCommit uploads every regular file in the listing directory.
func (h *MirrorHook) AfterCommit(ctx context.Context, rec *listing.Record, res listing.CommitResult) error {
	prefix := path.Join(listing.Slug(rec.Make), listing.Slug(rec.Model), rec.ListingID)
	return filepath.WalkDir(res.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || d.Name()[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(res.Dir, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p) //nolint:gosec // walking the directory we just wrote
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		defer func() { _ = f.Close() }()
		key := path.Join(prefix, filepath.ToSlash(rel))
		if _, err := h.store.PutObject(ctx, key, contentType(p), f); err != nil {
			return fmt.Errorf("mirror %s: %w", key, err)
		}
		return nil
	})
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Committed is the payload published for every committed listing.
type Committed struct {
	Event         string    `json:"event"`
	ListingID     string    `json:"listing_id"`
	URL           string    `json:"url"`
	Make          string    `json:"make"`
	Model         string    `json:"model"`
	Year          int       `json:"year"`
	VIN           string    `json:"vin,omitempty"`
	Images        int       `json:"images"`
	MissingImages int       `json:"missing_images"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Attributes exposes routing attributes to publishers that support them.
func (c Committed) Attributes() map[string]string {
	return map[string]string{
		"event":      c.Event,
		"listing_id": c.ListingID,
		"make":       c.Make,
	}
}

// NotifyHook publishes a Committed message to topic.
type NotifyHook struct {
	publisher listing.Publisher
	topic     string
}

// NewNotifyHook returns a hook that publishes to topic.
func NewNotifyHook(publisher listing.Publisher, topic string) *NotifyHook {
	return &NotifyHook{publisher: publisher, topic: topic}
}

// Name implements Hook.
func (h *NotifyHook) Name() string { return "notify" }

// AfterCommit publishes the notification.
func (h *NotifyHook) AfterCommit(ctx context.Context, rec *listing.Record, res listing.CommitResult) error {
	msg := Committed{
		Event:         "listing.committed",
		ListingID:     rec.ListingID,
		URL:           rec.URL,
		Make:          rec.Make,
		Model:         rec.Model,
		Year:          rec.Year,
		VIN:           rec.VINValue(),
		Images:        res.Downloaded + res.Skipped,
		MissingImages: res.MissingImages,
		ScrapedAt:     rec.ScrapedAt.Time,
	}
	if _, err := h.publisher.Publish(ctx, h.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}
	return nil
}
