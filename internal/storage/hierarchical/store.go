// Package hierarchical commits listings under base/make/model/listing_id.
package hierarchical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

const (
	// ListingFile is the metadata file written last in every listing directory.
	ListingFile = "listing.json"
	// ImagesDir holds image_NN.ext files.
	ImagesDir = "images"
)

var imageNameRe = regexp.MustCompile(`^image_(\d{2,})\.[a-z0-9]+$`)

var sniffedExt = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
	"image/bmp":    "bmp",
	"image/x-icon": "ico",
}

var urlExt = map[string]string{
	".jpg":  "jpg",
	".jpeg": "jpg",
	".png":  "png",
	".gif":  "gif",
	".webp": "webp",
	".avif": "avif",
}

// ImageFetcher downloads image bytes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Config captures the parameters for the store.
type Config struct {
	BaseDir    string `mapstructure:"base_dir"`
	SaveImages bool   `mapstructure:"save_images"`
}

// Store implements listing.Committer on the local filesystem.
type Store struct {
	baseDir    string
	saveImages bool
	fetcher    ImageFetcher
	logger     *zap.Logger
}

// New prepares baseDir and checks that it is writable. Any failure here is
// fatal for a batch.
func New(cfg Config, fetcher ImageFetcher, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if cfg.SaveImages && fetcher == nil {
		return nil, fmt.Errorf("image fetcher is required when saving images")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := checkWritable(cfg.BaseDir); err != nil {
		return nil, err
	}
	return &Store{
		baseDir:    cfg.BaseDir,
		saveImages: cfg.SaveImages,
		fetcher:    fetcher,
		logger:     logger,
	}, nil
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return unwritable(dir, fmt.Errorf("create base directory: %w", mkErr))
		}
	case err != nil:
		return unwritable(dir, fmt.Errorf("stat base directory: %w", err))
	case !info.IsDir():
		return unwritable(dir, fmt.Errorf("base directory path is not a directory"))
	}
	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return unwritable(dir, fmt.Errorf("base directory is not writable: %w", err))
	}
	if err := os.Remove(probe); err != nil {
		return unwritable(dir, fmt.Errorf("clean up probe file: %w", err))
	}
	return nil
}

// Dir returns the listing directory for rec.
func (s *Store) Dir(rec *listing.Record) string {
	return filepath.Join(s.baseDir, listing.Slug(rec.Make), listing.Slug(rec.Model), rec.ListingID)
}

// Commit writes images and then listing.json. Images already on disk are not
// downloaded again; a failed image is counted and skipped. rec is updated in
// place with local paths and the images_incomplete flag.
func (s *Store) Commit(ctx context.Context, rec *listing.Record) (listing.CommitResult, error) {
	if rec == nil || strings.TrimSpace(rec.ListingID) == "" {
		return listing.CommitResult{}, &listing.PersistenceError{Kind: listing.PersistWrite, Err: errors.New("listing id is required")}
	}
	if strings.ContainsAny(rec.ListingID, `/\`) || rec.ListingID == "." || rec.ListingID == ".." {
		return listing.CommitResult{}, &listing.PersistenceError{Kind: listing.PersistWrite, ListingID: rec.ListingID, Err: errors.New("listing id is not a valid directory name")}
	}
	dir := s.Dir(rec)
	res := listing.CommitResult{Dir: dir, ListingPath: filepath.Join(dir, ListingFile)}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return res, s.writeErr(rec, dir, err)
	}

	if s.saveImages && len(rec.Images) > 0 {
		imgDir := filepath.Join(dir, ImagesDir)
		if err := os.MkdirAll(imgDir, 0o750); err != nil {
			return res, s.writeErr(rec, imgDir, err)
		}
		existing, err := existingImages(imgDir)
		if err != nil {
			return res, s.writeErr(rec, imgDir, err)
		}
		for i := range rec.Images {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("commit %s: %w", rec.ListingID, err)
			}
			img := &rec.Images[i]
			if name, ok := existing[img.Position]; ok {
				img.LocalPath = localPath(name)
				res.Skipped++
				continue
			}
			name, err := s.saveImage(ctx, imgDir, img)
			if err != nil {
				if ctx.Err() != nil {
					return res, fmt.Errorf("commit %s: %w", rec.ListingID, ctx.Err())
				}
				var pe *listing.PersistenceError
				if errors.As(err, &pe) && pe.Fatal() {
					return res, err
				}
				res.MissingImages++
				img.LocalPath = nil
				s.logger.Warn("image not saved",
					zap.String("listing_id", rec.ListingID),
					zap.String("url", img.URL),
					zap.Int("position", img.Position),
					zap.Error(err),
				)
				continue
			}
			img.LocalPath = localPath(name)
			res.Downloaded++
		}
	}
	rec.ImagesIncomplete = res.MissingImages > 0

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return res, &listing.PersistenceError{Kind: listing.PersistWrite, ListingID: rec.ListingID, Err: fmt.Errorf("encode listing: %w", err)}
	}
	data = append(data, '\n')
	if err := writeAtomic(dir, ListingFile, data); err != nil {
		return res, s.writeErr(rec, res.ListingPath, err)
	}
	s.logger.Debug("listing committed",
		zap.String("listing_id", rec.ListingID),
		zap.String("dir", dir),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("skipped", res.Skipped),
		zap.Int("missing", res.MissingImages),
	)
	return res, nil
}

func (s *Store) saveImage(ctx context.Context, imgDir string, img *listing.ImageRef) (string, error) {
	data, err := s.fetcher.FetchImage(ctx, img.URL)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	ext, err := sniffExt(data, img.URL)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("image_%02d.%s", img.Position, ext)
	if err := writeAtomic(imgDir, name, data); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", unwritable(imgDir, err)
		}
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, nil
}

// sniffExt picks the extension from the bytes, falling back to the URL for
// formats the sniffer does not know.
func sniffExt(data []byte, rawURL string) (string, error) {
	ct := http.DetectContentType(data)
	if ext, ok := sniffedExt[ct]; ok {
		return ext, nil
	}
	if ct == "application/octet-stream" {
		clean := rawURL
		if i := strings.IndexAny(clean, "?#"); i >= 0 {
			clean = clean[:i]
		}
		if ext, ok := urlExt[strings.ToLower(path.Ext(clean))]; ok {
			return ext, nil
		}
	}
	return "", fmt.Errorf("unrecognized image content type %q", ct)
}

// existingImages maps position to file name for image_NN.* files.
func existingImages(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	out := make(map[int]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := imageNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		pos, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[pos] = e.Name()
	}
	return out, nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func localPath(name string) *string {
	p := path.Join(ImagesDir, name)
	return &p
}

func (s *Store) writeErr(rec *listing.Record, p string, err error) error {
	kind := listing.PersistWrite
	if errors.Is(err, fs.ErrPermission) {
		kind = listing.PersistUnwritable
	}
	return &listing.PersistenceError{Kind: kind, ListingID: rec.ListingID, Path: p, Err: err}
}

func unwritable(p string, err error) error {
	return &listing.PersistenceError{Kind: listing.PersistUnwritable, Path: p, Err: err}
}
