package hierarchical

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

var (
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00 fake jpeg body")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake png body")
)

type fakeFetcher struct {
	mu    sync.Mutex
	body  map[string][]byte
	fail  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		body:  map[string][]byte{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) FetchImage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	if b, ok := f.body[url]; ok {
		return b, nil
	}
	return nil, errors.New("404 not found")
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func camry() *listing.Record {
	rec := &listing.Record{
		URL:       "https://cars.example/vehicledetail/abc/",
		Make:      "Toyota",
		Model:     "Camry 2024!",
		Year:      2024,
		Condition: listing.ConditionUsed,
		ScrapedAt: listing.NewTimestamp(time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)),
	}
	rec.AddImage("https://img.example/1.jpg")
	rec.AddImage("https://img.example/2.png")
	rec.AssignIdentity("0195c1a2-7b1e-7cc0-9a55-3c1f0e1d2a3b")
	return rec
}

func newStore(t *testing.T, base string, f ImageFetcher) *Store {
	t.Helper()
	s, err := New(Config{BaseDir: base, SaveImages: true}, f, nil)
	require.NoError(t, err)
	return s
}

func TestCommitLayout(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "data")
	f := newFakeFetcher()
	f.body["https://img.example/1.jpg"] = jpegBytes
	f.body["https://img.example/2.png"] = pngBytes
	s := newStore(t, base, f)

	rec := camry()
	res, err := s.Commit(context.Background(), rec)
	require.NoError(t, err)

	wantDir := filepath.Join(base, "toyota", "camry_2024", rec.ListingID)
	assert.Equal(t, wantDir, res.Dir)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 0, res.MissingImages)
	assert.FileExists(t, filepath.Join(wantDir, "images", "image_00.jpg"))
	assert.FileExists(t, filepath.Join(wantDir, "images", "image_01.png"))
	assert.Equal(t, "images/image_00.jpg", listing.StringValue(rec.Images[0].LocalPath))
	assert.Equal(t, "images/image_01.png", listing.StringValue(rec.Images[1].LocalPath))
	assert.False(t, rec.ImagesIncomplete)

	raw, err := os.ReadFile(res.ListingPath)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "2025-03-14T09:26:53.589Z", onDisk["scraped_at"])
	assert.Equal(t, false, onDisk["images_incomplete"])
	images, ok := onDisk["images"].([]any)
	require.True(t, ok)
	require.Len(t, images, 2)
	first, ok := images[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, first["is_primary"])
	assert.Equal(t, "images/image_00.jpg", first["local_path"])

	entries, err := os.ReadDir(wantDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "no temp files left behind")
	}
}

func TestRecommitDownloadsNothing(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.body["https://img.example/1.jpg"] = jpegBytes
	f.body["https://img.example/2.png"] = pngBytes
	s := newStore(t, t.TempDir(), f)

	_, err := s.Commit(context.Background(), camry())
	require.NoError(t, err)
	require.Equal(t, 2, f.total())

	again := camry()
	again.Description = listing.ParseText("price drop").Ptr()
	res, err := s.Commit(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, 2, f.total(), "no additional downloads")
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "images/image_01.png", listing.StringValue(again.Images[1].LocalPath))

	raw, err := os.ReadFile(res.ListingPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "price drop", "metadata is overwritten")
}

func TestCommitPartialImageFailure(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.body["https://img.example/1.jpg"] = []byte("<html><body>blocked</body></html>")
	f.body["https://img.example/2.png"] = pngBytes
	f.fail["https://img.example/3.jpg"] = errors.New("connection reset")
	s := newStore(t, t.TempDir(), f)

	rec := camry()
	rec.AddImage("https://img.example/3.jpg")
	rec.AssignIdentity(rec.ListingID)

	res, err := s.Commit(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MissingImages)
	assert.Equal(t, 1, res.Downloaded)
	assert.True(t, rec.ImagesIncomplete)
	assert.Nil(t, rec.Images[0].LocalPath)
	assert.Equal(t, "images/image_01.png", listing.StringValue(rec.Images[1].LocalPath))
	assert.Nil(t, rec.Images[2].LocalPath)
	assert.FileExists(t, res.ListingPath)

	// A later run fills in only what is missing.
	f.body["https://img.example/1.jpg"] = jpegBytes
	delete(f.fail, "https://img.example/3.jpg")
	f.body["https://img.example/3.jpg"] = jpegBytes
	rec2 := camry()
	rec2.AddImage("https://img.example/3.jpg")
	rec2.AssignIdentity(rec.ListingID)
	res, err = s.Commit(context.Background(), rec2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, rec2.ImagesIncomplete)
	assert.Equal(t, 1, f.calls["https://img.example/2.png"])
}

func TestCommitWithoutImages(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s, err := New(Config{BaseDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	rec := camry()
	res, err := s.Commit(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 0, f.total())
	assert.Equal(t, 0, res.MissingImages)
	assert.False(t, rec.ImagesIncomplete)
	assert.Nil(t, rec.Images[0].LocalPath)
	assert.FileExists(t, res.ListingPath)
	assert.NoDirExists(t, filepath.Join(res.Dir, ImagesDir))

	raw, err := os.ReadFile(res.ListingPath)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	for _, key := range []string{"description", "location", "dealer_name", "engine", "mpg_city"} {
		assert.Contains(t, onDisk, key)
	}
	images, ok := onDisk["images"].([]any)
	require.True(t, ok)
	first, ok := images[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, first, "local_path")
	assert.Nil(t, first["local_path"])
}

func TestCommitListingWithoutPhotos(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := newStore(t, t.TempDir(), f)

	rec := camry()
	rec.Images = nil
	res, err := s.Commit(context.Background(), rec)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(res.Dir, ImagesDir))

	raw, err := os.ReadFile(res.ListingPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"images": []`)
}

func TestCommitCancelled(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.body["https://img.example/1.jpg"] = jpegBytes
	s := newStore(t, t.TempDir(), f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := camry()
	res, err := s.Commit(ctx, rec)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, listing.IsFatal(err))
	assert.NoFileExists(t, res.ListingPath)
	assert.Equal(t, 0, f.total())
}

func TestCommitRequiresListingID(t *testing.T) {
	t.Parallel()

	s := newStore(t, t.TempDir(), newFakeFetcher())
	for _, id := range []string{"", "..", "a/b"} {
		rec := camry()
		rec.ListingID = id
		_, err := s.Commit(context.Background(), rec)
		var pe *listing.PersistenceError
		require.ErrorAs(t, err, &pe, id)
		assert.False(t, listing.IsFatal(err), id)
	}
}

func TestNewUnwritableBaseIsFatal(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: base}, nil, nil)
	var pe *listing.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, listing.PersistUnwritable, pe.Kind)
	assert.True(t, listing.IsFatal(err))

	_, err = New(Config{}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{BaseDir: t.TempDir(), SaveImages: true}, nil, nil)
	require.Error(t, err)
}

func TestSniffExt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		url     string
		want    string
		wantErr bool
	}{
		{name: "jpeg", data: jpegBytes, url: "https://img.example/x", want: "jpg"},
		{name: "png", data: pngBytes, url: "https://img.example/x.jpg", want: "png"},
		{name: "gif", data: []byte("GIF89a...."), url: "https://img.example/x", want: "gif"},
		{name: "unknown bytes use url", data: []byte{0x01, 0x02, 0x03, 0x04}, url: "https://img.example/x.AVIF?w=640", want: "avif"},
		{name: "unknown bytes unknown url", data: []byte{0x01, 0x02, 0x03, 0x04}, url: "https://img.example/x", wantErr: true},
		{name: "html", data: []byte("<html></html>"), url: "https://img.example/x.jpg", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sniffExt(tc.data, tc.url)
		if tc.wantErr {
			assert.Error(t, err, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}
