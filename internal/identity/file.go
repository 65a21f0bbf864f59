package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// DirName is the index directory created under the output root.
const DirName = ".identity"

// FileResolver stores one small file per key, named by the key and holding the
// listing id. A key file is linked into place fully written, so two processes
// resolving the same pair agree on the first id claimed.
type FileResolver struct {
	dir    string
	hasher listing.Hasher
	ids    listing.IDGenerator
	mu     sync.Mutex
}

// NewFileResolver prepares baseDir/.identity. An unwritable directory is fatal.
func NewFileResolver(baseDir string, hasher listing.Hasher, ids listing.IDGenerator) (*FileResolver, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("identity base directory is required")
	}
	dir := filepath.Join(baseDir, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &listing.PersistenceError{Kind: listing.PersistUnwritable, Path: dir, Err: err}
	}
	return &FileResolver{dir: dir, hasher: hasher, ids: ids}, nil
}

// Resolve implements listing.IdentityResolver.
func (r *FileResolver) Resolve(ctx context.Context, sourceURL, vin string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	key, err := Key(r.hasher, sourceURL, vin)
	if err != nil {
		return "", false, identityErr(err)
	}
	path := filepath.Join(r.dir, key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, err := readID(path); err == nil {
		return id, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, identityErr(err)
	}

	id, err := r.ids.NewID()
	if err != nil {
		return "", false, identityErr(err)
	}
	won, err := r.claim(path, id)
	if err != nil {
		return "", false, err
	}
	if !won {
		existing, err := readID(path)
		if err != nil {
			return "", false, identityErr(err)
		}
		return existing, false, nil
	}
	return id, true, nil
}

// claim writes id to a temp file and hard-links it to path, so the key file
// never exists without its content. It reports false when path already exists.
func (r *FileResolver) claim(path, id string) (bool, error) {
	tmp, err := os.CreateTemp(r.dir, ".claim-*")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, &listing.PersistenceError{Kind: listing.PersistUnwritable, Path: r.dir, Err: err}
		}
		return false, identityErr(err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(id + "\n"); err != nil {
		_ = tmp.Close()
		return false, identityErr(err)
	}
	if err := tmp.Close(); err != nil {
		return false, identityErr(err)
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, identityErr(err)
	}
	return true, nil
}

func readID(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a hex digest
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("identity file %s is empty", path)
	}
	return id, nil
}
