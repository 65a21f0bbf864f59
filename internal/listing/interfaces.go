package listing

import (
	"context"
	"io"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates new listing identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces stable digests for identity keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IdentityResolver maps a (source URL, VIN) pair onto a stable listing id.
// The same pair always resolves to the id issued the first time; created
// reports whether this call issued it.
type IdentityResolver interface {
	Resolve(ctx context.Context, sourceURL, vin string) (listingID string, created bool, err error)
}

// CommitResult describes what a commit wrote.
type CommitResult struct {
	Dir           string
	ListingPath   string
	Downloaded    int
	Skipped       int
	MissingImages int
}

// Committer persists a validated record and its images.
type Committer interface {
	Commit(ctx context.Context, rec *Record) (CommitResult, error)
}

// BlobStore uploads artifacts to object storage.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits notifications about committed listings.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
