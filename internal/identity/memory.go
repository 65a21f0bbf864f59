package identity

import (
	"context"
	"sync"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// MemoryResolver keeps the index in a map. Ids do not survive the process.
type MemoryResolver struct {
	hasher listing.Hasher
	ids    listing.IDGenerator

	mu    sync.Mutex
	index map[string]string
}

// NewMemoryResolver builds an empty in-memory index.
func NewMemoryResolver(hasher listing.Hasher, ids listing.IDGenerator) *MemoryResolver {
	return &MemoryResolver{
		hasher: hasher,
		ids:    ids,
		index:  make(map[string]string),
	}
}

// Resolve implements listing.IdentityResolver.
func (r *MemoryResolver) Resolve(ctx context.Context, sourceURL, vin string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	key, err := Key(r.hasher, sourceURL, vin)
	if err != nil {
		return "", false, identityErr(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.index[key]; ok {
		return id, false, nil
	}
	id, err := r.ids.NewID()
	if err != nil {
		return "", false, identityErr(err)
	}
	r.index[key] = id
	return id, true, nil
}

// Len reports how many pairs are indexed.
func (r *MemoryResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}
