// Package redis stores the listing identity index in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/identity"
	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// Client is the subset of go-redis the resolver needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Config selects the Redis server and key namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Resolver claims ids with SETNX and reads back the winner.
type Resolver struct {
	client Client
	prefix string
	hasher listing.Hasher
	ids    listing.IDGenerator
}

// New dials Redis and returns a Resolver plus the client so callers can close it.
func New(ctx context.Context, cfg Config, hasher listing.Hasher, ids listing.IDGenerator) (*Resolver, *goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("identity.redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, hasher, ids), client, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, prefix string, hasher listing.Hasher, ids listing.IDGenerator) *Resolver {
	if prefix == "" {
		prefix = "listing:identity:"
	}
	return &Resolver{client: client, prefix: prefix, hasher: hasher, ids: ids}
}

// Resolve implements listing.IdentityResolver.
func (r *Resolver) Resolve(ctx context.Context, sourceURL, vin string) (string, bool, error) {
	key, err := identity.Key(r.hasher, sourceURL, vin)
	if err != nil {
		return "", false, wrap(err)
	}
	key = r.prefix + key
	candidate, err := r.ids.NewID()
	if err != nil {
		return "", false, wrap(err)
	}
	created, err := r.client.SetNX(ctx, key, candidate, 0).Result()
	if err != nil {
		return "", false, wrap(fmt.Errorf("setnx identity: %w", err))
	}
	if created {
		return candidate, true, nil
	}
	id, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false, wrap(fmt.Errorf("get identity: %w", err))
	}
	return id, false, nil
}

func wrap(err error) error {
	return &listing.PersistenceError{Kind: listing.PersistIdentity, Err: err}
}
