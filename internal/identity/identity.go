// Package identity assigns stable listing ids keyed by (source URL, VIN).
//
// The first successful extraction of a pair issues a new id; every later
// resolution of the same pair returns it unchanged, across runs.
package identity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/listing"
)

// NormalizeURL lowercases scheme and host, drops the fragment and any
// trailing slash so trivially different spellings share a key.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// Key hashes the normalized URL and upper-cased VIN into the index key.
func Key(h listing.Hasher, sourceURL, vin string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("source url is required")
	}
	material := NormalizeURL(sourceURL) + "|" + strings.ToUpper(strings.TrimSpace(vin))
	key, err := h.Hash([]byte(material))
	if err != nil {
		return "", fmt.Errorf("hash identity key: %w", err)
	}
	return key, nil
}

func identityErr(err error) error {
	return &listing.PersistenceError{Kind: listing.PersistIdentity, Err: err}
}
