// Package gcs mirrors committed listings into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config captures the bucket and object prefix for mirrored listings.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// BlobStore uploads listing artifacts to a bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror.gcs.bucket is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Dial opens a client with Application Default Credentials and fails fast
// when the bucket is missing or not accessible.
func Dial(ctx context.Context, cfg Config) (*BlobStore, *storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("gcs bucket %q: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

// ObjectName joins the configured prefix and a slash-separated key.
func (s *BlobStore) ObjectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// PutObject uploads r under the prefixed key and returns a gs:// URI. Objects
// under an images/ segment never change for a listing, so they are written
// with a does-not-exist precondition and an existing object counts as success.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	name := s.ObjectName(key)
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)

	obj := s.client.Bucket(s.bucket).Object(name)
	immutable := isImage(name)
	if immutable {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		if immutable && isPreconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("close writer %s: %w", name, err)
	}
	return uri, nil
}

func isImage(name string) bool {
	return strings.Contains("/"+name, "/images/")
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
