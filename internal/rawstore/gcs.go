// Package rawstore archives large raw snapshots in Google Cloud Storage.
// The ledger store keeps the snapshot's metadata and checksum; the bytes
// live in the bucket under a deterministic object name.
package rawstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// GCS writes snapshots to one bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a storage client using Application Default Credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("raw archive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Put uploads data under key and returns its gs:// location.
func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	name := objectName(g.prefix, key)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	// DoesNotExist makes the write create-only; snapshots are never replaced.
	w := g.client.Bucket(g.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return location(g.bucket, name), nil
}

// Get downloads the object at a location returned by Put.
func (g *GCS) Get(ctx context.Context, loc string) ([]byte, error) {
	bucket, name, err := ParseLocation(loc)
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object bytes: %w", err)
	}
	return data, nil
}

func objectName(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func location(bucket, name string) string {
	return "gs://" + bucket + "/" + name
}

// ParseLocation splits gs://bucket/object into its parts.
func ParseLocation(loc string) (bucket, name string, err error) {
	if !strings.HasPrefix(loc, "gs://") {
		return "", "", fmt.Errorf("invalid GCS location: %s", loc)
	}
	parts := strings.SplitN(strings.TrimPrefix(loc, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS location (no object path): %s", loc)
	}
	return parts[0], parts[1], nil
}
