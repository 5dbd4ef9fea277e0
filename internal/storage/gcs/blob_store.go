// Package gcs archives raw pages in a Google Cloud Storage bucket.
package gcs

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config selects the target bucket.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Gzip stores bodies compressed with Content-Encoding gzip; GCS serves
	// them decompressed to clients that do not accept gzip.
	Gzip   bool   `mapstructure:"gzip"`
}

// BlobStore writes archived pages to a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	gzip   bool
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, gzip: cfg.Gzip}, nil
}

// PutObject uploads body and returns a gs:// URI. Paths shaped
// "<prefix>/<jobID>/<digest>.html" carry the job ID as object metadata.
// Uploads are not retried; the caller treats archive failures as non-fatal.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = objectMetadata(path)

	var dst io.Writer = writer
	var zw *gzip.Writer
	if s.gzip {
		writer.ContentEncoding = "gzip"
		zw = gzip.NewWriter(writer)
		dst = zw
	}
	if _, err := io.Copy(dst, body); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object %s: %w (close writer: %v)", path, err, closeErr)
		}
		return "", fmt.Errorf("copy object %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			_ = writer.Close()
			return "", fmt.Errorf("compress object %s: %w", path, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

func objectMetadata(path string) map[string]string {
	meta := map[string]string{"source": "listing-harvester"}
	parts := strings.Split(path, "/")
	if len(parts) >= 2 && strings.HasSuffix(parts[len(parts)-1], ".html") {
		meta["job_id"] = parts[len(parts)-2]
	}
	return meta
}
