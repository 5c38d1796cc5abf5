// Package gcs reads and writes Cloud Storage objects addressed by gs:// URIs.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const uriScheme = "gs://"

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// IsURI reports whether s is a gs:// URI.
func IsURI(s string) bool {
	return strings.HasPrefix(s, uriScheme)
}

// ParseURI splits a gs://bucket/object URI.
func ParseURI(uri string) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, uriScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename returns the last path element of the object in uri.
// e.g., "gs://bucket/reports/run.json" → "run.json"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, uriScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage. A client is created per call.
type GCSStorageService struct {
	opts []option.ClientOption
}

// NewGCSStorageService creates a new instance of GCSStorageService.
func NewGCSStorageService(opts ...option.ClientOption) *GCSStorageService {
	return &GCSStorageService{opts: opts}
}

// Upload implements StorageService.
func (s *GCSStorageService) Upload(ctx context.Context, uri string, data []byte, contentType string) error {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx, s.opts...)
	if err != nil {
		return fmt.Errorf("Upload: creating storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Upload: writing %s: %w", uri, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Upload: finalizing %s: %w", uri, err)
	}
	return nil
}

// Fetch implements StorageService.
func (s *GCSStorageService) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("Fetch: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// Ensure GCSStorageService implements StorageService.
var _ StorageService = (*GCSStorageService)(nil)
