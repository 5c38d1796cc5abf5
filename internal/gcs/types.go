package gcs

import (
	"context"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// Upload writes data to the object at a gs:// URI.
	Upload(ctx context.Context, uri string, data []byte, contentType string) error

	// Fetch downloads the object at a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
