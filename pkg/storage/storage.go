// Package storage puts uploaded reference images into object storage and
// resolves their public URLs.
package storage

import "context"

// Store abstracts the object-storage collaborator.
type Store interface {
	// Upload writes data at bucket/path. Existing objects are never overwritten.
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	// PublicURL returns the URL the object is served from.
	PublicURL(bucket, path string) string
}
