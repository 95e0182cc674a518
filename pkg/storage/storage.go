package storage

import "context"

// ObjectStore is the capability contract the pipeline needs from blob
// storage. Implementations normalize every failure to errutil.ErrStorage.
type ObjectStore interface {
	// Download returns the raw bytes and content type stored at bucket/key.
	Download(ctx context.Context, bucket, key string) ([]byte, string, error)

	// Upload stores data at bucket/key and returns a resolvable URL.
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}
