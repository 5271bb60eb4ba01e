package adapter

import "context"

// BlobStore holds document content and rendered page images. Keys are
// opaque references recorded on the Document/Page records.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
