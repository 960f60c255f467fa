package storage

import "context"

// BlobStore is the external blob interface used when a file payload
// exceeds the state store's per-item size ceiling. The state store item
// then keeps only the blob key.
type BlobStore interface {
	// Put uploads bytes under key.
	Put(ctx context.Context, key string, data []byte) error

	// Get downloads the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob stored under key.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
