package statestore

import "context"

// Store persists the pipeline's derived documents: daily and hourly rollups,
// session stats, per-day details, and the cursor. Each Put replaces the whole
// document in one atomic write, which is what lets the cursor commit a run.
// Implementations: memory (testing), badger (production)
type Store interface {
	// Get unmarshals the document at key into out. The bool result is false
	// when the key does not exist; that is not an error.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Put stores the document at key as a single atomic write.
	Put(ctx context.Context, key string, doc any) error

	// Keys lists stored keys with the given prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Stats returns storage health and usage info.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the store.
	Close() error
}

// Stats provides storage usage info.
type Stats struct {
	// Documents stored
	Documents uint64 `json:"documents"`

	// Approximate storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`
}
