package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nicktill/tinygarden/pkg/statestore"
)

// Store keeps documents in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// New creates an in-memory document store.
func New() *Store {
	return &Store{docs: make(map[string][]byte)}
}

// Get reads and unmarshals the document at key.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.docs[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores the document at key. Documents are serialized on write so later
// mutation of the caller's value cannot leak into the store.
func (s *Store) Put(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = raw
	return nil
}

// Keys lists keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns document count and a rough size estimate.
func (s *Store) Stats(ctx context.Context) (*statestore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &statestore.Stats{Documents: uint64(len(s.docs))}
	for _, raw := range s.docs {
		stats.SizeBytes += uint64(len(raw))
	}
	return stats, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
