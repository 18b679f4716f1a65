// Package memblob provides an in-memory blob.Store used in tests and
// single-process deployments.
package memblob

import (
	"context"
	"io"
	"sync"

	"github.com/duchynet/duchy/blob"
)

// Store is a thread-safe in-memory blob store.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Write(ctx context.Context, path string, content io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = data
	return nil
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, blob.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Len returns the number of stored blobs. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *Store) Close() error { return nil }
