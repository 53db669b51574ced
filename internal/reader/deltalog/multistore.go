package deltalog

import (
	"context"
	"fmt"
	"strings"
)

var _ ObjectStore = (*MultiStore)(nil)

// MultiStore routes object access by URI scheme, so one Reader can serve
// tables spread across local disk and object storage. Paths with no
// registered store fall back to the default store.
type MultiStore struct {
	stores   map[string]ObjectStore
	fallback ObjectStore
}

// NewMultiStore builds a router with DirStore as the fallback.
func NewMultiStore() *MultiStore {
	return &MultiStore{stores: map[string]ObjectStore{}, fallback: DirStore{}}
}

// Register maps one or more URI schemes to a store.
func (m *MultiStore) Register(store ObjectStore, schemes ...string) {
	for _, scheme := range schemes {
		m.stores[strings.ToLower(scheme)] = store
	}
}

func (m *MultiStore) storeFor(path string) ObjectStore {
	scheme, _, found := strings.Cut(path, "://")
	if !found {
		return m.fallback
	}
	if store, ok := m.stores[strings.ToLower(scheme)]; ok {
		return store
	}
	return m.fallback
}

// List implements ObjectStore.
func (m *MultiStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := m.storeFor(prefix).List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return names, nil
}

// Get implements ObjectStore.
func (m *MultiStore) Get(ctx context.Context, path string) ([]byte, error) {
	return m.storeFor(path).Get(ctx, path)
}
