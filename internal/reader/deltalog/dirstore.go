package deltalog

import (
	"context"
	"os"
	"strings"
)

// DirStore is an ObjectStore over the local filesystem, for tables whose
// storage path is a plain directory or a file:// URI. Useful for demos and
// tests; production tables live in object storage behind another store.
type DirStore struct{}

func localPath(path string) string {
	return strings.TrimPrefix(path, "file://")
}

// List implements ObjectStore.
func (DirStore) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(localPath(prefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Get implements ObjectStore.
func (DirStore) Get(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(localPath(path))
}
