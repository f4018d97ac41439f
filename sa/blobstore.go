package sa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlobStore implements core.BlobStore on the local filesystem. File
// storage mechanics are explicitly out of scope for this service (spec.md
// §1: "assumed implementations"); this is the simplest concrete instance
// of that assumption, not a design the rest of the pipeline depends on.
type FileBlobStore struct {
	Dir string
}

func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{Dir: dir}
}

func (f *FileBlobStore) Put(ctx context.Context, uploadID string, data []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}
	return os.WriteFile(f.path(uploadID), data, 0o640)
}

func (f *FileBlobStore) Get(ctx context.Context, uploadID string) ([]byte, error) {
	return os.ReadFile(f.path(uploadID))
}

func (f *FileBlobStore) path(uploadID string) string {
	return filepath.Join(f.Dir, uploadID+".blob")
}
