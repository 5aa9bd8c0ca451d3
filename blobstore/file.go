package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "gocloud.dev/blob/fileblob"
)

// NewFile creates a store backed by the local filesystem.
func NewFile(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path %s: %w", dir, err)
	}

	bucketURL := "file://" + absDir

	return Open(ctx, bucketURL)
}
