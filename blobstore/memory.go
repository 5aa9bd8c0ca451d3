package blobstore

import (
	"gocloud.dev/blob/memblob"
)

// NewMemory creates an in-memory store for testing.
func NewMemory() *Store {
	bkt := memblob.OpenBucket(nil)
	return &Store{bucket: bkt, owns: true}
}
