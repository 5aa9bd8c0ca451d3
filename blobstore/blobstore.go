// Package blobstore persists externalized cache payloads as individually
// named objects under a gocloud.dev bucket. The disk tier stores values
// larger than its inline threshold here and keeps only the blob name in
// its index.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"
)

var ErrNotFound = errors.New("blob not found")

// batchDeleteConcurrency bounds the fan-out of BatchDelete.
const batchDeleteConcurrency = 8

type Store struct {
	bucket *blob.Bucket
	owns   bool
}

// Open opens a store over the bucket named by bucketURL. The caller owns
// nothing; Close releases the bucket.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", bucketURL, err)
	}
	return &Store{bucket: bkt, owns: true}, nil
}

// New wraps an existing bucket. Close does not release it.
func New(bkt *blob.Bucket) *Store {
	return &Store{bucket: bkt, owns: false}
}

func (s *Store) Close() error {
	if s.owns && s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

// BlobPath maps a blob name to its sharded object key. Names shorter than
// two characters land unsharded.
func BlobPath(name string) string {
	if len(name) < 2 {
		return name + ".blob"
	}
	return path.Join(name[:2], name+".blob")
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, mapError(err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	w, err := s.bucket.NewWriter(ctx, key, opts)
	if err != nil {
		return mapError(err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return mapError(w.Close())
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// BatchDeleteError reports the subset of a batch delete that failed.
type BatchDeleteError struct {
	Failed map[string]error
}

func (e *BatchDeleteError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("batch delete: %d object(s) failed: %v", len(keys), keys)
}

// BatchDelete removes the named objects concurrently. Missing objects and
// empty keys are skipped. Failures are collected per key into a
// *BatchDeleteError; keys that did delete stay deleted.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed map[string]error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchDeleteConcurrency)
	for _, key := range keys {
		if key == "" {
			continue
		}
		g.Go(func() error {
			if err := s.Delete(gctx, key); err != nil {
				mu.Lock()
				if failed == nil {
					failed = make(map[string]error)
				}
				failed[key] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return &BatchDeleteError{Failed: failed}
	}
	return nil
}

type ObjectInfo struct {
	Key  string
	Size int64
}

// List returns every object under the store, ordered by key.
func (s *Store) List(ctx context.Context) ([]ObjectInfo, error) {
	iter := s.bucket.List(&blob.ListOptions{})

	var objects []ObjectInfo
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			continue
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrNotFound
	}
	return err
}
