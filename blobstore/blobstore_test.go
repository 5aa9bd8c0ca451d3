package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) *Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(t *testing.T) *Store {
			t.Helper()
			s := NewMemory()
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{name: "file", new: func(t *testing.T) *Store {
			t.Helper()
			s, err := NewFile(context.Background(), t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			fn(t, factory.new(t))
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := BlobPath("ab34cdef")

		require.NoError(t, s.Write(ctx, key, []byte("payload")))

		got, err := s.Read(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), got)

		exists, err := s.Exists(ctx, key)
		require.NoError(t, err)
		require.True(t, exists)
	})
}

func TestReadMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		_, err := s.Read(context.Background(), BlobPath("deadbeef"))
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := BlobPath("ab34cdef")
		require.NoError(t, s.Write(ctx, key, []byte("x")))

		require.NoError(t, s.Delete(ctx, key))
		require.NoError(t, s.Delete(ctx, key))

		exists, err := s.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestBatchDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		keys := []string{BlobPath("aa11"), BlobPath("bb22"), BlobPath("cc33")}
		for _, k := range keys[:2] {
			require.NoError(t, s.Write(ctx, k, []byte("x")))
		}

		// Includes a never-written key, a duplicate and an empty key.
		err := s.BatchDelete(ctx, []string{keys[0], keys[1], keys[2], keys[0], ""})
		require.NoError(t, err)

		for _, k := range keys {
			exists, err := s.Exists(ctx, k)
			require.NoError(t, err)
			require.False(t, exists)
		}

		require.NoError(t, s.BatchDelete(ctx, keys))
	})
}

func TestList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		require.NoError(t, s.Write(ctx, BlobPath("aa11"), []byte("one")))
		require.NoError(t, s.Write(ctx, BlobPath("bb22"), []byte("three")))

		objects, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, objects, 2)
		require.Equal(t, "aa/aa11.blob", objects[0].Key)
		require.Equal(t, int64(3), objects[0].Size)
	})
}

func TestBlobPathSharding(t *testing.T) {
	require.Equal(t, "ab/ab34cdef.blob", BlobPath("ab34cdef"))
	require.Equal(t, "a.blob", BlobPath("a"))
}

func TestFileStoreWritesRealFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(context.Background(), filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	key := BlobPath("ab34cdef")
	require.NoError(t, s.Write(context.Background(), key, []byte("on disk")))

	data, err := os.ReadFile(filepath.Join(dir, "blobs", "ab", "ab34cdef.blob"))
	require.NoError(t, err)
	require.Equal(t, []byte("on disk"), data)
}
