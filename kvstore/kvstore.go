// Package kvstore is the persistent backend of the disk tier: a local
// key-value index paired with a blob store for large payloads. The storage
// strategy is picked once at construction from the blob threshold: values
// whose size reaches the threshold are written as individually named blob
// files and the index keeps only the reference, smaller values are inlined
// in the index record. A threshold of zero therefore externalizes every
// value and InlineOnly inlines every value.
//
// The store does no locking of its own; the owning tier serializes access.
package kvstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/ankur-anand/imagecache/blobstore"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrClosed        = errors.New("store closed")
	ErrKeyTooLarge   = errors.New("key exceeds max key size")
	ErrValueTooLarge = errors.New("value exceeds max value size")
)

// InlineOnly as a blob threshold keeps every payload in the index.
const InlineOnly = math.MaxInt

// Backend selects the index implementation.
type Backend int

const (
	BackendPebble Backend = iota
	BackendBadger
)

func (b Backend) String() string {
	switch b {
	case BackendPebble:
		return "pebble"
	case BackendBadger:
		return "badger"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Store is the persistent backend contract consumed by the disk tier.
type Store interface {
	Contains(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context) error
	RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	RemoveToFitSize(ctx context.Context, limit int64) (int, error)
	RemoveToFitCount(ctx context.Context, limit int) (int, error)
	Count(ctx context.Context) (int, error)
	TotalSize(ctx context.Context) (int64, error)
	Close() error
}

type Options struct {
	// Path is the store directory. The index lives under <Path>/index and
	// blob files under <Path>/blobs.
	Path string

	Backend Backend

	// BlobThreshold selects the storage strategy (see package doc). Zero is
	// meaningful (file-only), so WithDefaults never touches it; start from
	// DefaultOptions for the hybrid default.
	BlobThreshold int

	MaxKeySize   int
	MaxValueSize int64

	// Blobs overrides the blob store, for tests. When nil a file-backed
	// store is opened under <Path>/blobs.
	Blobs *blobstore.Store
}

func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		Backend:       BackendPebble,
		BlobThreshold: 20 * 1024,
		MaxKeySize:    1024,
		MaxValueSize:  512 * 1024 * 1024,
	}
}

func (o Options) WithDefaults() Options {
	o.MaxKeySize = cmp.Or(o.MaxKeySize, 1024)
	o.MaxValueSize = cmp.Or(o.MaxValueSize, int64(512*1024*1024))
	return o
}

func (o Options) Validate() error {
	if o.Path == "" {
		return errors.New("kvstore: path is required")
	}
	if o.BlobThreshold < 0 {
		return fmt.Errorf("kvstore: blob threshold %d is negative", o.BlobThreshold)
	}
	if o.Backend != BackendPebble && o.Backend != BackendBadger {
		return fmt.Errorf("kvstore: unknown backend %d", int(o.Backend))
	}
	return nil
}

// index is the minimal surface a backend must provide. Records are opaque
// bytes to it.
type index interface {
	get(key string) ([]byte, error) // ErrNotFound on miss
	set(key string, value []byte, sync bool) error
	delete(key string) error
	// scan visits every record; visiting order is unspecified.
	scan(fn func(key string, raw []byte) error) error
	clear() error
	close() error
}

// Open builds the blob store and index and returns the combined store.
func Open(opts Options) (Store, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	blobs := opts.Blobs
	if blobs == nil {
		var err error
		blobs, err = blobstore.NewFile(context.Background(), filepath.Join(opts.Path, "blobs"))
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
	}

	var (
		idx index
		err error
	)
	indexDir := filepath.Join(opts.Path, "index")
	switch opts.Backend {
	case BackendPebble:
		idx, err = openPebbleIndex(indexDir)
	case BackendBadger:
		idx, err = openBadgerIndex(indexDir)
	}
	if err != nil {
		if opts.Blobs == nil {
			_ = blobs.Close()
		}
		return nil, fmt.Errorf("open %s index: %w", opts.Backend, err)
	}

	return &store{opts: opts, idx: idx, blobs: blobs, ownsBlobs: opts.Blobs == nil}, nil
}

type store struct {
	opts      Options
	idx       index
	blobs     *blobstore.Store
	ownsBlobs bool
	closed    bool
}

func (s *store) Contains(ctx context.Context, key string) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	_, err := s.idx.get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	raw, err := s.idx.get(key)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}

	value := rec.Value
	if rec.externalized() {
		value, err = s.blobs.Read(ctx, blobstore.BlobPath(rec.BlobName))
		if errors.Is(err, blobstore.ErrNotFound) {
			// Dangling reference; drop the index entry so the key reads
			// as a clean miss from now on.
			_ = s.idx.delete(key)
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read blob for %q: %w", key, err)
		}
	}

	rec.AccessedAt = time.Now().UnixMilli()
	if raw, err := encodeRecord(rec); err == nil {
		_ = s.idx.set(key, raw, false)
	}
	return value, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(key) == 0 {
		return errors.New("kvstore: empty key")
	}
	if len(key) > s.opts.MaxKeySize {
		return fmt.Errorf("%w: key size %d exceeds max %d", ErrKeyTooLarge, len(key), s.opts.MaxKeySize)
	}
	if int64(len(value)) > s.opts.MaxValueSize {
		return fmt.Errorf("%w: value size %d exceeds max %d", ErrValueTooLarge, len(value), s.opts.MaxValueSize)
	}

	prev := s.readRecord(key)

	now := time.Now().UnixMilli()
	rec := &record{Size: int64(len(value)), InsertedAt: now, AccessedAt: now}

	if len(value) >= s.opts.BlobThreshold {
		rec.BlobName = blobNameForKey(key)
		if err := s.blobs.Write(ctx, blobstore.BlobPath(rec.BlobName), value); err != nil {
			return fmt.Errorf("write blob for %q: %w", key, err)
		}
	} else {
		rec.Value = value
	}

	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.idx.set(key, raw, true); err != nil {
		if rec.externalized() && (prev == nil || !prev.externalized()) {
			_ = s.blobs.Delete(ctx, blobstore.BlobPath(rec.BlobName))
		}
		return err
	}

	// An inline overwrite of a previously externalized value leaves its
	// blob orphaned; remove it.
	if prev != nil && prev.externalized() && !rec.externalized() {
		_ = s.blobs.Delete(ctx, blobstore.BlobPath(prev.BlobName))
	}
	return nil
}

func (s *store) Remove(ctx context.Context, key string) error {
	if s.closed {
		return ErrClosed
	}
	rec := s.readRecord(key)
	if err := s.idx.delete(key); err != nil {
		return err
	}
	if rec != nil && rec.externalized() {
		return s.blobs.Delete(ctx, blobstore.BlobPath(rec.BlobName))
	}
	return nil
}

func (s *store) RemoveAll(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	var blobPaths []string
	err := s.idx.scan(func(key string, raw []byte) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil
		}
		if rec.externalized() {
			blobPaths = append(blobPaths, blobstore.BlobPath(rec.BlobName))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.idx.clear(); err != nil {
		return err
	}
	return s.blobs.BatchDelete(ctx, blobPaths)
}

// ageEntry is one trim candidate collected from a scan.
type ageEntry struct {
	key      string
	accessed int64
	size     int64
	blobPath string
}

func (s *store) collect() ([]ageEntry, int64, error) {
	var (
		entries []ageEntry
		total   int64
	)
	err := s.idx.scan(func(key string, raw []byte) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			// Unreadable record: schedule it first so trims clear it out.
			entries = append(entries, ageEntry{key: key})
			return nil
		}
		e := ageEntry{key: key, accessed: rec.AccessedAt, size: rec.Size}
		if rec.externalized() {
			e.blobPath = blobstore.BlobPath(rec.BlobName)
		}
		entries = append(entries, e)
		total += rec.Size
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessed < entries[j].accessed
	})
	return entries, total, nil
}

func (s *store) evict(ctx context.Context, victims []ageEntry) (int, error) {
	var blobPaths []string
	removed := 0
	for _, v := range victims {
		if err := s.idx.delete(v.key); err != nil {
			return removed, err
		}
		removed++
		if v.blobPath != "" {
			blobPaths = append(blobPaths, v.blobPath)
		}
	}
	return removed, s.blobs.BatchDelete(ctx, blobPaths)
}

func (s *store) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	entries, _, err := s.collect()
	if err != nil {
		return 0, err
	}
	cut := cutoff.UnixMilli()
	var victims []ageEntry
	for _, e := range entries {
		if e.accessed < cut {
			victims = append(victims, e)
		}
	}
	return s.evict(ctx, victims)
}

// RemoveToFitSize evicts least-recently-accessed entries until the total
// payload size is at or below limit. A non-positive limit clears the store.
func (s *store) RemoveToFitSize(ctx context.Context, limit int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	entries, total, err := s.collect()
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		n := len(entries)
		if err := s.RemoveAll(ctx); err != nil {
			return 0, err
		}
		return n, nil
	}
	var victims []ageEntry
	for _, e := range entries {
		if total <= limit {
			break
		}
		victims = append(victims, e)
		total -= e.size
	}
	return s.evict(ctx, victims)
}

// RemoveToFitCount evicts least-recently-accessed entries until at most
// limit remain. A non-positive limit clears the store.
func (s *store) RemoveToFitCount(ctx context.Context, limit int) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	entries, _, err := s.collect()
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		n := len(entries)
		if err := s.RemoveAll(ctx); err != nil {
			return 0, err
		}
		return n, nil
	}
	if len(entries) <= limit {
		return 0, nil
	}
	return s.evict(ctx, entries[:len(entries)-limit])
}

func (s *store) Count(ctx context.Context) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	err := s.idx.scan(func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

func (s *store) TotalSize(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	_, total, err := s.collect()
	return total, err
}

func (s *store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.idx.close()
	if s.ownsBlobs {
		if cerr := s.blobs.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// readRecord fetches and decodes a record, swallowing misses and decode
// failures. Used where the previous state only informs blob cleanup.
func (s *store) readRecord(key string) *record {
	raw, err := s.idx.get(key)
	if err != nil {
		return nil
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil
	}
	return rec
}
