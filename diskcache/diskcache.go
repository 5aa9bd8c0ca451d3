// Package diskcache is the persistent tier of the image cache. It wraps a
// kvstore.Store behind one mutex so that every backend call is serialized,
// and layers two optional conveniences on top: a ristretto hot-bytes cache
// for recently read payloads and asynchronous forms of every operation that
// run on a worker pool and deliver their result through a callback.
package diskcache

import (
	"cmp"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/ankur-anand/imagecache/kvstore"
	"github.com/ankur-anand/imagecache/workpool"
)

// ErrClosed is returned for operations on a closed cache.
var ErrClosed = errors.New("diskcache: cache closed")

const (
	defaultAutoTrimInterval = 60 * time.Second

	// hotCacheBlockSize approximates the mean payload size when sizing
	// the ristretto admission counters.
	hotCacheBlockSize = 4096
)

// Submitter runs work on some executor. *workpool.Pool satisfies it.
type Submitter interface {
	Submit(fn func()) error
}

// Options configures the persistent tier.
type Options struct {
	// SizeLimit caps the total stored bytes the auto-trim loop
	// maintains. Zero or negative leaves size unbounded.
	SizeLimit int64
	// CountLimit caps the entry count the auto-trim loop maintains.
	// Zero or negative leaves the count unbounded.
	CountLimit int
	// AgeLimit expires entries whose last access is older than the
	// limit when the auto-trim loop runs. Zero disables age expiry.
	AgeLimit time.Duration

	// AutoTrim starts the periodic trim loop on construction.
	AutoTrim bool
	// AutoTrimInterval is the period of the trim loop.
	// Defaults to one minute.
	AutoTrimInterval time.Duration

	// HotBytes sizes an in-process ristretto cache holding recently
	// read payloads, so repeated gets for the same key skip the
	// backend entirely. Zero disables it. Payloads served from the
	// hot cache do not refresh the entry's access time on disk.
	HotBytes int64

	// Pool runs the asynchronous operation forms and their callbacks.
	// When nil the cache creates a private single-worker pool and
	// closes it on Close.
	Pool Submitter

	// OnTrimError observes auto-trim failures. When nil failures are
	// logged via slog.
	OnTrimError func(op string, err error)
}

// DefaultOptions returns options with a 512 MiB size cap and hourly
// age expiry, auto-trimmed once a minute.
func DefaultOptions() Options {
	return Options{
		SizeLimit:        512 << 20,
		AgeLimit:         time.Hour,
		AutoTrim:         true,
		AutoTrimInterval: defaultAutoTrimInterval,
	}
}

// WithDefaults fills unset fields that have non-zero defaults.
func (o Options) WithDefaults() Options {
	o.AutoTrimInterval = cmp.Or(o.AutoTrimInterval, defaultAutoTrimInterval)
	return o
}

// Validate reports whether the options are usable.
func (o Options) Validate() error {
	if o.AgeLimit < 0 {
		return errors.New("diskcache: AgeLimit must not be negative")
	}
	if o.HotBytes < 0 {
		return errors.New("diskcache: HotBytes must not be negative")
	}
	return nil
}

// Stats is a point-in-time snapshot of the tier.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Count     int
	TotalSize int64
}

// Cache is the persistent tier. All methods are safe for concurrent
// use; backend calls are serialized internally.
type Cache struct {
	opts  Options
	store kvstore.Store

	// mu serializes every call into the backend store.
	mu sync.Mutex

	hot *ristretto.Cache[string, []byte]

	pool    Submitter
	ownPool *workpool.Pool

	hits   atomic.Uint64
	misses atomic.Uint64
	closed atomic.Bool

	startStopMu sync.Mutex
	running     atomic.Bool
	stopCh      chan struct{}
	ticker      *time.Ticker
	wg          sync.WaitGroup
}

// New wraps store in a persistent cache tier. The store is owned by
// the returned cache and released on Close.
func New(store kvstore.Store, opts Options) (*Cache, error) {
	if store == nil {
		return nil, errors.New("diskcache: store must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	c := &Cache{
		opts:  opts,
		store: store,
		pool:  opts.Pool,
	}

	if opts.HotBytes > 0 {
		hot, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters:        hotCacheCounters(opts.HotBytes),
			MaxCost:            opts.HotBytes,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, err
		}
		c.hot = hot
	}

	if c.pool == nil {
		c.ownPool = workpool.New(1, 128)
		c.pool = c.ownPool
	}

	if opts.AutoTrim {
		c.StartAutoTrim()
	}
	return c, nil
}

// hotCacheCounters sizes the admission counters at ten times the
// expected entry count, with a sane floor.
func hotCacheCounters(maxCost int64) int64 {
	entries := maxCost / hotCacheBlockSize
	counters := entries * 10
	if counters < 1024 {
		counters = 1024
	}
	return counters
}

// Contains reports whether key exists in the backend. The hot cache is
// not consulted so the answer reflects durable state.
func (c *Cache) Contains(ctx context.Context, key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Contains(ctx, key)
}

// Get returns the payload stored under key. A missing key is reported
// as ok=false with a nil error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if c.hot != nil {
		if value, ok := c.hot.Get(key); ok {
			c.hits.Add(1)
			return value, true, nil
		}
	}

	c.mu.Lock()
	value, err := c.store.Get(ctx, key)
	c.mu.Unlock()

	if errors.Is(err, kvstore.ErrNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.hits.Add(1)
	if c.hot != nil {
		c.hot.Set(key, value, int64(len(value)))
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous payload.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	err := c.store.Set(ctx, key, value)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.hot != nil {
		c.hot.Set(key, value, int64(len(value)))
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	err := c.store.Remove(ctx, key)
	c.mu.Unlock()
	if c.hot != nil {
		c.hot.Del(key)
	}
	return err
}

// RemoveAll deletes every entry.
func (c *Cache) RemoveAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	err := c.store.RemoveAll(ctx)
	c.mu.Unlock()
	if c.hot != nil {
		c.hot.Clear()
	}
	return err
}

// RemoveOlderThan deletes entries last accessed before cutoff and
// returns how many were removed.
func (c *Cache) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.mu.Lock()
	n, err := c.store.RemoveOlderThan(ctx, cutoff)
	c.mu.Unlock()
	c.invalidateHotAfterTrim(n)
	return n, err
}

// RemoveToFitSize evicts least recently accessed entries until the
// total stored bytes fit limit, returning the eviction count.
func (c *Cache) RemoveToFitSize(ctx context.Context, limit int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.mu.Lock()
	n, err := c.store.RemoveToFitSize(ctx, limit)
	c.mu.Unlock()
	c.invalidateHotAfterTrim(n)
	return n, err
}

// RemoveToFitCount evicts least recently accessed entries until at
// most limit entries remain, returning the eviction count.
func (c *Cache) RemoveToFitCount(ctx context.Context, limit int) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.mu.Lock()
	n, err := c.store.RemoveToFitCount(ctx, limit)
	c.mu.Unlock()
	c.invalidateHotAfterTrim(n)
	return n, err
}

// invalidateHotAfterTrim drops the whole hot cache after a trim that
// evicted anything. Trims report counts, not victim keys, so the
// invalidation is wholesale.
func (c *Cache) invalidateHotAfterTrim(evicted int) {
	if c.hot != nil && evicted > 0 {
		c.hot.Clear()
	}
}

// Count returns the number of stored entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Count(ctx)
}

// TotalSize returns the total payload bytes stored.
func (c *Cache) TotalSize(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.TotalSize(ctx)
}

// Stats returns a snapshot of hit counters and backend totals.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}
	c.mu.Lock()
	count, err := c.store.Count(ctx)
	if err != nil {
		c.mu.Unlock()
		return Stats{}, err
	}
	size, err := c.store.TotalSize(ctx)
	c.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Count:     count,
		TotalSize: size,
	}, nil
}

// Close stops the auto-trim loop, drains the private pool if the cache
// owns one, and releases the backend handle while holding the
// serializing mutex. Close is idempotent.
func (c *Cache) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.StopAutoTrim()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.ownPool != nil {
		c.ownPool.Close()
	}

	c.mu.Lock()
	err := c.store.Close()
	c.mu.Unlock()

	if c.hot != nil {
		c.hot.Close()
	}
	return err
}
