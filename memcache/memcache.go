// Package memcache is the in-memory cache tier: a bounded map with
// insertion-order recency and per-key cost/age metadata. Eviction order is
// least-recently-inserted; reads refresh an entry's age stamp but never its
// position, so a frequently read entry still ages out of the recency queue.
package memcache

import (
	"container/list"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// trimRetryInterval is the backoff sleep between try-lock attempts in the
// trim loops.
const trimRetryInterval = 10 * time.Millisecond

const defaultAutoTrimInterval = 5 * time.Second

// Executor runs release work on a caller-designated context.
type Executor interface {
	Submit(fn func()) error
}

// Options configures a Cache. Zero limits mean unbounded; the setters can
// still lower limits to zero afterwards, which makes the next trim clear
// the tier.
type Options[V any] struct {
	CostLimit  int64
	CountLimit int
	// AgeLimit bounds how long an entry may sit untouched. Zero disables
	// age trimming.
	AgeLimit time.Duration

	AutoTrim         bool
	AutoTrimInterval time.Duration

	// OnEvict observes every value the tier lets go of, whether evicted,
	// removed, or overwritten. Invocation context follows
	// ReleaseSync/ReleaseExecutor: asynchronous on a background goroutine
	// by default.
	OnEvict         func(key string, value V)
	ReleaseSync     bool
	ReleaseExecutor Executor
}

func (o Options[V]) WithDefaults() Options[V] {
	if o.CostLimit <= 0 {
		o.CostLimit = math.MaxInt64
	}
	if o.CountLimit <= 0 {
		o.CountLimit = math.MaxInt
	}
	if o.AutoTrimInterval <= 0 {
		o.AutoTrimInterval = defaultAutoTrimInterval
	}
	return o
}

func (o Options[V]) Validate() error {
	if o.AgeLimit < 0 {
		return errors.New("memcache: age limit is negative")
	}
	return nil
}

type entry[V any] struct {
	key   string
	value V
}

type trimMeta struct {
	cost    int64
	touched time.Time
}

type Stats struct {
	Hits      int64
	Misses    int64
	Count     int
	TotalCost int64
}

type Cache[V any] struct {
	opts Options[V]

	mu        sync.Mutex
	ll        *list.List // front = most recently inserted
	entries   map[string]*list.Element
	meta      map[string]*trimMeta
	totalCost int64

	costLimit  atomic.Int64
	countLimit atomic.Int64
	ageLimit   atomic.Int64 // nanoseconds

	costTrimScheduled atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64

	startStopMu sync.Mutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	closed      atomic.Bool
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	c := &Cache[V]{
		opts:    opts,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
		meta:    make(map[string]*trimMeta),
	}
	c.costLimit.Store(opts.CostLimit)
	c.countLimit.Store(int64(opts.CountLimit))
	c.ageLimit.Store(int64(opts.AgeLimit))

	if opts.AutoTrim {
		c.StartAutoTrim()
	}
	return c, nil
}

func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	return ok
}

// Get returns the cached value. A hit refreshes the entry's age stamp but
// leaves its recency position untouched.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.meta[key].touched = time.Now()
	value := el.Value.(*entry[V]).value
	c.mu.Unlock()
	c.hits.Add(1)
	return value, true
}

// Put inserts or replaces the value at the most-recent position. Exceeding
// the cost limit schedules an asynchronous trim; exceeding the count limit
// evicts one least-recently-inserted entry before returning, with the
// victim's release deferred off the critical section.
func (c *Cache[V]) Put(key string, value V, cost int64) {
	var victims []entry[V]

	c.mu.Lock()
	now := time.Now()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry[V])
		m := c.meta[key]
		c.totalCost += cost - m.cost
		m.cost = cost
		m.touched = now
		victims = append(victims, entry[V]{key: key, value: ent.value})
		ent.value = value
		c.ll.MoveToFront(el)
	} else {
		c.entries[key] = c.ll.PushFront(&entry[V]{key: key, value: value})
		c.meta[key] = &trimMeta{cost: cost, touched: now}
		c.totalCost += cost
	}

	if limit := c.costLimit.Load(); c.totalCost > limit {
		if c.costTrimScheduled.CompareAndSwap(false, true) {
			go func() {
				defer c.costTrimScheduled.Store(false)
				c.TrimToCost(c.costLimit.Load())
			}()
		}
	}
	if int64(c.ll.Len()) > c.countLimit.Load() {
		if v, ok := c.evictBackLocked(); ok {
			victims = append(victims, v)
		}
	}
	c.mu.Unlock()

	c.release(victims)
}

func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	victim, ok := c.removeLocked(key)
	c.mu.Unlock()
	if ok {
		c.release([]entry[V]{victim})
	}
}

func (c *Cache[V]) RemoveAll() {
	c.mu.Lock()
	old := c.ll
	c.ll = list.New()
	c.entries = make(map[string]*list.Element)
	c.meta = make(map[string]*trimMeta)
	c.totalCost = 0
	c.mu.Unlock()

	var victims []entry[V]
	for el := old.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry[V])
		victims = append(victims, entry[V]{key: ent.key, value: ent.value})
	}
	c.release(victims)
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache[V]) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	count := c.ll.Len()
	cost := c.totalCost
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Count:     count,
		TotalCost: cost,
	}
}

func (c *Cache[V]) SetCostLimit(limit int64) { c.costLimit.Store(limit) }
func (c *Cache[V]) CostLimit() int64         { return c.costLimit.Load() }

func (c *Cache[V]) SetCountLimit(limit int) { c.countLimit.Store(int64(limit)) }
func (c *Cache[V]) CountLimit() int         { return int(c.countLimit.Load()) }

func (c *Cache[V]) SetAgeLimit(limit time.Duration) { c.ageLimit.Store(int64(limit)) }
func (c *Cache[V]) AgeLimit() time.Duration         { return time.Duration(c.ageLimit.Load()) }

// TrimToCost evicts least-recently-inserted entries until totalCost is at
// most limit. A non-positive limit clears the tier. Each lock acquisition
// evicts at most one entry; a busy lock backs off for trimRetryInterval so
// concurrent reads and writes interleave between evictions.
func (c *Cache[V]) TrimToCost(limit int64) {
	if limit <= 0 {
		c.RemoveAll()
		return
	}
	c.mu.Lock()
	done := c.totalCost <= limit
	c.mu.Unlock()

	for !done {
		if c.mu.TryLock() {
			var victim entry[V]
			var evicted bool
			if c.totalCost > limit && c.ll.Len() > 0 {
				victim, evicted = c.evictBackLocked()
			}
			done = c.totalCost <= limit || c.ll.Len() == 0
			c.mu.Unlock()
			if evicted {
				c.release([]entry[V]{victim})
			}
		} else {
			time.Sleep(trimRetryInterval)
		}
	}
}

// TrimToCount evicts least-recently-inserted entries until at most limit
// remain. A non-positive limit clears the tier.
func (c *Cache[V]) TrimToCount(limit int) {
	if limit <= 0 {
		c.RemoveAll()
		return
	}
	c.mu.Lock()
	done := c.ll.Len() <= limit
	c.mu.Unlock()

	for !done {
		if c.mu.TryLock() {
			var victim entry[V]
			var evicted bool
			if c.ll.Len() > limit {
				victim, evicted = c.evictBackLocked()
			}
			done = c.ll.Len() <= limit
			c.mu.Unlock()
			if evicted {
				c.release([]entry[V]{victim})
			}
		} else {
			time.Sleep(trimRetryInterval)
		}
	}
}

// TrimToAge evicts the least-recently-inserted entry for as long as that
// entry's age stamp is older than limit. Only the back entry is ever
// examined: age decides whether it goes, insertion order decides which one
// it is. A non-positive limit clears the tier.
func (c *Cache[V]) TrimToAge(limit time.Duration) {
	if limit <= 0 {
		c.RemoveAll()
		return
	}
	c.mu.Lock()
	back := c.ll.Back()
	done := back == nil ||
		time.Since(c.meta[back.Value.(*entry[V]).key].touched) <= limit
	c.mu.Unlock()

	for !done {
		if c.mu.TryLock() {
			var victim entry[V]
			var evicted bool
			now := time.Now()
			back := c.ll.Back()
			if back != nil {
				key := back.Value.(*entry[V]).key
				if now.Sub(c.meta[key].touched) > limit {
					victim, evicted = c.evictBackLocked()
				}
			}
			back = c.ll.Back()
			done = back == nil ||
				now.Sub(c.meta[back.Value.(*entry[V]).key].touched) <= limit
			c.mu.Unlock()
			if evicted {
				c.release([]entry[V]{victim})
			}
		} else {
			time.Sleep(trimRetryInterval)
		}
	}
}

// Close stops auto-trim and clears the tier, releasing every resident
// value through the configured policy.
func (c *Cache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.StopAutoTrim()
	c.RemoveAll()
	return nil
}

func (c *Cache[V]) evictBackLocked() (entry[V], bool) {
	back := c.ll.Back()
	if back == nil {
		return entry[V]{}, false
	}
	ent := back.Value.(*entry[V])
	victim, ok := c.removeLocked(ent.key)
	return victim, ok
}

func (c *Cache[V]) removeLocked(key string) (entry[V], bool) {
	el, ok := c.entries[key]
	if !ok {
		return entry[V]{}, false
	}
	ent := el.Value.(*entry[V])
	c.totalCost -= c.meta[key].cost
	c.ll.Remove(el)
	delete(c.entries, key)
	delete(c.meta, key)
	return entry[V]{key: ent.key, value: ent.value}, true
}

// release hands evicted values to OnEvict on the configured context. The
// default is a background goroutine so teardown cost never lands on the
// caller.
func (c *Cache[V]) release(victims []entry[V]) {
	if c.opts.OnEvict == nil || len(victims) == 0 {
		return
	}
	fn := func() {
		for _, v := range victims {
			c.opts.OnEvict(v.key, v.value)
		}
	}
	if c.opts.ReleaseSync {
		fn()
		return
	}
	if c.opts.ReleaseExecutor != nil {
		if err := c.opts.ReleaseExecutor.Submit(fn); err == nil {
			return
		}
		// Executor refused (likely shut down); fall through.
	}
	go fn()
}
