// Package imagecache fetches, decodes and caches binary image
// payloads. A Manager coordinates a bounded in-memory tier, a
// persistent on-disk tier and a downloader; fetch results are
// delivered through callbacks on one designated delivery worker.
//
// There is no package-level instance. Hosts construct a Manager once,
// share it, and call Close when done.
package imagecache

import (
	"sync"
	"sync/atomic"

	"github.com/ankur-anand/imagecache/diskcache"
	"github.com/ankur-anand/imagecache/kvstore"
	"github.com/ankur-anand/imagecache/memcache"
	"github.com/ankur-anand/imagecache/workpool"
)

// Manager coordinates fetches across the cache tiers and the
// downloader. All methods are safe for concurrent use. The manager
// outlives every task it issues.
type Manager struct {
	opts ManagerOptions

	mem  *memcache.Cache[*Image]
	disk *diskcache.Cache

	// pool runs the fetch pipeline; deliver is a single worker so
	// callbacks arrive one at a time, in completion order.
	pool    *workpool.Pool
	deliver *workpool.Pool

	downloader Downloader
	decoder    Decoder
	metrics    *FetchMetrics
	blacklist  *blacklist

	tasksMu  sync.Mutex
	tasks    map[uint64]*Task
	preloads map[uint64]*Task

	nextID atomic.Uint64
	closed atomic.Bool
}

// New builds a Manager from opts. The persistent tier is opened under
// opts.CacheDir.
func New(opts ManagerOptions) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	mem, err := memcache.New(opts.Memory)
	if err != nil {
		return nil, err
	}

	store, err := kvstore.Open(opts.Store)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}

	pool := workpool.New(opts.Workers, opts.QueueDepth)

	diskOpts := opts.Disk
	diskOpts.Pool = pool
	disk, err := diskcache.New(store, diskOpts)
	if err != nil {
		pool.Close()
		_ = store.Close()
		_ = mem.Close()
		return nil, err
	}

	return &Manager{
		opts:       opts,
		mem:        mem,
		disk:       disk,
		pool:       pool,
		deliver:    workpool.New(1, opts.QueueDepth),
		downloader: opts.Downloader,
		decoder:    opts.Decoder,
		metrics:    opts.Metrics,
		blacklist:  newBlacklist(),
		tasks:      make(map[uint64]*Task),
		preloads:   make(map[uint64]*Task),
	}, nil
}

// Memory exposes the in-memory tier for direct access.
func (m *Manager) Memory() *memcache.Cache[*Image] { return m.mem }

// Disk exposes the persistent tier for direct access.
func (m *Manager) Disk() *diskcache.Cache { return m.disk }

// Blacklisted reports whether locator is currently refused.
func (m *Manager) Blacklisted(locator string) bool {
	return m.blacklist.Contains(locator)
}

// CancelAll cancels every in-flight task. Cancelled tasks terminate at
// their next stage boundary without invoking their callbacks.
func (m *Manager) CancelAll() {
	m.tasksMu.Lock()
	snapshot := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snapshot = append(snapshot, t)
	}
	m.tasksMu.Unlock()

	for _, t := range snapshot {
		t.Cancel()
	}
}

// CancelPreloading cancels the tasks issued by Preload that are still
// in flight, leaving ordinary fetches untouched.
func (m *Manager) CancelPreloading() {
	m.tasksMu.Lock()
	snapshot := make([]*Task, 0, len(m.preloads))
	for _, t := range m.preloads {
		snapshot = append(snapshot, t)
	}
	m.tasksMu.Unlock()

	for _, t := range snapshot {
		t.Cancel()
	}
}

func (m *Manager) register(t *Task) {
	m.tasksMu.Lock()
	m.tasks[t.id] = t
	if t.preload {
		m.preloads[t.id] = t
	}
	m.tasksMu.Unlock()
}

func (m *Manager) deregister(t *Task) {
	m.tasksMu.Lock()
	delete(m.tasks, t.id)
	delete(m.preloads, t.id)
	m.tasksMu.Unlock()
}

// Close cancels in-flight tasks, drains the workers and releases both
// tiers. Close is idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.CancelAll()
	m.pool.Close()
	m.deliver.Close()

	var firstErr error
	if err := m.mem.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.disk.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
