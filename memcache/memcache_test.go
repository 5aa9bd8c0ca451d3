package memcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, opts Options[string]) *Cache[string] {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_CostAndCountBookkeeping(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 5)
	c.Put("b", "vb", 3)
	c.Put("c", "vc", 2)
	require.Equal(t, int64(10), c.TotalCost())
	require.Equal(t, 3, c.Len())

	// Replacing updates cost in place.
	c.Put("b", "vb2", 7)
	require.Equal(t, int64(14), c.TotalCost())
	require.Equal(t, 3, c.Len())

	c.Remove("a")
	require.Equal(t, int64(9), c.TotalCost())
	require.Equal(t, 2, c.Len())

	c.RemoveAll()
	require.Zero(t, c.TotalCost())
	require.Zero(t, c.Len())
}

func TestCache_GetDoesNotReorder(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 1)
	c.Put("b", "vb", 1)
	c.Put("c", "vc", 1)

	// Reading a must not rescue it from insertion-order eviction.
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "va", v)

	c.TrimToCount(2)
	require.False(t, c.Contains("a"))
	require.True(t, c.Contains("b"))
	require.True(t, c.Contains("c"))
}

func TestCache_TrimToCount(t *testing.T) {
	c := newCache(t, Options[string]{})

	for _, key := range []string{"k1", "k2", "k3"} {
		c.Put(key, key, 1)
	}
	c.TrimToCount(2)
	require.Equal(t, 2, c.Len())
	require.False(t, c.Contains("k1"))

	c.TrimToCount(0)
	require.Zero(t, c.Len())
}

func TestCache_TrimToCost(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 4)
	c.Put("b", "vb", 4)
	c.Put("c", "vc", 4)

	c.TrimToCost(9)
	require.LessOrEqual(t, c.TotalCost(), int64(9))
	require.Equal(t, 2, c.Len())
	require.False(t, c.Contains("a"))

	c.TrimToCost(0)
	require.Zero(t, c.Len())
	require.Zero(t, c.TotalCost())
}

func TestCache_TrimToAgeChecksOnlyBackEntry(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 1)
	c.Put("b", "vb", 1)
	time.Sleep(30 * time.Millisecond)

	// a is the back entry; refreshing its age stamp shields the queue even
	// though b is just as stale, because only the back entry is examined.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.TrimToAge(20 * time.Millisecond)
	require.Equal(t, 2, c.Len())

	// Without the refresh the stale back entries drain in insertion order.
	time.Sleep(30 * time.Millisecond)
	c.TrimToAge(20 * time.Millisecond)
	require.Zero(t, c.Len())
}

func TestCache_CountLimitEvictsExactlyOne(t *testing.T) {
	evicted := make(chan string, 4)
	c := newCache(t, Options[string]{
		CountLimit: 2,
		OnEvict:    func(key string, _ string) { evicted <- key },
	})

	c.Put("a", "va", 1)
	c.Put("b", "vb", 1)
	c.Put("c", "vc", 1)

	select {
	case key := <-evicted:
		require.Equal(t, "a", key)
	case <-time.After(time.Second):
		t.Fatal("no eviction observed")
	}
	require.Equal(t, 2, c.Len())
	require.True(t, c.Contains("b"))
	require.True(t, c.Contains("c"))
}

func TestCache_CostLimitTrimsInBackground(t *testing.T) {
	c := newCache(t, Options[string]{CostLimit: 5})

	c.Put("k", "v", 5)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	// Driving total cost to 8 schedules an async trim back under 5; the
	// least-recently-inserted entry is the one that goes.
	c.Put("k2", "v2", 3)
	require.Eventually(t, func() bool {
		return c.TotalCost() <= 5
	}, time.Second, 5*time.Millisecond)
	require.False(t, c.Contains("k"))
	require.True(t, c.Contains("k2"))
}

func TestCache_RemoveIdempotent(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 2)
	c.Remove("a")
	c.Remove("a")
	require.Zero(t, c.Len())
	require.Zero(t, c.TotalCost())
	require.False(t, c.Contains("a"))
}

func TestCache_ReleaseSync(t *testing.T) {
	var released []string
	c := newCache(t, Options[string]{
		ReleaseSync: true,
		OnEvict:     func(key string, _ string) { released = append(released, key) },
	})

	c.Put("a", "va", 1)
	c.Put("a", "va2", 1)
	c.Remove("a")
	require.Equal(t, []string{"a", "a"}, released)
}

type recordingExecutor struct {
	mu   sync.Mutex
	runs int
}

func (e *recordingExecutor) Submit(fn func()) error {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	fn()
	return nil
}

func TestCache_ReleaseExecutor(t *testing.T) {
	exec := &recordingExecutor{}
	var count atomic.Int64
	c := newCache(t, Options[string]{
		ReleaseExecutor: exec,
		OnEvict:         func(string, string) { count.Add(1) },
	})

	c.Put("a", "va", 1)
	c.Remove("a")

	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 5*time.Millisecond)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, 1, exec.runs)
}

func TestCache_AutoTrim(t *testing.T) {
	c := newCache(t, Options[string]{
		AgeLimit:         10 * time.Millisecond,
		AutoTrim:         true,
		AutoTrimInterval: 20 * time.Millisecond,
	})

	c.Put("a", "va", 1)
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)

	// Stopping halts enforcement; restarting resumes it.
	c.StopAutoTrim()
	c.Put("b", "vb", 1)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, c.Len())

	c.StartAutoTrim()
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCache_SettersAdjustLimits(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.SetCostLimit(100)
	c.SetCountLimit(10)
	c.SetAgeLimit(time.Minute)
	require.Equal(t, int64(100), c.CostLimit())
	require.Equal(t, 10, c.CountLimit())
	require.Equal(t, time.Minute, c.AgeLimit())
}

func TestCache_Stats(t *testing.T) {
	c := newCache(t, Options[string]{})

	c.Put("a", "va", 2)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, 1, stats.Count)
	require.Equal(t, int64(2), stats.TotalCost)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newCache(t, Options[string]{CostLimit: 64, CountLimit: 32})

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := keys[(n+j)%len(keys)]
				switch j % 4 {
				case 0:
					c.Put(key, key, 2)
				case 1:
					c.Get(key)
				case 2:
					c.Contains(key)
				case 3:
					c.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	c.TrimToCost(10)
	require.LessOrEqual(t, c.TotalCost(), int64(10))
}
