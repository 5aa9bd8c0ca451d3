package diskcache

import (
	"context"
	"time"
)

// The asynchronous forms submit the serialized backend call to the
// worker pool and invoke the callback on the pool worker, never on the
// caller's goroutine. A nil callback turns the call into fire and
// forget. If the pool refuses the work, or the cache is already
// closed, the callback runs on the caller's goroutine with the error.

// ContainsAsync is the asynchronous form of Contains.
func (c *Cache) ContainsAsync(ctx context.Context, key string, fn func(ok bool, err error)) {
	c.submit(func() {
		ok, err := c.Contains(ctx, key)
		if fn != nil {
			fn(ok, err)
		}
	}, func(err error) {
		if fn != nil {
			fn(false, err)
		}
	})
}

// GetAsync is the asynchronous form of Get.
func (c *Cache) GetAsync(ctx context.Context, key string, fn func(value []byte, ok bool, err error)) {
	c.submit(func() {
		value, ok, err := c.Get(ctx, key)
		if fn != nil {
			fn(value, ok, err)
		}
	}, func(err error) {
		if fn != nil {
			fn(nil, false, err)
		}
	})
}

// SetAsync is the asynchronous form of Set.
func (c *Cache) SetAsync(ctx context.Context, key string, value []byte, fn func(err error)) {
	c.submit(func() {
		err := c.Set(ctx, key, value)
		if fn != nil {
			fn(err)
		}
	}, func(err error) {
		if fn != nil {
			fn(err)
		}
	})
}

// RemoveAsync is the asynchronous form of Remove.
func (c *Cache) RemoveAsync(ctx context.Context, key string, fn func(err error)) {
	c.submit(func() {
		err := c.Remove(ctx, key)
		if fn != nil {
			fn(err)
		}
	}, func(err error) {
		if fn != nil {
			fn(err)
		}
	})
}

// RemoveAllAsync is the asynchronous form of RemoveAll.
func (c *Cache) RemoveAllAsync(ctx context.Context, fn func(err error)) {
	c.submit(func() {
		err := c.RemoveAll(ctx)
		if fn != nil {
			fn(err)
		}
	}, func(err error) {
		if fn != nil {
			fn(err)
		}
	})
}

// RemoveOlderThanAsync is the asynchronous form of RemoveOlderThan.
func (c *Cache) RemoveOlderThanAsync(ctx context.Context, cutoff time.Time, fn func(evicted int, err error)) {
	c.submit(func() {
		n, err := c.RemoveOlderThan(ctx, cutoff)
		if fn != nil {
			fn(n, err)
		}
	}, func(err error) {
		if fn != nil {
			fn(0, err)
		}
	})
}

// RemoveToFitSizeAsync is the asynchronous form of RemoveToFitSize.
func (c *Cache) RemoveToFitSizeAsync(ctx context.Context, limit int64, fn func(evicted int, err error)) {
	c.submit(func() {
		n, err := c.RemoveToFitSize(ctx, limit)
		if fn != nil {
			fn(n, err)
		}
	}, func(err error) {
		if fn != nil {
			fn(0, err)
		}
	})
}

// RemoveToFitCountAsync is the asynchronous form of RemoveToFitCount.
func (c *Cache) RemoveToFitCountAsync(ctx context.Context, limit int, fn func(evicted int, err error)) {
	c.submit(func() {
		n, err := c.RemoveToFitCount(ctx, limit)
		if fn != nil {
			fn(n, err)
		}
	}, func(err error) {
		if fn != nil {
			fn(0, err)
		}
	})
}

func (c *Cache) submit(task func(), failed func(error)) {
	if c.closed.Load() {
		failed(ErrClosed)
		return
	}
	if err := c.pool.Submit(task); err != nil {
		failed(err)
	}
}
