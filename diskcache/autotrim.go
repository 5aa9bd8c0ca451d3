package diskcache

import (
	"context"
	"log/slog"
	"time"
)

// StartAutoTrim begins the periodic trim loop. It is a no-op when the
// loop is already running; stopping and starting again takes effect
// immediately.
func (c *Cache) StartAutoTrim() {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if c.running.Swap(true) {
		return
	}

	c.stopCh = make(chan struct{})
	c.ticker = time.NewTicker(c.opts.AutoTrimInterval)

	stopCh := c.stopCh
	ticks := c.ticker.C

	c.wg.Add(1)
	go c.autoTrimLoop(ticks, stopCh)
}

// StopAutoTrim halts the periodic trim loop and waits for an in-flight
// pass to finish. It is a no-op when the loop is not running.
func (c *Cache) StopAutoTrim() {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if !c.running.Swap(false) {
		return
	}

	close(c.stopCh)
	c.ticker.Stop()
	c.wg.Wait()
}

func (c *Cache) autoTrimLoop(ticks <-chan time.Time, stopCh <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-ticks:
			c.trim()
		case <-stopCh:
			return
		}
	}
}

// trim applies the configured limits in order: age expiry first, then
// total size, then entry count.
func (c *Cache) trim() {
	ctx := context.Background()
	if age := c.opts.AgeLimit; age > 0 {
		if _, err := c.RemoveOlderThan(ctx, time.Now().Add(-age)); err != nil {
			c.trimFailed("remove-older-than", err)
		}
	}
	if limit := c.opts.SizeLimit; limit > 0 {
		if _, err := c.RemoveToFitSize(ctx, limit); err != nil {
			c.trimFailed("fit-size", err)
		}
	}
	if limit := c.opts.CountLimit; limit > 0 {
		if _, err := c.RemoveToFitCount(ctx, limit); err != nil {
			c.trimFailed("fit-count", err)
		}
	}
}

func (c *Cache) trimFailed(op string, err error) {
	if c.opts.OnTrimError != nil {
		c.opts.OnTrimError(op, err)
		return
	}
	slog.Error("imagecache: disk cache trim failed", "op", op, "err", err)
}
