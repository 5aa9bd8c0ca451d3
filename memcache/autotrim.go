package memcache

import "time"

// StartAutoTrim begins periodic enforcement of the configured limits.
// Starting while already running is a no-op; starting after a stop takes
// effect immediately without waiting out a previous interval.
func (c *Cache[V]) StartAutoTrim() {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if c.running.Swap(true) {
		return
	}

	c.stopCh = make(chan struct{})
	c.ticker = time.NewTicker(c.opts.AutoTrimInterval)
	c.wg.Add(1)
	stopCh := c.stopCh
	ticks := c.ticker.C
	go c.autoTrimLoop(stopCh, ticks)
}

// StopAutoTrim halts periodic trimming. Limits stay configured and manual
// trims keep working.
func (c *Cache[V]) StopAutoTrim() {
	c.startStopMu.Lock()
	defer c.startStopMu.Unlock()

	if !c.running.Swap(false) {
		return
	}

	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.wg.Wait()
}

func (c *Cache[V]) autoTrimLoop(stopCh <-chan struct{}, ticks <-chan time.Time) {
	defer c.wg.Done()

	for {
		select {
		case <-ticks:
			c.trimAll()
		case <-stopCh:
			return
		}
	}
}

func (c *Cache[V]) trimAll() {
	if age := c.AgeLimit(); age > 0 {
		c.TrimToAge(age)
	}
	c.TrimToCost(c.costLimit.Load())
	c.TrimToCount(int(c.countLimit.Load()))
}
