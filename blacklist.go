package imagecache

import "sync"

// blacklist is the set of locators whose last failure was classified
// non-transient. It has its own lock so fetch hot paths never contend
// with the task table.
type blacklist struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func newBlacklist() *blacklist {
	return &blacklist{set: make(map[string]struct{})}
}

func (b *blacklist) Contains(locator string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[locator]
	return ok
}

func (b *blacklist) Add(locator string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set[locator] = struct{}{}
}

func (b *blacklist) Remove(locator string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.set, locator)
}

func (b *blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.set)
}
