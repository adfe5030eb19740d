// Package lockcache implements SharedLockCache: a keyed mutex registry
// that guarantees at most one concurrent critical section per key and
// bounds the total number of distinct keys held at once.
//
// The design is grounded on claircore's locksource.Local (a sync.Map of
// per-key barriers) generalized with a refcount and a bounded capacity:
// a key's entry is created on first acquisition, refcounted on every
// subsequent one, and deleted the instant its refcount returns to
// zero — so the cache only ever holds entries for in-flight work.
package lockcache

import (
	"context"
	"sync"

	"github.com/quay/versiontracker"
)

// Cache is a bounded, refcounted, keyed mutex registry.
type Cache struct {
	capacity int

	mu      sync.Mutex
	entries map[string]*entry
	waiters []chan struct{}
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns a Cache that holds at most capacity distinct keys at
// once. A capacity of 0 means unbounded.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*entry),
	}
}

// DoLocked obtains (or creates) the lock for key, runs fn while holding
// it, and releases it on every exit path, including ctx cancellation.
//
// At most one DoLocked critical section per distinct key executes at
// any instant; waiters for a key already held block on that key's
// mutex, not on the cache-wide capacity gate.
func (c *Cache) DoLocked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrCancelled, Op: "lockcache.DoLocked", Message: "waiting for lock on " + key, Inner: err}
	}
	defer c.release(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &versiontracker.Error{Kind: versiontracker.ErrCancelled, Op: "lockcache.DoLocked", Inner: err}
	}
	return fn(ctx)
}

func (c *Cache) acquire(ctx context.Context, key string) (*entry, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.refs++
			c.mu.Unlock()
			return e, nil
		}
		if c.capacity <= 0 || len(c.entries) < c.capacity {
			e := &entry{refs: 1}
			c.entries[key] = e
			c.mu.Unlock()
			return e, nil
		}
		// At capacity with no entry for this key: queue FIFO behind
		// whichever currently-held key frees up next.
		ch := make(chan struct{})
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case <-ch:
			// Woken; capacity may now be available. Loop and retry.
		case <-ctx.Done():
			c.removeWaiter(ch)
			return nil, ctx.Err()
		}
	}
}

func (c *Cache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(c.entries, key)
		c.wakeOneLocked()
	}
}

func (c *Cache) wakeOneLocked() {
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(ch)
}

func (c *Cache) removeWaiter(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
	// Already dequeued and closed by wakeOneLocked racing with our
	// ctx.Done: pass the wakeup on to the next waiter so it isn't lost.
	c.wakeOneLocked()
}

// Size returns the current number of distinct keys held.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Waiting returns the current number of callers blocked on the
// capacity gate.
func (c *Cache) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
