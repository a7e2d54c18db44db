// Package cache provides the bounded in-memory page cache over the node
// store.
//
// The cache is a derived view: the page store on disk stays authoritative,
// and every entry can be dropped once it is clean. Access is callback
// scoped, which doubles as pinning: a node is never evicted while a Read
// or Update callback is running on it. Per-node reader/writer locks allow
// concurrent readers of the same node and concurrent writers of distinct
// nodes; there is no global lock held during I/O.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pointlake/pointlake/model"
	"github.com/pointlake/pointlake/store"
)

// PageCache caches decoded nodes, bounded to a configured number of pages.
type PageCache struct {
	store    *store.PageStore
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[model.CellID]*entry
	lru     *list.List // front = most recently used

	sf singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	id    model.CellID
	mu    sync.RWMutex
	node  *store.Node
	dirty bool
	pins  int
	elem  *list.Element
}

// New creates a page cache over the given store holding at most capacity
// pages. A nil logger discards log output.
func New(s *store.PageStore, capacity int, logger *slog.Logger) *PageCache {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PageCache{
		store:    s,
		capacity: capacity,
		logger:   logger,
		entries:  make(map[model.CellID]*entry),
		lru:      list.New(),
	}
}

// Read runs fn with shared access to the node. The node must not be
// mutated or retained past the callback. Reading a node that has no page
// returns store.ErrNodeNotFound.
func (c *PageCache) Read(id model.CellID, fn func(n *store.Node) error) error {
	e, err := c.acquire(id, false)
	if err != nil {
		return err
	}
	defer c.release(e)

	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.node)
}

// Update runs fn with exclusive access to the node, creating an empty node
// if none exists yet. If fn returns nil the node is marked dirty; it is
// flushed by Cleanup or Flush.
func (c *PageCache) Update(id model.CellID, fn func(n *store.Node) error) error {
	e, err := c.acquire(id, true)
	if err != nil {
		return err
	}
	defer c.release(e)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.node); err != nil {
		return err
	}
	e.dirty = true
	return nil
}

func (c *PageCache) acquire(id model.CellID, createIfMissing bool) (*entry, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			e.pins++
			c.lru.MoveToFront(e.elem)
			c.mu.Unlock()
			c.hits.Add(1)
			return e, nil
		}
		c.mu.Unlock()
		c.misses.Add(1)

		v, err, _ := c.sf.Do(id.String(), func() (any, error) {
			c.mu.Lock()
			if e, ok := c.entries[id]; ok {
				c.mu.Unlock()
				return e, nil
			}
			c.mu.Unlock()

			node, err := c.store.ReadNode(id)
			if err != nil {
				return nil, err
			}
			e := &entry{id: id, node: node}
			c.mu.Lock()
			if existing, ok := c.entries[id]; ok {
				// Lost a race with another loader; keep theirs.
				c.mu.Unlock()
				return existing, nil
			}
			e.elem = c.lru.PushFront(e)
			c.entries[id] = e
			c.mu.Unlock()
			return e, nil
		})
		if err != nil {
			if createIfMissing && isNotFound(err) {
				e, inserted := c.insertEmpty(id)
				if !inserted {
					continue // someone else inserted meanwhile; re-acquire
				}
				return e, nil
			}
			return nil, err
		}

		e := v.(*entry)
		c.mu.Lock()
		if c.entries[id] != e {
			// Evicted between load and pin; try again.
			c.mu.Unlock()
			continue
		}
		e.pins++
		c.lru.MoveToFront(e.elem)
		c.mu.Unlock()
		return e, nil
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNodeNotFound)
}

func (c *PageCache) insertEmpty(id model.CellID) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		return nil, false
	}
	e := &entry{id: id, node: &store.Node{}, pins: 1}
	e.elem = c.lru.PushFront(e)
	c.entries[id] = e
	return e, true
}

func (c *PageCache) release(e *entry) {
	c.mu.Lock()
	e.pins--
	c.mu.Unlock()
}

// Cleanup evicts least-recently-used pages until the cache is back within
// capacity. Dirty pages are flushed to the store before being dropped;
// pinned pages are skipped. Pages stay visible in the cache while their
// flush is in flight, so concurrent readers never fall back to a stale
// on-disk page.
func (c *PageCache) Cleanup() error {
	for {
		victim := c.pickVictim()
		if victim == nil {
			return nil
		}
		err := c.flushEntry(victim)

		evicted := false
		c.mu.Lock()
		victim.pins--
		if err == nil && victim.pins == 0 && !victim.dirty {
			c.lru.Remove(victim.elem)
			delete(c.entries, victim.id)
			evicted = true
		}
		c.mu.Unlock()

		if err != nil {
			return err
		}
		if !evicted {
			// Re-pinned or re-dirtied while flushing; let the next
			// cleanup cycle catch it instead of spinning here.
			return nil
		}
	}
}

// pickVictim returns the least-recently-used unpinned entry, pinned so it
// cannot be evicted by a concurrent Cleanup, or nil if the cache is within
// capacity.
func (c *PageCache) pickVictim() *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) <= c.capacity {
		return nil
	}
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		if e.pins > 0 {
			continue
		}
		e.pins++
		return e
	}
	return nil
}

func (c *PageCache) flushEntry(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil
	}
	if err := c.store.WriteNode(e.id, e.node); err != nil {
		return fmt.Errorf("flush page: %w", err)
	}
	e.dirty = false
	return nil
}

// Flush writes every dirty page to the store without evicting anything.
// Flushes of distinct nodes run in parallel.
func (c *PageCache) Flush() error {
	c.mu.Lock()
	snapshot := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		snapshot = append(snapshot, e)
	}
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, e := range snapshot {
		g.Go(func() error {
			return c.flushEntry(e)
		})
	}
	return g.Wait()
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *PageCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
