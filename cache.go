package gateway

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheMode selects which resolutions are cached.
type CacheMode string

const (
	// CacheAll caches every resolved route.
	CacheAll CacheMode = "all"

	// CacheStatic caches only routes resolved without path parameters.
	CacheStatic CacheMode = "static"

	// CacheDynamic caches only routes that captured path parameters.
	CacheDynamic CacheMode = "dynamic"
)

func (m CacheMode) admits(res Resolution) bool {
	switch m {
	case CacheAll:
		return true
	case CacheStatic:
		return len(res.Params) == 0
	case CacheDynamic:
		return len(res.Params) > 0
	default:
		return false
	}
}

// CachingResolver memoizes successful resolutions of another Resolver, keyed
// by the normalized route. Concurrent misses on the same route are resolved
// once. Not-found results and errors are never cached.
type CachingResolver struct {
	next  Resolver
	mode  CacheMode
	lru   *lru
	group singleflight.Group
}

// NewCachingResolver wraps next. size bounds the number of cached routes with
// least-recently-used eviction; 0 means unbounded.
func NewCachingResolver(next Resolver, mode CacheMode, size int) *CachingResolver {
	return &CachingResolver{next: next, mode: mode, lru: newLRU(size)}
}

// Resolve implements the Resolver interface.
func (c *CachingResolver) Resolve(ctx context.Context, req *Request) (Resolution, error) {
	key := req.Route
	if res, ok := c.lru.get(key); ok {
		return res.clone(), nil
	}

	// The shared resolution outlives any one caller: each waiter gives up on
	// its own context only.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		res, err := c.next.Resolve(shared, req)
		if err != nil {
			return Resolution{}, err
		}
		if res.Found() && c.mode.admits(res) {
			c.lru.add(key, res)
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Resolution{}, out.Err
		}
		return out.Val.(Resolution).clone(), nil
	}
}

// Purge drops every cached resolution.
func (c *CachingResolver) Purge() {
	c.lru.purge()
}

// Len returns the number of cached routes.
func (c *CachingResolver) Len() int {
	return c.lru.len()
}

// Routes forwards to the wrapped resolver when it can list its routes.
func (c *CachingResolver) Routes(ctx context.Context) ([]string, error) {
	if rl, ok := c.next.(RouteLister); ok {
		return rl.Routes(ctx)
	}
	return nil, nil
}

func (r Resolution) clone() Resolution {
	r.Params = copyParams(r.Params)
	return r
}

type lruEntry struct {
	key string
	res Resolution
}

// lru is a mutex-guarded least-recently-used map. A max of 0 disables
// eviction.
type lru struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
}

func newLRU(max int) *lru {
	return &lru{max: max, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *lru) get(key string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return Resolution{}, false
	}
	c.ll.MoveToFront(elem)
	return elem.Value.(*lruEntry).res, true
}

func (c *lru) add(key string, res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		elem.Value.(*lruEntry).res = res
		return
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, res: res})
	if c.max > 0 && c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lru) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
