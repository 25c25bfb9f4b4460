// Package cache implements the operation-keyed TTL+LRU response cache
// that sits in front of the backend client for read-mostly tools. A
// ticker-driven background sweeper with a stop channel evicts expired
// entries between accesses.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veris-memory/mcp-server/internal/obslog"
)

// sweepPanicBackoff is the "short delay" spec.md §7 requires before the
// sweeper resumes on its next tick after a panicked pass.
const sweepPanicBackoff = time.Second

// Item is one cached value together with its expiry bookkeeping.
type Item struct {
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
}

func (it *Item) expired(now time.Time) bool {
	return now.Sub(it.CreatedAt) > it.TTL
}

type entry struct {
	key  string
	item Item
}

// Cache is a fixed-capacity map keyed by operation+arguments with an
// explicit LRU order list. All operations are guarded by a single mutex;
// per spec.md §4.F this is fine since every op is O(1) amortized under
// the lock.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element // key -> element in order (front = most recently used)
	order    *list.List

	hits, misses, evictions, expirations int64
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Key derives the cache key as the first 16 hex characters of
// SHA-256(operation + canonical_json(kwargs)), per spec.md §4.F.
func Key(operation string, kwargs map[string]any) string {
	canon, _ := canonicalJSON(kwargs)
	sum := sha256.Sum256(append([]byte(operation), canon...))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalJSON marshals a map with sorted keys so semantically equal
// argument sets always hash the same way regardless of map iteration
// order.
func canonicalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, m[k])
	}
	return json.Marshal(ordered)
}

// Get returns the cached value and true on a live hit. An expired entry
// is evicted on access and counted as a miss (spec.md §8 invariant 5).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.item.expired(time.Now()) {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		c.expirations++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.item.Value, true
}

// Set stores value under key with the given ttl, evicting the
// least-recently-used entry if the cache is at capacity and key is new.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.item = Item{Value: value, CreatedAt: time.Now(), TTL: ttl}
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			oe := oldest.Value.(*entry)
			c.order.Remove(oldest)
			delete(c.items, oe.key)
			c.evictions++
		}
	}

	el := c.order.PushFront(&entry{key: key, item: Item{Value: value, CreatedAt: time.Now(), TTL: ttl}})
	c.items[key] = el
}

// InvalidateOperations drops every entry whose key was derived from one of
// the given operation names. Per spec.md §4.F the core invalidation
// policy is broad: callers pass the full set of cached operations
// (retrieve_context, search_context, ...) rather than a single key.
func (c *Cache) InvalidateOperations(operations ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[string]bool, len(operations))
	for _, op := range operations {
		drop[op] = true
	}
	// Keys are opaque hashes, so invalidation-by-operation requires the
	// cache to have recorded which operation produced each key.
	for key, el := range c.items {
		e := el.Value.(*entry)
		if tagged, ok := e.item.Value.(taggedValue); ok && drop[tagged.Operation] {
			c.order.Remove(el)
			delete(c.items, key)
		}
	}
}

// taggedValue lets InvalidateOperations identify which logical operation
// produced a cached value without parsing the opaque hash key back apart.
type taggedValue struct {
	Operation string
	Value     any
}

// SetTagged is Set but records the owning operation so
// InvalidateOperations can find it later.
func (c *Cache) SetTagged(key, operation string, value any, ttl time.Duration) {
	c.Set(key, taggedValue{Operation: operation, Value: value}, ttl)
}

// GetTagged unwraps a value stored via SetTagged.
func (c *Cache) GetTagged(key string) (any, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	if tagged, ok := v.(taggedValue); ok {
		return tagged.Value, true
	}
	return v, true
}

// Stats is a snapshot of cache counters, used by the health harness.
type Stats struct {
	Size        int
	Capacity    int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:        c.order.Len(),
		Capacity:    c.capacity,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// sweepExpired removes every currently-expired entry; used by the
// optional background sweep and directly by tests.
func (c *Cache) sweepExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var next *list.Element
	for el := c.order.Back(); el != nil; el = next {
		next = el.Prev()
		e := el.Value.(*entry)
		if e.item.expired(now) {
			c.order.Remove(el)
			delete(c.items, e.key)
			c.expirations++
			removed++
		}
	}
	return removed
}

// Sweeper runs the optional periodic cleanup_expired pass described in
// spec.md §4.F ("not required for correctness").
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *obslog.Logger
	stopCh   chan struct{}
	stopped  sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(c *Cache, interval time.Duration) *Sweeper {
	return &Sweeper{cache: c, interval: interval, stopCh: make(chan struct{}), logger: obslog.Noop()}
}

// WithLogger attaches logger for panic reporting from the background
// sweep goroutine; returns s for chaining.
func (s *Sweeper) WithLogger(logger *obslog.Logger) *Sweeper {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepTick()
			}
		}
	}()
}

// sweepTick isolates one sweep pass's panic, per spec.md §7: the
// background task is logged and continues after a short delay rather
// than taking the server down.
func (s *Sweeper) sweepTick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cache sweep panicked", "panic", fmt.Sprintf("%v", r))
			time.Sleep(sweepPanicBackoff)
		}
	}()
	s.cache.sweepExpired(time.Now())
}

func (s *Sweeper) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
