package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// Cache namespaces. The storage key is always "{namespace}:{key}".
const (
	NamespaceKillmails           = "killmails"
	NamespaceSystems             = "systems"
	NamespaceCharacters          = "characters"
	NamespaceCorporations        = "corporations"
	NamespaceAlliances           = "alliances"
	NamespaceShipTypes           = "ship_types"
	NamespaceCharacterExtraction = "character_extraction"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = handlers.NotFoundError("cache entry not found")

type entry struct {
	Value     any
	Namespace string
	ExpiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// NamespaceStats reports per-namespace cache effectiveness.
type NamespaceStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int64 `json:"size"`
}

type nsCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
	size   atomic.Int64
}

type call struct {
	wg  sync.WaitGroup
	val any
	err error
}

// NamespacedCache is an in-memory TTL key/value store partitioned by
// namespace. Expired entries surface as not-found on read; a periodic
// sweep reclaims them. The backing store is bounded, so cold entries can
// be evicted early under memory pressure.
type NamespacedCache struct {
	store    *otter.Cache[string, entry]
	stats    *xsync.Map[string, *nsCounters]
	inflight *xsync.Map[string, *call]
}

// New builds a NamespacedCache bounded to maxEntries.
func New(maxEntries int) (*NamespacedCache, error) {
	c := &NamespacedCache{
		stats:    xsync.NewMap[string, *nsCounters](),
		inflight: xsync.NewMap[string, *call](),
	}

	store, err := otter.MustBuilder[string, entry](maxEntries).
		Cost(func(_ string, _ entry) uint32 { return 1 }).
		DeletionListener(func(_ string, value entry, _ otter.DeletionCause) {
			c.counters(value.Namespace).size.Add(-1)
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build cache store: %w", err)
	}
	c.store = &store
	return c, nil
}

func (c *NamespacedCache) counters(namespace string) *nsCounters {
	counters, _ := c.stats.LoadOrStore(namespace, &nsCounters{})
	return counters
}

func storageKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the value for (namespace, key), or ErrNotFound when absent
// or expired.
func (c *NamespacedCache) Get(namespace, key string) (any, error) {
	if c == nil || c.store == nil {
		return nil, handlers.CacheError("cache not initialized")
	}

	counters := c.counters(namespace)
	e, ok := c.store.Get(storageKey(namespace, key))
	if !ok || e.expired(time.Now()) {
		counters.misses.Add(1)
		return nil, ErrNotFound
	}

	counters.hits.Add(1)
	return e.Value, nil
}

// Put stores value under (namespace, key) for ttl. Last write wins.
func (c *NamespacedCache) Put(namespace, key string, value any, ttl time.Duration) error {
	if c == nil || c.store == nil {
		return handlers.CacheError("cache not initialized")
	}
	if ttl <= 0 {
		return handlers.ValidationError("cache ttl must be positive")
	}

	sk := storageKey(namespace, key)
	if _, exists := c.store.Get(sk); !exists {
		c.counters(namespace).size.Add(1)
	}
	c.store.Set(sk, entry{Value: value, Namespace: namespace, ExpiresAt: time.Now().Add(ttl)})
	return nil
}

// GetOrCompute returns the cached value or runs fn to produce it. At most
// one computation per (namespace, key) is in flight; late callers wait for
// and share its result. Failed computations are not cached.
func (c *NamespacedCache) GetOrCompute(namespace, key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if c == nil || c.store == nil {
		// Fall through to direct computation when the store is unusable.
		return fn()
	}

	if v, err := c.Get(namespace, key); err == nil {
		return v, nil
	}

	sk := storageKey(namespace, key)
	cl := &call{}
	cl.wg.Add(1)

	if existing, loaded := c.inflight.LoadOrStore(sk, cl); loaded {
		existing.wg.Wait()
		return existing.val, existing.err
	}

	cl.val, cl.err = fn()
	if cl.err == nil {
		if putErr := c.Put(namespace, key, cl.val, ttl); putErr != nil {
			slog.Warn("Failed to cache computed value", "namespace", namespace, "key", key, "error", putErr)
		}
	}
	c.inflight.Delete(sk)
	cl.wg.Done()

	return cl.val, cl.err
}

// Delete removes a single entry.
func (c *NamespacedCache) Delete(namespace, key string) {
	if c == nil || c.store == nil {
		return
	}
	c.store.Delete(storageKey(namespace, key))
}

// ClearNamespace removes every entry in a namespace.
func (c *NamespacedCache) ClearNamespace(namespace string) int {
	if c == nil || c.store == nil {
		return 0
	}

	removed := 0
	c.store.DeleteByFunc(func(_ string, e entry) bool {
		if e.Namespace == namespace {
			removed++
			return true
		}
		return false
	})
	return removed
}

// Sweep reclaims expired entries. Reads already treat expired entries as
// misses; this exists to return their memory.
func (c *NamespacedCache) Sweep() int {
	if c == nil || c.store == nil {
		return 0
	}

	now := time.Now()
	removed := 0
	c.store.DeleteByFunc(func(_ string, e entry) bool {
		if e.expired(now) {
			removed++
			return true
		}
		return false
	})
	if removed > 0 {
		slog.Debug("Cache sweep completed", "removed", removed)
	}
	return removed
}

// Stats returns hit/miss/size counters per namespace.
func (c *NamespacedCache) Stats() map[string]NamespaceStats {
	out := make(map[string]NamespaceStats)
	if c == nil || c.stats == nil {
		return out
	}
	c.stats.Range(func(namespace string, counters *nsCounters) bool {
		out[namespace] = NamespaceStats{
			Hits:   counters.hits.Load(),
			Misses: counters.misses.Load(),
			Size:   counters.size.Load(),
		}
		return true
	})
	return out
}

// Size returns the total number of live entries.
func (c *NamespacedCache) Size() int {
	if c == nil || c.store == nil {
		return 0
	}
	return c.store.Size()
}

// Close releases the backing store.
func (c *NamespacedCache) Close() {
	if c != nil && c.store != nil {
		c.store.Close()
	}
}
