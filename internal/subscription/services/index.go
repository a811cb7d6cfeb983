package services

import (
	"sync"
)

// EntityIndex maps filter keys (system or character ids) to the
// subscriptions interested in them, with a reverse map for cheap updates
// and removal. Both directions are mutated under one lock so a
// subscription is never half-indexed.
type EntityIndex[K comparable] struct {
	mu      sync.RWMutex
	forward map[K]map[string]struct{} // key -> subscription ids
	reverse map[string]map[K]struct{} // subscription id -> keys
}

// NewEntityIndex creates an empty index.
func NewEntityIndex[K comparable]() *EntityIndex[K] {
	return &EntityIndex[K]{
		forward: make(map[K]map[string]struct{}),
		reverse: make(map[string]map[K]struct{}),
	}
}

// Put registers (or replaces) the keys for a subscription. Keys present
// before but absent now are unlinked.
func (idx *EntityIndex[K]) Put(subscriptionID string, keys []K) {
	next := make(map[K]struct{}, len(keys))
	for _, key := range keys {
		next[key] = struct{}{}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for key := range idx.reverse[subscriptionID] {
		if _, keep := next[key]; keep {
			continue
		}
		delete(idx.forward[key], subscriptionID)
		if len(idx.forward[key]) == 0 {
			delete(idx.forward, key)
		}
	}

	for key := range next {
		subs, ok := idx.forward[key]
		if !ok {
			subs = make(map[string]struct{})
			idx.forward[key] = subs
		}
		subs[subscriptionID] = struct{}{}
	}

	if len(next) == 0 {
		delete(idx.reverse, subscriptionID)
		return
	}
	idx.reverse[subscriptionID] = next
}

// Remove unlinks a subscription from every key.
func (idx *EntityIndex[K]) Remove(subscriptionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for key := range idx.reverse[subscriptionID] {
		delete(idx.forward[key], subscriptionID)
		if len(idx.forward[key]) == 0 {
			delete(idx.forward, key)
		}
	}
	delete(idx.reverse, subscriptionID)
}

// Find returns the subscriptions registered for one key.
func (idx *EntityIndex[K]) Find(key K) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	subs := idx.forward[key]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// FindUnion returns the de-duplicated subscriptions registered for any of
// the keys.
func (idx *EntityIndex[K]) FindUnion(keys []K) map[string]struct{} {
	out := make(map[string]struct{})

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, key := range keys {
		for id := range idx.forward[key] {
			out[id] = struct{}{}
		}
	}
	return out
}

// Keys returns the keys a subscription is registered for.
func (idx *EntityIndex[K]) Keys(subscriptionID string) []K {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]K, 0, len(idx.reverse[subscriptionID]))
	for key := range idx.reverse[subscriptionID] {
		out = append(out, key)
	}
	return out
}

// IndexStats is a snapshot of index occupancy.
type IndexStats struct {
	Keys          int `json:"keys"`
	Subscriptions int `json:"subscriptions"`
}

// Stats returns a snapshot of index occupancy.
func (idx *EntityIndex[K]) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return IndexStats{
		Keys:          len(idx.forward),
		Subscriptions: len(idx.reverse),
	}
}

// Compact drops forward entries whose subscription set has emptied. Put
// and Remove already clean up eagerly; this reclaims anything a crashed
// worker left behind.
func (idx *EntityIndex[K]) Compact() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for key, subs := range idx.forward {
		if len(subs) == 0 {
			delete(idx.forward, key)
			removed++
		}
	}
	return removed
}
