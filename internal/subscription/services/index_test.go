package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexPutAndFind(t *testing.T) {
	idx := NewEntityIndex[int64]()

	idx.Put("sub-1", []int64{30000142, 30000143})
	idx.Put("sub-2", []int64{30000142})

	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, idx.Find(30000142))
	assert.ElementsMatch(t, []string{"sub-1"}, idx.Find(30000143))
	assert.Empty(t, idx.Find(30000999))
}

func TestIndexPutReplacesKeys(t *testing.T) {
	idx := NewEntityIndex[int64]()

	idx.Put("sub-1", []int64{1, 2})
	idx.Put("sub-1", []int64{2, 3})

	assert.Empty(t, idx.Find(1), "dropped keys must be unlinked")
	assert.ElementsMatch(t, []string{"sub-1"}, idx.Find(2))
	assert.ElementsMatch(t, []string{"sub-1"}, idx.Find(3))
	assert.ElementsMatch(t, []int64{2, 3}, idx.Keys("sub-1"))
}

func TestIndexRemove(t *testing.T) {
	idx := NewEntityIndex[int64]()

	idx.Put("sub-1", []int64{1, 2})
	idx.Put("sub-2", []int64{2})
	idx.Remove("sub-1")

	assert.Empty(t, idx.Find(1))
	assert.ElementsMatch(t, []string{"sub-2"}, idx.Find(2))
	assert.Empty(t, idx.Keys("sub-1"))

	stats := idx.Stats()
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 1, stats.Subscriptions)
}

func TestIndexFindUnion(t *testing.T) {
	idx := NewEntityIndex[int64]()

	idx.Put("sub-1", []int64{1})
	idx.Put("sub-2", []int64{2})
	idx.Put("sub-3", []int64{1, 2})

	union := idx.FindUnion([]int64{1, 2, 99})
	assert.Len(t, union, 3)
	assert.Contains(t, union, "sub-1")
	assert.Contains(t, union, "sub-2")
	assert.Contains(t, union, "sub-3")
}

func TestIndexEmptyPutClearsSubscription(t *testing.T) {
	idx := NewEntityIndex[int64]()

	idx.Put("sub-1", []int64{1})
	idx.Put("sub-1", nil)

	assert.Empty(t, idx.Find(1))
	assert.Zero(t, idx.Stats().Subscriptions)
}

func TestIndexConcurrentAccess(t *testing.T) {
	idx := NewEntityIndex[int64]()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			id := string(rune('a' + n))
			idx.Put(id, []int64{n % 5})
			idx.Find(n % 5)
			idx.FindUnion([]int64{0, 1, 2})
			if n%2 == 0 {
				idx.Remove(id)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 10, idx.Stats().Subscriptions)
}
