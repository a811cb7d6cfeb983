package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/internal/subscription/models"
	"github.com/guarzo/wanderer-kills/pkg/config"
)

func testRegistry() *Registry {
	return NewRegistry(config.SubscriptionConfig{
		MaxSystems:    100,
		MaxCharacters: 1000,
		InboxSize:     4,
		DrainTimeout:  200 * time.Millisecond,
	})
}

func testSubscription(id string) *models.Subscription {
	return &models.Subscription{
		ID:           id,
		SubscriberID: "client-1",
		SystemIDs:    []int64{30000142},
		Transport:    models.TransportChannel,
		CreatedAt:    time.Now().UTC(),
	}
}

func testRecord(killmailID int64) killmailModels.EventRecord {
	return killmailModels.EventRecord{
		Sequence: killmailID,
		SystemID: 30000142,
		Killmail: &killmailModels.Killmail{KillmailID: killmailID, SolarSystemID: 30000142},
	}
}

func TestRegistryDeliversToWorker(t *testing.T) {
	registry := testRegistry()

	var mu sync.Mutex
	var got []int64
	deliver := func(_ context.Context, _ *models.Subscription, records []killmailModels.EventRecord) error {
		mu.Lock()
		for _, record := range records {
			got = append(got, record.Killmail.KillmailID)
		}
		mu.Unlock()
		return nil
	}

	require.NoError(t, registry.Register(testSubscription("sub-1"), deliver))
	defer registry.StopAll()

	assert.True(t, registry.Enqueue("sub-1", testRecord(1)))
	assert.True(t, registry.Enqueue("sub-1", testRecord(2)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int64{1, 2}, got, "in-order delivery per subscription")
	mu.Unlock()
}

func TestRegistryEnqueueBatchIsOneDelivery(t *testing.T) {
	registry := testRegistry()

	var mu sync.Mutex
	var calls [][]int64
	deliver := func(_ context.Context, _ *models.Subscription, records []killmailModels.EventRecord) error {
		ids := make([]int64, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.Killmail.KillmailID)
		}
		mu.Lock()
		calls = append(calls, ids)
		mu.Unlock()
		return nil
	}

	require.NoError(t, registry.Register(testSubscription("sub-1"), deliver))
	defer registry.StopAll()

	batch := []killmailModels.EventRecord{testRecord(1), testRecord(2), testRecord(3)}
	assert.True(t, registry.EnqueueBatch("sub-1", batch))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, [][]int64{{1, 2, 3}}, calls, "a batch arrives as one combined delivery")
	mu.Unlock()

	assert.False(t, registry.EnqueueBatch("sub-1", nil))
	assert.False(t, registry.EnqueueBatch("missing", batch))
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	registry := testRegistry()
	deliver := func(context.Context, *models.Subscription, []killmailModels.EventRecord) error { return nil }

	require.NoError(t, registry.Register(testSubscription("sub-1"), deliver))
	defer registry.StopAll()

	assert.Error(t, registry.Register(testSubscription("sub-1"), deliver))
}

func TestRegistryDropsOnFullInbox(t *testing.T) {
	registry := testRegistry()

	release := make(chan struct{})
	deliver := func(context.Context, *models.Subscription, []killmailModels.EventRecord) error {
		<-release
		return nil
	}

	require.NoError(t, registry.Register(testSubscription("sub-1"), deliver))
	defer func() {
		close(release)
		registry.StopAll()
	}()

	// One record blocks in the delivery fn, four fill the inbox; the
	// next must be dropped, not block the caller.
	delivered := 0
	for i := int64(1); i <= 8; i++ {
		if registry.Enqueue("sub-1", testRecord(i)) {
			delivered++
		}
	}
	assert.Less(t, delivered, 8, "a full inbox must drop instead of blocking")
}

func TestRegistryEnqueueUnknownSubscription(t *testing.T) {
	registry := testRegistry()
	assert.False(t, registry.Enqueue("missing", testRecord(1)))
}

func TestRegistryUnregisterStopsWorker(t *testing.T) {
	registry := testRegistry()
	deliver := func(context.Context, *models.Subscription, []killmailModels.EventRecord) error { return nil }

	require.NoError(t, registry.Register(testSubscription("sub-1"), deliver))
	assert.True(t, registry.Unregister("sub-1"))
	assert.False(t, registry.Unregister("sub-1"))
	assert.Zero(t, registry.Len())

	_, ok := registry.Get("sub-1")
	assert.False(t, ok)
}

func TestRegistryWorkerPanicIsIsolated(t *testing.T) {
	registry := testRegistry()

	var cleaned atomic.Value
	registry.SetCrashHandler(func(subscriptionID string) {
		cleaned.Store(subscriptionID)
	})

	var healthy atomic.Int64
	require.NoError(t, registry.Register(testSubscription("sub-bad"),
		func(context.Context, *models.Subscription, []killmailModels.EventRecord) error {
			panic("boom")
		}))
	require.NoError(t, registry.Register(testSubscription("sub-good"),
		func(context.Context, *models.Subscription, []killmailModels.EventRecord) error {
			healthy.Add(1)
			return nil
		}))
	defer registry.StopAll()

	registry.Enqueue("sub-bad", testRecord(1))
	registry.Enqueue("sub-good", testRecord(2))

	require.Eventually(t, func() bool {
		return cleaned.Load() == "sub-bad" && healthy.Load() == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := registry.Get("sub-bad")
	assert.False(t, ok, "crashed worker must be removed")
	_, ok = registry.Get("sub-good")
	assert.True(t, ok, "other workers keep running")
}

func TestRegistryList(t *testing.T) {
	registry := testRegistry()
	deliver := func(context.Context, *models.Subscription, []killmailModels.EventRecord) error { return nil }

	subA := testSubscription("sub-a")
	subB := testSubscription("sub-b")
	subB.SubscriberID = "client-2"
	require.NoError(t, registry.Register(subA, deliver))
	require.NoError(t, registry.Register(subB, deliver))
	defer registry.StopAll()

	assert.Len(t, registry.List(""), 2)
	assert.Len(t, registry.List("client-1"), 1)
	assert.Empty(t, registry.List("client-3"))
}
