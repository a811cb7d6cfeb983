package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/wanderer-kills/internal/killmail/models"
)

func testKillmail(id, systemID int64) *models.Killmail {
	return &models.Killmail{
		KillmailID:    id,
		KillTime:      time.Now().UTC(),
		SolarSystemID: systemID,
		Victim:        models.Victim{ShipTypeID: 587},
	}
}

func TestInsertAssignsIncreasingSequences(t *testing.T) {
	store := NewEventStore(100, false)

	s1 := store.Insert(30000142, testKillmail(1, 30000142))
	s2 := store.Insert(30000999, testKillmail(2, 30000999))
	s3 := store.Insert(30000142, testKillmail(3, 30000142))

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
}

func TestInsertSequencesUnderConcurrency(t *testing.T) {
	store := NewEventStore(10_000, false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			for j := int64(0); j < 20; j++ {
				store.Insert(30000142+n%3, testKillmail(n*100+j, 30000142+n%3))
			}
		}(int64(i))
	}
	wg.Wait()

	// Every retained event must carry a unique sequence.
	seen := make(map[int64]bool)
	for _, sys := range []int64{30000142, 30000143, 30000144} {
		records := store.FetchForClient("checker", []int64{sys})
		last := int64(0)
		for _, record := range records {
			assert.False(t, seen[record.Sequence], "duplicate sequence %d", record.Sequence)
			seen[record.Sequence] = true
			assert.Greater(t, record.Sequence, last, "per-system order must follow sequence")
			last = record.Sequence
		}
	}
	assert.Len(t, seen, 1000)
}

func TestFetchForClientAdvancesOffsets(t *testing.T) {
	store := NewEventStore(100, false)
	systems := []int64{30000142}

	store.Insert(30000142, testKillmail(5, 30000142))
	store.Insert(30000142, testKillmail(6, 30000142))
	store.Insert(30000142, testKillmail(7, 30000142))

	first := store.FetchForClient("X", systems)
	require.Len(t, first, 3)
	assert.Equal(t, int64(5), first[0].Killmail.KillmailID)
	assert.Equal(t, int64(7), first[2].Killmail.KillmailID)

	second := store.FetchForClient("X", systems)
	assert.Empty(t, second, "repeat fetch with no new inserts must be empty")

	store.Insert(30000142, testKillmail(8, 30000142))
	third := store.FetchForClient("X", systems)
	require.Len(t, third, 1)
	assert.Equal(t, int64(8), third[0].Killmail.KillmailID)
}

func TestFetchForClientIsPerClient(t *testing.T) {
	store := NewEventStore(100, false)
	store.Insert(30000142, testKillmail(1, 30000142))

	assert.Len(t, store.FetchForClient("A", []int64{30000142}), 1)
	assert.Len(t, store.FetchForClient("B", []int64{30000142}), 1)
	assert.Empty(t, store.FetchForClient("A", []int64{30000142}))
}

func TestFetchForClientMergesSystemsInSequenceOrder(t *testing.T) {
	store := NewEventStore(100, false)

	store.Insert(1, testKillmail(10, 1))
	store.Insert(2, testKillmail(20, 2))
	store.Insert(1, testKillmail(11, 1))

	records := store.FetchForClient("C", []int64{1, 2})
	require.Len(t, records, 3)
	assert.Equal(t, int64(10), records[0].Killmail.KillmailID)
	assert.Equal(t, int64(20), records[1].Killmail.KillmailID)
	assert.Equal(t, int64(11), records[2].Killmail.KillmailID)
}

func TestFetchOneEvent(t *testing.T) {
	store := NewEventStore(100, false)

	store.Insert(1, testKillmail(10, 1))
	store.Insert(2, testKillmail(20, 2))

	record, ok := store.FetchOneEvent("D", []int64{1, 2})
	require.True(t, ok)
	assert.Equal(t, int64(10), record.Killmail.KillmailID)

	// Only system 1's offset advanced; system 2's event is still pending.
	record, ok = store.FetchOneEvent("D", []int64{1, 2})
	require.True(t, ok)
	assert.Equal(t, int64(20), record.Killmail.KillmailID)

	_, ok = store.FetchOneEvent("D", []int64{1, 2})
	assert.False(t, ok)
}

func TestGCRespectsMinimumOffset(t *testing.T) {
	store := NewEventStore(100, false)
	systems := []int64{30000142}

	store.Insert(30000142, testKillmail(1, 30000142))
	store.Insert(30000142, testKillmail(2, 30000142))
	store.Insert(30000142, testKillmail(3, 30000142))

	// Fast client has everything; slow client has nothing.
	store.FetchForClient("fast", systems)
	store.FetchOneEvent("slow", systems)

	removed := store.GC()
	assert.Equal(t, 1, removed, "only events below the slow client's offset are reclaimed")
	assert.Equal(t, 2, store.CountForSystem(30000142))
}

func TestGCWithNoClientsRemovesNothing(t *testing.T) {
	store := NewEventStore(100, false)
	store.Insert(30000142, testKillmail(1, 30000142))

	assert.Zero(t, store.GC())
	assert.Equal(t, 1, store.CountForSystem(30000142))
}

func TestPerSystemCap(t *testing.T) {
	store := NewEventStore(5, false)

	for i := int64(1); i <= 8; i++ {
		store.Insert(30000142, testKillmail(i, 30000142))
	}

	assert.Equal(t, 5, store.CountForSystem(30000142))
	records := store.FetchForClient("E", []int64{30000142})
	require.Len(t, records, 5)
	assert.Equal(t, int64(4), records[0].Killmail.KillmailID, "oldest events are evicted first")
}

type capturePublisher struct {
	mu      sync.Mutex
	records []models.EventRecord
	batches [][]models.EventRecord
}

func (p *capturePublisher) PublishKillmail(record models.EventRecord) {
	p.mu.Lock()
	p.records = append(p.records, record)
	p.mu.Unlock()
}

func (p *capturePublisher) PublishKillmails(records []models.EventRecord) {
	p.mu.Lock()
	p.records = append(p.records, records...)
	p.batches = append(p.batches, records)
	p.mu.Unlock()
}

func TestInsertPublishes(t *testing.T) {
	store := NewEventStore(100, true)
	pub := &capturePublisher{}
	store.SetPublisher(pub)

	store.Insert(30000142, testKillmail(1001, 30000142))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.records, 1)
	assert.Equal(t, int64(30000142), pub.records[0].SystemID)
}

func TestInsertBatchPublishesOnce(t *testing.T) {
	store := NewEventStore(100, true)
	pub := &capturePublisher{}
	store.SetPublisher(pub)

	records := store.InsertBatch([]*models.Killmail{
		testKillmail(1, 30000142),
		testKillmail(2, 30002187),
		testKillmail(3, 30000142),
	})
	require.Len(t, records, 3)
	assert.Less(t, records[0].Sequence, records[1].Sequence)
	assert.Less(t, records[1].Sequence, records[2].Sequence)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1, "a batch insert publishes one combined batch")
	assert.Len(t, pub.batches[0], 3)

	assert.Equal(t, 2, store.CountForSystem(30000142))
	assert.Equal(t, 1, store.CountForSystem(30002187))
}

func TestRecentForSystem(t *testing.T) {
	store := NewEventStore(100, false)

	old := testKillmail(1, 30000142)
	old.KillTime = time.Now().Add(-3 * time.Hour)
	store.Insert(30000142, old)
	store.Insert(30000142, testKillmail(2, 30000142))
	store.Insert(30000142, testKillmail(3, 30000142))

	records := store.RecentForSystem(30000142, time.Now().Add(-time.Hour), 10)
	require.Len(t, records, 2)

	limited := store.RecentForSystem(30000142, time.Now().Add(-time.Hour), 1)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(3), limited[0].Killmail.KillmailID, "limit keeps the newest")
}
