package services

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

// Publisher receives every stored event for fan-out. Implementations must
// not block; the store calls it on the insert path. Batch inserts publish
// once with the whole batch.
type Publisher interface {
	PublishKillmail(record models.EventRecord)
	PublishKillmails(records []models.EventRecord)
}

// EventStore keeps a per-system ordered log of killmail events with a
// globally monotonic sequence, per-client read offsets, and offset-driven
// garbage collection. All state is in memory; recovery after a restart is
// by re-polling the upstream queue.
type EventStore struct {
	seq     atomic.Int64
	systems *xsync.Map[int64, *systemLog]
	clients *xsync.Map[string, *clientOffsets]

	maxPerSystem   int
	publishEnabled bool

	publisherMu sync.RWMutex
	publisher   Publisher
}

type systemLog struct {
	mu     sync.RWMutex
	events []models.EventRecord
}

type clientOffsets struct {
	mu      sync.Mutex
	offsets map[int64]int64 // system id -> max sequence delivered
}

// NewEventStore creates an empty store. maxPerSystem caps retention per
// system as secondary pressure when no client offset bounds it.
func NewEventStore(maxPerSystem int, publishEnabled bool) *EventStore {
	if maxPerSystem <= 0 {
		maxPerSystem = 10_000
	}
	return &EventStore{
		systems:        xsync.NewMap[int64, *systemLog](),
		clients:        xsync.NewMap[string, *clientOffsets](),
		maxPerSystem:   maxPerSystem,
		publishEnabled: publishEnabled,
	}
}

// SetPublisher binds the fan-out dispatcher. Set once at boot, before the
// poller starts.
func (s *EventStore) SetPublisher(p Publisher) {
	s.publisherMu.Lock()
	s.publisher = p
	s.publisherMu.Unlock()
}

// Insert assigns the next global sequence, appends the event to its
// system log, and publishes it for fan-out. Sequences are strictly
// increasing across all systems.
func (s *EventStore) Insert(systemID int64, km *models.Killmail) int64 {
	record := s.append(systemID, km)

	if publisher := s.activePublisher(); publisher != nil {
		publisher.PublishKillmail(record)
	}
	return record.Sequence
}

// InsertBatch appends a batch of killmails in order and publishes the
// whole batch once, so the fan-out path can group deliveries per
// subscription.
func (s *EventStore) InsertBatch(kms []*models.Killmail) []models.EventRecord {
	if len(kms) == 0 {
		return nil
	}

	records := make([]models.EventRecord, 0, len(kms))
	for _, km := range kms {
		records = append(records, s.append(km.SolarSystemID, km))
	}

	if publisher := s.activePublisher(); publisher != nil {
		publisher.PublishKillmails(records)
	}
	return records
}

func (s *EventStore) append(systemID int64, km *models.Killmail) models.EventRecord {
	seq := s.seq.Add(1)
	record := models.EventRecord{Sequence: seq, SystemID: systemID, Killmail: km}

	log, _ := s.systems.LoadOrStore(systemID, &systemLog{})
	log.mu.Lock()
	log.events = append(log.events, record)
	if overflow := len(log.events) - s.maxPerSystem; overflow > 0 {
		s.countLagSkips(systemID, log.events[:overflow])
		log.events = log.events[overflow:]
	}
	log.mu.Unlock()

	metrics.KillmailsStored.Inc()
	return record
}

func (s *EventStore) activePublisher() Publisher {
	if !s.publishEnabled {
		return nil
	}
	s.publisherMu.RLock()
	defer s.publisherMu.RUnlock()
	return s.publisher
}

// countLagSkips records evicted events that some client still had not
// fetched. The client's next fetch silently skips them; the counter makes
// that visible.
func (s *EventStore) countLagSkips(systemID int64, evicted []models.EventRecord) {
	minOffset := int64(-1)
	s.clients.Range(func(_ string, co *clientOffsets) bool {
		co.mu.Lock()
		if offset, ok := co.offsets[systemID]; ok {
			if minOffset < 0 || offset < minOffset {
				minOffset = offset
			}
		}
		co.mu.Unlock()
		return true
	})
	if minOffset < 0 {
		return
	}
	for _, record := range evicted {
		if record.Sequence > minOffset {
			metrics.OffsetGapSkips.Inc()
		}
	}
}

func (s *EventStore) client(clientID string) *clientOffsets {
	co, _ := s.clients.LoadOrStore(clientID, &clientOffsets{offsets: make(map[int64]int64)})
	return co
}

// FetchForClient returns every event in systemIDs newer than the client's
// per-system offsets, sorted ascending by sequence, and advances the
// offsets past the returned set. Repeated calls with no new inserts
// return an empty slice.
func (s *EventStore) FetchForClient(clientID string, systemIDs []int64) []models.EventRecord {
	co := s.client(clientID)
	co.mu.Lock()
	defer co.mu.Unlock()

	var out []models.EventRecord
	for _, systemID := range systemIDs {
		log, ok := s.systems.Load(systemID)
		if !ok {
			continue
		}
		offset := co.offsets[systemID]

		log.mu.RLock()
		for _, record := range log.events {
			if record.Sequence > offset {
				out = append(out, record)
			}
		}
		log.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })

	for _, record := range out {
		if record.Sequence > co.offsets[record.SystemID] {
			co.offsets[record.SystemID] = record.Sequence
		}
	}
	return out
}

// FetchOneEvent returns the single smallest-sequence event newer than the
// client's offsets among systemIDs, advancing only that system's offset.
// The second return is false when no event matches.
func (s *EventStore) FetchOneEvent(clientID string, systemIDs []int64) (models.EventRecord, bool) {
	co := s.client(clientID)
	co.mu.Lock()
	defer co.mu.Unlock()

	var best models.EventRecord
	found := false
	for _, systemID := range systemIDs {
		log, ok := s.systems.Load(systemID)
		if !ok {
			continue
		}
		offset := co.offsets[systemID]

		log.mu.RLock()
		for _, record := range log.events {
			if record.Sequence > offset {
				if !found || record.Sequence < best.Sequence {
					best = record
					found = true
				}
				break // events are in sequence order per system
			}
		}
		log.mu.RUnlock()
	}

	if found {
		co.offsets[best.SystemID] = best.Sequence
	}
	return best, found
}

// RemoveClient drops a client's offsets. Stale offsets are harmless but
// pin events against GC, so transports call this on disconnect.
func (s *EventStore) RemoveClient(clientID string) {
	s.clients.Delete(clientID)
}

// GC deletes events every client has already fetched. With no clients the
// per-system cap is the only retention bound.
func (s *EventStore) GC() int {
	minOffset := int64(-1)
	s.clients.Range(func(_ string, co *clientOffsets) bool {
		co.mu.Lock()
		for _, offset := range co.offsets {
			if minOffset < 0 || offset < minOffset {
				minOffset = offset
			}
		}
		co.mu.Unlock()
		return true
	})
	if minOffset < 0 {
		return 0
	}

	removed := 0
	s.systems.Range(func(_ int64, log *systemLog) bool {
		log.mu.Lock()
		cut := 0
		for cut < len(log.events) && log.events[cut].Sequence <= minOffset {
			cut++
		}
		if cut > 0 {
			log.events = append([]models.EventRecord(nil), log.events[cut:]...)
			removed += cut
		}
		log.mu.Unlock()
		return true
	})

	if removed > 0 {
		metrics.EventsGCed.Add(float64(removed))
		slog.Debug("Event store GC completed", "removed", removed, "min_offset", minOffset)
	}
	return removed
}

// RecentForSystem returns up to limit of the newest events for a system
// with kill_time at or after since, in ascending sequence order. Used by
// the REST read path and channel preload; it does not touch offsets.
func (s *EventStore) RecentForSystem(systemID int64, since time.Time, limit int) []models.EventRecord {
	log, ok := s.systems.Load(systemID)
	if !ok {
		return nil
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	var matched []models.EventRecord
	for _, record := range log.events {
		if !record.Killmail.KillTime.Before(since) {
			matched = append(matched, record)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// CountForSystem returns the number of retained events for a system.
func (s *EventStore) CountForSystem(systemID int64) int {
	log, ok := s.systems.Load(systemID)
	if !ok {
		return 0
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	return len(log.events)
}

// ActiveSystems returns the number of systems with at least one retained
// event.
func (s *EventStore) ActiveSystems() int {
	count := 0
	s.systems.Range(func(_ int64, log *systemLog) bool {
		log.mu.RLock()
		if len(log.events) > 0 {
			count++
		}
		log.mu.RUnlock()
		return true
	})
	return count
}

// StoreStats is a snapshot of store occupancy.
type StoreStats struct {
	TotalEvents     int   `json:"total_events"`
	ActiveSystems   int   `json:"active_systems"`
	TrackedClients  int   `json:"tracked_clients"`
	CurrentSequence int64 `json:"current_sequence"`
}

// Stats returns a snapshot of store occupancy.
func (s *EventStore) Stats() StoreStats {
	total := 0
	s.systems.Range(func(_ int64, log *systemLog) bool {
		log.mu.RLock()
		total += len(log.events)
		log.mu.RUnlock()
		return true
	})
	return StoreStats{
		TotalEvents:     total,
		ActiveSystems:   s.ActiveSystems(),
		TrackedClients:  s.clients.Size(),
		CurrentSequence: s.seq.Load(),
	}
}
