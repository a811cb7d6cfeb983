package services

import (
	"strconv"
	"time"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/pkg/cache"
)

// Broadcaster matches stored killmails against the subscription indexes
// and fans them out to the matching workers. A subscription matches when
// the kill's system is in its system filter OR any involved character is
// in its character filter.
type Broadcaster struct {
	registry   *Registry
	systems    *EntityIndex[int64]
	characters *EntityIndex[int64]

	cache         *cache.NamespacedCache
	extractionTTL time.Duration
}

// NewBroadcaster creates a broadcaster over the given indexes.
func NewBroadcaster(
	registry *Registry,
	systems *EntityIndex[int64],
	characters *EntityIndex[int64],
	c *cache.NamespacedCache,
	extractionTTL time.Duration,
) *Broadcaster {
	return &Broadcaster{
		registry:      registry,
		systems:       systems,
		characters:    characters,
		cache:         c,
		extractionTTL: extractionTTL,
	}
}

// PublishKillmail fans one stored event out to every matching
// subscription. Called on the insert path; Enqueue never blocks.
func (b *Broadcaster) PublishKillmail(record killmailModels.EventRecord) {
	for subscriptionID := range b.Match(record) {
		b.registry.Enqueue(subscriptionID, record)
	}
}

// PublishKillmails fans a batch of stored events out, grouping matches
// per subscription so each worker receives one combined delivery.
func (b *Broadcaster) PublishKillmails(records []killmailModels.EventRecord) {
	grouped := make(map[string][]killmailModels.EventRecord)
	for _, record := range records {
		for subscriptionID := range b.Match(record) {
			grouped[subscriptionID] = append(grouped[subscriptionID], record)
		}
	}
	for subscriptionID, matched := range grouped {
		b.registry.EnqueueBatch(subscriptionID, matched)
	}
}

// Match returns the ids of every subscription the event matches.
func (b *Broadcaster) Match(record killmailModels.EventRecord) map[string]struct{} {
	matched := b.characters.FindUnion(b.characterIDs(record.Killmail))
	for _, subscriptionID := range b.systems.Find(record.SystemID) {
		matched[subscriptionID] = struct{}{}
	}
	return matched
}

// characterIDs extracts the involved character ids, cached per killmail
// so repeated matching does not rescan the attacker list.
func (b *Broadcaster) characterIDs(km *killmailModels.Killmail) []int64 {
	key := strconv.FormatInt(km.KillmailID, 10)
	v, err := b.cache.GetOrCompute(cache.NamespaceCharacterExtraction, key, b.extractionTTL, func() (any, error) {
		return km.CharacterIDs(), nil
	})
	if err != nil {
		return km.CharacterIDs()
	}
	ids, ok := v.([]int64)
	if !ok {
		return km.CharacterIDs()
	}
	return ids
}
