package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// absentTTL caches confirmed-missing entities briefly so repeated 404s do
// not hammer the upstream.
const absentTTL = 5 * time.Minute

// Enricher resolves character, corporation, alliance, ship-type, and
// system names for killmail batches. Within one batch every unique id is
// fetched at most once; results land in the shared cache.
type Enricher struct {
	client   esi.MetadataClient
	cache    *cache.NamespacedCache
	cfg      config.EnrichmentConfig
	cacheCfg config.CacheConfig
}

// NewEnricher creates an enricher over the given metadata client.
func NewEnricher(client esi.MetadataClient, c *cache.NamespacedCache, cfg config.EnrichmentConfig, cacheCfg config.CacheConfig) *Enricher {
	return &Enricher{client: client, cache: c, cfg: cfg, cacheCfg: cacheCfg}
}

type idSet map[int64]struct{}

func (s idSet) add(id *int64) {
	if id != nil && *id > 0 {
		s[*id] = struct{}{}
	}
}

func (s idSet) addValue(id int64) {
	if id > 0 {
		s[id] = struct{}{}
	}
}

// EnrichBatch fills name fields on every killmail in the batch. A failed
// lookup leaves the field empty and flips EnrichmentComplete on the
// affected killmails; it never fails the batch.
func (e *Enricher) EnrichBatch(ctx context.Context, killmails []*models.Killmail) {
	if len(killmails) == 0 {
		return
	}

	characters := make(idSet)
	corporations := make(idSet)
	alliances := make(idSet)
	shipTypes := make(idSet)
	systems := make(idSet)

	for _, km := range killmails {
		systems.addValue(km.SolarSystemID)
		characters.add(km.Victim.CharacterID)
		corporations.add(km.Victim.CorporationID)
		alliances.add(km.Victim.AllianceID)
		shipTypes.addValue(km.Victim.ShipTypeID)
		for i := range km.Attackers {
			att := &km.Attackers[i]
			characters.add(att.CharacterID)
			corporations.add(att.CorporationID)
			alliances.add(att.AllianceID)
			shipTypes.add(att.ShipTypeID)
		}
	}

	characterNames := e.resolveSet(ctx, cache.NamespaceCharacters, characters, e.cacheCfg.ESITTL, func(ctx context.Context, id int64) (string, error) {
		c, err := e.client.GetCharacter(ctx, id)
		if err != nil {
			return "", err
		}
		return c.Name, nil
	})
	corporationNames := e.resolveSet(ctx, cache.NamespaceCorporations, corporations, e.cacheCfg.ESITTL, func(ctx context.Context, id int64) (string, error) {
		c, err := e.client.GetCorporation(ctx, id)
		if err != nil {
			return "", err
		}
		return c.Name, nil
	})
	allianceNames := e.resolveSet(ctx, cache.NamespaceAlliances, alliances, e.cacheCfg.ESITTL, func(ctx context.Context, id int64) (string, error) {
		a, err := e.client.GetAlliance(ctx, id)
		if err != nil {
			return "", err
		}
		return a.Name, nil
	})
	shipNames := e.resolveSet(ctx, cache.NamespaceShipTypes, shipTypes, e.cacheCfg.ESITTL, func(ctx context.Context, id int64) (string, error) {
		t, err := e.client.GetShipType(ctx, id)
		if err != nil {
			return "", err
		}
		return t.Name, nil
	})
	systemNames := e.resolveSet(ctx, cache.NamespaceSystems, systems, e.cacheCfg.SystemTTL, func(ctx context.Context, id int64) (string, error) {
		s, err := e.client.GetSolarSystem(ctx, id)
		if err != nil {
			return "", err
		}
		return s.Name, nil
	})

	for _, km := range killmails {
		complete := true
		km.SystemName = systemNames[km.SolarSystemID]

		km.Victim.CharacterName = lookup(characterNames, km.Victim.CharacterID, &complete)
		km.Victim.CorporationName = lookup(corporationNames, km.Victim.CorporationID, &complete)
		km.Victim.AllianceName = lookup(allianceNames, km.Victim.AllianceID, &complete)
		if name, ok := shipNames[km.Victim.ShipTypeID]; ok && name != "" {
			km.Victim.ShipName = name
		} else {
			complete = false
		}

		for i := range km.Attackers {
			att := &km.Attackers[i]
			att.CharacterName = lookup(characterNames, att.CharacterID, &complete)
			att.CorporationName = lookup(corporationNames, att.CorporationID, &complete)
			att.AllianceName = lookup(allianceNames, att.AllianceID, &complete)
			att.ShipName = lookup(shipNames, att.ShipTypeID, &complete)
		}

		km.EnrichmentComplete = complete
	}
}

// lookup fetches the resolved name for an optional id. A nil id is not a
// gap; a present id without a name marks the killmail incomplete.
func lookup(names map[int64]string, id *int64, complete *bool) string {
	if id == nil {
		return ""
	}
	name, ok := names[*id]
	if !ok || name == "" {
		*complete = false
	}
	return name
}

type fetchFunc func(ctx context.Context, id int64) (string, error)

// resolveSet splits ids into cache hits and misses, fetches the misses
// with bounded concurrency, and returns everything it could resolve.
func (e *Enricher) resolveSet(ctx context.Context, namespace string, ids idSet, ttl time.Duration, fetch fetchFunc) map[int64]string {
	resolved := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return resolved
	}

	var misses []int64
	for id := range ids {
		key := strconv.FormatInt(id, 10)
		if v, err := e.cache.Get(namespace, key); err == nil {
			if name, ok := v.(string); ok {
				resolved[id] = name
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return resolved
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for _, id := range misses {
		g.Go(func() error {
			name, err := fetch(gctx, id)
			if err != nil {
				if isNotFound(err) {
					// Cache the absence briefly to prevent churn.
					if putErr := e.cache.Put(namespace, strconv.FormatInt(id, 10), "", absentTTL); putErr != nil {
						slog.Debug("Failed to cache absent entity", "namespace", namespace, "id", id)
					}
					return nil
				}
				slog.Warn("Enrichment lookup failed",
					"namespace", namespace, "id", id, "error", err)
				return nil // a single lookup failure never fails the batch
			}

			if putErr := e.cache.Put(namespace, strconv.FormatInt(id, 10), name, ttl); putErr != nil {
				slog.Debug("Failed to cache enrichment result", "namespace", namespace, "id", id)
			}
			mu.Lock()
			resolved[id] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers swallow their own errors

	return resolved
}

func isNotFound(err error) bool {
	var appErr *handlers.AppError
	if errors.As(err, &appErr) {
		return appErr.Type == handlers.ErrorTypeNotFound
	}
	return false
}
