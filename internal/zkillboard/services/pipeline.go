package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"log/slog"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	killmailServices "github.com/guarzo/wanderer-kills/internal/killmail/services"
	"github.com/guarzo/wanderer-kills/internal/zkillboard/dto"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

// Pipeline turns raw RedisQ packages into enriched, stored killmails:
// normalize, complete partials, validate, apply the age cutoff,
// de-duplicate, enrich, store.
type Pipeline struct {
	killmails esi.KillmailClient
	enricher  *killmailServices.Enricher
	store     *killmailServices.EventStore
	cache     *cache.NamespacedCache
	cutoffAge time.Duration
	cacheCfg  config.CacheConfig
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(
	killmails esi.KillmailClient,
	enricher *killmailServices.Enricher,
	store *killmailServices.EventStore,
	c *cache.NamespacedCache,
	cutoffAge time.Duration,
	cacheCfg config.CacheConfig,
) *Pipeline {
	return &Pipeline{
		killmails: killmails,
		enricher:  enricher,
		store:     store,
		cache:     c,
		cutoffAge: cutoffAge,
		cacheCfg:  cacheCfg,
	}
}

// fieldAliases maps the field-name variants the upstream feeds use to
// their canonical form.
var fieldAliases = map[string]string{
	"killID":        "killmail_id",
	"killId":        "killmail_id",
	"killmail_time": "kill_time",
	"killTime":      "kill_time",
	"solarSystemID": "solar_system_id",
	"solar_system":  "solar_system_id",
}

// Normalize canonicalizes the field-name variants the upstream feeds use.
// It is idempotent, and a canonical key present in the input always wins
// over its alias.
func Normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		canonical, aliased := fieldAliases[key]
		if !aliased {
			out[key] = value
			continue
		}
		if _, exists := raw[canonical]; exists {
			continue
		}
		out[canonical] = value
	}
	return out
}

// Skip reasons returned by Process. A skip is not an error: the package
// was well-formed but intentionally not stored.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipDuplicate SkipReason = "duplicate"
	SkipTooOld    SkipReason = "too_old"
)

// Process ingests one RedisQ package. It returns the stored killmail, a
// skip reason when the package was intentionally dropped, or an error for
// malformed or unfetchable packages.
func (p *Pipeline) Process(ctx context.Context, pkg *dto.RedisQPackage) (*killmailModels.Killmail, SkipReason, error) {
	km, skip, err := p.prepare(ctx, pkg)
	if km == nil {
		return nil, skip, err
	}

	p.enricher.EnrichBatch(ctx, []*killmailModels.Killmail{km})
	if !km.EnrichmentComplete {
		metrics.EnrichmentFailed.Inc()
	}

	p.cacheKillmail(km)
	p.store.Insert(km.SolarSystemID, km)
	return km, SkipNone, nil
}

// ProcessBatch ingests a batch of RedisQ packages. Every package runs
// the validation stages, the survivors share one enrichment call, then
// the whole set is stored and published as one batch. Per-package
// failures and skips are counted and logged; they never fail the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, pkgs []*dto.RedisQPackage) []*killmailModels.Killmail {
	seen := make(map[int64]struct{}, len(pkgs))
	survivors := make([]*killmailModels.Killmail, 0, len(pkgs))

	for _, pkg := range pkgs {
		if pkg != nil && pkg.KillID > 0 {
			if _, dup := seen[pkg.KillID]; dup {
				metrics.KillmailsReceived.Inc()
				metrics.KillmailsDuplicate.Inc()
				continue
			}
		}

		km, skip, err := p.prepare(ctx, pkg)
		if err != nil {
			slog.Warn("Dropping malformed killmail package", "error", err)
			continue
		}
		if skip != SkipNone || km == nil {
			continue
		}
		seen[km.KillmailID] = struct{}{}
		survivors = append(survivors, km)
	}

	if len(survivors) == 0 {
		return nil
	}

	p.enricher.EnrichBatch(ctx, survivors)
	for _, km := range survivors {
		if !km.EnrichmentComplete {
			metrics.EnrichmentFailed.Inc()
		}
		p.cacheKillmail(km)
	}

	p.store.InsertBatch(survivors)
	return survivors
}

// prepare runs every pipeline stage before enrichment: dedup, partial
// completion, normalization, validation, and the age cutoff. It returns
// the built killmail, or nil with the skip reason or error.
func (p *Pipeline) prepare(ctx context.Context, pkg *dto.RedisQPackage) (*killmailModels.Killmail, SkipReason, error) {
	if pkg == nil {
		return nil, SkipNone, handlers.ValidationError("nil killmail package")
	}
	metrics.KillmailsReceived.Inc()

	if pkg.KillID <= 0 {
		metrics.KillmailsInvalid.Inc()
		return nil, SkipNone, handlers.ValidationError("killmail package missing kill id")
	}

	// Dedup before any fetch work.
	key := strconv.FormatInt(pkg.KillID, 10)
	if _, err := p.cache.Get(cache.NamespaceKillmails, key); err == nil {
		metrics.KillmailsDuplicate.Inc()
		return nil, SkipDuplicate, nil
	}

	body := pkg.Killmail
	if isEmptyJSON(body) {
		// Partial package: only the id and hash arrived. Fetch the body.
		if pkg.ZKB.Hash == "" {
			metrics.KillmailsInvalid.Inc()
			return nil, SkipNone, handlers.ValidationError("partial killmail package without hash")
		}
		fetched, err := p.killmails.GetKillmail(ctx, pkg.KillID, pkg.ZKB.Hash)
		if err != nil {
			return nil, SkipNone, err
		}
		body = fetched
	}

	wire, err := decodeWireKillmail(body)
	if err != nil {
		metrics.KillmailsInvalid.Inc()
		return nil, SkipNone, err
	}
	if wire.KillmailID == 0 {
		wire.KillmailID = pkg.KillID
	}

	if err := validateWire(wire); err != nil {
		metrics.KillmailsInvalid.Inc()
		return nil, SkipNone, err
	}

	if p.cutoffAge > 0 && time.Since(wire.KillTime) > p.cutoffAge {
		metrics.KillmailsSkippedOld.Inc()
		return nil, SkipTooOld, nil
	}

	return buildKillmail(wire, &pkg.ZKB), SkipNone, nil
}

func (p *Pipeline) cacheKillmail(km *killmailModels.Killmail) {
	key := strconv.FormatInt(km.KillmailID, 10)
	if err := p.cache.Put(cache.NamespaceKillmails, key, km, p.cacheCfg.KillmailsTTL); err != nil {
		slog.Warn("Failed to cache killmail", "killmail_id", km.KillmailID, "error", err)
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	switch string(raw) {
	case "null", "{}", `""`:
		return true
	}
	return false
}

// decodeWireKillmail normalizes field-name variants and decodes the
// canonical form.
func decodeWireKillmail(body json.RawMessage) (*dto.WireKillmail, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, handlers.ValidationError("malformed killmail body")
	}

	canonical, err := json.Marshal(Normalize(raw))
	if err != nil {
		return nil, handlers.InternalError("failed to re-encode killmail body", err)
	}

	var wire dto.WireKillmail
	if err := json.Unmarshal(canonical, &wire); err != nil {
		return nil, handlers.ValidationError("killmail body has unexpected field types")
	}
	return &wire, nil
}

func validateWire(wire *dto.WireKillmail) error {
	switch {
	case wire.KillmailID <= 0:
		return handlers.ValidationError("killmail missing id")
	case wire.SolarSystemID <= 0:
		return handlers.ValidationError("killmail missing solar system id")
	case wire.KillTime.IsZero():
		return handlers.ValidationError("killmail missing kill time")
	case wire.Victim.ShipTypeID <= 0:
		return handlers.ValidationError("killmail victim missing ship type")
	}

	// A non-empty attacker list carries exactly one final blow.
	if len(wire.Attackers) > 0 {
		finalBlows := 0
		for _, att := range wire.Attackers {
			if att.FinalBlow {
				finalBlows++
			}
		}
		if finalBlows != 1 {
			return handlers.ValidationError("killmail must have exactly one final blow attacker")
		}
	}
	return nil
}

func buildKillmail(wire *dto.WireKillmail, zkb *dto.ZKBData) *killmailModels.Killmail {
	km := &killmailModels.Killmail{
		KillmailID:    wire.KillmailID,
		KillTime:      wire.KillTime.UTC(),
		SolarSystemID: wire.SolarSystemID,
		Victim: killmailModels.Victim{
			CharacterID:   wire.Victim.CharacterID,
			CorporationID: wire.Victim.CorporationID,
			AllianceID:    wire.Victim.AllianceID,
			ShipTypeID:    wire.Victim.ShipTypeID,
			DamageTaken:   wire.Victim.DamageTaken,
		},
	}

	km.Attackers = make([]killmailModels.Attacker, 0, len(wire.Attackers))
	for _, att := range wire.Attackers {
		km.Attackers = append(km.Attackers, killmailModels.Attacker{
			CharacterID:   att.CharacterID,
			CorporationID: att.CorporationID,
			AllianceID:    att.AllianceID,
			ShipTypeID:    att.ShipTypeID,
			WeaponTypeID:  att.WeaponTypeID,
			DamageDone:    att.DamageDone,
			FinalBlow:     att.FinalBlow,
		})
	}

	if zkb != nil && zkb.Hash != "" {
		meta := &killmailModels.ZKBMetadata{
			Hash:       zkb.Hash,
			TotalValue: zkb.TotalValue,
			Points:     zkb.Points,
			NPC:        zkb.NPC,
			Solo:       zkb.Solo,
			Awox:       zkb.Awox,
		}
		if zkb.LocationID > 0 {
			loc := zkb.LocationID
			meta.LocationID = &loc
		}
		km.ZKB = meta
	}

	return km
}
