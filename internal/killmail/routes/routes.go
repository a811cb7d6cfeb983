package routes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/killmail/dto"
	"github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/internal/killmail/services"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
)

// Routes handles the killmail read endpoints.
type Routes struct {
	store    *services.EventStore
	cache    *cache.NamespacedCache
	cacheCfg config.CacheConfig
}

// NewRoutes creates a new Routes instance.
func NewRoutes(store *services.EventStore, c *cache.NamespacedCache, cacheCfg config.CacheConfig) *Routes {
	return &Routes{store: store, cache: c, cacheCfg: cacheCfg}
}

// RegisterRoutes registers all killmail routes.
func (r *Routes) RegisterRoutes(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemKills",
		Method:      http.MethodGet,
		Path:        basePath + "/kills/system/{system_id}",
		Summary:     "Get recent kills for a system",
		Description: "Returns retained killmails for a solar system within the lookback window",
		Tags:        []string{"Kills"},
	}, r.GetSystemKills)

	huma.Register(api, huma.Operation{
		OperationID: "getBulkSystemKills",
		Method:      http.MethodPost,
		Path:        basePath + "/kills/systems",
		Summary:     "Get recent kills for multiple systems",
		Description: "Returns retained killmails grouped per requested solar system",
		Tags:        []string{"Kills"},
	}, r.GetBulkSystemKills)

	huma.Register(api, huma.Operation{
		OperationID: "getCachedKills",
		Method:      http.MethodGet,
		Path:        basePath + "/kills/cached/{system_id}",
		Summary:     "Get cached kills for a system",
		Description: "Returns killmails still inside the short-lived kill cache window. Served from the in-memory event store, windowed to the kill cache TTL.",
		Tags:        []string{"Kills"},
	}, r.GetCachedKills)

	huma.Register(api, huma.Operation{
		OperationID: "getKillmail",
		Method:      http.MethodGet,
		Path:        basePath + "/killmail/{killmail_id}",
		Summary:     "Get a killmail by ID",
		Tags:        []string{"Kills"},
	}, r.GetKillmail)

	huma.Register(api, huma.Operation{
		OperationID: "getSystemKillCount",
		Method:      http.MethodGet,
		Path:        basePath + "/kills/count/{system_id}",
		Summary:     "Get the retained kill count for a system",
		Tags:        []string{"Kills"},
	}, r.GetSystemKillCount)
}

func recordsToKills(records []models.EventRecord) []models.Killmail {
	kills := make([]models.Killmail, 0, len(records))
	for _, record := range records {
		kills = append(kills, *record.Killmail)
	}
	return kills
}

// GetSystemKills returns retained kills for one system.
func (r *Routes) GetSystemKills(ctx context.Context, input *dto.SystemKillsInput) (*dto.SystemKillsOutput, error) {
	since := time.Now().Add(-time.Duration(input.SinceHours) * time.Hour)
	records := r.store.RecentForSystem(input.SystemID, since, input.Limit)

	return &dto.SystemKillsOutput{
		Body: dto.SystemKillsResponse{
			SystemID:  input.SystemID,
			Kills:     recordsToKills(records),
			Count:     len(records),
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// GetBulkSystemKills returns retained kills grouped per system.
func (r *Routes) GetBulkSystemKills(ctx context.Context, input *dto.BulkSystemKillsInput) (*dto.BulkSystemKillsOutput, error) {
	sinceHours := input.Body.SinceHours
	if sinceHours <= 0 {
		sinceHours = 1
	}
	limit := input.Body.Limit
	if limit <= 0 {
		limit = 100
	}
	since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)

	systems := make(map[string][]models.Killmail, len(input.Body.SystemIDs))
	for _, systemID := range input.Body.SystemIDs {
		records := r.store.RecentForSystem(systemID, since, limit)
		systems[strconv.FormatInt(systemID, 10)] = recordsToKills(records)
	}

	return &dto.BulkSystemKillsOutput{
		Body: dto.BulkSystemKillsResponse{
			Systems:   systems,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// GetCachedKills returns kills still inside the short kill-cache window.
func (r *Routes) GetCachedKills(ctx context.Context, input *dto.CachedKillsInput) (*dto.SystemKillsOutput, error) {
	since := time.Now().Add(-r.cacheCfg.KillmailsTTL)
	records := r.store.RecentForSystem(input.SystemID, since, 0)

	return &dto.SystemKillsOutput{
		Body: dto.SystemKillsResponse{
			SystemID:  input.SystemID,
			Kills:     recordsToKills(records),
			Count:     len(records),
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// GetKillmail returns a single killmail from the kill cache.
func (r *Routes) GetKillmail(ctx context.Context, input *dto.KillmailInput) (*dto.KillmailOutput, error) {
	v, err := r.cache.Get(cache.NamespaceKillmails, strconv.FormatInt(input.KillmailID, 10))
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("killmail %d not found", input.KillmailID))
	}

	km, ok := v.(*models.Killmail)
	if !ok {
		return nil, huma.Error500InternalServerError("unexpected cache entry type")
	}
	return &dto.KillmailOutput{Body: *km}, nil
}

// GetSystemKillCount returns the retained kill count for a system.
func (r *Routes) GetSystemKillCount(ctx context.Context, input *dto.KillCountInput) (*dto.KillCountOutput, error) {
	return &dto.KillCountOutput{
		Body: dto.KillCountResponse{
			SystemID: input.SystemID,
			Count:    r.store.CountForSystem(input.SystemID),
		},
	}, nil
}
