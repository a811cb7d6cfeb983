package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	killmailServices "github.com/guarzo/wanderer-kills/internal/killmail/services"
	"github.com/guarzo/wanderer-kills/internal/zkillboard/dto"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

type fakeMetadata struct{}

func (fakeMetadata) GetCharacter(context.Context, int64) (*esi.Character, error) {
	return &esi.Character{Name: "Pilot"}, nil
}
func (fakeMetadata) GetCorporation(context.Context, int64) (*esi.Corporation, error) {
	return &esi.Corporation{Name: "Corp"}, nil
}
func (fakeMetadata) GetAlliance(context.Context, int64) (*esi.Alliance, error) {
	return &esi.Alliance{Name: "Alliance"}, nil
}
func (fakeMetadata) GetShipType(context.Context, int64) (*esi.ShipType, error) {
	return &esi.ShipType{Name: "Rifter"}, nil
}
func (fakeMetadata) GetSolarSystem(context.Context, int64) (*esi.SolarSystem, error) {
	return &esi.SolarSystem{Name: "Jita"}, nil
}

type fakeKillmailClient struct {
	calls int
	body  json.RawMessage
	err   error
}

func (f *fakeKillmailClient) GetKillmail(_ context.Context, killmailID int64, hash string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *killmailServices.EventStore
	client   *fakeKillmailClient
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	c, err := cache.New(10_000)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	cacheCfg := config.CacheConfig{
		KillmailsTTL: 5 * time.Minute,
		SystemTTL:    time.Hour,
		ESITTL:       24 * time.Hour,
	}
	store := killmailServices.NewEventStore(10_000, false)
	enricher := killmailServices.NewEnricher(fakeMetadata{}, c, config.EnrichmentConfig{MaxConcurrency: 4}, cacheCfg)
	client := &fakeKillmailClient{}

	return &pipelineFixture{
		pipeline: NewPipeline(client, enricher, store, c, time.Hour, cacheCfg),
		store:    store,
		client:   client,
	}
}

func wireBody(killmailID, systemID int64, killTime time.Time) json.RawMessage {
	body := fmt.Sprintf(`{
		"killmail_id": %d,
		"kill_time": %q,
		"solar_system_id": %d,
		"victim": {"character_id": 90000001, "corporation_id": 1000001, "ship_type_id": 587, "damage_taken": 1200},
		"attackers": [{"character_id": 90000002, "ship_type_id": 17738, "damage_done": 1200, "final_blow": true}]
	}`, killmailID, killTime.Format(time.RFC3339), systemID)
	return json.RawMessage(body)
}

func fullPackage(killmailID, systemID int64, killTime time.Time) *dto.RedisQPackage {
	return &dto.RedisQPackage{
		KillID:   killmailID,
		Killmail: wireBody(killmailID, systemID, killTime),
		ZKB:      dto.ZKBData{Hash: "abc123", TotalValue: 1_000_000, Points: 5},
	}
}

func TestNormalizeCanonicalizesAliases(t *testing.T) {
	raw := map[string]any{
		"killID":        float64(123),
		"killmail_time": "2026-08-24T10:00:00Z",
		"solarSystemID": float64(30000142),
		"victim":        map[string]any{},
	}

	out := Normalize(raw)
	assert.Equal(t, float64(123), out["killmail_id"])
	assert.Equal(t, "2026-08-24T10:00:00Z", out["kill_time"])
	assert.Equal(t, float64(30000142), out["solar_system_id"])
	assert.NotContains(t, out, "killID")
	assert.NotContains(t, out, "solarSystemID")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := map[string]any{
		"killmail_id":     float64(123),
		"kill_time":       "2026-08-24T10:00:00Z",
		"solar_system_id": float64(30000142),
	}

	once := Normalize(raw)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeCanonicalKeyWinsOverAlias(t *testing.T) {
	raw := map[string]any{
		"killmail_id": float64(123),
		"killID":      float64(999),
	}

	out := Normalize(raw)
	assert.Equal(t, float64(123), out["killmail_id"])
}

func TestProcessStoresFullPackage(t *testing.T) {
	f := newPipelineFixture(t)

	km, skip, err := f.pipeline.Process(context.Background(), fullPackage(1001, 30000142, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, SkipNone, skip)

	require.NotNil(t, km)
	assert.Equal(t, int64(1001), km.KillmailID)
	assert.Equal(t, "Jita", km.SystemName)
	assert.Equal(t, "Pilot", km.Victim.CharacterName)
	assert.True(t, km.EnrichmentComplete)
	require.NotNil(t, km.ZKB)
	assert.Equal(t, "abc123", km.ZKB.Hash)

	assert.Equal(t, 1, f.store.CountForSystem(30000142))
	assert.Zero(t, f.client.calls, "a full package needs no upstream fetch")
}

func TestProcessFetchesPartialPackageByHash(t *testing.T) {
	f := newPipelineFixture(t)
	f.client.body = wireBody(1002, 30000142, time.Now().UTC())

	pkg := &dto.RedisQPackage{
		KillID: 1002,
		ZKB:    dto.ZKBData{Hash: "deadbeef"},
	}

	km, skip, err := f.pipeline.Process(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, SkipNone, skip)
	assert.Equal(t, int64(1002), km.KillmailID)
	assert.Equal(t, 1, f.client.calls)
}

func TestProcessPartialWithoutHashIsInvalid(t *testing.T) {
	f := newPipelineFixture(t)

	_, _, err := f.pipeline.Process(context.Background(), &dto.RedisQPackage{KillID: 1003})
	require.Error(t, err)
	assert.Equal(t, handlers.ErrorTypeValidation, handlers.AsAppError(err).Type)
}

func TestProcessSkipsDuplicates(t *testing.T) {
	f := newPipelineFixture(t)
	pkg := fullPackage(1004, 30000142, time.Now().UTC())

	_, _, err := f.pipeline.Process(context.Background(), pkg)
	require.NoError(t, err)

	km, skip, err := f.pipeline.Process(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, SkipDuplicate, skip)
	assert.Nil(t, km)
	assert.Equal(t, 1, f.store.CountForSystem(30000142))
}

func TestProcessSkipsOldKillmails(t *testing.T) {
	f := newPipelineFixture(t)

	km, skip, err := f.pipeline.Process(context.Background(),
		fullPackage(1005, 30000142, time.Now().Add(-2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, SkipTooOld, skip)
	assert.Nil(t, km)
	assert.Zero(t, f.store.CountForSystem(30000142))
}

func TestProcessRejectsMalformedBody(t *testing.T) {
	f := newPipelineFixture(t)

	pkg := &dto.RedisQPackage{
		KillID:   1006,
		Killmail: json.RawMessage(`{"kill_time": "not-a-time"`),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	_, _, err := f.pipeline.Process(context.Background(), pkg)
	require.Error(t, err)
}

func TestProcessRejectsMissingSystem(t *testing.T) {
	f := newPipelineFixture(t)

	body := fmt.Sprintf(`{"killmail_id": 1007, "kill_time": %q, "victim": {"ship_type_id": 587}}`,
		time.Now().UTC().Format(time.RFC3339))
	pkg := &dto.RedisQPackage{
		KillID:   1007,
		Killmail: json.RawMessage(body),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	_, _, err := f.pipeline.Process(context.Background(), pkg)
	require.Error(t, err)
	assert.Equal(t, handlers.ErrorTypeValidation, handlers.AsAppError(err).Type)
}

func TestProcessRejectsMultipleFinalBlows(t *testing.T) {
	f := newPipelineFixture(t)

	body := fmt.Sprintf(`{
		"killmail_id": 1009,
		"kill_time": %q,
		"solar_system_id": 30000142,
		"victim": {"ship_type_id": 587},
		"attackers": [
			{"ship_type_id": 17738, "damage_done": 600, "final_blow": true},
			{"ship_type_id": 17738, "damage_done": 600, "final_blow": true}
		]
	}`, time.Now().UTC().Format(time.RFC3339))
	pkg := &dto.RedisQPackage{
		KillID:   1009,
		Killmail: json.RawMessage(body),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	_, _, err := f.pipeline.Process(context.Background(), pkg)
	require.Error(t, err)
	assert.Equal(t, handlers.ErrorTypeValidation, handlers.AsAppError(err).Type)
	assert.Zero(t, f.store.CountForSystem(30000142))
}

func TestProcessRequiresFinalBlowWhenAttackersPresent(t *testing.T) {
	f := newPipelineFixture(t)

	body := fmt.Sprintf(`{
		"killmail_id": 1010,
		"kill_time": %q,
		"solar_system_id": 30000142,
		"victim": {"ship_type_id": 587},
		"attackers": [{"ship_type_id": 17738, "damage_done": 1200}]
	}`, time.Now().UTC().Format(time.RFC3339))
	pkg := &dto.RedisQPackage{
		KillID:   1010,
		Killmail: json.RawMessage(body),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	_, _, err := f.pipeline.Process(context.Background(), pkg)
	require.Error(t, err)
	assert.Equal(t, handlers.ErrorTypeValidation, handlers.AsAppError(err).Type)
}

func TestProcessAllowsEmptyAttackerList(t *testing.T) {
	f := newPipelineFixture(t)

	body := fmt.Sprintf(`{
		"killmail_id": 1011,
		"kill_time": %q,
		"solar_system_id": 30000142,
		"victim": {"ship_type_id": 587}
	}`, time.Now().UTC().Format(time.RFC3339))
	pkg := &dto.RedisQPackage{
		KillID:   1011,
		Killmail: json.RawMessage(body),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	km, skip, err := f.pipeline.Process(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, SkipNone, skip)
	assert.Empty(t, km.Attackers)
}

type batchPublisher struct {
	mu      sync.Mutex
	batches [][]killmailModels.EventRecord
}

func (p *batchPublisher) PublishKillmail(record killmailModels.EventRecord) {
	p.PublishKillmails([]killmailModels.EventRecord{record})
}

func (p *batchPublisher) PublishKillmails(records []killmailModels.EventRecord) {
	p.mu.Lock()
	p.batches = append(p.batches, records)
	p.mu.Unlock()
}

func TestProcessBatchStoresSurvivorsAndPublishesOnce(t *testing.T) {
	c, err := cache.New(10_000)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	cacheCfg := config.CacheConfig{
		KillmailsTTL: 5 * time.Minute,
		SystemTTL:    time.Hour,
		ESITTL:       24 * time.Hour,
	}
	store := killmailServices.NewEventStore(10_000, true)
	pub := &batchPublisher{}
	store.SetPublisher(pub)
	enricher := killmailServices.NewEnricher(fakeMetadata{}, c, config.EnrichmentConfig{MaxConcurrency: 4}, cacheCfg)
	pipeline := NewPipeline(&fakeKillmailClient{}, enricher, store, c, time.Hour, cacheCfg)

	now := time.Now().UTC()
	stored := pipeline.ProcessBatch(context.Background(), []*dto.RedisQPackage{
		fullPackage(2001, 30000142, now),
		fullPackage(2001, 30000142, now), // same kill id twice in one batch
		{KillID: 2002, Killmail: json.RawMessage(`{"bad"`), ZKB: dto.ZKBData{Hash: "x"}},
		fullPackage(2003, 30002187, now.Add(-2*time.Hour)),
		fullPackage(2004, 30002187, now),
	})

	require.Len(t, stored, 2)
	assert.Equal(t, int64(2001), stored[0].KillmailID)
	assert.Equal(t, int64(2004), stored[1].KillmailID)
	assert.True(t, stored[0].EnrichmentComplete)
	assert.Equal(t, "Jita", stored[0].SystemName)

	assert.Equal(t, 1, store.CountForSystem(30000142))
	assert.Equal(t, 1, store.CountForSystem(30002187))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1, "survivors go out as one combined publish")
	assert.Len(t, pub.batches[0], 2)
}

func TestProcessBatchAllInvalidStoresNothing(t *testing.T) {
	f := newPipelineFixture(t)

	stored := f.pipeline.ProcessBatch(context.Background(), []*dto.RedisQPackage{
		nil,
		{KillID: 0},
		{KillID: 3001, Killmail: json.RawMessage(`{"bad"`), ZKB: dto.ZKBData{Hash: "x"}},
	})
	assert.Empty(t, stored)
	assert.Zero(t, f.store.CountForSystem(30000142))
}

func TestProcessNormalizesAliasedFields(t *testing.T) {
	f := newPipelineFixture(t)

	body := fmt.Sprintf(`{
		"killID": 1008,
		"killmail_time": %q,
		"solarSystemID": 30000142,
		"victim": {"ship_type_id": 587}
	}`, time.Now().UTC().Format(time.RFC3339))
	pkg := &dto.RedisQPackage{
		KillID:   1008,
		Killmail: json.RawMessage(body),
		ZKB:      dto.ZKBData{Hash: "abc"},
	}

	km, skip, err := f.pipeline.Process(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, SkipNone, skip)
	assert.Equal(t, int64(1008), km.KillmailID)
	assert.Equal(t, int64(30000142), km.SolarSystemID)
}
