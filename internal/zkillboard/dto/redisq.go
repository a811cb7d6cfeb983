package dto

import (
	"encoding/json"
	"time"
)

// RedisQResponse is the envelope returned by the zkillboard RedisQ
// endpoint. Package is null when no killmail is waiting.
type RedisQResponse struct {
	Package *RedisQPackage `json:"package"`
}

// RedisQPackage is one killmail package from RedisQ. Killmail may be
// absent; the hash is then used to fetch the full body upstream.
type RedisQPackage struct {
	KillID   int64           `json:"killID"`
	Killmail json.RawMessage `json:"killmail"`
	ZKB      ZKBData         `json:"zkb"`
}

// ZKBData is the zkillboard-specific metadata attached to a package.
type ZKBData struct {
	LocationID     int64   `json:"locationID"`
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fittedValue"`
	DroppedValue   float64 `json:"droppedValue"`
	DestroyedValue float64 `json:"destroyedValue"`
	TotalValue     float64 `json:"totalValue"`
	Points         int     `json:"points"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
	Awox           bool    `json:"awox"`
	Href           string  `json:"href"`
}

// WireKillmail is the canonical killmail body after key normalization.
type WireKillmail struct {
	KillmailID    int64          `json:"killmail_id"`
	KillTime      time.Time      `json:"kill_time"`
	SolarSystemID int64          `json:"solar_system_id"`
	Victim        WireVictim     `json:"victim"`
	Attackers     []WireAttacker `json:"attackers"`
}

// WireVictim is the victim block of a wire killmail.
type WireVictim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int64  `json:"ship_type_id"`
	DamageTaken   int64  `json:"damage_taken"`
}

// WireAttacker is one attacker block of a wire killmail.
type WireAttacker struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
	WeaponTypeID  *int64 `json:"weapon_type_id,omitempty"`
	DamageDone    int64  `json:"damage_done"`
	FinalBlow     bool   `json:"final_blow"`
}
