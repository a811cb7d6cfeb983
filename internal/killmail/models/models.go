package models

import "time"

// Killmail is the canonical record for a single ship destruction. It is
// immutable once built by the ingest pipeline; enrichment fills the name
// fields in place before the value is stored.
type Killmail struct {
	KillmailID    int64        `json:"killmail_id"`
	KillTime      time.Time    `json:"kill_time"`
	SolarSystemID int64        `json:"solar_system_id"`
	SystemName    string       `json:"system_name,omitempty"`
	Victim        Victim       `json:"victim"`
	Attackers     []Attacker   `json:"attackers"`
	ZKB           *ZKBMetadata `json:"zkb,omitempty"`

	// EnrichmentComplete is false when one or more name lookups failed;
	// the killmail is stored either way.
	EnrichmentComplete bool `json:"enrichment_complete"`
}

// Victim describes the destroyed ship and its pilot. A nil CharacterID
// means the victim was an NPC.
type Victim struct {
	CharacterID     *int64 `json:"character_id,omitempty"`
	CharacterName   string `json:"character_name,omitempty"`
	CorporationID   *int64 `json:"corporation_id,omitempty"`
	CorporationName string `json:"corporation_name,omitempty"`
	AllianceID      *int64 `json:"alliance_id,omitempty"`
	AllianceName    string `json:"alliance_name,omitempty"`
	ShipTypeID      int64  `json:"ship_type_id"`
	ShipName        string `json:"ship_name,omitempty"`
	DamageTaken     int64  `json:"damage_taken"`
}

// Attacker describes one participant on the killing side.
type Attacker struct {
	CharacterID     *int64 `json:"character_id,omitempty"`
	CharacterName   string `json:"character_name,omitempty"`
	CorporationID   *int64 `json:"corporation_id,omitempty"`
	CorporationName string `json:"corporation_name,omitempty"`
	AllianceID      *int64 `json:"alliance_id,omitempty"`
	AllianceName    string `json:"alliance_name,omitempty"`
	ShipTypeID      *int64 `json:"ship_type_id,omitempty"`
	ShipName        string `json:"ship_name,omitempty"`
	WeaponTypeID    *int64 `json:"weapon_type_id,omitempty"`
	DamageDone      int64  `json:"damage_done"`
	FinalBlow       bool   `json:"final_blow"`
}

// ZKBMetadata carries the zkillboard-specific fields attached to a
// streamed killmail.
type ZKBMetadata struct {
	Hash       string  `json:"hash"`
	TotalValue float64 `json:"total_value"`
	Points     int     `json:"points"`
	NPC        bool    `json:"npc"`
	Solo       bool    `json:"solo"`
	Awox       bool    `json:"awox"`
	LocationID *int64  `json:"location_id,omitempty"`
}

// IsNPC reports whether the victim has no player character.
func (k *Killmail) IsNPC() bool {
	return k.Victim.CharacterID == nil
}

// CharacterIDs returns the de-duplicated set of character ids present in
// the killmail (victim plus attackers).
func (k *Killmail) CharacterIDs() []int64 {
	seen := make(map[int64]struct{}, len(k.Attackers)+1)
	out := make([]int64, 0, len(k.Attackers)+1)

	add := func(id *int64) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		out = append(out, *id)
	}

	add(k.Victim.CharacterID)
	for i := range k.Attackers {
		add(k.Attackers[i].CharacterID)
	}
	return out
}

// EventRecord is a stored killmail with its globally unique sequence.
type EventRecord struct {
	Sequence int64     `json:"sequence"`
	SystemID int64     `json:"system_id"`
	Killmail *Killmail `json:"killmail"`
}
