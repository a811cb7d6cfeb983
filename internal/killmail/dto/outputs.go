package dto

import (
	"time"

	"github.com/guarzo/wanderer-kills/internal/killmail/models"
)

// SystemKillsOutput wraps the kills for a single system.
type SystemKillsOutput struct {
	Body SystemKillsResponse
}

// SystemKillsResponse carries the kills for one system.
type SystemKillsResponse struct {
	SystemID  int64             `json:"system_id" doc:"Solar system ID"`
	Kills     []models.Killmail `json:"kills" doc:"Killmails ordered oldest first"`
	Count     int               `json:"count" doc:"Number of kills returned"`
	Timestamp time.Time         `json:"timestamp" doc:"Server time of the response"`
}

// BulkSystemKillsOutput wraps kills grouped per requested system.
type BulkSystemKillsOutput struct {
	Body BulkSystemKillsResponse
}

// BulkSystemKillsResponse maps each requested system to its kills.
type BulkSystemKillsResponse struct {
	Systems   map[string][]models.Killmail `json:"systems" doc:"Kills keyed by system ID"`
	Timestamp time.Time                    `json:"timestamp" doc:"Server time of the response"`
}

// KillmailOutput wraps a single killmail.
type KillmailOutput struct {
	Body models.Killmail
}

// KillCountOutput wraps the retained kill count for a system.
type KillCountOutput struct {
	Body KillCountResponse
}

// KillCountResponse carries the retained kill count for a system.
type KillCountResponse struct {
	SystemID int64 `json:"system_id" doc:"Solar system ID"`
	Count    int   `json:"count" doc:"Number of retained kills"`
}
