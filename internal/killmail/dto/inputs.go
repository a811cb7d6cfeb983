package dto

// SystemKillsInput queries recent kills for a single system.
type SystemKillsInput struct {
	SystemID   int64 `path:"system_id" doc:"Solar system ID"`
	SinceHours int   `query:"since_hours" default:"1" minimum:"1" maximum:"168" doc:"Lookback window in hours"`
	Limit      int   `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum kills to return"`
}

// BulkSystemKillsInput queries recent kills for several systems at once.
type BulkSystemKillsInput struct {
	Body BulkSystemKillsRequest
}

// BulkSystemKillsRequest is the body of the bulk kills query.
type BulkSystemKillsRequest struct {
	SystemIDs  []int64 `json:"system_ids" required:"true" minItems:"1" maxItems:"100" doc:"Solar system IDs to query"`
	SinceHours int     `json:"since_hours,omitempty" minimum:"1" maximum:"168" doc:"Lookback window in hours (default 1)"`
	Limit      int     `json:"limit,omitempty" minimum:"1" maximum:"1000" doc:"Maximum kills per system (default 100)"`
}

// CachedKillsInput queries the cached kill list for a system.
type CachedKillsInput struct {
	SystemID int64 `path:"system_id" doc:"Solar system ID"`
}

// KillmailInput fetches a single killmail by ID.
type KillmailInput struct {
	KillmailID int64 `path:"killmail_id" doc:"Killmail ID"`
}

// KillCountInput queries the retained kill count for a system.
type KillCountInput struct {
	SystemID int64 `path:"system_id" doc:"Solar system ID"`
}
