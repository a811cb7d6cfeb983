package models

import (
	"time"

	"github.com/gorilla/websocket"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
)

// LobbyChannel is the only channel the service exposes.
const LobbyChannel = "killmails:lobby"

// Client actions.
const (
	ActionJoin                  = "join"
	ActionSubscribeSystems      = "subscribe_systems"
	ActionUnsubscribeSystems    = "unsubscribe_systems"
	ActionSubscribeCharacters   = "subscribe_characters"
	ActionUnsubscribeCharacters = "unsubscribe_characters"
)

// Server message types.
const (
	TypeJoined         = "joined"
	TypeSubscribed     = "subscription_updated"
	TypeKillmailUpdate = "killmail_update"
	TypeSystemStats    = "system_stats"
	TypeError          = "error"
)

// ClientMessage is one inbound frame from a websocket client.
type ClientMessage struct {
	Action       string          `json:"action"`
	Channel      string          `json:"channel,omitempty"`
	ClientID     string          `json:"client_id,omitempty"`
	SystemIDs    []int64         `json:"system_ids,omitempty"`
	CharacterIDs []int64         `json:"character_ids,omitempty"`
	Preload      *PreloadRequest `json:"preload,omitempty"`
}

// PreloadRequest tunes the history trickle a client receives on join.
// Omitting it means preload with the server defaults.
type PreloadRequest struct {
	Enabled    bool `json:"enabled"`
	SinceHours int  `json:"since_hours,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// ServerMessage is one outbound frame to a websocket client.
type ServerMessage struct {
	Type           string                    `json:"type"`
	Channel        string                    `json:"channel,omitempty"`
	SubscriptionID string                    `json:"subscription_id,omitempty"`
	SystemID       int64                     `json:"system_id,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
	Kills          []killmailModels.Killmail `json:"kills,omitempty"`
	Stats          []SystemStat              `json:"stats,omitempty"`
	Preload        bool                      `json:"preload,omitempty"`
	Error          *ErrorDetail              `json:"error,omitempty"`
}

// ErrorDetail mirrors the REST error envelope inside a websocket frame.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SystemStat is one entry of a periodic system_stats push.
type SystemStat struct {
	SystemID int64 `json:"system_id"`
	Kills    int   `json:"kills"`
}

// Connection is one live websocket client. Done is closed exactly once,
// when the connection is torn down; Send is never closed so late writers
// cannot panic.
type Connection struct {
	ID             string
	Conn           *websocket.Conn
	Send           chan []byte
	Done           chan struct{}
	SubscriptionID string
	ClientID       string
	CreatedAt      time.Time

	// Preload plan resolved at join time; a zero limit disables preload.
	PreloadWindow time.Duration
	PreloadLimit  int
}
