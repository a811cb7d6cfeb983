package models

import (
	"time"
)

// Transport selects how a subscription receives its killmails.
type Transport string

const (
	// TransportChannel delivers over a live websocket channel.
	TransportChannel Transport = "channel"
	// TransportWebhook delivers by POSTing to a callback URL.
	TransportWebhook Transport = "webhook"
)

// Subscription is a standing filter over the killmail stream. A
// subscription matches a killmail when the kill's system is in SystemIDs
// or any involved character is in CharacterIDs; the two filters are a
// union, never an intersection.
type Subscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	SystemIDs    []int64   `json:"system_ids"`
	CharacterIDs []int64   `json:"character_ids"`
	Transport    Transport `json:"transport"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasFilter reports whether at least one filter dimension is non-empty.
// A subscription with no filters would match nothing and is rejected.
func (s *Subscription) HasFilter() bool {
	return len(s.SystemIDs) > 0 || len(s.CharacterIDs) > 0
}

// SystemSet returns the system filter as a set.
func (s *Subscription) SystemSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(s.SystemIDs))
	for _, id := range s.SystemIDs {
		set[id] = struct{}{}
	}
	return set
}

// CharacterSet returns the character filter as a set.
func (s *Subscription) CharacterSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(s.CharacterIDs))
	for _, id := range s.CharacterIDs {
		set[id] = struct{}{}
	}
	return set
}
