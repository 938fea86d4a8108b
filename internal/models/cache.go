// Package models defines the entities mirrored by the client-side cache and
// the records persisted for gateway sessions and credentials.
package models

// PresenceStatus is the availability a user advertises
type PresenceStatus string

// Presence status constants
const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceDND     PresenceStatus = "dnd"
	PresenceOffline PresenceStatus = "offline"
)

// IsValid reports whether the status is one the gateway understands
func (s PresenceStatus) IsValid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// Presence is a user's status plus an optional custom text
type Presence struct {
	Status PresenceStatus `json:"status"`
	Text   *string        `json:"text"`
}

// OfflinePresence returns the presence used when the gateway reports none
func OfflinePresence() Presence {
	return Presence{Status: PresenceOffline, Text: nil}
}

// RawUser is the identity returned by the REST API
type RawUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// GatewayUser is a user as delivered in the READY snapshot
type GatewayUser struct {
	RawUser
	Presence Presence `json:"presence"`
}

// User is a cached user. Partial users only carry identity fields and are
// resolved by an explicit fetch.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Partial  bool     `json:"partial"`
	Presence Presence `json:"presence"`
}

// RequestDirection tells whether a friend request was sent or received
type RequestDirection string

// Friend request directions, as they appear on the wire
const (
	RequestIncoming RequestDirection = "INCOMING"
	RequestOutgoing RequestDirection = "OUTGOING"
)

// FriendRequest is a pending friend request
type FriendRequest struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Direction RequestDirection `json:"direction"`
}

// Counterpart returns the id of the other user in the request
func (r FriendRequest) Counterpart() string {
	if r.Direction == RequestIncoming {
		return r.From
	}
	return r.To
}

// SamePair reports whether both requests link the same two users in the same direction
func (r FriendRequest) SamePair(o FriendRequest) bool {
	if r.Direction != o.Direction {
		return false
	}
	return (r.From == o.From && r.To == o.To) || (r.From == o.To && r.To == o.From)
}

// HydrationState tracks which lists have been loaded from the REST API
type HydrationState struct {
	Friends bool `json:"friends"`
	Blocked bool `json:"blocked"`
}
