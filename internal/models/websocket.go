package models

import (
	"database/sql"
	"time"
)

// GatewayCheckpoint is the persisted view of a gateway session, kept so that
// resume intent survives a process restart
type GatewayCheckpoint struct {
	ID              int64         `json:"id"`
	Profile         string        `json:"profile"`
	SessionID       string        `json:"session_id"`
	SequenceNumber  sql.NullInt64 `json:"sequence_number"`
	ShouldResume    bool          `json:"should_resume"`
	LastCloseCode   sql.NullInt32 `json:"last_close_code"`
	PingMillis      sql.NullInt64 `json:"ping_ms"`
	LastHeartbeatAt sql.NullTime  `json:"last_heartbeat_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// IsExpired checks if the checkpoint is too old to resume from
func (c *GatewayCheckpoint) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CanResume reports whether a resume may be attempted from this checkpoint
func (c *GatewayCheckpoint) CanResume() bool {
	return c.ShouldResume && c.SessionID != "" && !c.IsExpired()
}
