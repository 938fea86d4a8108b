package models

import (
	"time"
)

// Account is the logged-in user as returned by GET /users/@me
type Account struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Credential is a stored API session. Token holds the encrypted bearer token
// when persisted and the plaintext token in memory.
type Credential struct {
	Profile   string    `json:"profile"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoggedIn reports whether the credential carries a usable session
func (c *Credential) LoggedIn() bool {
	return c != nil && c.Token != "" && c.SessionID != ""
}
