package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// AssertCredentialEqual compares the identifying fields of two credentials.
func AssertCredentialEqual(t *testing.T, expected, actual *models.Credential) {
	t.Helper()

	assert.Equal(t, expected.Profile, actual.Profile, "Profile should match")
	assert.Equal(t, expected.SessionID, actual.SessionID, "SessionID should match")
	assert.Equal(t, expected.Token, actual.Token, "Token should match")
	assert.Equal(t, expected.AccountID, actual.AccountID, "AccountID should match")
	assert.Equal(t, expected.Email, actual.Email, "Email should match")
	assert.Equal(t, expected.Username, actual.Username, "Username should match")
}

// AssertUserPresence checks a cached user's status and custom text.
func AssertUserPresence(t *testing.T, user models.User, status models.PresenceStatus, text *string) {
	t.Helper()

	assert.Equal(t, status, user.Presence.Status, "presence status should match")
	if text == nil {
		assert.Nil(t, user.Presence.Text, "presence text should be empty")
		return
	}
	if assert.NotNil(t, user.Presence.Text, "presence text should be set") {
		assert.Equal(t, *text, *user.Presence.Text, "presence text should match")
	}
}

// AssertTimeAlmostEqual checks if two times are within a specified delta.
// Useful for timestamp comparisons where exact equality isn't expected.
func AssertTimeAlmostEqual(t *testing.T, expected, actual time.Time, delta time.Duration) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.True(t, diff <= delta,
		"times should be within %v of each other, but differ by %v (expected: %v, actual: %v)",
		delta, diff, expected, actual)
}
