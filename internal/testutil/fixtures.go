package testutil

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// GenerateRawUser creates a REST user with a derived username
func GenerateRawUser(id string) models.RawUser {
	return models.RawUser{ID: id, Username: "user_" + id}
}

// GenerateGatewayUser creates a READY user with the given status
func GenerateGatewayUser(id string, status models.PresenceStatus) models.GatewayUser {
	return models.GatewayUser{
		RawUser:  GenerateRawUser(id),
		Presence: models.Presence{Status: status},
	}
}

// GenerateIncomingRequest creates a request sent by from to the current user
func GenerateIncomingRequest(from, me string) models.FriendRequest {
	return models.FriendRequest{From: from, To: me, Direction: models.RequestIncoming}
}

// GenerateOutgoingRequest creates a request sent by the current user to to
func GenerateOutgoingRequest(me, to string) models.FriendRequest {
	return models.FriendRequest{From: me, To: to, Direction: models.RequestOutgoing}
}

// GenerateCheckpoint creates a resumable checkpoint expiring in 24 hours
func GenerateCheckpoint(profile string) *models.GatewayCheckpoint {
	return &models.GatewayCheckpoint{
		Profile:        profile,
		SessionID:      GenerateSessionID(),
		SequenceNumber: sql.NullInt64{Int64: 1, Valid: true},
		ShouldResume:   true,
		LastCloseCode:  sql.NullInt32{Int32: 1006, Valid: true},
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	}
}

// GenerateExpiredCheckpoint creates a checkpoint that can no longer be resumed
func GenerateExpiredCheckpoint(profile string) *models.GatewayCheckpoint {
	cp := GenerateCheckpoint(profile)
	cp.ExpiresAt = time.Now().UTC().Add(-5 * time.Minute)
	return cp
}

// GenerateCredential creates a logged-in credential for profile
func GenerateCredential(profile string) *models.Credential {
	return &models.Credential{
		Profile:   profile,
		SessionID: GenerateSessionID(),
		Token:     MockToken,
		AccountID: "u0",
		Email:     MockEmail,
		Username:  "me",
	}
}

// GenerateSessionID generates a random session ID (UUID).
func GenerateSessionID() string {
	return uuid.New().String()
}

// GenerateEncryptionKey generates a 32-byte encryption key for testing.
func GenerateEncryptionKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to generate encryption key: %v", err))
	}
	return key
}

// GenerateTestConfig creates a test configuration with valid values.
// Gateway and API URLs point at local placeholders; tests override them
// with their mock servers.
func GenerateTestConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			URL:            "ws://localhost:8080/gateway",
			Encoding:       "json",
			Debug:          1,
			TraceLimit:     1000,
			HeartbeatGrace: 15 * time.Second,
			DialTimeout:    5 * time.Second,
			Profile:        "test",
		},
		API: config.APIConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			Email:         MockEmail,
			Password:      MockPassword,
			EncryptionKey: GenerateEncryptionKey(),
		},
		Database: config.DatabaseConfig{
			Host:           "localhost",
			Port:           "5432",
			User:           "testuser",
			Password:       "testpass",
			Name:           "testdb",
			SSLMode:        "disable",
			MaxOpenConns:   5,
			MaxIdleConns:   2,
			MigrationsPath: "internal/database/migrations",
		},
		Server: config.ServerConfig{
			HTTPPort: "9090",
			GRPCPort: "50051",
			Host:     "localhost",
			Env:      "test",
		},
		Reconnect: config.ReconnectConfig{
			Enabled:         true,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "console",
		},
	}
}
