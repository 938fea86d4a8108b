package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

func TestSaveCredential_Success(t *testing.T) {
	skipWithoutDocker(t)

	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	cred := &models.Credential{
		Profile:   "default",
		SessionID: "sess_1",
		Token:     "encrypted_token",
		AccountID: "u0",
		Email:     "me@example.com",
		Username:  "me",
	}
	require.NoError(t, db.SaveCredential(ctx, cred))
	assert.False(t, cred.CreatedAt.IsZero())

	loaded, err := db.GetCredential(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", loaded.SessionID)
	assert.Equal(t, "encrypted_token", loaded.Token)
	assert.Equal(t, "u0", loaded.AccountID)
	assert.Equal(t, "me", loaded.Username)
}

func TestSaveCredential_Replaces(t *testing.T) {
	skipWithoutDocker(t)

	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, db.SaveCredential(ctx, &models.Credential{Profile: "default", SessionID: "a", Token: "t1"}))
	require.NoError(t, db.SaveCredential(ctx, &models.Credential{Profile: "default", SessionID: "b", Token: "t2"}))

	loaded, err := db.GetCredential(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "b", loaded.SessionID)
	assert.Equal(t, "t2", loaded.Token)
}

func TestGetCredential_NotFound(t *testing.T) {
	skipWithoutDocker(t)

	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	cred, err := db.GetCredential(ctx, "missing")

	assert.Nil(t, cred)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCredential(t *testing.T) {
	skipWithoutDocker(t)

	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, db.SaveCredential(ctx, &models.Credential{Profile: "default", SessionID: "a", Token: "t"}))
	require.NoError(t, db.DeleteCredential(ctx, "default"))

	_, err = db.GetCredential(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}
