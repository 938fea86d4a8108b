package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
	"github.com/parsascontentcorner/discordliteclient/internal/supervisor"
	"github.com/parsascontentcorner/discordliteclient/internal/testutil"
)

const waitFor = 5 * time.Second

func awaitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestFlow_LoginConnectEventsLogout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupSuite(t)
	s.api.SetFriends("u1")
	s.api.AddUser(testutil.GenerateRawUser("u7"))
	s.gw.SetReadyUsers(
		testutil.GenerateGatewayUser("u1", models.PresenceOnline),
		testutil.GenerateGatewayUser("u2", models.PresenceAway),
	)

	cred, err := s.manager.LogIn(ctx, testutil.MockEmail, testutil.MockPassword)
	require.NoError(t, err)

	done := s.run(ctx, cred.Token)

	require.Eventually(t, s.gateway.Ready, waitFor, 10*time.Millisecond)
	state := s.gateway.State()
	assert.Equal(t, "mock_session", state.ID)
	assert.Equal(t, models.PresenceOnline, state.Presence.Status)
	assert.Len(t, s.cache.Users(), 2)
	assert.Equal(t, []string{"u1"}, s.cache.Friends())
	assert.Equal(t, models.HydrationState{Friends: true, Blocked: true}, s.cache.State())

	s.gw.Push(`{"op":0,"ev":"PRESENCE_UPDATE","seq":1,"dt":{"userId":"u2","newPresence":{"status":"dnd","text":"busy"}}}`)
	s.gw.Push(`{"op":0,"ev":"REQUEST_CREATE","seq":2,"dt":{"from":"u7","to":"u0","direction":"INCOMING"}}`)

	require.Eventually(t, func() bool {
		user, ok := s.cache.Get("u7")
		return ok && !user.Partial
	}, waitFor, 10*time.Millisecond)
	u2, ok := s.cache.Get("u2")
	require.True(t, ok)
	text := "busy"
	testutil.AssertUserPresence(t, u2, models.PresenceDND, &text)
	assert.Len(t, s.cache.Requests(), 1)
	require.NotNil(t, s.gateway.State().Sequence)
	assert.Equal(t, int64(2), *s.gateway.State().Sequence)

	require.Eventually(t, func() bool { return s.gw.Heartbeats() > 0 }, waitFor, 10*time.Millisecond)

	require.NoError(t, s.manager.LogOut(ctx))

	assert.NoError(t, awaitResult(t, done))
	require.Eventually(t, func() bool {
		return s.gateway.State().Status == gateway.StatusDisconnected
	}, waitFor, 10*time.Millisecond)
	assert.False(t, s.api.HasSession(cred.SessionID))
	assert.Equal(t, 1, s.gw.Connections())
}

func TestFlow_ReconnectAfterServerClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := setupSuite(t)

	done := s.run(ctx, testutil.MockToken)
	require.Eventually(t, s.gateway.Ready, waitFor, 10*time.Millisecond)

	s.gw.Push(`{"op":0,"ev":"TYPING","seq":5,"dt":{}}`)
	require.Eventually(t, func() bool {
		seq := s.gateway.State().Sequence
		return seq != nil && *seq == 5
	}, waitFor, 10*time.Millisecond)

	s.gw.CloseAll(int(gateway.CloseUnknown), "restart")

	require.Eventually(t, func() bool {
		return s.gw.Connections() == 2 && s.gateway.Ready()
	}, waitFor, 10*time.Millisecond)
	assert.True(t, s.hasEvent("Attempting resume (sequence: 5)"))
	assert.Equal(t, 2, s.gw.Identifies())

	cancel()
	assert.ErrorIs(t, awaitResult(t, done), context.Canceled)
}

func TestFlow_InvalidTokenStopsSupervisor(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := setupSuite(t)

	err := awaitResult(t, s.run(context.Background(), "wrong-token"))

	var fatal *supervisor.FatalCloseError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, gateway.CloseInvalidAuthentication, fatal.Code)
	assert.Equal(t, 1, s.gw.Connections())
	assert.False(t, s.gateway.State().ShouldResume)
}
