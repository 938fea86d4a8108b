// Package auth logs the client in and out of the REST API and keeps the
// resulting session credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/api"
	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// ErrNotLoggedIn is returned when no session is stored
var ErrNotLoggedIn = errors.New("auth: not logged in")

// SessionAPI is the REST surface used for logging in and out
type SessionAPI interface {
	CreateSession(ctx context.Context, email, password string) (api.Session, error)
	DeleteSession(ctx context.Context, id string) error
	GetCurrentUser(ctx context.Context) (models.Account, error)
	SetToken(token string)
}

// Gateway is the part of the gateway client touched on logout
type Gateway interface {
	State() gateway.State
	Disconnect(code gateway.CloseCode)
}

// Manager issues and revokes API sessions for one profile
type Manager struct {
	api     SessionAPI
	store   CredentialStore
	profile string
	logger  *zap.Logger

	mu      sync.RWMutex
	gateway Gateway
	current *models.Credential
}

// NewManager creates a session manager
func NewManager(sessionAPI SessionAPI, store CredentialStore, profile string, logger *zap.Logger) *Manager {
	return &Manager{
		api:     sessionAPI,
		store:   store,
		profile: profile,
		logger:  logger.Named("auth"),
	}
}

// AttachGateway sets the gateway that LogOut disconnects
func (m *Manager) AttachGateway(gw Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateway = gw
}

// LogIn creates a session, resolves the account and stores the credential
func (m *Manager) LogIn(ctx context.Context, email, password string) (*models.Credential, error) {
	session, err := m.api.CreateSession(ctx, email, password)
	if err != nil {
		m.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	m.api.SetToken(session.Token)

	account, err := m.api.GetCurrentUser(ctx)
	if err != nil {
		m.api.SetToken("")
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	cred := &models.Credential{
		Profile:   m.profile,
		SessionID: session.ID,
		Token:     session.Token,
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	m.setCurrent(cred)
	m.logger.Info("logged in",
		zap.String("account_id", account.ID),
		zap.String("session_id", session.ID),
	)
	return cred, nil
}

// Restore loads the stored credential and applies its token
func (m *Manager) Restore(ctx context.Context) (*models.Credential, error) {
	cred, err := m.store.Load(ctx, m.profile)
	if err != nil {
		return nil, err
	}
	if !cred.LoggedIn() {
		return nil, ErrNotLoggedIn
	}

	m.api.SetToken(cred.Token)
	m.setCurrent(cred)
	m.logger.Debug("restored credential", zap.String("session_id", cred.SessionID))
	return cred, nil
}

// LogOut disconnects the gateway, revokes the session and forgets the
// credential. The local credential is cleared even when revocation fails.
func (m *Manager) LogOut(ctx context.Context) error {
	cred := m.Current()
	if cred == nil {
		loaded, err := m.store.Load(ctx, m.profile)
		if err != nil {
			return err
		}
		cred = loaded
		m.api.SetToken(cred.Token)
	}

	m.mu.RLock()
	gw := m.gateway
	m.mu.RUnlock()
	if gw != nil && gw.State().Status != gateway.StatusDisconnected {
		gw.Disconnect(gateway.CloseNormalClosure)
	}

	revokeErr := m.api.DeleteSession(ctx, cred.SessionID)
	if revokeErr != nil {
		m.logger.Warn("failed to revoke session", zap.String("session_id", cred.SessionID), zap.Error(revokeErr))
	}

	m.api.SetToken("")
	m.setCurrent(nil)
	if err := m.store.Delete(ctx, m.profile); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	m.logger.Info("logged out", zap.String("session_id", cred.SessionID))
	if revokeErr != nil {
		return fmt.Errorf("failed to revoke session: %w", revokeErr)
	}
	return nil
}

// FetchUser returns the logged-in account
func (m *Manager) FetchUser(ctx context.Context) (models.Account, error) {
	if m.Current() == nil {
		return models.Account{}, ErrNotLoggedIn
	}
	return m.api.GetCurrentUser(ctx)
}

// Current returns the active credential, or nil
func (m *Manager) Current() *models.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	cred := *m.current
	return &cred
}

func (m *Manager) setCurrent(cred *models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred == nil {
		m.current = nil
		return
	}
	c := *cred
	m.current = &c
}
