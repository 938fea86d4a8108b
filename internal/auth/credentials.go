package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parsascontentcorner/discordliteclient/internal/database"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// CredentialStore keeps the API session for a profile. Load returns
// ErrNotLoggedIn when nothing is stored.
type CredentialStore interface {
	Save(ctx context.Context, cred *models.Credential) error
	Load(ctx context.Context, profile string) (*models.Credential, error)
	Delete(ctx context.Context, profile string) error
}

// MemoryStore keeps credentials for the lifetime of the process
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

// NewMemoryStore creates an empty in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]models.Credential)}
}

// Save stores cred under its profile
func (s *MemoryStore) Save(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Profile] = *cred
	return nil
}

// Load returns the credential for profile
func (s *MemoryStore) Load(_ context.Context, profile string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[profile]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return &cred, nil
}

// Delete forgets the credential for profile
func (s *MemoryStore) Delete(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, profile)
	return nil
}

// CredentialDB is the persistence used by DBStore
type CredentialDB interface {
	SaveCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, profile string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, profile string) error
}

// DBStore persists credentials in PostgreSQL with the token encrypted
type DBStore struct {
	db     CredentialDB
	cipher *TokenCipher
}

// NewDBStore creates a credential store over db
func NewDBStore(db CredentialDB, cipher *TokenCipher) *DBStore {
	return &DBStore{db: db, cipher: cipher}
}

// Save encrypts the token and stores the credential
func (s *DBStore) Save(ctx context.Context, cred *models.Credential) error {
	encrypted, err := s.cipher.Encrypt(cred.Token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	stored := *cred
	stored.Token = encrypted
	if err := s.db.SaveCredential(ctx, &stored); err != nil {
		return err
	}

	cred.CreatedAt, cred.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// Load reads and decrypts the credential for profile
func (s *DBStore) Load(ctx context.Context, profile string) (*models.Credential, error) {
	cred, err := s.db.GetCredential(ctx, profile)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}

	token, err := s.cipher.Decrypt(cred.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}
	cred.Token = token
	return cred, nil
}

// Delete removes the credential for profile
func (s *DBStore) Delete(ctx context.Context, profile string) error {
	return s.db.DeleteCredential(ctx, profile)
}
