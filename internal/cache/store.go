// Package cache holds the client-side object cache that gateway events and
// REST lookups keep up to date.
package cache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// API is the REST collaborator used to fill the cache
type API interface {
	GetFriends(ctx context.Context) ([]string, error)
	GetRequests(ctx context.Context) ([]models.FriendRequest, error)
	GetBlocked(ctx context.Context) ([]string, error)
	GetUser(ctx context.Context, id string) (models.RawUser, error)
}

// Snapshot is a point-in-time copy of the cache contents
type Snapshot struct {
	State    models.HydrationState  `json:"state"`
	Users    []models.User          `json:"users"`
	Friends  []string               `json:"friends"`
	Requests []models.FriendRequest `json:"requests"`
	Blocked  []string               `json:"blocked"`
	Channels []models.Channel       `json:"channels"`
}

// Store is the goroutine-safe object cache
type Store struct {
	api    API
	logger *zap.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	state    models.HydrationState
	users    []models.User
	friends  []string
	requests []models.FriendRequest
	blocked  []string
	channels []models.Channel
}

// NewStore creates an empty cache backed by api
func NewStore(api API, logger *zap.Logger) *Store {
	return &Store{
		api:    api,
		logger: logger.Named("cache"),
	}
}

// Get returns the cached user with id
func (s *Store) Get(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOfUser(id); i >= 0 {
		return s.users[i], true
	}
	return models.User{}, false
}

// Fetch returns the user with id, asking the API when it is absent or only
// partially known. Concurrent fetches for one id share a single lookup. The
// shared lookup ignores cancellation of the caller that started it; each
// caller stops waiting when its own ctx is done.
func (s *Store) Fetch(ctx context.Context, id string) (models.User, bool) {
	if user, ok := s.Get(id); ok && !user.Partial {
		s.logger.Debug("user cache hit", zap.String("user_id", id))
		return user, true
	}

	s.logger.Debug("user cache miss", zap.String("user_id", id))

	lookupCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(id, func() (interface{}, error) {
		// another caller may have completed the lookup already
		if user, ok := s.Get(id); ok && !user.Partial {
			return user, nil
		}

		raw, err := s.api.GetUser(lookupCtx, id)
		if err != nil {
			return nil, err
		}

		user := models.User{
			ID:       raw.ID,
			Username: raw.Username,
			Partial:  false,
			Presence: models.OfflinePresence(),
		}
		if user.ID == "" {
			user.ID = id
		}

		s.mu.Lock()
		if i := s.indexOfUser(id); i >= 0 {
			user.Presence = s.users[i].Presence
		}
		s.removeUser(id)
		s.users = append(s.users, user)
		s.mu.Unlock()

		return user, nil
	})

	select {
	case <-ctx.Done():
		s.logger.Debug("user fetch abandoned", zap.String("user_id", id), zap.Error(ctx.Err()))
		return models.User{}, false
	case res := <-ch:
		if res.Err != nil {
			s.logger.Debug("failed to fetch user", zap.String("user_id", id), zap.Error(res.Err))
			return models.User{}, false
		}
		return res.Val.(models.User), true
	}
}

// Prefetch loads the friends, requests and blocked lists. Each list replaces
// the cached one as soon as it arrives.
func (s *Store) Prefetch(ctx context.Context) error {
	friends, err := s.api.GetFriends(ctx)
	if err != nil {
		return fmt.Errorf("failed to prefetch friends: %w", err)
	}
	s.mu.Lock()
	s.friends = dedupe(friends)
	s.mu.Unlock()

	requests, err := s.api.GetRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to prefetch requests: %w", err)
	}
	s.mu.Lock()
	s.requests = s.requests[:0]
	for _, r := range requests {
		if s.indexOfRequest(r) < 0 {
			s.requests = append(s.requests, r)
		}
	}
	s.mu.Unlock()

	blocked, err := s.api.GetBlocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to prefetch blocked users: %w", err)
	}
	s.mu.Lock()
	s.blocked = dedupe(blocked)
	s.state = models.HydrationState{Friends: true, Blocked: true}
	s.mu.Unlock()

	s.logger.Debug("cache prefetched",
		zap.Int("friends", len(friends)),
		zap.Int("requests", len(requests)),
		zap.Int("blocked", len(blocked)),
	)
	return nil
}

// Hydrate stores the users delivered in the READY snapshot as full records
func (s *Store) Hydrate(users []models.GatewayUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		if u.ID == "" {
			continue
		}
		s.removeUser(u.ID)
		s.users = append(s.users, models.User{
			ID:       u.ID,
			Username: u.Username,
			Partial:  false,
			Presence: u.Presence,
		})
	}
}

// SetPresence overwrites a known user's presence. It reports false for an
// unknown user.
func (s *Store) SetPresence(id string, presence models.Presence) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfUser(id)
	if i < 0 {
		return false
	}
	s.users[i].Presence = presence
	return true
}

// AddPartialUser inserts an identity-only placeholder unless id is known
func (s *Store) AddPartialUser(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfUser(id) >= 0 {
		return false
	}
	s.users = append(s.users, models.User{
		ID:       id,
		Partial:  true,
		Presence: models.OfflinePresence(),
	})
	return true
}

// AddFriend adds id to the friends set
func (s *Store) AddFriend(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.friends, id) >= 0 {
		return false
	}
	s.friends = append(s.friends, id)
	return true
}

// RemoveFriend removes id from the friends set
func (s *Store) RemoveFriend(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.friends, id)
	if i < 0 {
		return false
	}
	s.friends = append(s.friends[:i], s.friends[i+1:]...)
	return true
}

// AddRequest records a pending request unless one with the same direction
// and pair exists
func (s *Store) AddRequest(request models.FriendRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfRequest(request) >= 0 {
		return false
	}
	s.requests = append(s.requests, request)
	return true
}

// RemoveRequest removes the first request with the same direction whose
// sender or recipient matches
func (s *Store) RemoveRequest(request models.FriendRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.requests {
		if r.Direction == request.Direction && (r.From == request.From || r.To == request.To) {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			return true
		}
	}
	return false
}

// UpsertChannels adds channels, replacing any with the same id
func (s *Store) UpsertChannels(channels []models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		replaced := false
		for i := range s.channels {
			if s.channels[i].ID == ch.ID {
				s.channels[i] = ch
				replaced = true
				break
			}
		}
		if !replaced {
			s.channels = append(s.channels, ch)
		}
	}
}

// Users returns a copy of the cached users
func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.User(nil), s.users...)
}

// Friends returns a copy of the friends set
func (s *Store) Friends() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.friends...)
}

// Requests returns a copy of the pending requests
func (s *Store) Requests() []models.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FriendRequest(nil), s.requests...)
}

// Blocked returns a copy of the blocked set
func (s *Store) Blocked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.blocked...)
}

// Channels returns a copy of the cached channels
func (s *Store) Channels() []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Channel(nil), s.channels...)
}

// State returns which lists have been loaded
func (s *Store) State() models.HydrationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot copies the whole cache
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:    s.state,
		Users:    append([]models.User{}, s.users...),
		Friends:  append([]string{}, s.friends...),
		Requests: append([]models.FriendRequest{}, s.requests...),
		Blocked:  append([]string{}, s.blocked...),
		Channels: append([]models.Channel{}, s.channels...),
	}
}

// Reset empties the cache
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.HydrationState{}
	s.users = nil
	s.friends = nil
	s.requests = nil
	s.blocked = nil
	s.channels = nil
}

// helpers below expect s.mu to be held

func (s *Store) indexOfUser(id string) int {
	for i := range s.users {
		if s.users[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeUser(id string) {
	kept := s.users[:0]
	for _, u := range s.users {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	s.users = kept
}

func (s *Store) indexOfRequest(request models.FriendRequest) int {
	for i := range s.requests {
		if s.requests[i].SamePair(request) {
			return i
		}
	}
	return -1
}

func indexOf(ids []string, id string) int {
	for i := range ids {
		if ids[i] == id {
			return i
		}
	}
	return -1
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if indexOf(out, id) < 0 {
			out = append(out, id)
		}
	}
	return out
}
