package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// Credentials and token accepted by the mock API
const (
	MockEmail    = "testuser@example.com"
	MockPassword = "correct-horse"
	MockToken    = "mock_token_123"
)

// MockAPIServer is an httptest server implementing the REST endpoints the
// client uses. Its data can be changed between calls.
type MockAPIServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	friends   []string
	requests  []models.FriendRequest
	blocked   []string
	users     map[string]models.RawUser
	account   models.Account
	sessions  map[string]string // session id -> token
	failures  map[string]int    // path -> status code
	userDelay time.Duration
	calls     map[string]int
}

// NewMockAPIServer starts a mock API with an account and no relationships
func NewMockAPIServer() *MockAPIServer {
	m := &MockAPIServer{
		users:    make(map[string]models.RawUser),
		account:  models.Account{ID: "u0", Email: MockEmail, Username: "me"},
		sessions: make(map[string]string),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/@me/friends", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(m.friends))
	}))
	mux.HandleFunc("GET /users/@me/requests", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		requests := m.requests
		if requests == nil {
			requests = []models.FriendRequest{}
		}
		writeJSON(w, http.StatusOK, requests)
	}))
	mux.HandleFunc("GET /users/@me/blocked", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(m.blocked))
	}))
	mux.HandleFunc("GET /users/@me", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		writeJSON(w, http.StatusOK, m.account)
	}))
	mux.HandleFunc("GET /users/{id}", m.authed(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		delay := m.userDelay
		user, ok := m.users[r.PathValue("id")]
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]string{"error": "Unknown user"})
			return
		}
		writeJSON(w, http.StatusOK, user)
	}))
	mux.HandleFunc("POST /sessions", m.count(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": {"Invalid body"}})
			return
		}

		var problems []string
		if body.Email == "" {
			problems = append(problems, "Email is required")
		}
		if body.Password == "" {
			problems = append(problems, "Password is required")
		}
		if len(problems) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": problems})
			return
		}
		if body.Email != MockEmail || body.Password != MockPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
			return
		}

		id := uuid.NewString()
		m.mu.Lock()
		m.sessions[id] = MockToken
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "token": MockToken})
	}))
	mux.HandleFunc("DELETE /sessions/{id}", m.authed(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := m.sessions[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown session"})
			return
		}
		delete(m.sessions, id)
		w.WriteHeader(http.StatusNoContent)
	}))

	m.Server = httptest.NewServer(mux)
	return m
}

func (m *MockAPIServer) count(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls[r.Method+" "+r.URL.Path]++
		status, fail := m.failures[r.URL.Path]
		m.mu.Unlock()

		if fail {
			if status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "1")
			}
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		next(w, r)
	}
}

func (m *MockAPIServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return m.count(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+MockToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	})
}

// Close closes the mock server
func (m *MockAPIServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// URL returns the server's base URL
func (m *MockAPIServer) URL() string {
	return m.Server.URL
}

// SetFriends replaces the friends list
func (m *MockAPIServer) SetFriends(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends = ids
}

// SetRequests replaces the pending requests
func (m *MockAPIServer) SetRequests(requests ...models.FriendRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = requests
}

// SetBlocked replaces the blocked list
func (m *MockAPIServer) SetBlocked(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = ids
}

// AddUser makes a user resolvable through GET /users/{id}
func (m *MockAPIServer) AddUser(user models.RawUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SetUserDelay slows down user lookups
func (m *MockAPIServer) SetUserDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDelay = d
}

// FailPath makes every request to path answer with status
func (m *MockAPIServer) FailPath(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = status
}

// HasSession reports whether a session id is still valid
func (m *MockAPIServer) HasSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Calls returns how often "METHOD /path" was requested
func (m *MockAPIServer) Calls(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[route]
}

// ResetCallCounts resets the call counters
func (m *MockAPIServer) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
