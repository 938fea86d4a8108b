package gateway

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// Status is the connection lifecycle state
type Status string

// Connection statuses
const (
	StatusDisconnected    Status = "disconnected"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

// HeartbeatState mirrors the heartbeat monitor's observations
type HeartbeatState struct {
	LastSent     time.Time `json:"lastSent,omitempty"`
	LastReceived time.Time `json:"lastReceived,omitempty"`
	Ping         *int64    `json:"ping,omitempty"` // milliseconds
}

// State is a snapshot of the per-connection session
type State struct {
	ID           string          `json:"id,omitempty"`
	Token        string          `json:"-"`
	Status       Status          `json:"status"`
	Sequence     *int64          `json:"sequence,omitempty"`
	ShouldResume bool            `json:"shouldResume"`
	HasFailed    bool            `json:"hasFailed"`
	Presence     models.Presence `json:"presence"`
	Heartbeat    HeartbeatState  `json:"heartbeat"`
	Events       []string        `json:"events"`
}

func (s State) clone() State {
	out := s
	if s.Sequence != nil {
		seq := *s.Sequence
		out.Sequence = &seq
	}
	if s.Heartbeat.Ping != nil {
		ping := *s.Heartbeat.Ping
		out.Heartbeat.Ping = &ping
	}
	if s.Presence.Text != nil {
		text := *s.Presence.Text
		out.Presence.Text = &text
	}
	out.Events = append([]string(nil), s.Events...)
	return out
}

// session guards State. Writes happen on the client loop; readers take
// snapshots from any goroutine.
type session struct {
	mu         sync.RWMutex
	state      State
	debug      int
	traceLimit int
	logger     *zap.Logger
}

func newSession(debug, traceLimit int, logger *zap.Logger) *session {
	return &session{
		state: State{
			Status:   StatusDisconnected,
			Presence: models.OfflinePresence(),
			Events:   []string{},
		},
		debug:      debug,
		traceLimit: traceLimit,
		logger:     logger,
	}
}

func (s *session) snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *session) update(fn func(state *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

func (s *session) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

// advance moves the sequence forward; a lower or equal value is ignored
func (s *session) advance(seq int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Sequence == nil || seq > *s.state.Sequence {
		s.state.Sequence = &seq
	}
	return *s.state.Sequence
}

// reset returns the session to disconnected after a close. The sequence
// survives only when the session is to be resumed.
func (s *session) reset(resume bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ID = ""
	s.state.Status = StatusDisconnected
	s.state.ShouldResume = resume
	if !resume {
		s.state.Sequence = nil
	}
	s.state.Presence = models.OfflinePresence()
	s.state.Heartbeat = HeartbeatState{}
}

// trace records a debug event. Level 0 drops it, level 1 retains it and
// level 2 also logs it.
func (s *session) trace(event string) {
	if s.debug <= 0 {
		return
	}

	s.mu.Lock()
	s.state.Events = append(s.state.Events, event)
	if s.traceLimit > 0 && len(s.state.Events) > s.traceLimit {
		drop := len(s.state.Events) - s.traceLimit
		s.state.Events = append(s.state.Events[:0], s.state.Events[drop:]...)
	}
	s.mu.Unlock()

	if s.debug >= 2 {
		s.logger.Debug("gateway trace", zap.String("event", event))
	}
}
