package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// MockGatewayServer speaks the gateway protocol over a real WebSocket. It
// greets every connection with HELLO, answers heartbeats and replies to a
// valid IDENTIFY with READY. Frames are built as raw JSON so the client
// codec is exercised end to end.
type MockGatewayServer struct {
	Server *httptest.Server

	upgrader websocket.Upgrader
	token    string
	interval time.Duration

	mu          sync.Mutex
	conns       []*mockConn
	sessionID   string
	users       []models.GatewayUser
	acks        bool
	connections int
	identifies  int
	heartbeats  int
	received    []json.RawMessage
}

type mockConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *mockConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *mockConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// NewMockGatewayServer starts a gateway that accepts token and sends the
// given heartbeat interval in HELLO
func NewMockGatewayServer(token string, interval time.Duration) *MockGatewayServer {
	m := &MockGatewayServer{
		token:     token,
		interval:  interval,
		sessionID: "mock_session",
		acks:      true,
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the ws:// endpoint of the server
func (m *MockGatewayServer) URL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http")
}

// Close closes every connection and the server
func (m *MockGatewayServer) Close() {
	m.CloseAll(websocket.CloseGoingAway, "server shutdown")
	m.Server.Close()
}

// SetReadyUsers sets the users sent in READY
func (m *MockGatewayServer) SetReadyUsers(users ...models.GatewayUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
}

// SetHeartbeatAcks toggles whether heartbeats are acknowledged
func (m *MockGatewayServer) SetHeartbeatAcks(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = enabled
}

// Push sends a raw frame to every open connection
func (m *MockGatewayServer) Push(frame string) {
	for _, c := range m.snapshotConns() {
		_ = c.write([]byte(frame))
	}
}

// CloseAll closes every open connection with code
func (m *MockGatewayServer) CloseAll(code int, reason string) {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()

	for _, c := range conns {
		c.close(code, reason)
	}
}

// Connections returns how many connections were accepted
func (m *MockGatewayServer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

// Identifies returns how many IDENTIFY frames were received
func (m *MockGatewayServer) Identifies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identifies
}

// Heartbeats returns how many HEARTBEAT frames were received
func (m *MockGatewayServer) Heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

// Received returns every frame the server read, in order
func (m *MockGatewayServer) Received() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockGatewayServer) snapshotConns() []*mockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*mockConn, len(m.conns))
	copy(out, m.conns)
	return out
}

func (m *MockGatewayServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &mockConn{conn: ws}

	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.connections++
	m.mu.Unlock()

	hello, _ := json.Marshal(map[string]interface{}{
		"op": 1,
		"dt": map[string]interface{}{"interval": m.interval.Milliseconds(), "jitter": 0},
	})
	if err := conn.write(hello); err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Op int `json:"op"`
			Dt struct {
				Token string `json:"token"`
			} `json:"dt"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.close(4002, "invalid payload")
			return
		}

		m.mu.Lock()
		m.received = append(m.received, json.RawMessage(data))
		acks := m.acks
		m.mu.Unlock()

		switch frame.Op {
		case 4:
			m.mu.Lock()
			m.heartbeats++
			m.mu.Unlock()
			if acks {
				_ = conn.write([]byte(`{"op":5}`))
			}
		case 2:
			m.mu.Lock()
			m.identifies++
			users := m.users
			sessionID := m.sessionID
			m.mu.Unlock()

			if frame.Dt.Token != m.token {
				conn.close(4006, "invalid authentication")
				return
			}
			if users == nil {
				users = []models.GatewayUser{}
			}
			ready, _ := json.Marshal(map[string]interface{}{
				"op": 3,
				"dt": map[string]interface{}{"id": sessionID, "users": users},
			})
			_ = conn.write(ready)
		}
	}
}
