package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/cache"
	"github.com/parsascontentcorner/discordliteclient/internal/clock"
	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

const (
	testToken   = "test_token"
	waitTimeout = 2 * time.Second
	waitTick    = time.Millisecond
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport hands frames to the client one at a time. reads counts how
// often the reader asked for a frame, so a test can tell that the previous
// frame has been handled.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	reads      int
	closeCalls int
	closeCode  CloseCode
	peerCode   *CloseCode
	closeOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	t.mu.Lock()
	t.reads++
	t.mu.Unlock()

	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.peerCode != nil {
			return nil, &CloseError{Code: *t.peerCode}
		}
		return nil, errTransportClosed
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code CloseCode, _ string) error {
	t.mu.Lock()
	t.closeCalls++
	if t.closeCalls == 1 {
		t.closeCode = code
	}
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// peerClose simulates the server closing the connection with code
func (t *fakeTransport) peerClose(code CloseCode) {
	t.mu.Lock()
	t.peerCode = &code
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *fakeTransport) readCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

func (t *fakeTransport) sentFrames(tb testing.TB) []Frame {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := make([]Frame, 0, len(t.sent))
	for _, data := range t.sent {
		var frame Frame
		require.NoError(tb, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
	}
	return frames
}

func (t *fakeTransport) sentOps(tb testing.TB) []Opcode {
	tb.Helper()
	var ops []Opcode
	for _, f := range t.sentFrames(tb) {
		ops = append(ops, f.Op)
	}
	return ops
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// closedWith returns the code of the first Close call
func (t *fakeTransport) closedWith() CloseCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// fakeDialer returns a fresh fakeTransport per dial unless err is set
type fakeDialer struct {
	mu         sync.Mutex
	err        error
	block      bool
	urls       []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// stubAPI serves the cache's REST lookups from memory
type stubAPI struct {
	mu      sync.Mutex
	friends []string
	users   map[string]models.RawUser
	err     error
}

func (a *stubAPI) GetFriends(context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.friends, a.err
}

func (a *stubAPI) GetRequests(context.Context) ([]models.FriendRequest, error) {
	return nil, nil
}

func (a *stubAPI) GetBlocked(context.Context) ([]string, error) {
	return nil, nil
}

func (a *stubAPI) GetUser(_ context.Context, id string) (models.RawUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[id]
	if !ok {
		return models.RawUser{}, errors.New("unknown user")
	}
	return u, nil
}

// recordingObserver keeps every notification
type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
	ops      []Opcode
	acks     []time.Duration
	closes   []CloseCode
	resumes  []bool
}

func (o *recordingObserver) StatusChanged(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *recordingObserver) FrameReceived(op Opcode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
}

func (o *recordingObserver) HeartbeatAcked(ping time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, ping)
}

func (o *recordingObserver) Closed(code CloseCode, resume bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes = append(o.closes, code)
	o.resumes = append(o.resumes, resume)
}

func (o *recordingObserver) closed() ([]CloseCode, []bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]CloseCode(nil), o.closes...), append([]bool(nil), o.resumes...)
}

func (o *recordingObserver) statusHistory() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.statuses...)
}

// memoryCheckpoints is an in-memory CheckpointStore
type memoryCheckpoints struct {
	mu    sync.Mutex
	saved []models.GatewayCheckpoint
	load  *models.GatewayCheckpoint
}

func (m *memoryCheckpoints) SaveCheckpoint(_ context.Context, cp *models.GatewayCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *cp)
	return nil
}

func (m *memoryCheckpoints) LoadCheckpoint(context.Context, string) (*models.GatewayCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load, nil
}

func (m *memoryCheckpoints) all() []models.GatewayCheckpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GatewayCheckpoint(nil), m.saved...)
}

// harness wires a Client to fakes
type harness struct {
	t        *testing.T
	client   *Client
	clock    *clock.Fake
	dialer   *fakeDialer
	api      *stubAPI
	store    *cache.Store
	observer *recordingObserver
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		URL:            "ws://gateway.test/ws",
		Encoding:       "json",
		Debug:          1,
		TraceLimit:     0,
		HeartbeatGrace: 15 * time.Second,
		DialTimeout:    time.Second,
		Profile:        "test",
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		clock:    clock.NewFake(time.Unix(1700000000, 0)),
		dialer:   &fakeDialer{},
		api:      &stubAPI{users: make(map[string]models.RawUser)},
		observer: &recordingObserver{},
	}
	h.store = cache.NewStore(h.api, zap.NewNop())

	opts = append([]Option{
		WithDialer(h.dialer),
		WithScheduler(h.clock),
		WithObserver(h.observer),
	}, opts...)

	client, err := NewClient(testGatewayConfig(), h.store, zap.NewNop(), opts...)
	require.NoError(t, err)
	h.client = client
	t.Cleanup(func() { _ = client.Close() })
	return h
}

// connect dials and waits until the reader is running
func (h *harness) connect() *fakeTransport {
	h.t.Helper()
	dials := h.dialer.dials()
	require.NoError(h.t, h.client.Connect(context.Background(), testToken))

	var tr *fakeTransport
	require.Eventually(h.t, func() bool {
		if h.dialer.dials() <= dials {
			return false
		}
		tr = h.dialer.last()
		return tr != nil && tr.readCount() > 0
	}, waitTimeout, waitTick)
	return tr
}

// push delivers a raw frame and waits until the client has handled it
func (h *harness) push(tr *fakeTransport, frame string) {
	h.t.Helper()
	before := tr.readCount()
	select {
	case tr.in <- []byte(frame):
	case <-time.After(waitTimeout):
		h.t.Fatalf("client did not read frame %s", frame)
	}
	require.Eventually(h.t, func() bool {
		return tr.readCount() > before || tr.isClosed()
	}, waitTimeout, waitTick)
	h.flush()
}

// flush waits until every closure queued on the loop so far has run
func (h *harness) flush() {
	h.t.Helper()
	require.NoError(h.t, h.client.do(func() {}))
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.flush()
}

func (h *harness) waitStatus(status Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.client.State().Status == status
	}, waitTimeout, waitTick, "status never became %s", status)
	h.flush()
}

// handshake runs HELLO and READY and waits for authentication
func (h *harness) handshake() *fakeTransport {
	h.t.Helper()
	tr := h.connect()
	h.push(tr, `{"op":1,"dt":{"interval":1000,"jitter":0.5}}`)
	h.push(tr, `{"op":3,"dt":{"id":"u1","users":[]}}`)
	h.waitStatus(StatusAuthenticated)
	return tr
}

func hasEvent(state State, prefix string) bool {
	for _, e := range state.Events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}
