// Package gateway implements the real-time gateway client: the frame codec,
// session state, heartbeat monitor, connection manager and event dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/clock"
	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

const (
	defaultHeartbeatGrace = 15 * time.Second
	defaultDialTimeout    = 10 * time.Second

	queueSize          = 256
	checkpointQueue    = 16
	checkpointTimeout  = 5 * time.Second
	checkpointLifetime = 24 * time.Hour
)

var (
	// ErrNotConnected is returned when an operation needs an open connection
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrAlreadyConnecting is returned by Connect while another attempt is live
	ErrAlreadyConnecting = errors.New("gateway: connection attempt already in progress")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("gateway: client closed")
)

// Connection is the public contract of the connection manager
type Connection interface {
	Connect(ctx context.Context, token string) error
	Send(frame Frame) error
	Disconnect(code CloseCode)
	State() State
}

// CheckpointStore persists session checkpoints so that resume intent
// survives a restart
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.GatewayCheckpoint) error
	// LoadCheckpoint returns nil, nil when no checkpoint is stored
	LoadCheckpoint(ctx context.Context, profile string) (*models.GatewayCheckpoint, error)
}

// Option configures a Client
type Option func(*Client)

// WithDialer replaces the websocket dialer
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithScheduler replaces the wall-clock scheduler
func WithScheduler(sched clock.Scheduler) Option {
	return func(c *Client) {
		c.sched = sched
	}
}

// WithObserver registers a lifecycle observer
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observers = append(c.observers, observer)
	}
}

// WithCheckpointStore persists checkpoints on READY and on close
func WithCheckpointStore(store CheckpointStore) Option {
	return func(c *Client) {
		c.checkpoints = store
	}
}

type helloPayload struct {
	Interval int64   `json:"interval"` // milliseconds
	Jitter   float64 `json:"jitter"`
}

type identifyPayload struct {
	Token string `json:"token"`
}

type readyPayload struct {
	ID       string               `json:"id"`
	Users    []models.GatewayUser `json:"users"`
	Channels []models.Channel     `json:"channels,omitempty"`
}

type errorPayload struct {
	Code int `json:"code"`
}

// PresenceUpdate changes the local user's presence. Empty fields keep the
// current value.
type PresenceUpdate struct {
	Status    models.PresenceStatus
	Text      *string
	ClearText bool
}

// Client is the connection manager. Every protocol handler runs on a single
// loop goroutine; the transport reader, timers and background work post
// closures onto it. Each connection attempt has an epoch and closures bound
// to an older epoch are dropped.
type Client struct {
	cfg         config.GatewayConfig
	endpoint    string
	codec       Codec
	dialer      Dialer
	sched       clock.Scheduler
	cache       Cache
	dispatcher  *Dispatcher
	observers   []Observer
	checkpoints CheckpointStore
	logger      *zap.Logger

	session   *session
	heartbeat *heartbeat

	ctx          context.Context
	cancel       context.CancelFunc
	queue        chan func()
	done         chan struct{}
	checkpointCh chan *models.GatewayCheckpoint
	closeOnce    sync.Once
	wg           sync.WaitGroup

	transport   Transport
	transportMu sync.RWMutex
	writeMu     sync.Mutex

	// owned by the loop
	epoch          uint64
	live           bool
	attemptID      string
	dialCancel     context.CancelFunc
	closeRequested *CloseCode
	readyPending   bool
	stopped        bool
}

var _ Connection = (*Client)(nil)

// NewClient creates a gateway client. The client's loop runs until Close.
func NewClient(cfg config.GatewayConfig, cache Cache, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}

	codec, err := CodecFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	if cfg.HeartbeatGrace <= 0 {
		cfg.HeartbeatGrace = defaultHeartbeatGrace
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	logger = logger.Named("gateway")
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		codec:    codec,
		dialer:   NewWebSocketDialer(),
		sched:    clock.NewReal(),
		cache:    cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan func(), queueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.session = newSession(cfg.Debug, cfg.TraceLimit, logger)
	c.dispatcher = NewDispatcher(cache, logger)
	c.heartbeat = &heartbeat{
		sched:      c.sched,
		grace:      cfg.HeartbeatGrace,
		session:    c.session,
		logger:     logger,
		bind:       c.bind,
		send:       c.Send,
		disconnect: c.disconnect,
		onAck:      c.notifyAck,
	}

	if c.checkpoints != nil {
		c.checkpointCh = make(chan *models.GatewayCheckpoint, checkpointQueue)
		c.wg.Add(1)
		go c.checkpointWorker()
	}

	go c.run()
	return c, nil
}

// Endpoint returns the URL dialed by Connect
func (c *Client) Endpoint() string {
	return c.endpoint
}

// State returns a snapshot of the session
func (c *Client) State() State {
	return c.session.snapshot()
}

// Ready reports whether the session is authenticated
func (c *Client) Ready() bool {
	return c.session.status() == StatusAuthenticated
}

// Restore loads the stored checkpoint and carries its resume intent into
// the next Connect
func (c *Client) Restore(ctx context.Context) error {
	if c.checkpoints == nil {
		return nil
	}

	checkpoint, err := c.checkpoints.LoadCheckpoint(ctx, c.cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to load gateway checkpoint: %w", err)
	}
	if checkpoint == nil || !checkpoint.CanResume() {
		return nil
	}

	var restoreErr error
	if err := c.do(func() {
		if c.live {
			restoreErr = ErrAlreadyConnecting
			return
		}
		c.session.update(func(s *State) {
			s.ShouldResume = true
			s.Sequence = nil
			if checkpoint.SequenceNumber.Valid {
				seq := checkpoint.SequenceNumber.Int64
				s.Sequence = &seq
			}
		})
		c.session.trace("Restored checkpoint for session " + checkpoint.SessionID)
	}); err != nil {
		return err
	}
	return restoreErr
}

// Connect starts a connection attempt and returns without waiting for it.
// ctx bounds the dial only.
func (c *Client) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}

	var connectErr error
	if err := c.do(func() {
		connectErr = c.connect(ctx, token)
	}); err != nil {
		return err
	}
	return connectErr
}

func (c *Client) connect(ctx context.Context, token string) error {
	if c.live {
		return ErrAlreadyConnecting
	}

	c.live = true
	c.closeRequested = nil
	c.readyPending = false
	c.epoch++
	c.attemptID = uuid.NewString()

	var resume bool
	c.session.update(func(s *State) {
		s.Token = token
		resume = s.ShouldResume
		if !resume {
			s.Sequence = nil
		}
	})

	c.logger.Info("connecting to gateway",
		zap.String("endpoint", c.endpoint),
		zap.String("attempt_id", c.attemptID),
		zap.Bool("resume", resume),
	)
	c.session.trace("Connecting to " + c.endpoint)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	c.dialCancel = cancel

	c.wg.Add(1)
	go c.dial(ctx, cancel, c.epoch)
	return nil
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64) {
	defer c.wg.Done()
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	t, err := c.dialer.Dial(ctx, c.endpoint)
	if err != nil {
		c.deliver(epoch, func() {
			c.dialCancel = nil
			if c.closeRequested != nil {
				c.handleClose(*c.closeRequested)
				return
			}
			c.handleError(err)
			c.handleClose(CloseAbnormal)
		})
		return
	}

	if !c.deliver(epoch, func() { c.handleOpen(t) }) {
		_ = t.Close(CloseGoingAway, "")
	}
}

// Send encodes and writes a frame on the open transport
func (c *Client) Send(frame Frame) error {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return err
	}

	c.transportMu.RLock()
	t := c.transport
	c.transportMu.RUnlock()
	if t == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := t.WriteMessage(data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", frame.Op, err)
	}
	return nil
}

// Disconnect closes the connection with code. The close handler reports
// this code. Calling it again, or without a live connection, does nothing.
func (c *Client) Disconnect(code CloseCode) {
	_ = c.do(func() {
		c.disconnect(code)
	})
}

func (c *Client) disconnect(code CloseCode) {
	if !c.live || c.closeRequested != nil {
		return
	}

	c.closeRequested = &code
	c.heartbeat.stop()
	c.session.trace(fmt.Sprintf("Disconnecting: %d", code))

	t := c.currentTransport()
	if t == nil {
		// still dialing; the dial result completes the close
		if c.dialCancel != nil {
			c.dialCancel()
		}
		return
	}
	if err := t.Close(code, ""); err != nil {
		c.logger.Debug("error closing transport", zap.Error(err))
	}
}

// UpdatePresence sends a presence change and applies it locally
func (c *Client) UpdatePresence(update PresenceUpdate) error {
	if update.Status != "" && !update.Status.IsValid() {
		return fmt.Errorf("invalid presence status: %s", update.Status)
	}

	var updateErr error
	if err := c.do(func() {
		state := c.session.snapshot()
		if state.Status != StatusAuthenticated {
			updateErr = ErrNotConnected
			return
		}

		presence := state.Presence
		if update.Status != "" {
			presence.Status = update.Status
		}
		if update.ClearText {
			presence.Text = nil
		} else if update.Text != nil {
			text := *update.Text
			presence.Text = &text
		}

		frame, err := NewFrame(OpEvent, EventPresenceUpdate, presence)
		if err != nil {
			updateErr = err
			return
		}
		if err := c.Send(frame); err != nil {
			updateErr = err
			return
		}

		c.session.update(func(s *State) {
			s.Presence = presence
		})
		c.session.trace("Updated presence to " + string(presence.Status))
	}); err != nil {
		return err
	}
	return updateErr
}

// Close finishes any live connection, stops the loop and waits for
// background work to finish. A code passed to an earlier Disconnect wins
// over the default normal closure.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(func() {
			if c.live {
				code := CloseNormalClosure
				if c.closeRequested != nil {
					code = *c.closeRequested
				}
				if t := c.currentTransport(); t != nil {
					_ = t.Close(code, "client closed")
				}
				c.handleClose(code)
			}
			c.stopped = true
		})
		c.cancel()
		<-c.done
		if c.checkpointCh != nil {
			close(c.checkpointCh)
		}
		c.wg.Wait()
		c.dispatcher.Wait()
	})
	return nil
}

// Loop plumbing

func (c *Client) run() {
	defer close(c.done)
	for {
		fn := <-c.queue
		fn()
		if c.stopped {
			return
		}
	}
}

func (c *Client) post(fn func()) bool {
	select {
	case c.queue <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the loop and waits for it
func (c *Client) do(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// deliver runs fn on the loop if epoch is still current and reports
// whether it ran
func (c *Client) deliver(epoch uint64, fn func()) bool {
	ran := make(chan bool, 1)
	if !c.post(func() {
		if c.epoch != epoch {
			ran <- false
			return
		}
		fn()
		ran <- true
	}) {
		return false
	}

	select {
	case ok := <-ran:
		return ok
	case <-c.done:
		select {
		case ok := <-ran:
			return ok
		default:
			return false
		}
	}
}

// bind must be called on the loop. The returned function posts fn without
// waiting and drops it if the connection has changed by then.
func (c *Client) bind(fn func()) func() {
	epoch := c.epoch
	return func() {
		c.post(func() {
			if c.epoch == epoch {
				fn()
			}
		})
	}
}

func (c *Client) currentTransport() Transport {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	return c.transport
}

func (c *Client) swapTransport(t Transport) Transport {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	prev := c.transport
	c.transport = t
	return prev
}

func (c *Client) readLoop(epoch uint64, t Transport) {
	defer c.wg.Done()
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.deliver(epoch, func() { c.handleTransportEnd(err) })
			return
		}
		if !c.deliver(epoch, func() { c.handleMessage(data) }) {
			return
		}
	}
}

// Transport events

func (c *Client) handleOpen(t Transport) {
	c.dialCancel = nil
	c.swapTransport(t)

	if c.closeRequested != nil {
		code := *c.closeRequested
		_ = t.Close(code, "")
		c.handleClose(code)
		return
	}

	c.session.update(func(s *State) {
		s.Status = StatusUnauthenticated
	})
	c.session.trace("Connected")
	c.logger.Info("connected to gateway", zap.String("attempt_id", c.attemptID))
	c.notifyStatus(StatusUnauthenticated)

	c.wg.Add(1)
	go c.readLoop(c.epoch, t)
}

func (c *Client) handleTransportEnd(err error) {
	code := CloseAbnormal
	var closeErr *CloseError
	switch {
	case c.closeRequested != nil:
		code = *c.closeRequested
	case errors.As(err, &closeErr):
		code = closeErr.Code
	default:
		c.handleError(err)
	}
	c.handleClose(code)
}

func (c *Client) handleError(err error) {
	c.session.update(func(s *State) {
		s.HasFailed = true
	})
	c.session.trace("Error: " + err.Error())
	c.logger.Error("gateway transport error",
		zap.String("attempt_id", c.attemptID),
		zap.Error(err),
	)
}

func (c *Client) handleClose(code CloseCode) {
	if !c.live {
		return
	}

	state := c.session.snapshot()
	resume := code.Resumable() && (state.Status == StatusAuthenticated || state.ShouldResume)

	c.session.trace(fmt.Sprintf("Closed: %d", code))
	c.logger.Info("gateway connection closed",
		zap.Int("code", int(code)),
		zap.Stringer("reason", code),
		zap.Bool("resume", resume),
	)

	c.heartbeat.reset()
	if t := c.swapTransport(nil); t != nil {
		_ = t.Close(code, "")
	}

	c.live = false
	c.closeRequested = nil
	c.readyPending = false
	c.epoch++

	c.session.reset(resume)
	c.queueCheckpoint(state.ID, state.Sequence, resume, &code, state.Heartbeat)

	for _, o := range c.observers {
		o.Closed(code, resume)
	}
	c.notifyStatus(StatusDisconnected)
}

// Frames

func (c *Client) handleMessage(data []byte) {
	if c.cfg.Debug > 0 {
		c.session.trace("Received: " + string(data))
	}

	frame, err := c.codec.Decode(data)
	if err != nil {
		c.session.trace("Dropped undecodable frame")
		c.logger.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	for _, o := range c.observers {
		o.FrameReceived(frame.Op)
	}

	switch frame.Op {
	case OpEvent:
		if frame.Seq != nil {
			c.session.advance(*frame.Seq)
		}
		c.dispatcher.Dispatch(c.ctx, frame)
	case OpHello:
		c.handleHello(frame)
	case OpReady:
		c.handleReady(frame)
	case OpHeartbeatAck:
		c.heartbeat.ack()
	case OpResumed:
		c.session.trace("Received RESUMED")
	case OpError:
		c.handleServerError(frame)
	default:
		c.logger.Debug("ignoring frame", zap.Stringer("op", frame.Op))
	}
}

func (c *Client) handleHello(frame Frame) {
	var hello helloPayload
	if err := json.Unmarshal(frame.Data, &hello); err != nil || !frame.HasPayload() {
		c.logger.Warn("dropping malformed HELLO", zap.Error(err))
		return
	}
	if hello.Interval <= 0 {
		c.logger.Warn("dropping HELLO with non-positive interval", zap.Int64("interval", hello.Interval))
		return
	}

	jitter := hello.Jitter
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	c.session.trace(fmt.Sprintf("Received HELLO (interval: %d ms)", hello.Interval))
	c.heartbeat.start(time.Duration(hello.Interval)*time.Millisecond, jitter)

	if c.session.snapshot().ShouldResume {
		c.resume()
		return
	}
	c.identify()
}

// resume handles a HELLO received while resume is intended. The protocol
// defines no resume request body, so the session is re-identified from
// scratch and the resume intent is consumed.
func (c *Client) resume() {
	state := c.session.snapshot()
	seq := "none"
	if state.Sequence != nil {
		seq = strconv.FormatInt(*state.Sequence, 10)
	}

	c.session.trace("Attempting resume (sequence: " + seq + ")")
	c.logger.Info("resume intended, identifying with a new session", zap.String("sequence", seq))

	c.session.update(func(s *State) {
		s.ShouldResume = false
		s.Sequence = nil
	})
	c.identify()
}

func (c *Client) identify() {
	state := c.session.snapshot()
	frame, err := NewFrame(OpIdentify, "", identifyPayload{Token: state.Token})
	if err != nil {
		c.logger.Error("failed to build IDENTIFY", zap.Error(err))
		return
	}
	if err := c.Send(frame); err != nil {
		c.logger.Error("failed to send IDENTIFY", zap.Error(err))
		return
	}
	c.session.trace("Sent IDENTIFY")
}

func (c *Client) handleReady(frame Frame) {
	var ready readyPayload
	if err := json.Unmarshal(frame.Data, &ready); err != nil || ready.ID == "" {
		c.logger.Warn("dropping malformed READY", zap.Error(err))
		return
	}
	if c.readyPending || c.session.status() != StatusUnauthenticated {
		c.logger.Warn("ignoring unexpected READY", zap.String("session_id", ready.ID))
		return
	}

	c.readyPending = true
	c.cache.Hydrate(ready.Users)
	if len(ready.Channels) > 0 {
		c.cache.UpsertChannels(ready.Channels)
	}
	c.session.trace(fmt.Sprintf("Received READY (users: %d)", len(ready.Users)))

	epoch := c.epoch
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.cache.Prefetch(c.ctx)
		c.deliver(epoch, func() { c.finishReady(ready.ID, err) })
	}()
}

func (c *Client) finishReady(id string, prefetchErr error) {
	c.readyPending = false
	if prefetchErr != nil {
		c.session.trace("Prefetch failed: " + prefetchErr.Error())
		c.logger.Warn("failed to prefetch cache", zap.Error(prefetchErr))
	}
	if c.session.status() != StatusUnauthenticated {
		return
	}

	c.session.update(func(s *State) {
		s.ID = id
		s.Status = StatusAuthenticated
		s.Presence.Status = models.PresenceOnline
	})
	c.session.trace("Client connected successfully")
	c.logger.Info("gateway session ready", zap.String("session_id", id))
	c.notifyStatus(StatusAuthenticated)

	state := c.session.snapshot()
	c.queueCheckpoint(id, state.Sequence, false, nil, state.Heartbeat)
}

func (c *Client) handleServerError(frame Frame) {
	var payload errorPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		c.logger.Warn("dropping malformed ERROR", zap.Error(err))
		return
	}

	c.session.trace(fmt.Sprintf("Server error: %d", payload.Code))
	c.logger.Warn("gateway reported an error", zap.Int("code", payload.Code))
}

// Observers and persistence

func (c *Client) notifyStatus(status Status) {
	for _, o := range c.observers {
		o.StatusChanged(status)
	}
}

func (c *Client) notifyAck(ping time.Duration) {
	for _, o := range c.observers {
		o.HeartbeatAcked(ping)
	}
}

func (c *Client) queueCheckpoint(id string, seq *int64, resume bool, code *CloseCode, hb HeartbeatState) {
	if c.checkpointCh == nil {
		return
	}

	checkpoint := &models.GatewayCheckpoint{
		Profile:      c.cfg.Profile,
		SessionID:    id,
		ShouldResume: resume,
		ExpiresAt:    time.Now().Add(checkpointLifetime),
	}
	if seq != nil {
		checkpoint.SequenceNumber.Int64, checkpoint.SequenceNumber.Valid = *seq, true
	}
	if code != nil {
		checkpoint.LastCloseCode.Int32, checkpoint.LastCloseCode.Valid = int32(*code), true
	}
	if hb.Ping != nil {
		checkpoint.PingMillis.Int64, checkpoint.PingMillis.Valid = *hb.Ping, true
	}
	if !hb.LastReceived.IsZero() {
		checkpoint.LastHeartbeatAt.Time, checkpoint.LastHeartbeatAt.Valid = hb.LastReceived, true
	}

	select {
	case c.checkpointCh <- checkpoint:
	default:
		c.logger.Warn("checkpoint queue full, dropping checkpoint", zap.String("session_id", id))
	}
}

func (c *Client) checkpointWorker() {
	defer c.wg.Done()
	for checkpoint := range c.checkpointCh {
		ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
		if err := c.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
			c.logger.Warn("failed to save gateway checkpoint",
				zap.String("session_id", checkpoint.SessionID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
