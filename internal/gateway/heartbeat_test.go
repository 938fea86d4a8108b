package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/clock"
)

type heartbeatRig struct {
	hb          *heartbeat
	clock       *clock.Fake
	session     *session
	sent        int
	sendErr     error
	disconnects []CloseCode
	acks        []time.Duration
}

// newHeartbeatRig runs timer callbacks directly on the goroutine calling Advance
func newHeartbeatRig() *heartbeatRig {
	r := &heartbeatRig{
		clock:   clock.NewFake(time.Unix(0, 0)),
		session: newSession(1, 0, zap.NewNop()),
	}
	r.hb = &heartbeat{
		sched:   r.clock,
		grace:   15 * time.Second,
		session: r.session,
		logger:  zap.NewNop(),
		bind:    func(fn func()) func() { return fn },
		send: func(Frame) error {
			if r.sendErr != nil {
				return r.sendErr
			}
			r.sent++
			return nil
		},
		disconnect: func(code CloseCode) { r.disconnects = append(r.disconnects, code) },
		onAck:      func(ping time.Duration) { r.acks = append(r.acks, ping) },
	}
	return r
}

func TestHeartbeat_Schedule(t *testing.T) {
	r := newHeartbeatRig()
	r.hb.start(time.Second, 0.5)

	r.clock.Advance(499 * time.Millisecond)
	assert.Equal(t, 0, r.sent)

	r.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, r.sent, "first beat after interval*jitter")

	r.clock.Advance(time.Second)
	assert.Equal(t, 2, r.sent)

	r.clock.Advance(3 * time.Second)
	assert.Equal(t, 5, r.sent)

	state := r.session.snapshot()
	assert.Equal(t, r.clock.Now(), state.Heartbeat.LastSent)
}

func TestHeartbeat_AckComputesPing(t *testing.T) {
	r := newHeartbeatRig()
	r.hb.start(time.Second, 0)
	r.clock.Advance(0)
	require.Equal(t, 1, r.sent)

	r.clock.Advance(120 * time.Millisecond)
	r.hb.ack()

	state := r.session.snapshot()
	require.NotNil(t, state.Heartbeat.Ping)
	assert.Equal(t, int64(120), *state.Heartbeat.Ping)
	assert.Equal(t, []time.Duration{120 * time.Millisecond}, r.acks)
	assert.Contains(t, state.Events, "Heartbeat acknowledged (took: 120 ms)")
}

func TestHeartbeat_Timeout(t *testing.T) {
	r := newHeartbeatRig()
	r.hb.start(time.Second, 0.5)

	r.clock.Advance(500 * time.Millisecond)
	r.clock.Advance(16*time.Second - time.Millisecond)
	assert.Empty(t, r.disconnects, "still within interval + grace")

	r.clock.Advance(time.Millisecond)
	assert.Equal(t, []CloseCode{CloseSessionTimedOut}, r.disconnects)
	assert.Equal(t, 0, r.clock.Pending(), "recurring heartbeat is cancelled")

	sent := r.sent
	r.clock.Advance(time.Minute)
	assert.Equal(t, sent, r.sent)
	assert.Len(t, r.disconnects, 1)
}

func TestHeartbeat_AckRearmsTimeout(t *testing.T) {
	r := newHeartbeatRig()
	r.hb.start(time.Second, 0)

	for i := 0; i < 30; i++ {
		r.clock.Advance(time.Second)
		r.hb.ack()
	}

	assert.Empty(t, r.disconnects)
	assert.Equal(t, 31, r.sent)
}

func TestHeartbeat_AckBeforeSend(t *testing.T) {
	r := newHeartbeatRig()

	r.hb.ack()

	state := r.session.snapshot()
	assert.Nil(t, state.Heartbeat.Ping)
	assert.False(t, state.Heartbeat.LastReceived.IsZero())
	assert.Empty(t, r.acks)
}

func TestHeartbeat_SendFailureArmsNothing(t *testing.T) {
	r := newHeartbeatRig()
	r.sendErr = errors.New("closed")
	r.hb.start(time.Second, 0)

	r.clock.Advance(0)

	assert.Equal(t, 0, r.sent)
	assert.Nil(t, r.hb.ackTimer)
	assert.True(t, r.session.snapshot().Heartbeat.LastSent.IsZero())
}

func TestHeartbeat_StopCancelsEverything(t *testing.T) {
	r := newHeartbeatRig()
	r.hb.start(time.Second, 0)
	r.clock.Advance(0)
	require.Equal(t, 2, r.clock.Pending(), "interval and ack timeout armed")

	r.hb.stop()

	assert.Equal(t, 0, r.clock.Pending())
	r.clock.Advance(time.Hour)
	assert.Equal(t, 1, r.sent)
	assert.Empty(t, r.disconnects)
}

func TestHeartbeat_StaleCallbackIgnored(t *testing.T) {
	r := newHeartbeatRig()

	var captured func()
	r.hb.bind = func(fn func()) func() {
		captured = fn
		return fn
	}
	r.hb.start(time.Second, 0.5)
	r.hb.stop()

	require.NotNil(t, captured)
	captured()

	assert.Equal(t, 0, r.sent, "a callback from a stopped generation does nothing")
	assert.Equal(t, 0, r.clock.Pending())
}
