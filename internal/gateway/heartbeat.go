package gateway

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/clock"
)

// heartbeat keeps the connection alive and detects a silent peer. All
// methods run on the client loop; timer callbacks are routed there through
// bind.
type heartbeat struct {
	sched   clock.Scheduler
	grace   time.Duration
	session *session
	logger  *zap.Logger

	// bind wraps a callback so it runs on the loop for the current connection
	bind       func(fn func()) func()
	send       func(frame Frame) error
	disconnect func(code CloseCode)
	onAck      func(ping time.Duration)

	gen           uint64 // bumped on start and stop; stale timer callbacks are ignored
	interval      time.Duration
	startTimer    clock.Timer
	intervalTimer clock.Timer
	ackTimer      clock.Timer
	lastSent      time.Time
}

// start schedules the first heartbeat after interval*jitter and a recurring
// one every interval after that
func (h *heartbeat) start(interval time.Duration, jitter float64) {
	h.stop()
	gen := h.gen
	h.interval = interval

	delay := time.Duration(float64(interval) * jitter)
	h.logger.Debug("starting heartbeat",
		zap.Duration("interval", interval),
		zap.Duration("first_beat", delay),
	)

	h.startTimer = h.sched.After(delay, h.bind(func() {
		if gen != h.gen {
			return
		}
		h.startTimer = nil
		h.beat(gen)
		h.intervalTimer = h.sched.Every(interval, h.bind(func() { h.beat(gen) }))
	}))
}

// beat sends one heartbeat and arms the ack timeout unless one is pending
func (h *heartbeat) beat(gen uint64) {
	if gen != h.gen {
		return
	}

	if err := h.send(Frame{Op: OpHeartbeat}); err != nil {
		h.logger.Warn("failed to send heartbeat", zap.Error(err))
		return
	}

	now := h.sched.Now()
	h.lastSent = now
	h.session.update(func(s *State) {
		s.Heartbeat.LastSent = now
	})
	h.session.trace("Sent heartbeat")

	if h.ackTimer == nil {
		h.ackTimer = h.sched.After(h.interval+h.grace, h.bind(func() { h.notAck(gen) }))
	}
}

// ack records an acknowledgement and the resulting round-trip time
func (h *heartbeat) ack() {
	if h.ackTimer != nil {
		h.ackTimer.Stop()
		h.ackTimer = nil
	}

	now := h.sched.Now()
	if h.lastSent.IsZero() {
		h.logger.Warn("heartbeat ack received before any heartbeat was sent")
		h.session.update(func(s *State) {
			s.Heartbeat.LastReceived = now
		})
		return
	}

	ping := now.Sub(h.lastSent)
	if ping < 0 {
		ping = 0
	}
	ms := ping.Milliseconds()

	h.session.update(func(s *State) {
		s.Heartbeat.LastReceived = now
		s.Heartbeat.Ping = &ms
	})
	h.session.trace(fmt.Sprintf("Heartbeat acknowledged (took: %d ms)", ms))

	if h.onAck != nil {
		h.onAck(ping)
	}
}

func (h *heartbeat) notAck(gen uint64) {
	if gen != h.gen {
		return
	}
	h.ackTimer = nil
	h.stop()

	h.logger.Warn("heartbeat not acknowledged in time",
		zap.Duration("timeout", h.interval+h.grace),
	)
	h.session.trace("Heartbeat not acknowledged, closing connection")
	h.disconnect(CloseSessionTimedOut)
}

// stop cancels every pending timer
func (h *heartbeat) stop() {
	h.gen++
	for _, t := range []*clock.Timer{&h.startTimer, &h.intervalTimer, &h.ackTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// reset stops the timers and forgets the previous connection's timings
func (h *heartbeat) reset() {
	h.stop()
	h.interval = 0
	h.lastSent = time.Time{}
}
