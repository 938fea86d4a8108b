// Package supervisor reconnects the gateway client after unexpected
// closures, backing off exponentially between attempts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
)

const eventBuffer = 16

// ErrGaveUp is returned when the backoff policy stops retrying
var ErrGaveUp = errors.New("supervisor: reconnect attempts exhausted")

// ErrReconnectDisabled is returned when a resumable closure arrives while the
// reconnect policy is off
var ErrReconnectDisabled = errors.New("supervisor: reconnect disabled")

// FatalCloseError reports a closure that must not be retried
type FatalCloseError struct {
	Code gateway.CloseCode
}

func (e *FatalCloseError) Error() string {
	return fmt.Sprintf("gateway closed with %d (%s)", int(e.Code), e.Code)
}

// Connector starts a gateway connection attempt
type Connector interface {
	Connect(ctx context.Context, token string) error
}

type closeEvent struct {
	code   gateway.CloseCode
	resume bool
}

// Supervisor keeps one gateway connection alive. Register it as a
// gateway.Observer on the client it supervises.
type Supervisor struct {
	gateway.NopObserver

	conn      Connector
	policy    config.ReconnectConfig
	logger    *zap.Logger
	onAttempt func()

	closed        chan closeEvent
	authenticated chan struct{}
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithAttemptHook is called before every reconnect
func WithAttemptHook(fn func()) Option {
	return func(s *Supervisor) {
		s.onAttempt = fn
	}
}

// New creates a supervisor. Attach it with AttachTo or gateway.WithObserver
// before calling Run.
func New(policy config.ReconnectConfig, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		policy:        policy,
		logger:        logger.Named("supervisor"),
		onAttempt:     func() {},
		closed:        make(chan closeEvent, eventBuffer),
		authenticated: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachTo sets the connector driven by Run
func (s *Supervisor) AttachTo(conn Connector) {
	s.conn = conn
}

// StatusChanged resets the backoff once a session is authenticated
func (s *Supervisor) StatusChanged(status gateway.Status) {
	if status != gateway.StatusAuthenticated {
		return
	}
	select {
	case s.authenticated <- struct{}{}:
	default:
	}
}

// Closed queues the closure for Run
func (s *Supervisor) Closed(code gateway.CloseCode, resume bool) {
	select {
	case s.closed <- closeEvent{code: code, resume: resume}:
	default:
		s.logger.Warn("dropping close notification", zap.Int("code", int(code)))
	}
}

// Run connects and reconnects until ctx is done, the connection is closed
// normally, a fatal close code is received or the policy gives up.
func (s *Supervisor) Run(ctx context.Context, token string) error {
	if s.conn == nil {
		return fmt.Errorf("supervisor has no connector")
	}

	b := s.newBackOff()
	if err := s.conn.Connect(ctx, token); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.authenticated:
			b.Reset()

		case ev := <-s.closed:
			if ev.code.Fatal() {
				s.logger.Error("gateway closed with fatal code", zap.Int("code", int(ev.code)))
				return &FatalCloseError{Code: ev.code}
			}
			if ev.code == gateway.CloseNormalClosure {
				s.logger.Info("gateway closed normally")
				return nil
			}
			if !s.policy.Enabled {
				return fmt.Errorf("%w: gateway closed with %d (%s)", ErrReconnectDisabled, int(ev.code), ev.code)
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return ErrGaveUp
			}
			s.logger.Info("reconnecting",
				zap.Int("close_code", int(ev.code)),
				zap.Bool("resume", ev.resume),
				zap.Duration("wait", wait),
			)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			s.onAttempt()
			if err := s.conn.Connect(ctx, token); err != nil && !errors.Is(err, gateway.ErrAlreadyConnecting) {
				return err
			}
		}
	}
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if s.policy.InitialInterval > 0 {
		b.InitialInterval = s.policy.InitialInterval
	}
	if s.policy.MaxInterval > 0 {
		b.MaxInterval = s.policy.MaxInterval
	}
	b.MaxElapsedTime = s.policy.MaxElapsed
	b.Reset()
	return b
}
