package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/chatlink/internal/backoff"
	"github.com/rickgao/chatlink/internal/clock"
	"github.com/rickgao/chatlink/internal/events"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for heartbeat and reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithDialer sets the transport dialer. The default dials websockets
// without handshake signing.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithRand sets the random source for reconnect jitter.
func WithRand(r func() float64) Option {
	return func(m *Manager) {
		m.policy.Rand = r
	}
}

// Manager owns the lifecycle of one transport connection.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock
	dialer Dialer
	policy backoff.Policy

	mu         sync.Mutex
	state      State
	gen        uint64 // bumped whenever the current connection or attempt is abandoned
	attempts   int
	transport  Transport
	cancelDial context.CancelFunc
	stats      Stats

	// At most one of heartbeat and reconnect is armed.
	heartbeat    clock.Timer
	heartbeatSeq uint64
	awaitingPong bool
	reconnect    clock.Timer

	notify      events.Notifier
	stateSubs   *events.Registry[StateChange]
	messageSubs *events.Registry[TimestampedMessage]
	errorSubs   *events.Registry[error]
	maxSubs     *events.Registry[int]
}

// NewManager creates a new Connection Manager in the disconnected state.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  clock.Real(),
		policy: backoff.Policy{
			Base:   cfg.ReconnectDelay,
			Max:    cfg.ReconnectMaxDelay,
			Jitter: cfg.Jitter,
		},
		stateSubs:   events.NewRegistry[StateChange](),
		messageSubs: events.NewRegistry[TimestampedMessage](),
		errorSubs:   events.NewRegistry[error](),
		maxSubs:     events.NewRegistry[int](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(cfg, nil, m.logger)
	}
	m.logger = m.logger.With("component", "connection")

	m.stateSubs.OnPanic(m.reportPanic)
	m.messageSubs.OnPanic(m.reportPanic)
	m.maxSubs.OnPanic(m.reportPanic)
	m.errorSubs.OnPanic(func(event string, rec any) {
		m.countPanic()
		m.logger.Error("error handler panicked", "panic", rec)
	})

	return m
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn func(StateChange)) events.Subscription {
	return m.stateSubs.On(eventStateChange, fn)
}

// OnMessage registers fn for every inbound application frame.
func (m *Manager) OnMessage(fn func(TimestampedMessage)) events.Subscription {
	return m.messageSubs.On(eventMessage, fn)
}

// OnError registers fn for connection errors and handler panics.
func (m *Manager) OnError(fn func(error)) events.Subscription {
	return m.errorSubs.On(eventError, fn)
}

// OnMaxReconnectAttempts registers fn for the moment reconnection gives
// up. fn receives the number of attempts made.
func (m *Manager) OnMaxReconnectAttempts(fn func(int)) events.Subscription {
	return m.maxSubs.On(eventMaxReconnectAttempts, fn)
}

// Off removes a subscription returned by one of the On methods. It
// reports whether anything was removed.
func (m *Manager) Off(sub events.Subscription) bool {
	switch sub.Event {
	case eventStateChange:
		return m.stateSubs.Off(sub)
	case eventMessage:
		return m.messageSubs.Off(sub)
	case eventError:
		return m.errorSubs.Off(sub)
	case eventMaxReconnectAttempts:
		return m.maxSubs.Off(sub)
	}
	return false
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a copy of the connection counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Connect dials the gateway. It is a no-op while connecting or connected.
// From reconnecting it skips the remaining backoff wait.
//
// Connect blocks until the dial finishes. A dial failure is returned and
// also drives the reconnect path, so the caller does not need to retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.state != StateReconnecting {
		m.attempts = 0
	}
	m.stopTimersLocked()
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting, nil, 0)
	dctx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.mu.Unlock()
	m.notify.Drain()

	return m.dial(dctx, cancel, gen)
}

// Disconnect closes the connection and cancels every timer. It is legal
// in any state, idempotent, and terminal until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimersLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	t := m.transport
	m.transport = nil
	m.attempts = 0
	m.setStateLocked(StateDisconnected, nil, 0)
	m.mu.Unlock()

	closeTransport(t)
	m.notify.Drain()
}

// Send writes data to the open transport. There is no buffering: outside
// the connected state it returns ErrNotConnected. A write failure is
// returned as a *TransportError and starts the reconnect path.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t, gen := m.transport, m.gen
	m.mu.Unlock()

	if err := t.Send(data); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		m.handleFailure(gen, terr)
		return terr
	}

	m.mu.Lock()
	m.stats.FramesOut++
	m.mu.Unlock()
	return nil
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) error {
	defer cancel()

	m.logger.Debug("dialing", "url", m.cfg.URL)
	t, err := m.dialer.Dial(ctx, m.cfg.URL)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		// Disconnect or a newer Connect won the race.
		m.mu.Unlock()
		closeTransport(t)
		if err != nil {
			return err
		}
		return ErrAlreadyClosed
	}
	m.cancelDial = nil

	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		stale := m.failLocked(terr)
		m.mu.Unlock()
		closeTransport(stale)
		m.notify.Drain()
		return terr
	}

	m.transport = t
	m.attempts = 0
	m.stats.Connects++
	m.setStateLocked(StateConnected, nil, 0)
	m.armHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL)

	go m.pump(t, gen)
	m.notify.Drain()
	return nil
}

// pump forwards transport events until the transport ends or the
// connection generation changes.
func (m *Manager) pump(t Transport, gen uint64) {
	for {
		select {
		case err := <-t.Errors():
			m.handleFailure(gen, &TransportError{Op: "read", Err: err})
			return

		case msg, ok := <-t.Messages():
			if !ok {
				var err error = ErrConnectionClosed
				select {
				case rerr := <-t.Errors():
					err = rerr
				default:
				}
				m.handleFailure(gen, &TransportError{Op: "read", Err: err})
				return
			}
			if !m.handleFrame(t, gen, msg) {
				return
			}
		}
	}
}

// handleFrame processes one inbound frame. It returns false once the
// frame belongs to an abandoned connection.
func (m *Manager) handleFrame(t Transport, gen uint64, msg TimestampedMessage) bool {
	kind := gjson.GetBytes(msg.Data, "event").String()

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	m.stats.FramesIn++

	switch kind {
	case "pong":
		if m.awaitingPong {
			m.stopHeartbeatLocked()
			m.armHeartbeatLocked()
		}
		m.mu.Unlock()
		return true

	case "ping":
		m.mu.Unlock()
		if err := t.Send(pongFrame); err != nil {
			m.handleFailure(gen, &TransportError{Op: "write", Err: err})
			return false
		}
		return true
	}

	m.notify.Post(func() { m.messageSubs.Dispatch(eventMessage, msg) })
	m.mu.Unlock()
	m.notify.Drain()
	return true
}

// handleFailure moves a live connection into reconnecting or failed.
// Failures reported for an abandoned generation are ignored.
func (m *Manager) handleFailure(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	t := m.failLocked(err)
	m.mu.Unlock()

	closeTransport(t)
	m.notify.Drain()
}

// failLocked applies the hard-disconnect path and returns the transport
// the caller must close after unlocking.
func (m *Manager) failLocked(err error) Transport {
	if m.state != StateConnecting && m.state != StateConnected {
		return nil
	}

	m.stopTimersLocked()
	t := m.transport
	m.transport = nil
	m.gen++
	gen := m.gen
	m.stats.Failures++

	m.logger.Warn("connection lost", "state", m.state, "error", err)
	m.notify.Post(func() { m.errorSubs.Dispatch(eventError, err) })

	m.attempts++
	if m.cfg.MaxReconnectAttempts >= 0 && m.attempts > m.cfg.MaxReconnectAttempts {
		made := m.attempts - 1
		m.logger.Error("giving up reconnecting", "attempts", made)
		m.setStateLocked(StateFailed, fmt.Errorf("%w: %w", ErrMaxReconnectAttempts, err), 0)
		m.notify.Post(func() { m.maxSubs.Dispatch(eventMaxReconnectAttempts, made) })
		return t
	}

	delay := m.policy.Delay(m.attempts)
	m.setStateLocked(StateReconnecting, err, delay)
	m.reconnect = m.clock.AfterFunc(delay, func() { m.reconnectFired(gen) })
	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)
	return t
}

func (m *Manager) reconnectFired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.stats.Reconnects++
	m.setStateLocked(StateConnecting, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.mu.Unlock()
	m.notify.Drain()

	if err := m.dial(ctx, cancel, gen); err != nil && !errors.Is(err, ErrAlreadyClosed) {
		m.logger.Debug("reconnect attempt failed", "error", err)
	}
}

func (m *Manager) armHeartbeatLocked() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeatSeq++
	m.awaitingPong = false
	seq, gen := m.heartbeatSeq, m.gen
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.sendPing(gen, seq) })
}

func (m *Manager) sendPing(gen, seq uint64) {
	m.mu.Lock()
	if gen != m.gen || seq != m.heartbeatSeq || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.heartbeatSeq++
	m.awaitingPong = true
	deadline := m.heartbeatSeq
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatTimeout, func() { m.heartbeatExpired(gen, deadline) })
	m.mu.Unlock()

	if err := t.Send(pingFrame); err != nil {
		m.handleFailure(gen, &TransportError{Op: "ping", Err: err})
	}
}

func (m *Manager) heartbeatExpired(gen, seq uint64) {
	m.mu.Lock()
	if gen != m.gen || seq != m.heartbeatSeq || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.heartbeat = nil
	m.stats.HeartbeatTimeouts++
	t := m.failLocked(ErrHeartbeatTimeout)
	m.mu.Unlock()

	closeTransport(t)
	m.notify.Drain()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	m.heartbeatSeq++
	m.awaitingPong = false
}

func (m *Manager) stopTimersLocked() {
	m.stopHeartbeatLocked()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) setStateLocked(next State, err error, delay time.Duration) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	change := StateChange{
		Old:     prev,
		New:     next,
		Err:     err,
		Attempt: m.attempts,
		Delay:   delay,
		At:      m.clock.Now(),
	}
	m.logger.Debug("state change", "from", prev, "to", next, "attempt", m.attempts)
	m.notify.Post(func() { m.stateSubs.Dispatch(eventStateChange, change) })
}

func (m *Manager) reportPanic(event string, rec any) {
	m.countPanic()
	m.logger.Error("handler panicked", "event", event, "panic", rec)
	err := &events.PanicError{Event: event, Value: rec}
	m.notify.Post(func() { m.errorSubs.Dispatch(eventError, err) })
}

func (m *Manager) countPanic() {
	m.mu.Lock()
	m.stats.HandlerPanics++
	m.mu.Unlock()
}

func closeTransport(t Transport) {
	if t != nil {
		t.Close()
	}
}
