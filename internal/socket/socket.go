package socket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/events"
)

// Conn is the part of the Connection Manager the socket layer uses.
type Conn interface {
	Send(data []byte) error
	IsConnected() bool
	OnMessage(fn func(connection.TimestampedMessage)) events.Subscription
	Off(sub events.Subscription) bool
}

const eventError = "error"

// route decodes one event's payload and dispatches it.
type route interface {
	dispatch(data json.RawMessage) error
	off(sub events.Subscription) bool
	count() int
}

type typedRoute[T any] struct {
	name string
	reg  *events.Registry[T]
}

func (r *typedRoute[T]) dispatch(data json.RawMessage) error {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
	}
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return err
		}
	}
	r.reg.Dispatch(r.name, v)
	return nil
}

func (r *typedRoute[T]) off(sub events.Subscription) bool { return r.reg.Off(sub) }
func (r *typedRoute[T]) count() int                       { return r.reg.Count(r.name) }

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

// Manager routes inbound frames to typed handlers and encodes outbound
// events.
type Manager struct {
	conn   Conn
	logger *slog.Logger
	sub    events.Subscription

	mu     sync.RWMutex
	routes map[string]route
	closed bool

	errs *events.Registry[error]

	statsMu sync.Mutex
	stats   Stats
}

// New creates a socket Manager reading frames from conn.
func New(conn Conn, opts ...Option) *Manager {
	m := &Manager{
		conn:   conn,
		logger: slog.Default(),
		routes: make(map[string]route),
		errs:   events.NewRegistry[error](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "socket")
	m.errs.OnPanic(func(_ string, rec any) {
		m.count(func(s *Stats) { s.HandlerPanics++ })
		m.logger.Error("error handler panicked", "panic", rec)
	})

	m.sub = conn.OnMessage(func(msg connection.TimestampedMessage) {
		m.count(func(s *Stats) { s.FramesReceived++ })
		m.route(msg.Data)
	})
	return m
}

// On registers fn for ev. Handlers run in registration order. If ev's
// name is already bound to a different payload type the returned
// subscription is invalid and an ErrTypeMismatch is reported.
func On[T any](m *Manager, ev Event[T], fn func(T)) events.Subscription {
	m.mu.Lock()
	r, ok := m.routes[ev.Name]
	if !ok {
		reg := events.NewRegistry[T]()
		reg.OnPanic(m.handlerPanicked)
		r = &typedRoute[T]{name: ev.Name, reg: reg}
		m.routes[ev.Name] = r
	}
	m.mu.Unlock()

	tr, ok := r.(*typedRoute[T])
	if !ok {
		err := fmt.Errorf("%w: %q", ErrTypeMismatch, ev.Name)
		m.logger.Error("cannot register handler", "event", ev.Name, "error", err)
		m.report(err)
		return events.Subscription{}
	}
	return tr.reg.On(ev.Name, fn)
}

// Emit sends ev with payload v. It returns connection.ErrNotConnected
// when the connection is not up.
func Emit[T any](m *Manager, ev Event[T], v T) error {
	frame, err := Encode(ev, v)
	if err != nil {
		return err
	}
	return m.Send(frame)
}

// OnError registers fn for decode failures and handler panics.
func (m *Manager) OnError(fn func(error)) events.Subscription {
	return m.errs.On(eventError, fn)
}

// Off removes a subscription returned by On or OnError. It reports
// whether anything was removed.
func (m *Manager) Off(sub events.Subscription) bool {
	if sub.Event == eventError {
		return m.errs.Off(sub)
	}
	m.mu.RLock()
	r, ok := m.routes[sub.Event]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return r.off(sub)
}

// Send writes an encoded frame. Send and IsConnected let the Manager
// stand in for the raw connection as a queue sender.
func (m *Manager) Send(frame []byte) error {
	if err := m.conn.Send(frame); err != nil {
		return err
	}
	m.count(func(s *Stats) { s.FramesSent++ })
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (m *Manager) IsConnected() bool {
	return m.conn.IsConnected()
}

// Inject dispatches a frame that arrived by another path, such as the
// polling fallback.
func (m *Manager) Inject(frame []byte) {
	m.count(func(s *Stats) { s.FramesInjected++ })
	m.route(frame)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Close detaches from the connection. Registered handlers stay in place
// but receive nothing further.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.conn.Off(m.sub)
}

// route parses and dispatches a single frame.
func (m *Manager) route(frame []byte) {
	if !gjson.ValidBytes(frame) {
		m.parseError(ErrMalformedFrame, "")
		return
	}
	name := gjson.GetBytes(frame, "event")
	if name.Type != gjson.String {
		m.parseError(fmt.Errorf("%w: missing event name", ErrMalformedFrame), "")
		return
	}

	m.mu.RLock()
	r, ok := m.routes[name.Str]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}
	if !ok || r.count() == 0 {
		m.count(func(s *Stats) { s.UnknownEvents++ })
		m.logger.Debug("skipping event", "event", name.Str)
		return
	}

	var data json.RawMessage
	if raw := gjson.GetBytes(frame, "data"); raw.Exists() && raw.Type != gjson.Null {
		data = json.RawMessage(raw.Raw)
	}

	if err := r.dispatch(data); err != nil {
		m.parseError(&DecodeError{Event: name.Str, Err: err}, name.Str)
		return
	}
	m.count(func(s *Stats) { s.Dispatched++ })
}

func (m *Manager) parseError(err error, event string) {
	m.count(func(s *Stats) { s.ParseErrors++ })
	m.logger.Warn("failed to parse frame", "event", event, "error", err)
	m.report(err)
}

func (m *Manager) handlerPanicked(event string, rec any) {
	m.count(func(s *Stats) { s.HandlerPanics++ })
	m.logger.Error("handler panicked", "event", event, "panic", rec)
	m.report(&events.PanicError{Event: event, Value: rec})
}

func (m *Manager) report(err error) {
	m.errs.Dispatch(eventError, err)
}

func (m *Manager) count(fn func(*Stats)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}
