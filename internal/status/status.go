// Package status derives the user-facing connection mode and the
// notices a UI shows for reconnects and failed messages.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/chatlink/internal/clock"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/events"
	"github.com/rickgao/chatlink/internal/queue"
)

// Mode is how the client is currently receiving messages.
type Mode string

const (
	ModeWebSocket Mode = "websocket"
	ModePolling   Mode = "polling"
	ModeOffline   Mode = "offline"
)

// Status is the bridge's view of the connection.
type Status struct {
	Mode    Mode
	State   connection.State
	Attempt int
	Err     error // cause of the last transition, if any
	Since   time.Time
}

// NoticeKind identifies what a notice is about.
type NoticeKind string

const (
	NoticeReconnecting     NoticeKind = "reconnecting"
	NoticeConnectionFailed NoticeKind = "connection_failed"
	NoticeMessageFailed    NoticeKind = "message_failed"
)

// Notice is a user-facing, possibly actionable, report. Notices are
// resolved automatically when the condition clears.
type Notice struct {
	ID        string
	Kind      NoticeKind
	MessageID string // for NoticeMessageFailed
	Text      string
	Err       error
	At        time.Time
	Resolved  bool

	seq    uint64
	cancel func()
	retry  func() error
}

// Cancellable reports whether Cancel does anything.
func (n Notice) Cancellable() bool { return n.cancel != nil }

// Retryable reports whether Retry does anything.
func (n Notice) Retryable() bool { return n.retry != nil }

// Cancel aborts the operation the notice describes.
func (n Notice) Cancel() {
	if n.cancel != nil {
		n.cancel()
	}
}

// Retry starts the failed operation again.
func (n Notice) Retry() error {
	if n.retry == nil {
		return fmt.Errorf("notice %s is not retryable", n.Kind)
	}
	return n.retry()
}

// Controller is the connection control the notices act on.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Retrier requeues a failed message.
type Retrier interface {
	RetryMessage(id string) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithFallback marks the polling fallback as available.
func WithFallback() Option {
	return func(b *Bridge) {
		b.fallbackEnabled = true
	}
}

// WithConnectTimeout bounds Connect calls made by connection_failed
// notices.
func WithConnectTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.connectTimeout = d
	}
}

const (
	eventChange = "status_change"
	eventNotice = "notice"
)

// Bridge turns connection state changes and queue events into a Status
// and a set of notices.
type Bridge struct {
	conn           Controller
	retrier        Retrier
	logger         *slog.Logger
	clock          clock.Clock
	connectTimeout time.Duration

	mu              sync.Mutex
	status          Status
	fallbackEnabled bool
	fallbackHealthy bool
	reconnecting    *Notice
	connFailed      *Notice
	messages        map[string]*Notice // by message ID
	noticeSeq       uint64

	notify  events.Notifier
	changes *events.Registry[Status]
	notices *events.Registry[Notice]
}

// New creates a Bridge. retrier may be nil if messages are not queued.
func New(conn Controller, retrier Retrier, opts ...Option) *Bridge {
	b := &Bridge{
		conn:           conn,
		retrier:        retrier,
		logger:         slog.Default(),
		clock:          clock.Real(),
		connectTimeout: 30 * time.Second,
		messages:       make(map[string]*Notice),
		changes:        events.NewRegistry[Status](),
		notices:        events.NewRegistry[Notice](),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "status")
	b.status = Status{Mode: ModeOffline, State: connection.StateDisconnected, Since: b.clock.Now()}

	onPanic := func(event string, rec any) {
		b.logger.Error("status handler panicked", "event", event, "panic", rec)
	}
	b.changes.OnPanic(onPanic)
	b.notices.OnPanic(onPanic)
	return b
}

// OnChange registers fn for mode or state changes.
func (b *Bridge) OnChange(fn func(Status)) events.Subscription {
	return b.changes.On(eventChange, fn)
}

// OnNotice registers fn for raised, updated and resolved notices.
func (b *Bridge) OnNotice(fn func(Notice)) events.Subscription {
	return b.notices.On(eventNotice, fn)
}

// Off removes a subscription.
func (b *Bridge) Off(sub events.Subscription) bool {
	if sub.Event == eventChange {
		return b.changes.Off(sub)
	}
	return b.notices.Off(sub)
}

// Current returns the current status.
func (b *Bridge) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Notices returns the unresolved notices, oldest first.
func (b *Bridge) Notices() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Notice
	if b.reconnecting != nil {
		out = append(out, *b.reconnecting)
	}
	if b.connFailed != nil {
		out = append(out, *b.connFailed)
	}
	for _, n := range b.messages {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// HandleStateChange updates the status and connection notices.
func (b *Bridge) HandleStateChange(change connection.StateChange) {
	b.mu.Lock()
	b.status.Attempt = change.Attempt
	b.status.Err = change.Err

	switch change.New {
	case connection.StateConnected:
		b.resolveLocked(&b.reconnecting)
		b.resolveLocked(&b.connFailed)

	case connection.StateReconnecting:
		b.resolveLocked(&b.connFailed)
		text := fmt.Sprintf("Connection lost. Reconnecting (attempt %d) in %s.", change.Attempt, change.Delay.Round(time.Millisecond))
		if b.reconnecting == nil {
			b.reconnecting = b.newNoticeLocked(NoticeReconnecting, text, change.Err)
			b.reconnecting.cancel = b.cancelReconnect
		} else {
			b.reconnecting.Text = text
			b.reconnecting.Err = change.Err
		}
		b.postNoticeLocked(*b.reconnecting)

	case connection.StateFailed:
		b.resolveLocked(&b.reconnecting)
		if b.connFailed == nil {
			b.connFailed = b.newNoticeLocked(NoticeConnectionFailed, "Unable to connect.", change.Err)
			b.connFailed.retry = b.retryConnect
			b.postNoticeLocked(*b.connFailed)
		}

	case connection.StateDisconnected:
		b.resolveLocked(&b.reconnecting)
		b.resolveLocked(&b.connFailed)
	}

	b.setStateLocked(change.New)
	b.mu.Unlock()
	b.notify.Drain()
}

// HandleQueueEvent raises and resolves per-message notices.
func (b *Bridge) HandleQueueEvent(ev queue.Event) {
	id := ev.Message.ID

	b.mu.Lock()
	switch ev.Type {
	case queue.EventFailed:
		n := b.newNoticeLocked(NoticeMessageFailed, "Message not delivered.", ev.Err)
		n.MessageID = id
		if b.retrier != nil {
			n.retry = func() error { return b.retrier.RetryMessage(id) }
		}
		if old, ok := b.messages[id]; ok {
			b.resolveLocked(&old)
		}
		b.messages[id] = n
		b.postNoticeLocked(*n)

	case queue.EventSent, queue.EventEvicted, queue.EventQueued:
		if n, ok := b.messages[id]; ok {
			b.resolveLocked(&n)
			delete(b.messages, id)
		}
	}
	b.mu.Unlock()
	b.notify.Drain()
}

// SetFallbackHealthy records the outcome of the latest poll.
func (b *Bridge) SetFallbackHealthy(healthy bool) {
	b.mu.Lock()
	b.fallbackHealthy = healthy
	b.setStateLocked(b.status.State)
	b.mu.Unlock()
	b.notify.Drain()
}

func (b *Bridge) setStateLocked(state connection.State) {
	mode := ModeOffline
	switch {
	case state == connection.StateConnected:
		mode = ModeWebSocket
	case b.fallbackEnabled && b.fallbackHealthy:
		mode = ModePolling
	}

	if mode == b.status.Mode && state == b.status.State {
		return
	}
	b.status.Mode = mode
	b.status.State = state
	b.status.Since = b.clock.Now()
	st := b.status
	b.logger.Info("status changed", "mode", st.Mode, "state", st.State)
	b.notify.Post(func() { b.changes.Dispatch(eventChange, st) })
}

func (b *Bridge) newNoticeLocked(kind NoticeKind, text string, err error) *Notice {
	b.noticeSeq++
	return &Notice{
		seq:  b.noticeSeq,
		ID:   uuid.NewString(),
		Kind: kind,
		Text: text,
		Err:  err,
		At:   b.clock.Now(),
	}
}

// resolveLocked marks *slot resolved, announces it and clears the slot.
func (b *Bridge) resolveLocked(slot **Notice) {
	n := *slot
	if n == nil {
		return
	}
	n.Resolved = true
	n.cancel = nil
	n.retry = nil
	b.postNoticeLocked(*n)
	*slot = nil
}

func (b *Bridge) postNoticeLocked(n Notice) {
	b.notify.Post(func() { b.notices.Dispatch(eventNotice, n) })
}

func (b *Bridge) cancelReconnect() {
	b.logger.Info("reconnect cancelled by user")
	b.conn.Disconnect()
}

func (b *Bridge) retryConnect() error {
	b.logger.Info("connect retried by user")
	ctx, cancel := context.WithTimeout(context.Background(), b.connectTimeout)
	defer cancel()
	return b.conn.Connect(ctx)
}
