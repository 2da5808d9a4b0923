package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/chatlink/internal/api"
	"github.com/rickgao/chatlink/internal/auth"
	"github.com/rickgao/chatlink/internal/clock"
	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/events"
	"github.com/rickgao/chatlink/internal/model"
	"github.com/rickgao/chatlink/internal/poller"
	"github.com/rickgao/chatlink/internal/queue"
	"github.com/rickgao/chatlink/internal/snapshot"
	"github.com/rickgao/chatlink/internal/socket"
	"github.com/rickgao/chatlink/internal/status"
)

// ErrStopped is returned by operations on a stopped Client.
var ErrStopped = errors.New("client stopped")

// Client is a resilient chat connection: websocket transport, typed
// events, queued delivery, status, and a polling fallback.
type Client struct {
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock

	signer   auth.Signer
	dialer   connection.Dialer
	store    snapshot.Store
	ownStore bool
	fetcher  poller.Fetcher

	conn   *connection.Manager
	sock   *socket.Manager
	queue  *queue.Queue
	status *status.Bridge
	poller *poller.Poller // nil when the fallback is disabled

	mu      sync.Mutex
	started bool
	stopped bool
	subs    []func()
}

// New builds a Client from cfg. Defaults are applied to a copy of cfg;
// the caller's value is not modified. Nothing connects until Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    clock.Real(),
		ownStore: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("instance", cfg.Instance.ID)

	if c.signer == nil {
		signer, err := signerFromConfig(cfg.API)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}

	connCfg := ConnectionConfig(cfg.Connection)
	if c.dialer == nil {
		c.dialer = connection.NewWebSocketDialer(connCfg, c.signer, c.logger)
	}
	c.conn = connection.NewManager(connCfg,
		connection.WithLogger(c.logger),
		connection.WithClock(c.clock),
		connection.WithDialer(c.dialer),
	)
	c.sock = socket.New(c.conn, socket.WithLogger(c.logger))

	if c.store == nil {
		store, err := snapshot.Open(ctx, cfg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		c.store = store
	}
	c.queue = queue.New(c.sock, QueueConfig(cfg.Queue),
		queue.WithLogger(c.logger),
		queue.WithClock(c.clock),
		queue.WithStore(c.store),
	)

	statusOpts := []status.Option{
		status.WithLogger(c.logger),
		status.WithClock(c.clock),
		status.WithConnectTimeout(cfg.Connection.HandshakeTimeout),
	}
	if cfg.Poller.Enabled {
		statusOpts = append(statusOpts, status.WithFallback())
	}
	c.status = status.New(c.conn, c.queue, statusOpts...)

	if cfg.Poller.Enabled {
		if c.fetcher == nil {
			c.fetcher = api.NewClient(cfg.API.RestURL, c.signer,
				api.WithTimeout(cfg.API.Timeout),
				api.WithRetries(cfg.API.MaxRetries, time.Second),
				api.WithLogger(c.logger),
			)
		}
		c.poller = poller.New(PollerConfig(cfg.Poller), c.fetcher, c.sock,
			poller.WithLogger(c.logger),
			poller.WithHealth(c.status),
		)
	}

	c.wire()
	return c, nil
}

// wire connects component events to each other.
func (c *Client) wire() {
	stateSub := c.conn.OnStateChange(func(change connection.StateChange) {
		c.status.HandleStateChange(change)
		c.queue.HandleStateChange(change)
		if c.poller != nil {
			c.poller.HandleStateChange(change)
			if change.New == connection.StateConnected {
				c.status.SetFallbackHealthy(false)
			}
		}
	})
	c.addSub(func() { c.conn.Off(stateSub) })

	maxSub := c.conn.OnMaxReconnectAttempts(func(attempts int) {
		c.logger.Error("giving up on websocket", "attempts", attempts, "polling", c.poller != nil)
	})
	c.addSub(func() { c.conn.Off(maxSub) })

	for _, name := range []string{queue.EventQueued, queue.EventSent, queue.EventFailed, queue.EventEvicted} {
		sub := c.queue.On(name, c.status.HandleQueueEvent)
		c.addSub(func() { c.queue.Off(sub) })
	}

	if c.cfg.Queue.AckTimeout > 0 {
		sub := socket.On(c.sock, socket.EventMessageAck, func(ack socket.MessageAck) {
			if !c.queue.HandleAck(ack.ID) {
				c.logger.Debug("ack for untracked message", "id", ack.ID)
			}
		})
		c.addSub(func() { c.sock.Off(sub) })
	}

	if c.poller != nil {
		sub := socket.On(c.sock, socket.EventMessage, func(raw json.RawMessage) {
			r := gjson.GetManyBytes(raw, "conversationId", "id")
			if r[0].Type == gjson.String && r[1].Type == gjson.String {
				c.poller.Seen(r[0].Str, r[1].Str)
			}
		})
		c.addSub(func() { c.sock.Off(sub) })
	}
}

func (c *Client) addSub(off func()) {
	c.subs = append(c.subs, off)
}

// Start restores the queued snapshot, starts the polling fallback and
// dials the gateway. A failed first dial is logged and retried in the
// background; it is not returned.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	n, err := c.queue.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	if n > 0 {
		c.logger.Info("restored queued messages", "count", n)
	}

	if c.poller != nil {
		if err := c.poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		// Poll until the first dial lands.
		c.poller.SetActive(true)
	}

	if err := c.conn.Connect(ctx); err != nil {
		c.logger.Warn("initial connect failed", "error", err, "state", c.conn.State())
	}
	return nil
}

// Stop disconnects and releases every resource. Queued messages stay in
// the snapshot for the next run.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	if c.poller != nil {
		if err := c.poller.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop poller: %w", err))
		}
	}
	c.conn.Disconnect()
	for _, off := range subs {
		off()
	}
	c.queue.Close()
	c.sock.Close()
	if c.ownStore {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
		}
	}

	c.logger.Info("client stopped")
	return errors.Join(errs...)
}

// SendMessage queues msg for delivery. ID, Type and enqueue time are
// filled in when empty. The returned copy carries the assigned ID.
func (c *Client) SendMessage(msg model.Message) (model.Message, error) {
	return c.queue.Enqueue(msg)
}

// SendText queues a text message to a conversation.
func (c *Client) SendText(conversationID, text string) (model.Message, error) {
	return c.queue.Enqueue(model.Message{
		ConversationID: conversationID,
		Content:        text,
		Type:           model.TypeText,
	})
}

// RetryMessage requeues a failed message.
func (c *Client) RetryMessage(id string) error {
	return c.queue.RetryMessage(id)
}

// MessageStatus returns the delivery status of a queued or recently sent message.
func (c *Client) MessageStatus(id string) (model.Status, bool) {
	return c.queue.Status(id)
}

// SendTyping announces that the local user started or stopped typing.
// Typing frames are not queued.
func (c *Client) SendTyping(conversationID string, typing bool) error {
	return socket.Emit(c.sock, socket.EventTyping, socket.Typing{
		UserID:         c.cfg.Instance.UserID,
		ConversationID: conversationID,
		IsTyping:       typing,
	})
}

// SetPresence announces the local user's availability.
func (c *Client) SetPresence(s model.PresenceStatus) error {
	if !s.Valid() {
		return fmt.Errorf("invalid presence %q", s)
	}
	return socket.Emit(c.sock, socket.EventUserStatus, socket.UserStatus{
		UserID: c.cfg.Instance.UserID,
		Status: s,
	})
}

// Join tracks a conversation for the polling fallback, resuming after
// cursor. It is a no-op when polling is disabled.
func (c *Client) Join(conversationID, cursor string) {
	if c.poller != nil {
		c.poller.Track(conversationID, cursor)
	}
}

// Leave stops tracking a conversation.
func (c *Client) Leave(conversationID string) {
	if c.poller != nil {
		c.poller.Untrack(conversationID)
	}
}

// Status returns the current connection mode and state.
func (c *Client) Status() status.Status {
	return c.status.Current()
}

// Notices returns the unresolved user-facing notices.
func (c *Client) Notices() []status.Notice {
	return c.status.Notices()
}

// Connect dials the gateway again after a Disconnect or a give-up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	return c.conn.Connect(ctx)
}

// Disconnect closes the websocket without stopping the client.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// OnMessage registers fn for inbound chat messages, from the socket or the
// polling fallback. Payloads that do not decode are reported through
// OnError.
func (c *Client) OnMessage(fn func(model.ChatMessage)) events.Subscription {
	return socket.On(c.sock, socket.EventMessage, func(raw json.RawMessage) {
		var msg model.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("undecodable chat message", "error", err)
			return
		}
		fn(msg)
	})
}

// OnTyping registers fn for typing indicators.
func (c *Client) OnTyping(fn func(socket.Typing)) events.Subscription {
	return socket.On(c.sock, socket.EventTyping, fn)
}

// OnUserStatus registers fn for presence changes.
func (c *Client) OnUserStatus(fn func(socket.UserStatus)) events.Subscription {
	return socket.On(c.sock, socket.EventUserStatus, fn)
}

// OnStatus registers fn for mode and state changes.
func (c *Client) OnStatus(fn func(status.Status)) events.Subscription {
	return c.status.OnChange(fn)
}

// OnNotice registers fn for raised and resolved notices.
func (c *Client) OnNotice(fn func(status.Notice)) events.Subscription {
	return c.status.OnNotice(fn)
}

// OnQueueEvent registers fn for one queue event type.
func (c *Client) OnQueueEvent(name string, fn func(queue.Event)) events.Subscription {
	return c.queue.On(name, fn)
}

// OnError registers fn for decode errors and handler panics.
func (c *Client) OnError(fn func(error)) events.Subscription {
	return c.sock.OnError(fn)
}

// Off removes a subscription returned by any On method.
func (c *Client) Off(sub events.Subscription) bool {
	switch sub.Event {
	case "status_change", "notice":
		return c.status.Off(sub)
	case queue.EventQueued, queue.EventSending, queue.EventSent,
		queue.EventRetryScheduled, queue.EventFailed, queue.EventEvicted:
		return c.queue.Off(sub)
	}
	return c.sock.Off(sub)
}

// Socket exposes the socket layer for custom events.
func (c *Client) Socket() *socket.Manager { return c.sock }

// Health is a point-in-time report for health endpoints.
type Health struct {
	Mode       status.Mode      `json:"mode"`
	State      string           `json:"state"`
	Since      time.Time        `json:"since"`
	Attempt    int              `json:"attempt,omitempty"`
	Connection connection.Stats `json:"connection"`
	Socket     socket.Stats     `json:"socket"`
	Queue      queue.Stats      `json:"queue"`
	Poller     *poller.Stats    `json:"poller,omitempty"`
	Notices    int              `json:"notices"`
}

// Healthy reports whether messages can currently flow.
func (h Health) Healthy() bool {
	return h.Mode != status.ModeOffline
}

// Health returns the current health report.
func (c *Client) Health() Health {
	st := c.status.Current()
	h := Health{
		Mode:       st.Mode,
		State:      st.State.String(),
		Since:      st.Since,
		Attempt:    st.Attempt,
		Connection: c.conn.Stats(),
		Socket:     c.sock.Stats(),
		Queue:      c.queue.Stats(),
		Notices:    len(c.status.Notices()),
	}
	if c.poller != nil {
		ps := c.poller.Stats()
		h.Poller = &ps
	}
	return h
}

func signerFromConfig(cfg config.APIConfig) (auth.Signer, error) {
	if cfg.APIKey != "" && cfg.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.APIKey, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		return creds, nil
	}
	return auth.BearerToken(cfg.Token), nil
}
