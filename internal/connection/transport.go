package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/chatlink/internal/auth"
)

// Transport is a single open connection to the chat gateway.
//
// Messages is closed when the connection's read side ends. If the read
// ended with an error, that error is sent on Errors before Messages is
// closed.
type Transport interface {
	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of raw inbound frames.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// Close gracefully closes the connection.
	Close() error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, rawURL string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Transport, error) {
	return f(ctx, rawURL)
}

// WebSocketDialer dials gorilla websocket connections.
type WebSocketDialer struct {
	Signer           auth.Signer // optional handshake signer
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	Logger           *slog.Logger
}

// NewWebSocketDialer creates a dialer using the timeouts from cfg.
func NewWebSocketDialer(cfg Config, signer auth.Signer, logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		Signer:           signer,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.BufferSize,
		Logger:           logger,
	}
}

// Dial establishes the WebSocket connection.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if d.Signer != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		signed, err := d.Signer.Sign(http.MethodGet, u.Path)
		if err != nil {
			return nil, fmt.Errorf("sign handshake: %w", err)
		}
		for k, v := range signed {
			header[k] = v
		}
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}

	bufferSize := d.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	t := &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
		messages:     make(chan TimestampedMessage, bufferSize),
		errors:       make(chan error, 1),
		done:         make(chan struct{}),
		connected:    true,
	}

	go t.readLoop()

	logger.Debug("websocket connected", "url", rawURL)

	return t, nil
}

// wsTransport implements Transport over a gorilla websocket.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// Close gracefully closes the connection.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	// Signal the read loop to stop
	close(t.done)

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	return t.conn.Close()
}

// Send writes raw bytes to the connection.
func (t *wsTransport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (t *wsTransport) Messages() <-chan TimestampedMessage {
	return t.messages
}

// Errors returns the errors channel.
func (t *wsTransport) Errors() <-chan error {
	return t.errors
}

// IsConnected returns the current connection state.
func (t *wsTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop reads frames from the WebSocket and sends them to the messages channel.
func (t *wsTransport) readLoop() {
	defer close(t.messages)
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-t.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			select {
			case t.errors <- err:
			default:
			}
			return
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case t.messages <- msg:
		case <-t.done:
			return
		default:
			t.logger.Warn("message buffer full, dropping message")
		}
	}
}
