package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrHeartbeatTimeout     = errors.New("heartbeat timeout (no pong)")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")
	ErrAlreadyClosed        = errors.New("already closed")
	ErrConnectionClosed     = errors.New("connection closed by peer")
)

// TransportError wraps a low-level I/O failure on the transport.
type TransportError struct {
	Op  string // "dial", "read", "write", "ping"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange describes one transition.
type StateChange struct {
	Old     State
	New     State
	Err     error         // cause of the transition, nil for caller-initiated ones
	Attempt int           // reconnect attempt number, 0 while healthy
	Delay   time.Duration // wait before the next attempt when New is StateReconnecting
	At      time.Time
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Stats holds connection counters.
type Stats struct {
	Connects          int64
	Reconnects        int64
	Failures          int64
	HeartbeatTimeouts int64
	FramesIn          int64
	FramesOut         int64
	HandlerPanics     int64
}

// Config configures a Manager. It is copied at construction; build a new
// Manager to change it.
type Config struct {
	URL                  string        // WebSocket URL (e.g., wss://chat.example.com/ws)
	ReconnectDelay       time.Duration // Base wait before the first reconnect
	ReconnectMaxDelay    time.Duration // Cap on the reconnect wait
	MaxReconnectAttempts int           // Reconnects before giving up (<0 = unlimited)
	HeartbeatInterval    time.Duration // Time between pings (0 disables heartbeat)
	HeartbeatTimeout     time.Duration // Max time to wait for a pong
	HandshakeTimeout     time.Duration // Dial timeout
	WriteTimeout         time.Duration // Write deadline for sends
	BufferSize           int           // Inbound message channel buffer size
	Jitter               float64       // Reconnect delay jitter fraction (0 disables)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    25 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1024,
		Jitter:               0.2,
	}
}

// Heartbeat frames. They never reach message subscribers.
var (
	pingFrame = []byte(`{"event":"ping"}`)
	pongFrame = []byte(`{"event":"pong"}`)
)

const (
	eventStateChange          = "state_change"
	eventMessage              = "message"
	eventError                = "error"
	eventMaxReconnectAttempts = "max_reconnect_attempts"
)
