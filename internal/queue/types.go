package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/chatlink/internal/model"
)

// Errors
var (
	ErrDeliveryFailed = errors.New("message delivery failed")
	ErrQueueFull      = errors.New("queue full")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotFailed      = errors.New("message is not failed")
	ErrClosed         = errors.New("queue closed")
	ErrAckTimeout     = errors.New("ack timeout")
	ErrInvalidMessage = errors.New("invalid message")
)

// DeliveryError is the terminal error of a message that ran out of retries.
type DeliveryError struct {
	ID       string
	Attempts int
	Err      error // last send error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message %s: failed after %d attempts: %v", e.ID, e.Attempts, e.Err)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Event names.
const (
	EventQueued         = "message_queued"
	EventSending        = "message_sending"
	EventSent           = "message_sent"
	EventRetryScheduled = "message_retry_scheduled"
	EventFailed         = "message_failed"
	EventEvicted        = "message_evicted"
)

// Event reports a change to one message.
type Event struct {
	Type    string
	Message model.Message // copy taken when the event was raised
	Err     error         // send error for retry_scheduled, *DeliveryError for failed
	Delay   time.Duration // backoff for retry_scheduled
}

// Sender is the transport the queue delivers through.
type Sender interface {
	IsConnected() bool
	Send(frame []byte) error
}

// Config configures a Queue.
type Config struct {
	MaxRetries     int           // Send failures before a message is marked failed
	RetryBaseDelay time.Duration // Wait before the first retry
	RetryMaxDelay  time.Duration // Cap on the retry wait
	Jitter         float64       // Retry delay jitter fraction (0 disables)
	AckTimeout     time.Duration // Wait for message:ack after a send (0 = send success completes)
	MaxEntries     int           // Tracked messages before eviction (0 = unbounded)
	SentHistory    int           // Recently sent IDs remembered for dedup and Status
	SaveTimeout    time.Duration // Per snapshot write
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		RetryMaxDelay:  30 * time.Second,
		MaxEntries:     1000,
		SentHistory:    256,
		SaveTimeout:    5 * time.Second,
	}
}

// Stats holds queue counters.
type Stats struct {
	Queued  int // current
	Sending int // current
	Failed  int // current

	Enqueued   int64
	Duplicates int64
	Sent       int64
	Retries    int64
	Failures   int64 // messages that ran out of retries
	Evicted    int64
	SaveErrors int64
}
