package socket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/chatlink/internal/model"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrTypeMismatch   = errors.New("event already bound to a different payload type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// validator is implemented by payloads that check their own fields after
// decoding.
type validator interface {
	Validate() error
}

// DecodeError reports a frame whose data did not match the payload type
// registered for its event.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q payload: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Event binds an event name to its payload type.
type Event[T any] struct {
	Name string
}

// Built-in events.
var (
	// EventMessage carries inbound chat messages as arbitrary JSON.
	EventMessage = Event[json.RawMessage]{Name: "message"}

	// EventSend is the outbound form of "message" frames.
	EventSend = Event[model.Outbound]{Name: "message"}

	EventTyping     = Event[Typing]{Name: "typing"}
	EventUserStatus = Event[UserStatus]{Name: "user:status"}
	EventMessageAck = Event[MessageAck]{Name: "message:ack"}
)

// Envelope is the wire frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Typing is the payload of "typing" events.
type Typing struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// UserStatus is the payload of "user:status" events.
type UserStatus struct {
	UserID string               `json:"userId"`
	Status model.PresenceStatus `json:"status"`
}

// Validate rejects presence values outside the known set.
func (s UserStatus) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown presence status %q", ErrInvalidPayload, s.Status)
	}
	return nil
}

// MessageAck is the payload of "message:ack" events.
type MessageAck struct {
	ID string `json:"id"`
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived int64
	FramesInjected int64
	Dispatched     int64
	ParseErrors    int64
	UnknownEvents  int64
	HandlerPanics  int64
	FramesSent     int64
}

// Encode builds the wire frame for ev with payload v.
func Encode[T any](ev Event[T], v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %q payload: %w", ev.Name, err)
	}
	return json.Marshal(Envelope{Event: ev.Name, Data: data})
}
