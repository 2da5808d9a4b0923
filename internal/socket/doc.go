// Package socket implements the typed event layer above the Connection
// Manager.
//
// Frames on the wire are JSON envelopes:
//
//	{"event": "typing", "data": {"userId": "u1", "isTyping": true}}
//
// The event name is peeked with gjson and the data is decoded into the
// payload type bound to the event by an Event[T]. Handlers for an event
// run in registration order; a handler that panics is recovered and
// reported without stopping the others.
package socket
