// Package events provides the subscriber registry shared by the
// connection manager, the socket layer, the message queue, and the
// status bridge.
//
// A Registry maps an event name to an ordered list of handlers. Handlers
// run in registration order; a panicking handler is recovered and does
// not stop the rest. Removing a handler is idempotent and never disturbs
// a dispatch that is already running.
//
// A Notifier serializes delivery: components post notifications while
// holding their own lock and drain after releasing it, so subscribers
// observe notifications in the order they were posted.
package events
