// Package client assembles a complete chat transport from its parts.
//
// A Client owns one connection.Manager and layers on top of it:
//   - socket routing of typed inbound events
//   - the at-least-once outbound queue with a persisted snapshot
//   - the status bridge that derives mode and notices
//   - the optional REST polling fallback
//
// Connection state changes fan out to the queue, the status bridge and
// the poller. Queue events feed the status bridge.
package client
