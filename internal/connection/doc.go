// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one transport connection to the chat gateway
//   - Sends application-level ping frames and detects missing pongs
//   - Handles reconnection with capped exponential backoff
//   - Notifies subscribers of state changes, inbound frames and errors
//
// All timers come from an injected clock. Disconnect cancels every timer
// before it returns and bumps a generation counter so a callback that is
// already running has no effect.
package connection
