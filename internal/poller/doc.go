// Package poller implements the polling fallback.
//
// While the websocket is not connected the Poller:
//   - Fetches new messages for every tracked conversation on an interval
//   - Bounds concurrent requests with an errgroup limit
//   - Injects fetched messages into socket dispatch as "message" events
//   - Skips messages already delivered over the socket
//   - Reports fallback health so the status bridge can show polling mode
package poller
