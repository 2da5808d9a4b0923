package client

import (
	"log/slog"

	"github.com/rickgao/chatlink/internal/auth"
	"github.com/rickgao/chatlink/internal/clock"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/poller"
	"github.com/rickgao/chatlink/internal/snapshot"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for reconnect, heartbeat and retry timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d connection.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithSigner replaces the signer built from the API config.
func WithSigner(s auth.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithStore replaces the snapshot store built from the snapshot config.
// The Client does not close a store passed this way.
func WithStore(s snapshot.Store) Option {
	return func(c *Client) {
		c.store = s
		c.ownStore = false
	}
}

// WithFetcher replaces the history client used by the polling fallback.
func WithFetcher(f poller.Fetcher) Option {
	return func(c *Client) { c.fetcher = f }
}
