package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/chatlink/internal/auth"
	"github.com/rickgao/chatlink/internal/backoff"
)

// Client provides access to the chat history REST API.
type Client struct {
	baseURL    string
	signer     auth.Signer
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	retry      backoff.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. A nil signer sends
// unauthenticated requests.
func NewClient(baseURL string, signer auth.Signer, opts ...ClientOption) *Client {
	if signer == nil {
		signer = auth.BearerToken("")
	}
	c := &Client{
		baseURL: baseURL,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.Default(),
		maxRetries: 3,
		retry:      backoff.Policy{Base: time.Second, Max: 30 * time.Second, Jitter: 0.5},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry count and the first backoff delay.
func WithRetries(max int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retry.Base = base
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
