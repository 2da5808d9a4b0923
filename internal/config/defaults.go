package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://localhost:8080/api/v1"
	DefaultReconnectDelay       = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1024
	DefaultReconnectJitter      = 0.2
	DefaultQueueMaxRetries      = 3
	DefaultRetryBaseDelay       = 1 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultQueueMaxEntries      = 1000
	DefaultSentHistory          = 256
	DefaultSaveTimeout          = 5 * time.Second
	DefaultSnapshotBackend      = "memory"
	DefaultSnapshotCodec        = "json"
	DefaultSnapshotKey          = "default"
	DefaultAPITimeout           = 30 * time.Second
	DefaultAPIMaxRetries        = 3
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultPollInterval         = 5 * time.Second
	DefaultPollConcurrency      = 4
	DefaultPollPageSize         = 100
	DefaultHealthPath           = "/health"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Connection defaults
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Connection.MaxReconnectAttempts = &n
	}
	if c.Connection.HeartbeatInterval == nil {
		d := DefaultHeartbeatInterval
		c.Connection.HeartbeatInterval = &d
	}
	if c.Connection.HeartbeatTimeout == 0 {
		c.Connection.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}
	if c.Connection.Jitter == nil {
		j := DefaultReconnectJitter
		c.Connection.Jitter = &j
	}

	// Queue defaults
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = DefaultQueueMaxRetries
	}
	if c.Queue.RetryBaseDelay == 0 {
		c.Queue.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Queue.RetryMaxDelay == 0 {
		c.Queue.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Queue.MaxEntries == 0 {
		c.Queue.MaxEntries = DefaultQueueMaxEntries
	}
	if c.Queue.SentHistory == 0 {
		c.Queue.SentHistory = DefaultSentHistory
	}
	if c.Queue.SaveTimeout == 0 {
		c.Queue.SaveTimeout = DefaultSaveTimeout
	}

	// Snapshot defaults
	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = DefaultSnapshotBackend
	}
	if c.Snapshot.Codec == "" {
		c.Snapshot.Codec = DefaultSnapshotCodec
	}
	if c.Snapshot.Key == "" {
		c.Snapshot.Key = DefaultSnapshotKey
	}
	if c.Snapshot.Backend == "postgres" {
		applyDBDefaults(&c.Snapshot.Postgres)
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultAPIMaxRetries
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.PageSize == 0 {
		c.Poller.PageSize = DefaultPollPageSize
	}

	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
