package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must be >= 0")
	}
	if c.Queue.RetryMaxDelay < c.Queue.RetryBaseDelay {
		return fmt.Errorf("queue.retry_max_delay (%s) cannot be less than retry_base_delay (%s)",
			c.Queue.RetryMaxDelay, c.Queue.RetryBaseDelay)
	}
	if c.Queue.AckTimeout < 0 {
		return errors.New("queue.ack_timeout must be >= 0")
	}
	if c.Queue.MaxEntries < 1 {
		return errors.New("queue.max_entries must be >= 1")
	}

	if err := c.Snapshot.validate(); err != nil {
		return err
	}

	if c.API.PrivateKeyPath != "" && c.API.APIKey == "" {
		return errors.New("api.api_key is required with api.private_key_path")
	}

	if c.Poller.Enabled {
		if c.API.RestURL == "" {
			return errors.New("api.rest_url is required when poller.enabled")
		}
		if c.Poller.Concurrency < 1 {
			return errors.New("poller.concurrency must be >= 1")
		}
		if c.Poller.PageSize < 1 {
			return errors.New("poller.page_size must be >= 1")
		}
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (cc *ConnectionConfig) validate() error {
	if cc.URL == "" {
		return errors.New("connection.url is required")
	}
	u, err := url.Parse(cc.URL)
	if err != nil {
		return fmt.Errorf("connection.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("connection.url must use ws or wss, got %q", u.Scheme)
	}
	if cc.ReconnectMaxDelay < cc.ReconnectDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_delay (%s)",
			cc.ReconnectMaxDelay, cc.ReconnectDelay)
	}
	var interval time.Duration
	if cc.HeartbeatInterval != nil {
		interval = *cc.HeartbeatInterval
	}
	if interval < 0 || cc.HeartbeatTimeout < 0 {
		return errors.New("connection.heartbeat_interval and heartbeat_timeout must be >= 0")
	}
	if interval > 0 && cc.HeartbeatTimeout == 0 {
		return errors.New("connection.heartbeat_timeout is required when heartbeat_interval is set")
	}
	if cc.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if cc.Jitter != nil && (*cc.Jitter < 0 || *cc.Jitter > 1) {
		return fmt.Errorf("connection.jitter must be between 0 and 1, got %g", *cc.Jitter)
	}
	return nil
}

func (s *SnapshotConfig) validate() error {
	switch s.Backend {
	case "memory":
	case "file", "sqlite":
		if s.Path == "" {
			return fmt.Errorf("snapshot.path is required for the %s backend", s.Backend)
		}
	case "postgres":
		if err := s.Postgres.validate("snapshot.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("snapshot.backend must be memory, file, sqlite or postgres, got %q", s.Backend)
	}
	if s.Codec != "json" && s.Codec != "cbor" {
		return fmt.Errorf("snapshot.codec must be json or cbor, got %q", s.Codec)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
