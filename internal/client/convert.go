package client

import (
	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/poller"
	"github.com/rickgao/chatlink/internal/queue"
)

// ConnectionConfig converts the connection section of a config file.
func ConnectionConfig(cc config.ConnectionConfig) connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = cc.URL
	if cc.ReconnectDelay > 0 {
		cfg.ReconnectDelay = cc.ReconnectDelay
	}
	if cc.ReconnectMaxDelay > 0 {
		cfg.ReconnectMaxDelay = cc.ReconnectMaxDelay
	}
	if cc.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *cc.MaxReconnectAttempts
	}
	if cc.HeartbeatInterval != nil {
		cfg.HeartbeatInterval = *cc.HeartbeatInterval
	}
	if cc.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = cc.HeartbeatTimeout
	}
	if cc.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = cc.HandshakeTimeout
	}
	if cc.WriteTimeout > 0 {
		cfg.WriteTimeout = cc.WriteTimeout
	}
	if cc.BufferSize > 0 {
		cfg.BufferSize = cc.BufferSize
	}
	if cc.Jitter != nil {
		cfg.Jitter = *cc.Jitter
	}
	return cfg
}

// QueueConfig converts the queue section of a config file.
func QueueConfig(qc config.QueueConfig) queue.Config {
	cfg := queue.DefaultConfig()
	cfg.MaxRetries = qc.MaxRetries
	if qc.RetryBaseDelay > 0 {
		cfg.RetryBaseDelay = qc.RetryBaseDelay
	}
	if qc.RetryMaxDelay > 0 {
		cfg.RetryMaxDelay = qc.RetryMaxDelay
	}
	cfg.AckTimeout = qc.AckTimeout
	if qc.MaxEntries > 0 {
		cfg.MaxEntries = qc.MaxEntries
	}
	if qc.SentHistory > 0 {
		cfg.SentHistory = qc.SentHistory
	}
	if qc.SaveTimeout > 0 {
		cfg.SaveTimeout = qc.SaveTimeout
	}
	return cfg
}

// PollerConfig converts the poller section of a config file.
func PollerConfig(pc config.PollerConfig) poller.Config {
	cfg := poller.DefaultConfig()
	if pc.Interval > 0 {
		cfg.Interval = pc.Interval
	}
	if pc.Concurrency > 0 {
		cfg.Concurrency = pc.Concurrency
	}
	if pc.PageSize > 0 {
		cfg.PageSize = pc.PageSize
	}
	return cfg
}
