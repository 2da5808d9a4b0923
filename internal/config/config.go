package config

import "time"

// Config is the root configuration for a chatlink client.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Connection ConnectionConfig `yaml:"connection"`
	Queue      QueueConfig      `yaml:"queue"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	API        APIConfig        `yaml:"api"`
	Poller     PollerConfig     `yaml:"poller"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID     string `yaml:"id" env:"CHATLINK_INSTANCE_ID"`
	UserID string `yaml:"user_id" env:"CHATLINK_USER_ID"`
}

// ConnectionConfig holds websocket connection manager settings.
// A negative MaxReconnectAttempts means retry forever. An explicit zero
// HeartbeatInterval or Jitter disables that feature; leaving them unset
// selects the default.
type ConnectionConfig struct {
	URL                  string         `yaml:"url" env:"CHATLINK_WS_URL"`
	ReconnectDelay       time.Duration  `yaml:"reconnect_delay" env:"CHATLINK_RECONNECT_DELAY"`
	ReconnectMaxDelay    time.Duration  `yaml:"reconnect_max_delay" env:"CHATLINK_RECONNECT_MAX_DELAY"`
	MaxReconnectAttempts *int           `yaml:"max_reconnect_attempts" env:"CHATLINK_MAX_RECONNECT_ATTEMPTS"`
	HeartbeatInterval    *time.Duration `yaml:"heartbeat_interval" env:"CHATLINK_HEARTBEAT_INTERVAL"`
	HeartbeatTimeout     time.Duration  `yaml:"heartbeat_timeout" env:"CHATLINK_HEARTBEAT_TIMEOUT"`
	HandshakeTimeout     time.Duration  `yaml:"handshake_timeout" env:"CHATLINK_HANDSHAKE_TIMEOUT"`
	WriteTimeout         time.Duration  `yaml:"write_timeout" env:"CHATLINK_WRITE_TIMEOUT"`
	BufferSize           int            `yaml:"buffer_size" env:"CHATLINK_BUFFER_SIZE"`
	Jitter               *float64       `yaml:"jitter" env:"CHATLINK_RECONNECT_JITTER"`
}

// QueueConfig holds outbound delivery queue settings.
// AckTimeout of zero treats a successful write as delivery.
type QueueConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"CHATLINK_QUEUE_MAX_RETRIES"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"CHATLINK_QUEUE_RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" env:"CHATLINK_QUEUE_RETRY_MAX_DELAY"`
	AckTimeout     time.Duration `yaml:"ack_timeout" env:"CHATLINK_QUEUE_ACK_TIMEOUT"`
	MaxEntries     int           `yaml:"max_entries" env:"CHATLINK_QUEUE_MAX_ENTRIES"`
	SentHistory    int           `yaml:"sent_history" env:"CHATLINK_QUEUE_SENT_HISTORY"`
	SaveTimeout    time.Duration `yaml:"save_timeout" env:"CHATLINK_QUEUE_SAVE_TIMEOUT"`
}

// SnapshotConfig selects where the queue is persisted between runs.
type SnapshotConfig struct {
	Backend  string   `yaml:"backend" env:"CHATLINK_SNAPSHOT_BACKEND"` // memory, file, sqlite, postgres
	Path     string   `yaml:"path" env:"CHATLINK_SNAPSHOT_PATH"`       // file and sqlite
	Codec    string   `yaml:"codec" env:"CHATLINK_SNAPSHOT_CODEC"`     // json or cbor (file only)
	Compress bool     `yaml:"compress" env:"CHATLINK_SNAPSHOT_COMPRESS"`
	Key      string   `yaml:"key" env:"CHATLINK_SNAPSHOT_KEY"` // row owner for shared databases
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"CHATLINK_PG_HOST"`
	Port     int    `yaml:"port" env:"CHATLINK_PG_PORT"`
	Name     string `yaml:"name" env:"CHATLINK_PG_NAME"`
	User     string `yaml:"user" env:"CHATLINK_PG_USER"`
	Password string `yaml:"password" env:"CHATLINK_PG_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"CHATLINK_PG_SSL_MODE"`
	MaxConns int    `yaml:"max_conns" env:"CHATLINK_PG_MAX_CONNS"`
	MinConns int    `yaml:"min_conns" env:"CHATLINK_PG_MIN_CONNS"`
}

// APIConfig holds REST API and credential settings.
type APIConfig struct {
	RestURL        string        `yaml:"rest_url" env:"CHATLINK_REST_URL"`
	APIKey         string        `yaml:"api_key" env:"CHATLINK_API_KEY"`                   // Key ID sent in X-Chat-Key
	PrivateKeyPath string        `yaml:"private_key_path" env:"CHATLINK_PRIVATE_KEY_PATH"` // RSA private key PEM file
	Token          string        `yaml:"token" env:"CHATLINK_TOKEN"`                       // Bearer token, used when no key is set
	Timeout        time.Duration `yaml:"timeout" env:"CHATLINK_API_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"CHATLINK_API_MAX_RETRIES"`
}

// PollerConfig holds polling fallback settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled" env:"CHATLINK_POLLER_ENABLED"`
	Interval    time.Duration `yaml:"interval" env:"CHATLINK_POLLER_INTERVAL"`
	Concurrency int           `yaml:"concurrency" env:"CHATLINK_POLLER_CONCURRENCY"`
	PageSize    int           `yaml:"page_size" env:"CHATLINK_POLLER_PAGE_SIZE"`
}

// HealthConfig holds the health endpoint settings. Port 0 disables it.
type HealthConfig struct {
	Port int    `yaml:"port" env:"CHATLINK_HEALTH_PORT"`
	Path string `yaml:"path" env:"CHATLINK_HEALTH_PATH"`
}
