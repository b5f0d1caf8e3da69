package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine" validate:"required"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper" validate:"required"`
	Events    EventsConfig    `mapstructure:"events" validate:"required"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// Driver selects the storage backend; sqlite URLs are file paths or DSNs.
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL                    string `mapstructure:"url" validate:"required"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" validate:"gt=0"`
}

// AuthConfig contains authentication settings. Tokens are issued by the
// identity provider; this service only validates them.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// EngineConfig tunes the progress engine.
type EngineConfig struct {
	// MaxRetries bounds the re-read/recompute/resubmit loop on version conflicts.
	MaxRetries      int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	DefaultPageSize int `mapstructure:"default_page_size" validate:"gt=0"`
	MaxPageSize     int `mapstructure:"max_page_size" validate:"gtefield=DefaultPageSize"`
}

// SweeperConfig controls the expiration sweep schedule.
type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required"`
}

// EventsConfig configures completion event delivery.
// An empty NATSURL keeps delivery in-process only.
type EventsConfig struct {
	QueueSize     int    `mapstructure:"queue_size" validate:"gt=0"`
	WorkerCount   int    `mapstructure:"worker_count" validate:"gt=0"`
	NATSURL       string `mapstructure:"nats_url" validate:"omitempty,url"`
	Stream        string `mapstructure:"stream" validate:"required_with=NATSURL"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required_with=NATSURL"`
}

// CacheConfig configures the optional Redis read-through cache for task
// definitions. An empty RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr  string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	TTLSeconds int    `mapstructure:"ttl_seconds" validate:"gte=0"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter" validate:"omitempty,oneof=otlp-http stdout none"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}
