// Package config is the Settings & Secret Resolver: it loads configuration
// and named secrets once at process startup into an immutable Config value.
// There is no live-reload path — per spec, a process-wide reload happens
// only via restart, so components receive *Config by constructor injection
// and never consult a global.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DeploymentProfile selects which storage backend the failed-record queue
// and audit log use.
type DeploymentProfile string

const (
	// ProfileLite runs against embedded SQLite, no external dependencies.
	ProfileLite DeploymentProfile = "lite"
	// ProfileStandard runs against Postgres + Redis, HA-ready.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageBackend is the durable store used by the failed-record queue and
// audit log.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// Config is the frozen settings object every component is constructed with.
type Config struct {
	Profile DeploymentProfile `mapstructure:"profile"`

	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Target       EndpointConfig     `mapstructure:"target"`
	Fleet        EndpointConfig     `mapstructure:"fleet"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Notification NotificationConfig `mapstructure:"notification"`
	Features     FeatureConfig      `mapstructure:"features"`
}

// AppConfig holds process identity settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig configures the control-plane HTTP server.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// SyncConfig holds the sync engine's scheduling and concurrency knobs
// (spec §6 Identifiers).
type SyncConfig struct {
	IntervalSeconds           int  `mapstructure:"interval_seconds"`
	Workers                   int  `mapstructure:"workers"`
	EntityConcurrency         int  `mapstructure:"entity_concurrency"`
	NotificationCooldownSecs  int  `mapstructure:"notification_cooldown_seconds"`
	PauseDefault              bool `mapstructure:"pause_default"`
	DeletesEnabled            bool `mapstructure:"deletes_enabled"`
}

// Interval returns the configured sync interval as a Duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// SoftDeadline is the per-syncer-iteration soft deadline (spec §5):
// sync_interval * 0.8.
func (s SyncConfig) SoftDeadline() time.Duration {
	return time.Duration(float64(s.Interval()) * 0.8)
}

// NotificationCooldown returns the notifier's dedup cooldown.
func (s SyncConfig) NotificationCooldown() time.Duration {
	return time.Duration(s.NotificationCooldownSecs) * time.Second
}

// StorageConfig selects and configures the failed-record-queue/audit-log
// backend.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend"`
	SQLitePath     string         `mapstructure:"sqlite_path"`
	MigrationsDir  string         `mapstructure:"migrations_dir"`
	OutputDir      string         `mapstructure:"output_dir"`
}

// DatabaseConfig configures both the (optional) Postgres failed-record/audit
// backend and the ERP read-only source adapter.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	DSN             string        `mapstructure:"dsn"`
}

// RedisConfig configures the cache manager's shared remote tier.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// CacheConfig configures the Cache & Freshness Manager.
type CacheConfig struct {
	TTLHours        float64 `mapstructure:"ttl_hours"`
	Namespace       string  `mapstructure:"namespace"`
	LRUSize         int     `mapstructure:"lru_size"`
	DiskFallbackDir string  `mapstructure:"disk_fallback_dir"`
}

// TTL returns the configured cache TTL as a Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours * float64(time.Hour))
}

// HTTPConfig configures the rate-limited HTTP client shared by the Target,
// Fleet, and Directory adapters.
type HTTPConfig struct {
	RPSPerHost      float64       `mapstructure:"rps_per_host"`
	BurstPerHost    int           `mapstructure:"burst_per_host"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoffMs   int           `mapstructure:"base_backoff_ms"`
	MaxBackoffMs    int           `mapstructure:"max_backoff_ms"`
	QueueTimeoutMs  int           `mapstructure:"queue_timeout_ms"`
	MaxResponseBytes int64        `mapstructure:"max_response_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent_per_host"`
}

func (h HTTPConfig) BaseBackoff() time.Duration { return time.Duration(h.BaseBackoffMs) * time.Millisecond }
func (h HTTPConfig) MaxBackoff() time.Duration  { return time.Duration(h.MaxBackoffMs) * time.Millisecond }
func (h HTTPConfig) QueueTimeout() time.Duration {
	return time.Duration(h.QueueTimeoutMs) * time.Millisecond
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EndpointConfig names a base URL + bearer token pair, used by the Target
// and Fleet adapters.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// DirectoryConfig names the directory service's tenant/client/secret triple.
type DirectoryConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// SMTPConfig names the mail relay used by the error notifier.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// NotificationConfig names the operator recipients for aggregated error
// notifications.
type NotificationConfig struct {
	Recipients []string `mapstructure:"recipients"`
	WebhookURL string   `mapstructure:"webhook_url"`
}

// FeatureConfig holds the feature flags named in spec §6.
type FeatureConfig struct {
	StructuredLoggingEnabled bool `mapstructure:"structured_logging_enabled"`
	DeletesEnabled           bool `mapstructure:"deletes_enabled"`
	PauseDefault             bool `mapstructure:"pause_default"`
}

// Load reads configuration from built-in defaults, an optional YAML file, and
// environment variables (prefixed SAFETYAMP_, nested keys joined with
// underscores), in that ascending order of precedence, then validates the
// result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SAFETYAMP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "standard")

	v.SetDefault("app.name", "safetyamp-sync")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_timeout", "30s")

	v.SetDefault("sync.interval_seconds", 900)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.entity_concurrency", 8)
	v.SetDefault("sync.notification_cooldown_seconds", 3600)
	v.SetDefault("sync.pause_default", false)
	v.SetDefault("sync.deletes_enabled", false)

	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.sqlite_path", "/data/safetyamp-sync.db")
	v.SetDefault("storage.migrations_dir", "migrations")
	v.SetDefault("storage.output_dir", "output")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "safetyamp_sync")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.query_timeout", "30s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", "8ms")
	v.SetDefault("redis.max_retry_backoff", "512ms")

	v.SetDefault("cache.ttl_hours", 24.0)
	v.SetDefault("cache.namespace", "safetyamp")
	v.SetDefault("cache.lru_size", 4096)
	v.SetDefault("cache.disk_fallback_dir", "/data/cache")

	v.SetDefault("http.rps_per_host", 5.0)
	v.SetDefault("http.burst_per_host", 10)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.base_backoff_ms", 200)
	v.SetDefault("http.max_backoff_ms", 10000)
	v.SetDefault("http.queue_timeout_ms", 5000)
	v.SetDefault("http.max_response_bytes", 10485760)
	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.max_concurrent_per_host", 8)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("features.structured_logging_enabled", true)
	v.SetDefault("features.deletes_enabled", false)
	v.SetDefault("features.pause_default", false)
}

// Validate checks structural invariants of the loaded config.
func (c *Config) Validate() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid profile %q (want lite or standard)", c.Profile)
	}
	if c.Storage.Backend != StorageBackendSQLite && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend %q (want sqlite or postgres)", c.Storage.Backend)
	}
	if c.Profile == ProfileLite && c.Storage.Backend != StorageBackendSQLite {
		return fmt.Errorf("lite profile requires storage.backend=sqlite, got %q", c.Storage.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.EntityConcurrency <= 0 {
		return fmt.Errorf("sync.entity_concurrency must be positive")
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache.ttl_hours must be positive")
	}
	if c.HTTP.RPSPerHost <= 0 {
		return fmt.Errorf("http.rps_per_host must be positive")
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be >= 1")
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		return fmt.Errorf("http.max_response_bytes must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app is running in a development
// environment.
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// DatabaseDSN returns the Postgres connection string built from discrete
// fields, or DatabaseConfig.DSN verbatim if one was supplied.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password,
		c.Database.Host, c.Database.Port, c.Database.Database, sslMode)
}
