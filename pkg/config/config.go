package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vidstream/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address          string        `yaml:"address"`
		ChunkSize        int           `yaml:"chunk_size"`
		MaxBufferSeconds float64       `yaml:"max_buffer_seconds"`
		PollCadence      int           `yaml:"poll_cadence"`
		WaitInterval     time.Duration `yaml:"wait_interval"`
		ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 disables per-read deadlines
		MaxConnections   int           `yaml:"max_connections"`
		ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Catalog struct {
		Backend   string   `yaml:"backend"` // memory | redis
		MediaBase string   `yaml:"media_base"`
		Roots     []string `yaml:"roots"`
		MediaType string   `yaml:"media_type"`
		// CacheTTL bounds how stale a locally cached Redis catalog may be; 0 disables the cache
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"catalog"`

	Admin struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"admin"`

	Client struct {
		ServerAddress       string        `yaml:"server_address"`
		BufferDir           string        `yaml:"buffer_dir"`
		PlaybackThreshold   int64         `yaml:"playback_threshold"`
		TriggerPollInterval time.Duration `yaml:"trigger_poll_interval"`
		NominalBitrate      int64         `yaml:"nominal_bitrate"` // bytes per second, headless player only
		DialTimeout         time.Duration `yaml:"dial_timeout"`
		Reconnect           struct {
			MaxAttempts      int           `yaml:"max_attempts"`
			InitialDelay     time.Duration `yaml:"initial_delay"`
			MaxDelay         time.Duration `yaml:"max_delay"`
			FailureThreshold int           `yaml:"failure_threshold"`
			CooldownPeriod   time.Duration `yaml:"cooldown_period"`
		} `yaml:"reconnect"`
	} `yaml:"client"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		Connections struct {
			PerMinute int `yaml:"per_minute"` // per remote IP
			Burst     int `yaml:"burst"`
		} `yaml:"connections"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if err := validation.ValidateAddress(c.Server.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if c.Server.ChunkSize <= 0 {
		return fmt.Errorf("server.chunk_size must be > 0")
	}
	if c.Server.MaxBufferSeconds <= 0 {
		return fmt.Errorf("server.max_buffer_seconds must be > 0")
	}
	if c.Server.PollCadence <= 0 {
		return fmt.Errorf("server.poll_cadence must be > 0")
	}
	if c.Server.WaitInterval <= 0 {
		return fmt.Errorf("server.wait_interval must be > 0")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server.read_timeout must be >= 0")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Catalog
	switch c.Catalog.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("catalog.backend must be memory or redis, got %q", c.Catalog.Backend)
	}
	if err := validation.ValidateMediaExtension(c.Catalog.MediaType); err != nil {
		return fmt.Errorf("catalog.media_type: %w", err)
	}
	if c.Catalog.CacheTTL < 0 {
		return fmt.Errorf("catalog.cache_ttl must be >= 0")
	}

	// Admin
	if c.Admin.Enabled {
		if err := validation.ValidateAddress(c.Admin.Address); err != nil {
			return fmt.Errorf("admin.address: %w", err)
		}
		if c.Admin.ShutdownTimeout <= 0 {
			return fmt.Errorf("admin.shutdown_timeout must be > 0")
		}
	}

	// Client
	if err := validation.ValidateAddress(c.Client.ServerAddress); err != nil {
		return fmt.Errorf("client.server_address: %w", err)
	}
	if c.Client.PlaybackThreshold <= 0 {
		return fmt.Errorf("client.playback_threshold must be > 0")
	}
	if c.Client.TriggerPollInterval <= 0 {
		return fmt.Errorf("client.trigger_poll_interval must be > 0")
	}
	if c.Client.NominalBitrate <= 0 {
		return fmt.Errorf("client.nominal_bitrate must be > 0")
	}
	if c.Client.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("client.reconnect.max_attempts must be >= 0")
	}
	if c.Client.Reconnect.FailureThreshold <= 0 {
		return fmt.Errorf("client.reconnect.failure_threshold must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Catalog.Backend == "redis" {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when catalog.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when catalog.backend=redis")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Connections.PerMinute <= 0 {
			return fmt.Errorf("rate_limiting.connections.per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Connections.Burst <= 0 {
			return fmt.Errorf("rate_limiting.connections.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":9400"
	cfg.Server.ChunkSize = 256 * 1024
	cfg.Server.MaxBufferSeconds = 30
	cfg.Server.PollCadence = 100
	cfg.Server.WaitInterval = time.Second
	cfg.Server.ReadTimeout = 0
	cfg.Server.MaxConnections = 0
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Catalog.Backend = "memory"
	cfg.Catalog.MediaBase = "etc/media"
	cfg.Catalog.Roots = []string{"videos"}
	cfg.Catalog.MediaType = ".mp4"
	cfg.Catalog.CacheTTL = 2 * time.Second

	cfg.Admin.Enabled = true
	cfg.Admin.Address = ":9401"
	cfg.Admin.ReadTimeout = 15 * time.Second
	cfg.Admin.WriteTimeout = 15 * time.Second
	cfg.Admin.ShutdownTimeout = 10 * time.Second

	cfg.Client.ServerAddress = "localhost:9400"
	cfg.Client.BufferDir = os.TempDir()
	cfg.Client.PlaybackThreshold = 1024 * 1024
	cfg.Client.TriggerPollInterval = 100 * time.Millisecond
	cfg.Client.NominalBitrate = 250 * 1024
	cfg.Client.DialTimeout = 5 * time.Second
	cfg.Client.Reconnect.MaxAttempts = 5
	cfg.Client.Reconnect.InitialDelay = 200 * time.Millisecond
	cfg.Client.Reconnect.MaxDelay = 5 * time.Second
	cfg.Client.Reconnect.FailureThreshold = 5
	cfg.Client.Reconnect.CooldownPeriod = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.Connections.PerMinute = 60
	cfg.RateLimiting.Connections.Burst = 10

	return cfg
}

// MediaRoots returns the catalog roots resolved against catalog.media_base.
func (c *Config) MediaRoots() []string {
	roots := make([]string, 0, len(c.Catalog.Roots))
	for _, root := range c.Catalog.Roots {
		if c.Catalog.MediaBase == "" || strings.HasPrefix(root, "/") {
			roots = append(roots, root)
			continue
		}
		roots = append(roots, strings.TrimSuffix(c.Catalog.MediaBase, "/")+"/"+root)
	}
	return roots
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIDSTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("VIDSTREAM_ADMIN_ADDRESS"); addr != "" {
		c.Admin.Address = addr
	}
	if addr := os.Getenv("VIDSTREAM_CLIENT_SERVER_ADDRESS"); addr != "" {
		c.Client.ServerAddress = addr
	}
	if dir := os.Getenv("VIDSTREAM_BUFFER_DIR"); dir != "" {
		c.Client.BufferDir = dir
	}
	if roots := os.Getenv("VIDSTREAM_CATALOG_ROOTS"); roots != "" {
		c.Catalog.Roots = strings.Split(roots, ",")
	}
	if size := os.Getenv("VIDSTREAM_CHUNK_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			c.Server.ChunkSize = n
		}
	}
	if level := os.Getenv("VIDSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("VIDSTREAM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
