package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted for stores and the event bus
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config holds all configuration for the a2aflow orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"A2AFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"A2AFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Capability directory
	Directory DirectoryConfig

	// Remote invocation
	RPC RPCConfig

	// Engine
	Engine EngineConfig

	// Storage backends
	Storage StorageConfig

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// DirectoryConfig configures the registry client and its cache
type DirectoryConfig struct {
	RegistryURL string        `env:"A2A_REGISTRY_URL" envDefault:"http://localhost:8104/a2a"`
	CacheTTL    time.Duration `env:"DIRECTORY_CACHE_TTL" envDefault:"5m"`
	Timeout     time.Duration `env:"REGISTRY_TIMEOUT" envDefault:"5s"`
}

// RPCConfig holds the default per-call timeouts and the slow-method overrides
type RPCConfig struct {
	ConnectTimeout time.Duration `env:"RPC_CONNECT_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"RPC_WRITE_TIMEOUT" envDefault:"10s"`
	PoolTimeout    time.Duration `env:"RPC_POOL_TIMEOUT" envDefault:"5s"`
	ReadTimeout    time.Duration `env:"RPC_READ_TIMEOUT" envDefault:"10s"`

	// SlowMethods lists read timeout overrides as "agent.method=duration"
	// pairs, e.g. "report.generate=120s,search.crawl=60s"
	SlowMethods string `env:"RPC_SLOW_METHODS"`

	MaxBodyBytes int64 `env:"RPC_MAX_BODY_BYTES" envDefault:"10485760"`
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	FanOutConcurrency int `env:"FANOUT_CONCURRENCY" envDefault:"4"`
	MaxDepth          int `env:"COMPOSITE_MAX_DEPTH" envDefault:"32"`
}

// StorageConfig selects the backends
type StorageConfig struct {
	CompositeStore string        `env:"COMPOSITE_STORE" envDefault:"memory"`
	CompositeDir   string        `env:"COMPOSITE_DIR" envDefault:"./composites"`
	ExecutionStore string        `env:"EXECUTION_STORE" envDefault:"memory"`
	ExecutionTTL   time.Duration `env:"EXECUTION_TTL" envDefault:"24h"`
	EventBus       string        `env:"EVENT_BUS" envDefault:"memory"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ExecutionTimeout time.Duration `env:"TIMEOUT_EXECUTION" envDefault:"0s"` // 0 disables
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Directory.RegistryURL == "" {
		return fmt.Errorf("registry URL is required")
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"RPC connect timeout", c.RPC.ConnectTimeout},
		{"RPC write timeout", c.RPC.WriteTimeout},
		{"RPC pool timeout", c.RPC.PoolTimeout},
		{"RPC read timeout", c.RPC.ReadTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if _, err := c.RPC.ParseSlowMethods(); err != nil {
		return err
	}

	if c.Engine.FanOutConcurrency < 1 {
		return fmt.Errorf("fan-out concurrency must be at least 1")
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("composite max depth must be at least 1")
	}

	if err := oneOf("composite store", c.Storage.CompositeStore, BackendMemory, BackendRedis, BackendFile); err != nil {
		return err
	}
	if c.Storage.CompositeStore == BackendFile && c.Storage.CompositeDir == "" {
		return fmt.Errorf("composite directory is required for the file store")
	}
	if err := oneOf("execution store", c.Storage.ExecutionStore, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := oneOf("event bus", c.Storage.EventBus, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("worker queue size must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// ParseSlowMethods returns the read timeout overrides keyed by "agent.method"
func (r RPCConfig) ParseSlowMethods() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, pair := range strings.Split(r.SlowMethods, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ref, raw, ok := strings.Cut(pair, "=")
		ref = strings.TrimSpace(ref)
		if !ok || !strings.Contains(ref, ".") {
			return nil, fmt.Errorf("slow method %q must be agent.method=duration", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("slow method %s: %w", ref, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("slow method %s: timeout must be positive", ref)
		}
		out[ref] = d
	}
	return out, nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Storage.CompositeStore == BackendRedis ||
		c.Storage.ExecutionStore == BackendRedis ||
		c.Storage.EventBus == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported %s: %q (must be one of %s)", name, value, strings.Join(allowed, ", "))
}
