// Package config loads the deployment configuration of a worker fleet from YAML.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/executor"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/aretw0/asyncworker/pkg/window"
	"gopkg.in/yaml.v3"
)

const (
	defaultRuntime           = time.Hour
	defaultFuzz              = 10 * time.Minute
	defaultTimeoutMultiplier = 1.5

	defaultStoreBackend = "file"
	defaultStoreDir     = ".asyncworker/runners"
	defaultQueueBackend = "memory"

	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "asyncworker:"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultHTTPAddr = ":8080"

	defaultSchedule = "@every 1m"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Runner     RunnerConfig     `yaml:"runner"`
	Store      StoreConfig      `yaml:"store"`
	Queue      QueueConfig      `yaml:"queue"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	HTTP       HTTPConfig       `yaml:"http"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Process    ProcessConfig    `yaml:"process"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
}

// RunnerConfig is the window and recovery policy shared by every runner.
type RunnerConfig struct {
	// Runtime is the base length of a polling window.
	Runtime time.Duration `yaml:"runtime"`

	// Fuzz is the upper bound of the random extension added to Runtime.
	Fuzz time.Duration `yaml:"fuzz"`

	// TimeoutMultiplier scales the window into the deadline after which a listening
	// runner is presumed dead.
	TimeoutMultiplier float64 `yaml:"timeout_multiplier"`

	Autorecover        bool `yaml:"autorecover"`
	RequireAtomicClaim bool `yaml:"require_atomic_claim"`
}

// StoreConfig selects the runner store.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, file, redis
	Dir     string `yaml:"dir"`
}

// QueueConfig selects the job backend and the retry policy.
type QueueConfig struct {
	Backend      string        `yaml:"backend"` // memory, redis
	Names        []string      `yaml:"names"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	// EncryptionKey seals job payloads at rest when set (base64, 32 bytes).
	// FallbackKeys are older keys still accepted when opening payloads.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SupervisorConfig lists the runners the supervisor keeps alive.
type SupervisorConfig struct {
	Schedule string   `yaml:"schedule"`
	Runners  []string `yaml:"runners"`
}

// ProcessConfig points at the allow-list of commands runnable as jobs.
type ProcessConfig struct {
	ToolsFile string `yaml:"tools_file"`
}

// CleanupConfig selects the built-in per-job cleaners.
type CleanupConfig struct {
	FreeOSMemory bool `yaml:"free_os_memory"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	c := Config{Runner: RunnerConfig{Fuzz: defaultFuzz}}
	c.SetDefaults()
	return c
}

// SetDefaults sets reasonable default values for optional fields.
// Fuzz is left alone since zero is a meaningful value; Load starts from Default instead.
func (c *Config) SetDefaults() {
	if c.Runner.Runtime == 0 {
		c.Runner.Runtime = defaultRuntime
	}
	if c.Runner.TimeoutMultiplier == 0 {
		c.Runner.TimeoutMultiplier = defaultTimeoutMultiplier
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if c.Store.Dir == "" {
		c.Store.Dir = defaultStoreDir
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if len(c.Queue.Names) == 0 {
		c.Queue.Names = []string{domain.DefaultQueue}
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = executor.DefaultPollInterval
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = executor.DefaultMaxAttempts
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = executor.DefaultRetryDelay
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = defaultRedisPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.Supervisor.Schedule == "" {
		c.Supervisor.Schedule = defaultSchedule
	}
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	var errs []error

	if err := c.Window().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("runner: %w", err))
	}

	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store backend must be memory, file or redis, got %q", c.Store.Backend))
	}
	switch c.Queue.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("queue backend must be memory or redis, got %q", c.Queue.Backend))
	}

	if c.Queue.PollInterval < 0 {
		errs = append(errs, errors.New("queue poll interval must not be negative"))
	}
	if c.Queue.MaxAttempts < 0 {
		errs = append(errs, errors.New("queue max attempts must not be negative"))
	}
	if c.Queue.RetryDelay < 0 {
		errs = append(errs, errors.New("queue retry delay must not be negative"))
	}

	if _, _, err := c.EncryptionKeys(); err != nil {
		errs = append(errs, err)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// EncryptionKeys decodes the payload keys. active is nil when encryption is off.
func (c *Config) EncryptionKeys() (active []byte, fallback [][]byte, err error) {
	if c.Queue.EncryptionKey == "" {
		if len(c.Queue.FallbackKeys) > 0 {
			return nil, nil, errors.New("queue fallback keys require an encryption key")
		}
		return nil, nil, nil
	}
	if active, err = decodeKey(c.Queue.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("queue encryption key: %w", err)
	}
	for i, k := range c.Queue.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("queue fallback key %d: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Window returns the window policy of the runner section.
func (c *Config) Window() window.Config {
	return window.Config{
		Runtime:           c.Runner.Runtime,
		Fuzz:              c.Runner.Fuzz,
		TimeoutMultiplier: c.Runner.TimeoutMultiplier,
	}
}

// Lifecycle returns the controller policy.
func (c *Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		Window:             c.Window(),
		Autorecover:        c.Runner.Autorecover,
		RequireAtomicClaim: c.Runner.RequireAtomicClaim,
	}
}

// Executor returns the executor settings.
func (c *Config) Executor() executor.Config {
	return executor.Config{
		Queues:       c.Queue.Names,
		PollInterval: c.Queue.PollInterval,
		MaxAttempts:  c.Queue.MaxAttempts,
		RetryDelay:   c.Queue.RetryDelay,
	}
}

// Load reads the YAML config file at path over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
