package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the prefix of every configuration environment variable,
// e.g. TICKERPULSE_SERVER_PORT.
const envPrefix = "TICKERPULSE"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Providers ProvidersConfig `yaml:"providers" envconfig:"PROVIDERS"`
	Risk      RiskConfig      `yaml:"risk" envconfig:"RISK"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// WebSocketConfig tunes the stream upgrade endpoint.
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// PipelineConfig tunes run execution. WorkerTimeouts overrides the
// per-worker deadline by worker id.
type PipelineConfig struct {
	WorkerTimeouts          map[string]time.Duration `yaml:"worker_timeouts" envconfig:"WORKER_TIMEOUTS"`
	DefaultWorkerTimeout    time.Duration            `yaml:"default_worker_timeout" envconfig:"DEFAULT_WORKER_TIMEOUT"`
	JobTimeout              time.Duration            `yaml:"job_timeout" envconfig:"JOB_TIMEOUT"`
	ComparisonTimeout       time.Duration            `yaml:"comparison_timeout" envconfig:"COMPARISON_TIMEOUT"`
	MaxSubjects             int                      `yaml:"max_subjects" envconfig:"MAX_SUBJECTS"`
	ForwardComparisonEvents bool                     `yaml:"forward_comparison_events" envconfig:"FORWARD_COMPARISON_EVENTS"`
}

// SessionConfig tunes registry housekeeping.
type SessionConfig struct {
	IdleTTL        time.Duration `yaml:"idle_ttl" envconfig:"IDLE_TTL"`
	TerminalLinger time.Duration `yaml:"terminal_linger" envconfig:"TERMINAL_LINGER"`
	SweepInterval  time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
}

// AuthConfig holds the accepted bearer credentials. An empty list
// disables the handshake check and clients are identified by peer host.
type AuthConfig struct {
	Tokens []string `yaml:"tokens" envconfig:"TOKENS"`
}

// RateLimitConfig tunes the HTTP rate-limit middleware.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// ProvidersConfig tunes the simulated market data vendor.
type ProvidersConfig struct {
	SimRate    float64       `yaml:"sim_rate" envconfig:"SIM_RATE"`
	SimBurst   int           `yaml:"sim_burst" envconfig:"SIM_BURST"`
	SimLatency time.Duration `yaml:"sim_latency" envconfig:"SIM_LATENCY"`
}

// RiskConfig holds the exposure caps enforced by the risk stage.
// A non-positive cap disables that check.
type RiskConfig struct {
	MaxPortfolioPct float64 `yaml:"max_portfolio_pct" envconfig:"MAX_PORTFOLIO_PCT"`
	MaxSectorPct    float64 `yaml:"max_sector_pct" envconfig:"MAX_SECTOR_PCT"`
	MaxOpenOrders   int     `yaml:"max_open_orders" envconfig:"MAX_OPEN_ORDERS"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load resolves the configuration in three layers: built-in defaults,
// then an optional YAML file, then TICKERPULSE_* environment variables.
// Later layers win.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit config file path. An empty path
// skips the file layer.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays the YAML document at path onto cfg. Fields absent
// from the document keep their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile probes the conventional locations.
func findConfigFile() string {
	locations := []string{
		"tickerpulse.yaml",
		"configs/tickerpulse.yaml",
	}
	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		locations = append([]string{path}, locations...)
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks ranges and normalizes the logging fields in place.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read and write timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}

	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 {
		return fmt.Errorf("websocket buffer sizes must be positive")
	}

	if c.Pipeline.MaxSubjects < 2 {
		return fmt.Errorf("pipeline max subjects %d must be at least 2", c.Pipeline.MaxSubjects)
	}
	if c.Pipeline.DefaultWorkerTimeout <= 0 || c.Pipeline.JobTimeout <= 0 || c.Pipeline.ComparisonTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}

	if c.Session.IdleTTL <= 0 || c.Session.TerminalLinger <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session housekeeping intervals must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	if c.Providers.SimRate < 0 || c.Providers.SimBurst < 0 {
		return fmt.Errorf("provider sim rate and burst must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
		c.Logging.Format = strings.ToLower(c.Logging.Format)
	default:
		c.Logging.Format = "json"
	}

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
		c.Logging.Output = strings.ToLower(c.Logging.Output)
	default:
		c.Logging.Output = "console"
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file path is required for output %q", c.Logging.Output)
	}

	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Pipeline: PipelineConfig{
			WorkerTimeouts:          map[string]time.Duration{},
			DefaultWorkerTimeout:    30 * time.Second,
			JobTimeout:              2 * time.Minute,
			ComparisonTimeout:       4 * time.Minute,
			MaxSubjects:             4,
			ForwardComparisonEvents: true,
		},
		Session: SessionConfig{
			IdleTTL:        30 * time.Minute,
			TerminalLinger: 10 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Auth: AuthConfig{},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     100,
			Burst:   50,
		},
		Providers: ProvidersConfig{
			SimRate:  50,
			SimBurst: 100,
		},
		Risk: RiskConfig{
			MaxPortfolioPct: 0.10,
			MaxSectorPct:    0.25,
			MaxOpenOrders:   5,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/tickerpulse.log",
		},
	}
}
