package pipeline

import (
	"time"
)

// Config represents the execution configuration for pipeline runs.
type Config struct {
	// Per-worker timeout overrides keyed by worker ID
	WorkerTimeouts map[string]time.Duration `json:"worker_timeouts"`

	// Default per-worker timeout when neither the worker nor an
	// override specifies one
	DefaultWorkerTimeout time.Duration `json:"default_worker_timeout"`

	// Deadline for a whole run, barrier to terminal event
	JobTimeout time.Duration `json:"job_timeout"`

	// Deadline for a whole comparison fan-out
	ComparisonTimeout time.Duration `json:"comparison_timeout"`

	// Upper bound on subjects in one comparison
	MaxSubjects int `json:"max_subjects"`

	// Whether per-subject events of a comparison are forwarded to the
	// subscriber in addition to the final ranking
	ForwardComparisonEvents bool `json:"forward_comparison_events"`
}

// NewConfig returns the default pipeline configuration.
func NewConfig() *Config {
	return &Config{
		WorkerTimeouts:          make(map[string]time.Duration),
		DefaultWorkerTimeout:    DefaultWorkerTimeout,
		JobTimeout:              DefaultJobTimeout,
		ComparisonTimeout:       2 * DefaultJobTimeout,
		MaxSubjects:             4,
		ForwardComparisonEvents: true,
	}
}

// WorkerTimeout resolves the effective timeout for a worker: explicit
// override first, then the worker's own value, then the default.
func (c *Config) WorkerTimeout(w Worker) time.Duration {
	if timeout, ok := c.WorkerTimeouts[w.ID()]; ok {
		return timeout
	}
	if t := w.Timeout(); t > 0 {
		return t
	}
	if c.DefaultWorkerTimeout > 0 {
		return c.DefaultWorkerTimeout
	}
	return DefaultWorkerTimeout
}

// SetWorkerTimeout overrides the timeout for a specific worker.
func (c *Config) SetWorkerTimeout(workerID string, timeout time.Duration) {
	if c.WorkerTimeouts == nil {
		c.WorkerTimeouts = make(map[string]time.Duration)
	}
	c.WorkerTimeouts[workerID] = timeout
}

// ConfigBuilder provides a fluent interface for building run configurations.
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithWorkerTimeout sets the timeout for a worker.
func (b *ConfigBuilder) WithWorkerTimeout(workerID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetWorkerTimeout(workerID, timeout)
	return b
}

// WithDefaultWorkerTimeout sets the fallback per-worker timeout.
func (b *ConfigBuilder) WithDefaultWorkerTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.DefaultWorkerTimeout = timeout
	return b
}

// WithJobTimeout sets the whole-run deadline.
func (b *ConfigBuilder) WithJobTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.JobTimeout = timeout
	return b
}

// WithComparisonTimeout sets the fan-out deadline.
func (b *ConfigBuilder) WithComparisonTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.ComparisonTimeout = timeout
	return b
}

// WithMaxSubjects bounds comparison fan-out width.
func (b *ConfigBuilder) WithMaxSubjects(n int) *ConfigBuilder {
	if n >= 2 {
		b.config.MaxSubjects = n
	}
	return b
}

// WithForwardComparisonEvents toggles per-subject event forwarding.
func (b *ConfigBuilder) WithForwardComparisonEvents(forward bool) *ConfigBuilder {
	b.config.ForwardComparisonEvents = forward
	return b
}

// Build returns the built configuration.
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
