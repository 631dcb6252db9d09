package orchestrator

import (
	"errors"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/queue"
)

const (
	// DefaultGroupSize is the number of batch documents loaded and reported together.
	DefaultGroupSize = 5

	// DefaultBaseDelay is the backoff before the first retry. It doubles on each retry.
	DefaultBaseDelay = 10 * time.Second

	// DefaultCollection receives chunks of documents submitted without a collection.
	DefaultCollection = "documents"
)

// Config holds orchestration settings.
type Config struct {
	// GroupSize is the number of documents a batch processes per group.
	// Default: 5
	GroupSize int

	// MaxRetries bounds automatic retries of a document after a transient failure.
	// Default: core.DefaultMaxRetries
	MaxRetries int

	// BaseDelay is the first retry delay.
	// Default: 10s
	BaseDelay time.Duration

	// Queue names the task queue jobs are submitted to.
	Queue string

	// Collection is the vector index collection used when a document names none.
	Collection string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithGroupSize sets the batch group size.
func WithGroupSize(n int) ConfigOption {
	return func(c *Config) {
		c.GroupSize = n
	}
}

// WithMaxRetries sets the retry budget for transient failures.
func WithMaxRetries(n int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithBaseDelay sets the first retry delay.
func WithBaseDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.BaseDelay = d
	}
}

// WithQueue sets the task queue name.
func WithQueue(name string) ConfigOption {
	return func(c *Config) {
		c.Queue = name
	}
}

// WithCollection sets the default vector index collection.
func WithCollection(name string) ConfigOption {
	return func(c *Config) {
		c.Collection = name
	}
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		GroupSize:  DefaultGroupSize,
		MaxRetries: core.DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Queue:      queue.DefaultQueue,
		Collection: DefaultCollection,
	}
}

// NewConfig creates a Config with the default values and applies opts.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize fills empty fields with defaults.
func (c *Config) Normalize() {
	if c.GroupSize == 0 {
		c.GroupSize = DefaultGroupSize
	}
	if c.Queue == "" {
		c.Queue = queue.DefaultQueue
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
}

// Validate normalizes the configuration and checks it.
func (c *Config) Validate() error {
	c.Normalize()

	if c.GroupSize < 1 {
		return errors.New("orchestrator config: GroupSize must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("orchestrator config: MaxRetries cannot be negative")
	}
	if c.BaseDelay < 0 {
		return errors.New("orchestrator config: BaseDelay cannot be negative")
	}
	return nil
}
