// Package config loads the docket process configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docket/ai"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/orchestrator"
	"github.com/poiesic/docket/queue"
	"github.com/poiesic/docket/splitter"
	"github.com/poiesic/docket/tasks"
	"github.com/poiesic/docket/tokenizer"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Database  string          `yaml:"database,omitempty"` // Document store path; <data_dir>/documents.db when empty
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Workers   WorkersConfig   `yaml:"workers"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AIConfig configures the embedding service. With Enabled false the
// semantic strategy falls back to recursive splitting and chunks are not
// embedded.
type AIConfig struct {
	Enabled        bool    `yaml:"enabled"`
	EmbeddingHost  string  `yaml:"embedding_host"`
	EmbeddingModel string  `yaml:"embedding_model"`
	APIToken       string  `yaml:"api_token,omitempty"`
	BatchSize      int     `yaml:"batch_size"`
	RateLimit      float64 `yaml:"rate_limit"` // Embedding requests per second, 0 for unlimited
	Burst          int     `yaml:"burst"`
}

// ChunkingConfig holds the default chunking request and strategy tuning.
type ChunkingConfig struct {
	ChunkSize           int               `yaml:"chunk_size"`
	ChunkOverlap        int               `yaml:"chunk_overlap"`
	Strategy            string            `yaml:"strategy"`
	Separator           string            `yaml:"separator,omitempty"`
	CustomSeparators    []string          `yaml:"custom_separators,omitempty"`
	KeepSeparator       bool              `yaml:"keep_separator,omitempty"`
	SimilarityThreshold float64           `yaml:"similarity_threshold"`
	Overrides           map[string]string `yaml:"overrides,omitempty"` // Media type to strategy
}

// HeuristicEncoding as the tokenizer encoding skips the BPE tokenizer and
// always estimates token counts from the ratios.
const HeuristicEncoding = "heuristic"

// TokenizerConfig selects the token encoding and heuristic ratios.
type TokenizerConfig struct {
	Encoding      string  `yaml:"encoding"`
	WordRatio     float64 `yaml:"word_ratio"`
	CharsPerToken float64 `yaml:"chars_per_token"`
}

// WorkersConfig sizes the worker pool and retry policy.
type WorkersConfig struct {
	PoolSize   int           `yaml:"pool_size"` // 0 picks runtime.NumCPU()/2
	Backlog    int           `yaml:"backlog"`
	Queue      string        `yaml:"queue"`
	GroupSize  int           `yaml:"group_size"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Collection string        `yaml:"collection"`
}

// RetentionConfig controls the task ledger sweep.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Schedule string        `yaml:"schedule"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "~/.docket",
		AI: AIConfig{
			EmbeddingHost:  "http://localhost:11434/v1",
			EmbeddingModel: "embeddinggemma",
			BatchSize:      ai.DefaultBatchSize,
			Burst:          1,
		},
		Chunking: ChunkingConfig{
			ChunkSize:           1000,
			ChunkOverlap:        200,
			Strategy:            string(core.StrategyAdaptive),
			SimilarityThreshold: splitter.DefaultSimilarityThreshold,
		},
		Tokenizer: TokenizerConfig{
			Encoding:      tokenizer.DefaultEncoding,
			WordRatio:     tokenizer.DefaultWordRatio,
			CharsPerToken: tokenizer.DefaultCharsPerToken,
		},
		Workers: WorkersConfig{
			Backlog:    queue.DefaultBacklog,
			Queue:      queue.DefaultQueue,
			GroupSize:  orchestrator.DefaultGroupSize,
			MaxRetries: core.DefaultMaxRetries,
			BaseDelay:  orchestrator.DefaultBaseDelay,
			Collection: orchestrator.DefaultCollection,
		},
		Retention: RetentionConfig{
			MaxAge:   tasks.DefaultRetention,
			Schedule: tasks.DefaultSweepSchedule,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// Load reads the configuration at path on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%w: reading config file: %w", core.ErrConfig, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %w", core.ErrConfig, err)
		}
	}

	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", core.ErrConfig)
	}
	if _, err := c.Request(); err != nil {
		return err
	}
	for mediaType, name := range c.Chunking.Overrides {
		if _, err := core.ParseStrategy(name); err != nil {
			return fmt.Errorf("override for %s: %w", mediaType, err)
		}
	}
	if t := c.Chunking.SimilarityThreshold; t < -1 || t > 1 {
		return fmt.Errorf("%w: similarity_threshold must be between -1 and 1", core.ErrConfig)
	}
	if c.Tokenizer.WordRatio <= 0 || c.Tokenizer.CharsPerToken <= 0 {
		return fmt.Errorf("%w: tokenizer ratios must be positive", core.ErrConfig)
	}
	if c.Workers.PoolSize < 0 || c.Workers.Backlog < 0 {
		return fmt.Errorf("%w: pool_size and backlog cannot be negative", core.ErrConfig)
	}
	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("%w: retention max_age cannot be negative", core.ErrConfig)
	}
	if c.AI.RateLimit < 0 {
		return fmt.Errorf("%w: ai rate_limit cannot be negative", core.ErrConfig)
	}
	if c.AI.Enabled {
		if err := c.AIConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrConfig, err)
		}
	}
	if err := c.OrchestratorConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	return nil
}

// Request returns the default chunking request.
func (c *Config) Request() (core.ChunkingRequest, error) {
	strategy, err := core.ParseStrategy(c.Chunking.Strategy)
	if err != nil {
		return core.ChunkingRequest{}, err
	}
	opts := []core.RequestOption{core.WithKeepSeparator(c.Chunking.KeepSeparator)}
	if c.Chunking.Separator != "" {
		opts = append(opts, core.WithSeparator(c.Chunking.Separator))
	}
	if len(c.Chunking.CustomSeparators) > 0 {
		opts = append(opts, core.WithCustomSeparators(c.Chunking.CustomSeparators...))
	}
	return core.NewChunkingRequest(c.Chunking.ChunkSize, c.Chunking.ChunkOverlap, strategy, opts...)
}

// AIConfig returns the embedding service configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithAPIToken(c.AI.APIToken),
		ai.WithBatchSize(c.AI.BatchSize),
	)
}

// OrchestratorConfig returns the job orchestration settings.
func (c *Config) OrchestratorConfig() *orchestrator.Config {
	return orchestrator.NewConfig(
		orchestrator.WithGroupSize(c.Workers.GroupSize),
		orchestrator.WithMaxRetries(c.Workers.MaxRetries),
		orchestrator.WithBaseDelay(c.Workers.BaseDelay),
		orchestrator.WithQueue(c.Workers.Queue),
		orchestrator.WithCollection(c.Workers.Collection),
	)
}

// DatabasePath returns the document store path.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "documents.db")
}

// BadgerDir returns the directory of the cache and task ledger.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}

// expand resolves a leading ~ and ${VAR} references in paths and secrets.
func (c *Config) expand() {
	c.DataDir = expandTilde(os.ExpandEnv(c.DataDir))
	c.Database = expandTilde(os.ExpandEnv(c.Database))
	c.AI.APIToken = os.ExpandEnv(c.AI.APIToken)
}

func expandTilde(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
