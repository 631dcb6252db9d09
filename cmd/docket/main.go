// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/docket"
	"github.com/poiesic/docket/config"
	"github.com/poiesic/docket/core"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docket",
		Usage: "Document ingestion pipeline: extract, chunk and index files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   defaultConfigPath(),
				EnvVars: []string{"DOCKET_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Override the data directory from the configuration",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			ingestCommand(),
			batchCommand(),
			retryCommand(),
			statusCommand(),
			tasksCommand(),
			documentsCommand(),
			cancelCommand(),
			deleteCommand(),
			cacheCommand(),
			cleanupCommand(),
			reindexCommand(),
			watchCommand(),
			serveMetricsCommand(),
			configCommand(),
		},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docket.yaml"
	}
	return filepath.Join(home, ".docket", "docket.yaml")
}

// loadConfig reads the configuration file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func openDatabase(c *cli.Context) (*docket.Database, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	db, err := docket.NewDatabase(cfg, docket.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// chunkingFlags are shared by the commands that submit work.
func chunkingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Maximum chunk length (default from configuration)",
		},
		&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "Overlap between consecutive chunks (default from configuration)",
		},
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "Chunking strategy: recursive, fixed_size, semantic, custom_separator, markup, adaptive",
		},
		&cli.StringFlag{
			Name:  "separator",
			Usage: "Separator for the fixed_size strategy",
		},
		&cli.StringSliceFlag{
			Name:  "custom-separator",
			Usage: "Separator for the custom_separator strategy, in priority order (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "keep-separator",
			Usage: "Keep custom separators attached to the following piece",
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Vector index collection (default from configuration)",
		},
		&cli.StringFlag{
			Name:  "owner",
			Usage: "Owner recorded on the task",
		},
	}
}

// requestFromFlags builds the chunking request from the configuration,
// overridden by any chunking flag that was set.
func requestFromFlags(c *cli.Context, cfg *config.Config) (core.ChunkingRequest, error) {
	chunking := cfg.Chunking
	if c.IsSet("chunk-size") {
		chunking.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		chunking.ChunkOverlap = c.Int("chunk-overlap")
	}
	if c.IsSet("strategy") {
		chunking.Strategy = c.String("strategy")
	}
	if c.IsSet("separator") {
		chunking.Separator = c.String("separator")
	}
	if c.IsSet("custom-separator") {
		chunking.CustomSeparators = unescape(c.StringSlice("custom-separator"))
	}
	if c.IsSet("keep-separator") {
		chunking.KeepSeparator = c.Bool("keep-separator")
	}

	override := *cfg
	override.Chunking = chunking
	return override.Request()
}

// unescape turns the two-character sequences \n and \t typed on a shell
// into the characters they name.
func unescape(seps []string) []string {
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t")
	out := make([]string, len(seps))
	for i, s := range seps {
		out[i] = r.Replace(s)
	}
	return out
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
