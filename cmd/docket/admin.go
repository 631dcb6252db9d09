package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/poiesic/docket/config"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/orchestrator"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a task and every task it spawned",
		ArgsUsage: "<task-id>",
		Action:    cancelAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "terminate",
				Usage: "Interrupt the running document instead of stopping at the next document boundary",
			},
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Remove documents from the vector index, the chunk cache and the store",
		ArgsUsage: "<document-id>...",
		Action:    deleteAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not show progress",
			},
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Owner recorded on the task",
			},
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the chunk cache",
		Subcommands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "Remove cached chunks",
				Action: cacheClearAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document",
						Usage: "Only remove entries written for this document",
					},
				},
			},
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:   "cleanup",
		Usage:  "Remove finished task records",
		Action: cleanupAction,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Remove records completed longer ago than this (default from configuration)",
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write a configuration file with default values",
				Action: configInitAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: configShowAction,
			},
		},
	}
}

func cancelAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one task ID, got %d", c.NArg())
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	children, err := db.Orchestrator().Cancel(c.Context, c.Args().First(), c.Bool("terminate"))
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Cancelled task %s", c.Args().First())
	if len(children) > 0 {
		fmt.Fprintf(c.App.Writer, " and %d child tasks", len(children))
	}
	fmt.Fprintln(c.App.Writer)
	return nil
}

func deleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one document ID is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	record, err := db.Orchestrator().SubmitDeleteBatch(c.Context, c.Args().Slice(), c.String("owner"))
	if err != nil {
		return fmt.Errorf("failed to submit delete: %w", err)
	}
	total, _ := strconv.Atoi(record.Metadata[orchestrator.MetaDocuments])

	final, err := followTask(c, db, record, total)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Delete %s: %s\n", final.ID, final.Status)
	if final.Status == core.TaskFailure {
		return fmt.Errorf("delete failed: %s", final.Error)
	}
	if final.Status != core.TaskSuccess {
		return nil
	}
	summary, err := orchestrator.ParseDeleteSummary(final.Result)
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "  deleted: %d\n", len(summary.Deleted))
	fmt.Fprintf(c.App.Writer, "  missing: %d\n", len(summary.Missing))
	fmt.Fprintf(c.App.Writer, "  failed:  %d\n", len(summary.Failed))
	for _, id := range summary.Failed {
		fmt.Fprintf(c.App.Writer, "  %s: not deleted\n", id)
	}
	return nil
}

func cacheClearAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	var n int
	if id := c.String("document"); id != "" {
		n, err = db.Chunker().Invalidate(c.Context, id)
	} else {
		n, err = db.Chunker().InvalidateAll(c.Context)
	}
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Removed %d cache entries\n", n)
	return nil
}

func cleanupAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	age := db.Config().Retention.MaxAge
	if c.IsSet("older-than") {
		age = c.Duration("older-than")
	}
	n, err := db.Tasks().CleanupOlderThan(c.Context, age)
	if err != nil {
		return fmt.Errorf("failed to clean up tasks: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Removed %d task records\n", n)
	return nil
}

func configInitAction(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.Default()
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}

func configShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.AI.APIToken != "" {
		cfg.AI.APIToken = "********"
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
