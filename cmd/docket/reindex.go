package main

import (
	"fmt"
	"time"

	"github.com/poiesic/docket/reindex"
	"github.com/urfave/cli/v2"
)

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:   "reindex",
		Usage:  "Deliver the stored chunks of every completed document to the vector index again",
		Action: reindexAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of documents to load in each batch",
				Value: reindex.DefaultBatchSize,
			},
		},
	}
}

func reindexAction(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	r := db.Reindexer(c.Int("batch-size"))
	total, err := r.Total(c.Context)
	if err != nil {
		return err
	}
	if total == 0 {
		fmt.Fprintln(c.App.Writer, "No completed documents to reindex")
		return nil
	}
	fmt.Fprintf(c.App.ErrWriter, "Reindexing %d documents (batch size: %d)\n", total, c.Int("batch-size"))

	tracker := NewProgressTracker(c.App.ErrWriter, total)
	tracker.Start()
	stats, err := r.Run(c.Context, tracker.Update)
	tracker.Finish(stats.Documents)
	if err != nil {
		return fmt.Errorf("reindex stopped after %d documents: %w", stats.Documents, err)
	}

	fmt.Fprintf(c.App.Writer, "Reindexed %d documents (%d chunks) in %v\n",
		stats.Documents, stats.Chunks, stats.Elapsed.Round(time.Millisecond))
	return nil
}
