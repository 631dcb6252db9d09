package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/poiesic/docket"
	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/extract"
	"github.com/poiesic/docket/orchestrator"
	"github.com/urfave/cli/v2"
)

const pollInterval = 200 * time.Millisecond

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Chunk and index a single document",
		ArgsUsage: "<file>",
		Action:    ingestAction,
		Flags: append(chunkingFlags(),
			&cli.StringFlag{
				Name:  "id",
				Usage: "Document ID (generated when empty)",
			},
			&cli.StringFlag{
				Name:  "media-type",
				Usage: "Declared media type (detected from the file when empty)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not report progress",
			},
		),
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Chunk and index every supported file in directories or a list of files",
		ArgsUsage: "<path>...",
		Action:    batchAction,
		Flags: append(chunkingFlags(),
			&cli.BoolFlag{
				Name:    "recursive",
				Aliases: []string{"r"},
				Usage:   "Descend into subdirectories",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not report progress",
			},
		),
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Reprocess a document that ended in error",
		ArgsUsage: "<document-id>",
		Action:    retryAction,
		Flags:     chunkingFlags(),
	}
}

func ingestAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", c.NArg())
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	req, err := requestFromFlags(c, db.Config())
	if err != nil {
		return err
	}

	record, err := db.Orchestrator().SubmitDocument(c.Context, orchestrator.Submission{
		DocumentID: c.String("id"),
		Path:       path,
		MediaType:  c.String("media-type"),
		Collection: c.String("collection"),
	}, req, c.String("owner"))
	if err != nil {
		return fmt.Errorf("failed to submit document: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Submitted task %s for document %s\n", record.ID, record.Metadata[orchestrator.MetaDocumentID])

	final, err := followTask(c, db, record, 1)
	if err != nil {
		return err
	}
	return reportDocumentTask(c.App.Writer, c, db, final)
}

func batchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file or directory is required")
	}
	paths, err := collectFiles(c.Args().Slice(), c.Bool("recursive"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported files found")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	req, err := requestFromFlags(c, db.Config())
	if err != nil {
		return err
	}

	subs := make([]orchestrator.Submission, len(paths))
	for i, p := range paths {
		subs[i] = orchestrator.Submission{Path: p, Collection: c.String("collection")}
	}
	record, err := db.Orchestrator().SubmitBatch(c.Context, subs, req, c.String("owner"))
	if err != nil {
		return fmt.Errorf("failed to submit batch: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Submitted batch %s with %d documents\n", record.ID, len(subs))

	final, err := followTask(c, db, record, len(subs))
	if err != nil {
		return err
	}
	return reportBatchTask(c.App.Writer, c, db, final)
}

func retryAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one document ID, got %d", c.NArg())
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	req, err := requestFromFlags(c, db.Config())
	if err != nil {
		return err
	}

	record, err := db.Orchestrator().RetryDocument(c.Context, c.Args().First(), req, c.String("owner"))
	if err != nil {
		return fmt.Errorf("failed to retry document: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Submitted task %s for document %s\n", record.ID, c.Args().First())

	final, err := followTask(c, db, record, 1)
	if err != nil {
		return err
	}
	return reportDocumentTask(c.App.Writer, c, db, final)
}

// collectFiles expands directories into the supported files they contain.
// Files named explicitly are kept even when their extension is unknown.
func collectFiles(args []string, recursive bool) ([]string, error) {
	var out []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, abs)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != abs && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if extract.Supported(p) {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// followTask keeps the process alive while the in-process queue works on
// record, reporting progress until the task reaches a terminal status. An
// interrupt terminates the task and waits for its job to wind down.
func followTask(c *cli.Context, db *docket.Database, record *core.TaskRecord, total int) (*core.TaskRecord, error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracker *ProgressTracker
	if !c.Bool("quiet") {
		tracker = NewProgressTracker(c.App.ErrWriter, total)
		tracker.Start()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	taskID := record.ID
	for {
		select {
		case <-ctx.Done():
			background := context.Background()
			fmt.Fprintln(c.App.ErrWriter, "\nInterrupted, cancelling task", taskID)
			if _, err := db.Orchestrator().Cancel(background, taskID, true); err != nil {
				return nil, fmt.Errorf("failed to cancel task: %w", err)
			}
			_ = db.Queue().Wait(background, taskID)
			return db.Tasks().Get(background, taskID)
		case <-ticker.C:
		}

		current, err := db.Tasks().Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if tracker != nil {
			tracker.UpdatePercent(current.Progress)
		}
		if !current.Status.IsTerminal() {
			continue
		}

		// The record can turn terminal before the job returns.
		_ = db.Queue().Wait(ctx, taskID)
		if current, err = db.Tasks().Get(ctx, taskID); err != nil {
			return nil, err
		}
		if tracker != nil {
			tracker.Finish(finishedDocuments(current, total))
		}
		return current, nil
	}
}

func finishedDocuments(record *core.TaskRecord, total int) int {
	if record.Type == orchestrator.TypeDeleteBatch {
		if summary, err := orchestrator.ParseDeleteSummary(record.Result); err == nil {
			return len(summary.Deleted) + len(summary.Missing) + len(summary.Failed)
		}
		return int(record.Progress / 100 * float64(total))
	}
	if record.Type == orchestrator.TypeBatch {
		if summary, err := orchestrator.ParseBatchSummary(record.Result); err == nil {
			return len(summary.Completed) + len(summary.Failed)
		}
		return int(record.Progress / 100 * float64(total))
	}
	if record.Status == core.TaskSuccess || record.Status == core.TaskFailure {
		return total
	}
	return 0
}

func reportDocumentTask(w io.Writer, c *cli.Context, db *docket.Database, record *core.TaskRecord) error {
	fmt.Fprintf(w, "Task %s: %s\n", record.ID, record.Status)
	if id := record.Metadata[orchestrator.MetaDocumentID]; id != "" {
		doc, err := db.Orchestrator().Documents().Get(c.Context, id)
		if err != nil {
			return err
		}
		printDocument(w, doc)
	}
	if record.Status == core.TaskFailure {
		return fmt.Errorf("document processing failed: %s", record.Error)
	}
	return nil
}

func reportBatchTask(w io.Writer, c *cli.Context, db *docket.Database, record *core.TaskRecord) error {
	fmt.Fprintf(w, "Batch %s: %s\n", record.ID, record.Status)

	children, err := db.Tasks().Children(c.Context, record.ID)
	if err != nil {
		return err
	}
	counts := make(map[core.TaskStatus]int)
	for _, child := range children {
		counts[child.Status]++
	}
	fmt.Fprintf(w, "  completed: %d\n", counts[core.TaskSuccess])
	fmt.Fprintf(w, "  failed:    %d\n", counts[core.TaskFailure])
	fmt.Fprintf(w, "  cancelled: %d\n", counts[core.TaskCancelled])
	for _, child := range children {
		if child.Status == core.TaskFailure {
			fmt.Fprintf(w, "  %s: %s\n", child.Metadata[orchestrator.MetaFilePath], child.Error)
		}
	}
	if record.Status == core.TaskFailure {
		return fmt.Errorf("batch failed: %s", record.Error)
	}
	return nil
}
