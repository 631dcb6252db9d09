package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/poiesic/docket/core"
	"github.com/poiesic/docket/orchestrator"
	"github.com/poiesic/docket/storage"
	"github.com/urfave/cli/v2"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a task or a document",
		ArgsUsage: "<task-id|document-id>",
		Action:    statusAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "chunks",
				Usage: "Print the persisted chunks of the document",
			},
		},
	}
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:   "tasks",
		Usage:  "List tasks, newest first",
		Action: tasksAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Only tasks in this status"},
			&cli.StringFlag{Name: "type", Usage: "Only tasks of this type (chunk_document, chunk_batch)"},
			&cli.StringFlag{Name: "owner", Usage: "Only tasks of this owner"},
			&cli.StringFlag{Name: "parent", Usage: "Only tasks spawned by this batch"},
			&cli.DurationFlag{Name: "since", Usage: "Only tasks created within this duration"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of tasks to show", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Number of tasks to skip"},
		},
	}
}

func documentsCommand() *cli.Command {
	return &cli.Command{
		Name:   "documents",
		Usage:  "List documents, oldest first",
		Action: documentsAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Only documents in this status"},
		},
	}
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one ID, got %d", c.NArg())
	}
	id := c.Args().First()

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	w := c.App.Writer
	record, err := db.Tasks().Get(c.Context, id)
	switch {
	case err == nil:
		printTask(w, record)
		if record.Type == orchestrator.TypeBatch {
			children, err := db.Tasks().Children(c.Context, record.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(w)
			printTaskTable(w, children)
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	doc, err := db.Orchestrator().Documents().Get(c.Context, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no task or document with ID %s", id)
	}
	if err != nil {
		return err
	}
	printDocument(w, doc)

	if c.Bool("chunks") {
		chunks, err := db.Documents().LoadChunks(c.Context, id)
		if err != nil {
			return err
		}
		for _, ch := range chunks {
			fmt.Fprintf(w, "\n--- chunk %d (%d words, %d tokens)\n%s\n", ch.SequenceIndex, ch.WordCount, ch.TokenCount, ch.Content)
		}
	}
	return nil
}

func tasksAction(c *cli.Context) error {
	filter := storage.TaskFilter{
		Type:     c.String("type"),
		Status:   core.TaskStatus(c.String("status")),
		OwnerID:  c.String("owner"),
		ParentID: c.String("parent"),
		Limit:    c.Int("limit"),
		Offset:   c.Int("offset"),
	}
	if since := c.Duration("since"); since > 0 {
		filter.From = time.Now().Add(-since)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.Tasks().List(c.Context, filter)
	if err != nil {
		return err
	}
	total, err := db.Tasks().Count(c.Context, filter)
	if err != nil {
		return err
	}

	printTaskTable(c.App.Writer, records)
	fmt.Fprintf(c.App.Writer, "\n%d of %d tasks\n", len(records), total)
	return nil
}

func documentsAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	docs, err := db.Documents().ListDocuments(c.Context, core.DocumentStatus(c.String("status")))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSEGMENTS\tCOLLECTION\tSOURCE")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.Status, d.SegmentCount, d.Collection, d.SourcePath)
	}
	return tw.Flush()
}

func printTask(w io.Writer, r *core.TaskRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Task:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", r.Type)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Progress:\t%.1f%%\n", r.Progress)
	fmt.Fprintf(tw, "Retries:\t%d/%d\n", r.Retries, r.MaxRetries)
	if r.OwnerID != "" {
		fmt.Fprintf(tw, "Owner:\t%s\n", r.OwnerID)
	}
	if r.ParentID != "" {
		fmt.Fprintf(tw, "Parent:\t%s\n", r.ParentID)
	}
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", k, r.Metadata[k])
	}
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(r.CreatedAt))
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(r.StartedAt))
	fmt.Fprintf(tw, "Completed:\t%s\n", formatTime(r.CompletedAt))
	if r.Result != "" {
		fmt.Fprintf(tw, "Result:\t%s\n", r.Result)
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	tw.Flush()
}

func printTaskTable(w io.Writer, records []*core.TaskRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED\tDOCUMENT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			r.ID, r.Type, r.Status, r.Progress, formatTime(r.CreatedAt), r.Metadata[orchestrator.MetaDocumentID])
	}
	tw.Flush()
}

func printDocument(w io.Writer, d *core.Document) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Document:\t%s\n", d.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", d.Status)
	fmt.Fprintf(tw, "Source:\t%s\n", d.SourcePath)
	if d.MediaType != "" {
		fmt.Fprintf(tw, "Media type:\t%s\n", d.MediaType)
	}
	fmt.Fprintf(tw, "Collection:\t%s\n", d.Collection)
	fmt.Fprintf(tw, "Segments:\t%d\n", d.SegmentCount)
	durations := d.PhaseDurations()
	for _, phase := range []core.Phase{core.PhaseParsing, core.PhaseSplitting, core.PhaseIndexing} {
		if dur, ok := durations[phase]; ok {
			fmt.Fprintf(tw, "%s:\t%s\n", phase, dur.Round(time.Millisecond))
		}
	}
	if d.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", d.ErrorMessage)
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
