package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/poiesic/docket"
	"github.com/poiesic/docket/orchestrator"
	"github.com/poiesic/docket/watch"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 5 * time.Second

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Ingest files as they are created or modified in directories",
		ArgsUsage: "<dir>...",
		Action:    watchAction,
		Flags: append(chunkingFlags(),
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "How long a file must stay unchanged before it is ingested",
				Value: watch.DefaultDebounce,
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Serve Prometheus metrics on the configured listen address",
			},
		),
	}
}

func serveMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve-metrics",
		Usage:  "Serve Prometheus metrics and run the task retention sweep until interrupted",
		Action: serveMetricsAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (default from configuration)",
			},
		},
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one directory is required")
	}
	dirs := make([]string, c.NArg())
	for i, d := range c.Args().Slice() {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		dirs[i] = abs
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

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.StartSweeper(); err != nil {
		return err
	}
	if c.Bool("metrics") {
		srv := startMetricsServer(db, db.Config().Metrics.Listen)
		defer shutdownServer(srv)
	}

	w, err := watch.New(watch.WithDebounce(c.Duration("debounce")), watch.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer w.Close()

	files, err := w.Watch(ctx, dirs...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Watching %d directories, press Ctrl-C to stop\n", len(dirs))

	for path := range files {
		record, err := db.Orchestrator().SubmitDocument(ctx, orchestrator.Submission{
			Path:       path,
			Collection: c.String("collection"),
		}, req, c.String("owner"))
		if err != nil {
			slog.Error("failed to submit document", "path", path, "err", err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "Submitted task %s for %s\n", record.ID, path)
	}
	return nil
}

func serveMetricsAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	addr := db.Config().Metrics.Listen
	if c.IsSet("listen") {
		addr = c.String("listen")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.StartSweeper(); err != nil {
		return err
	}
	srv := startMetricsServer(db, addr)
	fmt.Fprintf(c.App.Writer, "Serving metrics on %s\n", addr)

	<-ctx.Done()
	return shutdownServer(srv)
}

func startMetricsServer(db *docket.Database, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", db.Metrics().Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
