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


// Command seeder writes a synthetic corpus of text and markdown documents
// and, with -ingest, submits it as one batch. It is used to load the
// pipeline with realistic volumes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docket"
	"github.com/poiesic/docket/config"
	"github.com/poiesic/docket/orchestrator"
)

var sentences = []string{
	"The quarterly report covers revenue, churn and hiring across all regions.",
	"Invoices are reconciled against purchase orders at the end of each week.",
	"The warehouse moved to a two shift schedule after the spring expansion.",
	"Support tickets older than ten days are escalated to the team lead.",
	"The migration plan keeps the old schema readable until every reader is updated.",
	"Field engineers log each site visit with photos and a short summary.",
	"The pilot program reached four hundred customers in its first month.",
	"Backups are verified by restoring a random sample every Sunday night.",
	"Contract renewals require sign-off from both legal and finance.",
	"The onboarding guide walks new staff through accounts, tools and policies.",
	"Sensor readings arrive every thirty seconds and are averaged per hour.",
	"The design review flagged the retry loop as the main latency risk.",
	"Shipping delays in the north were traced to a single carrier.",
	"Each release note lists fixed issues, known problems and upgrade steps.",
	"The research team compared three models on the same held out set.",
	"Travel expenses above the daily limit need a written justification.",
	"The incident timeline starts with the first alert and ends with the all clear.",
	"Customer interviews pointed to search as the most requested improvement.",
	"Inventory counts are frozen during the annual audit.",
	"The architecture document describes every service and who owns it.",
}

var (
	outDir     = flag.String("out", "./corpus", "directory receiving the generated documents")
	docs       = flag.Int("docs", 50, "number of documents to generate")
	paragraphs = flag.Int("paragraphs", 8, "paragraphs per document")
	seed       = flag.Uint64("seed", 1, "random seed")
	seedFile   = flag.String("src", "", "file of seed sentences, one per line")
	ingest     = flag.Bool("ingest", false, "submit the generated corpus as one batch")
	configPath = flag.String("config", "", "configuration file used with -ingest")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

// linesFromFile returns the non-empty lines of a file.
func linesFromFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// generate yields count documents as (name, content) pairs. Every other
// document is markdown with a heading per paragraph.
func generate(rng *rand.Rand, pool []string, count, paras int) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for i := range count {
			markdown := i%2 == 1
			var b strings.Builder
			if markdown {
				fmt.Fprintf(&b, "# Document %d\n\n", i)
			}
			for p := range paras {
				if p > 0 {
					b.WriteString("\n\n")
				}
				if markdown {
					fmt.Fprintf(&b, "## Section %d\n\n", p+1)
				}
				n := 2 + rng.IntN(4)
				for s := range n {
					if s > 0 {
						b.WriteByte(' ')
					}
					b.WriteString(pool[rng.IntN(len(pool))])
				}
			}
			name := fmt.Sprintf("doc-%04d.txt", i)
			if markdown {
				name = fmt.Sprintf("doc-%04d.md", i)
			}
			if !yield(name, b.String()) {
				return
			}
		}
	}
}

// writeCorpus writes the generated documents to dir and returns their paths.
func writeCorpus(dir string, corpus iter.Seq2[string, string]) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for name, content := range corpus {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// submitCorpus submits paths as one batch and waits for it to finish.
func submitCorpus(ctx context.Context, db *docket.Database, paths []string) error {
	req, err := db.Config().Request()
	if err != nil {
		return err
	}
	subs := make([]orchestrator.Submission, len(paths))
	for i, p := range paths {
		subs[i] = orchestrator.Submission{Path: p}
	}

	start := time.Now()
	record, err := db.Orchestrator().SubmitBatch(ctx, subs, req, "seeder")
	if err != nil {
		return err
	}
	if err := db.Queue().Wait(ctx, record.ID); err != nil {
		return err
	}
	record, err = db.Tasks().Get(ctx, record.ID)
	if err != nil {
		return err
	}
	slog.Info("batch finished", "taskID", record.ID, "status", record.Status,
		"documents", len(paths), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func main() {
	flag.Parse()

	pool := sentences
	if *seedFile != "" {
		lines, err := linesFromFile(*seedFile)
		if err != nil {
			panic(err)
		}
		if len(lines) > 0 {
			pool = lines
		}
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	paths, err := writeCorpus(*outDir, generate(rng, pool, *docs, *paragraphs))
	if err != nil {
		panic(err)
	}
	slog.Info("corpus written", "dir", *outDir, "documents", len(paths))

	if !*ingest {
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	db, err := docket.NewDatabase(cfg)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := submitCorpus(context.Background(), db, paths); err != nil {
		panic(err)
	}
}
