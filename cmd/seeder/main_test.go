package main

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docket"
	"github.com/poiesic/docket/config"
	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(rng *rand.Rand, count, paras int) map[string]string {
	out := make(map[string]string)
	for name, content := range generate(rng, sentences, count, paras) {
		out[name] = content
	}
	return out
}

func TestGenerate(t *testing.T) {
	corpus := collect(rand.New(rand.NewPCG(7, 7)), 4, 3)
	require.Len(t, corpus, 4)

	assert.Contains(t, corpus, "doc-0000.txt")
	assert.Contains(t, corpus, "doc-0001.md")
	assert.Equal(t, 3, len(strings.Split(corpus["doc-0000.txt"], "\n\n")))
	assert.True(t, strings.HasPrefix(corpus["doc-0001.md"], "# Document 1"))
	assert.Equal(t, 3, strings.Count(corpus["doc-0001.md"], "## Section"))
}

func TestGenerate_Deterministic(t *testing.T) {
	a := collect(rand.New(rand.NewPCG(1, 1)), 3, 2)
	b := collect(rand.New(rand.NewPCG(1, 1)), 3, 2)
	assert.Equal(t, a, b)
}

func TestLinesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n\n  two  \nthree\n"), 0644))

	lines, err := linesFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	_, err = linesFromFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestWriteAndSubmitCorpus(t *testing.T) {
	dir := t.TempDir()
	paths, err := writeCorpus(filepath.Join(dir, "corpus"), generate(rand.New(rand.NewPCG(3, 3)), sentences, 6, 4))
	require.NoError(t, err)
	require.Len(t, paths, 6)
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Chunking.ChunkSize = 300
	cfg.Chunking.ChunkOverlap = 30
	cfg.Workers.PoolSize = 2
	db, err := docket.NewDatabase(cfg, docket.WithInMemory(), docket.WithTokenizerLoader(nil))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, submitCorpus(ctx, db, paths))

	completed, err := db.Documents().ListDocuments(ctx, core.DocumentCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 6)
}
