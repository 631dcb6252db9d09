package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

const blockSeparator = "\n\n"

func readText(_ context.Context, path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	if !utf8.Valid(raw) {
		return "", nil, ErrInvalidEncoding
	}
	return string(raw), nil, nil
}

func readJSON(_ context.Context, path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", nil, err
	}
	return out.String(), nil, nil
}

func readCSV(ctx context.Context, path string) (string, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return "", nil, err
	}
	return joinDocuments(docs), map[string]any{"rows": len(docs)}, nil
}

func readPDF(ctx context.Context, path string) (text string, meta map[string]any, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}

	// The PDF parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, meta, err = "", nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return "", nil, err
	}
	return joinDocuments(docs), map[string]any{"pages": len(docs)}, nil
}

// joinDocuments concatenates loader output, one blank line between documents.
func joinDocuments(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if content := strings.TrimSpace(doc.PageContent); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, blockSeparator)
}
