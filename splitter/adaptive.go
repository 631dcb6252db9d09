package splitter

import (
	"bufio"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/poiesic/docket/core"
)

const (
	// MinPDFChunkSize is the smallest chunk size used for PDF sources under the adaptive strategy.
	MinPDFChunkSize = 1500

	// MaxTabularOverlap caps the overlap for tabular and structured log sources.
	MaxTabularOverlap = 50

	structuredSampleLines = 10
)

// Adapt resolves StrategyAdaptive into a concrete request for the source at path.
// sample is the beginning of the extracted text and is only inspected for
// .txt and .log sources. Requests with any other strategy are returned unchanged.
func Adapt(path string, req core.ChunkingRequest, sample string) core.ChunkingRequest {
	if req.Strategy != core.StrategyAdaptive {
		return req
	}

	out := req
	out.Strategy = core.StrategyRecursive

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".html", ".htm":
		out.Strategy = core.StrategyMarkup
	case ".pdf":
		out.ChunkSize = max(out.ChunkSize, MinPDFChunkSize)
	case ".csv", ".xlsx", ".xls":
		out.Strategy = core.StrategyFixedSize
		out.ChunkOverlap = min(out.ChunkOverlap, MaxTabularOverlap)
	case ".txt", ".log":
		if IsStructured(sample) {
			out.Strategy = core.StrategyFixedSize
			out.ChunkOverlap = min(out.ChunkOverlap, MaxTabularOverlap)
		}
	}

	if out.Strategy == core.StrategyFixedSize && out.Separator == "" {
		out.Separator = "\n"
	}
	return out
}

// IsStructured reports whether the first lines of text look like JSON lines or
// comma separated records.
func IsStructured(text string) bool {
	scanner := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for len(lines) < structuredSampleLines && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") && json.Valid([]byte(line)) {
			return true
		}
	}

	minCommas := -1
	for _, line := range lines {
		if line == "" {
			continue
		}
		n := strings.Count(line, ",")
		if minCommas < 0 || n < minCommas {
			minCommas = n
		}
	}
	return minCommas > 3
}
