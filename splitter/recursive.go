package splitter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultSeparators is the recursive separator priority: paragraph, line, word, character.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Recursive splits on the highest-priority separator present in the text and
// recurses into any piece that is still longer than the chunk size.
type Recursive struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
	length       LengthFunc
	logger       *slog.Logger
}

var _ Splitter = (*Recursive)(nil)
var _ textsplitter.TextSplitter = (*Recursive)(nil)

// NewRecursive creates a recursive splitter.
// A nil separators slice selects DefaultSeparators.
func NewRecursive(chunkSize, chunkOverlap int, separators []string, opts ...Option) (*Recursive, error) {
	if err := validateSizes(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if separators == nil {
		separators = DefaultSeparators
	}
	o := applyOptions(opts)
	return &Recursive{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   append([]string(nil), separators...),
		length:       o.length,
		logger:       o.logger,
	}, nil
}

// Split implements Splitter.
func (r *Recursive) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.SplitText(text)
}

// SplitText implements textsplitter.TextSplitter so the recursive splitter can
// serve as the second-stage splitter for markup.
func (r *Recursive) SplitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return r.split(text, r.separators), nil
}

func (r *Recursive) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	pieces := dropEmpty(strings.Split(text, separator))

	var chunks []string
	var fitting []string
	for _, piece := range pieces {
		if r.length(piece) <= r.chunkSize {
			fitting = append(fitting, piece)
			continue
		}

		if len(fitting) > 0 {
			chunks = append(chunks, MergeWithOverlap(fitting, separator, r.chunkSize, r.chunkOverlap, r.length)...)
			fitting = nil
		}

		if len(next) == 0 {
			// Atomic piece that no remaining separator can subdivide
			r.logger.Debug("emitting oversized piece", "length", r.length(piece), "chunkSize", r.chunkSize)
			chunks = append(chunks, strings.TrimSpace(piece))
			continue
		}
		chunks = append(chunks, r.split(piece, next)...)
	}

	if len(fitting) > 0 {
		chunks = append(chunks, MergeWithOverlap(fitting, separator, r.chunkSize, r.chunkOverlap, r.length)...)
	}
	return chunks
}
