package splitter

import (
	"context"
	"strings"

	"github.com/poiesic/docket/core"
)

// FixedSize splits on a single separator and merges the pieces directly,
// without recursive descent into oversized pieces.
type FixedSize struct {
	chunkSize    int
	chunkOverlap int
	separator    string
	length       LengthFunc
}

var _ Splitter = (*FixedSize)(nil)

// NewFixedSize creates a fixed-size splitter.
// An empty separator selects core.DefaultSeparator, which splits on any run of whitespace.
func NewFixedSize(chunkSize, chunkOverlap int, separator string, opts ...Option) (*FixedSize, error) {
	if err := validateSizes(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if separator == "" {
		separator = core.DefaultSeparator
	}
	o := applyOptions(opts)
	return &FixedSize{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separator:    separator,
		length:       o.length,
	}, nil
}

// Split implements Splitter.
func (f *FixedSize) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pieces []string
	if f.separator == core.DefaultSeparator {
		pieces = strings.Fields(text)
	} else {
		pieces = dropEmpty(strings.Split(text, f.separator))
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	return MergeWithOverlap(pieces, f.separator, f.chunkSize, f.chunkOverlap, f.length), nil
}
