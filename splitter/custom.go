package splitter

import (
	"context"
	"regexp"
	"strings"

	"github.com/poiesic/docket/core"
)

// CustomSeparator splits on an alternation of caller supplied separators.
// Separators are matched literally, earlier entries taking precedence.
type CustomSeparator struct {
	chunkSize     int
	chunkOverlap  int
	separators    []string
	keepSeparator bool
	pattern       *regexp.Regexp
	length        LengthFunc
}

var _ Splitter = (*CustomSeparator)(nil)

// NewCustomSeparator creates a custom separator splitter.
// An empty separator list is a configuration error.
func NewCustomSeparator(chunkSize, chunkOverlap int, separators []string, keepSeparator bool, opts ...Option) (*CustomSeparator, error) {
	if err := validateSizes(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if err := core.ValidateSeparators(separators); err != nil {
		return nil, err
	}

	quoted := make([]string, len(separators))
	for i, sep := range separators {
		quoted[i] = regexp.QuoteMeta(sep)
	}

	o := applyOptions(opts)
	return &CustomSeparator{
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		separators:    append([]string(nil), separators...),
		keepSeparator: keepSeparator,
		pattern:       regexp.MustCompile(strings.Join(quoted, "|")),
		length:        o.length,
	}, nil
}

// Split implements Splitter.
func (c *CustomSeparator) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var pieces []string
	joiner := c.separators[0]
	if c.keepSeparator {
		pieces = c.splitKeep(text)
		joiner = ""
	} else {
		pieces = c.pattern.Split(text, -1)
	}

	pieces = dropEmpty(pieces)
	if len(pieces) == 0 {
		return nil, nil
	}
	return MergeWithOverlap(pieces, joiner, c.chunkSize, c.chunkOverlap, c.length), nil
}

// splitKeep splits text so that every separator stays attached to the piece that follows it.
func (c *CustomSeparator) splitKeep(text string) []string {
	matches := c.pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	pieces := make([]string, 0, len(matches)+1)
	pieces = append(pieces, text[:matches[0][0]])
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		pieces = append(pieces, text[m[0]:end])
	}
	return pieces
}
