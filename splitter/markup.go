package splitter

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// NewMarkup creates the heading-aware splitter used for markdown and for HTML
// converted to markdown by the extractor. Paragraphs that do not fit are
// handed to a Recursive splitter with the same limits.
func NewMarkup(chunkSize, chunkOverlap int, opts ...Option) (Splitter, error) {
	second, err := NewRecursive(chunkSize, chunkOverlap, []string{"\n\n", "\n", " "}, opts...)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	md := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithLenFunc(o.length),
		textsplitter.WithSecondSplitter(second),
		textsplitter.WithCodeBlocks(true),
		textsplitter.WithHeadingHierarchy(true),
	)
	return FromTextSplitter(md), nil
}
