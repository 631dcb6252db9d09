package splitter

import (
	"strings"
	"unicode/utf8"
)

// LengthFunc measures a piece of text. Chunk size and overlap are expressed in its units.
type LengthFunc func(string) int

// RuneLength counts Unicode code points. It is the default LengthFunc.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// MergeWithOverlap greedily accumulates pieces into chunks joined by separator.
//
// When adding the next piece would push the current buffer past chunkSize, the
// buffer is flushed and pieces are dropped from its front until what remains is
// no longer than chunkOverlap and leaves room for the next piece. The remainder
// seeds the next chunk. A piece that lands exactly on chunkSize is included.
// A single piece longer than chunkSize becomes its own oversized chunk.
// Chunks are trimmed of surrounding whitespace and empty chunks are dropped.
func MergeWithOverlap(pieces []string, separator string, chunkSize, chunkOverlap int, length LengthFunc) []string {
	if length == nil {
		length = RuneLength
	}
	sepLen := length(separator)

	var chunks []string
	var current []string
	total := 0

	for _, piece := range pieces {
		pieceLen := length(piece)

		if len(current) > 0 && total+pieceLen+joinCost(len(current), sepLen) > chunkSize {
			if chunk := joinPieces(current, separator); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Keep a suffix of the flushed pieces as overlap
			for total > chunkOverlap || (total > 0 && total+pieceLen+joinCost(len(current), sepLen) > chunkSize) {
				total -= length(current[0]) + joinCost(len(current)-1, sepLen)
				current = current[1:]
			}
		}

		current = append(current, piece)
		total += pieceLen + joinCost(len(current)-1, sepLen)
	}

	if chunk := joinPieces(current, separator); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// joinCost is the separator length added when joining onto n existing pieces.
func joinCost(n, sepLen int) int {
	if n > 0 {
		return sepLen
	}
	return 0
}

func joinPieces(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}

// dropEmpty removes pieces that contain only whitespace.
func dropEmpty(pieces []string) []string {
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
