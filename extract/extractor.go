package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/docket/core"
)

// DefaultMaxFallbackBytes bounds how much of a file the degraded fallback reads.
const DefaultMaxFallbackBytes = 32 << 20

// Metadata keys set on every Result.
const (
	MetaSource    = "source"
	MetaMediaType = "media_type"
	MetaExtractor = "extractor"
	MetaDegraded  = "degraded"
)

// Result is the text extracted from a file and what is known about it.
type Result struct {
	Text     string
	Metadata map[string]any
}

// Reader extracts text from the file at path. The returned metadata is merged
// into the Result metadata.
type Reader func(ctx context.Context, path string) (string, map[string]any, error)

type namedReader struct {
	name string
	read Reader
}

// Extractor dispatches files to format-specific readers.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	readers          map[string]namedReader
	maxFallbackBytes int64
	logger           *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReader registers or replaces the reader for a media type.
func WithReader(mediaType, name string, reader Reader) Option {
	return func(e *Extractor) {
		e.readers[normalize(mediaType)] = namedReader{name: name, read: reader}
	}
}

// WithMaxFallbackBytes limits the bytes read by the degraded fallback.
func WithMaxFallbackBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxFallbackBytes = n
		}
	}
}

// New creates an Extractor with the built-in readers.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		readers: map[string]namedReader{
			MediaText:     {"text", readText},
			MediaMarkdown: {"text", readText},
			MediaJSON:     {"json", readJSON},
			MediaCSV:      {"csv", readCSV},
			MediaPDF:      {"pdf", readPDF},
			MediaDocx:     {"docx", readDocx},
			MediaPptx:     {"pptx", readPptx},
			MediaXlsx:     {"xlsx", readXlsx},
			MediaHTML:     {"html", readHTML},
		},
		maxFallbackBytes: DefaultMaxFallbackBytes,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extractor")
	return e
}

// Extract reads the file at path. declaredMediaType may be empty.
func (e *Extractor) Extract(ctx context.Context, path, declaredMediaType string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	mediaType := ResolveMediaType(path, declaredMediaType)
	meta := map[string]any{
		MetaSource:    path,
		MetaMediaType: mediaType,
	}

	cause := fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	if nr, ok := e.readers[mediaType]; ok {
		text, extra, err := nr.read(ctx, path)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrNoText
		}
		if err == nil {
			for k, v := range extra {
				meta[k] = v
			}
			meta[MetaExtractor] = nr.name
			return Result{Text: text, Metadata: meta}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		cause = err
	}

	e.logger.Warn("extraction degraded to raw text decoding",
		"path", path, "mediaType", mediaType, "cause", cause)

	text, err := e.fallback(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w (fallback: %w)", core.ErrExtraction, path, cause, err)
	}
	meta[MetaExtractor] = "fallback"
	meta[MetaDegraded] = true
	return Result{Text: text, Metadata: meta}, nil
}

// fallback decodes the raw bytes of path, keeping printable runs only.
func (e *Extractor) fallback(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, e.maxFallbackBytes))
	if err != nil {
		return "", err
	}

	text := decodeBestEffort(raw)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// decodeBestEffort replaces invalid UTF-8 and control characters with spaces
// and collapses runs of blanks within each line.
func decodeBestEffort(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		switch {
		case r == utf8.RuneError && size <= 1:
			b.WriteByte(' ')
		case r == '\n':
			b.WriteRune(r)
		case unicode.IsPrint(r) || r == '\t':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && (len(kept) == 0 || kept[len(kept)-1] == "") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
