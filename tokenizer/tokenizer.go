// Package tokenizer counts tokens for chunk records.
//
// The primary counter is a tiktoken BPE encoding. Loading the encoding is a
// capability check performed once, when the Counter is built: if it fails the
// Counter serves a character/word ratio estimate for its whole lifetime and
// Available reports false. Count itself never fails.
package tokenizer

import (
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is the BPE encoding loaded by New.
	DefaultEncoding = "cl100k_base"

	// DefaultWordRatio is the estimated number of tokens per word.
	DefaultWordRatio = 1.3

	// DefaultCharsPerToken is the estimated number of characters per token.
	DefaultCharsPerToken = 4.0
)

// Encoder turns text into token ids. *tiktoken.Tiktoken implements it.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// Loader loads a named encoding.
type Loader func(encoding string) (Encoder, error)

// TiktokenLoader loads encodings with tiktoken-go. The BPE ranks are fetched
// over the network on first use unless TIKTOKEN_CACHE_DIR holds a copy.
func TiktokenLoader(encoding string) (Encoder, error) {
	return tiktoken.GetEncoding(encoding)
}

// Counter counts tokens in text.
// It is safe for concurrent use.
type Counter struct {
	encoder       Encoder
	encoding      string
	wordRatio     float64
	charsPerToken float64
	logger        *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithRatios overrides the heuristic ratios. Non-positive values are ignored.
func WithRatios(wordRatio, charsPerToken float64) Option {
	return func(c *Counter) {
		if wordRatio > 0 {
			c.wordRatio = wordRatio
		}
		if charsPerToken > 0 {
			c.charsPerToken = charsPerToken
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Counter for encoding using TiktokenLoader.
// An empty encoding selects DefaultEncoding.
func New(encoding string, opts ...Option) *Counter {
	return NewWithLoader(encoding, TiktokenLoader, opts...)
}

// NewWithLoader builds a Counter using load for the capability check.
// A nil loader always selects the heuristic.
func NewWithLoader(encoding string, load Loader, opts ...Option) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	c := &Counter{
		encoding:      encoding,
		wordRatio:     DefaultWordRatio,
		charsPerToken: DefaultCharsPerToken,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tokenizer")

	if load == nil {
		c.logger.Warn("no tokenizer loader, using heuristic token estimate")
		return c
	}
	enc, err := load(encoding)
	if err != nil || enc == nil {
		c.logger.Warn("tokenizer unavailable, using heuristic token estimate",
			"encoding", encoding, "err", err,
			"wordRatio", c.wordRatio, "charsPerToken", c.charsPerToken)
		return c
	}
	c.encoder = enc
	c.logger.Debug("tokenizer loaded", "encoding", encoding)
	return c
}

// Available reports whether the BPE encoding is in use.
func (c *Counter) Available() bool {
	return c.encoder != nil
}

// Encoding returns the configured encoding name.
func (c *Counter) Encoding() string {
	return c.encoding
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) (n int) {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		return Estimate(text, c.wordRatio, c.charsPerToken)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("tokenizer failed, using heuristic token estimate", "panic", r)
			n = Estimate(text, c.wordRatio, c.charsPerToken)
		}
	}()
	return len(c.encoder.Encode(text, nil, nil))
}

// Estimate is the heuristic token count: the larger of words times wordRatio
// and characters divided by charsPerToken, rounded up.
func Estimate(text string, wordRatio, charsPerToken float64) int {
	if text == "" {
		return 0
	}
	byWords := float64(WordCount(text)) * wordRatio
	byChars := float64(utf8.RuneCountInString(text)) / charsPerToken
	return int(math.Ceil(math.Max(byWords, byChars)))
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
