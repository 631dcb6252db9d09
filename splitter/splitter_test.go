package splitter

import (
	"context"
	"strings"
	"testing"

	"github.com/poiesic/docket/ai/mock"
	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loremText = `Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.

Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.
Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.

Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum.`

func mustRequest(t *testing.T, size, overlap int, strategy core.Strategy, opts ...core.RequestOption) core.ChunkingRequest {
	t.Helper()
	req, err := core.NewChunkingRequest(size, overlap, strategy, opts...)
	require.NoError(t, err)
	return req
}

func split(t *testing.T, req core.ChunkingRequest, text string, opts ...Option) []string {
	t.Helper()
	s, err := New(req, opts...)
	require.NoError(t, err)
	chunks, err := s.Split(context.Background(), text)
	require.NoError(t, err)
	return chunks
}

func TestFixedSize_SentenceExample(t *testing.T) {
	req := mustRequest(t, 5, 2, core.StrategyFixedSize, core.WithSeparator(" "))
	chunks := split(t, req, "A. B. C. D.")

	assert.Equal(t, []string{"A. B.", "B. C.", "C. D."}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 5)
	}
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		next := strings.Fields(chunks[i])
		assert.Equal(t, prev[len(prev)-1], next[0], "consecutive chunks should share a token")
	}
}

func TestMergeWithOverlap_BoundaryIncluded(t *testing.T) {
	assert.Equal(t, []string{"ab cd"}, MergeWithOverlap([]string{"ab", "cd"}, " ", 5, 0, nil))
	assert.Equal(t, []string{"ab", "cd"}, MergeWithOverlap([]string{"ab", "cd"}, " ", 4, 0, nil))
}

func TestMergeWithOverlap_OversizedPiece(t *testing.T) {
	chunks := MergeWithOverlap([]string{"abcdefgh", "ij"}, " ", 5, 2, nil)
	assert.Equal(t, []string{"abcdefgh", "ij"}, chunks)
}

func TestMergeWithOverlap_Empty(t *testing.T) {
	assert.Empty(t, MergeWithOverlap(nil, " ", 5, 0, nil))
	assert.Empty(t, MergeWithOverlap([]string{"  "}, " ", 5, 0, nil))
}

func TestMergeWithOverlap_OverlapBound(t *testing.T) {
	pieces := strings.Fields("one two three four five six seven eight nine ten")
	chunks := MergeWithOverlap(pieces, " ", 14, 5, nil)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		shared := sharedBoundary(chunks[i-1], chunks[i])
		assert.LessOrEqual(t, len(shared), 5, "overlap between %q and %q", chunks[i-1], chunks[i])
		assert.NotEmpty(t, shared, "expected overlap between %q and %q", chunks[i-1], chunks[i])
	}
}

// sharedBoundary returns the longest word-aligned suffix of a that prefixes b.
func sharedBoundary(a, b string) string {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	for n := min(len(aw), len(bw)); n > 0; n-- {
		if strings.Join(aw[len(aw)-n:], " ") == strings.Join(bw[:n], " ") {
			return strings.Join(bw[:n], " ")
		}
	}
	return ""
}

func TestSplit_EmptyInput(t *testing.T) {
	requests := []core.ChunkingRequest{
		mustRequest(t, 10, 2, core.StrategyRecursive),
		mustRequest(t, 10, 2, core.StrategyFixedSize),
		mustRequest(t, 10, 2, core.StrategySemantic),
		mustRequest(t, 10, 2, core.StrategyCustomSeparator, core.WithCustomSeparators("|")),
		mustRequest(t, 10, 2, core.StrategyMarkup),
	}

	for _, req := range requests {
		t.Run(string(req.Strategy), func(t *testing.T) {
			chunks := split(t, req, "", WithEmbedder(mock.NewMockEmbedder()))
			assert.Empty(t, chunks)
		})
	}
}

func TestNew_InvalidRequest(t *testing.T) {
	_, err := New(core.ChunkingRequest{ChunkSize: 100, ChunkOverlap: 150, Strategy: core.StrategyRecursive})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfig)
	assert.ErrorIs(t, err, core.ErrOverlapTooLarge)

	_, err = New(core.ChunkingRequest{ChunkSize: 100, ChunkOverlap: 10, Strategy: core.StrategyCustomSeparator})
	assert.ErrorIs(t, err, core.ErrEmptySeparators)

	_, err = New(core.ChunkingRequest{ChunkSize: 100, ChunkOverlap: 10, Strategy: core.StrategyAdaptive})
	assert.ErrorIs(t, err, core.ErrConfig)
}

func TestConstructors_RejectOverlap(t *testing.T) {
	_, err := NewRecursive(10, 10, nil)
	assert.ErrorIs(t, err, core.ErrOverlapTooLarge)
	_, err = NewFixedSize(10, 11, " ")
	assert.ErrorIs(t, err, core.ErrOverlapTooLarge)
	_, err = NewSemantic(10, 20)
	assert.ErrorIs(t, err, core.ErrOverlapTooLarge)
	_, err = NewCustomSeparator(10, 3, nil, false)
	assert.ErrorIs(t, err, core.ErrEmptySeparators)
}

func TestRecursive_ParagraphsFirst(t *testing.T) {
	req := mustRequest(t, 10, 0, core.StrategyRecursive)
	chunks := split(t, req, "aaaa bbbb\n\ncccc dddd")
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd"}, chunks)
}

func TestRecursive_DescendsToCharacters(t *testing.T) {
	req := mustRequest(t, 5, 0, core.StrategyRecursive)
	chunks := split(t, req, "aaaaaaaaaaaa bb")
	assert.Equal(t, []string{"aaaaa", "aaaaa", "aa", "bb"}, chunks)
}

func TestRecursive_SizeBound(t *testing.T) {
	for _, size := range []int{20, 50, 80, 200} {
		req := mustRequest(t, size, size/4, core.StrategyRecursive)
		chunks := split(t, req, loremText)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, RuneLength(c), size, "chunk %q exceeds %d", c, size)
			assert.NotEmpty(t, c)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	requests := []core.ChunkingRequest{
		mustRequest(t, 40, 10, core.StrategyRecursive),
		mustRequest(t, 40, 10, core.StrategyFixedSize),
		mustRequest(t, 40, 10, core.StrategySemantic),
		mustRequest(t, 40, 10, core.StrategyCustomSeparator, core.WithCustomSeparators(". ", ", ")),
	}

	for _, req := range requests {
		t.Run(string(req.Strategy), func(t *testing.T) {
			first := split(t, req, loremText, WithEmbedder(mock.NewMockEmbedder()))
			second := split(t, req, loremText, WithEmbedder(mock.NewMockEmbedder()))
			assert.Equal(t, first, second)
		})
	}
}

func TestFixedSize_RoundTrip(t *testing.T) {
	req := mustRequest(t, 30, 0, core.StrategyFixedSize)
	chunks := split(t, req, loremText)

	assert.Equal(t, strings.Join(strings.Fields(loremText), " "), strings.Join(chunks, " "))
}

func TestFixedSize_CustomSeparator(t *testing.T) {
	req := mustRequest(t, 12, 0, core.StrategyFixedSize, core.WithSeparator("\n"))
	chunks := split(t, req, "row one\nrow two\nrow three")
	assert.Equal(t, []string{"row one", "row two", "row three"}, chunks)
}

func TestCustomSeparator(t *testing.T) {
	tests := []struct {
		name string
		keep bool
		want []string
	}{
		{
			name: "separators dropped",
			keep: false,
			want: []string{"one|two", "three", "four"},
		},
		{
			name: "separators kept with following piece",
			keep: true,
			want: []string{"one|two", ";three", "|four"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewCustomSeparator(9, 0, []string{"|", ";"}, tt.keep)
			require.NoError(t, err)
			chunks, err := s.Split(context.Background(), "one|two;three|four")
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunks)
		})
	}
}

func TestCustomSeparator_RegexMetacharacters(t *testing.T) {
	s, err := NewCustomSeparator(3, 0, []string{".*"}, false)
	require.NoError(t, err)
	chunks, err := s.Split(context.Background(), "ab.*cd.*ef")
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "cd", "ef"}, chunks)
}

func TestSemantic_GroupsSimilarParagraphs(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			if strings.HasPrefix(text, "cats") {
				vectors[i] = []float32{1, 0}
			} else {
				vectors[i] = []float32{0, 1}
			}
		}
		return vectors, nil
	}

	req := mustRequest(t, 100, 0, core.StrategySemantic)
	chunks := split(t, req, "cats purr\n\ncats nap\n\nstocks rise\n\nstocks fall", WithEmbedder(embedder))

	assert.Equal(t, []string{"cats purr\n\ncats nap", "stocks rise\n\nstocks fall"}, chunks)
	assert.Equal(t, 1, embedder.CallCount())
}

func TestSemantic_RespectsChunkSize(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 1}
		}
		return vectors, nil
	}

	req := mustRequest(t, 12, 0, core.StrategySemantic)
	chunks := split(t, req, "first para\n\nsecond para", WithEmbedder(embedder))
	assert.Equal(t, []string{"first para", "second para"}, chunks)
}

func TestSemantic_FallsBackToRecursive(t *testing.T) {
	recursiveReq := mustRequest(t, 40, 10, core.StrategyRecursive)
	semanticReq := mustRequest(t, 40, 10, core.StrategySemantic)

	expected := split(t, recursiveReq, loremText)

	t.Run("no embedder", func(t *testing.T) {
		assert.Equal(t, expected, split(t, semanticReq, loremText))
	})

	t.Run("single paragraph", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		text := "just one paragraph that is long enough to need several chunks of forty"
		chunks := split(t, semanticReq, text, WithEmbedder(embedder))
		assert.Equal(t, split(t, recursiveReq, text), chunks)
		assert.NotEmpty(t, chunks)
		assert.Equal(t, 0, embedder.CallCount())
	})
}

func TestSemantic_EmbedderFailureIsTransient(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, assert.AnError
	}

	s, err := NewSemantic(100, 0, WithEmbedder(embedder))
	require.NoError(t, err)
	_, err = s.Split(context.Background(), "a\n\nb")
	assert.ErrorIs(t, err, core.ErrTransientIO)
}

func TestMarkup_SplitsMarkdown(t *testing.T) {
	req := mustRequest(t, 60, 0, core.StrategyMarkup)
	text := "# Title\n\nSome intro text.\n\n## Section\n\nMore text here about the section."
	chunks := split(t, req, text)

	require.NotEmpty(t, chunks)
	joined := strings.Join(chunks, "\n")
	assert.Contains(t, joined, "Some intro text.")
	assert.Contains(t, joined, "More text here")
}

func TestSplit_HonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewRecursive(10, 0, nil)
	require.NoError(t, err)
	_, err = s.Split(ctx, "some text")
	assert.ErrorIs(t, err, context.Canceled)
}
