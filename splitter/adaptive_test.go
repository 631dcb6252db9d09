package splitter

import (
	"testing"

	"github.com/poiesic/docket/core"
	"github.com/stretchr/testify/assert"
)

func TestAdapt(t *testing.T) {
	base := core.ChunkingRequest{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Strategy:     core.StrategyAdaptive,
	}

	tests := []struct {
		name         string
		path         string
		sample       string
		wantStrategy core.Strategy
		wantSize     int
		wantOverlap  int
	}{
		{"markdown", "notes/readme.md", "", core.StrategyMarkup, 1000, 200},
		{"html", "page.HTML", "", core.StrategyMarkup, 1000, 200},
		{"pdf raises chunk size", "paper.pdf", "", core.StrategyRecursive, MinPDFChunkSize, 200},
		{"docx", "letter.docx", "", core.StrategyRecursive, 1000, 200},
		{"csv caps overlap", "data.csv", "", core.StrategyFixedSize, 1000, MaxTabularOverlap},
		{"xlsx caps overlap", "sheet.xlsx", "", core.StrategyFixedSize, 1000, MaxTabularOverlap},
		{"structured log", "app.log", `{"level":"info","msg":"started"}`, core.StrategyFixedSize, 1000, MaxTabularOverlap},
		{"prose text", "story.txt", "Once upon a time.\nThe end.", core.StrategyRecursive, 1000, 200},
		{"unknown extension", "archive.bin", "", core.StrategyRecursive, 1000, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Adapt(tt.path, base, tt.sample)
			assert.Equal(t, tt.wantStrategy, got.Strategy)
			assert.Equal(t, tt.wantSize, got.ChunkSize)
			assert.Equal(t, tt.wantOverlap, got.ChunkOverlap)
			if got.Strategy == core.StrategyFixedSize {
				assert.Equal(t, "\n", got.Separator)
			}
			assert.NoError(t, core.ValidateChunkingRequest(got))
		})
	}
}

func TestAdapt_PDFKeepsLargerSize(t *testing.T) {
	req := core.ChunkingRequest{ChunkSize: 4000, ChunkOverlap: 100, Strategy: core.StrategyAdaptive}
	assert.Equal(t, 4000, Adapt("big.pdf", req, "").ChunkSize)
}

func TestAdapt_NonAdaptiveUnchanged(t *testing.T) {
	req := core.ChunkingRequest{ChunkSize: 100, ChunkOverlap: 10, Strategy: core.StrategySemantic}
	assert.Equal(t, req, Adapt("data.csv", req, ""))
}

func TestIsStructured(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"json line", "{\"a\": 1}\nplain text", true},
		{"csv rows", "a,b,c,d,e\n1,2,3,4,5\n6,7,8,9,10", true},
		{"too few commas", "a,b,c\n1,2,3", false},
		{"one row without commas", "a,b,c,d,e\nno commas here", false},
		{"prose", "Hello there, friend.\nHow are you?", false},
		{"empty", "", false},
		{"brace but invalid json", "{not json}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStructured(tt.text))
		})
	}
}
