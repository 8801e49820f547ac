package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHeader(t *testing.T) {
	assert.Equal(t, "// File: a/B.kt\n\n", ContextHeader("a/B.kt", ""))
	assert.Equal(t, "// File: a/B.kt\n// Class: B\n\n", ContextHeader("a/B.kt", "B"))
}

func TestStripContextHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"file only", ContextHeader("x.go", "") + "func a() {}", "func a() {}"},
		{"with class", ContextHeader("X.kt", "X") + "fun a() = 1\n", "fun a() = 1\n"},
		{"no header", "fun a() = 1", "fun a() = 1"},
		{"header without blank line", "// File: x\nfun a()", "// File: x\nfun a()"},
		{"empty body", ContextHeader("x", ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripContextHeader(tt.content))
		})
	}
}

func TestChunkValidate(t *testing.T) {
	valid := Chunk{
		FilePath:  "a.kt",
		StartLine: 1,
		EndLine:   2,
		ChunkType: ChunkFunction,
		Content:   "x",
	}
	assert.NoError(t, valid.Validate())

	c := valid
	c.Content = ""
	assert.ErrorIs(t, c.Validate(), ErrEmptyContent)

	c = valid
	c.StartLine = 3
	assert.ErrorIs(t, c.Validate(), ErrInvalidLineRange)

	c = valid
	c.ChunkType = "function"
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunkType)

	c = valid
	c.FilePath = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingFilePath)
}

func TestChunkHelpers(t *testing.T) {
	c := Chunk{Content: ContextHeader("a.kt", "A") + "abcd", ParentName: StringPtr("A")}
	assert.Equal(t, "abcd", c.Source())
	assert.Equal(t, "A", c.Parent())
	assert.Equal(t, len(c.Content)/4, c.TokenCount())
	assert.Nil(t, StringPtr(""))
	assert.NotEqual(t, [32]byte{}, c.ContentHash())
}

func TestSearchResultValidate(t *testing.T) {
	r := SearchResult{
		Rank:           1,
		Distance:       0.2,
		RelevanceScore: 0.8,
		Chunk:          Chunk{FilePath: "a.kt", StartLine: 1, EndLine: 1, ChunkType: ChunkOther, Content: "x"},
	}
	assert.NoError(t, r.Validate())

	r.Rank = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRank)
}
