package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedSizeSplitter_EmptyBody(t *testing.T) {
	s := NewFixedSizeSplitter()
	chunks := s.Split(context.Background(), "")
	assert.Empty(t, chunks)
}

func TestFixedSizeSplitter_ShortBody_SingleChunk(t *testing.T) {
	s := NewFixedSizeSplitter()
	body := "a short note body"
	chunks := s.Split(context.Background(), body)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Idx)
	assert.Equal(t, body, chunks[0].Text)
}

func TestFixedSizeSplitter_LongBody_SplitsIntoMultipleChunks(t *testing.T) {
	s := NewFixedSizeSplitterWithOptions(100, 10)
	body := strings.Repeat("x", 250)
	chunks := s.Split(context.Background(), body)

	require.True(t, len(chunks) > 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Idx)
	}
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(body, last.Text[len(last.Text)-1:]))
}

func TestFixedSizeSplitter_ConsecutiveChunksOverlap(t *testing.T) {
	s := NewFixedSizeSplitterWithOptions(100, 20)
	body := strings.Repeat("0123456789", 30) // 300 chars
	chunks := s.Split(context.Background(), body)

	require.True(t, len(chunks) >= 2)
	first := chunks[0].Text
	second := chunks[1].Text
	overlap := first[len(first)-20:]
	assert.True(t, strings.HasPrefix(second, overlap))
}

func TestFixedSizeSplitter_IdxRunsInOrder(t *testing.T) {
	s := NewFixedSizeSplitterWithOptions(50, 5)
	body := strings.Repeat("word ", 60)
	chunks := s.Split(context.Background(), body)

	for i, c := range chunks {
		assert.Equal(t, i, c.Idx)
	}
}

func TestFixedSizeSplitter_DoesNotSplitMidRune(t *testing.T) {
	s := NewFixedSizeSplitterWithOptions(5, 1)
	body := strings.Repeat("héllo wörld ", 10)
	chunks := s.Split(context.Background(), body)
	for _, c := range chunks {
		assert.True(t, len([]rune(c.Text)) > 0)
		for _, r := range c.Text {
			assert.NotEqual(t, rune(0xFFFD), r, "chunk contains a replacement rune from a split multi-byte sequence")
		}
	}
}

func TestNewFixedSizeSplitterWithOptions_InvalidOverlapFallsBackToDefault(t *testing.T) {
	s := NewFixedSizeSplitterWithOptions(100, 150)
	assert.Equal(t, DefaultChunkOverlap, s.overlap)
}

func TestDefaultSplitter_UsesSpecDefaults(t *testing.T) {
	s := NewFixedSizeSplitter()
	assert.Equal(t, DefaultChunkSize, s.size)
	assert.Equal(t, DefaultChunkOverlap, s.overlap)
}
