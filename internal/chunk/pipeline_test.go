package chunk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainshape/brainshape/internal/berrors"
	"github.com/brainshape/brainshape/internal/embed"
	"github.com/brainshape/brainshape/internal/store"
)

type fakeStore struct {
	notes     map[string]*store.Note
	chunks    map[string][]*store.Chunk
	dimension int
}

func newFakeStore(dim int) *fakeStore {
	return &fakeStore{notes: map[string]*store.Note{}, chunks: map[string][]*store.Chunk{}, dimension: dim}
}

func (f *fakeStore) GetNoteByPath(ctx context.Context, path string) (*store.Note, error) {
	n, ok := f.notes[path]
	if !ok {
		return nil, berrors.New(berrors.KindNotFound, "not found", nil)
	}
	return n, nil
}

func (f *fakeStore) UpsertNote(ctx context.Context, n *store.Note) error {
	f.notes[n.Path] = n
	return nil
}

func (f *fakeStore) ReplaceChunks(ctx context.Context, notePath string, chunks []*store.Chunk) error {
	f.chunks[notePath] = chunks
	return nil
}

func (f *fakeStore) UpdateContentHash(ctx context.Context, path, hash string) error {
	if n, ok := f.notes[path]; ok {
		n.ContentHash = hash
	}
	return nil
}

func (f *fakeStore) Dimension() int { return f.dimension }

func mustStaticEmbedder(t *testing.T) embed.Embedder {
	t.Helper()
	e, err := embed.NewDefaultEmbedder(context.Background())
	require.NoError(t, err)
	return e
}

func TestPipeline_ProcessNote_CreatesChunksAndSetsHash(t *testing.T) {
	embedder := mustStaticEmbedder(t)
	st := newFakeStore(embedder.Dimensions())
	p := NewPipeline(NewFixedSizeSplitterWithOptions(20, 5), embedder, st)

	now := time.Now()
	result, err := p.ProcessNote(context.Background(), "a.md", "a", "some note body text here", now, now)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.ChunkCount > 0)
	assert.NotEmpty(t, st.notes["a.md"].ContentHash)
	assert.Len(t, st.chunks["a.md"], result.ChunkCount)
}

func TestPipeline_ProcessNote_SkipsWhenHashAndDimensionMatch(t *testing.T) {
	embedder := mustStaticEmbedder(t)
	st := newFakeStore(embedder.Dimensions())
	p := NewPipeline(NewFixedSizeSplitterWithOptions(20, 5), embedder, st)

	now := time.Now()
	_, err := p.ProcessNote(context.Background(), "a.md", "a", "unchanged body", now, now)
	require.NoError(t, err)

	result, err := p.ProcessNote(context.Background(), "a.md", "a", "unchanged body", now, now)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestPipeline_ProcessNote_ReembedsOnDimensionMismatch(t *testing.T) {
	embedder := mustStaticEmbedder(t)
	st := newFakeStore(embedder.Dimensions())
	p := NewPipeline(NewFixedSizeSplitterWithOptions(20, 5), embedder, st)

	now := time.Now()
	_, err := p.ProcessNote(context.Background(), "a.md", "a", "same body", now, now)
	require.NoError(t, err)

	st.dimension = embedder.Dimensions() + 1 // simulate a rotated model
	result, err := p.ProcessNote(context.Background(), "a.md", "a", "same body", now, now)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestPipeline_ProcessNote_EmptyBodyProducesNoChunks(t *testing.T) {
	embedder := mustStaticEmbedder(t)
	st := newFakeStore(embedder.Dimensions())
	p := NewPipeline(NewFixedSizeSplitterWithOptions(20, 5), embedder, st)

	now := time.Now()
	result, err := p.ProcessNote(context.Background(), "a.md", "a", "", now, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunkCount)
}
