package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/brainshape/brainshape/internal/berrors"
	"github.com/brainshape/brainshape/internal/embed"
	"github.com/brainshape/brainshape/internal/store"
)

// Store is the subset of *store.Store the write protocol needs. Defined
// here rather than depended on concretely so pipeline tests can supply a
// fake.
type Store interface {
	GetNoteByPath(ctx context.Context, path string) (*store.Note, error)
	UpsertNote(ctx context.Context, n *store.Note) error
	ReplaceChunks(ctx context.Context, notePath string, chunks []*store.Chunk) error
	UpdateContentHash(ctx context.Context, path, hash string) error
	Dimension() int
}

// Pipeline ties a Splitter and an Embedder to a Store, implementing the
// per-note chunk write protocol: skip if the content hash and embedding
// dimension already match, otherwise re-split, re-embed, and replace.
type Pipeline struct {
	splitter Splitter
	embedder embed.Embedder
	store    Store
}

// NewPipeline builds a chunk pipeline from its three collaborators.
func NewPipeline(splitter Splitter, embedder embed.Embedder, st Store) *Pipeline {
	return &Pipeline{splitter: splitter, embedder: embedder, store: st}
}

// Result reports what ProcessNote did for one note.
type Result struct {
	Skipped    bool
	ChunkCount int
}

// ProcessNote runs the write protocol for a single note: notePath, title, body,
// createdAt, and modifiedAt describe the note as currently read from disk.
func (p *Pipeline) ProcessNote(ctx context.Context, notePath, title, body string, createdAt, modifiedAt time.Time) (Result, error) {
	hash := contentHash(body)

	existing, err := p.store.GetNoteByPath(ctx, notePath)
	if err != nil && !berrors.Of(err, berrors.KindNotFound) {
		return Result{}, err
	}
	if existing != nil && existing.ContentHash == hash && p.store.Dimension() == p.embedder.Dimensions() {
		return Result{Skipped: true}, nil
	}

	note := &store.Note{
		Path:       notePath,
		Title:      title,
		Content:    body,
		CreatedAt:  createdAt,
		ModifiedAt: modifiedAt,
	}
	if existing != nil {
		note.CreatedAt = existing.CreatedAt
	}
	if err := p.store.UpsertNote(ctx, note); err != nil {
		return Result{}, err
	}

	pieces := p.splitter.Split(ctx, body)
	chunks := make([]*store.Chunk, 0, len(pieces))
	if len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for i, c := range pieces {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return Result{}, err
		}
		for i, c := range pieces {
			chunks = append(chunks, &store.Chunk{
				ID:        chunkID(notePath, c.Idx),
				NotePath:  notePath,
				Text:      c.Text,
				Idx:       c.Idx,
				Embedding: vectors[i],
			})
		}
	}

	if err := p.store.ReplaceChunks(ctx, notePath, chunks); err != nil {
		return Result{}, err
	}
	if err := p.store.UpdateContentHash(ctx, notePath, hash); err != nil {
		return Result{}, err
	}

	return Result{ChunkCount: len(chunks)}, nil
}

func contentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// chunkID derives a stable chunk ID from its note path and index so the
// same logical chunk keeps the same ID across re-embeds.
func chunkID(notePath string, idx int) string {
	sum := sha256.Sum256([]byte(notePath + "#" + strconv.Itoa(idx)))
	return hex.EncodeToString(sum[:])
}
