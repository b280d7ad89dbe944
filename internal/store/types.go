// Package store provides the embedded graph-plus-vector store: a single
// SQLite-backed metadata/graph database, a pluggable BM25 keyword index, and
// an HNSW vector index over chunk embeddings.
package store

import (
	"context"
	"fmt"
	"time"
)

// Note is a single markdown file tracked under notes_root.
type Note struct {
	Path        string // relative to notes_root, forward-slash separated
	Title       string
	Content     string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentHash string // sha256 of the note body (frontmatter stripped)
}

// Tag is a hashtag discovered in note content.
type Tag struct {
	Name string
}

// Chunk is one fixed-size slice of a note's body, holding its own embedding.
type Chunk struct {
	ID        string // sha256(note_path + "#" + idx)
	NotePath  string
	Text      string
	Idx       int // 0-based position within the note
	Embedding []float32
}

// MemoryKind distinguishes the provenance of a stored Memory.
type MemoryKind string

const (
	MemoryKindObservation MemoryKind = "observation"
	MemoryKindFact        MemoryKind = "fact"
	MemoryKindDecision    MemoryKind = "decision"
)

// Memory is an agent-authored note-like record not backed by a file.
type Memory struct {
	MID       string // uuid
	Type      MemoryKind
	Content   string
	CreatedAt time.Time
}

// Edge is a generic (source, target[, relation]) association row, used both
// for the built-in tagged_with/links_to/from_document tables and for
// agent-created relation tables.
type Edge struct {
	Source   string
	Target   string
	Relation string // empty for built-in edge tables, which are single-purpose
}

// ErrDimensionMismatch indicates an embedding's dimension doesn't match the
// vector index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run a model rotation to rebuild the vector index)", e.Expected, e.Got)
}

// Document represents a unit of text to be indexed in a BM25 backend. Used
// for both note.content/note.title full-text indexing.
type Document struct {
	ID      string // note path or chunk ID
	Content string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about a BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// KeywordIndex provides keyword search. Both the SQLite FTS5 backend (BM25
// scoring) and the bleve backend (Bleve's default TF-IDF scoring) implement
// this so keyword_search is backend-agnostic.
type KeywordIndex interface {
	// Index adds or updates documents in the index.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by the backend's model.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Index is an alias retained for the backends' own naming; it is the
// same shape as KeywordIndex.
type BM25Index = KeywordIndex

// BM25Config configures a BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration for note prose.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English words filtered out of keyword
// search over note prose.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
	"of", "to", "in", "on", "for", "with", "as", "at", "by", "from",
	"this", "that", "these", "those", "it", "be", "has", "have", "had",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (matches the active embedder).
	Dimensions int

	// Quantization is the vector precision: "f32", "f16", "i8" (default: "f16").
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos").
	Metric string

	// M is HNSW max connections per layer (default: 32).
	M int

	// EfConstruction is HNSW build-time search width (default: 128).
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search over chunk embeddings using HNSW.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks).
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// relTablePrefix and entTablePrefix mark agent-created tables internally;
// callers see the name with the prefix stripped (spec's create_connection
// identifier, not a SQL-visible artifact).
const (
	relTablePrefix = "__rel_"
	entTablePrefix = "__ent_"
)

// Built-in edge and entity table names.
const (
	TableNote       = "note"
	TableTag        = "tag"
	TableChunk      = "chunk"
	TableMemory     = "memory"
	TableTaggedWith = "tagged_with"
	TableLinksTo    = "links_to"
	TableFromDoc    = "from_document"
)

// ReservedNames are identifiers create_connection must reject: the built-in
// tables plus the edge tables, since a custom entity/relation table sharing
// one of these names would collide with the schema brainshape itself owns.
var ReservedNames = map[string]struct{}{
	"note": {}, "tag": {}, "chunk": {}, "memory": {},
	"tagged_with": {}, "links_to": {}, "from_document": {},
}
