package chunk

import "context"

// Chunk size defaults per the fixed-size overlapping splitter: target chunk
// length in characters and the overlap carried into the next chunk so a
// concept split across a boundary still appears whole in at least one chunk.
const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 200
)

// Chunk is one fixed-size slice of a note body, in document order.
type Chunk struct {
	Idx  int // 0-based position within the note
	Text string
}

// Splitter splits a note body into fixed-size overlapping chunks. ID
// assignment and embedding happen in the chunk pipeline that calls it, not
// here — a Splitter has no knowledge of the Store or the Embedder.
type Splitter interface {
	Split(ctx context.Context, body string) []Chunk
}
