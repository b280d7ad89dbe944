package chunk

import "context"

// FixedSizeSplitter implements the fixed-size overlapping splitter the
// chunk pipeline uses to break a note body into retrievable chunks: target
// size ~4000 characters, ~200 characters of overlap carried forward, split
// at character boundaries.
type FixedSizeSplitter struct {
	size    int
	overlap int
}

// NewFixedSizeSplitter creates a splitter with the default size/overlap.
func NewFixedSizeSplitter() *FixedSizeSplitter {
	return NewFixedSizeSplitterWithOptions(DefaultChunkSize, DefaultChunkOverlap)
}

// NewFixedSizeSplitterWithOptions creates a splitter with a custom
// size/overlap. An overlap that is negative or not below size is replaced
// by DefaultChunkOverlap; if that is still not below size, Split steps by
// the full size, so chunks always advance.
func NewFixedSizeSplitterWithOptions(size, overlap int) *FixedSizeSplitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &FixedSizeSplitter{size: size, overlap: overlap}
}

// Split breaks body into chunks of runes, not bytes, so multi-byte UTF-8
// sequences are never cut mid-rune.
func (s *FixedSizeSplitter) Split(ctx context.Context, body string) []Chunk {
	runes := []rune(body)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	step := s.size - s.overlap
	if step <= 0 {
		step = s.size
	}
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Idx: idx, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
