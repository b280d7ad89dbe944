package sync

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brainshape/brainshape/internal/notesio"
	"github.com/brainshape/brainshape/internal/parser"
)

// DefaultParseCacheSize bounds how many notes' parse results are retained
// between sync passes.
const DefaultParseCacheSize = 2000

type parseCacheEntry struct {
	hash string
	note *parser.Note
}

// ParseCache memoizes parser.Parse results by path and raw-content hash so
// the structural and semantic passes of a single sync cycle, and
// consecutive cycles where a note hasn't changed, don't re-run markdown
// parsing on bytes they've already seen.
type ParseCache struct {
	entries *lru.Cache[string, parseCacheEntry]
}

// NewParseCache builds a ParseCache holding up to size entries. size <= 0
// uses DefaultParseCacheSize.
func NewParseCache(size int) *ParseCache {
	if size <= 0 {
		size = DefaultParseCacheSize
	}
	entries, _ := lru.New[string, parseCacheEntry](size)
	return &ParseCache{entries: entries}
}

// Read returns the parsed note at relPath, reusing the cached parse result
// if the file's raw bytes are unchanged since the last call for this path.
func (c *ParseCache) Read(notes *notesio.Root, relPath string) (*parser.Note, error) {
	raw, err := notes.ReadRaw(relPath)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if cached, ok := c.entries.Get(relPath); ok && cached.hash == hash {
		return cached.note, nil
	}

	note, err := notes.ParseRaw(relPath, raw)
	if err != nil {
		return nil, err
	}
	c.entries.Add(relPath, parseCacheEntry{hash: hash, note: note})
	return note, nil
}
