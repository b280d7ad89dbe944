package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCache_ReturnsSameNoteForUnchangedContent(t *testing.T) {
	notes := newTestNotesRoot(t)
	_, err := notes.WriteNote("a", "body #tag [[b]]", nil, "")
	require.NoError(t, err)

	c := NewParseCache(0)
	first, err := c.Read(notes, "a.md")
	require.NoError(t, err)
	second, err := c.Read(notes, "a.md")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestParseCache_ReparsesAfterContentChanges(t *testing.T) {
	notes := newTestNotesRoot(t)
	_, err := notes.WriteNote("a", "original #old", nil, "")
	require.NoError(t, err)

	c := NewParseCache(0)
	first, err := c.Read(notes, "a.md")
	require.NoError(t, err)
	assert.Contains(t, first.Tags, "old")

	require.NoError(t, notes.RewriteNote("a.md", "revised #new"))
	second, err := c.Read(notes, "a.md")
	require.NoError(t, err)
	assert.Contains(t, second.Tags, "new")
	assert.NotSame(t, first, second)
}

func TestStructuralSyncer_WithParseCache_StillProducesCorrectEdges(t *testing.T) {
	notes := newTestNotesRoot(t)
	_, err := notes.WriteNote("Target", "the target", nil, "")
	require.NoError(t, err)
	_, err = notes.WriteNote("Source", "see [[Target]] #linked", nil, "")
	require.NoError(t, err)

	gs := newFakeGraphStore()
	cache := NewParseCache(0)
	syncer := NewStructuralSyncer(notes, gs, 2).WithParseCache(cache)

	result := syncer.Sync(context.Background())
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, []string{"Target.md"}, gs.links["Source.md"])
	assert.ElementsMatch(t, []string{"linked"}, gs.tags["Source.md"])
}
