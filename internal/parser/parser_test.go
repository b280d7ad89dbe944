package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NoFrontmatter(t *testing.T) {
	note, err := Parse("/notes", "/notes/projects/idea.md", []byte("hello world"))
	require.NoError(t, err)

	assert.Equal(t, "projects/idea.md", note.Path)
	assert.Equal(t, "idea", note.Title)
	assert.Equal(t, "hello world", note.Content)
	assert.Empty(t, note.Metadata)
}

func TestParse_StripsFrontmatter(t *testing.T) {
	raw := "---\ntitle: Custom Title\ntags:\n  - alpha\n  - Beta\n---\nbody text\n"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "body text\n", note.Content)
	assert.Equal(t, "Custom Title", note.Metadata["title"])
	assert.ElementsMatch(t, []string{"alpha", "beta"}, note.Tags)
}

func TestParse_ContentHashExcludesFrontmatter(t *testing.T) {
	raw := "---\nx: 1\n---\nbody\n"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("body\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), note.ContentHash)
}

func TestParse_WikilinksBasicAndAlias(t *testing.T) {
	raw := "see [[Other Note]] and [[Other Note|a nicer label]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Other Note"}, note.Links)
}

func TestParse_WikilinksStripHeadingAndBlockSuffixes(t *testing.T) {
	raw := "[[Note#Heading]] and [[Note^block123]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Note"}, note.Links)
}

func TestParse_WikilinksKeepOnlyFinalPathSegment(t *testing.T) {
	raw := "[[folder/sub/Target]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Target"}, note.Links)
}

func TestParse_IgnoresEmbedForm(t *testing.T) {
	raw := "![[image.png]] but [[Real Link]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Real Link"}, note.Links)
}

func TestParse_WikilinksDeduplicatePreservingOrder(t *testing.T) {
	raw := "[[B]] [[A]] [[B]] [[A]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "A"}, note.Links)
}

func TestParse_TagsInlineAndDeduplicated(t *testing.T) {
	raw := "a #Go note about #go and #rust"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"go", "rust"}, note.Tags)
}

func TestParse_TagsExcludedInsideFencedCodeBlock(t *testing.T) {
	raw := "#real\n```\n#notatag\n```\n#also-real"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"real", "also-real"}, note.Tags)
}

func TestParse_WikilinksExcludedInsideFencedCodeBlock(t *testing.T) {
	raw := "```\n[[NotALink]]\n```\n[[RealLink]]"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"RealLink"}, note.Links)
}

func TestParse_FrontmatterTagsScalarMerged(t *testing.T) {
	raw := "---\ntags: solo\n---\n#inline"
	note, err := Parse("/notes", "/notes/a.md", []byte(raw))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"solo", "inline"}, note.Tags)
}

func TestParse_NestedPathRelativeToNotesRoot(t *testing.T) {
	note, err := Parse("/home/user/notes", "/home/user/notes/a/b/c.md", []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, "a/b/c.md", note.Path)
	assert.Equal(t, "c", note.Title)
}
