// Package notesio provides safe filesystem operations over a notes_root
// directory tree: listing, reading, atomic writes, trash lifecycle, and
// corpus-wide wikilink rewriting on rename. Every operation enforces the
// containment invariant — the resolved absolute path must lie under
// notes_root — before touching disk.
package notesio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brainshape/brainshape/internal/berrors"
	"github.com/brainshape/brainshape/internal/parser"
)

const trashDirName = ".trash"

var skipImportDirs = map[string]bool{
	".obsidian": true,
	".git":      true,
	".trash":    true,
	"node_modules": true,
}

// Root wraps a notes_root directory and exposes safe operations over it.
type Root struct {
	path string
}

// New returns a Root rooted at notesRoot, which must already exist.
func New(notesRoot string) (*Root, error) {
	abs, err := filepath.Abs(notesRoot)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("notes_root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("notes_root %q is not a directory", abs)
	}
	return &Root{path: abs}, nil
}

// Path returns the absolute notes_root directory.
func (r *Root) Path() string { return r.path }

// resolve joins rel onto notes_root and enforces the containment invariant.
func (r *Root) resolve(rel string) (string, error) {
	abs := filepath.Join(r.path, rel)
	cleanRoot := filepath.Clean(r.path)
	cleanAbs := filepath.Clean(abs)
	if cleanAbs != cleanRoot && !strings.HasPrefix(cleanAbs, cleanRoot+string(filepath.Separator)) {
		return "", berrors.New(berrors.KindPathEscape, fmt.Sprintf("path %q escapes notes_root", rel), nil)
	}
	return cleanAbs, nil
}

// ListNotes enumerates every .md file under notes_root except under .trash/,
// returned as notes_root-relative POSIX paths.
func (r *Root) ListNotes() ([]string, error) {
	var out []string
	err := filepath.WalkDir(r.path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == trashDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(r.path, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// ReadNote reads and parses the note at notes_root-relative path.
func (r *Root) ReadNote(relPath string) (*parser.Note, error) {
	raw, err := r.ReadRaw(relPath)
	if err != nil {
		return nil, err
	}
	return r.ParseRaw(relPath, raw)
}

// ReadRaw returns the unparsed bytes of the note at notes_root-relative
// path, for callers that want to hash or cache on raw content before
// paying the parse cost.
func (r *Root) ReadRaw(relPath string) ([]byte, error) {
	abs, err := r.resolve(relPath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, berrors.New(berrors.KindNotFound, fmt.Sprintf("note %q not found", relPath), err)
		}
		return nil, err
	}
	return raw, nil
}

// ParseRaw parses previously-read raw bytes as the note at
// notes_root-relative path, without touching disk again.
func (r *Root) ParseRaw(relPath string, raw []byte) (*parser.Note, error) {
	abs, err := r.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return parser.Parse(r.path, abs, raw)
}

// WriteNote creates a new note at folder/title.md. It rejects a title
// containing path separators or empty after trimming, and rejects an
// existing target outright.
func (r *Root) WriteNote(title, content string, frontmatter map[string]any, folder string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", berrors.New(berrors.KindInvalidIdentifier, "title is empty", nil)
	}
	if strings.ContainsAny(title, "/\\") {
		return "", berrors.New(berrors.KindInvalidIdentifier, "title must not contain path separators", nil)
	}

	rel := filepath.ToSlash(filepath.Join(folder, trimmed+".md"))
	abs, err := r.resolve(rel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err == nil {
		return "", berrors.New(berrors.KindAlreadyExists, fmt.Sprintf("note %q already exists", rel), nil)
	}

	body := renderDocument(frontmatter, content)
	if err := atomicWrite(abs, body); err != nil {
		return "", err
	}
	return rel, nil
}

// RewriteNote replaces a note's body, preserving its existing frontmatter
// and merging any newly-extracted tags into the frontmatter tags list.
func (r *Root) RewriteNote(relPath, newContent string) error {
	abs, err := r.resolve(relPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return berrors.New(berrors.KindNotFound, fmt.Sprintf("note %q not found", relPath), err)
		}
		return err
	}
	existing, err := parser.Parse(r.path, abs, raw)
	if err != nil {
		return err
	}

	fresh, err := parser.Parse(r.path, abs, []byte(newContent))
	if err != nil {
		return err
	}
	metadata := existing.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["tags"] = mergeTagLists(metadata["tags"], fresh.Tags)

	body := renderDocument(metadata, newContent)
	return atomicWrite(abs, body)
}

// DeleteNote moves a note to .trash/<same relative subpath>/<name>.md,
// suffixing the filename with a timestamp on collision.
func (r *Root) DeleteNote(relPath string) (string, error) {
	abs, err := r.resolve(relPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", berrors.New(berrors.KindNotFound, fmt.Sprintf("note %q not found", relPath), err)
		}
		return "", err
	}

	trashRel := filepath.Join(trashDirName, relPath)
	trashAbs, err := r.resolve(trashRel)
	if err != nil {
		return "", err
	}
	trashAbs = uniquifyPath(trashAbs)

	if err := os.MkdirAll(filepath.Dir(trashAbs), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(abs, trashAbs); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(r.path, trashAbs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ListTrash enumerates every .md file under .trash/.
func (r *Root) ListTrash() ([]string, error) {
	trashAbs := filepath.Join(r.path, trashDirName)
	if _, err := os.Stat(trashAbs); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	err := filepath.WalkDir(trashAbs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(r.path, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// RestoreNote moves a trashed note back to its original location, deduced
// by stripping the leading .trash/ segment. Fails if the original location
// is already occupied.
func (r *Root) RestoreNote(trashRelPath string) (string, error) {
	if !strings.HasPrefix(filepath.ToSlash(trashRelPath), trashDirName+"/") {
		return "", berrors.New(berrors.KindInvalidIdentifier, fmt.Sprintf("path %q is not under .trash/", trashRelPath), nil)
	}
	trashAbs, err := r.resolve(trashRelPath)
	if err != nil {
		return "", err
	}

	origRel := strings.TrimPrefix(filepath.ToSlash(trashRelPath), trashDirName+"/")
	origAbs, err := r.resolve(origRel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(origAbs); err == nil {
		return "", berrors.New(berrors.KindAlreadyExists, fmt.Sprintf("restore target %q already exists", origRel), nil)
	}

	if err := os.MkdirAll(filepath.Dir(origAbs), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(trashAbs, origAbs); err != nil {
		return "", err
	}
	return origRel, nil
}

// EmptyTrash permanently deletes everything under .trash/.
func (r *Root) EmptyTrash() error {
	trashAbs := filepath.Join(r.path, trashDirName)
	entries, err := os.ReadDir(trashAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(trashAbs, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// RenameResult reports the outcome of a rename, including every other note
// whose wikilinks were rewritten to follow it.
type RenameResult struct {
	NewPath       string
	RewrittenRefs []string
}

// RenameNote renames a note's file on disk to newTitle, then rewrites every
// `[[oldTitle]]`/`[[oldTitle|alias]]` wikilink in every other note to the
// new title, preserving the alias form and skipping fenced code blocks.
func (r *Root) RenameNote(relPath, newTitle string) (*RenameResult, error) {
	trimmed := strings.TrimSpace(newTitle)
	if trimmed == "" {
		return nil, berrors.New(berrors.KindInvalidIdentifier, "new title is empty", nil)
	}
	if strings.ContainsAny(newTitle, "/\\") {
		return nil, berrors.New(berrors.KindInvalidIdentifier, "new title must not contain path separators", nil)
	}

	abs, err := r.resolve(relPath)
	if err != nil {
		return nil, err
	}
	oldTitle := strings.TrimSuffix(filepath.Base(relPath), ".md")

	newRel := filepath.ToSlash(filepath.Join(filepath.Dir(relPath), trimmed+".md"))
	newAbs, err := r.resolve(newRel)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(newAbs); err == nil {
		return nil, berrors.New(berrors.KindAlreadyExists, fmt.Sprintf("note %q already exists", newRel), nil)
	}
	if err := os.Rename(abs, newAbs); err != nil {
		return nil, err
	}

	notes, err := r.ListNotes()
	if err != nil {
		return nil, err
	}
	rewriteRe := wikilinkRenameRegexp(oldTitle)

	var rewritten []string
	for _, n := range notes {
		if n == newRel {
			continue
		}
		nAbs, err := r.resolve(n)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(nAbs)
		if err != nil {
			return nil, err
		}
		updated, changed := rewriteWikilinksOutsideFences(string(raw), rewriteRe, trimmed)
		if !changed {
			continue
		}
		if err := atomicWrite(nAbs, updated); err != nil {
			return nil, err
		}
		rewritten = append(rewritten, n)
	}

	return &RenameResult{NewPath: newRel, RewrittenRefs: rewritten}, nil
}

// ImportExternal copies .md files from sourceDir into notes_root, preserving
// subdirectory structure and skipping known tool directories.
func (r *Root) ImportExternal(sourceDir string) ([]string, error) {
	srcAbs, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, err
	}
	if srcAbs == r.path || strings.HasPrefix(srcAbs, r.path+string(filepath.Separator)) ||
		strings.HasPrefix(r.path, srcAbs+string(filepath.Separator)) {
		return nil, berrors.New(berrors.KindInvalidIdentifier, "source_dir overlaps notes_root", nil)
	}

	var imported []string
	err = filepath.WalkDir(srcAbs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipImportDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(srcAbs, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		destAbs, err := r.resolve(rel)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := atomicWrite(destAbs, string(raw)); err != nil {
			return err
		}
		imported = append(imported, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(imported)
	return imported, nil
}

// atomicWrite writes body to path via a temp-file-then-rename so readers
// never observe a torn write.
func atomicWrite(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// uniquifyPath appends a timestamp suffix to path until it no longer
// collides with an existing file.
func uniquifyPath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for {
		candidate := fmt.Sprintf("%s.%d%s", base, time.Now().UnixNano(), ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// renderDocument assembles a markdown document from frontmatter metadata
// and a body, omitting the frontmatter block entirely when metadata is
// empty.
func renderDocument(metadata map[string]any, body string) string {
	if len(metadata) == 0 {
		return body
	}
	yamlBlock, err := marshalFrontmatter(metadata)
	if err != nil || strings.TrimSpace(yamlBlock) == "" {
		return body
	}
	return "---\n" + yamlBlock + "---\n" + body
}

func marshalFrontmatter(metadata map[string]any) (string, error) {
	out, err := yaml.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// mergeTagLists folds newTags into whatever tags value already lives in
// frontmatter (string, []string or []any), deduplicating and preserving
// insertion order, and returns a []string ready to be written back.
func mergeTagLists(existing any, newTags []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	switch v := existing.(type) {
	case string:
		add(v)
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, t := range newTags {
		add(t)
	}
	return out
}

func wikilinkRenameRegexp(oldTitle string) *regexp.Regexp {
	return regexp.MustCompile(`\[\[` + regexp.QuoteMeta(oldTitle) + `(\|[^\]]*)?\]\]`)
}

// rewriteWikilinksOutsideFences replaces every match of re in body with a
// wikilink to newTitle, preserving any alias suffix, skipping matches that
// fall inside a fenced code block.
func rewriteWikilinksOutsideFences(body string, re *regexp.Regexp, newTitle string) (string, bool) {
	fenceStarts := regexp.MustCompile(`(?m)^` + "```").FindAllStringIndex(body, -1)
	var fenced [][2]int
	for i := 0; i+1 < len(fenceStarts); i += 2 {
		fenced = append(fenced, [2]int{fenceStarts[i][0], fenceStarts[i+1][1]})
	}

	matches := re.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body, false
	}

	var sb strings.Builder
	last := 0
	changed := false
	for _, m := range matches {
		start, end := m[0], m[1]
		inFence := false
		for _, f := range fenced {
			if start >= f[0] && start < f[1] {
				inFence = true
				break
			}
		}
		if inFence {
			continue
		}
		alias := ""
		if m[2] >= 0 {
			alias = body[m[2]:m[3]]
		}
		sb.WriteString(body[last:start])
		sb.WriteString("[[" + newTitle + alias + "]]")
		last = end
		changed = true
	}
	sb.WriteString(body[last:])
	return sb.String(), changed
}
