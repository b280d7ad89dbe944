// Package parser extracts a structured note record from a markdown file's
// path and bytes: title, body, frontmatter metadata, wikilinks, tags, and a
// content hash. It is a pure function over its inputs — no filesystem
// access, no Store, no side effects.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is the parsed record produced from one markdown file.
type Note struct {
	Path        string // notes-root-relative, POSIX forward slashes
	Title       string // filename without the .md extension
	Content     string // body after stripping frontmatter
	Metadata    map[string]any
	Links       []string // deduplicated wikilink targets, first-seen order
	Tags        []string // deduplicated, lowercased
	ContentHash string   // hex sha256 of Content
}

var (
	frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)
	wikilinkPattern    = regexp.MustCompile(`!?\[\[([^\]]+)\]\]`)
	tagPattern         = regexp.MustCompile(`(?m)(?:^|\s)#([A-Za-z][\w/-]*)`)
	codeFencePattern   = regexp.MustCompile("(?m)^```")
)

// Parse builds a Note record from the raw bytes of a markdown file located
// at absPath, relative to notesRoot. Both paths are expected to already be
// cleaned, absolute, and absPath contained under notesRoot — the
// containment invariant itself is notesio's responsibility, not the
// parser's.
func Parse(notesRoot, absPath string, raw []byte) (*Note, error) {
	rel, err := relativeSlashPath(notesRoot, absPath)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSuffix(path.Base(rel), ".md")

	body := string(raw)
	metadata := map[string]any{}
	if m := frontmatterPattern.FindStringSubmatchIndex(body); m != nil {
		yamlBlock := body[m[2]:m[3]]
		if strings.TrimSpace(yamlBlock) != "" {
			if err := yaml.Unmarshal([]byte(yamlBlock), &metadata); err != nil {
				return nil, err
			}
			if metadata == nil {
				metadata = map[string]any{}
			}
		}
		body = body[m[1]:]
	}

	links := extractLinks(body)
	tags := extractTags(body)
	tags = mergeFrontmatterTags(tags, metadata["tags"])

	sum := sha256.Sum256([]byte(body))

	return &Note{
		Path:        rel,
		Title:       title,
		Content:     body,
		Metadata:    metadata,
		Links:       links,
		Tags:        tags,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func relativeSlashPath(notesRoot, absPath string) (string, error) {
	rel, err := filepath.Rel(notesRoot, absPath)
	if err != nil {
		return "", err
	}
	return path.Clean(filepath.ToSlash(rel)), nil
}

// extractLinks finds `[[target]]`/`[[target|alias]]` wikilinks, ignoring the
// embed form `![[...]]`, stripping `#heading`/`^block` suffixes and any
// leading path segments, and deduplicating while preserving first-seen
// order.
func extractLinks(body string) []string {
	fenced := fencedRanges(body)

	var out []string
	seen := map[string]bool{}
	for _, m := range wikilinkPattern.FindAllStringSubmatchIndex(body, -1) {
		start := m[0]
		if body[start] == '!' {
			continue // embed form, not a link
		}
		if insideAnyRange(start, fenced) {
			continue
		}
		target := body[m[2]:m[3]]
		if idx := strings.Index(target, "|"); idx >= 0 {
			target = target[:idx]
		}
		target = strings.TrimSpace(target)
		if idx := strings.IndexAny(target, "#^"); idx >= 0 {
			target = target[:idx]
		}
		if idx := strings.LastIndex(target, "/"); idx >= 0 {
			target = target[idx+1:]
		}
		target = strings.TrimSpace(target)
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

// extractTags finds `#tag` occurrences outside fenced code blocks,
// lowercases and deduplicates them.
func extractTags(body string) []string {
	fenced := fencedRanges(body)

	var out []string
	seen := map[string]bool{}
	for _, m := range tagPattern.FindAllStringSubmatchIndex(body, -1) {
		if insideAnyRange(m[2], fenced) {
			continue
		}
		tag := strings.ToLower(body[m[2]:m[3]])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// mergeFrontmatterTags folds the frontmatter `tags` key (list or scalar)
// into tags already found inline, normalizing identically and
// deduplicating while preserving insertion order.
func mergeFrontmatterTags(tags []string, fmTags any) []string {
	seen := map[string]bool{}
	for _, t := range tags {
		seen[t] = true
	}

	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		tags = append(tags, v)
	}

	switch v := fmTags.(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	}
	return tags
}

// fencedRanges returns the [start,end) byte ranges of every fenced code
// block (``` ... ```) in body, used to exclude matches that fall inside one.
func fencedRanges(body string) [][2]int {
	fenceStarts := codeFencePattern.FindAllStringIndex(body, -1)
	var ranges [][2]int
	for i := 0; i+1 < len(fenceStarts); i += 2 {
		ranges = append(ranges, [2]int{fenceStarts[i][0], fenceStarts[i+1][1]})
	}
	return ranges
}

func insideAnyRange(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
