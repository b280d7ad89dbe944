//go:build ignore

// Package main generates a synthetic notes_root for benchmarking sync and
// search at scale: a directory of markdown files with frontmatter, inline
// tags, and wikilinks that resolve to one another.
// Usage: go run scripts/generate-test-corpus.go -notes 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numNotes  = flag.Int("notes", 1000, "Number of notes to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory (becomes notes_root)")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
	fanout    = flag.Int("links", 3, "Max wikilinks per note")
)

var noteTemplate = `---
tags: [%s]
---

# %s

%s exists at the intersection of %s and %s. The core idea: %s.

## Related

%s

## Notes

- %s
- %s tends to matter more than it first appears.
- See #%s for background.
`

var nouns = []string{
	"Project Alpha", "Reading List", "Morning Pages", "Team Retro",
	"Sprint Planning", "Book Notes", "Travel Log", "Recipe Box",
	"Garden Journal", "Language Study", "Course Notes", "Meeting Minutes",
	"Idea Dump", "Weekly Review", "Goal Tracker", "Habit Log",
	"Research Thread", "Interview Prep", "Design Review", "Postmortem",
}

var topics = []string{
	"productivity", "systems-thinking", "writing", "cooking", "gardening",
	"language-learning", "team-dynamics", "architecture", "testing",
	"habits", "finance", "travel", "reading", "music", "health",
}

var sentences = []string{
	"the hardest part is starting, not finishing",
	"small consistent steps beat occasional bursts",
	"most of the value comes from revisiting old notes",
	"the plan rarely survives contact with the first attempt",
	"writing it down changes how you think about it",
	"the second draft is where the real thinking happens",
	"constraints are often what make a thing interesting",
	"the obvious answer is usually wrong in an interesting way",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	titles := make([]string, *numNotes)
	for i := range titles {
		titles[i] = fmt.Sprintf("%s %d", pick(rng, nouns), i)
	}

	for i, title := range titles {
		if err := generateNote(rng, title, titles, i); err != nil {
			fmt.Fprintf(os.Stderr, "generate note %d: %v\n", i, err)
		}
	}

	fmt.Printf("Generated %d notes in %s\n", *numNotes, *outputDir)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func generateNote(rng *rand.Rand, title string, allTitles []string, index int) error {
	tagA, tagB, tagC := pick(rng, topics), pick(rng, topics), pick(rng, topics)

	var links []string
	n := rng.Intn(*fanout + 1)
	for j := 0; j < n; j++ {
		target := allTitles[rng.Intn(len(allTitles))]
		if target == title {
			continue
		}
		links = append(links, fmt.Sprintf("- [[%s]]", target))
	}
	relatedBlock := "(none yet)"
	if len(links) > 0 {
		relatedBlock = strings.Join(links, "\n")
	}

	content := fmt.Sprintf(noteTemplate,
		fmt.Sprintf("%s, %s", tagA, tagB),
		title,
		title, tagA, tagB, pick(rng, sentences),
		relatedBlock,
		pick(rng, sentences), title, tagC,
	)

	filename := filepath.Join(*outputDir, fmt.Sprintf("%s.md", sanitizeFilename(title)))
	return os.WriteFile(filename, []byte(content), 0o644)
}

func sanitizeFilename(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, title)
}
