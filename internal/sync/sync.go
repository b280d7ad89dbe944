// Package sync implements the two-pass indexing pipeline: a cheap
// structural pass that keeps the note/tag/link graph current, and an
// expensive, content-hash-gated semantic pass that keeps chunk embeddings
// current. The two passes are independent — structural sync never blocks
// on embedding work.
package sync

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brainshape/brainshape/internal/chunk"
	"github.com/brainshape/brainshape/internal/notesio"
	"github.com/brainshape/brainshape/internal/parser"
	"github.com/brainshape/brainshape/internal/store"
)

// Result reports the outcome of a single sync pass.
type Result struct {
	Processed int
	Skipped   int
	Errored   int
	Errors    []NoteError
}

// NoteError pairs a note path with the error encountered processing it.
type NoteError struct {
	Path string
	Err  error
}

func (r *Result) recordError(path string, err error) {
	r.Errored++
	r.Errors = append(r.Errors, NoteError{Path: path, Err: err})
}

// GraphStore is the subset of *store.Store the structural pass needs.
type GraphStore interface {
	UpsertNote(ctx context.Context, n *store.Note) error
	ReplaceTags(ctx context.Context, notePath string, tags []string) error
	ReplaceLinks(ctx context.Context, sourcePath string, targetPaths []string) error
	GetNoteByTitleExact(ctx context.Context, title string) (*store.Note, error)
}

// StructuralSyncer re-derives the note/tag/link graph from the files on
// disk. Safe to run repeatedly and concurrently with semantic sync.
type StructuralSyncer struct {
	notes       *notesio.Root
	store       GraphStore
	concurrency int
	parseCache  *ParseCache
}

// NewStructuralSyncer builds a structural syncer. concurrency <= 0 defaults
// to runtime.NumCPU().
func NewStructuralSyncer(notes *notesio.Root, st GraphStore, concurrency int) *StructuralSyncer {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &StructuralSyncer{notes: notes, store: st, concurrency: concurrency}
}

// WithParseCache installs a ParseCache the syncer consults before
// re-parsing a note's bytes, typically shared with a SemanticSyncer over
// the same notes_root so one sync cycle parses each changed file once.
func (s *StructuralSyncer) WithParseCache(c *ParseCache) *StructuralSyncer {
	s.parseCache = c
	return s
}

func (s *StructuralSyncer) readNote(path string) (*parser.Note, error) {
	if s.parseCache != nil {
		return s.parseCache.Read(s.notes, path)
	}
	return s.notes.ReadNote(path)
}

// Sync runs both structural passes over every note under notes_root: pass
// one UPSERTs every Note record so every potential wikilink target exists,
// pass two rebuilds each note's tagged_with and links_to out-edges.
func (s *StructuralSyncer) Sync(ctx context.Context) Result {
	start := time.Now()
	paths, err := s.notes.ListNotes()
	if err != nil {
		slog.Error("structural_sync_list_failed", slog.String("error", err.Error()))
		return Result{Errored: 1, Errors: []NoteError{{Path: "", Err: err}}}
	}

	parsed := make([]*parser.Note, len(paths))
	failed := make([]bool, len(paths))
	var mu sync.Mutex
	result := Result{}

	// Pass one: parse and UPSERT every note so wikilink targets resolve
	// below, regardless of parse order across notes.
	s.forEach(paths, func(i int, path string) {
		note, err := s.readNote(path)
		if err != nil {
			mu.Lock()
			result.recordError(path, err)
			mu.Unlock()
			failed[i] = true
			return
		}
		parsed[i] = note

		now := time.Now().UTC()
		if err := s.store.UpsertNote(ctx, &store.Note{
			Path:       note.Path,
			Title:      note.Title,
			Content:    note.Content,
			CreatedAt:  now,
			ModifiedAt: now,
		}); err != nil {
			mu.Lock()
			result.recordError(path, err)
			mu.Unlock()
			failed[i] = true
		}
	})

	// Pass two: rebuild tag and link edges now every note exists.
	s.forEach(paths, func(i int, path string) {
		note := parsed[i]
		if note == nil || failed[i] {
			return
		}
		if err := s.store.ReplaceTags(ctx, note.Path, note.Tags); err != nil {
			mu.Lock()
			result.recordError(path, err)
			mu.Unlock()
			return
		}

		var targets []string
		for _, link := range note.Links {
			target, err := s.store.GetNoteByTitleExact(ctx, link)
			if err != nil {
				continue // unresolvable wikilink: silently ignored, no placeholder note
			}
			targets = append(targets, target.Path)
		}
		if err := s.store.ReplaceLinks(ctx, note.Path, targets); err != nil {
			mu.Lock()
			result.recordError(path, err)
			mu.Unlock()
			return
		}

		mu.Lock()
		result.Processed++
		mu.Unlock()
	})

	slog.Info("structural_sync_complete",
		slog.Int("processed", result.Processed),
		slog.Int("errored", result.Errored),
		slog.Duration("duration", time.Since(start)))
	return result
}

// forEach runs fn over every index of paths with bounded concurrency,
// swallowing per-item errors internally so one bad note never aborts the
// pass — errgroup is used purely as a bounded worker pool here, not for
// error propagation.
func (s *StructuralSyncer) forEach(paths []string, fn func(i int, path string)) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			fn(i, p)
			return nil
		})
	}
	_ = g.Wait()
}

// SemanticSyncer runs the chunk write protocol over every note, skipping
// any whose content hash already matches the stored one.
type SemanticSyncer struct {
	notes       *notesio.Root
	pipeline    *chunk.Pipeline
	concurrency int
	parseCache  *ParseCache
}

// NewSemanticSyncer builds a semantic syncer. concurrency <= 0 defaults to
// runtime.NumCPU().
func NewSemanticSyncer(notes *notesio.Root, pipeline *chunk.Pipeline, concurrency int) *SemanticSyncer {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &SemanticSyncer{notes: notes, pipeline: pipeline, concurrency: concurrency}
}

// WithParseCache installs a ParseCache, typically the same instance given
// to a StructuralSyncer over the same notes_root, so a note touched in one
// sync cycle is parsed at most once across both passes.
func (s *SemanticSyncer) WithParseCache(c *ParseCache) *SemanticSyncer {
	s.parseCache = c
	return s
}

func (s *SemanticSyncer) readNote(path string) (*parser.Note, error) {
	if s.parseCache != nil {
		return s.parseCache.Read(s.notes, path)
	}
	return s.notes.ReadNote(path)
}

// Sync runs the chunk pipeline over every note under notes_root.
func (s *SemanticSyncer) Sync(ctx context.Context) Result {
	start := time.Now()
	paths, err := s.notes.ListNotes()
	if err != nil {
		slog.Error("semantic_sync_list_failed", slog.String("error", err.Error()))
		return Result{Errored: 1, Errors: []NoteError{{Path: "", Err: err}}}
	}

	var mu sync.Mutex
	result := Result{}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			note, err := s.readNote(p)
			if err != nil {
				mu.Lock()
				result.recordError(p, err)
				mu.Unlock()
				return nil
			}
			now := time.Now().UTC()
			res, err := s.pipeline.ProcessNote(ctx, note.Path, note.Title, note.Content, now, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.recordError(p, err)
				return nil
			}
			if res.Skipped {
				result.Skipped++
			} else {
				result.Processed++
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("semantic_sync_complete",
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Int("errored", result.Errored),
		slog.Duration("duration", time.Since(start)))
	return result
}
