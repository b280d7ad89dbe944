// Package retrieval implements the operations an agent calls against a
// Brainshape store: keyword and semantic search, note CRUD through notesio
// with a structural resync on every write, graph traversal, memory
// capture, and guarded entity/edge creation. Every operation is typed,
// bounded, and returns notes-relative paths only — no absolute filesystem
// path ever crosses this boundary.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/brainshape/brainshape/internal/berrors"
	"github.com/brainshape/brainshape/internal/embed"
	"github.com/brainshape/brainshape/internal/notesio"
	"github.com/brainshape/brainshape/internal/store"
	bsync "github.com/brainshape/brainshape/internal/sync"
)

const (
	maxKeywordResults  = 10
	maxSemanticResults = 10
	maxGraphRows       = 20
	maxRelatedEdges    = 50
)

// Surface bundles the collaborators the retrieval operations compose:
// the store, the notes filesystem, the embedder, and the structural syncer
// that keeps the store consistent after a write.
type Surface struct {
	store      *store.Store
	notes      *notesio.Root
	embedder   embed.Embedder
	structural *bsync.StructuralSyncer
}

// New builds a retrieval Surface.
func New(st *store.Store, notes *notesio.Root, embedder embed.Embedder, structural *bsync.StructuralSyncer) *Surface {
	return &Surface{store: st, notes: notes, embedder: embedder, structural: structural}
}

// KeywordResult is one keyword_search hit.
type KeywordResult struct {
	Title   string
	Path    string
	Snippet string
	Score   float64
}

// KeywordSearch runs BM25 keyword search, optionally restricted to notes
// carrying tag, and returns up to 10 results.
func (s *Surface) KeywordSearch(ctx context.Context, query, tag string) ([]KeywordResult, error) {
	hits, err := s.store.KeywordSearch(ctx, query, tag, maxKeywordResults)
	if err != nil {
		return nil, err
	}
	out := make([]KeywordResult, len(hits))
	for i, h := range hits {
		out[i] = KeywordResult{Title: h.Title, Path: h.Path, Snippet: h.Snippet, Score: h.Score}
	}
	return out, nil
}

// SemanticResult is one semantic_search hit.
type SemanticResult struct {
	Title     string
	Path      string
	ChunkText string
	Score     float32
}

// SemanticSearch embeds query and runs cosine k-NN over chunk embeddings,
// optionally restricted to notes carrying tag, returning up to 10 results.
func (s *Surface) SemanticSearch(ctx context.Context, query, tag string) ([]SemanticResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.SemanticSearch(ctx, vec, tag, maxSemanticResults)
	if err != nil {
		return nil, err
	}
	out := make([]SemanticResult, len(hits))
	for i, h := range hits {
		out[i] = SemanticResult{Title: h.Title, Path: h.Path, ChunkText: h.ChunkText, Score: h.Score}
	}
	return out, nil
}

// NoteRecord is the full shape read_note returns: the note plus its
// derived tag and link edges.
type NoteRecord struct {
	Path       string
	Title      string
	Content    string
	Tags       []string
	Links      []string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// ReadNote returns the full record for the note whose title exactly
// matches. Fails with NotFound if no such note exists.
func (s *Surface) ReadNote(ctx context.Context, title string) (*NoteRecord, error) {
	n, err := s.store.GetNoteByTitleExact(ctx, title)
	if err != nil {
		return nil, err
	}
	return s.toRecord(ctx, n)
}

func (s *Surface) toRecord(ctx context.Context, n *store.Note) (*NoteRecord, error) {
	tags, err := s.store.NoteTags(ctx, n.Path)
	if err != nil {
		return nil, err
	}
	links, err := s.store.NoteLinks(ctx, n.Path)
	if err != nil {
		return nil, err
	}
	return &NoteRecord{
		Path:       n.Path,
		Title:      n.Title,
		Content:    n.Content,
		Tags:       tags,
		Links:      links,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
	}, nil
}

// CreateNote writes a new note file through Notes I/O, then runs a
// structural sync so the note, its tags, and its links are live in the
// store before this call returns. Fails with AlreadyExists if the file
// exists.
func (s *Surface) CreateNote(ctx context.Context, title, content string, tags []string, folder string) (*NoteRecord, error) {
	var metadata map[string]any
	if len(tags) > 0 {
		metadata = map[string]any{"tags": tags}
	}
	rel, err := s.notes.WriteNote(title, content, metadata, folder)
	if err != nil {
		return nil, err
	}
	s.structural.Sync(ctx)

	n, err := s.store.GetNoteByPath(ctx, rel)
	if err != nil {
		return nil, err
	}
	return s.toRecord(ctx, n)
}

// EditNote looks up a note by exact title only (no substring fallback, to
// avoid writing to the wrong file), rewrites its body, then re-runs
// structural sync for the corpus.
func (s *Surface) EditNote(ctx context.Context, title, newContent string) (*NoteRecord, error) {
	n, err := s.store.GetNoteByTitleExact(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := s.notes.RewriteNote(n.Path, newContent); err != nil {
		return nil, err
	}
	s.structural.Sync(ctx)

	updated, err := s.store.GetNoteByPath(ctx, n.Path)
	if err != nil {
		return nil, err
	}
	return s.toRecord(ctx, updated)
}

// DeleteNote moves a note by notes-relative path to .trash/.
func (s *Surface) DeleteNote(ctx context.Context, path string) (string, error) {
	trashPath, err := s.notes.DeleteNote(path)
	if err != nil {
		return "", err
	}
	s.structural.Sync(ctx)
	return trashPath, nil
}

// ListTrash enumerates every note under .trash/.
func (s *Surface) ListTrash(ctx context.Context) ([]string, error) {
	return s.notes.ListTrash()
}

// RestoreNote moves a trashed note back to its original location.
func (s *Surface) RestoreNote(ctx context.Context, trashPath string) (string, error) {
	rel, err := s.notes.RestoreNote(trashPath)
	if err != nil {
		return "", err
	}
	s.structural.Sync(ctx)
	return rel, nil
}

// EmptyTrash permanently discards everything under .trash/.
func (s *Surface) EmptyTrash(ctx context.Context) error {
	return s.notes.EmptyTrash()
}

// RenameResult reports a rename's outcome.
type RenameResult struct {
	NewPath       string
	RewrittenRefs []string
}

// RenameNote renames a note on disk, rewrites every wikilink reference to
// it across the corpus, then resyncs structurally.
func (s *Surface) RenameNote(ctx context.Context, path, newTitle string) (*RenameResult, error) {
	result, err := s.notes.RenameNote(path, newTitle)
	if err != nil {
		return nil, err
	}
	s.structural.Sync(ctx)
	return &RenameResult{NewPath: result.NewPath, RewrittenRefs: result.RewrittenRefs}, nil
}

// GraphRow is one row of a query_graph result, keyed by column name.
type GraphRow map[string]any

// QueryGraph is the agent's escape hatch: a raw pass-through query against
// the store, capped at 20 rows. Errors propagate verbatim.
func (s *Surface) QueryGraph(ctx context.Context, rawQuery string, args ...any) ([]GraphRow, error) {
	rows, err := s.store.Query(ctx, rawQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	var out []GraphRow
	for rows.Next() && len(out) < maxGraphRows {
		values := make([]any, len(cols))
		scanDest := make([]any, len(cols))
		for i := range values {
			scanDest[i] = &values[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		row := make(GraphRow, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// RelatedEdge is one find_related hit.
type RelatedEdge struct {
	Direction      string // "outgoing" or "incoming"
	Relation       string
	OtherNodeLabel string
	OtherNodeKey   string
}

// FindRelated locates a note (exact title match, then case-insensitive
// substring fallback, deterministic-by-path on ambiguity) and enumerates
// its outgoing and incoming edges across every relation discovered at
// runtime — the built-in tagged_with/links_to edges plus any custom
// relation table create_connection has created — up to BFS depth 1,
// capped at 50 edges.
func (s *Surface) FindRelated(ctx context.Context, title string) ([]RelatedEdge, error) {
	n, err := s.store.FindNoteByTitleFold(ctx, title)
	if err != nil {
		return nil, err
	}

	var edges []RelatedEdge
	appendCapped := func(e RelatedEdge) bool {
		edges = append(edges, e)
		return len(edges) < maxRelatedEdges
	}

	if !s.collectTagEdges(ctx, n.Path, appendCapped) {
		return edges, nil
	}
	if !s.collectLinkEdges(ctx, n.Path, appendCapped) {
		return edges, nil
	}
	if !s.collectCustomRelationEdges(ctx, n.Path, appendCapped) {
		return edges, nil
	}

	return edges, nil
}

func (s *Surface) collectTagEdges(ctx context.Context, notePath string, add func(RelatedEdge) bool) bool {
	rows, err := s.store.Query(ctx, `SELECT tag_name FROM tagged_with WHERE note_path = ?`, notePath)
	if err != nil {
		return true
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if rows.Scan(&tag) != nil {
			continue
		}
		if !add(RelatedEdge{Direction: "outgoing", Relation: "tagged_with", OtherNodeLabel: tag, OtherNodeKey: tag}) {
			return false
		}
	}
	return true
}

func (s *Surface) collectLinkEdges(ctx context.Context, notePath string, add func(RelatedEdge) bool) bool {
	out, err := s.store.Query(ctx, `SELECT target_path FROM links_to WHERE source_path = ?`, notePath)
	if err == nil {
		defer out.Close()
		for out.Next() {
			var target string
			if out.Scan(&target) != nil {
				continue
			}
			if !add(RelatedEdge{Direction: "outgoing", Relation: "links_to", OtherNodeLabel: target, OtherNodeKey: target}) {
				return false
			}
		}
	}

	in, err := s.store.Query(ctx, `SELECT source_path FROM links_to WHERE target_path = ?`, notePath)
	if err != nil {
		return true
	}
	defer in.Close()
	for in.Next() {
		var source string
		if in.Scan(&source) != nil {
			continue
		}
		if !add(RelatedEdge{Direction: "incoming", Relation: "links_to", OtherNodeLabel: source, OtherNodeKey: source}) {
			return false
		}
	}
	return true
}

func (s *Surface) collectCustomRelationEdges(ctx context.Context, entityID string, add func(RelatedEdge) bool) bool {
	relations, err := s.store.RelationTables(ctx)
	if err != nil {
		return true
	}
	sort.Strings(relations)

	for _, rel := range relations {
		if rel == store.TableTaggedWith || rel == store.TableLinksTo {
			continue // handled by collectTagEdges/collectLinkEdges against their real schema
		}
		if !store.ValidIdentifier(rel) {
			continue // defensive: only ever act on identifiers CreateConnection itself produced
		}
		table := fmt.Sprintf("__rel_%s", rel)

		outRows, err := s.store.Query(ctx, fmt.Sprintf(`SELECT target_id FROM %q WHERE source_id = ?`, table), entityID)
		if err == nil {
			ok := consumeRelationRows(outRows, rel, "outgoing", add)
			if !ok {
				return false
			}
		}

		inRows, err := s.store.Query(ctx, fmt.Sprintf(`SELECT source_id FROM %q WHERE target_id = ?`, table), entityID)
		if err == nil {
			ok := consumeRelationRows(inRows, rel, "incoming", add)
			if !ok {
				return false
			}
		}
	}
	return true
}

func consumeRelationRows(rows *sql.Rows, relation, direction string, add func(RelatedEdge) bool) bool {
	defer rows.Close()
	for rows.Next() {
		var other string
		if rows.Scan(&other) != nil {
			continue
		}
		if !add(RelatedEdge{Direction: direction, Relation: relation, OtherNodeLabel: other, OtherNodeKey: other}) {
			return false
		}
	}
	return true
}

// StoreMemory creates a Memory record with a fresh UUID and timestamp.
func (s *Surface) StoreMemory(ctx context.Context, kind store.MemoryKind, content string) (*store.Memory, error) {
	return s.store.CreateMemory(ctx, kind, content)
}

// CreateConnection is guarded entity/edge creation: identifiers sanitized,
// reserved names rejected, note/memory endpoints resolved by lookup,
// everything else treated as a schemaless entity. Duplicate edges are
// reported rather than re-inserted.
func (s *Surface) CreateConnection(ctx context.Context, sourceType, sourceName, relation, targetType, targetName string) (*store.ConnectionResult, error) {
	return s.store.CreateConnection(ctx, sourceType, sourceName, relation, targetType, targetName)
}

// SyncStructural re-derives the note/tag/link graph from notes_root.
func (s *Surface) SyncStructural(ctx context.Context) bsync.Result {
	return s.structural.Sync(ctx)
}

// SemanticSyncer is the subset SyncSemantic needs from *sync.SemanticSyncer,
// kept as an interface so Surface doesn't force a concrete chunk.Pipeline
// dependency on every caller.
type SemanticSyncer interface {
	Sync(ctx context.Context) bsync.Result
}

// SyncSemantic runs the chunk write protocol over every note via the
// supplied syncer. Semantic sync is never triggered implicitly by a write —
// callers invoke this explicitly, matching spec.md's separation of the two
// passes.
func (s *Surface) SyncSemantic(ctx context.Context, semantic SemanticSyncer) bsync.Result {
	return semantic.Sync(ctx)
}

// ImportExternal copies markdown files from sourceDir into notes_root, then
// resyncs structurally.
func (s *Surface) ImportExternal(ctx context.Context, sourceDir string) ([]string, error) {
	imported, err := s.notes.ImportExternal(sourceDir)
	if err != nil {
		return nil, err
	}
	s.structural.Sync(ctx)
	return imported, nil
}

// WithDeadline enforces a caller-supplied deadline around fn, translating
// a context timeout into berrors.KindTimeout rather than leaking the raw
// context error.
func WithDeadline(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(dctx) }()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		return berrors.New(berrors.KindTimeout, fmt.Sprintf("operation exceeded %s", timeout), dctx.Err())
	}
}
