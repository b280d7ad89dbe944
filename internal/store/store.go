package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/brainshape/brainshape/internal/berrors"
)

const (
	stateKeyDimension = "index_embedding_dimension"
	stateKeyModel     = "index_embedding_model"

	dbFileName     = "brainshape.db"
	vectorFileName = "vectors.hnsw"
	bm25BaseName   = "bm25"
	lockFileName   = ".lock"
)

// Options configures Store bootstrap.
type Options struct {
	StoreRoot      string
	EmbeddingModel string
	EmbeddingDim   int
	BM25Backend    string // "sqlite" (default) or "bleve"
	SQLiteCacheMB  int
}

// Store is the embedded graph-plus-vector store: a SQLite metadata/graph
// database, a pluggable BM25 keyword index, and an HNSW vector index over
// chunk embeddings. It is the sole contended resource in the process (spec
// §5): all writes for a single note commit as one transaction.
type Store struct {
	mu sync.RWMutex

	db      *sql.DB
	keyword KeywordIndex
	vector  VectorStore
	lock    *flock.Flock

	storeRoot string
	dimension int
	model     string

	available bool
	bootErr   error
}

// Open bootstraps a Store rooted at opts.StoreRoot: acquires the exclusive
// bootstrap lock, opens (or creates) the SQLite database with the note/tag/
// chunk/memory/edge schema, opens the configured BM25 backend, and rebuilds
// the in-memory HNSW vector index from the chunk embeddings already on disk.
// A change in embedding model or dimension triggers model rotation before
// the rebuild.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.StoreRoot == "" {
		return nil, berrors.New(berrors.KindStoreUnavailable, "store_root is required", nil)
	}
	if err := os.MkdirAll(opts.StoreRoot, 0o755); err != nil {
		return NewUnavailable(err), err
	}

	lock := flock.New(filepath.Join(opts.StoreRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return NewUnavailable(err), fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		err := errors.New("store_root is locked by another process")
		return NewUnavailable(err), err
	}

	s := &Store{
		storeRoot: opts.StoreRoot,
		lock:      lock,
	}

	db, err := openSQLite(filepath.Join(opts.StoreRoot, dbFileName), opts.SQLiteCacheMB)
	if err != nil {
		_ = lock.Unlock()
		return NewUnavailable(err), err
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return NewUnavailable(err), err
	}

	storedDim, _ := s.getStateInt(ctx, stateKeyDimension)
	storedModel, _ := s.getState(ctx, stateKeyModel)
	needsRotation := opts.EmbeddingDim > 0 &&
		(storedDim != opts.EmbeddingDim || (storedModel != "" && storedModel != opts.EmbeddingModel))

	dim := opts.EmbeddingDim
	if dim == 0 {
		dim = storedDim
	}

	keyword, err := NewBM25IndexWithBackend(filepath.Join(opts.StoreRoot, bm25BaseName), DefaultBM25Config(), opts.BM25Backend)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return NewUnavailable(err), err
	}
	s.keyword = keyword

	vector, err := NewHNSWStore(DefaultVectorStoreConfig(dim))
	if err != nil {
		_ = keyword.Close()
		_ = db.Close()
		_ = lock.Unlock()
		return NewUnavailable(err), err
	}
	s.vector = vector
	s.dimension = dim
	s.model = opts.EmbeddingModel

	s.available = true

	if needsRotation {
		if err := s.RotateModel(ctx, opts.EmbeddingModel, opts.EmbeddingDim); err != nil {
			return s, err
		}
	} else if err := s.rebuildVectorIndex(ctx); err != nil {
		slog.Warn("failed to rebuild vector index from stored chunk embeddings", slog.String("error", err.Error()))
	}

	return s, nil
}

// NewUnavailable constructs a Store already in degraded mode, recording
// cause as the reason every subsequent call fails with ErrStoreUnavailable.
// Notes I/O never touches the Store, so the rest of the process keeps
// working in this mode (spec §7).
func NewUnavailable(cause error) *Store {
	return &Store{bootErr: cause}
}

// Available reports whether the Store bootstrapped successfully and is
// still usable.
func (s *Store) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

func (s *Store) checkAvailable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		msg := "store unavailable"
		if s.bootErr != nil {
			msg = fmt.Sprintf("store unavailable: %v", s.bootErr)
		}
		return berrors.New(berrors.KindStoreUnavailable, msg, s.bootErr)
	}
	return nil
}

func openSQLite(path string, cacheMB int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cacheMB <= 0 {
		cacheMB = 64
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return db, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS note (
	path TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_note_title ON note(title);

CREATE TABLE IF NOT EXISTS tag (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS chunk (
	id TEXT PRIMARY KEY,
	note_path TEXT NOT NULL,
	text TEXT NOT NULL,
	idx INTEGER NOT NULL,
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunk_note ON chunk(note_path);

CREATE TABLE IF NOT EXISTS memory (
	mid TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tagged_with (
	note_path TEXT NOT NULL,
	tag_name TEXT NOT NULL,
	UNIQUE(note_path, tag_name)
);

CREATE TABLE IF NOT EXISTS links_to (
	source_path TEXT NOT NULL,
	target_path TEXT NOT NULL,
	UNIQUE(source_path, target_path)
);

CREATE TABLE IF NOT EXISTS from_document (
	chunk_id TEXT NOT NULL UNIQUE,
	note_path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// Query is the single raw-query primitive spec.md §4.1 requires: a thin,
// parameter-bound passthrough to the underlying SQLite connection. It is
// exactly as permissive as the spec calls for; safety comes from
// CreateConnection's identifier guard, not from filtering this call.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return rows, nil
}

// Exec runs a write statement through the same raw passthrough as Query.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return res, nil
}

func (s *Store) getState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) getStateInt(ctx context.Context, key string) (int, error) {
	v, err := s.getState(ctx, key)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (s *Store) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv_state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// RotateModel implements spec.md §4.5's model rotation: it drops and
// reconstructs the vector index, wipes all chunk rows and from_document
// edges, and clears every note's content_hash so the next semantic sync
// re-embeds every note. It is a single atomic
// unit that blocks all other Store users until complete.
func (s *Store) RotateModel(ctx context.Context, model string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return berrors.New(berrors.KindStoreUnavailable, "store unavailable", s.bootErr)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM chunk`,
		`DELETE FROM from_document`,
		`UPDATE note SET content_hash = ''`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	if s.vector != nil {
		_ = s.vector.Close()
	}
	v, err := NewHNSWStore(DefaultVectorStoreConfig(dim))
	if err != nil {
		s.available = false
		s.bootErr = err
		return err
	}
	s.vector = v
	s.dimension = dim
	s.model = model

	_ = s.setState(ctx, stateKeyDimension, strconv.Itoa(dim))
	_ = s.setState(ctx, stateKeyModel, model)

	return nil
}

// rebuildVectorIndex loads every chunk embedding from SQLite (the durable
// source of truth) into the in-memory HNSW graph. Called once at bootstrap
// since the graph itself is not persisted across process restarts in a way
// that survives schema changes cheaply — rebuilding from the row data is
// simpler and always consistent.
func (s *Store) rebuildVectorIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunk WHERE embedding IS NOT NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec := decodeEmbedding(blob)
		if s.dimension > 0 && len(vec) != s.dimension {
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.vector.Add(ctx, ids, vecs)
}

// Close releases the database, index, and lock-file resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.vector != nil {
		record(s.vector.Save(filepath.Join(s.storeRoot, vectorFileName)))
		record(s.vector.Close())
	}
	if s.keyword != nil {
		record(s.keyword.Close())
	}
	if s.db != nil {
		record(s.db.Close())
	}
	if s.lock != nil {
		record(s.lock.Unlock())
	}
	s.available = false
	return firstErr
}

// Dimension returns the vector index's currently configured embedding
// dimension, or 0 if the store has never been bootstrapped with one.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// UpdateContentHash sets a note's content_hash in isolation, used as the
// final step of the chunk write protocol so a crash mid-embedding leaves
// the hash stale rather than falsely up to date.
func (s *Store) UpdateContentHash(ctx context.Context, path, hash string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE note SET content_hash = ? WHERE path = ?`, hash, path)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return nil
}

// --- Note CRUD --------------------------------------------------------

// UpsertNote writes a Note row and refreshes its BM25 document. Callers
// compose this with ReplaceTags/ReplaceLinks inside the same structural
// sync unit for a note. content_hash is intentionally excluded from the
// conflict update: it is owned exclusively by UpdateContentHash, the final
// step of the semantic chunk write protocol, so a structural-only sync pass
// (which has no ContentHash to offer) never clobbers it back to stale.
func (s *Store) UpsertNote(ctx context.Context, n *Note) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO note(path, title, content, created_at, modified_at, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			modified_at = excluded.modified_at`,
		n.Path, n.Title, n.Content, n.CreatedAt.UTC().Format(time.RFC3339), n.ModifiedAt.UTC().Format(time.RFC3339), n.ContentHash)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return s.keyword.Index(ctx, []*Document{{ID: n.Path, Content: n.Title + "\n" + n.Content}})
}

// DeleteNoteRow removes a note and everything derived from it: its tags,
// outgoing links, chunks, and chunk embeddings. All within one transaction.
func (s *Store) DeleteNoteRow(ctx context.Context, path string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer func() { _ = tx.Rollback() }()

	var chunkIDs []string
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunk WHERE note_path = ?`, path)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()

	for _, stmt := range []struct {
		q    string
		args []any
	}{
		{`DELETE FROM note WHERE path = ?`, []any{path}},
		{`DELETE FROM tagged_with WHERE note_path = ?`, []any{path}},
		{`DELETE FROM links_to WHERE source_path = ? OR target_path = ?`, []any{path, path}},
		{`DELETE FROM chunk WHERE note_path = ?`, []any{path}},
		{`DELETE FROM from_document WHERE note_path = ?`, []any{path}},
	} {
		if _, err := tx.ExecContext(ctx, stmt.q, stmt.args...); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	if len(chunkIDs) > 0 {
		_ = s.vector.Delete(ctx, chunkIDs)
	}
	return s.keyword.Delete(ctx, []string{path})
}

func scanNote(scanner interface{ Scan(...any) error }) (*Note, error) {
	var n Note
	var created, modified string
	if err := scanner.Scan(&n.Path, &n.Title, &n.Content, &created, &modified, &n.ContentHash); err != nil {
		return nil, err
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339, created)
	n.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
	return &n, nil
}

const noteColumns = `path, title, content, created_at, modified_at, content_hash`

// GetNoteByPath returns the note at the given relative path.
func (s *Store) GetNoteByPath(ctx context.Context, path string) (*Note, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM note WHERE path = ?`, path)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.New(berrors.KindNotFound, fmt.Sprintf("no note at path %q", path), nil)
	}
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return n, nil
}

// GetNoteByTitleExact returns the first note whose title exactly matches.
func (s *Store) GetNoteByTitleExact(ctx context.Context, title string) (*Note, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM note WHERE title = ? ORDER BY path LIMIT 1`, title)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.New(berrors.KindNotFound, fmt.Sprintf("no note titled %q", title), nil)
	}
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return n, nil
}

// FindNoteByTitleFold implements the exact-then-case-insensitive-substring
// fallback find_related uses to locate its starting note: exact title match
// first, then a case-insensitive substring match, deterministically
// resolved to the first match by path order.
func (s *Store) FindNoteByTitleFold(ctx context.Context, title string) (*Note, error) {
	if n, err := s.GetNoteByTitleExact(ctx, title); err == nil {
		return n, nil
	} else if !berrors.Of(err, berrors.KindNotFound) {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM note
		WHERE title LIKE '%' || ? || '%' COLLATE NOCASE ORDER BY path LIMIT 1`, title)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, berrors.New(berrors.KindNotFound, fmt.Sprintf("no note matching %q", title), nil)
	}
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return n, nil
}

// NoteTags returns the names of every tag a note carries via tagged_with.
func (s *Store) NoteTags(ctx context.Context, notePath string) ([]string, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_name FROM tagged_with WHERE note_path = ? ORDER BY tag_name`, notePath)
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// NoteLinks returns the notes-relative paths a note links to via links_to.
func (s *Store) NoteLinks(ctx context.Context, notePath string) ([]string, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_path FROM links_to WHERE source_path = ? ORDER BY target_path`, notePath)
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		links = append(links, t)
	}
	return links, rows.Err()
}

// ReplaceTags atomically replaces a note's tagged_with edges.
func (s *Store) ReplaceTags(ctx context.Context, notePath string, tags []string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tagged_with WHERE note_path = ?`, notePath); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tag(name) VALUES (?)`, tag); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tagged_with(note_path, tag_name) VALUES (?, ?)`, notePath, tag); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return nil
}

// ReplaceLinks atomically replaces a note's outgoing links_to edges.
func (s *Store) ReplaceLinks(ctx context.Context, sourcePath string, targetPaths []string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM links_to WHERE source_path = ?`, sourcePath); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	for _, target := range targetPaths {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO links_to(source_path, target_path) VALUES (?, ?)`, sourcePath, target); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
	}
	return tx.Commit()
}

// --- Chunks / semantic write protocol ----------------------------------

// ReplaceChunks atomically replaces the chunk rows and from_document edges
// for a note, then updates the in-memory vector index to match. Embeddings
// are persisted as little-endian float32 BLOBs; SQLite remains the durable
// source of truth for the rebuildable HNSW graph.
func (s *Store) ReplaceChunks(ctx context.Context, notePath string, chunks []*Chunk) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}

	var oldIDs []string
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunk WHERE note_path = ?`, notePath)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		oldIDs = append(oldIDs, id)
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk WHERE note_path = ?`, notePath); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM from_document WHERE note_path = ?`, notePath); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	for _, c := range chunks {
		if s.dimension > 0 && len(c.Embedding) != s.dimension {
			return ErrDimensionMismatch{Expected: s.dimension, Got: len(c.Embedding)}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk(id, note_path, text, idx, embedding) VALUES (?, ?, ?, ?, ?)`,
			c.ID, notePath, c.Text, c.Idx, encodeEmbedding(c.Embedding)); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO from_document(chunk_id, note_path) VALUES (?, ?)`, c.ID, notePath); err != nil {
			return berrors.New(berrors.KindQueryError, err.Error(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	if len(oldIDs) > 0 {
		_ = s.vector.Delete(ctx, oldIDs)
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		vecs := make([][]float32, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
			vecs[i] = c.Embedding
		}
		if err := s.vector.Add(ctx, ids, vecs); err != nil {
			return err
		}
	}
	return nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4+0]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// --- Search --------------------------------------------------------------

// NoteHit is a keyword_search result row.
type NoteHit struct {
	Title   string
	Path    string
	Snippet string
	Score   float64
}

// KeywordSearch runs BM25 keyword search over note content/title, joins
// back to the note table for title/snippet, and applies the optional tag
// filter after matching (spec.md §4.8).
func (s *Store) KeywordSearch(ctx context.Context, query, tag string, limit int) ([]NoteHit, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	results, err := s.keyword.Search(ctx, query, limit*4+limit) // over-fetch to survive tag filtering
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}

	hits := make([]NoteHit, 0, limit)
	for _, r := range results {
		if len(hits) >= limit {
			break
		}
		if tag != "" {
			var count int
			if err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM tagged_with WHERE note_path = ? AND tag_name = ?`, r.DocID, tag).Scan(&count); err != nil {
				return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
			}
			if count == 0 {
				continue
			}
		}
		n, err := s.GetNoteByPath(ctx, r.DocID)
		if err != nil {
			continue // note row missing (stale index entry); skip rather than fail the whole search
		}
		hits = append(hits, NoteHit{
			Title:   n.Title,
			Path:    n.Path,
			Snippet: snippet(n.Content, 200),
			Score:   r.Score,
		})
	}
	return hits, nil
}

func snippet(content string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "…"
}

// ChunkHit is a semantic_search result row.
type ChunkHit struct {
	Title     string
	Path      string
	ChunkText string
	Score     float32
}

// SemanticSearch embeds the caller-supplied query vector through the
// Embedder (outside this package) and runs cosine k-NN over chunk
// embeddings, joining each hit back to its Note. The optional tag filter is
// applied after the k-NN, matching spec.md §4.8.
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, tag string, limit int) ([]ChunkHit, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	results, err := s.vector.Search(ctx, queryVec, limit*4+limit)
	if err != nil {
		return nil, err
	}

	hits := make([]ChunkHit, 0, limit)
	for _, r := range results {
		if len(hits) >= limit {
			break
		}
		var notePath, text string
		if err := s.db.QueryRowContext(ctx, `SELECT note_path, text FROM chunk WHERE id = ?`, r.ID).Scan(&notePath, &text); err != nil {
			continue // chunk row missing (vector index slightly ahead of SQLite); skip
		}
		if tag != "" {
			var count int
			if err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM tagged_with WHERE note_path = ? AND tag_name = ?`, notePath, tag).Scan(&count); err != nil {
				return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
			}
			if count == 0 {
				continue
			}
		}
		n, err := s.GetNoteByPath(ctx, notePath)
		if err != nil {
			continue
		}
		hits = append(hits, ChunkHit{
			Title:     n.Title,
			Path:      n.Path,
			ChunkText: text,
			Score:     r.Score,
		})
	}
	return hits, nil
}

// --- Memory ---------------------------------------------------------------

// CreateMemory inserts a new Memory record with a fresh UUID and timestamp.
func (s *Store) CreateMemory(ctx context.Context, kind MemoryKind, content string) (*Memory, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	m := &Memory{
		MID:       uuid.NewString(),
		Type:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO memory(mid, type, content, created_at) VALUES (?, ?, ?, ?)`,
		m.MID, string(m.Type), m.Content, m.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return m, nil
}

// --- create_connection ----------------------------------------------------

var identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidIdentifier reports whether s matches the ^[a-z][a-z0-9_]*$ identifier
// rule create_connection enforces on every type/relation name.
func ValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// ConnectionResult is the outcome of CreateConnection.
type ConnectionResult struct {
	EdgeID    string
	Duplicate bool
}

// CreateConnection implements the guarded entity/edge creation described in
// spec.md §4.8: identifiers are sanitized, reserved names rejected, note and
// memory endpoints resolved by lookup (failing with NotFound if absent),
// every other type treated as a schemaless entity table UPSERTed by name,
// and the relation itself stored in an idempotent typed relation table that
// skips creating a duplicate edge.
func (s *Store) CreateConnection(ctx context.Context, sourceType, sourceName, relation, targetType, targetName string) (*ConnectionResult, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}

	for _, id := range []string{sourceType, relation, targetType} {
		if !ValidIdentifier(id) {
			return nil, berrors.New(berrors.KindInvalidIdentifier, fmt.Sprintf("invalid identifier: %q", id), nil)
		}
	}
	for _, name := range []string{relation, sourceType, targetType} {
		if name != relation && (name == "note" || name == "memory") {
			continue // note and memory endpoints are resolved by lookup below
		}
		if _, reserved := ReservedNames[name]; reserved {
			return nil, berrors.New(berrors.KindReservedName, fmt.Sprintf("reserved name: %q", name), nil)
		}
	}

	sourceID, err := s.resolveEntity(ctx, sourceType, sourceName)
	if err != nil {
		return nil, err
	}
	targetID, err := s.resolveEntity(ctx, targetType, targetName)
	if err != nil {
		return nil, err
	}

	relTable := relTablePrefix + relation
	if err := s.ensureRelationTable(ctx, relTable); err != nil {
		return nil, err
	}

	var existing int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE source_id = ? AND target_id = ?`, relTable)
	if err := s.db.QueryRowContext(ctx, q, sourceID, targetID).Scan(&existing); err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	if existing > 0 {
		return &ConnectionResult{Duplicate: true}, nil
	}

	edgeID := uuid.NewString()
	insert := fmt.Sprintf(`INSERT INTO %q(id, source_id, target_id) VALUES (?, ?, ?)`, relTable)
	if _, err := s.db.ExecContext(ctx, insert, edgeID, sourceID, targetID); err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return &ConnectionResult{EdgeID: edgeID}, nil
}

func (s *Store) resolveEntity(ctx context.Context, entityType, name string) (string, error) {
	switch entityType {
	case "note":
		n, err := s.GetNoteByTitleExact(ctx, name)
		if err != nil {
			return "", err
		}
		return n.Path, nil
	case "memory":
		var mid string
		err := s.db.QueryRowContext(ctx, `SELECT mid FROM memory WHERE content = ? ORDER BY created_at LIMIT 1`, name).Scan(&mid)
		if errors.Is(err, sql.ErrNoRows) {
			return "", berrors.New(berrors.KindNotFound, fmt.Sprintf("no memory with content %q", name), nil)
		}
		if err != nil {
			return "", berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		return mid, nil
	default:
		entTable := entTablePrefix + entityType
		if err := s.ensureEntityTable(ctx, entTable); err != nil {
			return "", err
		}
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %q(name) VALUES (?)`, entTable)
		if _, err := s.db.ExecContext(ctx, q, name); err != nil {
			return "", berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		return name, nil
	}
}

func (s *Store) ensureEntityTable(ctx context.Context, table string) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (name TEXT PRIMARY KEY)`, table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return nil
}

func (s *Store) ensureRelationTable(ctx context.Context, table string) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		UNIQUE(source_id, target_id)
	)`, table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	return nil
}

// --- schema discovery -------------------------------------------------

// RelationTables returns the names of every table typed as a relation,
// excluding from_document: the built-in tagged_with/links_to tables plus
// the prefix-stripped names of every agent-created __rel_ table.
func (s *Store) RelationTables(ctx context.Context) ([]string, error) {
	custom, err := s.discoverTables(ctx, relTablePrefix)
	if err != nil {
		return nil, err
	}
	return append([]string{TableTaggedWith, TableLinksTo}, custom...), nil
}

// CustomEntityTables returns the user-facing (prefix-stripped) names of
// every entity table created by create_connection.
func (s *Store) CustomEntityTables(ctx context.Context) ([]string, error) {
	return s.discoverTables(ctx, entTablePrefix)
}

func (s *Store) discoverTables(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`, prefix+"%")
	if err != nil {
		return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, berrors.New(berrors.KindQueryError, err.Error(), err)
		}
		names = append(names, strings.TrimPrefix(name, prefix))
	}
	return names, rows.Err()
}
