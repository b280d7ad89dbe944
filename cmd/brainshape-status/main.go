// Package main provides the brainshape-status command: a one-shot render
// of engine health (note/chunk counts, storage sizes, embedder status)
// against an already-bootstrapped store, analogous to a log viewer but
// for index health instead of log lines.
//
// Usage:
//
//	brainshape-status [--json] [--no-color]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brainshape/brainshape/internal/config"
	"github.com/brainshape/brainshape/internal/embed"
	"github.com/brainshape/brainshape/internal/notesio"
	"github.com/brainshape/brainshape/internal/store"
	"github.com/brainshape/brainshape/internal/ui"
	"github.com/brainshape/brainshape/pkg/version"
)

func main() {
	jsonOutput := flag.Bool("json", false, "output as JSON")
	noColor := flag.Bool("no-color", false, "disable colored output")
	storeRoot := flag.String("store-root", "", "override the configured store_root")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*jsonOutput, *noColor, *storeRoot); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(jsonOutput, noColor bool, storeRootOverride string) error {
	cfg, err := config.Load(storeRootOverride)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	info := ui.StatusInfo{
		ProjectName: filepath.Base(cfg.Paths.NotesRoot),
	}

	if cfg.Paths.NotesRoot != "" {
		if notes, err := notesio.New(cfg.Paths.NotesRoot); err == nil {
			if paths, err := notes.ListNotes(); err == nil {
				info.TotalFiles = len(paths)
			}
		}
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		info.EmbedderType = cfg.Embeddings.Provider
		info.EmbedderStatus = "error"
	} else {
		defer embedder.Close()
		ei := embed.GetInfo(ctx, embedder)
		info.EmbedderType = ei.Provider.String()
		info.EmbedderModel = ei.Model
		if ei.Available {
			info.EmbedderStatus = "ready"
		} else {
			info.EmbedderStatus = "offline"
		}
	}

	st, err := store.Open(ctx, store.Options{
		StoreRoot:      cfg.Paths.StoreRoot,
		EmbeddingModel: cfg.Embeddings.Model,
		EmbeddingDim:   cfg.Embeddings.Dimensions,
		BM25Backend:    cfg.Search.BM25Backend,
		SQLiteCacheMB:  cfg.Store.SQLiteCacheMB,
	})
	if err == nil {
		defer st.Close()
		populateStoreStats(ctx, st, &info)
	}

	populateStorageSizes(cfg.Paths.StoreRoot, &info)

	info.WatcherStatus = "n/a"

	renderer := ui.NewStatusRenderer(os.Stdout, noColor)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func populateStoreStats(ctx context.Context, st *store.Store, info *ui.StatusInfo) {
	if rows, err := st.Query(ctx, `SELECT COUNT(*) FROM chunk`); err == nil {
		scanSingleInt(rows, &info.TotalChunks)
	}
	if rows, err := st.Query(ctx, `SELECT MAX(modified_at) FROM note`); err == nil {
		scanSingleTime(rows, &info.LastIndexed)
	}
}

func scanSingleInt(rows *sql.Rows, dest *int) {
	defer rows.Close()
	if rows.Next() {
		_ = rows.Scan(dest)
	}
}

func scanSingleTime(rows *sql.Rows, dest *time.Time) {
	defer rows.Close()
	if !rows.Next() {
		return
	}
	var s sql.NullString
	if rows.Scan(&s) != nil || !s.Valid {
		return
	}
	if t, err := time.Parse(time.RFC3339, s.String); err == nil {
		*dest = t
	}
}

func populateStorageSizes(storeRoot string, info *ui.StatusInfo) {
	info.MetadataSize = fileSize(filepath.Join(storeRoot, "brainshape.db"))
	info.VectorSize = fileSize(filepath.Join(storeRoot, "vectors.hnsw"))
	// bm25 backend names its store bm25.db (sqlite) or bm25.bleve/ (bleve);
	// whichever exists wins.
	info.BM25Size = fileSize(filepath.Join(storeRoot, "bm25.db")) + dirSize(filepath.Join(storeRoot, "bm25.bleve"))
	info.TotalSize = info.MetadataSize + info.VectorSize + info.BM25Size
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func dirSize(path string) int64 {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fileSize(path) // bleve and the sqlite FTS backend may instead be a single file
	}
	var total int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
