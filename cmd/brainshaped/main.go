// Package main provides the entry point for brainshaped, the Brainshape
// engine process: it loads configuration, bootstraps the embedded store,
// runs one structural and one semantic sync pass at startup, then starts
// the notes_root watcher and keeps the structural graph in sync as notes
// change on disk (semantic sync is not re-run). It exposes no RPC surface of its
// own — an in-process caller (an MCP bridge, a CLI, an agent loop) would
// sit on top of the retrieval.Surface built here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brainshape/brainshape/internal/chunk"
	"github.com/brainshape/brainshape/internal/config"
	"github.com/brainshape/brainshape/internal/embed"
	"github.com/brainshape/brainshape/internal/logging"
	"github.com/brainshape/brainshape/internal/notesio"
	"github.com/brainshape/brainshape/internal/retrieval"
	"github.com/brainshape/brainshape/internal/store"
	bsync "github.com/brainshape/brainshape/internal/sync"
	"github.com/brainshape/brainshape/internal/watcher"
	"github.com/brainshape/brainshape/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("BRAINSHAPE_STORE_ROOT"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Paths.NotesRoot == "" {
		return fmt.Errorf("paths.notes_root must be set (BRAINSHAPE_NOTES_ROOT or config file)")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.Paths.NotesRoot, 0o755); err != nil {
		return fmt.Errorf("ensure notes_root: %w", err)
	}
	notes, err := notesio.New(cfg.Paths.NotesRoot)
	if err != nil {
		return fmt.Errorf("open notes_root: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer embedder.Close()

	st, err := store.Open(ctx, store.Options{
		StoreRoot:      cfg.Paths.StoreRoot,
		EmbeddingModel: embedder.ModelName(),
		EmbeddingDim:   embedder.Dimensions(),
		BM25Backend:    cfg.Search.BM25Backend,
		SQLiteCacheMB:  cfg.Store.SQLiteCacheMB,
	})
	if err != nil {
		slog.Error("store_bootstrap_degraded", slog.String("error", err.Error()))
	}
	defer st.Close()

	splitter := chunk.NewFixedSizeSplitterWithOptions(cfg.Chunk.Size, cfg.Chunk.Overlap)
	pipeline := chunk.NewPipeline(splitter, embedder, st)

	parseCache := bsync.NewParseCache(0)
	structural := bsync.NewStructuralSyncer(notes, st, 0).WithParseCache(parseCache)
	semantic := bsync.NewSemanticSyncer(notes, pipeline, 0).WithParseCache(parseCache)

	// The retrieval surface itself is built here so an in-process caller
	// (an MCP bridge, out of scope) links against this same process image
	// rather than re-bootstrapping the store; this process alone never
	// dispatches calls onto it.
	retrieval.New(st, notes, embedder, structural)

	slog.Info("brainshaped_starting",
		slog.String("version", version.Short()),
		slog.String("notes_root", cfg.Paths.NotesRoot),
		slog.String("store_root", cfg.Paths.StoreRoot),
		slog.String("embeddings_provider", cfg.Embeddings.Provider))

	runInitialSync(ctx, structural, semantic)

	debounce, err := time.ParseDuration(cfg.Watch.Debounce)
	if err != nil || debounce <= 0 {
		debounce = watcher.DefaultOptions().DebounceWindow
	}
	watchOpts := watcher.Options{
		DebounceWindow: debounce,
		PollInterval:   watcher.DefaultOptions().PollInterval,
	}

	if cfg.Watch.Poll {
		slog.Info("watch_poll_forced")
		return runPollLoop(ctx, structural, watchOpts.PollInterval)
	}

	w, err := watcher.NewHybridWatcher(watchOpts)
	if err != nil {
		slog.Warn("hybrid_watcher_unavailable_falling_back_to_poll", slog.String("error", err.Error()))
		return runPollLoop(ctx, structural, watchOpts.PollInterval)
	}

	// Start blocks until the watcher stops, so it runs beside watchLoop.
	go func() {
		if err := w.Start(ctx, cfg.Paths.NotesRoot); err != nil && ctx.Err() == nil {
			slog.Error("watcher_start_failed", slog.String("error", err.Error()))
			_ = w.Stop()
		}
	}()
	defer w.Stop()

	return watchLoop(ctx, w, structural)
}

// runInitialSync runs both passes once at process startup, before the
// watcher or poll loop takes over. This is the one place a semantic pass
// runs without an explicit caller asking for it: an operator starting
// brainshaped expects the store to be caught up, not just structurally
// consistent, before the process settles into its steady-state loop.
func runInitialSync(ctx context.Context, structural *bsync.StructuralSyncer, semantic *bsync.SemanticSyncer) {
	runSyncPass(ctx, structural)
	gr := semantic.Sync(ctx)
	slog.Info("semantic_sync_pass_complete",
		slog.Int("processed", gr.Processed), slog.Int("skipped", gr.Skipped), slog.Int("errored", gr.Errored))
}

// runSyncPass runs only the structural pass. Semantic sync is not
// auto-triggered by the watcher or poll loop per spec.md's §4.7/§9 —
// it stays an explicit operation, reachable only through
// retrieval.Surface.SyncSemantic (an MCP bridge or CLI command, out of
// scope for this process).
func runSyncPass(ctx context.Context, structural *bsync.StructuralSyncer) {
	sr := structural.Sync(ctx)
	slog.Info("structural_sync_pass_complete", slog.Int("processed", sr.Processed), slog.Int("errored", sr.Errored))
}

// watchLoop blocks, running a structural sync every time the watcher
// emits a coalesced batch of events.
func watchLoop(ctx context.Context, w *watcher.HybridWatcher, structural *bsync.StructuralSyncer) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("brainshaped_stopping")
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Debug("watch_batch_received", slog.Int("count", len(batch)))
			runSyncPass(ctx, structural)
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// runPollLoop is used when poll mode is forced by config or the hybrid
// watcher can't be created: it re-runs the structural pass on a fixed
// interval instead of reacting to individual filesystem events.
func runPollLoop(ctx context.Context, structural *bsync.StructuralSyncer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("brainshaped_stopping")
			return nil
		case <-ticker.C:
			runSyncPass(ctx, structural)
		}
	}
}
