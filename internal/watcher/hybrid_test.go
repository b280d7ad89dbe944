package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridWatcher_NewHybridWatcher(t *testing.T) {
	opts := DefaultOptions()

	w, err := NewHybridWatcher(opts)

	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
}

func TestHybridWatcher_SimpleCreate(t *testing.T) {
	tempDir := t.TempDir()

	opts := Options{
		DebounceWindow:  10 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, tempDir)
	}()

	<-started
	time.Sleep(200 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# test"), 0o644))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events, "expected at least one event")
	case err := <-w.Errors():
		t.Fatalf("got error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsNoteCreation(t *testing.T) {
	tempDir := t.TempDir()
	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tempDir, "newnote.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# new"), 0o644))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		var found bool
		for _, e := range events {
			if e.Operation == OpCreate && filepath.Base(e.Path) == "newnote.md" {
				found = true
			}
		}
		assert.True(t, found, "expected CREATE event for newnote.md")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for create event")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsNoteModification(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "existing.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# existing"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(testFile, []byte("# existing\n\nmore body"), 0o644))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		var found bool
		for _, e := range events {
			if (e.Operation == OpModify || e.Operation == OpCreate) &&
				filepath.Base(e.Path) == "existing.md" {
				found = true
			}
		}
		assert.True(t, found, "expected modify event for existing.md")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for modify event")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsNoteDeletion(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "todelete.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# gone soon"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Remove(testFile))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		var found bool
		for _, e := range events {
			if e.Operation == OpDelete && filepath.Base(e.Path) == "todelete.md" {
				found = true
			}
		}
		assert.True(t, found, "expected DELETE event for todelete.md")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for delete event")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_IgnoresNonMarkdownFiles(t *testing.T) {
	tempDir := t.TempDir()

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "asset.png"), []byte("binary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "included.md"), []byte("# note"), 0o644))

	var gotMarkdownFile bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				if filepath.Base(e.Path) == "included.md" {
					gotMarkdownFile = true
				}
				assert.NotEqual(t, ".png", filepath.Ext(e.Path),
					"should not receive events for non-markdown files")
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotMarkdownFile, "should have received event for included.md")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_IgnoresTrashDirectory(t *testing.T) {
	tempDir := t.TempDir()

	trashDir := filepath.Join(tempDir, ".trash")
	require.NoError(t, os.MkdirAll(trashDir, 0o755))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(trashDir, "deleted.md"), []byte("# gone"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "kept.md"), []byte("# kept"), 0o644))

	var gotKeptFile bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				if filepath.Base(e.Path) == "kept.md" {
					gotKeptFile = true
				}
				assert.NotContains(t, e.Path, ".trash",
					"should not receive events for files under .trash")
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotKeptFile, "should have received event for kept.md")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsNewSubdirectory(t *testing.T) {
	tempDir := t.TempDir()
	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(tempDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	subFile := filepath.Join(subDir, "sub.md")
	require.NoError(t, os.WriteFile(subFile, []byte("# sub"), 0o644))

	var gotEvent bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case events := <-w.Events():
			for _, e := range events {
				if e.Operation == OpCreate {
					gotEvent = true
				}
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotEvent, "should have received create event for subdirectory or file")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_Stop_ClosesChannels(t *testing.T) {
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	require.NoError(t, w.Stop())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestHybridWatcher_DroppedBatches_InitiallyZero(t *testing.T) {
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, uint64(0), w.DroppedBatches())
}

func TestHybridWatcher_DroppedBatches_IncrementsOnOverflow(t *testing.T) {
	opts := Options{
		EventBufferSize: 1,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	w.emitEvents([]FileEvent{{Path: "/test1.md", Operation: OpCreate}})
	w.emitEvents([]FileEvent{{Path: "/test2.md", Operation: OpCreate}})
	w.emitEvents([]FileEvent{{Path: "/test3.md", Operation: OpCreate}})

	assert.Equal(t, uint64(2), w.DroppedBatches())
}
