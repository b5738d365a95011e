package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cards", ".git"), 0o755))

	assert.NoError(t, watcher.AddPath(dir))
	assert.NoError(t, watcher.AddRecursive(dir))
	assert.Error(t, watcher.AddPath(filepath.Join(dir, "missing")))
	assert.Error(t, watcher.AddPath("  "))

	watched := watcher.watcher.WatchList()
	assert.Contains(t, watched, filepath.Join(dir, "cards"))
	assert.NotContains(t, watched, filepath.Join(dir, "cards", ".git"))
}

func TestFileWatcherDeliversTemplateChanges(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(ExtensionFilter(".html", ".htm"))
	watcher.AddFilter(NoHiddenFilter)

	received := make(chan []ChangeEvent, 4)
	watcher.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		received <- events
		return nil
	})
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card.html"), []byte("<p>{{Title}}</p>"), 0o644))

	select {
	case events := <-received:
		require.NotEmpty(t, events)
		for _, event := range events {
			assert.Equal(t, filepath.Join(dir, "card.html"), event.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change batch received")
	}
}

func TestFilters(t *testing.T) {
	html := ExtensionFilter(".html", ".HTM")
	assert.True(t, html("templates/card.html"))
	assert.True(t, html("templates/CARD.HTML"))
	assert.True(t, html("templates/list.htm"))
	assert.False(t, html("templates/card.txt"))
	assert.False(t, html("templates/card"))

	assert.True(t, NoHiddenFilter("./templates/card.html"))
	assert.True(t, NoHiddenFilter("../templates/card.html"))
	assert.False(t, NoHiddenFilter("templates/.git/card.html"))
	assert.False(t, NoHiddenFilter("templates/.card.html"))

	assert.True(t, NoBackupFilter("templates/card.html"))
	assert.False(t, NoBackupFilter("templates/card.html~"))
	assert.False(t, NoBackupFilter("templates/.card.html.swp"))
	assert.False(t, NoBackupFilter("templates/#card.html#"))
}

func TestDebouncer(t *testing.T) {
	debouncer := newDebouncer(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.html", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "a.html", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "b.html", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.html", events[0].Path)
		assert.Equal(t, "b.html", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, location)
	return r.err
}

func TestTemplateHandler(t *testing.T) {
	root := filepath.Join("srv", "templates")
	inv := &recordingInvalidator{}
	var changed []string

	handler := TemplateHandler(root, inv, func(_ context.Context, locations []string) {
		changed = locations
	})
	err := handler(context.Background(), []ChangeEvent{
		{Path: filepath.Join(root, "cards", "card.html")},
		{Path: filepath.Join("elsewhere", "list.html")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cards/card.html", "elsewhere/list.html"}, changed)
	assert.Equal(t, []string{
		"cards/card.html",
		filepath.Join(root, "cards", "card.html"),
		"elsewhere/list.html",
	}, inv.keys)
}

func TestTemplateHandlerJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	inv := &recordingInvalidator{err: boom}
	called := false

	handler := TemplateHandler("root", inv, func(context.Context, []string) { called = true })
	err := handler(context.Background(), []ChangeEvent{{Path: filepath.Join("root", "a.html")}})

	assert.ErrorIs(t, err, boom)
	assert.True(t, called)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "a/b.html", Location("root", filepath.Join("root", "a", "b.html")))
	assert.Equal(t, "other/b.html", Location("root", filepath.Join("other", "b.html")))
}
