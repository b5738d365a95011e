package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item.html":
			_, _ = w.Write([]byte("<div>{{Title}}</div>"))
		case "/broken.html":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	ctx := context.Background()

	body, err := f.FetchText(ctx, srv.URL+"/item.html")
	require.NoError(t, err)
	assert.Equal(t, "<div>{{Title}}</div>", body)

	assert.NoError(t, f.Head(ctx, srv.URL+"/item.html"))

	_, err = f.FetchText(ctx, srv.URL+"/missing.html")
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.Head(ctx, srv.URL+"/broken.html")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.html"), []byte("list"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	f := NewFileFetcher(dir)
	ctx := context.Background()

	body, err := f.FetchText(ctx, "list.html")
	require.NoError(t, err)
	assert.Equal(t, "list", body)

	body, err = f.FetchText(ctx, "sub/../list.html")
	require.NoError(t, err)
	assert.Equal(t, "list", body)

	assert.NoError(t, f.Head(ctx, "list.html"))
	assert.Error(t, f.Head(ctx, "sub"))
	assert.ErrorIs(t, f.Head(ctx, "nope.html"), ErrNotFound)

	_, err = f.FetchText(ctx, "../outside.html")
	assert.Error(t, err)
}

func TestFileFetcherStaysBelowRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "templates")
	require.NoError(t, os.Mkdir(root, 0o755))
	outside := filepath.Join(base, "secret.html")
	require.NoError(t, os.WriteFile(outside, []byte("TOP SECRET"), 0o644))

	r := NewRouter(0, root)
	ctx := context.Background()

	for _, location := range []string{
		"file://" + outside,
		"FILE://" + outside,
		"file:" + outside,
		outside,
		"sub/../../secret.html",
		"..",
	} {
		t.Run(location, func(t *testing.T) {
			body, err := r.FetchText(ctx, location)
			assert.Error(t, err)
			assert.Empty(t, body)
			assert.Error(t, r.Head(ctx, location))
		})
	}
}

func TestRouter(t *testing.T) {
	web := &countingFetcher{body: "web"}
	local := &countingFetcher{body: "local"}
	r := &Router{Web: web, Local: local}
	ctx := context.Background()

	body, _ := r.FetchText(ctx, "https://contoso.sharepoint.com/a.html")
	assert.Equal(t, "web", body)
	body, _ = r.FetchText(ctx, "templates/a.html")
	assert.Equal(t, "local", body)

	assert.True(t, IsRemote("http://x/y"))
	assert.False(t, IsRemote("/tmp/y.html"))
	assert.False(t, IsRemote("ftp://x/y"))
}

type countingFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
}

func (c *countingFetcher) FetchText(ctx context.Context, location string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.body, c.err
}

func (c *countingFetcher) Head(ctx context.Context, location string) error { return c.err }

type mapStore struct {
	mu     sync.Mutex
	values map[string]string
	broken bool
}

func newMapStore() *mapStore { return &mapStore{values: map[string]string{}} }

func (m *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return "", false, errors.New("store offline")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return errors.New("store offline")
	}
	m.values[key] = value
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func TestCachedFetcher(t *testing.T) {
	next := &countingFetcher{body: "content"}
	store := newMapStore()
	c := NewCachedFetcher(next, store, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		body, err := c.FetchText(ctx, "a.html")
		require.NoError(t, err)
		assert.Equal(t, "content", body)
	}
	assert.Equal(t, 1, next.calls)

	require.NoError(t, c.Invalidate(ctx, "a.html"))
	_, err := c.FetchText(ctx, "a.html")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	store.broken = true
	body, err := c.FetchText(ctx, "a.html")
	require.NoError(t, err)
	assert.Equal(t, "content", body)
	assert.Equal(t, 3, next.calls)
}

func TestCachedFetcherDoesNotCacheFailures(t *testing.T) {
	next := &countingFetcher{err: errors.New("boom")}
	store := newMapStore()
	c := NewCachedFetcher(next, store, time.Minute, nil)

	_, err := c.FetchText(context.Background(), "a.html")
	assert.Error(t, err)
	assert.Empty(t, store.values)
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore(1000, 1<<20)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
