package render

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/sanitizer"
)

type fakeEngine struct {
	calls    atomic.Int32
	expanded atomic.Int32
	err      error
}

func (f *fakeEngine) ProcessTemplate(_ context.Context, data any, source string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if s, ok := data.(string); ok {
		return strings.ReplaceAll(source, "{{Title}}", s), nil
	}
	return source, nil
}

func (f *fakeEngine) ExpandWebComponents(_ context.Context, markup string) string {
	f.expanded.Add(1)
	return markup
}

func newTestSurfaces(t *testing.T, engine TemplateEngine) *Surfaces {
	t.Helper()
	san, err := sanitizer.New(sanitizer.Options{})
	require.NoError(t, err)
	t.Cleanup(san.Close)
	return NewSurfaces(engine, san, nil)
}

func TestSurfacePipeline(t *testing.T) {
	engine := &fakeEngine{}
	surfaces := newTestSurfaces(t, engine)

	res, err := surfaces.Render(context.Background(), "wp1", "Hello",
		`<style>.a { color: red; }</style><p class="a">{{Title}}</p><script>alert(1)</script>`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Output, `<div id="pnp-modern-search-template_wp1">`))
	assert.True(t, strings.HasSuffix(res.Output, "</div>"))
	assert.Contains(t, res.Output, "#pnp-modern-search-template_wp1 .a")
	assert.Contains(t, res.Output, `<p class="a">Hello</p>`)
	assert.NotContains(t, res.Output, "<script")
	assert.EqualValues(t, 1, engine.expanded.Load())
}

func TestSurfaceSkipsUnchangedSource(t *testing.T) {
	engine := &fakeEngine{}
	surfaces := newTestSurfaces(t, engine)
	ctx := context.Background()

	first, err := surfaces.Render(ctx, "wp1", "A", `<p>{{Title}}</p>`)
	require.NoError(t, err)
	second, err := surfaces.Render(ctx, "wp1", "B", `<p>{{Title}}</p>`)
	require.NoError(t, err)

	assert.Equal(t, first.Output, second.Output)
	assert.False(t, second.Computed)
	assert.EqualValues(t, 1, engine.calls.Load())

	surfaces.ForgetAll()
	third, err := surfaces.Render(ctx, "wp1", "B", `<p>{{Title}}</p>`)
	require.NoError(t, err)
	assert.True(t, third.Changed)
	assert.Contains(t, third.Output, "<p>B</p>")
}

func TestSurfacesAreIndependent(t *testing.T) {
	engine := &fakeEngine{}
	surfaces := newTestSurfaces(t, engine)
	ctx := context.Background()

	_, err := surfaces.Render(ctx, "wp1", "A", `<p>{{Title}}</p>`)
	require.NoError(t, err)
	res, err := surfaces.Render(ctx, "wp2", "A", `<p>{{Title}}</p>`)
	require.NoError(t, err)

	assert.True(t, res.Computed)
	assert.Contains(t, res.Output, `id="pnp-modern-search-template_wp2"`)
	assert.Equal(t, []string{"wp1", "wp2"}, surfaces.IDs())
	assert.Same(t, surfaces.Get("wp1"), surfaces.Get("wp1"))

	surfaces.Remove("wp1")
	assert.Equal(t, []string{"wp2"}, surfaces.IDs())
}

func TestSurfaceEmptyOutput(t *testing.T) {
	surfaces := newTestSurfaces(t, &fakeEngine{})
	res, err := surfaces.Render(context.Background(), "wp1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "", res.Output)
}

func TestSurfaceError(t *testing.T) {
	boom := errors.New("boom")
	surfaces := newTestSurfaces(t, &fakeEngine{err: boom})

	_, err := surfaces.Render(context.Background(), "wp1", nil, "<p>x</p>")
	assert.ErrorIs(t, err, boom)
	_, ok := surfaces.Get("wp1").Last()
	assert.False(t, ok)
}
