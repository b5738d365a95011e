package extensibility

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/loader"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

const (
	idA   = "11111111-2222-3333-4444-555555555555"
	idB   = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	idBad = "99999999-8888-7777-6666-555555555555"
)

type helper struct{}

func (helper) Helper() any { return func() string { return "" } }

type component struct{}

func (*component) Render(map[string]any) (string, error) { return "", nil }

type lib struct {
	extension.BaseLibrary
	name  string
	descs []extension.Descriptor
	err   error
	boom  bool
}

func (l *lib) Name() string        { return l.name }
func (l *lib) Description() string { return "" }
func (l *lib) Icon() string        { return "" }
func (l *lib) Extensions() ([]extension.Descriptor, error) {
	if l.boom {
		panic("enumeration exploded")
	}
	return l.descs, l.err
}

func newService(t *testing.T, modules map[string]loader.Module) (*Service, *logging.Recorder) {
	t.Helper()
	src := loader.NewStaticSource()
	for id, m := range modules {
		require.NoError(t, src.Register(id, m))
	}
	rec := logging.NewRecorder()
	return NewService(loader.New(src, rec), nil, rec), rec
}

func TestLoadAll(t *testing.T) {
	svc, _ := newService(t, map[string]loader.Module{
		idA: {"Lib": func() *lib { return &lib{name: "a"} }},
		idB: {"Lib": func() *lib { return &lib{name: "b"} }},
	})

	libs := svc.LoadAll(context.Background(), []string{idB, idBad, idA, idB})
	require.Len(t, libs, 2)
	assert.Equal(t, "b", libs[0].Name())
	assert.Equal(t, "a", libs[1].Name())

	assert.Len(t, svc.LoadedLibraries(), 2)
	require.Len(t, svc.Failures(), 1)
	assert.Equal(t, idBad, svc.Failures()[0].Unit)

	assert.Empty(t, svc.LoadAll(context.Background(), nil))
}

func TestExtensionsIsolatesFailures(t *testing.T) {
	svc, rec := newService(t, nil)

	good := &lib{name: "good", descs: []extension.Descriptor{
		{Name: "upper", Class: func() helper { return helper{} }},
		{Name: "broken"},
	}}
	erroring := &lib{name: "erroring", err: errors.New("no extensions today")}
	panicking := &lib{name: "panicking", boom: true}

	assert.Empty(t, svc.Extensions(erroring))
	assert.Empty(t, svc.Extensions(panicking))
	assert.Empty(t, svc.Extensions(nil))

	descs := svc.Extensions(good)
	require.Len(t, descs, 1)
	assert.Equal(t, "upper", descs[0].Name)

	assert.Equal(t, 2, rec.Count(logging.LevelError))

	all := svc.AllExtensions([]extension.Library{erroring, good, panicking, good})
	require.Len(t, all, 2)
	assert.Equal(t, "upper", all[0].Name)
}

func TestFilter(t *testing.T) {
	svc, _ := newService(t, nil)

	descs := []extension.Descriptor{
		{Name: "upper", Class: func() helper { return helper{} }},
		{Name: "my-card", Class: func() *component { return &component{} }},
		{Name: "lower", Class: func() *helper { return &helper{} }},
		{Name: "junk", Class: "not a constructor"},
	}

	helpers := svc.Filter(descs, extension.KindHandlebarsHelper)
	require.Len(t, helpers, 2)
	assert.Equal(t, "upper", helpers[0].Name)
	assert.Equal(t, "lower", helpers[1].Name)
	assert.Equal(t, extension.KindHandlebarsHelper, helpers[0].Kind)

	components := svc.Filter(descs, extension.KindWebComponent)
	require.Len(t, components, 1)
	assert.Equal(t, "my-card", components[0].Name)

	assert.Empty(t, svc.Filter(descs, extension.Kind("Bogus")))
	assert.Empty(t, svc.Filter(descs, extension.KindRefiner))
}

func TestFilterIsIdempotent(t *testing.T) {
	svc, _ := newService(t, nil)
	descs := []extension.Descriptor{
		{Name: "upper", Class: func() helper { return helper{} }},
		{Name: "my-card", Class: func() *component { return &component{} }},
	}

	once := svc.Filter(descs, extension.KindHandlebarsHelper)
	twice := svc.Filter(once, extension.KindHandlebarsHelper)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Name, twice[i].Name)
	}
}

type editors struct{}

func (editors) ExtensibilityEditor() any                 { return nil }
func (editors) RefinersEditor() any                      { return nil }
func (editors) SearchManagedPropertiesEditor() any       { return nil }
func (editors) PropertyPaneSearchManagedProperties() any { return nil }
func (editors) TemplateValueFieldEditor() any            { return "field" }

func TestEditorLibrary(t *testing.T) {
	svc, _ := newService(t, map[string]loader.Module{
		extension.EditorLibraryID: {"Editors": func() editors { return editors{} }},
	})
	editor := svc.EditorLibrary(context.Background())
	require.NotNil(t, editor)
	assert.Equal(t, "field", editor.TemplateValueFieldEditor())

	missing, rec := newService(t, nil)
	assert.Nil(t, missing.EditorLibrary(context.Background()))
	assert.Equal(t, 1, rec.Count(logging.LevelWarn))
}
