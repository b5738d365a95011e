// Package loader resolves extensibility libraries by id.
//
// A library's module is fetched from a Source, its exports are inspected
// for a single entry point whose constructor yields the requested shape,
// and the instance is cached for the lifetime of the Loader. Concurrent
// requests for the same id share one load; failed loads are not cached so
// the next request retries.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

var (
	libraryShape = reflect.TypeOf((*extension.Library)(nil)).Elem()
	editorShape  = reflect.TypeOf((*extension.EditorLibrary)(nil)).Elem()
)

// Loader owns the loaded-library cache and the in-flight load registry.
type Loader struct {
	source Source
	logger logging.Logger

	group singleflight.Group

	mu     sync.RWMutex
	loaded map[string]any

	loads    atomic.Int64
	hits     atomic.Int64
	failures atomic.Int64
}

// Stats reports loader activity.
type Stats struct {
	Loads    int64
	Hits     int64
	Failures int64
	Cached   int
}

// New creates a Loader fetching modules from source.
func New(source Source, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		source: source,
		logger: logger.WithComponent("loader"),
		loaded: make(map[string]any),
	}
}

// Resolve returns the library with the given id, or nil when it cannot be
// loaded. Failures are logged, never returned.
func (l *Loader) Resolve(ctx context.Context, id string) extension.Library {
	inst := l.resolve(ctx, id, libraryShape)
	if inst == nil {
		return nil
	}
	return inst.(extension.Library)
}

// ResolveEditor returns the editor library, or nil when it cannot be loaded.
func (l *Loader) ResolveEditor(ctx context.Context) extension.EditorLibrary {
	inst := l.resolve(ctx, extension.EditorLibraryID, editorShape)
	if inst == nil {
		return nil
	}
	return inst.(extension.EditorLibrary)
}

func cacheKey(shape reflect.Type, id string) string {
	return shape.Name() + ":" + id
}

func (l *Loader) resolve(ctx context.Context, rawID string, shape reflect.Type) any {
	id, err := NormalizeID(rawID)
	if err != nil {
		l.logger.Warn(ctx, err, "Rejected library id", "id", rawID)
		return nil
	}
	key := cacheKey(shape, id)

	if inst, ok := l.cached(key); ok {
		l.hits.Add(1)
		l.logger.Debug(ctx, "Library served from cache", "id", id)
		return inst
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		if inst, ok := l.cached(key); ok {
			return inst, nil
		}
		inst, err := l.load(detached, id, shape)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.loaded[key] = inst
		l.mu.Unlock()
		return inst, nil
	})

	select {
	case <-ctx.Done():
		l.logger.Warn(ctx, ctx.Err(), "Gave up waiting for library", "id", id)
		return nil
	case res := <-ch:
		if res.Shared {
			l.logger.Debug(ctx, "Joined in-flight library load", "id", id)
		}
		if res.Err != nil {
			l.failures.Add(1)
			l.logger.Error(ctx, res.Err, "Failed to load extensibility library", "id", id)
			return nil
		}
		return res.Val
	}
}

func (l *Loader) cached(key string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.loaded[key]
	return inst, ok
}

func (l *Loader) load(ctx context.Context, id string, shape reflect.Type) (inst any, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = apperrors.NewLoadError(apperrors.ErrCodeInstantiate,
				fmt.Sprintf("panic while loading library %s", id), fmt.Errorf("%v", r))
		}
	}()

	l.loads.Add(1)
	l.logger.Info(ctx, "Loading extensibility library", "id", id)

	module, err := l.source.LoadModule(ctx, id)
	if err != nil {
		return nil, apperrors.NewLoadError(apperrors.ErrCodeModuleFetch,
			fmt.Sprintf("failed to fetch module %s", id), err)
	}

	entries := EntryPoints(module, shape)
	switch len(entries) {
	case 1:
	case 0:
		return nil, apperrors.NewLoadError(apperrors.ErrCodeNoEntryPoint,
			fmt.Sprintf("module %s has no %s entry point", id, shape.Name()), nil)
	default:
		return nil, apperrors.NewLoadError(apperrors.ErrCodeAmbiguousEntry,
			fmt.Sprintf("module %s has %d %s entry points: %s", id, len(entries), shape.Name(), strings.Join(entries, ", ")), nil)
	}

	created, err := extension.Create(extension.Descriptor{Name: entries[0], Class: module[entries[0]]})
	if err != nil {
		return nil, apperrors.NewLoadError(apperrors.ErrCodeInstantiate,
			fmt.Sprintf("failed to instantiate library %s", id), err)
	}
	if lib, ok := created.(extension.Library); ok {
		lib.SetID(id)
	}

	l.logger.Info(ctx, "Library loaded", "id", id, "entry_point", entries[0])
	return created, nil
}

// EntryPoints returns the sorted names of the module's exports that qualify
// as entry points for shape. Names containing "__" are never considered.
func EntryPoints(module Module, shape reflect.Type) []string {
	var names []string
	for name, member := range module {
		if strings.Contains(name, "__") {
			continue
		}
		if extension.Yields(member, shape) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Loaded returns the libraries loaded so far, ordered by id.
func (l *Loader) Loaded() []extension.Library {
	l.mu.RLock()
	defer l.mu.RUnlock()
	libs := make([]extension.Library, 0, len(l.loaded))
	for _, inst := range l.loaded {
		if lib, ok := inst.(extension.Library); ok {
			libs = append(libs, lib)
		}
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].ID() < libs[j].ID() })
	return libs
}

// Stats returns a snapshot of loader counters.
func (l *Loader) Stats() Stats {
	l.mu.RLock()
	cached := len(l.loaded)
	l.mu.RUnlock()
	return Stats{
		Loads:    l.loads.Load(),
		Hits:     l.hits.Load(),
		Failures: l.failures.Load(),
		Cached:   cached,
	}
}

// Close drops the cache and closes every loaded library implementing
// io.Closer.
func (l *Loader) Close() error {
	l.mu.Lock()
	loaded := l.loaded
	l.loaded = make(map[string]any)
	l.mu.Unlock()

	var errs []error
	for key, inst := range loaded {
		if closer, ok := inst.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}
