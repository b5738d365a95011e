package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Module is the set of exported members of a loaded library module, keyed
// by export name.
type Module map[string]any

// Source fetches modules by library id.
type Source interface {
	LoadModule(ctx context.Context, id string) (Module, error)
}

// ErrModuleNotFound is returned by a Source that does not know an id.
var ErrModuleNotFound = errors.New("module not found")

// NormalizeID parses a library id and returns its canonical lower-case form.
func NormalizeID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid library id %q: %w", id, err)
	}
	return parsed.String(), nil
}

// StaticSource serves modules registered in-process. It is the source used
// for libraries compiled into the binary.
type StaticSource struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{modules: make(map[string]Module)}
}

// Register makes module available under id.
func (s *StaticSource) Register(id string, module Module) error {
	normalized, err := NormalizeID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.modules[normalized]; exists {
		return fmt.Errorf("module %s already registered", normalized)
	}
	s.modules[normalized] = module
	return nil
}

// LoadModule implements Source.
func (s *StaticSource) LoadModule(ctx context.Context, id string) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	module, ok := s.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return module, nil
}

// ChainSource consults each source in order and returns the first module
// found. Errors other than ErrModuleNotFound stop the search.
type ChainSource []Source

// LoadModule implements Source.
func (c ChainSource) LoadModule(ctx context.Context, id string) (Module, error) {
	for _, src := range c {
		module, err := src.LoadModule(ctx, id)
		if err == nil {
			return module, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, id string) (Module, error)

// LoadModule implements Source.
func (f SourceFunc) LoadModule(ctx context.Context, id string) (Module, error) {
	return f(ctx, id)
}
