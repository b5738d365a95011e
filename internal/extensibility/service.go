// Package extensibility exposes the loaded extensibility libraries to the
// rest of the host: it loads libraries in order, enumerates their
// extensions with per-library failure isolation and filters descriptors by
// kind.
package extensibility

import (
	"context"
	"fmt"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

// Resolver resolves libraries by id. *loader.Loader implements it.
type Resolver interface {
	Resolve(ctx context.Context, id string) extension.Library
	ResolveEditor(ctx context.Context) extension.EditorLibrary
	Loaded() []extension.Library
}

// Service is the host-facing extensibility API. Construct one per process
// and pass it explicitly to the components that need it.
type Service struct {
	resolver   Resolver
	validators *extension.Validators
	logger     logging.Logger
	failures   *apperrors.ErrorCollector
}

// NewService creates a Service on top of resolver.
func NewService(resolver Resolver, validators *extension.Validators, logger logging.Logger) *Service {
	if validators == nil {
		validators = extension.NewValidators()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		resolver:   resolver,
		validators: validators,
		logger:     logger.WithComponent("extensibility"),
		failures:   apperrors.NewErrorCollector(),
	}
}

// LoadAll resolves ids sequentially in input order. Libraries that fail to
// load are skipped; a library requested twice appears once.
func (s *Service) LoadAll(ctx context.Context, ids []string) []extension.Library {
	libraries := make([]extension.Library, 0, len(ids))
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			s.logger.Warn(ctx, ctx.Err(), "Stopped loading libraries", "remaining", id)
			break
		}
		lib := s.resolver.Resolve(ctx, id)
		if lib == nil {
			s.failures.Add(id, fmt.Errorf("library %s could not be loaded", id))
			continue
		}
		if seen[lib.ID()] {
			continue
		}
		seen[lib.ID()] = true
		libraries = append(libraries, lib)
	}

	s.logger.Debug(ctx, "Libraries loaded", "requested", len(ids), "loaded", len(libraries))
	return libraries
}

// LoadedLibraries returns every library loaded during the service lifetime.
func (s *Service) LoadedLibraries() []extension.Library {
	return s.resolver.Loaded()
}

// Extensions enumerates lib's extensions. A library whose enumeration
// fails or panics contributes nothing. Descriptors without a constructor
// are dropped.
func (s *Service) Extensions(lib extension.Library) []extension.Descriptor {
	if lib == nil {
		return []extension.Descriptor{}
	}

	descs, err := s.tryGetExtensions(lib)
	if err != nil {
		s.failures.Add(lib.ID(), err)
		s.logger.Error(context.Background(), err, "Failure getting extensions from library",
			"library", lib.Name(), "id", lib.ID())
		return []extension.Descriptor{}
	}

	out := make([]extension.Descriptor, 0, len(descs))
	for _, d := range descs {
		if d.Class == nil {
			s.logger.Debug(context.Background(), "Dropped extension without constructor",
				"library", lib.Name(), "extension", d.Name)
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Service) tryGetExtensions(lib extension.Library) (descs []extension.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			descs = nil
			err = apperrors.NewExtensionError(apperrors.ErrCodeExtensionList,
				"library panicked while listing extensions", fmt.Errorf("%v", r)).
				WithContext("library", lib.Name())
		}
	}()

	descs, err = lib.Extensions()
	if err != nil {
		return nil, apperrors.NewExtensionError(apperrors.ErrCodeExtensionList,
			"library failed to list extensions", err).WithContext("library", lib.Name())
	}
	return descs, nil
}

// AllExtensions concatenates the extensions of libs in library order.
func (s *Service) AllExtensions(libs []extension.Library) []extension.Descriptor {
	var all []extension.Descriptor
	for _, lib := range libs {
		all = append(all, s.Extensions(lib)...)
	}
	if all == nil {
		all = []extension.Descriptor{}
	}
	return all
}

// Filter returns the descriptors whose constructor satisfies kind, in
// input order. An unknown kind yields an empty result.
func (s *Service) Filter(descs []extension.Descriptor, kind extension.Kind) []extension.Descriptor {
	validator, ok := s.validators.Lookup(kind)
	if !ok {
		s.logger.Warn(context.Background(), nil, "Unknown extension kind", "kind", kind)
		return []extension.Descriptor{}
	}

	out := make([]extension.Descriptor, 0, len(descs))
	for _, d := range descs {
		if validator(d.Class) {
			d.Kind = kind
			out = append(out, d)
		}
	}
	return out
}

// EditorLibrary loads the library supplying configuration editors. It
// returns nil when the editor library is unavailable.
func (s *Service) EditorLibrary(ctx context.Context) extension.EditorLibrary {
	editor := s.resolver.ResolveEditor(ctx)
	if editor == nil {
		s.logger.Warn(ctx, nil, "Cannot find edit library entry point", "id", extension.EditorLibraryID)
	}
	return editor
}

// Failures returns the isolated failures recorded so far.
func (s *Service) Failures() []apperrors.Failure {
	return s.failures.Failures()
}
