// Package extension defines the contract between the host and third-party
// extensibility libraries: the extension kinds, the descriptors a library
// advertises, the instance shapes each kind must satisfy and the validators
// that check a descriptor's constructor against its kind.
//
// A descriptor's Class is a zero-argument constructor, for example
// func() *MyHelper. Validation inspects the constructor's type only; the
// constructor is never invoked until the host actually needs an instance.
package extension

import (
	"sync"
)

// Kind names a category of extension.
type Kind string

const (
	KindWebComponent       Kind = "WebComponent"
	KindQueryModifier      Kind = "QueryModifier"
	KindSuggestionProvider Kind = "SuggestionProvider"
	KindHandlebarsHelper   Kind = "HandlebarsHelper"
	KindRefiner            Kind = "Refiner"
	KindSearchDatasource   Kind = "SearchDatasource"
)

// Kinds lists every known extension kind in display order.
func Kinds() []Kind {
	return []Kind{
		KindWebComponent,
		KindQueryModifier,
		KindSuggestionProvider,
		KindHandlebarsHelper,
		KindRefiner,
		KindSearchDatasource,
	}
}

// ParseKind resolves a kind by its exact name.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Descriptor is the metadata record a library returns for each extension.
// Descriptors are treated as immutable once returned.
type Descriptor struct {
	// Name is the registration key: a helper name, a custom element tag
	// or a data source key.
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Description string `json:"description" yaml:"description"`
	Icon        string `json:"icon" yaml:"icon"`
	// Class is the constructor producing a new instance.
	Class any `json:"-" yaml:"-"`
	// Kind is advisory. Filtering always goes through the validators.
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Library is a loaded extensibility library.
type Library interface {
	ID() string
	SetID(id string)
	Name() string
	Description() string
	Icon() string
	Extensions() ([]Descriptor, error)
}

// BaseLibrary carries the id assigned by the loader. Embed it in library
// implementations.
type BaseLibrary struct {
	mu sync.RWMutex
	id string
}

func (b *BaseLibrary) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *BaseLibrary) SetID(id string) {
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

// EditorLibraryID is the fixed id of the library supplying configuration
// editors.
const EditorLibraryID = "b4c35af5-102d-4a2d-a448-4b25a7e66a94"

// EditorLibrary supplies the editors used to configure the host. The values
// returned are opaque to the engine and handed to the host's configuration
// surface as-is.
type EditorLibrary interface {
	ExtensibilityEditor() any
	RefinersEditor() any
	SearchManagedPropertiesEditor() any
	PropertyPaneSearchManagedProperties() any
	TemplateValueFieldEditor() any
}
