package extension

import (
	"fmt"
	"reflect"
	"sync"
)

// Validator reports whether a descriptor's Class can produce an instance of
// a given kind.
type Validator func(class any) bool

// Constructs returns a Validator accepting zero-argument constructors whose
// result type implements the interface T.
func Constructs[T any]() Validator {
	target := reflect.TypeOf((*T)(nil)).Elem()
	return func(class any) bool {
		return Yields(class, target)
	}
}

// Yields reports whether class is a zero-argument constructor, optionally
// also returning an error, whose first result satisfies target.
func Yields(class any, target reflect.Type) bool {
	if class == nil {
		return false
	}
	t := reflect.TypeOf(class)
	if t.Kind() != reflect.Func || t.NumIn() != 0 || t.IsVariadic() {
		return false
	}
	switch t.NumOut() {
	case 1:
	case 2:
		if !t.Out(1).Implements(errorType) {
			return false
		}
	default:
		return false
	}
	out := t.Out(0)
	if target.Kind() == reflect.Interface {
		return out.Implements(target)
	}
	return out.AssignableTo(target)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Validators maps extension kinds to their validators.
type Validators struct {
	mu         sync.RWMutex
	validators map[Kind]Validator
}

// NewValidators returns the validator set for the built-in kinds.
func NewValidators() *Validators {
	v := &Validators{validators: make(map[Kind]Validator)}
	v.Register(KindWebComponent, Constructs[WebComponentInstance]())
	v.Register(KindQueryModifier, Constructs[QueryModifierInstance]())
	v.Register(KindSuggestionProvider, Constructs[SuggestionProviderInstance]())
	v.Register(KindHandlebarsHelper, Constructs[HelperInstance]())
	v.Register(KindRefiner, Constructs[RefinerInstance]())
	v.Register(KindSearchDatasource, Constructs[SearchService]())
	return v
}

// Register installs or replaces the validator for kind.
func (v *Validators) Register(kind Kind, validator Validator) {
	v.mu.Lock()
	v.validators[kind] = validator
	v.mu.Unlock()
}

// Lookup returns the validator for kind.
func (v *Validators) Lookup(kind Kind) (Validator, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	validator, ok := v.validators[kind]
	return validator, ok
}

// Create invokes the descriptor's constructor. Panics raised by the
// constructor are returned as errors.
func Create(d Descriptor) (instance any, err error) {
	if d.Class == nil {
		return nil, fmt.Errorf("extension %q has no constructor", d.Name)
	}
	fn := reflect.ValueOf(d.Class)
	t := fn.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 0 || t.NumOut() < 1 || t.NumOut() > 2 {
		return nil, fmt.Errorf("extension %q: constructor has unsupported signature %s", d.Name, t)
	}

	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = fmt.Errorf("extension %q: constructor panicked: %v", d.Name, r)
		}
	}()

	out := fn.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, fmt.Errorf("extension %q: %w", d.Name, out[1].Interface().(error))
	}
	if isNil(out[0]) {
		return nil, fmt.Errorf("extension %q: constructor returned nil", d.Name)
	}
	return out[0].Interface(), nil
}

// CreateAs invokes the descriptor's constructor and asserts the result.
func CreateAs[T any](d Descriptor) (T, error) {
	var zero T
	inst, err := Create(d)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("extension %q: instance %T does not implement %s", d.Name, inst, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
