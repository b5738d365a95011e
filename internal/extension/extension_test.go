package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperHelper struct{}

func (upperHelper) Helper() any { return func(s string) string { return s } }

type card struct{ ctx *Context }

func (c *card) Render(attrs map[string]any) (string, error) { return "<div></div>", nil }
func (c *card) SetContext(ctx *Context)                       { c.ctx = ctx }

type prefixModifier struct{}

func (prefixModifier) ModifyQuery(_ context.Context, q string) (string, error) { return "x " + q, nil }

func TestValidators(t *testing.T) {
	v := NewValidators()

	tests := []struct {
		name  string
		kind  Kind
		class any
		want  bool
	}{
		{"helper constructor", KindHandlebarsHelper, func() upperHelper { return upperHelper{} }, true},
		{"helper constructor with error", KindHandlebarsHelper, func() (*upperHelper, error) { return &upperHelper{}, nil }, true},
		{"web component pointer", KindWebComponent, func() *card { return &card{} }, true},
		{"web component value lacks pointer methods", KindWebComponent, func() card { return card{} }, false},
		{"wrong kind", KindQueryModifier, func() *card { return &card{} }, false},
		{"modifier", KindQueryModifier, func() prefixModifier { return prefixModifier{} }, true},
		{"not a function", KindHandlebarsHelper, upperHelper{}, false},
		{"takes arguments", KindHandlebarsHelper, func(int) upperHelper { return upperHelper{} }, false},
		{"second result not error", KindHandlebarsHelper, func() (upperHelper, int) { return upperHelper{}, 0 }, false},
		{"nil class", KindHandlebarsHelper, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator, ok := v.Lookup(tt.kind)
			require.True(t, ok)
			assert.Equal(t, tt.want, validator(tt.class))
		})
	}

	_, ok := v.Lookup(Kind("Unknown"))
	assert.False(t, ok)
}

func TestValidatorsRegister(t *testing.T) {
	v := NewValidators()
	v.Register(Kind("Custom"), func(class any) bool { return class == "yes" })

	validator, ok := v.Lookup(Kind("Custom"))
	require.True(t, ok)
	assert.True(t, validator("yes"))
	assert.False(t, validator("no"))
}

func TestCreate(t *testing.T) {
	t.Run("returns the instance", func(t *testing.T) {
		inst, err := Create(Descriptor{Name: "card", Class: func() *card { return &card{} }})
		require.NoError(t, err)
		assert.IsType(t, &card{}, inst)
	})

	t.Run("constructor error", func(t *testing.T) {
		_, err := Create(Descriptor{Name: "bad", Class: func() (*card, error) { return nil, errors.New("nope") }})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("constructor panic", func(t *testing.T) {
		_, err := Create(Descriptor{Name: "boom", Class: func() *card { panic("kaboom") }})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaboom")
	})

	t.Run("nil instance", func(t *testing.T) {
		_, err := Create(Descriptor{Name: "nil", Class: func() *card { return nil }})
		assert.Error(t, err)
	})

	t.Run("missing class", func(t *testing.T) {
		_, err := Create(Descriptor{Name: "none"})
		assert.Error(t, err)
	})

	t.Run("typed", func(t *testing.T) {
		inst, err := CreateAs[WebComponentInstance](Descriptor{Name: "card", Class: func() *card { return &card{} }})
		require.NoError(t, err)
		out, err := inst.Render(nil)
		require.NoError(t, err)
		assert.Equal(t, "<div></div>", out)

		_, err = CreateAs[QueryModifierInstance](Descriptor{Name: "card", Class: func() *card { return &card{} }})
		assert.Error(t, err)
	})
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(string(k))
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("webcomponent")
	assert.False(t, ok)
}

func TestBaseLibrary(t *testing.T) {
	var b BaseLibrary
	assert.Empty(t, b.ID())
	b.SetID(EditorLibraryID)
	assert.Equal(t, EditorLibraryID, b.ID())
}
