package templating

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
)

func TestProcessFieldsConfiguration(t *testing.T) {
	e := newTestEngine(t)

	fields := `[
		{"name": "Title", "field": "title", "value": "Title", "useHandlebarsExpr": false},
		{"name": "Label", "field": "label", "value": "{{item.Title}}!", "useHandlebarsExpr": true},
		{"name": "Broken", "field": "broken", "value": "{{#if item.Title}}", "useHandlebarsExpr": true},
		{"name": "Empty", "field": "empty", "value": "{{item.Missing}}", "useHandlebarsExpr": true},
		{"name": "Missing", "field": "missing", "value": "Nope", "useHandlebarsExpr": false}
	]`
	item := `{"Title": "Tom & Jerry", "Size": 12}`

	props, err := e.ProcessFieldsConfiguration(fields, item)
	require.NoError(t, err)

	assert.Equal(t, "Tom & Jerry", props["title"])
	assert.Equal(t, "Tom & Jerry!", props["label"])
	assert.Nil(t, props["empty"])
	assert.Nil(t, props["missing"])
	assert.Contains(t, props, "missing")

	broken, ok := props["broken"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(broken, "###Error: "), broken)
	assert.True(t, strings.HasSuffix(broken, "###"), broken)
}

func TestProcessFieldsConfigurationInvalidJSON(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ProcessFieldsConfiguration("not json", "{}")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = e.ProcessFieldsConfiguration("[]", "[1]")
	require.Error(t, err)
}

func TestEvaluateFieldsIsolatesFailures(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.RegisterHelper("explode", func() string { panic("boom") }))

	props := e.EvaluateFields([]FieldConfiguration{
		{Field: "a", Value: "{{explode}}", UseHandlebarsExpr: true},
		{Field: "b", Value: "{{item.Name}}", UseHandlebarsExpr: true},
	}, map[string]any{"Name": "ok"})

	assert.Contains(t, props["a"], "###Error:")
	assert.Equal(t, "ok", props["b"])
}
