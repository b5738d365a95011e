package templating

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
)

// FieldConfiguration maps an item value or expression to a component prop.
type FieldConfiguration struct {
	Name              string `json:"name"`
	Field             string `json:"field"`
	Value             string `json:"value"`
	UseHandlebarsExpr bool   `json:"useHandlebarsExpr"`
	SupportHTML       bool   `json:"supportHtml"`
}

// ProcessFieldsConfiguration evaluates each field configuration against the
// item. Expressions run with the item bound to "item"; a field whose
// expression fails gets an inline error marker and the others are still
// evaluated.
func (e *Engine) ProcessFieldsConfiguration(fieldsJSON, itemJSON string) (map[string]any, error) {
	var fields []FieldConfiguration
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeFieldEvaluation,
			fmt.Sprintf("invalid fields configuration: %v", err))
	}
	var item map[string]any
	if err := json.Unmarshal([]byte(itemJSON), &item); err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeFieldEvaluation,
			fmt.Sprintf("invalid item: %v", err))
	}
	return e.EvaluateFields(fields, item), nil
}

// EvaluateFields is ProcessFieldsConfiguration on decoded input.
func (e *Engine) EvaluateFields(fields []FieldConfiguration, item map[string]any) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		value := item[f.Value]
		if f.UseHandlebarsExpr && f.Value != "" {
			value = e.evaluateField(f, item)
		}
		props[f.Field] = value
	}
	return props
}

func (e *Engine) evaluateField(f FieldConfiguration, item map[string]any) any {
	source := "{{#with item as |item|}}" + f.Value + "{{/with}}"
	out, err := e.Render(map[string]any{"item": item}, source)
	if err != nil {
		e.logger.Warn(context.Background(), err, "Field expression failed", "field", f.Field)
		return apperrors.Marker(err)
	}
	out = strings.TrimSpace(html.UnescapeString(out))
	if out == "" {
		return nil
	}
	return out
}
