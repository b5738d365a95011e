package templating

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
)

// Operator is the block helper a result type rule compiles to.
type Operator string

const (
	OperatorEqual          Operator = "eq"
	OperatorNotEqual       Operator = "ne"
	OperatorContains       Operator = "contains"
	OperatorStartsWith     Operator = "startsWith"
	OperatorNotNull        Operator = "if"
	OperatorGreaterOrEqual Operator = "gte"
	OperatorGreaterThan    Operator = "gt"
	OperatorLessOrEqual    Operator = "lte"
	OperatorLessThan       Operator = "lt"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OperatorEqual, OperatorNotEqual, OperatorContains, OperatorStartsWith, OperatorNotNull,
		OperatorGreaterOrEqual, OperatorGreaterThan, OperatorLessOrEqual, OperatorLessThan:
		return true
	}
	return false
}

// Rule maps a managed property comparison to a template fragment.
type Rule struct {
	Property              string   `json:"property" yaml:"property"`
	Operator              Operator `json:"operator" yaml:"operator"`
	Value                 string   `json:"value" yaml:"value"`
	InlineTemplateContent string   `json:"inlineTemplateContent,omitempty" yaml:"inline_template_content,omitempty"`
	ExternalTemplateURL   string   `json:"externalTemplateUrl,omitempty" yaml:"external_template_url,omitempty"`
}

// partialBlock renders the content of the resultTypes block.
const partialBlock = "{{{@partialBlock}}}"

var expressionToken = regexp.MustCompile(`^\{\{(.*)\}\}$`)

// BuildConditionalPartial compiles rules into nested conditional blocks,
// the first rule outermost. Each rule renders its template when its
// condition holds and falls through to the next rule otherwise; the last
// rule falls through to the content of the resultTypes block. Rules
// without a value are skipped.
func (e *Engine) BuildConditionalPartial(ctx context.Context, rules []Rule) (string, error) {
	if len(rules) > e.opts.MaxResultTypeRules {
		return "", apperrors.NewValidationError(apperrors.ErrCodeTemplateCompile,
			fmt.Sprintf("%d result types exceed the limit of %d", len(rules), e.opts.MaxResultTypeRules))
	}

	contents := make([]string, len(rules))
	for i, rule := range rules {
		if rule.Value == "" {
			continue
		}
		if !rule.Operator.Valid() {
			return "", apperrors.NewValidationError(apperrors.ErrCodeTemplateCompile,
				fmt.Sprintf("result type %d has unknown operator %q", i, rule.Operator))
		}
		contents[i] = e.ruleTemplate(ctx, rule)
	}

	next := partialBlock
	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].Value == "" {
			continue
		}
		next = conditionBlock(rules[i], contents[i], next)
	}
	return next, nil
}

// ruleTemplate returns the rule's template, fetching it when the rule
// points at an external file. A failed fetch falls back to the inline
// content.
func (e *Engine) ruleTemplate(ctx context.Context, rule Rule) string {
	if rule.ExternalTemplateURL == "" || e.opts.Fetcher == nil {
		return rule.InlineTemplateContent
	}
	content, err := e.opts.Fetcher.FetchText(ctx, rule.ExternalTemplateURL)
	if err != nil {
		e.logger.Warn(ctx, err, "Failed to fetch result type template", "url", rule.ExternalTemplateURL)
		return rule.InlineTemplateContent
	}
	return content
}

func conditionBlock(rule Rule, content, next string) string {
	param1 := rule.Property
	param2 := quote(rule.Value)
	if m := expressionToken.FindStringSubmatch(rule.Value); m != nil {
		param2 = m[1]
	}

	switch rule.Operator {
	case OperatorStartsWith:
		param1 = quote(rule.Value)
		param2 = rule.Property
	case OperatorNotNull:
		param2 = ""
	}

	return fmt.Sprintf("{{#%s %s %s}}\n%s\n{{else}}\n%s\n{{/%s}}",
		rule.Operator, param1, param2, content, next, rule.Operator)
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

// RegisterResultTypes compiles rules for instanceKey. Templates render the
// result through {{#resultTypes}}default markup{{/resultTypes}}. An empty
// rule set leaves the current registration in place.
func (e *Engine) RegisterResultTypes(ctx context.Context, rules []Rule, instanceKey string) error {
	if len(rules) == 0 {
		return nil
	}
	source, err := e.BuildConditionalPartial(ctx, rules)
	if err != nil {
		return err
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return apperrors.NewTemplateError(apperrors.ErrCodeTemplateCompile, "failed to compile result types", err).
			WithContext("instance", instanceKey)
	}

	e.mu.Lock()
	e.resultTypes[instanceKey] = tpl
	e.mu.Unlock()
	e.logger.Debug(ctx, "Registered result types", "instance", instanceKey, "rules", len(rules))
	return nil
}

// ClearResultTypes removes the result types registered for instanceKey.
func (e *Engine) ClearResultTypes(instanceKey string) {
	e.mu.Lock()
	delete(e.resultTypes, instanceKey)
	e.mu.Unlock()
}

func (e *Engine) resultType(instanceKey string) *raymond.Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resultTypes[instanceKey]
}

// resultTypesHelper renders the result types of the current instance for
// the current item, falling back to the block content. The instance comes
// from the key hash argument, then from @instanceId.
func (e *Engine) resultTypesHelper(options *raymond.Options) raymond.SafeString {
	inner := options.Fn()

	key := options.HashStr("key")
	if key == "" {
		key = options.DataStr("instanceId")
	}
	tpl := e.resultType(key)
	if tpl == nil {
		return raymond.SafeString(inner)
	}

	frame := options.NewDataFrame()
	frame.Set("partialBlock", raymond.SafeString(inner))
	out, err := e.exec(tpl, options.Ctx(), frame)
	if err != nil {
		e.logHelperFailure("resultTypes", err)
		return raymond.SafeString(inner)
	}
	return raymond.SafeString(out)
}
