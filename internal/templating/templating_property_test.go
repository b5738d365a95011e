//go:build property

package templating

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTemplatingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	e := newTestEngine(t)

	properties.Property("the first registration of a helper wins", prop.ForAll(
		func(name string) bool {
			name = "p" + name
			first := func() string { return "first" }
			second := func() string { return "second" }
			e.RegisterHelper(name, first)
			if e.RegisterHelper(name, second) {
				return false
			}
			out, err := e.Render(nil, "{{"+name+"}}")
			return err == nil && out == "first"
		},
		gen.Identifier(),
	))

	properties.Property("rules compile outermost first with one fall through each", prop.ForAll(
		func(values []string) bool {
			rules := make([]Rule, len(values))
			for i, v := range values {
				rules[i] = Rule{Property: "Type", Operator: OperatorEqual, Value: v, InlineTemplateContent: fmt.Sprint(i)}
			}
			partial, err := e.BuildConditionalPartial(context.Background(), rules)
			if err != nil {
				return false
			}
			if strings.Count(partial, "{{else}}") != len(rules) || strings.Count(partial, partialBlock) != 1 {
				return false
			}
			pos := 0
			for _, v := range values {
				i := strings.Index(partial[pos:], quote(v))
				if i < 0 {
					return false
				}
				pos += i
			}
			return true
		},
		gen.SliceOfN(8, gen.Identifier()),
	))

	properties.Property("starts with always puts the literal first", prop.ForAll(
		func(property, value string) bool {
			partial, err := e.BuildConditionalPartial(context.Background(), []Rule{
				{Property: property, Operator: OperatorStartsWith, Value: value},
			})
			return err == nil && strings.HasPrefix(partial, "{{#startsWith "+quote(value)+" "+property+"}}")
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
