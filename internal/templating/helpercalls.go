package templating

import (
	"errors"
	"fmt"

	"github.com/aymerick/raymond/ast"
)

// ErrMissingHelper is returned when a template calls a helper with
// arguments that is not registered.
var ErrMissingHelper = errors.New("missing helper")

// helperCall is the first call site of a helper name in a template.
type helperCall struct {
	name string
	line int
}

// helperCalls lists the simple names a template calls with parameters or
// a hash. Those mustaches cannot be plain field lookups.
func helperCalls(prog *ast.Program) []helperCall {
	c := &callCollector{seen: make(map[string]bool)}
	c.VisitProgram(prog)
	return c.calls
}

// checkHelpers reports the first call in calls that has no helper behind
// it.
func (e *Engine) checkHelpers(calls []helperCall) error {
	for _, call := range calls {
		if !e.HasHelper(call.name) {
			return fmt.Errorf("%w %q on line %d", ErrMissingHelper, call.name, call.line)
		}
	}
	return nil
}

type callCollector struct {
	calls []helperCall
	seen  map[string]bool
}

func (c *callCollector) accept(nodes ...ast.Node) {
	for _, n := range nodes {
		if n != nil {
			n.Accept(c)
		}
	}
}

func (c *callCollector) VisitProgram(n *ast.Program) interface{} {
	if n != nil {
		c.accept(n.Body...)
	}
	return nil
}

func (c *callCollector) VisitMustache(n *ast.MustacheStatement) interface{} {
	c.VisitExpression(n.Expression)
	return nil
}

func (c *callCollector) VisitBlock(n *ast.BlockStatement) interface{} {
	c.VisitExpression(n.Expression)
	c.VisitProgram(n.Program)
	c.VisitProgram(n.Inverse)
	return nil
}

func (c *callCollector) VisitPartial(n *ast.PartialStatement) interface{} {
	c.accept(n.Name)
	c.accept(n.Params...)
	c.VisitHash(n.Hash)
	return nil
}

func (c *callCollector) VisitContent(*ast.ContentStatement) interface{} { return nil }
func (c *callCollector) VisitComment(*ast.CommentStatement) interface{} { return nil }

func (c *callCollector) VisitExpression(n *ast.Expression) interface{} {
	if n == nil {
		return nil
	}
	if len(n.Params) > 0 || n.Hash != nil {
		if name := n.HelperName(); name != "" && !c.seen[name] {
			c.seen[name] = true
			c.calls = append(c.calls, helperCall{name: name, line: n.Line})
		}
	}
	c.accept(n.Path)
	c.accept(n.Params...)
	c.VisitHash(n.Hash)
	return nil
}

func (c *callCollector) VisitSubExpression(n *ast.SubExpression) interface{} {
	c.VisitExpression(n.Expression)
	return nil
}

func (c *callCollector) VisitPath(*ast.PathExpression) interface{}     { return nil }
func (c *callCollector) VisitString(*ast.StringLiteral) interface{}   { return nil }
func (c *callCollector) VisitBoolean(*ast.BooleanLiteral) interface{} { return nil }
func (c *callCollector) VisitNumber(*ast.NumberLiteral) interface{}   { return nil }

func (c *callCollector) VisitHash(n *ast.Hash) interface{} {
	if n == nil {
		return nil
	}
	for _, pair := range n.Pairs {
		c.VisitHashPair(pair)
	}
	return nil
}

func (c *callCollector) VisitHashPair(n *ast.HashPair) interface{} {
	c.accept(n.Val)
	return nil
}
