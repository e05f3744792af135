// Package evaluator implements expression evaluation over the template
// AST: three-tier scope resolution, implicit optional chaining, array
// wildcard flattening, numeric coercion, and helper dispatch.
package evaluator

import (
	"math"
	"strconv"
	"strings"

	"github.com/sambeau/chervil/pkg/chervil/ast"
)

// DefaultMaxCallDepth bounds nested function/helper application.
const DefaultMaxCallDepth = 50

// Limits configures evaluation ceilings.
type Limits struct {
	MaxCallDepth int
}

func (l Limits) withDefaults() Limits {
	if l.MaxCallDepth <= 0 {
		l.MaxCallDepth = DefaultMaxCallDepth
	}
	return l
}

// Evaluator evaluates expressions against a scope. One evaluator is built
// per render; it carries the helper table, the warning sink and the call
// depth counter. It holds no state shared between renders.
type Evaluator struct {
	helpers   HelperTable
	warn      WarnFunc
	limits    Limits
	callDepth int
}

// New builds an evaluator. A nil warn sink discards warnings; a nil helper
// table means no helpers are available.
func New(helpers HelperTable, warn WarnFunc, limits Limits) *Evaluator {
	if warn == nil {
		warn = func(string) {}
	}
	return &Evaluator{
		helpers: helpers,
		warn:    warn,
		limits:  limits.withDefaults(),
	}
}

// Eval evaluates an expression in the given scope. Failures come back as
// *Error values, never as panics.
func (e *Evaluator) Eval(expr ast.Expression, scope *Scope) Object {
	switch node := expr.(type) {
	case nil:
		return NULL

	case *ast.NullLiteral:
		return NULL

	case *ast.BooleanLiteral:
		return nativeBoolToObject(node.Value)

	case *ast.NumberLiteral:
		return &Number{Value: node.Value}

	case *ast.StringLiteral:
		return &String{Value: node.Value}

	case *ast.Path:
		return e.evalPath(node, scope)

	case *ast.ArrayWildcard:
		return e.evalPath(node.Path, scope)

	case *ast.PrefixExpression:
		return e.evalPrefix(node, scope)

	case *ast.InfixExpression:
		return e.evalInfix(node, scope)

	case *ast.TernaryExpression:
		cond := e.Eval(node.Condition, scope)
		if isError(cond) {
			return cond
		}
		if IsTruthy(cond) {
			return e.Eval(node.Truthy, scope)
		}
		return e.Eval(node.Falsy, scope)

	case *ast.CallExpression:
		return e.evalCall(node, scope)

	case *ast.FunctionLiteral:
		return &Function{Params: node.Params, Body: node.Body, Scope: scope}

	default:
		return newErrorAt("PARSE-0002", expr.Pos(), map[string]any{"Token": expr.String()})
	}
}

// ----------------------------------------------------------------------------
// Paths
// ----------------------------------------------------------------------------

// evalPath resolves a path against the scope. Resolution starts at the
// locals chain then the data tier, or at the globals tier for $.paths.
// Any missing link short-circuits the rest of the path to null.
func (e *Evaluator) evalPath(path *ast.Path, scope *Scope) Object {
	if len(path.Segments) == 0 {
		return NULL
	}

	var root Object
	rest := path.Segments
	if path.Global {
		head := path.Head()
		if head == "" {
			return NULL
		}
		v, ok := scope.LookupGlobal(head)
		if !ok {
			return NULL
		}
		root = v
		rest = path.Segments[1:]
	} else {
		head := path.Head()
		if head == "" {
			return NULL
		}
		v, ok := scope.Lookup(head)
		if !ok {
			return NULL
		}
		root = v
		rest = path.Segments[1:]
	}

	return e.resolveSegments(root, rest)
}

// resolveSegments walks the remaining segments of a path. A star segment
// projects the rest of the path across each element of the array at that
// position; nested stars flatten exactly one array level each.
func (e *Evaluator) resolveSegments(val Object, segs []ast.PathSegment) Object {
	for i, seg := range segs {
		if isNull(val) || isError(val) {
			return val
		}
		switch seg.Kind {
		case ast.SegKey:
			dict, ok := val.(*Dictionary)
			if !ok {
				return NULL
			}
			next, ok := dict.Pairs[seg.Key]
			if !ok {
				return NULL
			}
			val = next

		case ast.SegIndex:
			arr, ok := val.(*Array)
			if !ok {
				return NULL
			}
			if seg.Index < 0 || seg.Index >= len(arr.Elements) {
				return NULL
			}
			val = arr.Elements[seg.Index]

		case ast.SegStar:
			arr, ok := val.(*Array)
			if !ok {
				return NULL
			}
			rest := segs[i+1:]
			splice := segmentsHaveStar(rest)
			out := make([]Object, 0, len(arr.Elements))
			for _, el := range arr.Elements {
				projected := e.resolveSegments(el, rest)
				if isError(projected) {
					return projected
				}
				if splice {
					if inner, ok := projected.(*Array); ok {
						out = append(out, inner.Elements...)
						continue
					}
				}
				out = append(out, projected)
			}
			return &Array{Elements: out}
		}
	}
	if isNull(val) {
		return NULL
	}
	return val
}

func segmentsHaveStar(segs []ast.PathSegment) bool {
	for _, seg := range segs {
		if seg.Kind == ast.SegStar {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// Operators
// ----------------------------------------------------------------------------

func (e *Evaluator) evalPrefix(node *ast.PrefixExpression, scope *Scope) Object {
	right := e.Eval(node.Right, scope)
	if isError(right) {
		return right
	}
	switch node.Operator {
	case "!":
		return nativeBoolToObject(!IsTruthy(right))
	case "-":
		return &Number{Value: -e.toNumber(right)}
	default:
		return newErrorAt("PARSE-0002", node.Pos(), map[string]any{"Token": node.Operator})
	}
}

func (e *Evaluator) evalInfix(node *ast.InfixExpression, scope *Scope) Object {
	// Short-circuit forms never touch their right operand unless needed,
	// so absent paths on the untaken side are never resolved.
	switch node.Operator {
	case "&&":
		left := e.Eval(node.Left, scope)
		if isError(left) {
			return left
		}
		if !IsTruthy(left) {
			return left
		}
		return e.Eval(node.Right, scope)
	case "||":
		left := e.Eval(node.Left, scope)
		if isError(left) {
			return left
		}
		if IsTruthy(left) {
			return left
		}
		return e.Eval(node.Right, scope)
	case "??":
		left := e.Eval(node.Left, scope)
		if isError(left) {
			return left
		}
		// Nullish only: 0, "" and false all stay.
		if !isNull(left) {
			return left
		}
		return e.Eval(node.Right, scope)
	}

	left := e.Eval(node.Left, scope)
	if isError(left) {
		return left
	}
	right := e.Eval(node.Right, scope)
	if isError(right) {
		return right
	}

	switch node.Operator {
	case "+":
		if left.Type() == STRING_OBJ || right.Type() == STRING_OBJ {
			return &String{Value: ToDisplayString(left) + ToDisplayString(right)}
		}
		return &Number{Value: e.toNumber(left) + e.toNumber(right)}
	case "-":
		return &Number{Value: e.toNumber(left) - e.toNumber(right)}
	case "*":
		return &Number{Value: e.toNumber(left) * e.toNumber(right)}
	case "/":
		divisor := e.toNumber(right)
		if divisor == 0 {
			e.warn("division by zero")
			return &Number{Value: 0}
		}
		return &Number{Value: e.toNumber(left) / divisor}
	case "%":
		divisor := e.toNumber(right)
		if divisor == 0 {
			e.warn("division by zero")
			return &Number{Value: 0}
		}
		return &Number{Value: math.Mod(e.toNumber(left), divisor)}
	case "==":
		return nativeBoolToObject(ObjectsEqual(left, right))
	case "!=":
		return nativeBoolToObject(!ObjectsEqual(left, right))
	case "<", "<=", ">", ">=":
		return e.evalComparison(node.Operator, left, right)
	default:
		return newErrorAt("PARSE-0002", node.Pos(), map[string]any{"Token": node.Operator})
	}
}

// evalComparison orders two values: both-strings compare lexicographically,
// everything else through numeric coercion.
func (e *Evaluator) evalComparison(op string, left, right Object) Object {
	if left.Type() == STRING_OBJ && right.Type() == STRING_OBJ {
		cmp := strings.Compare(left.(*String).Value, right.(*String).Value)
		return compareResult(op, float64(cmp), 0)
	}
	return compareResult(op, e.toNumber(left), e.toNumber(right))
}

func compareResult(op string, a, b float64) Object {
	switch op {
	case "<":
		return nativeBoolToObject(a < b)
	case "<=":
		return nativeBoolToObject(a <= b)
	case ">":
		return nativeBoolToObject(a > b)
	default:
		return nativeBoolToObject(a >= b)
	}
}

// toNumber applies the fixed coercion rules: true/false become 1/0, null
// becomes 0, the empty string becomes 0, other strings parse as numbers
// with a warning and 0 on failure, and non-scalar values warn and become 0.
func (e *Evaluator) toNumber(obj Object) float64 {
	switch val := obj.(type) {
	case nil, *Null:
		return 0
	case *Boolean:
		if val.Value {
			return 1
		}
		return 0
	case *Number:
		return val.Value
	case *String:
		if val.Value == "" {
			return 0
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(val.Value), 64)
		if err != nil {
			e.warn("cannot convert " + strconv.Quote(val.Value) + " to a number")
			return 0
		}
		return n
	default:
		e.warn("cannot convert " + string(obj.Type()) + " to a number")
		return 0
	}
}

// ----------------------------------------------------------------------------
// Calls
// ----------------------------------------------------------------------------

// evalCall applies a let-bound arrow function when the name resolves to one
// in the locals chain, otherwise dispatches to the helper table.
func (e *Evaluator) evalCall(node *ast.CallExpression, scope *Scope) Object {
	args := make([]Object, len(node.Args))
	for i, arg := range node.Args {
		v := e.Eval(arg, scope)
		if isError(v) {
			return v
		}
		args[i] = v
	}

	if bound, ok := scope.LookupLocal(node.Name); ok {
		fn, ok := bound.(*Function)
		if !ok {
			return newErrorAt("TYPE-0002", node.Pos(), map[string]any{
				"Got": string(bound.Type()),
			})
		}
		return e.applyFunction(node, fn, args)
	}

	helper, ok := e.helpers[node.Name]
	if !ok {
		return newErrorAt("EVAL-0001", node.Pos(), map[string]any{"Name": node.Name})
	}

	if limitErr := e.enterCall(node); limitErr != nil {
		return limitErr
	}
	defer func() { e.callDepth-- }()

	result := helper(scope, e.warn)(args...)
	if result == nil {
		return NULL
	}
	if err, ok := result.(*Error); ok && err.Line == 0 {
		return &Error{
			Message: err.Message,
			Class:   err.Class,
			Code:    err.Code,
			Hints:   err.Hints,
			Line:    node.Pos().Line,
			Column:  node.Pos().Column,
			Data:    err.Data,
		}
	}
	return result
}

func (e *Evaluator) applyFunction(node *ast.CallExpression, fn *Function, args []Object) Object {
	if len(args) != len(fn.Params) {
		err := arityError(node.Name, strconv.Itoa(len(fn.Params)), len(args))
		err.Line = node.Pos().Line
		err.Column = node.Pos().Column
		return err
	}

	if limitErr := e.enterCall(node); limitErr != nil {
		return limitErr
	}
	defer func() { e.callDepth-- }()

	// The body evaluates in the definition scope extended with the
	// arguments, not the caller's scope.
	bindings := make(map[string]Object, len(fn.Params))
	for i, p := range fn.Params {
		bindings[p] = args[i]
	}
	return e.Eval(fn.Body, fn.Scope.WithLocals(bindings))
}

func (e *Evaluator) enterCall(node *ast.CallExpression) *Error {
	e.callDepth++
	if e.callDepth > e.limits.MaxCallDepth {
		depth := e.callDepth
		e.callDepth--
		return newErrorAt("LIMIT-0008", node.Pos(), map[string]any{
			"Limit": "MaxCallDepth",
			"Value": depth,
			"Max":   e.limits.MaxCallDepth,
		})
	}
	return nil
}
