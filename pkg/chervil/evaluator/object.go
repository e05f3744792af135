package evaluator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// ObjectType represents the type of runtime values
type ObjectType string

const (
	NULL_OBJ       ObjectType = "NULL"
	BOOLEAN_OBJ    ObjectType = "BOOLEAN"
	NUMBER_OBJ     ObjectType = "NUMBER"
	STRING_OBJ     ObjectType = "STRING"
	ARRAY_OBJ      ObjectType = "ARRAY"
	DICTIONARY_OBJ ObjectType = "DICTIONARY"
	FUNCTION_OBJ   ObjectType = "FUNCTION"
	ERROR_OBJ      ObjectType = "ERROR"
)

// Object represents all runtime values. The set of implementations is
// closed: every value flowing through evaluation and rendering is one of
// Null, Boolean, Number, String, Array, Dictionary, Function or Error.
type Object interface {
	Type() ObjectType
	Inspect() string
}

// Null represents nil/absent. A missing path link resolves to Null rather
// than raising.
type Null struct{}

func (n *Null) Type() ObjectType { return NULL_OBJ }
func (n *Null) Inspect() string  { return "null" }

// Boolean represents boolean values
type Boolean struct {
	Value bool
}

func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string  { return strconv.FormatBool(b.Value) }

// Number represents numeric values. All numbers are float64; integral
// values print without a fractional part.
type Number struct {
	Value float64
}

func (n *Number) Type() ObjectType { return NUMBER_OBJ }
func (n *Number) Inspect() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// String represents string values
type String struct {
	Value string
}

func (s *String) Type() ObjectType { return STRING_OBJ }
func (s *String) Inspect() string  { return s.Value }

// Array represents ordered value sequences
type Array struct {
	Elements []Object
}

func (a *Array) Type() ObjectType { return ARRAY_OBJ }
func (a *Array) Inspect() string {
	parts := make([]string, len(a.Elements))
	for i, el := range a.Elements {
		if el != nil && el.Type() == STRING_OBJ {
			parts[i] = fmt.Sprintf("%q", el.(*String).Value)
		} else if el != nil {
			parts[i] = el.Inspect()
		} else {
			parts[i] = "null"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Dictionary represents string-keyed value maps
type Dictionary struct {
	Pairs map[string]Object
}

func (d *Dictionary) Type() ObjectType { return DICTIONARY_OBJ }
func (d *Dictionary) Inspect() string {
	keys := d.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := d.Pairs[k]
		if v != nil && v.Type() == STRING_OBJ {
			parts[i] = fmt.Sprintf("%s: %q", k, v.(*String).Value)
		} else if v != nil {
			parts[i] = fmt.Sprintf("%s: %s", k, v.Inspect())
		} else {
			parts[i] = k + ": null"
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Keys returns the dictionary's keys in sorted order. Iteration over
// dictionaries is always sorted so renders are deterministic.
func (d *Dictionary) Keys() []string {
	keys := make([]string, 0, len(d.Pairs))
	for k := range d.Pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Function represents a single-expression arrow function bound by let.
// The definition scope is captured so the body sees the bindings that were
// visible where the function was declared.
type Function struct {
	Params []string
	Body   ast.Expression
	Scope  *Scope
}

func (f *Function) Type() ObjectType { return FUNCTION_OBJ }
func (f *Function) Inspect() string {
	return fmt.Sprintf("(%s) => %s", strings.Join(f.Params, ", "), f.Body.String())
}

// Error represents evaluation failures. Errors propagate out of Eval as
// values; the renderer converts them to *errors.TemplateError at the API
// boundary.
type Error struct {
	Message string
	Class   cherrors.ErrorClass
	Code    string
	Hints   []string
	Line    int
	Column  int
	Data    map[string]any
}

func (e *Error) Type() ObjectType { return ERROR_OBJ }
func (e *Error) Inspect() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return "ERROR: " + e.Message
}

// ToTemplateError converts this Error to a typed TemplateError.
func (e *Error) ToTemplateError() *cherrors.TemplateError {
	class := e.Class
	if class == "" {
		class = cherrors.ClassType
	}
	te := &cherrors.TemplateError{
		Class:   class,
		Code:    e.Code,
		Message: e.Message,
		Hints:   e.Hints,
		Line:    e.Line,
		Column:  e.Column,
		Data:    e.Data,
	}
	if class == cherrors.ClassLimit && e.Data != nil {
		if v, ok := e.Data["Limit"].(string); ok {
			te.Limit = v
		}
		if v, ok := e.Data["Value"].(int); ok {
			te.Value = v
		}
		if v, ok := e.Data["Max"].(int); ok {
			te.Max = v
		}
	}
	return te
}

// Shared singletons. Null, true and false never carry per-value state, so
// every evaluation reuses these.
var (
	NULL  = &Null{}
	TRUE  = &Boolean{Value: true}
	FALSE = &Boolean{Value: false}
)

func nativeBoolToObject(b bool) *Boolean {
	if b {
		return TRUE
	}
	return FALSE
}

func isError(obj Object) bool {
	if obj == nil {
		return false
	}
	return obj.Type() == ERROR_OBJ
}

func isNull(obj Object) bool {
	return obj == nil || obj.Type() == NULL_OBJ
}

// newError builds an Error from a catalog code and template data.
func newError(code string, data map[string]any) *Error {
	te := cherrors.New(code, data)
	return &Error{
		Message: te.Message,
		Class:   te.Class,
		Code:    te.Code,
		Hints:   te.Hints,
		Data:    data,
	}
}

func newErrorAt(code string, pos lexer.Position, data map[string]any) *Error {
	err := newError(code, data)
	err.Line = pos.Line
	err.Column = pos.Column
	return err
}

// ----------------------------------------------------------------------------
// Conversion to and from native Go values
// ----------------------------------------------------------------------------

// FromGo converts a native Go value into an Object. Maps and slices convert
// recursively; unsupported types fall back to their fmt spelling as strings.
func FromGo(v any) Object {
	switch val := v.(type) {
	case nil:
		return NULL
	case bool:
		return nativeBoolToObject(val)
	case string:
		return &String{Value: val}
	case float64:
		return &Number{Value: val}
	case float32:
		return &Number{Value: float64(val)}
	case int:
		return &Number{Value: float64(val)}
	case int8:
		return &Number{Value: float64(val)}
	case int16:
		return &Number{Value: float64(val)}
	case int32:
		return &Number{Value: float64(val)}
	case int64:
		return &Number{Value: float64(val)}
	case uint:
		return &Number{Value: float64(val)}
	case uint8:
		return &Number{Value: float64(val)}
	case uint16:
		return &Number{Value: float64(val)}
	case uint32:
		return &Number{Value: float64(val)}
	case uint64:
		return &Number{Value: float64(val)}
	case []any:
		elements := make([]Object, len(val))
		for i, el := range val {
			elements[i] = FromGo(el)
		}
		return &Array{Elements: elements}
	case map[string]any:
		pairs := make(map[string]Object, len(val))
		for k, el := range val {
			pairs[k] = FromGo(el)
		}
		return &Dictionary{Pairs: pairs}
	case Object:
		return val
	default:
		return &String{Value: fmt.Sprintf("%v", val)}
	}
}

// ToGo converts an Object back to a native Go value.
func ToGo(obj Object) any {
	switch val := obj.(type) {
	case nil, *Null:
		return nil
	case *Boolean:
		return val.Value
	case *Number:
		return val.Value
	case *String:
		return val.Value
	case *Array:
		out := make([]any, len(val.Elements))
		for i, el := range val.Elements {
			out[i] = ToGo(el)
		}
		return out
	case *Dictionary:
		out := make(map[string]any, len(val.Pairs))
		for k, el := range val.Pairs {
			out[k] = ToGo(el)
		}
		return out
	case *Error:
		return val.Message
	default:
		return obj.Inspect()
	}
}

// ----------------------------------------------------------------------------
// Truthiness, stringification and equality
// ----------------------------------------------------------------------------

// IsTruthy reports whether obj counts as true in a condition. Null, false,
// zero and the empty string are falsy; arrays and dictionaries are always
// truthy, even when empty.
func IsTruthy(obj Object) bool {
	switch val := obj.(type) {
	case nil, *Null:
		return false
	case *Boolean:
		return val.Value
	case *Number:
		return val.Value != 0
	case *String:
		return val.Value != ""
	default:
		return true
	}
}

// ToDisplayString converts a value to its rendered-text form. Null becomes
// the empty string; everything else uses its Inspect spelling.
func ToDisplayString(obj Object) string {
	if isNull(obj) {
		return ""
	}
	return obj.Inspect()
}

// ObjectsEqual implements strict value equality: values of different types
// are never equal, and arrays/dictionaries compare element-wise.
func ObjectsEqual(a, b Object) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case *Boolean:
		return av.Value == b.(*Boolean).Value
	case *Number:
		return av.Value == b.(*Number).Value
	case *String:
		return av.Value == b.(*String).Value
	case *Array:
		bv := b.(*Array)
		if len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !ObjectsEqual(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *Dictionary:
		bv := b.(*Dictionary)
		if len(av.Pairs) != len(bv.Pairs) {
			return false
		}
		for k, v := range av.Pairs {
			other, ok := bv.Pairs[k]
			if !ok || !ObjectsEqual(v, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
