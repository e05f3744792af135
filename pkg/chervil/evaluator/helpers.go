package evaluator

// WarnFunc is the warning sink passed to helpers and used by numeric
// coercion. Soft failures (a string that will not parse as a number, a
// malformed date) are reported here instead of aborting the render.
type WarnFunc func(message string)

// Helper is the contract for named template functions. A helper receives
// the current scope and a warning sink and returns the value-producing
// function that is actually applied to the call's arguments. Helpers may
// read scope.Data()/Globals() but must not mutate the scope; recoverable
// problems go to warn, hard failures return an *Error object.
type Helper func(scope *Scope, warn WarnFunc) func(args ...Object) Object

// HelperTable maps helper names to implementations.
type HelperTable map[string]Helper

// DefaultHelpers returns the built-in helper catalog: string utilities,
// math, markdown, date/time parsing and formatting, and locale-aware
// number formatting. The returned table is fresh; callers may add or
// replace entries without affecting other renders.
func DefaultHelpers() HelperTable {
	table := HelperTable{}
	registerStringHelpers(table)
	registerMathHelpers(table)
	registerMarkdownHelpers(table)
	registerDatetimeHelpers(table)
	registerFormatHelpers(table)
	return table
}

// arityError builds the standard wrong-argument-count error.
func arityError(name string, want string, got int) *Error {
	return newError("ARITY-0001", map[string]any{
		"Function": name,
		"Want":     want,
		"Got":      got,
	})
}

// typeError builds the standard argument-type error.
func typeError(name string, want string, got Object) *Error {
	gotType := "null"
	if got != nil {
		gotType = string(got.Type())
	}
	return newError("TYPE-0001", map[string]any{
		"Function": name,
		"Expected": want,
		"Got":      gotType,
	})
}

// helperError wraps a helper-internal failure.
func helperError(name string, reason string) *Error {
	return newError("EVAL-0002", map[string]any{
		"Name":   name,
		"Reason": reason,
	})
}

// argAsString coerces an argument to its string value, accepting only
// strings. Returns ok=false when the argument is some other type.
func argAsString(arg Object) (string, bool) {
	s, ok := arg.(*String)
	if !ok {
		return "", false
	}
	return s.Value, true
}
