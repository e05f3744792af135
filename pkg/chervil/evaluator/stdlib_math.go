package evaluator

import (
	"math"
)

// registerMathHelpers adds the math helper catalog to a table. Arguments
// go through the standard numeric coercion, so "3" is acceptable where a
// number is expected and malformed input warns and coerces to 0.
func registerMathHelpers(table HelperTable) {
	table["abs"] = mathHelper("abs", math.Abs)
	table["floor"] = mathHelper("floor", math.Floor)
	table["ceil"] = mathHelper("ceil", math.Ceil)
	table["sqrt"] = mathHelper("sqrt", math.Sqrt)

	table["round"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			switch len(args) {
			case 1:
				return &Number{Value: math.Round(coerce(args[0]))}
			case 2:
				places := int(coerce(args[1]))
				scale := math.Pow(10, float64(places))
				return &Number{Value: math.Round(coerce(args[0])*scale) / scale}
			default:
				return arityError("round", "1 or 2", len(args))
			}
		}
	}

	table["min"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			return foldNumbers("min", args, coerce, math.Min)
		}
	}

	table["max"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			return foldNumbers("max", args, coerce, math.Max)
		}
	}

	table["sum"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError("sum", "1", len(args))
			}
			arr, ok := args[0].(*Array)
			if !ok {
				return typeError("sum", "ARRAY", args[0])
			}
			total := 0.0
			for _, el := range arr.Elements {
				total += coerce(el)
			}
			return &Number{Value: total}
		}
	}

	// number applies the standard coercion explicitly, for templates that
	// want "3" * 1 semantics without the arithmetic.
	table["number"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError("number", "1", len(args))
			}
			return &Number{Value: coerce(args[0])}
		}
	}

	table["clamp"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) != 3 {
				return arityError("clamp", "3", len(args))
			}
			v := coerce(args[0])
			lo := coerce(args[1])
			hi := coerce(args[2])
			return &Number{Value: math.Min(math.Max(v, lo), hi)}
		}
	}
}

func mathHelper(name string, fn func(float64) float64) Helper {
	return func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError(name, "1", len(args))
			}
			return &Number{Value: fn(coerce(args[0]))}
		}
	}
}

// foldNumbers reduces min/max style variadics. A single array argument is
// reduced element-wise.
func foldNumbers(name string, args []Object, coerce func(Object) float64, fn func(float64, float64) float64) Object {
	values := args
	if len(args) == 1 {
		if arr, ok := args[0].(*Array); ok {
			values = arr.Elements
		}
	}
	if len(values) == 0 {
		return arityError(name, "at least 1", 0)
	}
	acc := coerce(values[0])
	for _, v := range values[1:] {
		acc = fn(acc, coerce(v))
	}
	return &Number{Value: acc}
}

// coercerFor builds a standalone numeric coercer bound to a warning sink,
// for helpers that run outside an Evaluator.
func coercerFor(warn WarnFunc) func(Object) float64 {
	e := &Evaluator{warn: warn}
	return e.toNumber
}
