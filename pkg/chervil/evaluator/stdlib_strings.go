package evaluator

import (
	"strings"
	"unicode"
)

// registerStringHelpers adds the string helper catalog to a table.
func registerStringHelpers(table HelperTable) {
	table["upper"] = stringHelper("upper", strings.ToUpper)
	table["lower"] = stringHelper("lower", strings.ToLower)
	table["trim"] = stringHelper("trim", strings.TrimSpace)
	table["capitalize"] = stringHelper("capitalize", capitalize)

	table["length"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError("length", "1", len(args))
			}
			switch v := args[0].(type) {
			case *String:
				return &Number{Value: float64(len([]rune(v.Value)))}
			case *Array:
				return &Number{Value: float64(len(v.Elements))}
			case *Dictionary:
				return &Number{Value: float64(len(v.Pairs))}
			case *Null:
				return &Number{Value: 0}
			default:
				return typeError("length", "STRING, ARRAY or DICTIONARY", args[0])
			}
		}
	}

	table["contains"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 2 {
				return arityError("contains", "2", len(args))
			}
			switch v := args[0].(type) {
			case *String:
				needle, ok := argAsString(args[1])
				if !ok {
					return typeError("contains", "STRING", args[1])
				}
				return nativeBoolToObject(strings.Contains(v.Value, needle))
			case *Array:
				for _, el := range v.Elements {
					if ObjectsEqual(el, args[1]) {
						return TRUE
					}
				}
				return FALSE
			default:
				return typeError("contains", "STRING or ARRAY", args[0])
			}
		}
	}

	table["replace"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 3 {
				return arityError("replace", "3", len(args))
			}
			s, ok := argAsString(args[0])
			if !ok {
				return typeError("replace", "STRING", args[0])
			}
			old, ok := argAsString(args[1])
			if !ok {
				return typeError("replace", "STRING", args[1])
			}
			new, ok := argAsString(args[2])
			if !ok {
				return typeError("replace", "STRING", args[2])
			}
			return &String{Value: strings.ReplaceAll(s, old, new)}
		}
	}

	table["split"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 2 {
				return arityError("split", "2", len(args))
			}
			s, ok := argAsString(args[0])
			if !ok {
				return typeError("split", "STRING", args[0])
			}
			sep, ok := argAsString(args[1])
			if !ok {
				return typeError("split", "STRING", args[1])
			}
			parts := strings.Split(s, sep)
			elements := make([]Object, len(parts))
			for i, p := range parts {
				elements[i] = &String{Value: p}
			}
			return &Array{Elements: elements}
		}
	}

	table["join"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 2 {
				return arityError("join", "2", len(args))
			}
			arr, ok := args[0].(*Array)
			if !ok {
				return typeError("join", "ARRAY", args[0])
			}
			sep, ok := argAsString(args[1])
			if !ok {
				return typeError("join", "STRING", args[1])
			}
			parts := make([]string, len(arr.Elements))
			for i, el := range arr.Elements {
				parts[i] = ToDisplayString(el)
			}
			return &String{Value: strings.Join(parts, sep)}
		}
	}

	table["truncate"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 2 {
				return arityError("truncate", "2", len(args))
			}
			s, ok := argAsString(args[0])
			if !ok {
				return typeError("truncate", "STRING", args[0])
			}
			n, ok := args[1].(*Number)
			if !ok {
				return typeError("truncate", "NUMBER", args[1])
			}
			max := int(n.Value)
			runes := []rune(s)
			if max < 0 || len(runes) <= max {
				return &String{Value: s}
			}
			if max <= 1 {
				return &String{Value: "…"}
			}
			return &String{Value: string(runes[:max-1]) + "…"}
		}
	}

	table["slug"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError("slug", "1", len(args))
			}
			s, ok := argAsString(args[0])
			if !ok {
				return typeError("slug", "STRING", args[0])
			}
			return &String{Value: slugify(s)}
		}
	}
}

// stringHelper wraps a string -> string function as a one-argument helper.
func stringHelper(name string, fn func(string) string) Helper {
	return func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError(name, "1", len(args))
			}
			s, ok := argAsString(args[0])
			if !ok {
				if isNull(args[0]) {
					return &String{Value: ""}
				}
				return typeError(name, "STRING", args[0])
			}
			return &String{Value: fn(s)}
		}
	}
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// slugify lowercases and reduces a string to hyphen-separated alphanumeric
// runs, the usual URL-slug shape.
func slugify(s string) string {
	var out strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			out.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(out.String(), "-")
}
