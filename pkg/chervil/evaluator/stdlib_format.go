package evaluator

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// registerFormatHelpers adds locale-aware number formatting:
//
//	formatNumber(n[, locale])          grouped decimal, e.g. 1,234,567.5
//	formatPercent(n[, locale])         0.25 -> 25%
//	formatCurrency(n, code[, locale])  currency-prefixed decimal
func registerFormatHelpers(table HelperTable) {
	table["formatNumber"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) < 1 || len(args) > 2 {
				return arityError("formatNumber", "1 or 2", len(args))
			}
			tag, err := localeTag(args, 1, warn)
			if err != nil {
				return err
			}
			p := message.NewPrinter(tag)
			return &String{Value: p.Sprintf("%v", number.Decimal(coerce(args[0])))}
		}
	}

	table["formatPercent"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) < 1 || len(args) > 2 {
				return arityError("formatPercent", "1 or 2", len(args))
			}
			tag, err := localeTag(args, 1, warn)
			if err != nil {
				return err
			}
			p := message.NewPrinter(tag)
			return &String{Value: p.Sprintf("%v", number.Percent(coerce(args[0])))}
		}
	}

	table["formatCurrency"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		coerce := coercerFor(warn)
		return func(args ...Object) Object {
			if len(args) < 2 || len(args) > 3 {
				return arityError("formatCurrency", "2 or 3", len(args))
			}
			code, ok := argAsString(args[1])
			if !ok {
				return typeError("formatCurrency", "STRING", args[1])
			}
			tag, err := localeTag(args, 2, warn)
			if err != nil {
				return err
			}
			p := message.NewPrinter(tag)
			formatted := p.Sprintf("%v", number.Decimal(coerce(args[0]), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
			return &String{Value: code + " " + formatted}
		}
	}
}

// localeTag reads an optional locale argument at index idx, defaulting to
// English. An unparseable locale is a helper error, not a warning: the
// caller wrote it in the template, so it is fixable.
func localeTag(args []Object, idx int, warn WarnFunc) (language.Tag, *Error) {
	if len(args) <= idx {
		return language.English, nil
	}
	localeStr, ok := argAsString(args[idx])
	if !ok {
		return language.Und, typeError("format helper", "STRING locale", args[idx])
	}
	tag, err := language.Parse(localeStr)
	if err != nil {
		return language.Und, helperError("format helper", "unknown locale "+localeStr)
	}
	return tag, nil
}
