package evaluator

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goodsign/monday"
)

// mondayLocales maps locale strings to monday locales for formatDate.
// Unknown locales fall back to en_US with a warning.
var mondayLocales = map[string]monday.Locale{
	"en":    monday.LocaleEnUS,
	"en_us": monday.LocaleEnUS,
	"en_gb": monday.LocaleEnGB,
	"de":    monday.LocaleDeDE,
	"de_de": monday.LocaleDeDE,
	"fr":    monday.LocaleFrFR,
	"fr_fr": monday.LocaleFrFR,
	"es":    monday.LocaleEsES,
	"es_es": monday.LocaleEsES,
	"it":    monday.LocaleItIT,
	"it_it": monday.LocaleItIT,
	"nl":    monday.LocaleNlNL,
	"nl_nl": monday.LocaleNlNL,
	"pt":    monday.LocalePtPT,
	"pt_br": monday.LocalePtBR,
	"ja":    monday.LocaleJaJP,
	"ja_jp": monday.LocaleJaJP,
}

func mondayLocale(locale string, warn WarnFunc) monday.Locale {
	key := strings.ToLower(strings.ReplaceAll(locale, "-", "_"))
	if loc, ok := mondayLocales[key]; ok {
		return loc
	}
	warn("unknown locale " + locale + ", using en_US")
	return monday.LocaleEnUS
}

// registerDatetimeHelpers adds date parsing and formatting helpers:
//
//	now()                         current time, RFC 3339
//	parseDate(s)                  fuzzy-parsed, RFC 3339 or null
//	formatDate(s, layout[, loc])  fuzzy-parsed then formatted, locale-aware
//	year(s) / month(s) / day(s)   numeric date parts
func registerDatetimeHelpers(table HelperTable) {
	table["now"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 0 {
				return arityError("now", "0", len(args))
			}
			return &String{Value: time.Now().Format(time.RFC3339)}
		}
	}

	table["parseDate"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError("parseDate", "1", len(args))
			}
			t, ok := parseDateArg("parseDate", args[0], warn)
			if !ok {
				return NULL
			}
			return &String{Value: t.Format(time.RFC3339)}
		}
	}

	table["formatDate"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) < 2 || len(args) > 3 {
				return arityError("formatDate", "2 or 3", len(args))
			}
			t, ok := parseDateArg("formatDate", args[0], warn)
			if !ok {
				return NULL
			}
			layout, ok := argAsString(args[1])
			if !ok {
				return typeError("formatDate", "STRING", args[1])
			}
			var loc monday.Locale = monday.LocaleEnUS
			if len(args) == 3 {
				localeStr, ok := argAsString(args[2])
				if !ok {
					return typeError("formatDate", "STRING", args[2])
				}
				loc = mondayLocale(localeStr, warn)
			}
			return &String{Value: monday.Format(t, layout, loc)}
		}
	}

	table["year"] = datePartHelper("year", func(t time.Time) int { return t.Year() })
	table["month"] = datePartHelper("month", func(t time.Time) int { return int(t.Month()) })
	table["day"] = datePartHelper("day", func(t time.Time) int { return t.Day() })
}

func datePartHelper(name string, part func(time.Time) int) Helper {
	return func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError(name, "1", len(args))
			}
			t, ok := parseDateArg(name, args[0], warn)
			if !ok {
				return NULL
			}
			return &Number{Value: float64(part(t))}
		}
	}
}

// parseDateArg fuzzy-parses a date argument. Unparseable input warns and
// reports ok=false rather than erroring, matching the coercion helpers.
func parseDateArg(name string, arg Object, warn WarnFunc) (time.Time, bool) {
	s, ok := argAsString(arg)
	if !ok {
		warn(name + ": expected a date string, got " + strings.ToLower(string(arg.Type())))
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		warn(name + ": cannot parse " + s + " as a date")
		return time.Time{}, false
	}
	return t, true
}
