package evaluator

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkParser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// markdownConverter is shared by the markdown helpers. goldmark converters
// are safe for concurrent use.
var markdownConverter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(goldmarkParser.WithAutoHeadingID()),
)

// unsafeMarkdownConverter also passes raw HTML blocks through, for callers
// that trust their markdown source.
var unsafeMarkdownConverter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(goldmarkParser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// registerMarkdownHelpers adds markdown(s) and markdownUnsafe(s), both
// returning rendered HTML.
func registerMarkdownHelpers(table HelperTable) {
	table["markdown"] = markdownHelper("markdown", markdownConverter)
	table["markdownUnsafe"] = markdownHelper("markdownUnsafe", unsafeMarkdownConverter)

	// markdownInline strips the wrapping <p> pair from a single-paragraph
	// conversion, for markdown inside running text.
	table["markdownInline"] = func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		inner := markdownHelper("markdownInline", markdownConverter)(scope, warn)
		return func(args ...Object) Object {
			result := inner(args...)
			s, ok := result.(*String)
			if !ok {
				return result
			}
			out := strings.TrimSpace(s.Value)
			if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
				out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
			}
			return &String{Value: out}
		}
	}
}

func markdownHelper(name string, converter goldmark.Markdown) Helper {
	return func(scope *Scope, warn WarnFunc) func(args ...Object) Object {
		return func(args ...Object) Object {
			if len(args) != 1 {
				return arityError(name, "1", len(args))
			}
			if isNull(args[0]) {
				return &String{Value: ""}
			}
			src, ok := argAsString(args[0])
			if !ok {
				return typeError(name, "STRING", args[0])
			}
			var buf bytes.Buffer
			if err := converter.Convert([]byte(src), &buf); err != nil {
				return helperError(name, err.Error())
			}
			return &String{Value: buf.String()}
		}
	}
}
