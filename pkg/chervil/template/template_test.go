package template

import (
	"strings"
	"testing"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/renderer"
)

func TestCompileEmpty(t *testing.T) {
	ct := Compile("", CompileOptions{})
	if len(ct.Root.Children) != 0 {
		t.Errorf("expected zero children, got %d", len(ct.Root.Children))
	}
	if len(ct.Diagnostics) != 0 {
		t.Errorf("expected zero diagnostics, got %v", ct.Diagnostics)
	}
	if ct.HasErrors() {
		t.Errorf("empty source must not have errors")
	}
}

// Compile never fails: malformed input yields a partial tree plus
// diagnostics.
func TestCompileMalformed(t *testing.T) {
	ct := Compile("<div>${broken", CompileOptions{})
	if ct.Root == nil {
		t.Fatalf("expected a root even for malformed input")
	}
	if !ct.HasErrors() {
		t.Fatalf("expected error diagnostics, got %v", ct.Diagnostics)
	}
}

func TestCompileIdempotent(t *testing.T) {
	source := `<div class="c">@for(item of $items){${item}}</div>`
	a := Compile(source, CompileOptions{})
	b := Compile(source, CompileOptions{})
	if a.Root.String() != b.Root.String() {
		t.Errorf("compiling twice produced different trees")
	}
}

func TestCompileAndRender(t *testing.T) {
	ct := Compile("<p>${upper(name)}</p>", CompileOptions{})
	if ct.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", ct.Diagnostics)
	}

	result, err := ct.Render(map[string]any{"name": "ada"}, renderer.Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if result.HTML != "<p>ADA</p>" {
		t.Errorf("got %q", result.HTML)
	}
}

// A compiled template is reusable: renders with different data are
// independent.
func TestRenderReuse(t *testing.T) {
	ct := Compile("${n * 2}", CompileOptions{})
	for _, tt := range []struct {
		n    float64
		want string
	}{{2, "4"}, {5, "10"}} {
		result, err := ct.Render(map[string]any{"n": tt.n}, renderer.Options{})
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if result.HTML != tt.want {
			t.Errorf("n=%v: got %q", tt.n, result.HTML)
		}
	}
}

func TestRenderStats(t *testing.T) {
	source := `<template:Tag>#</template:Tag>@for(item of $items){<Tag/>}`
	ct := Compile(source, CompileOptions{})

	result, err := ct.Render(map[string]any{"items": []any{1.0, 2.0, 3.0}}, renderer.Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if result.Stats.TotalIterations != 3 {
		t.Errorf("expected 3 iterations, got %d", result.Stats.TotalIterations)
	}
	if result.Stats.ComponentInstances != 3 {
		t.Errorf("expected 3 component instances, got %d", result.Stats.ComponentInstances)
	}
	if result.RenderedAt.IsZero() {
		t.Errorf("expected a render timestamp")
	}
}

func TestMetadata(t *testing.T) {
	source := `<template:Card title!>${title}</template:Card>` +
		`${$.site.name}${upper(user.name)}${items[0]}<Card title="x"/>`
	ct := Compile(source, CompileOptions{})

	if got := ct.Metadata.SortedGlobals(); len(got) != 1 || got[0] != "site" {
		t.Errorf("globals: got %v", got)
	}
	if got := ct.Metadata.SortedHelpers(); len(got) != 1 || got[0] != "upper" {
		t.Errorf("helpers: got %v", got)
	}
	if got := ct.Metadata.SortedComponents(); len(got) != 1 || got[0] != "Card" {
		t.Errorf("components: got %v", got)
	}

	paths := ct.Metadata.SortedDataPaths()
	joined := strings.Join(paths, ";")
	if !strings.Contains(joined, "user.name") || !strings.Contains(joined, "items[0]") {
		t.Errorf("data paths: got %v", paths)
	}
}

// Loop variables and let bindings are locals, not data paths.
func TestMetadataExcludesBoundNames(t *testing.T) {
	source := `@for(item, i of $items){${item}${i}}@@ { let x = 1; }${x}`
	ct := Compile(source, CompileOptions{})

	for _, p := range ct.Metadata.SortedDataPaths() {
		if p == "item" || p == "i" || p == "x" {
			t.Errorf("bound name %q leaked into data paths", p)
		}
	}
	if !ct.Metadata.DataPaths["items"] {
		t.Errorf("expected items in data paths, got %v", ct.Metadata.SortedDataPaths())
	}
}

func TestScopeMapVisibleAt(t *testing.T) {
	source := `<h1>t</h1>@for(item, i of $items){<li>${item}</li>}`
	ct := Compile(source, CompileOptions{})

	bodyOffset := strings.Index(source, "${item}")
	names := ct.ScopeMap.VisibleAt(bodyOffset)
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "item") || !strings.Contains(joined, "i") {
		t.Errorf("expected loop bindings visible at %d, got %v", bodyOffset, names)
	}

	if names := ct.ScopeMap.VisibleAt(0); len(names) != 0 {
		t.Errorf("expected nothing visible before the loop, got %v", names)
	}
}

func TestScopeMapLetTail(t *testing.T) {
	source := `before @@ { let x = 1; } after ${x}`
	ct := Compile(source, CompileOptions{})

	tail := strings.Index(source, "${x}")
	if names := ct.ScopeMap.VisibleAt(tail); len(names) != 1 || names[0] != "x" {
		t.Errorf("expected [x] at the tail, got %v", names)
	}
	if names := ct.ScopeMap.VisibleAt(0); len(names) != 0 {
		t.Errorf("expected nothing before the let, got %v", names)
	}
}

// Strict mode flags only component bodies: their data tier is the declared
// props, which is statically known.
func TestStrictMode(t *testing.T) {
	source := `<template:Card title!>${title}${typo}</template:Card>${toplevel}`
	ct := Compile(source, CompileOptions{Strict: true})

	var hints []cherrors.Diagnostic
	for _, d := range ct.Diagnostics {
		if d.Severity == cherrors.SeverityHint {
			hints = append(hints, d)
		}
	}
	if len(hints) != 1 {
		t.Fatalf("expected exactly one hint, got %v", hints)
	}
	if !strings.Contains(hints[0].Message, "'typo'") {
		t.Errorf("unexpected hint %q", hints[0].Message)
	}
}

func TestValidateMissingRequiredProp(t *testing.T) {
	source := `<template:Card title!>x</template:Card><Card/>`
	ct := Compile(source, CompileOptions{Validate: true})
	if !ct.HasErrors() {
		t.Fatalf("expected a validation error, got %v", ct.Diagnostics)
	}
	found := false
	for _, d := range ct.Diagnostics {
		if strings.Contains(d.Message, "missing required prop 'title'") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-prop diagnostic, got %v", ct.Diagnostics)
	}
}

func TestValidateUnknownComponent(t *testing.T) {
	ct := Compile("<Nope/>", CompileOptions{Validate: true})
	found := false
	for _, d := range ct.Diagnostics {
		if strings.Contains(d.Message, "unknown component 'Nope'") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unknown-component diagnostic, got %v", ct.Diagnostics)
	}
}

// Without Validate, unknown components are a render-time concern only.
func TestValidateOffIsSilent(t *testing.T) {
	ct := Compile("<Nope/>", CompileOptions{})
	if len(ct.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", ct.Diagnostics)
	}
}

func TestComponentLoader(t *testing.T) {
	libSource := `<template:Button label!><button>${label}</button></template:Button>`
	lib := Compile(libSource, CompileOptions{})
	loader := func(name string) (*ast.ComponentDefinition, bool) {
		def, ok := lib.Root.Components[name]
		return def, ok
	}

	ct := Compile(`<Button label="Go"/>`, CompileOptions{Validate: true, Loader: loader})
	if ct.HasErrors() {
		t.Fatalf("loader-resolved component should validate, got %v", ct.Diagnostics)
	}

	result, err := ct.Render(nil, renderer.Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if result.HTML != "<button>Go</button>" {
		t.Errorf("got %q", result.HTML)
	}
}

func TestSourceMap(t *testing.T) {
	source := `<div>${x}</div>@if(a){y}`
	ct := Compile(source, CompileOptions{SourceMap: true})

	if len(ct.SourceMap) == 0 {
		t.Fatalf("expected source mappings")
	}
	kinds := map[string]bool{}
	for _, m := range ct.SourceMap {
		kinds[m.Kind] = true
		if m.Start < 0 || m.End > len(source) || m.End < m.Start {
			t.Errorf("mapping %s has bad span %d..%d", m.Kind, m.Start, m.End)
		}
	}
	for _, want := range []string{"element", "text", "if"} {
		if !kinds[want] {
			t.Errorf("expected a %q mapping, got %v", want, kinds)
		}
	}

	if ct2 := Compile(source, CompileOptions{}); ct2.SourceMap != nil {
		t.Errorf("source map must be opt-in")
	}
}

func TestParserLimitsPassThrough(t *testing.T) {
	deep := strings.Repeat("(", 8) + "1" + strings.Repeat(")", 8)
	ct := Compile("${"+deep+"}", CompileOptions{MaxExprDepth: 3})
	if !ct.HasErrors() {
		t.Fatalf("expected a depth diagnostic, got %v", ct.Diagnostics)
	}
}

func TestDiagnosticsKeepParseOrder(t *testing.T) {
	source := "<div>\n<span>\n"
	ct := Compile(source, CompileOptions{})
	if len(ct.Diagnostics) < 2 {
		t.Fatalf("expected diagnostics for both unclosed tags, got %v", ct.Diagnostics)
	}
}
