// Package template is the public surface of the Chervil template language:
// Compile turns source text into a CompiledTemplate (AST + diagnostics +
// metadata + scope map), and CompiledTemplate.Render produces HTML.
//
// Compile never fails: malformed input yields a partial tree plus
// diagnostics, so editor tooling always has something to show. Render
// either fully succeeds or fails atomically with a typed error.
package template

import (
	"sort"
	"time"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/parser"
	"github.com/sambeau/chervil/pkg/chervil/renderer"
)

// ComponentLoader resolves component names that are not defined in the
// compiled source, e.g. from other files in a project. Returning false
// means the name is unknown.
type ComponentLoader func(name string) (*ast.ComponentDefinition, bool)

// CompileOptions configures compilation. The zero value uses default
// limits with strictness, validation and source maps off.
type CompileOptions struct {
	MaxExprDepth       int
	MaxInfixIterations int
	MaxParseCalls      int
	MaxParseDepth      int

	// Strict reports likely-undefined variable usage as hints. Only
	// component bodies are checked: their data tier is statically known
	// (the declared props), while top-level data is only known at render
	// time.
	Strict bool

	// Validate reports missing required props and unknown component
	// names at compile time instead of render time.
	Validate bool

	// Loader resolves component names not defined in the source.
	Loader ComponentLoader

	// SourceMap records a node-kind/source-span table on the compiled
	// template.
	SourceMap bool
}

// Metadata accumulates what a template references, populated in a single
// traversal at compile time and read-only afterward.
type Metadata struct {
	Globals    map[string]bool // global names referenced via $.name
	DataPaths  map[string]bool // data paths accessed (source spelling)
	Helpers    map[string]bool // helper names called
	Components map[string]bool // component names instantiated
}

func newMetadata() *Metadata {
	return &Metadata{
		Globals:    map[string]bool{},
		DataPaths:  map[string]bool{},
		Helpers:    map[string]bool{},
		Components: map[string]bool{},
	}
}

// SortedGlobals returns the referenced global names in sorted order.
func (m *Metadata) SortedGlobals() []string { return sortedKeys(m.Globals) }

// SortedDataPaths returns the accessed data paths in sorted order.
func (m *Metadata) SortedDataPaths() []string { return sortedKeys(m.DataPaths) }

// SortedHelpers returns the called helper names in sorted order.
func (m *Metadata) SortedHelpers() []string { return sortedKeys(m.Helpers) }

// SortedComponents returns the instantiated component names in sorted order.
func (m *Metadata) SortedComponents() []string { return sortedKeys(m.Components) }

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScopeRegion is one byte-offset range with the variable names visible in
// it. Regions nest; VisibleAt unions every region containing an offset.
type ScopeRegion struct {
	Start int
	End   int
	Names []string
}

// ScopeMap maps source offsets to the variables visible there, a byproduct
// of compilation consumed by editor tooling.
type ScopeMap struct {
	Regions []ScopeRegion
}

// VisibleAt returns the sorted set of variable names visible at offset.
func (sm *ScopeMap) VisibleAt(offset int) []string {
	set := map[string]bool{}
	for _, region := range sm.Regions {
		if offset >= region.Start && offset < region.End {
			for _, n := range region.Names {
				set[n] = true
			}
		}
	}
	return sortedKeys(set)
}

// SourceMapping records where one AST node came from.
type SourceMapping struct {
	Kind  string
	Start int
	End   int
}

// CompiledTemplate is the result of Compile: a (possibly partial) tree,
// ordered diagnostics, reference metadata and the scope map. Safe for
// concurrent Render calls; nothing here is mutated after Compile returns.
type CompiledTemplate struct {
	Root        *ast.Root
	Diagnostics []cherrors.Diagnostic
	Metadata    *Metadata
	ScopeMap    *ScopeMap
	SourceMap   []SourceMapping
}

// HasErrors reports whether any diagnostic has error severity.
func (t *CompiledTemplate) HasErrors() bool {
	for _, d := range t.Diagnostics {
		if d.Severity == cherrors.SeverityError {
			return true
		}
	}
	return false
}

// RenderResult is the output of a successful render.
type RenderResult struct {
	HTML       string
	Metadata   *Metadata
	Warnings   []string
	Stats      renderer.Stats
	RenderedAt time.Time
}

// Compile parses source into a CompiledTemplate. It always returns a
// template, with diagnostics describing anything that went wrong.
func Compile(source string, opts CompileOptions) *CompiledTemplate {
	root, diags := parser.ParseTemplate(source, parser.Options{
		MaxExprDepth:       opts.MaxExprDepth,
		MaxInfixIterations: opts.MaxInfixIterations,
		MaxParseCalls:      opts.MaxParseCalls,
		MaxParseDepth:      opts.MaxParseDepth,
	})

	a := &analyzer{
		meta:       newMetadata(),
		scopeMap:   &ScopeMap{},
		opts:       opts,
		components: root.Components,
	}
	a.resolveExternalComponents(root)
	a.walkNodes(root.Children, map[string]bool{}, spanOf(root))
	for _, def := range root.Components {
		bound := map[string]bool{}
		for _, p := range def.Props {
			bound[p.Name] = true
		}
		a.inComponent++
		a.walkNodes(def.Body, bound, spanOf(def))
		a.inComponent--
	}

	ct := &CompiledTemplate{
		Root:        root,
		Diagnostics: append(diags, a.diags...),
		Metadata:    a.meta,
		ScopeMap:    a.scopeMap,
	}
	if opts.SourceMap {
		ct.SourceMap = buildSourceMap(root)
	}
	return ct
}

// Render executes the compiled template against data.
func (t *CompiledTemplate) Render(data map[string]any, opts renderer.Options) (*RenderResult, error) {
	html, stats, warnings, err := renderer.RenderWithStats(t.Root, data, opts)
	if err != nil {
		return nil, err
	}
	return &RenderResult{
		HTML:       html,
		Metadata:   t.Metadata,
		Warnings:   warnings,
		Stats:      stats,
		RenderedAt: time.Now(),
	}, nil
}

// ----------------------------------------------------------------------------
// Compile-time analysis
// ----------------------------------------------------------------------------

type analyzer struct {
	meta        *Metadata
	scopeMap    *ScopeMap
	diags       []cherrors.Diagnostic
	opts        CompileOptions
	components  map[string]*ast.ComponentDefinition
	inComponent int
}

func (a *analyzer) addDiag(msg string, sev cherrors.Severity, node ast.Node) {
	a.diags = append(a.diags, cherrors.Diagnostic{
		Message:  msg,
		Severity: sev,
		Start:    node.Pos(),
		End:      node.End(),
	})
}

// resolveExternalComponents fills the component table for instances whose
// definitions come from the loader hook.
func (a *analyzer) resolveExternalComponents(root *ast.Root) {
	if a.opts.Loader == nil {
		return
	}
	var resolve func(nodes []ast.TemplateNode)
	resolve = func(nodes []ast.TemplateNode) {
		for _, node := range nodes {
			switch n := node.(type) {
			case *ast.Component:
				if _, ok := a.components[n.Name]; !ok {
					if def, ok := a.opts.Loader(n.Name); ok {
						a.components[n.Name] = def
					}
				}
				resolve(n.Children)
			case *ast.Element:
				resolve(n.Children)
			case *ast.Fragment:
				resolve(n.Children)
			case *ast.If:
				for _, br := range n.Branches {
					resolve(br.Body)
				}
				resolve(n.Else)
			case *ast.For:
				resolve(n.Body)
			case *ast.Match:
				for _, c := range n.Cases {
					resolve(c.Body)
				}
				resolve(n.Default)
			case *ast.Slot:
				resolve(n.Fallback)
			}
		}
	}
	resolve(root.Children)
	for _, def := range root.Components {
		resolve(def.Body)
	}
}

// walkNodes analyzes a sibling list: collects metadata, builds the scope
// map, and emits strict/validate diagnostics. bound is the set of local
// names visible at entry; region is the source range the bindings cover.
func (a *analyzer) walkNodes(nodes []ast.TemplateNode, bound map[string]bool, region ScopeRegion) {
	if len(bound) > 0 {
		region.Names = sortedKeys(bound)
		a.scopeMap.Regions = append(a.scopeMap.Regions, region)
	}

	for _, node := range nodes {
		switch n := node.(type) {
		case *ast.Text:
			for _, seg := range n.Segments {
				a.walkExpr(seg.Expr, bound, n)
			}

		case *ast.Element:
			a.walkAttributes(n.Attributes, bound, n)
			a.walkNodes(n.Children, bound, spanOf(n))

		case *ast.Fragment:
			a.walkNodes(n.Children, bound, spanOf(n))

		case *ast.If:
			for _, br := range n.Branches {
				a.walkExpr(br.Condition, bound, n)
				a.walkNodes(br.Body, bound, spanOf(n))
			}
			a.walkNodes(n.Else, bound, spanOf(n))

		case *ast.For:
			a.walkExpr(n.Source, bound, n)
			inner := copyBound(bound)
			inner[n.Item] = true
			if n.Index != "" {
				inner[n.Index] = true
			}
			a.walkNodes(n.Body, inner, spanOf(n))

		case *ast.Match:
			a.walkExpr(n.Subject, bound, n)
			for _, c := range n.Cases {
				if c.Predicate != nil {
					inner := copyBound(bound)
					inner["_"] = true
					a.walkExpr(c.Predicate, inner, n)
				}
				for _, v := range c.Values {
					a.walkExpr(v, bound, n)
				}
				a.walkNodes(c.Body, bound, spanOf(n))
			}
			a.walkNodes(n.Default, bound, spanOf(n))

		case *ast.Let:
			a.walkExpr(n.Value, bound, n)
			if !n.Global {
				// The binding covers the remaining siblings.
				tail := copyBound(bound)
				tail[n.Name] = true
				bound = tail
				a.scopeMap.Regions = append(a.scopeMap.Regions, ScopeRegion{
					Start: n.Pos().Offset,
					End:   region.End,
					Names: []string{n.Name},
				})
			}

		case *ast.Component:
			a.meta.Components[n.Name] = true
			for _, prop := range n.Props {
				a.walkExpr(prop.Expr, bound, n)
			}
			a.validateComponent(n)
			a.walkNodes(n.Children, bound, spanOf(n))

		case *ast.Slot:
			a.walkNodes(n.Fallback, bound, spanOf(n))
		}
	}
}

func (a *analyzer) walkAttributes(attrs []*ast.Attribute, bound map[string]bool, node ast.Node) {
	for _, attr := range attrs {
		a.walkExpr(attr.Expr, bound, node)
		for _, part := range attr.Parts {
			a.walkExpr(part.Expr, bound, node)
		}
	}
}

// walkExpr collects globals/data-paths/helpers from one expression and,
// in strict mode inside a component body, reports heads that are neither
// locally bound nor declared props.
func (a *analyzer) walkExpr(expr ast.Expression, bound map[string]bool, node ast.Node) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *ast.Path:
		if e.Global {
			if head := e.Head(); head != "" {
				a.meta.Globals[head] = true
			}
			return
		}
		head := e.Head()
		if head == "" {
			return
		}
		if !bound[head] {
			a.meta.DataPaths[e.String()] = true
			if a.opts.Strict && a.inComponent > 0 {
				a.addDiag("'"+head+"' is not a declared prop or local binding", cherrors.SeverityHint, node)
			}
		}

	case *ast.ArrayWildcard:
		a.walkExpr(e.Path, bound, node)

	case *ast.PrefixExpression:
		a.walkExpr(e.Right, bound, node)

	case *ast.InfixExpression:
		a.walkExpr(e.Left, bound, node)
		a.walkExpr(e.Right, bound, node)

	case *ast.TernaryExpression:
		a.walkExpr(e.Condition, bound, node)
		a.walkExpr(e.Truthy, bound, node)
		a.walkExpr(e.Falsy, bound, node)

	case *ast.CallExpression:
		if !bound[e.Name] {
			a.meta.Helpers[e.Name] = true
		}
		for _, arg := range e.Args {
			a.walkExpr(arg, bound, node)
		}

	case *ast.FunctionLiteral:
		inner := copyBound(bound)
		for _, p := range e.Params {
			inner[p] = true
		}
		a.walkExpr(e.Body, inner, node)
	}
}

// validateComponent checks an instance against its definition when
// validation is enabled.
func (a *analyzer) validateComponent(n *ast.Component) {
	if !a.opts.Validate {
		return
	}
	def, ok := a.components[n.Name]
	if !ok {
		a.addDiag("unknown component '"+n.Name+"'", cherrors.SeverityWarning, n)
		return
	}
	given := map[string]bool{}
	for _, prop := range n.Props {
		given[prop.Name] = true
	}
	for _, decl := range def.Props {
		if decl.Required && decl.Default == nil && !given[decl.Name] {
			a.addDiag("component '"+n.Name+"' is missing required prop '"+decl.Name+"'", cherrors.SeverityError, n)
		}
	}
}

func copyBound(bound map[string]bool) map[string]bool {
	out := make(map[string]bool, len(bound)+2)
	for k := range bound {
		out[k] = true
	}
	return out
}

func spanOf(node ast.Node) ScopeRegion {
	return ScopeRegion{Start: node.Pos().Offset, End: node.End().Offset}
}

// buildSourceMap flattens the tree into kind/span records, preorder.
func buildSourceMap(root *ast.Root) []SourceMapping {
	var out []SourceMapping
	var walk func(nodes []ast.TemplateNode)
	walk = func(nodes []ast.TemplateNode) {
		for _, node := range nodes {
			out = append(out, SourceMapping{
				Kind:  kindOf(node),
				Start: node.Pos().Offset,
				End:   node.End().Offset,
			})
			switch n := node.(type) {
			case *ast.Element:
				walk(n.Children)
			case *ast.Fragment:
				walk(n.Children)
			case *ast.If:
				for _, br := range n.Branches {
					walk(br.Body)
				}
				walk(n.Else)
			case *ast.For:
				walk(n.Body)
			case *ast.Match:
				for _, c := range n.Cases {
					walk(c.Body)
				}
				walk(n.Default)
			case *ast.Component:
				walk(n.Children)
			case *ast.Slot:
				walk(n.Fallback)
			}
		}
	}
	walk(root.Children)
	return out
}

func kindOf(node ast.TemplateNode) string {
	switch node.(type) {
	case *ast.Text:
		return "text"
	case *ast.Element:
		return "element"
	case *ast.If:
		return "if"
	case *ast.For:
		return "for"
	case *ast.Match:
		return "match"
	case *ast.Let:
		return "let"
	case *ast.Component:
		return "component"
	case *ast.ComponentDefinition:
		return "component-definition"
	case *ast.Slot:
		return "slot"
	case *ast.Fragment:
		return "fragment"
	case *ast.Comment:
		return "comment"
	default:
		return "node"
	}
}
