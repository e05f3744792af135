// Package renderer walks a compiled template AST and produces HTML. Every
// walk is bounded: loop nesting, per-loop iterations, total iterations and
// component depth are all counted against configurable ceilings, and a
// violation aborts the render with a typed limit error instead of hanging
// or emitting partial output.
package renderer

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/evaluator"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// Default resource ceilings.
const (
	DefaultLoopNesting       = 5
	DefaultIterationsPerLoop = 1000
	DefaultTotalIterations   = 10000
	DefaultComponentDepth    = 10
)

// Limits configures the render-time resource ceilings.
type Limits struct {
	LoopNesting       int
	IterationsPerLoop int
	TotalIterations   int
	ComponentDepth    int
}

func (l Limits) withDefaults() Limits {
	if l.LoopNesting <= 0 {
		l.LoopNesting = DefaultLoopNesting
	}
	if l.IterationsPerLoop <= 0 {
		l.IterationsPerLoop = DefaultIterationsPerLoop
	}
	if l.TotalIterations <= 0 {
		l.TotalIterations = DefaultTotalIterations
	}
	if l.ComponentDepth <= 0 {
		l.ComponentDepth = DefaultComponentDepth
	}
	return l
}

// Options configures a render. The zero value is usable: escaping on,
// comments off, whitespace collapsed, default limits and helpers.
type Options struct {
	DisableEscaping    bool
	IncludeComments    bool
	PreserveWhitespace bool

	// TrackPrefix, when non-empty, injects per-element source position
	// attributes ("<prefix>-line", "<prefix>-col") into rendered markup.
	// It must match trackPrefixPattern; anything else is a fatal
	// configuration error.
	TrackPrefix string

	Globals map[string]any
	Helpers evaluator.HelperTable
	Limits  Limits
	Eval    evaluator.Limits

	// Warn receives soft-failure messages (coercion warnings, helper
	// warnings). Nil collects them into the Warnings result only.
	Warn func(string)
}

var trackPrefixPattern = regexp.MustCompile(`^[A-Za-z_][\w-]*$`)

// Renderer holds the per-render state: output buffer, evaluator, resource
// counters and the slot-content stack. A Renderer is used for exactly one
// render and is not safe for concurrent use; concurrent renders each build
// their own.
type Renderer struct {
	out        strings.Builder
	eval       *evaluator.Evaluator
	components map[string]*ast.ComponentDefinition
	opts       Options
	limits     Limits
	warnings   []string

	loopDepth          int
	totalIterations    int
	componentDepth     int
	componentInstances int

	// slotStack holds caller-supplied slot content during component body
	// rendering. Slot content renders in the scope it was written in, so
	// each frame carries the caller's scope.
	slotStack []slotFrame

	// preserve tracks whether the current subtree keeps whitespace
	// verbatim (inside fragments, or globally via options).
	preserve bool
}

type slotFrame struct {
	content map[string][]ast.TemplateNode
	scope   *evaluator.Scope
}

// Stats summarizes one render's resource usage.
type Stats struct {
	TotalIterations    int
	ComponentInstances int
	Elapsed            time.Duration
}

// Render walks root against data and returns the HTML plus accumulated
// warnings. On any fatal error the HTML result is empty: a render either
// fully succeeds or fails atomically.
func Render(root *ast.Root, data map[string]any, opts Options) (string, []string, error) {
	out, _, warnings, err := RenderWithStats(root, data, opts)
	return out, warnings, err
}

// RenderWithStats is Render plus resource-usage accounting.
func RenderWithStats(root *ast.Root, data map[string]any, opts Options) (string, Stats, []string, error) {
	started := time.Now()
	r, err := newRenderer(root, opts)
	if err != nil {
		return "", Stats{}, nil, err
	}

	helpers := opts.Helpers
	if helpers == nil {
		helpers = evaluator.DefaultHelpers()
	}
	r.eval = evaluator.New(helpers, r.warn, opts.Eval)

	scope := evaluator.NewScopeFromGo(data, opts.Globals)
	renderErr := r.renderNodes(root.Children, scope)
	stats := Stats{
		TotalIterations:    r.totalIterations,
		ComponentInstances: r.componentInstances,
		Elapsed:            time.Since(started),
	}
	if renderErr != nil {
		return "", stats, r.warnings, renderErr
	}
	return r.out.String(), stats, r.warnings, nil
}

func newRenderer(root *ast.Root, opts Options) (*Renderer, error) {
	if opts.TrackPrefix != "" && !trackPrefixPattern.MatchString(opts.TrackPrefix) {
		return nil, cherrors.New("CONFIG-0001", map[string]any{"Prefix": opts.TrackPrefix})
	}
	components := root.Components
	if components == nil {
		components = map[string]*ast.ComponentDefinition{}
	}
	return &Renderer{
		components: components,
		opts:       opts,
		limits:     opts.Limits.withDefaults(),
		preserve:   opts.PreserveWhitespace,
	}, nil
}

func (r *Renderer) warn(msg string) {
	r.warnings = append(r.warnings, msg)
	if r.opts.Warn != nil {
		r.opts.Warn(msg)
	}
}

// renderNodes walks a sibling list. A Let node extends the scope for the
// remaining siblings rather than producing output.
func (r *Renderer) renderNodes(nodes []ast.TemplateNode, scope *evaluator.Scope) error {
	for _, node := range nodes {
		if let, ok := node.(*ast.Let); ok {
			extended, err := r.applyLet(let, scope)
			if err != nil {
				return err
			}
			scope = extended
			continue
		}
		if err := r.renderNode(node, scope); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderNode(node ast.TemplateNode, scope *evaluator.Scope) error {
	switch n := node.(type) {
	case *ast.Text:
		return r.renderText(n, scope)
	case *ast.Element:
		return r.renderElement(n, scope)
	case *ast.If:
		return r.renderIf(n, scope)
	case *ast.For:
		return r.renderFor(n, scope)
	case *ast.Match:
		return r.renderMatch(n, scope)
	case *ast.Component:
		return r.renderComponent(n, scope)
	case *ast.Slot:
		return r.renderSlot(n, scope)
	case *ast.Fragment:
		return r.renderFragment(n, scope)
	case *ast.Comment:
		if n.Style == ast.CommentMarkup && r.opts.IncludeComments {
			r.out.WriteString("<!--" + n.Text + "-->")
		}
		return nil
	case *ast.ComponentDefinition:
		// Definitions live in the component table; their occurrence in
		// the node list produces no output.
		return nil
	case *ast.Let:
		// A Let reaching here has no following siblings to extend.
		_, err := r.applyLet(n, scope)
		return err
	default:
		return nil
	}
}

// ----------------------------------------------------------------------------
// Text
// ----------------------------------------------------------------------------

func (r *Renderer) renderText(node *ast.Text, scope *evaluator.Scope) error {
	for _, seg := range node.Segments {
		if seg.Expr == nil {
			r.out.WriteString(r.literalText(seg.Literal))
			continue
		}
		val := r.eval.Eval(seg.Expr, scope)
		if err := asRenderError(val, seg.Expr); err != nil {
			return err
		}
		text := evaluator.ToDisplayString(val)
		if !r.opts.DisableEscaping {
			text = html.EscapeString(text)
		}
		r.out.WriteString(text)
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`[ \t\r\n]+`)

// literalText collapses whitespace runs unless the current subtree
// preserves whitespace.
func (r *Renderer) literalText(s string) string {
	if r.preserve {
		return s
	}
	collapsed := whitespaceRun.ReplaceAllString(s, " ")
	if strings.TrimSpace(collapsed) == "" {
		return ""
	}
	return collapsed
}

// ----------------------------------------------------------------------------
// Elements and attributes
// ----------------------------------------------------------------------------

func (r *Renderer) renderElement(node *ast.Element, scope *evaluator.Scope) error {
	r.out.WriteString("<" + node.Name)
	for _, attr := range node.Attributes {
		if err := r.renderAttribute(attr, scope); err != nil {
			return err
		}
	}
	if r.opts.TrackPrefix != "" {
		pos := node.Pos()
		r.out.WriteString(" " + r.opts.TrackPrefix + `-line="` + strconv.Itoa(pos.Line) + `"`)
		r.out.WriteString(" " + r.opts.TrackPrefix + `-col="` + strconv.Itoa(pos.Column) + `"`)
	}

	if ast.IsVoidTag(node.Name) {
		r.out.WriteString("/>")
		return nil
	}
	r.out.WriteString(">")
	if err := r.renderNodes(node.Children, scope); err != nil {
		return err
	}
	r.out.WriteString("</" + node.Name + ">")
	return nil
}

func (r *Renderer) renderAttribute(attr *ast.Attribute, scope *evaluator.Scope) error {
	switch attr.Kind {
	case ast.AttrStatic:
		if attr.Value == "" {
			r.out.WriteString(" " + attr.Name)
		} else {
			r.out.WriteString(" " + attr.Name + `="` + html.EscapeString(attr.Value) + `"`)
		}
		return nil

	case ast.AttrExpr:
		val := r.eval.Eval(attr.Expr, scope)
		if err := asRenderError(val, attr.Expr); err != nil {
			return err
		}
		r.writeDynamicAttribute(attr.Name, val)
		return nil

	default: // AttrMixed
		var sb strings.Builder
		for _, part := range attr.Parts {
			if part.Expr == nil {
				sb.WriteString(part.Literal)
				continue
			}
			val := r.eval.Eval(part.Expr, scope)
			if err := asRenderError(val, part.Expr); err != nil {
				return err
			}
			sb.WriteString(evaluator.ToDisplayString(val))
		}
		r.out.WriteString(" " + attr.Name + `="` + html.EscapeString(sb.String()) + `"`)
		return nil
	}
}

// writeDynamicAttribute applies the boolean attribute rules: true renders
// the bare name, false and null omit the attribute, anything else renders
// name="escaped-value".
func (r *Renderer) writeDynamicAttribute(name string, val evaluator.Object) {
	switch v := val.(type) {
	case *evaluator.Boolean:
		if v.Value {
			r.out.WriteString(" " + name)
		}
	case *evaluator.Null:
		// omitted
	default:
		r.out.WriteString(" " + name + `="` + html.EscapeString(evaluator.ToDisplayString(val)) + `"`)
	}
}

// ----------------------------------------------------------------------------
// Control flow
// ----------------------------------------------------------------------------

func (r *Renderer) renderIf(node *ast.If, scope *evaluator.Scope) error {
	for _, branch := range node.Branches {
		cond := r.eval.Eval(branch.Condition, scope)
		if err := asRenderError(cond, branch.Condition); err != nil {
			return err
		}
		if evaluator.IsTruthy(cond) {
			return r.renderNodes(branch.Body, scope)
		}
	}
	if node.Else != nil {
		return r.renderNodes(node.Else, scope)
	}
	return nil
}

func (r *Renderer) renderFor(node *ast.For, scope *evaluator.Scope) error {
	source := r.eval.Eval(node.Source, scope)
	if err := asRenderError(source, node.Source); err != nil {
		return err
	}

	r.loopDepth++
	defer func() { r.loopDepth-- }()
	if r.loopDepth > r.limits.LoopNesting {
		return limitError(node.Pos(), "LIMIT-0004", "LoopNesting", r.loopDepth, r.limits.LoopNesting)
	}

	iterate := func(item, index evaluator.Object, iteration int) error {
		if iteration >= r.limits.IterationsPerLoop {
			return limitError(node.Pos(), "LIMIT-0002", "IterationsPerLoop", iteration+1, r.limits.IterationsPerLoop)
		}
		r.totalIterations++
		if r.totalIterations > r.limits.TotalIterations {
			return limitError(node.Pos(), "LIMIT-0003", "TotalIterations", r.totalIterations, r.limits.TotalIterations)
		}
		bindings := map[string]evaluator.Object{node.Item: item}
		if node.Index != "" {
			bindings[node.Index] = index
		}
		return r.renderNodes(node.Body, scope.WithLocals(bindings))
	}

	switch src := source.(type) {
	case *evaluator.Array:
		for i, el := range src.Elements {
			item, index := el, evaluator.Object(&evaluator.Number{Value: float64(i)})
			if node.Kind == ast.ForIn {
				item, index = index, item
			}
			if err := iterate(item, index, i); err != nil {
				return err
			}
		}
		return nil

	case *evaluator.Dictionary:
		for i, key := range src.Keys() {
			item, index := evaluator.Object(src.Pairs[key]), evaluator.Object(&evaluator.String{Value: key})
			if node.Kind == ast.ForIn {
				item, index = index, item
			}
			if err := iterate(item, index, i); err != nil {
				return err
			}
		}
		return nil

	case *evaluator.Null:
		// An absent source iterates zero times.
		return nil

	default:
		return typedError(node.Source.Pos(), "TYPE-0003", map[string]any{"Got": string(source.Type())})
	}
}

func (r *Renderer) renderMatch(node *ast.Match, scope *evaluator.Scope) error {
	subject := r.eval.Eval(node.Subject, scope)
	if err := asRenderError(subject, node.Subject); err != nil {
		return err
	}

	for _, c := range node.Cases {
		if c.Predicate != nil {
			predScope := scope.WithLocal("_", subject)
			result := r.eval.Eval(c.Predicate, predScope)
			if err := asRenderError(result, c.Predicate); err != nil {
				return err
			}
			if evaluator.IsTruthy(result) {
				return r.renderNodes(c.Body, scope)
			}
			continue
		}
		for _, valueExpr := range c.Values {
			val := r.eval.Eval(valueExpr, scope)
			if err := asRenderError(val, valueExpr); err != nil {
				return err
			}
			if evaluator.ObjectsEqual(subject, val) {
				return r.renderNodes(c.Body, scope)
			}
		}
	}

	if node.Default != nil {
		return r.renderNodes(node.Default, scope)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Components and slots
// ----------------------------------------------------------------------------

func (r *Renderer) renderComponent(node *ast.Component, scope *evaluator.Scope) error {
	def, ok := r.components[node.Name]
	if !ok {
		return typedError(node.Pos(), "COMP-0001", map[string]any{"Name": node.Name})
	}

	r.componentInstances++
	r.componentDepth++
	defer func() { r.componentDepth-- }()
	if r.componentDepth > r.limits.ComponentDepth {
		return limitError(node.Pos(), "LIMIT-0005", "ComponentDepth", r.componentDepth, r.limits.ComponentDepth)
	}

	// Props evaluate in the caller's scope.
	props := make(map[string]evaluator.Object, len(node.Props))
	for _, prop := range node.Props {
		val := r.eval.Eval(prop.Expr, scope)
		if err := asRenderError(val, prop.Expr); err != nil {
			return err
		}
		props[prop.Name] = val
	}

	// Declared props fill in defaults; missing required props are fatal.
	for _, decl := range def.Props {
		if _, present := props[decl.Name]; present {
			continue
		}
		if decl.Required {
			return typedError(node.Pos(), "COMP-0002", map[string]any{
				"Name": node.Name,
				"Prop": decl.Name,
			})
		}
		if decl.Default != nil {
			val := r.eval.Eval(decl.Default, scope)
			if err := asRenderError(val, decl.Default); err != nil {
				return err
			}
			props[decl.Name] = val
		} else {
			props[decl.Name] = evaluator.NULL
		}
	}

	r.slotStack = append(r.slotStack, slotFrame{
		content: splitSlotContent(node.Children),
		scope:   scope,
	})
	defer func() { r.slotStack = r.slotStack[:len(r.slotStack)-1] }()

	// The body sees exactly the resolved props as its data tier: no
	// implicit access to caller locals or data.
	return r.renderNodes(def.Body, scope.WithData(props))
}

// splitSlotContent partitions call-site children by target slot. A child
// element carrying a static slot="name" attribute feeds that named slot;
// everything else feeds the default slot.
func splitSlotContent(children []ast.TemplateNode) map[string][]ast.TemplateNode {
	content := map[string][]ast.TemplateNode{}
	for _, child := range children {
		name := ""
		if el, ok := child.(*ast.Element); ok {
			for _, attr := range el.Attributes {
				if attr.Name == "slot" && attr.Kind == ast.AttrStatic {
					name = attr.Value
					break
				}
			}
		}
		content[name] = append(content[name], child)
	}
	return content
}

// hasSlotContent reports whether the caller actually supplied content for a
// slot. Whitespace-only text between call-site children does not count, so
// it never suppresses a declared fallback.
func hasSlotContent(nodes []ast.TemplateNode) bool {
	for _, node := range nodes {
		text, ok := node.(*ast.Text)
		if !ok {
			return true
		}
		for _, seg := range text.Segments {
			if seg.Expr != nil || strings.TrimSpace(seg.Literal) != "" {
				return true
			}
		}
	}
	return false
}

func (r *Renderer) renderSlot(node *ast.Slot, scope *evaluator.Scope) error {
	if len(r.slotStack) > 0 {
		frame := r.slotStack[len(r.slotStack)-1]
		if nodes := frame.content[node.Name]; hasSlotContent(nodes) {
			// Caller content renders in the caller's scope, with the
			// caller's slot frame visible rather than this one.
			saved := r.slotStack
			r.slotStack = r.slotStack[:len(r.slotStack)-1]
			err := r.renderSlotContent(nodes, frame.scope)
			r.slotStack = saved
			return err
		}
	}
	if node.Fallback != nil {
		return r.renderNodes(node.Fallback, scope)
	}
	return nil
}

// renderSlotContent renders caller-provided nodes, stripping the slot
// marker attribute from named-slot elements.
func (r *Renderer) renderSlotContent(nodes []ast.TemplateNode, scope *evaluator.Scope) error {
	for _, node := range nodes {
		el, ok := node.(*ast.Element)
		if !ok {
			if err := r.renderNode(node, scope); err != nil {
				return err
			}
			continue
		}
		stripped := *el
		stripped.Attributes = nil
		for _, attr := range el.Attributes {
			if attr.Name == "slot" && attr.Kind == ast.AttrStatic {
				continue
			}
			stripped.Attributes = append(stripped.Attributes, attr)
		}
		if err := r.renderElement(&stripped, scope); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Fragments and let
// ----------------------------------------------------------------------------

func (r *Renderer) renderFragment(node *ast.Fragment, scope *evaluator.Scope) error {
	if node.Preserve {
		saved := r.preserve
		r.preserve = true
		defer func() { r.preserve = saved }()
	}
	return r.renderNodes(node.Children, scope)
}

func (r *Renderer) applyLet(node *ast.Let, scope *evaluator.Scope) (*evaluator.Scope, error) {
	val := r.eval.Eval(node.Value, scope)
	if err := asRenderError(val, node.Value); err != nil {
		return nil, err
	}
	if node.Global {
		return scope.WithGlobal(node.Name, val), nil
	}
	return scope.WithLocal(node.Name, val), nil
}

// ----------------------------------------------------------------------------
// Error plumbing
// ----------------------------------------------------------------------------

// asRenderError converts an evaluator Error value into a TemplateError,
// attaching the expression's position when the error has none.
func asRenderError(val evaluator.Object, expr ast.Expression) error {
	errObj, ok := val.(*evaluator.Error)
	if !ok {
		return nil
	}
	te := errObj.ToTemplateError()
	if te.Line == 0 && expr != nil {
		pos := expr.Pos()
		te.Line = pos.Line
		te.Column = pos.Column
	}
	return te
}

func typedError(pos lexer.Position, code string, data map[string]any) error {
	return cherrors.NewWithPosition(code, pos.Line, pos.Column, data)
}

func limitError(pos lexer.Position, code, limit string, value, max int) error {
	te := cherrors.NewWithPosition(code, pos.Line, pos.Column, map[string]any{
		"Limit": limit,
		"Value": value,
		"Max":   max,
	})
	te.Limit = limit
	te.Value = value
	te.Max = max
	return te
}
