// Package ast defines the typed syntax tree shared by the expression
// parser, the template parser, the evaluator and the renderer.
package ast

import (
	"fmt"
	"strings"

	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// Node represents any node in the AST. Every node carries a start and end
// source position; End is never before Pos.
type Node interface {
	Pos() lexer.Position
	End() lexer.Position
	String() string
}

// Expression represents expression nodes
type Expression interface {
	Node
	expressionNode()
}

// TemplateNode represents template-level nodes (text, elements, directives)
type TemplateNode interface {
	Node
	templateNode()
}

// Span carries the source range of a node. It is embedded in every node
// struct and satisfies the position half of the Node interface.
type Span struct {
	StartPos lexer.Position
	EndPos   lexer.Position
}

func (s Span) Pos() lexer.Position { return s.StartPos }
func (s Span) End() lexer.Position { return s.EndPos }

// NewSpan builds a Span from a start and end position.
func NewSpan(start, end lexer.Position) Span {
	return Span{StartPos: start, EndPos: end}
}

// ----------------------------------------------------------------------------
// Expressions
// ----------------------------------------------------------------------------

// NullLiteral represents the null literal
type NullLiteral struct {
	Span
}

func (n *NullLiteral) expressionNode() {}
func (n *NullLiteral) String() string  { return "null" }

// BooleanLiteral represents true and false
type BooleanLiteral struct {
	Span
	Value bool
}

func (b *BooleanLiteral) expressionNode() {}
func (b *BooleanLiteral) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}

// NumberLiteral represents a numeric literal
type NumberLiteral struct {
	Span
	Value   float64
	Literal string // original spelling, kept for String()
}

func (n *NumberLiteral) expressionNode() {}
func (n *NumberLiteral) String() string  { return n.Literal }

// StringLiteral represents a quoted string literal
type StringLiteral struct {
	Span
	Value string
}

func (s *StringLiteral) expressionNode() {}
func (s *StringLiteral) String() string  { return fmt.Sprintf("%q", s.Value) }

// SegmentKind discriminates path segments
type SegmentKind int

const (
	SegKey SegmentKind = iota
	SegIndex
	SegStar
)

// PathSegment is one step of a Path: a key, an integer index, or a star
// wildcard.
type PathSegment struct {
	Kind  SegmentKind
	Key   string // for SegKey
	Index int    // for SegIndex
}

// String returns the source-like spelling of the segment
func (ps PathSegment) String() string {
	switch ps.Kind {
	case SegKey:
		return ps.Key
	case SegIndex:
		return fmt.Sprintf("[%d]", ps.Index)
	default:
		return "[*]"
	}
}

// Path addresses a value within scope data: a non-empty ordered sequence of
// key/index/star segments. Global selects the globals tier for resolution.
type Path struct {
	Span
	Segments []PathSegment
	Global   bool
}

func (p *Path) expressionNode() {}
func (p *Path) String() string {
	var out strings.Builder
	if p.Global {
		out.WriteString("$.")
	}
	for i, seg := range p.Segments {
		if i > 0 && seg.Kind == SegKey {
			out.WriteString(".")
		}
		out.WriteString(seg.String())
	}
	return out.String()
}

// HasStar reports whether any segment is a wildcard
func (p *Path) HasStar() bool {
	for _, seg := range p.Segments {
		if seg.Kind == SegStar {
			return true
		}
	}
	return false
}

// Head returns the name of the first key segment, or "" if the path does
// not start with a key.
func (p *Path) Head() string {
	if len(p.Segments) > 0 && p.Segments[0].Kind == SegKey {
		return p.Segments[0].Key
	}
	return ""
}

// ArrayWildcard wraps a Path containing at least one star segment and marks
// "flatten across this axis".
type ArrayWildcard struct {
	Span
	Path *Path
}

func (a *ArrayWildcard) expressionNode() {}
func (a *ArrayWildcard) String() string  { return a.Path.String() }

// PrefixExpression represents !expr and -expr
type PrefixExpression struct {
	Span
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode() {}
func (pe *PrefixExpression) String() string {
	return fmt.Sprintf("(%s%s)", pe.Operator, pe.Right.String())
}

// InfixExpression represents binary operators
type InfixExpression struct {
	Span
	Operator string
	Left     Expression
	Right    Expression
}

func (ie *InfixExpression) expressionNode() {}
func (ie *InfixExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", ie.Left.String(), ie.Operator, ie.Right.String())
}

// TernaryExpression represents cond ? a : b
type TernaryExpression struct {
	Span
	Condition Expression
	Truthy    Expression
	Falsy     Expression
}

func (te *TernaryExpression) expressionNode() {}
func (te *TernaryExpression) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", te.Condition.String(), te.Truthy.String(), te.Falsy.String())
}

// CallExpression represents a helper or local function call by name
type CallExpression struct {
	Span
	Name string
	Args []Expression
}

func (ce *CallExpression) expressionNode() {}
func (ce *CallExpression) String() string {
	args := make([]string, len(ce.Args))
	for i, a := range ce.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", ce.Name, strings.Join(args, ", "))
}

// FunctionLiteral is a single-expression arrow function. It is only valid
// as the value of a let declaration.
type FunctionLiteral struct {
	Span
	Params []string
	Body   Expression
}

func (fl *FunctionLiteral) expressionNode() {}
func (fl *FunctionLiteral) String() string {
	return fmt.Sprintf("(%s) => %s", strings.Join(fl.Params, ", "), fl.Body.String())
}

// ----------------------------------------------------------------------------
// Template nodes
// ----------------------------------------------------------------------------

// TextSegment is one run of a Text node: either a literal string or an
// embedded expression, never both.
type TextSegment struct {
	Literal string
	Expr    Expression
}

// Text represents a run of template text with interpolated expressions
type Text struct {
	Span
	Segments []TextSegment
}

func (t *Text) templateNode() {}
func (t *Text) String() string {
	var out strings.Builder
	for _, seg := range t.Segments {
		if seg.Expr != nil {
			out.WriteString("${" + seg.Expr.String() + "}")
		} else {
			out.WriteString(seg.Literal)
		}
	}
	return out.String()
}

// AttrKind discriminates attribute values
type AttrKind int

const (
	AttrStatic AttrKind = iota
	AttrExpr
	AttrMixed
)

// AttrPart is one piece of a mixed attribute value
type AttrPart struct {
	Literal string
	Expr    Expression
}

// Attribute is an element or component attribute. Static attributes carry
// Value, expression attributes carry Expr, mixed attributes carry Parts.
type Attribute struct {
	Span
	Name  string
	Kind  AttrKind
	Value string
	Expr  Expression
	Parts []AttrPart
}

// String returns a source-like spelling of the attribute
func (a *Attribute) String() string {
	switch a.Kind {
	case AttrExpr:
		return fmt.Sprintf("%s=${%s}", a.Name, a.Expr.String())
	case AttrMixed:
		var out strings.Builder
		out.WriteString(a.Name + "=\"")
		for _, p := range a.Parts {
			if p.Expr != nil {
				out.WriteString("${" + p.Expr.String() + "}")
			} else {
				out.WriteString(p.Literal)
			}
		}
		out.WriteString("\"")
		return out.String()
	default:
		if a.Value == "" {
			return a.Name
		}
		return fmt.Sprintf("%s=%q", a.Name, a.Value)
	}
}

// Element represents an HTML element
type Element struct {
	Span
	Name        string
	Attributes  []*Attribute
	Children    []TemplateNode
	SelfClosing bool
}

func (e *Element) templateNode() {}
func (e *Element) String() string {
	var out strings.Builder
	out.WriteString("<" + e.Name)
	for _, a := range e.Attributes {
		out.WriteString(" " + a.String())
	}
	if e.SelfClosing {
		out.WriteString("/>")
		return out.String()
	}
	out.WriteString(">")
	for _, c := range e.Children {
		out.WriteString(c.String())
	}
	out.WriteString("</" + e.Name + ">")
	return out.String()
}

// IfBranch is one condition + body pair of an If node
type IfBranch struct {
	Condition Expression
	Body      []TemplateNode
}

// If represents @if/else if/else. Branches are tried in order; the first
// truthy condition wins.
type If struct {
	Span
	Branches []IfBranch
	Else     []TemplateNode
}

func (i *If) templateNode() {}
func (i *If) String() string {
	var out strings.Builder
	for idx, br := range i.Branches {
		if idx == 0 {
			out.WriteString("@if(")
		} else {
			out.WriteString("else if(")
		}
		out.WriteString(br.Condition.String())
		out.WriteString("){...}")
	}
	if i.Else != nil {
		out.WriteString("else{...}")
	}
	return out.String()
}

// ForKind discriminates value iteration (of) from key iteration (in)
type ForKind int

const (
	ForOf ForKind = iota // iterate values
	ForIn                // iterate keys/indices
)

// For represents a @for loop
type For struct {
	Span
	Item   string
	Index  string // optional second variable, "" if absent
	Kind   ForKind
	Source Expression
	Body   []TemplateNode
}

func (f *For) templateNode() {}
func (f *For) String() string {
	kw := "of"
	if f.Kind == ForIn {
		kw = "in"
	}
	vars := f.Item
	if f.Index != "" {
		vars += ", " + f.Index
	}
	return fmt.Sprintf("@for(%s %s %s){...}", vars, kw, f.Source.String())
}

// MatchCase is one case of a Match node: either a literal value set or a
// bare predicate over the implicit _ binding.
type MatchCase struct {
	Values    []Expression // literal case: match any of these values
	Predicate Expression   // predicate case: boolean expression over _
	Body      []TemplateNode
}

// Match represents @match with ordered cases and an optional default body
type Match struct {
	Span
	Subject Expression
	Cases   []MatchCase
	Default []TemplateNode
}

func (m *Match) templateNode() {}
func (m *Match) String() string {
	return fmt.Sprintf("@match(%s){...}", m.Subject.String())
}

// Let represents a single let declaration. Global declarations write to the
// globals tier instead of locals.
type Let struct {
	Span
	Name   string
	Global bool
	Value  Expression
}

func (l *Let) templateNode() {}
func (l *Let) String() string {
	name := l.Name
	if l.Global {
		name = "$." + name
	}
	return fmt.Sprintf("let %s = %s;", name, l.Value.String())
}

// Prop is one component-instance prop (name + value expression)
type Prop struct {
	Name string
	Expr Expression
}

// Component represents a component instance (uppercase tag)
type Component struct {
	Span
	Name     string
	Props    []Prop
	Children []TemplateNode
	// PropPaths maps prop names to the source path spelling of their value
	// expression, when the value is a plain path. Populated for tooling.
	PropPaths map[string]string
}

func (c *Component) templateNode() {}
func (c *Component) String() string {
	var out strings.Builder
	out.WriteString("<" + c.Name)
	for _, p := range c.Props {
		out.WriteString(fmt.Sprintf(" %s=${%s}", p.Name, p.Expr.String()))
	}
	if len(c.Children) == 0 {
		out.WriteString("/>")
		return out.String()
	}
	out.WriteString(">...</" + c.Name + ">")
	return out.String()
}

// PropDecl is one declared prop of a component definition
type PropDecl struct {
	Name     string
	Required bool
	Default  Expression // nil when no default
}

// ComponentDefinition represents <template:Name ...>...</template:Name>
type ComponentDefinition struct {
	Span
	Name  string
	Props []PropDecl
	Body  []TemplateNode
}

func (cd *ComponentDefinition) templateNode() {}
func (cd *ComponentDefinition) String() string {
	var out strings.Builder
	out.WriteString("<template:" + cd.Name)
	for _, p := range cd.Props {
		out.WriteString(" " + p.Name)
		if p.Required {
			out.WriteString("!")
		}
		if p.Default != nil {
			out.WriteString("={" + p.Default.String() + "}")
		}
	}
	out.WriteString(">...</template:" + cd.Name + ">")
	return out.String()
}

// Slot represents a slot insertion point inside a component body
type Slot struct {
	Span
	Name     string // "" for the default slot
	Fallback []TemplateNode
}

func (s *Slot) templateNode() {}
func (s *Slot) String() string {
	if s.Name == "" {
		return "<slot/>"
	}
	return fmt.Sprintf("<slot name=%q/>", s.Name)
}

// Fragment represents <>...</>. Fragment children always preserve
// whitespace verbatim.
type Fragment struct {
	Span
	Children []TemplateNode
	Preserve bool
}

func (f *Fragment) templateNode() {}
func (f *Fragment) String() string {
	var out strings.Builder
	out.WriteString("<>")
	for _, c := range f.Children {
		out.WriteString(c.String())
	}
	out.WriteString("</>")
	return out.String()
}

// CommentStyle discriminates comment syntaxes
type CommentStyle int

const (
	CommentMarkup CommentStyle = iota // <!-- ... --> (renderable when enabled)
	CommentServer                     // @* ... *@ (never rendered)
)

// Comment represents a template comment
type Comment struct {
	Span
	Style CommentStyle
	Text  string
}

func (c *Comment) templateNode() {}
func (c *Comment) String() string {
	if c.Style == CommentMarkup {
		return "<!--" + c.Text + "-->"
	}
	return "@*" + c.Text + "*@"
}

// Root is the root node of a compiled template: top-level children plus the
// table of component definitions by name.
type Root struct {
	Span
	Children   []TemplateNode
	Components map[string]*ComponentDefinition
}

func (r *Root) templateNode() {}
func (r *Root) String() string {
	var out strings.Builder
	for _, c := range r.Children {
		out.WriteString(c.String())
	}
	return out.String()
}

// voidTags is the fixed set of HTML tags that never take children and
// always render self-closed.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// IsVoidTag reports whether name is a void HTML tag.
func IsVoidTag(name string) bool {
	return voidTags[name]
}

// ----------------------------------------------------------------------------
// Traversal
// ----------------------------------------------------------------------------

// WalkExpressions calls fn for every expression nested under expr,
// including expr itself.
func WalkExpressions(expr Expression, fn func(Expression)) {
	if expr == nil {
		return
	}
	fn(expr)
	switch e := expr.(type) {
	case *ArrayWildcard:
		WalkExpressions(e.Path, fn)
	case *PrefixExpression:
		WalkExpressions(e.Right, fn)
	case *InfixExpression:
		WalkExpressions(e.Left, fn)
		WalkExpressions(e.Right, fn)
	case *TernaryExpression:
		WalkExpressions(e.Condition, fn)
		WalkExpressions(e.Truthy, fn)
		WalkExpressions(e.Falsy, fn)
	case *CallExpression:
		for _, a := range e.Args {
			WalkExpressions(a, fn)
		}
	case *FunctionLiteral:
		WalkExpressions(e.Body, fn)
	}
}
