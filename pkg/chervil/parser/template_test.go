package parser

import (
	"strings"
	"testing"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
)

func parseTemplate(t *testing.T, source string) (*ast.Root, []cherrors.Diagnostic) {
	t.Helper()
	return ParseTemplate(source, Options{})
}

func parseClean(t *testing.T, source string) *ast.Root {
	t.Helper()
	root, diags := parseTemplate(t, source)
	if len(diags) != 0 {
		t.Fatalf("%q: unexpected diagnostics: %v", source, diags)
	}
	return root
}

func TestEmptyTemplate(t *testing.T) {
	root, diags := parseTemplate(t, "")
	if len(root.Children) != 0 {
		t.Errorf("expected zero children, got %d", len(root.Children))
	}
	if len(diags) != 0 {
		t.Errorf("expected zero diagnostics, got %v", diags)
	}
}

func TestPlainText(t *testing.T) {
	root := parseClean(t, "hello world")
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(root.Children))
	}
	text, ok := root.Children[0].(*ast.Text)
	if !ok {
		t.Fatalf("expected Text, got %T", root.Children[0])
	}
	if len(text.Segments) != 1 || text.Segments[0].Literal != "hello world" {
		t.Errorf("unexpected segments: %+v", text.Segments)
	}
}

func TestTextInterpolation(t *testing.T) {
	root := parseClean(t, "Hello ${user.name}, you have $count new")
	text := root.Children[0].(*ast.Text)

	if len(text.Segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(text.Segments))
	}
	if text.Segments[0].Literal != "Hello " {
		t.Errorf("segment 0: %q", text.Segments[0].Literal)
	}
	if text.Segments[1].Expr == nil || text.Segments[1].Expr.String() != "user.name" {
		t.Errorf("segment 1: expected user.name expression")
	}
	if text.Segments[2].Literal != ", you have " {
		t.Errorf("segment 2: %q", text.Segments[2].Literal)
	}
	if text.Segments[3].Expr == nil || text.Segments[3].Expr.String() != "count" {
		t.Errorf("segment 3: expected count expression")
	}
	if text.Segments[4].Literal != " new" {
		t.Errorf("segment 4: %q", text.Segments[4].Literal)
	}
}

func TestTextEscapes(t *testing.T) {
	root := parseClean(t, `price: \$9.99 \@home \{x\}`)
	text := root.Children[0].(*ast.Text)
	want := "price: $9.99 @home {x}"
	if len(text.Segments) != 1 || text.Segments[0].Literal != want {
		t.Errorf("expected %q, got %+v", want, text.Segments)
	}
}

func TestEmptyExpressionSegment(t *testing.T) {
	_, diags := parseTemplate(t, "a ${ } b")
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "empty expression") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected empty-expression diagnostic, got %v", diags)
	}
}

func TestElementWithAttributes(t *testing.T) {
	root := parseClean(t, `<a href="/home" class="nav ${active}" disabled data-id=${user.id}>Home</a>`)

	el, ok := root.Children[0].(*ast.Element)
	if !ok {
		t.Fatalf("expected Element, got %T", root.Children[0])
	}
	if el.Name != "a" {
		t.Errorf("expected tag a, got %s", el.Name)
	}
	if len(el.Attributes) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(el.Attributes))
	}

	if a := el.Attributes[0]; a.Kind != ast.AttrStatic || a.Value != "/home" {
		t.Errorf("href: expected static /home, got kind=%d value=%q", a.Kind, a.Value)
	}
	if a := el.Attributes[1]; a.Kind != ast.AttrMixed || len(a.Parts) != 2 {
		t.Errorf("class: expected mixed with 2 parts, got kind=%d parts=%d", a.Kind, len(a.Parts))
	}
	if a := el.Attributes[2]; a.Kind != ast.AttrStatic || a.Value != "" {
		t.Errorf("disabled: expected bare static, got kind=%d value=%q", a.Kind, a.Value)
	}
	if a := el.Attributes[3]; a.Kind != ast.AttrExpr || a.Expr.String() != "user.id" {
		t.Errorf("data-id: expected expr user.id, got kind=%d", a.Kind)
	}

	if len(el.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(el.Children))
	}
}

// A whole-value single expression collapses to an expr attribute, not mixed.
func TestQuotedSingleExpressionAttr(t *testing.T) {
	root := parseClean(t, `<img src="${url}"/>`)
	el := root.Children[0].(*ast.Element)
	if a := el.Attributes[0]; a.Kind != ast.AttrExpr || a.Expr.String() != "url" {
		t.Fatalf("src: expected expr url, got kind=%d", a.Kind)
	}
}

func TestVoidAndSelfClosingTags(t *testing.T) {
	root := parseClean(t, `<br><input type="text"><span/>`)
	if len(root.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(root.Children))
	}
	for i, name := range []string{"br", "input", "span"} {
		el := root.Children[i].(*ast.Element)
		if el.Name != name || !el.SelfClosing {
			t.Errorf("child %d: expected self-closing %s, got %s (self=%v)", i, name, el.Name, el.SelfClosing)
		}
	}
}

func TestNestedElements(t *testing.T) {
	root := parseClean(t, "<ul><li>one</li><li>two</li></ul>")
	ul := root.Children[0].(*ast.Element)
	if len(ul.Children) != 2 {
		t.Fatalf("expected 2 list items, got %d", len(ul.Children))
	}
}

func TestUnclosedTagRecovers(t *testing.T) {
	root, diags := parseTemplate(t, "<div>")
	if len(diags) == 0 {
		t.Fatalf("expected diagnostics for unclosed tag")
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected the incomplete element to be returned, got %d children", len(root.Children))
	}
	el, ok := root.Children[0].(*ast.Element)
	if !ok || el.Name != "div" {
		t.Fatalf("expected div element, got %T", root.Children[0])
	}
}

func TestMismatchedClosingTag(t *testing.T) {
	root, diags := parseTemplate(t, "<div><span>x</div>")
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "mismatched closing tag </div>, expected </span>") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mismatch diagnostic, got %v", diags)
	}
	// The outer div still matches its closing tag
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(root.Children))
	}
}

func TestIfElseChain(t *testing.T) {
	root := parseClean(t, `@if(a > 0){<span>Pos</span>}else if(a == 0){<span>Zero</span>}else{<span>Neg</span>}`)

	node, ok := root.Children[0].(*ast.If)
	if !ok {
		t.Fatalf("expected If, got %T", root.Children[0])
	}
	if len(node.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(node.Branches))
	}
	if node.Branches[0].Condition.String() != "(a > 0)" {
		t.Errorf("branch 0 condition: %s", node.Branches[0].Condition.String())
	}
	if node.Branches[1].Condition.String() != "(a == 0)" {
		t.Errorf("branch 1 condition: %s", node.Branches[1].Condition.String())
	}
	if node.Else == nil || len(node.Else) != 1 {
		t.Fatalf("expected else body with 1 node")
	}
}

func TestIfWithoutElse(t *testing.T) {
	root := parseClean(t, "@if(x){yes} trailing")
	node := root.Children[0].(*ast.If)
	if node.Else != nil {
		t.Errorf("expected no else body")
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected trailing text node, got %d children", len(root.Children))
	}
}

// An "else"-prefixed word after an if body is plain text, not an else
// branch.
func TestElseRequiresWordBoundary(t *testing.T) {
	root := parseClean(t, "@if(a){x} elsewhere it goes")
	node := root.Children[0].(*ast.If)
	if node.Else != nil {
		t.Errorf("expected no else body, got %v", node.Else)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected trailing text node, got %d children", len(root.Children))
	}
	text, ok := root.Children[1].(*ast.Text)
	if !ok {
		t.Fatalf("expected Text, got %T", root.Children[1])
	}
	if got := text.Segments[0].Literal; got != " elsewhere it goes" {
		t.Errorf("trailing text: got %q", got)
	}
}

func TestForLoop(t *testing.T) {
	tests := []struct {
		input string
		item  string
		index string
		kind  ast.ForKind
		src   string
	}{
		{"@for(item of $items){x}", "item", "", ast.ForOf, "items"},
		{"@for(item, i of $items){x}", "item", "i", ast.ForOf, "items"},
		{"@for(key in $settings){x}", "key", "", ast.ForIn, "settings"},
	}

	for _, tt := range tests {
		root := parseClean(t, tt.input)
		node, ok := root.Children[0].(*ast.For)
		if !ok {
			t.Errorf("%q: expected For, got %T", tt.input, root.Children[0])
			continue
		}
		if node.Item != tt.item || node.Index != tt.index || node.Kind != tt.kind {
			t.Errorf("%q: got item=%q index=%q kind=%d", tt.input, node.Item, node.Index, node.Kind)
		}
		if node.Source.String() != tt.src {
			t.Errorf("%q: source: expected %s, got %s", tt.input, tt.src, node.Source.String())
		}
	}
}

func TestMatch(t *testing.T) {
	root := parseClean(t, `@match($n){when 0, 1{<i>small</i>} _ > 100 {<i>big</i>} * {<i>other</i>}}`)

	node, ok := root.Children[0].(*ast.Match)
	if !ok {
		t.Fatalf("expected Match, got %T", root.Children[0])
	}
	if node.Subject.String() != "n" {
		t.Errorf("subject: %s", node.Subject.String())
	}
	if len(node.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(node.Cases))
	}
	if len(node.Cases[0].Values) != 2 {
		t.Errorf("case 0: expected 2 values, got %d", len(node.Cases[0].Values))
	}
	if node.Cases[1].Predicate == nil || node.Cases[1].Predicate.String() != "(_ > 100)" {
		t.Errorf("case 1: expected predicate over _")
	}
	if node.Default == nil {
		t.Errorf("expected default case")
	}
}

func TestDuplicateMatchDefault(t *testing.T) {
	_, diags := parseTemplate(t, "@match($n){* {a} * {b}}")
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "duplicate default case") && d.Severity == cherrors.SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate-default warning, got %v", diags)
	}
}

// A block with exactly one declaration collapses to the Let directly.
func TestLetBlockSingleCollapses(t *testing.T) {
	root := parseClean(t, "@@ { let x = 1 + 2; }")
	node, ok := root.Children[0].(*ast.Let)
	if !ok {
		t.Fatalf("expected Let, got %T", root.Children[0])
	}
	if node.Name != "x" || node.Global {
		t.Errorf("got name=%q global=%v", node.Name, node.Global)
	}
	if node.Value.String() != "(1 + 2)" {
		t.Errorf("value: %s", node.Value.String())
	}
}

func TestLetBlockMultiple(t *testing.T) {
	root := parseClean(t, "@@ { let x = 1; let $.theme = \"dark\"; }")
	frag, ok := root.Children[0].(*ast.Fragment)
	if !ok {
		t.Fatalf("expected Fragment, got %T", root.Children[0])
	}
	if len(frag.Children) != 2 {
		t.Fatalf("expected 2 lets, got %d", len(frag.Children))
	}
	second := frag.Children[1].(*ast.Let)
	if !second.Global || second.Name != "theme" {
		t.Errorf("expected global let theme, got name=%q global=%v", second.Name, second.Global)
	}
}

func TestComponentDefinitionAndInstance(t *testing.T) {
	source := `<template:Card title! size="md"><h2>$title</h2></template:Card><Card title="Hi" />`
	root := parseClean(t, source)

	def, ok := root.Components["Card"]
	if !ok {
		t.Fatalf("expected Card in component table")
	}
	if len(def.Props) != 2 {
		t.Fatalf("expected 2 prop decls, got %d", len(def.Props))
	}
	if !def.Props[0].Required || def.Props[0].Name != "title" {
		t.Errorf("title: expected required, got %+v", def.Props[0])
	}
	if def.Props[1].Required || def.Props[1].Default == nil {
		t.Errorf("size: expected optional with default")
	}

	var instance *ast.Component
	for _, child := range root.Children {
		if c, ok := child.(*ast.Component); ok {
			instance = c
		}
	}
	if instance == nil {
		t.Fatalf("expected a component instance in children")
	}
	if instance.Name != "Card" || len(instance.Props) != 1 {
		t.Fatalf("expected Card with 1 prop, got %s with %d", instance.Name, len(instance.Props))
	}
}

func TestDuplicateComponentDefinition(t *testing.T) {
	source := `<template:Card>a</template:Card><template:Card>b</template:Card>`
	root, diags := parseTemplate(t, source)

	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "duplicate definition of component 'Card'") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate warning, got %v", diags)
	}
	// Later definition wins
	def := root.Components["Card"]
	text := def.Body[0].(*ast.Text)
	if text.Segments[0].Literal != "b" {
		t.Errorf("expected later definition to win, got %q", text.Segments[0].Literal)
	}
}

func TestComponentPropPaths(t *testing.T) {
	root := parseClean(t, `<template:Row item!>x</template:Row><Row item=$products[0] />`)
	var instance *ast.Component
	for _, child := range root.Children {
		if c, ok := child.(*ast.Component); ok {
			instance = c
		}
	}
	if instance == nil {
		t.Fatalf("expected instance")
	}
	if got := instance.PropPaths["item"]; got != "products[0]" {
		t.Errorf("expected PropPaths item=products[0], got %q", got)
	}
}

func TestSlots(t *testing.T) {
	root := parseClean(t, `<slot name="header">fallback</slot><slot/>`)

	named, ok := root.Children[0].(*ast.Slot)
	if !ok {
		t.Fatalf("expected Slot, got %T", root.Children[0])
	}
	if named.Name != "header" || len(named.Fallback) != 1 {
		t.Errorf("got name=%q fallback=%d", named.Name, len(named.Fallback))
	}

	def := root.Children[1].(*ast.Slot)
	if def.Name != "" || def.Fallback != nil {
		t.Errorf("expected unnamed slot without fallback")
	}
}

func TestFragment(t *testing.T) {
	root := parseClean(t, "<>  spaced  </>")
	frag, ok := root.Children[0].(*ast.Fragment)
	if !ok {
		t.Fatalf("expected Fragment, got %T", root.Children[0])
	}
	if !frag.Preserve {
		t.Errorf("fragments must preserve whitespace")
	}
	text := frag.Children[0].(*ast.Text)
	if text.Segments[0].Literal != "  spaced  " {
		t.Errorf("expected verbatim text, got %q", text.Segments[0].Literal)
	}
}

func TestComments(t *testing.T) {
	root := parseClean(t, "<!-- note --> @* hidden *@")

	markup := root.Children[0].(*ast.Comment)
	if markup.Style != ast.CommentMarkup || markup.Text != " note " {
		t.Errorf("markup comment: style=%d text=%q", markup.Style, markup.Text)
	}

	var server *ast.Comment
	for _, child := range root.Children[1:] {
		if c, ok := child.(*ast.Comment); ok {
			server = c
		}
	}
	if server == nil || server.Style != ast.CommentServer || server.Text != " hidden " {
		t.Fatalf("expected server comment with text ' hidden '")
	}
}

func TestStrayClosingTag(t *testing.T) {
	root, diags := parseTemplate(t, "</div>after")
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "unexpected closing tag") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stray-closing-tag diagnostic, got %v", diags)
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected the trailing text to be parsed, got %d children", len(root.Children))
	}
}

// Malformed input must terminate: the forced-advance rule guarantees the
// cursor always moves.
func TestMalformedInputTerminates(t *testing.T) {
	inputs := []string{
		"<",
		"<div",
		"${unclosed",
		"@if(x){",
		"@for(item of){}",
		"@match(x){when}",
		"@@ { let = ; }",
		strings.Repeat("<div>", 50),
	}
	for _, input := range inputs {
		root, _ := parseTemplate(t, input)
		if root == nil {
			t.Errorf("%q: expected a root node", input)
		}
	}
}

func TestParseCallBudget(t *testing.T) {
	source := strings.Repeat("<b>x</b>", 200)
	_, diags := ParseTemplate(source, Options{MaxParseCalls: 50})
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "parser call budget exceeded") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected call-budget diagnostic")
	}
}

func TestParseDepthLimit(t *testing.T) {
	depth := 40
	source := strings.Repeat("<div>", depth) + "x" + strings.Repeat("</div>", depth)
	_, diags := ParseTemplate(source, Options{MaxParseDepth: 10})
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "parser recursion depth exceeded") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected depth diagnostic")
	}
}

// Compiling the same source twice yields structurally identical trees.
func TestCompileIdempotence(t *testing.T) {
	source := `<div>@if(a){${x}}</div><template:C p>b</template:C>`
	a, _ := parseTemplate(t, source)
	b, _ := parseTemplate(t, source)
	if a.String() != b.String() {
		t.Fatalf("expected identical trees:\n%s\n%s", a.String(), b.String())
	}
}
