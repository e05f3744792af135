package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// Default template-parser guard values
const (
	DefaultMaxParseCalls = 100000
	DefaultMaxParseDepth = 100
)

// Options configures the template parser.
type Options struct {
	MaxExprDepth       int // nesting ceiling for embedded expressions
	MaxInfixIterations int // per-call infix iteration budget
	MaxParseCalls      int // global parse-function call budget
	MaxParseDepth      int // recursion-depth ceiling
}

// withDefaults fills in zero fields
func (o Options) withDefaults() Options {
	if o.MaxExprDepth <= 0 {
		o.MaxExprDepth = DefaultMaxExprDepth
	}
	if o.MaxInfixIterations <= 0 {
		o.MaxInfixIterations = DefaultMaxInfixIterations
	}
	if o.MaxParseCalls <= 0 {
		o.MaxParseCalls = DefaultMaxParseCalls
	}
	if o.MaxParseDepth <= 0 {
		o.MaxParseDepth = DefaultMaxParseDepth
	}
	return o
}

// TemplateParser is a recursive-descent parser over raw template text.
// It owns an explicit cursor (position, line, column); each Parse call
// constructs a fresh parser, so no state is shared between compiles.
//
// Critical invariant: every parse function either advances the cursor or
// returns nil. parseNodes verifies the cursor moved and, if not, records a
// diagnostic and forcibly advances one character, which guarantees
// termination on any input. The call/depth counters are defense in depth.
type TemplateParser struct {
	source string
	pos    int
	line   int
	col    int

	diagnostics []cherrors.Diagnostic
	components  map[string]*ast.ComponentDefinition

	calls    int
	depth    int
	limitHit bool

	opts Options
}

// NewTemplateParser creates a parser for one template source.
func NewTemplateParser(source string, opts Options) *TemplateParser {
	return &TemplateParser{
		source:     source,
		line:       1,
		col:        1,
		components: make(map[string]*ast.ComponentDefinition),
		opts:       opts.withDefaults(),
	}
}

// ParseTemplate parses source into a root node, ordered diagnostics and the
// component-definition table. It never panics and never returns nil: a
// malformed document still yields the subtree that could be parsed.
func ParseTemplate(source string, opts Options) (*ast.Root, []cherrors.Diagnostic) {
	p := NewTemplateParser(source, opts)
	return p.Parse(), p.diagnostics
}

// Parse parses the whole template.
func (p *TemplateParser) Parse() *ast.Root {
	start := p.position()
	children := p.parseNodes(nil, false)

	// Anything left over is a stray closing tag at top level
	for !p.eof() && !p.limitHit {
		if p.startsWith("</") {
			pos := p.position()
			p.skipPast('>')
			p.addDiagnostic("unexpected closing tag", cherrors.SeverityError, pos, p.position())
			more := p.parseNodes(nil, false)
			children = append(children, more...)
			continue
		}
		break
	}

	return &ast.Root{
		Span:       ast.NewSpan(start, p.position()),
		Children:   children,
		Components: p.components,
	}
}

// ----------------------------------------------------------------------------
// Cursor primitives
// ----------------------------------------------------------------------------

func (p *TemplateParser) eof() bool { return p.pos >= len(p.source) }

// cur returns the current byte, 0 at end of input
func (p *TemplateParser) cur() byte {
	if p.eof() {
		return 0
	}
	return p.source[p.pos]
}

// peekAt returns the byte n positions ahead, 0 past end of input
func (p *TemplateParser) peekAt(n int) byte {
	if p.pos+n >= len(p.source) {
		return 0
	}
	return p.source[p.pos+n]
}

// position returns the current cursor position
func (p *TemplateParser) position() lexer.Position {
	return lexer.Position{Line: p.line, Column: p.col, Offset: p.pos}
}

// advance moves the cursor one byte, tracking line and column
func (p *TemplateParser) advance() {
	if p.eof() {
		return
	}
	if p.source[p.pos] == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	p.pos++
}

// advanceN moves the cursor n bytes
func (p *TemplateParser) advanceN(n int) {
	for i := 0; i < n && !p.eof(); i++ {
		p.advance()
	}
}

// startsWith reports whether the remaining input begins with s
func (p *TemplateParser) startsWith(s string) bool {
	return strings.HasPrefix(p.source[p.pos:], s)
}

// skipWhitespace consumes spaces, tabs and newlines
func (p *TemplateParser) skipWhitespace() {
	for !p.eof() {
		switch p.cur() {
		case ' ', '\t', '\n', '\r':
			p.advance()
		default:
			return
		}
	}
}

// skipPast advances past the next occurrence of ch (consuming it)
func (p *TemplateParser) skipPast(ch byte) {
	for !p.eof() {
		c := p.cur()
		p.advance()
		if c == ch {
			return
		}
	}
}

// addDiagnostic records a diagnostic
func (p *TemplateParser) addDiagnostic(msg string, sev cherrors.Severity, start, end lexer.Position) {
	p.diagnostics = append(p.diagnostics, cherrors.Diagnostic{
		Message:  msg,
		Severity: sev,
		Start:    start,
		End:      end,
	})
}

// enter charges one call against the parse budget. A false return means a
// ceiling was hit and the caller must stop producing nodes.
func (p *TemplateParser) enter() bool {
	if p.limitHit {
		return false
	}
	p.calls++
	if p.calls > p.opts.MaxParseCalls {
		p.limitHit = true
		pos := p.position()
		p.addDiagnostic("parser call budget exceeded", cherrors.SeverityError, pos, pos)
		return false
	}
	return true
}

// ----------------------------------------------------------------------------
// Node dispatch
// ----------------------------------------------------------------------------

// parseNodes parses sibling nodes until EOF, a closing tag, or (when
// stopOnBrace is set) a bare '}' at node boundary. The terminator itself is
// left for the caller.
func (p *TemplateParser) parseNodes(_ []string, stopOnBrace bool) []ast.TemplateNode {
	var nodes []ast.TemplateNode

	for !p.eof() && !p.limitHit {
		if stopOnBrace && p.cur() == '}' {
			break
		}
		if p.startsWith("</") {
			break
		}

		before := p.pos
		node := p.parseNode(stopOnBrace)
		if node != nil {
			nodes = append(nodes, node)
		}
		if p.pos == before {
			// The parse function neither consumed nor failed usefully.
			// Force progress so malformed input can never hang the parser.
			pos := p.position()
			p.advance()
			p.addDiagnostic(fmt.Sprintf("unexpected character %q", p.source[before]),
				cherrors.SeverityError, pos, p.position())
		}
	}

	return nodes
}

// parseNode parses exactly one construct at the cursor
func (p *TemplateParser) parseNode(stopOnBrace bool) ast.TemplateNode {
	if !p.enter() {
		return nil
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > p.opts.MaxParseDepth {
		p.limitHit = true
		pos := p.position()
		p.addDiagnostic("parser recursion depth exceeded", cherrors.SeverityError, pos, pos)
		return nil
	}

	switch {
	case p.startsWith("@if("):
		return p.parseIf(stopOnBrace)
	case p.startsWith("@for("):
		return p.parseFor()
	case p.startsWith("@match("):
		return p.parseMatch()
	case p.startsWith("@@"):
		return p.parseLetBlock()
	case p.startsWith("@*"):
		return p.parseServerComment()
	case p.startsWith("<!--"):
		return p.parseMarkupComment()
	case p.startsWith("<template:"):
		return p.parseComponentDefinition()
	case p.startsWith("<>"):
		return p.parseFragment()
	case p.cur() == '<' && isTagNameStart(p.peekAt(1)):
		return p.parseElementOrComponent()
	default:
		return p.parseText(stopOnBrace)
	}
}

// ----------------------------------------------------------------------------
// Text
// ----------------------------------------------------------------------------

// parseText parses a run of literal text with $path and ${expr}
// interpolation, stopping at the next construct boundary.
func (p *TemplateParser) parseText(stopOnBrace bool) ast.TemplateNode {
	start := p.position()
	text := &ast.Text{}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			text.Segments = append(text.Segments, ast.TextSegment{Literal: lit.String()})
			lit.Reset()
		}
	}

	for !p.eof() {
		c := p.cur()

		// Construct boundaries end the text run
		if c == '<' && (isTagNameStart(p.peekAt(1)) || p.peekAt(1) == '/' || p.peekAt(1) == '!' || p.peekAt(1) == '>') {
			break
		}
		if c == '@' && (p.startsWith("@if(") || p.startsWith("@for(") || p.startsWith("@match(") || p.startsWith("@@") || p.startsWith("@*")) {
			break
		}
		if stopOnBrace && c == '}' {
			break
		}

		// Backslash escapes for the language's special characters
		if c == '\\' {
			next := p.peekAt(1)
			switch next {
			case '$', '@', '{', '}', '<', '\\':
				lit.WriteByte(next)
				p.advanceN(2)
				continue
			}
			lit.WriteByte(c)
			p.advance()
			continue
		}

		if c == '$' {
			if p.peekAt(1) == '{' {
				flush()
				expr := p.parseExpressionSegment()
				if expr != nil {
					text.Segments = append(text.Segments, ast.TextSegment{Expr: expr})
				}
				continue
			}
			if isIdentByte(p.peekAt(1)) || (p.peekAt(1) == '.' && isIdentByte(p.peekAt(2))) {
				flush()
				expr := p.parsePathSegment()
				if expr != nil {
					text.Segments = append(text.Segments, ast.TextSegment{Expr: expr})
				}
				continue
			}
		}

		lit.WriteByte(c)
		p.advance()
	}

	flush()
	if len(text.Segments) == 0 {
		// Nothing consumed; let the caller's forced-advance rule handle it
		return nil
	}
	text.Span = ast.NewSpan(start, p.position())
	return text
}

// parseExpressionSegment parses ${expr} at the cursor and returns the
// expression, or nil after recording a diagnostic.
func (p *TemplateParser) parseExpressionSegment() ast.Expression {
	start := p.position()
	p.advanceN(2) // consume "${"
	exprStart := p.position()

	src, ok := p.scanBalanced('{', '}', 1)
	if !ok {
		p.addDiagnostic("unclosed '${'", cherrors.SeverityError, start, p.position())
		return nil
	}
	if strings.TrimSpace(src) == "" {
		p.addDiagnostic("empty expression", cherrors.SeverityError, start, p.position())
		return nil
	}

	expr, diags := ParseExpression(src, exprStart, p.opts)
	p.diagnostics = append(p.diagnostics, diags...)
	return expr
}

// parsePathSegment parses a bare $path (or $.path) interpolation in text
func (p *TemplateParser) parsePathSegment() ast.Expression {
	start := p.position()
	i := p.pos + 1 // past '$'

	if i < len(p.source) && p.source[i] == '.' {
		i++
	}
	// First identifier
	j := scanIdent(p.source, i)
	if j == i {
		// '$' with nothing usable after it: literal dollar
		return nil
	}
	i = j

	// Further .key, [int] and [*] segments
	for i < len(p.source) {
		switch p.source[i] {
		case '.':
			j := scanIdent(p.source, i+1)
			if j == i+1 {
				goto done
			}
			i = j
		case '[':
			j := i + 1
			if j < len(p.source) && p.source[j] == '*' {
				j++
			} else {
				for j < len(p.source) && p.source[j] >= '0' && p.source[j] <= '9' {
					j++
				}
			}
			if j >= len(p.source) || p.source[j] != ']' || j == i+1 {
				goto done
			}
			i = j + 1
		default:
			goto done
		}
	}

done:
	src := p.source[p.pos:i]
	p.advanceN(i - p.pos)

	expr, diags := ParseExpression(src, start, p.opts)
	p.diagnostics = append(p.diagnostics, diags...)
	return expr
}

// scanBalanced consumes input until the open/close delimiters balance back
// to zero, respecting quoted strings. The cursor starts inside the region
// at the given depth and ends just past the closing delimiter. Returns the
// region content (without the final delimiter).
func (p *TemplateParser) scanBalanced(open, close byte, depth int) (string, bool) {
	start := p.pos
	var quote byte

	for !p.eof() {
		c := p.cur()
		if quote != 0 {
			if c == '\\' {
				p.advanceN(2)
				continue
			}
			if c == quote {
				quote = 0
			}
			p.advance()
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				src := p.source[start:p.pos]
				p.advance() // consume the closing delimiter
				return src, true
			}
		}
		p.advance()
	}
	return p.source[start:p.pos], false
}

// ----------------------------------------------------------------------------
// Directives
// ----------------------------------------------------------------------------

// parseParenExpression parses a parenthesized expression source for a
// directive head: the cursor must be on '('. Returns nil on failure.
func (p *TemplateParser) parseParenExpression() ast.Expression {
	start := p.position()
	if p.cur() != '(' {
		p.addDiagnostic("expected '('", cherrors.SeverityError, start, start)
		return nil
	}
	p.advance()
	exprStart := p.position()
	src, ok := p.scanBalanced('(', ')', 1)
	if !ok {
		p.addDiagnostic("unclosed '('", cherrors.SeverityError, start, p.position())
		return nil
	}
	if strings.TrimSpace(src) == "" {
		p.addDiagnostic("empty expression", cherrors.SeverityError, start, p.position())
		return nil
	}
	expr, diags := ParseExpression(src, exprStart, p.opts)
	p.diagnostics = append(p.diagnostics, diags...)
	return expr
}

// parseBody parses `{ nodes }` for a directive and returns the nodes.
// The cursor must be on (or before) the opening brace.
func (p *TemplateParser) parseBody() []ast.TemplateNode {
	p.skipWhitespace()
	if p.cur() != '{' {
		pos := p.position()
		p.addDiagnostic("expected '{'", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.advance()
	body := p.parseNodes(nil, true)
	if p.cur() == '}' {
		p.advance()
	} else {
		pos := p.position()
		p.addDiagnostic("expected '}'", cherrors.SeverityError, pos, pos)
	}
	return body
}

// parseIf parses @if(cond){...} else if(cond){...} else {...}
func (p *TemplateParser) parseIf(_ bool) ast.TemplateNode {
	start := p.position()
	p.advanceN(len("@if"))

	node := &ast.If{}

	cond := p.parseParenExpression()
	body := p.parseBody()
	if cond != nil {
		node.Branches = append(node.Branches, ast.IfBranch{Condition: cond, Body: body})
	}

	for {
		// Only look past whitespace when an else actually follows
		save := p.pos
		saveLine, saveCol := p.line, p.col
		p.skipWhitespace()
		if !p.startsWith("else") || isIdentByte(p.peekAt(len("else"))) {
			p.pos, p.line, p.col = save, saveLine, saveCol
			break
		}
		p.advanceN(len("else"))
		p.skipWhitespace()
		if p.startsWith("if") && (p.peekAt(2) == '(' || p.peekAt(2) == ' ') {
			p.advanceN(len("if"))
			p.skipWhitespace()
			cond := p.parseParenExpression()
			body := p.parseBody()
			if cond != nil {
				node.Branches = append(node.Branches, ast.IfBranch{Condition: cond, Body: body})
			}
			continue
		}
		elseBody := p.parseBody()
		if elseBody == nil {
			elseBody = []ast.TemplateNode{}
		}
		node.Else = elseBody
		break
	}

	node.Span = ast.NewSpan(start, p.position())
	if len(node.Branches) == 0 && node.Else == nil {
		return nil
	}
	return node
}

// parseFor parses @for(item[, index] of|in expr){...}
func (p *TemplateParser) parseFor() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("@for"))

	if p.cur() != '(' {
		pos := p.position()
		p.addDiagnostic("expected '(' after @for", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.advance()
	p.skipWhitespace()

	node := &ast.For{}
	node.Item = p.readIdent()
	if node.Item == "" {
		pos := p.position()
		p.addDiagnostic("expected loop variable name", cherrors.SeverityError, pos, pos)
		p.skipPast(')')
		return nil
	}
	p.skipWhitespace()
	if p.cur() == ',' {
		p.advance()
		p.skipWhitespace()
		node.Index = p.readIdent()
		if node.Index == "" {
			pos := p.position()
			p.addDiagnostic("expected index variable name after ','", cherrors.SeverityError, pos, pos)
		}
		p.skipWhitespace()
	}

	switch kw := p.readIdent(); kw {
	case "of":
		node.Kind = ast.ForOf
	case "in":
		node.Kind = ast.ForIn
	default:
		pos := p.position()
		p.addDiagnostic(fmt.Sprintf("expected 'of' or 'in', got '%s'", kw), cherrors.SeverityError, pos, pos)
		p.skipPast(')')
		return nil
	}
	p.skipWhitespace()

	exprStart := p.position()
	src, ok := p.scanBalanced('(', ')', 1)
	if !ok {
		p.addDiagnostic("unclosed '(' in @for", cherrors.SeverityError, start, p.position())
		return nil
	}
	if strings.TrimSpace(src) == "" {
		p.addDiagnostic("empty loop expression", cherrors.SeverityError, exprStart, p.position())
		return nil
	}
	expr, diags := ParseExpression(src, exprStart, p.opts)
	p.diagnostics = append(p.diagnostics, diags...)
	if expr == nil {
		p.parseBody() // still consume the body for recovery
		return nil
	}
	node.Source = expr

	node.Body = p.parseBody()
	node.Span = ast.NewSpan(start, p.position())
	return node
}

// parseMatch parses @match(expr){ when v1, v2 {...} <predicate> {...} * {...} }
func (p *TemplateParser) parseMatch() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("@match"))

	subject := p.parseParenExpression()
	if subject == nil {
		p.parseBody()
		return nil
	}

	node := &ast.Match{Subject: subject}

	p.skipWhitespace()
	if p.cur() != '{' {
		pos := p.position()
		p.addDiagnostic("expected '{' after @match(...)", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.advance()

	for !p.eof() && !p.limitHit {
		p.skipWhitespace()
		if p.cur() == '}' {
			p.advance()
			break
		}

		switch {
		case p.startsWith("when") && !isIdentByte(p.peekAt(4)):
			p.advanceN(len("when"))
			values := p.parseMatchValues()
			body := p.parseBody()
			if len(values) > 0 {
				node.Cases = append(node.Cases, ast.MatchCase{Values: values, Body: body})
			}
		case p.cur() == '*':
			starPos := p.position()
			p.advance()
			body := p.parseBody()
			if node.Default != nil {
				p.addDiagnostic("duplicate default case", cherrors.SeverityWarning, starPos, p.position())
			} else {
				if body == nil {
					body = []ast.TemplateNode{}
				}
				node.Default = body
			}
		default:
			// Predicate case: a boolean expression over the implicit _ binding
			predStart := p.position()
			src := p.scanToBody()
			if strings.TrimSpace(src) == "" {
				p.addDiagnostic("expected 'when', '*' or a predicate in @match", cherrors.SeverityError, predStart, p.position())
				p.skipPast('}')
				continue
			}
			expr, diags := ParseExpression(src, predStart, p.opts)
			p.diagnostics = append(p.diagnostics, diags...)
			body := p.parseBody()
			if expr != nil {
				node.Cases = append(node.Cases, ast.MatchCase{Predicate: expr, Body: body})
			}
		}
	}

	node.Span = ast.NewSpan(start, p.position())
	return node
}

// parseMatchValues parses the comma-separated literal list of a when case,
// up to the opening brace of the body.
func (p *TemplateParser) parseMatchValues() []ast.Expression {
	var values []ast.Expression
	for !p.eof() {
		p.skipWhitespace()
		valStart := p.position()
		src := p.scanToValueEnd()
		if strings.TrimSpace(src) == "" {
			break
		}
		expr, diags := ParseExpression(src, valStart, p.opts)
		p.diagnostics = append(p.diagnostics, diags...)
		if expr != nil {
			values = append(values, expr)
		}
		if p.cur() == ',' {
			p.advance()
			continue
		}
		break
	}
	return values
}

// scanToValueEnd consumes input up to the next top-level ',' or '{',
// respecting quotes. The delimiter is not consumed.
func (p *TemplateParser) scanToValueEnd() string {
	start := p.pos
	var quote byte
	for !p.eof() {
		c := p.cur()
		if quote != 0 {
			if c == '\\' {
				p.advanceN(2)
				continue
			}
			if c == quote {
				quote = 0
			}
			p.advance()
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			p.advance()
			continue
		}
		if c == ',' || c == '{' {
			break
		}
		p.advance()
	}
	return p.source[start:p.pos]
}

// scanToBody consumes input up to the next top-level '{', respecting
// quotes. The brace is not consumed.
func (p *TemplateParser) scanToBody() string {
	start := p.pos
	var quote byte
	for !p.eof() {
		c := p.cur()
		if quote != 0 {
			if c == '\\' {
				p.advanceN(2)
				continue
			}
			if c == quote {
				quote = 0
			}
			p.advance()
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			p.advance()
			continue
		}
		if c == '{' {
			break
		}
		p.advance()
	}
	return p.source[start:p.pos]
}

// parseLetBlock parses @@ { let x = expr; let $.y = expr; }. A block with
// exactly one declaration collapses to that Let node directly; larger
// blocks become a whitespace-preserving fragment of Lets.
func (p *TemplateParser) parseLetBlock() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("@@"))
	p.skipWhitespace()

	if p.cur() != '{' {
		pos := p.position()
		p.addDiagnostic("expected '{' after '@@'", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.advance()

	var lets []ast.TemplateNode
	for !p.eof() && !p.limitHit {
		p.skipWhitespace()
		if p.cur() == '}' {
			p.advance()
			break
		}

		letNode := p.parseLetDeclaration()
		if letNode != nil {
			lets = append(lets, letNode)
		} else {
			// Recover to the next declaration or the end of the block
			p.recoverLet()
		}
	}

	switch len(lets) {
	case 0:
		return nil
	case 1:
		return lets[0]
	default:
		return &ast.Fragment{
			Span:     ast.NewSpan(start, p.position()),
			Children: lets,
			Preserve: true,
		}
	}
}

// parseLetDeclaration parses one `let name = expr;` or `let $.name = expr;`
func (p *TemplateParser) parseLetDeclaration() ast.TemplateNode {
	start := p.position()

	if kw := p.readIdent(); kw != "let" {
		p.addDiagnostic(fmt.Sprintf("expected 'let', got '%s'", kw), cherrors.SeverityError, start, p.position())
		return nil
	}
	p.skipWhitespace()

	node := &ast.Let{}
	if p.startsWith("$.") {
		node.Global = true
		p.advanceN(2)
	}
	node.Name = p.readIdent()
	if node.Name == "" {
		pos := p.position()
		p.addDiagnostic("expected variable name after 'let'", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.skipWhitespace()

	if p.cur() != '=' {
		pos := p.position()
		p.addDiagnostic("expected '=' in let declaration", cherrors.SeverityError, pos, pos)
		return nil
	}
	p.advance()
	p.skipWhitespace()

	exprStart := p.position()
	src := p.scanToSemicolon()
	if strings.TrimSpace(src) == "" {
		p.addDiagnostic("empty let value", cherrors.SeverityError, exprStart, p.position())
		return nil
	}
	expr, diags := ParseExpression(src, exprStart, p.opts)
	p.diagnostics = append(p.diagnostics, diags...)
	if expr == nil {
		return nil
	}
	node.Value = expr

	if p.cur() == ';' {
		p.advance()
	}

	node.Span = ast.NewSpan(start, p.position())
	return node
}

// scanToSemicolon consumes input up to the next top-level ';' or '}',
// respecting quotes and nesting. The delimiter is not consumed.
func (p *TemplateParser) scanToSemicolon() string {
	start := p.pos
	var quote byte
	depth := 0
	for !p.eof() {
		c := p.cur()
		if quote != 0 {
			if c == '\\' {
				p.advanceN(2)
				continue
			}
			if c == quote {
				quote = 0
			}
			p.advance()
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ';':
			if depth <= 0 {
				return p.source[start:p.pos]
			}
		case '}':
			if depth <= 0 {
				return p.source[start:p.pos]
			}
		}
		p.advance()
	}
	return p.source[start:p.pos]
}

// recoverLet skips to just past the next ';' or up to the closing '}'
func (p *TemplateParser) recoverLet() {
	for !p.eof() {
		c := p.cur()
		if c == ';' {
			p.advance()
			return
		}
		if c == '}' {
			return
		}
		p.advance()
	}
}

// ----------------------------------------------------------------------------
// Comments
// ----------------------------------------------------------------------------

// parseMarkupComment parses <!-- ... -->
func (p *TemplateParser) parseMarkupComment() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("<!--"))
	textStart := p.pos

	for !p.eof() && !p.startsWith("-->") {
		p.advance()
	}
	text := p.source[textStart:p.pos]
	if p.startsWith("-->") {
		p.advanceN(len("-->"))
	} else {
		p.addDiagnostic("unterminated comment", cherrors.SeverityError, start, p.position())
	}

	return &ast.Comment{
		Span:  ast.NewSpan(start, p.position()),
		Style: ast.CommentMarkup,
		Text:  text,
	}
}

// parseServerComment parses @* ... *@ (never rendered)
func (p *TemplateParser) parseServerComment() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("@*"))
	textStart := p.pos

	for !p.eof() && !p.startsWith("*@") {
		p.advance()
	}
	text := p.source[textStart:p.pos]
	if p.startsWith("*@") {
		p.advanceN(len("*@"))
	} else {
		p.addDiagnostic("unterminated comment", cherrors.SeverityError, start, p.position())
	}

	return &ast.Comment{
		Span:  ast.NewSpan(start, p.position()),
		Style: ast.CommentServer,
		Text:  text,
	}
}

// ----------------------------------------------------------------------------
// Elements, components, slots, fragments
// ----------------------------------------------------------------------------

// parseFragment parses <>...</>; fragment children preserve whitespace
func (p *TemplateParser) parseFragment() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("<>"))

	children := p.parseNodes(nil, false)

	if p.startsWith("</>") {
		p.advanceN(len("</>"))
	} else {
		p.addDiagnostic("missing closing tag </>", cherrors.SeverityError, start, p.position())
	}

	return &ast.Fragment{
		Span:     ast.NewSpan(start, p.position()),
		Children: children,
		Preserve: true,
	}
}

// parseElementOrComponent parses <tag ...>...</tag>. A tag name starting
// with an uppercase letter is a component instance; the literal tag `slot`
// is a slot.
func (p *TemplateParser) parseElementOrComponent() ast.TemplateNode {
	start := p.position()
	p.advance() // consume '<'

	name := p.readTagName()
	if name == "" {
		pos := p.position()
		p.addDiagnostic("expected tag name", cherrors.SeverityError, start, pos)
		return nil
	}

	attrs, selfClosing := p.parseAttributes(name)

	if name == "slot" {
		return p.finishSlot(start, attrs, selfClosing)
	}

	first, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(first) {
		return p.finishComponent(start, name, attrs, selfClosing)
	}

	elem := &ast.Element{
		Name:        name,
		Attributes:  attrs,
		SelfClosing: selfClosing,
	}

	// Void tags never take children, closed or not
	if selfClosing || ast.IsVoidTag(name) {
		elem.SelfClosing = true
		elem.Span = ast.NewSpan(start, p.position())
		return elem
	}

	elem.Children = p.parseNodes(nil, false)
	p.expectClosingTag(name, start)
	elem.Span = ast.NewSpan(start, p.position())
	return elem
}

// expectClosingTag consumes </name> if present, otherwise records a
// diagnostic. A mismatched closing tag is reported but left unconsumed so
// an enclosing element can still match it (error recovery).
func (p *TemplateParser) expectClosingTag(name string, start lexer.Position) {
	if !p.startsWith("</") {
		p.addDiagnostic(fmt.Sprintf("missing closing tag </%s>", name), cherrors.SeverityError, start, p.position())
		return
	}

	// Peek the closing name without committing
	i := p.pos + 2
	j := i
	for j < len(p.source) && (isTagNameByte(p.source[j]) || p.source[j] == ':') {
		j++
	}
	closeName := p.source[i:j]

	if closeName != name {
		p.addDiagnostic(fmt.Sprintf("mismatched closing tag </%s>, expected </%s>", closeName, name),
			cherrors.SeverityError, p.position(), p.position())
		return
	}

	p.advanceN(j - p.pos)
	p.skipWhitespace()
	if p.cur() == '>' {
		p.advance()
	}
}

// finishSlot turns a parsed `slot` tag into a Slot node
func (p *TemplateParser) finishSlot(start lexer.Position, attrs []*ast.Attribute, selfClosing bool) ast.TemplateNode {
	slot := &ast.Slot{}
	for _, a := range attrs {
		if a.Name == "name" && a.Kind == ast.AttrStatic {
			slot.Name = a.Value
		}
	}
	if !selfClosing {
		slot.Fallback = p.parseNodes(nil, false)
		p.expectClosingTag("slot", start)
	}
	slot.Span = ast.NewSpan(start, p.position())
	return slot
}

// finishComponent turns a parsed uppercase tag into a Component instance.
// Attribute values become prop expressions evaluated in the caller's scope.
func (p *TemplateParser) finishComponent(start lexer.Position, name string, attrs []*ast.Attribute, selfClosing bool) ast.TemplateNode {
	comp := &ast.Component{Name: name, PropPaths: make(map[string]string)}

	for _, a := range attrs {
		expr := attributeExpression(a)
		if expr == nil {
			continue
		}
		comp.Props = append(comp.Props, ast.Prop{Name: a.Name, Expr: expr})
		if path, ok := expr.(*ast.Path); ok {
			comp.PropPaths[a.Name] = path.String()
		}
	}

	if !selfClosing {
		comp.Children = p.parseNodes(nil, false)
		p.expectClosingTag(name, start)
	}
	comp.Span = ast.NewSpan(start, p.position())
	return comp
}

// attributeExpression converts an attribute value to a prop expression.
// Mixed values fold into string concatenation, left to right.
func attributeExpression(a *ast.Attribute) ast.Expression {
	switch a.Kind {
	case ast.AttrExpr:
		return a.Expr
	case ast.AttrStatic:
		return &ast.StringLiteral{Span: a.Span, Value: a.Value}
	case ast.AttrMixed:
		var expr ast.Expression
		for _, part := range a.Parts {
			var next ast.Expression
			if part.Expr != nil {
				next = part.Expr
			} else {
				next = &ast.StringLiteral{Span: a.Span, Value: part.Literal}
			}
			if expr == nil {
				expr = next
			} else {
				expr = &ast.InfixExpression{Span: a.Span, Operator: "+", Left: expr, Right: next}
			}
		}
		return expr
	}
	return nil
}

// parseAttributes parses the attribute list of an open tag up to '>' or
// '/>'. Returns the attributes and whether the tag was self-closing.
func (p *TemplateParser) parseAttributes(tagName string) ([]*ast.Attribute, bool) {
	var attrs []*ast.Attribute

	for !p.eof() && !p.limitHit {
		p.skipWhitespace()

		if p.startsWith("/>") {
			p.advanceN(2)
			return attrs, true
		}
		if p.cur() == '>' {
			p.advance()
			return attrs, false
		}

		attr := p.parseAttribute()
		if attr == nil {
			// Unparseable character in the attribute list: skip it
			pos := p.position()
			p.advance()
			p.addDiagnostic(fmt.Sprintf("unexpected character in <%s ...>", tagName),
				cherrors.SeverityError, pos, p.position())
			continue
		}
		attrs = append(attrs, attr)
	}

	p.addDiagnostic(fmt.Sprintf("unterminated tag <%s", tagName), cherrors.SeverityError, p.position(), p.position())
	return attrs, false
}

// parseAttribute parses one attribute: name, name="value", name=$path,
// name=${expr} or name={expr}
func (p *TemplateParser) parseAttribute() *ast.Attribute {
	start := p.position()
	name := p.readAttrName()
	if name == "" {
		return nil
	}

	attr := &ast.Attribute{Name: name, Kind: ast.AttrStatic}

	if p.cur() != '=' {
		// Bare attribute: static with empty value
		attr.Span = ast.NewSpan(start, p.position())
		return attr
	}
	p.advance() // consume '='

	switch {
	case p.cur() == '"' || p.cur() == '\'':
		p.parseQuotedAttrValue(attr)
	case p.startsWith("${"):
		expr := p.parseExpressionSegment()
		if expr == nil {
			return nil
		}
		attr.Kind = ast.AttrExpr
		attr.Expr = expr
	case p.cur() == '{':
		p.advance()
		exprStart := p.position()
		src, ok := p.scanBalanced('{', '}', 1)
		if !ok || strings.TrimSpace(src) == "" {
			p.addDiagnostic(fmt.Sprintf("invalid attribute value for '%s'", name), cherrors.SeverityError, start, p.position())
			return nil
		}
		expr, diags := ParseExpression(src, exprStart, p.opts)
		p.diagnostics = append(p.diagnostics, diags...)
		if expr == nil {
			return nil
		}
		attr.Kind = ast.AttrExpr
		attr.Expr = expr
	case p.cur() == '$':
		expr := p.parsePathSegment()
		if expr == nil {
			pos := p.position()
			p.addDiagnostic(fmt.Sprintf("invalid attribute value for '%s'", name), cherrors.SeverityError, start, pos)
			return nil
		}
		attr.Kind = ast.AttrExpr
		attr.Expr = expr
	default:
		// Unquoted value, HTML-style: read to whitespace or tag end
		val := p.readBareValue()
		if val == "" {
			p.addDiagnostic(fmt.Sprintf("invalid attribute value for '%s'", name), cherrors.SeverityError, start, p.position())
			return nil
		}
		attr.Value = val
	}

	attr.Span = ast.NewSpan(start, p.position())
	return attr
}

// parseQuotedAttrValue parses a quoted attribute value that may embed
// ${expr} segments. One literal segment makes a static attribute, one
// expression segment makes an expr attribute, anything else is mixed.
func (p *TemplateParser) parseQuotedAttrValue(attr *ast.Attribute) {
	quote := p.cur()
	openPos := p.position()
	p.advance()

	var parts []ast.AttrPart
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, ast.AttrPart{Literal: lit.String()})
			lit.Reset()
		}
	}

	for !p.eof() && p.cur() != quote {
		if p.cur() == '\\' {
			next := p.peekAt(1)
			switch next {
			case '$', '{', '}', '\\', quote:
				lit.WriteByte(next)
				p.advanceN(2)
				continue
			}
		}
		if p.startsWith("${") {
			flush()
			expr := p.parseExpressionSegment()
			if expr != nil {
				parts = append(parts, ast.AttrPart{Expr: expr})
			}
			continue
		}
		if p.cur() == '$' && (isIdentByte(p.peekAt(1)) || (p.peekAt(1) == '.' && isIdentByte(p.peekAt(2)))) {
			flush()
			expr := p.parsePathSegment()
			if expr != nil {
				parts = append(parts, ast.AttrPart{Expr: expr})
			}
			continue
		}
		lit.WriteByte(p.cur())
		p.advance()
	}
	flush()

	if p.cur() == quote {
		p.advance()
	} else {
		p.addDiagnostic("unterminated attribute value", cherrors.SeverityError, openPos, p.position())
	}

	switch {
	case len(parts) == 0:
		attr.Kind = ast.AttrStatic
		attr.Value = ""
	case len(parts) == 1 && parts[0].Expr == nil:
		attr.Kind = ast.AttrStatic
		attr.Value = parts[0].Literal
	case len(parts) == 1:
		attr.Kind = ast.AttrExpr
		attr.Expr = parts[0].Expr
	default:
		attr.Kind = ast.AttrMixed
		attr.Parts = parts
	}
}

// readBareValue reads an unquoted attribute value
func (p *TemplateParser) readBareValue() string {
	start := p.pos
	for !p.eof() {
		c := p.cur()
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>' || c == '/' {
			break
		}
		p.advance()
	}
	return p.source[start:p.pos]
}

// ----------------------------------------------------------------------------
// Component definitions
// ----------------------------------------------------------------------------

// parseComponentDefinition parses
// <template:Name prop! prop="default" prop={expr}>body</template:Name>
func (p *TemplateParser) parseComponentDefinition() ast.TemplateNode {
	start := p.position()
	p.advanceN(len("<template:"))

	name := p.readTagName()
	if name == "" {
		pos := p.position()
		p.addDiagnostic("expected component name after 'template:'", cherrors.SeverityError, start, pos)
		p.skipPast('>')
		return nil
	}

	first, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsUpper(first) {
		p.addDiagnostic(fmt.Sprintf("component name '%s' should start with an uppercase letter", name),
			cherrors.SeverityWarning, start, p.position())
	}

	def := &ast.ComponentDefinition{Name: name}

	selfClosing := false
	for !p.eof() && !p.limitHit {
		p.skipWhitespace()
		if p.startsWith("/>") {
			p.advanceN(2)
			selfClosing = true
			break
		}
		if p.cur() == '>' {
			p.advance()
			break
		}

		decl, ok := p.parsePropDecl()
		if !ok {
			pos := p.position()
			p.advance()
			p.addDiagnostic(fmt.Sprintf("invalid prop declaration in <template:%s>", name),
				cherrors.SeverityError, pos, p.position())
			continue
		}
		def.Props = append(def.Props, decl)
	}

	if !selfClosing {
		def.Body = p.parseNodes(nil, false)
		p.expectClosingTag("template:"+name, start)
	}
	def.Span = ast.NewSpan(start, p.position())

	// Duplicate definitions are reported; the later definition wins
	if _, exists := p.components[name]; exists {
		p.addDiagnostic(fmt.Sprintf("duplicate definition of component '%s'", name),
			cherrors.SeverityWarning, start, p.position())
	}
	p.components[name] = def

	return def
}

// parsePropDecl parses one prop declaration: name, name!, name="default"
// or name={expr}
func (p *TemplateParser) parsePropDecl() (ast.PropDecl, bool) {
	decl := ast.PropDecl{}
	decl.Name = p.readIdent()
	if decl.Name == "" {
		return decl, false
	}

	if p.cur() == '!' {
		decl.Required = true
		p.advance()
	}

	if p.cur() != '=' {
		return decl, true
	}
	p.advance()

	declStart := p.position()
	switch {
	case p.cur() == '"' || p.cur() == '\'':
		attr := &ast.Attribute{Name: decl.Name}
		p.parseQuotedAttrValue(attr)
		expr := attributeExpression(attr)
		if expr == nil {
			return decl, false
		}
		decl.Default = expr
	case p.cur() == '{':
		p.advance()
		exprStart := p.position()
		src, ok := p.scanBalanced('{', '}', 1)
		if !ok || strings.TrimSpace(src) == "" {
			p.addDiagnostic(fmt.Sprintf("invalid default for prop '%s'", decl.Name),
				cherrors.SeverityError, declStart, p.position())
			return decl, false
		}
		expr, diags := ParseExpression(src, exprStart, p.opts)
		p.diagnostics = append(p.diagnostics, diags...)
		if expr == nil {
			return decl, false
		}
		decl.Default = expr
	default:
		p.addDiagnostic(fmt.Sprintf("invalid default for prop '%s'", decl.Name),
			cherrors.SeverityError, declStart, p.position())
		return decl, false
	}

	return decl, true
}

// ----------------------------------------------------------------------------
// Character-class helpers
// ----------------------------------------------------------------------------

// readIdent reads an identifier run at the cursor
func (p *TemplateParser) readIdent() string {
	start := p.pos
	for !p.eof() && isIdentByte(p.cur()) {
		p.advance()
	}
	return p.source[start:p.pos]
}

// readTagName reads a tag name (letters, digits, '-', '_')
func (p *TemplateParser) readTagName() string {
	start := p.pos
	for !p.eof() && isTagNameByte(p.cur()) {
		p.advance()
	}
	return p.source[start:p.pos]
}

// readAttrName reads an attribute name (letters, digits, '-', '_', ':')
func (p *TemplateParser) readAttrName() string {
	start := p.pos
	for !p.eof() {
		c := p.cur()
		if isTagNameByte(c) || c == ':' {
			p.advance()
			continue
		}
		break
	}
	return p.source[start:p.pos]
}

// scanIdent returns the end index of an identifier starting at i, or i if
// none is present
func scanIdent(s string, i int) int {
	if i >= len(s) || !isIdentStartByte(s[i]) {
		return i
	}
	j := i + 1
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	return j
}

func isIdentStartByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || ('0' <= c && c <= '9')
}

func isTagNameStart(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isTagNameByte(c byte) bool {
	return isIdentByte(c) || c == '-'
}
