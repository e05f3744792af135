// Package parser contains the two Chervil parsers: a precedence-climbing
// expression parser and a recursive-descent template parser. Both accumulate
// located diagnostics and recover instead of aborting wherever possible.
package parser

import (
	"fmt"
	"strconv"

	"github.com/sambeau/chervil/pkg/chervil/ast"
	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// Precedence levels for operators, loosest to tightest
const (
	LOWEST      int = iota
	TERNARY         // ?:
	NULLISH         // ??
	LOGIC_OR        // ||
	LOGIC_AND       // &&
	EQUALS          // == !=
	LESSGREATER     // < > <= >=
	SUM             // + -
	PRODUCT         // * / %
	PREFIX          // -x !x
	CALL            // name(x)
)

// Default guard values. Templates are user-authored, so the parser must not
// be able to crash or hang the host process on any input.
const (
	DefaultMaxExprDepth       = 15
	DefaultMaxInfixIterations = 500
	arrowLookaheadTokens      = 20
)

// precedenceOf maps a token type to its binding precedence
func precedenceOf(t lexer.TokenType) int {
	switch t {
	case lexer.QUESTION:
		return TERNARY
	case lexer.NULLISH:
		return NULLISH
	case lexer.OR:
		return LOGIC_OR
	case lexer.AND:
		return LOGIC_AND
	case lexer.EQ, lexer.NOT_EQ:
		return EQUALS
	case lexer.LT, lexer.GT, lexer.LTE, lexer.GTE:
		return LESSGREATER
	case lexer.PLUS, lexer.MINUS:
		return SUM
	case lexer.ASTERISK, lexer.SLASH, lexer.PERCENT:
		return PRODUCT
	case lexer.LPAREN:
		return CALL
	default:
		return LOWEST
	}
}

// ExprParser parses a single embedded expression. A fresh instance is
// created for every expression, so no state leaks between parses.
type ExprParser struct {
	l *lexer.Lexer

	curToken  lexer.Token
	peekToken lexer.Token

	diagnostics []cherrors.Diagnostic
	fatal       bool

	depth    int
	maxDepth int
	maxInfix int
}

// NewExprParser creates an expression parser over source, reporting
// positions relative to at. Zero-valued limits in opts select the
// package defaults.
func NewExprParser(source string, at lexer.Position, opts Options) *ExprParser {
	opts = opts.withDefaults()
	p := &ExprParser{
		l:        lexer.NewAt(source, at),
		maxDepth: opts.MaxExprDepth,
		maxInfix: opts.MaxInfixIterations,
	}
	// Read two tokens so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()
	return p
}

// ParseExpression parses source as a single expression. It returns the
// expression (nil when nothing could be built) and the ordered diagnostics.
func ParseExpression(source string, at lexer.Position, opts Options) (ast.Expression, []cherrors.Diagnostic) {
	p := NewExprParser(source, at, opts)
	expr := p.Parse()
	return expr, p.Diagnostics()
}

// Diagnostics returns the accumulated diagnostics, including any lexer
// errors converted into diagnostics.
func (p *ExprParser) Diagnostics() []cherrors.Diagnostic {
	diags := p.diagnostics
	for _, lerr := range p.l.Errors() {
		sev := cherrors.SeverityWarning
		if lerr.Fatal {
			sev = cherrors.SeverityError
		}
		diags = append(diags, cherrors.Diagnostic{
			Message:  lerr.Msg,
			Severity: sev,
			Start:    lerr.Pos,
			End:      lerr.Pos,
		})
	}
	return diags
}

// Parse parses the whole input as one expression
func (p *ExprParser) Parse() ast.Expression {
	if p.curTokenIs(lexer.EOF) {
		p.addError("empty expression", p.curToken.Pos, p.curToken.Pos)
		return nil
	}

	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}

	// A fatal lexer error (unterminated string) invalidates the result
	for _, lerr := range p.l.Errors() {
		if lerr.Fatal {
			return nil
		}
	}

	if !p.peekTokenIs(lexer.EOF) && !p.fatal {
		p.addError(fmt.Sprintf("unexpected token '%s'", p.peekToken.Literal), p.peekToken.Pos, p.peekToken.End())
	}
	return expr
}

// nextToken advances curToken and peekToken
func (p *ExprParser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *ExprParser) curTokenIs(t lexer.TokenType) bool  { return p.curToken.Type == t }
func (p *ExprParser) peekTokenIs(t lexer.TokenType) bool { return p.peekToken.Type == t }

// expectPeek advances if the peek token matches, otherwise records an error
func (p *ExprParser) expectPeek(t lexer.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got '%s'", t.String(), p.peekToken.Literal),
		p.peekToken.Pos, p.peekToken.End())
	return false
}

// addError records an error diagnostic. After a fatal error only the first
// diagnostic is kept - later ones are cascading noise.
func (p *ExprParser) addError(msg string, start, end lexer.Position) {
	if p.fatal {
		return
	}
	p.diagnostics = append(p.diagnostics, cherrors.Diagnostic{
		Message:  msg,
		Severity: cherrors.SeverityError,
		Start:    start,
		End:      end,
	})
}

// addFatal records an error diagnostic and stops the parse
func (p *ExprParser) addFatal(msg string, start, end lexer.Position) {
	p.addError(msg, start, end)
	p.fatal = true
}

// parseExpression parses one prefix production and then consumes infix
// productions while the next token binds tighter than minPrecedence.
func (p *ExprParser) parseExpression(minPrecedence int) ast.Expression {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > p.maxDepth {
		p.addFatal("maximum expression nesting depth exceeded", p.curToken.Pos, p.curToken.End())
		return nil
	}

	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	// The iteration budget guards against pathological inputs that would
	// otherwise spin here indefinitely.
	for iterations := 0; !p.peekTokenIs(lexer.EOF) && minPrecedence < precedenceOf(p.peekToken.Type); iterations++ {
		if iterations >= p.maxInfix {
			p.addFatal("expression too long", p.curToken.Pos, p.curToken.End())
			return nil
		}
		if p.fatal {
			return nil
		}
		p.nextToken()
		left = p.parseInfix(left)
		if left == nil {
			return nil
		}
	}

	return left
}

// parsePrefix dispatches on the current token kind. This is the
// tagged-variant equivalent of a prefix-parser lookup table.
func (p *ExprParser) parsePrefix() ast.Expression {
	// Unrecognized characters are reported and skipped
	for p.curTokenIs(lexer.ILLEGAL) && !p.fatal {
		for _, lerr := range p.l.Errors() {
			if lerr.Fatal {
				p.fatal = true
				return nil
			}
		}
		p.nextToken()
	}
	if p.fatal {
		return nil
	}

	switch p.curToken.Type {
	case lexer.NUMBER:
		return p.parseNumberLiteral()
	case lexer.STRING:
		tok := p.curToken
		return &ast.StringLiteral{Span: ast.NewSpan(tok.Pos, tok.End()), Value: tok.Literal}
	case lexer.TRUE, lexer.FALSE:
		tok := p.curToken
		return &ast.BooleanLiteral{Span: ast.NewSpan(tok.Pos, tok.End()), Value: tok.Type == lexer.TRUE}
	case lexer.NULL:
		tok := p.curToken
		return &ast.NullLiteral{Span: ast.NewSpan(tok.Pos, tok.End())}
	case lexer.IDENT:
		if p.peekTokenIs(lexer.LPAREN) {
			return p.parseCall()
		}
		if p.peekTokenIs(lexer.ARROW) {
			return p.parseSingleParamFunction()
		}
		return p.parsePath(false)
	case lexer.DOLLAR:
		return p.parseDollarPath()
	case lexer.BANG, lexer.MINUS:
		return p.parsePrefixExpression()
	case lexer.LPAREN:
		return p.parseGroupedOrFunction()
	case lexer.EOF:
		p.addError("unexpected end of expression", p.curToken.Pos, p.curToken.Pos)
		return nil
	default:
		p.addError(fmt.Sprintf("unexpected token '%s'", p.curToken.Literal), p.curToken.Pos, p.curToken.End())
		return nil
	}
}

// parseInfix dispatches on the current (operator) token kind. This is the
// tagged-variant equivalent of an infix-parser lookup table.
func (p *ExprParser) parseInfix(left ast.Expression) ast.Expression {
	switch p.curToken.Type {
	case lexer.PLUS, lexer.MINUS, lexer.ASTERISK, lexer.SLASH, lexer.PERCENT,
		lexer.EQ, lexer.NOT_EQ, lexer.LT, lexer.GT, lexer.LTE, lexer.GTE,
		lexer.AND, lexer.OR, lexer.NULLISH:
		return p.parseInfixExpression(left)
	case lexer.QUESTION:
		return p.parseTernary(left)
	default:
		p.addError(fmt.Sprintf("unexpected token '%s'", p.curToken.Literal), p.curToken.Pos, p.curToken.End())
		return nil
	}
}

// parseNumberLiteral parses a numeric literal
func (p *ExprParser) parseNumberLiteral() ast.Expression {
	tok := p.curToken
	value, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		p.addError(fmt.Sprintf("invalid number literal: %s", tok.Literal), tok.Pos, tok.End())
		return nil
	}
	return &ast.NumberLiteral{Span: ast.NewSpan(tok.Pos, tok.End()), Value: value, Literal: tok.Literal}
}

// parsePrefixExpression parses !expr and -expr
func (p *ExprParser) parsePrefixExpression() ast.Expression {
	tok := p.curToken
	p.nextToken()
	right := p.parseExpression(PREFIX)
	if right == nil {
		return nil
	}
	return &ast.PrefixExpression{
		Span:     ast.NewSpan(tok.Pos, right.End()),
		Operator: tok.Literal,
		Right:    right,
	}
}

// parseInfixExpression parses a binary operator expression
func (p *ExprParser) parseInfixExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	precedence := precedenceOf(tok.Type)
	p.nextToken()
	right := p.parseExpression(precedence)
	if right == nil {
		return nil
	}
	return &ast.InfixExpression{
		Span:     ast.NewSpan(left.Pos(), right.End()),
		Operator: tok.Literal,
		Left:     left,
		Right:    right,
	}
}

// parseTernary parses cond ? truthy : falsy. The false arm re-enters at
// ternary precedence, making chained ternaries right-associative.
func (p *ExprParser) parseTernary(cond ast.Expression) ast.Expression {
	p.nextToken()
	truthy := p.parseExpression(LOWEST)
	if truthy == nil {
		return nil
	}
	if !p.expectPeek(lexer.COLON) {
		return nil
	}
	p.nextToken()
	falsy := p.parseExpression(TERNARY - 1)
	if falsy == nil {
		return nil
	}
	return &ast.TernaryExpression{
		Span:      ast.NewSpan(cond.Pos(), falsy.End()),
		Condition: cond,
		Truthy:    truthy,
		Falsy:     falsy,
	}
}

// parseCall parses name(arg, arg, ...)
func (p *ExprParser) parseCall() ast.Expression {
	nameTok := p.curToken
	p.nextToken() // now on LPAREN

	var args []ast.Expression
	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
	} else {
		p.nextToken()
		arg := p.parseExpression(LOWEST)
		if arg == nil {
			return nil
		}
		args = append(args, arg)
		for p.peekTokenIs(lexer.COMMA) {
			p.nextToken()
			p.nextToken()
			arg := p.parseExpression(LOWEST)
			if arg == nil {
				return nil
			}
			args = append(args, arg)
		}
		if !p.expectPeek(lexer.RPAREN) {
			return nil
		}
	}

	return &ast.CallExpression{
		Span: ast.NewSpan(nameTok.Pos, p.curToken.End()),
		Name: nameTok.Literal,
		Args: args,
	}
}

// parsePath parses a dotted/bracketed path starting at the current IDENT.
// Any wildcard segment promotes the result to an ArrayWildcard node.
func (p *ExprParser) parsePath(global bool) ast.Expression {
	startTok := p.curToken
	path := &ast.Path{
		Global:   global,
		Segments: []ast.PathSegment{{Kind: ast.SegKey, Key: p.curToken.Literal}},
	}
	end := p.curToken.End()

	for {
		switch {
		case p.peekTokenIs(lexer.DOT):
			p.nextToken()
			if !p.expectPeek(lexer.IDENT) {
				return nil
			}
			path.Segments = append(path.Segments, ast.PathSegment{Kind: ast.SegKey, Key: p.curToken.Literal})
			end = p.curToken.End()
		case p.peekTokenIs(lexer.LBRACKET):
			p.nextToken()
			seg, ok := p.parseBracketSegment()
			if !ok {
				return nil
			}
			path.Segments = append(path.Segments, seg)
			end = p.curToken.End()
		default:
			path.Span = ast.NewSpan(startTok.Pos, end)
			if path.HasStar() {
				return &ast.ArrayWildcard{Span: path.Span, Path: path}
			}
			return path
		}
	}
}

// parseBracketSegment parses [int] or [*], with curToken on the '['
func (p *ExprParser) parseBracketSegment() (ast.PathSegment, bool) {
	switch {
	case p.peekTokenIs(lexer.ASTERISK):
		p.nextToken()
		if !p.expectPeek(lexer.RBRACKET) {
			return ast.PathSegment{}, false
		}
		return ast.PathSegment{Kind: ast.SegStar}, true
	case p.peekTokenIs(lexer.NUMBER):
		p.nextToken()
		idx, err := strconv.Atoi(p.curToken.Literal)
		if err != nil {
			p.addError(fmt.Sprintf("invalid index '%s'", p.curToken.Literal), p.curToken.Pos, p.curToken.End())
			return ast.PathSegment{}, false
		}
		if !p.expectPeek(lexer.RBRACKET) {
			return ast.PathSegment{}, false
		}
		return ast.PathSegment{Kind: ast.SegIndex, Index: idx}, true
	default:
		p.addError(fmt.Sprintf("expected index or '*' in brackets, got '%s'", p.peekToken.Literal),
			p.peekToken.Pos, p.peekToken.End())
		return ast.PathSegment{}, false
	}
}

// parseDollarPath parses $name, $name.path and $.globalPath
func (p *ExprParser) parseDollarPath() ast.Expression {
	dollarTok := p.curToken

	if p.peekTokenIs(lexer.DOT) {
		// $.name - explicit global path
		p.nextToken()
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		expr := p.parsePath(true)
		if expr == nil {
			return nil
		}
		// Re-anchor the span at the dollar sign
		switch e := expr.(type) {
		case *ast.Path:
			e.Span = ast.NewSpan(dollarTok.Pos, e.End())
		case *ast.ArrayWildcard:
			e.Span = ast.NewSpan(dollarTok.Pos, e.End())
			e.Path.Span = e.Span
		}
		return expr
	}

	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	expr := p.parsePath(false)
	if expr == nil {
		return nil
	}
	switch e := expr.(type) {
	case *ast.Path:
		e.Span = ast.NewSpan(dollarTok.Pos, e.End())
	case *ast.ArrayWildcard:
		e.Span = ast.NewSpan(dollarTok.Pos, e.End())
		e.Path.Span = e.Span
	}
	return expr
}

// parseSingleParamFunction parses x => expr
func (p *ExprParser) parseSingleParamFunction() ast.Expression {
	paramTok := p.curToken
	p.nextToken() // now on ARROW
	p.nextToken()
	body := p.parseExpression(LOWEST)
	if body == nil {
		return nil
	}
	return &ast.FunctionLiteral{
		Span:   ast.NewSpan(paramTok.Pos, body.End()),
		Params: []string{paramTok.Literal},
		Body:   body,
	}
}

// parseGroupedOrFunction disambiguates (expr) from (a, b) => expr by
// bounded lookahead for a following arrow.
func (p *ExprParser) parseGroupedOrFunction() ast.Expression {
	if p.isArrowParameterList() {
		return p.parseFunctionLiteral()
	}

	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}
	if !p.expectPeek(lexer.RPAREN) {
		return nil
	}
	return expr
}

// isArrowParameterList looks ahead from a '(' for `ident (, ident)* ) =>`.
// Lookahead is bounded so malformed input cannot make this scan the whole
// source.
func (p *ExprParser) isArrowParameterList() bool {
	state := p.l.SaveState()
	savedCur, savedPeek := p.curToken, p.peekToken
	defer func() {
		p.l.RestoreState(state)
		p.curToken, p.peekToken = savedCur, savedPeek
	}()

	expectIdent := true
	for i := 0; i < arrowLookaheadTokens; i++ {
		tok := p.peekToken
		p.nextToken()
		switch {
		case tok.Type == lexer.RPAREN:
			return p.peekToken.Type == lexer.ARROW
		case expectIdent && tok.Type == lexer.IDENT:
			expectIdent = false
		case !expectIdent && tok.Type == lexer.COMMA:
			expectIdent = true
		case expectIdent && tok.Type == lexer.RPAREN:
			// () => expr : empty parameter list
			return p.peekToken.Type == lexer.ARROW
		default:
			return false
		}
	}
	return false
}

// parseFunctionLiteral parses (a, b) => expr, with curToken on the '('
func (p *ExprParser) parseFunctionLiteral() ast.Expression {
	startTok := p.curToken
	var params []string

	if p.peekTokenIs(lexer.RPAREN) {
		p.nextToken()
	} else {
		for {
			if !p.expectPeek(lexer.IDENT) {
				return nil
			}
			params = append(params, p.curToken.Literal)
			if p.peekTokenIs(lexer.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		if !p.expectPeek(lexer.RPAREN) {
			return nil
		}
	}

	if !p.expectPeek(lexer.ARROW) {
		return nil
	}
	p.nextToken()
	body := p.parseExpression(LOWEST)
	if body == nil {
		return nil
	}
	return &ast.FunctionLiteral{
		Span:   ast.NewSpan(startTok.Pos, body.End()),
		Params: params,
		Body:   body,
	}
}
