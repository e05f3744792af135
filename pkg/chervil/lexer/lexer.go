package lexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// TokenType represents different types of tokens
type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Identifiers and literals
	IDENT  // items, title, price
	NUMBER // 42, 3.14
	STRING // "hello"

	// Operators
	PLUS     // +
	MINUS    // -
	ASTERISK // *
	SLASH    // /
	PERCENT  // %
	BANG     // !
	LT       // <
	GT       // >
	LTE      // <=
	GTE      // >=
	EQ       // ==
	NOT_EQ   // !=
	AND      // &&
	OR       // ||
	NULLISH  // ??
	QUESTION // ?
	COLON    // :
	ASSIGN   // =
	ARROW    // =>

	// Delimiters
	COMMA    // ,
	DOT      // .
	DOLLAR   // $
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]
	LBRACE   // {
	RBRACE   // }

	// Keywords
	TRUE  // "true"
	FALSE // "false"
	NULL  // "null" or "nil"
)

// String returns a string representation of the token type
func (tt TokenType) String() string {
	switch tt {
	case ILLEGAL:
		return "ILLEGAL"
	case EOF:
		return "EOF"
	case IDENT:
		return "IDENT"
	case NUMBER:
		return "NUMBER"
	case STRING:
		return "STRING"
	case PLUS:
		return "+"
	case MINUS:
		return "-"
	case ASTERISK:
		return "*"
	case SLASH:
		return "/"
	case PERCENT:
		return "%"
	case BANG:
		return "!"
	case LT:
		return "<"
	case GT:
		return ">"
	case LTE:
		return "<="
	case GTE:
		return ">="
	case EQ:
		return "=="
	case NOT_EQ:
		return "!="
	case AND:
		return "&&"
	case OR:
		return "||"
	case NULLISH:
		return "??"
	case QUESTION:
		return "?"
	case COLON:
		return ":"
	case ASSIGN:
		return "="
	case ARROW:
		return "=>"
	case COMMA:
		return ","
	case DOT:
		return "."
	case DOLLAR:
		return "$"
	case LPAREN:
		return "("
	case RPAREN:
		return ")"
	case LBRACKET:
		return "["
	case RBRACKET:
		return "]"
	case LBRACE:
		return "{"
	case RBRACE:
		return "}"
	case TRUE:
		return "true"
	case FALSE:
		return "false"
	case NULL:
		return "null"
	default:
		return "UNKNOWN"
	}
}

// Position is a location in the original template source.
// Line and Column are 1-based, Offset is a 0-based byte offset.
type Position struct {
	Line   int
	Column int
	Offset int
}

// String returns a string representation of the position
func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Before reports whether p comes before other in the source.
func (p Position) Before(other Position) bool {
	return p.Offset < other.Offset
}

// Token represents a single token. Tokens are immutable once produced.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	// Width is the token's byte length in the source. Zero means the
	// Literal is verbatim source text; string tokens set it because their
	// Literal has the quotes stripped and escapes decoded.
	Width int
}

// End returns the position just past the last character of the token.
func (t Token) End() Position {
	w := t.Width
	if w == 0 {
		w = len(t.Literal)
	}
	return Position{
		Line:   t.Pos.Line,
		Column: t.Pos.Column + w,
		Offset: t.Pos.Offset + w,
	}
}

// String returns a string representation of the token
func (t Token) String() string {
	return fmt.Sprintf("{Type: %s, Literal: %q, Line: %d, Column: %d}",
		t.Type.String(), t.Literal, t.Pos.Line, t.Pos.Column)
}

// keywords maps identifier spellings to keyword token types
var keywords = map[string]TokenType{
	"true":  TRUE,
	"false": FALSE,
	"null":  NULL,
	"nil":   NULL,
}

// Error records a lexical error with its position. Fatal errors (an
// unterminated string) abort the surrounding expression parse; non-fatal
// ones are reported and skipped.
type Error struct {
	Msg   string
	Pos   Position
	Fatal bool
}

// Lexer turns expression source text into tokens. A fresh lexer is created
// for every embedded expression, so positions are tracked against a base
// position inside the enclosing template.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination (first byte)
	chRune       rune // current character as a rune (for Unicode support)
	chSize       int  // byte size of current character (1 for ASCII, 1-4 for UTF-8)
	line         int  // current line number
	column       int  // current column number
	baseOffset   int  // byte offset of input[0] in the enclosing source
	errors       []Error
}

// New creates a new lexer instance for standalone expression source
func New(input string) *Lexer {
	return NewAt(input, Position{Line: 1, Column: 1, Offset: 0})
}

// NewAt creates a new lexer whose positions are reported relative to pos,
// the location of input[0] within the enclosing template source.
func NewAt(input string, pos Position) *Lexer {
	l := &Lexer{
		input:      input,
		line:       pos.Line,
		column:     pos.Column - 1,
		baseOffset: pos.Offset,
	}
	l.readChar()
	return l
}

// Errors returns the lexical errors encountered so far
func (l *Lexer) Errors() []Error {
	return l.errors
}

// addError records a lexical error at the given position
func (l *Lexer) addError(msg string, pos Position) {
	l.errors = append(l.errors, Error{Msg: msg, Pos: pos})
}

// addFatalError records a lexical error that aborts the expression parse
func (l *Lexer) addFatalError(msg string, pos Position) {
	l.errors = append(l.errors, Error{Msg: msg, Pos: pos, Fatal: true})
}

// State holds the state of a lexer for save/restore
type State struct {
	position     int
	readPosition int
	ch           byte
	chRune       rune
	chSize       int
	line         int
	column       int
	errorCount   int
}

// SaveState saves the current lexer state for potential restoration
func (l *Lexer) SaveState() State {
	return State{
		position:     l.position,
		readPosition: l.readPosition,
		ch:           l.ch,
		chRune:       l.chRune,
		chSize:       l.chSize,
		line:         l.line,
		column:       l.column,
		errorCount:   len(l.errors),
	}
}

// RestoreState restores the lexer to a previously saved state
func (l *Lexer) RestoreState(state State) {
	l.position = state.position
	l.readPosition = state.readPosition
	l.ch = state.ch
	l.chRune = state.chRune
	l.chSize = state.chSize
	l.line = state.line
	l.column = state.column
	l.errors = l.errors[:state.errorCount]
}

// pos returns the position of the current character
func (l *Lexer) pos() Position {
	return Position{Line: l.line, Column: l.column, Offset: l.baseOffset + l.position}
}

// readChar reads the next character and advances position.
// Uses a hybrid approach: ASCII fast-path for single-byte characters,
// UTF-8 decoding for multi-byte characters (to support Unicode identifiers).
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0 // ASCII NUL represents EOF
		l.chRune = 0
		l.chSize = 0
		l.position = l.readPosition
		l.column++
		return
	}

	b := l.input[l.readPosition]

	// ASCII fast-path: single-byte characters (most common case)
	if b < utf8.RuneSelf {
		l.ch = b
		l.chRune = rune(b)
		l.chSize = 1
		l.position = l.readPosition
		l.readPosition++

		if l.ch == '\n' {
			l.line++
			l.column = 0
		} else {
			l.column++
		}
		return
	}

	// Non-ASCII: decode the full UTF-8 rune
	r, size := utf8.DecodeRuneInString(l.input[l.readPosition:])
	l.ch = b
	l.chRune = r
	l.chSize = size
	l.position = l.readPosition
	l.readPosition += size

	l.column++
}

// peekChar returns the next character without advancing position
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// newToken creates a single-character token at the current position
func (l *Lexer) newToken(tokenType TokenType, ch byte) Token {
	return Token{Type: tokenType, Literal: string(ch), Pos: l.pos()}
}

// twoCharToken creates a two-character token, consuming the second character
func (l *Lexer) twoCharToken(tokenType TokenType) Token {
	pos := l.pos()
	first := l.ch
	l.readChar()
	return Token{Type: tokenType, Literal: string(first) + string(l.ch), Pos: pos}
}

// NextToken scans the input and returns the next token
func (l *Lexer) NextToken() Token {
	var tok Token

	l.skipWhitespace()

	switch l.ch {
	case '+':
		tok = l.newToken(PLUS, l.ch)
	case '-':
		tok = l.newToken(MINUS, l.ch)
	case '*':
		tok = l.newToken(ASTERISK, l.ch)
	case '/':
		tok = l.newToken(SLASH, l.ch)
	case '%':
		tok = l.newToken(PERCENT, l.ch)
	case '!':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(NOT_EQ)
		} else {
			tok = l.newToken(BANG, l.ch)
		}
	case '<':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(LTE)
		} else {
			tok = l.newToken(LT, l.ch)
		}
	case '>':
		if l.peekChar() == '=' {
			tok = l.twoCharToken(GTE)
		} else {
			tok = l.newToken(GT, l.ch)
		}
	case '=':
		switch l.peekChar() {
		case '=':
			tok = l.twoCharToken(EQ)
		case '>':
			tok = l.twoCharToken(ARROW)
		default:
			tok = l.newToken(ASSIGN, l.ch)
		}
	case '&':
		if l.peekChar() == '&' {
			tok = l.twoCharToken(AND)
		} else {
			tok = l.newToken(ILLEGAL, l.ch)
			l.addError("unexpected character '&' (did you mean '&&'?)", tok.Pos)
		}
	case '|':
		if l.peekChar() == '|' {
			tok = l.twoCharToken(OR)
		} else {
			tok = l.newToken(ILLEGAL, l.ch)
			l.addError("unexpected character '|' (did you mean '||'?)", tok.Pos)
		}
	case '?':
		if l.peekChar() == '?' {
			tok = l.twoCharToken(NULLISH)
		} else {
			tok = l.newToken(QUESTION, l.ch)
		}
	case ':':
		tok = l.newToken(COLON, l.ch)
	case ',':
		tok = l.newToken(COMMA, l.ch)
	case '.':
		tok = l.newToken(DOT, l.ch)
	case '$':
		tok = l.newToken(DOLLAR, l.ch)
	case '(':
		tok = l.newToken(LPAREN, l.ch)
	case ')':
		tok = l.newToken(RPAREN, l.ch)
	case '[':
		tok = l.newToken(LBRACKET, l.ch)
	case ']':
		tok = l.newToken(RBRACKET, l.ch)
	case '{':
		tok = l.newToken(LBRACE, l.ch)
	case '}':
		tok = l.newToken(RBRACE, l.ch)
	case '"', '\'':
		return l.readString(l.ch)
	case 0:
		tok = Token{Type: EOF, Literal: "", Pos: l.pos()}
		return tok
	default:
		if isDigit(l.ch) {
			return l.readNumber()
		}
		if isIdentStart(l.chRune) {
			return l.readIdentifier()
		}
		// Unrecognized character: report rather than silently skip
		tok = Token{Type: ILLEGAL, Literal: string(l.chRune), Pos: l.pos()}
		l.addError(fmt.Sprintf("unexpected character %q", l.chRune), tok.Pos)
	}

	l.readChar()
	return tok
}

// skipWhitespace consumes spaces, tabs and newlines
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readIdentifier reads an identifier or keyword run
func (l *Lexer) readIdentifier() Token {
	pos := l.pos()
	start := l.position
	for isIdentStart(l.chRune) || isDigit(l.ch) {
		l.readChar()
	}
	literal := l.input[start:l.position]
	tokType := IDENT
	if kw, ok := keywords[literal]; ok {
		tokType = kw
	}
	return Token{Type: tokType, Literal: literal, Pos: pos}
}

// readNumber reads an integer or decimal number literal
func (l *Lexer) readNumber() Token {
	pos := l.pos()
	start := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	// Fractional part: only if the dot is followed by a digit, so that
	// path expressions like items[0].price lex the dot separately.
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: NUMBER, Literal: l.input[start:l.position], Pos: pos}
}

// readString reads a quoted string literal with backslash escapes.
// An unterminated string is a hard failure: an ILLEGAL token is returned
// and an error is recorded for the parser to surface.
func (l *Lexer) readString(quote byte) Token {
	pos := l.pos()
	start := l.position
	l.readChar() // consume opening quote

	var out []byte
	for l.ch != quote {
		if l.ch == 0 || l.ch == '\n' {
			l.addFatalError("unterminated string", pos)
			return Token{Type: ILLEGAL, Literal: string(out), Pos: pos, Width: l.position - start}
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '\\', '\'', '"', '$', '{', '}':
				out = append(out, l.ch)
			case 0:
				l.addFatalError("unterminated string", pos)
				return Token{Type: ILLEGAL, Literal: string(out), Pos: pos, Width: l.position - start}
			default:
				// Unknown escape: keep the character as-is
				out = append(out, '\\', l.ch)
			}
			l.readChar()
			continue
		}
		if l.chSize > 1 {
			out = append(out, l.input[l.position:l.position+l.chSize]...)
		} else {
			out = append(out, l.ch)
		}
		l.readChar()
	}
	l.readChar() // consume closing quote
	return Token{Type: STRING, Literal: string(out), Pos: pos, Width: l.position - start}
}

// isDigit reports whether ch is an ASCII digit
func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// isIdentStart reports whether r can start or continue an identifier
func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}
