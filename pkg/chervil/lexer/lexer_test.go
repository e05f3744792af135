package lexer

import (
	"testing"
)

func TestNextTokenOperators(t *testing.T) {
	input := `+ - * / % ! < > <= >= == != && || ?? ? : = => , . $ ( ) [ ] { }`

	expected := []struct {
		typ     TokenType
		literal string
	}{
		{PLUS, "+"}, {MINUS, "-"}, {ASTERISK, "*"}, {SLASH, "/"}, {PERCENT, "%"},
		{BANG, "!"}, {LT, "<"}, {GT, ">"}, {LTE, "<="}, {GTE, ">="},
		{EQ, "=="}, {NOT_EQ, "!="}, {AND, "&&"}, {OR, "||"}, {NULLISH, "??"},
		{QUESTION, "?"}, {COLON, ":"}, {ASSIGN, "="}, {ARROW, "=>"},
		{COMMA, ","}, {DOT, "."}, {DOLLAR, "$"},
		{LPAREN, "("}, {RPAREN, ")"}, {LBRACKET, "["}, {RBRACKET, "]"},
		{LBRACE, "{"}, {RBRACE, "}"},
		{EOF, ""},
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ {
			t.Fatalf("token %d: expected type %s, got %s (%q)", i, want.typ, tok.Type, tok.Literal)
		}
		if tok.Literal != want.literal {
			t.Fatalf("token %d: expected literal %q, got %q", i, want.literal, tok.Literal)
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	input := `true false null nil items total_price café`

	expected := []struct {
		typ     TokenType
		literal string
	}{
		{TRUE, "true"}, {FALSE, "false"}, {NULL, "null"}, {NULL, "nil"},
		{IDENT, "items"}, {IDENT, "total_price"}, {IDENT, "café"},
		{EOF, ""},
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ || tok.Literal != want.literal {
			t.Fatalf("token %d: expected {%s %q}, got {%s %q}", i, want.typ, want.literal, tok.Type, tok.Literal)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		input    string
		literals []string
	}{
		{"42", []string{"42"}},
		{"3.14", []string{"3.14"}},
		{"0.5 10", []string{"0.5", "10"}},
	}

	for _, tt := range tests {
		l := New(tt.input)
		for i, want := range tt.literals {
			tok := l.NextToken()
			if tok.Type != NUMBER {
				t.Fatalf("%q token %d: expected NUMBER, got %s", tt.input, i, tok.Type)
			}
			if tok.Literal != want {
				t.Fatalf("%q token %d: expected %q, got %q", tt.input, i, want, tok.Literal)
			}
		}
	}
}

// The dot after an index must lex as DOT, not start a fraction, so paths
// like items[0].price tokenize correctly.
func TestNumberThenDotIsPath(t *testing.T) {
	l := New("items[0].price")

	expected := []TokenType{IDENT, LBRACKET, NUMBER, RBRACKET, DOT, IDENT, EOF}
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token %d: expected %s, got %s (%q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{`"say \"hi\""`, `say "hi"`},
		{`"a\nb\tc"`, "a\nb\tc"},
		{`"dollar \$ brace \{"`, "dollar $ brace {"},
		{`"héllo"`, "héllo"},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != STRING {
			t.Fatalf("%q: expected STRING, got %s", tt.input, tok.Type)
		}
		if tok.Literal != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.input, tt.want, tok.Literal)
		}
	}
}

// A string token's span covers the quotes and escape sequences as written
// in the source, not just the decoded content.
func TestStringTokenSpan(t *testing.T) {
	l := New(`"a\"b" + x`)

	tok := l.NextToken()
	if tok.Type != STRING || tok.Literal != `a"b` {
		t.Fatalf("expected STRING a\"b, got {%s %q}", tok.Type, tok.Literal)
	}
	if got := tok.End(); got.Offset != 6 || got.Column != 7 {
		t.Errorf("string end: expected offset 6 column 7, got offset %d column %d", got.Offset, got.Column)
	}

	// The next token starts past the string's source span
	tok = l.NextToken()
	if tok.Type != PLUS || tok.Pos.Offset != 7 {
		t.Errorf("expected + at offset 7, got {%s offset %d}", tok.Type, tok.Pos.Offset)
	}
}

func TestUnterminatedStringIsFatal(t *testing.T) {
	l := New(`"abc`)
	tok := l.NextToken()
	if tok.Type != ILLEGAL {
		t.Fatalf("expected ILLEGAL token, got %s", tok.Type)
	}
	errs := l.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 lexer error, got %d", len(errs))
	}
	if !errs[0].Fatal {
		t.Errorf("unterminated string should be fatal")
	}
	if errs[0].Msg != "unterminated string" {
		t.Errorf("unexpected message %q", errs[0].Msg)
	}
}

func TestUnrecognizedCharacterIsReported(t *testing.T) {
	l := New("a # b")

	tok := l.NextToken()
	if tok.Type != IDENT {
		t.Fatalf("expected IDENT, got %s", tok.Type)
	}
	tok = l.NextToken()
	if tok.Type != ILLEGAL {
		t.Fatalf("expected ILLEGAL, got %s", tok.Type)
	}
	if len(l.Errors()) == 0 {
		t.Fatalf("expected a recorded error for the unrecognized character")
	}
	if l.Errors()[0].Fatal {
		t.Errorf("unrecognized character should not be fatal")
	}
	// The lexer keeps going after reporting
	tok = l.NextToken()
	if tok.Type != IDENT || tok.Literal != "b" {
		t.Fatalf("expected IDENT b after recovery, got {%s %q}", tok.Type, tok.Literal)
	}
}

func TestPositions(t *testing.T) {
	l := New("a +\nbb")

	tok := l.NextToken()
	if tok.Pos.Line != 1 || tok.Pos.Column != 1 {
		t.Errorf("a: expected 1:1, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
	tok = l.NextToken()
	if tok.Pos.Line != 1 || tok.Pos.Column != 3 {
		t.Errorf("+: expected 1:3, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
	tok = l.NextToken()
	if tok.Pos.Line != 2 || tok.Pos.Column != 1 {
		t.Errorf("bb: expected 2:1, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
	if tok.End().Column != 3 {
		t.Errorf("bb end: expected column 3, got %d", tok.End().Column)
	}
}

// Embedded expressions report positions relative to the enclosing template.
func TestBasePosition(t *testing.T) {
	l := NewAt("a + b", Position{Line: 3, Column: 10, Offset: 42})

	tok := l.NextToken()
	if tok.Pos.Line != 3 || tok.Pos.Column != 10 || tok.Pos.Offset != 42 {
		t.Errorf("expected 3:10 offset 42, got %d:%d offset %d", tok.Pos.Line, tok.Pos.Column, tok.Pos.Offset)
	}
	l.NextToken() // +
	tok = l.NextToken()
	if tok.Pos.Column != 14 || tok.Pos.Offset != 46 {
		t.Errorf("b: expected column 14 offset 46, got %d offset %d", tok.Pos.Column, tok.Pos.Offset)
	}
}

func TestSaveRestoreState(t *testing.T) {
	l := New("a b c")
	l.NextToken() // a

	state := l.SaveState()
	tok := l.NextToken()
	if tok.Literal != "b" {
		t.Fatalf("expected b, got %q", tok.Literal)
	}
	l.NextToken() // c

	l.RestoreState(state)
	tok = l.NextToken()
	if tok.Literal != "b" {
		t.Fatalf("after restore: expected b, got %q", tok.Literal)
	}
}
