package compiler

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for Sparkling source
// ---------------------------------------------------------------------------

// Lexer tokenizes Sparkling source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.col++
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// Tokenize returns all tokens up to and including EOF, stopping early at
// the first error token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return toks
		}
	}
}

// operators lists punctuation longest first so that the first match wins.
var operators = []struct {
	text string
	typ  TokenType
}{
	{"<<=", TokenShlEq}, {">>=", TokenShrEq}, {"..=", TokenConcatEq},
	{"++", TokenIncr}, {"--", TokenDecr}, {"<<", TokenShl}, {">>", TokenShr},
	{"&&", TokenAndAnd}, {"||", TokenOrOr}, {"==", TokenEq}, {"!=", TokenNe},
	{"<=", TokenLe}, {">=", TokenGe}, {"..", TokenDotDot},
	{"+=", TokenPlusEq}, {"-=", TokenMinusEq}, {"*=", TokenStarEq},
	{"/=", TokenSlashEq}, {"%=", TokenModEq}, {"&=", TokenAndEq},
	{"|=", TokenOrEq}, {"^=", TokenXorEq},
	{"+", TokenPlus}, {"-", TokenMinus}, {"*", TokenStar}, {"/", TokenSlash},
	{"%", TokenPercent}, {"&", TokenAmp}, {"|", TokenPipe}, {"^", TokenCaret},
	{"~", TokenTilde}, {"!", TokenBang}, {"<", TokenLt}, {">", TokenGt},
	{"=", TokenAssign}, {"#", TokenHash}, {"(", TokenLParen}, {")", TokenRParen},
	{"[", TokenLBracket}, {"]", TokenRBracket}, {"{", TokenLBrace},
	{"}", TokenRBrace}, {",", TokenComma}, {";", TokenSemicolon},
	{":", TokenColon}, {"?", TokenQuestion}, {".", TokenDot}, {"$", TokenDollar},
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if tok, ok := l.skipWhitespaceAndComments(); !ok {
		return tok
	}
	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case l.ch == '"':
		return l.readString(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isLetter(l.ch):
		return l.readIdentifier(pos)
	}

	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op.text) {
			for range op.text {
				l.readChar()
			}
			return Token{Type: op.typ, Literal: op.text, Pos: pos}
		}
	}

	ch := l.ch
	l.readChar()
	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
}

// skipWhitespaceAndComments skips blanks, line comments and block comments.
// It reports false with an error token for an unterminated block comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch != '/' {
			return Token{}, true
		}
		switch l.peekChar() {
		case '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case '*':
			pos := l.position()
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.ch == 0 {
					return Token{Type: TokenError, Literal: "unterminated comment", Pos: pos}, false
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return Token{}, true
		}
	}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	text := l.input[start:l.pos]
	if kw, ok := keywords[text]; ok {
		return Token{Type: kw, Literal: text, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: text, Pos: pos}
}

// readNumber reads an integer or float literal. A '.' only starts a
// fraction when a digit follows, so `1..2` lexes as a concatenation.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '0' {
		switch l.peekChar() {
		case 'x', 'X', 'o', 'O', 'b', 'B':
			l.readChar()
			l.readChar()
			digits := l.pos
			for isHexDigit(l.ch) {
				l.readChar()
			}
			if l.pos == digits {
				return Token{Type: TokenError, Literal: "malformed integer literal", Pos: pos}
			}
			return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
		}
	}

	isFloat := false
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if !isDigit(l.ch) {
			return Token{Type: TokenError, Literal: "malformed exponent", Pos: pos}
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if isLetter(l.ch) {
		return Token{Type: TokenError, Literal: "malformed number literal", Pos: pos}
	}
	if isFloat {
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a double-quoted string and decodes its escapes.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // consume opening "

	var sb strings.Builder
	for l.ch != '"' {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated string literal", Pos: pos}
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '\\', '"', '\'':
				sb.WriteRune(l.ch)
			case 'x':
				l.readChar()
				hi := l.ch
				l.readChar()
				lo := l.ch
				if !isHexDigit(hi) || !isHexDigit(lo) {
					return Token{Type: TokenError, Literal: "malformed \\x escape", Pos: pos}
				}
				sb.WriteByte(byte(hexVal(hi)<<4 | hexVal(lo)))
			default:
				return Token{Type: TokenError, Literal: fmt.Sprintf("invalid escape sequence \\%c", l.ch), Pos: pos}
			}
			l.readChar()
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
	l.readChar() // consume closing "
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

func isLetter(ch rune) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

func hexVal(ch rune) int {
	switch {
	case isDigit(ch):
		return int(ch - '0')
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	}
	return int(ch-'A') + 10
}
