package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 0xff, 0o17, 0b101
	TokenFloat      // 3.14, 1e10
	TokenString     // "hello"
	TokenIdentifier // foo

	// Keywords
	TokenLet
	TokenFn
	TokenReturn
	TokenIf
	TokenElse
	TokenWhile
	TokenDo
	TokenFor
	TokenBreak
	TokenContinue
	TokenNil
	TokenTrue
	TokenFalse
	TokenGlobal
	TokenArgc
	TokenTypeof

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;
	TokenColon     // :
	TokenQuestion  // ?
	TokenDot       // .
	TokenDollar    // $

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPercent  // %
	TokenIncr     // ++
	TokenDecr     // --
	TokenAmp      // &
	TokenPipe     // |
	TokenCaret    // ^
	TokenTilde    // ~
	TokenShl      // <<
	TokenShr      // >>
	TokenAndAnd   // &&
	TokenOrOr     // ||
	TokenBang     // !
	TokenEq       // ==
	TokenNe       // !=
	TokenLt       // <
	TokenLe       // <=
	TokenGt       // >
	TokenGe       // >=
	TokenDotDot   // ..
	TokenHash     // #
	TokenAssign   // =
	TokenPlusEq   // +=
	TokenMinusEq  // -=
	TokenStarEq   // *=
	TokenSlashEq  // /=
	TokenModEq    // %=
	TokenAndEq    // &=
	TokenOrEq     // |=
	TokenXorEq    // ^=
	TokenShlEq    // <<=
	TokenShrEq    // >>=
	TokenConcatEq // ..=
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",

	TokenLet:      "let",
	TokenFn:       "fn",
	TokenReturn:   "return",
	TokenIf:       "if",
	TokenElse:     "else",
	TokenWhile:    "while",
	TokenDo:       "do",
	TokenFor:      "for",
	TokenBreak:    "break",
	TokenContinue: "continue",
	TokenNil:      "nil",
	TokenTrue:     "true",
	TokenFalse:    "false",
	TokenGlobal:   "global",
	TokenArgc:     "argc",
	TokenTypeof:   "typeof",

	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenComma:     ",",
	TokenSemicolon: ";",
	TokenColon:     ":",
	TokenQuestion:  "?",
	TokenDot:       ".",
	TokenDollar:    "$",

	TokenPlus:     "+",
	TokenMinus:    "-",
	TokenStar:     "*",
	TokenSlash:    "/",
	TokenPercent:  "%",
	TokenIncr:     "++",
	TokenDecr:     "--",
	TokenAmp:      "&",
	TokenPipe:     "|",
	TokenCaret:    "^",
	TokenTilde:    "~",
	TokenShl:      "<<",
	TokenShr:      ">>",
	TokenAndAnd:   "&&",
	TokenOrOr:     "||",
	TokenBang:     "!",
	TokenEq:       "==",
	TokenNe:       "!=",
	TokenLt:       "<",
	TokenLe:       "<=",
	TokenGt:       ">",
	TokenGe:       ">=",
	TokenDotDot:   "..",
	TokenHash:     "#",
	TokenAssign:   "=",
	TokenPlusEq:   "+=",
	TokenMinusEq:  "-=",
	TokenStarEq:   "*=",
	TokenSlashEq:  "/=",
	TokenModEq:    "%=",
	TokenAndEq:    "&=",
	TokenOrEq:     "|=",
	TokenXorEq:    "^=",
	TokenShlEq:    "<<=",
	TokenShrEq:    ">>=",
	TokenConcatEq: "..=",
}

// String returns the name of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

var keywords = map[string]TokenType{
	"let":      TokenLet,
	"fn":       TokenFn,
	"return":   TokenReturn,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"do":       TokenDo,
	"for":      TokenFor,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"nil":      TokenNil,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"global":   TokenGlobal,
	"argc":     TokenArgc,
	"typeof":   TokenTypeof,
}

// Keywords returns the reserved words in sorted order.
func Keywords() []string {
	words := make([]string, 0, len(keywords))
	for w := range keywords {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// compoundOps maps compound assignment tokens to their binary operator.
var compoundOps = map[TokenType]TokenType{
	TokenPlusEq:   TokenPlus,
	TokenMinusEq:  TokenMinus,
	TokenStarEq:   TokenStar,
	TokenSlashEq:  TokenSlash,
	TokenModEq:    TokenPercent,
	TokenAndEq:    TokenAmp,
	TokenOrEq:     TokenPipe,
	TokenXorEq:    TokenCaret,
	TokenShlEq:    TokenShl,
	TokenShrEq:    TokenShr,
	TokenConcatEq: TokenDotDot,
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string // source text, or decoded contents for strings
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s %q", t.Type, t.Literal)
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	case TokenError:
		return t.Literal
	}
	return fmt.Sprintf("'%s'", t.Type)
}
