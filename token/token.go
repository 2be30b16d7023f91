// Package token defines the lexical token kinds shared by the lexer and
// parser (spec §3, §4.C).
package token

import "github.com/rune-lang/rune/source"

// LitSource distinguishes where a literal token's text should be resolved
// from: directly from the source file, or from a synthetic interning table
// populated by macro expansion (spec §3 "Token").
type LitSource int

const (
	LitSourceText LitSource = iota
	LitSourceSynthetic
)

// Kind enumerates token kinds.
type Kind int

const (
	EOF Kind = iota
	Error

	// Trivia, preserved as distinct kinds per spec §4.C.
	Whitespace
	Comment
	DocComment

	// Literals
	Ident
	Label
	Str
	Number
	Byte
	ByteStr
	Char

	// Punctuation & operators
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Comma
	Semi
	Colon
	ColonColon
	Dot
	DotDot
	DotDotEq
	Arrow   // ->
	FatArrow // =>
	Question
	Bang
	Amp
	AmpAmp
	AmpEq
	Pipe
	PipePipe
	PipeEq
	Caret
	CaretEq
	Tilde
	Plus
	PlusEq
	Minus
	MinusEq
	Star
	StarEq
	Slash
	SlashEq
	Percent
	PercentEq
	Shl
	ShlEq
	Shr
	ShrEq
	Eq
	EqEq
	Ne
	Lt
	Le
	Gt
	Ge
	At
	Pound // #
	Dollar

	// Keywords
	KwFn
	KwLet
	KwConst
	KwIf
	KwElse
	KwMatch
	KwFor
	KwWhile
	KwLoop
	KwBreak
	KwContinue
	KwReturn
	KwTrue
	KwFalse
	KwStruct
	KwEnum
	KwImpl
	KwPub
	KwUse
	KwMod
	KwSelf
	KwSuper
	KwCrate
	KwAsync
	KwAwait
	KwYield
	KwMove
	KwIn
	KwAs
	KwAnd
	KwOr
	KwNot
	KwIs

	// Built-in macro call markers (spec §4.D).
	BangTemplate // template!
	BangFormat   // format_args!
	BangFile     // file!
	BangLine     // line!
)

// Token is a (span, kind) pair; literal kinds additionally resolve through
// LitSource to either the backing source text or a synthetic table.
type Token struct {
	Span      source.Span
	Kind      Kind
	LitSource LitSource
	// SyntheticID indexes into a synthetic string table when LitSource is
	// LitSourceSynthetic (populated by the lexer's template/doc-comment
	// expansion, spec §4.C).
	SyntheticID int
}

var keywords = map[string]Kind{
	"fn": KwFn, "let": KwLet, "const": KwConst, "if": KwIf, "else": KwElse,
	"match": KwMatch, "for": KwFor, "while": KwWhile, "loop": KwLoop,
	"break": KwBreak, "continue": KwContinue, "return": KwReturn,
	"true": KwTrue, "false": KwFalse, "struct": KwStruct, "enum": KwEnum,
	"impl": KwImpl, "pub": KwPub, "use": KwUse, "mod": KwMod, "self": KwSelf,
	"super": KwSuper, "crate": KwCrate, "async": KwAsync, "await": KwAwait,
	"yield": KwYield, "move": KwMove, "in": KwIn, "as": KwAs,
	"and": KwAnd, "or": KwOr, "not": KwNot, "is": KwIs,
}

// Keyword returns the keyword Kind for ident if it is reserved.
func Keyword(ident string) (Kind, bool) {
	k, ok := keywords[ident]
	return k, ok
}

func (k Kind) String() string {
	switch k {
	case EOF:
		return "<eof>"
	case Ident:
		return "identifier"
	case Str:
		return "string"
	case Number:
		return "number"
	default:
		return "token"
	}
}
