// Package ast defines the typed AST node set and the recursive-descent
// parser that produces it (spec §4.D). Every node exposes its span; the
// teacher's `node` type (yaegi interp.go) folds AST and CFG into one
// struct walked twice - here AST stays a separate, purely-syntactic tree,
// since HIR (package hir) is what carries the resolved/lowered shape the
// teacher's CFG pass would have produced in place.
package ast

import "github.com/rune-lang/rune/source"

// Node is implemented by every AST node.
type Node interface {
	Span() source.Span
}

// OptionSpanned is implemented by nodes whose span may be absent (spec
// §4.D "Spanned or OptionSpanned").
type OptionSpanned interface {
	OptionSpan() (source.Span, bool)
}

type baseNode struct{ span source.Span }

func (b baseNode) Span() source.Span { return b.span }

// ---- Expressions ----

type Expr interface {
	Node
	exprNode()
}

type exprBase struct{ baseNode }

func (exprBase) exprNode() {}

type LitKind int

const (
	LitUnit LitKind = iota
	LitBool
	LitInteger
	LitFloat
	LitString
	LitByteString
	LitByte
	LitChar
)

type Lit struct {
	exprBase
	Kind LitKind
	// Text is the raw lexeme (for text-backed literals) or empty when
	// Synthetic is set.
	Text string
	// Synthetic holds the resolved text for synthetic (macro-produced)
	// string literals (spec §3 Token.Source).
	Synthetic *string
}

type Ident struct {
	exprBase
	Name string
}

type Path struct {
	exprBase
	// Components in source order; may include "self", "super", "crate".
	Segments []string
}

type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAssign
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpRemAssign
	OpBitAndAssign
	OpBitOrAssign
	OpBitXorAssign
	OpShlAssign
	OpShrAssign
	OpRange
	OpRangeInclusive
)

type Binary struct {
	exprBase
	Op          BinOp
	Left, Right Expr
}

var binOpSymbols = [...]string{
	"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>",
	"==", "!=", "<", "<=", ">", ">=", "&&", "||",
	"=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=",
	"..", "..=",
}

// String renders the operator's source-level symbol, used by hir lowering
// to key into value.BinOpProtocols and by query's const evaluator.
func (op BinOp) String() string {
	if int(op) < len(binOpSymbols) {
		return binOpSymbols[op]
	}
	return "?"
}

// IsAssign reports whether op is `=` or a compound assignment operator.
func (op BinOp) IsAssign() bool {
	return op >= OpAssign && op <= OpShrAssign
}

type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
	OpTry // postfix `?`
)

type Unary struct {
	exprBase
	Op   UnOp
	Expr Expr
}

var unOpSymbols = [...]string{"-", "!", "?"}

func (op UnOp) String() string {
	if int(op) < len(unOpSymbols) {
		return unOpSymbols[op]
	}
	return "?"
}

type Call struct {
	exprBase
	Callee Expr
	Args   []Expr
}

type FieldAccess struct {
	exprBase
	Target Expr
	Name   string
}

type TupleIndex struct {
	exprBase
	Target Expr
	Index  int
}

type Index struct {
	exprBase
	Target Expr
	Key    Expr
}

type BlockKind int

const (
	BlockPlain BlockKind = iota
	BlockAsync
	BlockConst
)

// Stmt is one statement inside a Block: local (let), expr, semi (expr;),
// or an item placeholder (spec §4.E "canonicalize block statements").
type Stmt struct {
	Span    source.Span
	IsLocal bool
	Pattern Pattern // when IsLocal
	Init    Expr    // when IsLocal
	Expr    Expr    // when !IsLocal
	HasSemi bool
	Item    Item // when this statement is a nested item
}

type Block struct {
	exprBase
	Kind  BlockKind
	Stmts []Stmt
	// Tail is the final, non-semicolon expression that becomes the
	// block's value, or nil.
	Tail Expr
}

type IfArm struct {
	Cond Expr // nil for a trailing `else`
	Body *Block
}

type If struct {
	exprBase
	Arms []IfArm
}

type MatchArm struct {
	Pattern Pattern
	Guard   Expr // may be nil
	Body    Expr
}

type Match struct {
	exprBase
	Target Expr
	Arms   []MatchArm
}

// For desugars (at HIR time) to an INTO_ITER/NEXT protocol loop (spec §4.H);
// the AST retains the surface `for pat in iter { body }` shape.
type For struct {
	exprBase
	Pattern Pattern
	Iter    Expr
	Body    *Block
	Label   string
}

type While struct {
	exprBase
	Cond  Expr
	Body  *Block
	Label string
}

type Loop struct {
	exprBase
	Body  *Block
	Label string
}

type Break struct {
	exprBase
	Label string
	Value Expr // may be nil
}

type Continue struct {
	exprBase
	Label string
}

type Return struct {
	exprBase
	Value Expr // may be nil
}

type ClosureParam struct {
	Pattern Pattern
}

type Closure struct {
	exprBase
	Params []ClosureParam
	Body   Expr
	Move   bool
	Async  bool
}

type Await struct {
	exprBase
	Target Expr
}

type Yield struct {
	exprBase
	Value Expr // may be nil
}

type VecLit struct {
	exprBase
	Elems []Expr
}

type TupleLit struct {
	exprBase
	Elems []Expr
}

type ObjectField struct {
	Name  string
	Value Expr // nil for shorthand `{name}`
}

type ObjectLit struct {
	exprBase
	Fields []ObjectField
}

// StructLit constructs a named struct/variant: `Name { field: expr, .. }`.
type StructLit struct {
	exprBase
	Path   Path
	Fields []ObjectField
}

// MacroKind identifies a built-in macro call node (spec §4.D); user-macro
// expansion is not attempted by the parser.
type MacroKind int

const (
	MacroTemplate MacroKind = iota
	MacroFormatArgs
	MacroFile
	MacroLine
)

type MacroCall struct {
	exprBase
	Kind MacroKind
	Args []Expr
}

// ---- Patterns ----

type Pattern interface {
	Node
	patternNode()
}

type patBase struct{ baseNode }

func (patBase) patternNode() {}

type PatWildcard struct{ patBase }

type PatIdent struct {
	patBase
	Name string
}

type PatLit struct {
	patBase
	Lit *Lit
}

type PatTuple struct {
	patBase
	Elems []Pattern
}

type PatVecObjectField struct {
	Name    string
	Pattern Pattern // nil for shorthand
}

// PatObject matches `#{a, b: p, ..}`; Rest indicates a trailing `..`,
// making the pattern refutable-but-partial (spec §8 scenario 5).
type PatObject struct {
	patBase
	Fields []PatVecObjectField
	Rest   bool
}

type PatStruct struct {
	patBase
	Path   Path
	Fields []PatVecObjectField
	Rest   bool
}

// ---- Items ----

type Item interface {
	Node
	itemNode()
}

type itemBase struct{ baseNode }

func (itemBase) itemNode() {}

type Visibility int

const (
	VisInherited Visibility = iota
	VisPublic
	VisCrate
	VisSuper
	VisSelf
	VisIn
)

type FnParam struct {
	Pattern Pattern
}

type FnKind int

const (
	FnPlain FnKind = iota
	FnConst
	FnAsync
)

type ItemFn struct {
	itemBase
	Vis    Visibility
	Name   string
	Params []FnParam
	Body   *Block
	Kind   FnKind
	Docs   []string
}

type ItemConst struct {
	itemBase
	Vis   Visibility
	Name  string
	Value Expr
	Docs  []string
}

type StructFieldDecl struct {
	Name string
}

type ItemStruct struct {
	itemBase
	Vis    Visibility
	Name   string
	Fields []StructFieldDecl
	Tuple  bool
	Docs   []string
}

type EnumVariant struct {
	Name   string
	Fields []StructFieldDecl
	Tuple  bool
}

type ItemEnum struct {
	itemBase
	Vis      Visibility
	Name     string
	Variants []EnumVariant
	Docs     []string
}

type ItemImpl struct {
	itemBase
	Target string
	Fns    []*ItemFn
}

type ItemMod struct {
	itemBase
	Vis   Visibility
	Name  string
	Items []Item
	Docs  []string
}

type ItemUse struct {
	itemBase
	Vis  Visibility
	Path Path
	As   string // alias; empty if none
}

// File is the top-level parse unit for one source.
type File struct {
	baseNode
	Items []Item
}
