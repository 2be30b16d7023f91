// Package hir defines the arena-allocated high-level intermediate
// representation lowered from ast, and the lowering pass itself.
package hir

import (
	"github.com/rune-lang/rune/alloc"
	"github.com/rune-lang/rune/source"
)

// Arena owns every HIR node produced while lowering a single item body; it
// is cleared between top-level item compilations (spec §4.A/§4.E).
type Arena struct {
	a *alloc.Arena
}

func NewArena() *Arena { return &Arena{a: alloc.NewArena(nil)} }

func (ar *Arena) Reset() { ar.a.Reset() }

func alloc_[T any](ar *Arena, v T) *T {
	p, err := alloc.Alloc(ar.a, v)
	if err != nil {
		panic(err) // arena exhaustion is a host bug, not a script error
	}
	return p
}

// LitKind distinguishes resolved literal payload shapes (spec §4.E
// "resolve literals into owned data").
type LitKind int

const (
	LitUnit LitKind = iota
	LitBool
	LitByte
	LitChar
	LitInteger
	LitFloat
	LitString
	LitByteString
)

type Lit struct {
	Span   source.Span
	Kind   LitKind
	Bool   bool
	Byte   byte
	Char   rune
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
}

// ExprKind discriminates the Expr union, mirroring ast's expression set
// minus macro-call nodes (fully expanded by lowering time).
type ExprKind int

const (
	ExprKindLit ExprKind = iota
	ExprKindPath
	ExprKindBinary
	ExprKindUnary
	ExprKindAssign
	ExprKindCall
	ExprKindFieldAccess
	ExprKindTupleIndex
	ExprKindIndex
	ExprKindBlock
	ExprKindIf
	ExprKindMatch
	ExprKindFor
	ExprKindWhile
	ExprKindLoop
	ExprKindBreak
	ExprKindContinue
	ExprKindReturn
	ExprKindClosure
	ExprKindAwait
	ExprKindYield
	ExprKindVec
	ExprKindTuple
	ExprKindObject
	ExprKindStruct
	ExprKindTemplate // expanded `${}` string template
	ExprKindFormat   // expanded format_args!
	ExprKindTry      // `expr?`
)

// Expr is a HIR expression node. Exactly one of the typed fields matching
// Kind is populated; this mirrors the arena's "one allocation per node,
// addressed by pointer" discipline without a separate NodeId indirection
// table, since Go pointers into arena-backed storage already serve as
// opaque stable addresses for the lifetime of the arena.
type Expr struct {
	Span source.Span
	Kind ExprKind

	Lit *Lit

	Path []string // resolved path components; self/super/crate kept literal

	BinOp    string
	Lhs, Rhs *Expr

	UnOp    string
	Operand *Expr

	AssignOp string // "", "=", "+=", ...
	Target   *Expr
	Value    *Expr

	Callee *Expr
	Args   []*Expr

	FieldBase *Expr
	FieldName string

	TupleBase *Expr
	TupleIdx  int

	IndexBase  *Expr
	IndexValue *Expr

	Block *Block

	IfArms  []IfArm
	IfElse  *Block

	MatchSubject *Expr
	MatchArms    []MatchArm

	ForBinding *Pattern
	ForIter    *Expr
	ForBody    *Block
	Label      string

	WhileCond *Expr
	WhileBody *Block

	LoopBody *Block

	BreakLabel string
	BreakValue *Expr

	ContinueLabel string

	ReturnValue *Expr

	ClosureParams   []ClosureParam
	ClosureBody     *Expr
	ClosureCaptures []string // free variables; lowering leaves this empty (the compiler computes captures itself)
	ClosureIsAsync  bool
	ClosureIsMove   bool

	AwaitValue *Expr

	YieldValue *Expr

	Items []*Expr // Vec/Tuple elements

	ObjectFields []ObjectField

	StructPath   []string
	StructFields []ObjectField

	TemplateSegments []*Expr // alternating Lit(string)/expr, per spec §4.C/E

	FormatSegments []string
	FormatArgs     []*Expr

	TryValue *Expr
}

type ClosureParam struct {
	Span    source.Span
	Pattern *Pattern
}

type ObjectField struct {
	Name  string
	Value *Expr
	Span  source.Span
}

type BlockKind int

const (
	BlockPlain BlockKind = iota
	BlockAsync
	BlockConst
)

type Block struct {
	Span  source.Span
	Kind  BlockKind
	Stmts []Stmt
	Tail  *Expr
}

type StmtKind int

const (
	StmtLocal StmtKind = iota
	StmtExpr
	StmtItem
)

type Stmt struct {
	Span source.Span
	Kind StmtKind

	// StmtLocal
	Binding *Pattern
	Init    *Expr

	// StmtExpr
	Expr *Expr

	// StmtItem: nested item placeholder, resolved via the query engine by
	// the item path recorded here rather than inlined (spec §4.E).
	ItemPath string
}

// PatternKind discriminates Pattern, mirroring ast.Pattern post-lowering.
type PatternKind int

const (
	PatternWildcard PatternKind = iota
	PatternIdent
	PatternLit
	PatternTuple
	PatternVec
	PatternObject
	PatternStruct
)

type Pattern struct {
	Span source.Span
	Kind PatternKind

	Ident   string
	Mutable bool

	Lit *Lit

	Elems []*Pattern

	Fields []PatternField
	Rest   bool

	StructPath []string
}

type PatternField struct {
	Name    string
	Pattern *Pattern
}

type MatchArm struct {
	Span    source.Span
	Pattern *Pattern
	Guard   *Expr
	Body    *Expr
}

type IfArm struct {
	Span      source.Span
	Cond      *Expr
	CondIsLet bool
	LetPat    *Pattern
	Body      *Block
}

// FnKind mirrors ast.FnKind (spec §4.E "async/const block" annotation
// extends to whole function items too).
type FnKind int

const (
	FnPlain FnKind = iota
	FnConst
	FnAsync
)

type Fn struct {
	Span     source.Span
	Name     string
	Kind     FnKind
	Params   []*Pattern
	Body     *Block
	IsPublic bool
}

// Root is the lowered form of a single item body, the unit of arena
// lifetime (spec §4.A: "a single arena is cleared between top-level item
// compilations").
type Root struct {
	Fn *Fn
}
