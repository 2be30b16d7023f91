package hir

import (
	"strconv"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
)

// MacroExpander resolves a built-in macro call to its expansion. Built-in
// macro expansion is delegated to the query engine (spec §4.E: "Expand
// built-in macros (delegating to a macro implementation in the query
// engine)"); hir only defines the interface it needs, to avoid an import
// cycle with package query.
type MacroExpander interface {
	ExpandTemplate(call *ast.MacroCall, lower ExprLowerer) (*Expr, error)
	ExpandFormatArgs(call *ast.MacroCall, lower ExprLowerer) (*Expr, error)
	ExpandFile(call *ast.MacroCall, lower ExprLowerer) (*Expr, error)
	ExpandLine(call *ast.MacroCall, lower ExprLowerer) (*Expr, error)
}

// ExprLowerer lets a MacroExpander lower a macro argument sub-expression
// back through the same arena/diagnostics the surrounding item uses, and
// identify which source the item being lowered came from (for file!/line!).
type ExprLowerer interface {
	LowerExpr(e ast.Expr) *Expr
	SourceId() source.SourceId
}

// LowerExpr exposes the Lowerer's expression lowering to macro expanders.
func (l *Lowerer) LowerExpr(e ast.Expr) *Expr { return l.lowerExpr(e) }

// SourceId reports which source the item currently being lowered belongs
// to (spec §4.E; used by the query engine's file!/line! expansion).
func (l *Lowerer) SourceId() source.SourceId { return l.srcID }

// Lowerer converts one AST function item into a HIR tree, allocating every
// node from a single arena (spec §4.A, §4.E).
type Lowerer struct {
	arena  *Arena
	macros MacroExpander
	diags  *diag.Diagnostics
	srcID  source.SourceId
}

func NewLowerer(arena *Arena, macros MacroExpander, diags *diag.Diagnostics, srcID source.SourceId) *Lowerer {
	return &Lowerer{arena: arena, macros: macros, diags: diags, srcID: srcID}
}

// LowerFn lowers a single top-level function item to a Root (spec §4.E).
func (l *Lowerer) LowerFn(fn *ast.ItemFn) (*Root, error) {
	params := make([]*Pattern, 0, len(fn.Params))
	for _, p := range fn.Params {
		params = append(params, l.lowerPattern(p.Pattern))
	}
	body := l.lowerBlock(fn.Body)
	kind := FnPlain
	switch fn.Kind {
	case ast.FnConst:
		kind = FnConst
	case ast.FnAsync:
		kind = FnAsync
	}
	return &Root{Fn: &Fn{
		Span:     fn.Span(),
		Name:     fn.Name,
		Kind:     kind,
		Params:   params,
		Body:     body,
		IsPublic: fn.Vis == ast.VisPublic,
	}}, nil
}

func (l *Lowerer) lowerBlock(b *ast.Block) *Block {
	if b == nil {
		return nil
	}
	out := alloc_(l.arena, Block{Span: b.Span()})
	kind := BlockPlain
	switch b.Kind {
	case ast.BlockAsync:
		kind = BlockAsync
	case ast.BlockConst:
		kind = BlockConst
	}
	out.Kind = kind
	for _, s := range b.Stmts {
		out.Stmts = append(out.Stmts, l.lowerStmt(s))
	}
	if b.Tail != nil {
		out.Tail = l.lowerExpr(b.Tail)
	}
	return out
}

// lowerStmt canonicalizes one AST statement into local/expr/item form
// (spec §4.E "canonicalize block statements").
func (l *Lowerer) lowerStmt(s ast.Stmt) Stmt {
	switch {
	case s.IsLocal:
		return Stmt{Span: s.Span, Kind: StmtLocal, Binding: l.lowerPattern(s.Pattern), Init: l.lowerExpr(s.Init)}
	case s.Item != nil:
		return Stmt{Span: s.Span, Kind: StmtItem, ItemPath: itemName(s.Item)}
	default:
		return Stmt{Span: s.Span, Kind: StmtExpr, Expr: l.lowerExpr(s.Expr)}
	}
}

func itemName(it ast.Item) string {
	switch v := it.(type) {
	case *ast.ItemFn:
		return v.Name
	case *ast.ItemConst:
		return v.Name
	case *ast.ItemStruct:
		return v.Name
	case *ast.ItemEnum:
		return v.Name
	case *ast.ItemMod:
		return v.Name
	default:
		return ""
	}
}

func (l *Lowerer) lowerPattern(p ast.Pattern) *Pattern {
	if p == nil {
		return nil
	}
	switch pt := p.(type) {
	case *ast.PatWildcard:
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternWildcard})
	case *ast.PatIdent:
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternIdent, Ident: pt.Name})
	case *ast.PatLit:
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternLit, Lit: l.resolveLit(pt.Lit)})
	case *ast.PatTuple:
		elems := make([]*Pattern, 0, len(pt.Elems))
		for _, e := range pt.Elems {
			elems = append(elems, l.lowerPattern(e))
		}
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternTuple, Elems: elems})
	case *ast.PatObject:
		fields := make([]PatternField, 0, len(pt.Fields))
		for _, f := range pt.Fields {
			fields = append(fields, l.lowerPatField(f))
		}
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternObject, Fields: fields, Rest: pt.Rest})
	case *ast.PatStruct:
		fields := make([]PatternField, 0, len(pt.Fields))
		for _, f := range pt.Fields {
			fields = append(fields, l.lowerPatField(f))
		}
		return alloc_(l.arena, Pattern{Span: pt.Span(), Kind: PatternStruct, StructPath: pt.Path.Segments, Fields: fields, Rest: pt.Rest})
	default:
		return alloc_(l.arena, Pattern{Kind: PatternWildcard})
	}
}

// lowerPatField resolves an object/struct pattern field, expanding the
// shorthand `{name}` (nil Pattern) into an explicit identifier binding.
func (l *Lowerer) lowerPatField(f ast.PatVecObjectField) PatternField {
	if f.Pattern == nil {
		return PatternField{Name: f.Name, Pattern: &Pattern{Kind: PatternIdent, Ident: f.Name}}
	}
	return PatternField{Name: f.Name, Pattern: l.lowerPattern(f.Pattern)}
}

// resolveLit resolves a raw AST literal lexeme into owned, typed data
// (spec §4.E "resolve literals into owned data").
func (l *Lowerer) resolveLit(lit *ast.Lit) *Lit {
	text := lit.Text
	if lit.Synthetic != nil {
		text = *lit.Synthetic
	}
	switch lit.Kind {
	case ast.LitInteger:
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			l.diags.Push(diag.New(diag.KindTypeMismatch, lit.Span(), "invalid integer literal"))
			return &Lit{Span: lit.Span(), Kind: LitInteger, Int: 0}
		}
		return &Lit{Span: lit.Span(), Kind: LitInteger, Int: n}
	case ast.LitFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			l.diags.Push(diag.New(diag.KindTypeMismatch, lit.Span(), "invalid float literal"))
			return &Lit{Span: lit.Span(), Kind: LitFloat, Float: 0}
		}
		return &Lit{Span: lit.Span(), Kind: LitFloat, Float: f}
	case ast.LitString:
		return &Lit{Span: lit.Span(), Kind: LitString, Str: text}
	case ast.LitByteString:
		return &Lit{Span: lit.Span(), Kind: LitByteString, Bytes: []byte(text)}
	case ast.LitChar:
		r := rune(0)
		for _, c := range text {
			r = c
			break
		}
		return &Lit{Span: lit.Span(), Kind: LitChar, Char: r}
	case ast.LitByte:
		b := byte(0)
		if len(text) > 0 {
			b = text[0]
		}
		return &Lit{Span: lit.Span(), Kind: LitByte, Byte: b}
	case ast.LitBool:
		return &Lit{Span: lit.Span(), Kind: LitBool, Bool: text == "true"}
	default:
		return &Lit{Span: lit.Span(), Kind: LitUnit}
	}
}

func (l *Lowerer) lowerExpr(e ast.Expr) *Expr {
	if e == nil {
		return nil
	}
	switch ex := e.(type) {
	case *ast.Lit:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindLit, Lit: l.resolveLit(ex)})
	case *ast.Ident:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindPath, Path: []string{ex.Name}})
	case *ast.Path:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindPath, Path: ex.Segments})
	case *ast.Binary:
		lhs, rhs := l.lowerExpr(ex.Left), l.lowerExpr(ex.Right)
		out := alloc_(l.arena, Expr{Span: ex.Span(), BinOp: ex.Op.String(), Lhs: lhs, Rhs: rhs})
		if ex.Op.IsAssign() {
			out.Kind = ExprKindAssign
			out.AssignOp = ex.Op.String()
			out.Target = lhs
			out.Value = rhs
		} else {
			out.Kind = ExprKindBinary
		}
		return out
	case *ast.Unary:
		if ex.Op == ast.OpTry {
			return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindTry, TryValue: l.lowerExpr(ex.Expr)})
		}
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindUnary, UnOp: ex.Op.String(), Operand: l.lowerExpr(ex.Expr)})
	case *ast.Call:
		args := make([]*Expr, 0, len(ex.Args))
		for _, a := range ex.Args {
			args = append(args, l.lowerExpr(a))
		}
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindCall, Callee: l.lowerExpr(ex.Callee), Args: args})
	case *ast.FieldAccess:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindFieldAccess, FieldBase: l.lowerExpr(ex.Target), FieldName: ex.Name})
	case *ast.TupleIndex:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindTupleIndex, TupleBase: l.lowerExpr(ex.Target), TupleIdx: ex.Index})
	case *ast.Index:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindIndex, IndexBase: l.lowerExpr(ex.Target), IndexValue: l.lowerExpr(ex.Key)})
	case *ast.Block:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindBlock, Block: l.lowerBlock(ex)})
	case *ast.If:
		out := alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindIf})
		for i, arm := range ex.Arms {
			if arm.Cond == nil {
				// trailing `else` arm
				out.IfElse = l.lowerBlock(arm.Body)
				continue
			}
			_ = i
			out.IfArms = append(out.IfArms, IfArm{Span: arm.Body.Span(), Cond: l.lowerExpr(arm.Cond), Body: l.lowerBlock(arm.Body)})
		}
		return out
	case *ast.Match:
		out := alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindMatch, MatchSubject: l.lowerExpr(ex.Target)})
		for _, arm := range ex.Arms {
			out.MatchArms = append(out.MatchArms, MatchArm{Pattern: l.lowerPattern(arm.Pattern), Guard: l.lowerExpr(arm.Guard), Body: l.lowerExpr(arm.Body)})
		}
		return out
	case *ast.For:
		return alloc_(l.arena, Expr{
			Span: ex.Span(), Kind: ExprKindFor, Label: ex.Label,
			ForBinding: l.lowerPattern(ex.Pattern), ForIter: l.lowerExpr(ex.Iter), ForBody: l.lowerBlock(ex.Body),
		})
	case *ast.While:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindWhile, Label: ex.Label, WhileCond: l.lowerExpr(ex.Cond), WhileBody: l.lowerBlock(ex.Body)})
	case *ast.Loop:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindLoop, Label: ex.Label, LoopBody: l.lowerBlock(ex.Body)})
	case *ast.Break:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindBreak, BreakLabel: ex.Label, BreakValue: l.lowerExpr(ex.Value)})
	case *ast.Continue:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindContinue, ContinueLabel: ex.Label})
	case *ast.Return:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindReturn, ReturnValue: l.lowerExpr(ex.Value)})
	case *ast.Closure:
		params := make([]ClosureParam, 0, len(ex.Params))
		for _, p := range ex.Params {
			params = append(params, ClosureParam{Pattern: l.lowerPattern(p.Pattern)})
		}
		return alloc_(l.arena, Expr{
			Span: ex.Span(), Kind: ExprKindClosure, ClosureParams: params,
			ClosureBody: l.lowerExpr(ex.Body), ClosureIsAsync: ex.Async, ClosureIsMove: ex.Move,
		})
	case *ast.Await:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindAwait, AwaitValue: l.lowerExpr(ex.Target)})
	case *ast.Yield:
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindYield, YieldValue: l.lowerExpr(ex.Value)})
	case *ast.VecLit:
		items := make([]*Expr, 0, len(ex.Elems))
		for _, it := range ex.Elems {
			items = append(items, l.lowerExpr(it))
		}
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindVec, Items: items})
	case *ast.TupleLit:
		items := make([]*Expr, 0, len(ex.Elems))
		for _, it := range ex.Elems {
			items = append(items, l.lowerExpr(it))
		}
		return alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindTuple, Items: items})
	case *ast.ObjectLit:
		out := alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindObject})
		for _, f := range ex.Fields {
			out.ObjectFields = append(out.ObjectFields, l.lowerObjectField(f))
		}
		return out
	case *ast.StructLit:
		out := alloc_(l.arena, Expr{Span: ex.Span(), Kind: ExprKindStruct, StructPath: ex.Path.Segments})
		for _, f := range ex.Fields {
			out.StructFields = append(out.StructFields, l.lowerObjectField(f))
		}
		return out
	case *ast.MacroCall:
		return l.lowerMacroCall(ex)
	default:
		return alloc_(l.arena, Expr{Kind: ExprKindLit, Lit: &Lit{Kind: LitUnit}})
	}
}

// lowerObjectField expands the `{name}` shorthand (nil Value) into an
// explicit identifier read.
func (l *Lowerer) lowerObjectField(f ast.ObjectField) ObjectField {
	if f.Value == nil {
		return ObjectField{Name: f.Name, Value: alloc_(l.arena, Expr{Kind: ExprKindPath, Path: []string{f.Name}})}
	}
	return ObjectField{Name: f.Name, Value: l.lowerExpr(f.Value)}
}

// lowerMacroCall expands a built-in macro call node via the query engine's
// macro implementation (spec §4.D/§4.E: the parser only recognizes these,
// expansion happens here).
func (l *Lowerer) lowerMacroCall(call *ast.MacroCall) *Expr {
	var (
		expanded *Expr
		err      error
	)
	switch call.Kind {
	case ast.MacroTemplate:
		expanded, err = l.macros.ExpandTemplate(call, l)
	case ast.MacroFormatArgs:
		expanded, err = l.macros.ExpandFormatArgs(call, l)
	case ast.MacroFile:
		expanded, err = l.macros.ExpandFile(call, l)
	case ast.MacroLine:
		expanded, err = l.macros.ExpandLine(call, l)
	default:
		err = diag.New(diag.KindUnsupportedMacro, call.Span(), "unsupported built-in macro")
	}
	if err != nil {
		l.diags.Push(diagFrom(err, call.Span()))
		return alloc_(l.arena, Expr{Span: call.Span(), Kind: ExprKindLit, Lit: &Lit{Kind: LitUnit}})
	}
	return expanded
}

func diagFrom(err error, sp source.Span) *diag.Diagnostic {
	if d, ok := err.(*diag.Diagnostic); ok {
		return d
	}
	return diag.New(diag.KindUnsupportedMacro, sp, err.Error())
}
