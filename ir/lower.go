package ir

import (
	"strings"

	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// LowerFn compiles a const fn's HIR body into its compact IR form (spec
// §4.G "Const-fn calls"), grounded on the original implementation's
// compile/ir/compiler.rs: a single recursive expr() match over the HIR
// expression kinds the IR actually supports (literals, paths, binary ops,
// assignment, call, if, loop, vec/tuple/object, break, templates),
// erroring "not supported yet" on everything else — match arms, closures,
// await/yield, and for-loops aren't part of the const-evaluable subset
// either there or here. callerModule resolves unqualified call targets
// the same way query.Engine resolves const references: module::name.
func LowerFn(callerModule string, fn *hir.Fn) (*Fn, error) {
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		if p == nil || p.Kind != hir.PatternIdent {
			return nil, diag.New(diag.KindTypeMismatch, fn.Span, "const fn parameters must be plain identifiers")
		}
		params = append(params, p.Ident)
	}
	body, err := lowerBlock(callerModule, fn.Body)
	if err != nil {
		return nil, err
	}
	return &Fn{Name: fn.Name, Params: params, Body: body}, nil
}

func lowerBlock(module string, b *hir.Block) (*Node, error) {
	out := &Node{Kind: NodeScope}
	if b == nil {
		return out, nil
	}
	out.Span = b.Span
	for _, s := range b.Stmts {
		switch s.Kind {
		case hir.StmtLocal:
			n, err := lowerLocal(module, s)
			if err != nil {
				return nil, err
			}
			out.Body = append(out.Body, n)
		case hir.StmtExpr:
			n, err := lowerExpr(module, s.Expr)
			if err != nil {
				return nil, err
			}
			out.Body = append(out.Body, n)
		case hir.StmtItem:
			continue
		}
	}
	if b.Tail != nil {
		n, err := lowerExpr(module, b.Tail)
		if err != nil {
			return nil, err
		}
		out.Body = append(out.Body, n)
	}
	return out, nil
}

func lowerLocal(module string, s hir.Stmt) (*Node, error) {
	if s.Binding == nil || s.Binding.Kind == hir.PatternWildcard {
		return lowerExpr(module, s.Init)
	}
	if s.Binding.Kind != hir.PatternIdent {
		return nil, diag.New(diag.KindTypeMismatch, s.Span, "const fn let-bindings must be a plain identifier or `_`")
	}
	v, err := lowerExpr(module, s.Init)
	if err != nil {
		return nil, err
	}
	return &Node{Span: s.Span, Kind: NodeDecl, Name: s.Binding.Ident, Value: v}, nil
}

func lowerExpr(module string, e *hir.Expr) (*Node, error) {
	if e == nil {
		return &Node{Kind: NodeLit, Lit: value.Unit()}, nil
	}
	switch e.Kind {
	case hir.ExprKindLit:
		v, err := litValue(e.Lit)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeLit, Lit: v}, nil
	case hir.ExprKindPath:
		if len(e.Path) != 1 {
			return nil, diag.New(diag.KindTypeMismatch, e.Span, "const fn bodies may not reference qualified paths")
		}
		return &Node{Span: e.Span, Kind: NodeName, Name: e.Path[0]}, nil
	case hir.ExprKindUnary:
		return lowerUnary(e)
	case hir.ExprKindBinary:
		lhs, err := lowerExpr(module, e.Lhs)
		if err != nil {
			return nil, err
		}
		rhs, err := lowerExpr(module, e.Rhs)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeBinary, Op: e.BinOp, Lhs: lhs, Rhs: rhs}, nil
	case hir.ExprKindAssign:
		return lowerAssign(module, e)
	case hir.ExprKindCall:
		return lowerCall(module, e)
	case hir.ExprKindBlock:
		return lowerBlock(module, e.Block)
	case hir.ExprKindIf:
		return lowerIf(module, e)
	case hir.ExprKindWhile:
		return lowerWhile(module, e)
	case hir.ExprKindLoop:
		body, err := lowerBlock(module, e.LoopBody)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeLoop, Label: e.Label, LoopBody: body}, nil
	case hir.ExprKindBreak:
		var bv *Node
		if e.BreakValue != nil {
			v, err := lowerExpr(module, e.BreakValue)
			if err != nil {
				return nil, err
			}
			bv = v
		}
		return &Node{Span: e.Span, Kind: NodeBreak, BreakLabel: e.BreakLabel, BreakValue: bv}, nil
	case hir.ExprKindVec:
		items, err := lowerExprList(module, e.Items)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeVec, Items: items}, nil
	case hir.ExprKindTuple:
		items, err := lowerExprList(module, e.Items)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTuple, Items: items}, nil
	case hir.ExprKindObject:
		fields := make([]ObjectFieldNode, 0, len(e.ObjectFields))
		for _, f := range e.ObjectFields {
			v, err := lowerExpr(module, f.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ObjectFieldNode{Name: f.Name, Value: v})
		}
		return &Node{Span: e.Span, Kind: NodeObject, Fields: fields}, nil
	case hir.ExprKindTemplate:
		segs, err := lowerExprList(module, e.TemplateSegments)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTemplate, Segments: segs}, nil
	case hir.ExprKindFieldAccess:
		base, err := lowerExpr(module, e.FieldBase)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTargetField, Base: base, Field: e.FieldName}, nil
	case hir.ExprKindIndex:
		base, err := lowerExpr(module, e.IndexBase)
		if err != nil {
			return nil, err
		}
		idx, err := lowerExpr(module, e.IndexValue)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTargetIndex, Base: base, Index: idx}, nil
	default:
		return nil, diag.New(diag.KindNotConst, e.Span, "expression is not supported in a const fn body")
	}
}

func lowerExprList(module string, exprs []*hir.Expr) ([]*Node, error) {
	out := make([]*Node, 0, len(exprs))
	for _, e := range exprs {
		n, err := lowerExpr(module, e)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// lowerUnary folds unary negation of a literal into a negative literal;
// the original implementation's IR has no general unary node either, so
// anything beyond literal folding is out of the const-evaluable subset.
func lowerUnary(e *hir.Expr) (*Node, error) {
	if e.UnOp == "-" && e.Operand != nil && e.Operand.Kind == hir.ExprKindLit {
		lit := e.Operand.Lit
		switch lit.Kind {
		case hir.LitInteger:
			return &Node{Span: e.Span, Kind: NodeLit, Lit: value.Integer(-lit.Int)}, nil
		case hir.LitFloat:
			return &Node{Span: e.Span, Kind: NodeLit, Lit: value.Float(-lit.Float)}, nil
		}
	}
	return nil, diag.New(diag.KindNotConst, e.Span, "unary operator %q is not supported in a const fn body", e.UnOp)
}

func lowerAssign(module string, e *hir.Expr) (*Node, error) {
	target, err := lowerTarget(module, e.Target)
	if err != nil {
		return nil, err
	}
	val, err := lowerExpr(module, e.Value)
	if err != nil {
		return nil, err
	}
	if baseOp := strings.TrimSuffix(e.AssignOp, "="); baseOp != "" {
		cur, err := lowerExpr(module, e.Target)
		if err != nil {
			return nil, err
		}
		val = &Node{Span: e.Span, Kind: NodeBinary, Op: baseOp, Lhs: cur, Rhs: val}
	}
	return &Node{Span: e.Span, Kind: NodeAssign, Target: target, Value: val}, nil
}

func lowerTarget(module string, e *hir.Expr) (*Node, error) {
	if e == nil {
		return nil, diag.New(diag.KindTypeMismatch, source.Span{}, "missing assignment target")
	}
	switch e.Kind {
	case hir.ExprKindPath:
		if len(e.Path) != 1 {
			return nil, diag.New(diag.KindTypeMismatch, e.Span, "assignment target must be a local")
		}
		return &Node{Span: e.Span, Kind: NodeName, Name: e.Path[0]}, nil
	case hir.ExprKindFieldAccess:
		base, err := lowerExpr(module, e.FieldBase)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTargetField, Base: base, Field: e.FieldName}, nil
	case hir.ExprKindIndex:
		base, err := lowerExpr(module, e.IndexBase)
		if err != nil {
			return nil, err
		}
		idx, err := lowerExpr(module, e.IndexValue)
		if err != nil {
			return nil, err
		}
		return &Node{Span: e.Span, Kind: NodeTargetIndex, Base: base, Index: idx}, nil
	default:
		return nil, diag.New(diag.KindTypeMismatch, e.Span, "expression is not supported as an assignment target")
	}
}

func lowerCall(module string, e *hir.Expr) (*Node, error) {
	if e.Callee == nil || e.Callee.Kind != hir.ExprKindPath {
		return nil, diag.New(diag.KindTypeMismatch, e.Span, "const fn calls must name a function directly")
	}
	var path string
	if len(e.Callee.Path) == 1 && module != "" {
		path = module + "::" + e.Callee.Path[0]
	} else {
		path = strings.Join(e.Callee.Path, "::")
	}
	args, err := lowerExprList(module, e.Args)
	if err != nil {
		return nil, err
	}
	return &Node{Span: e.Span, Kind: NodeCall, Callee: path, Args: args}, nil
}

func lowerIf(module string, e *hir.Expr) (*Node, error) {
	arms := make([]Arm, 0, len(e.IfArms))
	for _, a := range e.IfArms {
		cond, err := lowerExpr(module, a.Cond)
		if err != nil {
			return nil, err
		}
		body, err := lowerBlock(module, a.Body)
		if err != nil {
			return nil, err
		}
		arms = append(arms, Arm{Cond: cond, Body: body})
	}
	var elseNode *Node
	if e.IfElse != nil {
		n, err := lowerBlock(module, e.IfElse)
		if err != nil {
			return nil, err
		}
		elseNode = n
	}
	return &Node{Span: e.Span, Kind: NodeBranches, Arms: arms, Else: elseNode}, nil
}

// lowerWhile desugars `while cond { body }` into `loop { if cond { body } else { break } }`
// (the same shape the VM compiles for-loops down to, spec §4.G has no
// dedicated while-node).
func lowerWhile(module string, e *hir.Expr) (*Node, error) {
	cond, err := lowerExpr(module, e.WhileCond)
	if err != nil {
		return nil, err
	}
	body, err := lowerBlock(module, e.WhileBody)
	if err != nil {
		return nil, err
	}
	brk := &Node{Span: e.Span, Kind: NodeBreak}
	branch := &Node{
		Span: e.Span,
		Kind: NodeBranches,
		Arms: []Arm{{Cond: cond, Body: body}},
		Else: &Node{Span: e.Span, Kind: NodeScope, Body: []*Node{brk}},
	}
	loopBody := &Node{Span: e.Span, Kind: NodeScope, Body: []*Node{branch}}
	return &Node{Span: e.Span, Kind: NodeLoop, Label: e.Label, LoopBody: loopBody}, nil
}

func litValue(lit *hir.Lit) (value.Value, error) {
	if lit == nil {
		return value.Unit(), nil
	}
	switch lit.Kind {
	case hir.LitUnit:
		return value.Unit(), nil
	case hir.LitBool:
		return value.Bool(lit.Bool), nil
	case hir.LitByte:
		return value.Byte(lit.Byte), nil
	case hir.LitChar:
		return value.Char(lit.Char), nil
	case hir.LitInteger:
		return value.Integer(lit.Int), nil
	case hir.LitFloat:
		return value.Float(lit.Float), nil
	case hir.LitString:
		return value.String(lit.Str), nil
	default:
		return value.Unit(), diag.New(diag.KindNotConst, lit.Span, "literal kind is not supported in a const fn body")
	}
}
