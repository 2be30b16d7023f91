package query

import (
	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/ir"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// ResolveConstFn resolves a const fn's compiled IR body by item path,
// lowering it through HIR on first reference and caching the result
// (spec §4.F "const-fn cache", §4.G "Const-fn calls"). This is the real
// implementation behind rune.ConstFnResolver; package ir cannot do this
// lowering itself (it would need to import hir and ast).
func (e *Engine) ResolveConstFn(span source.Span, path string) (*ir.Fn, error) {
	return e.QueryConstFn(span, path, func(fn *ast.ItemFn) (*ir.Fn, error) {
		return e.lowerConstFn(path, fn)
	})
}

// ConstFnResolver adapts ResolveConstFn to ir.ConstFnResolver, for handing
// to an ir.Interpreter evaluating a const fn call (spec §4.G).
func (e *Engine) ConstFnResolver() ir.ConstFnResolver {
	return func(path string) (*ir.Fn, error) {
		return e.ResolveConstFn(source.Span{}, path)
	}
}

func (e *Engine) lowerConstFn(path string, fn *ast.ItemFn) (*ir.Fn, error) {
	module := moduleOf(path)
	srcID, ok := e.sources.IDByName(module)
	if !ok {
		srcID = 0
	}
	arena := hir.NewArena()
	lowerer := hir.NewLowerer(arena, e, e.diags, srcID)
	root, err := lowerer.LowerFn(fn)
	if err != nil {
		return nil, err
	}
	return ir.LowerFn(module, root.Fn)
}

// evalConstCall evaluates a const fn call appearing inside a const
// initializer by reusing ir.Interpreter's own call-evaluation (arity
// check, isolated scope, argument binding, budget) rather than
// duplicating it: arguments are evaluated by the const expression
// evaluator, then wrapped as a single NodeCall the interpreter executes
// as if it already knew the callee (spec §4.G "Const-fn calls").
func (e *Engine) evalConstCall(module string, call *ast.Call) (value.Value, error) {
	path, err := constCallPath(module, call.Callee)
	if err != nil {
		return value.Unit(), err
	}
	args := make([]*ir.Node, 0, len(call.Args))
	for _, a := range call.Args {
		v, err := e.evalConstExpr(module, a)
		if err != nil {
			return value.Unit(), err
		}
		args = append(args, &ir.Node{Span: a.Span(), Kind: ir.NodeLit, Lit: v})
	}
	interp := ir.NewInterpreter(ir.DefaultBudget, nil, e.ConstFnResolver())
	return interp.Eval(&ir.Node{Span: call.Span(), Kind: ir.NodeCall, Callee: path, Args: args})
}

func constCallPath(module string, callee ast.Expr) (string, error) {
	switch c := callee.(type) {
	case *ast.Ident:
		if module == "" {
			return c.Name, nil
		}
		return module + "::" + c.Name, nil
	case *ast.Path:
		return joinPath(c.Segments), nil
	default:
		return "", diag.New(diag.KindTypeMismatch, callee.Span(), "const expressions may only call a named const fn")
	}
}
