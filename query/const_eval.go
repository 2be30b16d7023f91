package query

import (
	"fmt"
	"strconv"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// EvalConst evaluates a const item's initializer expression, recursively
// resolving any other const it references through resolveConstItem (the
// const cache plus Mark/Unmark cycle bookkeeping) (spec §4.F "const cache",
// §8 scenario 3 "const cycle"). module is the path of the module the
// reference appears in, used to resolve bare-name lookups the same way
// itemPathVis indexed them.
func (e *Engine) EvalConst(span source.Span, module string, expr ast.Expr) (value.Value, error) {
	return e.evalConstExpr(module, expr)
}

func (e *Engine) evalConstExpr(module string, expr ast.Expr) (value.Value, error) {
	switch ex := expr.(type) {
	case *ast.Lit:
		return evalLit(ex)
	case *ast.Ident:
		return e.evalConstRef(ex.Span(), module, []string{ex.Name})
	case *ast.Path:
		return e.evalConstRef(ex.Span(), module, ex.Segments)
	case *ast.Unary:
		v, err := e.evalConstExpr(module, ex.Expr)
		if err != nil {
			return value.Unit(), err
		}
		return constUnOp(ex.Op, v)
	case *ast.Binary:
		if ex.Op.IsAssign() {
			return value.Unit(), diag.New(diag.KindTypeMismatch, ex.Span(), "const expressions may not assign")
		}
		lhs, err := e.evalConstExpr(module, ex.Left)
		if err != nil {
			return value.Unit(), err
		}
		rhs, err := e.evalConstExpr(module, ex.Right)
		if err != nil {
			return value.Unit(), err
		}
		return constBinOp(ex.Op, lhs, rhs)
	case *ast.Call:
		return e.evalConstCall(module, ex)
	default:
		return value.Unit(), diag.New(diag.KindTypeMismatch, expr.Span(), "expression is not a constant")
	}
}

// evalConstRef resolves a bare or qualified path inside a const initializer
// to another const's value. A bare name is looked up only as
// module::name; a qualified path is looked up only as written. There is no
// fallback from one form to the other.
//
// This deliberately does not go through QueryConst: a dependency chain
// that cycles back to the item currently being evaluated (by
// EvalConst/QueryConst, further up this same call stack) would re-enter
// singleflight.Group.Do with the same in-flight key from the same
// goroutine and hang forever instead of surfacing a ConstCycleError.
// resolveConstItem reimplements QueryConst's cache/Mark/Unmark bookkeeping
// without singleflight so nested, same-goroutine re-entry is detected by
// Mark instead of deadlocking on it.
func (e *Engine) evalConstRef(span source.Span, module string, segments []string) (value.Value, error) {
	candidates := []string{joinPath(segments)}
	if len(segments) == 1 && module != "" {
		candidates = []string{module + "::" + segments[0]}
	}
	var lastErr error
	for _, item := range candidates {
		v, err := e.resolveConstItem(span, item)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return value.Unit(), lastErr
}

// resolveConstItem resolves and memoizes a single const item by path,
// detecting cycles via Mark/Unmark (spec §4.F "Cycle detection").
func (e *Engine) resolveConstItem(span source.Span, item string) (value.Value, error) {
	e.mu.Lock()
	if v, ok := e.constCache.Get(item); ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	if err := e.Mark(item); err != nil {
		return value.Unit(), err
	}
	meta, err := e.QueryMeta(span, item, Used)
	if err != nil {
		e.Unmark(item, false)
		return value.Unit(), err
	}
	if meta.Kind != MetaConst {
		e.Unmark(item, false)
		return value.Unit(), diag.New(diag.KindMissingConst, span, "%q is not a const", item)
	}
	v, err := e.evalConstExpr(moduleOf(item), meta.ConstExpr)
	if err != nil {
		e.Unmark(item, false)
		return value.Unit(), err
	}
	e.mu.Lock()
	_ = e.constCache.TryInsert(item, v)
	e.mu.Unlock()
	e.Unmark(item, true)
	return v, nil
}

func evalLit(lit *ast.Lit) (value.Value, error) {
	text := lit.Text
	if lit.Synthetic != nil {
		text = *lit.Synthetic
	}
	switch lit.Kind {
	case ast.LitInteger:
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return value.Unit(), diag.New(diag.KindTypeMismatch, lit.Span(), "invalid integer literal")
		}
		return value.Integer(n), nil
	case ast.LitFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return value.Unit(), diag.New(diag.KindTypeMismatch, lit.Span(), "invalid float literal")
		}
		return value.Float(f), nil
	case ast.LitString:
		return value.String(text), nil
	case ast.LitBool:
		return value.Bool(text == "true"), nil
	case ast.LitChar:
		r := rune(0)
		for _, c := range text {
			r = c
			break
		}
		return value.Char(r), nil
	case ast.LitByte:
		b := byte(0)
		if len(text) > 0 {
			b = text[0]
		}
		return value.Byte(b), nil
	case ast.LitUnit:
		return value.Unit(), nil
	default:
		return value.Unit(), diag.New(diag.KindTypeMismatch, lit.Span(), "unsupported const literal kind")
	}
}

func constUnOp(op ast.UnOp, v value.Value) (value.Value, error) {
	switch op {
	case ast.OpNeg:
		if v.Kind == value.KindInteger {
			i, _ := v.AsInteger()
			return value.Integer(-i), nil
		}
		if v.Kind == value.KindFloat {
			f, _ := v.AsFloat()
			return value.Float(-f), nil
		}
		return value.Unit(), fmt.Errorf("query: unsupported const unary `-` on %s", v.TypeInfo().Kind)
	case ast.OpNot:
		b, err := v.AsBool()
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(!b), nil
	default:
		return value.Unit(), fmt.Errorf("query: unsupported const unary operator %q", op.String())
	}
}

func constBinOp(op ast.BinOp, a, b value.Value) (value.Value, error) {
	sym := op.String()
	switch sym {
	case "+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>":
		return constArith(sym, a, b)
	case "==":
		eq, err := a.PartialEq(b, nil)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(eq), nil
	case "!=":
		eq, err := a.PartialEq(b, nil)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(!eq), nil
	case "<", "<=", ">", ">=":
		ord, err := a.PartialCmp(b, nil)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(constCmpMatches(sym, ord)), nil
	case "&&":
		ab, err := a.AsBool()
		if err != nil {
			return value.Unit(), err
		}
		bb, err := b.AsBool()
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(ab && bb), nil
	case "||":
		ab, err := a.AsBool()
		if err != nil {
			return value.Unit(), err
		}
		bb, err := b.AsBool()
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(ab || bb), nil
	default:
		return value.Unit(), fmt.Errorf("query: unsupported const binary operator %q", sym)
	}
}

func constCmpMatches(op string, o value.Ordering) bool {
	switch op {
	case "<":
		return o == value.Less
	case "<=":
		return o != value.Greater
	case ">":
		return o == value.Greater
	case ">=":
		return o != value.Less
	default:
		return false
	}
}

func constArith(op string, a, b value.Value) (value.Value, error) {
	if a.Kind == value.KindInteger && b.Kind == value.KindInteger {
		x, _ := a.AsInteger()
		y, _ := b.AsInteger()
		switch op {
		case "+":
			return value.Integer(x + y), nil
		case "-":
			return value.Integer(x - y), nil
		case "*":
			return value.Integer(x * y), nil
		case "/":
			if y == 0 {
				return value.Unit(), fmt.Errorf("query: division by zero in const expression")
			}
			return value.Integer(x / y), nil
		case "%":
			if y == 0 {
				return value.Unit(), fmt.Errorf("query: division by zero in const expression")
			}
			return value.Integer(x % y), nil
		case "&":
			return value.Integer(x & y), nil
		case "|":
			return value.Integer(x | y), nil
		case "^":
			return value.Integer(x ^ y), nil
		case "<<":
			return value.Integer(x << uint(y)), nil
		case ">>":
			return value.Integer(x >> uint(y)), nil
		}
	}
	if isConstFloatable(a.Kind) && isConstFloatable(b.Kind) {
		x, err := a.AsFloat()
		if err != nil {
			return value.Unit(), err
		}
		y, err := b.AsFloat()
		if err != nil {
			return value.Unit(), err
		}
		switch op {
		case "+":
			return value.Float(x + y), nil
		case "-":
			return value.Float(x - y), nil
		case "*":
			return value.Float(x * y), nil
		case "/":
			return value.Float(x / y), nil
		}
	}
	if op == "+" && a.Kind == value.KindString && b.Kind == value.KindString {
		as, _ := a.AsString()
		bs, _ := b.AsString()
		return value.String(as + bs), nil
	}
	return value.Unit(), fmt.Errorf("query: unsupported const operator %q on %s and %s", op, a.TypeInfo().Kind, b.TypeInfo().Kind)
}

func isConstFloatable(k value.Kind) bool {
	return k == value.KindInteger || k == value.KindFloat
}
