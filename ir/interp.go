package ir

import (
	"strconv"

	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// DefaultBudget is the per-evaluation operation counter default (spec
// §4.G "default 1,000,000 operations").
const DefaultBudget = 1_000_000

// NotConstError signals that an expression, while not erroneous, cannot be
// evaluated at compile time; callers decide whether that is itself an
// error (spec §4.G "Outcomes").
type NotConstError struct{ Span source.Span }

func (e *NotConstError) Error() string { return "expression is not evaluable at compile time" }

// BreakErr carries a `break` outcome up to its matching loop (spec §4.G
// "Break(span, IrBreak) propagated until a matching loop consumes it").
type BreakErr struct {
	Span  source.Span
	Label string
	Value value.Value
}

func (e *BreakErr) Error() string { return "break outside of loop" }

// ConstFnResolver looks up a const fn's compiled IR body by item path; it
// is supplied by package query at call time to avoid an import cycle
// (query already imports ir for Fn).
type ConstFnResolver func(path string) (*Fn, error)

// Interpreter evaluates IR with a bounded budget and isolated scopes
// (spec §4.G).
type Interpreter struct {
	Caller    value.ProtocolCaller
	Scopes    *Scopes
	ConstFns  ConstFnResolver
	budget    int
	remaining int
}

func NewInterpreter(budget int, caller value.ProtocolCaller, constFns ConstFnResolver) *Interpreter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Interpreter{Caller: caller, Scopes: NewScopes(), ConstFns: constFns, budget: budget, remaining: budget}
}

func (ip *Interpreter) tick(span source.Span) error {
	if ip.remaining <= 0 {
		return diag.New(diag.KindBudgetExceeded, span, "const evaluation exceeded budget of %d operations", ip.budget)
	}
	ip.remaining--
	return nil
}

// Eval evaluates one IR node to a Value, or returns an error: a
// *diag.Diagnostic for a real failure, *NotConstError if the node is
// simply not const-evaluable, or *BreakErr propagating to an enclosing
// NodeLoop (spec §4.G "Outcomes").
func (ip *Interpreter) Eval(n *Node) (value.Value, error) {
	if err := ip.tick(n.Span); err != nil {
		return value.Value{}, err
	}
	switch n.Kind {
	case NodeScope:
		return ip.evalScope(n)
	case NodeBinary:
		return ip.evalBinary(n)
	case NodeDecl:
		v, err := ip.Eval(n.Value)
		if err != nil {
			return value.Value{}, err
		}
		ip.Scopes.Declare(n.Name, v)
		return value.Unit(), nil
	case NodeSet, NodeAssign:
		return ip.evalAssign(n)
	case NodeTemplate:
		return ip.evalTemplate(n)
	case NodeName:
		p, ok := ip.Scopes.Lookup(n.Name)
		if !ok {
			return value.Value{}, diag.New(diag.KindMissingLocal, n.Span, "missing local %q", n.Name)
		}
		return (*p).Clone(), nil
	case NodeLit:
		return n.Lit.Clone(), nil
	case NodeBranches:
		return ip.evalBranches(n)
	case NodeLoop:
		return ip.evalLoop(n)
	case NodeBreak:
		var bv value.Value
		if n.BreakValue != nil {
			v, err := ip.Eval(n.BreakValue)
			if err != nil {
				return value.Value{}, err
			}
			bv = v
		} else {
			bv = value.Unit()
		}
		return value.Value{}, &BreakErr{Span: n.Span, Label: n.BreakLabel, Value: bv}
	case NodeVec:
		items, err := ip.evalList(n.Items)
		if err != nil {
			return value.Value{}, err
		}
		return value.VecOf(items), nil
	case NodeTuple:
		items, err := ip.evalList(n.Items)
		if err != nil {
			return value.Value{}, err
		}
		return value.TupleOf(items), nil
	case NodeObject:
		keys := make([]string, 0, len(n.Fields))
		vals := make(map[string]value.Value, len(n.Fields))
		for _, f := range n.Fields {
			v, err := ip.Eval(f.Value)
			if err != nil {
				return value.Value{}, err
			}
			keys = append(keys, f.Name)
			vals[f.Name] = v
		}
		return value.ObjectOf(keys, vals), nil
	case NodeCall:
		return ip.evalCall(n)
	default:
		return value.Value{}, &NotConstError{Span: n.Span}
	}
}

func (ip *Interpreter) evalList(nodes []*Node) ([]value.Value, error) {
	out := make([]value.Value, 0, len(nodes))
	for _, n := range nodes {
		v, err := ip.Eval(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ip *Interpreter) evalScope(n *Node) (value.Value, error) {
	g := ip.Scopes.Push()
	defer ip.Scopes.Pop(g)
	result := value.Unit()
	for _, stmt := range n.Body {
		v, err := ip.Eval(stmt)
		if err != nil {
			return value.Value{}, err
		}
		result = v
	}
	return result, nil
}

func (ip *Interpreter) evalBranches(n *Node) (value.Value, error) {
	for _, arm := range n.Arms {
		cond, err := ip.Eval(arm.Cond)
		if err != nil {
			return value.Value{}, err
		}
		b, err := cond.AsBool()
		if err != nil {
			return value.Value{}, diag.New(diag.KindTypeMismatch, arm.Cond.Span, "if condition must be bool")
		}
		if b {
			return ip.Eval(arm.Body)
		}
	}
	if n.Else != nil {
		return ip.Eval(n.Else)
	}
	return value.Unit(), nil
}

func (ip *Interpreter) evalLoop(n *Node) (value.Value, error) {
	for {
		_, err := ip.Eval(n.LoopBody)
		if err == nil {
			continue
		}
		if brk, ok := err.(*BreakErr); ok {
			if brk.Label == "" || brk.Label == n.Label {
				return brk.Value, nil
			}
			return value.Value{}, err // propagate to an outer labeled loop
		}
		return value.Value{}, err
	}
}

func (ip *Interpreter) evalAssign(n *Node) (value.Value, error) {
	v, err := ip.Eval(n.Value)
	if err != nil {
		return value.Value{}, err
	}
	target := n.Target
	if n.Kind == NodeSet {
		target = &Node{Span: n.Span, Kind: NodeName, Name: n.Name}
	}
	switch target.Kind {
	case NodeName:
		p, ok := ip.Scopes.Lookup(target.Name)
		if !ok {
			return value.Value{}, diag.New(diag.KindMissingLocal, n.Span, "missing local %q", target.Name)
		}
		*p = v
	case NodeTargetField:
		base, err := ip.Eval(target.Base)
		if err != nil {
			return value.Value{}, err
		}
		if err := base.ObjectSet(target.Field, v); err != nil {
			return value.Value{}, diag.New(diag.KindMissingFieldIndex, n.Span, "cannot set field %q: %v", target.Field, err)
		}
	case NodeTargetIndex:
		base, err := ip.Eval(target.Base)
		if err != nil {
			return value.Value{}, err
		}
		idx, err := ip.Eval(target.Index)
		if err != nil {
			return value.Value{}, err
		}
		if err := assignIndex(base, idx, v); err != nil {
			return value.Value{}, diag.New(diag.KindMissingFieldIndex, n.Span, "%v", err)
		}
	default:
		return value.Value{}, diag.New(diag.KindTypeMismatch, n.Span, "invalid assignment target")
	}
	return value.Unit(), nil
}

func assignIndex(base, idx, v value.Value) error {
	i, err := idx.AsInteger()
	if err != nil {
		return err
	}
	items, err := base.AsVec()
	if err != nil {
		if items, err = base.AsTuple(); err != nil {
			return err
		}
	}
	if i < 0 || int(i) >= len(items) {
		return diag.New(diag.KindVmOutOfRange, source.Span{}, "index %d out of range", i)
	}
	items[i] = v
	return nil
}

// evalTemplate concatenates template components with a fixed-precision
// formatter: integers decimal, floats shortest round-trip, bool
// true/false, strings verbatim; anything else yields NotConst (spec
// §4.G "Templates").
func (ip *Interpreter) evalTemplate(n *Node) (value.Value, error) {
	var out []byte
	for _, seg := range n.Segments {
		v, err := ip.Eval(seg)
		if err != nil {
			return value.Value{}, err
		}
		piece, err := formatTemplatePiece(v)
		if err != nil {
			return value.Value{}, err
		}
		out = append(out, piece...)
	}
	return value.String(string(out)), nil
}

func formatTemplatePiece(v value.Value) (string, error) {
	switch v.Kind {
	case value.KindString:
		s, _ := v.AsString()
		return s, nil
	case value.KindInteger:
		i, _ := v.AsInteger()
		return strconv.FormatInt(i, 10), nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case value.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), nil
	default:
		return "", &NotConstError{}
	}
}

// evalCall resolves and evaluates a const-fn call: arity check, isolated
// scope, argument binding, body evaluation, barrier pop (spec §4.G
// "Const-fn calls").
func (ip *Interpreter) evalCall(n *Node) (value.Value, error) {
	if ip.ConstFns == nil {
		return value.Value{}, &NotConstError{Span: n.Span}
	}
	fn, err := ip.ConstFns(n.Callee)
	if err != nil {
		return value.Value{}, err
	}
	if len(fn.Params) != len(n.Args) {
		return value.Value{}, diag.New(diag.KindArgCountMismatch, n.Span, "const fn %q expects %d arguments, got %d", n.Callee, len(fn.Params), len(n.Args))
	}
	args, err := ip.evalList(n.Args)
	if err != nil {
		return value.Value{}, err
	}
	g := ip.Scopes.Isolate()
	defer ip.Scopes.Pop(g)
	for i, p := range fn.Params {
		ip.Scopes.Declare(p, args[i])
	}
	return ip.Eval(fn.Body)
}

func (ip *Interpreter) evalBinary(n *Node) (value.Value, error) {
	lhs, err := ip.Eval(n.Lhs)
	if err != nil {
		return value.Value{}, err
	}
	switch n.Op {
	case "&&":
		b, _ := lhs.AsBool()
		if !b {
			return value.Bool(false), nil
		}
		rhs, err := ip.Eval(n.Rhs)
		if err != nil {
			return value.Value{}, err
		}
		rb, _ := rhs.AsBool()
		return value.Bool(rb), nil
	case "||":
		b, _ := lhs.AsBool()
		if b {
			return value.Bool(true), nil
		}
		rhs, err := ip.Eval(n.Rhs)
		if err != nil {
			return value.Value{}, err
		}
		rb, _ := rhs.AsBool()
		return value.Bool(rb), nil
	}
	rhs, err := ip.Eval(n.Rhs)
	if err != nil {
		return value.Value{}, err
	}
	return evalArith(n.Span, n.Op, lhs, rhs, ip.Caller)
}

func evalArith(span source.Span, op string, a, b value.Value, caller value.ProtocolCaller) (value.Value, error) {
	switch op {
	case "+":
		if a.Kind == value.KindString && b.Kind == value.KindString {
			as, _ := a.AsString()
			bs, _ := b.AsString()
			return value.String(as + bs), nil
		}
		return numeric(span, op, a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
	case "-":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
	case "*":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
	case "/":
		if bi, err := b.AsInteger(); err == nil && bi == 0 {
			return value.Value{}, diag.New(diag.KindDivideByZero, span, "division by zero")
		}
		return numeric(span, op, a, b, func(x, y int64) int64 { return x / y }, func(x, y float64) float64 { return x / y })
	case "%":
		if bi, err := b.AsInteger(); err == nil && bi == 0 {
			return value.Value{}, diag.New(diag.KindDivideByZero, span, "division by zero")
		}
		return numeric(span, op, a, b, func(x, y int64) int64 { return x % y }, nil)
	case "==":
		eq, err := a.PartialEq(b, caller)
		return value.Bool(eq), err
	case "!=":
		eq, err := a.PartialEq(b, caller)
		return value.Bool(!eq), err
	case "<", "<=", ">", ">=":
		o, err := a.PartialCmp(b, caller)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(cmpMatches(op, o)), nil
	case "&":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x & y }, nil)
	case "|":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x | y }, nil)
	case "^":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x ^ y }, nil)
	case "<<":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x << uint(y) }, nil)
	case ">>":
		return numeric(span, op, a, b, func(x, y int64) int64 { return x >> uint(y) }, nil)
	default:
		return value.Value{}, &NotConstError{Span: span}
	}
}

func cmpMatches(op string, o value.Ordering) bool {
	switch op {
	case "<":
		return o == value.Less
	case "<=":
		return o != value.Greater
	case ">":
		return o == value.Greater
	case ">=":
		return o != value.Less
	}
	return false
}

func numeric(span source.Span, op string, a, b value.Value, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (value.Value, error) {
	if a.Kind == value.KindFloat || b.Kind == value.KindFloat {
		if floatOp == nil {
			return value.Value{}, diag.New(diag.KindTypeMismatch, span, "operator %q is not defined for float", op)
		}
		af, err := asFloat(a)
		if err != nil {
			return value.Value{}, err
		}
		bf, err := asFloat(b)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(floatOp(af, bf)), nil
	}
	ai, err := a.AsInteger()
	if err != nil {
		return value.Value{}, diag.New(diag.KindTypeMismatch, span, "operator %q expects numeric operands", op)
	}
	bi, err := b.AsInteger()
	if err != nil {
		return value.Value{}, diag.New(diag.KindTypeMismatch, span, "operator %q expects numeric operands", op)
	}
	return value.Integer(intOp(ai, bi)), nil
}

func asFloat(v value.Value) (float64, error) {
	if v.Kind == value.KindFloat {
		return v.AsFloat()
	}
	i, err := v.AsInteger()
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}
