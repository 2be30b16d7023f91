package vm

import (
	"fmt"

	"github.com/rune-lang/rune/value"
)

// CallProtocol makes Vm a value.ProtocolCaller: composite/Any/Variant/
// External comparisons and operators dispatch through the
// RuntimeContext by the operand's registered type path (spec §4.K
// "Operator instructions first test operand inline-type combinations
// for a fast path ... else dispatch to the protocol via
// RuntimeContext").
func (vm *Vm) CallProtocol(p value.Protocol, args []value.Value) (value.Value, bool, error) {
	if len(args) == 0 {
		return value.Unit(), false, nil
	}
	typeName := typePath(args[0])
	if typeName == "" {
		return value.Unit(), false, nil
	}
	h, ok := vm.Context.LookupProtocol(typeName, p)
	if !ok {
		return value.Unit(), false, nil
	}
	result, err := h.Call(args)
	if err != nil {
		return value.Unit(), false, err
	}
	return result, true, nil
}

func typePath(v value.Value) string {
	info := v.TypeInfo()
	if info.Item != "" {
		return info.Item
	}
	return ""
}

// binOp implements the fast inline-type path plus protocol fallback for
// an overloadable operator (spec §4.K).
func (vm *Vm) binOp(op string, a, b value.Value) (value.Value, error) {
	switch op {
	case "+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>":
		return arith(op, a, b, vm)
	case "==":
		eq, err := a.PartialEq(b, vm)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(eq), nil
	case "!=":
		eq, err := a.PartialEq(b, vm)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(!eq), nil
	case "<", "<=", ">", ">=":
		ord, err := a.PartialCmp(b, vm)
		if err != nil {
			return value.Unit(), err
		}
		return value.Bool(cmpMatches(op, ord)), nil
	case "&&":
		return value.Bool(truthy(a) && truthy(b)), nil
	case "||":
		return value.Bool(truthy(a) || truthy(b)), nil
	default:
		return value.Unit(), fmt.Errorf("vm: unsupported binary operator %q", op)
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
	default:
		return false
	}
}

func arith(op string, a, b value.Value, caller value.ProtocolCaller) (value.Value, error) {
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
				return value.Unit(), fmt.Errorf("vm: division by zero")
			}
			return value.Integer(x / y), nil
		case "%":
			if y == 0 {
				return value.Unit(), fmt.Errorf("vm: division by zero")
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
	if isFloatable(a.Kind) && isFloatable(b.Kind) {
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
	p, ok := value.BinOpProtocols[op]
	if !ok {
		return value.Unit(), fmt.Errorf("vm: unsupported binary operator %q", op)
	}
	result, handled, err := caller.CallProtocol(p, []value.Value{a, b})
	if err != nil {
		return value.Unit(), err
	}
	if !handled {
		return value.Unit(), &value.UnsupportedBinaryOperationError{Op: op, Lhs: a.TypeInfo(), Rhs: b.TypeInfo()}
	}
	return result, nil
}

func isFloatable(k value.Kind) bool {
	return k == value.KindFloat || k == value.KindInteger
}

func (vm *Vm) unOp(op string, a value.Value) (value.Value, error) {
	switch op {
	case "-":
		if a.Kind == value.KindInteger {
			i, _ := a.AsInteger()
			return value.Integer(-i), nil
		}
		if a.Kind == value.KindFloat {
			f, _ := a.AsFloat()
			return value.Float(-f), nil
		}
		result, handled, err := vm.CallProtocol(value.NEG, []value.Value{a})
		if err != nil {
			return value.Unit(), err
		}
		if !handled {
			return value.Unit(), fmt.Errorf("vm: unsupported unary `-` on %s", a.TypeInfo().Kind)
		}
		return result, nil
	case "!":
		return value.Bool(!truthy(a)), nil
	default:
		return value.Unit(), fmt.Errorf("vm: unsupported unary operator %q", op)
	}
}

// tryProtocol implements `?`: the TRY protocol returns Continue(v) or
// Break(v); Break causes the current function to return v immediately
// (spec §4.K "Unwinding"). Values without a registered TRY
// implementation are treated as already-successful (Continue).
func (vm *Vm) tryProtocol(v value.Value) (cont bool, out value.Value, err error) {
	result, handled, callErr := vm.CallProtocol(value.TRY, []value.Value{v})
	if callErr != nil {
		return false, value.Unit(), callErr
	}
	if !handled {
		return true, v, nil
	}
	keys, get, ok := result.AsObject()
	if ok {
		_ = keys
		if brk, found := get("break"); found {
			return false, brk, nil
		}
		if ctn, found := get("continue"); found {
			return true, ctn, nil
		}
	}
	return true, result, nil
}
