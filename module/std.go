package module

import (
	"fmt"

	"github.com/rune-lang/rune/value"
)

// Std returns the always-available module backing the two builtin-macro
// call targets the compiler emits (`builtin::template_concat` for
// lowered `${}` templates, `builtin::format_args` for format_args!
// expansions), mirroring the way the teacher's Symbols map always
// registers its own selfPath package regardless of what the embedder
// imports (interp.go: `func init() { Symbols[selfPath]["Symbols"] = ... }`).
func Std() *Module {
	m := New("std")
	m.Function("builtin::template_concat", templateConcat)
	m.Function("builtin::format_args", formatArgs)
	m.Function("std::vec::len", vecLen)
	m.Function("std::vec::push", vecPush)
	m.Function("std::string::len", stringLen)
	// for-loops desugar to a bare OpCall on these two protocol hashes
	// (compile.compileFor), so INTO_ITER/NEXT are registered as ordinary
	// free functions keyed by the protocol's own hash string rather than
	// dispatched per-type (spec §4.H).
	m.Function("protocol::INTO_ITER", intoIter)
	m.Function("protocol::NEXT", iterNext)
	return m
}

// intoIter converts a Vec into a stateful iterator value; an
// already-iterator value (e.g. chained for-loops) passes through
// unchanged.
func intoIter(v value.Value) (value.Value, error) {
	if v.Kind == value.KindIterator {
		return v, nil
	}
	items, err := v.AsVec()
	if err != nil {
		return value.Unit(), err
	}
	return value.FromIterator(&vecIterator{items: items}), nil
}

// iterNext advances an iterator, returning Unit on exhaustion (spec §4.H
// "NEXT returns the Unit sentinel when the iterator is exhausted").
func iterNext(v value.Value) (value.Value, error) {
	it, ok := v.AsIterator()
	if !ok {
		return value.Unit(), fmt.Errorf("module: NEXT called on a non-iterator value")
	}
	item, ok, err := it.Next()
	if err != nil {
		return value.Unit(), err
	}
	if !ok {
		return value.Unit(), nil
	}
	return item, nil
}

type vecIterator struct {
	items []value.Value
	idx   int
}

func (it *vecIterator) Next() (value.Value, bool, error) {
	if it.idx >= len(it.items) {
		return value.Unit(), false, nil
	}
	v := it.items[it.idx]
	it.idx++
	return v, true, nil
}

func templateConcat(args ...value.Value) (value.Value, error) {
	var out []byte
	for _, a := range args {
		s, err := displayString(a)
		if err != nil {
			return value.Unit(), err
		}
		out = append(out, s...)
	}
	return value.String(string(out)), nil
}

// formatArgs reconstructs a format_args! call's segments from the
// interned key pool index carried in the bytecode; since the reflect
// bridge only sees the value arguments, the VM is responsible for
// pre-pending the joined template as the first argument before this
// handler runs (see vm.Vm.dispatchCall's special-casing for this hash).
func formatArgs(args ...value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.String(""), nil
	}
	template, err := args[0].AsString()
	if err != nil {
		return value.Unit(), err
	}
	return value.String(template), nil
}

func displayString(v value.Value) (string, error) {
	f := value.NewFormatter()
	if err := v.Display(f, nil); err != nil {
		return "", err
	}
	return f.String(), nil
}

func vecLen(v value.Value) (int64, error) {
	items, err := v.AsVec()
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func vecPush(v value.Value, item value.Value) (value.Value, error) {
	items, err := v.AsVec()
	if err != nil {
		return value.Unit(), err
	}
	return value.VecOf(append(append([]value.Value{}, items...), item)), nil
}

func stringLen(v value.Value) (int64, error) {
	s, err := v.AsString()
	if err != nil {
		return 0, err
	}
	return int64(len(s)), nil
}
