package vm

import (
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// Panic is a VM error with a reason payload and an instruction pointer
// trail, unwound to the outermost frame (spec §4.K "Panics are modeled
// as a VM error with a reason payload and unwind to the outermost frame,
// recording an instruction pointer trail for diagnostics").
type Panic struct {
	Diagnostic *diag.Diagnostic
	Trail      []int
}

func (p *Panic) Error() string { return p.Diagnostic.Error() }

// run drives the fetch-decode-execute loop until a Halt condition (spec
// §4.K). It is deliberately flat and non-recursive: every Rune-level
// function call pushes a Frame rather than a Go stack frame, so deep
// script recursion does not grow the host stack.
func (vm *Vm) run() (Halt, error) {
	var trail []int
	for {
		if !vm.unlimited {
			if vm.budget <= 0 {
				return Halt{Reason: Limited}, nil
			}
			vm.budget--
		}
		if vm.ip >= len(vm.Unit.Instructions) {
			return Halt{}, vm.panic(trail, diag.KindVmTypeMismatch, "instruction pointer ran off the end of the unit")
		}
		trail = append(trail, vm.ip)
		inst := vm.Unit.Instructions[vm.ip]
		span := source.Span{}
		if vm.ip < len(vm.Unit.Debug.Spans) {
			span = vm.Unit.Debug.Spans[vm.ip]
		}

		switch inst.Op {
		case compile.OpCopy:
			vm.setOut(inst.Out, vm.get(inst.A).Clone())
			vm.ip++
		case compile.OpMove:
			vm.setOut(inst.Out, vm.get(inst.A))
			vm.ip++
		case compile.OpPush:
			vm.setOut(inst.Out, inst.Value.Clone())
			vm.ip++
		case compile.OpBinOp:
			result, err := vm.binOp(inst.Op2, vm.get(inst.A), vm.get(inst.B))
			if err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			vm.setOut(inst.Out, result)
			vm.ip++
		case compile.OpUnOp:
			result, err := vm.unOp(inst.Op2, vm.get(inst.A))
			if err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			vm.setOut(inst.Out, result)
			vm.ip++
		case compile.OpJump:
			vm.ip = inst.Offset
		case compile.OpJumpIf:
			if truthy(vm.get(inst.A)) {
				vm.ip = inst.Offset
			} else {
				vm.ip++
			}
		case compile.OpJumpIfNot:
			if !truthy(vm.get(inst.A)) {
				vm.ip = inst.Offset
			} else {
				vm.ip++
			}
		case compile.OpVecNew:
			vm.setOut(inst.Out, value.VecOf(vm.gatherArgs(inst.Args)))
			vm.ip++
		case compile.OpTupleNew:
			vm.setOut(inst.Out, value.TupleOf(vm.gatherArgs(inst.Args)))
			vm.ip++
		case compile.OpObjectNew, compile.OpStructNew:
			values := vm.gatherArgs(inst.Args)
			fields := make(map[string]value.Value, len(inst.Keys))
			for i, k := range inst.Keys {
				if i < len(values) {
					fields[k] = values[i]
				}
			}
			vm.setOut(inst.Out, value.ObjectOf(inst.Keys, fields))
			vm.ip++
		case compile.OpObjectIndexGet:
			result, err := vm.indexGet(inst)
			if err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			vm.setOut(inst.Out, result)
			vm.ip++
		case compile.OpObjectIndexSet:
			if err := vm.indexSet(inst); err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			vm.ip++
		case compile.OpTupleIndexGet:
			tup, err := vm.get(inst.A).AsTuple()
			if err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			if inst.Index < 0 || inst.Index >= len(tup) {
				return Halt{}, vm.panic(trail, diag.KindVmOutOfRange, "tuple index %d out of range (len %d)", inst.Index, len(tup))
			}
			vm.setOut(inst.Out, tup[inst.Index].Clone())
			vm.ip++
		case compile.OpCall, compile.OpCallInstance, compile.OpCallFn:
			halt, err := vm.dispatchCall(inst, trail, span)
			if err != nil {
				return Halt{}, err
			}
			if halt != nil {
				return *halt, nil
			}
		case compile.OpReturn:
			v := vm.get(inst.A)
			h, done := vm.doReturn(v)
			if done {
				return h, nil
			}
		case compile.OpReturnUnit:
			h, done := vm.doReturn(value.Unit())
			if done {
				return h, nil
			}
		case compile.OpAwait:
			fut, ok := vm.tryAsFuture(vm.get(inst.A))
			if !ok {
				// Already resolved value: treat as immediately-ready.
				vm.setOut(inst.Out, vm.get(inst.A))
				vm.ip++
				continue
			}
			if fut.resolved {
				vm.setOut(inst.Out, fut.result)
				vm.ip++
				continue
			}
			return Halt{Reason: Awaited, Future: fut}, nil
		case compile.OpYield:
			var v value.Value = value.Unit()
			if inst.A != compile.NoOutput {
				v = vm.get(inst.A)
			}
			vm.ip++ // resume lands on the instruction after Yield
			return Halt{Reason: Yielded, Value: v}, nil
		case compile.OpIterNext:
			// A for-loop exits on the Unit sentinel (spec §4.H), never on
			// truthiness: ordinary iterator items (bools included) must not
			// be mistaken for "done".
			vm.setOut(inst.Out, value.Bool(vm.get(inst.A).Kind == value.KindUnit))
			vm.ip++
		case compile.OpTry:
			cont, v, err := vm.tryProtocol(vm.get(inst.A))
			if err != nil {
				return Halt{}, vm.panicErr(trail, err, span)
			}
			if !cont {
				h, done := vm.doReturn(v)
				if done {
					return h, nil
				}
				continue
			}
			vm.setOut(inst.Out, v)
			vm.ip++
		case compile.OpPanic:
			return Halt{}, vm.panic(trail, diag.KindPanic, "%s", inst.Name)
		default:
			return Halt{}, vm.panic(trail, diag.KindVmTypeMismatch, "unknown opcode %v", inst.Op)
		}
	}
}

func (vm *Vm) panic(trail []int, kind diag.Kind, format string, args ...interface{}) error {
	return &Panic{Diagnostic: diag.New(kind, source.Span{}, format, args...), Trail: append([]int(nil), trail...)}
}

func (vm *Vm) panicErr(trail []int, err error, span source.Span) error {
	if d, ok := err.(*diag.Diagnostic); ok {
		return &Panic{Diagnostic: d, Trail: append([]int(nil), trail...)}
	}
	return &Panic{Diagnostic: diag.New(diag.KindVmTypeMismatch, span, "%s", err.Error()), Trail: append([]int(nil), trail...)}
}

// doReturn pops the current frame, placing the result at its caller's
// output address; popping the outermost frame halts with Exited (spec
// §4.K "Return pops the frame and places the return value at the
// caller's output address").
func (vm *Vm) doReturn(v value.Value) (Halt, bool) {
	frame := vm.frames[len(vm.frames)-1]
	vm.stack = vm.stack[:frame.StackBottom]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if frame.CallerFrame < 0 {
		return Halt{Reason: Exited, Value: v}, true
	}
	vm.ip = frame.ReturnIP
	vm.setOut(compile.KeepAt(frame.OutAddr), v)
	return Halt{}, false
}

func (vm *Vm) get(addr compile.Addr) value.Value {
	return vm.stack[vm.frames[len(vm.frames)-1].StackBottom+int(addr)]
}

func (vm *Vm) setOut(out compile.Output, v value.Value) {
	if out.IsDiscard() {
		return
	}
	base := vm.frames[len(vm.frames)-1].StackBottom
	idx := base + int(out.Addr)
	for idx >= len(vm.stack) {
		vm.stack = append(vm.stack, value.Unit())
	}
	vm.stack[idx] = v
}

func (vm *Vm) gatherArgs(addrs []compile.Addr) []value.Value {
	out := make([]value.Value, len(addrs))
	for i, a := range addrs {
		out[i] = vm.get(a).Clone()
	}
	return out
}

func truthy(v value.Value) bool {
	b, err := v.AsBool()
	if err != nil {
		return false
	}
	return b
}

func (vm *Vm) indexGet(inst compile.Inst) (value.Value, error) {
	base := vm.get(inst.A)
	if inst.Name != "" {
		keys, get, ok := base.AsObject()
		if ok {
			_ = keys
			if v, found := get(inst.Name); found {
				return v.Clone(), nil
			}
			return value.Unit(), diag.New(diag.KindVmMissingIndex, source.Span{}, "no field %q", inst.Name)
		}
	}
	idx, err := vm.get(inst.B).AsInteger()
	if err != nil {
		return value.Unit(), err
	}
	items, err := base.AsVec()
	if err != nil {
		return value.Unit(), err
	}
	if idx < 0 || int(idx) >= len(items) {
		return value.Unit(), diag.New(diag.KindVmOutOfRange, source.Span{}, "index %d out of range (len %d)", idx, len(items))
	}
	return items[idx].Clone(), nil
}

func (vm *Vm) indexSet(inst compile.Inst) error {
	base := vm.get(inst.A)
	val := vm.get(inst.B)
	if inst.Name != "" {
		return base.ObjectSet(inst.Name, val)
	}
	return diag.New(diag.KindVmMissingIndex, source.Span{}, "index assignment by integer is not yet supported")
}
