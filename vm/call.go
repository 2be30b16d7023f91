package vm

import (
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// dispatchCall resolves and invokes a Call/CallInstance/CallFn
// instruction. A nil Halt return means execution continues in this same
// run loop; a non-nil Halt means the VM suspended or exited (spec §4.K
// "Immediate: synchronous; result on stack", "Async: wraps the frame in
// a Future", "Generator: wraps in a Generator").
func (vm *Vm) dispatchCall(inst compile.Inst, trail []int, span source.Span) (*Halt, error) {
	hash := inst.Hash
	args := make([]compile.Addr, 0, len(inst.Args)+1)
	if inst.Op == compile.OpCallInstance {
		args = append(args, inst.A)
	}
	args = append(args, inst.Args...)

	if info, ok := vm.Unit.Functions.Get(hash); ok {
		return vm.callUnitFn(info, args, inst.Out, span)
	}

	if vm.Context != nil {
		if h, ok := vm.Context.Lookup(hash); ok {
			values := make([]value.Value, len(args))
			for i, a := range args {
				values[i] = vm.get(a).Clone()
			}
			result, err := h.Call(values)
			if err != nil {
				return nil, vm.panicErr(trail, err, span)
			}
			vm.setOut(inst.Out, result)
			vm.ip++
			return nil, nil
		}
		if c, ok := vm.Context.Constant(hash); ok {
			vm.setOut(inst.Out, c.Clone())
			vm.ip++
			return nil, nil
		}
	}

	return nil, vm.panic(trail, diag.KindMissingFunctionHash, "no function registered for hash %d", hash)
}

// callUnitFn pushes a new Frame for a Rune-defined function. Immediate
// calls continue executing in this Vm inline (spec §4.K); Async/
// Generator calls spin up a fresh child Vm sharing Unit and Context, so
// that suspending it never unwinds the caller's own frame.
func (vm *Vm) callUnitFn(info compile.FunctionInfo, args []compile.Addr, out compile.Output, span source.Span) (*Halt, error) {
	switch info.Kind {
	case compile.CallImmediate:
		values := make([]value.Value, len(args))
		for i, a := range args {
			values[i] = vm.get(a).Clone()
		}
		vm.stack = append(vm.stack, values...)
		vm.frames = append(vm.frames, Frame{
			ReturnIP:    vm.ip + 1,
			StackBottom: len(vm.stack) - len(values),
			OutAddr:     out.Addr,
			CallerFrame: len(vm.frames) - 1,
		})
		vm.ip = info.Offset
		return nil, nil
	case compile.CallAsync, compile.CallStream:
		child := vm.spawnChild(info, args)
		vm.setOut(out, NewFuture(child))
		vm.ip++
		return nil, nil
	case compile.CallGenerator:
		child := vm.spawnChild(info, args)
		vm.setOut(out, NewGenerator(child))
		vm.ip++
		return nil, nil
	default:
		return nil, vm.panic(nil, diag.KindVmTypeMismatch, "unknown call kind %v", info.Kind)
	}
}

func (vm *Vm) spawnChild(info compile.FunctionInfo, args []compile.Addr) *Vm {
	values := make([]value.Value, len(args))
	for i, a := range args {
		values[i] = vm.get(a).Clone()
	}
	child := New(vm.Unit, vm.Context)
	child.stack = append(child.stack, values...)
	child.frames = append(child.frames, Frame{ReturnIP: -1, StackBottom: 0, OutAddr: compile.NoOutput, CallerFrame: -1})
	child.ip = info.Offset
	return child
}
