// Package vm executes a linked bytecode Unit against a RuntimeContext
// (spec §4.K).
package vm

import (
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// Frame is one call's activation record (spec §4.K "Frame. {return_ip,
// stack_bottom}. Call pushes a frame whose bottom is stack.len() - args;
// Return pops the frame and places the return value at the caller's
// output address").
type Frame struct {
	ReturnIP     int
	StackBottom  int
	OutAddr      compile.Addr // where the caller wants the return value
	CallerFrame  int          // index into Vm.frames, -1 for the outermost
}

// HaltReason distinguishes why Run stopped (spec §4.K "Halt reasons").
type HaltReason int

const (
	Exited HaltReason = iota
	Awaited
	Yielded
	VmCall
	Limited
)

// Halt is the result of one Run call.
type Halt struct {
	Reason HaltReason
	Value  value.Value
	Future *Future
}

// Vm is one cooperative bytecode execution context (spec §4.K "State:
// Unit, RuntimeContext, Stack, CallFrames, instruction pointer ip,
// optional generator_state").
type Vm struct {
	Unit    *compile.Unit
	Context *module.RuntimeContext

	stack  []value.Value
	frames []Frame
	ip     int

	budget    int
	unlimited bool

	genState *generatorState
}

func New(unit *compile.Unit, ctx *module.RuntimeContext) *Vm {
	return &Vm{Unit: unit, Context: ctx, unlimited: true}
}

// WithBudget bounds the number of instructions Run will execute before
// returning Limited (spec §4.K "The VM may be started with an
// instruction budget; on exhaustion it returns Limited and can be
// resumed").
func (vm *Vm) WithBudget(n int) *Vm {
	vm.budget = n
	vm.unlimited = false
	return vm
}

// Execution is the handle returned by calling into a Unit, analogous to
// spec §6's `Vm::execute(item, args) -> Execution`.
type Execution struct {
	vm *Vm
}

// Execute starts running the function named by item with args on the
// stack bottom, returning an Execution whose Resume drives it to
// completion or the next suspension point.
func (vm *Vm) Execute(item string, args []value.Value) (*Execution, error) {
	info, ok := vm.Unit.Functions.Get(value.HashString(item))
	if !ok {
		return nil, diag.New(diag.KindMissingFunctionHash, source.Span{}, "no function registered for item %q", item)
	}
	vm.stack = append(vm.stack, args...)
	vm.frames = append(vm.frames, Frame{ReturnIP: -1, StackBottom: len(vm.stack) - len(args), OutAddr: compile.NoOutput, CallerFrame: -1})
	vm.ip = info.Offset
	return &Execution{vm: vm}, nil
}

func (e *Execution) Resume() (Halt, error) {
	return e.vm.run()
}
