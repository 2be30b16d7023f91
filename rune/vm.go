package rune

import (
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/value"
	"github.com/rune-lang/rune/vm"
)

// Vm re-exports vm.Vm under the embedding-facade name used by spec §6
// ("Vm::new(Arc<Runtime>, Arc<Unit>); Vm::execute(item, args) ->
// Execution; Execution::resume() -> Halt").
type Vm = vm.Vm

// Execution is the handle returned by Vm.Execute.
type Execution = vm.Execution

// Halt is the result of one Execution.Resume call.
type Halt = vm.Halt

func NewVm(unit *compile.Unit, ctx *module.Context) *Vm {
	rc := ctx
	var runtimeCtx *module.RuntimeContext
	if rc != nil {
		runtimeCtx = rc.Build()
	}
	return vm.New(unit, runtimeCtx)
}

// Run is a convenience one-shot helper: compile is assumed already done,
// this just executes item to completion, resuming through every
// suspension point itself (suitable for scripts with no genuine
// external async dependency, i.e. spec §8's example scenarios).
func Run(v *Vm, item string, args []value.Value) (value.Value, error) {
	exec, err := v.Execute(item, args)
	if err != nil {
		return value.Unit(), err
	}
	for {
		h, err := exec.Resume()
		if err != nil {
			return value.Unit(), err
		}
		switch h.Reason {
		case vm.Exited:
			return h.Value, nil
		case vm.Awaited:
			if _, err := h.Future.Poll(); err != nil {
				return value.Unit(), err
			}
		case vm.Yielded:
			continue
		case vm.Limited:
			return value.Unit(), errLimited
		}
	}
}

var errLimited = &limitedError{}

type limitedError struct{}

func (*limitedError) Error() string { return "rune: instruction budget exhausted" }
