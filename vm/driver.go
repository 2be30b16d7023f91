package vm

import (
	"github.com/rune-lang/rune/value"
)

// Future wraps a suspended async call's Vm state, reentered on resume
// (spec §4.K "Async: wraps the frame in a Future value; result is the
// future"; §5 "During suspension the VM state ... is captured in the
// Future/Generator object and reentered on resume").
type Future struct {
	vm       *Vm
	resolved bool
	result   value.Value
}

func (f *Future) Kind() value.Kind { return value.KindFuture }

// Poll resumes the wrapped Vm until it either resolves (Exited) or
// suspends again (Awaited/Yielded), never re-executing an instruction
// already run (spec §5 "A resumed VM picks up exactly where it left; no
// instruction may execute twice").
func (f *Future) Poll() (Halt, error) {
	if f.resolved {
		return Halt{Reason: Exited, Value: f.result}, nil
	}
	h, err := f.vm.run()
	if err != nil {
		return Halt{}, err
	}
	if h.Reason == Exited {
		f.resolved = true
		f.result = h.Value
	}
	return h, nil
}

func (vm *Vm) tryAsFuture(v value.Value) (*Future, bool) {
	d, err := v.AsDriver()
	if err != nil {
		return nil, false
	}
	f, ok := d.(*Future)
	return f, ok
}

// generatorState tracks a Vm hosting a `Generator`/`Stream` (calling
// convention Generator = Async × Generator minus the async half, Stream
// = both; spec §4.K "Generator: wraps in a Generator; each resume
// executes until next Yield or Return").
type generatorState struct {
	done bool
}

// Generator is the Driver payload for a suspended generator function;
// resuming it re-enters its Vm and runs until the next Yield or Return.
type Generator struct {
	vm   *Vm
	done bool
}

func (g *Generator) Kind() value.Kind { return value.KindGenerator }

func (g *Generator) Resume() (Halt, error) {
	if g.done {
		return Halt{Reason: Exited, Value: value.Unit()}, nil
	}
	h, err := g.vm.run()
	if err != nil {
		return Halt{}, err
	}
	if h.Reason == Exited {
		g.done = true
	}
	return h, nil
}

// NewFuture wraps a freshly-started async call's Vm into a Future value
// suitable for placing on the stack as the call's immediate result (spec
// §4.K "Async calling convention").
func NewFuture(inner *Vm) value.Value {
	return value.FromDriver(value.KindFuture, &Future{vm: inner})
}

// NewGenerator wraps a freshly-started generator call's Vm.
func NewGenerator(inner *Vm) value.Value {
	return value.FromDriver(value.KindGenerator, &Generator{vm: inner})
}
