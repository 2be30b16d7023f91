package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
	"github.com/rune-lang/rune/vm"
)

// buildUnit assembles a minimal Unit with a single function named "main"
// whose body is the given instructions, the last of which must leave its
// result ready to be picked up by an appended OpReturn over resultAddr.
func buildUnit(insts []compile.Inst, resultAddr compile.Addr) *compile.Unit {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)
	for _, inst := range insts {
		asm.Emit(inst, sourceSpanZero())
	}
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: resultAddr}, sourceSpanZero())
	require_Finalize(asm)
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: 0, Arity: 0, Kind: compile.CallImmediate})
	return unit
}

func require_Finalize(asm *compile.Assembler) {
	if err := asm.Finalize(); err != nil {
		panic(err)
	}
}

func sourceSpanZero() source.Span { return source.Span{} }

func TestVmExecutesArithmetic(t *testing.T) {
	unit := buildUnit([]compile.Inst{
		{Op: compile.OpPush, Value: value.Integer(1), Out: compile.KeepAt(0)},
		{Op: compile.OpPush, Value: value.Integer(2), Out: compile.KeepAt(1)},
		{Op: compile.OpBinOp, Op2: "+", A: 0, B: 1, Out: compile.KeepAt(2)},
	}, 2)

	v := vm.New(unit, nil)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)
	i, err := h.Value.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

func TestVmCallsHostFunction(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(10), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.HashString("math::double"), Args: []compile.Addr{0}, Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 1}, sourceSpanZero())
	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: 0, Kind: compile.CallImmediate})

	m := module.New("math").Function("math::double", func(v value.Value) (int64, error) {
		i, err := v.AsInteger()
		if err != nil {
			return 0, err
		}
		return i * 2, nil
	})
	ctx := module.NewContext()
	require.NoError(t, ctx.WithModule(m))
	rc := ctx.Build()

	v := vm.New(unit, rc)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)
	i, err := h.Value.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(20), i)
}

func TestVmCallsRuneFunction(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)

	// fn double(x) { x * 2 } at offset 0
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(2), Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpBinOp, Op2: "*", A: 0, B: 1, Out: compile.KeepAt(2)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 2}, sourceSpanZero())
	doubleOffset := 0

	// fn main() { double(21) } at offset 3
	mainOffset := len(unit.Instructions)
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(21), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.HashString("double"), Args: []compile.Addr{0}, Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 1}, sourceSpanZero())

	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("double"), compile.FunctionInfo{Name: "double", Offset: doubleOffset, Arity: 1, Kind: compile.CallImmediate})
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: mainOffset, Kind: compile.CallImmediate})

	v := vm.New(unit, nil)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)
	i, err := h.Value.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)
}

func TestVmAsyncAwaitResolvesAcrossSuspension(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)

	// fn produce() { 42 } — the async callee.
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(42), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 0}, sourceSpanZero())
	produceOffset := 0

	// fn main() { produce().await } — calls the async function, then awaits it twice
	// (mirrors the VM re-entering OpAwait after the Future already resolved).
	mainOffset := len(unit.Instructions)
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.HashString("produce"), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpAwait, A: 0, Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 1}, sourceSpanZero())

	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("produce"), compile.FunctionInfo{Name: "produce", Offset: produceOffset, Kind: compile.CallAsync})
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: mainOffset, Kind: compile.CallImmediate})

	v := vm.New(unit, nil)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)

	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Awaited, h.Reason)
	require.NotNil(t, h.Future)

	polled, err := h.Future.Poll()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, polled.Reason)

	h2, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h2.Reason)
	i, err := h2.Value.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)
}

func TestVmGeneratorYieldsThenExits(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)

	// fn gen() { yield 1; yield 2; 3 }
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(1), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpYield, A: 0, Out: compile.Discard()}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(2), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpYield, A: 0, Out: compile.Discard()}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(3), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 0}, sourceSpanZero())
	genOffset := 0

	mainOffset := len(unit.Instructions)
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.HashString("gen"), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 0}, sourceSpanZero())

	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("gen"), compile.FunctionInfo{Name: "gen", Offset: genOffset, Kind: compile.CallGenerator})
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: mainOffset, Kind: compile.CallImmediate})

	v := vm.New(unit, nil)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)

	genVal := h.Value
	driver, err := genVal.AsDriver()
	require.NoError(t, err)
	g, ok := driver.(*vm.Generator)
	require.True(t, ok)

	h1, err := g.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Yielded, h1.Reason)
	i1, _ := h1.Value.AsInteger()
	assert.Equal(t, int64(1), i1)

	h2, err := g.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Yielded, h2.Reason)
	i2, _ := h2.Value.AsInteger()
	assert.Equal(t, int64(2), i2)

	h3, err := g.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h3.Reason)
	i3, _ := h3.Value.AsInteger()
	assert.Equal(t, int64(3), i3)
}

// TestVmIterNextExitsOnUnitSentinel hand-assembles the same INTO_ITER/NEXT
// loop shape compile.compileFor emits, over a vec of bools, and checks the
// loop runs for every element rather than stopping at the first `false`
// (OpIterNext must test the Unit sentinel, not truthiness).
func TestVmIterNextExitsOnUnitSentinel(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)

	// main(): iterAddr=0, itemAddr=1, doneAddr=2, countAddr=3
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.VecOf([]value.Value{value.Bool(false), value.Bool(false), value.Bool(true)}), Out: compile.KeepAt(4)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.INTO_ITER.Hash, Args: []compile.Addr{4}, Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(0), Out: compile.KeepAt(3)}, sourceSpanZero())

	startLabel := asm.Label()
	asm.BindLabel(startLabel)
	asm.Emit(compile.Inst{Op: compile.OpCall, Hash: value.NEXT.Hash, Args: []compile.Addr{0}, Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpIterNext, A: 1, Out: compile.KeepAt(2)}, sourceSpanZero())
	doneLabel := asm.Label()
	asm.EmitJump(compile.OpJumpIf, 2, doneLabel, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(1), Out: compile.KeepAt(5)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpBinOp, Op2: "+", A: 3, B: 5, Out: compile.KeepAt(3)}, sourceSpanZero())
	asm.EmitJump(compile.OpJump, compile.NoOutput, startLabel, sourceSpanZero())

	asm.BindLabel(doneLabel)
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 3}, sourceSpanZero())

	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: 0, Kind: compile.CallImmediate})

	m := module.New("test").
		Function("protocol::INTO_ITER", func(v value.Value) (value.Value, error) {
			items, err := v.AsVec()
			if err != nil {
				return value.Unit(), err
			}
			return value.FromIterator(&testVecIterator{items: items}), nil
		}).
		Function("protocol::NEXT", func(v value.Value) (value.Value, error) {
			it, ok := v.AsIterator()
			require.True(t, ok)
			item, ok, err := it.Next()
			if err != nil {
				return value.Unit(), err
			}
			if !ok {
				return value.Unit(), nil
			}
			return item, nil
		})
	ctx := module.NewContext()
	require.NoError(t, ctx.WithModule(m))
	rc := ctx.Build()

	v := vm.New(unit, rc)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)
	i, err := h.Value.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

type testVecIterator struct {
	items []value.Value
	idx   int
}

func (it *testVecIterator) Next() (value.Value, bool, error) {
	if it.idx >= len(it.items) {
		return value.Unit(), false, nil
	}
	v := it.items[it.idx]
	it.idx++
	return v, true, nil
}

func TestVmProtocolDispatchOnUnsupportedOperator(t *testing.T) {
	unit := compile.NewUnit()
	asm := compile.NewAssembler(unit)
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Bool(true), Out: compile.KeepAt(0)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpPush, Value: value.Integer(1), Out: compile.KeepAt(1)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpBinOp, Op2: "+", A: 0, B: 1, Out: compile.KeepAt(2)}, sourceSpanZero())
	asm.Emit(compile.Inst{Op: compile.OpReturn, A: 2}, sourceSpanZero())
	require.NoError(t, asm.Finalize())
	_ = unit.Functions.TryInsert(value.HashString("main"), compile.FunctionInfo{Name: "main", Offset: 0, Kind: compile.CallImmediate})

	v := vm.New(unit, nil)
	exec, err := v.Execute("main", nil)
	require.NoError(t, err)
	_, err = exec.Resume()
	require.Error(t, err)
	var p *vm.Panic
	require.ErrorAs(t, err, &p)
}
