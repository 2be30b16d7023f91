package compile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
	"github.com/rune-lang/rune/vm"
)

type noMacros struct{}

func (noMacros) ExpandTemplate(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "template! not supported")
}
func (noMacros) ExpandFormatArgs(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "format_args! not supported")
}
func (noMacros) ExpandFile(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "file! not supported")
}
func (noMacros) ExpandLine(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "line! not supported")
}

func lowerFn(t *testing.T, text string) *hir.Fn {
	t.Helper()
	sources := source.NewSources()
	id := sources.Insert("test", text)
	p := ast.New(sources, id)
	file := p.ParseFile()
	require.Empty(t, p.Errors())
	require.Len(t, file.Items, 1)
	fn, ok := file.Items[0].(*ast.ItemFn)
	require.True(t, ok)

	arena := hir.NewArena()
	diags := &diag.Diagnostics{}
	lowerer := hir.NewLowerer(arena, noMacros{}, diags, id)
	root, err := lowerer.LowerFn(fn)
	require.NoError(t, err)
	return root.Fn
}

func compileAndRun(t *testing.T, text string, item string, args []value.Value) value.Value {
	t.Helper()
	fn := lowerFn(t, text)

	unit := compile.NewUnit()
	diags := &diag.Diagnostics{}
	comp := compile.NewCompiler(unit, diags, compile.DefaultOptions())
	_, err := comp.CompileFn(item, fn)
	require.NoError(t, err)

	ctx := module.NewContext()
	require.NoError(t, ctx.WithModule(module.Std()))
	rc := ctx.Build()

	require.NoError(t, comp.Finalize(rc.Hashes()))

	v := vm.New(comp.Unit(), rc)
	exec, err := v.Execute(item, args)
	require.NoError(t, err)
	h, err := exec.Resume()
	require.NoError(t, err)
	require.Equal(t, vm.Exited, h.Reason)
	return h.Value
}

func TestCompileArithmeticReturnsSum(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let a = 1; let b = 2; a + b }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

func TestCompileIfElseBranches(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { if false { 1 } else if true { 2 } else { 3 } }`, "main", nil)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(2), i)
}

func TestCompileWhileLoopAccumulates(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let n = 0; let i = 0; while i < 5 { n = n + i; i = i + 1; } n }`, "main", nil)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(10), i)
}

func TestCompileObjectLiteralAndFieldAccess(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let o = #{a: 1, b: 2}; o.a + o.b }`, "main", nil)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(3), i)
}

func TestCompileMatchObjectPattern(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let p = #{x: 1, y: 2}; match p { #{x, y} => x + y } }`, "main", nil)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(3), i)
}

func TestCompileForLoopSumsVec(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let xs = [1, 2, 3]; let sum = 0; for x in xs { sum = sum + x; } sum }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(6), i)
}

func TestCompileForLoopOverEmptyVecNeverRunsBody(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { let xs = []; let hit = false; for x in xs { hit = true; } hit }`, "main", nil)
	b, err := out.AsBool()
	require.NoError(t, err)
	assert.False(t, b)
}

func TestCompileForLoopOverBoolVecDoesNotExitEarly(t *testing.T) {
	// Regression test: the "done" condition must be the Unit sentinel from
	// NEXT, never the truthiness of the yielded item - otherwise a vec of
	// bools would stop at its first `false` element.
	out := compileAndRun(t, `pub fn main() { let xs = [false, false, true]; let n = 0; for x in xs { n = n + 1; } n }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

func TestCompileVecLiteral(t *testing.T) {
	out := compileAndRun(t, `pub fn main() { [1, 2, 3] }`, "main", nil)
	items, err := out.AsVec()
	require.NoError(t, err)
	require.Len(t, items, 3)
	i, _ := items[1].AsInteger()
	assert.Equal(t, int64(2), i)
}
