package hir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/source"
)

// noMacros errors on every built-in macro invocation; tests that don't
// exercise template!/format_args!/file!/line! can use it as a stub.
type noMacros struct{}

func (noMacros) ExpandTemplate(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "template! not supported in this test")
}
func (noMacros) ExpandFormatArgs(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "format_args! not supported in this test")
}
func (noMacros) ExpandFile(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "file! not supported in this test")
}
func (noMacros) ExpandLine(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	return nil, diag.New(diag.KindUnsupportedMacro, call.Span(), "line! not supported in this test")
}

func lowerSrc(t *testing.T, text string) *hir.Fn {
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

func TestLowerSimpleArithmetic(t *testing.T) {
	fn := lowerSrc(t, `pub fn main() { let a = 1; let b = 2; a + b }`)
	assert.Equal(t, "main", fn.Name)
	assert.True(t, fn.IsPublic)
	require.Len(t, fn.Body.Stmts, 2)
	require.NotNil(t, fn.Body.Tail)
	assert.Equal(t, hir.ExprKindBinary, fn.Body.Tail.Kind)
	assert.Equal(t, "+", fn.Body.Tail.BinOp)
}

func TestLowerIfElseArms(t *testing.T) {
	fn := lowerSrc(t, `pub fn main() { if true { 1 } else { 2 } }`)
	require.NotNil(t, fn.Body.Tail)
	ifExpr := fn.Body.Tail
	assert.Equal(t, hir.ExprKindIf, ifExpr.Kind)
	require.Len(t, ifExpr.IfArms, 1)
	require.NotNil(t, ifExpr.IfElse)
}

func TestLowerConstFnKind(t *testing.T) {
	fn := lowerSrc(t, `pub const fn double(x) { x * 2 }`)
	assert.Equal(t, hir.FnConst, fn.Kind)
	require.Len(t, fn.Params, 1)
	assert.Equal(t, hir.PatternIdent, fn.Params[0].Kind)
	assert.Equal(t, "x", fn.Params[0].Ident)
}

func TestLowerObjectPattern(t *testing.T) {
	fn := lowerSrc(t, `pub fn main() { match p { #{x, y} => x + y } }`)
	require.NotNil(t, fn.Body.Tail)
	assert.Equal(t, hir.ExprKindMatch, fn.Body.Tail.Kind)
	require.Len(t, fn.Body.Tail.MatchArms, 1)
	arm := fn.Body.Tail.MatchArms[0]
	assert.Equal(t, hir.PatternObject, arm.Pattern.Kind)
	require.Len(t, arm.Pattern.Fields, 2)
}
