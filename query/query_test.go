package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/ir"
	"github.com/rune-lang/rune/query"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

func indexSrc(t *testing.T, sources *source.Sources, engine *query.Engine, module, text string) {
	t.Helper()
	id := sources.Insert(module, text)
	p := ast.New(sources, id)
	file := p.ParseFile()
	require.Empty(t, p.Errors())
	engine.IndexFile(module, file)
}

func TestQueryMetaResolvesFunction(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub fn double(x) { x * 2 }`)

	meta, err := engine.QueryMeta(source.Span{}, "crate::double", query.Used)
	require.NoError(t, err)
	assert.Equal(t, query.MetaFunction, meta.Kind)
	assert.Equal(t, query.VisPublic, meta.Visibility)
	assert.NotNil(t, meta.Fn)
}

func TestQueryMetaMissingItem(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub fn double(x) { x * 2 }`)

	_, err := engine.QueryMeta(source.Span{}, "crate::missing", query.Used)
	require.Error(t, err)
}

func TestQueryMetaFollowsUseChain(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub fn double(x) { x * 2 }
pub use double as twice;`)

	meta, err := engine.QueryMeta(source.Span{}, "crate::twice", query.Used)
	require.NoError(t, err)
	assert.Equal(t, "crate::double", meta.Item)
	assert.Equal(t, query.MetaFunction, meta.Kind)
}

func TestCheckVisiblePublicAlwaysOk(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub fn double(x) { x * 2 }`)

	meta, err := engine.QueryMeta(source.Span{}, "crate::double", query.Used)
	require.NoError(t, err)
	assert.NoError(t, engine.CheckVisible(source.Span{}, "other", meta))
}

func TestMarkUnmarkDetectsCycle(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)

	require.NoError(t, engine.Mark("crate::a"))
	err := engine.Mark("crate::a")
	require.Error(t, err)
	var cycleErr *query.ConstCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "crate::a", cycleErr.Item)

	engine.Unmark("crate::a", false)
	require.NoError(t, engine.Mark("crate::a"))
	engine.Unmark("crate::a", true)
	require.NoError(t, engine.Mark("crate::a"))
}

func TestQueryConstEvaluatesAndMemoizes(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub const N = 21;`)

	calls := 0
	eval := func(expr ast.Expr) (value.Value, error) {
		calls++
		return value.Integer(21), nil
	}

	v, err := engine.QueryConst(source.Span{}, "crate::N", eval)
	require.NoError(t, err)
	i, err := v.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(21), i)
	assert.Equal(t, 1, calls)

	// second lookup hits the cache, eval must not run again.
	v2, err := engine.QueryConst(source.Span{}, "crate::N", eval)
	require.NoError(t, err)
	i2, _ := v2.AsInteger()
	assert.Equal(t, int64(21), i2)
	assert.Equal(t, 1, calls)
}

func TestQueryConstRejectsNonConstItem(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub fn double(x) { x * 2 }`)

	_, err := engine.QueryConst(source.Span{}, "crate::double", func(ast.Expr) (value.Value, error) {
		return value.Unit(), nil
	})
	require.Error(t, err)
}

func TestQueryConstFnCachesCompiledBody(t *testing.T) {
	sources := source.NewSources()
	diags := &diag.Diagnostics{}
	engine := query.NewEngine(sources, diags)
	indexSrc(t, sources, engine, "crate", `pub const fn double(x) { x * 2 }`)

	calls := 0
	compileFn := func(fn *ast.ItemFn) (*ir.Fn, error) {
		calls++
		return &ir.Fn{Name: fn.Name, Params: []string{"x"}}, nil
	}

	f, err := engine.QueryConstFn(source.Span{}, "crate::double", compileFn)
	require.NoError(t, err)
	assert.Equal(t, "double", f.Name)
	assert.Equal(t, 1, calls)

	f2, err := engine.QueryConstFn(source.Span{}, "crate::double", compileFn)
	require.NoError(t, err)
	assert.Same(t, f, f2)
	assert.Equal(t, 1, calls)
}
