package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/source"
)

func parseSrc(t *testing.T, text string) *File {
	t.Helper()
	sources := source.NewSources()
	id := sources.Insert("test", text)
	p := New(sources, id)
	f := p.ParseFile()
	require.Empty(t, p.Errors(), "parse errors: %v", p.Errors())
	return f
}

func TestParseFnMain(t *testing.T) {
	f := parseSrc(t, `pub fn main() { let a = 1; let b = 2; a + b }`)
	require.Len(t, f.Items, 1)
	fn, ok := f.Items[0].(*ItemFn)
	require.True(t, ok)
	assert.Equal(t, "main", fn.Name)
	assert.Equal(t, VisPublic, fn.Vis)
	require.Len(t, fn.Body.Stmts, 2)
	require.NotNil(t, fn.Body.Tail)
	bin, ok := fn.Body.Tail.(*Binary)
	require.True(t, ok)
	assert.Equal(t, OpAdd, bin.Op)
}

func TestParseSpanCoverage(t *testing.T) {
	// Testable property #2 (spec §8): a node's span covers exactly the
	// lexeme range that produced it.
	sources := source.NewSources()
	text := `pub fn main() { 1 + 2 }`
	id := sources.Insert("test", text)
	p := New(sources, id)
	f := p.ParseFile()
	fn := f.Items[0].(*ItemFn)
	bin := fn.Body.Tail.(*Binary)
	got := sources.Slice(id, bin.Span())
	assert.Equal(t, "1 + 2", got)
}

func TestParseMatchObjectPattern(t *testing.T) {
	f := parseSrc(t, `pub fn main() { let m = #{a: 1, b: 2}; match m { #{a, ..} => a, _ => 0 } }`)
	fn := f.Items[0].(*ItemFn)
	require.NotNil(t, fn.Body.Tail)
	m, ok := fn.Body.Tail.(*Match)
	require.True(t, ok)
	require.Len(t, m.Arms, 2)
	pat, ok := m.Arms[0].Pattern.(*PatObject)
	require.True(t, ok)
	assert.True(t, pat.Rest)
	assert.Equal(t, "a", pat.Fields[0].Name)
}

func TestParseTemplateString(t *testing.T) {
	f := parseSrc(t, "pub fn main() { `Hello ${1 + 2}` }")
	fn := f.Items[0].(*ItemFn)
	mc, ok := fn.Body.Tail.(*MacroCall)
	require.True(t, ok)
	assert.Equal(t, MacroTemplate, mc.Kind)
}

func TestParseAsyncAwait(t *testing.T) {
	f := parseSrc(t, `pub async fn main() { let f = async { 41 }; f.await + 1 }`)
	fn := f.Items[0].(*ItemFn)
	assert.Equal(t, FnAsync, fn.Kind)
	bin := fn.Body.Tail.(*Binary)
	_, ok := bin.Left.(*Await)
	assert.True(t, ok)
}

func TestParseConstCycleSource(t *testing.T) {
	f := parseSrc(t, `const N = M + 1; const M = N + 1; pub fn main() { N }`)
	require.Len(t, f.Items, 3)
	_, ok := f.Items[0].(*ItemConst)
	assert.True(t, ok)
}
