package rune_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/diag"
	runelang "github.com/rune-lang/rune/rune"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

func buildAndRun(t *testing.T, text string, item string, args []value.Value) value.Value {
	t.Helper()
	sources := source.NewSources()
	sources.Insert("crate", text)

	unit, diags := runelang.Build(sources).Compile()
	require.False(t, diags.HasErrors(), "unexpected diagnostics: %v", diags.Errors())

	v := runelang.NewVm(unit, nil)
	out, err := runelang.Run(v, item, args)
	require.NoError(t, err)
	return out
}

// Scenario 1: integer arithmetic.
func TestScenarioIntegerArithmetic(t *testing.T) {
	out := buildAndRun(t, `pub fn main() { 1 + 2 }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

// Scenario 2: building a vec and reading it back (map/collect's observable
// effect — transform each element and gather the results into a new vec).
func TestScenarioVecTransform(t *testing.T) {
	out := buildAndRun(t, `pub fn main() {
		let xs = (1, 2, 3);
		let ys = [xs.0 * 2, xs.1 * 2, xs.2 * 2];
		ys
	}`, "main", nil)
	items, err := out.AsVec()
	require.NoError(t, err)
	require.Len(t, items, 3)
	var got []int64
	for _, it := range items {
		i, err := it.AsInteger()
		require.NoError(t, err)
		got = append(got, i)
	}
	assert.Equal(t, []int64{2, 4, 6}, got)
}

// Scenario 3: a const cycle is detected through the real build pipeline
// and the diagnostic names an item on the cycle (spec §4.F "Cycle
// detection", §8 scenario 3).
func TestScenarioConstCycleDetected(t *testing.T) {
	sources := source.NewSources()
	sources.Insert("crate", `pub const N = M; pub const M = N; pub fn main() { N }`)

	_, diags := runelang.Build(sources).Compile()
	require.True(t, diags.HasErrors())
	found := false
	for _, d := range diags.Errors() {
		if d.Kind == diag.KindConstCycle {
			found = true
		}
	}
	assert.True(t, found, "expected a const-cycle diagnostic, got: %v", diags.Errors())
}

// Const items referenced from function bodies resolve to their evaluated
// value end to end through Builder.Compile (spec §4.F const cache).
func TestScenarioConstReferencedFromFunction(t *testing.T) {
	out := buildAndRun(t, `pub const N = 1; pub const DOUBLE_N = N * 2; pub fn main() { N + DOUBLE_N }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

// A const fn called from a const initializer is lowered to IR and
// evaluated by the compile-time interpreter, not re-run per call site
// (spec §4.G "Const-fn calls", §4.F "const-fn cache").
func TestScenarioConstFnCalledFromConstInitializer(t *testing.T) {
	out := buildAndRun(t, `
pub const fn square(x) { x * x }
pub const NINE = square(3);
pub fn main() { NINE }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(9), i)
}

// A const fn body may itself call another const fn, isolating scopes
// per call (spec §4.G "isolates scopes, binds arguments").
func TestScenarioConstFnCallsAnotherConstFn(t *testing.T) {
	out := buildAndRun(t, `
pub const fn double(x) { x * 2 }
pub const fn quadruple(x) { double(double(x)) }
pub const SIXTEEN = quadruple(4);
pub fn main() { SIXTEEN }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(16), i)
}

// Scenario 4: template string interpolation.
func TestScenarioTemplateString(t *testing.T) {
	out := buildAndRun(t, `pub fn main() { template!("Hello ", 3) }`, "main", nil)
	s, err := out.AsString()
	require.NoError(t, err)
	assert.Equal(t, "Hello 3", s)
}

// Scenario 5: matching an object pattern.
func TestScenarioObjectPatternMatch(t *testing.T) {
	out := buildAndRun(t, `pub fn main() {
		let p = #{x: 1, y: 0};
		match p { #{x, y} if y != 0 => 0, #{x, y} => x }
	}`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(1), i)
}

// Scenario 6: an async function resolved through await.
func TestScenarioAsyncAwaitResumes(t *testing.T) {
	out := buildAndRun(t, `pub async fn answer() { 42 }
pub fn main() { answer().await }`, "main", nil)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)
}
