package module_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/value"
)

func TestHandlerCallMarshalsArgsAndResult(t *testing.T) {
	add := func(a, b int64) (int64, error) { return a + b, nil }
	m := module.New("math").Function("math::add", add)
	rc := module.NewContext()
	require.NoError(t, rc.WithModule(m))
	built := rc.Build()

	h, ok := built.Lookup(value.HashString("math::add"))
	require.True(t, ok)

	out, err := h.Call([]value.Value{value.Integer(2), value.Integer(3)})
	require.NoError(t, err)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(5), i)
}

func TestHandlerCallPropagatesError(t *testing.T) {
	boom := func(a int64) (int64, error) { return 0, errors.New("boom") }
	m := module.New("math").Function("math::boom", boom)
	rc := module.NewContext()
	require.NoError(t, rc.WithModule(m))
	built := rc.Build()

	h, ok := built.Lookup(value.HashString("math::boom"))
	require.True(t, ok)
	_, err := h.Call([]value.Value{value.Integer(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestHandlerCallWrongArity(t *testing.T) {
	add := func(a, b int64) int64 { return a + b }
	m := module.New("math").Function("math::add", add)
	rc := module.NewContext()
	require.NoError(t, rc.WithModule(m))
	built := rc.Build()

	h, ok := built.Lookup(value.HashString("math::add"))
	require.True(t, ok)
	_, err := h.Call([]value.Value{value.Integer(1)})
	require.Error(t, err)
}

func TestInstanceFnAndProtocolLookup(t *testing.T) {
	length := func(v value.Value) (int64, error) {
		items, err := v.AsVec()
		if err != nil {
			return 0, err
		}
		return int64(len(items)), nil
	}
	m := module.New("std::vec").InstanceFn("std::vec::Vec", "len", length)
	m = m.FieldFn("std::vec::Vec", value.GET, func(v value.Value) (value.Value, error) { return v, nil })

	rc := module.NewContext()
	require.NoError(t, rc.WithModule(m))
	built := rc.Build()

	lenH, ok := built.Lookup(value.HashString("len"))
	require.True(t, ok)
	out0, err := lenH.Call([]value.Value{value.VecOf([]value.Value{value.Integer(1), value.Integer(2)})})
	require.NoError(t, err)
	n, err := out0.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	instH, ok := built.LookupProtocol("std::vec::Vec", value.GET)
	require.True(t, ok)
	out, err := instH.Call([]value.Value{value.VecOf([]value.Value{value.Integer(1)})})
	require.NoError(t, err)
	items, err := out.AsVec()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestConstAndTypeLookup(t *testing.T) {
	m := module.New("std::math").Const("std::math::PI", value.Float(3.25))
	m = m.Type("std::math::Complex", value.KindExternal)

	rc := module.NewContext()
	require.NoError(t, rc.WithModule(m))
	built := rc.Build()

	v, ok := built.Constant(value.HashString("std::math::PI"))
	require.True(t, ok)
	f, err := v.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 3.25, f)

	ti, ok := built.TypeInfo(value.HashString("std::math::Complex"))
	require.True(t, ok)
	assert.Equal(t, "std::math::Complex", ti.Name)
	assert.Equal(t, value.KindExternal, ti.Kind)
}

func TestContextDetectsDuplicateFunctionHash(t *testing.T) {
	fn := func() (int64, error) { return 1, nil }
	a := module.New("a").Function("shared::fn", fn)
	b := module.New("b").Function("shared::fn", fn)

	ctx := module.NewContext()
	require.NoError(t, ctx.WithModule(a))
	err := ctx.WithModule(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate function hash")
}

func TestHashesFeedsLinkCheck(t *testing.T) {
	m := module.New("std").Function("std::identity", func(v value.Value) (value.Value, error) { return v, nil })
	ctx := module.NewContext()
	require.NoError(t, ctx.WithModule(m))
	rc := ctx.Build()

	hashes := rc.Hashes()
	assert.True(t, hashes[value.HashString("std::identity")])
	assert.False(t, hashes[value.HashString("std::nonexistent")])
}
