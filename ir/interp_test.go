package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/value"
)

func litNode(v value.Value) *Node {
	return &Node{Kind: NodeLit, Lit: v}
}

func TestEvalBinaryArithmetic(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	n := &Node{Kind: NodeBinary, Op: "+", Lhs: litNode(value.Integer(1)), Rhs: litNode(value.Integer(2))}
	out, err := ip.Eval(n)
	require.NoError(t, err)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

func TestEvalScopeDeclAndName(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	scope := &Node{Kind: NodeScope, Body: []*Node{
		{Kind: NodeDecl, Name: "x", Value: litNode(value.Integer(41))},
		{Kind: NodeBinary, Op: "+", Lhs: &Node{Kind: NodeName, Name: "x"}, Rhs: litNode(value.Integer(1))},
	}}
	out, err := ip.Eval(scope)
	require.NoError(t, err)
	i, err := out.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)
}

func TestEvalBranches(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	n := &Node{
		Kind: NodeBranches,
		Arms: []Arm{
			{Cond: litNode(value.Bool(false)), Body: litNode(value.Integer(1))},
			{Cond: litNode(value.Bool(true)), Body: litNode(value.Integer(2))},
		},
		Else: litNode(value.Integer(3)),
	}
	out, err := ip.Eval(n)
	require.NoError(t, err)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(2), i)
}

func TestEvalLoopBreakValue(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	loop := &Node{
		Kind: NodeLoop,
		LoopBody: &Node{Kind: NodeScope, Body: []*Node{
			{Kind: NodeBreak, BreakValue: litNode(value.Integer(7))},
		}},
	}
	out, err := ip.Eval(loop)
	require.NoError(t, err)
	i, _ := out.AsInteger()
	assert.Equal(t, int64(7), i)
}

func TestEvalTemplateFormatting(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	tmpl := &Node{Kind: NodeTemplate, Segments: []*Node{
		litNode(value.String("Hello ")),
		litNode(value.Integer(3)),
	}}
	out, err := ip.Eval(tmpl)
	require.NoError(t, err)
	s, err := out.AsString()
	require.NoError(t, err)
	assert.Equal(t, "Hello 3", s)
}

func TestEvalNotConstOnUnsupportedKind(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	_, err := ip.Eval(&Node{Kind: NodeCall, Callee: "unresolvable"})
	require.Error(t, err)
}

func TestEvalDivideByZero(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	n := &Node{Kind: NodeBinary, Op: "/", Lhs: litNode(value.Integer(1)), Rhs: litNode(value.Integer(0))}
	_, err := ip.Eval(n)
	require.Error(t, err)
}

func TestEvalObjectAndFieldAssign(t *testing.T) {
	ip := NewInterpreter(DefaultBudget, nil, nil)
	scope := &Node{Kind: NodeScope, Body: []*Node{
		{Kind: NodeDecl, Name: "o", Value: &Node{Kind: NodeObject, Fields: []ObjectFieldNode{
			{Name: "a", Value: litNode(value.Integer(1))},
		}}},
		{Kind: NodeAssign, Target: &Node{Kind: NodeTargetField, Base: &Node{Kind: NodeName, Name: "o"}, Field: "a"}, Value: litNode(value.Integer(9))},
		{Kind: NodeName, Name: "o"},
	}}
	out, err := ip.Eval(scope)
	require.NoError(t, err)
	_, get, ok := out.AsObject()
	require.True(t, ok)
	v, found := get("a")
	require.True(t, found)
	i, _ := v.AsInteger()
	assert.Equal(t, int64(9), i)
}
