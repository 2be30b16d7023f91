// Package ir defines the compact tree form used only for compile-time
// evaluation (spec §4.G), and the recursive, budget-limited interpreter
// that evaluates it.
package ir

import (
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// NodeKind discriminates the Node union (spec §3 "IR. Nodes: scope,
// binary, decl, set, assign, template, name, target ..., literal value,
// branches, loop, break, vec, tuple, object, call").
type NodeKind int

const (
	NodeScope NodeKind = iota
	NodeBinary
	NodeDecl
	NodeSet
	NodeAssign
	NodeTemplate
	NodeName
	NodeTargetField
	NodeTargetIndex
	NodeLit
	NodeBranches
	NodeLoop
	NodeBreak
	NodeVec
	NodeTuple
	NodeObject
	NodeCall
)

// Node is one IR tree node.
type Node struct {
	Span source.Span
	Kind NodeKind

	// NodeScope
	Body []*Node

	// NodeBinary
	Op       string
	Lhs, Rhs *Node

	// NodeDecl / NodeSet / NodeAssign
	Name string
	// NodeAssign target: Name (NodeName), NodeTargetField (Base+Field),
	// or NodeTargetIndex (Base+Index); when Kind is NodeAssign, Target
	// holds the LHS and Value the RHS.
	Target *Node
	Value  *Node

	Base  *Node
	Field string
	Index *Node

	// NodeTemplate
	Segments []*Node // alternating literal-string / expr nodes

	// NodeLit
	Lit value.Value

	// NodeBranches: if/else-if chain
	Arms []Arm
	Else *Node

	// NodeLoop
	LoopBody *Node
	Label    string

	// NodeBreak
	BreakLabel string
	BreakValue *Node

	// NodeVec / NodeTuple
	Items []*Node

	// NodeObject
	Fields []ObjectFieldNode

	// NodeCall
	Callee string
	Args   []*Node
}

type Arm struct {
	Cond *Node
	Body *Node
}

type ObjectFieldNode struct {
	Name  string
	Value *Node
}

// Fn is a const fn's compiled IR body, cached by the query engine (spec
// §4.F "const-fn cache", §4.G "Const-fn calls").
type Fn struct {
	Name   string
	Params []string
	Body   *Node
}
