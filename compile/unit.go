// Package compile walks lowered HIR and emits a linked bytecode Unit
// (spec §4.H, §4.I).
package compile

import (
	"fmt"

	"github.com/rune-lang/rune/alloc"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// Addr is a base-relative stack offset within the current call frame
// (spec §3 "InstAddress"). NoOutput marks an instruction whose result is
// discarded rather than kept at an address.
type Addr int

const NoOutput Addr = -1

// Output names where an instruction's result goes: either a kept address
// or discarded (spec §3 invariants).
type Output struct {
	Addr Addr
}

func KeepAt(a Addr) Output { return Output{Addr: a} }
func Discard() Output      { return Output{Addr: NoOutput} }

func (o Output) IsDiscard() bool { return o.Addr == NoOutput }

// OpCode enumerates the bytecode instruction set (spec §4.I).
type OpCode int

const (
	OpCopy OpCode = iota
	OpMove
	OpPush
	OpBinOp
	OpUnOp
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpCall
	OpCallInstance
	OpCallFn
	OpObjectIndexGet
	OpObjectIndexSet
	OpTupleIndexGet
	OpVecNew
	OpTupleNew
	OpObjectNew
	OpStructNew
	OpReturn
	OpReturnUnit
	OpAwait
	OpYield
	OpIterNext
	OpTry
	OpPanic
)

// Inst is one linked bytecode instruction.
type Inst struct {
	Op OpCode

	A, B Addr
	Out  Output

	Value value.Value // OpPush

	Op2 string // OpBinOp/OpUnOp operator symbol

	Offset int // OpJump/OpJumpIf/OpJumpIfNot: absolute instruction index

	Hash  value.Hash // OpCall/OpCallInstance/OpCallFn
	Args  []Addr
	Name  string // OpObjectIndexGet/Set field name
	Index int    // OpTupleIndexGet

	Count int // OpVecNew/OpTupleNew element count (reads Args)

	StructHash value.Hash // OpStructNew/OpObjectNew rtti hash
	Keys       []string   // OpObjectNew/OpStructNew field names (parallel to Args)
}

// CallKind distinguishes a function's calling convention (spec §4.K).
type CallKind int

const (
	CallImmediate CallKind = iota
	CallAsync
	CallGenerator
	CallStream
)

// FunctionInfo describes one callable entry in the Unit's function table
// (spec §3 "Hash -> FunctionInfo table").
type FunctionInfo struct {
	Name   string
	Offset int
	Arity  int
	Kind   CallKind
}

// DebugInfo maps each instruction index to its source span and names
// scope-local variables (spec §4.I).
type DebugInfo struct {
	Spans    []source.Span
	VarNames map[Addr]string
}

// Unit is the final linked bytecode artifact (spec §3 "Unit"). Functions
// and Constants are swiss-table-backed (github.com/dolthub/swiss, via
// the alloc package) per SPEC_FULL.md's "DOMAIN STACK", matching the
// teacher's go.mod carrying `dolthub/swiss` for its own symbol table.
type Unit struct {
	Instructions []Inst
	Functions    *alloc.Map[value.Hash, FunctionInfo]
	Statics      []string // static-string pool
	StaticBytes  [][]byte
	ObjectKeys   [][]string
	Constants    *alloc.Map[value.Hash, value.Value]
	Debug        DebugInfo
}

func NewUnit() *Unit {
	return &Unit{
		Functions: alloc.TryNewMap[value.Hash, FunctionInfo](nil),
		Constants: alloc.TryNewMap[value.Hash, value.Value](nil),
		Debug:     DebugInfo{VarNames: make(map[Addr]string)},
	}
}

// label is a not-yet-resolved jump target.
type label struct {
	resolved bool
	target   int
}

// Assembler builds a Unit's instruction stream, recording labels and
// patching forward jumps on Finalize (spec §4.I).
type Assembler struct {
	unit    *Unit
	labels  []*label
	pending map[int][]int // label id -> instruction indices awaiting patch (OpJump*)
}

func NewAssembler(unit *Unit) *Assembler {
	return &Assembler{unit: unit, pending: make(map[int][]int)}
}

// Label allocates a new, unresolved label.
func (a *Assembler) Label() int {
	a.labels = append(a.labels, &label{})
	return len(a.labels) - 1
}

// BindLabel fixes a label to the current (next-to-be-emitted) instruction
// index.
func (a *Assembler) BindLabel(id int) {
	a.labels[id].resolved = true
	a.labels[id].target = len(a.unit.Instructions)
}

func (a *Assembler) emit(inst Inst, span source.Span) int {
	idx := len(a.unit.Instructions)
	a.unit.Instructions = append(a.unit.Instructions, inst)
	a.unit.Debug.Spans = append(a.unit.Debug.Spans, span)
	return idx
}

func (a *Assembler) Emit(inst Inst, span source.Span) int { return a.emit(inst, span) }

// EmitJump emits a jump-family instruction targeting label id, to be
// patched at Finalize.
func (a *Assembler) EmitJump(op OpCode, cond Addr, label int, span source.Span) int {
	idx := a.emit(Inst{Op: op, A: cond}, span)
	a.pending[label] = append(a.pending[label], idx)
	return idx
}

// Finalize patches every forward/backward jump against its bound label's
// target index. It is an error to finalize with an unbound label
// reachable from a pending jump.
func (a *Assembler) Finalize() error {
	for labelID, sites := range a.pending {
		l := a.labels[labelID]
		if !l.resolved {
			return fmt.Errorf("compile: label %d was never bound", labelID)
		}
		for _, idx := range sites {
			a.unit.Instructions[idx].Offset = l.target
		}
	}
	return nil
}

func (a *Assembler) Unit() *Unit { return a.unit }

// Intern adds a string to the static-string pool, returning its index.
func (u *Unit) Intern(s string) int {
	for i, existing := range u.Statics {
		if existing == s {
			return i
		}
	}
	u.Statics = append(u.Statics, s)
	return len(u.Statics) - 1
}

func (u *Unit) InternBytes(b []byte) int {
	u.StaticBytes = append(u.StaticBytes, b)
	return len(u.StaticBytes) - 1
}

func (u *Unit) InternKeys(keys []string) int {
	u.ObjectKeys = append(u.ObjectKeys, keys)
	return len(u.ObjectKeys) - 1
}

// LinkCheck verifies that every Call-family instruction's hash resolves
// either in the unit's own function table or in the supplied context
// hashes, reporting every call-site span per unresolved hash (spec §4.I
// "Link checking").
func LinkCheck(u *Unit, contextHashes map[value.Hash]bool) error {
	missing := map[value.Hash][]source.Span{}
	for i, inst := range u.Instructions {
		if inst.Op != OpCall && inst.Op != OpCallInstance && inst.Op != OpCallFn {
			continue
		}
		if u.Functions.Has(inst.Hash) {
			continue
		}
		if contextHashes[inst.Hash] {
			continue
		}
		sp := source.Span{}
		if i < len(u.Debug.Spans) {
			sp = u.Debug.Spans[i]
		}
		missing[inst.Hash] = append(missing[inst.Hash], sp)
	}
	if len(missing) == 0 {
		return nil
	}
	var first *diag.Diagnostic
	for hash, spans := range missing {
		for i, sp := range spans {
			switch {
			case first == nil:
				first = diag.New(diag.KindMissingFunctionHash, sp, "no function registered for hash %d", hash)
			case i == 0:
				first = first.WithLabel(sp, "no function registered for hash %d", hash)
			default:
				first = first.WithLabel(sp, "also called here")
			}
		}
	}
	return first
}
