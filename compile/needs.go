package compile

import "github.com/rune-lang/rune/source"

// AddressKind classifies an allocated Needs address (spec §4.H).
type AddressKind int

const (
	AddrLocal    AddressKind = iota // owned by the current scope's stack pool
	AddrDangling                    // explicitly exempted from the free-on-scope-exit check
	AddrAssigned                    // already holds a value assigned by the caller
	AddrScope                       // owned by an enclosing scope, identified by ScopeID
)

// NeedsState is the Needs state machine (spec §4.H).
type NeedsState int

const (
	NeedsDeferred NeedsState = iota
	NeedsAddress
	NeedsIgnored
	NeedsFreed
)

// Needs is the compiler-internal request/response handle for where an
// expression's result should live (spec glossary "Needs"). Exactly one
// Needs exists per expression-emission call; Free must run on every path.
type Needs struct {
	Span    source.Span
	ScopeID int
	Name    string // optional, for LetPatternMightPanic/unused-value diagnostics

	state       NeedsState
	addr        Addr
	kind        AddressKind
	ownerScope  int
	outstanding *int // shared leak counter owned by the enclosing Scopes
}

// NewDeferred returns a Needs that has not yet been assigned an address;
// the emitter may allocate one on demand via Scopes.Alloc.
func NewDeferred(span source.Span, scopeID int, outstanding *int) *Needs {
	*outstanding++
	return &Needs{Span: span, ScopeID: scopeID, state: NeedsDeferred, outstanding: outstanding}
}

// NewIgnored returns a Needs whose result will be discarded.
func NewIgnored(span source.Span, scopeID int, outstanding *int) *Needs {
	*outstanding++
	return &Needs{Span: span, ScopeID: scopeID, state: NeedsIgnored, outstanding: outstanding}
}

// NewAssigned returns a Needs already bound to an address the caller owns
// (e.g. a let-binding's local slot).
func NewAssigned(span source.Span, scopeID int, addr Addr, outstanding *int) *Needs {
	*outstanding++
	return &Needs{Span: span, ScopeID: scopeID, state: NeedsAddress, addr: addr, kind: AddrAssigned, outstanding: outstanding}
}

// Assign transitions Deferred -> Address, allocating on demand via alloc
// if no address is yet assigned.
func (n *Needs) Assign(alloc func() (Addr, AddressKind)) Addr {
	if n.state == NeedsAddress {
		return n.addr
	}
	if n.state == NeedsIgnored {
		return NoOutput
	}
	a, k := alloc()
	n.addr = a
	n.kind = k
	n.state = NeedsAddress
	return a
}

// Output converts the Needs' current state into an instruction Output.
func (n *Needs) Output() Output {
	if n.state != NeedsAddress {
		return Discard()
	}
	return KeepAt(n.addr)
}

func (n *Needs) Addr() (Addr, bool) {
	if n.state == NeedsAddress {
		return n.addr, true
	}
	return 0, false
}

func (n *Needs) IsIgnored() bool { return n.state == NeedsIgnored }

// Free must be called on every code path that consumes a Needs; it is the
// Go stand-in for the teacher corpus's drop-guard diagnostics (no
// destructors in Go, so leaks are caught by Scopes.AssertBalanced at the
// end of a function body instead of at Needs-drop time).
func (n *Needs) Free() {
	if n.state == NeedsFreed {
		return
	}
	n.state = NeedsFreed
	if n.outstanding != nil {
		*n.outstanding--
	}
}
