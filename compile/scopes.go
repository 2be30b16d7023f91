package compile

import "fmt"

// scope is one lexical level of address allocation.
type scope struct {
	id      int
	base    Addr // value of Scopes.top when the scope was pushed
	locals  map[string]Addr
	dangling map[Addr]bool
}

// Scopes is the compiler's address allocator: a stack-shaped pool of
// frame-relative addresses, plus named-local resolution by lexical walk
// (spec §4.H "Scopes").
type Scopes struct {
	frames      []*scope
	top         Addr // next address to allocate; also the "top of stack" for free_addr's soundness check
	nextID      int
	outstanding int
}

func NewScopes() *Scopes { return &Scopes{} }

// Push opens a new lexical scope, returning its id.
func (s *Scopes) Push() int {
	s.nextID++
	s.frames = append(s.frames, &scope{id: s.nextID, base: s.top, locals: make(map[string]Addr), dangling: make(map[Addr]bool)})
	return s.nextID
}

// Pop closes the innermost scope, freeing every address it still owns.
func (s *Scopes) Pop() {
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	// Addresses owned by this scope collapse back to wherever the scope
	// started; named locals don't need individual frees since the whole
	// range is reclaimed at once.
	s.top = f.base
}

// Alloc allocates the next address from the top of the stack-shaped pool
// (spec §4.H "Scopes::top() allocates an address from a stack-shaped
// pool").
func (s *Scopes) Alloc() Addr {
	a := s.top
	s.top++
	return a
}

// Free releases addr, which must be the current top of the pool unless it
// was explicitly allocated as AddrDangling (spec §4.H "free_addr releases
// it with a soundness check").
func (s *Scopes) Free(addr Addr, kind AddressKind) error {
	if kind == AddrDangling {
		return nil
	}
	if addr != s.top-1 {
		return fmt.Errorf("compile: address %d freed out of order (top is %d)", addr, s.top-1)
	}
	s.top--
	return nil
}

// DeclareLocal binds name to addr in the innermost scope.
func (s *Scopes) DeclareLocal(name string, addr Addr) {
	s.frames[len(s.frames)-1].locals[name] = addr
}

// Resolve walks scopes innermost-first looking for name (spec §4.H "Named
// locals live in a scope-local map resolved by lexical walk").
func (s *Scopes) Resolve(name string) (Addr, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if a, ok := s.frames[i].locals[name]; ok {
			return a, true
		}
	}
	return 0, false
}

// CurrentID returns the innermost scope's id, or 0 if none is open.
func (s *Scopes) CurrentID() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].id
}

// Outstanding exposes the Needs leak counter; AssertBalanced is
// called at the end of a function body, standing in for the teacher
// corpus's drop-guard diagnostic (spec §4.H "a drop guard diagnostic
// catches leaks").
func (s *Scopes) Outstanding() *int { return &s.outstanding }

func (s *Scopes) AssertBalanced() error {
	if s.outstanding != 0 {
		return fmt.Errorf("compile: %d Needs value(s) were never freed", s.outstanding)
	}
	if s.top != 0 {
		return fmt.Errorf("compile: %d address(es) were never freed", s.top)
	}
	return nil
}
