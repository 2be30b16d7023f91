package value

import "fmt"

// AccessState is the four-state interior-mutability flag carried by every
// heap-allocated runtime value (spec §3 "Access"). It is intentionally
// non-atomic: a single VM instance is single-threaded cooperative (spec
// §5), so the counter needs no synchronization.
type AccessState int

const (
	// Unshared: no outstanding borrows.
	Unshared AccessState = iota
	// Shared(n): n outstanding shared (read) borrows, n >= 1.
	Shared
	// Exclusive: one outstanding exclusive (write) borrow.
	Exclusive
	// Taken: the value has been moved out by take(); all further access
	// fails. One-way transition from Unshared.
	Taken
)

// AccessError reports a borrow-discipline violation, distinct from a type
// mismatch (spec §4.J).
type AccessError struct {
	Attempted string
	State     AccessState
}

func (e *AccessError) Error() string {
	switch e.State {
	case Taken:
		return fmt.Sprintf("access error: value already taken, cannot %s", e.Attempted)
	case Exclusive:
		return fmt.Sprintf("access error: value exclusively borrowed, cannot %s", e.Attempted)
	default:
		return fmt.Sprintf("access error: cannot %s while shared borrow(s) are outstanding", e.Attempted)
	}
}

// Access is the runtime borrow-flag cell. shared counts outstanding shared
// borrows; state additionally distinguishes Exclusive/Taken.
type Access struct {
	state  AccessState
	shared int
}

// BorrowRef acquires a shared borrow, succeeding from Unshared or
// Shared(n), and failing from Exclusive or Taken.
func (a *Access) BorrowRef() (*RefGuard, error) {
	switch a.state {
	case Unshared:
		a.state = Shared
		a.shared = 1
	case Shared:
		a.shared++
	default:
		return nil, &AccessError{Attempted: "borrow_ref", State: a.state}
	}
	return &RefGuard{access: a}, nil
}

// BorrowMut acquires an exclusive borrow, succeeding only from Unshared.
func (a *Access) BorrowMut() (*MutGuard, error) {
	if a.state != Unshared {
		return nil, &AccessError{Attempted: "borrow_mut", State: a.state}
	}
	a.state = Exclusive
	return &MutGuard{access: a}, nil
}

// Take transitions Unshared -> Taken; it fails if any borrow is active or
// the value was already taken.
func (a *Access) Take() error {
	if a.state != Unshared {
		return &AccessError{Attempted: "take", State: a.state}
	}
	a.state = Taken
	return nil
}

// IsTaken reports whether the value has been moved out.
func (a *Access) IsTaken() bool { return a.state == Taken }

// RefGuard releases a shared borrow on Release; guards decrement on drop
// per spec §3 invariants.
type RefGuard struct {
	access   *Access
	released bool
}

func (g *RefGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.access.shared--
	if g.access.shared <= 0 {
		g.access.shared = 0
		g.access.state = Unshared
	}
}

// MutGuard releases an exclusive borrow on Release.
type MutGuard struct {
	access   *Access
	released bool
}

func (g *MutGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.access.state = Unshared
}
