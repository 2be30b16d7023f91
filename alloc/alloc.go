// Package alloc provides the fallible container contract described in spec
// §4.A: every heap operation reports an allocation error instead of
// aborting. The teacher never needs this (yaegi leans on Go's GC and plain
// slices throughout); this package exists purely to carry that contract
// into the HIR arena and compiler-internal collections that the spec calls
// out as must-be-fallible.
package alloc

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned by every fallible constructor/growth operation
// once a configured budget is exceeded (spec §7 "Allocation").
var ErrOutOfMemory = errors.New("out of memory")

// Budget caps the number of elements a Vec/Map/Set/Arena may hold across
// its lifetime; zero means unbounded (used by the top-level embedding API
// only in constrained/sandboxed hosts).
type Budget struct {
	Limit     int
	allocated int
}

func (b *Budget) reserve(n int) error {
	if b == nil || b.Limit == 0 {
		return nil
	}
	if b.allocated+n > b.Limit {
		return errors.Wrapf(ErrOutOfMemory, "budget of %d elements exceeded", b.Limit)
	}
	b.allocated += n
	return nil
}

// Box is a fallible, explicit heap box.
type Box[T any] struct {
	Value T
}

// TryBox allocates a new Box, reporting ErrOutOfMemory via the budget.
func TryBox[T any](b *Budget, v T) (*Box[T], error) {
	if err := b.reserve(1); err != nil {
		return nil, err
	}
	return &Box[T]{Value: v}, nil
}

// Vec is a growable, fallible vector. Every push/append may fail.
type Vec[T any] struct {
	budget *Budget
	data   []T
}

// TryNewVec returns an empty Vec bound to the given budget (nil for
// unbounded).
func TryNewVec[T any](b *Budget) *Vec[T] {
	return &Vec[T]{budget: b}
}

// TryWithCapacity reserves capacity up front, failing if it would exceed
// the budget.
func TryWithCapacity[T any](b *Budget, capacity int) (*Vec[T], error) {
	if err := b.reserve(capacity); err != nil {
		return nil, err
	}
	return &Vec[T]{budget: b, data: make([]T, 0, capacity)}, nil
}

func (v *Vec[T]) TryPush(item T) error {
	if err := v.budget.reserve(1); err != nil {
		return err
	}
	v.data = append(v.data, item)
	return nil
}

func (v *Vec[T]) Len() int        { return len(v.data) }
func (v *Vec[T]) Get(i int) T     { return v.data[i] }
func (v *Vec[T]) Set(i int, t T)  { v.data[i] = t }
func (v *Vec[T]) Slice() []T      { return v.data }
func (v *Vec[T]) Pop() (T, bool) {
	var zero T
	if len(v.data) == 0 {
		return zero, false
	}
	last := v.data[len(v.data)-1]
	v.data = v.data[:len(v.data)-1]
	return last, true
}

// TryString is a fallible owned string buffer.
type TryString struct {
	budget *Budget
	buf    []byte
}

func TryNewString(b *Budget) *TryString { return &TryString{budget: b} }

func (s *TryString) TryPushStr(str string) error {
	if err := s.budget.reserve(len(str)); err != nil {
		return err
	}
	s.buf = append(s.buf, str...)
	return nil
}

func (s *TryString) String() string { return string(s.buf) }

// Map is a fallible hash map, backed by a swiss-table implementation
// (github.com/dolthub/swiss, via the mna/nenuphar fork) for the query
// engine's and compiler's hot-path lookup tables (see SPEC_FULL.md
// "DOMAIN STACK").
type Map[K comparable, V any] struct {
	budget *Budget
	inner  *swiss.Map[K, V]
}

func TryNewMap[K comparable, V any](b *Budget) *Map[K, V] {
	return &Map[K, V]{budget: b, inner: swiss.NewMap[K, V](8)}
}

func (m *Map[K, V]) TryInsert(k K, v V) error {
	if _, ok := m.inner.Get(k); !ok {
		if err := m.budget.reserve(1); err != nil {
			return err
		}
	}
	m.inner.Put(k, v)
	return nil
}

func (m *Map[K, V]) Get(k K) (V, bool) { return m.inner.Get(k) }
func (m *Map[K, V]) Has(k K) bool      { return m.inner.Has(k) }
func (m *Map[K, V]) Delete(k K) bool   { return m.inner.Delete(k) }
func (m *Map[K, V]) Len() int          { return m.inner.Count() }

func (m *Map[K, V]) Each(f func(k K, v V) bool) {
	m.inner.Iter(func(k K, v V) (stop bool) { return !f(k, v) })
}

// Set is a fallible hash set, layered atop Map[K, struct{}].
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

func TryNewSet[K comparable](b *Budget) *Set[K] {
	return &Set[K]{m: TryNewMap[K, struct{}](b)}
}

func (s *Set[K]) TryInsert(k K) error { return s.m.TryInsert(k, struct{}{}) }
func (s *Set[K]) Has(k K) bool        { return s.m.Has(k) }
func (s *Set[K]) Len() int            { return s.m.Len() }

// Arena is a bump allocator for HIR nodes (spec §4.A). A single Arena is
// cleared between top-level item compilations; its lifetime is tied to the
// compilation of exactly one item.
type Arena struct {
	budget *Budget
	// count is the number of values allocated since the last Reset. The
	// values themselves are ordinary Go allocations returned to the caller
	// by Alloc/AllocIter; the arena keeps no reference to them.
	count int
}

// NewArena returns a fresh, empty Arena.
func NewArena(b *Budget) *Arena { return &Arena{budget: b} }

// Alloc allocates and initializes one T, returning a stable pointer for the
// arena's lifetime.
func Alloc[T any](a *Arena, v T) (*T, error) {
	if err := a.budget.reserve(1); err != nil {
		return nil, err
	}
	a.count++
	p := new(T)
	*p = v
	return p, nil
}

// Writer supports alloc_iter: a fixed-size reservation that fails if more
// than `len` items are written to it.
type Writer[T any] struct {
	a     *Arena
	slots []T
	n     int
}

// AllocIter reserves len slots in the arena and returns a Writer over them.
func AllocIter[T any](a *Arena, length int) (*Writer[T], error) {
	if err := a.budget.reserve(length); err != nil {
		return nil, err
	}
	a.count += length
	return &Writer[T]{a: a, slots: make([]T, length)}, nil
}

// Write appends the next item; it is an error to write more than the
// reserved length (spec §4.A "Writer fails if the count exceeds the
// reservation").
func (w *Writer[T]) Write(v T) error {
	if w.n >= len(w.slots) {
		return fmt.Errorf("alloc: writer reservation of %d exceeded", len(w.slots))
	}
	w.slots[w.n] = v
	w.n++
	return nil
}

// Finish returns the written slice; it is an error if fewer than the
// reserved count were written.
func (w *Writer[T]) Finish() ([]T, error) {
	if w.n != len(w.slots) {
		return nil, fmt.Errorf("alloc: writer reservation of %d under-filled (%d written)", len(w.slots), w.n)
	}
	return w.slots, nil
}

// Reset clears the arena's bookkeeping. The teacher clears a bump arena
// between item compilations (spec §4.A); since Go's GC reclaims the
// individually-allocated T values once unreferenced, Reset here only
// resets the accounting used for budget reservation.
func (a *Arena) Reset() {
	if a.budget != nil {
		a.budget.allocated -= a.count
		if a.budget.allocated < 0 {
			a.budget.allocated = 0
		}
	}
	a.count = 0
}

// Len reports how many values have been allocated since the last Reset.
func (a *Arena) Len() int { return a.count }
