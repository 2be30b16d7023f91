package value

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tags every Value variant (spec §3).
type Kind int

const (
	KindUnit Kind = iota
	KindBool
	KindByte
	KindChar
	KindInteger
	KindFloat
	KindType
	KindOrdering

	KindString
	KindBytes
	KindVec
	KindTuple
	KindObject
	KindAny
	KindVariant
	KindFunction
	KindFuture
	KindGenerator
	KindStream
	KindFormat
	KindRange
	KindIterator
	KindExternal
)

func (k Kind) IsInline() bool { return k <= KindOrdering }

func (k Kind) String() string {
	names := [...]string{
		"unit", "bool", "byte", "char", "integer", "float", "type", "ordering",
		"string", "bytes", "vec", "tuple", "object", "any", "variant", "function",
		"future", "generator", "stream", "format", "range", "iterator", "external",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Ordering mirrors Rust's three-way comparison result.
type Ordering int8

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// heapObject is the shared, reference-counted allocation backing every
// non-inline Value variant (spec §3 invariant: "every non-Inline variant is
// a handle to refcounted heap storage carrying an Access flag").
type heapObject struct {
	refcount int
	access   Access
	payload  interface{}
}

// Value is the runtime tagged union (spec §3).
type Value struct {
	Kind Kind

	boolv bool
	bytev byte
	charv rune
	intv  int64
	floatv float64
	typev Hash
	ordv  Ordering

	heap *heapObject
}

// ---- Inline constructors ----

func Unit() Value                 { return Value{Kind: KindUnit} }
func Bool(b bool) Value           { return Value{Kind: KindBool, boolv: b} }
func Byte(b byte) Value           { return Value{Kind: KindByte, bytev: b} }
func Char(c rune) Value           { return Value{Kind: KindChar, charv: c} }
func Integer(i int64) Value       { return Value{Kind: KindInteger, intv: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, floatv: f} }
func TypeValue(h Hash) Value      { return Value{Kind: KindType, typev: h} }
func OrderingValue(o Ordering) Value { return Value{Kind: KindOrdering, ordv: o} }

func newHeap(payload interface{}) *heapObject {
	return &heapObject{refcount: 1, payload: payload}
}

// ---- Heap payloads ----

type stringPayload struct{ s string }
type bytesPayload struct{ b []byte }
type vecPayload struct{ items []Value }
type tuplePayload struct{ items []Value }

// objectPayload is an insertion-ordered string -> Value map (spec §3
// "Object").
type objectPayload struct {
	keys   []string
	values map[string]Value
}

type variantPayload struct {
	rtti *VariantRtti
	data interface{} // nil | []Value (tuple) | *objectPayload (struct)
}

// FunctionKind distinguishes a closure's calling convention at the value
// level, mirroring spec §4.K "Calling conventions".
type FunctionKind int

const (
	CallImmediate FunctionKind = iota
	CallAsync
	CallGenerator
	CallStream
)

type functionPayload struct {
	Hash      Hash
	Kind      FunctionKind
	Captured  []Value
	// Native, when non-nil, is a host-provided handler bypassing bytecode
	// dispatch entirely (module.Handler has this exact shape; duplicated
	// here as interface{} to avoid an import cycle).
	Native    interface{}
}

// Driver is implemented by the vm package's concrete Future/Generator/
// Stream state machines; value only needs to hold and type-tag the
// interface so vm can poll/resume it without value importing vm.
type Driver interface {
	Kind() Kind
}

type driverPayload struct{ d Driver }

type formatPayload struct {
	Segments []string
	Args     []Value
}

type rangePayload struct {
	Start, End     *Value
	Inclusive      bool
}

// Iterator is implemented by both built-in iterators (vec/object/range) and
// user INTO_ITER-protocol-produced drivers.
type Iterator interface {
	Next() (Value, bool, error)
}

type iteratorPayload struct{ it Iterator }

type externalPayload struct {
	TypeName string
	TypeHash Hash
	Data     interface{}
}

// ---- Heap constructors ----

func String(s string) Value { return Value{Kind: KindString, heap: newHeap(&stringPayload{s: s})} }
func Bytes(b []byte) Value  { return Value{Kind: KindBytes, heap: newHeap(&bytesPayload{b: b})} }
func VecOf(items []Value) Value  { return Value{Kind: KindVec, heap: newHeap(&vecPayload{items: items})} }
func TupleOf(items []Value) Value { return Value{Kind: KindTuple, heap: newHeap(&tuplePayload{items: items})} }

func ObjectOf(keys []string, values map[string]Value) Value {
	ks := make([]string, len(keys))
	copy(ks, keys)
	return Value{Kind: KindObject, heap: newHeap(&objectPayload{keys: ks, values: values})}
}

func AnySequence(rtti *Rtti, fields []Value) Value {
	return Value{Kind: KindAny, heap: newHeap(&anySeq{rtti: rtti, fields: fields})}
}

type anySeq struct {
	rtti   *Rtti
	fields []Value
}

func Variant(rtti *VariantRtti, data interface{}) Value {
	return Value{Kind: KindVariant, heap: newHeap(&variantPayload{rtti: rtti, data: data})}
}

func Function(hash Hash, kind FunctionKind, captured []Value) Value {
	return Value{Kind: KindFunction, heap: newHeap(&functionPayload{Hash: hash, Kind: kind, Captured: captured})}
}

func NativeFunction(native interface{}) Value {
	return Value{Kind: KindFunction, heap: newHeap(&functionPayload{Native: native})}
}

func FromDriver(kind Kind, d Driver) Value {
	return Value{Kind: kind, heap: newHeap(&driverPayload{d: d})}
}

func Format(segments []string, args []Value) Value {
	return Value{Kind: KindFormat, heap: newHeap(&formatPayload{Segments: segments, Args: args})}
}

func RangeValue(start, end *Value, inclusive bool) Value {
	return Value{Kind: KindRange, heap: newHeap(&rangePayload{Start: start, End: end, Inclusive: inclusive})}
}

func FromIterator(it Iterator) Value {
	return Value{Kind: KindIterator, heap: newHeap(&iteratorPayload{it: it})}
}

func External(typeName string, typeHash Hash, data interface{}) Value {
	return Value{Kind: KindExternal, heap: newHeap(&externalPayload{TypeName: typeName, TypeHash: typeHash, Data: data})}
}

// ---- Clone / Borrow / Take (spec §4.J) ----

// Clone bit-copies inline variants and bumps the refcount of heap variants.
// A refcount saturating at the maximum int value aborts, per spec §4.J.
func (v Value) Clone() Value {
	if v.heap != nil {
		if v.heap.refcount == math.MaxInt {
			panic("value: refcount overflow")
		}
		v.heap.refcount++
	}
	return v
}

// Release decrements a heap value's refcount, to be called whenever a
// Value handle is dropped (stack slot freed, object field overwritten).
func (v Value) Release() {
	if v.heap != nil {
		v.heap.refcount--
	}
}

var errNotHeap = errors.New("value: operation requires a heap-allocated value")

// BorrowRef acquires a shared borrow on a heap value.
func (v Value) BorrowRef() (*RefGuard, error) {
	if v.heap == nil {
		return nil, errNotHeap
	}
	return v.heap.access.BorrowRef()
}

// BorrowMut acquires an exclusive borrow on a heap value.
func (v Value) BorrowMut() (*MutGuard, error) {
	if v.heap == nil {
		return nil, errNotHeap
	}
	return v.heap.access.BorrowMut()
}

// Take moves the payload out, transitioning Unshared -> Taken if the
// refcount is 1 and no borrows are active (spec §4.J).
func (v Value) Take() (interface{}, error) {
	if v.heap == nil {
		return nil, errNotHeap
	}
	if v.heap.refcount != 1 {
		return nil, &AccessError{Attempted: "take", State: Shared}
	}
	if err := v.heap.access.Take(); err != nil {
		return nil, err
	}
	return v.heap.payload, nil
}

func (v Value) IsTaken() bool {
	return v.heap != nil && v.heap.access.IsTaken()
}

func (v Value) checkTaken() error {
	if v.IsTaken() {
		return &AccessError{Attempted: "access", State: Taken}
	}
	return nil
}

// ---- Typed accessors ----

func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", typeMismatch("string", v.Kind)
	}
	if err := v.checkTaken(); err != nil {
		return "", err
	}
	return v.heap.payload.(*stringPayload).s, nil
}

func (v Value) AsBytes() ([]byte, error) {
	if v.Kind != KindBytes {
		return nil, typeMismatch("bytes", v.Kind)
	}
	if err := v.checkTaken(); err != nil {
		return nil, err
	}
	return v.heap.payload.(*bytesPayload).b, nil
}

func (v Value) AsVec() ([]Value, error) {
	if v.Kind != KindVec {
		return nil, typeMismatch("vec", v.Kind)
	}
	if err := v.checkTaken(); err != nil {
		return nil, err
	}
	return v.heap.payload.(*vecPayload).items, nil
}

func (v Value) AsTuple() ([]Value, error) {
	if v.Kind != KindTuple {
		return nil, typeMismatch("tuple", v.Kind)
	}
	if err := v.checkTaken(); err != nil {
		return nil, err
	}
	return v.heap.payload.(*tuplePayload).items, nil
}

func (v Value) AsInteger() (int64, error) {
	if v.Kind != KindInteger {
		return 0, typeMismatch("integer", v.Kind)
	}
	return v.intv, nil
}

func (v Value) AsFloat() (float64, error) {
	if v.Kind != KindFloat {
		return 0, typeMismatch("float", v.Kind)
	}
	return v.floatv, nil
}

func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, typeMismatch("bool", v.Kind)
	}
	return v.boolv, nil
}

func (v Value) AsDriver() (Driver, error) {
	if v.heap == nil {
		return nil, typeMismatch("future/generator/stream", v.Kind)
	}
	dp, ok := v.heap.payload.(*driverPayload)
	if !ok {
		return nil, typeMismatch("future/generator/stream", v.Kind)
	}
	return dp.d, nil
}

func (v Value) AsFunctionInfo() (hash Hash, kind FunctionKind, captured []Value, native interface{}, ok bool) {
	if v.Kind != KindFunction || v.heap == nil {
		return 0, 0, nil, nil, false
	}
	fp := v.heap.payload.(*functionPayload)
	return fp.Hash, fp.Kind, fp.Captured, fp.Native, true
}

func (v Value) AsObject() (keys []string, get func(string) (Value, bool), ok bool) {
	if v.Kind != KindObject || v.heap == nil {
		return nil, nil, false
	}
	op := v.heap.payload.(*objectPayload)
	return op.keys, func(k string) (Value, bool) {
		val, ok := op.values[k]
		return val, ok
	}, true
}

// ObjectSet inserts or updates a key, preserving insertion order (spec §3
// "Object ... Insertion-ordered").
func (v Value) ObjectSet(key string, val Value) error {
	if v.Kind != KindObject || v.heap == nil {
		return typeMismatch("object", v.Kind)
	}
	op := v.heap.payload.(*objectPayload)
	if _, exists := op.values[key]; !exists {
		op.keys = append(op.keys, key)
	}
	op.values[key] = val
	return nil
}

func (v Value) AsAnySequence() (*Rtti, []Value, bool) {
	if v.Kind != KindAny || v.heap == nil {
		return nil, nil, false
	}
	a := v.heap.payload.(*anySeq)
	return a.rtti, a.fields, true
}

func (v Value) AsVariant() (*VariantRtti, interface{}, bool) {
	if v.Kind != KindVariant || v.heap == nil {
		return nil, nil, false
	}
	vp := v.heap.payload.(*variantPayload)
	return vp.rtti, vp.data, true
}

func (v Value) AsExternal() (*externalPayload, bool) {
	if v.Kind != KindExternal || v.heap == nil {
		return nil, false
	}
	return v.heap.payload.(*externalPayload), true
}

func (v Value) AsRange() (start, end *Value, inclusive bool, ok bool) {
	if v.Kind != KindRange || v.heap == nil {
		return nil, nil, false, false
	}
	rp := v.heap.payload.(*rangePayload)
	return rp.Start, rp.End, rp.Inclusive, true
}

func (v Value) AsFormat() (segments []string, args []Value, ok bool) {
	if v.Kind != KindFormat || v.heap == nil {
		return nil, nil, false
	}
	fp := v.heap.payload.(*formatPayload)
	return fp.Segments, fp.Args, true
}

func (v Value) AsIterator() (Iterator, bool) {
	if v.Kind != KindIterator || v.heap == nil {
		return nil, false
	}
	return v.heap.payload.(*iteratorPayload).it, true
}

// TypeInfo is a short, diagnostic-facing description of a value's runtime
// type, used in UnsupportedBinaryOperation and similar errors.
type TypeInfo struct {
	Kind Kind
	Item string
}

func (v Value) TypeInfo() TypeInfo {
	ti := TypeInfo{Kind: v.Kind}
	switch v.Kind {
	case KindAny:
		if rtti, _, ok := v.AsAnySequence(); ok {
			ti.Item = rtti.Item
		}
	case KindVariant:
		if rtti, _, ok := v.AsVariant(); ok {
			ti.Item = rtti.Item + "::" + rtti.Variant
		}
	case KindExternal:
		if ep, ok := v.AsExternal(); ok {
			ti.Item = ep.TypeName
		}
	}
	return ti
}

func typeMismatch(want string, got Kind) error {
	return errors.Errorf("type mismatch: expected %s, got %s", want, got)
}

// ---- Equality / ordering / hashing (spec §4.J) ----

// ProtocolCaller dispatches PARTIAL_EQ/EQ/PARTIAL_CMP/CMP/HASH for
// composite and Any/Variant/External values. The default caller (used when
// none is supplied) falls back to structural behavior for built-ins and
// fails for Any/Variant/External without a registered protocol.
type ProtocolCaller interface {
	CallProtocol(p Protocol, args []Value) (Value, bool, error)
}

// IllegalFloatComparisonError is returned by ordering comparisons (< > <=
// >=) over NaN; == still succeeds via PartialEq (spec §9 Open Question).
type IllegalFloatComparisonError struct{ Lhs, Rhs float64 }

func (e *IllegalFloatComparisonError) Error() string {
	return fmt.Sprintf("illegal comparison of NaN floats: %v, %v", e.Lhs, e.Rhs)
}

// UnsupportedBinaryOperationError names the operator and both operand
// types, per spec §4.K.
type UnsupportedBinaryOperationError struct {
	Op       string
	Lhs, Rhs TypeInfo
}

func (e *UnsupportedBinaryOperationError) Error() string {
	return fmt.Sprintf("unsupported operation `%s` between `%s` and `%s`", e.Op, e.Lhs.Kind, e.Rhs.Kind)
}

func unsupported(op Protocol, a, b Value) error {
	return &UnsupportedBinaryOperationError{Op: op.Name, Lhs: a.TypeInfo(), Rhs: b.TypeInfo()}
}

// PartialEq implements `==`. Float NaN never errors here (spec §9).
func (v Value) PartialEq(other Value, caller ProtocolCaller) (bool, error) {
	if v.Kind != other.Kind {
		if isNumeric(v.Kind) && isNumeric(other.Kind) {
			return false, nil
		}
		return false, nil
	}
	switch v.Kind {
	case KindUnit:
		return true, nil
	case KindBool:
		return v.boolv == other.boolv, nil
	case KindByte:
		return v.bytev == other.bytev, nil
	case KindChar:
		return v.charv == other.charv, nil
	case KindInteger:
		return v.intv == other.intv, nil
	case KindFloat:
		return v.floatv == other.floatv, nil
	case KindType:
		return v.typev == other.typev, nil
	case KindOrdering:
		return v.ordv == other.ordv, nil
	case KindString:
		a, _ := v.AsString()
		b, _ := other.AsString()
		return a == b, nil
	case KindBytes:
		a, _ := v.AsBytes()
		b, _ := other.AsBytes()
		return string(a) == string(b), nil
	case KindVec, KindTuple:
		a, _ := sequenceItems(v)
		b, _ := sequenceItems(other)
		return equalSequences(a, b, caller)
	case KindObject:
		return equalObjects(v, other, caller)
	default:
		if caller != nil {
			res, ok, err := caller.CallProtocol(PARTIAL_EQ, []Value{v, other})
			if err != nil {
				return false, err
			}
			if ok {
				b, _ := res.AsBool()
				return b, nil
			}
		}
		return false, unsupported(PARTIAL_EQ, v, other)
	}
}

func isNumeric(k Kind) bool { return k == KindInteger || k == KindFloat || k == KindByte }

func sequenceItems(v Value) ([]Value, error) {
	if v.Kind == KindVec {
		return v.AsVec()
	}
	return v.AsTuple()
}

func equalSequences(a, b []Value, caller ProtocolCaller) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		eq, err := a[i].PartialEq(b[i], caller)
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

func equalObjects(a, b Value, caller ProtocolCaller) (bool, error) {
	ak, aget, _ := a.AsObject()
	bk, bget, _ := b.AsObject()
	if len(ak) != len(bk) {
		return false, nil
	}
	for _, k := range ak {
		av, _ := aget(k)
		bv, ok := bget(k)
		if !ok {
			return false, nil
		}
		eq, err := av.PartialEq(bv, caller)
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

// Eq implements the total-equality protocol, required for e.g. object keys.
// Unlike PartialEq, a NaN float comparison here errors (spec §9 Open
// Question), matching original_source's inline.rs `eq`.
func (v Value) Eq(other Value, caller ProtocolCaller) (bool, error) {
	if v.Kind == KindFloat && other.Kind == KindFloat {
		o, ok := cmpFloat(v.floatv, other.floatv)
		if !ok {
			return false, &IllegalFloatComparisonError{Lhs: v.floatv, Rhs: other.floatv}
		}
		return o == Equal, nil
	}
	return v.PartialEq(other, caller)
}

func cmpFloat(a, b float64) (Ordering, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	switch {
	case a < b:
		return Less, true
	case a > b:
		return Greater, true
	default:
		return Equal, true
	}
}

// PartialCmp implements `<`, `<=`, `>`, `>=`. NaN floats produce
// IllegalFloatComparisonError (spec §9).
func (v Value) PartialCmp(other Value, caller ProtocolCaller) (Ordering, error) {
	switch v.Kind {
	case KindInteger:
		if other.Kind != KindInteger {
			return 0, unsupported(PARTIAL_CMP, v, other)
		}
		return cmpInt(v.intv, other.intv), nil
	case KindByte:
		if other.Kind != KindByte {
			return 0, unsupported(PARTIAL_CMP, v, other)
		}
		return cmpInt(int64(v.bytev), int64(other.bytev)), nil
	case KindFloat:
		if other.Kind != KindFloat {
			return 0, unsupported(PARTIAL_CMP, v, other)
		}
		o, ok := cmpFloat(v.floatv, other.floatv)
		if !ok {
			return 0, &IllegalFloatComparisonError{Lhs: v.floatv, Rhs: other.floatv}
		}
		return o, nil
	case KindString:
		a, _ := v.AsString()
		b, _ := other.AsString()
		switch {
		case a < b:
			return Less, nil
		case a > b:
			return Greater, nil
		default:
			return Equal, nil
		}
	case KindChar:
		return cmpInt(int64(v.charv), int64(other.charv)), nil
	default:
		if caller != nil {
			res, ok, err := caller.CallProtocol(PARTIAL_CMP, []Value{v, other})
			if err != nil {
				return 0, err
			}
			if ok {
				o, _ := res.AsOrdering()
				return o, nil
			}
		}
		return 0, unsupported(PARTIAL_CMP, v, other)
	}
}

func (v Value) AsOrdering() (Ordering, error) {
	if v.Kind != KindOrdering {
		return 0, typeMismatch("ordering", v.Kind)
	}
	return v.ordv, nil
}

func cmpInt(a, b int64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Cmp implements total ordering, erroring on NaN (spec §9).
func (v Value) Cmp(other Value, caller ProtocolCaller) (Ordering, error) {
	return v.PartialCmp(other, caller)
}

// HashValue implements the HASH protocol for built-ins, used by object/map
// keys and the `Key` conversion.
func (v Value) HashValue() (uint64, error) {
	switch v.Kind {
	case KindUnit:
		return 0, nil
	case KindBool:
		if v.boolv {
			return 1, nil
		}
		return 0, nil
	case KindByte:
		return uint64(v.bytev), nil
	case KindChar:
		return uint64(v.charv), nil
	case KindInteger:
		return uint64(v.intv), nil
	case KindString:
		s, _ := v.AsString()
		return uint64(HashString(s)), nil
	default:
		return 0, errors.Errorf("value of kind %s is not hashable", v.Kind)
	}
}

// ---- Display / Debug (spec §4.J) ----

// Formatter is a buffered, fallible string sink used by STRING_DISPLAY and
// STRING_DEBUG protocol implementations.
type Formatter struct {
	buf []byte
}

func NewFormatter() *Formatter { return &Formatter{} }

func (f *Formatter) WriteString(s string) error {
	f.buf = append(f.buf, s...)
	return nil
}

func (f *Formatter) String() string { return string(f.buf) }

// Display writes a human-facing rendering of v (spec §4.J STRING_DISPLAY).
func (v Value) Display(f *Formatter, caller ProtocolCaller) error {
	switch v.Kind {
	case KindUnit:
		return f.WriteString("()")
	case KindBool:
		return f.WriteString(strconv.FormatBool(v.boolv))
	case KindByte:
		return f.WriteString(strconv.Itoa(int(v.bytev)))
	case KindChar:
		return f.WriteString(string(v.charv))
	case KindInteger:
		return f.WriteString(strconv.FormatInt(v.intv, 10))
	case KindFloat:
		return f.WriteString(strconv.FormatFloat(v.floatv, 'g', -1, 64))
	case KindString:
		s, err := v.AsString()
		if err != nil {
			return err
		}
		return f.WriteString(s)
	default:
		if caller != nil {
			res, ok, err := caller.CallProtocol(STRING_DISPLAY, []Value{v})
			if err == nil && ok {
				s, _ := res.AsString()
				return f.WriteString(s)
			}
			if err != nil {
				return err
			}
		}
		return v.Debug(f, caller)
	}
}

// Debug writes a developer-facing rendering of v (spec §4.J STRING_DEBUG).
func (v Value) Debug(f *Formatter, caller ProtocolCaller) error {
	switch v.Kind {
	case KindString:
		s, _ := v.AsString()
		return f.WriteString(strconv.Quote(s))
	case KindVec:
		items, _ := v.AsVec()
		f.WriteString("[")
		for i, it := range items {
			if i > 0 {
				f.WriteString(", ")
			}
			if err := it.Debug(f, caller); err != nil {
				return err
			}
		}
		return f.WriteString("]")
	case KindTuple:
		items, _ := v.AsTuple()
		f.WriteString("(")
		for i, it := range items {
			if i > 0 {
				f.WriteString(", ")
			}
			if err := it.Debug(f, caller); err != nil {
				return err
			}
		}
		return f.WriteString(")")
	case KindObject:
		keys, get, _ := v.AsObject()
		f.WriteString("#{")
		for i, k := range keys {
			if i > 0 {
				f.WriteString(", ")
			}
			f.WriteString(k)
			f.WriteString(": ")
			val, _ := get(k)
			if err := val.Debug(f, caller); err != nil {
				return err
			}
		}
		return f.WriteString("}")
	default:
		if caller != nil {
			res, ok, err := caller.CallProtocol(STRING_DEBUG, []Value{v})
			if err != nil {
				return err
			}
			if ok {
				s, _ := res.AsString()
				return f.WriteString(s)
			}
		}
		return v.Display(f, caller)
	}
}
