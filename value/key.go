package value

import "fmt"

// Key is the sum type used wherever object/map indexing needs a hashable,
// totally-ordered subset of Value, grounded on
// original_source/crates/rune/src/runtime/key.rs (object and map indexing
// there accepts any hashable Value, not just strings).
type Key struct {
	kind  keyKind
	str   string
	i64   int64
	b     bool
	ch    rune
}

type keyKind int

const (
	keyString keyKind = iota
	keyInteger
	keyBool
	keyChar
	keyByte
	keyUnit
)

func KeyString(s string) Key { return Key{kind: keyString, str: s} }
func KeyInteger(i int64) Key { return Key{kind: keyInteger, i64: i} }
func KeyBool(b bool) Key     { return Key{kind: keyBool, b: b} }
func KeyChar(c rune) Key     { return Key{kind: keyChar, ch: c} }
func KeyByte(b byte) Key     { return Key{kind: keyByte, i64: int64(b)} }
func KeyUnit() Key           { return Key{kind: keyUnit} }

// AsKey converts a Value into a Key, when the value belongs to the
// hashable/totally-ordered subset; ok is false for e.g. Float or composite
// values which cannot serve as object/map keys.
func AsKey(v Value) (Key, bool) {
	switch v.Kind {
	case KindUnit:
		return KeyUnit(), true
	case KindBool:
		return KeyBool(v.boolv), true
	case KindByte:
		return KeyByte(v.bytev), true
	case KindChar:
		return KeyChar(v.charv), true
	case KindInteger:
		return KeyInteger(v.intv), true
	case KindString:
		s, err := v.AsString()
		if err != nil {
			return Key{}, false
		}
		return KeyString(s), true
	default:
		return Key{}, false
	}
}

func (k Key) String() string {
	switch k.kind {
	case keyString:
		return k.str
	case keyInteger:
		return fmt.Sprintf("%d", k.i64)
	case keyBool:
		return fmt.Sprintf("%t", k.b)
	case keyChar:
		return string(k.ch)
	case keyByte:
		return fmt.Sprintf("%d", k.i64)
	default:
		return "()"
	}
}
