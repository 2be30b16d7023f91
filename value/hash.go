// Package value implements the runtime tagged Value union of spec §3/§4.J:
// inline scalars plus reference-counted heap variants carrying an Access
// interior-borrow flag. The teacher represents runtime values with
// reflect.Value directly (yaegi interprets against real Go values); Rune's
// VM instead needs a portable, host-independent value representation, so
// this package is original rather than adapted, grounded on
// original_source/crates/rune/src/runtime/value/inline.rs and
// any_sequence.rs for exact variant/operation shape.
package value

import "hash/fnv"

// Hash is the 64-bit content hash used throughout the system to identify
// items, types, and protocols (spec §3 "Hash"). Equality is hash equality;
// collisions are a program error detected at unit-link time.
type Hash uint64

// HashString derives a Hash from an arbitrary string (item paths, protocol
// names). Using FNV-1a keeps the derivation simple and host-reproducible,
// which content hashing requires (the specific algorithm is not otherwise
// constrained by spec).
func HashString(s string) Hash {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return Hash(h.Sum64())
}

// HashCombine folds an additional string component into an existing Hash, used to build
// item-path hashes component by component.
func HashCombine(h Hash, s string) Hash {
	f := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(h >> (8 * i))
	}
	_, _ = f.Write(buf[:])
	_, _ = f.Write([]byte(s))
	return Hash(f.Sum64())
}
