package value

// RttiKind distinguishes the three shapes an Any value's fields can take
// (spec §3 "Rtti").
type RttiKind int

const (
	RttiEmpty RttiKind = iota
	RttiTuple
	RttiStruct
)

// Rtti is runtime type information for a Rune struct/tuple-struct/unit
// struct: item path, hash, and a field-name -> index map.
type Rtti struct {
	Item    string
	Hash    Hash
	Kind    RttiKind
	Fields  map[string]int // nil for Empty/Tuple
}

// VariantRtti additionally carries the owning enum's hash, for a tagged
// enum instance (spec §3 "Value.Variant").
type VariantRtti struct {
	Rtti
	EnumHash Hash
	Variant  string
	Index    int
}
