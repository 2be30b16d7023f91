package module

import (
	"fmt"

	"github.com/rune-lang/rune/alloc"
	"github.com/rune-lang/rune/value"
)

// Context aggregates one or more Modules, detecting duplicate hash
// registrations, and publishes an immutable RuntimeContext for the VM
// (spec §4.L "A Context aggregates modules, detects duplicate hashes,
// and publishes a RuntimeContext").
//
// This plays the same aggregation role the teacher's Interpreter plays
// when it merges every imported package's Exports into one flat binPkg
// table (interp.go: `binPkg Exports`) before execution begins.
type Context struct {
	modules []*Module
}

func NewContext() *Context { return &Context{} }

// WithModule registers a module's contribution to the context, returning
// an error on any hash collision against an already-registered module.
func (c *Context) WithModule(m *Module) error {
	for _, existing := range c.modules {
		if err := checkDuplicates(existing, m); err != nil {
			return err
		}
	}
	c.modules = append(c.modules, m)
	return nil
}

func checkDuplicates(a, b *Module) error {
	for h := range a.functions {
		if _, ok := b.functions[h]; ok {
			return fmt.Errorf("module: duplicate function hash between %q and %q", a.Name, b.Name)
		}
	}
	for h := range a.instanceFn {
		if _, ok := b.instanceFn[h]; ok {
			return fmt.Errorf("module: duplicate instance function hash between %q and %q", a.Name, b.Name)
		}
	}
	for h := range a.protocols {
		if _, ok := b.protocols[h]; ok {
			return fmt.Errorf("module: duplicate protocol hash between %q and %q", a.Name, b.Name)
		}
	}
	for h := range a.associated {
		if _, ok := b.associated[h]; ok {
			return fmt.Errorf("module: duplicate associated function hash between %q and %q", a.Name, b.Name)
		}
	}
	for h := range a.types {
		if _, ok := b.types[h]; ok {
			return fmt.Errorf("module: duplicate type hash between %q and %q", a.Name, b.Name)
		}
	}
	return nil
}

// Build publishes an immutable RuntimeContext view over every registered
// module (spec §4.L "publishes a RuntimeContext (immutable lookup view)
// plus type-info metadata used by diagnostics"). The merged tables are
// swiss-table-backed (see SPEC_FULL.md "DOMAIN STACK"), matching the
// teacher's go.mod carrying `dolthub/swiss` for its own high-throughput
// symbol table use.
func (c *Context) Build() *RuntimeContext {
	rc := &RuntimeContext{
		functions: alloc.TryNewMap[value.Hash, Handler](nil),
		instance:  alloc.TryNewMap[value.Hash, Handler](nil),
		protocols: alloc.TryNewMap[value.Hash, Handler](nil),
		constants: alloc.TryNewMap[value.Hash, value.Value](nil),
		types:     alloc.TryNewMap[value.Hash, TypeInfo](nil),
	}
	for _, m := range c.modules {
		for h, fn := range m.functions {
			_ = rc.functions.TryInsert(h, fn)
		}
		for h, fn := range m.instanceFn {
			_ = rc.instance.TryInsert(h, fn)
		}
		for h, fn := range m.associated {
			_ = rc.instance.TryInsert(h, fn)
		}
		for h, fn := range m.protocols {
			_ = rc.protocols.TryInsert(h, fn)
		}
		for h, v := range m.constants {
			_ = rc.constants.TryInsert(h, v)
		}
		for h, t := range m.types {
			_ = rc.types.TryInsert(h, t)
		}
	}
	return rc
}

// RuntimeContext is the immutable, VM-facing lookup view produced by
// Context.Build (spec §4.K "Unit, RuntimeContext, Stack, CallFrames").
type RuntimeContext struct {
	functions *alloc.Map[value.Hash, Handler]
	instance  *alloc.Map[value.Hash, Handler]
	protocols *alloc.Map[value.Hash, Handler]
	constants *alloc.Map[value.Hash, value.Value]
	types     *alloc.Map[value.Hash, TypeInfo]
}

func (rc *RuntimeContext) Lookup(hash value.Hash) (Handler, bool) {
	if h, ok := rc.functions.Get(hash); ok {
		return h, true
	}
	if h, ok := rc.instance.Get(hash); ok {
		return h, true
	}
	return Handler{}, false
}

func (rc *RuntimeContext) LookupProtocol(typePath string, p value.Protocol) (Handler, bool) {
	h, ok := rc.protocols.Get(ProtocolHash(typePath, p))
	return h, ok
}

func (rc *RuntimeContext) Constant(hash value.Hash) (value.Value, bool) {
	return rc.constants.Get(hash)
}

func (rc *RuntimeContext) TypeInfo(hash value.Hash) (TypeInfo, bool) {
	return rc.types.Get(hash)
}

// Hashes returns every externally-callable hash registered in this
// context, used by compile.LinkCheck to validate Call instructions
// against host-provided functions in addition to the Unit's own
// function table (spec §4.I "Link checking").
func (rc *RuntimeContext) Hashes() map[value.Hash]bool {
	out := make(map[value.Hash]bool, rc.functions.Len()+rc.instance.Len())
	rc.functions.Each(func(h value.Hash, _ Handler) bool {
		out[h] = true
		return true
	})
	rc.instance.Each(func(h value.Hash, _ Handler) bool {
		out[h] = true
		return true
	})
	return out
}
