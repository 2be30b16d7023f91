// Package module builds the host-side registration surface the VM
// dispatches into: free functions, instance functions, protocols,
// associated functions, and constants, aggregated into an immutable
// RuntimeContext (spec §4.L).
//
// The registration shape mirrors the teacher's Exports map: a module
// collects reflect.Value entries under stable names (here, stable
// value.Hash keys instead of Go import paths) and a Context aggregates
// several modules the way the teacher's Interpreter aggregates binPkg
// across every imported binary package.
package module

import (
	"fmt"
	"reflect"

	"github.com/rune-lang/rune/value"
)

// Handler is anything the VM can invoke: a free function, an instance
// method, or a protocol implementation. All are represented uniformly as
// a reflect.Value wrapping a Go func, following the teacher's
// Exports map[string]map[string]reflect.Value pattern (interp.go
// `type Exports map[string]map[string]reflect.Value`), specialized here
// to a flat Hash-keyed table since Rune has no package-path namespacing
// at the VM boundary.
type Handler struct {
	Name string
	Fn   reflect.Value
}

func (h Handler) Call(args []value.Value) (value.Value, error) {
	if h.Fn.Kind() != reflect.Func {
		return value.Unit(), fmt.Errorf("module: handler %q is not callable", h.Name)
	}
	t := h.Fn.Type()
	variadic := t.IsVariadic()
	min := t.NumIn()
	if variadic {
		min--
	}
	if len(args) < min || (!variadic && len(args) != min) {
		return value.Unit(), fmt.Errorf("module: handler %q expects %d argument(s), got %d", h.Name, min, len(args))
	}
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		var want reflect.Type
		if variadic && i >= min {
			want = t.In(t.NumIn() - 1).Elem()
		} else {
			want = t.In(i)
		}
		rv, err := toReflect(a, want)
		if err != nil {
			return value.Unit(), fmt.Errorf("module: handler %q argument %d: %w", h.Name, i, err)
		}
		in = append(in, rv)
	}
	out := h.Fn.Call(in)
	return fromReflectResults(out)
}

// TypeInfo records a registered native type's display name and kind for
// diagnostics (spec §4.L "type-info metadata used by diagnostics").
type TypeInfo struct {
	Hash value.Hash
	Name string
	Kind value.Kind
}

// Module is a builder: it accumulates free functions, instance
// functions, protocol implementations, associated functions, constants,
// and registered types under a module name, to be merged into a Context
// (spec §4.L "A Module is a builder").
type Module struct {
	Name string

	functions  map[value.Hash]Handler
	instanceFn map[value.Hash]Handler // keyed by hash(method name)
	protocols  map[value.Hash]Handler // keyed by hash(typeName + "::" + protocol.Name)
	associated map[value.Hash]Handler
	constants  map[value.Hash]value.Value
	types      map[value.Hash]TypeInfo
}

func New(name string) *Module {
	return &Module{
		Name:       name,
		functions:  map[value.Hash]Handler{},
		instanceFn: map[value.Hash]Handler{},
		protocols:  map[value.Hash]Handler{},
		associated: map[value.Hash]Handler{},
		constants:  map[value.Hash]value.Value{},
		types:      map[value.Hash]TypeInfo{},
	}
}

// Function registers a free function by path, e.g. "std::vec::len"
// (spec §6 "Module::function(path, fn)").
func (m *Module) Function(path string, fn interface{}) *Module {
	m.functions[value.HashString(path)] = Handler{Name: path, Fn: reflect.ValueOf(fn)}
	return m
}

// Type registers a native type under a stable item path (spec §6
// "Module::ty::<T>()").
func (m *Module) Type(path string, kind value.Kind) *Module {
	h := value.HashString(path)
	m.types[h] = TypeInfo{Hash: h, Name: path, Kind: kind}
	return m
}

// InstanceFn registers an instance method reachable as `receiver.name(...)`
// (spec §6 "Module::inst_fn(name, fn)"; spec §4.L "instance functions (by
// type + name)"). typePath is carried for documentation/diagnostics only:
// OpCallInstance dispatches by method name alone (the VM performs no
// static type check on the receiver), so the key is the method name's
// hash rather than a type-qualified one.
func (m *Module) InstanceFn(typePath, name string, fn interface{}) *Module {
	key := value.HashString(name)
	m.instanceFn[key] = Handler{Name: typePath + "::" + name, Fn: reflect.ValueOf(fn)}
	return m
}

// FieldFn registers a protocol implementation (e.g. GET/SET/INDEX_GET)
// for a type (spec §6 "Module::field_fn(protocol, name, fn)"; spec §4.L
// "protocols (by type + protocol hash)").
func (m *Module) FieldFn(typePath string, p value.Protocol, fn interface{}) *Module {
	key := value.HashString(typePath + "::" + p.Name)
	m.protocols[key] = Handler{Name: typePath + "::" + p.Name, Fn: reflect.ValueOf(fn)}
	return m
}

// AssociatedFn registers a function reachable as Type::name(...) rather
// than through an instance receiver (spec §4.L "associated functions").
func (m *Module) AssociatedFn(typePath, name string, fn interface{}) *Module {
	key := value.HashString(typePath + "::" + name)
	m.associated[key] = Handler{Name: typePath + "::" + name, Fn: reflect.ValueOf(fn)}
	return m
}

// Const registers a named constant value.
func (m *Module) Const(path string, v value.Value) *Module {
	m.constants[value.HashString(path)] = v
	return m
}

// ProtocolHash returns the dispatch key used by the VM/value packages to
// look up typePath's implementation of protocol p.
func ProtocolHash(typePath string, p value.Protocol) value.Hash {
	return value.HashString(typePath + "::" + p.Name)
}
