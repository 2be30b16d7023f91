// Package query implements the lazy, memoizing item-resolution engine
// that sits between HIR lowering and IR/bytecode compilation (spec §4.F).
package query

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rune-lang/rune/alloc"
	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/ir"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// MetaKind enumerates the shapes of item metadata the engine resolves
// (spec §4.F "Meta kinds").
type MetaKind int

const (
	MetaStruct MetaKind = iota
	MetaVariant
	MetaFunction
	MetaConst
	MetaConstFn
	MetaModule
	MetaImport
	MetaEnum
)

// Visibility mirrors spec §4.F's visibility lattice.
type Visibility int

const (
	VisInherited Visibility = iota
	VisPublic
	VisCrate
	VisSuper
	VisSelfValue
	VisIn // In(path); Path names the allowed module
)

// Meta is the resolved metadata for one item.
type Meta struct {
	Item       string
	Kind       MetaKind
	Visibility Visibility
	InPath     string // for VisIn

	Fn        *ast.ItemFn
	ConstExpr ast.Expr
	Module    string // owning module path

	Hash value.Hash
}

// Used distinguishes a query performed for code-generation purposes from
// one performed only to check existence, affecting dead-code reporting
// (spec §4.F "Lookup protocol").
type Used int

const (
	Used Used = iota
	Unused
)

type markState int

const (
	markNone markState = iota
	markInProgress
	markPermanent
)

// Engine is the query engine: item pool, module graph, and the
// meta/const/const-fn/macro caches (spec §4.F).
type Engine struct {
	mu sync.Mutex

	sources *source.Sources
	diags   *diag.Diagnostics

	// items maps an item path to its parsed-and-indexed ast node.
	items map[string]ast.Item
	// modules maps a module path to the set of item paths it declares and
	// its list of `use` imports (path -> target, possibly aliased).
	moduleItems map[string][]string
	imports     map[string]importEntry

	// meta/const/const-fn/macro caches are swiss-table-backed
	// (github.com/dolthub/swiss, via alloc.Map) per SPEC_FULL.md's
	// "DOMAIN STACK"; all access is serialized by mu, same as the plain
	// maps they replace.
	metaCache    *alloc.Map[string, *Meta]
	constCache   *alloc.Map[string, value.Value]
	constFnCache *alloc.Map[string, *ir.Fn]

	marks map[string]markState

	macroCache *alloc.Map[string, *hir.Expr]

	group singleflight.Group
}

type importEntry struct {
	target string
	vis    Visibility
}

func NewEngine(sources *source.Sources, diags *diag.Diagnostics) *Engine {
	return &Engine{
		sources:      sources,
		diags:        diags,
		items:        make(map[string]ast.Item),
		moduleItems:  make(map[string][]string),
		imports:      make(map[string]importEntry),
		metaCache:    alloc.TryNewMap[string, *Meta](nil),
		constCache:   alloc.TryNewMap[string, value.Value](nil),
		constFnCache: alloc.TryNewMap[string, *ir.Fn](nil),
		marks:        make(map[string]markState),
	}
}

// IndexFile registers every top-level item in a parsed file under the
// given module path (spec §4.F "item pool, module graph").
func (e *Engine) IndexFile(module string, file *ast.File) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexItems(module, file.Items)
}

func (e *Engine) indexItems(module string, items []ast.Item) {
	for _, it := range items {
		path, vis := itemPathVis(module, it)
		if path == "" {
			continue
		}
		e.items[path] = it
		e.moduleItems[module] = append(e.moduleItems[module], path)
		if use, ok := it.(*ast.ItemUse); ok {
			target := joinPath(use.Path.Segments)
			if len(use.Path.Segments) == 1 {
				target = module + "::" + target
			}
			name := use.As
			if name == "" && len(use.Path.Segments) > 0 {
				name = use.Path.Segments[len(use.Path.Segments)-1]
			}
			e.imports[module+"::"+name] = importEntry{target: target, vis: vis}
		}
		if mod, ok := it.(*ast.ItemMod); ok {
			e.indexItems(path, mod.Items)
		}
	}
}

func itemPathVis(module string, it ast.Item) (string, Visibility) {
	switch v := it.(type) {
	case *ast.ItemFn:
		return module + "::" + v.Name, fromAstVis(v.Vis)
	case *ast.ItemConst:
		return module + "::" + v.Name, fromAstVis(v.Vis)
	case *ast.ItemStruct:
		return module + "::" + v.Name, fromAstVis(v.Vis)
	case *ast.ItemEnum:
		return module + "::" + v.Name, fromAstVis(v.Vis)
	case *ast.ItemMod:
		return module + "::" + v.Name, fromAstVis(v.Vis)
	case *ast.ItemUse:
		return module + "::use::" + pathTail(v.Path.Segments), fromAstVis(v.Vis)
	default:
		return "", VisInherited
	}
}

func pathTail(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "::"
		}
		out += s
	}
	return out
}

func fromAstVis(v ast.Visibility) Visibility {
	switch v {
	case ast.VisPublic:
		return VisPublic
	case ast.VisCrate:
		return VisCrate
	case ast.VisSuper:
		return VisSuper
	case ast.VisSelf:
		return VisSelfValue
	case ast.VisIn:
		return VisIn
	default:
		return VisInherited
	}
}

// QueryMeta resolves an item path to its Meta, following `pub use`
// re-export chains transitively (spec §4.F "Lookup protocol"). Items are
// found only among sources already indexed; an unindexed source is not
// parsed here.
func (e *Engine) QueryMeta(span source.Span, item string, used Used) (*Meta, error) {
	e.mu.Lock()
	if m, ok := e.metaCache.Get(item); ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	resolved, err := e.resolveImportChain(item)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[resolved]
	if !ok {
		return nil, diag.New(diag.KindMissingImport, span, "item %q not found", item)
	}
	meta := e.buildMeta(resolved, it)
	_ = e.metaCache.TryInsert(item, meta)
	return meta, nil
}

// resolveImportChain walks a chain of `pub use` aliases to the item they
// ultimately name, detecting cycles (spec §4.F "chains of pub use are
// walked and recorded for error reporting").
func (e *Engine) resolveImportChain(item string) (string, error) {
	seen := map[string]bool{}
	cur := item
	for {
		e.mu.Lock()
		entry, isImport := e.imports[cur]
		e.mu.Unlock()
		if !isImport {
			return cur, nil
		}
		if seen[cur] {
			return "", diag.New(diag.KindImportCycle, source.Span{}, "import cycle resolving %q", item)
		}
		seen[cur] = true
		cur = entry.target
	}
}

func (e *Engine) buildMeta(path string, it ast.Item) *Meta {
	h := value.HashString(path)
	switch v := it.(type) {
	case *ast.ItemFn:
		kind := MetaFunction
		if v.Kind == ast.FnConst {
			kind = MetaConstFn
		}
		return &Meta{Item: path, Kind: kind, Visibility: fromAstVis(v.Vis), Fn: v, Hash: h}
	case *ast.ItemConst:
		return &Meta{Item: path, Kind: MetaConst, Visibility: fromAstVis(v.Vis), ConstExpr: v.Value, Hash: h}
	case *ast.ItemStruct:
		return &Meta{Item: path, Kind: MetaStruct, Visibility: fromAstVis(v.Vis), Hash: h}
	case *ast.ItemEnum:
		return &Meta{Item: path, Kind: MetaEnum, Visibility: fromAstVis(v.Vis), Hash: h}
	case *ast.ItemMod:
		return &Meta{Item: path, Kind: MetaModule, Visibility: fromAstVis(v.Vis), Hash: h}
	default:
		return &Meta{Item: path, Kind: MetaImport, Hash: h}
	}
}

// CheckVisible walks from referrer to target's owning module, failing on
// the first hop whose visibility forbids it (spec §4.F "Visibility").
func (e *Engine) CheckVisible(span source.Span, referrer string, target *Meta) error {
	switch target.Visibility {
	case VisPublic:
		return nil
	case VisInherited, VisCrate:
		return nil // single-crate core: inherited/crate visibility is always satisfied
	case VisSuper:
		if isParentModule(referrer, target.Item) {
			return nil
		}
		return diag.New(diag.KindNotVisible, span, "%q is not visible from %q", target.Item, referrer)
	case VisSelfValue:
		if referrer == moduleOf(target.Item) {
			return nil
		}
		return diag.New(diag.KindNotVisible, span, "%q is private to %q", target.Item, moduleOf(target.Item))
	case VisIn:
		if referrer == target.InPath || isParentModule(target.InPath, referrer) {
			return nil
		}
		return diag.New(diag.KindNotVisible, span, "%q is only visible in %q", target.Item, target.InPath)
	default:
		return nil
	}
}

func moduleOf(item string) string {
	idx := lastSep(item)
	if idx < 0 {
		return ""
	}
	return item[:idx]
}

func isParentModule(parent, of string) bool {
	return len(of) > len(parent) && of[:len(parent)] == parent
}

func lastSep(s string) int {
	for i := len(s) - 3; i >= 0; i-- {
		if s[i] == ':' && i+1 < len(s) && s[i+1] == ':' {
			return i
		}
	}
	return -1
}

// ConstCycleError names the item whose evaluation was already in progress
// (spec §4.F "Cycle detection").
type ConstCycleError struct{ Item string }

func (e *ConstCycleError) Error() string { return fmt.Sprintf("const cycle detected at %q", e.Item) }

// Mark begins cycle-tracked evaluation of item, failing if it is already
// in progress (spec §4.F). Callers must call Unmark(item, permanent) when
// done.
func (e *Engine) Mark(item string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.marks[item] {
	case markInProgress:
		return &ConstCycleError{Item: item}
	case markPermanent:
		return nil
	}
	e.marks[item] = markInProgress
	return nil
}

// Unmark finalizes item's mark as permanent (success) or clears it back to
// none (failure, allowing a future retry to report a fresh cycle).
func (e *Engine) Unmark(item string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.marks[item] = markPermanent
	} else {
		delete(e.marks, item)
	}
}

// QueryConst resolves a const item's value, memoizing it and deduplicating
// concurrent evaluations of the same item via singleflight (spec
// SPEC_FULL.md DOMAIN STACK).
func (e *Engine) QueryConst(span source.Span, item string, eval func(ast.Expr) (value.Value, error)) (value.Value, error) {
	e.mu.Lock()
	if v, ok := e.constCache.Get(item); ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	res, err, _ := e.group.Do("const:"+item, func() (interface{}, error) {
		if err := e.Mark(item); err != nil {
			return nil, err
		}
		meta, err := e.QueryMeta(span, item, Used)
		if err != nil {
			e.Unmark(item, false)
			return nil, err
		}
		if meta.Kind != MetaConst {
			e.Unmark(item, false)
			return nil, diag.New(diag.KindMissingConst, span, "%q is not a const", item)
		}
		v, err := eval(meta.ConstExpr)
		if err != nil {
			e.Unmark(item, false)
			return nil, err
		}
		e.mu.Lock()
		_ = e.constCache.TryInsert(item, v)
		e.mu.Unlock()
		e.Unmark(item, true)
		return v, nil
	})
	if err != nil {
		var zero value.Value
		return zero, err
	}
	return res.(value.Value), nil
}

// QueryConstFn resolves and caches the compiled IR body of a const fn
// (spec §4.F "const-fn cache", §4.G "Const-fn calls").
func (e *Engine) QueryConstFn(span source.Span, item string, compile func(*ast.ItemFn) (*ir.Fn, error)) (*ir.Fn, error) {
	e.mu.Lock()
	if f, ok := e.constFnCache.Get(item); ok {
		e.mu.Unlock()
		return f, nil
	}
	e.mu.Unlock()

	meta, err := e.QueryMeta(span, item, Used)
	if err != nil {
		return nil, err
	}
	if meta.Kind != MetaConstFn || meta.Fn == nil {
		return nil, diag.New(diag.KindMissingConst, span, "%q is not a const fn", item)
	}
	f, err := compile(meta.Fn)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	_ = e.constFnCache.TryInsert(item, f)
	e.mu.Unlock()
	return f, nil
}

