package query

import (
	"strconv"
	"strings"

	"github.com/rune-lang/rune/alloc"
	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
)

// Built-in macro expansion (template!, format_args!, file!, line!) is a
// query-engine responsibility per spec §4.E ("delegating to a macro
// implementation in the query engine"); results are memoized by call-site
// hash per spec §4.F ("builtin-macro cache (CallSiteId -> BuiltInMacro)").
//
// Engine implements hir.MacroExpander directly.

var _ hir.MacroExpander = (*Engine)(nil)

func (e *Engine) callSiteKey(call *ast.MacroCall) string {
	sp := call.Span()
	return value_callsite(sp.Start, sp.End, int(call.Kind))
}

func value_callsite(start, end, kind int) string {
	return "cs:" + itoa(start) + ":" + itoa(end) + ":" + itoa(kind)
}

func itoa(n int) string { return strconv.Itoa(n) }

// ExpandTemplate lowers a `template!("prefix", expr, "suffix", ...)` call
// node (itself already produced by the lexer's template-string lowering,
// spec §4.C) into a single ExprKindTemplate HIR node.
func (e *Engine) ExpandTemplate(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	key := e.callSiteKey(call)
	if cached, ok := e.macroCacheGet(key); ok {
		return cached, nil
	}
	segs := make([]*hir.Expr, 0, len(call.Args))
	for _, a := range call.Args {
		segs = append(segs, lower.LowerExpr(a))
	}
	out := &hir.Expr{Span: call.Span(), Kind: hir.ExprKindTemplate, TemplateSegments: segs}
	e.macroCacheSet(key, out)
	return out, nil
}

// ExpandFormatArgs lowers `format_args!("a = {}, b = {}", a, b)`: the
// first argument must be a string literal template split on `{}`
// placeholders; the rest are captured value arguments (spec
// SPEC_FULL.md supplemented feature #2, grounded on
// original_source/crates/rune/src/runtime/format.rs).
func (e *Engine) ExpandFormatArgs(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	key := e.callSiteKey(call)
	if cached, ok := e.macroCacheGet(key); ok {
		return cached, nil
	}
	if len(call.Args) == 0 {
		return nil, diag.New(diag.KindArgCountMismatch, call.Span(), "format_args! requires a template string argument")
	}
	lit, ok := call.Args[0].(*ast.Lit)
	if !ok || lit.Kind != ast.LitString {
		return nil, diag.New(diag.KindTypeMismatch, call.Span(), "format_args! first argument must be a string literal")
	}
	segments := strings.Split(lit.Text, "{}")
	placeholders := len(segments) - 1
	if placeholders != len(call.Args)-1 {
		return nil, diag.New(diag.KindArgCountMismatch, call.Span(),
			"format_args! template has %d placeholder(s) but %d argument(s) were given", placeholders, len(call.Args)-1)
	}
	args := make([]*hir.Expr, 0, placeholders)
	for _, a := range call.Args[1:] {
		args = append(args, lower.LowerExpr(a))
	}
	out := &hir.Expr{Span: call.Span(), Kind: hir.ExprKindFormat, FormatSegments: segments, FormatArgs: args}
	e.macroCacheSet(key, out)
	return out, nil
}

// ExpandFile lowers `file!()` to the enclosing source's registered name.
func (e *Engine) ExpandFile(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	name := e.sources.Name(lower.SourceId())
	return &hir.Expr{Span: call.Span(), Kind: hir.ExprKindLit, Lit: &hir.Lit{Kind: hir.LitString, Str: name}}, nil
}

// ExpandLine lowers `line!()` to the 1-based source line of the call site.
func (e *Engine) ExpandLine(call *ast.MacroCall, lower hir.ExprLowerer) (*hir.Expr, error) {
	line, _ := e.sources.LineCol(lower.SourceId(), call.Span())
	return &hir.Expr{Span: call.Span(), Kind: hir.ExprKindLit, Lit: &hir.Lit{Kind: hir.LitInteger, Int: int64(line)}}, nil
}

// macroCache memoizes expansions by call-site key (spec §4.F).
func (e *Engine) macroCacheGet(key string) (*hir.Expr, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.macroCache == nil {
		return nil, false
	}
	return e.macroCache.Get(key)
}

func (e *Engine) macroCacheSet(key string, v *hir.Expr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.macroCache == nil {
		e.macroCache = alloc.TryNewMap[string, *hir.Expr](nil)
	}
	_ = e.macroCache.TryInsert(key, v)
}
