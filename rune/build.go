package rune

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rune-lang/rune/ast"
	"github.com/rune-lang/rune/compile"
	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/ir"
	"github.com/rune-lang/rune/module"
	"github.com/rune-lang/rune/query"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// Builder drives sources through lexing/parsing/lowering/compilation to
// a linked Unit (spec §6 "Build(sources).with_context(ctx).with_options
// (opts) -> Unit | Diagnostics").
type Builder struct {
	sources *source.Sources
	ctx     *module.Context
	opts    Options
	diags   *diag.Diagnostics
	log     *logrus.Entry
}

// Build starts a build over the given source registry.
func Build(sources *source.Sources) *Builder {
	return &Builder{
		sources: sources,
		opts:    DefaultOptions(),
		diags:   &diag.Diagnostics{},
		log:     logrus.StandardLogger().WithField("component", "rune/build"),
	}
}

func (b *Builder) WithContext(ctx *module.Context) *Builder {
	b.ctx = ctx
	return b
}

func (b *Builder) WithOptions(opts Options) *Builder {
	b.opts = opts
	return b
}

// WithLogger swaps the logrus entry used for per-stage build tracing,
// letting an embedder route it into their own logger/fields.
func (b *Builder) WithLogger(log *logrus.Entry) *Builder {
	b.log = log
	return b
}

// Compile runs the full pipeline for every source registered so far,
// returning a linked Unit or the accumulated Diagnostics.
func (b *Builder) Compile() (*compile.Unit, *diag.Diagnostics) {
	if b.ctx == nil {
		b.ctx = module.NewContext()
		_ = b.ctx.WithModule(module.Std())
	}
	engine := query.NewEngine(b.sources, b.diags)

	// Parsing each source is independent (one *ast.Parser per SourceId,
	// no shared state), so the per-source parse pass runs concurrently via
	// errgroup, the same pattern the pack's beam runner uses to fan out
	// independent per-bundle work (errgroup.WithContext + eg.Go per unit);
	// indexing the parsed files into the (mutex-guarded) query engine and
	// pushing diagnostics happens afterward, in deterministic source order.
	ids := b.sources.AllIDs()
	parsed := make([]*ast.File, len(ids))
	parseErrs := make([][]*diag.Diagnostic, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p := ast.New(b.sources, id)
			parsed[i] = p.ParseFile()
			parseErrs[i] = p.Errors()
			return nil
		})
	}
	_ = g.Wait() // ast.Parser never returns a Go error, only diag.Diagnostics

	files := make(map[source.SourceId]*ast.File, len(ids))
	for i, id := range ids {
		for _, e := range parseErrs[i] {
			b.diags.Push(e)
		}
		files[id] = parsed[i]
		engine.IndexFile(b.sources.Name(id), parsed[i])
	}
	if b.diags.HasErrors() {
		return nil, b.diags
	}

	b.log.WithField("files", len(files)).Debug("parsed and indexed sources")

	rc := b.ctx.Build()
	unit := compile.NewUnit()
	comp := compile.NewCompiler(unit, b.diags, b.opts)

	if err := b.compileConsts(comp, engine, unit, files); err != nil {
		switch e := err.(type) {
		case *diag.Diagnostic:
			b.diags.Push(e)
		case *query.ConstCycleError:
			b.diags.Push(diag.New(diag.KindConstCycle, source.Span{}, "const cycle detected at %q", e.Item))
		default:
			b.diags.Push(diag.New(diag.KindMissingConst, source.Span{}, "%s", err.Error()))
		}
		return nil, b.diags
	}

	compiled := 0
	for id, file := range files {
		for _, item := range file.Items {
			fn, ok := item.(*ast.ItemFn)
			if !ok {
				continue
			}
			if err := b.compileFn(comp, engine, id, fn); err != nil {
				if d, ok := err.(*diag.Diagnostic); ok {
					b.diags.Push(d)
				} else {
					b.diags.Push(diag.New(diag.KindTypeMismatch, source.Span{}, "%s", err.Error()))
				}
				continue
			}
			compiled++
		}
	}
	b.log.WithField("functions", compiled).Debug("lowered and compiled functions")
	if b.diags.HasErrors() {
		b.log.WithField("errors", len(b.diags.Errors())).Warn("build aborted before linking")
		return nil, b.diags
	}

	contextHashes := map[value.Hash]bool{}
	if rc != nil {
		contextHashes = rc.Hashes()
	}
	if err := comp.Finalize(contextHashes); err != nil {
		if d, ok := err.(*diag.Diagnostic); ok {
			b.diags.Push(d)
		} else {
			b.diags.Push(diag.New(diag.KindMissingFunctionHash, source.Span{}, "%s", err.Error()))
		}
		b.log.Warn("link check failed")
		return nil, b.diags
	}
	b.log.WithField("instructions", len(unit.Instructions)).Debug("unit linked")
	return comp.Unit(), b.diags
}

// compileConsts evaluates every top-level const item through the query
// engine's const cache (spec §4.F, §8 property 3 "const cycle" / scenario
// 3), populating both the linked Unit's Constants table and the
// compiler's own lookup so later compilePath calls inline the value
// instead of emitting a dangling OpCall (spec §4.F, §4.H).
func (b *Builder) compileConsts(comp *compile.Compiler, engine *query.Engine, unit *compile.Unit, files map[source.SourceId]*ast.File) error {
	for id, file := range files {
		module := b.sources.Name(id)
		for _, item := range file.Items {
			c, ok := item.(*ast.ItemConst)
			if !ok {
				continue
			}
			itemPath := module + "::" + c.Name
			v, err := engine.QueryConst(c.Span(), itemPath, func(expr ast.Expr) (value.Value, error) {
				return engine.EvalConst(c.Span(), module, expr)
			})
			if err != nil {
				return err
			}
			hash := value.HashString(c.Name)
			_ = unit.Constants.TryInsert(hash, v)
			comp.SetConstant(hash, v)
		}
	}
	return nil
}

func (b *Builder) compileFn(comp *compile.Compiler, engine *query.Engine, id source.SourceId, fn *ast.ItemFn) error {
	arena := hir.NewArena()
	lowerer := hir.NewLowerer(arena, engine, b.diags, id)
	root, err := lowerer.LowerFn(fn)
	if err != nil {
		return err
	}
	_ = root
	if fn.Kind == ast.FnConst {
		// const fns are compiled to IR, not bytecode, and cached lazily by
		// the query engine on first reference (spec §4.F, §4.G); nothing to
		// emit into the Unit here.
		return nil
	}
	_, err = comp.CompileFn(fn.Name, root.Fn)
	return err
}

// ConstFnResolver bridges the query engine's const-fn cache into an
// ir.Interpreter (spec §4.G "ConstFnResolver"), for an embedder building
// its own Interpreter over a Unit's surrounding Engine rather than going
// through const-expression evaluation.
func ConstFnResolver(engine *query.Engine) ir.ConstFnResolver {
	return engine.ConstFnResolver()
}
