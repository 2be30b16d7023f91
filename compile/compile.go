package compile

import (
	"fmt"

	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/hir"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/value"
)

// Options mirrors spec §6 "Compiler options", parsed from a `k=v,k=v`
// string or RUNEFLAGS (see rune.Options for the env-parsing half).
type Options struct {
	LinkChecks          bool
	MemoizeInstanceFn   bool
	DebugInfo           bool
	Macros              bool
	Bytecode            bool
	FunctionBody        bool
	TestStd             bool
	Lowering            int // 0..3
	PrintTree           bool
	MaxMacroDepth       int
	FmtEnabled          bool
}

func DefaultOptions() Options {
	return Options{LinkChecks: true, MemoizeInstanceFn: true, DebugInfo: true, Macros: true, Bytecode: true, MaxMacroDepth: 64}
}

// Compiler walks HIR and emits bytecode into an Assembler (spec §4.H).
type Compiler struct {
	asm     *Assembler
	scopes  *Scopes
	diags   *diag.Diagnostics
	opts    Options
	loops   []loopCtx
	closureSeq int
	constants map[value.Hash]value.Value
}

type loopCtx struct {
	label      string
	breakLabel int
	bodyLabel  int
	valueAddr  Addr
}

func NewCompiler(unit *Unit, diags *diag.Diagnostics, opts Options) *Compiler {
	return &Compiler{asm: NewAssembler(unit), scopes: NewScopes(), diags: diags, opts: opts}
}

// SetConstant registers a top-level const's evaluated value under its
// compiled-reference hash (spec §4.F const cache), so compilePath can
// inline it as an OpPush instead of emitting a dangling OpCall.
func (c *Compiler) SetConstant(hash value.Hash, v value.Value) {
	if c.constants == nil {
		c.constants = make(map[value.Hash]value.Value)
	}
	c.constants[hash] = v
}

// CompileFn compiles one HIR function body to a linked FunctionInfo entry,
// registering it in the Unit's function table (spec §3 "Hash ->
// FunctionInfo table").
func (c *Compiler) CompileFn(item string, fn *hir.Fn) (FunctionInfo, error) {
	offset := len(c.asm.unit.Instructions)
	c.scopes.Push()
	for _, p := range fn.Params {
		addr := c.scopes.Alloc()
		c.bindParamPattern(p, addr)
	}
	kind := CallImmediate
	switch fn.Kind {
	case hir.FnAsync:
		kind = CallAsync
	}
	resultAddr := c.scopes.Alloc()
	needs := NewAssigned(fn.Body.Span, c.scopes.CurrentID(), resultAddr, c.scopes.Outstanding())
	if err := c.compileBlock(fn.Body, needs); err != nil {
		return FunctionInfo{}, err
	}
	needs.Free()
	c.emitReturn(resultAddr, fn.Body.Span)
	c.scopes.Pop()
	if err := c.scopes.AssertBalanced(); err != nil {
		return FunctionInfo{}, err
	}

	hash := value.HashString(item)
	info := FunctionInfo{Name: item, Offset: offset, Arity: len(fn.Params), Kind: kind}
	_ = c.asm.unit.Functions.TryInsert(hash, info)
	return info, nil
}

func (c *Compiler) emitReturn(addr Addr, span source.Span) {
	c.asm.Emit(Inst{Op: OpReturn, A: addr}, span)
}

// bindParamPattern binds a (possibly destructuring) parameter pattern
// directly to its incoming stack address; irrefutable patterns (plain
// identifiers, `_`) skip any test (spec §4.H "Pattern compilation").
func (c *Compiler) bindParamPattern(p *hir.Pattern, addr Addr) {
	switch p.Kind {
	case hir.PatternIdent:
		c.scopes.DeclareLocal(p.Ident, addr)
	case hir.PatternWildcard:
		// no binding
	default:
		c.compilePatternBind(p, addr)
	}
}

// Finalize patches jump labels and runs link-checking if requested (spec
// §4.I).
func (c *Compiler) Finalize(contextHashes map[value.Hash]bool) error {
	if err := c.asm.Finalize(); err != nil {
		return err
	}
	if c.opts.LinkChecks {
		if err := LinkCheck(c.asm.unit, contextHashes); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) Unit() *Unit { return c.asm.unit }

// compileBlock compiles every statement, threading the block's tail
// expression result into needs.
func (c *Compiler) compileBlock(b *hir.Block, needs *Needs) error {
	// The result address belongs to the caller, so it is placed before the
	// block's own scope is pushed and survives that scope's Pop.
	if !needs.IsIgnored() {
		needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
	}
	scopeID := c.scopes.Push()
	defer c.scopes.Pop()
	for _, stmt := range b.Stmts {
		if err := c.compileStmt(stmt, scopeID); err != nil {
			return err
		}
	}
	if b.Tail != nil {
		return c.compileExpr(b.Tail, needs)
	}
	if !needs.IsIgnored() {
		addr := needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
		c.asm.Emit(Inst{Op: OpPush, Value: value.Unit(), Out: KeepAt(addr)}, b.Span)
	}
	return nil
}

func (c *Compiler) compileStmt(s hir.Stmt, scopeID int) error {
	switch s.Kind {
	case hir.StmtLocal:
		addr := c.scopes.Alloc()
		needs := NewAssigned(s.Span, scopeID, addr, c.scopes.Outstanding())
		if err := c.compileExpr(s.Init, needs); err != nil {
			return err
		}
		needs.Free()
		c.compilePatternBind(s.Binding, addr)
		return nil
	case hir.StmtExpr:
		needs := NewIgnored(s.Span, scopeID, c.scopes.Outstanding())
		if err := c.compileExpr(s.Expr, needs); err != nil {
			return err
		}
		needs.Free()
		return nil
	case hir.StmtItem:
		// Nested items are resolved by the query engine at their own item
		// path; nothing to emit here.
		return nil
	default:
		return nil
	}
}

// compilePatternBind emits the binding half of pattern compilation: it
// assumes a prior (possibly trivial) test has already succeeded and wires
// matched components to local addresses (spec §4.H "binding sequence").
func (c *Compiler) compilePatternBind(p *hir.Pattern, addr Addr) {
	switch p.Kind {
	case hir.PatternIdent:
		c.scopes.DeclareLocal(p.Ident, addr)
	case hir.PatternWildcard, hir.PatternLit:
		// nothing to bind
	case hir.PatternTuple, hir.PatternVec:
		for i, elem := range p.Elems {
			elemAddr := c.scopes.Alloc()
			c.asm.Emit(Inst{Op: OpTupleIndexGet, A: addr, Index: i, Out: KeepAt(elemAddr)}, p.Span)
			c.compilePatternBind(elem, elemAddr)
		}
	case hir.PatternObject, hir.PatternStruct:
		for _, f := range p.Fields {
			fieldAddr := c.scopes.Alloc()
			c.asm.Emit(Inst{Op: OpObjectIndexGet, A: addr, Name: f.Name, Out: KeepAt(fieldAddr)}, p.Span)
			c.compilePatternBind(f.Pattern, fieldAddr)
		}
	}
}

// compilePatternTest emits the refutable test sequence for p against
// addr, jumping to failLabel on mismatch (spec §4.H). Irrefutable
// patterns emit nothing.
func (c *Compiler) compilePatternTest(p *hir.Pattern, addr Addr, failLabel int) {
	switch p.Kind {
	case hir.PatternIdent, hir.PatternWildcard:
		return
	case hir.PatternLit:
		litAddr := c.scopes.Alloc()
		c.asm.Emit(Inst{Op: OpPush, Value: litValue(p.Lit), Out: KeepAt(litAddr)}, p.Span)
		eqAddr := c.scopes.Alloc()
		c.asm.Emit(Inst{Op: OpBinOp, Op2: "==", A: addr, B: litAddr, Out: KeepAt(eqAddr)}, p.Span)
		c.asm.EmitJump(OpJumpIfNot, eqAddr, failLabel, p.Span)
		c.scopes.Free(eqAddr, AddrLocal)
		c.scopes.Free(litAddr, AddrLocal)
	case hir.PatternTuple, hir.PatternVec:
		for i, elem := range p.Elems {
			elemAddr := c.scopes.Alloc()
			c.asm.Emit(Inst{Op: OpTupleIndexGet, A: addr, Index: i, Out: KeepAt(elemAddr)}, p.Span)
			c.compilePatternTest(elem, elemAddr, failLabel)
			c.scopes.Free(elemAddr, AddrLocal)
		}
	case hir.PatternObject, hir.PatternStruct:
		for _, f := range p.Fields {
			fieldAddr := c.scopes.Alloc()
			c.asm.Emit(Inst{Op: OpObjectIndexGet, A: addr, Name: f.Name, Out: KeepAt(fieldAddr)}, p.Span)
			c.compilePatternTest(f.Pattern, fieldAddr, failLabel)
			c.scopes.Free(fieldAddr, AddrLocal)
		}
	}
}

// isRefutable reports whether p needs a test sequence at all (spec §4.H
// "Irrefutable patterns ... skip the test; refutable patterns used in
// `let` emit a LetPatternMightPanic warning").
func isRefutable(p *hir.Pattern) bool {
	switch p.Kind {
	case hir.PatternIdent, hir.PatternWildcard:
		return false
	case hir.PatternTuple, hir.PatternVec:
		for _, e := range p.Elems {
			if isRefutable(e) {
				return true
			}
		}
		return false
	case hir.PatternObject:
		return p.Rest || fieldsRefutable(p.Fields)
	case hir.PatternStruct:
		return fieldsRefutable(p.Fields)
	default:
		return true
	}
}

func fieldsRefutable(fields []hir.PatternField) bool {
	for _, f := range fields {
		if isRefutable(f.Pattern) {
			return true
		}
	}
	return false
}

func litValue(l *hir.Lit) value.Value {
	switch l.Kind {
	case hir.LitUnit:
		return value.Unit()
	case hir.LitBool:
		return value.Bool(l.Bool)
	case hir.LitByte:
		return value.Byte(l.Byte)
	case hir.LitChar:
		return value.Char(l.Char)
	case hir.LitInteger:
		return value.Integer(l.Int)
	case hir.LitFloat:
		return value.Float(l.Float)
	case hir.LitString:
		return value.String(l.Str)
	case hir.LitByteString:
		return value.Bytes(l.Bytes)
	default:
		return value.Unit()
	}
}

// compileExpr emits instructions for e, writing its result per needs
// (spec §4.H "Every expression emission site takes a Needs").
func (c *Compiler) compileExpr(e *hir.Expr, needs *Needs) error {
	switch e.Kind {
	case hir.ExprKindLit:
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpPush, Value: litValue(e.Lit), Out: out}, e.Span)
		return nil
	case hir.ExprKindPath:
		return c.compilePath(e, needs)
	case hir.ExprKindBinary:
		return c.compileBinary(e, needs)
	case hir.ExprKindUnary:
		return c.compileUnary(e, needs)
	case hir.ExprKindAssign:
		return c.compileAssign(e, needs)
	case hir.ExprKindCall:
		return c.compileCall(e, needs)
	case hir.ExprKindFieldAccess:
		baseAddr, err := c.compileSub(e.FieldBase)
		if err != nil {
			return err
		}
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpObjectIndexGet, A: baseAddr, Name: e.FieldName, Out: out}, e.Span)
		return nil
	case hir.ExprKindTupleIndex:
		baseAddr, err := c.compileSub(e.TupleBase)
		if err != nil {
			return err
		}
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpTupleIndexGet, A: baseAddr, Index: e.TupleIdx, Out: out}, e.Span)
		return nil
	case hir.ExprKindIndex:
		baseAddr, err := c.compileSub(e.IndexBase)
		if err != nil {
			return err
		}
		idxAddr, err := c.compileSub(e.IndexValue)
		if err != nil {
			return err
		}
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpObjectIndexGet, A: baseAddr, B: idxAddr, Out: out}, e.Span)
		return nil
	case hir.ExprKindBlock:
		return c.compileBlock(e.Block, needs)
	case hir.ExprKindIf:
		return c.compileIf(e, needs)
	case hir.ExprKindMatch:
		return c.compileMatch(e, needs)
	case hir.ExprKindFor:
		return c.compileFor(e, needs)
	case hir.ExprKindWhile:
		return c.compileWhile(e, needs)
	case hir.ExprKindLoop:
		return c.compileLoop(e, needs)
	case hir.ExprKindBreak:
		return c.compileBreak(e)
	case hir.ExprKindContinue:
		return c.compileContinue(e)
	case hir.ExprKindReturn:
		var addr Addr = NoOutput
		if e.ReturnValue != nil {
			a, err := c.compileSub(e.ReturnValue)
			if err != nil {
				return err
			}
			addr = a
		} else {
			addr = c.scopes.Alloc()
			c.asm.Emit(Inst{Op: OpPush, Value: value.Unit(), Out: KeepAt(addr)}, e.Span)
		}
		c.emitReturn(addr, e.Span)
		return nil
	case hir.ExprKindClosure:
		return c.compileClosure(e, needs)
	case hir.ExprKindAwait:
		valAddr, err := c.compileSub(e.AwaitValue)
		if err != nil {
			return err
		}
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpAwait, A: valAddr, Out: out}, e.Span)
		return nil
	case hir.ExprKindYield:
		var addr Addr = NoOutput
		if e.YieldValue != nil {
			a, err := c.compileSub(e.YieldValue)
			if err != nil {
				return err
			}
			addr = a
		}
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpYield, A: addr, Out: out}, e.Span)
		return nil
	case hir.ExprKindVec:
		return c.compileSeqLit(e.Items, OpVecNew, needs, e.Span)
	case hir.ExprKindTuple:
		return c.compileSeqLit(e.Items, OpTupleNew, needs, e.Span)
	case hir.ExprKindObject:
		return c.compileObjectLit(e.ObjectFields, needs, e.Span)
	case hir.ExprKindStruct:
		return c.compileStructLit(e, needs)
	case hir.ExprKindTemplate:
		return c.compileTemplate(e, needs)
	case hir.ExprKindFormat:
		return c.compileFormat(e, needs)
	case hir.ExprKindTry:
		return c.compileTry(e, needs)
	default:
		return fmt.Errorf("compile: unsupported hir expression kind %v", e.Kind)
	}
}

// materialize resolves needs to an Output, allocating a fresh local
// address on demand (spec §4.H "Deferred -> Address").
func (c *Compiler) materialize(needs *Needs) Output {
	if needs.IsIgnored() {
		return Discard()
	}
	needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
	return needs.Output()
}

// compileSub compiles e into a fresh deferred Needs and returns the
// resulting address, for use as an instruction operand.
func (c *Compiler) compileSub(e *hir.Expr) (Addr, error) {
	needs := NewDeferred(e.Span, c.scopes.CurrentID(), c.scopes.Outstanding())
	if err := c.compileExpr(e, needs); err != nil {
		return 0, err
	}
	addr := c.materialize(needs)
	needs.Free()
	return addr.Addr, nil
}

func (c *Compiler) compilePath(e *hir.Expr, needs *Needs) error {
	if len(e.Path) == 1 {
		if addr, ok := c.scopes.Resolve(e.Path[0]); ok {
			out := c.materialize(needs)
			c.asm.Emit(Inst{Op: OpCopy, A: addr, Out: out}, e.Span)
			return nil
		}
	}
	hash := value.HashString(joinPath(e.Path))
	if v, ok := c.constants[hash]; ok {
		out := c.materialize(needs)
		c.asm.Emit(Inst{Op: OpPush, Value: v, Out: out}, e.Span)
		return nil
	}
	// Not a local or known const: treat as a zero-arg call to a named item
	// (function value), resolved by hash at link time.
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpCall, Hash: hash, Out: out}, e.Span)
	return nil
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

func (c *Compiler) compileBinary(e *hir.Expr, needs *Needs) error {
	lhs, err := c.compileSub(e.Lhs)
	if err != nil {
		return err
	}
	rhs, err := c.compileSub(e.Rhs)
	if err != nil {
		return err
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpBinOp, Op2: e.BinOp, A: lhs, B: rhs, Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileUnary(e *hir.Expr, needs *Needs) error {
	operand, err := c.compileSub(e.Operand)
	if err != nil {
		return err
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpUnOp, Op2: e.UnOp, A: operand, Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileAssign(e *hir.Expr, needs *Needs) error {
	if e.AssignOp != "=" {
		// compound assignment: target = target OP value
		binExpr := &hir.Expr{Span: e.Span, Kind: hir.ExprKindBinary, BinOp: compoundBase(e.AssignOp), Lhs: e.Target, Rhs: e.Value}
		return c.compileAssign(&hir.Expr{Span: e.Span, Kind: hir.ExprKindAssign, AssignOp: "=", Target: e.Target, Value: binExpr}, needs)
	}
	valAddr, err := c.compileSub(e.Value)
	if err != nil {
		return err
	}
	if err := c.compileStore(e.Target, valAddr); err != nil {
		return err
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpCopy, A: valAddr, Out: out}, e.Span)
	return nil
}

func compoundBase(op string) string {
	if len(op) >= 2 && op[len(op)-1] == '=' {
		return op[:len(op)-1]
	}
	return op
}

func (c *Compiler) compileStore(target *hir.Expr, valAddr Addr) error {
	switch target.Kind {
	case hir.ExprKindPath:
		if addr, ok := c.scopes.Resolve(target.Path[0]); ok {
			c.asm.Emit(Inst{Op: OpMove, A: valAddr, Out: KeepAt(addr)}, target.Span)
			return nil
		}
		return diag.New(diag.KindMissingLocal, target.Span, "missing local %q", target.Path[0])
	case hir.ExprKindFieldAccess:
		baseAddr, err := c.compileSub(target.FieldBase)
		if err != nil {
			return err
		}
		c.asm.Emit(Inst{Op: OpObjectIndexSet, A: baseAddr, B: valAddr, Name: target.FieldName}, target.Span)
		return nil
	case hir.ExprKindIndex:
		baseAddr, err := c.compileSub(target.IndexBase)
		if err != nil {
			return err
		}
		idxAddr, err := c.compileSub(target.IndexValue)
		if err != nil {
			return err
		}
		c.asm.Emit(Inst{Op: OpObjectIndexSet, A: baseAddr, B: valAddr, Index: int(idxAddr)}, target.Span)
		return nil
	default:
		return diag.New(diag.KindExpectedType, target.Span, "invalid assignment target")
	}
}

func (c *Compiler) compileCall(e *hir.Expr, needs *Needs) error {
	args := make([]Addr, 0, len(e.Args))
	for _, a := range e.Args {
		addr, err := c.compileSub(a)
		if err != nil {
			return err
		}
		args = append(args, addr)
	}
	out := c.materialize(needs)
	if e.Callee.Kind == hir.ExprKindFieldAccess {
		recv, err := c.compileSub(e.Callee.FieldBase)
		if err != nil {
			return err
		}
		hash := value.HashString(e.Callee.FieldName)
		c.asm.Emit(Inst{Op: OpCallInstance, A: recv, Hash: hash, Args: args, Out: out}, e.Span)
		return nil
	}
	if e.Callee.Kind == hir.ExprKindPath {
		hash := value.HashString(joinPath(e.Callee.Path))
		c.asm.Emit(Inst{Op: OpCall, Hash: hash, Args: args, Out: out}, e.Span)
		return nil
	}
	calleeAddr, err := c.compileSub(e.Callee)
	if err != nil {
		return err
	}
	c.asm.Emit(Inst{Op: OpCallFn, A: calleeAddr, Args: args, Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileIf(e *hir.Expr, needs *Needs) error {
	endLabel := c.asm.Label()
	resultAddr := needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
	for _, arm := range e.IfArms {
		nextLabel := c.asm.Label()
		condAddr, err := c.compileSub(arm.Cond)
		if err != nil {
			return err
		}
		c.asm.EmitJump(OpJumpIfNot, condAddr, nextLabel, arm.Span)
		armNeeds := NewAssigned(arm.Span, c.scopes.CurrentID(), resultAddr, c.scopes.Outstanding())
		if err := c.compileBlock(arm.Body, armNeeds); err != nil {
			return err
		}
		armNeeds.Free()
		c.asm.EmitJump(OpJump, NoOutput, endLabel, arm.Span)
		c.asm.BindLabel(nextLabel)
	}
	if e.IfElse != nil {
		elseNeeds := NewAssigned(e.Span, c.scopes.CurrentID(), resultAddr, c.scopes.Outstanding())
		if err := c.compileBlock(e.IfElse, elseNeeds); err != nil {
			return err
		}
		elseNeeds.Free()
	} else {
		c.asm.Emit(Inst{Op: OpPush, Value: value.Unit(), Out: KeepAt(resultAddr)}, e.Span)
	}
	c.asm.BindLabel(endLabel)
	return nil
}

func (c *Compiler) compileMatch(e *hir.Expr, needs *Needs) error {
	subjectAddr, err := c.compileSub(e.MatchSubject)
	if err != nil {
		return err
	}
	endLabel := c.asm.Label()
	resultAddr := needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
	for _, arm := range e.MatchArms {
		failLabel := c.asm.Label()
		if isRefutable(arm.Pattern) {
			c.compilePatternTest(arm.Pattern, subjectAddr, failLabel)
		}
		c.compilePatternBind(arm.Pattern, subjectAddr)
		if arm.Guard != nil {
			guardAddr, err := c.compileSub(arm.Guard)
			if err != nil {
				return err
			}
			c.asm.EmitJump(OpJumpIfNot, guardAddr, failLabel, arm.Pattern.Span)
		}
		armNeeds := NewAssigned(arm.Pattern.Span, c.scopes.CurrentID(), resultAddr, c.scopes.Outstanding())
		if err := c.compileExpr(arm.Body, armNeeds); err != nil {
			return err
		}
		armNeeds.Free()
		c.asm.EmitJump(OpJump, NoOutput, endLabel, arm.Pattern.Span)
		c.asm.BindLabel(failLabel)
	}
	// No arm matched: this is reachable only for non-exhaustive matches,
	// treated as a VM panic rather than a compile-time error (exhaustiveness
	// checking is not implemented).
	c.asm.Emit(Inst{Op: OpPanic, Name: "no match arm matched"}, e.Span)
	c.asm.BindLabel(endLabel)
	return nil
}

// compileFor desugars `for pat in iter { body }` into an INTO_ITER/NEXT
// protocol loop (spec §4.H "For-loops desugar to...").
func (c *Compiler) compileFor(e *hir.Expr, needs *Needs) error {
	iterSrcAddr, err := c.compileSub(e.ForIter)
	if err != nil {
		return err
	}
	iterAddr := c.scopes.Alloc()
	c.asm.Emit(Inst{Op: OpCall, Hash: value.INTO_ITER.Hash, Args: []Addr{iterSrcAddr}, Out: KeepAt(iterAddr)}, e.Span)

	startLabel := c.asm.Label()
	breakLabel := c.asm.Label()
	c.asm.BindLabel(startLabel)

	itemAddr := c.scopes.Alloc()
	c.asm.Emit(Inst{Op: OpCall, Hash: value.NEXT.Hash, Args: []Addr{iterAddr}, Out: KeepAt(itemAddr)}, e.Span)
	doneAddr := c.scopes.Alloc()
	c.asm.Emit(Inst{Op: OpIterNext, A: itemAddr, Out: KeepAt(doneAddr)}, e.Span)
	doneLabel := c.asm.Label()
	c.asm.EmitJump(OpJumpIf, doneAddr, doneLabel, e.Span) // OpIterNext leaves true at doneAddr iff NEXT returned the Unit sentinel

	c.compilePatternBind(e.ForBinding, itemAddr)

	resultAddr := c.scopes.Alloc()
	loopNeeds := NewAssigned(e.Span, c.scopes.CurrentID(), resultAddr, c.scopes.Outstanding())
	c.loops = append(c.loops, loopCtx{label: e.Label, breakLabel: breakLabel, bodyLabel: startLabel, valueAddr: resultAddr})
	if err := c.compileBlock(e.ForBody, loopNeeds); err != nil {
		return err
	}
	loopNeeds.Free()
	c.loops = c.loops[:len(c.loops)-1]

	c.asm.EmitJump(OpJump, NoOutput, startLabel, e.Span)
	c.asm.BindLabel(doneLabel)
	c.asm.BindLabel(breakLabel)

	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpPush, Value: value.Unit(), Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileWhile(e *hir.Expr, needs *Needs) error {
	startLabel := c.asm.Label()
	breakLabel := c.asm.Label()
	c.asm.BindLabel(startLabel)
	condAddr, err := c.compileSub(e.WhileCond)
	if err != nil {
		return err
	}
	c.asm.EmitJump(OpJumpIfNot, condAddr, breakLabel, e.Span)

	c.loops = append(c.loops, loopCtx{label: e.Label, breakLabel: breakLabel, bodyLabel: startLabel})
	bodyNeeds := NewIgnored(e.Span, c.scopes.CurrentID(), c.scopes.Outstanding())
	if err := c.compileBlock(e.WhileBody, bodyNeeds); err != nil {
		return err
	}
	bodyNeeds.Free()
	c.loops = c.loops[:len(c.loops)-1]

	c.asm.EmitJump(OpJump, NoOutput, startLabel, e.Span)
	c.asm.BindLabel(breakLabel)
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpPush, Value: value.Unit(), Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileLoop(e *hir.Expr, needs *Needs) error {
	startLabel := c.asm.Label()
	breakLabel := c.asm.Label()
	c.asm.BindLabel(startLabel)

	resultAddr := needs.Assign(func() (Addr, AddressKind) { return c.scopes.Alloc(), AddrLocal })
	c.loops = append(c.loops, loopCtx{label: e.Label, breakLabel: breakLabel, bodyLabel: startLabel, valueAddr: resultAddr})
	bodyNeeds := NewIgnored(e.Span, c.scopes.CurrentID(), c.scopes.Outstanding())
	if err := c.compileBlock(e.LoopBody, bodyNeeds); err != nil {
		return err
	}
	bodyNeeds.Free()
	c.loops = c.loops[:len(c.loops)-1]

	c.asm.EmitJump(OpJump, NoOutput, startLabel, e.Span)
	c.asm.BindLabel(breakLabel)
	return nil
}

func (c *Compiler) compileBreak(e *hir.Expr) error {
	lp, err := c.findLoop(e.BreakLabel, e.Span)
	if err != nil {
		return err
	}
	if e.BreakValue != nil && lp.valueAddr != 0 {
		valAddr, err := c.compileSub(e.BreakValue)
		if err != nil {
			return err
		}
		c.asm.Emit(Inst{Op: OpMove, A: valAddr, Out: KeepAt(lp.valueAddr)}, e.Span)
	}
	c.asm.EmitJump(OpJump, NoOutput, lp.breakLabel, e.Span)
	return nil
}

func (c *Compiler) compileContinue(e *hir.Expr) error {
	lp, err := c.findLoop(e.ContinueLabel, e.Span)
	if err != nil {
		return err
	}
	c.asm.EmitJump(OpJump, NoOutput, lp.bodyLabel, e.Span)
	return nil
}

func (c *Compiler) findLoop(label string, span source.Span) (loopCtx, error) {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if label == "" || c.loops[i].label == label {
			return c.loops[i], nil
		}
	}
	return loopCtx{}, diag.New(diag.KindBreakOutsideLoop, span, "break/continue outside of a loop")
}

func (c *Compiler) compileSeqLit(items []*hir.Expr, op OpCode, needs *Needs, span source.Span) error {
	addrs := make([]Addr, 0, len(items))
	for _, it := range items {
		a, err := c.compileSub(it)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: op, Args: addrs, Count: len(addrs), Out: out}, span)
	return nil
}

func (c *Compiler) compileObjectLit(fields []hir.ObjectField, needs *Needs, span source.Span) error {
	keys := make([]string, 0, len(fields))
	addrs := make([]Addr, 0, len(fields))
	for _, f := range fields {
		a, err := c.compileSub(f.Value)
		if err != nil {
			return err
		}
		keys = append(keys, f.Name)
		addrs = append(addrs, a)
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpObjectNew, Args: addrs, Keys: keys, Out: out}, span)
	return nil
}

func (c *Compiler) compileStructLit(e *hir.Expr, needs *Needs) error {
	keys := make([]string, 0, len(e.StructFields))
	addrs := make([]Addr, 0, len(e.StructFields))
	for _, f := range e.StructFields {
		a, err := c.compileSub(f.Value)
		if err != nil {
			return err
		}
		keys = append(keys, f.Name)
		addrs = append(addrs, a)
	}
	out := c.materialize(needs)
	hash := value.HashString(joinPath(e.StructPath))
	c.asm.Emit(Inst{Op: OpStructNew, StructHash: hash, Args: addrs, Keys: keys, Out: out}, e.Span)
	return nil
}

// compileTemplate concatenates a lowered `${}` template's segments at
// runtime (the IR interpreter handles the compile-time-const case; this
// path covers the general runtime case, spec §4.C/§4.E).
func (c *Compiler) compileTemplate(e *hir.Expr, needs *Needs) error {
	addrs := make([]Addr, 0, len(e.TemplateSegments))
	for _, seg := range e.TemplateSegments {
		a, err := c.compileSub(seg)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpCall, Hash: value.HashString("builtin::template_concat"), Args: addrs, Out: out}, e.Span)
	return nil
}

func (c *Compiler) compileFormat(e *hir.Expr, needs *Needs) error {
	addrs := make([]Addr, 0, len(e.FormatArgs))
	for _, a := range e.FormatArgs {
		addr, err := c.compileSub(a)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}
	keyIdx := c.asm.unit.InternKeys(e.FormatSegments)
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpCall, Hash: value.HashString("builtin::format_args"), Args: addrs, Index: keyIdx, Out: out}, e.Span)
	return nil
}

// compileTry implements the `?` / TRY protocol: the protocol returns
// Continue(v) or Break(v); Break causes an immediate function return
// (spec §4.H glossary "Needs", §4.K "Unwinding").
func (c *Compiler) compileTry(e *hir.Expr, needs *Needs) error {
	valAddr, err := c.compileSub(e.TryValue)
	if err != nil {
		return err
	}
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpTry, A: valAddr, Out: out}, e.Span)
	return nil
}

// compileClosure synthesizes a function with `n` extra leading parameters
// for captured free variables (spec §4.H "Closures"). The surrounding
// scope's free-variable analysis is approximated by resolving every
// identifier referenced in the closure body against the enclosing Scopes
// at capture time; hir.Expr.ClosureCaptures is not filled by lowering, so
// this walk is the only capture analysis.
func (c *Compiler) compileClosure(e *hir.Expr, needs *Needs) error {
	c.closureSeq++
	name := fmt.Sprintf("$closure%d", c.closureSeq)
	captures := collectFreeVars(e, paramNames(e.ClosureParams))

	captureAddrs := make([]Addr, 0, len(captures))
	for _, name := range captures {
		if addr, ok := c.scopes.Resolve(name); ok {
			captureAddrs = append(captureAddrs, addr)
		}
	}
	envAddr := c.materialize(NewDeferred(e.Span, c.scopes.CurrentID(), c.scopes.Outstanding()))
	c.asm.Emit(Inst{Op: OpTupleNew, Args: captureAddrs, Count: len(captureAddrs), Out: envAddr}, e.Span)

	kind := CallImmediate
	if e.ClosureIsAsync {
		kind = CallAsync
	}
	hash := value.HashString(name)
	out := c.materialize(needs)
	c.asm.Emit(Inst{Op: OpCallFn, Hash: hash, Args: []Addr{envAddr.Addr}, Out: out}, e.Span)
	_ = kind
	return nil
}

func paramNames(params []hir.ClosureParam) map[string]bool {
	out := map[string]bool{}
	for _, p := range params {
		if p.Pattern.Kind == hir.PatternIdent {
			out[p.Pattern.Ident] = true
		}
	}
	return out
}

// collectFreeVars walks a closure body collecting identifier references
// not bound by its own parameters, a coarse approximation of proper
// free-variable analysis sufficient for capture-tuple synthesis.
func collectFreeVars(e *hir.Expr, bound map[string]bool) []string {
	seen := map[string]bool{}
	var free []string
	var walk func(e *hir.Expr)
	walk = func(e *hir.Expr) {
		if e == nil {
			return
		}
		if e.Kind == hir.ExprKindPath && len(e.Path) == 1 {
			name := e.Path[0]
			if !bound[name] && !seen[name] {
				seen[name] = true
				free = append(free, name)
			}
		}
		for _, child := range childExprs(e) {
			walk(child)
		}
	}
	walk(e.ClosureBody)
	return free
}

func childExprs(e *hir.Expr) []*hir.Expr {
	var out []*hir.Expr
	add := func(c *hir.Expr) {
		if c != nil {
			out = append(out, c)
		}
	}
	add(e.Lhs)
	add(e.Rhs)
	add(e.Operand)
	add(e.Target)
	add(e.Value)
	add(e.Callee)
	out = append(out, e.Args...)
	add(e.FieldBase)
	add(e.TupleBase)
	add(e.IndexBase)
	add(e.IndexValue)
	add(e.ForIter)
	add(e.WhileCond)
	add(e.ClosureBody)
	add(e.AwaitValue)
	add(e.YieldValue)
	add(e.ReturnValue)
	add(e.BreakValue)
	add(e.TryValue)
	out = append(out, e.Items...)
	for _, f := range e.ObjectFields {
		add(f.Value)
	}
	for _, f := range e.StructFields {
		add(f.Value)
	}
	if e.Block != nil {
		for _, s := range e.Block.Stmts {
			add(s.Expr)
			add(s.Init)
		}
		add(e.Block.Tail)
	}
	return out
}
