package ast

import (
	"strconv"
	"strings"

	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/lexer"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/token"
)

// Peeker provides k=3 lookahead by kind over a Lexer, skipping trivia
// (spec §4.D).
type Peeker struct {
	lex  *lexer.Lexer
	buf  []token.Token
}

func newPeeker(lex *lexer.Lexer) *Peeker {
	return &Peeker{lex: lex}
}

func (p *Peeker) fill(n int) {
	for len(p.buf) <= n {
		t := p.lex.Next()
		if t.Kind == token.Whitespace || t.Kind == token.Comment {
			continue
		}
		p.buf = append(p.buf, t)
		if t.Kind == token.EOF {
			// pad so further fills don't re-read past EOF
			for len(p.buf) <= n {
				p.buf = append(p.buf, t)
			}
		}
	}
}

// Peek returns the kind of the token n positions ahead (0 = next).
func (p *Peeker) Peek(n int) token.Kind {
	if n > 2 {
		n = 2
	}
	p.fill(n)
	return p.buf[n].Kind
}

func (p *Peeker) PeekTok(n int) token.Token {
	if n > 2 {
		n = 2
	}
	p.fill(n)
	return p.buf[n]
}

func (p *Peeker) bump() token.Token {
	p.fill(0)
	t := p.buf[0]
	p.buf = p.buf[1:]
	return t
}

// Parser implements recursive-descent parsing with a Peeker (spec §4.D).
// Every node type's construction goes through a `parseX` method that plays
// the role of the source's `Parse` trait implementation.
type Parser struct {
	sources *source.Sources
	id      source.SourceId
	lex     *lexer.Lexer
	pk      *Peeker
	errs    []*diag.Diagnostic
	pendingDocs []string
}

// New returns a Parser over the given registered source.
func New(sources *source.Sources, id source.SourceId) *Parser {
	lex := lexer.New(sources, id)
	return &Parser{sources: sources, id: id, lex: lex, pk: newPeeker(lex)}
}

func (p *Parser) Errors() []*diag.Diagnostic { return p.errs }

func (p *Parser) errorf(span source.Span, kind diag.Kind, format string, args ...interface{}) {
	p.errs = append(p.errs, diag.New(kind, span, format, args...))
}

func (p *Parser) expect(k token.Kind) token.Token {
	t := p.pk.PeekTok(0)
	if t.Kind != k {
		p.errorf(t.Span, diag.KindUnexpectedToken, "expected %v, got %v", k, t.Kind)
		return t
	}
	return p.pk.bump()
}

func (p *Parser) lexeme(t token.Token) string {
	if t.LitSource == token.LitSourceSynthetic {
		return p.lex.Synthetic(t.SyntheticID)
	}
	return p.sources.Slice(p.id, t.Span)
}

// ParseFile parses a complete top-level item sequence.
func (p *Parser) ParseFile() *File {
	start := p.pk.PeekTok(0).Span
	var items []Item
	for p.pk.Peek(0) != token.EOF {
		it := p.parseItem()
		if it == nil {
			p.pk.bump() // avoid infinite loop on unparseable token
			continue
		}
		items = append(items, it)
	}
	end := p.pk.PeekTok(0).Span
	return &File{baseNode: baseNode{span: start.Join(end)}, Items: items}
}

func (p *Parser) collectDocs() {
	for p.pk.Peek(0) == token.Pound {
		save := p.pk.buf
		p.pk.bump()
		inner := false
		if p.pk.Peek(0) == token.Bang {
			inner = true
			p.pk.bump()
		}
		if p.pk.Peek(0) != token.LBracket {
			p.pk.buf = save
			return
		}
		p.pk.bump()
		nameTok := p.pk.bump() // `doc`
		if p.lexeme(nameTok) != "doc" || p.pk.Peek(0) != token.Eq {
			p.pk.buf = save
			return
		}
		p.pk.bump()
		strTok := p.pk.bump()
		p.pendingDocs = append(p.pendingDocs, p.lexeme(strTok))
		p.expect(token.RBracket)
		_ = inner
	}
}

func (p *Parser) takeDocs() []string {
	d := p.pendingDocs
	p.pendingDocs = nil
	return d
}

func (p *Parser) parseVisibility() Visibility {
	if p.pk.Peek(0) == token.KwPub {
		p.pk.bump()
		return VisPublic
	}
	return VisInherited
}

func (p *Parser) parseItem() Item {
	p.collectDocs()
	docs := p.takeDocs()
	vis := p.parseVisibility()
	switch p.pk.Peek(0) {
	case token.KwFn:
		return p.parseFn(vis, FnPlain, docs)
	case token.KwAsync:
		p.pk.bump()
		p.expect(token.KwFn)
		return p.parseFnAfterKeyword(vis, FnAsync, docs)
	case token.KwConst:
		save := p.pk.buf
		p.pk.bump()
		if p.pk.Peek(0) == token.KwFn {
			p.pk.bump()
			return p.parseFnAfterKeyword(vis, FnConst, docs)
		}
		p.pk.buf = save
		return p.parseConst(vis, docs)
	case token.KwStruct:
		return p.parseStruct(vis, docs)
	case token.KwEnum:
		return p.parseEnum(vis, docs)
	case token.KwImpl:
		return p.parseImpl()
	case token.KwMod:
		return p.parseMod(vis, docs)
	case token.KwUse:
		return p.parseUse(vis)
	default:
		t := p.pk.PeekTok(0)
		p.errorf(t.Span, diag.KindUnexpectedToken, "expected item, got %v", t.Kind)
		return nil
	}
}

func (p *Parser) parseFn(vis Visibility, kind FnKind, docs []string) *ItemFn {
	p.expect(token.KwFn)
	return p.parseFnAfterKeyword(vis, kind, docs)
}

func (p *Parser) parseFnAfterKeyword(vis Visibility, kind FnKind, docs []string) *ItemFn {
	start := p.pk.PeekTok(0).Span
	nameTok := p.expect(token.Ident)
	name := p.lexeme(nameTok)
	p.expect(token.LParen)
	var params []FnParam
	for p.pk.Peek(0) != token.RParen && p.pk.Peek(0) != token.EOF {
		pat := p.parsePattern()
		params = append(params, FnParam{Pattern: pat})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	p.expect(token.RParen)
	body := p.parseBlock(BlockPlain)
	return &ItemFn{
		itemBase: itemBase{baseNode{span: start.Join(body.Span())}},
		Vis:      vis, Name: name, Params: params, Body: body, Kind: kind, Docs: docs,
	}
}

func (p *Parser) parseConst(vis Visibility, docs []string) *ItemConst {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwConst)
	nameTok := p.expect(token.Ident)
	p.expect(token.Eq)
	value := p.parseExpr()
	end := value.Span()
	if p.pk.Peek(0) == token.Semi {
		end = p.pk.bump().Span
	}
	return &ItemConst{itemBase: itemBase{baseNode{span: start.Join(end)}}, Vis: vis, Name: p.lexeme(nameTok), Value: value, Docs: docs}
}

func (p *Parser) parseStructFields() ([]StructFieldDecl, bool) {
	if p.pk.Peek(0) == token.Semi {
		p.pk.bump()
		return nil, false
	}
	tuple := p.pk.Peek(0) == token.LParen
	open, close_ := token.LBrace, token.RBrace
	if tuple {
		open, close_ = token.LParen, token.RParen
	}
	p.expect(open)
	var fields []StructFieldDecl
	idx := 0
	for p.pk.Peek(0) != close_ && p.pk.Peek(0) != token.EOF {
		p.collectDocs()
		p.takeDocs()
		if tuple {
			fields = append(fields, StructFieldDecl{Name: strconv.Itoa(idx)})
			idx++
		} else {
			nameTok := p.expect(token.Ident)
			fields = append(fields, StructFieldDecl{Name: p.lexeme(nameTok)})
		}
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	p.expect(close_)
	if tuple && p.pk.Peek(0) == token.Semi {
		p.pk.bump()
	}
	return fields, tuple
}

func (p *Parser) parseStruct(vis Visibility, docs []string) *ItemStruct {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwStruct)
	nameTok := p.expect(token.Ident)
	fields, tuple := p.parseStructFields()
	return &ItemStruct{itemBase: itemBase{baseNode{span: start}}, Vis: vis, Name: p.lexeme(nameTok), Fields: fields, Tuple: tuple, Docs: docs}
}

func (p *Parser) parseEnum(vis Visibility, docs []string) *ItemEnum {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwEnum)
	nameTok := p.expect(token.Ident)
	p.expect(token.LBrace)
	var variants []EnumVariant
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		p.collectDocs()
		p.takeDocs()
		vnameTok := p.expect(token.Ident)
		var fields []StructFieldDecl
		tuple := false
		if p.pk.Peek(0) == token.LParen || p.pk.Peek(0) == token.LBrace {
			fields, tuple = p.parseStructFields()
		}
		variants = append(variants, EnumVariant{Name: p.lexeme(vnameTok), Fields: fields, Tuple: tuple})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	p.expect(token.RBrace)
	return &ItemEnum{itemBase: itemBase{baseNode{span: start}}, Vis: vis, Name: p.lexeme(nameTok), Variants: variants, Docs: docs}
}

func (p *Parser) parseImpl() *ItemImpl {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwImpl)
	nameTok := p.expect(token.Ident)
	p.expect(token.LBrace)
	var fns []*ItemFn
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		p.collectDocs()
		docs := p.takeDocs()
		vis := p.parseVisibility()
		fns = append(fns, p.parseFn(vis, FnPlain, docs))
	}
	p.expect(token.RBrace)
	return &ItemImpl{itemBase: itemBase{baseNode{span: start}}, Target: p.lexeme(nameTok), Fns: fns}
}

func (p *Parser) parseMod(vis Visibility, docs []string) *ItemMod {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwMod)
	nameTok := p.expect(token.Ident)
	p.expect(token.LBrace)
	var items []Item
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		it := p.parseItem()
		if it != nil {
			items = append(items, it)
		}
	}
	p.expect(token.RBrace)
	return &ItemMod{itemBase: itemBase{baseNode{span: start}}, Vis: vis, Name: p.lexeme(nameTok), Items: items, Docs: docs}
}

func (p *Parser) parsePath() Path {
	start := p.pk.PeekTok(0).Span
	var segs []string
	for {
		switch p.pk.Peek(0) {
		case token.KwSelf:
			segs = append(segs, "self")
			p.pk.bump()
		case token.KwSuper:
			segs = append(segs, "super")
			p.pk.bump()
		case token.KwCrate:
			segs = append(segs, "crate")
			p.pk.bump()
		default:
			t := p.expect(token.Ident)
			segs = append(segs, p.lexeme(t))
		}
		if p.pk.Peek(0) != token.ColonColon {
			break
		}
		p.pk.bump()
	}
	return Path{exprBase: exprBase{baseNode{span: start}}, Segments: segs}
}

func (p *Parser) parseUse(vis Visibility) *ItemUse {
	start := p.pk.PeekTok(0).Span
	p.expect(token.KwUse)
	path := p.parsePath()
	alias := ""
	if p.pk.Peek(0) == token.KwAs {
		p.pk.bump()
		alias = p.lexeme(p.expect(token.Ident))
	}
	if p.pk.Peek(0) == token.Semi {
		p.pk.bump()
	}
	return &ItemUse{itemBase: itemBase{baseNode{span: start}}, Vis: vis, Path: path, As: alias}
}

// ---- Patterns ----

func (p *Parser) parsePattern() Pattern {
	switch p.pk.Peek(0) {
	case token.Ident:
		if p.lexeme(p.pk.PeekTok(0)) == "_" {
			t := p.pk.bump()
			return &PatWildcard{patBase{baseNode{span: t.Span}}}
		}
		t := p.pk.bump()
		return &PatIdent{patBase{baseNode{span: t.Span}}, p.lexeme(t)}
	case token.LParen:
		start := p.pk.bump().Span
		var elems []Pattern
		for p.pk.Peek(0) != token.RParen && p.pk.Peek(0) != token.EOF {
			elems = append(elems, p.parsePattern())
			if p.pk.Peek(0) == token.Comma {
				p.pk.bump()
			}
		}
		end := p.expect(token.RParen).Span
		return &PatTuple{patBase{baseNode{span: start.Join(end)}}, elems}
	case token.Pound:
		return p.parseObjectPattern()
	case token.Number, token.Str, token.KwTrue, token.KwFalse:
		lit := p.parseLit()
		return &PatLit{patBase{baseNode{span: lit.Span()}}, lit}
	default:
		t := p.pk.PeekTok(0)
		p.errorf(t.Span, diag.KindUnexpectedToken, "expected pattern, got %v", t.Kind)
		p.pk.bump()
		return &PatWildcard{patBase{baseNode{span: t.Span}}}
	}
}

func (p *Parser) parseObjectPattern() Pattern {
	start := p.pk.bump().Span // '#'
	p.expect(token.LBrace)
	var fields []PatVecObjectField
	rest := false
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		if p.pk.Peek(0) == token.DotDot {
			p.pk.bump()
			rest = true
			break
		}
		nameTok := p.expect(token.Ident)
		name := p.lexeme(nameTok)
		var pat Pattern
		if p.pk.Peek(0) == token.Colon {
			p.pk.bump()
			pat = p.parsePattern()
		}
		fields = append(fields, PatVecObjectField{Name: name, Pattern: pat})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	end := p.expect(token.RBrace).Span
	return &PatObject{patBase{baseNode{span: start.Join(end)}}, fields, rest}
}

// ---- Expressions: precedence climbing (spec §4.D) ----

type assoc int

const (
	assocLeft assoc = iota
	assocRight
)

type opInfo struct {
	prec  int
	assoc assoc
	op    BinOp
}

// binOps is the fixed operator precedence table: assignment is
// right-associative and lowest; arithmetic/bit/compare/logical are
// left-associative, with precedence rising from the top of the table to
// the bottom (spec §4.D).
var binOps = map[token.Kind]opInfo{
	token.Eq:         {1, assocRight, OpAssign},
	token.PlusEq:     {1, assocRight, OpAddAssign},
	token.MinusEq:    {1, assocRight, OpSubAssign},
	token.StarEq:     {1, assocRight, OpMulAssign},
	token.SlashEq:    {1, assocRight, OpDivAssign},
	token.PercentEq:  {1, assocRight, OpRemAssign},
	token.AmpEq:      {1, assocRight, OpBitAndAssign},
	token.PipeEq:     {1, assocRight, OpBitOrAssign},
	token.CaretEq:    {1, assocRight, OpBitXorAssign},
	token.ShlEq:      {1, assocRight, OpShlAssign},
	token.ShrEq:      {1, assocRight, OpShrAssign},
	token.DotDot:        {2, assocLeft, OpRange},
	token.DotDotEq:      {2, assocLeft, OpRangeInclusive},
	token.PipePipe:   {3, assocLeft, OpOr},
	token.AmpAmp:     {4, assocLeft, OpAnd},
	token.EqEq:       {5, assocLeft, OpEq},
	token.Ne:         {5, assocLeft, OpNe},
	token.Lt:         {6, assocLeft, OpLt},
	token.Le:         {6, assocLeft, OpLe},
	token.Gt:         {6, assocLeft, OpGt},
	token.Ge:         {6, assocLeft, OpGe},
	token.Pipe:       {7, assocLeft, OpBitOr},
	token.Caret:      {8, assocLeft, OpBitXor},
	token.Amp:        {9, assocLeft, OpBitAnd},
	token.Shl:        {10, assocLeft, OpShl},
	token.Shr:        {10, assocLeft, OpShr},
	token.Plus:       {11, assocLeft, OpAdd},
	token.Minus:      {11, assocLeft, OpSub},
	token.Star:       {12, assocLeft, OpMul},
	token.Slash:      {12, assocLeft, OpDiv},
	token.Percent:    {12, assocLeft, OpRem},
}

func (p *Parser) parseExpr() Expr { return p.parseBinary(0) }

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		info, ok := binOps[p.pk.Peek(0)]
		if !ok || info.prec < minPrec {
			break
		}
		p.pk.bump()
		nextMin := info.prec + 1
		if info.assoc == assocRight {
			nextMin = info.prec
		}
		right := p.parseBinary(nextMin)
		left = &Binary{exprBase{baseNode{span: left.Span().Join(right.Span())}}, info.op, left, right}
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	switch p.pk.Peek(0) {
	case token.Minus:
		start := p.pk.bump().Span
		e := p.parseUnary()
		return &Unary{exprBase{baseNode{span: start.Join(e.Span())}}, OpNeg, e}
	case token.Bang, token.KwNot:
		start := p.pk.bump().Span
		e := p.parseUnary()
		return &Unary{exprBase{baseNode{span: start.Join(e.Span())}}, OpNot, e}
	default:
		return p.parsePostfix(p.parsePrimary())
	}
}

func (p *Parser) parsePostfix(e Expr) Expr {
	for {
		switch p.pk.Peek(0) {
		case token.Dot:
			p.pk.bump()
			if p.pk.Peek(0) == token.Number {
				idxTok := p.pk.bump()
				n, _ := strconv.Atoi(p.lexeme(idxTok))
				e = &TupleIndex{exprBase{baseNode{span: e.Span().Join(idxTok.Span)}}, e, n}
				continue
			}
			if p.pk.Peek(0) == token.KwAwait {
				awTok := p.pk.bump()
				e = &Await{exprBase{baseNode{span: e.Span().Join(awTok.Span)}}, e}
				continue
			}
			nameTok := p.expect(token.Ident)
			name := p.lexeme(nameTok)
			if p.pk.Peek(0) == token.LParen {
				args, end := p.parseArgs()
				e = &Call{exprBase{baseNode{span: e.Span().Join(end)}}, &FieldAccess{exprBase{baseNode{span: e.Span().Join(nameTok.Span)}}, e, name}, args}
			} else {
				e = &FieldAccess{exprBase{baseNode{span: e.Span().Join(nameTok.Span)}}, e, name}
			}
		case token.LParen:
			args, end := p.parseArgs()
			e = &Call{exprBase{baseNode{span: e.Span().Join(end)}}, e, args}
		case token.LBracket:
			p.pk.bump()
			key := p.parseExpr()
			end := p.expect(token.RBracket).Span
			e = &Index{exprBase{baseNode{span: e.Span().Join(end)}}, e, key}
		case token.Question:
			t := p.pk.bump()
			e = &Unary{exprBase{baseNode{span: e.Span().Join(t.Span)}}, OpTry, e}
		default:
			return e
		}
	}
}

func (p *Parser) parseArgs() ([]Expr, source.Span) {
	p.expect(token.LParen)
	var args []Expr
	for p.pk.Peek(0) != token.RParen && p.pk.Peek(0) != token.EOF {
		args = append(args, p.parseExpr())
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	end := p.expect(token.RParen).Span
	return args, end
}

func (p *Parser) parseLit() *Lit {
	t := p.pk.bump()
	switch t.Kind {
	case token.Number:
		text := p.lexeme(t)
		if strings.ContainsAny(text, ".eE") && !strings.HasPrefix(text, "0x") {
			return &Lit{exprBase{baseNode{span: t.Span}}, LitFloat, text, nil}
		}
		return &Lit{exprBase{baseNode{span: t.Span}}, LitInteger, text, nil}
	case token.Str:
		if t.LitSource == token.LitSourceSynthetic {
			s := p.lex.Synthetic(t.SyntheticID)
			return &Lit{exprBase{baseNode{span: t.Span}}, LitString, "", &s}
		}
		return &Lit{exprBase{baseNode{span: t.Span}}, LitString, p.lexeme(t), nil}
	case token.ByteStr:
		return &Lit{exprBase{baseNode{span: t.Span}}, LitByteString, p.lexeme(t), nil}
	case token.Char:
		return &Lit{exprBase{baseNode{span: t.Span}}, LitChar, p.lexeme(t), nil}
	case token.KwTrue:
		return &Lit{exprBase{baseNode{span: t.Span}}, LitBool, "true", nil}
	case token.KwFalse:
		return &Lit{exprBase{baseNode{span: t.Span}}, LitBool, "false", nil}
	default:
		p.errorf(t.Span, diag.KindUnexpectedToken, "expected literal, got %v", t.Kind)
		return &Lit{exprBase{baseNode{span: t.Span}}, LitUnit, "", nil}
	}
}

func (p *Parser) parsePrimary() Expr {
	t := p.pk.PeekTok(0)
	switch t.Kind {
	case token.Number, token.Str, token.ByteStr, token.Char, token.KwTrue, token.KwFalse:
		return p.parseLit()
	case token.Ident, token.KwSelf, token.KwSuper, token.KwCrate:
		path := p.parsePath()
		if len(path.Segments) == 1 {
			if p.pk.Peek(0) == token.LBrace && p.canStartStructLit() {
				return p.parseStructLit(path)
			}
			return &Ident{exprBase{baseNode{span: path.Span()}}, path.Segments[0]}
		}
		if p.pk.Peek(0) == token.LBrace && p.canStartStructLit() {
			return p.parseStructLit(path)
		}
		return &path
	case token.LParen:
		start := p.pk.bump().Span
		if p.pk.Peek(0) == token.RParen {
			end := p.pk.bump().Span
			return &Lit{exprBase{baseNode{span: start.Join(end)}}, LitUnit, "()", nil}
		}
		first := p.parseExpr()
		if p.pk.Peek(0) == token.Comma {
			elems := []Expr{first}
			for p.pk.Peek(0) == token.Comma {
				p.pk.bump()
				if p.pk.Peek(0) == token.RParen {
					break
				}
				elems = append(elems, p.parseExpr())
			}
			end := p.expect(token.RParen).Span
			return &TupleLit{exprBase{baseNode{span: start.Join(end)}}, elems}
		}
		end := p.expect(token.RParen).Span
		_ = end
		return first
	case token.LBracket:
		start := p.pk.bump().Span
		var elems []Expr
		for p.pk.Peek(0) != token.RBracket && p.pk.Peek(0) != token.EOF {
			elems = append(elems, p.parseExpr())
			if p.pk.Peek(0) == token.Comma {
				p.pk.bump()
			}
		}
		end := p.expect(token.RBracket).Span
		return &VecLit{exprBase{baseNode{span: start.Join(end)}}, elems}
	case token.Pound:
		return p.parseObjectLit()
	case token.LBrace:
		return p.parseBlock(BlockPlain)
	case token.KwIf:
		return p.parseIf()
	case token.KwMatch:
		return p.parseMatch()
	case token.KwFor:
		return p.parseFor("")
	case token.KwWhile:
		return p.parseWhile("")
	case token.KwLoop:
		return p.parseLoop("")
	case token.Label:
		label := p.lexeme(t)
		p.pk.bump()
		p.expect(token.Colon)
		switch p.pk.Peek(0) {
		case token.KwFor:
			return p.parseFor(label)
		case token.KwWhile:
			return p.parseWhile(label)
		case token.KwLoop:
			return p.parseLoop(label)
		default:
			return p.parseExpr()
		}
	case token.KwBreak:
		start := p.pk.bump().Span
		label := ""
		if p.pk.Peek(0) == token.Label {
			label = p.lexeme(p.pk.bump())
		}
		var val Expr
		if !p.exprTerminator() {
			val = p.parseExpr()
		}
		end := start
		if val != nil {
			end = val.Span()
		}
		return &Break{exprBase{baseNode{span: start.Join(end)}}, label, val}
	case token.KwContinue:
		start := p.pk.bump().Span
		label := ""
		if p.pk.Peek(0) == token.Label {
			label = p.lexeme(p.pk.bump())
		}
		return &Continue{exprBase{baseNode{span: start}}, label}
	case token.KwReturn:
		start := p.pk.bump().Span
		var val Expr
		if !p.exprTerminator() {
			val = p.parseExpr()
		}
		end := start
		if val != nil {
			end = val.Span()
		}
		return &Return{exprBase{baseNode{span: start.Join(end)}}, val}
	case token.KwYield:
		start := p.pk.bump().Span
		var val Expr
		if !p.exprTerminator() {
			val = p.parseExpr()
		}
		return &Yield{exprBase{baseNode{span: start}}, val}
	case token.KwAsync:
		start := p.pk.bump().Span
		move := false
		if p.pk.Peek(0) == token.KwMove {
			p.pk.bump()
			move = true
		}
		if p.pk.Peek(0) == token.Pipe || p.pk.Peek(0) == token.PipePipe {
			return p.parseClosure(true, move)
		}
		b := p.parseBlock(BlockAsync)
		b.span = start.Join(b.Span())
		return b
	case token.KwMove:
		p.pk.bump()
		return p.parseClosure(false, true)
	case token.Pipe, token.PipePipe:
		return p.parseClosure(false, false)
	case token.BangTemplate, token.BangFormat, token.BangFile, token.BangLine:
		return p.parseMacroCall()
	default:
		p.errorf(t.Span, diag.KindUnexpectedToken, "expected expression, got %v", t.Kind)
		p.pk.bump()
		return &Lit{exprBase{baseNode{span: t.Span}}, LitUnit, "", nil}
	}
}

func (p *Parser) canStartStructLit() bool {
	// Lookahead heuristic on the tokens after the `{` (the current token):
	// `{}`, `{ name: ...`, `{ name, ...` and `{ name }` start a struct
	// literal; anything else (e.g. the bodies in `for x in xs { n = 1; }`
	// or `match m { #{a} => a }`) is left to the caller as a block. The
	// check does not know its context, so a head such as `if x { y }` or
	// `while x {}` is also read as a struct literal.
	switch p.pk.Peek(1) {
	case token.RBrace:
		return true
	case token.Ident:
		switch p.pk.Peek(2) {
		case token.Colon, token.Comma, token.RBrace:
			return true
		}
	}
	return false
}

func (p *Parser) parseStructLit(path Path) Expr {
	start := path.Span()
	p.expect(token.LBrace)
	var fields []ObjectField
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		nameTok := p.expect(token.Ident)
		name := p.lexeme(nameTok)
		var val Expr
		if p.pk.Peek(0) == token.Colon {
			p.pk.bump()
			val = p.parseExpr()
		}
		fields = append(fields, ObjectField{Name: name, Value: val})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	end := p.expect(token.RBrace).Span
	return &StructLit{exprBase{baseNode{span: start.Join(end)}}, path, fields}
}

func (p *Parser) parseObjectLit() Expr {
	start := p.pk.bump().Span // '#'
	p.expect(token.LBrace)
	var fields []ObjectField
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		nameTok := p.expect(token.Ident)
		name := p.lexeme(nameTok)
		var val Expr
		if p.pk.Peek(0) == token.Colon {
			p.pk.bump()
			val = p.parseExpr()
		}
		fields = append(fields, ObjectField{Name: name, Value: val})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	end := p.expect(token.RBrace).Span
	return &ObjectLit{exprBase{baseNode{span: start.Join(end)}}, fields}
}

func (p *Parser) parseMacroCall() Expr {
	t := p.pk.bump()
	var kind MacroKind
	switch t.Kind {
	case token.BangTemplate:
		kind = MacroTemplate
	case token.BangFormat:
		kind = MacroFormatArgs
	case token.BangFile:
		kind = MacroFile
	case token.BangLine:
		kind = MacroLine
	}
	args, end := p.parseArgs()
	return &MacroCall{exprBase{baseNode{span: t.Span.Join(end)}}, kind, args}
}

func (p *Parser) exprTerminator() bool {
	switch p.pk.Peek(0) {
	case token.Semi, token.RBrace, token.RParen, token.RBracket, token.Comma, token.EOF:
		return true
	}
	return false
}

func (p *Parser) parseClosure(async, move bool) Expr {
	start := p.pk.PeekTok(0).Span
	var params []ClosureParam
	if p.pk.Peek(0) == token.PipePipe {
		p.pk.bump()
	} else {
		p.expect(token.Pipe)
		for p.pk.Peek(0) != token.Pipe && p.pk.Peek(0) != token.EOF {
			params = append(params, ClosureParam{Pattern: p.parsePattern()})
			if p.pk.Peek(0) == token.Comma {
				p.pk.bump()
			}
		}
		p.expect(token.Pipe)
	}
	body := p.parseExpr()
	return &Closure{exprBase{baseNode{span: start.Join(body.Span())}}, params, body, move, async}
}

func (p *Parser) parseIf() Expr {
	start := p.pk.bump().Span // 'if'
	var arms []IfArm
	cond := p.parseExpr()
	body := p.parseBlock(BlockPlain)
	arms = append(arms, IfArm{Cond: cond, Body: body})
	end := body.Span()
	for p.pk.Peek(0) == token.KwElse {
		p.pk.bump()
		if p.pk.Peek(0) == token.KwIf {
			p.pk.bump()
			c := p.parseExpr()
			b := p.parseBlock(BlockPlain)
			arms = append(arms, IfArm{Cond: c, Body: b})
			end = b.Span()
		} else {
			b := p.parseBlock(BlockPlain)
			arms = append(arms, IfArm{Cond: nil, Body: b})
			end = b.Span()
			break
		}
	}
	return &If{exprBase{baseNode{span: start.Join(end)}}, arms}
}

func (p *Parser) parseMatch() Expr {
	start := p.pk.bump().Span // 'match'
	target := p.parseExpr()
	p.expect(token.LBrace)
	var arms []MatchArm
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		pat := p.parsePattern()
		var guard Expr
		if p.pk.Peek(0) == token.KwIf {
			p.pk.bump()
			guard = p.parseExpr()
		}
		p.expect(token.FatArrow)
		body := p.parseExpr()
		arms = append(arms, MatchArm{Pattern: pat, Guard: guard, Body: body})
		if p.pk.Peek(0) == token.Comma {
			p.pk.bump()
		}
	}
	end := p.expect(token.RBrace).Span
	return &Match{exprBase{baseNode{span: start.Join(end)}}, target, arms}
}

func (p *Parser) parseFor(label string) Expr {
	start := p.pk.bump().Span // 'for'
	pat := p.parsePattern()
	p.expect(token.KwIn)
	iter := p.parseExpr()
	body := p.parseBlock(BlockPlain)
	return &For{exprBase{baseNode{span: start.Join(body.Span())}}, pat, iter, body, label}
}

func (p *Parser) parseWhile(label string) Expr {
	start := p.pk.bump().Span // 'while'
	cond := p.parseExpr()
	body := p.parseBlock(BlockPlain)
	return &While{exprBase{baseNode{span: start.Join(body.Span())}}, cond, body, label}
}

func (p *Parser) parseLoop(label string) Expr {
	start := p.pk.bump().Span // 'loop'
	body := p.parseBlock(BlockPlain)
	return &Loop{exprBase{baseNode{span: start.Join(body.Span())}}, body, label}
}

func (p *Parser) parseBlock(kind BlockKind) *Block {
	start := p.expect(token.LBrace).Span
	var stmts []Stmt
	var tail Expr
	for p.pk.Peek(0) != token.RBrace && p.pk.Peek(0) != token.EOF {
		if p.pk.Peek(0) == token.KwLet {
			letStart := p.pk.bump().Span
			pat := p.parsePattern()
			p.expect(token.Eq)
			init := p.parseExpr()
			end := init.Span()
			hasSemi := false
			if p.pk.Peek(0) == token.Semi {
				end = p.pk.bump().Span
				hasSemi = true
			}
			stmts = append(stmts, Stmt{Span: letStart.Join(end), IsLocal: true, Pattern: pat, Init: init, HasSemi: hasSemi})
			continue
		}
		if p.pk.Peek(0) == token.KwFn || p.pk.Peek(0) == token.KwConst || p.pk.Peek(0) == token.KwStruct || p.pk.Peek(0) == token.KwEnum {
			it := p.parseItem()
			if it != nil {
				stmts = append(stmts, Stmt{Span: it.Span(), Item: it})
			}
			continue
		}
		e := p.parseExpr()
		if p.pk.Peek(0) == token.Semi {
			end := p.pk.bump().Span
			stmts = append(stmts, Stmt{Span: e.Span().Join(end), Expr: e, HasSemi: true})
			continue
		}
		if p.pk.Peek(0) == token.RBrace {
			tail = e
			break
		}
		stmts = append(stmts, Stmt{Span: e.Span(), Expr: e})
	}
	end := p.expect(token.RBrace).Span
	return &Block{exprBase{baseNode{span: start.Join(end)}}, kind, stmts, tail}
}
