// Package lexer turns one source's byte stream into a lazy token sequence
// (spec §4.C). Structurally it plays the role of the teacher's scanner
// setup (yaegi delegates to go/scanner for Go source); here the scanner is
// hand-rolled because Rune's grammar (template strings, doc-comment
// synthesis, built-in macro sigils) has no stdlib counterpart.
package lexer

import (
	"strings"
	"unicode/utf8"

	"github.com/rune-lang/rune/diag"
	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/token"
)

// Lexer lazily produces tokens from one source's text.
type Lexer struct {
	sources *source.Sources
	id      source.SourceId
	text    string
	pos     int // byte offset, current read position

	// queue holds tokens already computed (by macro/doc-comment/template
	// expansion) waiting to be returned before further scanning resumes.
	queue []token.Token

	// synthetic holds strings referenced by LitSourceSynthetic tokens,
	// populated by template-string and doc-comment expansion.
	synthetic []string

	lastErr *diag.Diagnostic
}

// New returns a Lexer over the given registered source.
func New(sources *source.Sources, id source.SourceId) *Lexer {
	return &Lexer{sources: sources, id: id, text: sources.Text(id)}
}

// Synthetic returns a previously interned synthetic string by id, used by
// HIR lowering to resolve LitSourceSynthetic tokens (spec §3 "Token").
func (l *Lexer) Synthetic(id int) string {
	if id < 0 || id >= len(l.synthetic) {
		return ""
	}
	return l.synthetic[id]
}

func (l *Lexer) intern(s string) int {
	l.synthetic = append(l.synthetic, s)
	return len(l.synthetic) - 1
}

// Next returns the next token, or a token.EOF token when exhausted. Errors
// are reported as token.Error tokens paired with a retrievable Diagnostic
// via Err(); the lexer never panics on malformed input (spec §4.D).
func (l *Lexer) Next() token.Token {
	if len(l.queue) > 0 {
		t := l.queue[0]
		l.queue = l.queue[1:]
		return t
	}
	return l.scan()
}

// Err returns the diagnostic for the most recently produced token.Error
// token, if any.
func (l *Lexer) Err() *diag.Diagnostic { return l.lastErr }

func (l *Lexer) peekByte() (byte, bool) {
	if l.pos >= len(l.text) {
		return 0, false
	}
	return l.text[l.pos], true
}

func (l *Lexer) at(off int) (byte, bool) {
	p := l.pos + off
	if p >= len(l.text) {
		return 0, false
	}
	return l.text[p], true
}

func (l *Lexer) fail(kind diag.Kind, start int, format string, args ...interface{}) token.Token {
	l.lastErr = diag.New(kind, source.Span{Start: start, End: l.pos}, format, args...)
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
}

func isIdentStart(b byte) bool { return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80 }
func isIdentCont(b byte) bool  { return isIdentStart(b) || (b >= '0' && b <= '9') }
func isDigit(b byte) bool      { return b >= '0' && b <= '9' }

func (l *Lexer) scan() token.Token {
	// Shebang: only meaningful at byte 0.
	if l.pos == 0 && strings.HasPrefix(l.text, "#!") {
		start := l.pos
		for l.pos < len(l.text) && l.text[l.pos] != '\n' {
			l.pos++
		}
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Comment}
	}

	start := l.pos
	b, ok := l.peekByte()
	if !ok {
		return token.Token{Span: source.Span{Start: start, End: start}, Kind: token.EOF}
	}

	switch {
	case b == ' ' || b == '\t' || b == '\r' || b == '\n':
		for {
			b, ok := l.peekByte()
			if !ok || !(b == ' ' || b == '\t' || b == '\r' || b == '\n') {
				break
			}
			l.pos++
		}
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Whitespace}

	case b == '/' && l.nextIs(1, '/'):
		return l.scanLineComment(start)

	case b == '/' && l.nextIs(1, '*'):
		return l.scanBlockComment(start)

	case isIdentStart(b):
		return l.scanIdent(start)

	case isDigit(b):
		return l.scanNumber(start)

	case b == '"':
		return l.scanString(start)

	case b == '`':
		return l.scanTemplate(start)

	case b == '\'':
		return l.scanCharOrLabel(start)

	case b == 'b' && l.nextIs(1, '"'):
		l.pos++
		return l.scanByteString(start)

	default:
		return l.scanPunct(start)
	}
}

func (l *Lexer) nextIs(off int, want byte) bool {
	b, ok := l.at(off)
	return ok && b == want
}

func (l *Lexer) scanLineComment(start int) token.Token {
	// /// and //! become synthetic `#[doc="…"]` / `#![doc="…"]` sequences.
	doc := false
	inner := false
	if l.nextIs(2, '/') && !l.nextIs(3, '/') {
		doc = true
	} else if l.nextIs(2, '!') {
		doc = true
		inner = true
	}
	l.pos += 2
	bodyStart := l.pos
	for l.pos < len(l.text) && l.text[l.pos] != '\n' {
		l.pos++
	}
	text := l.text[bodyStart:l.pos]
	if doc {
		l.emitDocComment(source.Span{Start: start, End: l.pos}, strings.TrimPrefix(strings.TrimPrefix(text, "/"), "!"), inner)
		return l.Next()
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Comment}
}

func (l *Lexer) scanBlockComment(start int) token.Token {
	doc := false
	inner := false
	if l.nextIs(2, '*') && !l.nextIs(3, '/') {
		doc = true
	} else if l.nextIs(2, '!') {
		doc = true
		inner = true
	}
	l.pos += 2
	bodyStart := l.pos
	for l.pos < len(l.text)-1 {
		if l.text[l.pos] == '*' && l.text[l.pos+1] == '/' {
			break
		}
		l.pos++
	}
	body := l.text[bodyStart:l.pos]
	l.pos += 2
	if l.pos > len(l.text) {
		l.pos = len(l.text)
	}
	if doc {
		l.emitDocComment(source.Span{Start: start, End: l.pos}, strings.TrimPrefix(body, "*"), inner)
		return l.Next()
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Comment}
}

// emitDocComment pushes the synthetic token sequence equivalent to
// `#[doc="…"]` (or `#![doc="…"]`) into the queue, per spec §4.C.
func (l *Lexer) emitDocComment(span source.Span, text string, inner bool) {
	id := l.intern(strings.TrimSpace(text))
	push := func(k token.Kind) {
		l.queue = append(l.queue, token.Token{Span: span, Kind: k})
	}
	push(token.Pound)
	if inner {
		push(token.Bang)
	}
	push(token.LBracket)
	l.queue = append(l.queue, token.Token{Span: span, Kind: token.Ident}) // `doc`
	push(token.Eq)
	l.queue = append(l.queue, token.Token{Span: span, Kind: token.Str, LitSource: token.LitSourceSynthetic, SyntheticID: id})
	push(token.RBracket)
}

func (l *Lexer) scanIdent(start int) token.Token {
	for {
		b, ok := l.peekByte()
		if !ok || !isIdentCont(b) {
			break
		}
		l.pos++
	}
	text := l.text[start:l.pos]
	if kw, ok := token.Keyword(text); ok {
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: kw}
	}
	if text == "template" || text == "format_args" || text == "file" || text == "line" {
		if b, ok := l.peekByte(); ok && b == '!' {
			l.pos++
			k := map[string]token.Kind{
				"template": token.BangTemplate, "format_args": token.BangFormat,
				"file": token.BangFile, "line": token.BangLine,
			}[text]
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: k}
		}
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Ident}
}

func (l *Lexer) scanNumber(start int) token.Token {
	for {
		b, ok := l.peekByte()
		if !ok || !(isDigit(b) || b == '.' || b == '_' || b == 'x' || b == 'o' || b == 'b' ||
			(b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || b == 'e' || b == 'E') {
			break
		}
		l.pos++
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Number}
}

// scanEscape consumes one escape sequence starting at the backslash and
// returns the decoded rune, or an error. Invalid escapes fail at lex time
// with a typed error kind and span (spec §4.C).
func (l *Lexer) scanEscape(escStart int) (rune, bool) {
	l.pos++ // consume backslash
	b, ok := l.peekByte()
	if !ok {
		l.fail(diag.KindBadEscape, escStart, "unterminated escape sequence")
		return 0, false
	}
	l.pos++
	switch b {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\':
		return '\\', true
	case '\'':
		return '\'', true
	case '"':
		return '"', true
	case '`':
		return '`', true
	case 'x':
		if l.pos+2 > len(l.text) {
			l.fail(diag.KindBadEscape, escStart, "truncated \\x escape")
			return 0, false
		}
		v, ok := parseHex(l.text[l.pos : l.pos+2])
		if !ok {
			l.fail(diag.KindBadEscape, escStart, "invalid \\x escape")
			return 0, false
		}
		l.pos += 2
		return rune(v), true
	case 'u':
		if !l.nextIs(0, '{') {
			l.fail(diag.KindBadEscape, escStart, "expected '{' after \\u")
			return 0, false
		}
		l.pos++
		hstart := l.pos
		for {
			b, ok := l.peekByte()
			if !ok || b == '}' {
				break
			}
			l.pos++
		}
		v, ok := parseHex(l.text[hstart:l.pos])
		if !ok {
			l.fail(diag.KindBadEscape, escStart, "invalid \\u{...} escape")
			return 0, false
		}
		if l.peekEq('}') {
			l.pos++
		}
		return rune(v), true
	default:
		l.fail(diag.KindBadEscape, escStart, "unknown escape '\\%c'", b)
		return 0, false
	}
}

func (l *Lexer) peekEq(want byte) bool { b, ok := l.peekByte(); return ok && b == want }

func parseHex(s string) (int64, bool) {
	var v int64
	if len(s) == 0 {
		return 0, false
	}
	for _, r := range s {
		v <<= 4
		switch {
		case r >= '0' && r <= '9':
			v |= int64(r - '0')
		case r >= 'a' && r <= 'f':
			v |= int64(r-'a') + 10
		case r >= 'A' && r <= 'F':
			v |= int64(r-'A') + 10
		default:
			return 0, false
		}
	}
	return v, true
}

func (l *Lexer) scanString(start int) token.Token {
	l.pos++ // opening quote
	for {
		b, ok := l.peekByte()
		if !ok {
			l.fail(diag.KindUnterminatedLit, start, "unterminated string literal")
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
		}
		if b == '"' {
			l.pos++
			break
		}
		if b == '\\' {
			if _, ok := l.scanEscape(l.pos); !ok {
				return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
			}
			continue
		}
		l.pos++
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Str, LitSource: token.LitSourceText}
}

func (l *Lexer) scanByteString(start int) token.Token {
	l.pos++ // opening quote
	for {
		b, ok := l.peekByte()
		if !ok {
			l.fail(diag.KindUnterminatedLit, start, "unterminated byte string literal")
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
		}
		if b == '"' {
			l.pos++
			break
		}
		if b == '\\' {
			if _, ok := l.scanEscape(l.pos); !ok {
				return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
			}
			continue
		}
		l.pos++
	}
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.ByteStr, LitSource: token.LitSourceText}
}

func (l *Lexer) scanCharOrLabel(start int) token.Token {
	// Disambiguate 'a' (char) from 'label (label) by lookahead: a label is
	// an identifier not immediately followed by a closing quote.
	save := l.pos
	l.pos++ // opening quote
	if b, ok := l.peekByte(); ok && isIdentStart(b) {
		identStart := l.pos
		for {
			b, ok := l.peekByte()
			if !ok || !isIdentCont(b) {
				break
			}
			l.pos++
		}
		if !l.peekEq('\'') {
			// Not a char literal closed immediately: this is a label.
			_ = identStart
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Label}
		}
	}
	l.pos = save
	l.pos++ // opening quote (again, having rewound)
	if b, ok := l.peekByte(); ok && b == '\\' {
		if _, ok := l.scanEscape(l.pos); !ok {
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
		}
	} else if ok {
		_, size := utf8.DecodeRuneInString(l.text[l.pos:])
		l.pos += size
	}
	if !l.peekEq('\'') {
		l.fail(diag.KindUnterminatedLit, start, "unterminated char literal")
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
	}
	l.pos++
	return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Char, LitSource: token.LitSourceText}
}

// scanTemplate lowers a ` ... ${expr} ... ` literal into the synthetic token
// stream `template!("prefix", expr, "suffix")`, recursively re-lexing each
// `${...}` segment's contents into the token stream in place. No
// `#[builtin(literal)]` attribute tokens are emitted. The synthetic tokens
// carry spans pointing back into the original template locus rather than a
// fabricated location; those after a `${...}` segment start where that
// segment ends, so token start offsets never decrease.
func (l *Lexer) scanTemplate(start int) token.Token {
	l.pos++ // opening backtick
	type segment struct {
		lit    string
		litEnd bool
	}
	var lits []string
	var exprSpans []source.Span
	litStart := l.pos
	for {
		b, ok := l.peekByte()
		if !ok {
			l.fail(diag.KindUnterminatedLit, start, "unterminated template string")
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
		}
		if b == '`' {
			lits = append(lits, l.text[litStart:l.pos])
			l.pos++
			break
		}
		if b == '$' && l.nextIs(1, '{') {
			lits = append(lits, l.text[litStart:l.pos])
			l.pos += 2
			exprStart := l.pos
			depth := 1
			for depth > 0 {
				b, ok := l.peekByte()
				if !ok {
					l.fail(diag.KindUnterminatedLit, start, "unterminated ${...} in template string")
					return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Error}
				}
				if b == '{' {
					depth++
				} else if b == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
				l.pos++
			}
			exprSpans = append(exprSpans, source.Span{Start: exprStart, End: l.pos})
			l.pos++ // closing '}'
			litStart = l.pos
			continue
		}
		if b == '\\' {
			l.scanEscape(l.pos)
			continue
		}
		l.pos++
	}
	span := source.Span{Start: start, End: l.pos}
	cur := span
	push := func(k token.Kind) { l.queue = append(l.queue, token.Token{Span: cur, Kind: k}) }
	push(token.BangTemplate)
	push(token.LParen)
	// Interleave literal / expr sub-token-streams, comma-separated.
	for i, lit := range lits {
		id := l.intern(lit)
		l.queue = append(l.queue, token.Token{Span: cur, Kind: token.Str, LitSource: token.LitSourceSynthetic, SyntheticID: id})
		if i < len(exprSpans) {
			push(token.Comma)
			// Recursively re-lex the expr segment's raw tokens, pointing
			// at the real source span so diagnostics land on the original
			// template locus.
			sub := &Lexer{sources: l.sources, id: l.id, text: l.text, pos: exprSpans[i].Start}
			for sub.pos < exprSpans[i].End {
				t := sub.scan()
				if t.Kind == token.EOF {
					break
				}
				if t.Kind == token.Whitespace || t.Kind == token.Comment {
					continue
				}
				l.queue = append(l.queue, t)
			}
			cur = source.Span{Start: exprSpans[i].End, End: span.End}
			push(token.Comma)
		}
	}
	push(token.RParen)
	return l.Next()
}

func (l *Lexer) scanPunct(start int) token.Token {
	two := func(second byte, twoKind, oneKind token.Kind) token.Token {
		if l.nextIs(1, second) {
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: twoKind}
		}
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: oneKind}
	}
	b := l.text[l.pos]
	switch b {
	case '(':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.LParen}
	case ')':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.RParen}
	case '{':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.LBrace}
	case '}':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.RBrace}
	case '[':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.LBracket}
	case ']':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.RBracket}
	case ',':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Comma}
	case ';':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Semi}
	case ':':
		return two(':', token.ColonColon, token.Colon)
	case '.':
		if l.nextIs(1, '.') && l.nextIs(2, '=') {
			l.pos += 3
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.DotDotEq}
		}
		return two('.', token.DotDot, token.Dot)
	case '-':
		if l.nextIs(1, '>') {
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Arrow}
		}
		return two('=', token.MinusEq, token.Minus)
	case '=':
		if l.nextIs(1, '>') {
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.FatArrow}
		}
		return two('=', token.EqEq, token.Eq)
	case '?':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Question}
	case '!':
		return two('=', token.Ne, token.Bang)
	case '&':
		if l.nextIs(1, '&') {
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.AmpAmp}
		}
		return two('=', token.AmpEq, token.Amp)
	case '|':
		if l.nextIs(1, '|') {
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.PipePipe}
		}
		return two('=', token.PipeEq, token.Pipe)
	case '^':
		return two('=', token.CaretEq, token.Caret)
	case '~':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Tilde}
	case '+':
		return two('=', token.PlusEq, token.Plus)
	case '*':
		return two('=', token.StarEq, token.Star)
	case '/':
		return two('=', token.SlashEq, token.Slash)
	case '%':
		return two('=', token.PercentEq, token.Percent)
	case '<':
		if l.nextIs(1, '<') {
			if l.nextIs(2, '=') {
				l.pos += 3
				return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.ShlEq}
			}
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Shl}
		}
		return two('=', token.Le, token.Lt)
	case '>':
		if l.nextIs(1, '>') {
			if l.nextIs(2, '=') {
				l.pos += 3
				return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.ShrEq}
			}
			l.pos += 2
			return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Shr}
		}
		return two('=', token.Ge, token.Gt)
	case '@':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.At}
	case '#':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Pound}
	case '$':
		l.pos++
		return token.Token{Span: source.Span{Start: start, End: l.pos}, Kind: token.Dollar}
	default:
		l.pos++
		return l.fail(diag.KindUnexpectedByte, start, "unexpected byte %q", b)
	}
}
