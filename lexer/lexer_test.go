package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rune-lang/rune/source"
	"github.com/rune-lang/rune/token"
)

func lexAll(t *testing.T, text string) []token.Token {
	t.Helper()
	sources := source.NewSources()
	id := sources.Insert("test", text)
	l := New(sources, id)
	var out []token.Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return out
}

func TestSpanMonotonicity(t *testing.T) {
	// Testable property #1 (spec §8): token spans are strictly
	// non-decreasing in start across a variety of constructs.
	cases := []string{
		`pub fn main() { let a = 1; let b = 2; a + b }`,
		"/// doc\npub fn f() {}",
		"let s = `Hello ${1 + 2} world`;",
		"let c = 'a'; let lbl = 'outer: loop { break 'outer; }",
	}
	for _, text := range cases {
		toks := lexAll(t, text)
		for i := 1; i < len(toks); i++ {
			assert.GreaterOrEqualf(t, toks[i].Span.Start, toks[i-1].Span.Start,
				"token %d (%v) starts before token %d (%v) in %q", i, toks[i], i-1, toks[i-1], text)
		}
	}
}

func TestDocCommentSynthesis(t *testing.T) {
	toks := lexAll(t, "/// hello\nfn f() {}")
	require.True(t, len(toks) >= 6)
	assert.Equal(t, token.Pound, toks[0].Kind)
	assert.Equal(t, token.LBracket, toks[1].Kind)
	assert.Equal(t, token.Ident, toks[2].Kind)
	assert.Equal(t, token.Eq, toks[3].Kind)
	assert.Equal(t, token.Str, toks[4].Kind)
	assert.Equal(t, token.LitSourceSynthetic, toks[4].LitSource)
	assert.Equal(t, token.RBracket, toks[5].Kind)
}

func TestTemplateStringLowering(t *testing.T) {
	toks := lexAll(t, "`Hello ${1 + 2}`")
	require.NotEmpty(t, toks)
	assert.Equal(t, token.BangTemplate, toks[0].Kind)
	assert.Equal(t, token.LParen, toks[1].Kind)
}

func TestBadEscapeFails(t *testing.T) {
	sources := source.NewSources()
	id := sources.Insert("test", `"\q"`)
	l := New(sources, id)
	tok := l.Next()
	assert.Equal(t, token.Error, tok.Kind)
	require.NotNil(t, l.Err())
}
