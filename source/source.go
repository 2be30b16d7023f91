// Package source implements the multi-source registry and span model of
// spec §3 and §4.B. The teacher (yaegi's interp package) locates AST nodes
// in source via a single go/token.FileSet shared across every parsed file;
// here each Source gets a small stable integer id instead, since spans must
// serialize into a portable Unit (spec §6) rather than stay process-local.
package source

import (
	"fmt"
	"strings"
)

// SourceId is an opaque small integer identifying one inserted source.
type SourceId int

// Span is a byte-offset range within a single source's text.
type Span struct {
	Start int
	End   int
}

// Join returns the smallest span covering both s and other.
func (s Span) Join(other Span) Span {
	out := s
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}

// Head returns the first n bytes of the span (clamped to the span's length).
func (s Span) Head(n int) Span {
	if n < 0 {
		n = 0
	}
	if s.Start+n > s.End {
		n = s.End - s.Start
	}
	return Span{Start: s.Start, End: s.Start + n}
}

// TrimStart drops n bytes from the front of the span.
func (s Span) TrimStart(n int) Span {
	start := s.Start + n
	if start > s.End {
		start = s.End
	}
	return Span{Start: start, End: s.End}
}

// NarrowTo returns the sub-span [start,end) relative to s.Start.
func (s Span) NarrowTo(start, end int) Span {
	return Span{Start: s.Start + start, End: s.Start + end}
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) String() string { return fmt.Sprintf("%d..%d", s.Start, s.End) }

// Location pairs a Span with the SourceId it belongs to.
type Location struct {
	Source SourceId
	Span   Span
}

// lineTable precomputes byte offsets of line starts for fast line/column
// lookup, mirroring the role of go/token.File in the teacher without
// depending on go/token (spec sources are not necessarily Go source).
type lineTable struct {
	offsets []int // offsets[i] = byte offset of start of line i (0-based)
}

func newLineTable(text string) *lineTable {
	lt := &lineTable{offsets: []int{0}}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lt.offsets = append(lt.offsets, i+1)
		}
	}
	return lt
}

// lineCol returns 1-based line and column for a byte offset.
func (lt *lineTable) lineCol(offset int) (line, col int) {
	// binary search for the last offset <= given offset
	lo, hi := 0, len(lt.offsets)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lt.offsets[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1, offset - lt.offsets[lo] + 1
}

// entry is one registered source.
type entry struct {
	name string
	text string
	lt   *lineTable
}

// Sources is an insertion-ordered registry of named source texts.
type Sources struct {
	entries []entry
}

// NewSources returns an empty registry.
func NewSources() *Sources { return &Sources{} }

// Insert registers a new source and returns its stable id.
func (s *Sources) Insert(name, text string) SourceId {
	id := SourceId(len(s.entries))
	s.entries = append(s.entries, entry{name: name, text: text, lt: newLineTable(text)})
	return id
}

// Name returns the registered name for id.
func (s *Sources) Name(id SourceId) string {
	if int(id) < 0 || int(id) >= len(s.entries) {
		return "<unknown>"
	}
	return s.entries[id].name
}

// IDByName returns the id of the source registered under name, for
// callers (the query engine's const-fn lowering) that only have a
// module path and need the originating source back for file!/line!
// macro expansion.
func (s *Sources) IDByName(name string) (SourceId, bool) {
	for i, e := range s.entries {
		if e.name == name {
			return SourceId(i), true
		}
	}
	return 0, false
}

// Text returns the full text for id.
func (s *Sources) Text(id SourceId) string {
	if int(id) < 0 || int(id) >= len(s.entries) {
		return ""
	}
	return s.entries[id].text
}

// Slice returns the byte slice covered by span within source id.
func (s *Sources) Slice(id SourceId, span Span) string {
	text := s.Text(id)
	start, end := span.Start, span.End
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start > end {
		return ""
	}
	return text[start:end]
}

// LineCol returns the 1-based (line, column) of a span's start.
func (s *Sources) LineCol(id SourceId, span Span) (line, col int) {
	if int(id) < 0 || int(id) >= len(s.entries) {
		return 0, 0
	}
	return s.entries[id].lt.lineCol(span.Start)
}

// LineContext returns the full line of source text preceding span's start,
// used by diagnostic renderers for "context" display.
func (s *Sources) LineContext(id SourceId, span Span) string {
	if int(id) < 0 || int(id) >= len(s.entries) {
		return ""
	}
	e := s.entries[id]
	line, _ := e.lt.lineCol(span.Start)
	startOff := e.lt.offsets[line-1]
	endOff := len(e.text)
	if line < len(e.lt.offsets) {
		endOff = e.lt.offsets[line] - 1
	}
	if endOff < startOff {
		endOff = startOff
	}
	return strings.TrimRight(e.text[startOff:endOff], "\r")
}

// Len reports the number of registered sources.
func (s *Sources) Len() int { return len(s.entries) }

// AllIDs returns every registered source's id in insertion order.
func (s *Sources) AllIDs() []SourceId {
	ids := make([]SourceId, len(s.entries))
	for i := range s.entries {
		ids[i] = SourceId(i)
	}
	return ids
}
