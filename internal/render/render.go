// Package render turns session output into host-renderable structures:
// attributed preedit text, candidate tables and auxiliary text.
//
// Everything here is a pure function of its input. Host bindings serialize
// the results; see package ibus.
package render

import (
	"fmt"
	"unicode/utf8"

	"henkan/internal/session"
)

// AttrType is the kind of a text attribute.
type AttrType uint32

const (
	AttrUnderline  AttrType = 1
	AttrForeground AttrType = 2
	AttrBackground AttrType = 3
)

// Underline styles for AttrUnderline.
const (
	UnderlineNone   uint32 = 0
	UnderlineSingle uint32 = 1
	UnderlineDouble uint32 = 2
	UnderlineLow    uint32 = 3
	UnderlineError  uint32 = 4
)

// Highlight colors (0xRRGGBB). Some renderers draw single and double
// underlines alike, so highlighted segments are also colored.
const (
	HighlightBackground uint32 = 0xD1EAFF
	HighlightForeground uint32 = 0x000000
)

// Orientation of a candidate table.
type Orientation int32

const (
	OrientationHorizontal Orientation = 0
	OrientationVertical   Orientation = 1
	OrientationSystem     Orientation = 2
)

// BadCandidateID marks candidate rows that cannot be selected.
const BadCandidateID int32 = -1

// DefaultPageSize is the candidate table page size.
const DefaultPageSize = 9

// Attribute decorates the character range [Start, End) of a Text.
type Attribute struct {
	Type  AttrType
	Value uint32
	Start uint32
	End   uint32
}

// Text is a string with attributes. Offsets count characters, not bytes.
type Text struct {
	Text       string
	Attributes []Attribute
}

// Len returns the length of the text in characters.
func (t Text) Len() uint32 {
	return uint32(utf8.RuneCountInString(t.Text))
}

// PlainText returns a Text without attributes.
func PlainText(s string) Text {
	return Text{Text: s}
}

func underlineFor(a session.Annotation) uint32 {
	switch a {
	case session.AnnotationNone:
		return UnderlineNone
	case session.AnnotationUnderline:
		return UnderlineSingle
	case session.AnnotationHighlight:
		return UnderlineDouble
	default:
		return UnderlineError
	}
}

// ComposePreedit concatenates the segments and emits one underline attribute
// per segment. Highlighted segments get background and foreground
// attributes over the same range.
func ComposePreedit(p *session.Preedit) (Text, uint32) {
	if p == nil {
		return Text{}, 0
	}
	var text Text
	var start uint32
	for _, seg := range p.Segments {
		text.Text += seg.Value
		end := start + uint32(seg.ValueLength)
		text.Attributes = append(text.Attributes, Attribute{
			Type: AttrUnderline, Value: underlineFor(seg.Annotation), Start: start, End: end,
		})
		if seg.Annotation == session.AnnotationHighlight {
			text.Attributes = append(text.Attributes,
				Attribute{Type: AttrBackground, Value: HighlightBackground, Start: start, End: end},
				Attribute{Type: AttrForeground, Value: HighlightForeground, Start: start, End: end},
			)
		}
		start = end
	}
	return text, CursorPos(p)
}

// CursorPos returns where the host should anchor the preedit cursor. A
// highlighted position wins over the session cursor because the host uses
// it to place the candidate window.
func CursorPos(p *session.Preedit) uint32 {
	switch {
	case p == nil:
		return 0
	case p.HighlightedPosition != nil:
		return uint32(*p.HighlightedPosition)
	case p.Cursor != nil:
		return uint32(*p.Cursor)
	default:
		return 0
	}
}

// LookupTable is a candidate table page.
type LookupTable struct {
	PageSize      uint32
	CursorPos     uint32
	CursorVisible bool
	Round         bool
	Orientation   Orientation
	Candidates    []Text
	// Labels holds one entry per candidate. An empty label is kept so the
	// host does not fall back to numbering rows itself.
	Labels []Text
}

// ComposeCandidates builds the lookup table and the id list aligned 1:1 with
// its rows. Rows without an id map to BadCandidateID.
func ComposeCandidates(c *session.Candidates, pageSize uint32) (LookupTable, []int32) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	table := LookupTable{
		PageSize:    pageSize,
		Round:       true,
		Orientation: OrientationVertical,
	}
	if c == nil {
		return table, nil
	}

	ids := make([]int32, 0, len(c.Candidates))
	for i, cand := range c.Candidates {
		table.Candidates = append(table.Candidates, PlainText(cand.Value))
		table.Labels = append(table.Labels, PlainText(cand.Shortcut()))
		if cand.ID != nil {
			ids = append(ids, *cand.ID)
		} else {
			ids = append(ids, BadCandidateID)
		}
		if c.FocusedIndex != nil && cand.Index == *c.FocusedIndex {
			table.CursorPos = uint32(i)
		}
	}
	table.CursorVisible = c.FocusedIndex != nil
	return table, ids
}

// ComposeAuxiliaryText returns "focused/total" for the candidate window. The
// second result is false when there is no focused candidate.
func ComposeAuxiliaryText(c *session.Candidates) (Text, bool) {
	if c == nil || c.FocusedIndex == nil {
		return Text{}, false
	}
	return PlainText(fmt.Sprintf("%d/%d", *c.FocusedIndex+1, c.Size)), true
}
