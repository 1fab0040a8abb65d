// Package session defines the protocol spoken between the input-method engine
// and a conversion session, and the Client contract both session strategies
// (in-process and IPC) satisfy.
//
// # Protocol Overview
//
// The engine forwards abstract key events and commands to a session and
// receives an Output describing what to render:
//
//	KeyEvent / SessionCommand
//	        ↓
//	┌────────────────┐
//	│ Session        │
//	│ (local | ipc)  │
//	└───────┬────────┘
//	        ↓
//	Output{Result, Preedit, Candidates, Mode, Consumed}
//
// Every field of Output is optional. A nil Preedit means "hide the preedit",
// a nil Candidates means "hide the candidate window".
package session

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// CompositionMode is the current input behavior of a session.
type CompositionMode int32

const (
	ModeDirect CompositionMode = iota
	ModeHiragana
	ModeFullKatakana
	ModeHalfASCII
	ModeFullASCII
	ModeHalfKatakana
)

var modeNames = map[CompositionMode]string{
	ModeDirect:       "direct",
	ModeHiragana:     "hiragana",
	ModeFullKatakana: "full_katakana",
	ModeHalfASCII:    "half_ascii",
	ModeFullASCII:    "full_ascii",
	ModeHalfKatakana: "half_katakana",
}

func (m CompositionMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// ParseCompositionMode parses a mode name such as "hiragana".
func ParseCompositionMode(s string) (CompositionMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return ModeDirect, fmt.Errorf("unknown composition mode: %q", s)
}

// PreeditMethod selects how printable keys are turned into a reading.
type PreeditMethod int32

const (
	PreeditRoman PreeditMethod = iota
	PreeditKana
)

func (p PreeditMethod) String() string {
	if p == PreeditKana {
		return "kana"
	}
	return "roman"
}

// SpecialKey names a non-printable key.
type SpecialKey int32

const (
	NoSpecialKey SpecialKey = iota
	KeySpace
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyEscape
	KeyTab
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert
	KeyHenkan
	KeyMuhenkan
	KeyKana
	KeyHankaku
	KeyKanji
	KeyEisu
	KeyOn
	KeyOff
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
)

var specialKeyNames = map[SpecialKey]string{
	KeySpace:     "space",
	KeyEnter:     "enter",
	KeyBackspace: "backspace",
	KeyDelete:    "delete",
	KeyEscape:    "escape",
	KeyTab:       "tab",
	KeyLeft:      "left",
	KeyRight:     "right",
	KeyUp:        "up",
	KeyDown:      "down",
	KeyHome:      "home",
	KeyEnd:       "end",
	KeyPageUp:    "pageup",
	KeyPageDown:  "pagedown",
	KeyInsert:    "insert",
	KeyHenkan:    "henkan",
	KeyMuhenkan:  "muhenkan",
	KeyKana:      "kana",
	KeyHankaku:   "hankaku",
	KeyKanji:     "kanji",
	KeyEisu:      "eisu",
	KeyOn:        "on",
	KeyOff:       "off",
	KeyF1:        "f1",
	KeyF2:        "f2",
	KeyF3:        "f3",
	KeyF4:        "f4",
	KeyF5:        "f5",
	KeyF6:        "f6",
	KeyF7:        "f7",
	KeyF8:        "f8",
	KeyF9:        "f9",
	KeyF10:       "f10",
	KeyF11:       "f11",
	KeyF12:       "f12",
}

func (k SpecialKey) String() string {
	if name, ok := specialKeyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("special(%d)", int32(k))
}

// ParseSpecialKey parses a case-insensitive special key name.
func ParseSpecialKey(s string) (SpecialKey, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for key, name := range specialKeyNames {
		if name == s {
			return key, true
		}
	}
	return NoSpecialKey, false
}

// Modifiers is a bitmask of modifier keys held during a key event.
type Modifiers uint32

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
	ModCaps
)

func (m Modifiers) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "ctrl")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "alt")
	}
	if m&ModShift != 0 {
		parts = append(parts, "shift")
	}
	if m&ModCaps != 0 {
		parts = append(parts, "caps")
	}
	return strings.Join(parts, "+")
}

// KeyEvent is an abstract key: either a printable code point or a named
// special key, plus modifiers. It carries no host-specific fields.
type KeyEvent struct {
	KeyCode    rune       `json:"key_code,omitempty"`
	SpecialKey SpecialKey `json:"special_key,omitempty"`
	Modifiers  Modifiers  `json:"modifiers,omitempty"`

	// KeyString is the kana produced by the key under the KANA preedit method.
	KeyString string `json:"key_string,omitempty"`
}

// Key returns a printable key event.
func Key(code rune) KeyEvent {
	return KeyEvent{KeyCode: code}
}

// Special returns a special key event.
func Special(key SpecialKey) KeyEvent {
	return KeyEvent{SpecialKey: key}
}

// IsSpecial reports whether the event names a special key.
func (k KeyEvent) IsSpecial() bool {
	return k.SpecialKey != NoSpecialKey
}

func (k KeyEvent) String() string {
	var name string
	switch {
	case k.IsSpecial():
		name = k.SpecialKey.String()
	case k.KeyCode != 0:
		name = fmt.Sprintf("%q", k.KeyCode)
	default:
		name = "none"
	}
	if k.Modifiers != 0 {
		name = k.Modifiers.String() + "+" + name
	}
	if k.KeyString != "" {
		name += "(" + k.KeyString + ")"
	}
	return name
}

// CommandType tags a SessionCommand.
type CommandType int32

const (
	CommandRevert CommandType = iota + 1
	CommandSubmit
	CommandSelectCandidate
	CommandSwitchInputMode
)

func (t CommandType) String() string {
	switch t {
	case CommandRevert:
		return "REVERT"
	case CommandSubmit:
		return "SUBMIT"
	case CommandSelectCandidate:
		return "SELECT_CANDIDATE"
	case CommandSwitchInputMode:
		return "SWITCH_INPUT_MODE"
	default:
		return fmt.Sprintf("COMMAND(%d)", int32(t))
	}
}

// SessionCommand is a tagged action sent to the session.
type SessionCommand struct {
	Type CommandType     `json:"type"`
	ID   int32           `json:"id,omitempty"`
	Mode CompositionMode `json:"composition_mode,omitempty"`
}

// Revert discards any in-session preedit.
func Revert() SessionCommand { return SessionCommand{Type: CommandRevert} }

// Submit commits the pending preedit.
func Submit() SessionCommand { return SessionCommand{Type: CommandSubmit} }

// SelectCandidate chooses the candidate with the given id.
func SelectCandidate(id int32) SessionCommand {
	return SessionCommand{Type: CommandSelectCandidate, ID: id}
}

// SwitchInputMode changes the session's composition mode.
func SwitchInputMode(mode CompositionMode) SessionCommand {
	return SessionCommand{Type: CommandSwitchInputMode, Mode: mode}
}

func (c SessionCommand) String() string {
	switch c.Type {
	case CommandSelectCandidate:
		return fmt.Sprintf("%s{id=%d}", c.Type, c.ID)
	case CommandSwitchInputMode:
		return fmt.Sprintf("%s{mode=%s}", c.Type, c.Mode)
	default:
		return c.Type.String()
	}
}

// Annotation decorates a preedit segment.
type Annotation int32

const (
	AnnotationNone Annotation = iota
	AnnotationUnderline
	AnnotationHighlight
)

// Segment is one run of preedit text.
type Segment struct {
	Value string `json:"value"`
	// ValueLength is the length of Value in characters.
	ValueLength int        `json:"value_length"`
	Annotation  Annotation `json:"annotation,omitempty"`
}

// NewSegment builds a segment with its character length filled in.
func NewSegment(value string, annotation Annotation) Segment {
	return Segment{Value: value, ValueLength: utf8.RuneCountInString(value), Annotation: annotation}
}

// Preedit is the uncommitted text.
type Preedit struct {
	Segments            []Segment `json:"segment"`
	Cursor              *int      `json:"cursor,omitempty"`
	HighlightedPosition *int      `json:"highlighted_position,omitempty"`
}

// Text concatenates the segment values.
func (p *Preedit) Text() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range p.Segments {
		b.WriteString(seg.Value)
	}
	return b.String()
}

// CandidateAnnotation carries optional display hints for a candidate.
type CandidateAnnotation struct {
	Shortcut    string `json:"shortcut,omitempty"`
	Description string `json:"description,omitempty"`
}

// Candidate is one selectable conversion alternative. Rows without an ID are
// structural (e.g. the parent row of a cascading window).
type Candidate struct {
	Index      int                  `json:"index"`
	Value      string               `json:"value"`
	ID         *int32               `json:"id,omitempty"`
	Annotation *CandidateAnnotation `json:"annotation,omitempty"`
}

// Shortcut returns the shortcut label, or "" when none is set.
func (c Candidate) Shortcut() string {
	if c.Annotation == nil {
		return ""
	}
	return c.Annotation.Shortcut
}

// Candidates is the candidate window content.
type Candidates struct {
	// Size is the total number of candidates, which may exceed len(Candidates)
	// when only a page is sent.
	Size         int         `json:"size"`
	FocusedIndex *int        `json:"focused_index,omitempty"`
	Candidates   []Candidate `json:"candidate"`
}

// Result is finalized text to commit to the host.
type Result struct {
	Value string `json:"value"`
	// Key is the reading the value was converted from, when known.
	Key string `json:"key,omitempty"`
}

// Output is a session response.
type Output struct {
	Consumed   bool             `json:"consumed"`
	Result     *Result          `json:"result,omitempty"`
	Preedit    *Preedit         `json:"preedit,omitempty"`
	Candidates *Candidates      `json:"candidates,omitempty"`
	Mode       *CompositionMode `json:"mode,omitempty"`
}

// HasResult reports whether the output commits text.
func (o *Output) HasResult() bool { return o != nil && o.Result != nil }

// HasPreedit reports whether the output carries a preedit.
func (o *Output) HasPreedit() bool { return o != nil && o.Preedit != nil }

// HasCandidates reports whether the output carries a candidate window.
func (o *Output) HasCandidates() bool { return o != nil && o.Candidates != nil }

// HasMode reports whether the output carries an explicit composition mode.
func (o *Output) HasMode() bool { return o != nil && o.Mode != nil }

// Ptr returns a pointer to v. Used to fill optional protocol fields.
func Ptr[T any](v T) *T {
	return &v
}
