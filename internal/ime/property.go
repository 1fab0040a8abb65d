package ime

import (
	"path/filepath"

	"henkan/internal/session"
)

// PropType is the kind of a panel property.
type PropType uint32

const (
	PropNormal PropType = iota
	PropToggle
	PropRadio
	PropMenu
	PropSeparator
)

// PropState is the check state of a property.
type PropState uint32

const (
	PropUnchecked PropState = iota
	PropChecked
	PropInconsistent
)

// Property keys of the top-level menus.
const (
	CompositionModeKey = "CompositionMode"
	ToolKey            = "Tool"
)

// Property is a node of the panel property tree. Values handed to the host
// are deep copies; the engine never shares its own nodes.
type Property struct {
	Key       string
	Type      PropType
	Label     string
	Icon      string
	Tooltip   string
	Sensitive bool
	Visible   bool
	State     PropState
	SubProps  []Property
}

// Clone returns a deep copy.
func (p Property) Clone() Property {
	c := p
	if p.SubProps != nil {
		c.SubProps = make([]Property, len(p.SubProps))
		for i, sub := range p.SubProps {
			c.SubProps[i] = sub.Clone()
		}
	}
	return c
}

// ModeEntry is one item of the composition mode radio menu.
type ModeEntry struct {
	Key   string
	Mode  session.CompositionMode
	Label string
	Icon  string
}

// ModeEntries lists the composition mode menu, in display order.
var ModeEntries = []ModeEntry{
	{Key: "InputMode.Direct", Mode: session.ModeDirect, Label: "Direct input", Icon: "direct.png"},
	{Key: "InputMode.Hiragana", Mode: session.ModeHiragana, Label: "Hiragana", Icon: "hiragana.png"},
	{Key: "InputMode.Katakana", Mode: session.ModeFullKatakana, Label: "Katakana", Icon: "katakana_full.png"},
	{Key: "InputMode.Latin", Mode: session.ModeHalfASCII, Label: "Latin", Icon: "alpha_half.png"},
	{Key: "InputMode.WideLatin", Mode: session.ModeFullASCII, Label: "Wide Latin", Icon: "alpha_full.png"},
	{Key: "InputMode.HalfWidthKatakana", Mode: session.ModeHalfKatakana, Label: "Half width katakana", Icon: "katakana_half.png"},
}

// ToolEntry is one item of the tool menu. Mode is the tool name passed to
// the session's LaunchTool and doubles as the property key.
type ToolEntry struct {
	Mode  string
	Label string
	Icon  string
}

// ToolEntries lists the tool menu.
var ToolEntries = []ToolEntry{
	{Mode: "config_dialog", Label: "Properties", Icon: "properties.png"},
	{Mode: "dictionary_tool", Label: "Dictionary tool", Icon: "dictionary.png"},
	{Mode: "word_register_dialog", Label: "Add Word", Icon: "word_register.png"},
	{Mode: "about_dialog", Label: "About", Icon: "about.png"},
}

const toolIcon = "tool.png"

func modeEntryForKey(key string) (ModeEntry, bool) {
	for _, e := range ModeEntries {
		if e.Key == key {
			return e, true
		}
	}
	return ModeEntry{}, false
}

func modeEntryForMode(mode session.CompositionMode) (ModeEntry, bool) {
	for _, e := range ModeEntries {
		if e.Mode == mode {
			return e, true
		}
	}
	return ModeEntry{}, false
}

func toolEntryForKey(key string) (ToolEntry, bool) {
	for _, e := range ToolEntries {
		if e.Mode == key {
			return e, true
		}
	}
	return ToolEntry{}, false
}

// propertyTree is owned by the engine. The composition mode menu is always
// the first root; the tool menu follows when tools are installed.
type propertyTree struct {
	iconDir string
	roots   []Property
	tools   bool
}

func newPropertyTree(initial session.CompositionMode, withTools bool, iconDir string) *propertyTree {
	t := &propertyTree{iconDir: iconDir, tools: withTools}

	menu := Property{
		Key:       CompositionModeKey,
		Type:      PropMenu,
		Sensitive: true,
		Visible:   true,
	}
	for _, e := range ModeEntries {
		item := Property{
			Key:       e.Key,
			Type:      PropRadio,
			Label:     e.Label,
			Sensitive: true,
			Visible:   true,
		}
		if e.Mode == initial {
			item.State = PropChecked
			menu.Icon = t.iconPath(e.Icon)
		}
		menu.SubProps = append(menu.SubProps, item)
	}
	t.roots = append(t.roots, menu)

	if withTools {
		tool := Property{
			Key:       ToolKey,
			Type:      PropMenu,
			Icon:      t.iconPath(toolIcon),
			Sensitive: true,
			Visible:   true,
		}
		for _, e := range ToolEntries {
			tool.SubProps = append(tool.SubProps, Property{
				Key:       e.Mode,
				Type:      PropNormal,
				Label:     e.Label,
				Sensitive: true,
				Visible:   true,
			})
		}
		t.roots = append(t.roots, tool)
	}
	return t
}

func (t *propertyTree) iconPath(icon string) string {
	if t.iconDir == "" {
		return icon
	}
	return filepath.Join(t.iconDir, icon)
}

func (t *propertyTree) modeMenu() *Property {
	return &t.roots[0]
}

// hasTool reports whether key names a registered tool item.
func (t *propertyTree) hasTool(key string) bool {
	if !t.tools {
		return false
	}
	_, ok := toolEntryForKey(key)
	return ok
}

// check marks the radio item with the given key checked, all siblings
// unchecked, and moves the panel icon to it.
func (t *propertyTree) check(entry ModeEntry) {
	menu := t.modeMenu()
	menu.Icon = t.iconPath(entry.Icon)
	for i := range menu.SubProps {
		if menu.SubProps[i].Key == entry.Key {
			menu.SubProps[i].State = PropChecked
		} else {
			menu.SubProps[i].State = PropUnchecked
		}
	}
}

func (t *propertyTree) snapshot() []Property {
	out := make([]Property, len(t.roots))
	for i, p := range t.roots {
		out[i] = p.Clone()
	}
	return out
}
