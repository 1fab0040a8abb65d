// Package ibus serializes rendered text, candidate tables and properties into
// the IBus D-Bus wire format.
//
// Every IBus serializable is a struct whose first two members are the type
// name and an attachment dictionary, wrapped in a variant:
//
//	IBusText        (sa{sv}sv)        text, attribute list
//	IBusAttrList    (sa{sv}av)        attributes
//	IBusAttribute   (sa{sv}uuuu)      type, value, start, end
//	IBusLookupTable (sa{sv}uubbiavav) page size, cursor, visible, round, orientation, candidates, labels
//	IBusProperty    (sa{sv}suvsvbbuvv)
//	IBusPropList    (sa{sv}av)
package ibus

import (
	"github.com/godbus/dbus/v5"

	"henkan/internal/render"
)

// Preedit update modes.
const (
	PreeditClear  uint32 = 0
	PreeditCommit uint32 = 1
)

// IBusAttribute is the wire form of a text attribute.
type IBusAttribute struct {
	Name        string
	Attachments map[string]dbus.Variant
	Type        uint32
	Value       uint32
	Start       uint32
	End         uint32
}

// IBusAttrList is the wire form of an attribute list.
type IBusAttrList struct {
	Name        string
	Attachments map[string]dbus.Variant
	Attributes  []dbus.Variant
}

// IBusText is the wire form of a text.
type IBusText struct {
	Name        string
	Attachments map[string]dbus.Variant
	Text        string
	AttrList    dbus.Variant
}

// IBusLookupTable is the wire form of a candidate table.
type IBusLookupTable struct {
	Name          string
	Attachments   map[string]dbus.Variant
	PageSize      uint32
	CursorPos     uint32
	CursorVisible bool
	Round         bool
	Orientation   int32
	Candidates    []dbus.Variant
	Labels        []dbus.Variant
}

// IBusProperty is the wire form of a panel property.
type IBusProperty struct {
	Name        string
	Attachments map[string]dbus.Variant
	Key         string
	Type        uint32
	Label       dbus.Variant
	Icon        string
	Tooltip     dbus.Variant
	Sensitive   bool
	Visible     bool
	State       uint32
	SubProps    dbus.Variant
	Symbol      dbus.Variant
}

// IBusPropList is the wire form of a property list.
type IBusPropList struct {
	Name        string
	Attachments map[string]dbus.Variant
	Properties  []dbus.Variant
}

func attachments() map[string]dbus.Variant {
	return map[string]dbus.Variant{}
}

// Text wraps a rendered text.
func Text(t render.Text) dbus.Variant {
	attrs := make([]dbus.Variant, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		attrs = append(attrs, dbus.MakeVariant(IBusAttribute{
			Name:        "IBusAttribute",
			Attachments: attachments(),
			Type:        uint32(a.Type),
			Value:       a.Value,
			Start:       a.Start,
			End:         a.End,
		}))
	}
	return dbus.MakeVariant(IBusText{
		Name:        "IBusText",
		Attachments: attachments(),
		Text:        t.Text,
		AttrList: dbus.MakeVariant(IBusAttrList{
			Name:        "IBusAttrList",
			Attachments: attachments(),
			Attributes:  attrs,
		}),
	})
}

// PlainText wraps a string without attributes.
func PlainText(s string) dbus.Variant {
	return Text(render.PlainText(s))
}

// LookupTable wraps a rendered candidate table.
func LookupTable(t render.LookupTable) dbus.Variant {
	cands := make([]dbus.Variant, 0, len(t.Candidates))
	for _, c := range t.Candidates {
		cands = append(cands, Text(c))
	}
	labels := make([]dbus.Variant, 0, len(t.Labels))
	for _, l := range t.Labels {
		labels = append(labels, Text(l))
	}
	return dbus.MakeVariant(IBusLookupTable{
		Name:          "IBusLookupTable",
		Attachments:   attachments(),
		PageSize:      t.PageSize,
		CursorPos:     t.CursorPos,
		CursorVisible: t.CursorVisible,
		Round:         t.Round,
		Orientation:   int32(t.Orientation),
		Candidates:    cands,
		Labels:        labels,
	})
}

// Property types.
const (
	PropTypeNormal    uint32 = 0
	PropTypeToggle    uint32 = 1
	PropTypeRadio     uint32 = 2
	PropTypeMenu      uint32 = 3
	PropTypeSeparator uint32 = 4
)

// Property states.
const (
	PropStateUnchecked    uint32 = 0
	PropStateChecked      uint32 = 1
	PropStateInconsistent uint32 = 2
)

// Prop is a host-neutral property description.
type Prop struct {
	Key       string
	Type      uint32
	Label     string
	Icon      string
	Tooltip   string
	Symbol    string
	Sensitive bool
	Visible   bool
	State     uint32
	SubProps  []Prop
}

// Property wraps a property and its sub-properties.
func Property(p Prop) dbus.Variant {
	return dbus.MakeVariant(IBusProperty{
		Name:        "IBusProperty",
		Attachments: attachments(),
		Key:         p.Key,
		Type:        p.Type,
		Label:       PlainText(p.Label),
		Icon:        p.Icon,
		Tooltip:     PlainText(p.Tooltip),
		Sensitive:   p.Sensitive,
		Visible:     p.Visible,
		State:       p.State,
		SubProps:    PropList(p.SubProps),
		Symbol:      PlainText(p.Symbol),
	})
}

// PropList wraps a property list.
func PropList(props []Prop) dbus.Variant {
	vs := make([]dbus.Variant, 0, len(props))
	for _, p := range props {
		vs = append(vs, Property(p))
	}
	return dbus.MakeVariant(IBusPropList{
		Name:        "IBusPropList",
		Attachments: attachments(),
		Properties:  vs,
	})
}
