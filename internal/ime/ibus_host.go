package ime

import (
	"log/slog"

	"github.com/godbus/dbus/v5"

	"henkan/internal/ibus"
	"henkan/internal/render"
)

// IBus D-Bus constants
const (
	IBusService          = "org.freedesktop.IBus"
	IBusPath             = "/org/freedesktop/IBus"
	IBusFactoryPath      = "/org/freedesktop/IBus/Factory"
	IBusFactoryInterface = "org.freedesktop.IBus.Factory"
	IBusEngineInterface  = "org.freedesktop.IBus.Engine"
	IBusConfigInterface  = "org.freedesktop.IBus.Config"
	HenkanBusName        = "org.freedesktop.IBus.Henkan"
	HenkanEngineName     = "henkan"
)

// signalEmitter is the part of *dbus.Conn the host uses.
type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// IBusHost implements Host by emitting IBus engine signals on one engine
// object path.
type IBusHost struct {
	conn   signalEmitter
	path   dbus.ObjectPath
	logger *slog.Logger
}

// NewIBusHost creates a host for the engine object at path.
func NewIBusHost(conn signalEmitter, path dbus.ObjectPath, logger *slog.Logger) *IBusHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &IBusHost{conn: conn, path: path, logger: logger}
}

func (h *IBusHost) emit(signal string, values ...interface{}) {
	if err := h.conn.Emit(h.path, IBusEngineInterface+"."+signal, values...); err != nil {
		h.logger.Error("emit signal", "signal", signal, "path", h.path, "error", err)
	}
}

func (h *IBusHost) CommitText(text render.Text) {
	h.emit("CommitText", ibus.Text(text))
}

// UpdatePreeditText commits the preedit if the focus moves away while it
// is shown.
func (h *IBusHost) UpdatePreeditText(text render.Text, cursor uint32, visible bool) {
	h.emit("UpdatePreeditText", ibus.Text(text), cursor, visible, ibus.PreeditCommit)
}

func (h *IBusHost) HidePreeditText() {
	h.emit("HidePreeditText")
}

func (h *IBusHost) UpdateLookupTable(table render.LookupTable, visible bool) {
	h.emit("UpdateLookupTable", ibus.LookupTable(table), visible)
}

func (h *IBusHost) HideLookupTable() {
	h.emit("HideLookupTable")
}

func (h *IBusHost) UpdateAuxiliaryText(text render.Text, visible bool) {
	h.emit("UpdateAuxiliaryText", ibus.Text(text), visible)
}

func (h *IBusHost) HideAuxiliaryText() {
	h.emit("HideAuxiliaryText")
}

func (h *IBusHost) RegisterProperties(props []Property) {
	h.emit("RegisterProperties", ibus.PropList(toIBusProps(props)))
}

func (h *IBusHost) UpdateProperty(prop Property) {
	h.emit("UpdateProperty", ibus.Property(toIBusProp(prop)))
}

func toIBusProp(p Property) ibus.Prop {
	return ibus.Prop{
		Key:       p.Key,
		Type:      uint32(p.Type),
		Label:     p.Label,
		Icon:      p.Icon,
		Tooltip:   p.Tooltip,
		Sensitive: p.Sensitive,
		Visible:   p.Visible,
		State:     uint32(p.State),
		SubProps:  toIBusProps(p.SubProps),
	}
}

func toIBusProps(props []Property) []ibus.Prop {
	out := make([]ibus.Prop, 0, len(props))
	for _, p := range props {
		out = append(out, toIBusProp(p))
	}
	return out
}
