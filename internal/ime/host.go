package ime

import "henkan/internal/render"

// Host is the display side of the input framework. The engine calls it
// synchronously from within its own callbacks; implementations must not call
// back into the engine.
type Host interface {
	CommitText(text render.Text)
	UpdatePreeditText(text render.Text, cursor uint32, visible bool)
	HidePreeditText()
	UpdateLookupTable(table render.LookupTable, visible bool)
	HideLookupTable()
	UpdateAuxiliaryText(text render.Text, visible bool)
	HideAuxiliaryText()
	// RegisterProperties and UpdateProperty receive copies the host may
	// keep.
	RegisterProperties(props []Property)
	UpdateProperty(prop Property)
}

// NopHost discards all UI updates.
type NopHost struct{}

func (NopHost) CommitText(render.Text) {}
func (NopHost) UpdatePreeditText(render.Text, uint32, bool) {}
func (NopHost) HidePreeditText() {}
func (NopHost) UpdateLookupTable(render.LookupTable, bool) {}
func (NopHost) HideLookupTable() {}
func (NopHost) UpdateAuxiliaryText(render.Text, bool) {}
func (NopHost) HideAuxiliaryText() {}
func (NopHost) RegisterProperties([]Property) {}
func (NopHost) UpdateProperty(Property) {}
