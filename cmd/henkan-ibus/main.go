//go:build linux

// henkan-ibus is the IBus input method engine for henkan.
//
// ibus-daemon starts it through the component file with --ibus. The engine
// converts through a henkan-server session (or an in-process one when the
// session mode is "local") and renders preedit, candidates and properties
// back to IBus.
//
// Installation:
//
//	henkan-ibus component install
//	ibus restart
package main

func main() {
	Execute()
}
