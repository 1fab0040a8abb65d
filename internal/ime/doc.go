// Package ime implements the input-method engine adapter that sits between
// the host input framework (IBus) and a conversion session.
//
// # Architecture Overview
//
// The host owns the event loop and calls the engine synchronously. The engine
// translates host key events into abstract key events, forwards them to the
// session, and renders the session's output back to the host:
//
//	Host key event → keymap.Translator → session.Client.SendKey
//	                                            ↓
//	Host ← ime.Host ← render.Compose* ← session.Output
//
// # States
//
//	┌──────────────────┬──────────────────────────────────────────────────┐
//	│ State            │ Behavior                                         │
//	├──────────────────┼──────────────────────────────────────────────────┤
//	│ Inactive         │ Not enabled by the host                          │
//	│ Active/Direct    │ Keys pass through; only turn-on keys reach the   │
//	│                  │ session                                          │
//	│ Active/Composing │ Every translated key goes to the session         │
//	└──────────────────┴──────────────────────────────────────────────────┘
//
// The engine's composition mode is optimistic: SetCompositionMode updates it
// immediately and any mode carried by a session output reconciles it, as if
// the user had checked the matching entry of the panel menu.
//
// # Failure Model
//
// No host callback fails. A key that cannot be translated or a session call
// that fails is logged, counted and reported to the host as not consumed;
// engine state is left as it was. Reconnection happens lazily on Enable.
//
// # Persistence
//
// FocusOut syncs session data at most once per sync interval (5 minutes by
// default). Close always syncs.
//
// # Host Bindings
//
// On Linux the engine is exported on the IBus bus by IBusBinding (see
// ibus_engine_linux.go). The binding owns the D-Bus objects and injects the
// single Engine into each exported engine object.
package ime
