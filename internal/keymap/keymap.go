// Package keymap translates host key events into abstract session keys.
package keymap

import (
	"errors"
	"fmt"
	"strings"

	"henkan/internal/session"
)

// ErrUnmappable is returned for keys with no abstract representation.
var ErrUnmappable = errors.New("keymap: key has no abstract mapping")

// ErrModifierKey is returned for a bare modifier press. It wraps
// ErrUnmappable.
var ErrModifierKey = fmt.Errorf("%w: modifier key", ErrUnmappable)

// Translator maps a host key to an abstract key event. Implementations are
// stateless: everything that affects the mapping is passed in.
type Translator interface {
	Translate(keyval, keycode, modifiers uint32, method session.PreeditMethod, layoutIsJP bool) (session.KeyEvent, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(keyval, keycode, modifiers uint32, method session.PreeditMethod, layoutIsJP bool) (session.KeyEvent, error)

// Translate calls f.
func (f TranslatorFunc) Translate(keyval, keycode, modifiers uint32, method session.PreeditMethod, layoutIsJP bool) (session.KeyEvent, error) {
	return f(keyval, keycode, modifiers, method, layoutIsJP)
}

// TurnOnFunc reports whether a key must reach the session while the engine
// is in direct mode.
type TurnOnFunc func(key session.KeyEvent) bool

// DefaultTurnOnKeys is the direct-mode re-entry set used when none is
// configured.
var DefaultTurnOnKeys = []string{"hankaku", "kanji", "henkan", "on"}

type turnOnKey struct {
	special   session.SpecialKey
	modifiers session.Modifiers
}

// ParseKeyName parses names like "henkan" or "ctrl+space".
func ParseKeyName(name string) (session.SpecialKey, session.Modifiers, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "+")
	var mods session.Modifiers
	for _, p := range parts[:len(parts)-1] {
		switch p {
		case "ctrl", "control":
			mods |= session.ModCtrl
		case "shift":
			mods |= session.ModShift
		case "alt":
			mods |= session.ModAlt
		default:
			return 0, 0, fmt.Errorf("unknown modifier %q in %q", p, name)
		}
	}
	key, ok := session.ParseSpecialKey(parts[len(parts)-1])
	if !ok {
		return 0, 0, fmt.Errorf("unknown key name %q", name)
	}
	return key, mods, nil
}

// NewTurnOnSet builds a TurnOnFunc matching exactly the named keys.
func NewTurnOnSet(names []string) (TurnOnFunc, error) {
	set := make(map[turnOnKey]bool, len(names))
	for _, name := range names {
		key, mods, err := ParseKeyName(name)
		if err != nil {
			return nil, err
		}
		set[turnOnKey{special: key, modifiers: mods}] = true
	}
	return func(key session.KeyEvent) bool {
		if !key.IsSpecial() {
			return false
		}
		return set[turnOnKey{special: key.SpecialKey, modifiers: key.Modifiers &^ session.ModCaps}]
	}, nil
}

// DefaultTurnOn returns the TurnOnFunc for DefaultTurnOnKeys.
func DefaultTurnOn() TurnOnFunc {
	fn, err := NewTurnOnSet(DefaultTurnOnKeys)
	if err != nil {
		panic(err)
	}
	return fn
}
