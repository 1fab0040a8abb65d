package keymap

import (
	"fmt"

	"henkan/internal/session"
)

// IBus key event state masks
const (
	IBusShiftMask   uint32 = 1 << 0
	IBusLockMask    uint32 = 1 << 1
	IBusControlMask uint32 = 1 << 2
	IBusMod1Mask    uint32 = 1 << 3 // Alt
	IBusMod4Mask    uint32 = 1 << 6 // Super/Meta
	IBusReleaseMask uint32 = 1 << 30
)

// X11 key symbols
const (
	XKBackSpace        = 0xff08
	XKTab              = 0xff09
	XKReturn           = 0xff0d
	XKEscape           = 0xff1b
	XKKanji            = 0xff21
	XKMuhenkan         = 0xff22
	XKHenkan           = 0xff23
	XKHiraganaKatakana = 0xff27
	XKZenkakuHankaku   = 0xff2a
	XKEisuToggle       = 0xff30
	XKHome             = 0xff50
	XKLeft             = 0xff51
	XKUp               = 0xff52
	XKRight            = 0xff53
	XKDown             = 0xff54
	XKPageUp           = 0xff55
	XKPageDown         = 0xff56
	XKEnd              = 0xff57
	XKInsert           = 0xff63
	XKKPEnter          = 0xff8d
	XKF1               = 0xffbe
	XKF12              = 0xffc9
	XKModeSwitch       = 0xff7e
	XKNumLock          = 0xff7f
	XKShiftL           = 0xffe1
	XKHyperR           = 0xffee
	XKISOLock          = 0xfe01
	XKISOLastGroupLock = 0xfe0f
	XKDelete           = 0xffff
	XKSpace            = 0x0020
)

func isModifierKeysym(keyval uint32) bool {
	switch {
	case keyval >= XKShiftL && keyval <= XKHyperR:
		return true
	case keyval >= XKISOLock && keyval <= XKISOLastGroupLock:
		return true
	}
	return keyval == XKModeSwitch || keyval == XKNumLock
}

// keycodeYen is the evdev keycode of the JIS yen key.
const keycodeYen = 124

var specialKeys = map[uint32]session.SpecialKey{
	XKBackSpace:        session.KeyBackspace,
	XKTab:              session.KeyTab,
	XKReturn:           session.KeyEnter,
	XKKPEnter:          session.KeyEnter,
	XKEscape:           session.KeyEscape,
	XKKanji:            session.KeyKanji,
	XKMuhenkan:         session.KeyMuhenkan,
	XKHenkan:           session.KeyHenkan,
	XKHiraganaKatakana: session.KeyKana,
	XKZenkakuHankaku:   session.KeyHankaku,
	XKEisuToggle:       session.KeyEisu,
	XKHome:             session.KeyHome,
	XKLeft:             session.KeyLeft,
	XKUp:               session.KeyUp,
	XKRight:            session.KeyRight,
	XKDown:             session.KeyDown,
	XKPageUp:           session.KeyPageUp,
	XKPageDown:         session.KeyPageDown,
	XKEnd:              session.KeyEnd,
	XKInsert:           session.KeyInsert,
	XKDelete:           session.KeyDelete,
	XKSpace:            session.KeySpace,
}

// X11Translator maps X11 keysyms as delivered by IBus.
type X11Translator struct{}

// NewX11Translator returns the default translator.
func NewX11Translator() *X11Translator {
	return &X11Translator{}
}

// Translate implements Translator.
func (X11Translator) Translate(keyval, keycode, modifiers uint32, method session.PreeditMethod, layoutIsJP bool) (session.KeyEvent, error) {
	if isModifierKeysym(keyval) {
		return session.KeyEvent{}, fmt.Errorf("%w: keysym 0x%x", ErrModifierKey, keyval)
	}

	mods := translateModifiers(modifiers)

	if special, ok := specialKeys[keyval]; ok {
		return session.KeyEvent{SpecialKey: special, Modifiers: mods}, nil
	}
	if keyval >= XKF1 && keyval <= XKF12 {
		return session.KeyEvent{SpecialKey: session.KeyF1 + session.SpecialKey(keyval-XKF1), Modifiers: mods}, nil
	}

	r := keyvalToRune(keyval)
	if r == 0 {
		return session.KeyEvent{}, fmt.Errorf("%w: keysym 0x%x", ErrUnmappable, keyval)
	}

	// Shift is already reflected in the keysym of a printable key.
	ev := session.KeyEvent{KeyCode: r, Modifiers: mods &^ session.ModShift}
	if method == session.PreeditKana && mods&(session.ModCtrl|session.ModAlt) == 0 {
		ev.KeyString = kanaFor(r, keycode, layoutIsJP)
	}
	return ev, nil
}

func translateModifiers(state uint32) session.Modifiers {
	var mods session.Modifiers
	if state&IBusShiftMask != 0 {
		mods |= session.ModShift
	}
	if state&IBusControlMask != 0 {
		mods |= session.ModCtrl
	}
	if state&IBusMod1Mask != 0 {
		mods |= session.ModAlt
	}
	if state&IBusLockMask != 0 {
		mods |= session.ModCaps
	}
	return mods
}

// keyvalToRune converts X11 keysym to Unicode rune.
func keyvalToRune(keyval uint32) rune {
	// Printable ASCII
	if keyval >= 0x21 && keyval <= 0x7e {
		return rune(keyval)
	}

	// Extended Latin (ISO 8859-1)
	if keyval >= 0xa0 && keyval <= 0xff {
		return rune(keyval)
	}

	// Unicode keysyms (0x01000000 + codepoint)
	if keyval >= 0x01000000 && keyval <= 0x0110ffff {
		return rune(keyval - 0x01000000)
	}

	return 0
}

// JIS kana layout, keyed by the character the key produces on a JIS
// keyboard.
var jisKana = map[rune]string{
	'1': "ぬ", '2': "ふ", '3': "あ", '4': "う", '5': "え", '6': "お", '7': "や", '8': "ゆ", '9': "よ", '0': "わ",
	'-': "ほ", '^': "へ",
	'q': "た", 'w': "て", 'e': "い", 'r': "す", 't': "か", 'y': "ん", 'u': "な", 'i': "に", 'o': "ら", 'p': "せ",
	'@': "゛", '[': "゜",
	'a': "ち", 's': "と", 'd': "し", 'f': "は", 'g': "き", 'h': "く", 'j': "ま", 'k': "の", 'l': "り",
	';': "れ", ':': "け", ']': "む",
	'z': "つ", 'x': "さ", 'c': "そ", 'v': "ひ", 'b': "こ", 'n': "み", 'm': "も",
	',': "ね", '.': "る", '/': "め",
	// shifted
	'#': "ぁ", '$': "ぅ", '%': "ぇ", '&': "ぉ", '\'': "ゃ", '(': "ゅ", ')': "ょ", '~': "を",
	'E': "ぃ", 'Z': "っ", '{': "「", '}': "」", '<': "、", '>': "。", '?': "・", '_': "ろ", '|': "ー",
}

// US keyboards put some of the JIS kana on different characters.
var usKana = map[rune]string{
	'=': "へ", '[': "゛", ']': "゜", '\\': "む", '\'': "け", '`': "ろ",
	'{': "「", '}': "」", '"': "け", '+': "へ",
}

func kanaFor(r rune, keycode uint32, layoutIsJP bool) string {
	if r == '\\' && layoutIsJP {
		if keycode == keycodeYen {
			return "ー"
		}
		return "ろ"
	}
	if !layoutIsJP {
		if s, ok := usKana[r]; ok {
			return s
		}
	}
	if s, ok := jisKana[r]; ok {
		return s
	}
	if r >= 'A' && r <= 'Z' {
		if s, ok := jisKana[r+('a'-'A')]; ok {
			return s
		}
	}
	return ""
}
