package quality

import (
	"errors"
	"fmt"

	"golang.org/x/text/width"

	"henkan/internal/kana"
	"henkan/internal/session"
)

// ErrUntypable is returned when a reading contains a character with no key.
var ErrUntypable = errors.New("character has no key")

// punctuationKeys maps narrowed punctuation to the key that types it.
var punctuationKeys = map[rune]rune{
	0x3001: ',', // 、
	0xFF64: ',', // ､
	0x3002: '.', // 。
	0xFF0E: '.', // ．
	0xFF61: '.', // ｡
	0x2212: '-', // −
	0x2015: '-', // ―
	0x300C: '[', // 「
	0xFF62: '[', // ｢
	0x300D: ']', // 」
	0xFF63: ']', // ｣
	0x30FB: '/', // ・
	0xFF65: '/', // ･
}

// KeySequence spells a hiragana reading as the key events that type it in
// romaji, followed by SPACE to request conversion.
func KeySequence(reading string) ([]session.KeyEvent, error) {
	input := width.Narrow.String(kana.HiraganaToRomaji(reading))

	keys := make([]session.KeyEvent, 0, len(input)+1)
	for _, r := range input {
		switch {
		case r >= 0x20 && r <= 0x7F:
			keys = append(keys, session.Key(r))
		default:
			k, ok := punctuationKeys[r]
			if !ok {
				return nil, fmt.Errorf("%w: U+%04X in %q", ErrUntypable, r, reading)
			}
			keys = append(keys, session.Key(k))
		}
	}
	return append(keys, session.Special(session.KeySpace)), nil
}
